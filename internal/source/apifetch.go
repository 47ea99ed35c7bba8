package source

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"

	"github.com/oddsgrid/oddsgrid/internal/config"
	"github.com/oddsgrid/oddsgrid/racing"
)

// parseAPIRaces extracts races from a JSON API payload using the
// source's field mapping: result_path is walked with dot notation to
// the race array, then each race object is mapped through cfg.Fields.
//
// Recognized canonical fields (left side of the mapping): venue,
// race_number, date, start_time, runners, runner_number, runner_name,
// runner_win. Unmapped fields fall back to their canonical names.
func parseAPIRaces(body []byte, cfg config.APIConfig, sourceName, date string) ([]*racing.Race, error) {
	var raw any
	if err := sonic.Unmarshal(body, &raw); err != nil {
		return nil, &ParseError{Source: sourceName, Cause: fmt.Errorf("invalid json: %w", err)}
	}

	node := walkPath(raw, cfg.ResultPath)
	items, ok := node.([]any)
	if !ok {
		return nil, &ParseError{Source: sourceName, Cause: fmt.Errorf("result path %q is not an array", cfg.ResultPath)}
	}

	field := func(name string) string {
		if mapped, ok := cfg.Fields[name]; ok && mapped != "" {
			return mapped
		}
		return name
	}

	now := time.Now()
	races := make([]*racing.Race, 0, len(items))
	for _, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			continue
		}
		race := &racing.Race{
			Venue:      asString(walkPath(obj, field("venue"))),
			RaceNumber: asInt(walkPath(obj, field("race_number"))),
			Date:       asString(walkPath(obj, field("date"))),
			StartTime:  asString(walkPath(obj, field("start_time"))),
		}
		if race.Date == "" {
			race.Date = date
		}
		if race.Venue == "" || race.RaceNumber <= 0 {
			continue
		}

		runnersNode, _ := walkPath(obj, field("runners")).([]any)
		for _, rn := range runnersNode {
			ro, ok := rn.(map[string]any)
			if !ok {
				continue
			}
			number := asInt(walkPath(ro, field("runner_number")))
			if number <= 0 {
				number = asInt(walkPath(ro, "number"))
			}
			if number <= 0 {
				continue
			}
			name := asString(walkPath(ro, field("runner_name")))
			if name == "" {
				name = asString(walkPath(ro, "name"))
			}
			runner := &racing.Runner{
				Number: number,
				Name:   name,
				Odds:   make(map[string]racing.OddsQuote, 1),
			}
			win := asFloat(walkPath(ro, field("runner_win")))
			if win == 0 {
				win = asFloat(walkPath(ro, "win"))
			}
			if win > 0 {
				runner.Odds[sourceName] = racing.OddsQuote{
					Win:         win,
					Source:      sourceName,
					LastUpdated: now,
				}
			}
			race.Runners = append(race.Runners, runner)
		}
		races = append(races, race)
	}
	return races, nil
}

// walkPath follows a dot-notation path ("data.races") through nested
// JSON maps. Empty path returns the node itself.
func walkPath(node any, path string) any {
	if path == "" {
		return node
	}
	current := node
	for _, part := range strings.Split(path, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return nil
		}
		current = m[part]
	}
	return current
}

// expandEnv replaces ${VAR} references with environment values, for
// API keys in configured headers.
func expandEnv(s string) string {
	return os.Expand(s, func(key string) string { return os.Getenv(key) })
}

func asString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		// Venue-less APIs sometimes return numeric codes.
		return strconv.FormatFloat(t, 'f', -1, 64)
	}
	return ""
}

func asInt(v any) int {
	switch t := v.(type) {
	case float64:
		return int(t)
	case string:
		n, _ := strconv.Atoi(strings.TrimSpace(t))
		return n
	}
	return 0
}

func asFloat(v any) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case string:
		f, _ := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f
	}
	return 0
}
