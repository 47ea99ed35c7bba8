package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "oddsgrid.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadFile_Defaults(t *testing.T) {
	// WHAT: An almost-empty config gets every default filled.
	path := writeConfig(t, `
sources:
  - name: equibase
    base_url: https://equibase.com
`)
	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Fetch.Timeout != 30*time.Second {
		t.Errorf("fetch timeout = %v", cfg.Fetch.Timeout)
	}
	if cfg.Fetch.HealthIncrement >= cfg.Fetch.HealthDecrement {
		t.Error("failures must be penalized more than successes reward")
	}
	if cfg.Breaker.FailureThreshold != 5 {
		t.Errorf("breaker threshold = %d", cfg.Breaker.FailureThreshold)
	}
	if cfg.Sources[0].Transport != "auto" {
		t.Errorf("transport default = %q", cfg.Sources[0].Transport)
	}
	if cfg.Sources[0].DateFormat != "2006-01-02" {
		t.Errorf("date format default = %q", cfg.Sources[0].DateFormat)
	}
}

func TestLoadFile_SourceFields(t *testing.T) {
	path := writeConfig(t, `
aggregate:
  min_coverage: 20
sources:
  - name: trackinfo
    base_url: https://trackinfo.example
    homepage: https://trackinfo.example/races
    transport: stealth
    url_template: "https://trackinfo.example/races/{date}/{venue}"
    link_patterns:
      - "/races/\\d{4}-\\d{2}-\\d{2}/"
    api_endpoint: https://api.trackinfo.example/v1/races
    api:
      result_path: data.races
      fields:
        venue: track
        race_number: number
`)
	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	src := cfg.Sources[0]
	if src.Transport != "stealth" {
		t.Errorf("transport = %q", src.Transport)
	}
	if src.API.ResultPath != "data.races" {
		t.Errorf("api result_path = %q", src.API.ResultPath)
	}
	if cfg.Aggregate.MinCoverage != 20 {
		t.Errorf("min_coverage = %d", cfg.Aggregate.MinCoverage)
	}
}

func TestValidate_Rejects(t *testing.T) {
	// WHY: Malformed startup configuration is the only fatal error class.
	cases := []struct {
		name string
		body string
	}{
		{"duplicate names", `
sources:
  - {name: a, base_url: https://a.example}
  - {name: a, base_url: https://b.example}
`},
		{"empty name", `
sources:
  - {base_url: https://a.example}
`},
		{"no url at all", `
sources:
  - {name: a}
`},
		{"bad transport", `
sources:
  - {name: a, base_url: https://a.example, transport: carrier-pigeon}
`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := LoadFile(writeConfig(t, tc.body)); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}
