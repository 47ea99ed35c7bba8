package racing

import (
	"fmt"
	"strings"
)

// venueAliases maps common track name variants to their canonical form.
// Sources abbreviate inconsistently ("GP" vs "Gulfstream Park").
var venueAliases = map[string]string{
	"gp":         "gulfstream park",
	"sa":         "santa anita",
	"cd":         "churchill downs",
	"bel":        "belmont park",
	"aqu":        "aqueduct",
	"kee":        "keeneland",
	"dmr":        "del mar",
	"sar":        "saratoga",
	"flemington": "flemington",
	"randwick":   "royal randwick",
}

// NormalizeVenue canonicalizes a venue name for dedup comparison:
// lowercase, collapsed whitespace, punctuation stripped, known
// abbreviations expanded.
func NormalizeVenue(venue string) string {
	v := strings.ToLower(strings.TrimSpace(venue))
	v = strings.Map(func(r rune) rune {
		switch r {
		case '.', ',', '\'', '(', ')':
			return -1
		case '-', '_':
			return ' '
		}
		return r
	}, v)
	v = strings.Join(strings.Fields(v), " ")
	if canonical, ok := venueAliases[v]; ok {
		return canonical
	}
	return v
}

// Key returns the canonical identity of a race: normalized venue, race
// number, and date. Two records with the same key describe the same race.
func (r *Race) Key() string {
	return fmt.Sprintf("%s|%d|%s", NormalizeVenue(r.Venue), r.RaceNumber, r.Date)
}
