// Package population assembles the register's population snapshot: the
// representatives (including substitutes) and government members in scope
// for a parliamentary period, fetched from data.stortinget.no.
package population

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"stortinget-register/internal/register"
)

// Person is one member of the register population.
type Person struct {
	Surname    string `json:"etternavn"`
	GivenName  string `json:"fornavn"`
	BirthDate  string `json:"foedselsdato,omitempty"`
	ID         string `json:"id"`
	Party      string `json:"parti,omitempty"`
	County     string `json:"fylke,omitempty"`
	Role       string `json:"rolle"`
	Substitute bool   `json:"vara_representant"`
}

// Snapshot is the cached population for one parliamentary period,
// deduplicated by external id and sorted by (surname, given name).
type Snapshot struct {
	PeriodID string   `json:"period_id"`
	AsOf     string   `json:"as_of"`
	Persons  []Person `json:"persons"`
}

// Period is one parliamentary term.
type Period struct {
	ID    string
	Start time.Time
	End   time.Time
}

var periods = []Period{
	{ID: "2017-2021", Start: register.Day(2017, time.October, 1), End: register.Day(2021, time.September, 30)},
	{ID: "2021-2025", Start: register.Day(2021, time.October, 1), End: register.Day(2025, time.September, 30)},
	{ID: "2025-2029", Start: register.Day(2025, time.October, 1), End: register.Day(2029, time.September, 30)},
}

// PeriodForDate returns the parliamentary period id covering the given
// date. Dates past the last known period map to it, earlier dates to the
// first.
func PeriodForDate(d time.Time) string {
	for _, p := range periods {
		if !d.Before(p.Start) && !d.After(p.End) {
			return p.ID
		}
	}
	if d.After(periods[len(periods)-1].End) {
		return periods[len(periods)-1].ID
	}
	return periods[0].ID
}

// dotnetDateRe matches the .NET JSON date format the API emits,
// e.g. /Date(1388530800000+0100)/.
var dotnetDateRe = regexp.MustCompile(`^/Date\((-?\d+)[+-]\d{4}\)/$`)

// ParseDotNetDate converts a .NET JSON date string to an ISO date.
// Returns the empty string for missing or malformed input.
func ParseDotNetDate(s string) string {
	m := dotnetDateRe.FindStringSubmatch(s)
	if m == nil {
		return ""
	}
	ms, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return ""
	}
	return time.UnixMilli(ms).UTC().Format(time.DateOnly)
}

// Normalize deduplicates persons by id (first occurrence wins) and sorts
// by surname then given name, case-insensitively.
func Normalize(persons []Person) []Person {
	seen := make(map[string]struct{}, len(persons))
	out := make([]Person, 0, len(persons))
	for _, p := range persons {
		if _, dup := seen[p.ID]; dup {
			continue
		}
		seen[p.ID] = struct{}{}
		out = append(out, p)
	}
	sort.SliceStable(out, func(i, j int) bool {
		si, sj := strings.ToLower(out[i].Surname), strings.ToLower(out[j].Surname)
		if si != sj {
			return si < sj
		}
		return strings.ToLower(out[i].GivenName) < strings.ToLower(out[j].GivenName)
	})
	return out
}
