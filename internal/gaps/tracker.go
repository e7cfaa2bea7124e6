// Package gaps tracks publication-window hypotheses that were probed
// without finding a document, so the discovery engine never re-probes the
// same false negatives and escalates each window at most once per run.
package gaps

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"stortinget-register/internal/storage"
)

// Record is one hypothesized publication window, keyed in the tracker by
// the ISO date of its expected midpoint. DatesChecked only grows while the
// gap stays open; the record is deleted once a document is confirmed
// strictly inside the window.
type Record struct {
	GapStart     string   `json:"gap_start"`
	GapEnd       string   `json:"gap_end"`
	ExpectedDate string   `json:"expected_date"`
	CheckCount   int      `json:"check_count"`
	DatesChecked []string `json:"dates_checked"`
}

// Checked reports whether the given ISO date was already probed for this
// window.
func (r Record) Checked(isoDate string) bool {
	for _, d := range r.DatesChecked {
		if d == isoDate {
			return true
		}
	}
	return false
}

// MarkChecked merges the probed dates into DatesChecked and bumps the
// escalation counter. The merged set is kept sorted for stable output.
func (r *Record) MarkChecked(isoDates []string) {
	seen := make(map[string]struct{}, len(r.DatesChecked)+len(isoDates))
	for _, d := range r.DatesChecked {
		seen[d] = struct{}{}
	}
	for _, d := range isoDates {
		seen[d] = struct{}{}
	}
	merged := make([]string, 0, len(seen))
	for d := range seen {
		merged = append(merged, d)
	}
	sort.Strings(merged)
	r.DatesChecked = merged
	r.CheckCount++
}

// Tracker is the durable set of open gap records. It is loaded once per
// run and written back at flush points by its single writer.
type Tracker struct {
	backend storage.Backend
	path    string
	records map[string]Record
}

// Load reads the tracker state, starting empty if none is persisted.
func Load(ctx context.Context, backend storage.Backend, path string) (*Tracker, error) {
	t := &Tracker{backend: backend, path: path, records: make(map[string]Record)}
	raw, err := backend.ReadBytes(ctx, path)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return t, nil
		}
		return nil, fmt.Errorf("load gap tracker: %w", err)
	}
	if err := json.Unmarshal(raw, &t.records); err != nil {
		return nil, fmt.Errorf("decode gap tracker: %w", err)
	}
	return t, nil
}

// Get returns the record for the given midpoint key.
func (t *Tracker) Get(key string) (Record, bool) {
	r, ok := t.records[key]
	return r, ok
}

// Upsert stores the record under the given key.
func (t *Tracker) Upsert(key string, r Record) {
	t.records[key] = r
}

// Remove deletes a resolved gap. No-op for unknown keys.
func (t *Tracker) Remove(key string) {
	delete(t.records, key)
}

// Len returns the number of open gap records.
func (t *Tracker) Len() int {
	return len(t.records)
}

// Save atomically persists the tracker.
func (t *Tracker) Save(ctx context.Context) error {
	raw, err := json.MarshalIndent(t.records, "", "  ")
	if err != nil {
		return fmt.Errorf("encode gap tracker: %w", err)
	}
	if err := t.backend.WriteBytes(ctx, t.path, raw); err != nil {
		return fmt.Errorf("save gap tracker: %w", err)
	}
	return nil
}
