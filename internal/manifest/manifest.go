// Package manifest maintains the durable table of record for every
// observed register document. Rows are keyed by (date, url); the table is
// stored as a zstd-compressed parquet file and replaced wholesale on every
// flush through the backend's atomic write.
package manifest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/parquet-go/parquet-go"
	"go.uber.org/zap"

	"stortinget-register/internal/register"
	"stortinget-register/internal/storage"
)

// Store reads and writes the manifest through the storage backend.
type Store struct {
	backend storage.Backend
	path    string
	logger  *zap.Logger
}

// New creates a manifest store at the given storage path.
func New(backend storage.Backend, path string, logger *zap.Logger) *Store {
	return &Store{backend: backend, path: path, logger: logger}
}

// Load returns all manifest rows, or an empty slice if no manifest exists.
func (s *Store) Load(ctx context.Context) ([]register.Record, error) {
	raw, err := s.backend.ReadBytes(ctx, s.path)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return []register.Record{}, nil
		}
		return nil, fmt.Errorf("load manifest: %w", err)
	}
	rows, err := parquet.Read[register.Record](bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return nil, fmt.Errorf("decode manifest parquet: %w", err)
	}
	return rows, nil
}

func (s *Store) save(ctx context.Context, rows []register.Record) error {
	var buf bytes.Buffer
	if err := parquet.Write(&buf, rows); err != nil {
		return fmt.Errorf("encode manifest parquet: %w", err)
	}
	if err := s.backend.WriteBytes(ctx, s.path, buf.Bytes()); err != nil {
		return fmt.Errorf("save manifest: %w", err)
	}
	return nil
}

// Upsert replaces any existing rows sharing a key with an incoming record
// and appends the incoming records: last writer wins per (date, url), so
// re-upserting the same batch is a no-op in effect.
func (s *Store) Upsert(ctx context.Context, records []register.Record) error {
	if len(records) == 0 {
		return nil
	}
	existing, err := s.Load(ctx)
	if err != nil {
		return err
	}

	incoming := make(map[string]struct{}, len(records))
	for _, r := range records {
		incoming[r.Key()] = struct{}{}
	}

	merged := make([]register.Record, 0, len(existing)+len(records))
	for _, r := range existing {
		if _, replaced := incoming[r.Key()]; !replaced {
			merged = append(merged, r)
		}
	}
	merged = append(merged, records...)

	if err := s.save(ctx, merged); err != nil {
		return err
	}
	s.logger.Debug("manifest flushed",
		zap.Int("upserted", len(records)),
		zap.Int("total_rows", len(merged)),
	)
	return nil
}

// DownloadedURLs returns the set of URLs with a successful download.
func (s *Store) DownloadedURLs(ctx context.Context) (map[string]struct{}, error) {
	rows, err := s.Load(ctx)
	if err != nil {
		return nil, err
	}
	urls := make(map[string]struct{})
	for _, r := range rows {
		if r.Status == register.StatusSuccess {
			urls[r.URL] = struct{}{}
		}
	}
	return urls, nil
}

// DownloadedDates returns the set of ISO dates with a successful download.
func (s *Store) DownloadedDates(ctx context.Context) (map[string]struct{}, error) {
	rows, err := s.Load(ctx)
	if err != nil {
		return nil, err
	}
	dates := make(map[string]struct{})
	for _, r := range rows {
		if r.Status == register.StatusSuccess {
			dates[r.Date] = struct{}{}
		}
	}
	return dates, nil
}

// Stats summarizes the manifest for the status query.
type Stats struct {
	TotalRows     int
	ByStatus      map[string]int
	FirstDate     string
	LastDate      string
	PeriodFolders []string
}

// Stats computes row counts by status, the successful date range, and the
// observed archive folders.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	rows, err := s.Load(ctx)
	if err != nil {
		return Stats{}, err
	}
	st := Stats{TotalRows: len(rows), ByStatus: make(map[string]int)}
	folders := make(map[string]struct{})
	for _, r := range rows {
		st.ByStatus[r.Status]++
		if r.PeriodFolder != nil && *r.PeriodFolder != "" {
			folders[*r.PeriodFolder] = struct{}{}
		}
		if r.Status != register.StatusSuccess {
			continue
		}
		if st.FirstDate == "" || r.Date < st.FirstDate {
			st.FirstDate = r.Date
		}
		if r.Date > st.LastDate {
			st.LastDate = r.Date
		}
	}
	for f := range folders {
		st.PeriodFolders = append(st.PeriodFolders, f)
	}
	sort.Strings(st.PeriodFolders)
	return st, nil
}
