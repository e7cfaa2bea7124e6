// Package register defines the core domain types for the Stortinget
// economic-interests register mirror: manifest records, discovered
// documents, the candidate-URL generator, and the date arithmetic the
// discovery tiers are built on.
package register

import "time"

// Document status values persisted in the manifest.
const (
	StatusPending = "pending"
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// Record is one manifest row, keyed by (Date, URL). Nullable columns are
// pointer-typed; the zstd parquet tags control column compression.
type Record struct {
	Date            string  `parquet:"date,zstd"`
	URL             string  `parquet:"url,zstd"`
	PeriodFolder    *string `parquet:"period_folder,optional,zstd"`
	StoragePath     *string `parquet:"storage_path,optional,zstd"`
	ContentHash     *string `parquet:"content_hash,optional,zstd"`
	SizeBytes       *int64  `parquet:"size_bytes,optional,zstd"`
	PageCount       *int64  `parquet:"page_count,optional,zstd"`
	PopulationPath  *string `parquet:"population_snapshot_path,optional,zstd"`
	PopulationHash  *string `parquet:"population_hash,optional,zstd"`
	PopulationCount *int64  `parquet:"population_count,optional,zstd"`
	PeriodID        *string `parquet:"period_id,optional,zstd"`
	FetchedAt       string  `parquet:"fetched_at,zstd"`
	Status          string  `parquet:"status,zstd"`
	ErrorDetail     *string `parquet:"error_detail,optional,zstd"`
}

// Key returns the primary key of the record.
func (r Record) Key() string {
	return r.Date + "|" + r.URL
}

// Discovery is a confirmed (date, url) pair produced by the discovery
// engine, before the document has been fetched.
type Discovery struct {
	Date         time.Time
	URL          string
	PeriodFolder string
}

// Key returns the manifest primary key the discovery maps to.
func (d Discovery) Key() string {
	return ISO(d.Date) + "|" + d.URL
}

// Storage paths, relative to the configured storage root.
const (
	ManifestPath   = "manifest.parquet"
	CheckpointPath = "checkpoint.json"
	GapStatePath   = "gaps.json"
)

// DocumentPath returns the canonical storage path for a register PDF
// published on the given date.
func DocumentPath(d time.Time) string {
	return "pdfs/pr-" + ISO(d) + ".pdf"
}

// PopulationPath returns the storage path for the population snapshot
// accompanying the register PDF published on the given date.
func PopulationPath(d time.Time) string {
	return "population/pr-" + ISO(d) + ".json"
}

// StrPtr returns a pointer to s. Convenience for nullable manifest columns.
func StrPtr(s string) *string { return &s }

// Int64Ptr returns a pointer to v.
func Int64Ptr(v int64) *int64 { return &v }
