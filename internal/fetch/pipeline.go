package fetch

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/ledongthuc/pdf"
	"go.uber.org/zap"

	"stortinget-register/internal/clock"
	"stortinget-register/internal/metrics"
	"stortinget-register/internal/population"
	"stortinget-register/internal/probe"
	"stortinget-register/internal/register"
	"stortinget-register/internal/storage"
)

// maxErrorDetail bounds the error text stored in a failed manifest row.
const maxErrorDetail = 500

// Config controls the download pipeline.
type Config struct {
	UserAgent string
	Timeout   time.Duration
}

// Pipeline turns a confirmed discovery into a manifest record: download
// with retry, hash, store, validate, enrich. Per-item failures become
// failed records, never run failures.
type Pipeline struct {
	backend    storage.Backend
	gate       *probe.Gate
	client     *http.Client
	policy     *RetryPolicy
	popFetcher population.Fetcher
	clock      clock.Clock
	cfg        Config
	logger     *zap.Logger

	mu       sync.Mutex
	popCache map[string]*population.Snapshot
}

// New builds a Pipeline. popFetcher may be nil to disable enrichment.
func New(
	backend storage.Backend,
	gate *probe.Gate,
	policy *RetryPolicy,
	popFetcher population.Fetcher,
	clk clock.Clock,
	cfg Config,
	logger *zap.Logger,
) *Pipeline {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if policy == nil {
		policy = DefaultRetryPolicy()
	}
	return &Pipeline{
		backend:    backend,
		gate:       gate,
		client:     &http.Client{Timeout: cfg.Timeout},
		policy:     policy,
		popFetcher: popFetcher,
		clock:      clk,
		cfg:        cfg,
		logger:     logger,
		popCache:   make(map[string]*population.Snapshot),
	}
}

// FetchAndStore downloads one discovered document and returns its manifest
// record. Failed downloads yield a failed record with truncated error
// detail; enrichment failures are logged and leave the record successful.
func (p *Pipeline) FetchAndStore(ctx context.Context, item register.Discovery) register.Record {
	rec := register.Record{
		Date:      register.ISO(item.Date),
		URL:       item.URL,
		FetchedAt: p.clock.Now().Format(time.RFC3339),
		Status:    register.StatusPending,
	}
	if item.PeriodFolder != "" {
		rec.PeriodFolder = register.StrPtr(item.PeriodFolder)
	}

	data, err := p.download(ctx, item.URL)
	if err != nil {
		p.logger.Warn("download failed",
			zap.String("url", item.URL),
			zap.String("date", rec.Date),
			zap.Error(err),
		)
		rec.Status = register.StatusFailed
		rec.ErrorDetail = register.StrPtr(truncate(err.Error(), maxErrorDetail))
		metrics.RecordDownload(rec.Status, 0)
		return rec
	}

	sum := sha256.Sum256(data)
	path := register.DocumentPath(item.Date)
	if err := p.backend.WriteBytes(ctx, path, data); err != nil {
		p.logger.Warn("store document failed", zap.String("path", path), zap.Error(err))
		rec.Status = register.StatusFailed
		rec.ErrorDetail = register.StrPtr(truncate(err.Error(), maxErrorDetail))
		metrics.RecordDownload(rec.Status, 0)
		return rec
	}

	rec.Status = register.StatusSuccess
	rec.StoragePath = register.StrPtr(path)
	rec.ContentHash = register.StrPtr(hex.EncodeToString(sum[:]))
	rec.SizeBytes = register.Int64Ptr(int64(len(data)))

	if pages, perr := pageCount(data); perr != nil {
		p.logger.Warn("pdf validation failed", zap.String("url", item.URL), zap.Error(perr))
	} else {
		rec.PageCount = register.Int64Ptr(int64(pages))
	}

	p.enrich(ctx, &rec, item.Date)
	metrics.RecordDownload(rec.Status, len(data))
	return rec
}

func (p *Pipeline) download(ctx context.Context, url string) ([]byte, error) {
	var body []byte
	err := p.policy.Do(ctx, func(ctx context.Context) error {
		if err := p.gate.Acquire(ctx); err != nil {
			return err
		}
		defer p.gate.Release()

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return fmt.Errorf("build request: %w", err)
		}
		if p.cfg.UserAgent != "" {
			req.Header.Set("User-Agent", p.cfg.UserAgent)
		}
		resp, err := p.client.Do(req)
		if err != nil {
			return fmt.Errorf("execute request: %w", err)
		}
		defer resp.Body.Close() //nolint:errcheck // read side already captured

		if resp.StatusCode != http.StatusOK {
			return &HTTPStatusError{StatusCode: resp.StatusCode, URL: url}
		}
		body, err = io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read body: %w", err)
		}
		return nil
	})
	return body, err
}

// enrich attaches the population snapshot for the document's parliamentary
// period. Snapshots are fetched once per period per run and reused for
// same-period documents.
func (p *Pipeline) enrich(ctx context.Context, rec *register.Record, date time.Time) {
	if p.popFetcher == nil {
		return
	}
	periodID := population.PeriodForDate(date)
	rec.PeriodID = register.StrPtr(periodID)

	snapshot, err := p.snapshotFor(ctx, periodID, date)
	if err != nil {
		p.logger.Warn("population enrichment failed",
			zap.String("period", periodID),
			zap.String("date", register.ISO(date)),
			zap.Error(err),
		)
		return
	}

	raw, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		p.logger.Warn("encode population snapshot", zap.String("period", periodID), zap.Error(err))
		return
	}
	path := register.PopulationPath(date)
	if err := p.backend.WriteBytes(ctx, path, raw); err != nil {
		p.logger.Warn("store population snapshot", zap.String("path", path), zap.Error(err))
		return
	}

	sum := sha256.Sum256(raw)
	rec.PopulationPath = register.StrPtr(path)
	rec.PopulationHash = register.StrPtr(hex.EncodeToString(sum[:]))
	rec.PopulationCount = register.Int64Ptr(int64(len(snapshot.Persons)))
}

func (p *Pipeline) snapshotFor(ctx context.Context, periodID string, date time.Time) (*population.Snapshot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if cached, ok := p.popCache[periodID]; ok {
		return cached, nil
	}
	persons, err := p.popFetcher.FetchPopulation(ctx, periodID, date)
	if err != nil {
		return nil, err
	}
	snapshot := &population.Snapshot{
		PeriodID: periodID,
		AsOf:     register.ISO(date),
		Persons:  persons,
	}
	p.popCache[periodID] = snapshot
	return snapshot, nil
}

// pageCount parses the PDF structure far enough to count pages. Malformed
// input is reported as an error, not a panic: the underlying parser is not
// hardened against arbitrary bytes.
func pageCount(data []byte) (n int, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pdf parser panic: %v", r)
		}
	}()
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return 0, fmt.Errorf("parse pdf: %w", err)
	}
	return reader.NumPage(), nil
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit]
}
