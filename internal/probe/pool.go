package probe

import (
	"context"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"stortinget-register/internal/metrics"
	"stortinget-register/internal/register"
)

// Config controls probe behavior.
type Config struct {
	UserAgent string
	Timeout   time.Duration
	// Candidates maps a date to the URLs to check. Defaults to
	// register.CandidateURLs.
	Candidates func(time.Time) []string
}

// Pool performs HEAD existence checks against candidate URLs under the
// shared gate. Individual misses are silent: any transport error or
// non-2xx status means "document absent", never "run failed".
type Pool struct {
	client *http.Client
	gate   *Gate
	cfg    Config
	logger *zap.Logger
}

// NewPool builds a Pool on the shared gate.
func NewPool(gate *Gate, cfg Config, logger *zap.Logger) *Pool {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Candidates == nil {
		cfg.Candidates = register.CandidateURLs
	}
	return &Pool{
		client: &http.Client{Timeout: cfg.Timeout},
		gate:   gate,
		cfg:    cfg,
		logger: logger,
	}
}

// ProbeDate checks every candidate URL for the date and returns the
// confirmed ones. Zero, one, or several hits are all normal: the register
// occasionally publishes twice on adjacent days or the same day.
func (p *Pool) ProbeDate(ctx context.Context, d time.Time) []string {
	var hits []string
	for _, url := range p.cfg.Candidates(d) {
		if p.head(ctx, url) {
			hits = append(hits, url)
		}
	}
	return hits
}

// ProbeBatch fans the batch out, one goroutine per date, and awaits all
// results. The returned map is keyed by ISO date; dates without hits have
// no entry.
func (p *Pool) ProbeBatch(ctx context.Context, dates []time.Time) map[string][]string {
	results := make([][]string, len(dates))
	var wg sync.WaitGroup
	for i, d := range dates {
		wg.Add(1)
		go func(i int, d time.Time) {
			defer wg.Done()
			results[i] = p.ProbeDate(ctx, d)
		}(i, d)
	}
	wg.Wait()

	hits := make(map[string][]string)
	for i, d := range dates {
		if len(results[i]) > 0 {
			hits[register.ISO(d)] = results[i]
		}
	}
	return hits
}

func (p *Pool) head(ctx context.Context, url string) bool {
	if err := p.gate.Acquire(ctx); err != nil {
		return false
	}
	defer p.gate.Release()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		p.logger.Debug("build probe request", zap.String("url", url), zap.Error(err))
		return false
	}
	if p.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", p.cfg.UserAgent)
	}

	start := time.Now()
	resp, err := p.client.Do(req)
	if err != nil {
		metrics.RecordProbe(false, time.Since(start))
		return false
	}
	defer resp.Body.Close() //nolint:errcheck // HEAD bodies are empty

	hit := resp.StatusCode >= 200 && resp.StatusCode < 300
	metrics.RecordProbe(hit, time.Since(start))
	return hit
}
