package discovery

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"stortinget-register/internal/checkpoint"
	"stortinget-register/internal/clock"
	"stortinget-register/internal/gaps"
	"stortinget-register/internal/metrics"
	"stortinget-register/internal/register"
)

// Prober checks candidate URLs for a set of dates and reports which dates
// have at least one live document, keyed by ISO date.
type Prober interface {
	ProbeBatch(ctx context.Context, dates []time.Time) map[string][]string
}

// Scraper pulls the newest register link off the landing page.
type Scraper interface {
	Latest() (register.Discovery, bool)
}

// Config tunes the discovery tiers.
type Config struct {
	// StartYear is the first year the bootstrap scan covers.
	StartYear int
	// EndYear bounds the bootstrap scan. Zero means the current year.
	EndYear int
	// GapThresholdDays is the span length that counts as a gap.
	GapThresholdDays int
	// CadenceDays is the publication interval used to place expected
	// dates inside a gap.
	CadenceDays int
	// BatchSize is how many dates are probed per fan-out batch.
	BatchSize int
	// CheckpointEvery is how many batches run between checkpoint saves.
	CheckpointEvery int
}

func (c *Config) applyDefaults(today time.Time) {
	if c.StartYear <= 0 {
		c.StartYear = 2021
	}
	if c.EndYear <= 0 {
		c.EndYear = today.Year()
	}
	if c.GapThresholdDays <= 0 {
		c.GapThresholdDays = 21
	}
	if c.CadenceDays <= 0 {
		c.CadenceDays = 14
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 50
	}
	if c.CheckpointEvery <= 0 {
		c.CheckpointEvery = 10
	}
}

// Engine runs the discovery tiers in cost order and records progress so an
// interrupted run resumes instead of restarting.
type Engine struct {
	prober      Prober
	scraper     Scraper
	tracker     *gaps.Tracker
	checkpoints *checkpoint.Store
	deadline    *clock.Deadline
	clock       clock.Clock
	cfg         Config
	logger      *zap.Logger
}

// NewEngine wires the discovery tiers together. scraper may be nil to skip
// the landing-page tier.
func NewEngine(
	prober Prober,
	scraper Scraper,
	tracker *gaps.Tracker,
	checkpoints *checkpoint.Store,
	deadline *clock.Deadline,
	clk clock.Clock,
	cfg Config,
	logger *zap.Logger,
) *Engine {
	return &Engine{
		prober:      prober,
		scraper:     scraper,
		tracker:     tracker,
		checkpoints: checkpoints,
		deadline:    deadline,
		clock:       clk,
		cfg:         cfg,
		logger:      logger,
	}
}

// Discover returns every publication date confirmed this run that is not
// in the known set. known is the manifest's successfully downloaded dates;
// state is mutated in place and checkpointed as batches complete. A run
// that hits its deadline returns whatever it confirmed so far with no
// error.
func (e *Engine) Discover(ctx context.Context, known []time.Time, state *checkpoint.State) ([]register.Discovery, error) {
	today := dateOnly(e.clock.Now())
	e.cfg.applyDefaults(today)

	run := &runState{
		found:    make(map[string]register.Discovery),
		knownSet: make(map[string]struct{}, len(known)),
		state:    state,
	}
	for _, d := range known {
		run.knownSet[register.ISO(d)] = struct{}{}
	}

	// A scrape hit is a confirmed publication: it anchors gap detection
	// alongside the manifest dates, so the trailing gap ends there instead
	// of at today. Bootstrap still keys off the manifest being empty.
	manifestEmpty := len(known) == 0
	if hit, ok := e.scrapeLatest(run); ok {
		known = append(known, hit)
	}

	if manifestEmpty {
		if err := e.bootstrap(ctx, today, run); err != nil {
			return run.discoveries(), err
		}
		return run.discoveries(), nil
	}

	if err := e.resolveGaps(ctx, known, today, run); err != nil {
		return run.discoveries(), err
	}
	return run.discoveries(), nil
}

// runState accumulates one Discover call's results.
type runState struct {
	found      map[string]register.Discovery
	knownSet   map[string]struct{}
	state      *checkpoint.State
	batchCount int
	// lastProbed holds the ISO dates the most recent probeDates call got
	// through before any deadline cutoff. Gap windows record exactly these.
	lastProbed []string
}

func (r *runState) add(d register.Discovery) {
	key := register.ISO(d.Date) + "|" + d.URL
	if _, ok := r.found[key]; ok {
		return
	}
	r.found[key] = d
	r.state.DocumentsFound++
	metrics.RecordDocumentFound()
}

func (r *runState) discoveries() []register.Discovery {
	out := make([]register.Discovery, 0, len(r.found))
	for _, d := range r.found {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].URL < out[j].URL
	})
	return out
}

// scrapeLatest runs the cheapest tier. Its hit feeds straight into the
// result set and is returned so the caller can anchor gap detection on it;
// the date is already confirmed, no probing needed.
func (e *Engine) scrapeLatest(run *runState) (time.Time, bool) {
	if e.scraper == nil {
		return time.Time{}, false
	}
	latest, ok := e.scraper.Latest()
	if !ok {
		return time.Time{}, false
	}
	if _, known := run.knownSet[register.ISO(latest.Date)]; known {
		e.logger.Debug("landing page date already synced", zap.String("date", register.ISO(latest.Date)))
		return time.Time{}, false
	}
	run.add(latest)
	return latest.Date, true
}

// bootstrap probes every plausible weekday in the configured year range.
// It runs only when nothing has ever been downloaded, and resumes past the
// checkpointed cursor when a previous attempt was cut short.
func (e *Engine) bootstrap(ctx context.Context, today time.Time, run *runState) error {
	dates := register.InitialScanDates(e.cfg.StartYear, e.cfg.EndYear, today)
	if run.state.LastDateScanned != "" {
		if cursor, err := register.ParseISO(run.state.LastDateScanned); err == nil {
			dates = datesAfter(dates, cursor)
			e.logger.Info("resuming bootstrap scan",
				zap.String("after", run.state.LastDateScanned),
				zap.Int("remaining", len(dates)),
			)
		}
	}
	e.logger.Info("bootstrap scan",
		zap.Int("start_year", e.cfg.StartYear),
		zap.Int("end_year", e.cfg.EndYear),
		zap.Int("dates", len(dates)),
	)
	_, err := e.probeDates(ctx, dates, run)
	return err
}

// resolveGaps runs gap detection and per-window probing. Each window gets
// the best-guess week on first contact and the exhaustive sweep on the
// next, minus dates already checked in earlier runs.
func (e *Engine) resolveGaps(ctx context.Context, known []time.Time, today time.Time, run *runState) error {
	detected := DetectGaps(known, today, e.cfg.GapThresholdDays)
	if len(detected) == 0 {
		e.logger.Info("no gaps detected", zap.Int("known_dates", len(known)))
		return nil
	}
	e.logger.Info("gaps detected", zap.Int("count", len(detected)))

	for _, gap := range detected {
		expected := register.EstimateExpectedDates(gap.Start, gap.End, e.cfg.CadenceDays)
		for _, midpoint := range expected {
			if e.deadline.Expired() || ctx.Err() != nil {
				e.logger.Warn("run interrupted during gap resolution")
				return e.tracker.Save(ctx)
			}
			if err := e.resolveWindow(ctx, gap, midpoint, today, run); err != nil {
				return err
			}
		}
	}
	return e.tracker.Save(ctx)
}

// resolveWindow probes one expected publication window inside a gap. A
// confirmed date strictly inside the gap closes the window; anything else
// records the probed dates so the next run escalates to the exhaustive
// sweep instead of repeating itself.
func (e *Engine) resolveWindow(ctx context.Context, gap Gap, midpoint, today time.Time, run *runState) error {
	key := register.ISO(midpoint)
	record, tracked := e.tracker.Get(key)
	if !tracked {
		record = gaps.Record{
			GapStart:     register.ISO(gap.Start),
			GapEnd:       register.ISO(gap.End),
			ExpectedDate: key,
		}
	}

	var candidates []time.Time
	if record.CheckCount == 0 {
		candidates = register.BestGuessDates(midpoint)
	} else {
		candidates = register.ExhaustiveDates(gap.Start, gap.End)
	}
	candidates = filterCandidates(candidates, gap, today, record)
	if len(candidates) == 0 {
		return nil
	}

	e.logger.Info("probing gap window",
		zap.String("expected", key),
		zap.Int("candidates", len(candidates)),
		zap.Int("check_count", record.CheckCount),
	)
	confirmed, err := e.probeDates(ctx, candidates, run)
	if err != nil {
		return err
	}
	// Probes under a cancelled context report misses for dates that were
	// never actually checked; recording them would rule the dates out for
	// good.
	if ctx.Err() != nil {
		return nil
	}

	for _, d := range confirmed {
		if gap.Contains(d) {
			e.logger.Info("gap window resolved",
				zap.String("expected", key),
				zap.String("confirmed", register.ISO(d)),
			)
			e.tracker.Remove(key)
			return nil
		}
	}

	probed := run.lastProbed
	if len(probed) > 0 {
		record.MarkChecked(probed)
		e.tracker.Upsert(key, record)
	}
	return nil
}

// filterCandidates keeps dates strictly inside the gap, not in the future,
// outside the July blackout, and not already checked for this window.
func filterCandidates(dates []time.Time, gap Gap, today time.Time, record gaps.Record) []time.Time {
	var out []time.Time
	for _, d := range dates {
		if !gap.Contains(d) || d.After(today) || register.InJulyBlackout(d) {
			continue
		}
		if record.Checked(register.ISO(d)) {
			continue
		}
		out = append(out, d)
	}
	return out
}

// probeDates fans the dates out to the prober in batches, tracking probe
// progress in the checkpoint state. It stops early when the runtime budget
// runs out or the context is cancelled; discovery is resumable, not
// all-or-nothing.
func (e *Engine) probeDates(ctx context.Context, dates []time.Time, run *runState) ([]time.Time, error) {
	var confirmed []time.Time
	run.lastProbed = nil

	for start := 0; start < len(dates); start += e.cfg.BatchSize {
		if e.deadline.Expired() || ctx.Err() != nil {
			e.logger.Warn("run interrupted, stopping probe",
				zap.Int("dates_remaining", len(dates)-start),
			)
			break
		}
		end := start + e.cfg.BatchSize
		if end > len(dates) {
			end = len(dates)
		}
		batch := dates[start:end]

		hits := e.prober.ProbeBatch(ctx, batch)
		for _, d := range batch {
			iso := register.ISO(d)
			run.lastProbed = append(run.lastProbed, iso)
			run.state.DatesScanned++
			if run.state.LastDateScanned < iso {
				run.state.LastDateScanned = iso
			}
			urls, hit := hits[iso]
			if !hit || len(urls) == 0 {
				continue
			}
			confirmed = append(confirmed, d)
			// Every confirmed URL becomes its own discovery: the manifest
			// is keyed (date, url) and same-day publications do happen.
			for _, url := range urls {
				run.add(register.Discovery{
					Date:         d,
					URL:          url,
					PeriodFolder: register.PeriodFolderFromURL(url),
				})
			}
		}

		run.batchCount++
		if run.batchCount%e.cfg.CheckpointEvery == 0 {
			if err := e.checkpoints.Save(ctx, *run.state); err != nil {
				return confirmed, err
			}
		}
	}
	return confirmed, nil
}

func datesAfter(dates []time.Time, cursor time.Time) []time.Time {
	for i, d := range dates {
		if d.After(cursor) {
			return dates[i:]
		}
	}
	return nil
}

func dateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
