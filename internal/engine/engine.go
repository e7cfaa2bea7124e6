// Package engine orchestrates one sync run end to end: discovery of new
// register publication dates, download of the confirmed documents, and the
// durable book-keeping that makes an interrupted run resumable.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"stortinget-register/internal/checkpoint"
	"stortinget-register/internal/clock"
	"stortinget-register/internal/config"
	"stortinget-register/internal/discovery"
	"stortinget-register/internal/fetch"
	"stortinget-register/internal/gaps"
	"stortinget-register/internal/manifest"
	"stortinget-register/internal/metrics"
	"stortinget-register/internal/population"
	"stortinget-register/internal/probe"
	"stortinget-register/internal/register"
	"stortinget-register/internal/scrape"
	"stortinget-register/internal/storage"
)

// deadlineMargin is how much of the runtime budget is reserved for the
// final flush and checkpoint writes.
const deadlineMargin = 60 * time.Second

// RunSummary reports what one sync run accomplished.
type RunSummary struct {
	Discovered int
	Downloaded int
	Failed     int
	Skipped    int
	Resumable  bool
}

// Run executes one full sync pass against the configured storage root.
// Credential problems are fatal before any work starts; per-document
// failures are recorded in the manifest and never abort the run.
func Run(ctx context.Context, cfg *config.Config, logger *zap.Logger) (RunSummary, error) {
	clk := clock.System{}
	deadline := clock.NewDeadline(clk, cfg.MaxRuntime(), deadlineMargin)

	backend, err := storage.New(ctx, cfg.StoragePath, logger)
	if err != nil {
		return RunSummary{}, err
	}
	if err := backend.CredentialsValid(ctx); err != nil {
		var credErr *storage.CredentialError
		if errors.As(err, &credErr) {
			logger.Error("storage credentials invalid",
				zap.String("backend", credErr.Backend),
				zap.String("help", credErr.Help),
			)
		}
		return RunSummary{}, err
	}

	if cfg.MetricsAddr != "" {
		metrics.Init()
		go metrics.Serve(cfg.MetricsAddr, logger)
	}

	manifestStore := manifest.New(backend, register.ManifestPath, logger)
	checkpoints := checkpoint.NewStore(backend, register.CheckpointPath)
	tracker, err := gaps.Load(ctx, backend, register.GapStatePath)
	if err != nil {
		return RunSummary{}, err
	}

	state, err := checkpoints.Load(ctx)
	if err != nil {
		return RunSummary{}, err
	}
	if state.RunStartedAt != "" {
		logger.Info("resuming interrupted run",
			zap.String("started_at", state.RunStartedAt),
			zap.String("last_date_scanned", state.LastDateScanned),
		)
	} else {
		state.RunStartedAt = clk.Now().Format(time.RFC3339)
	}

	gate := probe.NewGate(cfg.MaxConcurrent, cfg.RequestsPerSecond, cfg.BurstLimit)
	pool := probe.NewPool(gate, probe.Config{
		UserAgent: cfg.UserAgent,
		Timeout:   cfg.RequestTimeout(),
	}, logger)
	scraper := scrape.New(scrape.Config{
		URL:       cfg.LandingPage,
		UserAgent: cfg.UserAgent,
		Timeout:   cfg.RequestTimeout(),
	}, logger)
	engine := discovery.NewEngine(pool, scraper, tracker, checkpoints, deadline, clk, discovery.Config{
		StartYear:        cfg.ScanStartYear,
		EndYear:          cfg.ScanEndYear,
		GapThresholdDays: cfg.GapThresholdDays,
		CadenceDays:      cfg.CadenceDays,
		BatchSize:        cfg.ProbeBatchSize,
		CheckpointEvery:  cfg.CheckpointEveryBatches,
	}, logger)

	popClient := population.NewClient(population.ClientConfig{
		UserAgent:         cfg.UserAgent,
		Timeout:           cfg.RequestTimeout(),
		RequestsPerSecond: cfg.RequestsPerSecond,
		BurstLimit:        cfg.BurstLimit,
	}, logger)
	policy := &fetch.RetryPolicy{
		MaxAttempts: cfg.MaxRetries,
		BaseDelay:   time.Second,
		MaxDelay:    60 * time.Second,
		Classify:    fetch.IsRetryable,
	}
	pipeline := fetch.New(backend, gate, policy, popClient, clk, fetch.Config{
		UserAgent: cfg.UserAgent,
		Timeout:   cfg.RequestTimeout(),
	}, logger)

	return run(ctx, &runDeps{
		manifest:    manifestStore,
		checkpoints: checkpoints,
		engine:      engine,
		pipeline:    pipeline,
		deadline:    deadline,
		flushEvery:  cfg.FlushEvery,
		logger:      logger,
	}, state)
}

// downloader is the piece of the fetch pipeline the run loop needs.
type downloader interface {
	FetchAndStore(ctx context.Context, item register.Discovery) register.Record
}

// discoverer is the piece of the discovery engine the run loop needs.
type discoverer interface {
	Discover(ctx context.Context, known []time.Time, state *checkpoint.State) ([]register.Discovery, error)
}

type runDeps struct {
	manifest    *manifest.Store
	checkpoints *checkpoint.Store
	engine      discoverer
	pipeline    downloader
	deadline    *clock.Deadline
	flushEvery  int
	logger      *zap.Logger
}

func run(ctx context.Context, deps *runDeps, state checkpoint.State) (RunSummary, error) {
	if err := deps.checkpoints.Save(ctx, state); err != nil {
		return RunSummary{}, err
	}

	knownDates, err := deps.manifest.DownloadedDates(ctx)
	if err != nil {
		return RunSummary{}, err
	}
	known := make([]time.Time, 0, len(knownDates))
	for iso := range knownDates {
		d, perr := register.ParseISO(iso)
		if perr != nil {
			deps.logger.Warn("manifest holds unparseable date", zap.String("date", iso))
			continue
		}
		known = append(known, d)
	}

	discovered, err := deps.engine.Discover(ctx, known, &state)
	if err != nil {
		return RunSummary{}, err
	}
	summary := RunSummary{Discovered: len(discovered)}
	deps.logger.Info("discovery complete",
		zap.Int("discovered", len(discovered)),
		zap.Int("already_known", len(known)),
	)

	downloadedURLs, err := deps.manifest.DownloadedURLs(ctx)
	if err != nil {
		return RunSummary{}, err
	}
	pending := diffMissing(discovered, downloadedURLs)
	summary.Skipped = len(discovered) - len(pending)

	flushEvery := deps.flushEvery
	if flushEvery <= 0 {
		flushEvery = 20
	}

	var batch []register.Record
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := deps.manifest.Upsert(ctx, batch); err != nil {
			return fmt.Errorf("flush manifest: %w", err)
		}
		metrics.RecordManifestFlush()
		if err := deps.checkpoints.Save(ctx, state); err != nil {
			return err
		}
		batch = batch[:0]
		return nil
	}

	for _, item := range pending {
		if deps.deadline.Expired() || ctx.Err() != nil {
			deps.logger.Warn("run interrupted, deferring remaining downloads",
				zap.Int("remaining", len(pending)-summary.Downloaded-summary.Failed),
			)
			summary.Resumable = true
			break
		}
		rec := deps.pipeline.FetchAndStore(ctx, item)
		switch rec.Status {
		case register.StatusSuccess:
			summary.Downloaded++
			state.DocumentsDownloaded++
		default:
			summary.Failed++
			state.Errors++
		}
		batch = append(batch, rec)
		if len(batch) >= flushEvery {
			if err := flush(); err != nil {
				return summary, err
			}
		}
	}
	if err := flush(); err != nil {
		return summary, err
	}

	// A deadline hit or cancellation during discovery also leaves the run
	// resumable; the checkpoint cursor must survive so the next run picks
	// up the scan.
	if deps.deadline.Expired() || ctx.Err() != nil {
		summary.Resumable = true
	}
	if summary.Resumable {
		if err := deps.checkpoints.Save(ctx, state); err != nil {
			return summary, err
		}
		deps.logger.Info("run paused", zap.Int("downloaded", summary.Downloaded))
		return summary, nil
	}

	if err := deps.checkpoints.Clear(ctx); err != nil {
		return summary, err
	}
	deps.logger.Info("run complete",
		zap.Int("discovered", summary.Discovered),
		zap.Int("downloaded", summary.Downloaded),
		zap.Int("failed", summary.Failed),
		zap.Int("skipped", summary.Skipped),
	)
	return summary, nil
}

// diffMissing drops discoveries whose URL the manifest already holds as a
// successful download. Failed rows stay eligible for retry.
func diffMissing(discovered []register.Discovery, downloaded map[string]struct{}) []register.Discovery {
	var missing []register.Discovery
	for _, d := range discovered {
		if _, ok := downloaded[d.URL]; ok {
			continue
		}
		missing = append(missing, d)
	}
	return missing
}

// Status describes the sync state without touching the network.
type Status struct {
	Manifest   manifest.Stats
	Checkpoint checkpoint.State
	OpenGaps   int
}

// CurrentStatus reads the manifest, checkpoint, and gap tracker from
// storage and summarizes them.
func CurrentStatus(ctx context.Context, cfg *config.Config, logger *zap.Logger) (Status, error) {
	backend, err := storage.New(ctx, cfg.StoragePath, logger)
	if err != nil {
		return Status{}, err
	}
	stats, err := manifest.New(backend, register.ManifestPath, logger).Stats(ctx)
	if err != nil {
		return Status{}, err
	}
	state, err := checkpoint.NewStore(backend, register.CheckpointPath).Load(ctx)
	if err != nil {
		return Status{}, err
	}
	tracker, err := gaps.Load(ctx, backend, register.GapStatePath)
	if err != nil {
		return Status{}, err
	}
	return Status{Manifest: stats, Checkpoint: state, OpenGaps: tracker.Len()}, nil
}
