package discovery

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"stortinget-register/internal/checkpoint"
	"stortinget-register/internal/clock"
	"stortinget-register/internal/gaps"
	"stortinget-register/internal/register"
	"stortinget-register/internal/storage"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

// fakeProber pretends documents exist on the configured dates and records
// every date it was asked about.
type fakeProber struct {
	existing map[string][]string // ISO date -> live URLs
	probed   []string
	batches  int
}

func (p *fakeProber) ProbeBatch(_ context.Context, dates []time.Time) map[string][]string {
	p.batches++
	hits := make(map[string][]string)
	for _, d := range dates {
		iso := register.ISO(d)
		p.probed = append(p.probed, iso)
		if urls, ok := p.existing[iso]; ok {
			hits[iso] = urls
		}
	}
	return hits
}

type fakeScraper struct {
	latest register.Discovery
	ok     bool
}

func (s fakeScraper) Latest() (register.Discovery, bool) { return s.latest, s.ok }

type harness struct {
	engine  *Engine
	prober  *fakeProber
	tracker *gaps.Tracker
	cps     *checkpoint.Store
	backend storage.Backend
}

func newHarness(t *testing.T, today time.Time, prober *fakeProber, scraper Scraper, cfg Config) *harness {
	t.Helper()
	backend, err := storage.New(context.Background(), "mem://"+t.Name(), zap.NewNop())
	require.NoError(t, err)
	tracker, err := gaps.Load(context.Background(), backend, register.GapStatePath)
	require.NoError(t, err)

	clk := fixedClock{now: today}
	cps := checkpoint.NewStore(backend, register.CheckpointPath)
	deadline := clock.NewDeadline(clk, 0, time.Minute)
	engine := NewEngine(prober, scraper, tracker, cps, deadline, clk, cfg, zap.NewNop())
	return &harness{engine: engine, prober: prober, tracker: tracker, cps: cps, backend: backend}
}

func docURL(iso string) string {
	d, err := register.ParseISO(iso)
	if err != nil {
		panic(err)
	}
	return register.CandidateURLs(d)[0]
}

func TestDiscoverBootstrapScansEveryWeekday(t *testing.T) {
	t.Parallel()

	today := register.Day(2024, time.January, 31)
	prober := &fakeProber{existing: map[string][]string{
		"2024-01-05": {docURL("2024-01-05")},
		"2024-01-19": {docURL("2024-01-19")},
	}}
	h := newHarness(t, today, prober, nil, Config{StartYear: 2024, EndYear: 2024, BatchSize: 5, CheckpointEvery: 2})

	var state checkpoint.State
	found, err := h.engine.Discover(context.Background(), nil, &state)
	require.NoError(t, err)

	// January 2024 has 23 weekdays, all scanned.
	assert.Len(t, prober.probed, 23)
	assert.Equal(t, 23, state.DatesScanned)
	assert.Equal(t, "2024-01-31", state.LastDateScanned)
	assert.Equal(t, 2, state.DocumentsFound)

	require.Len(t, found, 2)
	assert.Equal(t, register.Day(2024, time.January, 5), found[0].Date)
	assert.Equal(t, docURL("2024-01-05"), found[0].URL)
	assert.Equal(t, "arkiv_2023-2024", found[0].PeriodFolder)

	// 23 dates in batches of 5 is 5 batches; checkpoints land after
	// batches 2 and 4.
	saved, err := h.cps.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 20, saved.DatesScanned)
}

func TestDiscoverBootstrapResumesPastCursor(t *testing.T) {
	t.Parallel()

	today := register.Day(2024, time.January, 31)
	prober := &fakeProber{}
	h := newHarness(t, today, prober, nil, Config{StartYear: 2024, EndYear: 2024})

	state := checkpoint.State{LastDateScanned: "2024-01-15", DatesScanned: 10}
	_, err := h.engine.Discover(context.Background(), nil, &state)
	require.NoError(t, err)

	require.NotEmpty(t, prober.probed)
	assert.Equal(t, "2024-01-16", prober.probed[0])
	// 12 weekdays remain from Jan 16 to Jan 31.
	assert.Len(t, prober.probed, 12)
	assert.Equal(t, 22, state.DatesScanned)
}

func TestDiscoverFirstContactProbesBestGuessWeeks(t *testing.T) {
	t.Parallel()

	today := register.Day(2024, time.March, 5)
	known := []time.Time{
		register.Day(2024, time.January, 5),
		register.Day(2024, time.March, 1),
	}
	prober := &fakeProber{existing: map[string][]string{
		"2024-02-02": {docURL("2024-02-02")},
	}}
	h := newHarness(t, today, prober, nil, Config{})

	var state checkpoint.State
	found, err := h.engine.Discover(context.Background(), known, &state)
	require.NoError(t, err)

	require.Len(t, found, 1)
	assert.Equal(t, register.Day(2024, time.February, 2), found[0].Date)

	// The resolved window leaves no record; the unresolved midpoints keep
	// theirs with one escalation step burned.
	_, resolved := h.tracker.Get("2024-02-02")
	assert.False(t, resolved)
	for _, key := range []string{"2024-01-19", "2024-02-16"} {
		rec, ok := h.tracker.Get(key)
		require.True(t, ok, key)
		assert.Equal(t, 1, rec.CheckCount, key)
		assert.NotEmpty(t, rec.DatesChecked, key)
	}

	// The tracker state survives the run.
	raw, err := h.backend.ReadBytes(context.Background(), register.GapStatePath)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "2024-01-19")
}

func TestDiscoverEscalatesToExhaustiveSweep(t *testing.T) {
	t.Parallel()

	today := register.Day(2024, time.February, 9)
	gapStart := register.Day(2024, time.January, 5)
	known := []time.Time{gapStart}
	prober := &fakeProber{}
	h := newHarness(t, today, prober, nil, Config{})

	// First contact already happened: the best-guess week around Jan 19
	// came up empty.
	checked := []string{"2024-01-15", "2024-01-16", "2024-01-17", "2024-01-18", "2024-01-19"}
	h.tracker.Upsert("2024-01-19", gaps.Record{
		GapStart:     "2024-01-05",
		GapEnd:       "2024-02-09",
		ExpectedDate: "2024-01-19",
		CheckCount:   1,
		DatesChecked: checked,
	})

	var state checkpoint.State
	_, err := h.engine.Discover(context.Background(), known, &state)
	require.NoError(t, err)

	// The Jan 19 window escalates to every unchecked weekday strictly
	// inside the gap. The Feb 2 window gets its best-guess week, which
	// overlaps the same sweep.
	probedSet := make(map[string]struct{}, len(prober.probed))
	for _, iso := range prober.probed {
		probedSet[iso] = struct{}{}
	}
	for _, iso := range checked {
		rec, ok := h.tracker.Get("2024-01-19")
		require.True(t, ok)
		assert.True(t, rec.Checked(iso))
	}
	assert.Contains(t, probedSet, "2024-01-08") // outside the guessed week, inside the gap
	assert.Contains(t, probedSet, "2024-02-08")
	assert.NotContains(t, probedSet, "2024-01-17") // already checked last run
	assert.NotContains(t, probedSet, "2024-01-05") // gap endpoints are confirmed
	assert.NotContains(t, probedSet, "2024-02-09")

	rec, ok := h.tracker.Get("2024-01-19")
	require.True(t, ok)
	assert.Equal(t, 2, rec.CheckCount)
}

func TestDiscoverResolvedWindowDropsRecord(t *testing.T) {
	t.Parallel()

	today := register.Day(2024, time.March, 5)
	known := []time.Time{
		register.Day(2024, time.January, 5),
		register.Day(2024, time.March, 1),
	}
	prober := &fakeProber{existing: map[string][]string{
		"2024-01-17": {docURL("2024-01-17")},
	}}
	h := newHarness(t, today, prober, nil, Config{})
	h.tracker.Upsert("2024-01-19", gaps.Record{
		GapStart:     "2024-01-05",
		GapEnd:       "2024-03-01",
		ExpectedDate: "2024-01-19",
		CheckCount:   1,
		DatesChecked: []string{"2024-01-19"},
	})

	var state checkpoint.State
	found, err := h.engine.Discover(context.Background(), known, &state)
	require.NoError(t, err)

	require.NotEmpty(t, found)
	assert.Equal(t, register.Day(2024, time.January, 17), found[0].Date)
	_, still := h.tracker.Get("2024-01-19")
	assert.False(t, still)
}

func TestDiscoverScrapeHitSkipsKnownDate(t *testing.T) {
	t.Parallel()

	today := register.Day(2024, time.January, 10)
	known := []time.Time{register.Day(2024, time.January, 5)}
	scraper := fakeScraper{
		latest: register.Discovery{Date: register.Day(2024, time.January, 5), URL: docURL("2024-01-05")},
		ok:     true,
	}
	h := newHarness(t, today, &fakeProber{}, scraper, Config{})

	var state checkpoint.State
	found, err := h.engine.Discover(context.Background(), known, &state)
	require.NoError(t, err)
	assert.Empty(t, found)
}

func TestDiscoverScrapeHitAddsNewDate(t *testing.T) {
	t.Parallel()

	today := register.Day(2024, time.January, 20)
	known := []time.Time{register.Day(2024, time.January, 5)}
	scraper := fakeScraper{
		latest: register.Discovery{Date: register.Day(2024, time.January, 19), URL: docURL("2024-01-19")},
		ok:     true,
	}
	h := newHarness(t, today, &fakeProber{}, scraper, Config{})

	var state checkpoint.State
	found, err := h.engine.Discover(context.Background(), known, &state)
	require.NoError(t, err)

	require.Len(t, found, 1)
	assert.Equal(t, docURL("2024-01-19"), found[0].URL)
	assert.Equal(t, 1, state.DocumentsFound)
	// No gap is wide enough, so nothing was probed.
	assert.Empty(t, h.prober.probed)
}

func TestDiscoverStopsWhenBudgetExhausted(t *testing.T) {
	t.Parallel()

	backend, err := storage.New(context.Background(), "mem://"+t.Name(), zap.NewNop())
	require.NoError(t, err)
	tracker, err := gaps.Load(context.Background(), backend, register.GapStatePath)
	require.NoError(t, err)

	clk := fixedClock{now: register.Day(2024, time.January, 31)}
	prober := &fakeProber{}
	// A budget smaller than the margin is exhausted before the first batch.
	deadline := clock.NewDeadline(clk, time.Second, time.Minute)
	engine := NewEngine(prober, nil, tracker, checkpoint.NewStore(backend, register.CheckpointPath),
		deadline, clk, Config{StartYear: 2024, EndYear: 2024}, zap.NewNop())

	var state checkpoint.State
	found, err := engine.Discover(context.Background(), nil, &state)
	require.NoError(t, err)
	assert.Empty(t, found)
	assert.Empty(t, prober.probed)
	assert.Zero(t, state.DatesScanned)
}

func TestDiscoverKeepsEverySameDayURL(t *testing.T) {
	t.Parallel()

	today := register.Day(2024, time.January, 8)
	date := register.Day(2024, time.January, 5)
	urls := register.CandidateURLs(date)
	prober := &fakeProber{existing: map[string][]string{
		"2024-01-05": {urls[0], urls[1]},
	}}
	h := newHarness(t, today, prober, nil, Config{StartYear: 2024, EndYear: 2024})

	var state checkpoint.State
	found, err := h.engine.Discover(context.Background(), nil, &state)
	require.NoError(t, err)

	// Same-day publications are distinct manifest rows, one per URL.
	require.Len(t, found, 2)
	assert.Equal(t, date, found[0].Date)
	assert.Equal(t, date, found[1].Date)
	assert.Equal(t, urls[0], found[0].URL)
	assert.Equal(t, urls[1], found[1].URL)
	assert.Equal(t, 2, state.DocumentsFound)
}

func TestDiscoverScrapeHitAnchorsGapDetection(t *testing.T) {
	t.Parallel()

	today := register.Day(2024, time.March, 5)
	known := []time.Time{register.Day(2024, time.January, 5)}
	scraper := fakeScraper{
		latest: register.Discovery{Date: register.Day(2024, time.March, 1), URL: docURL("2024-03-01")},
		ok:     true,
	}
	prober := &fakeProber{}
	h := newHarness(t, today, prober, scraper, Config{})

	var state checkpoint.State
	found, err := h.engine.Discover(context.Background(), known, &state)
	require.NoError(t, err)

	require.Len(t, found, 1)
	assert.Equal(t, docURL("2024-03-01"), found[0].URL)

	// The scrape hit closes the trailing span: the gap under investigation
	// ends at the confirmed date, which is never re-probed.
	assert.NotContains(t, prober.probed, "2024-03-01")
	for _, iso := range prober.probed {
		assert.Less(t, iso, "2024-03-01")
	}
}

func TestDiscoverCancelledContextMarksNothingChecked(t *testing.T) {
	t.Parallel()

	today := register.Day(2024, time.March, 5)
	known := []time.Time{
		register.Day(2024, time.January, 5),
		register.Day(2024, time.March, 1),
	}
	prober := &fakeProber{}
	h := newHarness(t, today, prober, nil, Config{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var state checkpoint.State
	_, err := h.engine.Discover(ctx, known, &state)
	require.NoError(t, err)

	// Nothing was actually probed, so no gap window may record its dates
	// as checked.
	assert.Empty(t, prober.probed)
	assert.Zero(t, h.tracker.Len())
	assert.Zero(t, state.DatesScanned)
}
