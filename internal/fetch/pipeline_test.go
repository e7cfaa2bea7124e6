package fetch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"stortinget-register/internal/clock"
	"stortinget-register/internal/population"
	"stortinget-register/internal/probe"
	"stortinget-register/internal/register"
	"stortinget-register/internal/storage"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

type fakeFetcher struct {
	calls   atomic.Int64
	persons []population.Person
	err     error
}

func (f *fakeFetcher) FetchPopulation(context.Context, string, time.Time) ([]population.Person, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return f.persons, nil
}

func newTestPipeline(t *testing.T, popFetcher population.Fetcher) (*Pipeline, storage.Backend) {
	t.Helper()
	backend, err := storage.New(context.Background(), "mem://"+t.Name(), zap.NewNop())
	require.NoError(t, err)
	policy := &RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   time.Millisecond,
		MaxDelay:    5 * time.Millisecond,
		Classify:    IsRetryable,
	}
	clk := clock.Clock(fixedClock{now: register.Day(2024, time.November, 15)})
	p := New(backend, probe.NewGate(2, 0, 0), policy, popFetcher, clk, Config{UserAgent: "test-agent"}, zap.NewNop())
	return p, backend
}

func discoveryFor(server *httptest.Server, date time.Time) register.Discovery {
	return register.Discovery{
		Date:         date,
		URL:          server.URL + "/eos_" + register.ISO(date) + ".pdf",
		PeriodFolder: "arkiv_2021-2025",
	}
}

func TestFetchAndStoreSuccess(t *testing.T) {
	t.Parallel()

	payload := []byte("%PDF-1.4 not really parseable")
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(payload)
	}))
	defer server.Close()

	p, backend := newTestPipeline(t, nil)
	date := register.Day(2024, time.January, 5)
	rec := p.FetchAndStore(context.Background(), discoveryFor(server, date))

	assert.Equal(t, register.StatusSuccess, rec.Status)
	assert.Equal(t, "2024-01-05", rec.Date)
	require.NotNil(t, rec.PeriodFolder)
	assert.Equal(t, "arkiv_2021-2025", *rec.PeriodFolder)
	require.NotNil(t, rec.StoragePath)
	assert.Equal(t, register.DocumentPath(date), *rec.StoragePath)
	require.NotNil(t, rec.SizeBytes)
	assert.Equal(t, int64(len(payload)), *rec.SizeBytes)

	sum := sha256.Sum256(payload)
	require.NotNil(t, rec.ContentHash)
	assert.Equal(t, hex.EncodeToString(sum[:]), *rec.ContentHash)

	// The payload is not a real PDF, so validation fails softly.
	assert.Nil(t, rec.PageCount)
	assert.Nil(t, rec.ErrorDetail)
	assert.Equal(t, "2024-11-15T00:00:00Z", rec.FetchedAt)

	stored, err := backend.ReadBytes(context.Background(), register.DocumentPath(date))
	require.NoError(t, err)
	assert.Equal(t, payload, stored)
}

func TestFetchAndStoreNotFoundFailsWithoutRetry(t *testing.T) {
	t.Parallel()

	var hits atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		http.NotFound(w, nil)
	}))
	defer server.Close()

	p, backend := newTestPipeline(t, nil)
	date := register.Day(2024, time.January, 5)
	rec := p.FetchAndStore(context.Background(), discoveryFor(server, date))

	assert.Equal(t, register.StatusFailed, rec.Status)
	require.NotNil(t, rec.ErrorDetail)
	assert.Contains(t, *rec.ErrorDetail, "404")
	assert.Nil(t, rec.StoragePath)
	assert.Nil(t, rec.ContentHash)
	assert.Equal(t, int64(1), hits.Load())

	exists, err := backend.Exists(context.Background(), register.DocumentPath(date))
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestFetchAndStoreRetriesTransientErrors(t *testing.T) {
	t.Parallel()

	var hits atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("document body"))
	}))
	defer server.Close()

	p, _ := newTestPipeline(t, nil)
	rec := p.FetchAndStore(context.Background(), discoveryFor(server, register.Day(2024, time.February, 2)))

	assert.Equal(t, register.StatusSuccess, rec.Status)
	assert.Equal(t, int64(3), hits.Load())
}

func TestFetchAndStoreTruncatesErrorDetail(t *testing.T) {
	t.Parallel()

	p, _ := newTestPipeline(t, nil)
	// An invalid URL makes request construction itself fail; stuff the
	// failure text past the column limit via an oversized host name.
	item := register.Discovery{
		Date: register.Day(2024, time.March, 1),
		URL:  "http://" + strings.Repeat("x", 600) + "\x7f/doc.pdf",
	}
	rec := p.FetchAndStore(context.Background(), item)

	assert.Equal(t, register.StatusFailed, rec.Status)
	require.NotNil(t, rec.ErrorDetail)
	assert.Len(t, *rec.ErrorDetail, maxErrorDetail)
}

func TestFetchAndStoreEnrichesOncePerPeriod(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("document body"))
	}))
	defer server.Close()

	fetcher := &fakeFetcher{persons: []population.Person{
		{Surname: "Berg", GivenName: "Kari", ID: "KABE", Role: "representant"},
		{Surname: "Nord", GivenName: "Ola", ID: "OLNO", Role: "statsraad"},
	}}
	p, backend := newTestPipeline(t, fetcher)

	first := register.Day(2024, time.January, 5)
	second := register.Day(2024, time.January, 19)
	recA := p.FetchAndStore(context.Background(), discoveryFor(server, first))
	recB := p.FetchAndStore(context.Background(), discoveryFor(server, second))

	for _, rec := range []register.Record{recA, recB} {
		assert.Equal(t, register.StatusSuccess, rec.Status)
		require.NotNil(t, rec.PeriodID)
		assert.Equal(t, "2021-2025", *rec.PeriodID)
		require.NotNil(t, rec.PopulationCount)
		assert.Equal(t, int64(2), *rec.PopulationCount)
		require.NotNil(t, rec.PopulationHash)
	}
	require.NotNil(t, recA.PopulationPath)
	require.NotNil(t, recB.PopulationPath)
	assert.NotEqual(t, *recA.PopulationPath, *recB.PopulationPath)

	// Both documents fall in the same parliamentary period, so the
	// population is fetched exactly once.
	assert.Equal(t, int64(1), fetcher.calls.Load())

	raw, err := backend.ReadBytes(context.Background(), *recA.PopulationPath)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "\"id\": \"KABE\"")
}

func TestFetchAndStoreEnrichmentFailureKeepsSuccess(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("document body"))
	}))
	defer server.Close()

	fetcher := &fakeFetcher{err: assert.AnError}
	p, _ := newTestPipeline(t, fetcher)
	rec := p.FetchAndStore(context.Background(), discoveryFor(server, register.Day(2024, time.January, 5)))

	assert.Equal(t, register.StatusSuccess, rec.Status)
	require.NotNil(t, rec.PeriodID) // period attribution never depends on the API
	assert.Nil(t, rec.PopulationPath)
	assert.Nil(t, rec.PopulationHash)
	assert.Nil(t, rec.PopulationCount)
	assert.Nil(t, rec.ErrorDetail)
}
