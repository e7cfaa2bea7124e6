package population

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"stortinget-register/internal/register"
)

const representantsJSON = `{
  "representanter_liste": [
    {
      "etternavn": "Nordmann",
      "fornavn": "Ola",
      "foedselsdato": "/Date(315532800000+0100)/",
      "id": "OLNO",
      "parti": {"id": "A"},
      "fylke": {"navn": "Oslo"},
      "vara_representant": false
    },
    {
      "etternavn": "Berg",
      "fornavn": "Kari",
      "id": "KABE",
      "parti": {"id": "H"},
      "fylke": {"navn": "Rogaland"},
      "vara_representant": true
    }
  ]
}`

const governmentJSON = `{
  "versjon": "1.6",
  "regjeringsmedlem_liste": [
    {
      "etternavn": "Berg",
      "fornavn": "Kari",
      "id": "KABE",
      "departement": "Finansdepartementet",
      "tittel": "Statsråd"
    },
    {
      "etternavn": "Aas",
      "fornavn": "Per",
      "id": "PEAA",
      "departement": "Justisdepartementet",
      "tittel": "Statsråd"
    }
  ]
}`

func TestFetchPopulation(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/representanter":
			assert.Equal(t, "2021-2025", r.URL.Query().Get("stortingsperiodeid"))
			assert.Equal(t, "true", r.URL.Query().Get("vararepresentanter"))
			fmt.Fprint(w, representantsJSON)
		case "/regjering":
			fmt.Fprint(w, governmentJSON)
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	c := NewClient(ClientConfig{BaseURL: server.URL, UserAgent: "register-test"}, zap.NewNop())
	persons, err := c.FetchPopulation(context.Background(), "2021-2025", register.Day(2024, time.November, 14))
	require.NoError(t, err)

	// KABE appears in both lists; the representative entry wins.
	require.Len(t, persons, 3)
	assert.Equal(t, "Aas", persons[0].Surname)
	assert.Equal(t, "Berg", persons[1].Surname)
	assert.Equal(t, "representant", persons[1].Role)
	assert.True(t, persons[1].Substitute)
	assert.Equal(t, "Nordmann", persons[2].Surname)
	assert.Equal(t, "1980-01-01", persons[2].BirthDate)
	assert.Equal(t, "A", persons[2].Party)
	assert.Equal(t, "Oslo", persons[2].County)

	// Government member not in the representative list keeps the API title
	// and maps department into the county slot.
	assert.Equal(t, "Statsråd", persons[0].Role)
	assert.Equal(t, "Justisdepartementet", persons[0].County)
}

// Responses have carried more than one "_liste" key across API versions.
// Empty or non-array candidates must be skipped and the member list found
// regardless of key order in the document.
const governmentMultiListJSON = `{
  "versjon": "1.6",
  "ansvarsomraade_liste": [],
  "feilmelding_liste": "ingen",
  "regjeringsmedlem_liste": [
    {
      "etternavn": "Aas",
      "fornavn": "Per",
      "id": "PEAA",
      "departement": "Justisdepartementet",
      "tittel": "Statsråd"
    }
  ]
}`

func TestFetchPopulationSkipsDecoyListKeys(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/representanter":
			fmt.Fprint(w, `{"representanter_liste": []}`)
		case "/regjering":
			fmt.Fprint(w, governmentMultiListJSON)
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	c := NewClient(ClientConfig{BaseURL: server.URL}, zap.NewNop())
	persons, err := c.FetchPopulation(context.Background(), "2021-2025", register.Day(2024, time.November, 14))
	require.NoError(t, err)

	require.Len(t, persons, 1)
	assert.Equal(t, "PEAA", persons[0].ID)
	assert.Equal(t, "Statsråd", persons[0].Role)
}

func TestFetchPopulationAPIError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	c := NewClient(ClientConfig{BaseURL: server.URL}, zap.NewNop())
	_, err := c.FetchPopulation(context.Background(), "2021-2025", register.Day(2024, time.November, 14))
	assert.Error(t, err)
}
