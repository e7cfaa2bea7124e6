package population

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// DefaultBaseURL is the export endpoint of the Stortinget data API.
const DefaultBaseURL = "https://data.stortinget.no/eksport"

// Fetcher is the collaborator interface the sync engine consumes. The
// returned list is deduplicated and sorted.
type Fetcher interface {
	FetchPopulation(ctx context.Context, periodID string, asOf time.Time) ([]Person, error)
}

// ClientConfig controls the API client.
type ClientConfig struct {
	BaseURL           string
	UserAgent         string
	Timeout           time.Duration
	RequestsPerSecond float64
	BurstLimit        int
}

// Client fetches the register population from data.stortinget.no.
type Client struct {
	cfg     ClientConfig
	client  *http.Client
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewClient builds a rate-limited API client.
func NewClient(cfg ClientConfig, logger *zap.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := cfg.BurstLimit
	if burst <= 0 {
		burst = 1
	}
	return &Client{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(limit, burst),
		logger:  logger,
	}
}

// wirePerson mirrors the API's person shape for both representatives and
// government members.
type wirePerson struct {
	Surname   string `json:"etternavn"`
	GivenName string `json:"fornavn"`
	BirthDate string `json:"foedselsdato"`
	ID        string `json:"id"`
	Party     *struct {
		ID string `json:"id"`
	} `json:"parti"`
	County *struct {
		Name string `json:"navn"`
	} `json:"fylke"`
	Department string `json:"departement"`
	Title      string `json:"tittel"`
	Substitute bool   `json:"vara_representant"`
}

func (w wirePerson) toPerson(role string) Person {
	p := Person{
		Surname:    w.Surname,
		GivenName:  w.GivenName,
		BirthDate:  ParseDotNetDate(w.BirthDate),
		ID:         w.ID,
		Role:       role,
		Substitute: w.Substitute,
	}
	if w.Party != nil {
		p.Party = w.Party.ID
	}
	switch {
	case w.County != nil:
		p.County = w.County.Name
	case w.Department != "":
		p.County = w.Department
	}
	return p
}

// FetchPopulation returns all persons in register scope for the period:
// representatives (substitutes included) plus government members,
// deduplicated by id and sorted by (surname, given name).
func (c *Client) FetchPopulation(ctx context.Context, periodID string, _ time.Time) ([]Person, error) {
	var persons []Person

	repsURL := fmt.Sprintf("%s/representanter?stortingsperiodeid=%s&vararepresentanter=true&format=json", c.cfg.BaseURL, periodID)
	var reps struct {
		List []wirePerson `json:"representanter_liste"`
	}
	if err := c.getJSON(ctx, repsURL, &reps); err != nil {
		return nil, fmt.Errorf("fetch representatives for %s: %w", periodID, err)
	}
	for _, w := range reps.List {
		persons = append(persons, w.toPerson("representant"))
	}

	govURL := fmt.Sprintf("%s/regjering?stortingsperiodeid=%s&format=json", c.cfg.BaseURL, periodID)
	var gov map[string]json.RawMessage
	if err := c.getJSON(ctx, govURL, &gov); err != nil {
		return nil, fmt.Errorf("fetch government for %s: %w", periodID, err)
	}
	// The member list key carries a "_liste" suffix whose prefix has varied
	// across API versions. Candidate keys are sorted so the pick is
	// deterministic when a response carries more than one list-valued key.
	var listKeys []string
	for key := range gov {
		if strings.HasSuffix(key, "_liste") {
			listKeys = append(listKeys, key)
		}
	}
	sort.Strings(listKeys)
	for _, key := range listKeys {
		var members []wirePerson
		if err := json.Unmarshal(gov[key], &members); err != nil || len(members) == 0 {
			continue // not the member list, e.g. a scalar or empty field
		}
		for _, w := range members {
			role := w.Title
			if role == "" {
				role = "regjeringsmedlem"
			}
			persons = append(persons, w.toPerson(role))
		}
		break
	}

	return Normalize(persons), nil
}

func (c *Client) getJSON(ctx context.Context, url string, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if c.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", c.cfg.UserAgent)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			c.logger.Debug("close response body", zap.Error(cerr))
		}
	}()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d from %s", resp.StatusCode, url)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
