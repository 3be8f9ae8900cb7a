// Package endoflife provides knowledge-source adapters backed by the
// endoflife.date API: vendor-scoped agents for well-known products and a
// generic fallback that guesses the product slug from the normalized name.
package endoflife

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/lifeline-sh/lifeline/agents"
)

// DefaultBaseURL is the public endoflife.date endpoint.
const DefaultBaseURL = "https://endoflife.date"

// Client is a thin endoflife.date API client.
type Client struct {
	baseURL string
	client  *http.Client
	logger  *zap.Logger
}

// NewClient creates a client. Empty baseURL means the public API.
func NewClient(baseURL string, timeout time.Duration, logger *zap.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		logger:  logger.With(zap.String("component", "endoflife")),
	}
}

// Cycle is one release cycle as served by the API. EOL and LTS are
// polymorphic upstream (bool or date string), so they stay raw until read.
type Cycle struct {
	Cycle       string          `json:"cycle"`
	ReleaseDate string          `json:"releaseDate"`
	EOL         json.RawMessage `json:"eol"`
	Latest      string          `json:"latest"`
	LTS         json.RawMessage `json:"lts"`
}

// EOLDate parses the cycle's end-of-life field. A bool upstream means the
// date is not published; both cases return nil.
func (c Cycle) EOLDate() *time.Time {
	var s string
	if err := json.Unmarshal(c.EOL, &s); err != nil {
		return nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return nil
	}
	return &t
}

// IsLTS reports long-term-support status. Upstream encodes it as true, false
// or the LTS start date.
func (c Cycle) IsLTS() bool {
	var b bool
	if err := json.Unmarshal(c.LTS, &b); err == nil {
		return b
	}
	var s string
	return json.Unmarshal(c.LTS, &s) == nil && s != ""
}

// Product fetches all cycles for a product slug, newest first. An unknown
// product maps to agents.ErrNoAnswer.
func (c *Client) Product(ctx context.Context, slug string) ([]Cycle, error) {
	endpoint := fmt.Sprintf("%s/api/%s.json", c.baseURL, slug)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, agents.ErrNoAnswer
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("endoflife.date returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var cycles []Cycle
	if err := json.NewDecoder(resp.Body).Decode(&cycles); err != nil {
		return nil, fmt.Errorf("failed to decode product cycles: %w", err)
	}
	if len(cycles) == 0 {
		return nil, agents.ErrNoAnswer
	}
	return cycles, nil
}
