package reports

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const reportsPath = "/rest/v1/reports"

// Doer executes an authenticated request through the auth pipeline.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Status is the reported state of a day's work.
type Status string

const (
	StatusOnTrack Status = "on_track"
	StatusAtRisk  Status = "at_risk"
	StatusBlocked Status = "blocked"
)

// Report is one employee's daily update.
type Report struct {
	ID           uuid.UUID `json:"id,omitempty"`
	UserID       uuid.UUID `json:"user_id"`
	Team         string    `json:"team"`
	Date         string    `json:"date"` // YYYY-MM-DD
	Tasks        string    `json:"tasks"`
	Status       Status    `json:"status"`
	Blockers     string    `json:"blockers,omitempty"`
	Risks        string    `json:"risks,omitempty"`
	Dependencies string    `json:"dependencies,omitempty"`
}

// Filter narrows a report listing.
type Filter struct {
	UserID uuid.UUID
	Team   string
	From   string // YYYY-MM-DD, inclusive
	To     string // YYYY-MM-DD, inclusive
}

// Client reads and writes report records through the provider's row-level
// interface. Every call runs under a hard timeout and the loading flag is
// always cleared on the way out, so no caller is left on a spinner.
type Client struct {
	doer    Doer
	baseURL string
	timeout time.Duration

	mu      sync.Mutex
	loading bool
}

// NewClient creates a reports client.
func NewClient(doer Doer, providerURL string, timeout time.Duration) *Client {
	return &Client{
		doer:    doer,
		baseURL: strings.TrimRight(providerURL, "/"),
		timeout: timeout,
	}
}

// Loading reports whether a fetch is in flight.
func (c *Client) Loading() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loading
}

func (c *Client) setLoading(v bool) {
	c.mu.Lock()
	c.loading = v
	c.mu.Unlock()
}

// Insert stores a new daily report.
func (c *Client) Insert(ctx context.Context, report Report) error {
	c.setLoading(true)
	defer c.setLoading(false)

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+reportsPath, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build report request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.doer.Do(req)
	if err != nil {
		return fmt.Errorf("report insert failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("report insert returned HTTP %d", resp.StatusCode)
	}

	log.Debug().Str("user_id", report.UserID.String()).Str("date", report.Date).Msg("report inserted")

	return nil
}

// List returns reports matching the filter, newest first.
func (c *Client) List(ctx context.Context, filter Filter) ([]Report, error) {
	c.setLoading(true)
	defer c.setLoading(false)

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	query := url.Values{"order": []string{"date.desc"}}
	if filter.UserID != uuid.Nil {
		query.Set("user_id", "eq."+filter.UserID.String())
	}
	if filter.Team != "" {
		query.Set("team", "eq."+filter.Team)
	}
	if filter.From != "" {
		query.Add("date", "gte."+filter.From)
	}
	if filter.To != "" {
		query.Add("date", "lte."+filter.To)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+reportsPath+"?"+query.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build report request: %w", err)
	}

	resp, err := c.doer.Do(req)
	if err != nil {
		return nil, fmt.Errorf("report list failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("report list returned HTTP %d", resp.StatusCode)
	}

	var rows []Report
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return nil, fmt.Errorf("failed to decode reports: %w", err)
	}

	return rows, nil
}
