// Package behavior fetches the post-interview behavioral analysis report.
//
// The analysis itself runs in an external service that watched the
// candidate's media; the interview only asks for the finished report when it
// ends, and treats any failure as "no report".
package behavior

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// StatusSuccess is the report status of a completed analysis.
const StatusSuccess = "success"

// Report is the behavioral summary stored alongside the interview result.
type Report struct {
	Status  string             `json:"status"`
	Summary string             `json:"summary,omitempty"`
	Metrics map[string]float64 `json:"metrics,omitempty"`
	Flags   []string           `json:"flags,omitempty"`
}

// OK reports whether the analysis finished successfully.
func (r *Report) OK() bool { return r != nil && r.Status == StatusSuccess }

// Option configures a [Client].
type Option func(*Client)

// WithHTTPClient replaces the HTTP client. The default client is
// instrumented with otelhttp and times out after 15s.
func WithHTTPClient(c *http.Client) Option { return func(cl *Client) { cl.http = c } }

// WithAPIKey sends key as a bearer token.
func WithAPIKey(key string) Option { return func(cl *Client) { cl.apiKey = key } }

// Client talks to the behavioral analysis service.
type Client struct {
	base   string
	apiKey string
	http   *http.Client
}

// New returns a client for the service at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("behavior: invalid base url %q", baseURL)
	}
	c := &Client{
		base: strings.TrimRight(baseURL, "/"),
		http: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
			Timeout:   15 * time.Second,
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// Fetch returns the report for the interview with the given id.
func (c *Client) Fetch(ctx context.Context, id string) (*Report, error) {
	endpoint := c.base + "/sessions/" + url.PathEscape(id) + "/behavior"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("behavior: fetch: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("behavior: fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("behavior: fetch: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var r Report
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return nil, fmt.Errorf("behavior: decode report: %w", err)
	}
	return &r, nil
}
