// Package sink posts submitted reports to the external report endpoint.
// Delivery is fire-and-forget: the response body is never relied on, and the
// caller treats failures as a missed mirror, not a failed submission.
package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/stakahashi/tenken/internal/types"
)

// payload is the wire shape the endpoint expects.
type payload struct {
	Timestamp       string             `json:"timestamp"`
	SubmittedByName string             `json:"submittedByName"`
	Data            types.ReportValues `json:"data"`
}

// Client posts report snapshots to one configured URL. Sends are rate
// limited so a burst of submissions cannot hammer the endpoint.
type Client struct {
	url     string
	hc      *http.Client
	limiter *rate.Limiter
}

// New creates a client for the given endpoint URL.
func New(url string) *Client {
	return &Client{
		url:     url,
		hc:      &http.Client{Timeout: 15 * time.Second},
		limiter: rate.NewLimiter(rate.Limit(1), 3),
	}
}

// URL returns the configured endpoint.
func (c *Client) URL() string { return c.url }

// Send posts one snapshot. A non-2xx status is an error so the caller can
// record the missed mirror; the response body itself is discarded.
func (c *Client) Send(ctx context.Context, snap *types.ReportSnapshot) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	body, err := json.Marshal(payload{
		Timestamp:       snap.SubmittedAt.Format(time.RFC3339),
		SubmittedByName: snap.SubmittedBy.Name,
		Data:            snap.Values,
	})
	if err != nil {
		return fmt.Errorf("encoding sink payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("posting to sink: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("sink returned status %d", resp.StatusCode)
	}
	return nil
}
