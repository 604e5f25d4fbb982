package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rpzk/throttleguard/pkg/guard"
)

// Admin endpoint paths.
const (
	StatsPath = "/admin/ratelimit/stats"
	ResetPath = "/admin/ratelimit/reset"
)

// AdminClient calls the admin endpoints of a running server.
type AdminClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// NewAdminClient creates a client for baseURL. A bare host:port is treated
// as http://host:port. apiKey, when set, is sent as a Bearer token.
func NewAdminClient(baseURL, apiKey string) *AdminClient {
	if !strings.Contains(baseURL, "://") {
		baseURL = "http://" + baseURL
	}
	return &AdminClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

// Stats fetches the limiter and detector counters.
func (c *AdminClient) Stats(ctx context.Context) (guard.Stats, error) {
	var stats guard.Stats
	if err := c.do(ctx, http.MethodGet, StatsPath, nil, &stats); err != nil {
		return guard.Stats{}, err
	}
	return stats, nil
}

// Reset clears the limiter state of subjectID.
func (c *AdminClient) Reset(ctx context.Context, subjectID string) error {
	body, err := json.Marshal(guard.ResetRequest{SubjectID: subjectID})
	if err != nil {
		return err
	}
	return c.do(ctx, http.MethodPost, ResetPath, body, nil)
}

// StatusError is returned for a non-2xx admin response.
type StatusError struct {
	Status  int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned %d", e.Status)
	}
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

func (c *AdminClient) do(ctx context.Context, method, path string, body []byte, out any) error {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&e)
		return &StatusError{Status: resp.StatusCode, Message: e.Error}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
