package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/lkarlslund/vertexgate/pkg/metrics"
)

const HeaderUserProject = "X-Goog-User-Project"

var (
	ErrTransport        = errors.New("catalog transport failure")
	ErrMalformedPayload = errors.New("malformed catalog payload")
)

// StatusError is a non-2xx catalog response. Body is kept for logs only.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("catalog status %d: %s", e.StatusCode, e.Body)
}

type Client struct {
	URL       string
	ProjectID string
	HTTP      *http.Client
}

func NewClient(url, projectID string, hc *http.Client) *Client {
	if hc == nil {
		hc = http.DefaultClient
	}
	return &Client{URL: url, ProjectID: projectID, HTTP: hc}
}

// Fetch issues one GET against the catalog and decodes the raw records.
func (c *Client) Fetch(ctx context.Context, authorization string) ([]PublisherModel, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("build catalog request: %w", err)
	}
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	req.Header.Set(HeaderUserProject, c.ProjectID)
	req.Header.Set("Content-Type", "application/json")

	started := time.Now()
	resp, err := c.HTTP.Do(req)
	if err != nil {
		metrics.ObserveUpstream("catalog", "", 0, 0)
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	defer resp.Body.Close()
	metrics.ObserveUpstream("catalog", "", resp.StatusCode, time.Since(started))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &StatusError{
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(b)),
		}
	}
	var out ListResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return out.PublisherModels, nil
}
