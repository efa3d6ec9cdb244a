package history

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/vjranagit/minigraph/pkg/types"
)

// maxErrorBody bounds how much of an error response is quoted
const maxErrorBody = 512

// RESTFetcher reads the history/period endpoint of a home automation API
type RESTFetcher struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewRESTFetcher creates a fetcher for baseURL authenticating with token
func NewRESTFetcher(baseURL, token string, timeout time.Duration) *RESTFetcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &RESTFetcher{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: timeout},
	}
}

// URL builds the history/period request URL
func (f *RESTFetcher) URL(req Request) string {
	q := url.Values{}
	q.Set("filter_entity_id", req.EntityID)
	if !req.End.IsZero() {
		q.Set("end_time", req.End.UTC().Format(time.RFC3339Nano))
	}

	u := f.baseURL + "/api/history/period"
	if !req.Start.IsZero() {
		u += "/" + url.PathEscape(req.Start.UTC().Format(time.RFC3339Nano))
	}
	u += "?" + q.Encode()
	if req.SkipInitialState {
		u += "&skip_initial_state"
	}
	return u
}

// Fetch implements Fetcher
func (f *RESTFetcher) Fetch(ctx context.Context, req Request) ([]types.Sample, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, f.URL(req), nil)
	if err != nil {
		return nil, fmt.Errorf("building history request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	if f.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+f.token)
	}

	resp, err := f.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("fetching history for %s: %w", req.EntityID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, fmt.Errorf("%w %d for %s: %s", ErrUnexpectedStatus, resp.StatusCode, req.EntityID, strings.TrimSpace(string(body)))
	}

	var series [][]types.Sample
	if err := json.NewDecoder(resp.Body).Decode(&series); err != nil {
		return nil, fmt.Errorf("decoding history for %s: %w", req.EntityID, err)
	}
	if len(series) == 0 {
		return nil, nil
	}
	return series[0], nil
}
