// Package client provides a REST client for the movie recommender server.
package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/raphaelgruber/movie-recommender/internal/metrics"
	"github.com/raphaelgruber/movie-recommender/internal/modelconfig"
	"github.com/raphaelgruber/movie-recommender/internal/models"
	"github.com/raphaelgruber/movie-recommender/internal/registry"
	"github.com/raphaelgruber/movie-recommender/internal/service"
)

// DefaultServerURL is used when no server URL is configured.
const DefaultServerURL = "http://localhost:8000"

// Client talks to the recommender HTTP API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a client for baseURL. An empty baseURL uses DefaultServerURL;
// a non-positive timeout leaves requests bounded only by their context.
func New(baseURL string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = DefaultServerURL
	}
	hc := &http.Client{}
	if timeout > 0 {
		hc.Timeout = timeout
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: hc,
	}
}

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Detail     string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server error %d: %s", e.StatusCode, e.Detail)
}

// Unwrap maps the status code back onto the error taxonomy so callers can
// use errors.Is the same way they would in-process.
func (e *APIError) Unwrap() error {
	switch e.StatusCode {
	case http.StatusBadRequest:
		return models.ErrInvalidInput
	case http.StatusNotFound:
		return models.ErrNotFound
	case http.StatusServiceUnavailable:
		return models.ErrResourceExhausted
	default:
		return nil
	}
}

// Query holds the model and optional filters of a recommendation request.
// Nil fields are omitted so the server applies its defaults.
type Query struct {
	ModelName     string   `json:"model_name"`
	TopK          *int     `json:"top_k,omitempty"`
	DateFrom      *string  `json:"date_from,omitempty"`
	DateTo        *string  `json:"date_to,omitempty"`
	MinPopularity *float64 `json:"min_popularity,omitempty"`
	MaxPopularity *float64 `json:"max_popularity,omitempty"`
	MinRating     *float64 `json:"min_rating,omitempty"`
	MaxRating     *float64 `json:"max_rating,omitempty"`
	ExcludeTitles []string `json:"exclude_titles,omitempty"`
}

// ModelsResponse lists configured and loaded models.
type ModelsResponse struct {
	Models map[string]modelconfig.ModelConfig `json:"models"`
	Loaded []registry.LoadedModel             `json:"loaded"`
}

// do sends a request with an optional JSON body and decodes the response
// into result when it is non-nil.
func (c *Client) do(ctx context.Context, method, path string, body, result any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var e struct {
			Detail string `json:"detail"`
		}
		if json.Unmarshal(data, &e) != nil || e.Detail == "" {
			e.Detail = strings.TrimSpace(string(data))
		}
		return &APIError{StatusCode: resp.StatusCode, Detail: e.Detail}
	}

	if result != nil {
		if err := json.Unmarshal(data, result); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}
	return nil
}

// Health reports whether the server answers its health check.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", nil, nil)
}

// Recommend returns movies similar to sentence.
func (c *Client) Recommend(ctx context.Context, sentence string, q Query) (*service.Response, error) {
	body := struct {
		Sentence string `json:"sentence"`
		Query
	}{sentence, q}

	var resp service.Response
	if err := c.do(ctx, http.MethodPost, "/recommend", body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Similar returns movies similar to the catalog movie with the given title.
func (c *Client) Similar(ctx context.Context, title string, q Query) (*service.Response, error) {
	body := struct {
		Title string `json:"title"`
		Query
	}{title, q}

	var resp service.Response
	if err := c.do(ctx, http.MethodPost, "/recommend/similar", body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Titles lists the catalog titles.
func (c *Client) Titles(ctx context.Context) ([]string, error) {
	var resp struct {
		Titles []string `json:"titles"`
	}
	if err := c.do(ctx, http.MethodGet, "/titles", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Titles, nil
}

// Models lists configured and loaded models.
func (c *Client) Models(ctx context.Context) (*ModelsResponse, error) {
	var resp ModelsResponse
	if err := c.do(ctx, http.MethodGet, "/models", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Reload makes the server reload its model configuration and returns the
// configured model names.
func (c *Client) Reload(ctx context.Context) ([]string, error) {
	var resp struct {
		Models []string `json:"models"`
	}
	if err := c.do(ctx, http.MethodPost, "/reload", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Models, nil
}

// CacheKeys lists what the server's data cache holds.
func (c *Client) CacheKeys(ctx context.Context) ([]string, error) {
	var resp struct {
		Keys []string `json:"keys"`
	}
	if err := c.do(ctx, http.MethodGet, "/cache", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Keys, nil
}

// ClearCache drops the server's cached catalog and embeddings.
func (c *Client) ClearCache(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/cache/clear", nil, nil)
}

// StartEmbeddingJob starts a background embedding build. An empty
// outputPath writes to the model's embeddings_path.
func (c *Client) StartEmbeddingJob(ctx context.Context, model, outputPath string) (*service.JobInfo, error) {
	body := map[string]string{"model_name": model}
	if outputPath != "" {
		body["output_path"] = outputPath
	}
	var job service.JobInfo
	if err := c.do(ctx, http.MethodPost, "/jobs/embeddings", body, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// GetJob returns a job by ID.
func (c *Client) GetJob(ctx context.Context, id string) (*service.JobInfo, error) {
	var job service.JobInfo
	if err := c.do(ctx, http.MethodGet, "/jobs/"+url.PathEscape(id), nil, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// ListJobs returns all jobs, most recent first.
func (c *Client) ListJobs(ctx context.Context) ([]service.JobInfo, error) {
	var resp struct {
		Jobs []service.JobInfo `json:"jobs"`
	}
	if err := c.do(ctx, http.MethodGet, "/jobs", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Jobs, nil
}

// Stats returns the server's runtime statistics.
func (c *Client) Stats(ctx context.Context) (*metrics.Snapshot, error) {
	var snap metrics.Snapshot
	if err := c.do(ctx, http.MethodGet, "/stats", nil, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}
