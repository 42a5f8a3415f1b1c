package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/alfredjeanlab/relay/internal/model"
)

// HTTPClient calls the relayd admin HTTP API.
type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewHTTPClient creates a client targeting baseURL (e.g.
// "http://127.0.0.1:8080").
func NewHTTPClient(baseURL string) *HTTPClient {
	return &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Health is the GET /v1/health response.
type Health struct {
	Status      string `json:"status"`
	Connections int    `json:"connections"`
	Listeners   int    `json:"listeners"`
	Uptime      string `json:"uptime"`
}

// Connection is one entry of GET /v1/connections.
type Connection struct {
	ID          string    `json:"id"`
	RemoteAddr  string    `json:"remote_addr"`
	Phase       string    `json:"phase"`
	ConnectedAt time.Time `json:"connected_at"`
}

// Window is one entry of GET /v1/windows.
type Window struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Status       string    `json:"status"`
	LastActivity time.Time `json:"last_activity"`
}

func (c *HTTPClient) Health(ctx context.Context) (*Health, error) {
	var h Health
	if err := c.doJSON(ctx, http.MethodGet, "/v1/health", nil, &h); err != nil {
		return nil, err
	}
	return &h, nil
}

func (c *HTTPClient) Connections(ctx context.Context) ([]Connection, error) {
	var resp struct {
		Connections []Connection `json:"connections"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/v1/connections", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Connections, nil
}

func (c *HTTPClient) Windows(ctx context.Context) ([]Window, error) {
	var resp struct {
		Windows []Window `json:"windows"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/v1/windows", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Windows, nil
}

// Emit publishes an event on the server's bus and returns it as emitted.
// An empty source lets the server choose.
func (c *HTTPClient) Emit(ctx context.Context, name string, payload json.RawMessage, source string) (*model.Event, error) {
	body := map[string]any{"name": name}
	if len(payload) > 0 {
		body["payload"] = payload
	}
	if source != "" {
		body["source"] = source
	}
	var e model.Event
	if err := c.doJSON(ctx, http.MethodPost, "/v1/events", body, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// APIError represents an error response from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server error %d: %s", e.StatusCode, e.Message)
}

// doJSON performs an HTTP request with an optional JSON body and decodes the
// response into result.
func (c *HTTPClient) doJSON(ctx context.Context, method, path string, body any, result any) error {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request body: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("performing request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var errResp struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(respBody, &errResp) == nil && errResp.Error != "" {
			return &APIError{StatusCode: resp.StatusCode, Message: errResp.Error}
		}
		return &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(respBody))}
	}

	if result != nil {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}
	return nil
}
