package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client provides HTTP client functionality to communicate with the applauncher daemon
type Client struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// Config holds client configuration
type Config struct {
	BaseURL string
	Timeout time.Duration
	Logger  *slog.Logger // Optional logger for client operations
}

const defaultBaseURL = "http://127.0.0.1:8765/api"

// DefaultConfig returns default client configuration
func DefaultConfig() Config {
	return Config{
		BaseURL: defaultBaseURL,
		Timeout: 30 * time.Second,
	}
}

// APIError is a non-2xx answer from the daemon.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (HTTP %d): %s", e.StatusCode, e.Message)
}

// IsNotFound reports whether err is a 404 from the daemon.
func IsNotFound(err error) bool {
	var ae *APIError
	return errors.As(err, &ae) && ae.StatusCode == http.StatusNotFound
}

// New creates a new applauncher API client
func New(config Config) *Client {
	if config.BaseURL == "" {
		config.BaseURL = defaultBaseURL
	}
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Client{
		baseURL: strings.TrimRight(config.BaseURL, "/"),
		logger:  config.Logger,
		client:  &http.Client{Timeout: config.Timeout},
	}
}

// IsReachable checks if the daemon is running and reachable
func (c *Client) IsReachable(ctx context.Context) bool {
	var st Status
	if err := c.doJSON(ctx, http.MethodGet, "/status", nil, &st); err != nil {
		c.logger.Debug("Daemon unreachable", "error", err)
		return false
	}
	return true
}

func profilePath(name string, rest ...string) string {
	p := "/profiles/" + url.PathEscape(name)
	for _, r := range rest {
		p += "/" + r
	}
	return p
}

func (c *Client) Profiles(ctx context.Context) ([]Profile, error) {
	var out []Profile
	err := c.doJSON(ctx, http.MethodGet, "/profiles", nil, &out)
	return out, err
}

func (c *Client) Profile(ctx context.Context, name string) (Profile, error) {
	var out Profile
	err := c.doJSON(ctx, http.MethodGet, profilePath(name), nil, &out)
	return out, err
}

// Detect is Profile with every entry probed on the host; see
// Application.DetectedBy.
func (c *Client) Detect(ctx context.Context, name string) (Profile, error) {
	var out Profile
	err := c.doJSON(ctx, http.MethodGet, profilePath(name)+"?detect=true", nil, &out)
	return out, err
}

func (c *Client) AddProfile(ctx context.Context, name string) error {
	return c.doJSON(ctx, http.MethodPost, "/profiles", map[string]string{"name": name}, nil)
}

func (c *Client) RenameProfile(ctx context.Context, from, to string) error {
	return c.doJSON(ctx, http.MethodPatch, profilePath(from), map[string]string{"name": to}, nil)
}

// RemoveProfile stops the profile's children if needed and deletes it.
func (c *Client) RemoveProfile(ctx context.Context, name string) error {
	return c.doJSON(ctx, http.MethodDelete, profilePath(name), nil, nil)
}

// AddApp appends an application and returns its index.
func (c *Client) AddApp(ctx context.Context, profile string, app AppRequest) (int, error) {
	var out struct {
		Index int `json:"index"`
	}
	err := c.doJSON(ctx, http.MethodPost, profilePath(profile, "apps"), app, &out)
	return out.Index, err
}

func (c *Client) UpdateApp(ctx context.Context, profile string, index int, u AppUpdate) (Application, error) {
	var out Application
	err := c.doJSON(ctx, http.MethodPut, profilePath(profile, "apps", strconv.Itoa(index)), u, &out)
	return out, err
}

func (c *Client) RemoveApp(ctx context.Context, profile string, index int) error {
	return c.doJSON(ctx, http.MethodDelete, profilePath(profile, "apps", strconv.Itoa(index)), nil, nil)
}

func (c *Client) MoveApp(ctx context.Context, profile string, from, to int) error {
	return c.doJSON(ctx, http.MethodPost, profilePath(profile, "apps", strconv.Itoa(from), "move"), map[string]int{"to": to}, nil)
}

// Launch toggles the profile: stops it when running, launches it otherwise.
func (c *Client) Launch(ctx context.Context, name string) (Result, error) {
	var out Result
	err := c.doJSON(ctx, http.MethodPost, profilePath(name, "launch"), nil, &out)
	return out, err
}

func (c *Client) Stop(ctx context.Context, name string) (Result, error) {
	var out Result
	err := c.doJSON(ctx, http.MethodPost, profilePath(name, "stop"), nil, &out)
	return out, err
}

func (c *Client) StopApp(ctx context.Context, profile string, index int) (Result, error) {
	var out Result
	err := c.doJSON(ctx, http.MethodPost, profilePath(profile, "apps", strconv.Itoa(index), "stop"), nil, &out)
	return out, err
}

func (c *Client) StopAll(ctx context.Context) ([]Result, error) {
	var out []Result
	err := c.doJSON(ctx, http.MethodPost, "/stop-all", nil, &out)
	return out, err
}

func (c *Client) Status(ctx context.Context) (Status, error) {
	var out Status
	err := c.doJSON(ctx, http.MethodGet, "/status", nil, &out)
	return out, err
}

func (c *Client) History(ctx context.Context, limit int) ([]HistoryEvent, error) {
	var out []HistoryEvent
	err := c.doJSON(ctx, http.MethodGet, "/history?limit="+strconv.Itoa(limit), nil, &out)
	return out, err
}

func (c *Client) Resources(ctx context.Context) ([]Resource, error) {
	var out []Resource
	err := c.doJSON(ctx, http.MethodGet, "/resources", nil, &out)
	return out, err
}

// Events follows the daemon's event stream and calls fn for every event
// until ctx is done, the stream ends, or fn returns an error.
func (c *Client) Events(ctx context.Context, fn func(Event) error) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/events", nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	// the stream outlives the request timeout
	stream := &http.Client{Transport: c.client.Transport}
	resp, err := stream.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return c.apiError(resp)
	}

	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		line := sc.Text()
		data, ok := strings.CutPrefix(line, "data:")
		if !ok {
			continue
		}
		var ev Event
		if err := json.Unmarshal([]byte(strings.TrimSpace(data)), &ev); err != nil {
			c.logger.Debug("Skipping malformed event", "error", err)
			continue
		}
		if err := fn(ev); err != nil {
			return err
		}
	}
	if err := sc.Err(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("read events: %w", err)
	}
	return ctx.Err()
}

// doJSON sends body (when non-nil) as JSON and decodes a 2xx answer into out.
func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) error {
	var rdr io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		rdr = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rdr)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug("HTTP request failed", "error", err, "method", method, "path", path)
		return fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return c.apiError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// apiError handles HTTP error responses
func (c *Client) apiError(resp *http.Response) error {
	var er ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil || er.Error == "" {
		return &APIError{StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
	}
	c.logger.Debug("API request failed", "error", er.Error, "status", resp.StatusCode)
	return &APIError{StatusCode: resp.StatusCode, Message: er.Error}
}
