// Package httpapi is the HTTP+JSON client of the fieldkit remote API.
package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mesh-intelligence/fieldkit/pkg/types"
)

// DefaultTimeout bounds a single request when no client is supplied.
const DefaultTimeout = 30 * time.Second

var _ types.RemoteAPI = (*Client)(nil)

// ErrorBody is the JSON shape of every non-2xx response.
type ErrorBody struct {
	Error string `json:"error"`
}

// Client talks to a fieldkit server rooted at baseURL.
type Client struct {
	baseURL string
	http    *http.Client
	log     *zap.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the underlying *http.Client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.http = hc }
}

// WithTimeout sets the per-request timeout of the default client.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.http.Timeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(log *zap.Logger) ClientOption {
	return func(c *Client) { c.log = log }
}

// NewClient returns a client for baseURL, e.g. "http://localhost:8080".
func NewClient(baseURL string, opts ...ClientOption) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid api url %q", baseURL)
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: DefaultTimeout},
		log:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) ListFields(ctx context.Context) ([]types.FieldDefinition, error) {
	var out []types.FieldDefinition
	if err := c.do(ctx, "list fields", http.MethodGet, "/api/fields", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) CreateField(ctx context.Context, in types.FieldInput) (types.FieldDefinition, error) {
	var out types.FieldDefinition
	err := c.do(ctx, "create field", http.MethodPost, "/api/fields", in, &out)
	return out, err
}

func (c *Client) UpdateField(ctx context.Context, id string, in types.FieldInput) (types.FieldDefinition, error) {
	var out types.FieldDefinition
	err := c.do(ctx, "update field", http.MethodPut, "/api/fields/"+url.PathEscape(id), in, &out)
	return out, err
}

func (c *Client) DeleteField(ctx context.Context, id string) error {
	return c.do(ctx, "delete field", http.MethodDelete, "/api/fields/"+url.PathEscape(id), nil, nil)
}

func (c *Client) CreateOption(ctx context.Context, in types.OptionInput) (types.FieldOption, error) {
	var out types.FieldOption
	err := c.do(ctx, "create option", http.MethodPost, "/api/options", in, &out)
	return out, err
}

func (c *Client) DeleteOption(ctx context.Context, id string) error {
	return c.do(ctx, "delete option", http.MethodDelete, "/api/options/"+url.PathEscape(id), nil, nil)
}

func (c *Client) GetValues(ctx context.Context, subjectID string) (types.Snapshot, error) {
	var out types.Snapshot
	err := c.do(ctx, "get values", http.MethodGet, valuesPath(subjectID), nil, &out)
	return out, err
}

func (c *Client) SaveValues(ctx context.Context, payload types.SavePayload) (types.Snapshot, error) {
	var out types.Snapshot
	err := c.do(ctx, "save values", http.MethodPut, valuesPath(payload.SubjectID), payload, &out)
	return out, err
}

func valuesPath(subjectID string) string {
	return "/api/subjects/" + url.PathEscape(subjectID) + "/values"
}

// do sends one request. Transport failures and non-2xx statuses come back as
// *types.RemoteError.
func (c *Client) do(ctx context.Context, op, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("%s: encode request: %w", op, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return &types.RemoteError{Op: op, Err: err}
	}
	defer resp.Body.Close()
	c.log.Debug("api request",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &types.RemoteError{Op: op, StatusCode: resp.StatusCode, Message: readError(resp.Body)}
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &types.RemoteError{Op: op, StatusCode: resp.StatusCode, Message: "malformed response", Err: err}
	}
	return nil
}

func readError(r io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(r, 4096))
	var eb ErrorBody
	if json.Unmarshal(data, &eb) == nil && eb.Error != "" {
		return eb.Error
	}
	return strings.TrimSpace(string(data))
}
