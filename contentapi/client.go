// Package contentapi fetches post and dialog content from the platform API
// and reduces it to the videos the coordinator caches.
package contentapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/wolfeidau/boosty-companion/telemetry"
)

const (
	// DefaultBaseURL is the platform API root.
	DefaultBaseURL = "https://api.boosty.to/v1/"

	// DefaultTimeout is the default timeout for upstream requests.
	DefaultTimeout = 30 * time.Second

	// upstreamName labels upstream fetch metrics.
	upstreamName = "boosty"

	dialogLimit  = 300
	dialogOffset = 9007199254740991 // largest integer a JS client can represent exactly

	maxErrorBody = 4096
)

// ErrNotFound is returned when a post or dialog does not exist.
var ErrNotFound = errors.New("contentapi: not found")

// StatusError is returned for non-2xx responses.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream returned %d: %s", e.StatusCode, e.Body)
}

// Unwrap maps 404 to ErrNotFound.
func (e *StatusError) Unwrap() error {
	if e.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	return nil
}

// Client performs authenticated GETs against the platform API.
type Client struct {
	baseURL string
	client  *http.Client
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithBaseURL sets the API root.
func WithBaseURL(u string) ClientOption {
	return func(c *Client) {
		c.baseURL = strings.TrimSuffix(u, "/") + "/"
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) {
		c.client = client
	}
}

// NewClient creates a new API client. Requests are recorded as upstream
// fetch metrics.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		baseURL: DefaultBaseURL,
		client: &http.Client{
			Timeout:   DefaultTimeout,
			Transport: telemetry.NewInstrumentedTransport(nil, upstreamName, telemetry.WithEndpoint(endpointOf)),
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// endpointOf labels upstream metrics by content kind.
func endpointOf(req *http.Request) string {
	switch {
	case strings.Contains(req.URL.Path, "/dialog/"):
		return string(Dialog)
	case strings.Contains(req.URL.Path, "/blog/"):
		return string(Post)
	default:
		return "other"
	}
}

// Blog fetches the content blocks of one post.
func (c *Client) Blog(ctx context.Context, blogName, postID, token string) ([]Block, error) {
	endpoint := fmt.Sprintf("blog/%s/post/%s?component_limit=0", url.PathEscape(blogName), url.PathEscape(postID))

	var resp blogResponse
	if err := c.get(ctx, endpoint, token, &resp); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// Dialog fetches the content blocks of every message in a dialog, flattened
// in message order.
func (c *Client) Dialog(ctx context.Context, dialogID, token string) ([]Block, error) {
	endpoint := fmt.Sprintf("dialog/%s/message/?limit=%d&reverse=true&offset=%d", url.PathEscape(dialogID), dialogLimit, dialogOffset)

	var resp dialogResponse
	if err := c.get(ctx, endpoint, token, &resp); err != nil {
		return nil, err
	}

	var blocks []Block
	for _, msg := range resp.Data {
		blocks = append(blocks, msg.Data...)
	}
	return blocks, nil
}

// Fetch dispatches on the metadata type.
func (c *Client) Fetch(ctx context.Context, md Metadata, token string) ([]Block, error) {
	if err := md.Validate(); err != nil {
		return nil, err
	}
	if md.Type == Dialog {
		return c.Dialog(ctx, md.ID, token)
	}
	return c.Blog(ctx, md.BlogName, md.ID, token)
}

func (c *Client) get(ctx context.Context, endpoint, token string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+endpoint, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("performing request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
