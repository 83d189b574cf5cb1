package zoho

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
)

// SurfaceConfig is the versioned capability configuration for one vendor
// surface, resolved once at config load. Endpoint shapes differ between
// Zoho products; pinning them here replaces the old pattern of probing
// candidate paths per request.
type SurfaceConfig struct {
	// BaseURL is the versioned API root, e.g. "https://www.zohoapis.com/inventory/v1".
	BaseURL string
	// OrgParam is the query parameter carrying the organization/store
	// identifier ("organization_id" for Inventory/Books, empty when the
	// surface does not scope by organization).
	OrgParam string
	// OrgID is the organization/store identifier value.
	OrgID string
	// ContactsPath is the contact collection path for this surface
	// ("/contacts" on Inventory; Commerce calls them "/customers").
	ContactsPath string
}

// TokenSource provides access tokens per surface. *TokenManager satisfies it.
type TokenSource interface {
	AccessToken(ctx context.Context, surface Surface) (string, error)
}

// Client is a thin request wrapper for one vendor surface: it attaches
// auth, scopes requests to the organization, and normalizes vendor error
// shapes. Typed operations live on top of it (see inventory.go).
type Client struct {
	surface Surface
	cfg     SurfaceConfig
	tokens  TokenSource
	http    Doer
	logger  *slog.Logger
}

// NewClient creates a client for the given surface.
func NewClient(surface Surface, cfg SurfaceConfig, tokens TokenSource, httpClient Doer, logger *slog.Logger) *Client {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Client{
		surface: surface,
		cfg:     cfg,
		tokens:  tokens,
		http:    httpClient,
		logger:  logger,
	}
}

// Surface returns the vendor surface this client talks to.
func (c *Client) Surface() Surface { return c.surface }

// ContactsPath returns the configured contact collection path.
func (c *Client) ContactsPath() string {
	if c.cfg.ContactsPath != "" {
		return c.cfg.ContactsPath
	}
	return "/contacts"
}

// envelope is the common Zoho response wrapper. A zero code means success;
// several surfaces return HTTP 200 with a non-zero code on failure.
type envelope struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Do executes a vendor API request and returns the raw JSON body for typed
// decoding by the caller. The body is serialized exactly once. The raw
// response is always read as text first and only then JSON-parsed, so an
// empty or HTML body (seen during vendor outages) surfaces as a
// MalformedResponseError instead of a decode panic deeper in the stack.
func (c *Client) Do(ctx context.Context, method, path string, query url.Values, body any) (json.RawMessage, error) {
	token, err := c.tokens.AccessToken(ctx, c.surface)
	if err != nil {
		return nil, err
	}

	var reqBody io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal %s request: %w", c.surface, err)
		}
		reqBody = bytes.NewReader(payload)
	}

	u := c.cfg.BaseURL + path
	q := url.Values{}
	for k, vs := range query {
		q[k] = vs
	}
	if c.cfg.OrgParam != "" && c.cfg.OrgID != "" {
		q.Set(c.cfg.OrgParam, c.cfg.OrgID)
	}
	if len(q) > 0 {
		u += "?" + q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reqBody)
	if err != nil {
		return nil, fmt.Errorf("create %s request: %w", c.surface, err)
	}
	req.Header.Set("Authorization", "Zoho-oauthtoken "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", c.surface, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", c.surface, err)
	}

	if len(bytes.TrimSpace(raw)) == 0 {
		if resp.StatusCode >= 200 && resp.StatusCode < 300 && method == http.MethodDelete {
			return json.RawMessage("{}"), nil
		}
		return nil, &MalformedResponseError{
			Surface: c.surface,
			Snippet: "",
			Err:     fmt.Errorf("empty body (http %d)", resp.StatusCode),
		}
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, &MalformedResponseError{
			Surface: c.surface,
			Snippet: snippet(raw),
			Err:     err,
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 || env.Code != 0 {
		apiErr := &APIError{
			Surface:    c.surface,
			StatusCode: resp.StatusCode,
			Code:       env.Code,
			Message:    env.Message,
		}
		c.logger.WarnContext(ctx, "vendor api error",
			slog.String("surface", string(c.surface)),
			slog.String("method", method),
			slog.String("path", path),
			slog.Int("status", resp.StatusCode),
			slog.Int("vendor_code", env.Code),
			slog.String("vendor_message", env.Message),
		)
		return nil, apiErr
	}

	return json.RawMessage(raw), nil
}

func snippet(raw []byte) string {
	const max = 200
	s := string(raw)
	if len(s) > max {
		return s[:max]
	}
	return s
}
