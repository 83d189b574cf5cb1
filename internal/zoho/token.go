package zoho

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	apperrors "github.com/pmgasset/td-wifi-api/pkg/errors"
)

// Surface identifies one of the independent Zoho product APIs. Each has its
// own auth scope, refresh token, and data model.
type Surface string

const (
	SurfaceCommerce  Surface = "commerce"
	SurfaceInventory Surface = "inventory"
	SurfaceCRM       Surface = "crm"
	SurfaceDesk      Surface = "desk"
)

// refreshMargin is how long before expiry a cached token is considered
// stale. Zoho tokens live for an hour; refreshing a minute early avoids
// races between the expiry check and the outbound call.
const refreshMargin = 60 * time.Second

// Credentials holds the OAuth client and refresh token for one surface.
type Credentials struct {
	ClientID     string
	ClientSecret string
	RefreshToken string
}

type accessToken struct {
	value     string
	expiresAt time.Time
}

func (t accessToken) valid(now time.Time) bool {
	return t.value != "" && now.Before(t.expiresAt.Add(-refreshMargin))
}

// Doer executes an HTTP request. Both httpclient.Client and
// httpclient.CircuitBreakerClient satisfy this.
type Doer interface {
	Do(ctx context.Context, req *http.Request) (*http.Response, error)
}

// TokenManager acquires and caches OAuth access tokens per surface.
// Tokens are owned exclusively by the manager; callers receive copies of
// the token value, never a shared reference.
//
// Concurrent cache misses for the same surface coalesce into a single
// refresh-token exchange: the accounts endpoint rate-limits aggressively,
// and parallel refresh storms were an observed failure mode.
type TokenManager struct {
	accountsURL string
	creds       map[Surface]Credentials
	http        Doer
	logger      *slog.Logger

	mu     sync.Mutex
	tokens map[Surface]accessToken
	group  singleflight.Group

	// now is injectable for tests.
	now func() time.Time
}

// NewTokenManager creates a token manager for the given per-surface credentials.
func NewTokenManager(accountsURL string, creds map[Surface]Credentials, httpClient Doer, logger *slog.Logger) *TokenManager {
	return &TokenManager{
		accountsURL: strings.TrimRight(accountsURL, "/"),
		creds:       creds,
		http:        httpClient,
		logger:      logger,
		tokens:      make(map[Surface]accessToken),
		now:         time.Now,
	}
}

// AccessToken returns a valid access token for the surface, refreshing it
// through the vendor's OAuth endpoint when the cached one is absent or
// within the refresh margin of expiry. A failed refresh is surfaced as a
// vendor auth error and never retried internally: repeated exchanges
// against a revoked refresh token only burn quota.
func (m *TokenManager) AccessToken(ctx context.Context, surface Surface) (string, error) {
	m.mu.Lock()
	tok, ok := m.tokens[surface]
	m.mu.Unlock()
	if ok && tok.valid(m.now()) {
		return tok.value, nil
	}

	value, err, _ := m.group.Do(string(surface), func() (any, error) {
		// Re-check under the flight: a concurrent caller may have refreshed
		// while this one waited on the group.
		m.mu.Lock()
		tok, ok := m.tokens[surface]
		m.mu.Unlock()
		if ok && tok.valid(m.now()) {
			return tok.value, nil
		}

		fresh, err := m.refresh(ctx, surface)
		if err != nil {
			return "", err
		}

		m.mu.Lock()
		m.tokens[surface] = fresh
		m.mu.Unlock()

		return fresh.value, nil
	})
	if err != nil {
		return "", err
	}
	return value.(string), nil
}

// Invalidate drops the cached token for a surface, forcing the next call to
// refresh. Used when a vendor call comes back 401 despite a cached token.
func (m *TokenManager) Invalidate(surface Surface) {
	m.mu.Lock()
	delete(m.tokens, surface)
	m.mu.Unlock()
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
	Error       string `json:"error"`
}

func (m *TokenManager) refresh(ctx context.Context, surface Surface) (accessToken, error) {
	creds, ok := m.creds[surface]
	if !ok || creds.RefreshToken == "" {
		return accessToken{}, apperrors.VendorAuth(string(surface), fmt.Errorf("no credentials configured"))
	}

	form := url.Values{
		"grant_type":    {"refresh_token"},
		"client_id":     {creds.ClientID},
		"client_secret": {creds.ClientSecret},
		"refresh_token": {creds.RefreshToken},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		m.accountsURL+"/oauth/v2/token", strings.NewReader(form.Encode()))
	if err != nil {
		return accessToken{}, fmt.Errorf("create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := m.http.Do(ctx, req)
	if err != nil {
		return accessToken{}, apperrors.VendorAuth(string(surface), err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return accessToken{}, apperrors.VendorAuth(string(surface), fmt.Errorf("read token response: %w", err))
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return accessToken{}, apperrors.VendorAuth(string(surface),
			fmt.Errorf("parse token response (http %d): %w", resp.StatusCode, err))
	}

	// Zoho returns HTTP 200 with an "error" field for invalid grants.
	if resp.StatusCode != http.StatusOK || tr.Error != "" || tr.AccessToken == "" {
		return accessToken{}, apperrors.VendorAuth(string(surface),
			fmt.Errorf("token exchange rejected (http %d): %s", resp.StatusCode, tr.Error))
	}

	expiresIn := tr.ExpiresIn
	if expiresIn <= 0 {
		expiresIn = 3600
	}

	m.logger.InfoContext(ctx, "access token refreshed",
		slog.String("surface", string(surface)),
		slog.Int("expires_in", expiresIn),
	)

	return accessToken{
		value:     tr.AccessToken,
		expiresAt: m.now().Add(time.Duration(expiresIn) * time.Second),
	}, nil
}
