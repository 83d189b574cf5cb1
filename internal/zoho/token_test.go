package zoho

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/pmgasset/td-wifi-api/pkg/errors"
)

// plainDoer adapts http.Client to the Doer interface for tests.
type plainDoer struct {
	c *http.Client
}

func (d plainDoer) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	return d.c.Do(req.WithContext(ctx))
}

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testCredentials() map[Surface]Credentials {
	return map[Surface]Credentials{
		SurfaceInventory: {ClientID: "cid", ClientSecret: "secret", RefreshToken: "refresh-inv"},
		SurfaceCommerce:  {ClientID: "cid", ClientSecret: "secret", RefreshToken: "refresh-com"},
	}
}

func TestAccessToken_RefreshAndCache(t *testing.T) {
	var refreshes atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/oauth/v2/token", r.URL.Path)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "refresh_token", r.Form.Get("grant_type"))

		n := refreshes.Add(1)
		fmt.Fprintf(w, `{"access_token":"tok-%d","expires_in":3600}`, n)
	}))
	defer srv.Close()

	m := NewTokenManager(srv.URL, testCredentials(), plainDoer{srv.Client()}, newTestLogger())

	tok, err := m.AccessToken(context.Background(), SurfaceInventory)
	require.NoError(t, err)
	assert.Equal(t, "tok-1", tok)

	// Second call hits the cache.
	tok, err = m.AccessToken(context.Background(), SurfaceInventory)
	require.NoError(t, err)
	assert.Equal(t, "tok-1", tok)
	assert.Equal(t, int64(1), refreshes.Load())
}

func TestAccessToken_PerSurfaceIsolation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		fmt.Fprintf(w, `{"access_token":"tok-%s","expires_in":3600}`, r.Form.Get("refresh_token"))
	}))
	defer srv.Close()

	m := NewTokenManager(srv.URL, testCredentials(), plainDoer{srv.Client()}, newTestLogger())

	inv, err := m.AccessToken(context.Background(), SurfaceInventory)
	require.NoError(t, err)
	com, err := m.AccessToken(context.Background(), SurfaceCommerce)
	require.NoError(t, err)

	assert.Equal(t, "tok-refresh-inv", inv)
	assert.Equal(t, "tok-refresh-com", com)
}

// Concurrent cache misses for one surface must coalesce into a single
// refresh exchange.
func TestAccessToken_CoalescesConcurrentRefreshes(t *testing.T) {
	var refreshes atomic.Int64
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		refreshes.Add(1)
		<-release
		fmt.Fprint(w, `{"access_token":"tok-shared","expires_in":3600}`)
	}))
	defer srv.Close()

	m := NewTokenManager(srv.URL, testCredentials(), plainDoer{srv.Client()}, newTestLogger())

	const callers = 20
	var wg sync.WaitGroup
	tokens := make([]string, callers)
	errs := make([]error, callers)

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tokens[i], errs[i] = m.AccessToken(context.Background(), SurfaceInventory)
		}(i)
	}

	// Give all callers time to pile onto the in-flight refresh, then let it
	// finish.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, "tok-shared", tokens[i])
	}
	assert.Equal(t, int64(1), refreshes.Load(), "all callers must share one refresh exchange")
}

func TestAccessToken_ZohoErrorInOKResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Zoho's accounts endpoint returns 200 with an error field.
		fmt.Fprint(w, `{"error":"invalid_code"}`)
	}))
	defer srv.Close()

	m := NewTokenManager(srv.URL, testCredentials(), plainDoer{srv.Client()}, newTestLogger())

	_, err := m.AccessToken(context.Background(), SurfaceInventory)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrVendorAuth))
	assert.Contains(t, err.Error(), "invalid_code")
}

func TestAccessToken_UnknownSurface(t *testing.T) {
	m := NewTokenManager("http://unused", testCredentials(), plainDoer{http.DefaultClient}, newTestLogger())

	_, err := m.AccessToken(context.Background(), SurfaceDesk)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrVendorAuth))
}

func TestAccessToken_ExpiredTokenRefreshes(t *testing.T) {
	var refreshes atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := refreshes.Add(1)
		fmt.Fprintf(w, `{"access_token":"tok-%d","expires_in":3600}`, n)
	}))
	defer srv.Close()

	m := NewTokenManager(srv.URL, testCredentials(), plainDoer{srv.Client()}, newTestLogger())

	_, err := m.AccessToken(context.Background(), SurfaceInventory)
	require.NoError(t, err)

	// Advance past expiry minus the refresh margin.
	m.now = func() time.Time { return time.Now().Add(time.Hour) }

	tok, err := m.AccessToken(context.Background(), SurfaceInventory)
	require.NoError(t, err)
	assert.Equal(t, "tok-2", tok)
	assert.Equal(t, int64(2), refreshes.Load())
}

func TestInvalidate_ForcesRefresh(t *testing.T) {
	var refreshes atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := refreshes.Add(1)
		fmt.Fprintf(w, `{"access_token":"tok-%d","expires_in":3600}`, n)
	}))
	defer srv.Close()

	m := NewTokenManager(srv.URL, testCredentials(), plainDoer{srv.Client()}, newTestLogger())

	_, err := m.AccessToken(context.Background(), SurfaceInventory)
	require.NoError(t, err)

	m.Invalidate(SurfaceInventory)

	tok, err := m.AccessToken(context.Background(), SurfaceInventory)
	require.NoError(t, err)
	assert.Equal(t, "tok-2", tok)
}
