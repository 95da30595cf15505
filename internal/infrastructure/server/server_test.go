package server

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/AuthStream/backend/internal/browser"
	"github.com/GriffinCanCode/AuthStream/backend/internal/browser/browsertest"
	"github.com/GriffinCanCode/AuthStream/backend/internal/infrastructure/config"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Browser.ClientID = "client-1"
	cfg.Session.PollInterval = 10 * time.Millisecond
	cfg.RateLimit.Enabled = false
	return cfg
}

func startServer(t *testing.T, cfg *config.Config) (*Server, *browsertest.Driver, *httptest.Server) {
	t.Helper()
	drv := browsertest.New()
	srv, err := NewServerWithDriver(cfg, drv.Factory(), nil)
	require.NoError(t, err)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		require.NoError(t, srv.Shutdown(context.Background()))
	})
	return srv, drv, ts
}

func postJSON(t *testing.T, url, body string) (int, map[string]any) {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	return resp.StatusCode, decodeBody(t, resp.Body)
}

func getJSON(t *testing.T, url string) (int, map[string]any) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	return resp.StatusCode, decodeBody(t, resp.Body)
}

func decodeBody(t *testing.T, r io.Reader) map[string]any {
	t.Helper()
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, sonic.Unmarshal(data, &out))
	return out
}

func TestNewServerRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Browser.ViewportWidth = 0

	_, err := NewServerWithDriver(cfg, browsertest.New().Factory(), nil)
	assert.Error(t, err)
}

func TestSessionLifecycle(t *testing.T) {
	_, drv, ts := startServer(t, testConfig())

	status, body := postJSON(t, ts.URL+"/auth/sessions", `{"user_id":42}`)
	require.Equal(t, http.StatusOK, status)
	sessionID := body["session_id"].(string)
	assert.True(t, strings.HasPrefix(sessionID, "sess_"))
	assert.EqualValues(t, 1280, body["viewport_width"])
	assert.EqualValues(t, 720, body["viewport_height"])

	assert.Equal(t, "https://oauth.yandex.ru/authorize?client_id=client-1&response_type=token", drv.URL())
	assert.Equal(t, browser.Viewport{Width: 1280, Height: 720}, drv.Viewport())

	status, body = getJSON(t, ts.URL+"/auth/sessions/"+sessionID)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "active", body["state"])

	status, _ = getJSON(t, ts.URL+"/auth/tokens/42")
	assert.Equal(t, http.StatusNotFound, status)

	drv.SetURL("https://music.example.com/#access_token=ABC123&token_type=bearer&expires_in=3600")

	require.Eventually(t, func() bool {
		status, _ := getJSON(t, ts.URL+"/auth/tokens/42")
		return status == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	_, body = getJSON(t, ts.URL+"/auth/tokens/42")
	assert.Equal(t, "ABC123", body["access_token"])
	assert.InDelta(t, 3600, body["expires_in"], 2)

	status, body = postJSON(t, ts.URL+"/auth/sessions/"+sessionID+"/close", "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "closed", body["status"])
	assert.Equal(t, 1, drv.Quits())

	status, _ = getJSON(t, ts.URL+"/auth/sessions/"+sessionID)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestLaunchFailureIsBadGateway(t *testing.T) {
	_, drv, ts := startServer(t, testConfig())
	drv.LaunchErr = browsertest.ErrInjected

	status, body := postJSON(t, ts.URL+"/auth/sessions", `{"user_id":42}`)
	assert.Equal(t, http.StatusBadGateway, status)
	assert.NotEmpty(t, body["error"])
}

func TestFetchTokenStoresToken(t *testing.T) {
	_, drv, ts := startServer(t, testConfig())
	drv.LoginRedirect = "https://music.example.com/#access_token=AUTO&token_type=bearer&expires_in=3600"

	status, body := postJSON(t, ts.URL+"/auth/tokens",
		`{"user_id":42,"username":"alice","password":"secret"}`)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "AUTO", body["access_token"])
	assert.EqualValues(t, 3600, body["expires_in"])
	assert.Equal(t, []browser.Credentials{{Username: "alice", Password: "secret"}}, drv.Logins())
	assert.Equal(t, 1, drv.Quits())

	status, body = getJSON(t, ts.URL+"/auth/tokens/42")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "AUTO", body["access_token"])
}

func TestFetchTokenRejectedCredentials(t *testing.T) {
	_, drv, ts := startServer(t, testConfig())
	drv.LoginErr = browser.ErrInvalidCredentials

	status, body := postJSON(t, ts.URL+"/auth/tokens",
		`{"user_id":42,"username":"alice","password":"wrong"}`)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.NotEmpty(t, body["error"])

	status, _ = getJSON(t, ts.URL+"/auth/tokens/42")
	assert.Equal(t, http.StatusNotFound, status)
}

func TestTokenWebhook(t *testing.T) {
	var hits atomic.Int32
	received := make(chan map[string]any, 1)
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		received <- decodeBody(t, r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer hook.Close()

	cfg := testConfig()
	cfg.Tokens.WebhookURL = hook.URL
	_, drv, ts := startServer(t, cfg)

	_, body := postJSON(t, ts.URL+"/auth/sessions", `{"user_id":7}`)
	drv.SetURL("https://music.example.com/#access_token=XYZ")

	select {
	case p := <-received:
		assert.EqualValues(t, 7, p["user_id"])
		assert.Equal(t, body["session_id"], p["session_id"])
		assert.Equal(t, "XYZ", p["access_token"])
		assert.NotContains(t, p, "expires_in")
	case <-time.After(2 * time.Second):
		t.Fatal("webhook not called")
	}
	assert.Equal(t, int32(1), hits.Load())
}

func TestObservabilityEndpoints(t *testing.T) {
	_, _, ts := startServer(t, testConfig())

	status, body := getJSON(t, ts.URL+"/health")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "healthy", body["status"])

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(data), "authstream_http_requests_total")
	assert.NotEmpty(t, resp.Header.Get("X-Trace-ID"))
}
