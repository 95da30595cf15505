package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/AuthStream/backend/internal/browser"
	"github.com/GriffinCanCode/AuthStream/backend/internal/browser/browsertest"
	"github.com/GriffinCanCode/AuthStream/backend/internal/domain/session"
	"github.com/GriffinCanCode/AuthStream/backend/internal/domain/token"
	"github.com/GriffinCanCode/AuthStream/backend/internal/infrastructure/monitoring"
)

type mockSessions struct {
	mock.Mock
}

func (m *mockSessions) StartSession(ctx context.Context, userID int64) (*session.Session, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*session.Session), args.Error(1)
}

func (m *mockSessions) Get(sessionID string) (*session.Session, bool) {
	args := m.Called(sessionID)
	if args.Get(0) == nil {
		return nil, args.Bool(1)
	}
	return args.Get(0).(*session.Session), args.Bool(1)
}

func (m *mockSessions) CloseSession(sessionID string) bool {
	return m.Called(sessionID).Bool(0)
}

func (m *mockSessions) Stats() session.Stats {
	return m.Called().Get(0).(session.Stats)
}

func (m *mockSessions) FetchToken(ctx context.Context, userID int64, creds browser.Credentials) (token.Token, error) {
	args := m.Called(ctx, userID, creds)
	return args.Get(0).(token.Token), args.Error(1)
}

type mockTokens struct {
	mock.Mock
}

func (m *mockTokens) Get(userID int64) (token.Record, bool) {
	args := m.Called(userID)
	return args.Get(0).(token.Record), args.Bool(1)
}

func (m *mockTokens) Set(userID int64, tok token.Token) token.Record {
	return m.Called(userID, tok).Get(0).(token.Record)
}

func setupRouter(t *testing.T) (*gin.Engine, *mockSessions, *mockTokens, *Handlers) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	sessions := new(mockSessions)
	tokens := new(mockTokens)
	h := NewHandlers(sessions, tokens, monitoring.NewMetrics(), nil)

	router := gin.New()
	h.Register(router)
	return router, sessions, tokens, h
}

func newSession(t *testing.T, id string, userID int64) *session.Session {
	t.Helper()
	sess := session.New(id, userID, browsertest.New(), session.Config{
		AuthURL:  "https://oauth.example.com/authorize",
		Viewport: browser.Viewport{Width: 1280, Height: 720},
	}, session.Options{})
	t.Cleanup(sess.Close)
	return sess
}

func doRequest(router *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, sonic.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestCreateSession(t *testing.T) {
	router, sessions, _, _ := setupRouter(t)
	sess := newSession(t, "sess_01", 42)
	sessions.On("StartSession", mock.Anything, int64(42)).Return(sess, nil).Once()

	w := doRequest(router, "POST", "/auth/sessions", `{"user_id":42}`)

	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "sess_01", body["session_id"])
	assert.EqualValues(t, 1280, body["viewport_width"])
	assert.EqualValues(t, 720, body["viewport_height"])
	sessions.AssertExpectations(t)
}

func TestCreateSessionErrors(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		startErr   error
		wantStatus int
	}{
		{
			name:       "malformed body",
			body:       `{"user_id":`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "missing user id",
			body:       `{}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "negative user id",
			body:       `{"user_id":-1}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "launch failure",
			body:       `{"user_id":42}`,
			startErr:   fmt.Errorf("%w: %w", session.ErrLaunch, errors.New("chrome not found")),
			wantStatus: http.StatusBadGateway,
		},
		{
			name:       "unexpected failure",
			body:       `{"user_id":42}`,
			startErr:   errors.New("boom"),
			wantStatus: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router, sessions, _, _ := setupRouter(t)
			if tt.startErr != nil {
				sessions.On("StartSession", mock.Anything, int64(42)).Return(nil, tt.startErr).Once()
			}

			w := doRequest(router, "POST", "/auth/sessions", tt.body)

			assert.Equal(t, tt.wantStatus, w.Code)
			assert.NotEmpty(t, decode(t, w)["error"])
			sessions.AssertExpectations(t)
		})
	}
}

func TestGetSession(t *testing.T) {
	router, sessions, _, _ := setupRouter(t)
	sess := newSession(t, "sess_01", 42)
	sessions.On("Get", "sess_01").Return(sess, true)
	sessions.On("Get", "sess_missing").Return(nil, false)

	w := doRequest(router, "GET", "/auth/sessions/sess_01", "")
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "sess_01", body["session_id"])
	assert.EqualValues(t, 42, body["user_id"])
	assert.Equal(t, "starting", body["state"])
	assert.Equal(t, false, body["has_token"])

	w = doRequest(router, "GET", "/auth/sessions/sess_missing", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "session not found or expired", decode(t, w)["error"])
}

func TestCloseSession(t *testing.T) {
	router, sessions, _, _ := setupRouter(t)
	sessions.On("CloseSession", "sess_01").Return(true).Once()
	sessions.On("CloseSession", "sess_01").Return(false).Once()

	w := doRequest(router, "POST", "/auth/sessions/sess_01/close", "")
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "closed", body["status"])
	assert.Equal(t, "sess_01", body["session_id"])

	w = doRequest(router, "POST", "/auth/sessions/sess_01/close", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	sessions.AssertExpectations(t)
}

func TestGetToken(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)

	tests := []struct {
		name       string
		userID     string
		record     *token.Record
		wantStatus int
		wantBody   map[string]any
	}{
		{
			name:   "with expiry",
			userID: "42",
			record: &token.Record{
				Token:     token.Token{AccessToken: "ABC123"},
				CreatedAt: now.Add(-10 * time.Minute),
				ExpiresAt: now.Add(50 * time.Minute),
			},
			wantStatus: http.StatusOK,
			wantBody:   map[string]any{"access_token": "ABC123", "expires_in": float64(3000)},
		},
		{
			name:   "without expiry",
			userID: "42",
			record: &token.Record{
				Token:     token.Token{AccessToken: "ABC123"},
				CreatedAt: now,
			},
			wantStatus: http.StatusOK,
			wantBody:   map[string]any{"access_token": "ABC123"},
		},
		{
			name:   "at expiry omits expires_in",
			userID: "42",
			record: &token.Record{
				Token:     token.Token{AccessToken: "ABC123"},
				CreatedAt: now.Add(-time.Hour),
				ExpiresAt: now,
			},
			wantStatus: http.StatusOK,
			wantBody:   map[string]any{"access_token": "ABC123"},
		},
		{
			name:       "not stored",
			userID:     "42",
			wantStatus: http.StatusNotFound,
		},
		{
			name:       "invalid user id",
			userID:     "abc",
			wantStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router, _, tokens, h := setupRouter(t)
			h.now = func() time.Time { return now }
			if tt.record != nil {
				tokens.On("Get", int64(42)).Return(*tt.record, true)
			} else {
				tokens.On("Get", int64(42)).Return(token.Record{}, false)
			}

			w := doRequest(router, "GET", "/auth/tokens/"+tt.userID, "")

			assert.Equal(t, tt.wantStatus, w.Code)
			if tt.wantBody != nil {
				assert.Equal(t, tt.wantBody, decode(t, w))
			}
		})
	}
}

func TestFetchToken(t *testing.T) {
	router, sessions, tokens, _ := setupRouter(t)

	expires := 31536000
	tok := token.Token{AccessToken: "AUTO", ExpiresIn: &expires}
	creds := browser.Credentials{Username: "alice", Password: "secret", OTP: "123456"}
	sessions.On("FetchToken", mock.Anything, int64(42), creds).Return(tok, nil).Once()
	tokens.On("Set", int64(42), tok).Return(token.Record{Token: tok}).Once()

	w := doRequest(router, "POST", "/auth/tokens",
		`{"user_id":42,"username":"alice","password":"secret","otp":"123456"}`)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, map[string]any{
		"access_token": "AUTO",
		"expires_in":   float64(31536000),
	}, decode(t, w))
	sessions.AssertExpectations(t)
	tokens.AssertExpectations(t)
}

func TestFetchTokenErrors(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		fetchErr   error
		wantStatus int
	}{
		{
			name:       "missing password",
			body:       `{"user_id":42,"username":"alice"}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "short username",
			body:       `{"user_id":42,"username":"al","password":"secret"}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "missing user id",
			body:       `{"username":"alice","password":"secret"}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "rejected credentials",
			body:       `{"user_id":42,"username":"alice","password":"secret"}`,
			fetchErr:   session.ErrInvalidCredentials,
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "no token before deadline",
			body:       `{"user_id":42,"username":"alice","password":"secret"}`,
			fetchErr:   session.ErrTokenTimeout,
			wantStatus: http.StatusGatewayTimeout,
		},
		{
			name:       "launch failure",
			body:       `{"user_id":42,"username":"alice","password":"secret"}`,
			fetchErr:   fmt.Errorf("%w: %w", session.ErrLaunch, errors.New("chrome not found")),
			wantStatus: http.StatusBadGateway,
		},
		{
			name:       "unexpected failure",
			body:       `{"user_id":42,"username":"alice","password":"secret"}`,
			fetchErr:   errors.New("sign in: detached frame"),
			wantStatus: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router, sessions, tokens, _ := setupRouter(t)
			if tt.fetchErr != nil {
				sessions.On("FetchToken", mock.Anything, int64(42), mock.Anything).
					Return(token.Token{}, tt.fetchErr).Once()
			}

			w := doRequest(router, "POST", "/auth/tokens", tt.body)

			assert.Equal(t, tt.wantStatus, w.Code)
			assert.NotEmpty(t, decode(t, w)["error"])
			sessions.AssertExpectations(t)
			tokens.AssertNotCalled(t, "Set", mock.Anything, mock.Anything)
		})
	}
}

func TestHealth(t *testing.T) {
	router, sessions, _, _ := setupRouter(t)
	sessions.On("Stats").Return(session.Stats{Sessions: 2, Active: 1, WithToken: 1})

	w := doRequest(router, "GET", "/health", "")

	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, map[string]any{
		"sessions":   float64(2),
		"active":     float64(1),
		"with_token": float64(1),
	}, body["sessions"])
	assert.Contains(t, body["metrics"], "uptime_seconds")
}
