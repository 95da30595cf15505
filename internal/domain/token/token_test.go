package token

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/AuthStream/backend/internal/browser"
)

func intPtr(v int) *int { return &v }

// jsonAmp is the JSON escape for '&' as Chromium writes it in log text
var jsonAmp = "\\" + "u0026"

func TestFromFragment(t *testing.T) {
	tests := []struct {
		name     string
		fragment string
		want     Token
		found    bool
	}{
		{
			name:     "token and expiry",
			fragment: "access_token=ABC123&expires_in=3600",
			want:     Token{AccessToken: "ABC123", ExpiresIn: intPtr(3600)},
			found:    true,
		},
		{
			name:     "leading hash",
			fragment: "#access_token=ABC123&token_type=bearer",
			want:     Token{AccessToken: "ABC123"},
			found:    true,
		},
		{
			name:     "invalid expiry",
			fragment: "access_token=ABC123&expires_in=soon",
			want:     Token{AccessToken: "ABC123"},
			found:    true,
		},
		{
			name:     "later expiry wins",
			fragment: "expires_in=10&access_token=ABC123&expires_in=20",
			want:     Token{AccessToken: "ABC123", ExpiresIn: intPtr(20)},
			found:    true,
		},
		{
			name:     "value containing equals",
			fragment: "access_token=a=b&expires_in=1",
			want:     Token{AccessToken: "a=b", ExpiresIn: intPtr(1)},
			found:    true,
		},
		{name: "no token", fragment: "state=xyz&expires_in=3600"},
		{name: "empty token", fragment: "access_token=&expires_in=3600"},
		{name: "empty", fragment: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := FromFragment(tt.fragment)
			assert.Equal(t, tt.found, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFromURL(t *testing.T) {
	tok, ok := FromURL("https://music.example.com/#access_token=ABC123&token_type=bearer&expires_in=3600")
	require.True(t, ok)
	assert.Equal(t, "ABC123", tok.AccessToken)
	assert.Equal(t, 3600, *tok.ExpiresIn)

	_, ok = FromURL("https://oauth.example.com/authorize?response_type=token&client_id=1")
	assert.False(t, ok)

	_, ok = FromURL("")
	assert.False(t, ok)
}

func TestFromLogs(t *testing.T) {
	t.Run("raw text with escaped ampersands", func(t *testing.T) {
		msg := `{"message":{"method":"Network.requestWillBeSent","params":{"documentURL":"https://x/#access_token=ABC123` +
			jsonAmp + `expires_in=3600"}}}`
		tok, ok := FromLogs([]browser.LogEntry{{Message: msg}})
		require.True(t, ok)
		assert.Equal(t, Token{AccessToken: "ABC123", ExpiresIn: intPtr(3600)}, tok)
	})

	t.Run("raw text without closing quote", func(t *testing.T) {
		tok, ok := FromLogs([]browser.LogEntry{{Message: "redirect to #access_token=ABC123&expires_in=3600"}})
		require.True(t, ok)
		assert.Equal(t, "ABC123", tok.AccessToken)
		assert.Equal(t, 3600, *tok.ExpiresIn)
	})

	t.Run("first matching entry wins", func(t *testing.T) {
		entries := []browser.LogEntry{
			{Message: `{"message":{"method":"Page.frameNavigated","params":{"frame":{"url":"https://login"}}}}`},
			{Message: `{"message":{"params":{"request":{"url":"https://x/#access_token=FIRST"}}}}`},
			{Message: `{"message":{"params":{"request":{"url":"https://x/#access_token=SECOND"}}}}`},
		}
		tok, ok := FromLogs(entries)
		require.True(t, ok)
		assert.Equal(t, "FIRST", tok.AccessToken)
		assert.Nil(t, tok.ExpiresIn)
	})

	t.Run("not found", func(t *testing.T) {
		entries := []browser.LogEntry{
			{Message: "not json at all"},
			{Message: `{"message":{"method":"Network.requestWillBeSent","params":{"request":{"url":"https://login"}}}}`},
			{Message: ""},
		}
		_, ok := FromLogs(entries)
		assert.False(t, ok)

		_, ok = FromLogs(nil)
		assert.False(t, ok)
	})
}

func TestFromLogsStructured(t *testing.T) {
	// The raw scan fails on the empty value, the decoded fragment succeeds
	entries := []browser.LogEntry{{
		Message: `{"message":{"params":{"note":"access_token=","frame":{"urlFragment":"#access_token=XYZ&expires_in=60"}}}}`,
	}}
	tok, ok := FromLogs(entries)
	require.True(t, ok)
	assert.Equal(t, Token{AccessToken: "XYZ", ExpiresIn: intPtr(60)}, tok)
}
