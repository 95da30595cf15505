// Package token recognizes OAuth implicit-grant bearer tokens in browser
// activity and keeps captured tokens for later retrieval.
package token

import (
	"strconv"
	"strings"

	"github.com/bytedance/sonic"

	"github.com/GriffinCanCode/AuthStream/backend/internal/browser"
)

// Marker is the fragment key that carries the bearer string
const Marker = "access_token="

// Token is a captured bearer credential
type Token struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   *int   `json:"expires_in,omitempty"`
}

// FromFragment parses a query fragment such as
// "access_token=ABC&token_type=bearer&expires_in=3600".
// A leading '#' is ignored. Later expires_in pairs win; a non-integer
// expires_in leaves the expiry absent.
func FromFragment(fragment string) (Token, bool) {
	fragment = strings.TrimPrefix(fragment, "#")

	var tok Token
	for _, part := range strings.Split(fragment, "&") {
		key, value, ok := strings.Cut(part, "=")
		if !ok {
			continue
		}
		switch key {
		case "access_token":
			tok.AccessToken = value
		case "expires_in":
			if n, err := strconv.Atoi(value); err == nil {
				tok.ExpiresIn = &n
			} else {
				tok.ExpiresIn = nil
			}
		}
	}

	if tok.AccessToken == "" {
		return Token{}, false
	}
	return tok, true
}

// FromURL inspects the fragment of a navigation URL
func FromURL(u string) (Token, bool) {
	if !strings.Contains(u, Marker) {
		return Token{}, false
	}
	if i := strings.LastIndexByte(u, '#'); i >= 0 {
		u = u[i+1:]
	}
	return FromFragment(u)
}

// fromText cuts the fragment out of an arbitrary log line. The fragment
// ends at the next quote; JSON-escaped ampersands are restored.
func fromText(text string) (Token, bool) {
	start := strings.Index(text, Marker)
	if start < 0 {
		return Token{}, false
	}
	rest := text[start:]
	if end := strings.IndexByte(rest, '"'); end >= 0 {
		rest = rest[:end]
	}
	return FromFragment(strings.ReplaceAll(rest, `\u0026`, "&"))
}

type logEnvelope struct {
	Message struct {
		Method string `json:"method"`
		Params struct {
			Frame *struct {
				URLFragment string `json:"urlFragment"`
			} `json:"frame"`
			Request *struct {
				URL string `json:"url"`
			} `json:"request"`
		} `json:"params"`
	} `json:"message"`
}

// FromLogs scans entries in order and returns the first token found.
// Raw text is searched first, then the decoded navigation fragment and
// request URL. Undecodable entries are skipped.
func FromLogs(entries []browser.LogEntry) (Token, bool) {
	for _, entry := range entries {
		if strings.Contains(entry.Message, Marker) {
			if tok, ok := fromText(entry.Message); ok {
				return tok, true
			}
		}

		var env logEnvelope
		if err := sonic.UnmarshalString(entry.Message, &env); err != nil {
			continue
		}
		params := env.Message.Params

		if params.Frame != nil && strings.Contains(params.Frame.URLFragment, Marker) {
			if tok, ok := FromFragment(params.Frame.URLFragment); ok {
				return tok, true
			}
		}
		if params.Request != nil {
			if tok, ok := FromURL(params.Request.URL); ok {
				return tok, true
			}
		}
	}
	return Token{}, false
}
