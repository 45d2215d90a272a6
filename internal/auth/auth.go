// Package auth provides bearer-token credentials for the websocket upgrade.
package auth

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/rickgao/gridpulse/internal/errs"
)

// Credentials holds the opaque token presented on connect.
type Credentials struct {
	Token string
}

// LoadCredentials builds credentials from an inline token or, when token is
// empty, from the first line of tokenPath.
func LoadCredentials(token, tokenPath string) (Credentials, error) {
	if token != "" {
		return Credentials{Token: token}, nil
	}
	if tokenPath == "" {
		return Credentials{}, fmt.Errorf("token or token file is required")
	}

	t, err := LoadToken(tokenPath)
	if err != nil {
		return Credentials{}, fmt.Errorf("load token: %w", err)
	}
	return Credentials{Token: t}, nil
}

// LoadToken reads a token file, trimming surrounding whitespace.
func LoadToken(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read token file: %w", err)
	}

	token := strings.TrimSpace(string(data))
	if i := strings.IndexByte(token, '\n'); i >= 0 {
		token = strings.TrimSpace(token[:i])
	}
	if token == "" {
		return "", fmt.Errorf("token file %s is empty", path)
	}
	return token, nil
}

// Header returns the upgrade request headers carrying the token.
func (c Credentials) Header() http.Header {
	h := http.Header{}
	if c.Token != "" {
		h.Set("Authorization", "Bearer "+c.Token)
	}
	return h
}

// Validate rejects credentials that cannot succeed without asking the
// server: an empty token, or a JWT-shaped token (three dot-separated
// segments) that is malformed or past its exp claim. Opaque tokens are
// accepted as is. Failures are *errs.AuthError.
func (c Credentials) Validate(now time.Time) error {
	if strings.TrimSpace(c.Token) == "" {
		return &errs.AuthError{Reason: "empty token"}
	}

	parts := strings.Split(c.Token, ".")
	if len(parts) != 3 {
		return nil
	}

	header, err := decodeSegment(parts[0])
	if err != nil {
		return &errs.AuthError{Reason: "malformed token header: " + err.Error()}
	}
	var hdr map[string]any
	if err := json.Unmarshal(header, &hdr); err != nil {
		return &errs.AuthError{Reason: "malformed token header"}
	}

	payload, err := decodeSegment(parts[1])
	if err != nil {
		return &errs.AuthError{Reason: "malformed token claims: " + err.Error()}
	}
	var claims struct {
		Exp *float64 `json:"exp"`
	}
	if err := json.Unmarshal(payload, &claims); err != nil {
		return &errs.AuthError{Reason: "malformed token claims"}
	}

	if _, err := decodeSegment(parts[2]); err != nil {
		return &errs.AuthError{Reason: "malformed token signature"}
	}

	if claims.Exp != nil {
		exp := time.Unix(int64(*claims.Exp), 0)
		if !now.Before(exp) {
			return &errs.AuthError{Reason: "token expired at " + exp.UTC().Format(time.RFC3339)}
		}
	}
	return nil
}

// decodeSegment accepts padded and unpadded base64url.
func decodeSegment(s string) ([]byte, error) {
	if s == "" {
		return nil, fmt.Errorf("empty segment")
	}
	return base64.RawURLEncoding.DecodeString(strings.TrimRight(s, "="))
}

// Redacted returns a form of the token safe for logs.
func (c Credentials) Redacted() string {
	if len(c.Token) <= 8 {
		return "****"
	}
	return c.Token[:4] + "…" + c.Token[len(c.Token)-4:]
}
