package application

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/bnema/session-runner/internal/domain"
)

const revokeAction = "clear"

var errRenewalMissingToken = errors.New("renewal response carries no access token")

// tokenExtractor reads one accepted location of a token in a renewal
// response. Extractors are tried in order and the first non-empty value wins.
type tokenExtractor struct {
	name string
	path []string
}

var accessTokenExtractors = []tokenExtractor{
	{name: "privy_access_token", path: []string{"privy_access_token"}},
	{name: "token", path: []string{"token"}},
	{name: "session.token", path: []string{"session", "token"}},
}

var refreshTokenExtractors = []tokenExtractor{
	{name: "privy_refresh_token", path: []string{"privy_refresh_token"}},
	{name: "refresh_token", path: []string{"refresh_token"}},
	{name: "session.refresh_token", path: []string{"session", "refresh_token"}},
}

type renewalResponse struct {
	Session domain.Session
	Revoked bool
	// Source names the extractor that produced the access token.
	Source string
}

func parseRenewal(body []byte) (renewalResponse, error) {
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		return renewalResponse{}, fmt.Errorf("decode renewal response: %w", err)
	}

	accessToken, source := extractToken(payload, accessTokenExtractors)
	if accessToken == "" {
		if isRevoked(payload) {
			return renewalResponse{Revoked: true}, nil
		}
		return renewalResponse{}, errRenewalMissingToken
	}

	refreshToken, _ := extractToken(payload, refreshTokenExtractors)

	return renewalResponse{
		Session: domain.Session{AccessToken: accessToken, RefreshToken: refreshToken},
		Source:  source,
	}, nil
}

// revokedBody reports whether a failed renewal exchange still carried the
// explicit revoke signal in its body.
func revokedBody(body []byte) bool {
	if len(body) == 0 {
		return false
	}

	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		return false
	}

	return isRevoked(payload)
}

func isRevoked(payload map[string]any) bool {
	action, _ := payload["session_update_action"].(string)
	return strings.EqualFold(strings.TrimSpace(action), revokeAction)
}

func extractToken(payload map[string]any, extractors []tokenExtractor) (string, string) {
	for _, extractor := range extractors {
		if value := lookupString(payload, extractor.path); value != "" {
			return value, extractor.name
		}
	}

	return "", ""
}

func lookupString(payload map[string]any, path []string) string {
	var current any = payload
	for _, key := range path {
		object, ok := current.(map[string]any)
		if !ok {
			return ""
		}
		current = object[key]
	}

	value, _ := current.(string)
	return strings.TrimSpace(value)
}
