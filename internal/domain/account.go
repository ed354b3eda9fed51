package domain

import (
	"strconv"
	"strings"
)

type AccountID string

type Account struct {
	ID      AccountID
	Name    string
	Active  bool
	Proxy   string
	Session Session
	// Identity holds fixed per-account headers sent with every remote call.
	Identity  map[string]string
	Overrides map[string]string
}

type Session struct {
	AccessToken  string
	RefreshToken string
}

func (s Session) HasAccessToken() bool {
	return strings.TrimSpace(s.AccessToken) != ""
}

func (s Session) HasRefreshToken() bool {
	return strings.TrimSpace(s.RefreshToken) != ""
}

// DisplayName falls back to a positional label when the account has no name.
func (a Account) DisplayName(index int) string {
	if name := strings.TrimSpace(a.Name); name != "" {
		return name
	}

	return "Account" + strconv.Itoa(index+1)
}

func (a Account) Override(key string) (string, bool) {
	if a.Overrides == nil {
		return "", false
	}
	value, ok := a.Overrides[key]
	return value, ok
}
