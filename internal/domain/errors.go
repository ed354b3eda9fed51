package domain

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrAccountNotFound = errors.New("account not found")
	ErrNoCredential    = errors.New("account has no usable credential pair")
	ErrRefreshRevoked  = errors.New("refresh credential revoked")
	ErrRenewalRejected = errors.New("session renewal rejected")
	ErrNoCycleHistory  = errors.New("no cycle recorded yet")
)

// RemoteError is a completed HTTP exchange with a non-2xx status.
type RemoteError struct {
	Op         string
	StatusCode int
	Body       []byte
	Header     http.Header
}

func (e *RemoteError) Error() string {
	body := string(e.Body)
	if len(body) > 200 {
		body = body[:200] + "..."
	}
	if body == "" {
		return fmt.Sprintf("%s: status %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("%s: status %d: %s", e.Op, e.StatusCode, body)
}

// TransportError is a remote call that never produced an HTTP response.
type TransportError struct {
	Op      string
	Proxied bool
	Err     error
}

func (e *TransportError) Error() string {
	if e.Proxied {
		return fmt.Sprintf("%s (via proxy): %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
