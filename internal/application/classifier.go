package application

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/bnema/session-runner/internal/domain"
)

const defaultRetryAfter = 60 * time.Second

type ClassifierConfig struct {
	// InvalidCredentialMarkers turn an HTTP 400 into an auth failure when the
	// body contains one of them.
	InvalidCredentialMarkers []string
	// ProxyPatterns always indicate an intermediary failure.
	ProxyPatterns []string
	// ProxiedPatterns indicate an intermediary failure only when the call was
	// routed through a proxy.
	ProxiedPatterns []string
	ProxyStatuses   []int
	NetworkPatterns []string
	// DefaultRetryAfter applies to 429 responses without a numeric Retry-After.
	DefaultRetryAfter time.Duration
}

func DefaultClassifierConfig() ClassifierConfig {
	return ClassifierConfig{
		InvalidCredentialMarkers: []string{"missing_or_invalid_token", "invalid_token"},
		ProxyPatterns: []string{
			"proxyconnect",
			"proxy authentication required",
			"proxy error",
			"socks connect",
			"socks5",
			"tunnel connection failed",
		},
		ProxiedPatterns: []string{
			"tls handshake",
			"handshake failure",
			"connection reset",
			"unexpected eof",
			"econnreset",
		},
		ProxyStatuses: []int{
			http.StatusProxyAuthRequired,
			http.StatusBadGateway,
			http.StatusServiceUnavailable,
			http.StatusGatewayTimeout,
			520, 521, 522, 523, 524, 525, 526, 530,
		},
		NetworkPatterns: []string{
			"econnreset",
			"etimedout",
			"econnrefused",
			"ehostunreach",
			"enotfound",
			"connection reset",
			"connection refused",
			"broken pipe",
			"i/o timeout",
			"timed out",
			"no such host",
			"network is unreachable",
			"no route to host",
			"host is unreachable",
			"unexpected eof",
		},
		DefaultRetryAfter: defaultRetryAfter,
	}
}

// Failure is the classification of one failed call.
type Failure struct {
	Category   domain.Category
	RetryAfter time.Duration
}

type Classifier struct {
	cfg ClassifierConfig
}

func NewClassifier(cfg ClassifierConfig) *Classifier {
	if cfg.DefaultRetryAfter <= 0 {
		cfg.DefaultRetryAfter = defaultRetryAfter
	}

	return &Classifier{cfg: ClassifierConfig{
		InvalidCredentialMarkers: lowerAll(cfg.InvalidCredentialMarkers),
		ProxyPatterns:            lowerAll(cfg.ProxyPatterns),
		ProxiedPatterns:          lowerAll(cfg.ProxiedPatterns),
		ProxyStatuses:            slices.Clone(cfg.ProxyStatuses),
		NetworkPatterns:          lowerAll(cfg.NetworkPatterns),
		DefaultRetryAfter:        cfg.DefaultRetryAfter,
	}}
}

func (c *Classifier) Classify(err error) Failure {
	if err == nil {
		return Failure{Category: domain.CategoryNone}
	}

	var remoteErr *domain.RemoteError
	if errors.As(err, &remoteErr) {
		return c.classifyStatus(remoteErr)
	}

	if errors.Is(err, context.Canceled) {
		return Failure{Category: domain.CategoryCanceled}
	}

	// Text patterns only apply to calls that never got a response. Anything
	// else carries a response body, which must not be read as a fault.
	var transportErr *domain.TransportError
	if !errors.As(err, &transportErr) {
		if isNetworkError(err) {
			return Failure{Category: domain.CategoryTransientNetwork}
		}
		return Failure{Category: domain.CategoryFatal}
	}

	var message string
	if transportErr.Err != nil {
		message = strings.ToLower(transportErr.Err.Error())
	}
	if containsAny(message, c.cfg.ProxyPatterns) || (transportErr.Proxied && containsAny(message, c.cfg.ProxiedPatterns)) {
		return Failure{Category: domain.CategoryTransientProxy}
	}

	if isNetworkError(err) || isWireEOF(err) || containsAny(message, c.cfg.NetworkPatterns) {
		return Failure{Category: domain.CategoryTransientNetwork}
	}

	return Failure{Category: domain.CategoryFatal}
}

// ClassifyMessage maps free-form crash text onto proxy, network or fatal.
func (c *Classifier) ClassifyMessage(message string) domain.Category {
	lower := strings.ToLower(message)
	switch {
	case containsAny(lower, c.cfg.ProxyPatterns), strings.Contains(lower, "proxy"):
		return domain.CategoryTransientProxy
	case containsAny(lower, c.cfg.NetworkPatterns):
		return domain.CategoryTransientNetwork
	default:
		return domain.CategoryFatal
	}
}

func (c *Classifier) classifyStatus(remoteErr *domain.RemoteError) Failure {
	status := remoteErr.StatusCode

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return Failure{Category: domain.CategoryAuthExpired}
	case status == http.StatusBadRequest && containsAny(strings.ToLower(string(remoteErr.Body)), c.cfg.InvalidCredentialMarkers):
		return Failure{Category: domain.CategoryAuthExpired}
	case status == http.StatusTooManyRequests:
		return Failure{Category: domain.CategoryRateLimited, RetryAfter: c.retryAfter(remoteErr.Header)}
	case slices.Contains(c.cfg.ProxyStatuses, status):
		return Failure{Category: domain.CategoryTransientProxy}
	case status >= 500 && status < 600:
		return Failure{Category: domain.CategoryTransientNetwork}
	default:
		return Failure{Category: domain.CategoryFatal}
	}
}

func (c *Classifier) retryAfter(header http.Header) time.Duration {
	raw := strings.TrimSpace(header.Get("Retry-After"))
	if raw == "" {
		return c.cfg.DefaultRetryAfter
	}

	seconds, err := strconv.ParseFloat(raw, 64)
	if err != nil || seconds < 0 {
		return c.cfg.DefaultRetryAfter
	}

	return time.Duration(seconds * float64(time.Second))
}

func isNetworkError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	for _, errno := range []syscall.Errno{syscall.ECONNRESET, syscall.ECONNREFUSED, syscall.ETIMEDOUT, syscall.EHOSTUNREACH, syscall.ENETUNREACH, syscall.EPIPE} {
		if errors.Is(err, errno) {
			return true
		}
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}

	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// isWireEOF reports a connection closed mid-exchange. Decoders return io.EOF
// as well, so only transport errors are checked.
func isWireEOF(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)
}

func containsAny(haystack string, needles []string) bool {
	for _, needle := range needles {
		if needle != "" && strings.Contains(haystack, needle) {
			return true
		}
	}
	return false
}

func lowerAll(values []string) []string {
	lowered := make([]string, 0, len(values))
	for _, value := range values {
		if trimmed := strings.ToLower(strings.TrimSpace(value)); trimmed != "" {
			lowered = append(lowered, trimmed)
		}
	}
	return lowered
}
