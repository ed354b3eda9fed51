package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/bnema/session-runner/internal/domain"
	"github.com/bnema/session-runner/internal/ports"
	"golang.org/x/net/proxy"
)

const (
	defaultRequestTimeout = 30 * time.Second
	maxResponseBytes      = 1 << 20
)

var (
	ErrMissingIdentity = errors.New("account is missing its required identity header")
	ErrUnexpectedShape = errors.New("unexpected response shape")
)

type Endpoints struct {
	Profile  string
	Balances string
	// Sync is optional; an empty path turns Sync into a no-op.
	Sync string
	Send string
}

type TxConfig struct {
	BlockchainID int64
	IsNative     bool
	TokenAddress string
	Amount       string
	// Recipients is sampled uniformly per submission. The account override
	// "recipient" takes precedence.
	Recipients []string
}

type Config struct {
	BaseURL   string
	Endpoints Endpoints
	// RenewURL is absolute; the renewal service usually lives on another host.
	RenewURL string
	Timeout  time.Duration
	// Headers are sent with every request, renewals included.
	Headers map[string]string
	// IdentityHeader names the per-account header every account must carry.
	IdentityHeader string
	BalanceSymbols []string
	Tx             TxConfig
}

// Client talks to the remote service. One http.Client is kept per distinct
// proxy so accounts sharing a proxy share connections.
type Client struct {
	cfg    Config
	base   *url.URL
	pick   func(n int) int
	direct *http.Client

	mu      sync.Mutex
	proxied map[string]proxiedClient
}

type proxiedClient struct {
	http *http.Client
	err  error
}

var (
	_ ports.RemoteAPI      = (*Client)(nil)
	_ ports.SessionRenewer = (*Client)(nil)
)

func NewClient(cfg Config) (*Client, error) {
	base, err := parseBaseURL(cfg.BaseURL)
	if err != nil {
		return nil, err
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultRequestTimeout
	}
	if len(cfg.BalanceSymbols) == 0 {
		cfg.BalanceSymbols = []string{"MATIC", "POL"}
	}

	return &Client{
		cfg:     cfg,
		base:    base,
		pick:    rand.IntN,
		direct:  &http.Client{Transport: newTransport()},
		proxied: map[string]proxiedClient{},
	}, nil
}

// Validate reports configuration problems that would make every call of the
// account fail.
func (c *Client) Validate(account domain.Account) error {
	if c.cfg.IdentityHeader != "" && strings.TrimSpace(account.Identity[c.cfg.IdentityHeader]) == "" {
		return fmt.Errorf("%w: %s", ErrMissingIdentity, c.cfg.IdentityHeader)
	}
	if _, _, err := c.httpClient(account.Proxy); err != nil {
		return err
	}
	return nil
}

func (c *Client) Bind(account domain.Account, session domain.Session) ports.AccountClient {
	return &accountClient{client: c, account: account, session: session}
}

// RenewSession posts the refresh token together with the current, possibly
// expired, access token.
func (c *Client) RenewSession(ctx context.Context, account domain.Account, session domain.Session) ([]byte, error) {
	if c.cfg.RenewURL == "" {
		return nil, errors.New("renew url is not configured")
	}

	payload, err := json.Marshal(map[string]string{"refresh_token": session.RefreshToken})
	if err != nil {
		return nil, fmt.Errorf("encode renewal request: %w", err)
	}

	return c.do(ctx, "renew_session", account, session, http.MethodPost, c.cfg.RenewURL, payload)
}

// do runs one exchange and returns the body of a 2xx response. Non-2xx
// responses become *domain.RemoteError, failed exchanges
// *domain.TransportError.
func (c *Client) do(ctx context.Context, op string, account domain.Account, session domain.Session, method, endpoint string, payload []byte) ([]byte, error) {
	if c.cfg.IdentityHeader != "" && strings.TrimSpace(account.Identity[c.cfg.IdentityHeader]) == "" {
		return nil, fmt.Errorf("%s: %w: %s", op, ErrMissingIdentity, c.cfg.IdentityHeader)
	}

	httpClient, proxied, err := c.httpClient(account.Proxy)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	requestCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(requestCtx, method, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("%s: create request: %w", op, err)
	}
	c.setHeaders(req, account, session)

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, &domain.TransportError{Op: op, Proxied: proxied, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &domain.TransportError{Op: op, Proxied: proxied, Err: fmt.Errorf("read response: %w", err)}
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, &domain.RemoteError{Op: op, StatusCode: resp.StatusCode, Body: data, Header: resp.Header.Clone()}
	}

	return data, nil
}

func (c *Client) setHeaders(req *http.Request, account domain.Account, session domain.Session) {
	for name, value := range c.cfg.Headers {
		req.Header.Set(name, value)
	}
	for name, value := range account.Identity {
		req.Header.Set(name, value)
	}
	req.Header.Set("Accept", "application/json")
	if req.Body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := strings.TrimSpace(session.AccessToken); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
}

func (c *Client) endpoint(path string) (string, error) {
	if path == "" {
		return "", errors.New("api path is required")
	}
	endpoint, err := c.base.Parse(path)
	if err != nil {
		return "", fmt.Errorf("parse api path: %w", err)
	}
	return endpoint.String(), nil
}

func (c *Client) httpClient(proxyURL string) (*http.Client, bool, error) {
	proxyURL = strings.TrimSpace(proxyURL)
	if proxyURL == "" {
		return c.direct, false, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if cached, ok := c.proxied[proxyURL]; ok {
		return cached.http, true, cached.err
	}

	transport, err := newProxyTransport(proxyURL)
	entry := proxiedClient{err: err}
	if err == nil {
		entry.http = &http.Client{Transport: transport}
	}
	c.proxied[proxyURL] = entry

	return entry.http, true, entry.err
}

func newTransport() *http.Transport {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.Proxy = nil
	return transport
}

// newProxyTransport routes through an HTTP(S) CONNECT proxy or a SOCKS5 proxy
// depending on the URL scheme.
func newProxyTransport(rawURL string) (*http.Transport, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse proxy url: %w", err)
	}
	if parsed.Host == "" {
		return nil, fmt.Errorf("proxy url %q has no host", parsed.Redacted())
	}

	transport := newTransport()
	switch strings.ToLower(parsed.Scheme) {
	case "http", "https":
		transport.Proxy = http.ProxyURL(parsed)
	case "socks5", "socks5h":
		dialer, err := proxy.FromURL(parsed, proxy.Direct)
		if err != nil {
			return nil, fmt.Errorf("socks proxy %s: %w", parsed.Redacted(), err)
		}
		contextDialer, ok := dialer.(proxy.ContextDialer)
		if !ok {
			return nil, fmt.Errorf("socks proxy %s: dialer does not support contexts", parsed.Redacted())
		}
		transport.DialContext = contextDialer.DialContext
	default:
		return nil, fmt.Errorf("unsupported proxy scheme %q", parsed.Scheme)
	}

	return transport, nil
}

func parseBaseURL(raw string) (*url.URL, error) {
	if raw == "" {
		return nil, errors.New("api base url is required")
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse api base url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, errors.New("api base url must use http or https")
	}
	if parsed.Host == "" {
		return nil, errors.New("api base url host is required")
	}

	return parsed, nil
}
