package application

import (
	"math"
	"math/rand/v2"
	"time"
)

type BackoffConfig struct {
	NetworkBase time.Duration
	// ProxyBase is conventionally twice NetworkBase.
	ProxyBase    time.Duration
	Factor       float64
	MaxExponent  int
	Cap          time.Duration
	JitterMin    float64
	JitterMax    float64
	ProxyPenalty time.Duration
	// ProxyPenaltyAfter is the consecutive proxy failure count at which the
	// flat penalty starts to apply.
	ProxyPenaltyAfter int
}

func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		NetworkBase:       2 * time.Second,
		ProxyBase:         4 * time.Second,
		Factor:            1.5,
		MaxExponent:       15,
		Cap:               120 * time.Second,
		JitterMin:         0.10,
		JitterMax:         0.30,
		ProxyPenalty:      30 * time.Second,
		ProxyPenaltyAfter: 3,
	}
}

type Backoff struct {
	cfg    BackoffConfig
	random func() float64
}

// NewBackoff fills zero fields from DefaultBackoffConfig. random must return
// values in [0, 1); nil selects math/rand/v2.
func NewBackoff(cfg BackoffConfig, random func() float64) Backoff {
	defaults := DefaultBackoffConfig()
	if cfg.NetworkBase <= 0 {
		cfg.NetworkBase = defaults.NetworkBase
	}
	if cfg.ProxyBase <= 0 {
		cfg.ProxyBase = 2 * cfg.NetworkBase
	}
	if cfg.Factor < 1 {
		cfg.Factor = defaults.Factor
	}
	if cfg.MaxExponent <= 0 {
		cfg.MaxExponent = defaults.MaxExponent
	}
	if cfg.Cap <= 0 {
		cfg.Cap = defaults.Cap
	}
	if cfg.JitterMin < 0 || cfg.JitterMax <= 0 || cfg.JitterMin > cfg.JitterMax {
		cfg.JitterMin, cfg.JitterMax = defaults.JitterMin, defaults.JitterMax
	}
	switch {
	case cfg.ProxyPenalty == 0:
		cfg.ProxyPenalty = defaults.ProxyPenalty
	case cfg.ProxyPenalty < 0:
		// Negative disables the penalty.
		cfg.ProxyPenalty = 0
	}
	if cfg.ProxyPenaltyAfter <= 0 {
		cfg.ProxyPenaltyAfter = defaults.ProxyPenaltyAfter
	}
	if random == nil {
		random = rand.Float64
	}

	return Backoff{cfg: cfg, random: random}
}

// Base is min(base * factor^min(attempt, maxExponent), cap), without jitter.
func (b Backoff) Base(attempt int, proxy bool) time.Duration {
	base := b.cfg.NetworkBase
	if proxy {
		base = b.cfg.ProxyBase
	}

	exponent := min(max(attempt, 0), b.cfg.MaxExponent)
	delay := float64(base) * math.Pow(b.cfg.Factor, float64(exponent))
	if delay > float64(b.cfg.Cap) {
		return b.cfg.Cap
	}

	return time.Duration(delay)
}

func (b Backoff) Delay(attempt int, proxy bool, consecutiveProxy int) time.Duration {
	base := b.Base(attempt, proxy)

	magnitude := b.cfg.JitterMin + b.random()*(b.cfg.JitterMax-b.cfg.JitterMin)
	if b.random() < 0.5 {
		magnitude = -magnitude
	}
	delay := base + time.Duration(float64(base)*magnitude)

	if consecutiveProxy >= b.cfg.ProxyPenaltyAfter {
		delay += b.cfg.ProxyPenalty
	}

	return delay
}

// Ceiling is the largest delay Delay can ever return.
func (b Backoff) Ceiling() time.Duration {
	return b.cfg.Cap + time.Duration(float64(b.cfg.Cap)*b.cfg.JitterMax) + b.cfg.ProxyPenalty
}

func (b Backoff) ProxyPenalty() time.Duration {
	return b.cfg.ProxyPenalty
}
