package outbox

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Oracle answers whether remote work may be attempted.
type Oracle interface {
	IsOnline() bool
	IsSessionValid() bool
}

// StaticOracle is an Oracle whose answers are set explicitly, for example by
// a platform network-change callback.
type StaticOracle struct {
	online  atomic.Bool
	session atomic.Bool
}

// NewStaticOracle returns an oracle with the given initial answers.
func NewStaticOracle(online, sessionValid bool) *StaticOracle {
	o := &StaticOracle{}
	o.online.Store(online)
	o.session.Store(sessionValid)
	return o
}

func (o *StaticOracle) IsOnline() bool       { return o.online.Load() }
func (o *StaticOracle) IsSessionValid() bool { return o.session.Load() }

// SetOnline updates the connectivity answer.
func (o *StaticOracle) SetOnline(v bool) { o.online.Store(v) }

// SetSessionValid updates the session answer.
func (o *StaticOracle) SetSessionValid(v bool) { o.session.Store(v) }

// Pinger checks remote reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ProbeOracle derives connectivity from periodic remote health probes and
// session validity from the expiry of a JWT session token.
type ProbeOracle struct {
	pinger   Pinger
	session  func() string
	interval time.Duration
	timeout  time.Duration
	leeway   time.Duration
	now      func() time.Time
	logger   *slog.Logger
	online   atomic.Bool
}

// ProbeOption configures a ProbeOracle.
type ProbeOption func(*ProbeOracle)

// WithProbeInterval sets how often Run probes the remote.
func WithProbeInterval(d time.Duration) ProbeOption {
	return func(o *ProbeOracle) { o.interval = d }
}

// WithProbeTimeout bounds a single probe.
func WithProbeTimeout(d time.Duration) ProbeOption {
	return func(o *ProbeOracle) { o.timeout = d }
}

// WithSessionToken sets the source of the session JWT. Without one the
// session is always considered valid (API-key authentication).
func WithSessionToken(fn func() string) ProbeOption {
	return func(o *ProbeOracle) { o.session = fn }
}

// WithExpiryLeeway treats tokens expiring within d as already expired.
func WithExpiryLeeway(d time.Duration) ProbeOption {
	return func(o *ProbeOracle) { o.leeway = d }
}

// WithProbeLogger sets the logger.
func WithProbeLogger(l *slog.Logger) ProbeOption {
	return func(o *ProbeOracle) { o.logger = l }
}

// NewProbeOracle creates an oracle that starts offline until the first probe.
func NewProbeOracle(p Pinger, opts ...ProbeOption) *ProbeOracle {
	o := &ProbeOracle{
		pinger:   p,
		interval: 10 * time.Second,
		timeout:  5 * time.Second,
		now:      time.Now,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = o.logger.With("component", "oracle")
	return o
}

func (o *ProbeOracle) IsOnline() bool { return o.online.Load() }

func (o *ProbeOracle) IsSessionValid() bool {
	if o.session == nil {
		return true
	}
	return SessionValid(o.session(), o.now().Add(o.leeway))
}

// Probe runs one health check and records the result.
func (o *ProbeOracle) Probe(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	err := o.pinger.Ping(ctx)
	online := err == nil
	if was := o.online.Swap(online); was != online {
		if online {
			o.logger.Info("remote reachable")
		} else {
			o.logger.Warn("remote unreachable", "error", err)
		}
	}
	return online
}

// Run probes immediately and then every interval until ctx is done.
func (o *ProbeOracle) Run(ctx context.Context) {
	o.Probe(ctx)
	ticker := time.NewTicker(o.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.Probe(ctx)
		}
	}
}

// SessionValid reports whether token is a JWT that has not expired at now.
// The signature is not verified; the remote does that. Tokens without an
// expiry claim are valid.
func SessionValid(token string, now time.Time) bool {
	if token == "" {
		return false
	}
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return false
	}
	if claims.ExpiresAt == nil {
		return true
	}
	return now.Before(claims.ExpiresAt.Time)
}
