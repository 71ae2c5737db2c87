package paymentchannel

import (
	"sync"
	"time"

	"github.com/evmx402/gateway/internal/evmtypes"
	"github.com/evmx402/gateway/internal/gwerrors"
)

// Default per-sender bounds on channel requests: a sender may make at most
// DefaultRateLimit requests per DefaultRateWindow, counted in fixed windows
// that reset once the window has fully elapsed.
const (
	DefaultRateLimit  = 100
	DefaultRateWindow = 60 * time.Second
)

// RateLimiter bounds how often a single sender may hit the channel verify
// path, independent of whether those requests are accepted. Channel
// verification is the one scheme where a request can cost an on-chain read
// before any state exists to reject it against, so the limiter sits in front
// of everything else.
type RateLimiter struct {
	Limit  int           // zero means DefaultRateLimit
	Window time.Duration // zero means DefaultRateWindow

	mu      sync.Mutex
	windows map[evmtypes.Address]*rateWindow
}

type rateWindow struct {
	count   int
	started int64 // unix seconds of the current window's start
}

// NewRateLimiter returns a limiter using the package defaults.
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{windows: make(map[evmtypes.Address]*rateWindow)}
}

func (rl *RateLimiter) limit() int {
	if rl.Limit > 0 {
		return rl.Limit
	}
	return DefaultRateLimit
}

func (rl *RateLimiter) window() int64 {
	if rl.Window > 0 {
		return int64(rl.Window.Seconds())
	}
	return int64(DefaultRateWindow.Seconds())
}

// Allow counts one request from sender at now (unix seconds) and reports
// whether it is within the sender's window budget. The count-then-decide
// order matches the window reset rule: once the window has fully elapsed the
// counter restarts at 1, otherwise a counter already at the limit rejects
// without incrementing further.
func (rl *RateLimiter) Allow(sender evmtypes.Address, now int64) error {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	w, ok := rl.windows[sender]
	if !ok {
		w = &rateWindow{started: now}
		rl.windows[sender] = w
	}

	if now-w.started >= rl.window() {
		w.count = 1
		w.started = now
		return nil
	}
	if w.count >= rl.limit() {
		return gwerrors.New(gwerrors.KindRateLimitExceeded)
	}
	w.count++
	return nil
}
