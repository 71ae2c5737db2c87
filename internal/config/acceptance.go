// Package config holds the gateway's process-scoped, immutable
// configuration: the per-route accept-list and the env-var driven
// top-level settings loaded once at startup.
package config

import (
	"fmt"
	"strings"

	"github.com/evmx402/gateway/internal/evmtypes"
)

// Scheme identifies which of the three settlement schemes an Acceptance
// covers. It is the wire value carried in X-PAYMENT's "scheme" field.
type Scheme string

const (
	SchemeOneTime Scheme = "one-time"
	SchemeChannel Scheme = "channel"
	SchemeStream  Scheme = "stream"
)

// Acceptance is one entry in a route's declared accept-list: everything
// the dispatcher needs to validate and price a payment under one scheme,
// for one route, without touching the chain until a verifier asks it to.
// Acceptances are built at startup and never mutated afterward.
type Acceptance struct {
	Scheme    Scheme
	Network   string // e.g. "eip155:8453"
	ChainID   uint64
	ChainName string // display name, e.g. "base"; filled from chainmeta when absent

	RPCURL string
	WSURL  string // only required for Scheme == SchemeStream

	Token     evmtypes.Address
	Recipient evmtypes.Address
	Amount    string // decimal string in human units, e.g. "1.50"
	Decimals  int

	Resource          string
	Description       string
	MaxTimeoutSeconds int

	// OTP tunables; zero means "use the package default".
	AbsWindowSeconds  int
	SessionTTLSeconds int
	MaxRedemptions    int

	// PC tunables.
	BindRequestBody bool

	// CS tunables.
	CacheTTLSeconds int
	CFAForwarder    evmtypes.Address
	EventSource     evmtypes.Address
}

// Validate checks that an Acceptance is internally consistent, catching
// operator config mistakes at startup instead of on the request path.
func (a Acceptance) Validate() error {
	switch a.Scheme {
	case SchemeOneTime, SchemeChannel, SchemeStream:
	default:
		return fmt.Errorf("config: unknown scheme %q", a.Scheme)
	}
	if a.RPCURL == "" {
		return fmt.Errorf("config: acceptance for %s/%s missing rpc_url", a.Network, a.Scheme)
	}
	if a.Scheme == SchemeStream && a.WSURL == "" {
		return fmt.Errorf("config: stream acceptance for %s missing ws_url", a.Network)
	}
	if a.Decimals < 0 || a.Decimals > 77 {
		return fmt.Errorf("config: acceptance for %s/%s has implausible decimals %d", a.Network, a.Scheme, a.Decimals)
	}
	if strings.TrimSpace(a.Amount) == "" {
		return fmt.Errorf("config: acceptance for %s/%s missing amount", a.Network, a.Scheme)
	}
	if _, err := a.BaseUnits(); err != nil {
		return fmt.Errorf("config: acceptance for %s/%s: %w", a.Network, a.Scheme, err)
	}
	if a.Scheme == SchemeStream {
		if _, err := a.MonthlyFlowRate(); err != nil {
			return fmt.Errorf("config: acceptance for %s/%s: %w", a.Network, a.Scheme, err)
		}
	}
	return nil
}

// RouteAcceptances maps a route path (matched exactly against the inbound
// request's URL path) to the list of schemes that route accepts.
type RouteAcceptances map[string][]Acceptance

// For returns the accept-list declared for path, or (nil, false) if the
// route has none configured — the dispatcher treats that as "this route
// takes no payment", never as an implicit allow-all.
func (r RouteAcceptances) For(path string) ([]Acceptance, bool) {
	list, ok := r[path]
	return list, ok
}

// Match returns the first acceptance on route path whose Scheme equals
// scheme, or (Acceptance{}, false) if the route doesn't accept it.
func (r RouteAcceptances) Match(path string, scheme Scheme) (Acceptance, bool) {
	for _, a := range r[path] {
		if a.Scheme == scheme {
			return a, true
		}
	}
	return Acceptance{}, false
}
