package gateway

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/evmx402/gateway/internal/chainclient"
	"github.com/evmx402/gateway/internal/config"
	"github.com/evmx402/gateway/internal/otp"
	"github.com/evmx402/gateway/internal/paymentchannel"
	"github.com/evmx402/gateway/internal/stream"
)

// ClientFactory builds a chainclient.Client for one RPC endpoint. Tests
// inject a fake; production uses DefaultClientFactory.
type ClientFactory func(ctx context.Context, httpURL, wsURL string, chainID uint64) (chainclient.Client, error)

// DefaultClientFactory dials a real go-ethereum-backed client.
func DefaultClientFactory(ctx context.Context, httpURL, wsURL string, chainID uint64) (chainclient.Client, error) {
	return chainclient.Dial(ctx, httpURL, wsURL, new(big.Int).SetUint64(chainID))
}

// Registry owns everything the dispatcher needs that must be shared and
// lazily built across requests: one chain client per distinct RPC endpoint,
// one CS listener manager per endpoint, and the three scheme state tables.
type Registry struct {
	Routes    config.RouteAcceptances
	newClient ClientFactory

	mu        sync.Mutex
	clients   map[string]chainclient.Client
	listeners map[string]*stream.ListenerManager

	OTPTable *otp.Table
	PCTable  *paymentchannel.Table
	CSTable  *stream.Table
}

// NewRegistry builds a Registry over routes, using factory to dial chain
// clients on first use. Pass nil for factory to get DefaultClientFactory.
func NewRegistry(routes config.RouteAcceptances, factory ClientFactory) *Registry {
	if factory == nil {
		factory = DefaultClientFactory
	}
	return &Registry{
		Routes:    routes,
		newClient: factory,
		clients:   make(map[string]chainclient.Client),
		listeners: make(map[string]*stream.ListenerManager),
		OTPTable:  otp.NewTable(),
		PCTable:   paymentchannel.NewTable(),
		CSTable:   stream.NewTable(),
	}
}

// clientFor returns the shared chainclient.Client for a.RPCURL, dialing it
// on first use. The dial itself happens while holding the registry lock —
// acceptable because it happens at most once per distinct endpoint over the
// process's lifetime, never on the steady-state request path.
func (reg *Registry) clientFor(ctx context.Context, a config.Acceptance) (chainclient.Client, error) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	if c, ok := reg.clients[a.RPCURL]; ok {
		return c, nil
	}
	c, err := reg.newClient(ctx, a.RPCURL, a.WSURL, a.ChainID)
	if err != nil {
		return nil, fmt.Errorf("gateway: dialing %s: %w", a.RPCURL, err)
	}
	reg.clients[a.RPCURL] = c
	return c, nil
}

// listenerManagerFor returns the shared stream.ListenerManager for client,
// keyed by RPC URL so every acceptance on that endpoint shares one listener
// set per (token, recipient) tuple rather than one per route.
func (reg *Registry) listenerManagerFor(client chainclient.Client, rpcURL string) *stream.ListenerManager {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	if lm, ok := reg.listeners[rpcURL]; ok {
		return lm
	}
	lm := stream.NewListenerManager(client, reg.CSTable)
	reg.listeners[rpcURL] = lm
	return lm
}
