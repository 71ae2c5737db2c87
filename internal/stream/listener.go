package stream

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/evmx402/gateway/internal/chainclient"
	"github.com/evmx402/gateway/internal/evmtypes"
	"github.com/evmx402/gateway/internal/sigverify"
)

// flowUpdatedSignature is the Superfluid CFA event signature the listener
// subscribes to: FlowUpdated(token indexed, sender indexed, receiver
// indexed, flowRate, totalSenderFlowRate, totalReceiverFlowRate, userData).
const flowUpdatedSignature = "FlowUpdated(address,address,address,int96,int256,int256,bytes)"

var flowUpdatedTopic0 = evmtypes.Hash{Hash: sigverify.EventTopic0(flowUpdatedSignature)}

// minBackoff/maxBackoff bound the listener's reconnect delay after a
// subscription error.
const (
	minBackoff = 1 * time.Second
	maxBackoff = 30 * time.Second
)

// ListenerManager lazily starts exactly one background listener per
// (event source, token, recipient) tuple the gateway ever serves a stream
// request for, and routes FlowUpdated events into the shared cache Table.
// Startup is race-free: concurrent first requests for the same tuple
// collapse onto a single singleflight.Group.Do call, so exactly one
// listener goroutine ever starts per tuple regardless of request timing.
type ListenerManager struct {
	client chainclient.Client
	table  *Table

	group singleflight.Group
}

// NewListenerManager builds a manager sharing client and table with the
// request-path verifier.
func NewListenerManager(client chainclient.Client, table *Table) *ListenerManager {
	return &ListenerManager{client: client, table: table}
}

// EnsureStarted launches the listener for cfg's (EventSource, Token,
// Recipient) tuple if one is not already running. Safe to call on every
// request; after the first call for a given tuple it is a cheap no-op.
func (m *ListenerManager) EnsureStarted(ctx context.Context, cfg Config) {
	key := listenerKey(cfg)
	// singleflight collapses concurrent first-callers onto one invocation;
	// the invocation itself only has to launch the goroutine, not run it,
	// so Do returns quickly and later calls for the same key are free to
	// run (and immediately no-op) once this one completes.
	_, _, _ = m.group.Do(key, func() (any, error) {
		go m.run(cfg)
		return nil, nil
	})
}

func (m *ListenerManager) run(cfg Config) {
	source := cfg.eventSource()
	backoff := minBackoff
	for {
		err := m.subscribeAndConsume(source, cfg)
		if err == nil {
			return // context-cancelled shutdown, not an error
		}
		slog.Warn("stream listener disconnected, restarting",
			"token", cfg.Token.String(), "recipient", cfg.Recipient.String(),
			"err", err, "backoff", backoff)
		time.Sleep(backoff)
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

func (m *ListenerManager) subscribeAndConsume(source evmtypes.Address, cfg Config) error {
	ctx := context.Background()
	tokenTopic := evmtypes.Hash{}
	copy(tokenTopic.Hash[12:], cfg.Token.Address[:])
	recipientTopic := evmtypes.Hash{}
	copy(recipientTopic.Hash[12:], cfg.Recipient.Address[:])

	logs, sub, err := m.client.SubscribeLogs(ctx, chainclient.LogFilter{
		Address: source,
		Topic0:  flowUpdatedTopic0,
		Topic1:  &tokenTopic,
		Topic3:  &recipientTopic,
	})
	if err != nil {
		return fmt.Errorf("stream: subscribe FlowUpdated: %w", err)
	}
	defer sub.Unsubscribe()

	for {
		select {
		case l, ok := <-logs:
			if !ok {
				return fmt.Errorf("stream: subscription channel closed")
			}
			m.handleEvent(l, cfg)
		case err := <-sub.Err():
			if err == nil {
				return nil
			}
			return fmt.Errorf("stream: subscription error: %w", err)
		}
	}
}

// handleEvent decodes one FlowUpdated log and invalidates the cached flow
// for its sender if the new rate no longer matches cfg. A single decode
// failure is logged and skipped — it must never take the listener down.
func (m *ListenerManager) handleEvent(l chainclient.Log, cfg Config) {
	if len(l.Topics) < 4 {
		slog.Warn("stream listener: short FlowUpdated topics, skipping", "topics", len(l.Topics))
		return
	}
	var sender evmtypes.Address
	copy(sender.Address[:], l.Topics[2].Hash[12:])

	args, err := sigverify.ABIArguments("int96", "int256", "int256", "bytes")
	if err != nil {
		slog.Warn("stream listener: building ABI decoder failed", "err", err)
		return
	}
	vals, err := args.Unpack(l.Data)
	if err != nil || len(vals) == 0 {
		slog.Warn("stream listener: decoding FlowUpdated data failed", "err", err)
		return
	}
	flowRateBig, ok := vals[0].(*big.Int)
	if !ok {
		slog.Warn("stream listener: unexpected flow rate type")
		return
	}
	rate, err := evmtypes.FlowRateFromBig(flowRateBig)
	if err != nil {
		slog.Warn("stream listener: flow rate out of range", "err", err)
		return
	}

	if _, cached := m.table.Get(sender); cached && rate != cfg.FlowRate {
		m.table.Invalidate(sender)
		slog.Info("stream listener: invalidated record on rate change",
			"sender", sender.String(), "new_rate", rate.Int64())
	}
}

func listenerKey(cfg Config) string {
	return fmt.Sprintf("%s:%s:%s", cfg.eventSource().String(), cfg.Token.String(), cfg.Recipient.String())
}
