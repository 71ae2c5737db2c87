// Package stream implements the Continuous-Stream scheme: payment is proved
// by an active Superfluid constant-flow stream from the client to the
// route's recipient, verified via the CFAv1Forwarder contract and kept fresh
// by a live FlowUpdated subscription rather than being re-checked on chain
// on every request.
package stream

import (
	"context"
	"math/big"
	"time"

	"github.com/evmx402/gateway/internal/chainclient"
	"github.com/evmx402/gateway/internal/evmtypes"
	"github.com/evmx402/gateway/internal/gwerrors"
	"github.com/evmx402/gateway/internal/sigverify"
)

const methodGetFlowInfo = "getFlowInfo"

// DefaultCacheTTL bounds how long a verified flow is trusted without a
// fresh on-chain check, in case the listener misses an update.
const DefaultCacheTTL = 60 * time.Second

// Config describes what a route accepts for continuous-stream payment.
type Config struct {
	CFAForwarder evmtypes.Address
	Token        evmtypes.Address
	Recipient    evmtypes.Address
	FlowRate     evmtypes.FlowRate
	CacheTTL     time.Duration
	// EventSource is the contract FlowUpdated events are emitted from — the
	// Superfluid CFA agreement contract, not the CFAv1Forwarder used for
	// getFlowInfo reads (the forwarder is a read/write convenience proxy;
	// the agreement contract is the actual event emitter). Falls back to
	// CFAForwarder when unset, which is wrong for a live Superfluid
	// deployment but keeps a minimal config working against a test double.
	EventSource evmtypes.Address
}

func (c Config) cacheTTL() time.Duration {
	if c.CacheTTL > 0 {
		return c.CacheTTL
	}
	return DefaultCacheTTL
}

func (c Config) eventSource() evmtypes.Address {
	if c.EventSource != (evmtypes.Address{}) {
		return c.EventSource
	}
	return c.CFAForwarder
}

// Request is the parsed content of a client's stream payment headers.
type Request struct {
	Sender    evmtypes.Address
	Signature evmtypes.Signature
}

// Verify checks that req.Sender maintains an active flow matching cfg,
// consulting the cache table first and only falling to an on-chain
// getFlowInfo call when the cache is empty or stale. listener may be nil in
// tests that don't exercise the background invalidation path; in
// production it is always set, and every call lazily starts the
// configuration's FlowUpdated listener the first time this route handles a
// request.
func Verify(ctx context.Context, client chainclient.Client, table *Table, listener *ListenerManager, cfg Config, req Request, now time.Time) error {
	if listener != nil {
		listener.EnsureStarted(ctx, cfg)
	}

	digest := sigverify.DigestCS(req.Sender)
	recovered, err := sigverify.RecoverEIP191(digest, req.Signature)
	if err != nil || recovered != req.Sender {
		return gwerrors.New(gwerrors.KindInvalidSignature)
	}

	if cached, ok := table.Get(req.Sender); ok {
		if now.Sub(cached.CheckedAt) <= cfg.cacheTTL() {
			if cached.FlowRate != cfg.FlowRate {
				return gwerrors.Newf(gwerrors.KindInvalidStream, "rate mismatch")
			}
			return nil
		}
	}

	// getFlowInfo returns (lastUpdated, flowrate, deposit, owedDeposit); only
	// the flow rate matters here, but all four slots must be decoded or the
	// second return value would be misread as the first.
	var lastUpdated, flowRateBig, deposit, owedDeposit *big.Int
	if err := client.CallView(ctx, cfg.CFAForwarder, methodGetFlowInfo,
		[]string{"address", "address", "address"},
		[]any{cfg.Token.Address, req.Sender.Address, cfg.Recipient.Address},
		[]string{"uint256", "int96", "uint256", "uint256"},
		[]any{&lastUpdated, &flowRateBig, &deposit, &owedDeposit},
	); err != nil {
		return err
	}

	rate, err := evmtypes.FlowRateFromBig(flowRateBig)
	if err != nil {
		return gwerrors.Newf(gwerrors.KindContractError, "%v", err)
	}
	if rate == 0 {
		return gwerrors.Newf(gwerrors.KindInvalidStream, "no flow")
	}
	if rate != cfg.FlowRate {
		return gwerrors.Newf(gwerrors.KindInvalidStream, "rate mismatch")
	}

	table.Set(req.Sender, &CachedFlow{
		Recipient: cfg.Recipient,
		Token:     cfg.Token,
		FlowRate:  rate,
		CheckedAt: now,
	})
	return nil
}
