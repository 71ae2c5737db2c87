package paymentchannel

import (
	"sync"

	"github.com/evmx402/gateway/internal/evmtypes"
	"github.com/evmx402/gateway/internal/gwerrors"
)

// Table is the concurrent map of open payment channels, keyed by channel ID,
// plus the per-sender rate limiter guarding the verify path. Lock discipline
// mirrors otp.Table: never held across a chain RPC.
type Table struct {
	mu   sync.RWMutex
	rows map[evmtypes.U256]*Channel

	sigMu sync.RWMutex
	sigs  map[evmtypes.U256]signedBody

	limiter *RateLimiter
}

type signedBody struct {
	sig  evmtypes.Signature
	body []byte
}

// NewTable returns an empty table with the default rate limiter.
func NewTable() *Table {
	return &Table{
		rows:    make(map[evmtypes.U256]*Channel),
		sigs:    make(map[evmtypes.U256]signedBody),
		limiter: NewRateLimiter(),
	}
}

// CheckRateLimit counts one request from sender against its window budget.
func (t *Table) CheckRateLimit(sender evmtypes.Address, now int64) error {
	return t.limiter.Allow(sender, now)
}

// Get returns the channel recorded for id, if any.
func (t *Table) Get(id evmtypes.U256) (*Channel, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	c, ok := t.rows[id]
	return c, ok
}

// Set records or replaces the channel for id.
func (t *Table) Set(id evmtypes.U256, c *Channel) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rows[id] = c
}

// Invalidate removes any record for id.
func (t *Table) Invalidate(id evmtypes.U256) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.rows, id)
}

// CommitAdvance is the single atomic decision point for whether a claimed
// (nonce, balance) pair may replace the table's current record for id.
// onChainValidated must be true when the caller already confirmed a
// not-yet-recorded channel against the escrow contract; CommitAdvance
// re-reads the table under its own lock before deciding, so a channel
// inserted by a concurrent winner between the caller's peek and this call
// is never missed.
func (t *Table) CommitAdvance(id evmtypes.U256, claimedNonce, claimedBalance evmtypes.U256, onChainValidated bool, newChannel *Channel) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	existing, found := t.rows[id]
	if found {
		if claimedNonce.Cmp(existing.Nonce) <= 0 {
			return gwerrors.New(gwerrors.KindInvalidNonce)
		}
		if claimedBalance.Cmp(existing.Balance) != 0 {
			return gwerrors.New(gwerrors.KindInvalidChannel)
		}
	} else {
		if !onChainValidated {
			return gwerrors.New(gwerrors.KindInvalidChannel)
		}
		if !claimedNonce.IsZero() {
			return gwerrors.New(gwerrors.KindInvalidNonce)
		}
	}
	t.rows[id] = newChannel
	return nil
}

// SetLatestSignature records the signature and body accompanying the most
// recent accepted request for id, the material Close needs to settle
// on-chain.
func (t *Table) SetLatestSignature(id evmtypes.U256, sig evmtypes.Signature, body []byte) {
	t.sigMu.Lock()
	defer t.sigMu.Unlock()
	t.sigs[id] = signedBody{sig: sig, body: body}
}

// GetLatestSignature returns the most recently recorded signature/body for
// id, if any.
func (t *Table) GetLatestSignature(id evmtypes.U256) (evmtypes.Signature, []byte, bool) {
	t.sigMu.RLock()
	defer t.sigMu.RUnlock()
	sb, ok := t.sigs[id]
	if !ok {
		return evmtypes.Signature{}, nil, false
	}
	return sb.sig, sb.body, true
}
