package otp

import (
	"sync"

	"github.com/evmx402/gateway/internal/evmtypes"
	"github.com/evmx402/gateway/internal/gwerrors"
)

// Table is the concurrent map of verified one-time payments, keyed by
// transaction hash. Every method takes the lock for exactly as long as the
// map access itself, never across a chain call — callers hold no lock while
// awaiting chainclient.Client.
type Table struct {
	mu   sync.RWMutex
	rows map[evmtypes.Hash]*Payment
}

// NewTable returns an empty table.
func NewTable() *Table {
	return &Table{rows: make(map[evmtypes.Hash]*Payment)}
}

// Get returns the payment recorded for txHash, if any.
func (t *Table) Get(txHash evmtypes.Hash) (*Payment, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.rows[txHash]
	return p, ok
}

// Set records or replaces the payment for txHash.
func (t *Table) Set(txHash evmtypes.Hash, p *Payment) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rows[txHash] = p
}

// SetIfAbsent records p for txHash only if no record exists yet. Two
// requests racing through the first-sight path both reach this with a fresh
// record; replacing here would wipe the winner's redemption count, so the
// loser's insert is dropped and both fall through to TryRedeem against the
// one surviving record.
func (t *Table) SetIfAbsent(txHash evmtypes.Hash, p *Payment) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.rows[txHash]; !ok {
		t.rows[txHash] = p
	}
}

// Invalidate removes any record for txHash.
func (t *Table) Invalidate(txHash evmtypes.Hash) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.rows, txHash)
}

// TryRedeem atomically checks cfg's redemption bounds against the payment
// recorded for txHash and, if still redeemable, stamps FirstRedeemed (on the
// first call only) and increments Redemptions — all under one lock
// acquisition, so concurrent requests against the same payment can never
// together push Redemptions past cfg's limit (the check-then-increment
// must not be split across separate lock holds, or two callers can both
// pass the check before either commits).
func (t *Table) TryRedeem(txHash evmtypes.Hash, cfg Config, now int64) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	p, ok := t.rows[txHash]
	if !ok {
		return gwerrors.New(gwerrors.KindTransactionNotFound)
	}
	if !isRedeemable(p, cfg, now) {
		return gwerrors.Newf(gwerrors.KindInvalidTransaction, "Payment session expired or max redemptions reached")
	}
	if p.FirstRedeemed == 0 {
		p.FirstRedeemed = now
	}
	p.Redemptions++
	return nil
}
