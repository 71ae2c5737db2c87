package stream

import (
	"sync"
	"time"

	"github.com/evmx402/gateway/internal/evmtypes"
)

// CachedFlow is the state the gateway keeps for one sender's last-verified
// continuous stream, keyed by sender address.
type CachedFlow struct {
	Recipient evmtypes.Address
	Token     evmtypes.Address
	FlowRate  evmtypes.FlowRate
	CheckedAt time.Time
}

// Table is the concurrent cache of verified stream senders. Lock discipline
// mirrors otp.Table and paymentchannel.Table: never held across a chain RPC
// or a listener round-trip.
type Table struct {
	mu   sync.RWMutex
	rows map[evmtypes.Address]*CachedFlow
}

// NewTable returns an empty table.
func NewTable() *Table {
	return &Table{rows: make(map[evmtypes.Address]*CachedFlow)}
}

// Get returns the cached flow recorded for sender, if any.
func (t *Table) Get(sender evmtypes.Address) (*CachedFlow, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	f, ok := t.rows[sender]
	return f, ok
}

// Set records or replaces the cached flow for sender.
func (t *Table) Set(sender evmtypes.Address, f *CachedFlow) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rows[sender] = f
}

// Invalidate removes any record for sender. The listener calls this the
// moment it observes a FlowUpdated event whose new rate no longer matches
// what a route requires.
func (t *Table) Invalidate(sender evmtypes.Address) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.rows, sender)
}
