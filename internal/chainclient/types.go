package chainclient

import (
	"github.com/evmx402/gateway/internal/evmtypes"
)

// Log is a single EVM event log entry, the shape the gateway needs from
// both transaction receipts (OTP) and live subscriptions (CS).
type Log struct {
	Address        evmtypes.Address
	Topics         []evmtypes.Hash
	Data           []byte
	BlockTimestamp uint64
}

// Receipt is the subset of an Ethereum transaction receipt the OTP verifier
// needs: who sent it, what contract it called, and what it logged.
type Receipt struct {
	From evmtypes.Address
	To   evmtypes.Address
	Logs []Log
}

// LogFilter selects which FlowUpdated-style events a subscription streams.
type LogFilter struct {
	Address evmtypes.Address
	Topic0  evmtypes.Hash
	Topic1  *evmtypes.Hash
	Topic3  *evmtypes.Hash
}
