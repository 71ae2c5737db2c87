// Package otp implements the One-Time-Payment scheme: a client proves
// control of a completed ERC-20 transfer by signing its transaction hash,
// then may re-use that same proof for a bounded number of redemptions
// within a bounded time window, without re-touching the chain each time.
package otp

import (
	"context"
	"time"

	"github.com/evmx402/gateway/internal/chainclient"
	"github.com/evmx402/gateway/internal/evmtypes"
	"github.com/evmx402/gateway/internal/gwerrors"
	"github.com/evmx402/gateway/internal/sigverify"
)

// Default tunables, overridable per route via Config.
const (
	DefaultAbsWindow      = 172800 * time.Second // 2 days: payment must be redeemed within this window of itself
	DefaultSessionTTL     = 3600 * time.Second   // 1 hour: once a session starts, it's valid this long
	DefaultMaxRedemptions = 3
)

// Config describes what a route accepts for OTP payment: which token and
// recipient a payment must be made to, and the redemption bounds for that
// route. Zero-value duration/count fields fall back to the package defaults.
type Config struct {
	Recipient      evmtypes.Address
	Token          evmtypes.Address
	Amount         evmtypes.U256
	AbsWindow      time.Duration
	SessionTTL     time.Duration
	MaxRedemptions int
}

func (c Config) absWindow() time.Duration {
	if c.AbsWindow > 0 {
		return c.AbsWindow
	}
	return DefaultAbsWindow
}

func (c Config) sessionTTL() time.Duration {
	if c.SessionTTL > 0 {
		return c.SessionTTL
	}
	return DefaultSessionTTL
}

func (c Config) maxRedemptions() int {
	if c.MaxRedemptions > 0 {
		return c.MaxRedemptions
	}
	return DefaultMaxRedemptions
}

// Payment is the state the gateway keeps for one previously-verified
// transaction, keyed by its hash.
type Payment struct {
	Sender           evmtypes.Address
	PaymentTimestamp int64
	FirstRedeemed    int64 // 0 until the first redemption happens
	Redemptions      int
}

// Request is the parsed content of a client's OTP payment headers.
type Request struct {
	TxHash    evmtypes.Hash
	Signature evmtypes.Signature
}

// erc20TransferEventTopic0 is keccak256("Transfer(address,address,uint256)"),
// the standard ERC-20 Transfer event signature every compliant token emits.
const erc20TransferEventTopic0 = "0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef"

// Verify checks req against cfg, consulting table for a fast-path redemption
// and falling back to an on-chain receipt fetch the first time a tx hash is
// seen. now is injected so tests can control elapsed time.
func Verify(ctx context.Context, client chainclient.Client, table *Table, cfg Config, req Request, now time.Time) error {
	nowUnix := now.Unix()

	if _, ok := table.Get(req.TxHash); ok {
		return table.TryRedeem(req.TxHash, cfg, nowUnix)
	}

	digest := sigverify.DigestOTP(req.TxHash)
	recovered, err := sigverify.RecoverEIP191(digest, req.Signature)
	if err != nil {
		return gwerrors.Newf(gwerrors.KindInvalidSignature, "%v", err)
	}

	receipt, err := client.TransactionReceipt(ctx, req.TxHash)
	if err != nil {
		return err
	}
	if receipt == nil {
		return gwerrors.New(gwerrors.KindTransactionNotFound)
	}
	if receipt.From != recovered {
		return gwerrors.New(gwerrors.KindInvalidSignature)
	}
	if receipt.To != cfg.Token {
		return gwerrors.New(gwerrors.KindInvalidTransaction)
	}

	blockTimestamp, err := verifyTransferLog(receipt, cfg)
	if err != nil {
		return err
	}
	// The payment itself must not be stale, independent of the
	// redemption-window check TryRedeem performs against this same
	// PaymentTimestamp on every later redemption.
	if nowUnix-int64(blockTimestamp) > int64(cfg.absWindow().Seconds()) {
		return gwerrors.Newf(gwerrors.KindInvalidTransaction, "payment is outside the absolute redemption window")
	}

	payment := &Payment{Sender: recovered, PaymentTimestamp: int64(blockTimestamp)}
	table.SetIfAbsent(req.TxHash, payment)
	return table.TryRedeem(req.TxHash, cfg, nowUnix)
}

// verifyTransferLog checks the receipt's first log is the token's own ERC-20
// Transfer paying cfg.Amount to cfg.Recipient, returning the log's block
// timestamp (the payment's actual on-chain settlement time, per the data
// model's `payment_timestamp = log.block_timestamp`, never the time the
// gateway happens to process it). Only the first log counts: a plain
// transfer emits exactly one, and anything more elaborate is not the
// payment shape this scheme accepts. Transfer(address indexed from, address
// indexed to, uint256 value) packs `to` as topic[2] and `value` as
// unindexed data.
func verifyTransferLog(receipt *chainclient.Receipt, cfg Config) (uint64, error) {
	if len(receipt.Logs) == 0 {
		return 0, gwerrors.Newf(gwerrors.KindInvalidTransaction, "transaction emitted no logs")
	}
	l := receipt.Logs[0]
	if l.Address != cfg.Token {
		return 0, gwerrors.Newf(gwerrors.KindInvalidTransaction, "first log not emitted by the payment token")
	}
	if len(l.Topics) < 3 || l.Topics[0].String() != erc20TransferEventTopic0 {
		return 0, gwerrors.Newf(gwerrors.KindInvalidTransaction, "first log is not an ERC-20 transfer")
	}
	to := evmtypes.Address{}
	copy(to.Address[:], l.Topics[2].Bytes()[12:])
	if to != cfg.Recipient {
		return 0, gwerrors.Newf(gwerrors.KindInvalidTransaction, "transfer recipient mismatch")
	}

	amount, err := evmtypes.U256FromBytes(l.Data)
	if err != nil || amount.Cmp(cfg.Amount) != 0 {
		return 0, gwerrors.Newf(gwerrors.KindInvalidTransaction, "transfer amount mismatch")
	}
	return l.BlockTimestamp, nil
}

func isRedeemable(p *Payment, cfg Config, now int64) bool {
	if p.Redemptions >= cfg.maxRedemptions() {
		return false
	}
	if now > p.PaymentTimestamp+int64(cfg.absWindow().Seconds()) {
		return false
	}
	if p.FirstRedeemed == 0 {
		return true
	}
	return now <= p.FirstRedeemed+int64(cfg.sessionTTL().Seconds())
}
