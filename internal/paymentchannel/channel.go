// Package paymentchannel implements the Payment-Channel scheme: an off-chain
// monotonic balance/nonce ledger backed by an on-chain escrow contract. The
// first request against a channel is validated against the contract; every
// later request is validated purely against the server's own local record,
// which is why the nonce/balance rules below are the entire trust model
// after that first on-chain check.
package paymentchannel

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/evmx402/gateway/internal/chainclient"
	"github.com/evmx402/gateway/internal/evmtypes"
	"github.com/evmx402/gateway/internal/gwerrors"
	"github.com/evmx402/gateway/internal/sigverify"
)

// The minimal view surface of the channel escrow contract the gateway reads
// on first sight of a channel, plus the close entrypoint.
const (
	methodGetChannelInfo = "getChannelInfo"
	methodToken          = "token"
	methodClose          = "close"
)

// maxTimestampSkew bounds how stale a client's X-Timestamp header may be.
const maxTimestampSkew = 300 * time.Second

// Channel is the server's local record of one payment channel's state.
type Channel struct {
	Contract   evmtypes.Address
	Sender     evmtypes.Address
	Recipient  evmtypes.Address
	Balance    evmtypes.U256
	Nonce      evmtypes.U256
	Expiration evmtypes.U256
	ChannelID  evmtypes.U256
}

// Config describes what a route accepts for payment-channel payment.
type Config struct {
	Recipient evmtypes.Address
	Token     evmtypes.Address
	Amount    evmtypes.U256
	// BindRequestBody, when true, requires the signed digest to cover the
	// forwarded request body. Off by default: most deployments forward a
	// fixed or empty body and binding it needlessly couples the channel
	// signature to proxy-internal framing.
	BindRequestBody bool
}

// Request is one client request against a channel.
type Request struct {
	Channel   Channel
	Signature evmtypes.Signature
	Message   [32]byte // the digest the client claims to have signed
	Body      []byte
	Timestamp int64
}

// Verify validates req against the channel table, updating it in place on
// success. It never holds the table lock across a chain RPC: a
// never-before-seen channel is read from chain with the lock released, then
// the lock is re-acquired only to commit.
func Verify(ctx context.Context, client chainclient.Client, table *Table, cfg Config, req Request, now time.Time) (*Channel, error) {
	if err := table.CheckRateLimit(req.Channel.Sender, now.Unix()); err != nil {
		return nil, err
	}

	if now.Unix()-req.Timestamp > int64(maxTimestampSkew.Seconds()) {
		return nil, gwerrors.New(gwerrors.KindTimestampError)
	}

	body := req.Body
	if !cfg.BindRequestBody {
		body = nil
	}
	expected := sigverify.DigestPC(req.Channel.ChannelID, req.Channel.Balance, req.Channel.Nonce, body)
	if expected != req.Message {
		return nil, gwerrors.New(gwerrors.KindInvalidMessage)
	}

	recovered, err := sigverify.RecoverEIP191(req.Message, req.Signature)
	if err != nil || recovered != req.Channel.Sender {
		return nil, gwerrors.New(gwerrors.KindInvalidSignature)
	}

	if req.Channel.Expiration.Cmp(evmtypes.NewU256FromUint64(uint64(now.Unix()))) < 0 {
		return nil, gwerrors.New(gwerrors.KindExpired)
	}

	_, found := table.Get(req.Channel.ChannelID)
	onChainValidated := found
	if !found {
		if err := validateOnChain(ctx, client, &req.Channel, cfg); err != nil {
			return nil, err
		}
		onChainValidated = true
	}

	if req.Channel.Balance.Cmp(cfg.Amount) < 0 {
		return nil, gwerrors.New(gwerrors.KindInsufficientBalance)
	}

	updated := req.Channel
	updated.Balance = updated.Balance.Sub(cfg.Amount)

	// CommitAdvance re-checks the claimed (nonce, balance) against the
	// table's current record atomically under one lock, so two requests
	// racing to advance the same channel to the same next nonce can never
	// both win — the peek above only decides whether on-chain validation
	// was needed, it is not the authoritative check.
	if err := table.CommitAdvance(req.Channel.ChannelID, req.Channel.Nonce, req.Channel.Balance, onChainValidated, &updated); err != nil {
		return nil, err
	}
	table.SetLatestSignature(updated.ChannelID, req.Signature, req.Body)

	return &updated, nil
}

// validateOnChain reads the escrow contract's own view of balance,
// expiration, channel ID, sender, recipient, price, and settlement token
// and checks the client's claimed channel — and the route's configured
// acceptance — against it. The submitted balance is the caller's claimed
// remaining allowance and must be at least the contract's reported balance;
// a submission claiming less than the escrow backs is rejected. Checking
// recipient/price/token against cfg (not just against the claimed Channel)
// is what stops a caller from pointing at a channel that is valid on its
// own terms but pays the wrong party or at the wrong price for this route.
func validateOnChain(ctx context.Context, client chainclient.Client, ch *Channel, cfg Config) error {
	var (
		balance    *big.Int
		expiration *big.Int
		channelID  *big.Int
		sender     common.Address
		recipient  common.Address
		price      *big.Int
	)
	if err := client.CallView(ctx, ch.Contract, methodGetChannelInfo, nil, nil,
		[]string{"uint256", "uint256", "uint256", "address", "address", "uint256"},
		[]any{&balance, &expiration, &channelID, &sender, &recipient, &price},
	); err != nil {
		return err
	}

	onChainBalance, err := u256FromBig(balance)
	if err != nil {
		return gwerrors.Newf(gwerrors.KindContractError, "decoding balance: %v", err)
	}
	if ch.Balance.Cmp(onChainBalance) < 0 {
		return gwerrors.New(gwerrors.KindInsufficientBalance)
	}

	onChainExpiration, err := u256FromBig(expiration)
	if err != nil {
		return gwerrors.Newf(gwerrors.KindContractError, "decoding expiration: %v", err)
	}
	if ch.Expiration.Cmp(onChainExpiration) != 0 {
		return gwerrors.Newf(gwerrors.KindInvalidChannel, "expiration does not match escrow contract")
	}

	onChainID, err := u256FromBig(channelID)
	if err != nil {
		return gwerrors.Newf(gwerrors.KindContractError, "decoding channel id: %v", err)
	}
	if ch.ChannelID.Cmp(onChainID) != 0 {
		return gwerrors.Newf(gwerrors.KindInvalidChannel, "channel id does not match escrow contract")
	}

	if ch.Sender != (evmtypes.Address{Address: sender}) {
		return gwerrors.Newf(gwerrors.KindInvalidChannel, "sender does not match escrow contract")
	}
	if ch.Recipient != (evmtypes.Address{Address: recipient}) || ch.Recipient != cfg.Recipient {
		return gwerrors.Newf(gwerrors.KindInvalidChannel, "recipient does not match escrow contract or route config")
	}

	onChainPrice, err := u256FromBig(price)
	if err != nil {
		return gwerrors.Newf(gwerrors.KindContractError, "decoding price: %v", err)
	}
	if onChainPrice.Cmp(cfg.Amount) != 0 {
		return gwerrors.Newf(gwerrors.KindInvalidChannel, "pricePerRequest %s does not match configured amount %s", onChainPrice, cfg.Amount)
	}

	var token common.Address
	if err := client.CallView(ctx, ch.Contract, methodToken, nil, nil, []string{"address"}, []any{&token}); err != nil {
		return err
	}
	if (evmtypes.Address{Address: token}) != cfg.Token {
		return gwerrors.Newf(gwerrors.KindInvalidChannel, "settlement token 0x%x does not match configured token %s", token, cfg.Token)
	}

	return nil
}

func u256FromBig(v *big.Int) (evmtypes.U256, error) {
	var u evmtypes.U256
	if overflow := u.Int.SetFromBig(v); overflow {
		return evmtypes.U256{}, fmt.Errorf("value %s overflows u256", v)
	}
	return u, nil
}

// Close submits the latest signed channel state to the escrow contract's
// close() method, settling the channel on-chain and releasing the
// recipient's share of the balance.
func Close(ctx context.Context, client chainclient.Client, table *Table, channelID evmtypes.U256, signer chainclient.Signer) (evmtypes.Hash, error) {
	channel, found := table.Get(channelID)
	if !found {
		return evmtypes.Hash{}, gwerrors.New(gwerrors.KindInvalidChannel)
	}
	sig, body, found := table.GetLatestSignature(channelID)
	if !found {
		return evmtypes.Hash{}, gwerrors.New(gwerrors.KindInvalidChannel)
	}

	return client.SendTx(ctx, channel.Contract, methodClose,
		[]string{"uint256", "uint256", "bytes", "bytes"},
		[]any{channel.Balance.Int.ToBig(), channel.Nonce.Int.ToBig(), body, sig[:]},
		signer,
	)
}
