package otp

import (
	"context"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evmx402/gateway/internal/chainclient"
	"github.com/evmx402/gateway/internal/chainclient/chainclienttest"
	"github.com/evmx402/gateway/internal/evmtypes"
	"github.com/evmx402/gateway/internal/gwerrors"
	"github.com/evmx402/gateway/internal/sigverify"
)

func mustHash(t *testing.T, lastByte byte) evmtypes.Hash {
	t.Helper()
	b := make([]byte, 32)
	b[31] = lastByte
	var h evmtypes.Hash
	h.Hash.SetBytes(b)
	return h
}

func mustAddress(t *testing.T, priv []byte) evmtypes.Address {
	t.Helper()
	key, err := crypto.ToECDSA(priv)
	require.NoError(t, err)
	return evmtypes.Address{Address: crypto.PubkeyToAddress(key.PublicKey)}
}

func signTxHash(t *testing.T, privKey []byte, txHash evmtypes.Hash) evmtypes.Signature {
	t.Helper()
	digest := sigverify.DigestOTP(txHash)
	priv, err := crypto.ToECDSA(privKey)
	require.NoError(t, err)

	prefixed := crypto.Keccak256(append([]byte("\x19Ethereum Signed Message:\n32"), digest[:]...))
	raw, err := crypto.Sign(prefixed, priv)
	require.NoError(t, err)

	var sig evmtypes.Signature
	copy(sig[:], raw)
	sig[64] += 27
	return sig
}

// transferLog builds a Receipt containing one ERC-20 Transfer log paying
// amount to recipient from the token contract, stamped with blockTimestamp
// as the block the transfer was mined in.
func transferLog(token, recipient evmtypes.Address, from evmtypes.Address, amount evmtypes.U256, blockTimestamp uint64) *chainclient.Receipt {
	toTopic := evmtypes.Hash{}
	copy(toTopic.Hash[12:], recipient.Address[:])
	fromTopic := evmtypes.Hash{}
	copy(fromTopic.Hash[12:], from.Address[:])

	topic0, err := evmtypes.ParseHash(erc20TransferEventTopic0)
	if err != nil {
		panic(err)
	}

	return &chainclient.Receipt{
		From: from,
		To:   token,
		Logs: []chainclient.Log{
			{
				Address:        token,
				Topics:         []evmtypes.Hash{topic0, fromTopic, toTopic},
				Data:           amount.Int.PaddedBytes(32),
				BlockTimestamp: blockTimestamp,
			},
		},
	}
}

func TestVerify_FirstSight_ValidTransferGrantsAccess(t *testing.T) {
	priv, err := crypto.GenerateKey()
	require.NoError(t, err)
	privBytes := crypto.FromECDSA(priv)
	sender := mustAddress(t, privBytes)

	token, err := evmtypes.ParseAddress("0x036CbD53842c5426634E7929541eC2318f3dCF7e")
	require.NoError(t, err)
	recipient, err := evmtypes.ParseAddress("0x62c49ffA1124a392Ef2c1Fb96e21a1b20BDF33bf")
	require.NoError(t, err)
	amount := evmtypes.NewU256FromUint64(1_000_000)

	txHash := mustHash(t, 0x01)
	sig := signTxHash(t, privBytes, txHash)

	client := &chainclienttest.Client{
		ReceiptFunc: func(ctx context.Context, h evmtypes.Hash) (*chainclient.Receipt, error) {
			assert.Equal(t, txHash, h)
			return transferLog(token, recipient, sender, amount, 1_699_999_990), nil
		},
	}

	table := NewTable()
	cfg := Config{Recipient: recipient, Token: token, Amount: amount, MaxRedemptions: 3}
	req := Request{TxHash: txHash, Signature: sig}

	err = Verify(context.Background(), client, table, cfg, req, time.Unix(1_700_000_000, 0))
	require.NoError(t, err)

	p, ok := table.Get(txHash)
	require.True(t, ok)
	assert.Equal(t, sender, p.Sender)
	assert.Equal(t, int64(1_699_999_990), p.PaymentTimestamp)
	assert.Equal(t, 1, p.Redemptions)
}

// TestVerify_FirstSight_StaleTransfer_Rejected checks that a transfer whose
// block timestamp is already outside ABS_WINDOW is rejected on first sight,
// never inserted into the table at all.
func TestVerify_FirstSight_StaleTransfer_Rejected(t *testing.T) {
	priv, err := crypto.GenerateKey()
	require.NoError(t, err)
	privBytes := crypto.FromECDSA(priv)
	sender := mustAddress(t, privBytes)

	token, _ := evmtypes.ParseAddress("0x036CbD53842c5426634E7929541eC2318f3dCF7e")
	recipient, _ := evmtypes.ParseAddress("0x62c49ffA1124a392Ef2c1Fb96e21a1b20BDF33bf")
	amount := evmtypes.NewU256FromUint64(1_000_000)

	txHash := mustHash(t, 0x09)
	sig := signTxHash(t, privBytes, txHash)

	// Mined 3 days ago, outside the default 2-day ABS_WINDOW.
	staleBlockTime := uint64(1_700_000_000 - 3*86400)
	client := &chainclienttest.Client{
		ReceiptFunc: func(ctx context.Context, h evmtypes.Hash) (*chainclient.Receipt, error) {
			return transferLog(token, recipient, sender, amount, staleBlockTime), nil
		},
	}

	table := NewTable()
	cfg := Config{Recipient: recipient, Token: token, Amount: amount, MaxRedemptions: 3}
	req := Request{TxHash: txHash, Signature: sig}

	err = Verify(context.Background(), client, table, cfg, req, time.Unix(1_700_000_000, 0))
	require.Error(t, err)
	assert.True(t, gwerrors.Is(err, gwerrors.KindInvalidTransaction))

	_, ok := table.Get(txHash)
	assert.False(t, ok, "a stale first-sight payment must never be inserted")
}

func TestVerify_CachedPath_SkipsChainCall(t *testing.T) {
	txHash := mustHash(t, 0x02)
	table := NewTable()
	table.Set(txHash, &Payment{PaymentTimestamp: 1_700_000_000})

	client := &chainclienttest.Client{
		ReceiptFunc: func(ctx context.Context, h evmtypes.Hash) (*chainclient.Receipt, error) {
			t.Fatal("must not hit the chain when the tx hash is already cached")
			return nil, nil
		},
	}

	cfg := Config{MaxRedemptions: 3}
	req := Request{TxHash: txHash}

	err := Verify(context.Background(), client, table, cfg, req, time.Unix(1_700_000_100, 0))
	require.NoError(t, err)

	p, _ := table.Get(txHash)
	assert.Equal(t, 1, p.Redemptions)
}

func TestVerify_OverRedeemed_Rejected(t *testing.T) {
	txHash := mustHash(t, 0x03)
	table := NewTable()
	table.Set(txHash, &Payment{PaymentTimestamp: 1_700_000_000, FirstRedeemed: 1_700_000_000, Redemptions: 3})

	cfg := Config{MaxRedemptions: 3}
	req := Request{TxHash: txHash}

	err := Verify(context.Background(), &chainclienttest.Client{}, table, cfg, req, time.Unix(1_700_000_100, 0))
	require.Error(t, err)
	assert.True(t, gwerrors.Is(err, gwerrors.KindInvalidTransaction))
}

func TestVerify_OutsideAbsWindow_Rejected(t *testing.T) {
	txHash := mustHash(t, 0x04)
	table := NewTable()
	table.Set(txHash, &Payment{PaymentTimestamp: 1_700_000_000})

	cfg := Config{MaxRedemptions: 3, AbsWindow: 10 * time.Second}
	req := Request{TxHash: txHash}

	err := Verify(context.Background(), &chainclienttest.Client{}, table, cfg, req, time.Unix(1_700_000_100, 0))
	require.Error(t, err)
	assert.True(t, gwerrors.Is(err, gwerrors.KindInvalidTransaction))
}

func TestVerify_OutsideSessionTTL_AfterFirstRedemption_Rejected(t *testing.T) {
	txHash := mustHash(t, 0x05)
	table := NewTable()
	table.Set(txHash, &Payment{PaymentTimestamp: 1_700_000_000, FirstRedeemed: 1_700_000_000, Redemptions: 1})

	cfg := Config{MaxRedemptions: 3, SessionTTL: 10 * time.Second}
	req := Request{TxHash: txHash}

	err := Verify(context.Background(), &chainclienttest.Client{}, table, cfg, req, time.Unix(1_700_000_100, 0))
	require.Error(t, err)
	assert.True(t, gwerrors.Is(err, gwerrors.KindInvalidTransaction))
}

func TestVerify_WrongSigner_Rejected(t *testing.T) {
	signerKey, err := crypto.GenerateKey()
	require.NoError(t, err)
	otherKey, err := crypto.GenerateKey()
	require.NoError(t, err)

	txHash := mustHash(t, 0x06)
	sig := signTxHash(t, crypto.FromECDSA(otherKey), txHash)

	token, _ := evmtypes.ParseAddress("0x036CbD53842c5426634E7929541eC2318f3dCF7e")
	recipient, _ := evmtypes.ParseAddress("0x62c49ffA1124a392Ef2c1Fb96e21a1b20BDF33bf")
	amount := evmtypes.NewU256FromUint64(1_000_000)

	client := &chainclienttest.Client{
		ReceiptFunc: func(ctx context.Context, h evmtypes.Hash) (*chainclient.Receipt, error) {
			sender := evmtypes.Address{Address: crypto.PubkeyToAddress(signerKey.PublicKey)}
			return transferLog(token, recipient, sender, amount, 1_699_999_990), nil
		},
	}

	table := NewTable()
	cfg := Config{Recipient: recipient, Token: token, Amount: amount}
	req := Request{TxHash: txHash, Signature: sig}

	err = Verify(context.Background(), client, table, cfg, req, time.Unix(1_700_000_000, 0))
	require.Error(t, err)
	assert.True(t, gwerrors.Is(err, gwerrors.KindInvalidSignature))
}

func TestVerify_TransactionNotFound_Rejected(t *testing.T) {
	priv, err := crypto.GenerateKey()
	require.NoError(t, err)
	txHash := mustHash(t, 0x07)
	sig := signTxHash(t, crypto.FromECDSA(priv), txHash)

	client := &chainclienttest.Client{
		ReceiptFunc: func(ctx context.Context, h evmtypes.Hash) (*chainclient.Receipt, error) {
			return nil, nil
		},
	}

	table := NewTable()
	err = Verify(context.Background(), client, table, Config{}, Request{TxHash: txHash, Signature: sig}, time.Unix(1_700_000_000, 0))
	require.Error(t, err)
	assert.True(t, gwerrors.Is(err, gwerrors.KindTransactionNotFound))
}

// TestVerify_ConcurrentRedemptions_NeverExceedsMax drives many goroutines at
// the same cached payment and checks the redemption counter never overruns
// MaxRedemptions, the monotonicity property the table's locking exists to
// guarantee under concurrent request handling.
func TestVerify_ConcurrentRedemptions_NeverExceedsMax(t *testing.T) {
	txHash := mustHash(t, 0x08)
	table := NewTable()
	table.Set(txHash, &Payment{PaymentTimestamp: 1_700_000_000})

	cfg := Config{MaxRedemptions: 3, SessionTTL: time.Hour}
	req := Request{TxHash: txHash}
	now := time.Unix(1_700_000_050, 0)

	const workers = 50
	results := make(chan error, workers)
	for i := 0; i < workers; i++ {
		go func() {
			results <- Verify(context.Background(), &chainclienttest.Client{}, table, cfg, req, now)
		}()
	}

	successes := 0
	for i := 0; i < workers; i++ {
		if <-results == nil {
			successes++
		}
	}

	p, _ := table.Get(txHash)
	assert.Equal(t, cfg.MaxRedemptions, p.Redemptions,
		"exactly MaxRedemptions increments must win the race, never more")
	assert.Equal(t, cfg.MaxRedemptions, successes)
}
