// Package chainclient is the gateway's facade over a JSON-RPC/WebSocket EVM
// endpoint: transaction receipts, arbitrary contract view calls, contract
// sends, and event-log subscriptions. Verifiers depend on the Client
// interface, never on go-ethereum directly, so they stay testable against a
// fake.
package chainclient

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"reflect"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/evmx402/gateway/internal/evmtypes"
	"github.com/evmx402/gateway/internal/gwerrors"
)

// DefaultCallTimeout bounds every chain RPC the gateway issues on the
// request path, keeping a stalled RPC from hanging a verify call forever.
const DefaultCallTimeout = 5 * time.Second

// Signer signs settlement transactions, e.g. the PC channel-close operation.
type Signer interface {
	Address() evmtypes.Address
	PrivateKey() *ecdsa.PrivateKey
}

// KeySigner is a Signer backed by a raw ECDSA private key, used for the
// gateway's own relayer wallet when it submits a channel close on a client's
// behalf.
type KeySigner struct {
	key  *ecdsa.PrivateKey
	addr evmtypes.Address
}

// NewKeySigner derives the signer's address from a hex-encoded private key.
func NewKeySigner(privateKeyHex string) (*KeySigner, error) {
	key, err := crypto.HexToECDSA(trimHexPrefix(privateKeyHex))
	if err != nil {
		return nil, fmt.Errorf("chainclient: invalid private key: %w", err)
	}
	return &KeySigner{
		key:  key,
		addr: evmtypes.Address{Address: crypto.PubkeyToAddress(key.PublicKey)},
	}, nil
}

func (s *KeySigner) Address() evmtypes.Address    { return s.addr }
func (s *KeySigner) PrivateKey() *ecdsa.PrivateKey { return s.key }

func trimHexPrefix(s string) string {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		return s[2:]
	}
	return s
}

// Client is the set of chain operations a verifier may need. Every method
// takes a context so callers can enforce the gateway's RPC timeout and so
// a client disconnect cancels any in-flight call.
type Client interface {
	// TransactionReceipt fetches the receipt for txHash, or (nil, nil) if
	// the transaction is not (yet) mined.
	TransactionReceipt(ctx context.Context, txHash evmtypes.Hash) (*Receipt, error)

	// CallView invokes a read-only contract method and decodes the result
	// into out, which must be pointers matching outTypes in order.
	CallView(ctx context.Context, contract evmtypes.Address, method string, inTypes []string, args []any, outTypes []string, out []any) error

	// SendTx builds, signs, and submits a contract call, returning the
	// transaction hash once broadcast (not once mined).
	SendTx(ctx context.Context, contract evmtypes.Address, method string, inTypes []string, args []any, signer Signer) (evmtypes.Hash, error)

	// SubscribeLogs opens a live subscription for events matching filter.
	// The returned channel is closed when the subscription ends; callers
	// must drain errs or the subscription goroutine can leak.
	SubscribeLogs(ctx context.Context, filter LogFilter) (<-chan Log, ethereum.Subscription, error)
}

// EthClient is the production Client backed by go-ethereum's ethclient.
type EthClient struct {
	http    *ethclient.Client
	wsURL   string
	chainID *big.Int

	wsMu sync.Mutex
	ws   *ethclient.Client // dialed lazily, only when a subscription is needed
}

// Dial connects to httpURL for calls/sends. wsURL is stored but not dialed
// until the first SubscribeLogs call, since most schemes (OTP, PC) never
// need a live subscription.
func Dial(ctx context.Context, httpURL, wsURL string, chainID *big.Int) (*EthClient, error) {
	c, err := ethclient.DialContext(ctx, httpURL)
	if err != nil {
		return nil, fmt.Errorf("chainclient: dial %s: %w", httpURL, err)
	}
	return &EthClient{http: c, wsURL: wsURL, chainID: chainID}, nil
}

func (c *EthClient) TransactionReceipt(ctx context.Context, txHash evmtypes.Hash) (*Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, DefaultCallTimeout)
	defer cancel()

	receipt, err := c.http.TransactionReceipt(ctx, txHash.Hash)
	if err != nil {
		if err == ethereum.NotFound {
			return nil, nil
		}
		return nil, gwerrors.Newf(gwerrors.KindNetworkError, "%v", err)
	}

	tx, _, err := c.http.TransactionByHash(ctx, txHash.Hash)
	var from common.Address
	if err == nil && tx != nil {
		signer := types.LatestSignerForChainID(c.chainID)
		if addr, sigErr := types.Sender(signer, tx); sigErr == nil {
			from = addr
		}
	}

	out := &Receipt{
		From: evmtypes.Address{Address: from},
		Logs: make([]Log, 0, len(receipt.Logs)),
	}
	if receipt.ContractAddress != (common.Address{}) {
		out.To = evmtypes.Address{Address: receipt.ContractAddress}
	}
	if tx != nil && tx.To() != nil {
		out.To = evmtypes.Address{Address: *tx.To()}
	}

	block, blockErr := c.http.HeaderByNumber(ctx, receipt.BlockNumber)
	var blockTime uint64
	if blockErr == nil && block != nil {
		blockTime = block.Time
	}

	for _, l := range receipt.Logs {
		topics := make([]evmtypes.Hash, 0, len(l.Topics))
		for _, t := range l.Topics {
			topics = append(topics, evmtypes.Hash{Hash: t})
		}
		out.Logs = append(out.Logs, Log{
			Address:        evmtypes.Address{Address: l.Address},
			Topics:         topics,
			Data:           l.Data,
			BlockTimestamp: blockTime,
		})
	}
	return out, nil
}

func (c *EthClient) CallView(ctx context.Context, contract evmtypes.Address, method string, inTypes []string, args []any, outTypes []string, out []any) error {
	ctx, cancel := context.WithTimeout(ctx, DefaultCallTimeout)
	defer cancel()

	data, err := packCall(method, inTypes, args)
	if err != nil {
		return gwerrors.Newf(gwerrors.KindInternalError, "%v", err)
	}

	addr := contract.Address
	result, err := c.http.CallContract(ctx, ethereum.CallMsg{To: &addr, Data: data}, nil)
	if err != nil {
		return gwerrors.Newf(gwerrors.KindContractError, "%v", err)
	}

	outArgs, err := argumentsFor(outTypes)
	if err != nil {
		return gwerrors.Newf(gwerrors.KindInternalError, "%v", err)
	}
	vals, err := outArgs.Unpack(result)
	if err != nil {
		return gwerrors.Newf(gwerrors.KindContractError, "decoding %s result: %v", method, err)
	}
	if len(vals) != len(out) {
		return gwerrors.Newf(gwerrors.KindContractError, "%s returned %d values, want %d", method, len(vals), len(out))
	}
	for i, v := range vals {
		reflect.ValueOf(out[i]).Elem().Set(reflect.ValueOf(v))
	}
	return nil
}

func (c *EthClient) SendTx(ctx context.Context, contract evmtypes.Address, method string, inTypes []string, args []any, signer Signer) (evmtypes.Hash, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*DefaultCallTimeout)
	defer cancel()

	data, err := packCall(method, inTypes, args)
	if err != nil {
		return evmtypes.Hash{}, gwerrors.Newf(gwerrors.KindInternalError, "%v", err)
	}

	from := signer.Address().Address
	to := contract.Address

	nonce, err := c.http.PendingNonceAt(ctx, from)
	if err != nil {
		return evmtypes.Hash{}, gwerrors.Newf(gwerrors.KindNetworkError, "pending nonce: %v", err)
	}

	gasLimit := uint64(200_000)
	if est, estErr := c.http.EstimateGas(ctx, ethereum.CallMsg{From: from, To: &to, Data: data}); estErr == nil {
		gasLimit = est * 12 / 10
	}

	header, err := c.http.HeaderByNumber(ctx, nil)
	if err != nil {
		return evmtypes.Hash{}, gwerrors.Newf(gwerrors.KindNetworkError, "latest header: %v", err)
	}
	tip := big.NewInt(1e9)
	feeCap := new(big.Int).Add(header.BaseFee, tip)

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   c.chainID,
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Gas:       gasLimit,
		To:        &to,
		Value:     new(big.Int),
		Data:      data,
	})

	signed, err := types.SignTx(tx, types.NewLondonSigner(c.chainID), signer.PrivateKey())
	if err != nil {
		return evmtypes.Hash{}, gwerrors.Newf(gwerrors.KindInternalError, "signing tx: %v", err)
	}

	if err := c.http.SendTransaction(ctx, signed); err != nil {
		return evmtypes.Hash{}, gwerrors.Newf(gwerrors.KindContractError, "sending tx: %v", err)
	}

	return evmtypes.Hash{Hash: signed.Hash()}, nil
}

func (c *EthClient) SubscribeLogs(ctx context.Context, filter LogFilter) (<-chan Log, ethereum.Subscription, error) {
	ws, err := c.wsClient(ctx)
	if err != nil {
		return nil, nil, err
	}

	q := ethereum.FilterQuery{
		Addresses: []common.Address{filter.Address.Address},
		Topics:    [][]common.Hash{{filter.Topic0.Hash}},
	}
	if filter.Topic1 != nil {
		q.Topics = append(q.Topics, []common.Hash{filter.Topic1.Hash})
	} else {
		q.Topics = append(q.Topics, nil)
	}
	q.Topics = append(q.Topics, nil) // topic2 unconstrained (sender)
	if filter.Topic3 != nil {
		q.Topics = append(q.Topics, []common.Hash{filter.Topic3.Hash})
	}

	raw := make(chan types.Log)
	sub, err := ws.SubscribeFilterLogs(ctx, q, raw)
	if err != nil {
		return nil, nil, gwerrors.Newf(gwerrors.KindNetworkError, "subscribing logs: %v", err)
	}

	out := make(chan Log)
	go func() {
		defer close(out)
		for l := range raw {
			topics := make([]evmtypes.Hash, 0, len(l.Topics))
			for _, t := range l.Topics {
				topics = append(topics, evmtypes.Hash{Hash: t})
			}
			out <- Log{
				Address: evmtypes.Address{Address: l.Address},
				Topics:  topics,
				Data:    l.Data,
			}
		}
	}()

	return out, sub, nil
}

// wsClient dials the WS endpoint on first use and reuses it afterwards.
func (c *EthClient) wsClient(ctx context.Context) (*ethclient.Client, error) {
	c.wsMu.Lock()
	defer c.wsMu.Unlock()
	if c.ws != nil {
		return c.ws, nil
	}
	wsClient, err := ethclient.DialContext(ctx, c.wsURL)
	if err != nil {
		return nil, gwerrors.Newf(gwerrors.KindNetworkError, "dialing ws %s: %v", c.wsURL, err)
	}
	c.ws = wsClient
	return c.ws, nil
}

func packCall(method string, inTypes []string, args []any) ([]byte, error) {
	selector := methodSelector(method, inTypes)
	if len(inTypes) == 0 {
		return selector, nil
	}
	inArgs, err := argumentsFor(inTypes)
	if err != nil {
		return nil, err
	}
	packed, err := inArgs.Pack(args...)
	if err != nil {
		return nil, fmt.Errorf("packing %s args: %w", method, err)
	}
	return append(selector, packed...), nil
}

func methodSelector(method string, inTypes []string) []byte {
	sig := method + "(" + joinTypes(inTypes) + ")"
	return crypto.Keccak256([]byte(sig))[:4]
}

func joinTypes(types []string) string {
	out := ""
	for i, t := range types {
		if i > 0 {
			out += ","
		}
		out += t
	}
	return out
}

func argumentsFor(types []string) (abi.Arguments, error) {
	args := make(abi.Arguments, 0, len(types))
	for _, t := range types {
		abiType, err := abi.NewType(t, "", nil)
		if err != nil {
			return nil, fmt.Errorf("abi type %q: %w", t, err)
		}
		args = append(args, abi.Argument{Type: abiType})
	}
	return args, nil
}
