// Package chainclienttest provides a function-field test double for
// chainclient.Client: a stub struct with overridable func fields, so every
// verifier package can exercise its chain-dependent paths without a live
// RPC endpoint.
package chainclienttest

import (
	"context"
	"reflect"

	"github.com/ethereum/go-ethereum"

	"github.com/evmx402/gateway/internal/chainclient"
	"github.com/evmx402/gateway/internal/evmtypes"
)

// Client is a chainclient.Client whose behavior is entirely driven by the
// func fields a test sets. A nil field means "this method is not expected
// to be called in this test" and panics if invoked, surfacing test bugs
// immediately rather than silently returning a zero value.
type Client struct {
	ReceiptFunc   func(ctx context.Context, txHash evmtypes.Hash) (*chainclient.Receipt, error)
	CallViewFunc  func(ctx context.Context, contract evmtypes.Address, method string, inTypes []string, args []any, outTypes []string, out []any) error
	SendTxFunc    func(ctx context.Context, contract evmtypes.Address, method string, inTypes []string, args []any, signer chainclient.Signer) (evmtypes.Hash, error)
	SubscribeFunc func(ctx context.Context, filter chainclient.LogFilter) (<-chan chainclient.Log, ethereum.Subscription, error)
}

func (c *Client) TransactionReceipt(ctx context.Context, txHash evmtypes.Hash) (*chainclient.Receipt, error) {
	if c.ReceiptFunc == nil {
		panic("chainclienttest: ReceiptFunc not set")
	}
	return c.ReceiptFunc(ctx, txHash)
}

func (c *Client) CallView(ctx context.Context, contract evmtypes.Address, method string, inTypes []string, args []any, outTypes []string, out []any) error {
	if c.CallViewFunc == nil {
		panic("chainclienttest: CallViewFunc not set")
	}
	return c.CallViewFunc(ctx, contract, method, inTypes, args, outTypes, out)
}

func (c *Client) SendTx(ctx context.Context, contract evmtypes.Address, method string, inTypes []string, args []any, signer chainclient.Signer) (evmtypes.Hash, error) {
	if c.SendTxFunc == nil {
		panic("chainclienttest: SendTxFunc not set")
	}
	return c.SendTxFunc(ctx, contract, method, inTypes, args, signer)
}

func (c *Client) SubscribeLogs(ctx context.Context, filter chainclient.LogFilter) (<-chan chainclient.Log, ethereum.Subscription, error) {
	if c.SubscribeFunc == nil {
		panic("chainclienttest: SubscribeFunc not set")
	}
	return c.SubscribeFunc(ctx, filter)
}

// AssignOut writes vals into out in order, the same reflect-based pointer
// assignment chainclient.EthClient.CallView performs after an ABI unpack —
// lets a CallViewFunc stub look exactly like a real decoded response.
func AssignOut(out []any, vals ...any) {
	for i, v := range vals {
		reflect.ValueOf(out[i]).Elem().Set(reflect.ValueOf(v))
	}
}

// FakeSubscription is an ethereum.Subscription double whose Err channel a
// test controls directly, for exercising listener restart/backoff logic.
type FakeSubscription struct {
	ErrCh chan error
}

func NewFakeSubscription() *FakeSubscription {
	return &FakeSubscription{ErrCh: make(chan error, 1)}
}

func (s *FakeSubscription) Unsubscribe() {}
func (s *FakeSubscription) Err() <-chan error {
	return s.ErrCh
}
