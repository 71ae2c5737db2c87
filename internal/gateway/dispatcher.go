// Package gateway implements the dispatcher middleware: it parses the
// inbound X-PAYMENT header, selects the matching scheme acceptance for the
// route, delegates to the matching verifier, and turns the result into
// either a pass-through to the downstream handler or a 402 rejection.
package gateway

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/evmx402/gateway/internal/chainclient"
	"github.com/evmx402/gateway/internal/config"
	"github.com/evmx402/gateway/internal/evmtypes"
	"github.com/evmx402/gateway/internal/gwerrors"
	"github.com/evmx402/gateway/internal/httpx"
	"github.com/evmx402/gateway/internal/otp"
	"github.com/evmx402/gateway/internal/paymentchannel"
	"github.com/evmx402/gateway/internal/stream"
)

// paymentHeaderName is the inbound request header carrying the payment
// proof (§6).
const paymentHeaderName = "X-PAYMENT"

// DefaultChainCallTimeout bounds the whole verify-plus-chain-call path per
// request, independent of any per-call timeout chainclient itself enforces.
const DefaultChainCallTimeout = 5 * time.Second

// Dispatcher is the gateway's http.Handler: every protected route is
// reached only by passing through it first.
type Dispatcher struct {
	registry         *Registry
	next             http.Handler
	chainCallTimeout time.Duration
	clock            func() time.Time
}

// New builds a Dispatcher guarding next with the routes and shared state
// held in registry.
func New(registry *Registry, next http.Handler) *Dispatcher {
	return &Dispatcher{
		registry:         registry,
		next:             next,
		chainCallTimeout: DefaultChainCallTimeout,
		clock:            time.Now,
	}
}

// WithChainCallTimeout overrides the default bound on the verify-plus-chain
// path, returning d for construction-time chaining.
func (d *Dispatcher) WithChainCallTimeout(timeout time.Duration) *Dispatcher {
	if timeout > 0 {
		d.chainCallTimeout = timeout
	}
	return d
}

// ServeHTTP implements http.Handler.
func (d *Dispatcher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqID := uuid.NewString()
	logger := slog.With("request_id", reqID, "path", r.URL.Path)

	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("gateway: recovered panic in request path", "panic", rec)
			httpx.JSON(w, http.StatusInternalServerError, paymentRequiredResponse{
				X402Version: x402Version,
				Error:       "internal error",
			})
		}
	}()

	raw := r.Header.Get(paymentHeaderName)
	if raw == "" {
		d.reject(w, r, logger, gwerrors.New(gwerrors.KindMissingHeaders))
		return
	}

	var hdr paymentHeader
	if err := json.Unmarshal([]byte(raw), &hdr); err != nil {
		d.reject(w, r, logger, gwerrors.Newf(gwerrors.KindInvalidHeaders, "malformed X-PAYMENT: %v", err))
		return
	}
	if hdr.X402Version != x402Version {
		d.reject(w, r, logger, gwerrors.Newf(gwerrors.KindInvalidHeaders, "unsupported x402Version %d", hdr.X402Version))
		return
	}

	accept, ok := d.registry.Routes.Match(r.URL.Path, hdr.Scheme)
	if !ok {
		d.reject(w, r, logger, gwerrors.New(gwerrors.KindSchemeNotAccepted))
		return
	}
	logger = logger.With("scheme", string(hdr.Scheme), "network", accept.Network, "chain", accept.ChainName)

	ctx, cancel := context.WithTimeout(r.Context(), d.chainCallTimeout)
	defer cancel()

	client, err := d.registry.clientFor(ctx, accept)
	if err != nil {
		logger.Error("gateway: chain client unavailable", "err", err)
		d.reject(w, r, logger, gwerrors.Newf(gwerrors.KindNetworkError, "%v", err))
		return
	}

	switch hdr.Scheme {
	case config.SchemeOneTime:
		d.handleOTP(ctx, w, r, logger, client, accept, hdr.Payload)
	case config.SchemeChannel:
		d.handlePC(ctx, w, r, logger, client, accept, hdr.Payload)
	case config.SchemeStream:
		d.handleCS(ctx, w, r, logger, client, accept, hdr.Payload)
	default:
		d.reject(w, r, logger, gwerrors.Newf(gwerrors.KindInvalidHeaders, "unknown scheme %q", hdr.Scheme))
	}
}

func (d *Dispatcher) handleOTP(ctx context.Context, w http.ResponseWriter, r *http.Request, logger *slog.Logger, client chainclient.Client, accept config.Acceptance, payload json.RawMessage) {
	var p otpPayloadWire
	if err := json.Unmarshal(payload, &p); err != nil {
		d.reject(w, r, logger, gwerrors.Newf(gwerrors.KindInvalidHeaders, "one-time payload: %v", err))
		return
	}
	sig, err := evmtypes.ParseSignature(p.Signature)
	if err != nil {
		d.reject(w, r, logger, gwerrors.Newf(gwerrors.KindInvalidHeaders, "signature: %v", err))
		return
	}
	txHash, err := evmtypes.ParseHash(p.TxHash)
	if err != nil {
		d.reject(w, r, logger, gwerrors.Newf(gwerrors.KindInvalidHeaders, "tx_hash: %v", err))
		return
	}
	amount, err := accept.BaseUnits()
	if err != nil {
		d.reject(w, r, logger, gwerrors.Newf(gwerrors.KindInternalError, "%v", err))
		return
	}

	cfg := otp.Config{
		Recipient:      accept.Recipient,
		Token:          accept.Token,
		Amount:         amount,
		AbsWindow:      durationOf(accept.AbsWindowSeconds),
		SessionTTL:     durationOf(accept.SessionTTLSeconds),
		MaxRedemptions: accept.MaxRedemptions,
	}
	req := otp.Request{TxHash: txHash, Signature: sig}

	if err := otp.Verify(ctx, client, d.registry.OTPTable, cfg, req, d.clock()); err != nil {
		d.reject(w, r, logger, err)
		return
	}

	logger.Info("one-time payment accepted", "tx_hash", txHash.String())
	d.next.ServeHTTP(w, r)
}

func (d *Dispatcher) handlePC(ctx context.Context, w http.ResponseWriter, r *http.Request, logger *slog.Logger, client chainclient.Client, accept config.Acceptance, payload json.RawMessage) {
	var p pcPayloadWire
	if err := json.Unmarshal(payload, &p); err != nil {
		d.reject(w, r, logger, gwerrors.Newf(gwerrors.KindInvalidHeaders, "channel payload: %v", err))
		return
	}

	sig, err := evmtypes.ParseSignature(p.Signature)
	if err != nil {
		d.reject(w, r, logger, gwerrors.Newf(gwerrors.KindInvalidHeaders, "signature: %v", err))
		return
	}
	msgBytes, err := decodeHex(p.Message)
	if err != nil || len(msgBytes) != 32 {
		d.reject(w, r, logger, gwerrors.New(gwerrors.KindInvalidMessage))
		return
	}
	var msg [32]byte
	copy(msg[:], msgBytes)

	channel, err := parseChannelWire(p.PaymentChannel)
	if err != nil {
		d.reject(w, r, logger, gwerrors.Newf(gwerrors.KindInvalidHeaders, "payment_channel: %v", err))
		return
	}

	var body []byte
	if accept.BindRequestBody {
		raw, readErr := io.ReadAll(r.Body)
		_ = r.Body.Close()
		if readErr != nil {
			d.reject(w, r, logger, gwerrors.Newf(gwerrors.KindInvalidHeaders, "reading request body: %v", readErr))
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(raw))
		body = raw
	}

	cfg := paymentchannel.Config{
		Recipient:       accept.Recipient,
		Token:           accept.Token,
		Amount:          mustAmount(accept),
		BindRequestBody: accept.BindRequestBody,
	}
	req := paymentchannel.Request{
		Channel:   channel,
		Signature: sig,
		Message:   msg,
		Body:      body,
		Timestamp: p.Timestamp,
	}

	updated, err := paymentchannel.Verify(ctx, client, d.registry.PCTable, cfg, req, d.clock())
	if err != nil {
		d.reject(w, r, logger, err)
		return
	}

	outJSON, marshalErr := json.Marshal(channelWireOut{
		Address:    updated.Contract.String(),
		Sender:     updated.Sender.String(),
		Recipient:  updated.Recipient.String(),
		Balance:    updated.Balance.String(),
		Nonce:      updated.Nonce.String(),
		Expiration: updated.Expiration.String(),
		ChannelID:  updated.ChannelID.String(),
	})
	if marshalErr == nil {
		w.Header().Set(paymentHeaderName, string(outJSON))
	}
	w.Header().Set("X-TIMESTAMP", strconv.FormatInt(d.clock().Unix(), 10))

	logger.Info("channel payment accepted", "channel_id", updated.ChannelID.String(), "nonce", updated.Nonce.String())
	d.next.ServeHTTP(w, r)
}

func (d *Dispatcher) handleCS(ctx context.Context, w http.ResponseWriter, r *http.Request, logger *slog.Logger, client chainclient.Client, accept config.Acceptance, payload json.RawMessage) {
	var p csPayloadWire
	if err := json.Unmarshal(payload, &p); err != nil {
		d.reject(w, r, logger, gwerrors.Newf(gwerrors.KindInvalidHeaders, "stream payload: %v", err))
		return
	}
	sig, err := evmtypes.ParseSignature(p.Signature)
	if err != nil {
		d.reject(w, r, logger, gwerrors.Newf(gwerrors.KindInvalidHeaders, "signature: %v", err))
		return
	}
	sender, err := evmtypes.ParseAddress(p.Sender)
	if err != nil {
		d.reject(w, r, logger, gwerrors.New(gwerrors.KindInvalidSender))
		return
	}

	rate, err := accept.MonthlyFlowRate()
	if err != nil {
		d.reject(w, r, logger, gwerrors.Newf(gwerrors.KindInternalError, "%v", err))
		return
	}

	cfg := stream.Config{
		CFAForwarder: accept.CFAForwarder,
		Token:        accept.Token,
		Recipient:    accept.Recipient,
		FlowRate:     rate,
		CacheTTL:     durationOf(accept.CacheTTLSeconds),
		EventSource:  accept.EventSource,
	}
	req := stream.Request{Sender: sender, Signature: sig}
	listener := d.registry.listenerManagerFor(client, accept.RPCURL)

	if err := stream.Verify(ctx, client, d.registry.CSTable, listener, cfg, req, d.clock()); err != nil {
		d.reject(w, r, logger, err)
		return
	}

	logger.Info("stream payment accepted", "sender", sender.String())
	d.next.ServeHTTP(w, r)
}

// reject writes the 402 rejection body, logging the kind/detail for
// observability but never the internal error chain beyond what gwerrors
// already sanitizes into Detail.
func (d *Dispatcher) reject(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	gerr := asGatewayError(err)
	logger.Warn("payment rejected", "kind", gerr.Kind.String(), "detail", gerr.Detail)

	list, _ := d.registry.Routes.For(r.URL.Path)
	accepts := make([]acceptEntry, 0, len(list))
	for _, a := range list {
		accepts = append(accepts, acceptEntryFor(a))
	}

	httpx.JSON(w, http.StatusPaymentRequired, paymentRequiredResponse{
		X402Version: x402Version,
		Accepts:     accepts,
		Error:       gerr.Error(),
	})
}

func asGatewayError(err error) *gwerrors.Error {
	var gerr *gwerrors.Error
	if errors.As(err, &gerr) {
		return gerr
	}
	return gwerrors.Newf(gwerrors.KindInternalError, "%v", err)
}

func parseChannelWire(c channelWire) (paymentchannel.Channel, error) {
	contract, err := evmtypes.ParseAddress(c.Address)
	if err != nil {
		return paymentchannel.Channel{}, err
	}
	sender, err := evmtypes.ParseAddress(c.Sender)
	if err != nil {
		return paymentchannel.Channel{}, err
	}
	recipient, err := evmtypes.ParseAddress(c.Recipient)
	if err != nil {
		return paymentchannel.Channel{}, err
	}
	balance, err := parseHexOrU256(c.Balance)
	if err != nil {
		return paymentchannel.Channel{}, err
	}
	nonce, err := parseHexOrU256(c.Nonce)
	if err != nil {
		return paymentchannel.Channel{}, err
	}
	expiration, err := parseHexOrU256(c.Expiration)
	if err != nil {
		return paymentchannel.Channel{}, err
	}
	channelID, err := parseHexOrU256(c.ChannelID)
	if err != nil {
		return paymentchannel.Channel{}, err
	}
	return paymentchannel.Channel{
		Contract:   contract,
		Sender:     sender,
		Recipient:  recipient,
		Balance:    balance,
		Nonce:      nonce,
		Expiration: expiration,
		ChannelID:  channelID,
	}, nil
}

func mustAmount(a config.Acceptance) evmtypes.U256 {
	amount, err := a.BaseUnits()
	if err != nil {
		// Validate() already rejects acceptances whose Amount/Decimals
		// can't scale at startup; reaching here means that invariant broke.
		return evmtypes.U256{}
	}
	return amount
}

func durationOf(seconds int) time.Duration {
	return time.Duration(seconds) * time.Second
}

func decodeHex(s string) ([]byte, error) {
	return hex.DecodeString(strings.TrimPrefix(s, "0x"))
}
