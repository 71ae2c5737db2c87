package gateway

import (
	"encoding/json"
	"fmt"

	"github.com/evmx402/gateway/internal/config"
	"github.com/evmx402/gateway/internal/evmtypes"
)

// x402Version is the only version of the X-PAYMENT envelope this gateway
// understands.
const x402Version = 1

// paymentHeader is the top-level X-PAYMENT JSON envelope.
type paymentHeader struct {
	X402Version int             `json:"x402Version"`
	Network     string          `json:"network"`
	Scheme      config.Scheme   `json:"scheme"`
	Payload     json.RawMessage `json:"payload"`
}

// otpPayloadWire is the OTP scheme's payload shape.
type otpPayloadWire struct {
	Signature string `json:"signature"`
	TxHash    string `json:"tx_hash"`
}

// channelWire is the `payment_channel` sub-object of the PC payload.
type channelWire struct {
	Address    string `json:"address"`
	Sender     string `json:"sender"`
	Recipient  string `json:"recipient"`
	Balance    string `json:"balance"`
	Nonce      string `json:"nonce"`
	Expiration string `json:"expiration"`
	ChannelID  string `json:"channel_id"`
}

// pcPayloadWire is the payment-channel scheme's payload shape.
type pcPayloadWire struct {
	Signature      string      `json:"signature"`
	Message        string      `json:"message"`
	PaymentChannel channelWire `json:"payment_channel"`
	Timestamp      int64       `json:"timestamp"`
}

// csPayloadWire is the continuous-stream scheme's payload shape.
type csPayloadWire struct {
	Signature string `json:"signature"`
	Sender    string `json:"sender"`
}

// channelWireOut is the shape the dispatcher echoes back in the X-PAYMENT
// response header on a successful PC request.
type channelWireOut struct {
	Address    string `json:"address"`
	Sender     string `json:"sender"`
	Recipient  string `json:"recipient"`
	Balance    string `json:"balance"`
	Nonce      string `json:"nonce"`
	Expiration string `json:"expiration"`
	ChannelID  string `json:"channel_id"`
}

// acceptEntry is one element of a PaymentRequiredResponse's "accepts" list.
type acceptEntry struct {
	Scheme            config.Scheme `json:"scheme"`
	Network           string        `json:"network"`
	Amount            string        `json:"amount"`
	PayTo             string        `json:"payTo"`
	Asset             string        `json:"asset"`
	Resource          string        `json:"resource"`
	Description       string        `json:"description"`
	MaxTimeoutSeconds int           `json:"maxTimeoutSeconds"`
	Extra             any           `json:"extra,omitempty"`
}

// otpExtra is the OTP scheme's "extra" block in a 402 response.
type otpExtra struct {
	AbsWindowSeconds  int `json:"absWindowSeconds"`
	SessionTTLSeconds int `json:"sessionTTLSeconds"`
	MaxRedemptions    int `json:"maxRedemptions"`
}

// pcExtra is the literal string the PC scheme carries as "extra".
const pcExtra = "paymentChannelState"

// paymentRequiredResponse is the 402 body returned when payment is missing or invalid.
type paymentRequiredResponse struct {
	X402Version int           `json:"x402Version"`
	Accepts     []acceptEntry `json:"accepts"`
	Error       string        `json:"error"`
}

func acceptEntryFor(a config.Acceptance) acceptEntry {
	e := acceptEntry{
		Scheme:            a.Scheme,
		Network:           a.Network,
		Amount:            a.Amount,
		PayTo:             a.Recipient.String(),
		Asset:             a.Token.String(),
		Resource:          a.Resource,
		Description:       a.Description,
		MaxTimeoutSeconds: a.MaxTimeoutSeconds,
	}
	switch a.Scheme {
	case config.SchemeOneTime:
		e.Extra = otpExtra{
			AbsWindowSeconds:  a.AbsWindowSeconds,
			SessionTTLSeconds: a.SessionTTLSeconds,
			MaxRedemptions:    a.MaxRedemptions,
		}
	case config.SchemeChannel:
		e.Extra = pcExtra
	}
	return e
}

func parseHexOrU256(s string) (evmtypes.U256, error) {
	u, err := evmtypes.ParseU256(s)
	if err != nil {
		return evmtypes.U256{}, fmt.Errorf("gateway: invalid u256 %q: %w", s, err)
	}
	return u, nil
}
