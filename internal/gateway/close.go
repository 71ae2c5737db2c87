package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/evmx402/gateway/internal/chainclient"
	"github.com/evmx402/gateway/internal/config"
	"github.com/evmx402/gateway/internal/evmtypes"
	"github.com/evmx402/gateway/internal/httpx"
	"github.com/evmx402/gateway/internal/paymentchannel"
)

// CloseChannel settles the channel's latest stored state on-chain via the
// escrow contract, using the acceptance's RPC endpoint and the operator's
// relayer signer. It is an operator action, never part of the request path.
func (reg *Registry) CloseChannel(ctx context.Context, a config.Acceptance, channelID evmtypes.U256, signer chainclient.Signer) (evmtypes.Hash, error) {
	client, err := reg.clientFor(ctx, a)
	if err != nil {
		return evmtypes.Hash{}, err
	}
	return paymentchannel.Close(ctx, client, reg.PCTable, channelID, signer)
}

type closeChannelWire struct {
	Route     string `json:"route"`
	ChannelID string `json:"channel_id"`
}

type closeChannelResult struct {
	TxHash string `json:"tx_hash"`
}

// CloseChannelHandler returns the admin endpoint that triggers CloseChannel
// for a route's channel acceptance. Mounted outside the payment middleware;
// operators gate access to it themselves (network policy, auth proxy).
func CloseChannelHandler(reg *Registry, signer chainclient.Signer) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req closeChannelWire
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpx.JSON(w, http.StatusBadRequest, map[string]string{"error": "malformed close request"})
			return
		}
		channelID, err := evmtypes.ParseU256(req.ChannelID)
		if err != nil {
			httpx.JSON(w, http.StatusBadRequest, map[string]string{"error": "invalid channel_id"})
			return
		}
		accept, ok := reg.Routes.Match(req.Route, config.SchemeChannel)
		if !ok {
			httpx.JSON(w, http.StatusNotFound, map[string]string{"error": "route has no channel acceptance"})
			return
		}

		txHash, err := reg.CloseChannel(r.Context(), accept, channelID, signer)
		if err != nil {
			slog.Error("channel close failed", "route", req.Route, "channel_id", channelID.String(), "err", err)
			httpx.JSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
			return
		}

		slog.Info("channel close submitted", "route", req.Route, "channel_id", channelID.String(), "tx_hash", txHash.String())
		httpx.JSON(w, http.StatusOK, closeChannelResult{TxHash: txHash.String()})
	})
}
