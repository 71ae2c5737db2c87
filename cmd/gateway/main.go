// Command gateway runs the x402 payment gateway in front of a downstream
// HTTP handler, wiring the dispatcher middleware to a real chain client and
// an env-var + YAML configured accept-list: env config, then dependencies,
// then the middleware, then http.ListenAndServe.
package main

import (
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"

	"log/slog"

	"github.com/evmx402/gateway/internal/chainclient"
	"github.com/evmx402/gateway/internal/config"
	"github.com/evmx402/gateway/internal/gateway"
)

func main() {
	env, err := config.LoadEnv()
	if err != nil {
		slog.Error("config error", "err", err)
		os.Exit(1)
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: env.SlogLevel()})))

	routes, err := config.LoadRoutes(env.RoutesFile)
	if err != nil {
		slog.Error("failed to load routes file", "path", env.RoutesFile, "err", err)
		os.Exit(1)
	}
	slog.Info("loaded accept-list", "routes", len(routes), "file", env.RoutesFile)

	downstream, err := newDownstreamProxy(getEnv("UPSTREAM_URL", "http://localhost:9000"))
	if err != nil {
		slog.Error("failed to build downstream proxy", "err", err)
		os.Exit(1)
	}

	registry := gateway.NewRegistry(routes, nil)
	dispatcher := gateway.New(registry, downstream).WithChainCallTimeout(env.DefaultChainCallTimeout)

	mux := http.NewServeMux()
	mux.Handle("/", dispatcher)
	if env.RelayerPrivateKey != "" {
		signer, err := chainclient.NewKeySigner(env.RelayerPrivateKey)
		if err != nil {
			slog.Error("invalid relayer private key", "err", err)
			os.Exit(1)
		}
		mux.Handle("POST /admin/channels/close", gateway.CloseChannelHandler(registry, signer))
		slog.Info("channel close endpoint enabled", "relayer", signer.Address().String())
	}

	slog.Info("gateway starting", "addr", env.ListenAddr)
	if err := http.ListenAndServe(env.ListenAddr, mux); err != nil {
		slog.Error("server error", "err", err)
		os.Exit(1)
	}
}

// newDownstreamProxy builds a reverse proxy to the application this gateway
// protects: a thin ReverseProxy with no header rewriting beyond what
// httputil does by default.
func newDownstreamProxy(upstream string) (http.Handler, error) {
	target, err := url.Parse(upstream)
	if err != nil {
		return nil, err
	}
	return httputil.NewSingleHostReverseProxy(target), nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}
