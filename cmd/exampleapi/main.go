// Command exampleapi demonstrates the gateway protecting a trivial
// downstream handler directly, without a reverse proxy in front of it —
// the shape an application embedding this gateway as a library would use.
package main

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"os"

	"github.com/evmx402/gateway/internal/config"
	"github.com/evmx402/gateway/internal/gateway"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})))

	routesFile := getEnv("ROUTES_FILE", "cmd/exampleapi/routes.example.yaml")
	routes, err := config.LoadRoutes(routesFile)
	if err != nil {
		slog.Error("failed to load routes", "path", routesFile, "err", err)
		os.Exit(1)
	}

	app := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"result": "premium content unlocked"})
	})

	registry := gateway.NewRegistry(routes, nil)
	dispatcher := gateway.New(registry, app)

	addr := getEnv("LISTEN_ADDR", ":8090")
	slog.Info("exampleapi starting", "addr", addr)
	if err := http.ListenAndServe(addr, dispatcher); err != nil {
		slog.Error("server error", "err", err)
		os.Exit(1)
	}
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}
