package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Env holds the gateway process's env-var driven settings: everything that
// isn't per-route (that lives in the routes file loaded by LoadRoutes).
type Env struct {
	// ListenAddr is the address the gateway's HTTP server binds.
	ListenAddr string

	// RoutesFile points at the YAML accept-list LoadRoutes reads.
	RoutesFile string

	// LogLevel controls the slog handler's minimum level ("debug", "info",
	// "warn", "error").
	LogLevel string

	// RelayerPrivateKey, if set, lets the gateway sign and submit the
	// payment-channel close transaction. Empty disables that operation only;
	// the request path never needs it.
	RelayerPrivateKey string

	// DefaultChainCallTimeout bounds every chain RPC issued on the request
	// path.
	DefaultChainCallTimeout time.Duration
}

// LoadEnv reads configuration from environment variables, loading a .env
// file first if one is present in the working directory (dev convenience;
// a no-op in production where real env vars are already set).
func LoadEnv() (*Env, error) {
	_ = godotenv.Load()

	env := &Env{
		ListenAddr:              getEnv("LISTEN_ADDR", ":8080"),
		RoutesFile:              getEnv("ROUTES_FILE", "routes.yaml"),
		LogLevel:                getEnv("LOG_LEVEL", "info"),
		RelayerPrivateKey:       getEnv("RELAYER_PRIVATE_KEY", ""),
		DefaultChainCallTimeout: time.Duration(getEnvInt("CHAIN_CALL_TIMEOUT_SECONDS", 5)) * time.Second,
	}

	if env.ListenAddr == "" {
		return nil, fmt.Errorf("LISTEN_ADDR must not be empty")
	}

	return env, nil
}

// SlogLevel parses LogLevel into a slog.Level, defaulting to Info on an
// unrecognized value rather than failing startup over a typo.
func (e *Env) SlogLevel() slog.Level {
	switch e.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := getEnv(key, "")
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
