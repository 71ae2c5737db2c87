package config

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/evmx402/gateway/internal/chainmeta"
	"github.com/evmx402/gateway/internal/evmtypes"
)

// routesFile is the on-disk shape of the accept-list config. Addresses and
// amounts are plain strings on the wire; LoadRoutes parses them into the
// typed Acceptance the dispatcher uses.
type routesFile struct {
	Routes map[string][]acceptanceYAML `yaml:"routes"`
}

type acceptanceYAML struct {
	Scheme            string `yaml:"scheme"`
	Network           string `yaml:"network"`
	ChainID           uint64 `yaml:"chain_id"`
	ChainName         string `yaml:"chain_name"`
	RPCURL            string `yaml:"rpc_url"`
	WSURL             string `yaml:"ws_url"`
	Token             string `yaml:"token"`
	Recipient         string `yaml:"recipient"`
	Amount            string `yaml:"amount"`
	Decimals          int    `yaml:"decimals"`
	Resource          string `yaml:"resource"`
	Description       string `yaml:"description"`
	MaxTimeoutSeconds int    `yaml:"max_timeout_seconds"`

	AbsWindowSeconds  int `yaml:"abs_window_seconds"`
	SessionTTLSeconds int `yaml:"session_ttl_seconds"`
	MaxRedemptions    int `yaml:"max_redemptions"`

	BindRequestBody bool `yaml:"bind_request_body"`

	CacheTTLSeconds int    `yaml:"cache_ttl_seconds"`
	CFAForwarder    string `yaml:"cfa_forwarder"`
	EventSource     string `yaml:"event_source"`
}

// LoadRoutes reads a YAML accept-list document from path and returns the
// parsed, validated RouteAcceptances. An empty Token/Recipient/CFAForwarder/
// EventSource field parses to the zero address rather than failing, since
// not every scheme uses every field.
func LoadRoutes(path string) (RouteAcceptances, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading routes file %s: %w", path, err)
	}

	var doc routesFile
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("config: parsing routes file %s: %w", path, err)
	}

	out := make(RouteAcceptances, len(doc.Routes))
	for route, entries := range doc.Routes {
		parsed := make([]Acceptance, 0, len(entries))
		for i, e := range entries {
			a, err := e.toAcceptance()
			if err != nil {
				return nil, fmt.Errorf("config: route %q entry %d: %w", route, i, err)
			}
			applyChainDefaults(&a)
			if err := a.Validate(); err != nil {
				return nil, fmt.Errorf("config: route %q entry %d: %w", route, i, err)
			}
			parsed = append(parsed, a)
		}
		out[route] = parsed
	}
	return out, nil
}

func (e acceptanceYAML) toAcceptance() (Acceptance, error) {
	token, err := optionalAddress(e.Token)
	if err != nil {
		return Acceptance{}, fmt.Errorf("token: %w", err)
	}
	recipient, err := optionalAddress(e.Recipient)
	if err != nil {
		return Acceptance{}, fmt.Errorf("recipient: %w", err)
	}
	cfa, err := optionalAddress(e.CFAForwarder)
	if err != nil {
		return Acceptance{}, fmt.Errorf("cfa_forwarder: %w", err)
	}
	eventSource, err := optionalAddress(e.EventSource)
	if err != nil {
		return Acceptance{}, fmt.Errorf("event_source: %w", err)
	}

	return Acceptance{
		Scheme:            Scheme(e.Scheme),
		Network:           e.Network,
		ChainID:           e.ChainID,
		ChainName:         e.ChainName,
		RPCURL:            e.RPCURL,
		WSURL:             e.WSURL,
		Token:             token,
		Recipient:         recipient,
		Amount:            e.Amount,
		Decimals:          e.Decimals,
		Resource:          e.Resource,
		Description:       e.Description,
		MaxTimeoutSeconds: e.MaxTimeoutSeconds,
		AbsWindowSeconds:  e.AbsWindowSeconds,
		SessionTTLSeconds: e.SessionTTLSeconds,
		MaxRedemptions:    e.MaxRedemptions,
		BindRequestBody:   e.BindRequestBody,
		CacheTTLSeconds:   e.CacheTTLSeconds,
		CFAForwarder:      cfa,
		EventSource:       eventSource,
	}, nil
}

// applyChainDefaults fills chain-derived fields the routes file leaves empty
// from the chainmeta table, keyed by the acceptance's chain id: RPC/WS URLs
// come from the chain's well-known env vars, the CFA forwarder from the
// static per-chain address, and the display name from the static table — or,
// for chains outside it, from the public chain list (name only, best-effort;
// a fetch failure just leaves the name empty). Explicit routes-file values
// always win.
func applyChainDefaults(a *Acceptance) {
	if a.ChainID == 0 {
		return
	}
	if a.Network == "" {
		a.Network = "eip155:" + strconv.FormatUint(a.ChainID, 10)
	}
	meta, err := chainmeta.Lookup(a.ChainID)
	if err != nil {
		if a.ChainName == "" {
			if resolved, resolveErr := chainmeta.Resolve(context.Background(), a.ChainID); resolveErr == nil {
				a.ChainName = resolved.Name
			}
		}
		return
	}
	if a.ChainName == "" {
		a.ChainName = meta.Name
	}
	if a.RPCURL == "" {
		a.RPCURL = os.Getenv(meta.HTTPEnvVar)
	}
	if a.WSURL == "" {
		a.WSURL = os.Getenv(meta.WSEnvVar)
	}
	if a.CFAForwarder == (evmtypes.Address{}) && meta.CFAForwarder != "" {
		if addr, parseErr := evmtypes.ParseAddress(meta.CFAForwarder); parseErr == nil {
			a.CFAForwarder = addr
		}
	}
}

func optionalAddress(s string) (evmtypes.Address, error) {
	if s == "" {
		return evmtypes.Address{}, nil
	}
	return evmtypes.ParseAddress(s)
}
