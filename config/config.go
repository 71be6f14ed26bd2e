// Package config loads the typed, environment-driven configuration
// surface from spec.md §6. Every invalid value is a verr.Config error,
// since configuration failures abort the process per the error taxonomy's
// propagation policy.
package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/tradingstrategy-ai/vaultscan/chain"
	"github.com/tradingstrategy-ai/vaultscan/verr"
)

// Backend selects the discovery event source.
type Backend string

const (
	BackendAuto    Backend = "auto"
	BackendIndexer Backend = "indexer"
	BackendRPC     Backend = "rpc"
)

// Frequency selects the historical sampling cadence.
type Frequency string

const (
	FrequencyHourly Frequency = "1h"
	FrequencyDaily  Frequency = "1d"
)

// Config is the full typed configuration surface.
type Config struct {
	JSONRPCURL      string
	ScanBackend     Backend
	MaxGetLogsRange uint32
	EndBlock        uint64
	HasEndBlock     bool
	ResetLeads      bool
	MaxWorkers      uint32
	Frequency       Frequency
	MinTVL          float64
	MaxVaults       uint32
	RetryCount      int

	ChainsEnabled      []uint32
	ChainsDisabled     []uint32
	SkipPostProcessing bool
	LogLevel           string

	StatePath     string
	RejectsPath   string
	BlockTimePath string
	StatusAddr    string
	PricesPath    string
}

// FromEnv loads Config from the process environment, applying defaults
// for anything unset and returning a verr.Config error on the first
// invalid value found.
func FromEnv() (Config, error) {
	cfg := Config{
		JSONRPCURL:      os.Getenv("JSON_RPC_URL"),
		ScanBackend:     BackendAuto,
		MaxGetLogsRange: 2000,
		MaxWorkers:      16,
		Frequency:       FrequencyDaily,
		RetryCount:      5,
		StatePath:       envOr("VAULTSCAN_STATE_PATH", "vaultscan-state.db"),
		RejectsPath:     envOr("VAULTSCAN_REJECTS_PATH", "vaultscan-rejects.db"),
		BlockTimePath:   envOr("VAULTSCAN_BLOCKTIME_PATH", "config/blocktime.yaml"),
		StatusAddr:      envOr("VAULTSCAN_STATUS_ADDR", ":8089"),
		PricesPath:      envOr("VAULTSCAN_PRICES_PATH", "vaultscan-prices.jsonl"),
		LogLevel:        envOr("LOG_LEVEL", "info"),
	}

	if cfg.JSONRPCURL == "" {
		return Config{}, verr.New(verr.Config, "JSON_RPC_URL must be set")
	}

	if raw := os.Getenv("SCAN_BACKEND"); raw != "" {
		b := Backend(strings.ToLower(raw))
		switch b {
		case BackendAuto, BackendIndexer, BackendRPC:
			cfg.ScanBackend = b
		default:
			return Config{}, verr.New(verr.Config, "SCAN_BACKEND must be one of auto, indexer, rpc")
		}
	}

	if raw := os.Getenv("MAX_GETLOGS_RANGE"); raw != "" {
		v, err := strconv.ParseUint(raw, 10, 32)
		if err != nil || v == 0 {
			return Config{}, verr.New(verr.Config, "MAX_GETLOGS_RANGE must be a positive integer")
		}
		cfg.MaxGetLogsRange = uint32(v)
	}

	if raw := os.Getenv("END_BLOCK"); raw != "" {
		v, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return Config{}, verr.New(verr.Config, "END_BLOCK must be an integer")
		}
		cfg.EndBlock = v
		cfg.HasEndBlock = true
	}

	if raw := os.Getenv("RESET_LEADS"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return Config{}, verr.New(verr.Config, "RESET_LEADS must be a boolean")
		}
		cfg.ResetLeads = v
	}

	if raw := os.Getenv("MAX_WORKERS"); raw != "" {
		v, err := strconv.ParseUint(raw, 10, 32)
		if err != nil || v == 0 {
			return Config{}, verr.New(verr.Config, "MAX_WORKERS must be a positive integer")
		}
		cfg.MaxWorkers = uint32(v)
	}

	if raw := os.Getenv("FREQUENCY"); raw != "" {
		f := Frequency(raw)
		switch f {
		case FrequencyHourly, FrequencyDaily:
			cfg.Frequency = f
		default:
			return Config{}, verr.New(verr.Config, "FREQUENCY must be one of 1h, 1d")
		}
	}

	if raw := os.Getenv("MIN_TVL"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || v < 0 {
			return Config{}, verr.New(verr.Config, "MIN_TVL must be a non-negative number")
		}
		cfg.MinTVL = v
	}

	if raw := os.Getenv("MAX_VAULTS"); raw != "" {
		v, err := strconv.ParseUint(raw, 10, 32)
		if err != nil {
			return Config{}, verr.New(verr.Config, "MAX_VAULTS must be an integer")
		}
		cfg.MaxVaults = uint32(v)
	}

	if raw := os.Getenv("SKIP_POST_PROCESSING"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return Config{}, verr.New(verr.Config, "SKIP_POST_PROCESSING must be a boolean")
		}
		cfg.SkipPostProcessing = v
	}

	if raw := os.Getenv("CHAINS_ENABLED"); raw != "" {
		ids, err := parseChainIDList(raw)
		if err != nil {
			return Config{}, err
		}
		cfg.ChainsEnabled = ids
	}

	if raw := os.Getenv("CHAINS_DISABLED"); raw != "" {
		ids, err := parseChainIDList(raw)
		if err != nil {
			return Config{}, err
		}
		cfg.ChainsDisabled = ids
	}

	return cfg, nil
}

func parseChainIDList(raw string) ([]uint32, error) {
	parts := strings.Split(raw, ",")
	out := make([]uint32, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		v, err := strconv.ParseUint(p, 10, 32)
		if err != nil {
			return nil, verr.New(verr.Config, "chain id list must contain only integers")
		}
		out = append(out, uint32(v))
	}
	return out, nil
}

// EnabledChainIDs resolves the effective chain list for one run: every
// chain named in ChainsEnabled (or, if that list is empty, every chain
// known to bt) with anything in ChainsDisabled removed.
func (c Config) EnabledChainIDs(bt BlockTimes) []chain.ID {
	disabled := make(map[uint32]bool, len(c.ChainsDisabled))
	for _, id := range c.ChainsDisabled {
		disabled[id] = true
	}

	var candidates []uint32
	if len(c.ChainsEnabled) > 0 {
		candidates = c.ChainsEnabled
	} else {
		for id := range bt {
			candidates = append(candidates, uint32(id))
		}
	}

	out := make([]chain.ID, 0, len(candidates))
	for _, id := range candidates {
		if !disabled[id] {
			out = append(out, chain.ID(id))
		}
	}
	return out
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
