package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tradingstrategy-ai/vaultscan/chain"
	"github.com/tradingstrategy-ai/vaultscan/verr"
)

// BlockTimes maps a chain ID to its average block production interval, the
// externalised mapping FREQUENCY resolves against. An unknown chain ID at
// resolution time is a fatal config error rather than a silent guess.
type BlockTimes map[chain.ID]time.Duration

type blockTimeFile struct {
	Chains []struct {
		ChainID       uint32  `yaml:"chain_id"`
		BlockTimeSecs float64 `yaml:"block_time_seconds"`
	} `yaml:"chains"`
}

// LoadBlockTimes reads the per-chain block-time map from a YAML file.
func LoadBlockTimes(path string) (BlockTimes, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, verr.Wrap(verr.Config, err, "config: reading block-time map")
	}
	var f blockTimeFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, verr.Wrap(verr.Config, err, "config: parsing block-time map")
	}
	out := make(BlockTimes, len(f.Chains))
	for _, c := range f.Chains {
		if c.BlockTimeSecs <= 0 {
			return nil, verr.New(verr.Config, "config: block_time_seconds must be positive")
		}
		out[chain.ID(c.ChainID)] = time.Duration(c.BlockTimeSecs * float64(time.Second))
	}
	return out, nil
}

// BlockStep converts a Frequency into a number of blocks for chainID,
// using this chain's average block time. Returns a verr.Config error for
// an unrecognised chain ID — never a silent default.
func (b BlockTimes) BlockStep(chainID chain.ID, freq Frequency) (uint64, error) {
	blockTime, ok := b[chainID]
	if !ok {
		return 0, verr.New(verr.Config, "config: no block-time entry for chain")
	}
	var window time.Duration
	switch freq {
	case FrequencyHourly:
		window = time.Hour
	case FrequencyDaily:
		window = 24 * time.Hour
	default:
		return 0, verr.New(verr.Config, "config: unrecognised FREQUENCY value")
	}
	steps := uint64(window / blockTime)
	if steps == 0 {
		steps = 1
	}
	return steps, nil
}
