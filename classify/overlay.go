package classify

import (
	"gopkg.in/yaml.v3"

	"github.com/tradingstrategy-ai/vaultscan/chain"
	"github.com/tradingstrategy-ai/vaultscan/verr"
)

// overlayFile is the YAML shape for an operator-supplied registry overlay,
// used to add rows or hardcoded addresses between releases without a
// binary rebuild.
type overlayFile struct {
	Rows []struct {
		Feature  string   `yaml:"feature"`
		Probes   []string `yaml:"probes"`
		Additive bool     `yaml:"additive"`
	} `yaml:"rows"`
	Hardcoded []struct {
		ChainID uint32 `yaml:"chain_id"`
		Address string `yaml:"address"`
		Feature string `yaml:"feature"`
	} `yaml:"hardcoded"`
}

// LoadOverlay parses a YAML overlay document and merges it into r.
func (r *Registry) LoadOverlay(raw []byte) (*Registry, error) {
	var f overlayFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, verr.Wrap(verr.Config, err, "classify: parsing registry overlay")
	}

	rows := make([]Row, 0, len(f.Rows))
	for _, rr := range f.Rows {
		rows = append(rows, Row{Feature: ParseFeature(rr.Feature), Probes: rr.Probes, Additive: rr.Additive})
	}

	hardcoded := make(map[chain.Key]Feature, len(f.Hardcoded))
	for _, h := range f.Hardcoded {
		addr, err := chain.ParseAddress(h.Address)
		if err != nil {
			return nil, verr.Wrap(verr.Config, err, "classify: parsing hardcoded overlay address")
		}
		hardcoded[chain.Key{ChainID: chain.ID(h.ChainID), Address: addr}] = ParseFeature(h.Feature)
	}

	return r.WithOverlay(rows, hardcoded), nil
}
