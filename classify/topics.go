package classify

import "github.com/tradingstrategy-ai/vaultscan/abi"

// deploymentSignatures is the curated list of event signatures known to
// correlate with a vault deployment: the standard ERC-4626/ERC-20
// lifecycle events plus a handful of protocol-specific registry events.
// Discovery treats log.address on any match as a lead; it is deliberately
// over-inclusive since a false lead is simply rejected by classification.
var deploymentSignatures = []string{
	"Deposit(address,address,uint256,uint256)",
	"Withdraw(address,address,address,uint256,uint256)",
	"Transfer(address,address,uint256)",
	"VaultCreated(address,address)",
	"PoolCreated(address,address,address)",
}

// DeploymentTopics returns the keccak256 topic0 values discovery filters
// event logs on. The set is part of the classification registry so a
// registry update that adds a protocol can add its creation event in the
// same place as its probe signatures.
func (r *Registry) DeploymentTopics() [][32]byte {
	out := make([][32]byte, len(deploymentSignatures))
	for i, sig := range deploymentSignatures {
		out[i] = abi.Keccak256([]byte(sig))
	}
	return out
}
