package reader

import (
	"context"

	"github.com/tradingstrategy-ai/vaultscan/chain"
	"github.com/tradingstrategy-ai/vaultscan/transport"
	"github.com/tradingstrategy-ai/vaultscan/verr"
)

// EIP1967ImplementationSlot is the standard storage slot a transparent or
// UUPS proxy stores its implementation address in:
// bytes32(uint256(keccak256('eip1967.proxy.implementation')) - 1).
var EIP1967ImplementationSlot = [32]byte{
	0x36, 0x08, 0x94, 0xa1, 0x3b, 0xa1, 0xa3, 0x21,
	0x06, 0x67, 0xc8, 0x28, 0x49, 0x2d, 0xb9, 0x8d,
	0xca, 0x3e, 0x20, 0x76, 0xcc, 0x37, 0x35, 0xa9,
	0x20, 0xa3, 0xca, 0x50, 0x5d, 0x38, 0x2b, 0xbc,
}

// ResolveImplementation reads proxy's EIP-1967 implementation slot directly,
// bypassing any view call the proxy itself exposes. classify.Row.ProxyResolve
// marks the protocols whose fee configuration lives behind a call path the
// proxy's fallback doesn't forward cleanly; discovery reads the slot for
// those rows and stores the result on the vault record.
func ResolveImplementation(ctx context.Context, client transport.EvmClient, proxy chain.Address, block transport.Block) (chain.Address, error) {
	raw, err := client.StorageAt(ctx, proxy, EIP1967ImplementationSlot, block)
	if err != nil {
		return chain.Address{}, verr.Wrap(verr.Transport, err, "reader: resolving proxy implementation slot")
	}
	return chain.BytesToAddress(raw[:]), nil
}
