// Package abi implements the Encoded-Call Primitive (C1): representing one
// (address, 4-byte selector, argdata, extra-data) call, and decoding single
// results. It never panics on malformed input — callers get a typed error.
package abi

import (
	"fmt"

	"golang.org/x/crypto/sha3"

	"github.com/tradingstrategy-ai/vaultscan/chain"
)

// Selector is the first 4 bytes of keccak256(canonical_signature).
type Selector [4]byte

func (s Selector) String() string { return fmt.Sprintf("0x%x", [4]byte(s)) }

// ComputeSelector hashes signature ("symbol()", "convertToAssets(uint256)", …)
// with keccak256 and returns the first 4 bytes.
func ComputeSelector(signature string) Selector {
	var sel Selector
	copy(sel[:], Keccak256([]byte(signature))[:4])
	return sel
}

// Keccak256 hashes data with the Ethereum flavor of Keccak-256, the same
// primitive event topics (keccak256 of the canonical event signature) and
// selectors are derived from.
func Keccak256(data []byte) [32]byte {
	h := sha3.NewLegacyKeccak256()
	h.Write(data)
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// EncodedCall is one (address, selector, argdata, extra-data) view call.
// Extra is an opaque passthrough map used by C2/C6 to demultiplex results
// back to the caller without re-deriving which call produced which result.
type EncodedCall struct {
	Target         chain.Address
	Selector       Selector
	Args           []byte // ABI-encoded argument words; never repeats Selector
	FunctionLabel  string
	Extra          map[string]any
}

// Data returns the full calldata: selector || args.
func (c EncodedCall) Data() []byte {
	out := make([]byte, 4+len(c.Args))
	copy(out, c.Selector[:])
	copy(out[4:], c.Args)
	return out
}

// Build constructs a call from a human-readable signature and encodes args
// per Solidity ABI rules. It panics on a type it doesn't know how to encode
// — a programmer error, not a runtime/network condition — mirroring the
// spec's "panics on type mismatch" contract for this one constructor.
func Build(target chain.Address, signature string, label string, args ...any) EncodedCall {
	encoded, err := encodeArgs(args)
	if err != nil {
		panic(fmt.Sprintf("abi.Build(%s): %v", signature, err))
	}
	return EncodedCall{
		Target:        target,
		Selector:      ComputeSelector(signature),
		Args:          encoded,
		FunctionLabel: label,
	}
}

// BuildRaw constructs a call whose selector is already known (e.g. computed
// offline from keccak-of-text for a probe whose text signature we never
// need to re-derive). argdata is used as-is.
func BuildRaw(target chain.Address, selector Selector, argdata []byte, label string) EncodedCall {
	return EncodedCall{
		Target:        target,
		Selector:      selector,
		Args:          argdata,
		FunctionLabel: label,
	}
}

// WithExtra attaches passthrough metadata and returns the call (EncodedCall
// is a value type; this is a convenience builder, not a mutator).
func (c EncodedCall) WithExtra(key string, value any) EncodedCall {
	out := c
	out.Extra = make(map[string]any, len(c.Extra)+1)
	for k, v := range c.Extra {
		out.Extra[k] = v
	}
	out.Extra[key] = value
	return out
}

const word = 32

// encodeArgs ABI-encodes a fixed-size argument list. Only the argument
// shapes the vault-probe surface actually uses are supported: addresses,
// uint256 integers (via holiman/uint256, never a native float), uint64,
// and bool. Dynamic types (strings/bytes) are never used as *arguments* in
// this registry — only as *return* values, handled in decode.go.
func encodeArgs(args []any) ([]byte, error) {
	out := make([]byte, 0, len(args)*word)
	for i, a := range args {
		var w [word]byte
		switch v := a.(type) {
		case chain.Address:
			copy(w[word-chain.AddressLength:], v[:])
		case uint256Like:
			b := v.Bytes32()
			copy(w[:], b[:])
		case uint64:
			putUint64(w[:], v)
		case bool:
			if v {
				w[word-1] = 1
			}
		default:
			return nil, fmt.Errorf("arg %d: unsupported type %T", i, a)
		}
		out = append(out, w[:]...)
	}
	return out, nil
}

func putUint64(dst []byte, v uint64) {
	for i := 0; i < 8; i++ {
		dst[word-1-i] = byte(v >> (8 * i))
	}
}

// uint256Like is satisfied by *uint256.Int (whose Bytes32 method already
// matches this shape); kept as an interface so this file doesn't need to
// import the concrete uint256 package just to accept its values.
type uint256Like interface {
	Bytes32() [32]byte
}
