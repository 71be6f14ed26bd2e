package abi

import (
	"fmt"

	"github.com/holiman/uint256"

	"github.com/tradingstrategy-ai/vaultscan/chain"
)

// DecodeErrorKind distinguishes why a decode failed, per spec.md §4.1.
type DecodeErrorKind int

const (
	// EmptyReturn means the callee returned zero bytes (a common signal
	// for "function does not exist" on older EVMs, or a reverting call
	// whose revert data was stripped by the transport).
	EmptyReturn DecodeErrorKind = iota
	// Revert means the remote contract reverted; RevertReason may be set.
	Revert
	// Malformed means the bytes are shorter than expected, padding is
	// wrong, or a dynamic offset overruns the buffer.
	Malformed
)

func (k DecodeErrorKind) String() string {
	switch k {
	case EmptyReturn:
		return "EMPTY_RETURN"
	case Revert:
		return "REVERT"
	case Malformed:
		return "MALFORMED"
	default:
		return "UNKNOWN"
	}
}

// DecodeError is returned by every Decode* function on failure. It is never
// a panic.
type DecodeError struct {
	Kind          DecodeErrorKind
	RevertReason  string
	FunctionLabel string
}

func (e *DecodeError) Error() string {
	if e.RevertReason != "" {
		return fmt.Sprintf("decode %s: %s: %s", e.FunctionLabel, e.Kind, e.RevertReason)
	}
	return fmt.Sprintf("decode %s: %s", e.FunctionLabel, e.Kind)
}

func emptyErr(label string) error    { return &DecodeError{Kind: EmptyReturn, FunctionLabel: label} }
func malformedErr(label string) error { return &DecodeError{Kind: Malformed, FunctionLabel: label} }

// DecodeUint256 decodes a single uint256 return value (totalAssets,
// totalSupply, convertToAssets, fee getters, …).
func DecodeUint256(data []byte, label string) (*uint256.Int, error) {
	if len(data) == 0 {
		return nil, emptyErr(label)
	}
	if len(data) < word {
		return nil, malformedErr(label)
	}
	return new(uint256.Int).SetBytes(data[:word]), nil
}

// DecodeAddress decodes a single address return value (asset(), …).
func DecodeAddress(data []byte, label string) (chain.Address, error) {
	if len(data) == 0 {
		return chain.Address{}, emptyErr(label)
	}
	if len(data) < word {
		return chain.Address{}, malformedErr(label)
	}
	w := data[:word]
	// top 12 bytes of a left-padded address word must be zero.
	for _, b := range w[:word-chain.AddressLength] {
		if b != 0 {
			return chain.Address{}, malformedErr(label)
		}
	}
	return chain.BytesToAddress(w), nil
}

// DecodeBool decodes a single bool return value.
func DecodeBool(data []byte, label string) (bool, error) {
	if len(data) == 0 {
		return false, emptyErr(label)
	}
	if len(data) < word {
		return false, malformedErr(label)
	}
	return data[word-1] != 0, nil
}

// DecodeString decodes a dynamic ABI string/bytes return (name()/symbol(),
// which many tokens implement as string but some legacy tokens return as a
// raw bytes32). Both encodings are attempted; neither panics on garbage.
func DecodeString(data []byte, label string) (string, error) {
	if len(data) == 0 {
		return "", emptyErr(label)
	}
	if s, ok := decodeDynamicString(data); ok {
		return s, nil
	}
	if s, ok := decodeBytes32String(data); ok {
		return s, nil
	}
	return "", malformedErr(label)
}

func decodeDynamicString(data []byte) (string, bool) {
	if len(data) < word*2 {
		return "", false
	}
	offset := new(uint256.Int).SetBytes(data[:word]).Uint64()
	if offset+word > uint64(len(data)) {
		return "", false
	}
	length := new(uint256.Int).SetBytes(data[offset : offset+word]).Uint64()
	start := offset + word
	end := start + length
	if end > uint64(len(data)) || length > 1<<20 {
		return "", false
	}
	s := data[start:end]
	if !isPrintableASCII(s) {
		return "", false
	}
	return string(s), true
}

func decodeBytes32String(data []byte) (string, bool) {
	if len(data) < word {
		return "", false
	}
	raw := data[:word]
	end := len(raw)
	for end > 0 && raw[end-1] == 0 {
		end--
	}
	if end == 0 {
		return "", false
	}
	if !isPrintableASCII(raw[:end]) {
		return "", false
	}
	return string(raw[:end]), true
}

func isPrintableASCII(b []byte) bool {
	for _, c := range b {
		if c < 32 || c > 126 {
			return false
		}
	}
	return true
}
