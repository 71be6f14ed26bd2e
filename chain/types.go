// Package chain defines the identity types shared by every component of the
// vault discovery and scanning engine: chain identifiers, contract
// addresses, and the (chain, address) key every persisted record is keyed
// by.
package chain

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// ID is an EVM chain identifier. A reserved high range is used for
// synthetic, non-EVM venues ingested by out-of-scope collaborators; this
// package never interprets those values, it only stores and compares them.
type ID uint32

// NonEVMBase is the first value of the reserved synthetic range. Chain IDs
// at or above this value denote a non-EVM venue and must never be
// dereferenced to an EvmClient/EventSource by this core.
const NonEVMBase ID = 1 << 31

// IsSynthetic reports whether id falls in the reserved non-EVM range.
func (id ID) IsSynthetic() bool { return id >= NonEVMBase }

func (id ID) String() string { return fmt.Sprintf("%d", uint32(id)) }

// AddressLength is the canonical byte length of an EVM address.
const AddressLength = 20

// Address is the 20-byte canonical form of an EVM address. Equality is
// byte-wise; the string form is always lowercase hex with a 0x prefix.
type Address [AddressLength]byte

// ParseAddress parses a 0x-prefixed or bare hex string into an Address. It
// fails if the decoded length isn't exactly AddressLength bytes.
func ParseAddress(s string) (Address, error) {
	var a Address
	s = strings.TrimPrefix(s, "0x")
	s = strings.TrimPrefix(s, "0X")
	raw, err := hex.DecodeString(s)
	if err != nil {
		return a, fmt.Errorf("parse address %q: %w", s, err)
	}
	if len(raw) != AddressLength {
		return a, fmt.Errorf("parse address %q: want %d bytes, got %d", s, AddressLength, len(raw))
	}
	copy(a[:], raw)
	return a, nil
}

// BytesToAddress truncates/left-pads b into an Address the way ABI-decoded
// 32-byte words are converted (the low 20 bytes are the address).
func BytesToAddress(b []byte) Address {
	var a Address
	if len(b) >= AddressLength {
		copy(a[:], b[len(b)-AddressLength:])
	} else {
		copy(a[AddressLength-len(b):], b)
	}
	return a
}

// String renders the lowercase canonical hex form, e.g. "0xdeadbeef...".
func (a Address) String() string {
	return "0x" + hex.EncodeToString(a[:])
}

// IsZero reports whether a is the zero address.
func (a Address) IsZero() bool { return a == Address{} }

// Key is the system-wide identity of a vault: (chain_id, address). It is
// the map/store key used throughout C5-C7.
type Key struct {
	ChainID ID
	Address Address
}

// String renders a stable, lowercase key suitable for use as a store key or
// log field, e.g. "56:0xdeadbeef...".
func (k Key) String() string {
	return fmt.Sprintf("%d:%s", uint32(k.ChainID), k.Address.String())
}
