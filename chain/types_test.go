package chain

import "testing"

func TestParseAddressRoundTrip(t *testing.T) {
	const s = "0x5d3a536e4d6dbd6114cc1ead35777bab948e3643"
	a, err := ParseAddress(s)
	if err != nil {
		t.Fatalf("ParseAddress: %v", err)
	}
	if got := a.String(); got != s {
		t.Fatalf("roundtrip: got %s want %s", got, s)
	}
}

func TestParseAddressBadLength(t *testing.T) {
	if _, err := ParseAddress("0xdead"); err == nil {
		t.Fatal("expected error for short address")
	}
}

func TestBytesToAddressFromWord(t *testing.T) {
	word := make([]byte, 32)
	addr, _ := ParseAddress("0x5d3a536e4d6dbd6114cc1ead35777bab948e3643")
	copy(word[12:], addr[:])
	got := BytesToAddress(word)
	if got != addr {
		t.Fatalf("BytesToAddress: got %s want %s", got, addr)
	}
}

func TestSyntheticChainRoundTrips(t *testing.T) {
	id := NonEVMBase + 325
	if !id.IsSynthetic() {
		t.Fatal("expected synthetic chain id")
	}
	if ID(56).IsSynthetic() {
		t.Fatal("bsc must not be synthetic")
	}
}

func TestKeyString(t *testing.T) {
	addr, _ := ParseAddress("0x0000000000000000000000000000000000000001")
	k := Key{ChainID: 56, Address: addr}
	const want = "56:0x0000000000000000000000000000000000000001"
	if k.String() != want {
		t.Fatalf("got %s want %s", k.String(), want)
	}
}
