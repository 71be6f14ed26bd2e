package verr

import (
	"errors"
	"testing"
)

func TestCodeOfDefaultsToTransport(t *testing.T) {
	if CodeOf(errors.New("boom")) != Transport {
		t.Fatal("plain error should default to Transport")
	}
}

func TestCodeOfRoundTrips(t *testing.T) {
	e := New(Revert, "execution reverted: insufficient balance")
	if CodeOf(e) != Revert {
		t.Fatalf("got %s want REVERT", CodeOf(e))
	}
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("dial tcp: timeout")
	e := Wrap(Transport, cause, "multicall batch")
	if !errors.Is(e, cause) {
		t.Fatal("Wrap should preserve Is() chain to cause")
	}
}

func TestConfigErrorsCarryStack(t *testing.T) {
	e := New(Config, "MAX_WORKERS must be > 0")
	if e.cause == nil {
		t.Fatal("Config errors should stamp a stack-carrying cause")
	}
}

func TestIsHelper(t *testing.T) {
	e := New(GasPathology, "maxDeposit exceeded 10,000,000 gas")
	if !Is(e, GasPathology) {
		t.Fatal("Is should match GasPathology")
	}
	if Is(e, Revert) {
		t.Fatal("Is should not match a different code")
	}
}
