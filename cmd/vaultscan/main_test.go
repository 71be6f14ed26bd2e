package main

import (
	"testing"

	"github.com/tradingstrategy-ai/vaultscan/chain"
	"github.com/tradingstrategy-ai/vaultscan/verr"
)

func TestChainEnabledMatchesByID(t *testing.T) {
	enabled := []chain.ID{1, 56, 137}
	if !chainEnabled(enabled, 56) {
		t.Fatal("expected chain 56 to be enabled")
	}
	if chainEnabled(enabled, 10) {
		t.Fatal("expected chain 10 to be absent")
	}
}

func TestExitCodeForConfigErrorIsTwo(t *testing.T) {
	if got := exitCodeFor(verr.New(verr.Config, "bad input")); got != 2 {
		t.Fatalf("expected exit code 2 for config error, got %d", got)
	}
}

func TestExitCodeForOtherErrorIsOne(t *testing.T) {
	if got := exitCodeFor(verr.New(verr.Transport, "rpc down")); got != 1 {
		t.Fatalf("expected exit code 1 for non-config error, got %d", got)
	}
}
