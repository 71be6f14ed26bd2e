package store

import (
	"fmt"
	"path/filepath"

	"github.com/gofrs/flock"

	"github.com/tradingstrategy-ai/vaultscan/chain"
	"github.com/tradingstrategy-ai/vaultscan/verr"
)

// ChainLock enforces the "one writer per chain" cursor invariant with an
// flock lock file. Every LockChain opens its own file descriptor, so a
// second LockChain for the same chain fails whether it comes from another
// process or from the same one.
type ChainLock struct {
	fl *flock.Flock
}

// LockChain acquires an exclusive, non-blocking lock file for chainID
// under dir. Returns an error if another process already holds it.
func LockChain(dir string, chainID chain.ID) (*ChainLock, error) {
	path := filepath.Join(dir, fmt.Sprintf("chain-%d.lock", uint32(chainID)))
	fl := flock.New(path)
	locked, err := fl.TryLock()
	if err != nil {
		return nil, verr.Wrap(verr.Config, err, "store: acquiring chain lock")
	}
	if !locked {
		return nil, verr.New(verr.Config, fmt.Sprintf("chain %d is already being scanned by another process", uint32(chainID)))
	}
	return &ChainLock{fl: fl}, nil
}

// Unlock releases the lock file. Safe to call once; callers typically
// defer it immediately after LockChain succeeds.
func (c *ChainLock) Unlock() error {
	return c.fl.Unlock()
}
