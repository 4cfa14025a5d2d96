// Package vaulttest provides a recording vault.Vault for tests.
package vaulttest

import (
	"context"
	"math/big"
	"sync"

	"github.com/kination/alkeeper/internal/vault"
)

// Fake is a vault whose observable state is set directly and whose mutations are
// counted. Harvest zeroes Yield; Flush zeroes Unflushed.
type Fake struct {
	mu sync.Mutex

	Paused        bool
	EmergencyExit bool
	Yield         int64
	Unflushed     int64

	// ReadErr fails every read; HarvestErr and FlushErr fail the mutation
	ReadErr    error
	HarvestErr error
	FlushErr   error

	HarvestCalls int
	FlushCalls   int
}

var _ vault.Vault = (*Fake)(nil)

func (f *Fake) IsPaused(ctx context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Paused, f.ReadErr
}

func (f *Fake) EmergencyExitActive(ctx context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.EmergencyExit, f.ReadErr
}

func (f *Fake) PendingYield(ctx context.Context) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ReadErr != nil {
		return nil, f.ReadErr
	}
	return big.NewInt(f.Yield), nil
}

func (f *Fake) PendingUnflushedDeposits(ctx context.Context) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ReadErr != nil {
		return nil, f.ReadErr
	}
	return big.NewInt(f.Unflushed), nil
}

func (f *Fake) Harvest(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.HarvestCalls++
	if f.HarvestErr != nil {
		return f.HarvestErr
	}
	f.Yield = 0
	return nil
}

func (f *Fake) Flush(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.FlushCalls++
	if f.FlushErr != nil {
		return f.FlushErr
	}
	f.Unflushed = 0
	return nil
}

// Calls returns the harvest and flush call counts
func (f *Fake) Calls() (harvest, flush int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.HarvestCalls, f.FlushCalls
}

// Set updates the fake under its lock
func (f *Fake) Set(fn func(f *Fake)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}
