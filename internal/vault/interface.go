// Package vault defines the collaborator interface the keeper uses to observe and
// maintain the transmuter and alchemist vaults.
// The vaults' own accounting lives behind this interface and is never reproduced here.
package vault

import (
	"context"
	"math/big"
)

// Vault is the set of operations the keeper consumes from a vault system.
// A transmuter and an alchemist both satisfy it; operations a system does not
// support report zero values or ErrUnsupported.
type Vault interface {
	// IsPaused reports whether deposits and harvests are paused
	IsPaused(ctx context.Context) (bool, error)

	// EmergencyExitActive reports whether the vault is winding down
	EmergencyExitActive(ctx context.Context) (bool, error)

	// PendingYield returns the yield accrued but not yet harvested
	PendingYield(ctx context.Context) (*big.Int, error)

	// PendingUnflushedDeposits returns deposits waiting to be moved into the vault
	PendingUnflushedDeposits(ctx context.Context) (*big.Int, error)

	// Harvest collects the pending yield
	Harvest(ctx context.Context) error

	// Flush moves pending deposits into active accounting
	Flush(ctx context.Context) error
}
