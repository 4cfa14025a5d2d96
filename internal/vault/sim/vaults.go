package sim

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/kination/alkeeper/internal/vault"
)

// Accounts names the ledger accounts a simulated vault system moves tokens between
type Accounts struct {
	// Holder is the system's own account (idle deposits for the alchemist)
	Holder string
	// Vault is the yield-bearing vault account
	Vault string
	// Rewards receives harvested yield
	Rewards string
}

// AccountsFor derives the default account names for a system called name
func AccountsFor(name string) Accounts {
	return Accounts{
		Holder:  name,
		Vault:   name + "-vault",
		Rewards: "rewards",
	}
}

// base holds what transmuter and alchemist share: the vault position, the
// harvest logic and failure injection.
type base struct {
	ledger   *Ledger
	accounts Accounts

	mu        sync.Mutex
	deposited *big.Int
	failNext  error

	harvests int
	flushes  int
}

func (b *base) init(l *Ledger, accounts Accounts) {
	b.ledger = l
	b.accounts = accounts
	b.deposited = new(big.Int)
}

// FailNext makes the next mutating call return err without any effect
func (b *base) FailNext(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failNext = err
}

// Harvests returns how many harvests moved tokens
func (b *base) Harvests() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.harvests
}

// Flushes returns how many flushes moved tokens
func (b *base) Flushes() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.flushes
}

// Accounts returns the ledger accounts used by this system
func (b *base) Accounts() Accounts {
	return b.accounts
}

func (b *base) takeFailure() error {
	err := b.failNext
	b.failNext = nil
	return err
}

// PendingYield is the vault balance above what was deposited into it
func (b *base) PendingYield(ctx context.Context) (*big.Int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.yieldLocked(), nil
}

func (b *base) yieldLocked() *big.Int {
	y := b.ledger.BalanceOf(b.accounts.Vault)
	y.Sub(y, b.deposited)
	if y.Sign() < 0 {
		y.SetInt64(0)
	}
	return y
}

// Harvest sends the pending yield to the rewards account
func (b *base) Harvest(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.takeFailure(); err != nil {
		return err
	}
	y := b.yieldLocked()
	if y.Sign() == 0 {
		return nil
	}
	if err := b.ledger.Transfer(b.accounts.Vault, b.accounts.Rewards, y); err != nil {
		return fmt.Errorf("harvest: %w", err)
	}
	b.harvests++
	return nil
}

// Transmuter simulates the transmuter system
type Transmuter struct {
	base
	paused bool
}

var _ vault.Vault = (*Transmuter)(nil)

// NewTransmuter creates a transmuter moving tokens on l
func NewTransmuter(l *Ledger, accounts Accounts) *Transmuter {
	t := &Transmuter{}
	t.init(l, accounts)
	return t
}

// Deposit moves amount from the depositor straight into the transmuter vault
func (t *Transmuter) Deposit(from string, amount *big.Int) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.ledger.Transfer(from, t.accounts.Vault, amount); err != nil {
		return fmt.Errorf("deposit: %w", err)
	}
	t.deposited.Add(t.deposited, amount)
	return nil
}

// SetPause toggles the pause flag
func (t *Transmuter) SetPause(paused bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.paused = paused
}

func (t *Transmuter) IsPaused(ctx context.Context) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.paused, nil
}

func (t *Transmuter) EmergencyExitActive(ctx context.Context) (bool, error) {
	return false, nil
}

func (t *Transmuter) PendingUnflushedDeposits(ctx context.Context) (*big.Int, error) {
	return new(big.Int), nil
}

func (t *Transmuter) Flush(ctx context.Context) error {
	return fmt.Errorf("transmuter flush: %w", vault.ErrUnsupported)
}

// Alchemist simulates the accumulator system: deposits sit on the holder account
// until a flush moves them into the vault.
type Alchemist struct {
	base
	emergencyExit bool
}

var _ vault.Vault = (*Alchemist)(nil)

// NewAlchemist creates an alchemist moving tokens on l
func NewAlchemist(l *Ledger, accounts Accounts) *Alchemist {
	a := &Alchemist{}
	a.init(l, accounts)
	return a
}

// Deposit moves amount from the depositor onto the alchemist's holder account
func (a *Alchemist) Deposit(from string, amount *big.Int) error {
	if err := a.ledger.Transfer(from, a.accounts.Holder, amount); err != nil {
		return fmt.Errorf("deposit: %w", err)
	}
	return nil
}

// SetEmergencyExit toggles the emergency exit flag
func (a *Alchemist) SetEmergencyExit(active bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.emergencyExit = active
}

func (a *Alchemist) IsPaused(ctx context.Context) (bool, error) {
	return false, nil
}

func (a *Alchemist) EmergencyExitActive(ctx context.Context) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.emergencyExit, nil
}

func (a *Alchemist) PendingUnflushedDeposits(ctx context.Context) (*big.Int, error) {
	return a.ledger.BalanceOf(a.accounts.Holder), nil
}

// Flush moves the idle holder balance into the vault
func (a *Alchemist) Flush(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.takeFailure(); err != nil {
		return err
	}
	idle := a.ledger.BalanceOf(a.accounts.Holder)
	if idle.Sign() == 0 {
		return nil
	}
	if err := a.ledger.Transfer(a.accounts.Holder, a.accounts.Vault, idle); err != nil {
		return fmt.Errorf("flush: %w", err)
	}
	a.deposited.Add(a.deposited, idle)
	a.flushes++
	return nil
}
