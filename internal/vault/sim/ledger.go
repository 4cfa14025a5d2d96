// Package sim provides in-memory transmuter and alchemist vaults backed by a shared
// token ledger. It stands in for the external vault systems in tests, in
// `keeperctl simulate` and in clusters without a chain connection.
package sim

import (
	"errors"
	"fmt"
	"math/big"
	"sync"
)

// ErrInsufficientBalance is returned when a transfer exceeds the sender's balance
var ErrInsufficientBalance = errors.New("insufficient balance")

// Ledger tracks token balances per account
type Ledger struct {
	mu       sync.Mutex
	balances map[string]*big.Int
}

// NewLedger creates an empty ledger
func NewLedger() *Ledger {
	return &Ledger{balances: make(map[string]*big.Int)}
}

// Mint credits amount to account
func (l *Ledger) Mint(account string, amount *big.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	b := l.balanceLocked(account)
	b.Add(b, amount)
}

// BalanceOf returns a copy of the account's balance
func (l *Ledger) BalanceOf(account string) *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return new(big.Int).Set(l.balanceLocked(account))
}

// Transfer moves amount from one account to another
func (l *Ledger) Transfer(from, to string, amount *big.Int) error {
	if amount.Sign() < 0 {
		return fmt.Errorf("negative transfer amount %s", amount)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	src := l.balanceLocked(from)
	if src.Cmp(amount) < 0 {
		return fmt.Errorf("transfer %s from %s: %w", amount, from, ErrInsufficientBalance)
	}
	src.Sub(src, amount)
	dst := l.balanceLocked(to)
	dst.Add(dst, amount)
	return nil
}

func (l *Ledger) balanceLocked(account string) *big.Int {
	b, ok := l.balances[account]
	if !ok {
		b = new(big.Int)
		l.balances[account] = b
	}
	return b
}
