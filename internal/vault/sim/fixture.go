package sim

import (
	"context"
	"fmt"
	"math/big"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/kination/alkeeper/internal/vault"
)

// Fixture describes the starting state of a simulated pipeline
type Fixture struct {
	Depositor  string        `yaml:"depositor"`
	Transmuter SystemFixture `yaml:"transmuter"`
	Alchemist  SystemFixture `yaml:"alchemist"`
}

// SystemFixture describes one simulated vault system. Amounts are decimal strings.
type SystemFixture struct {
	Name string `yaml:"name"`

	// Deposit is placed in the vault (flushed, for the alchemist)
	Deposit string `yaml:"deposit"`
	// Pending is left unflushed on the alchemist's holder account
	Pending string `yaml:"pending"`
	// Yield is minted straight into the vault
	Yield string `yaml:"yield"`

	Paused        bool `yaml:"paused"`
	EmergencyExit bool `yaml:"emergencyExit"`
}

// Environment is a built fixture
type Environment struct {
	Ledger     *Ledger
	Transmuter *Transmuter
	Alchemist  *Alchemist

	TransmuterName string
	AlchemistName  string
}

// DefaultFixture returns a pipeline with a deposit in each vault and no yield
func DefaultFixture() *Fixture {
	return &Fixture{
		Depositor:  "depositor",
		Transmuter: SystemFixture{Name: "transmuter", Deposit: "100"},
		Alchemist:  SystemFixture{Name: "alchemist", Deposit: "100"},
	}
}

// LoadFixture reads a YAML fixture file
func LoadFixture(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixture: %w", err)
	}
	return ParseFixture(data)
}

// ParseFixture decodes a YAML fixture, filling defaults for missing names
func ParseFixture(data []byte) (*Fixture, error) {
	f := DefaultFixture()
	f.Transmuter.Deposit = ""
	f.Alchemist.Deposit = ""
	if err := yaml.Unmarshal(data, f); err != nil {
		return nil, fmt.Errorf("yaml parse error: %w", err)
	}
	return f, nil
}

// Build creates the ledger and both vault systems in the described state
func (f *Fixture) Build() (*Environment, error) {
	ctx := context.Background()
	l := NewLedger()

	amounts := make(map[string]*big.Int)
	for _, field := range []struct{ key, val string }{
		{"transmuter.deposit", f.Transmuter.Deposit},
		{"transmuter.yield", f.Transmuter.Yield},
		{"alchemist.deposit", f.Alchemist.Deposit},
		{"alchemist.pending", f.Alchemist.Pending},
		{"alchemist.yield", f.Alchemist.Yield},
	} {
		amt, err := parseAmount(field.val)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", field.key, err)
		}
		amounts[field.key] = amt
	}

	env := &Environment{
		Ledger:         l,
		Transmuter:     NewTransmuter(l, AccountsFor(f.Transmuter.Name)),
		Alchemist:      NewAlchemist(l, AccountsFor(f.Alchemist.Name)),
		TransmuterName: f.Transmuter.Name,
		AlchemistName:  f.Alchemist.Name,
	}

	total := new(big.Int)
	for _, k := range []string{"transmuter.deposit", "alchemist.deposit", "alchemist.pending"} {
		total.Add(total, amounts[k])
	}
	l.Mint(f.Depositor, total)

	if err := env.Transmuter.Deposit(f.Depositor, amounts["transmuter.deposit"]); err != nil {
		return nil, err
	}
	l.Mint(env.Transmuter.Accounts().Vault, amounts["transmuter.yield"])
	env.Transmuter.SetPause(f.Transmuter.Paused)

	if err := env.Alchemist.Deposit(f.Depositor, amounts["alchemist.deposit"]); err != nil {
		return nil, err
	}
	if err := env.Alchemist.Flush(ctx); err != nil {
		return nil, err
	}
	env.Alchemist.flushes = 0
	if err := env.Alchemist.Deposit(f.Depositor, amounts["alchemist.pending"]); err != nil {
		return nil, err
	}
	l.Mint(env.Alchemist.Accounts().Vault, amounts["alchemist.yield"])
	env.Alchemist.SetEmergencyExit(f.Alchemist.EmergencyExit)

	return env, nil
}

// Register adds both systems to r under their fixture names
func (e *Environment) Register(r *vault.Registry) {
	r.Register(e.TransmuterName, e.Transmuter)
	r.Register(e.AlchemistName, e.Alchemist)
}

func parseAmount(s string) (*big.Int, error) {
	if s == "" {
		return new(big.Int), nil
	}
	amt, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", s)
	}
	if amt.Sign() < 0 {
		return nil, fmt.Errorf("negative amount %q", s)
	}
	return amt, nil
}
