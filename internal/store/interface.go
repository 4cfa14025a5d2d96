// Package store provides persistence for the keeper's rotation state and a log of
// perform outcomes.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kination/alkeeper/internal/task"
)

// ErrCorruptState is returned when a persisted index is outside the rotation
var ErrCorruptState = errors.New("corrupt rotation state")

// Store persists the index of the next task to attempt.
// A store that has never been saved loads task.HarvestTransmuter.
type Store interface {
	Load(ctx context.Context) (task.Task, error)
	Save(ctx context.Context, next task.Task) error
}

// History records what each perform call did
type History interface {
	Append(ctx context.Context, rec Record) error
	// List returns the most recent records, newest first
	List(ctx context.Context, limit int) ([]Record, error)
}

// Record is one perform outcome
type Record struct {
	Keeper  string
	Task    task.Task
	Outcome string
	Error   string
	At      time.Time
}

// StoreType defines the type of store backend
type StoreType string

const (
	// StoreTypeMemory keeps state in process memory (tests, simulation)
	StoreTypeMemory StoreType = "memory"
	// StoreTypeSQLite keeps state in a local SQLite file
	StoreTypeSQLite StoreType = "sqlite"
)

// StoreConfig holds configuration for creating a store
type StoreConfig struct {
	// Type is the store backend type
	Type StoreType `yaml:"type"`
	// Path is the SQLite database file
	Path string `yaml:"path"`
	// KeeperName scopes the persisted state; one database can hold several keepers
	KeeperName string `yaml:"-"`
}

// DefaultStoreConfig returns the default store configuration
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		Type:       StoreTypeMemory,
		Path:       "alkeeper.db",
		KeeperName: "default",
	}
}

// Backend is a store that also keeps history and must be closed
type Backend interface {
	Store
	History
	Close() error
}

// New opens the backend described by cfg
func New(cfg StoreConfig) (Backend, error) {
	switch cfg.Type {
	case StoreTypeMemory, "":
		return NewMemoryStore(), nil
	case StoreTypeSQLite:
		return NewSQLiteStore(cfg.Path, cfg.KeeperName)
	default:
		return nil, fmt.Errorf("unknown store type: %s", cfg.Type)
	}
}

func decodeIndex(i int) (task.Task, error) {
	t, err := task.FromIndex(i)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrCorruptState, err)
	}
	return t, nil
}
