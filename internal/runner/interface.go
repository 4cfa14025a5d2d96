// Package runner provides the polling agent that drives a keeper.
// Runner is responsible for calling Check on a schedule, submitting the payload to
// Perform and retrying transient vault failures; the keeper itself never retries.
package runner

import (
	"context"
	"time"

	"github.com/kination/alkeeper/internal/keeper"
)

// Upkeeper is the two-phase upkeep surface a runner drives
type Upkeeper interface {
	Name() string
	Check(ctx context.Context, checkData []byte) (bool, []byte, error)
	Perform(ctx context.Context, payload []byte) (keeper.Result, error)
}

// Runner defines the interface for polling agents
type Runner interface {
	// Tick runs a single check/perform round
	Tick(ctx context.Context) (*TickResult, error)

	// Run ticks on the configured interval until ctx is done
	Run(ctx context.Context) error
}

// TickResult contains the result of one polling round
type TickResult struct {
	// Needed is what Check reported
	Needed bool

	// Result is the perform result, valid when Needed is true and no error occurred
	Result keeper.Result

	// Attempts is how many times Perform was submitted
	Attempts int
}

// RunnerConfig holds configuration for the runner
type RunnerConfig struct {
	// Interval is the time between two polls
	Interval time.Duration `yaml:"interval"`

	// MaxRetries is the maximum number of retries for failed performs
	MaxRetries int `yaml:"maxRetries"`

	// RetryBackoff is the backoff before the first retry; it doubles after each one
	RetryBackoff time.Duration `yaml:"retryBackoff"`
}

// DefaultRunnerConfig returns the default runner configuration
func DefaultRunnerConfig() RunnerConfig {
	return RunnerConfig{
		Interval:     time.Minute,
		MaxRetries:   3,
		RetryBackoff: 5 * time.Second,
	}
}
