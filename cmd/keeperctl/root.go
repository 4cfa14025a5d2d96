package main

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"math/big"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"

	"github.com/kination/alkeeper/internal/config"
	"github.com/kination/alkeeper/internal/keeper"
	"github.com/kination/alkeeper/internal/runner"
	"github.com/kination/alkeeper/internal/store"
	"github.com/kination/alkeeper/internal/task"
	"github.com/kination/alkeeper/internal/vault"
	"github.com/kination/alkeeper/internal/vault/sim"
)

const version = "v0.1.0"

type options struct {
	configPath string
	storeType  string
	storePath  string
	fixture    string
	verbose    bool
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:   "keeperctl",
		Short: "AlKeeper CLI - drive the upkeep rotation by hand",
		Long: `keeperctl runs the check/perform upkeep protocol against simulated
transmuter and alchemist vaults.

The rotation index is kept in the configured store, so with a sqlite store
successive invocations continue where the previous one stopped. Vault state
is rebuilt from the fixture on every invocation.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			ctrl.SetLogger(zap.New(zap.UseDevMode(opts.verbose), zap.WriteTo(cmd.ErrOrStderr())))
		},
	}

	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "alkeeper.yaml", "Path to the configuration file")
	root.PersistentFlags().StringVar(&opts.storeType, "store", "", "Override store type (memory, sqlite)")
	root.PersistentFlags().StringVar(&opts.storePath, "store-path", "", "Override sqlite database path")
	root.PersistentFlags().StringVar(&opts.fixture, "fixture", "", "Override sim fixture file")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "Enable debug logging")

	root.AddCommand(
		newCheckCmd(opts),
		newPerformCmd(opts),
		newStatusCmd(opts),
		newSimulateCmd(opts),
		newRunCmd(opts),
		newVersionCmd(),
	)
	return root
}

// session is everything one command needs
type session struct {
	cfg     config.Config
	env     *sim.Environment
	backend store.Backend
	keeper  *keeper.Keeper
}

func (s *session) Close() error {
	return s.backend.Close()
}

func openSession(opts *options) (*session, error) {
	cfg, err := config.Load(opts.configPath, true)
	if err != nil {
		return nil, err
	}
	if opts.storeType != "" {
		cfg.Store.Type = store.StoreType(opts.storeType)
	}
	if opts.storePath != "" {
		cfg.Store.Path = opts.storePath
	}
	if opts.fixture != "" {
		cfg.Fixture = opts.fixture
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	fixture := sim.DefaultFixture()
	if cfg.Fixture != "" {
		if fixture, err = sim.LoadFixture(cfg.Fixture); err != nil {
			return nil, err
		}
	}
	env, err := fixture.Build()
	if err != nil {
		return nil, fmt.Errorf("build fixture: %w", err)
	}

	vaults := vault.NewRegistry()
	env.Register(vaults)
	transmuter, err := vaults.Get(env.TransmuterName)
	if err != nil {
		return nil, err
	}
	alchemist, err := vaults.Get(env.AlchemistName)
	if err != nil {
		return nil, err
	}

	backend, err := store.New(cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	k := keeper.New(task.NewRegistry(transmuter, alchemist), backend, keeper.WithName(cfg.Keeper.Name))
	return &session{cfg: cfg, env: env, backend: backend, keeper: k}, nil
}

func newCheckCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Report whether upkeep is needed and print the perform payload",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(opts)
			if err != nil {
				return err
			}
			defer s.Close()

			needed, payload, err := s.keeper.Check(cmd.Context(), nil)
			if err != nil {
				return err
			}
			t, _ := keeper.DecodePayload(payload)
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "needed:  %t\n", needed)
			fmt.Fprintf(out, "task:    %s\n", t)
			fmt.Fprintf(out, "payload: %s\n", hex.EncodeToString(payload))
			return nil
		},
	}
}

func newPerformCmd(opts *options) *cobra.Command {
	var payloadHex string

	cmd := &cobra.Command{
		Use:   "perform",
		Short: "Perform one upkeep round",
		Long: `Perform one upkeep round. Without --payload the payload from a fresh
check is used. The live rotation index always decides the task; the payload
is only a hint.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(opts)
			if err != nil {
				return err
			}
			defer s.Close()

			ctx := cmd.Context()
			var payload []byte
			if payloadHex != "" {
				if payload, err = hex.DecodeString(strings.TrimPrefix(payloadHex, "0x")); err != nil {
					return fmt.Errorf("%w: %v", keeper.ErrMalformedPayload, err)
				}
			} else if _, payload, err = s.keeper.Check(ctx, nil); err != nil {
				return err
			}

			res, err := s.keeper.Perform(ctx, payload)
			if errors.Is(err, keeper.ErrMalformedPayload) {
				return err
			}
			rec := store.Record{Keeper: s.cfg.Keeper.Name, Task: res.Task, Outcome: string(res.Outcome), At: time.Now()}
			if err != nil {
				rec = failureRecord(ctx, s.backend, s.cfg.Keeper.Name, err)
			}
			if herr := s.backend.Append(ctx, rec); herr != nil {
				return herr
			}
			if err != nil {
				return err
			}
			printResult(cmd.OutOrStdout(), res)
			return nil
		},
	}
	cmd.Flags().StringVarP(&payloadHex, "payload", "p", "", "Hex encoded perform payload")
	return cmd
}

func newStatusCmd(opts *options) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Print the current rotation slot and recent perform history",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(opts)
			if err != nil {
				return err
			}
			defer s.Close()

			ctx := cmd.Context()
			idx, err := s.keeper.CurrentTaskIndex(ctx)
			if err != nil {
				return err
			}
			t, _ := task.FromIndex(idx)

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "keeper:  %s\n", s.cfg.Keeper.Name)
			fmt.Fprintf(out, "store:   %s\n", s.cfg.Store.Type)
			fmt.Fprintf(out, "current: %d (%s)\n", idx, t)

			records, err := s.backend.List(ctx, limit)
			if err != nil {
				return err
			}
			if len(records) == 0 {
				return nil
			}
			fmt.Fprintln(out, "history:")
			for _, r := range records {
				line := fmt.Sprintf("  %s  %-18s %s", r.At.Format("2006-01-02T15:04:05Z07:00"), r.Task, r.Outcome)
				if r.Error != "" {
					line += "  " + r.Error
				}
				fmt.Fprintln(out, line)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "Number of history entries to show")
	return cmd
}

func newSimulateCmd(opts *options) *cobra.Command {
	var steps int

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run several upkeep rounds against the sim fixture",
		RunE: func(cmd *cobra.Command, args []string) error {
			if steps <= 0 {
				return fmt.Errorf("--steps must be positive, got %d", steps)
			}
			s, err := openSession(opts)
			if err != nil {
				return err
			}
			defer s.Close()

			ctx := cmd.Context()
			r := runner.NewRunner(s.keeper, s.backend, s.cfg.Runner)
			out := cmd.OutOrStdout()
			for i := 0; i < steps; i++ {
				res, err := r.Tick(ctx)
				if err != nil {
					return fmt.Errorf("step %d: %w", i+1, err)
				}
				fmt.Fprintf(out, "step %d: ", i+1)
				printResult(out, res.Result)
			}
			printBalances(ctx, out, s.env)
			return nil
		},
	}
	cmd.Flags().IntVarP(&steps, "steps", "n", 3, "Number of rounds to run")
	return cmd
}

func newRunCmd(opts *options) *cobra.Command {
	var interval time.Duration

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Poll the keeper on the configured interval until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(opts)
			if err != nil {
				return err
			}
			defer s.Close()

			cfg := s.cfg.Runner
			if interval > 0 {
				cfg.Interval = interval
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			r := runner.NewRunner(s.keeper, s.backend, cfg)
			fmt.Fprintf(cmd.OutOrStdout(), "polling %s every %s\n", s.cfg.Keeper.Name, r.Config().Interval)
			if err := r.Run(ctx); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "stopped")
			return nil
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", 0, "Override runner.interval")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number of keeperctl",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "AlKeeper CLI %s\n", version)
		},
	}
}

// failureRecord builds the history entry for a failed perform. A failed perform does not
// advance, so the live index names the slot that was attempted.
func failureRecord(ctx context.Context, st store.Store, name string, err error) store.Record {
	rec := store.Record{Keeper: name, Outcome: runner.OutcomeFailed, Error: err.Error(), At: time.Now()}
	var cerr *task.CollaboratorError
	if errors.As(err, &cerr) {
		rec.Task = cerr.Task
	} else if cur, lerr := st.Load(ctx); lerr == nil {
		rec.Task = cur
	}
	return rec
}

func printResult(out io.Writer, res keeper.Result) {
	line := fmt.Sprintf("%s %s, next %s", res.Task, strings.ToLower(string(res.Outcome)), res.Next)
	if res.StaleHint {
		line += " (stale payload)"
	}
	fmt.Fprintln(out, line)
}

func printBalances(ctx context.Context, out io.Writer, env *sim.Environment) {
	show := func(name string, y *big.Int, err error) {
		if err != nil {
			fmt.Fprintf(out, "%s: %v\n", name, err)
			return
		}
		fmt.Fprintf(out, "%s pending yield: %s\n", name, y)
	}
	y, err := env.Transmuter.PendingYield(ctx)
	show(env.TransmuterName, y, err)
	y, err = env.Alchemist.PendingYield(ctx)
	show(env.AlchemistName, y, err)

	unflushed, _ := env.Alchemist.PendingUnflushedDeposits(ctx)
	fmt.Fprintf(out, "%s unflushed: %s\n", env.AlchemistName, unflushed)
	fmt.Fprintf(out, "rewards: %s\n", env.Ledger.BalanceOf(env.Transmuter.Accounts().Rewards))
}
