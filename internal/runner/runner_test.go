package runner

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/kination/alkeeper/internal/keeper"
	"github.com/kination/alkeeper/internal/store"
	"github.com/kination/alkeeper/internal/task"
	"github.com/kination/alkeeper/internal/vault/vaulttest"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func fastConfig() RunnerConfig {
	return RunnerConfig{
		Interval:     5 * time.Millisecond,
		MaxRetries:   2,
		RetryBackoff: time.Millisecond,
	}
}

func newKeeper(transmuter, alchemist *vaulttest.Fake, st store.Store) *keeper.Keeper {
	return keeper.New(task.NewRegistry(transmuter, alchemist), st,
		keeper.WithName("runner-test"), keeper.WithLogger(logr.Discard()))
}

func TestDefaultRunnerConfig(t *testing.T) {
	cfg := DefaultRunnerConfig()
	assert.Equal(t, time.Minute, cfg.Interval)
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, 5*time.Second, cfg.RetryBackoff)
}

func TestTick_PerformsAndRecords(t *testing.T) {
	mem := store.NewMemoryStore()
	k := newKeeper(&vaulttest.Fake{Yield: 10}, &vaulttest.Fake{}, mem)
	r := NewRunner(k, mem, fastConfig())

	res, err := r.Tick(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Needed)
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, task.HarvestTransmuter, res.Result.Task)
	assert.Equal(t, keeper.OutcomePerformed, res.Result.Outcome)

	recs, err := mem.List(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "runner-test", recs[0].Keeper)
	assert.Equal(t, "Performed", recs[0].Outcome)
}

func TestTick_RetriesTransientFailure(t *testing.T) {
	boom := errors.New("nonce too low")
	transmuter := &vaulttest.Fake{Yield: 10, HarvestErr: boom}
	mem := store.NewMemoryStore()
	k := newKeeper(transmuter, &vaulttest.Fake{}, mem)

	var calls atomic.Int32
	wrapped := &flakyUpkeeper{Upkeeper: k, before: func() {
		if calls.Add(1) == 2 {
			transmuter.Set(func(f *vaulttest.Fake) { f.HarvestErr = nil })
		}
	}}
	r := NewRunner(wrapped, mem, fastConfig())

	res, err := r.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Attempts)
	assert.Equal(t, keeper.OutcomePerformed, res.Result.Outcome)

	idx, err := k.CurrentTaskIndex(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, idx)
}

func TestTick_GivesUpAfterMaxRetries(t *testing.T) {
	boom := errors.New("reverted")
	alchemist := &vaulttest.Fake{Unflushed: 10, FlushErr: boom}
	mem := store.NewMemoryStore()
	require.NoError(t, mem.Save(context.Background(), task.FlushAlchemist))
	k := newKeeper(&vaulttest.Fake{}, alchemist, mem)
	r := NewRunner(k, mem, fastConfig())

	res, err := r.Tick(context.Background())
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 3, res.Attempts)

	_, flushes := alchemist.Calls()
	assert.Equal(t, 3, flushes)

	idx, err := k.CurrentTaskIndex(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, idx, "failed perform must leave the slot in place")

	recs, err := mem.List(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, OutcomeFailed, recs[0].Outcome)
	assert.Equal(t, task.FlushAlchemist, recs[0].Task)
	assert.Contains(t, recs[0].Error, "reverted")
}

func TestTick_StopsRetryingOnCancel(t *testing.T) {
	boom := errors.New("reverted")
	transmuter := &vaulttest.Fake{Yield: 10, HarvestErr: boom}
	mem := store.NewMemoryStore()
	k := newKeeper(transmuter, &vaulttest.Fake{}, mem)
	r := NewRunner(k, mem, RunnerConfig{
		Interval:     time.Minute,
		MaxRetries:   3,
		RetryBackoff: 400 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	timer := time.AfterFunc(50*time.Millisecond, cancel)
	defer timer.Stop()

	start := time.Now()
	res, err := r.Tick(ctx)
	elapsed := time.Since(start)

	require.ErrorIs(t, err, boom)
	assert.Less(t, elapsed, 300*time.Millisecond, "cancel must cut the backoff wait short")
	assert.Equal(t, 1, res.Attempts)

	harvests, _ := transmuter.Calls()
	assert.Equal(t, 1, harvests, "no vault call after cancellation")

	idx, err := k.CurrentTaskIndex(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, idx)

	recs, err := mem.List(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, OutcomeFailed, recs[0].Outcome)
}

func TestTick_DoesNotRetryMalformedPayload(t *testing.T) {
	k := newKeeper(&vaulttest.Fake{}, &vaulttest.Fake{}, store.NewMemoryStore())
	bad := &badPayloadUpkeeper{Upkeeper: k}
	r := NewRunner(bad, nil, fastConfig())

	res, err := r.Tick(context.Background())
	require.ErrorIs(t, err, keeper.ErrMalformedPayload)
	assert.Equal(t, 1, res.Attempts)
}

func TestRun_StopsOnCancel(t *testing.T) {
	mem := store.NewMemoryStore()
	k := newKeeper(&vaulttest.Fake{}, &vaulttest.Fake{}, mem)
	r := NewRunner(k, mem, fastConfig())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() { done <- r.Run(ctx) }()

	require.Eventually(t, func() bool {
		recs, _ := mem.List(context.Background(), 0)
		return len(recs) >= 4
	}, time.Second, time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("runner did not stop")
	}

	recs, err := mem.List(context.Background(), 0)
	require.NoError(t, err)
	idx, err := k.CurrentTaskIndex(context.Background())
	require.NoError(t, err)
	assert.Equal(t, len(recs)%task.Count, idx)
}

type flakyUpkeeper struct {
	Upkeeper
	before func()
}

func (f *flakyUpkeeper) Perform(ctx context.Context, payload []byte) (keeper.Result, error) {
	f.before()
	return f.Upkeeper.Perform(ctx, payload)
}

type badPayloadUpkeeper struct {
	Upkeeper
}

func (b *badPayloadUpkeeper) Check(ctx context.Context, data []byte) (bool, []byte, error) {
	return true, []byte{0x09}, nil
}
