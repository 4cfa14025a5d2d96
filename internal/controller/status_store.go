package controller

import (
	"context"

	keeperv1 "github.com/kination/alkeeper/api/v1"
	"github.com/kination/alkeeper/internal/store"
	"github.com/kination/alkeeper/internal/task"
)

// StatusStore keeps the rotation index in a Keeper's status.
// Save only stages the new index on the in-memory object; the reconciler commits it
// together with the rest of the status in a single update, so the index and the
// perform bookkeeping are written (or rejected on conflict) as one unit.
type StatusStore struct {
	keeper *keeperv1.Keeper
}

var _ store.Store = (*StatusStore)(nil)

// NewStatusStore wraps kp, which must stay alive until the status update is committed
func NewStatusStore(kp *keeperv1.Keeper) *StatusStore {
	return &StatusStore{keeper: kp}
}

func (s *StatusStore) Load(ctx context.Context) (task.Task, error) {
	t, err := task.FromIndex(int(s.keeper.Status.CurrentTaskIndex))
	if err != nil {
		return 0, store.ErrCorruptState
	}
	return t, nil
}

func (s *StatusStore) Save(ctx context.Context, next task.Task) error {
	if !next.Valid() {
		return store.ErrCorruptState
	}
	s.keeper.Status.CurrentTaskIndex = int32(next.Index())
	return nil
}
