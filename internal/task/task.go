// Package task defines the fixed maintenance rotation and the admissibility rule
// for each of its slots.
package task

import (
	"errors"
	"fmt"
)

// Task is one slot of the maintenance rotation.
// Only the three declared values are valid; FromIndex guards every conversion from
// untrusted integers.
type Task uint8

const (
	HarvestTransmuter Task = iota
	HarvestAlchemist
	FlushAlchemist
)

// Count is the rotation period
const Count = 3

// ErrUnknownTask is returned for indexes outside the rotation
var ErrUnknownTask = errors.New("unknown task")

var names = [Count]string{"HarvestTransmuter", "HarvestAlchemist", "FlushAlchemist"}

// All returns the rotation in order
func All() []Task {
	return []Task{HarvestTransmuter, HarvestAlchemist, FlushAlchemist}
}

// FromIndex converts a rotation index into a task
func FromIndex(i int) (Task, error) {
	if i < 0 || i >= Count {
		return 0, fmt.Errorf("%w: index %d", ErrUnknownTask, i)
	}
	return Task(i), nil
}

// Parse converts a task name as returned by String back into a task
func Parse(name string) (Task, error) {
	for i, n := range names {
		if n == name {
			return Task(i), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownTask, name)
}

// Valid reports whether t is one of the rotation slots
func (t Task) Valid() bool {
	return t < Count
}

// Index returns the rotation index of t
func (t Task) Index() int {
	return int(t)
}

// Next returns the cyclic successor: FlushAlchemist wraps to HarvestTransmuter.
func (t Task) Next() Task {
	switch t {
	case HarvestTransmuter:
		return HarvestAlchemist
	case HarvestAlchemist:
		return FlushAlchemist
	default:
		return HarvestTransmuter
	}
}

func (t Task) String() string {
	if !t.Valid() {
		return fmt.Sprintf("Task(%d)", uint8(t))
	}
	return names[t]
}
