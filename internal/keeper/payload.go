package keeper

import (
	"errors"
	"fmt"

	"github.com/kination/alkeeper/internal/task"
)

// PayloadSize is the length of an encoded payload: one 32-byte big-endian word
const PayloadSize = 32

// ErrMalformedPayload is returned when a payload does not decode to a rotation index
var ErrMalformedPayload = errors.New("malformed upkeep payload")

// EncodePayload encodes the task selected by Check
func EncodePayload(t task.Task) []byte {
	b := make([]byte, PayloadSize)
	b[PayloadSize-1] = byte(t)
	return b
}

// DecodePayload decodes a payload produced by EncodePayload
func DecodePayload(b []byte) (task.Task, error) {
	if len(b) != PayloadSize {
		return 0, fmt.Errorf("%w: length %d, want %d", ErrMalformedPayload, len(b), PayloadSize)
	}
	for _, x := range b[:PayloadSize-1] {
		if x != 0 {
			return 0, fmt.Errorf("%w: index out of range", ErrMalformedPayload)
		}
	}
	t, err := task.FromIndex(int(b[PayloadSize-1]))
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return t, nil
}
