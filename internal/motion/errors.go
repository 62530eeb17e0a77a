package motion

import (
	"errors"
	"fmt"
	"log"
)

var (
	// ErrArgument is returned when a move request is malformed, e.g. channel
	// and target lists of different length or a channel outside the bank.
	ErrArgument = errors.New("motion: invalid argument")

	// ErrShape marks a sequence entry whose length does not match the arm.
	ErrShape = errors.New("motion: malformed position vector")

	// ErrStopped is returned by a mode start that Stop overtook in the queue.
	ErrStopped = errors.New("motion: stopped")
)

// RangeWarning reports an angle that was outside [0,180] and got clamped.
type RangeWarning struct {
	Channel   int
	Requested int
	Applied   int
}

func (w RangeWarning) String() string {
	return fmt.Sprintf("channel %d angle %d out of range, clamped to %d", w.Channel, w.Requested, w.Applied)
}

func logWarning(w RangeWarning) {
	log.Printf("motion: %s", w)
}
