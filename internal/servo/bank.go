// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package servo holds the per-channel angle bookkeeping of a 16-channel servo bank.
package servo

import (
	"fmt"
	"log"
	"sync"
)

const (
	NumChannels = 16
	MinAngle    = 0
	MaxAngle    = 180

	// DefaultAngle is the neutral position every channel starts at.
	DefaultAngle = 90
)

// Actuator converts a channel id and an angle into a physical command.
// Writes are fire-and-forget from the bank's point of view: a failure is logged, never retried.
type Actuator interface {
	WriteChannelAngle(channel, angle int) error
}

// Channel is the angle state of a single servo slot.
type Channel struct {
	ID        int
	Initial   int
	Goal      int
	Current   int
	Last      int     // origin of the current interpolation pass
	Buffer    float64 // fractional sweep accumulator
	Direction int     // +1 normal mount, -1 reversed mount
	Speed     float64 // sweep increment per tick
}

// Clamp limits an angle to [MinAngle, MaxAngle].
func Clamp(angle int) int {
	if angle < MinAngle {
		return MinAngle
	}
	if angle > MaxAngle {
		return MaxAngle
	}
	return angle
}

// ClampFloat limits a fractional angle to [MinAngle, MaxAngle] and reports whether it had to.
func ClampFloat(angle float64) (float64, bool) {
	if angle < MinAngle {
		return MinAngle, true
	}
	if angle > MaxAngle {
		return MaxAngle, true
	}
	return angle, false
}

// ValidChannel reports whether id addresses a slot of the bank.
func ValidChannel(id int) bool {
	return id >= 0 && id < NumChannels
}

// Bank owns the state of all channels.
// Mutations are expected from a single goroutine; reads are safe from any goroutine.
type Bank struct {
	mu       sync.RWMutex
	channels [NumChannels]Channel
	act      Actuator
}

// NewBank creates a bank whose channels all rest at their initial angle.
// initial may be shorter than NumChannels; missing entries default to DefaultAngle.
func NewBank(act Actuator, initial []int) *Bank {
	b := &Bank{act: act}
	for i := range b.channels {
		angle := DefaultAngle
		if i < len(initial) {
			angle = Clamp(initial[i])
		}
		b.channels[i] = Channel{
			ID:        i,
			Initial:   angle,
			Goal:      angle,
			Current:   angle,
			Last:      angle,
			Buffer:    float64(angle),
			Direction: 1,
		}
	}
	return b
}

// Channel returns a copy of the state of channel id.
func (b *Bank) Channel(id int) Channel {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.channels[id]
}

// Read returns the current angle of channel id.
func (b *Bank) Read(id int) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.channels[id].Current
}

// Write clamps angle, records it as the current angle and actuates the channel.
// It returns the angle that was actually written.
func (b *Bank) Write(id, angle int) int {
	angle = Clamp(angle)

	b.mu.Lock()
	b.channels[id].Current = angle
	b.mu.Unlock()

	if b.act != nil {
		if err := b.act.WriteChannelAngle(id, angle); err != nil {
			log.Printf("servo: channel %d write failed: %v", id, err)
		}
	}
	return angle
}

// Commit folds the current angle of channel id into its last angle.
func (b *Bank) Commit(id int) {
	b.mu.Lock()
	b.channels[id].Last = b.channels[id].Current
	b.mu.Unlock()
}

// CommitAll commits every channel, ending a motion pass.
func (b *Bank) CommitAll() {
	b.mu.Lock()
	for i := range b.channels {
		b.channels[i].Last = b.channels[i].Current
	}
	b.mu.Unlock()
}

// SetGoal records the interpolation target of channel id.
func (b *Bank) SetGoal(id, angle int) {
	b.mu.Lock()
	b.channels[id].Goal = Clamp(angle)
	b.mu.Unlock()
}

// SetBuffer stores a sweep accumulator value, clamped into range.
func (b *Bank) SetBuffer(id int, angle float64) {
	angle, _ = ClampFloat(angle)
	b.mu.Lock()
	b.channels[id].Buffer = angle
	b.mu.Unlock()
}

// SetSpeed sets the sweep increment of channel id. Negative speeds are treated as zero.
func (b *Bank) SetSpeed(id int, speed float64) {
	if speed < 0 {
		speed = 0
	}
	b.mu.Lock()
	b.channels[id].Speed = speed
	b.mu.Unlock()
}

// SetDirection sets the mount polarity of channel id.
func (b *Bank) SetDirection(id, dir int) error {
	if dir != 1 && dir != -1 {
		return fmt.Errorf("servo: channel %d direction must be 1 or -1, got %d", id, dir)
	}
	b.mu.Lock()
	b.channels[id].Direction = dir
	b.mu.Unlock()
	return nil
}

// SetInitial reconfigures the rest angle of channel id.
func (b *Bank) SetInitial(id, angle int) {
	b.mu.Lock()
	b.channels[id].Initial = Clamp(angle)
	b.mu.Unlock()
}

// Reset puts channel id at its initial angle: every angle field, the buffer
// and the hardware all agree afterwards.
func (b *Bank) Reset(id int) {
	b.mu.Lock()
	ch := &b.channels[id]
	ch.Current = ch.Initial
	ch.Last = ch.Initial
	ch.Goal = ch.Initial
	ch.Buffer = float64(ch.Initial)
	angle := ch.Initial
	b.mu.Unlock()

	b.Write(id, angle)
}

// Snapshot returns the current angle of every channel.
func (b *Bank) Snapshot() []int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]int, NumChannels)
	for i, ch := range b.channels {
		out[i] = ch.Current
	}
	return out
}
