// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package motion moves the servo bank: interpolated multi-channel moves,
// single-channel sweeps, and the worker that schedules them.
package motion

import (
	"fmt"
	"math"
	"time"

	"github.com/relabs-tech/servo_arm/internal/servo"
)

const (
	DefaultSteps     = 30
	DefaultStepDelay = 10 * time.Millisecond
)

// EngineOptions tunes interpolation. Zero values select the defaults,
// except StepDelay where a negative value means no delay at all.
type EngineOptions struct {
	Steps     int
	StepDelay time.Duration
	Warn      func(RangeWarning)
}

// Engine runs the motion algorithms over a servo bank.
// It is not safe for concurrent use; the Controller worker owns it.
type Engine struct {
	bank      *servo.Bank
	steps     int
	stepDelay time.Duration
	warn      func(RangeWarning)

	sweepChannel int
	sweepDir     int
}

func NewEngine(bank *servo.Bank, opts EngineOptions) *Engine {
	e := &Engine{
		bank:      bank,
		steps:     opts.Steps,
		stepDelay: opts.StepDelay,
		warn:      opts.Warn,
		sweepDir:  1,
	}
	if e.steps <= 0 {
		e.steps = DefaultSteps
	}
	if e.stepDelay == 0 {
		e.stepDelay = DefaultStepDelay
	}
	if e.warn == nil {
		e.warn = logWarning
	}
	return e
}

// Bank returns the bank the engine drives.
func (e *Engine) Bank() *servo.Bank { return e.bank }

// Steps returns the number of interpolation steps per move.
func (e *Engine) Steps() int { return e.steps }

// MoveToPositions interpolates channels[i] towards targets[i] in Steps steps.
// Channels are committed first so every pass starts from where the servo is.
// At each step channels are written in the order given.
func (e *Engine) MoveToPositions(channels, targets []int) error {
	if len(channels) != len(targets) {
		return fmt.Errorf("%w: %d channels but %d targets", ErrArgument, len(channels), len(targets))
	}
	for _, ch := range channels {
		if !servo.ValidChannel(ch) {
			return fmt.Errorf("%w: channel %d out of range", ErrArgument, ch)
		}
	}

	goals := make([]int, len(channels))
	for i, ch := range channels {
		goals[i] = e.clamp(ch, targets[i])
		e.bank.SetGoal(ch, goals[i])
		e.bank.Commit(ch)
	}

	for k := 1; k <= e.steps; k++ {
		for i, ch := range channels {
			c := e.bank.Channel(ch)
			if c.Current == goals[i] {
				continue
			}
			e.bank.Write(ch, interpolate(c.Last, goals[i], k, e.steps))
			e.delay()
		}
	}

	e.bank.CommitAll()
	return nil
}

// interpolate returns the angle at step k of n between from and to.
func interpolate(from, to, k, n int) int {
	if k >= n {
		return to
	}
	return roundHalfEven(float64(from) + float64(to-from)/float64(n)*float64(k))
}

func roundHalfEven(v float64) int {
	return int(math.RoundToEven(v))
}

// StartSweep prepares channel for sweeping in direction (+1 or -1) by speed
// degrees per tick. The sweep accumulator is realigned with the current angle
// if an earlier move left them apart.
func (e *Engine) StartSweep(channel, direction int, speed float64) error {
	if !servo.ValidChannel(channel) {
		return fmt.Errorf("%w: channel %d out of range", ErrArgument, channel)
	}
	if direction != 1 && direction != -1 {
		return fmt.Errorf("%w: sweep direction must be 1 or -1, got %d", ErrArgument, direction)
	}
	if speed < 0 || math.IsNaN(speed) {
		return fmt.Errorf("%w: sweep speed must be non-negative, got %v", ErrArgument, speed)
	}

	e.sweepChannel = channel
	e.sweepDir = direction
	e.bank.SetSpeed(channel, speed)
	e.bank.CommitAll()

	c := e.bank.Channel(channel)
	if roundHalfEven(c.Buffer) != c.Current {
		e.bank.SetBuffer(channel, float64(c.Current))
	}
	return nil
}

// SweepStep advances the sweep channel by one tick. It reports true once the
// accumulator hit a travel limit; the endpoint has been written by then.
func (e *Engine) SweepStep() bool {
	ch := e.sweepChannel
	c := e.bank.Channel(ch)

	buf, limit := servo.ClampFloat(c.Buffer + float64(e.sweepDir*c.Direction)*c.Speed)
	e.bank.SetBuffer(ch, buf)
	e.bank.Write(ch, roundHalfEven(buf))
	e.bank.Commit(ch)
	e.delay()

	return limit
}

// ReverseSweep flips the sweep direction. Mount polarity is left alone.
func (e *Engine) ReverseSweep() {
	e.sweepDir = -e.sweepDir
}

// SweepChannel returns the channel the last StartSweep selected.
func (e *Engine) SweepChannel() int { return e.sweepChannel }

// ApplyOffset puts channel at its initial angle plus delta in a single write.
func (e *Engine) ApplyOffset(channel, delta int) error {
	if !servo.ValidChannel(channel) {
		return fmt.Errorf("%w: channel %d out of range", ErrArgument, channel)
	}
	c := e.bank.Channel(channel)
	e.bank.Write(channel, e.clamp(channel, c.Initial+delta))
	e.bank.Commit(channel)
	return nil
}

// Initialize writes every channel's initial angle and resets its bookkeeping.
func (e *Engine) Initialize() {
	for ch := 0; ch < servo.NumChannels; ch++ {
		e.bank.Reset(ch)
	}
}

// Recalibrate changes the initial angle of channel and, if move is set,
// drives the channel there right away.
func (e *Engine) Recalibrate(channel, angle int, move bool) error {
	if !servo.ValidChannel(channel) {
		return fmt.Errorf("%w: channel %d out of range", ErrArgument, channel)
	}
	angle = e.clamp(channel, angle)
	e.bank.SetInitial(channel, angle)
	if move {
		e.bank.Write(channel, angle)
		e.bank.Commit(channel)
	}
	return nil
}

func (e *Engine) clamp(channel, angle int) int {
	applied := servo.Clamp(angle)
	if applied != angle {
		e.warn(RangeWarning{Channel: channel, Requested: angle, Applied: applied})
	}
	return applied
}

func (e *Engine) delay() {
	if e.stepDelay > 0 {
		time.Sleep(e.stepDelay)
	}
}
