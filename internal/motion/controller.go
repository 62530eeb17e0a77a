// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package motion

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"go.uber.org/multierr"
)

const (
	DefaultPlanPause = time.Second
	defaultQueueSize = 16
)

// DefaultArmChannels are base, shoulder, elbow, wrist and gripper.
var DefaultArmChannels = []int{0, 1, 2, 3, 4}

// ControllerOptions configures a Controller. Zero values select the defaults,
// except PlanPause where a negative value means no pause between entries.
type ControllerOptions struct {
	ArmChannels []int
	PlanPause   time.Duration
	QueueSize   int

	// OnEntry, if set, is called by the worker after sequence entry i has been reached.
	OnEntry func(i int)
}

type request struct {
	fn   func() error
	done chan error
}

// Controller serializes every motion onto a single worker goroutine.
// Callers submit requests and wait for the worker to run them. While the
// gate is open the worker also runs the handler of the current Mode once
// per loop: one sweep tick, a whole initialization or a whole playback.
type Controller struct {
	engine      *Engine
	plan        *Plan
	armChannels []int
	planPause   time.Duration
	onEntry     func(int)

	reqs      chan request
	wake      chan struct{}
	interrupt chan struct{}

	mu      sync.RWMutex
	mode    Mode
	running bool
	stopGen uint64
}

func NewController(engine *Engine, plan *Plan, opts ControllerOptions) *Controller {
	c := &Controller{
		engine:      engine,
		plan:        plan,
		armChannels: append([]int(nil), opts.ArmChannels...),
		planPause:   opts.PlanPause,
		onEntry:     opts.OnEntry,
		wake:        make(chan struct{}, 1),
		interrupt:   make(chan struct{}, 1),
	}
	if len(c.armChannels) == 0 {
		c.armChannels = append([]int(nil), DefaultArmChannels...)
	}
	if c.planPause == 0 {
		c.planPause = DefaultPlanPause
	}
	if c.plan == nil {
		c.plan = NewPlan(nil)
	}
	size := opts.QueueSize
	if size <= 0 {
		size = defaultQueueSize
	}
	c.reqs = make(chan request, size)
	return c
}

// Run is the worker loop. It returns when ctx is done.
func (c *Controller) Run(ctx context.Context) error {
	log.Printf("motion: worker started, arm channels %v", c.armChannels)
	for {
		if c.Running() {
			c.dispatch(ctx)
			select {
			case req := <-c.reqs:
				req.done <- req.fn()
			case <-ctx.Done():
				log.Println("motion: worker stopped")
				return ctx.Err()
			default:
			}
			continue
		}

		select {
		case req := <-c.reqs:
			req.done <- req.fn()
		case <-c.wake:
		case <-ctx.Done():
			log.Println("motion: worker stopped")
			return ctx.Err()
		}
	}
}

func (c *Controller) dispatch(ctx context.Context) {
	switch c.Mode() {
	case Initializing:
		c.engine.Initialize()
		log.Println("motion: channels initialized")
		c.finish()
	case Sweeping:
		if c.engine.SweepStep() {
			c.engine.Bank().CommitAll()
			log.Printf("motion: sweep on channel %d reached its limit", c.engine.SweepChannel())
			c.finish()
		}
	case PlayingSequence:
		if err := c.play(ctx); err != nil {
			log.Printf("motion: playback finished with errors: %v", err)
		}
		c.finish()
	case Idle, Stopped:
		c.Pause()
	}
}

// finish closes the gate after a handler completed on its own.
// Stopped is kept so callers can still see that a stop happened.
func (c *Controller) finish() {
	c.mu.Lock()
	if c.mode != Stopped {
		c.mode = Idle
	}
	c.running = false
	c.mu.Unlock()
}

// generation returns the stop count a mode start is bound to.
func (c *Controller) generation() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stopGen
}

// begin switches to m unless Stop was called after gen was taken.
// With run set the gate is opened for the worker to dispatch m.
func (c *Controller) begin(gen uint64, m Mode, run bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopGen != gen {
		return fmt.Errorf("%w: %s request cancelled", ErrStopped, m)
	}
	c.mode = m
	if run {
		c.running = true
	}
	return nil
}

// play moves through a snapshot of the plan, pausing between entries.
// Entries of the wrong length are skipped and reported.
func (c *Controller) play(ctx context.Context) error {
	select {
	case <-c.interrupt:
	default:
	}

	seq := c.plan.Sequence()
	log.Printf("motion: playing %d positions", len(seq))

	var errs error
	for i, pos := range seq {
		if c.Mode() == Stopped {
			log.Printf("motion: playback stopped before entry %d", i)
			break
		}
		if len(pos) != len(c.armChannels) {
			errs = multierr.Append(errs, fmt.Errorf("%w: entry %d has %d angles, want %d", ErrShape, i, len(pos), len(c.armChannels)))
			continue
		}
		if err := c.engine.MoveToPositions(c.armChannels, pos); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("entry %d: %w", i, err))
			continue
		}
		if c.onEntry != nil {
			c.onEntry(i)
		}
		if !c.sleep(ctx, c.planPause) {
			break
		}
	}
	return errs
}

// sleep waits d unless Stop or ctx cuts it short.
func (c *Controller) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-c.interrupt:
		return false
	case <-ctx.Done():
		return false
	}
}

// submit hands fn to the worker and waits for its result.
func (c *Controller) submit(ctx context.Context, fn func() error) error {
	req := request{fn: fn, done: make(chan error, 1)}
	select {
	case c.reqs <- req:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-req.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Controller) poke() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// Pause closes the gate. The current mode handler finishes its dispatch first.
func (c *Controller) Pause() {
	c.mu.Lock()
	c.running = false
	c.mu.Unlock()
}

// Resume opens the gate.
func (c *Controller) Resume() {
	c.mu.Lock()
	c.running = true
	c.mu.Unlock()
	c.poke()
}

// Running reports whether the gate is open.
func (c *Controller) Running() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.running
}

func (c *Controller) Mode() Mode {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.mode
}

// MoveTo interpolates the given channels to targets and blocks until done.
func (c *Controller) MoveTo(ctx context.Context, channels, targets []int) error {
	return c.submit(ctx, func() error {
		if err := c.engine.MoveToPositions(channels, targets); err != nil {
			return err
		}
		c.finish()
		return nil
	})
}

// MoveArm moves the arm channels to angles, one per channel.
func (c *Controller) MoveArm(ctx context.Context, angles []int) error {
	if len(angles) != len(c.armChannels) {
		return fmt.Errorf("%w: arm has %d joints, got %d angles", ErrArgument, len(c.armChannels), len(angles))
	}
	return c.MoveTo(ctx, c.armChannels, angles)
}

// ApplyOffset sets channel to its initial angle plus delta.
func (c *Controller) ApplyOffset(ctx context.Context, channel, delta int) error {
	return c.submit(ctx, func() error {
		return c.engine.ApplyOffset(channel, delta)
	})
}

// Recalibrate changes the initial angle of channel.
func (c *Controller) Recalibrate(ctx context.Context, channel, angle int, move bool) error {
	return c.submit(ctx, func() error {
		return c.engine.Recalibrate(channel, angle, move)
	})
}

// MoveInit puts every channel back at its initial angle. The worker does the
// writes after the call returns; later requests are served after it.
func (c *Controller) MoveInit(ctx context.Context) error {
	gen := c.generation()
	return c.submit(ctx, func() error {
		return c.begin(gen, Initializing, true)
	})
}

// SingleServo starts sweeping channel until it reaches a limit or Stop is called.
func (c *Controller) SingleServo(ctx context.Context, channel, direction int, speed float64) error {
	gen := c.generation()
	return c.submit(ctx, func() error {
		if c.generation() != gen {
			return fmt.Errorf("%w: %s request cancelled", ErrStopped, Sweeping)
		}
		if err := c.engine.StartSweep(channel, direction, speed); err != nil {
			return err
		}
		if err := c.begin(gen, Sweeping, true); err != nil {
			return err
		}
		log.Printf("motion: sweeping channel %d direction %+d speed %.2f", channel, direction, speed)
		return nil
	})
}

// ReverseSweep flips the direction of the running or next sweep.
func (c *Controller) ReverseSweep(ctx context.Context) error {
	return c.submit(ctx, func() error {
		c.engine.ReverseSweep()
		return nil
	})
}

// PlanStart starts playback in the background. Errors are logged.
func (c *Controller) PlanStart(ctx context.Context) error {
	gen := c.generation()
	return c.submit(ctx, func() error {
		return c.begin(gen, PlayingSequence, true)
	})
}

// PlayPlan plays the plan and returns once it ended or was stopped.
// Entries of the wrong length come back joined as ErrShape errors.
func (c *Controller) PlayPlan(ctx context.Context) error {
	gen := c.generation()
	return c.submit(ctx, func() error {
		if err := c.begin(gen, PlayingSequence, false); err != nil {
			return err
		}
		err := c.play(ctx)
		c.finish()
		return err
	})
}

// Stop halts any sweep or playback. A running sweep or playback sees it
// within one tick; an interpolated move in progress completes first.
// Mode starts submitted before Stop and still queued fail with ErrStopped.
func (c *Controller) Stop(ctx context.Context) error {
	c.mu.Lock()
	c.stopGen++
	c.mu.Unlock()
	c.halt()

	select {
	case c.interrupt <- struct{}{}:
	default:
	}
	c.poke()

	return c.submit(ctx, func() error {
		c.halt()
		c.engine.Bank().CommitAll()
		log.Println("motion: stopped")
		return nil
	})
}

func (c *Controller) halt() {
	c.mu.Lock()
	c.mode = Stopped
	c.running = false
	c.mu.Unlock()
}

// Positions returns the current angle of all channels.
func (c *Controller) Positions() []int {
	return c.engine.Bank().Snapshot()
}

// ArmPosition returns the current angles of the arm channels.
func (c *Controller) ArmPosition() []int {
	bank := c.engine.Bank()
	out := make([]int, len(c.armChannels))
	for i, ch := range c.armChannels {
		out[i] = bank.Read(ch)
	}
	return out
}

// ArmChannels returns the channels that make up the arm.
func (c *Controller) ArmChannels() []int {
	return append([]int(nil), c.armChannels...)
}

func (c *Controller) Plan() *Plan { return c.plan }
