package motion

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"go.viam.com/test"

	"github.com/relabs-tech/servo_arm/internal/actuator"
	"github.com/relabs-tech/servo_arm/internal/servo"
)

type harness struct {
	ctrl *Controller
	rec  *actuator.Recorder
	bank *servo.Bank
}

func startController(t *testing.T, initial []int, opts ControllerOptions, engineOpts EngineOptions) *harness {
	t.Helper()
	rec := actuator.NewRecorder()
	bank := servo.NewBank(rec, initial)
	if engineOpts.StepDelay == 0 {
		engineOpts.StepDelay = -1
	}
	if opts.PlanPause == 0 {
		opts.PlanPause = -1
	}
	ctrl := NewController(NewEngine(bank, engineOpts), nil, opts)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ctrl.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		test.That(t, <-done, test.ShouldEqual, context.Canceled)
	})
	return &harness{ctrl: ctrl, rec: rec, bank: bank}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not reached in time")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestControllerMoveShoulder(t *testing.T) {
	h := startController(t, nil, ControllerOptions{}, EngineOptions{})
	ctx := context.Background()

	test.That(t, h.ctrl.ArmPosition(), test.ShouldResemble, []int{90, 90, 90, 90, 90})
	test.That(t, h.ctrl.MoveArm(ctx, []int{90, 120, 90, 90, 90}), test.ShouldBeNil)
	test.That(t, h.ctrl.ArmPosition(), test.ShouldResemble, []int{90, 120, 90, 90, 90})

	for _, w := range h.rec.Writes() {
		test.That(t, w.Channel, test.ShouldEqual, 1)
	}
	test.That(t, h.ctrl.Mode(), test.ShouldEqual, Idle)
	test.That(t, h.ctrl.Running(), test.ShouldBeFalse)
}

func TestControllerHomeFromAnyPose(t *testing.T) {
	h := startController(t, nil, ControllerOptions{}, EngineOptions{Steps: 7})
	ctx := context.Background()

	test.That(t, h.ctrl.MoveArm(ctx, []int{10, 170, 33, 150, 60}), test.ShouldBeNil)
	test.That(t, h.ctrl.MoveArm(ctx, []int{90, 90, 90, 90, 90}), test.ShouldBeNil)
	test.That(t, h.ctrl.ArmPosition(), test.ShouldResemble, []int{90, 90, 90, 90, 90})
}

func TestControllerMoveArgumentErrors(t *testing.T) {
	h := startController(t, nil, ControllerOptions{}, EngineOptions{})
	ctx := context.Background()

	err := h.ctrl.MoveArm(ctx, []int{90, 90, 90, 90})
	test.That(t, errors.Is(err, ErrArgument), test.ShouldBeTrue)

	err = h.ctrl.MoveTo(ctx, []int{1, 2}, []int{3})
	test.That(t, errors.Is(err, ErrArgument), test.ShouldBeTrue)

	err = h.ctrl.ApplyOffset(ctx, 20, 0)
	test.That(t, errors.Is(err, ErrArgument), test.ShouldBeTrue)

	err = h.ctrl.SingleServo(ctx, 0, 2, 1)
	test.That(t, errors.Is(err, ErrArgument), test.ShouldBeTrue)
	test.That(t, h.ctrl.Mode(), test.ShouldEqual, Idle)
	test.That(t, h.rec.Len(), test.ShouldEqual, 0)
}

func TestControllerSweepStopsAtLimit(t *testing.T) {
	h := startController(t, nil, ControllerOptions{}, EngineOptions{})
	ctx := context.Background()

	test.That(t, h.ctrl.MoveArm(ctx, []int{90, 90, 90, 90, 170}), test.ShouldBeNil)
	h.rec.Reset()

	test.That(t, h.ctrl.SingleServo(ctx, 4, 1, 5), test.ShouldBeNil)
	waitFor(t, func() bool { return h.ctrl.Mode() == Idle })

	test.That(t, h.rec.WritesTo(4), test.ShouldResemble, []int{175, 180, 180})
	test.That(t, h.ctrl.ArmPosition()[4], test.ShouldEqual, 180)
	test.That(t, h.bank.Channel(4).Last, test.ShouldEqual, 180)
	test.That(t, h.ctrl.Running(), test.ShouldBeFalse)
}

func TestControllerStopHaltsSweep(t *testing.T) {
	h := startController(t, nil, ControllerOptions{}, EngineOptions{StepDelay: time.Millisecond})
	ctx := context.Background()

	// zero speed never reaches a limit
	test.That(t, h.ctrl.SingleServo(ctx, 0, 1, 0), test.ShouldBeNil)
	waitFor(t, func() bool { return h.rec.Len() > 3 })

	test.That(t, h.ctrl.Stop(ctx), test.ShouldBeNil)
	test.That(t, h.ctrl.Mode(), test.ShouldEqual, Stopped)
	test.That(t, h.ctrl.Running(), test.ShouldBeFalse)

	n := h.rec.Len()
	time.Sleep(20 * time.Millisecond)
	test.That(t, h.rec.Len(), test.ShouldEqual, n)

	// the worker still serves moves after a stop
	test.That(t, h.ctrl.MoveArm(ctx, []int{100, 90, 90, 90, 90}), test.ShouldBeNil)
	test.That(t, h.ctrl.ArmPosition()[0], test.ShouldEqual, 100)
}

func TestControllerReverseSweep(t *testing.T) {
	h := startController(t, nil, ControllerOptions{}, EngineOptions{StepDelay: time.Millisecond})
	ctx := context.Background()

	test.That(t, h.ctrl.SingleServo(ctx, 3, 1, 1), test.ShouldBeNil)
	waitFor(t, func() bool { return h.bank.Read(3) >= 95 })
	test.That(t, h.ctrl.ReverseSweep(ctx), test.ShouldBeNil)
	waitFor(t, func() bool { return h.bank.Read(3) <= 85 })
	test.That(t, h.ctrl.Stop(ctx), test.ShouldBeNil)
}

func TestControllerStopDuringPlanPause(t *testing.T) {
	reached := make(chan int, 4)
	h := startController(t, nil, ControllerOptions{
		PlanPause: time.Hour,
		OnEntry:   func(i int) { reached <- i },
	}, EngineOptions{})
	ctx := context.Background()

	h.ctrl.Plan().Replace(Sequence{{90, 90, 90, 90, 90}, {20, 20, 20, 20, 20}})

	played := make(chan error, 1)
	go func() { played <- h.ctrl.PlayPlan(ctx) }()

	test.That(t, <-reached, test.ShouldEqual, 0)
	test.That(t, h.ctrl.Mode(), test.ShouldEqual, PlayingSequence)
	test.That(t, h.ctrl.Stop(ctx), test.ShouldBeNil)
	test.That(t, <-played, test.ShouldBeNil)

	test.That(t, h.ctrl.ArmPosition(), test.ShouldResemble, []int{90, 90, 90, 90, 90})
	for _, w := range h.rec.Writes() {
		test.That(t, w.Angle, test.ShouldNotEqual, 20)
	}
	test.That(t, h.ctrl.Mode(), test.ShouldEqual, Stopped)
	test.That(t, reached, test.ShouldHaveLength, 0)
}

func TestControllerStopCancelsQueuedStarts(t *testing.T) {
	starts := map[string]func(c *Controller, ctx context.Context) error{
		"plan_start": func(c *Controller, ctx context.Context) error { return c.PlanStart(ctx) },
		"play_plan":  func(c *Controller, ctx context.Context) error { return c.PlayPlan(ctx) },
		"sweep":      func(c *Controller, ctx context.Context) error { return c.SingleServo(ctx, 4, 1, 0) },
		"init":       func(c *Controller, ctx context.Context) error { return c.MoveInit(ctx) },
	}
	for name, begin := range starts {
		t.Run(name, func(t *testing.T) {
			var entries atomic.Int32
			h := startController(t, nil, ControllerOptions{
				OnEntry: func(int) { entries.Add(1) },
			}, EngineOptions{StepDelay: 5 * time.Millisecond})
			ctx := context.Background()
			h.ctrl.Plan().Replace(Sequence{{10, 10, 10, 10, 10}})

			// keep the worker busy so the start has to wait in the queue
			moved := make(chan error, 1)
			go func() { moved <- h.ctrl.MoveArm(ctx, []int{170, 90, 90, 90, 90}) }()
			waitFor(t, func() bool { return h.rec.Len() > 0 })

			started := make(chan error, 1)
			go func() { started <- begin(h.ctrl, ctx) }()
			waitFor(t, func() bool { return len(h.ctrl.reqs) == 1 })

			test.That(t, h.ctrl.Stop(ctx), test.ShouldBeNil)
			test.That(t, <-moved, test.ShouldBeNil)
			test.That(t, errors.Is(<-started, ErrStopped), test.ShouldBeTrue)

			test.That(t, h.ctrl.Mode(), test.ShouldEqual, Stopped)
			test.That(t, h.ctrl.Running(), test.ShouldBeFalse)
			n := h.rec.Len()
			time.Sleep(20 * time.Millisecond)
			test.That(t, h.rec.Len(), test.ShouldEqual, n)
			test.That(t, entries.Load(), test.ShouldEqual, int32(0))
			test.That(t, h.ctrl.ArmPosition(), test.ShouldResemble, []int{170, 90, 90, 90, 90})
		})
	}
}

func TestControllerStartAfterStopRuns(t *testing.T) {
	reached := make(chan int, 4)
	h := startController(t, nil, ControllerOptions{OnEntry: func(i int) { reached <- i }}, EngineOptions{Steps: 3})
	ctx := context.Background()
	h.ctrl.Plan().Replace(Sequence{{10, 20, 30, 40, 50}})

	test.That(t, h.ctrl.Stop(ctx), test.ShouldBeNil)
	test.That(t, h.ctrl.PlanStart(ctx), test.ShouldBeNil)

	test.That(t, <-reached, test.ShouldEqual, 0)
	waitFor(t, func() bool { return !h.ctrl.Running() })
	test.That(t, h.ctrl.ArmPosition(), test.ShouldResemble, []int{10, 20, 30, 40, 50})
	test.That(t, h.ctrl.Mode(), test.ShouldEqual, Idle)

	test.That(t, h.ctrl.Stop(ctx), test.ShouldBeNil)
	test.That(t, h.ctrl.PlayPlan(ctx), test.ShouldBeNil)
	test.That(t, <-reached, test.ShouldEqual, 0)
}

func TestControllerPlanStartRunsInBackground(t *testing.T) {
	reached := make(chan int, 4)
	h := startController(t, nil, ControllerOptions{OnEntry: func(i int) { reached <- i }}, EngineOptions{Steps: 3})
	ctx := context.Background()

	h.ctrl.Plan().Replace(Sequence{{10, 20, 30, 40, 50}, {60, 70, 80, 90, 100}})
	test.That(t, h.ctrl.PlanStart(ctx), test.ShouldBeNil)

	test.That(t, <-reached, test.ShouldEqual, 0)
	test.That(t, <-reached, test.ShouldEqual, 1)
	waitFor(t, func() bool { return h.ctrl.Mode() == Idle })

	test.That(t, h.ctrl.ArmPosition(), test.ShouldResemble, []int{60, 70, 80, 90, 100})
	test.That(t, h.ctrl.Running(), test.ShouldBeFalse)
}

func TestControllerPlayPlanReportsShapeErrors(t *testing.T) {
	h := startController(t, nil, ControllerOptions{}, EngineOptions{Steps: 4})
	ctx := context.Background()

	h.ctrl.Plan().Replace(Sequence{
		{10, 10, 10, 10, 10},
		{1, 2, 3},
		{30, 30, 30, 30, 30},
		{},
	})

	err := h.ctrl.PlayPlan(ctx)
	test.That(t, errors.Is(err, ErrShape), test.ShouldBeTrue)
	test.That(t, err.Error(), test.ShouldContainSubstring, "entry 1 has 3 angles")
	test.That(t, err.Error(), test.ShouldContainSubstring, "entry 3 has 0 angles")
	test.That(t, h.ctrl.ArmPosition(), test.ShouldResemble, []int{30, 30, 30, 30, 30})
	test.That(t, h.ctrl.Mode(), test.ShouldEqual, Idle)
}

func TestControllerMoveInit(t *testing.T) {
	initial := []int{100, 80, 95, 90, 60}
	h := startController(t, initial, ControllerOptions{}, EngineOptions{Steps: 5})
	ctx := context.Background()

	test.That(t, h.ctrl.MoveArm(ctx, []int{0, 0, 0, 0, 0}), test.ShouldBeNil)
	test.That(t, h.ctrl.MoveInit(ctx), test.ShouldBeNil)

	// requests queued after MoveInit run once initialization is done
	test.That(t, h.ctrl.ApplyOffset(ctx, 5, 10), test.ShouldBeNil)
	test.That(t, h.ctrl.ArmPosition(), test.ShouldResemble, initial)
	test.That(t, h.ctrl.Positions()[5], test.ShouldEqual, 100)
	test.That(t, h.ctrl.Mode(), test.ShouldEqual, Idle)
}

func TestControllerRecalibrate(t *testing.T) {
	h := startController(t, nil, ControllerOptions{}, EngineOptions{})
	ctx := context.Background()

	test.That(t, h.ctrl.Recalibrate(ctx, 1, 110, false), test.ShouldBeNil)
	test.That(t, h.rec.Len(), test.ShouldEqual, 0)
	test.That(t, h.ctrl.ApplyOffset(ctx, 1, -10), test.ShouldBeNil)
	test.That(t, h.ctrl.ArmPosition()[1], test.ShouldEqual, 100)
}

func TestControllerPauseResume(t *testing.T) {
	h := startController(t, nil, ControllerOptions{}, EngineOptions{})

	h.ctrl.Resume()
	// idle mode closes the gate again on its first dispatch
	waitFor(t, func() bool { return !h.ctrl.Running() })
	h.ctrl.Pause()
	test.That(t, h.ctrl.Running(), test.ShouldBeFalse)
	test.That(t, h.rec.Len(), test.ShouldEqual, 0)
}

func TestControllerSubmitHonoursContext(t *testing.T) {
	bank := servo.NewBank(actuator.NewRecorder(), nil)
	ctrl := NewController(NewEngine(bank, EngineOptions{StepDelay: -1}), nil, ControllerOptions{})

	// no worker running
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := ctrl.MoveArm(ctx, []int{1, 2, 3, 4, 5})
	test.That(t, errors.Is(err, context.DeadlineExceeded), test.ShouldBeTrue)
}
