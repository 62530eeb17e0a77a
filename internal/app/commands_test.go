package app

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"go.viam.com/test"

	"github.com/relabs-tech/servo_arm/internal/actuator"
	"github.com/relabs-tech/servo_arm/internal/command"
	"github.com/relabs-tech/servo_arm/internal/config"
	"github.com/relabs-tech/servo_arm/internal/motion"
	"github.com/relabs-tech/servo_arm/internal/plan"
)

func testConfig(t *testing.T) *config.Config {
	cfg := config.Defaults()
	cfg.ActuatorDriver = "mock"
	cfg.InterpSteps = 5
	cfg.StepDelayMS = 0
	cfg.PlanPauseMS = 0
	cfg.PlanFile = filepath.Join(t.TempDir(), "plan.json")
	return cfg
}

func startArm(t *testing.T, cfg *config.Config) (*Arm, *actuator.Recorder) {
	t.Helper()
	rec := actuator.NewRecorder()
	a, err := NewArm(cfg, rec)
	test.That(t, err, test.ShouldBeNil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		a.Controller.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return a, rec
}

func intp(v int) *int { return &v }

func floatp(v float64) *float64 { return &v }

func TestDispatchMoves(t *testing.T) {
	a, _ := startArm(t, testConfig(t))
	ctx := context.Background()
	d := a.Dispatcher

	test.That(t, d.Execute(ctx, command.Command{Action: command.Move, Angles: []int{10, 20, 30, 40, 50}}), test.ShouldBeNil)
	test.That(t, a.Controller.ArmPosition(), test.ShouldResemble, []int{10, 20, 30, 40, 50})

	test.That(t, d.Execute(ctx, command.Command{Action: command.Joint, Joint: "shoulder", Angle: floatp(120)}), test.ShouldBeNil)
	test.That(t, a.Controller.ArmPosition(), test.ShouldResemble, []int{10, 120, 30, 40, 50})

	test.That(t, d.Execute(ctx, command.Command{Action: command.Joints, Joints: map[string]float64{"base": 0, "wrist": 179.6}}), test.ShouldBeNil)
	test.That(t, a.Controller.ArmPosition(), test.ShouldResemble, []int{0, 120, 30, 180, 50})

	test.That(t, d.Execute(ctx, command.Command{Action: command.OpenGripper}), test.ShouldBeNil)
	test.That(t, a.Controller.ArmPosition()[4], test.ShouldEqual, 120)
	test.That(t, d.Execute(ctx, command.Command{Action: command.CloseGripper}), test.ShouldBeNil)
	test.That(t, a.Controller.ArmPosition()[4], test.ShouldEqual, 60)

	test.That(t, d.Execute(ctx, command.Command{Action: command.Home}), test.ShouldBeNil)
	test.That(t, a.Controller.ArmPosition(), test.ShouldResemble, []int{90, 90, 90, 90, 90})

	test.That(t, d.Execute(ctx, command.Command{Action: command.Offset, Channel: intp(2), Delta: -30}), test.ShouldBeNil)
	test.That(t, a.Controller.ArmPosition()[2], test.ShouldEqual, 60)
}

func TestDispatchErrors(t *testing.T) {
	a, rec := startArm(t, testConfig(t))
	ctx := context.Background()
	d := a.Dispatcher

	err := d.Execute(ctx, command.Command{Action: command.Joint, Joint: "tail", Angle: floatp(1)})
	test.That(t, errors.Is(err, motion.ErrArgument), test.ShouldBeTrue)

	err = d.Execute(ctx, command.Command{Action: command.Move, Angles: []int{1, 2}})
	test.That(t, errors.Is(err, motion.ErrArgument), test.ShouldBeTrue)

	err = d.Execute(ctx, command.Command{Action: "fly"})
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, rec.Len(), test.ShouldEqual, 0)
}

func TestDispatchWiggleAndStop(t *testing.T) {
	cfg := testConfig(t)
	cfg.StepDelayMS = 1
	a, _ := startArm(t, cfg)
	ctx := context.Background()
	d := a.Dispatcher

	test.That(t, d.Execute(ctx, command.Command{Action: command.Wiggle, Channel: intp(0), Direction: 1, Speed: 1}), test.ShouldBeNil)
	test.That(t, a.Controller.Mode(), test.ShouldEqual, motion.Sweeping)
	test.That(t, d.Execute(ctx, command.Command{Action: command.Reverse}), test.ShouldBeNil)
	test.That(t, d.Execute(ctx, command.Command{Action: command.Stop}), test.ShouldBeNil)
	test.That(t, a.Controller.Mode(), test.ShouldEqual, motion.Stopped)
}

func TestDispatchPlanLifecycle(t *testing.T) {
	cfg := testConfig(t)
	a, _ := startArm(t, cfg)
	ctx := context.Background()
	d := a.Dispatcher

	test.That(t, a.Controller.Plan().Len(), test.ShouldEqual, 0)

	test.That(t, d.Execute(ctx, command.Command{Action: command.Move, Angles: []int{10, 10, 10, 10, 10}}), test.ShouldBeNil)
	test.That(t, d.Execute(ctx, command.Command{Action: command.PlanAppend}), test.ShouldBeNil)
	test.That(t, d.Execute(ctx, command.Command{Action: command.PlanAppend, Angles: []int{20, 30, 40, 50, 60}}), test.ShouldBeNil)
	test.That(t, d.Execute(ctx, command.Command{Action: command.PlanSave}), test.ShouldBeNil)

	saved, err := plan.NewFileStore(cfg.PlanFile).Load()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, saved, test.ShouldResemble, motion.Sequence{{10, 10, 10, 10, 10}, {20, 30, 40, 50, 60}})

	test.That(t, d.Execute(ctx, command.Command{Action: command.PlanStart}), test.ShouldBeNil)
	deadline := time.Now().Add(2 * time.Second)
	for a.Controller.Mode() != motion.Idle && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	test.That(t, a.Controller.ArmPosition(), test.ShouldResemble, []int{20, 30, 40, 50, 60})

	test.That(t, d.Execute(ctx, command.Command{Action: command.PlanNew}), test.ShouldBeNil)
	test.That(t, a.Controller.Plan().Len(), test.ShouldEqual, 0)
}

func TestDispatchInitAndRecalibrate(t *testing.T) {
	cfg := testConfig(t)
	cfg.InitAngles = []int{100, 80}
	a, _ := startArm(t, cfg)
	ctx := context.Background()
	d := a.Dispatcher

	test.That(t, d.Execute(ctx, command.Command{Action: command.Recalibrate, Channel: intp(2), Angle: floatp(70.4)}), test.ShouldBeNil)
	test.That(t, a.Bank.Channel(2).Initial, test.ShouldEqual, 70)

	test.That(t, d.Execute(ctx, command.Command{Action: command.Move, Angles: []int{0, 0, 0, 0, 0}}), test.ShouldBeNil)
	test.That(t, d.Execute(ctx, command.Command{Action: command.Init}), test.ShouldBeNil)
	// served by the worker after the init dispatch
	test.That(t, d.Execute(ctx, command.Command{Action: command.Reverse}), test.ShouldBeNil)
	test.That(t, a.Controller.ArmPosition(), test.ShouldResemble, []int{100, 80, 70, 90, 90})
}

func TestNewArmLoadsPlanAndDirections(t *testing.T) {
	cfg := testConfig(t)
	cfg.ChannelDirs = []int{1, -1}
	test.That(t, plan.NewFileStore(cfg.PlanFile).Save(motion.Sequence{{1, 2, 3, 4, 5}}), test.ShouldBeNil)

	a, err := NewArm(cfg, actuator.NewRecorder())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, a.Controller.Plan().Len(), test.ShouldEqual, 1)
	test.That(t, a.Bank.Channel(1).Direction, test.ShouldEqual, -1)

	st := a.State(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))
	test.That(t, st.Arm, test.ShouldResemble, []int{90, 90, 90, 90, 90})
	test.That(t, st.Channels, test.ShouldHaveLength, 16)
	test.That(t, st.Mode, test.ShouldEqual, "idle")
	test.That(t, st.PlanLen, test.ShouldEqual, 1)
	test.That(t, st.Time, test.ShouldEqual, "2026-01-02T03:04:05Z")
}

func TestMillis(t *testing.T) {
	test.That(t, millis(0), test.ShouldEqual, time.Duration(-1))
	test.That(t, millis(25), test.ShouldEqual, 25*time.Millisecond)
}
