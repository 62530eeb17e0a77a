package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"go.uber.org/multierr"

	"github.com/relabs-tech/servo_arm/internal/actuator"
	"github.com/relabs-tech/servo_arm/internal/arm"
	"github.com/relabs-tech/servo_arm/internal/config"
)

const (
	romStep  = 5
	romPause = 60 * time.Millisecond

	settle = 500 * time.Millisecond
	beat   = 300 * time.Millisecond
	hold   = 1500 * time.Millisecond
	rest   = 200 * time.Millisecond
)

// routines the demo runner knows, by name.
var routines = map[string]func(a *arm.Arm) *arm.Arm{
	"home": func(a *arm.Arm) *arm.Arm {
		return a.Home().Wait(settle)
	},
	"wave": func(a *arm.Arm) *arm.Arm {
		a.Home().Wait(settle)
		for i := 0; i < 2; i++ {
			a.Shoulder(120).OpenGripper().Wait(beat)
			a.Shoulder(60).CloseGripper().Wait(beat)
		}
		a.Home().Wait(beat)
		// point forward
		a.MoveTo(arm.Joints{Shoulder: arm.Deg(45), Elbow: arm.Deg(135), Wrist: arm.Deg(180)}).Wait(hold)
		return a.Home()
	},
	"rom": func(a *arm.Arm) *arm.Arm {
		a.Home().Wait(settle)
		moves := []func(float64) *arm.Arm{a.Base, a.Shoulder, a.Elbow, a.Wrist, a.Gripper}
		for _, move := range moves {
			for angle := 0; angle <= 180; angle += romStep {
				move(float64(angle)).Wait(romPause)
			}
			for angle := 180; angle >= 0; angle -= romStep {
				move(float64(angle)).Wait(romPause)
			}
			a.Wait(rest)
		}
		return a.Home().Wait(beat)
	},
}

// RoutineNames lists the routines RunDemo accepts.
func RoutineNames() []string {
	names := make([]string, 0, len(routines))
	for name := range routines {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RunRoutine drives a through the named routine and reports the first failure.
func RunRoutine(a *arm.Arm, name string) error {
	routine, ok := routines[name]
	if !ok {
		return fmt.Errorf("demo: unknown routine %q (have %v)", name, RoutineNames())
	}
	return routine(a).Err()
}

// RunDemo drives the arm in-process through a routine, without a broker.
func RunDemo(name string) (err error) {
	cfg := config.Get()

	if _, ok := routines[name]; !ok {
		return fmt.Errorf("demo: unknown routine %q (have %v)", name, RoutineNames())
	}

	drv, err := actuator.New(cfg)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, drv.Close())
	}()

	a, err := NewArm(cfg, drv)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	workerCtx, cancelWorker := context.WithCancel(ctx)
	workerDone := make(chan error, 1)
	go func() { workerDone <- a.Controller.Run(workerCtx) }()
	defer func() {
		cancelWorker()
		if werr := <-workerDone; !errors.Is(werr, context.Canceled) {
			err = multierr.Append(err, werr)
		}
	}()

	if err := a.Controller.MoveInit(ctx); err != nil {
		return err
	}

	log.Printf("demo: running %s", name)
	start := time.Now()
	if err := RunRoutine(arm.New(ctx, a.Controller, arm.Options{
		GripperOpen:   cfg.GripperOpen,
		GripperClosed: cfg.GripperClosed,
	}), name); err != nil {
		return err
	}
	log.Printf("demo: %s done in %s, arm at %v", name, time.Since(start).Round(time.Millisecond), a.Controller.ArmPosition())
	return nil
}
