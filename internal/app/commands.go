package app

import (
	"context"
	"fmt"
	"log"
	"math"

	"github.com/relabs-tech/servo_arm/internal/arm"
	"github.com/relabs-tech/servo_arm/internal/command"
	"github.com/relabs-tech/servo_arm/internal/motion"
	"github.com/relabs-tech/servo_arm/internal/plan"
)

// Dispatcher maps command messages onto controller calls.
type Dispatcher struct {
	ctrl    *motion.Controller
	store   *plan.FileStore
	armOpts arm.Options
}

func NewDispatcher(ctrl *motion.Controller, store *plan.FileStore, armOpts arm.Options) *Dispatcher {
	return &Dispatcher{ctrl: ctrl, store: store, armOpts: armOpts}
}

// Execute runs c and blocks until the controller is done with it.
// Sweeps, playback and init only block until they have been started.
func (d *Dispatcher) Execute(ctx context.Context, c command.Command) error {
	if err := c.Validate(); err != nil {
		return err
	}
	// a fresh arm per command so an earlier failure does not stick
	a := arm.New(ctx, d.ctrl, d.armOpts)

	switch c.Action {
	case command.Move:
		return d.ctrl.MoveArm(ctx, c.Angles)

	case command.Joint:
		j, err := arm.JointsFromMap(map[string]float64{c.Joint: *c.Angle})
		if err != nil {
			return err
		}
		return a.MoveTo(j).Err()

	case command.Joints:
		j, err := arm.JointsFromMap(c.Joints)
		if err != nil {
			return err
		}
		return a.MoveTo(j).Err()

	case command.Offset:
		return d.ctrl.ApplyOffset(ctx, *c.Channel, c.Delta)

	case command.Home:
		return a.Home().Err()

	case command.OpenGripper:
		return a.OpenGripper().Err()

	case command.CloseGripper:
		return a.CloseGripper().Err()

	case command.Wiggle:
		return d.ctrl.SingleServo(ctx, *c.Channel, c.Direction, c.Speed)

	case command.Reverse:
		return d.ctrl.ReverseSweep(ctx)

	case command.Stop:
		return d.ctrl.Stop(ctx)

	case command.Init:
		return d.ctrl.MoveInit(ctx)

	case command.Recalibrate:
		return d.ctrl.Recalibrate(ctx, *c.Channel, int(math.RoundToEven(*c.Angle)), c.Move)

	case command.PlanStart:
		return d.ctrl.PlanStart(ctx)

	case command.PlanNew:
		d.ctrl.Plan().Replace(nil)
		log.Println("armd: plan cleared")
		return nil

	case command.PlanAppend:
		pos := c.Angles
		if len(pos) == 0 {
			pos = d.ctrl.ArmPosition()
		}
		d.ctrl.Plan().Append(pos)
		log.Printf("armd: plan entry %d appended: %v", d.ctrl.Plan().Len()-1, pos)
		return nil

	case command.PlanSave:
		if err := d.store.Save(d.ctrl.Plan().Sequence()); err != nil {
			return err
		}
		log.Printf("armd: plan saved to %s (%d entries)", d.store.Path, d.ctrl.Plan().Len())
		return nil
	}

	return fmt.Errorf("command: unhandled action %q", c.Action)
}
