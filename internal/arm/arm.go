// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package arm is a chainable joint API for the 5-DOF arm:
//
//	a := arm.New(ctx, ctrl, arm.Options{})
//	a.Home().Wait(500 * time.Millisecond).Shoulder(120).OpenGripper()
//	if err := a.Err(); err != nil { ... }
//
// Every call blocks until the move is done. The first error sticks and
// turns the rest of the chain into no-ops.
package arm

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/relabs-tech/servo_arm/internal/motion"
	"github.com/relabs-tech/servo_arm/internal/servo"
)

// Joint indices within an arm position vector.
const (
	Base = iota
	Shoulder
	Elbow
	Wrist
	Gripper

	NumJoints
)

const (
	DefaultGripperOpen   = 120
	DefaultGripperClosed = 60
	HomeAngle            = 90
)

var jointNames = [NumJoints]string{"base", "shoulder", "elbow", "wrist", "gripper"}

// JointName returns the lower-case name of joint i.
func JointName(i int) string {
	if i < 0 || i >= NumJoints {
		return fmt.Sprintf("joint%d", i)
	}
	return jointNames[i]
}

// JointIndex looks a joint up by name.
func JointIndex(name string) (int, bool) {
	for i, n := range jointNames {
		if n == name {
			return i, true
		}
	}
	return 0, false
}

// Mover is the part of motion.Controller the arm needs.
type Mover interface {
	MoveArm(ctx context.Context, angles []int) error
	ArmPosition() []int
	Stop(ctx context.Context) error
}

// Joints selects a subset of joints to move; nil fields keep their angle.
type Joints struct {
	Base     *float64
	Shoulder *float64
	Elbow    *float64
	Wrist    *float64
	Gripper  *float64
}

// Deg is shorthand for filling Joints fields.
func Deg(v float64) *float64 { return &v }

// JointsFromMap builds Joints from joint names, e.g. {"shoulder": 45}.
func JointsFromMap(m map[string]float64) (Joints, error) {
	var j Joints
	fields := [NumJoints]**float64{&j.Base, &j.Shoulder, &j.Elbow, &j.Wrist, &j.Gripper}
	for name, v := range m {
		i, ok := JointIndex(name)
		if !ok {
			return Joints{}, fmt.Errorf("%w: unknown joint %q", motion.ErrArgument, name)
		}
		*fields[i] = Deg(v)
	}
	return j, nil
}

func (j Joints) slice() [NumJoints]*float64 {
	return [NumJoints]*float64{j.Base, j.Shoulder, j.Elbow, j.Wrist, j.Gripper}
}

type Options struct {
	GripperOpen   int
	GripperClosed int
}

type Arm struct {
	ctx  context.Context
	ctrl Mover

	gripperOpen   int
	gripperClosed int

	err error
}

// New wraps ctrl. ctx bounds every move and wait made through the arm.
func New(ctx context.Context, ctrl Mover, opts Options) *Arm {
	a := &Arm{
		ctx:           ctx,
		ctrl:          ctrl,
		gripperOpen:   opts.GripperOpen,
		gripperClosed: opts.GripperClosed,
	}
	if a.gripperOpen == 0 {
		a.gripperOpen = DefaultGripperOpen
	}
	if a.gripperClosed == 0 {
		a.gripperClosed = DefaultGripperClosed
	}
	return a
}

// Clamp rounds angle half to even and limits it to the servo range.
func Clamp(angle float64) int {
	if angle >= servo.MaxAngle {
		return servo.MaxAngle
	}
	if angle <= servo.MinAngle {
		return servo.MinAngle
	}
	return int(math.RoundToEven(angle))
}

func (a *Arm) Base(angle float64) *Arm     { return a.joint(Base, angle) }
func (a *Arm) Shoulder(angle float64) *Arm { return a.joint(Shoulder, angle) }
func (a *Arm) Elbow(angle float64) *Arm    { return a.joint(Elbow, angle) }
func (a *Arm) Wrist(angle float64) *Arm    { return a.joint(Wrist, angle) }
func (a *Arm) Gripper(angle float64) *Arm  { return a.joint(Gripper, angle) }

func (a *Arm) OpenGripper() *Arm  { return a.joint(Gripper, float64(a.gripperOpen)) }
func (a *Arm) CloseGripper() *Arm { return a.joint(Gripper, float64(a.gripperClosed)) }

func (a *Arm) joint(i int, angle float64) *Arm {
	var j [NumJoints]*float64
	j[i] = &angle
	return a.move(j)
}

// MoveTo moves the joints that are set and leaves the others where they are.
func (a *Arm) MoveTo(j Joints) *Arm {
	return a.move(j.slice())
}

// Home moves every joint to 90 degrees.
func (a *Arm) Home() *Arm {
	if a.err != nil {
		return a
	}
	pos := make([]int, NumJoints)
	for i := range pos {
		pos[i] = HomeAngle
	}
	a.err = a.ctrl.MoveArm(a.ctx, pos)
	return a
}

func (a *Arm) move(j [NumJoints]*float64) *Arm {
	if a.err != nil {
		return a
	}
	pos := a.ctrl.ArmPosition()
	if len(pos) != NumJoints {
		a.err = fmt.Errorf("%w: controller drives %d joints, arm has %d", motion.ErrArgument, len(pos), NumJoints)
		return a
	}
	for i, v := range j {
		if v == nil {
			continue
		}
		if math.IsNaN(*v) {
			a.err = fmt.Errorf("%w: %s angle is NaN", motion.ErrArgument, JointName(i))
			return a
		}
		pos[i] = Clamp(*v)
	}
	a.err = a.ctrl.MoveArm(a.ctx, pos)
	return a
}

// Wait sleeps for d, or less if the arm's context ends.
func (a *Arm) Wait(d time.Duration) *Arm {
	if a.err != nil {
		return a
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-a.ctx.Done():
		a.err = a.ctx.Err()
	}
	return a
}

// Position returns [base, shoulder, elbow, wrist, gripper].
func (a *Arm) Position() []int {
	return a.ctrl.ArmPosition()
}

// Stop halts any sweep or playback running on the controller.
func (a *Arm) Stop() error {
	return a.ctrl.Stop(a.ctx)
}

// Err returns the first error of the chain.
func (a *Arm) Err() error {
	return a.err
}
