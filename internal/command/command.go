// Package command defines the JSON messages that drive the arm over MQTT.
package command

import (
	"encoding/json"
	"fmt"
)

// Actions understood by the arm daemon.
const (
	Move         = "move"   // angles: 5 joint angles
	Joint        = "joint"  // joint + angle
	Joints       = "joints" // joints: {"shoulder": 45, ...}
	Offset       = "offset" // channel + delta from the initial angle
	Home         = "home"
	OpenGripper  = "open_gripper"
	CloseGripper = "close_gripper"
	Wiggle       = "wiggle"  // channel, direction, speed
	Reverse      = "reverse" // flip sweep direction
	Stop         = "stop"
	Init         = "init"        // all channels to their initial angle
	Recalibrate  = "recalibrate" // channel + angle, optional move
	PlanStart    = "plan_start"
	PlanNew      = "plan_new"    // clear the plan
	PlanAppend   = "plan_append" // angles, or the current pose when empty
	PlanSave     = "plan_save"
)

// Command is one request to the arm.
type Command struct {
	ID        string             `json:"id,omitempty"` // echoed in the reply
	Action    string             `json:"action"`
	Angles    []int              `json:"angles,omitempty"`
	Joint     string             `json:"joint,omitempty"`
	Angle     *float64           `json:"angle,omitempty"`
	Joints    map[string]float64 `json:"joints,omitempty"`
	Channel   *int               `json:"channel,omitempty"`
	Delta     int                `json:"delta,omitempty"`
	Direction int                `json:"direction,omitempty"`
	Speed     float64            `json:"speed,omitempty"`
	Move      bool               `json:"move,omitempty"`
}

// Reply reports the outcome of a command.
type Reply struct {
	ID     string `json:"id,omitempty"`
	Action string `json:"action"`
	OK     bool   `json:"ok"`
	Error  string `json:"error,omitempty"`
	Time   string `json:"time"`
}

// Decode parses and validates a command message.
func Decode(data []byte) (Command, error) {
	var c Command
	if err := json.Unmarshal(data, &c); err != nil {
		return Command{}, fmt.Errorf("command: decode: %w", err)
	}
	if err := c.Validate(); err != nil {
		return Command{}, err
	}
	return c, nil
}

// Validate checks that the fields an action needs are present.
// Ranges are left to the motion layer, which clamps.
func (c Command) Validate() error {
	switch c.Action {
	case Move:
		if len(c.Angles) == 0 {
			return fmt.Errorf("command: %s needs angles", c.Action)
		}
	case Joint:
		if c.Joint == "" || c.Angle == nil {
			return fmt.Errorf("command: %s needs joint and angle", c.Action)
		}
	case Joints:
		if len(c.Joints) == 0 {
			return fmt.Errorf("command: %s needs joints", c.Action)
		}
	case Offset:
		if c.Channel == nil {
			return fmt.Errorf("command: %s needs channel", c.Action)
		}
	case Wiggle:
		if c.Channel == nil {
			return fmt.Errorf("command: %s needs channel", c.Action)
		}
		if c.Direction != 1 && c.Direction != -1 {
			return fmt.Errorf("command: %s direction must be 1 or -1, got %d", c.Action, c.Direction)
		}
	case Recalibrate:
		if c.Channel == nil || c.Angle == nil {
			return fmt.Errorf("command: %s needs channel and angle", c.Action)
		}
	case Home, OpenGripper, CloseGripper, Reverse, Stop, Init,
		PlanStart, PlanNew, PlanAppend, PlanSave:
	case "":
		return fmt.Errorf("command: missing action")
	default:
		return fmt.Errorf("command: unknown action %q", c.Action)
	}
	return nil
}
