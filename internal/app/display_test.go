package app

import (
	"testing"

	"go.viam.com/test"
	"periph.io/x/devices/v3/ssd1306/image1bit"

	"github.com/relabs-tech/servo_arm/internal/armstate"
	"github.com/relabs-tech/servo_arm/internal/command"
)

func TestStateLines(t *testing.T) {
	test.That(t, stateLines(armstate.State{}, false), test.ShouldResemble, []string{"", "Servo Arm", "Waiting..."})

	st := armstate.State{Arm: []int{90, 45, 180, 0, 120}, Mode: "playing", PlanLen: 3}
	test.That(t, stateLines(st, true), test.ShouldResemble, []string{
		"B: 90 S: 45",
		"E:180 W:  0",
		"G:120 P:3",
		"playing",
	})

	// short arm slices pad with zeros
	st = armstate.State{Arm: []int{7}, Mode: "idle"}
	test.That(t, stateLines(st, true)[1], test.ShouldEqual, "E:  0 W:  0")
}

func TestRenderLines(t *testing.T) {
	blank := renderLines(nil)
	test.That(t, blank.Bounds().Dx(), test.ShouldEqual, oledWidth)
	test.That(t, blank.Bounds().Dy(), test.ShouldEqual, oledHeight)
	for _, b := range blank.Pix {
		test.That(t, b, test.ShouldEqual, byte(0))
	}

	img := renderLines([]string{"B: 90 S: 90"})
	lit := 0
	for y := 0; y < oledHeight; y++ {
		for x := 0; x < oledWidth; x++ {
			if img.BitAt(x, y) == image1bit.On {
				lit++
				test.That(t, y, test.ShouldBeLessThan, 2*lineHeight)
			}
		}
	}
	test.That(t, lit, test.ShouldBeGreaterThan, 0)

	// rows past the bottom of the panel are dropped
	renderLines([]string{"1", "2", "3", "4", "5", "6"})
}

func TestConsoleFormat(t *testing.T) {
	st := armstate.State{Arm: []int{1, 2, 3, 4, 5}, Mode: "sweeping", Running: true, PlanLen: 2}
	test.That(t, formatState(st), test.ShouldEqual, "[ARM ]  sweeping     gate=open   arm=[1 2 3 4 5] plan=2")

	test.That(t, formatReply(command.Reply{ID: "7", Action: "home", OK: true}), test.ShouldEqual, "[OK  ]  home id=7")
	test.That(t, formatReply(command.Reply{Action: "move", Error: "boom"}), test.ShouldEqual, "[FAIL]  move id=: boom")
}
