// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package actuator implements the hardware side of the servo bank:
// PCA9685 PWM boards over I2C, Pololu Maestro controllers over serial,
// Feetech bus servos, and an in-memory recorder for dry runs and tests.
package actuator

import (
	"fmt"
	"time"

	"periph.io/x/conn/v3/physic"

	"github.com/relabs-tech/servo_arm/internal/config"
)

// Driver is a servo.Actuator that holds an open bus.
type Driver interface {
	WriteChannelAngle(channel, angle int) error
	Close() error
}

// PulseRange maps [0,180] degrees onto a pulse width window.
type PulseRange struct {
	Min time.Duration
	Max time.Duration
}

// Width returns the pulse width for angle. Angles outside [0,180] are clamped.
func (r PulseRange) Width(angle int) time.Duration {
	if angle < 0 {
		angle = 0
	}
	if angle > 180 {
		angle = 180
	}
	return r.Min + (r.Max-r.Min)*time.Duration(angle)/180
}

// New opens the driver selected by ACTUATOR_DRIVER.
func New(cfg *config.Config) (Driver, error) {
	pulses := PulseRange{
		Min: time.Duration(cfg.ServoMinPulseUS) * time.Microsecond,
		Max: time.Duration(cfg.ServoMaxPulseUS) * time.Microsecond,
	}

	switch cfg.ActuatorDriver {
	case "pca9685":
		return NewPCA9685(cfg.PCA9685I2CBus, cfg.PCA9685I2CAddr, physic.Frequency(cfg.PWMFrequencyHz)*physic.Hertz, pulses)
	case "maestro":
		return NewMaestro(cfg.MaestroSerialPort, cfg.MaestroBaudRate, pulses)
	case "feetech":
		return NewFeetech(cfg.FeetechSerialPort, cfg.FeetechBaudRate)
	case "mock":
		return NewRecorder(), nil
	default:
		return nil, fmt.Errorf("unknown actuator driver %q", cfg.ActuatorDriver)
	}
}
