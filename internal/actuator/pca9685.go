// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package actuator

import (
	"fmt"
	"log"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/devices/v3/pca9685"
	"periph.io/x/host/v3"
)

// pca9685 counters are 12 bits wide.
const pcaResolution = 4096

// PCA9685 drives hobby servos from a 16-channel PCA9685 PWM board.
type PCA9685 struct {
	bus    i2c.BusCloser
	dev    *pca9685.Dev
	freq   physic.Frequency
	pulses PulseRange
}

// NewPCA9685 opens the I2C bus, binds the board at addr and sets the PWM frequency.
func NewPCA9685(busName string, addr uint16, freq physic.Frequency, pulses PulseRange) (*PCA9685, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("pca9685: periph host init: %w", err)
	}

	bus, err := i2creg.Open(busName)
	if err != nil {
		return nil, fmt.Errorf("pca9685: open I2C bus %q: %w", busName, err)
	}

	dev, err := pca9685.NewI2C(bus, addr)
	if err != nil {
		bus.Close()
		return nil, fmt.Errorf("pca9685: device at 0x%02X: %w", addr, err)
	}

	if err := dev.SetPwmFreq(freq); err != nil {
		bus.Close()
		return nil, fmt.Errorf("pca9685: set frequency %s: %w", freq, err)
	}
	log.Printf("pca9685: board at 0x%02X ready, %s, pulses %s-%s", addr, freq, pulses.Min, pulses.Max)

	return &PCA9685{bus: bus, dev: dev, freq: freq, pulses: pulses}, nil
}

// WriteChannelAngle sets the duty cycle of channel to the pulse width of angle.
func (p *PCA9685) WriteChannelAngle(channel, angle int) error {
	off := pulseTicks(p.pulses.Width(angle), p.freq)
	return p.dev.SetPwm(channel, 0, gpio.Duty(off))
}

// Close releases the I2C bus. Outputs keep their last duty cycle.
func (p *PCA9685) Close() error {
	return p.bus.Close()
}

// pulseTicks converts a pulse width into 12-bit counter ticks at freq.
func pulseTicks(width time.Duration, freq physic.Frequency) int {
	period := freq.Period()
	if period <= 0 {
		return 0
	}
	ticks := int(int64(width) * pcaResolution / int64(period))
	if ticks >= pcaResolution {
		ticks = pcaResolution - 1
	}
	return ticks
}
