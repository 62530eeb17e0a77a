package actuator

import (
	"fmt"
	"io"
	"log"
	"sync"

	serial "github.com/jacobsa/go-serial/serial"
)

// Compact-protocol command byte for Set Target (Pololu Maestro user guide, 5.e).
const maestroSetTarget = 0x84

// Maestro drives servos through a Pololu Maestro USB servo controller.
type Maestro struct {
	mu     sync.Mutex
	port   io.ReadWriteCloser
	pulses PulseRange
}

// NewMaestro opens the controller's command port, e.g. /dev/ttyACM0.
func NewMaestro(portName string, baud int, pulses PulseRange) (*Maestro, error) {
	opts := serial.OpenOptions{
		PortName:        portName,
		BaudRate:        uint(baud),
		DataBits:        8,
		StopBits:        1,
		MinimumReadSize: 1,
		ParityMode:      serial.PARITY_NONE,
	}

	port, err := serial.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("maestro: open %s: %w", portName, err)
	}
	log.Printf("maestro: serial port opened on %s at %d baud", portName, baud)

	return &Maestro{port: port, pulses: pulses}, nil
}

// WriteChannelAngle sends a Set Target command for angle.
func (m *Maestro) WriteChannelAngle(channel, angle int) error {
	cmd := maestroTargetCommand(channel, m.pulses.Width(angle).Microseconds()*4)

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, err := m.port.Write(cmd); err != nil {
		return fmt.Errorf("maestro: set target channel %d: %w", channel, err)
	}
	return nil
}

// Close closes the serial port.
func (m *Maestro) Close() error {
	return m.port.Close()
}

// maestroTargetCommand encodes a target in quarter-microseconds as two 7-bit bytes.
func maestroTargetCommand(channel int, quarterMicros int64) []byte {
	target := uint16(quarterMicros)
	return []byte{maestroSetTarget, byte(channel), byte(target & 0x7f), byte((target >> 7) & 0x7f)}
}
