package actuator

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/hipsterbrown/feetech-servo/feetech"
	"go.uber.org/multierr"
)

const (
	// STS3215 resolution: 4096 steps per revolution, 2048 is centre.
	feetechStepsPerRev = 4096
	feetechCentre      = 2048

	feetechTimeout = 100 * time.Millisecond
)

// Feetech drives STS bus servos. Channel n is servo ID n+1, as on the SO-101 arms.
type Feetech struct {
	mu       sync.Mutex
	bus      *feetech.Bus
	closeBus func() error
	servos   map[int]feetechServo
}

// feetechServo is the part of *feetech.Servo the driver uses.
type feetechServo interface {
	Enable(ctx context.Context) error
	Disable(ctx context.Context) error
	SetPosition(ctx context.Context, position int) error
}

// NewFeetech opens the servo bus.
func NewFeetech(port string, baud int) (*Feetech, error) {
	bus, err := feetech.NewBus(feetech.BusConfig{
		Port:     port,
		BaudRate: baud,
		Protocol: feetech.ProtocolSTS,
	})
	if err != nil {
		return nil, fmt.Errorf("feetech: open bus %s: %w", port, err)
	}
	log.Printf("feetech: bus opened on %s at %d baud", port, baud)

	return &Feetech{bus: bus, closeBus: bus.Close, servos: make(map[int]feetechServo)}, nil
}

// WriteChannelAngle enables the servo on first use and sets its goal position.
func (f *Feetech) WriteChannelAngle(channel, angle int) error {
	ctx, cancel := context.WithTimeout(context.Background(), feetechTimeout)
	defer cancel()

	f.mu.Lock()
	defer f.mu.Unlock()

	s, ok := f.servos[channel]
	if !ok {
		s = feetech.NewServo(f.bus, channel+1, nil)
		if err := s.Enable(ctx); err != nil {
			return fmt.Errorf("feetech: enable servo %d: %w", channel+1, err)
		}
		f.servos[channel] = s
	}

	if err := s.SetPosition(ctx, feetechPosition(angle)); err != nil {
		return fmt.Errorf("feetech: servo %d position: %w", channel+1, err)
	}
	return nil
}

// Close disables torque on every servo that was driven and closes the bus.
func (f *Feetech) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), feetechTimeout)
	defer cancel()
	var err error
	for ch, s := range f.servos {
		if derr := s.Disable(ctx); derr != nil {
			err = multierr.Append(err, fmt.Errorf("feetech: disable servo %d: %w", ch+1, derr))
		}
	}
	return multierr.Append(err, f.closeBus())
}

// feetechPosition maps 0..180 degrees onto raw steps centred on 90 degrees.
func feetechPosition(angle int) int {
	return feetechCentre + (angle-90)*feetechStepsPerRev/360
}
