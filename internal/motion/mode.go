package motion

import "fmt"

// Mode selects what the controller worker does while its gate is open.
type Mode int

const (
	Idle Mode = iota
	Initializing
	Sweeping
	PlayingSequence
	Stopped
)

var modeNames = [...]string{
	Idle:            "idle",
	Initializing:    "initializing",
	Sweeping:        "sweeping",
	PlayingSequence: "playing",
	Stopped:         "stopped",
}

func (m Mode) String() string {
	if m < 0 || int(m) >= len(modeNames) {
		return fmt.Sprintf("Mode(%d)", int(m))
	}
	return modeNames[m]
}

// MarshalText encodes the mode by name so JSON state stays readable.
func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText accepts the names produced by MarshalText.
func (m *Mode) UnmarshalText(b []byte) error {
	for i, name := range modeNames {
		if name == string(b) {
			*m = Mode(i)
			return nil
		}
	}
	return fmt.Errorf("motion: unknown mode %q", b)
}
