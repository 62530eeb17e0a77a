// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package actuator

import "sync"

// Write is one recorded actuator command.
type Write struct {
	Channel int
	Angle   int
}

// Recorder is an in-memory actuator. It remembers every write so the motion
// code can run without hardware.
type Recorder struct {
	mu     sync.Mutex
	writes []Write
	last   map[int]int
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{last: make(map[int]int)}
}

func (r *Recorder) WriteChannelAngle(channel, angle int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.writes = append(r.writes, Write{Channel: channel, Angle: angle})
	r.last[channel] = angle
	return nil
}

func (r *Recorder) Close() error { return nil }

// Writes returns a copy of every write so far.
func (r *Recorder) Writes() []Write {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Write(nil), r.writes...)
}

// WritesTo returns the angles written to channel, in order.
func (r *Recorder) WritesTo(channel int) []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []int
	for _, w := range r.writes {
		if w.Channel == channel {
			out = append(out, w.Angle)
		}
	}
	return out
}

// Last returns the last angle written to channel.
func (r *Recorder) Last(channel int) (int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.last[channel]
	return a, ok
}

// Len returns the number of writes so far.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.writes)
}

// Reset forgets all writes.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.writes = nil
	r.last = make(map[int]int)
}
