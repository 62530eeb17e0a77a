package motion

import "sync"

// Sequence is an ordered list of position vectors, one angle per arm channel.
type Sequence [][]int

// Clone returns a deep copy of s.
func (s Sequence) Clone() Sequence {
	out := make(Sequence, len(s))
	for i, pos := range s {
		out[i] = append([]int(nil), pos...)
	}
	return out
}

// Plan is the in-memory sequence shared by the worker and command handlers.
type Plan struct {
	mu  sync.RWMutex
	seq Sequence
}

func NewPlan(seq Sequence) *Plan {
	return &Plan{seq: seq.Clone()}
}

// Sequence returns a copy of the current sequence.
func (p *Plan) Sequence() Sequence {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.seq.Clone()
}

// Replace swaps the whole sequence.
func (p *Plan) Replace(seq Sequence) {
	p.mu.Lock()
	p.seq = seq.Clone()
	p.mu.Unlock()
}

// Append adds a position vector at the end.
func (p *Plan) Append(pos []int) {
	p.mu.Lock()
	p.seq = append(p.seq, append([]int(nil), pos...))
	p.mu.Unlock()
}

func (p *Plan) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.seq)
}
