// Package plan persists motion sequences as a JSON array of angle arrays.
package plan

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/relabs-tech/servo_arm/internal/motion"
)

// FileStore loads and saves a whole sequence file at once.
type FileStore struct {
	Path string
}

func NewFileStore(path string) *FileStore {
	return &FileStore{Path: path}
}

// Load reads the sequence file. A missing file returns an error wrapping
// os.ErrNotExist. Angles are not range checked here.
func (s *FileStore) Load() (motion.Sequence, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		return nil, fmt.Errorf("plan: read %s: %w", s.Path, err)
	}
	return Parse(data)
}

// Parse decodes a sequence, rejecting anything that is not a list of
// integer lists.
func Parse(data []byte) (motion.Sequence, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("plan: content is not a list of positions: %w", err)
	}
	if raw == nil {
		return nil, fmt.Errorf("plan: content is null, want a list of positions")
	}

	seq := make(motion.Sequence, 0, len(raw))
	for i, entry := range raw {
		var pos []int
		if bytes.Equal(bytes.TrimSpace(entry), []byte("null")) {
			return nil, fmt.Errorf("plan: entry %d is null", i)
		}
		if err := json.Unmarshal(entry, &pos); err != nil {
			return nil, fmt.Errorf("plan: entry %d is not a list of integers: %w", i, err)
		}
		seq = append(seq, pos)
	}
	return seq, nil
}

// Save rewrites the sequence file. The previous content is replaced only
// after the new one has been written completely. A previous file that does
// not parse is kept next to it with a .bak suffix.
func (s *FileStore) Save(seq motion.Sequence) error {
	if seq == nil {
		seq = motion.Sequence{}
	}
	data, err := json.Marshal(seq)
	if err != nil {
		return fmt.Errorf("plan: encode: %w", err)
	}

	if err := s.keepMalformed(); err != nil {
		return err
	}

	tmp := s.Path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("plan: write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, s.Path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("plan: replace %s: %w", s.Path, err)
	}
	return nil
}

func (s *FileStore) keepMalformed() error {
	old, err := os.ReadFile(s.Path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("plan: read %s: %w", s.Path, err)
	}
	if _, perr := Parse(old); perr == nil {
		return nil
	}
	bak := s.Path + ".bak"
	if err := os.Rename(s.Path, bak); err != nil {
		return fmt.Errorf("plan: keep malformed %s: %w", s.Path, err)
	}
	log.Printf("plan: %s is malformed, kept as %s", s.Path, bak)
	return nil
}
