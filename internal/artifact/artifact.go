// Package artifact persists model blobs and checkpoints on disk. Writes are
// atomic (temp file + rename) so a crashed stage never leaves a torn file;
// readers see either the previous or the new complete artifact.
package artifact

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Store manages artifacts under a single directory.
type Store struct {
	dir string
}

// NewStore creates the artifact directory if needed and returns a Store.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating artifact directory %s: %w", dir, err)
	}
	return &Store{dir: dir}, nil
}

// Dir returns the artifact directory.
func (s *Store) Dir() string { return s.dir }

// Path returns the absolute path for a named artifact.
func (s *Store) Path(name string) string { return filepath.Join(s.dir, name) }

// Save writes data atomically under name.
func (s *Store) Save(name string, data []byte) error {
	path := s.Path(name)
	tmp, err := os.CreateTemp(s.dir, "."+filepath.Base(name)+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file for %s: %w", name, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing %s: %w", name, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("renaming %s into place: %w", name, err)
	}
	return nil
}

// Load reads a named artifact.
func (s *Store) Load(name string) ([]byte, error) {
	data, err := os.ReadFile(s.Path(name))
	if err != nil {
		return nil, fmt.Errorf("loading artifact %s: %w", name, err)
	}
	return data, nil
}

// Exists reports whether the named artifact is present.
func (s *Store) Exists(name string) bool {
	_, err := os.Stat(s.Path(name))
	return err == nil
}

// Remove deletes a named artifact. Missing files are not an error.
func (s *Store) Remove(name string) error {
	err := os.Remove(s.Path(name))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing artifact %s: %w", name, err)
	}
	return nil
}

// AppendLine appends one line to a tracker file. Append is not atomic; the
// tracker files are single-writer by convention.
func (s *Store) AppendLine(name, line string) error {
	f, err := os.OpenFile(s.Path(name), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening tracker %s: %w", name, err)
	}
	defer f.Close()
	if _, err := f.WriteString(line + "\n"); err != nil {
		return fmt.Errorf("appending to tracker %s: %w", name, err)
	}
	return nil
}

// ReadLines returns the non-empty lines of a tracker file. A missing file
// yields an empty list.
func (s *Store) ReadLines(name string) ([]string, error) {
	f, err := os.Open(s.Path(name))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening tracker %s: %w", name, err)
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		if line := scanner.Text(); line != "" {
			lines = append(lines, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading tracker %s: %w", name, err)
	}
	return lines, nil
}

// SaveJSON marshals v and saves it atomically under name.
func (s *Store) SaveJSON(name string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding artifact %s: %w", name, err)
	}
	return s.Save(name, data)
}

// LoadJSON loads and unmarshals the named artifact into v.
func (s *Store) LoadJSON(name string, v any) error {
	data, err := s.Load(name)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decoding artifact %s: %w", name, err)
	}
	return nil
}

// JSONCheckpointer adapts a Store to the checkpointed-loop contract for a
// single named checkpoint file.
type JSONCheckpointer[S any] struct {
	Store *Store
	Name  string
}

// Save persists the checkpoint state.
func (c JSONCheckpointer[S]) Save(state S) error {
	return c.Store.SaveJSON(c.Name, state)
}

// Load restores the checkpoint state; ok is false when no checkpoint exists.
func (c JSONCheckpointer[S]) Load() (S, bool, error) {
	var state S
	if !c.Store.Exists(c.Name) {
		return state, false, nil
	}
	if err := c.Store.LoadJSON(c.Name, &state); err != nil {
		return state, false, err
	}
	return state, true, nil
}
