// Package persist writes channel and session records as JSON documents, one
// file per record. Writes go through a temp-file-then-rename so a reader
// never observes a partially written record.
package persist

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const appDirName = "agent-relay"

// Record kinds; each kind lives in its own subdirectory of the state dir.
const (
	KindChannel = "channels"
	KindSession = "sessions"
)

// Error wraps a failed durable write or read. Mutations that hit one are
// rolled back by the caller and reported, never silently dropped.
type Error struct {
	Op   string
	Kind string
	Key  string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("persist %s %s/%s: %v", e.Op, e.Kind, e.Key, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Store reads and writes records under a single state directory.
type Store struct {
	dir string
}

// NewStore creates a store rooted at dir. Pass an empty string to use the
// default XDG state path.
func NewStore(dir string) *Store {
	if dir == "" {
		dir = defaultStateDir()
	}
	return &Store{dir: dir}
}

// Dir returns the state directory root.
func (s *Store) Dir() string {
	return s.dir
}

func (s *Store) path(kind, key string) string {
	return filepath.Join(s.dir, kind, key+".json")
}

// Save marshals v and writes it atomically as the record kind/key.
func (s *Store) Save(kind, key string, v any) error {
	dir := filepath.Join(s.dir, kind)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return &Error{Op: "save", Kind: kind, Key: key, Err: err}
	}

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return &Error{Op: "save", Kind: kind, Key: key, Err: err}
	}
	data = append(data, '\n')

	tmp, err := os.CreateTemp(dir, "."+key+"-*.tmp")
	if err != nil {
		return &Error{Op: "save", Kind: kind, Key: key, Err: err}
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return &Error{Op: "save", Kind: kind, Key: key, Err: err}
	}
	if err := tmp.Close(); err != nil {
		return &Error{Op: "save", Kind: kind, Key: key, Err: err}
	}
	if err := os.Rename(tmpPath, s.path(kind, key)); err != nil {
		return &Error{Op: "save", Kind: kind, Key: key, Err: err}
	}
	committed = true
	return nil
}

// Delete removes the record. A record that does not exist is not an error.
func (s *Store) Delete(kind, key string) error {
	if err := os.Remove(s.path(kind, key)); err != nil && !os.IsNotExist(err) {
		return &Error{Op: "delete", Kind: kind, Key: key, Err: err}
	}
	return nil
}

// Load reads one record into v.
func (s *Store) Load(kind, key string, v any) error {
	data, err := os.ReadFile(s.path(kind, key))
	if err != nil {
		return &Error{Op: "load", Kind: kind, Key: key, Err: err}
	}
	if err := json.Unmarshal(data, v); err != nil {
		return &Error{Op: "load", Kind: kind, Key: key, Err: err}
	}
	return nil
}

// LoadAll returns the raw bytes of every record of the given kind, keyed by
// record name. A missing kind directory is an empty result, not an error.
func (s *Store) LoadAll(kind string) (map[string][]byte, error) {
	dir := filepath.Join(s.dir, kind)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string][]byte{}, nil
		}
		return nil, &Error{Op: "load", Kind: kind, Key: "*", Err: err}
	}

	records := make(map[string][]byte)
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		key := strings.TrimSuffix(name, ".json")
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, &Error{Op: "load", Kind: kind, Key: key, Err: err}
		}
		records[key] = data
	}
	return records, nil
}

// defaultStateDir returns ~/.local/state/agent-relay, respecting
// XDG_STATE_HOME if set.
func defaultStateDir() string {
	if base := os.Getenv("XDG_STATE_HOME"); base != "" {
		return filepath.Join(base, appDirName)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		home = os.TempDir()
	}
	return filepath.Join(home, ".local", "state", appDirName)
}
