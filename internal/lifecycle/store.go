package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/Rajchodisetti/spx0dte/internal/observ"
)

// Store persists the lifecycle document. Update is a single-writer read-modify-write:
// fn sees the current state and its mutations are saved only when it returns nil.
type Store interface {
	Load(ctx context.Context) (*State, error)
	Save(ctx context.Context, s *State) error
	Update(ctx context.Context, fn func(*State) error) error
}

// decodeState parses a stored document. Corrupt documents yield a default state and a warning.
func decodeState(data []byte, source string) *State {
	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		observ.Warn("lifecycle_state_corrupt", map[string]any{"source": source, "error": err.Error()})
		observ.IncCounter("lifecycle_state_resets_total", map[string]string{"source": source})
		return DefaultState("")
	}
	st.sanitize()
	return &st
}

func clone(s *State) (*State, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("marshal lifecycle state: %w", err)
	}
	var out State
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("unmarshal lifecycle state: %w", err)
	}
	out.sanitize()
	return &out, nil
}

// MemoryStore keeps the document in process. Used by tests and one-shot runs.
type MemoryStore struct {
	mu    sync.Mutex
	state *State
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Load(ctx context.Context) (*State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loadUnsafe()
}

func (m *MemoryStore) loadUnsafe() (*State, error) {
	if m.state == nil {
		return DefaultState(""), nil
	}
	return clone(m.state)
}

func (m *MemoryStore) Save(ctx context.Context, s *State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, err := clone(s)
	if err != nil {
		return err
	}
	m.state = c
	return nil
}

func (m *MemoryStore) Update(ctx context.Context, fn func(*State) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, err := m.loadUnsafe()
	if err != nil {
		return err
	}
	if err := fn(st); err != nil {
		return err
	}
	m.state = st
	return nil
}

// FileStore keeps the document as indented JSON, written atomically via temp file + rename.
type FileStore struct {
	mu   sync.Mutex
	path string
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (f *FileStore) Path() string { return f.path }

func (f *FileStore) Load(ctx context.Context) (*State, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loadUnsafe()
}

// loadUnsafe reads without acquiring the lock. A missing file is a fresh state.
func (f *FileStore) loadUnsafe() (*State, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return DefaultState(""), nil
		}
		return nil, fmt.Errorf("failed to read lifecycle state: %w", err)
	}
	return decodeState(data, "file"), nil
}

func (f *FileStore) Save(ctx context.Context, s *State) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.saveUnsafe(s)
}

func (f *FileStore) saveUnsafe(s *State) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal lifecycle state: %w", err)
	}
	if dir := filepath.Dir(f.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create state dir: %w", err)
		}
	}
	tempPath := f.path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write temp lifecycle state: %w", err)
	}
	if err := os.Rename(tempPath, f.path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to rename lifecycle state: %w", err)
	}
	return nil
}

func (f *FileStore) Update(ctx context.Context, fn func(*State) error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, err := f.loadUnsafe()
	if err != nil {
		return err
	}
	if err := fn(st); err != nil {
		return err
	}
	return f.saveUnsafe(st)
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*FileStore)(nil)
)
