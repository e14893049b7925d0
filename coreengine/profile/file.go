package profile

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/jeeves-cluster-organization/groundedrag/coreengine/envelope"
)

// FileStore keeps the profile as an indented JSON document on disk.
// Writes go to a temp file that is renamed over the target.
type FileStore struct {
	mu   sync.Mutex
	path string
}

// NewFileStore creates a store at path. Parent directories are created on Save.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the document location.
func (s *FileStore) Path() string { return s.path }

// Load implements Store. A missing file yields an empty profile.
func (s *FileStore) Load(_ context.Context) (envelope.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return envelope.Profile{}, nil
	}
	if err != nil {
		return envelope.Profile{}, fmt.Errorf("read profile: %w", err)
	}
	return decode(data)
}

// Save implements Store.
func (s *FileStore) Save(_ context.Context, p envelope.Profile) error {
	data, err := encode(p)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create profile dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".profile-*.json")
	if err != nil {
		return fmt.Errorf("create temp profile: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write profile: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close profile: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replace profile: %w", err)
	}
	return nil
}

// Reset implements Store.
func (s *FileStore) Reset(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove profile: %w", err)
	}
	return nil
}

func encode(p envelope.Profile) ([]byte, error) {
	if p == nil {
		p = envelope.Profile{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(p); err != nil {
		return nil, fmt.Errorf("encode profile: %w", err)
	}
	return buf.Bytes(), nil
}

func decode(data []byte) (envelope.Profile, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return envelope.Profile{}, nil
	}
	var p envelope.Profile
	if err := json.Unmarshal(data, &p); err != nil {
		return envelope.Profile{}, fmt.Errorf("%w: %v", ErrCorruptProfile, err)
	}
	if p == nil {
		return envelope.Profile{}, nil
	}
	return p, nil
}
