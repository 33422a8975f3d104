package export

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// Saver persists finished export artifacts and serves them back for
// bundling and download.
type Saver interface {
	Save(name string, data []byte) error
	Open(name string) (io.ReadCloser, error)
}

// DirSaver stores artifacts as files in one directory.
type DirSaver struct {
	Dir string
}

// NewDirSaver creates the directory if needed.
func NewDirSaver(dir string) (*DirSaver, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create artifact directory: %w", err)
	}
	return &DirSaver{Dir: dir}, nil
}

func (s *DirSaver) Save(name string, data []byte) error {
	path := filepath.Join(s.Dir, filepath.Base(name))
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to save artifact %q: %w", name, err)
	}
	return nil
}

func (s *DirSaver) Open(name string) (io.ReadCloser, error) {
	path := filepath.Join(s.Dir, filepath.Base(name))
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open artifact %q: %w", name, err)
	}
	return f, nil
}

// MemSaver keeps artifacts in memory. Used in tests and as a building block
// for archive bundling.
type MemSaver struct {
	mu    sync.Mutex
	files map[string][]byte
}

func NewMemSaver() *MemSaver {
	return &MemSaver{files: make(map[string][]byte)}
}

func (s *MemSaver) Save(name string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	s.files[name] = cp
	return nil
}

func (s *MemSaver) Open(name string) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.files[name]
	if !ok {
		return nil, fmt.Errorf("artifact %q not found", name)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// Names returns the stored artifact names.
func (s *MemSaver) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.files))
	for n := range s.files {
		names = append(names, n)
	}
	return names
}
