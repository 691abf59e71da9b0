package events

import (
	"context"
	"encoding/json"
	"os"
	"sync"
)

// FileStore appends events as JSON lines. It is the default store: a local
// file never makes the network a liveness dependency.
type FileStore struct {
	mu sync.Mutex
	f  *os.File
}

func NewFileStore(path string) (*FileStore, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	return &FileStore{f: f}, nil
}

func (s *FileStore) Append(ctx context.Context, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.f.Write(append(data, '\n'))
	return err
}

func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.f.Close()
}

// MultiStore fans out to several stores; the first error wins but all
// stores see the event.
type MultiStore []Store

func (m MultiStore) Append(ctx context.Context, ev Event) error {
	var first error
	for _, s := range m {
		if err := s.Append(ctx, ev); err != nil && first == nil {
			first = err
		}
	}
	return first
}
