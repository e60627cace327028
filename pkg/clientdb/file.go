package clientdb

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// FileStore keeps clients in a JSON file. Every change rewrites the file
// through a temporary file and a rename.
type FileStore struct {
	path string

	mu      sync.RWMutex
	clients map[string]Client
}

// OpenFileStore loads path, creating an empty store when it does not exist.
func OpenFileStore(path string) (*FileStore, error) {
	s := &FileStore{path: path, clients: make(map[string]Client)}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, err
	}
	if len(data) == 0 {
		return s, nil
	}

	var list []Client
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("parsing client db %s: %w", path, err)
	}
	for _, c := range list {
		s.clients[c.Name] = c
	}
	return s, nil
}

func (s *FileStore) GetClientsByName(_ context.Context, name string) ([]Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.clients[name]
	if !ok {
		return nil, nil
	}
	return []Client{c}, nil
}

func (s *FileStore) AddClient(_ context.Context, c Client) error {
	if err := ValidateName(c.Name); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.clients[c.Name]; ok {
		return fmt.Errorf("%w: %s", ErrClientExists, c.Name)
	}
	s.clients[c.Name] = c
	if err := s.flushLocked(); err != nil {
		delete(s.clients, c.Name)
		return err
	}
	return nil
}

func (s *FileStore) ListClients(_ context.Context) ([]Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sortedLocked(), nil
}

func (s *FileStore) Close() error { return nil }

func (s *FileStore) sortedLocked() []Client {
	out := make([]Client, 0, len(s.clients))
	for _, c := range s.clients {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (s *FileStore) flushLocked() error {
	data, err := json.MarshalIndent(s.sortedLocked(), "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".clients-*.json")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}
