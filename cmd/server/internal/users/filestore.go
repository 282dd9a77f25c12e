package users

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
)

// FileStore keeps accounts in memory and mirrors them to
// users.json under the store directory on every change.
type FileStore struct {
	mu        sync.RWMutex
	users     map[string]*User // keyed by id
	storePath string
}

func NewFileStore(storeDir string) (*FileStore, error) {
	s := &FileStore{users: map[string]*User{}, storePath: filepath.Join(storeDir, "users.json")}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *FileStore) load() error {
	b, err := os.ReadFile(s.storePath)
	if err != nil {
		return nil // first run
	}
	var arr []*User
	if err := json.Unmarshal(b, &arr); err != nil {
		return err
	}
	for _, u := range arr {
		s.users[u.ID] = u
	}
	return nil
}

func (s *FileStore) save() error {
	arr := []*User{}
	for _, u := range s.users {
		arr = append(arr, u)
	}
	b, _ := json.MarshalIndent(arr, "", "  ")
	if err := os.MkdirAll(filepath.Dir(s.storePath), 0755); err != nil {
		return err
	}
	return os.WriteFile(s.storePath, b, 0644)
}

func (s *FileStore) CreateUser(_ context.Context, u *User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.users[u.ID]; exists {
		return ErrExists
	}
	for _, existing := range s.users {
		if existing.Username == u.Username {
			return ErrExists
		}
	}
	cpy := *u
	s.users[u.ID] = &cpy
	return s.save()
}

func (s *FileStore) UserByID(_ context.Context, id string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	cpy := *u
	return &cpy, nil
}

func (s *FileStore) UserByUsername(_ context.Context, username string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if u.Username == username {
			cpy := *u
			return &cpy, nil
		}
	}
	return nil, ErrNotFound
}

func (s *FileStore) DeleteUser(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[id]; !ok {
		return ErrNotFound
	}
	delete(s.users, id)
	return s.save()
}
