package document

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// FileStore layers JSON-file persistence over a MemStore. Every
// mutation rewrites the files in full; documents.json and
// memberships.json live under the data directory.
type FileStore struct {
	mem  *MemStore
	mu   sync.Mutex // serializes save
	dir  string
	docs string
	memb string
}

func NewFileStore(dir string) (*FileStore, error) {
	s := &FileStore{
		mem:  NewMemStore(),
		dir:  dir,
		docs: filepath.Join(dir, "documents.json"),
		memb: filepath.Join(dir, "memberships.json"),
	}
	if err := s.load(); err != nil {
		return nil, fmt.Errorf("load document store: %w", err)
	}
	return s, nil
}

func (s *FileStore) load() error {
	var docs []*Document
	if b, err := os.ReadFile(s.docs); err == nil {
		if err := json.Unmarshal(b, &docs); err != nil {
			return err
		}
	}
	var members []*Membership
	if b, err := os.ReadFile(s.memb); err == nil {
		if err := json.Unmarshal(b, &members); err != nil {
			return err
		}
	}
	s.mem.restore(docs, members)
	return nil
}

func (s *FileStore) save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	docs, members := s.mem.snapshot()
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return err
	}
	db, _ := json.MarshalIndent(docs, "", "  ")
	if err := os.WriteFile(s.docs, db, 0644); err != nil {
		return err
	}
	mb, _ := json.MarshalIndent(members, "", "  ")
	return os.WriteFile(s.memb, mb, 0644)
}

func (s *FileStore) CreateDocument(ctx context.Context, doc *Document) error {
	if err := s.mem.CreateDocument(ctx, doc); err != nil {
		return err
	}
	return s.save()
}

func (s *FileStore) Document(ctx context.Context, id string) (*Document, error) {
	return s.mem.Document(ctx, id)
}

func (s *FileStore) UpdateDocument(ctx context.Context, doc *Document) error {
	if err := s.mem.UpdateDocument(ctx, doc); err != nil {
		return err
	}
	return s.save()
}

func (s *FileStore) DeleteDocument(ctx context.Context, id string) error {
	if err := s.mem.DeleteDocument(ctx, id); err != nil {
		return err
	}
	return s.save()
}

func (s *FileStore) UpsertMembership(ctx context.Context, m *Membership) error {
	if err := s.mem.UpsertMembership(ctx, m); err != nil {
		return err
	}
	return s.save()
}

func (s *FileStore) Membership(ctx context.Context, userID, docID string) (*Membership, error) {
	return s.mem.Membership(ctx, userID, docID)
}

func (s *FileStore) MembershipsByDocument(ctx context.Context, docID string) ([]*Membership, error) {
	return s.mem.MembershipsByDocument(ctx, docID)
}

func (s *FileStore) MembershipsByUser(ctx context.Context, userID string) ([]*Membership, error) {
	return s.mem.MembershipsByUser(ctx, userID)
}

func (s *FileStore) DeleteMembership(ctx context.Context, userID, docID string) error {
	if err := s.mem.DeleteMembership(ctx, userID, docID); err != nil {
		return err
	}
	return s.save()
}
