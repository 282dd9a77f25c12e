package document

import (
	"context"
	"sync"
)

// MemStore keeps documents and memberships in process memory. It backs
// tests and serves as the base layer of FileStore.
type MemStore struct {
	mu      sync.RWMutex
	docs    map[string]*Document
	members map[string]map[string]*Membership // docID -> userID -> membership
}

func NewMemStore() *MemStore {
	return &MemStore{
		docs:    map[string]*Document{},
		members: map[string]map[string]*Membership{},
	}
}

func (s *MemStore) CreateDocument(_ context.Context, doc *Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.docs[doc.ID]; exists {
		return ErrExists
	}
	cpy := *doc
	s.docs[doc.ID] = &cpy
	return nil
}

func (s *MemStore) Document(_ context.Context, id string) (*Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.docs[id]
	if !ok {
		return nil, ErrNotFound
	}
	cpy := *doc
	return &cpy, nil
}

func (s *MemStore) UpdateDocument(_ context.Context, doc *Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.docs[doc.ID]; !ok {
		return ErrNotFound
	}
	cpy := *doc
	s.docs[doc.ID] = &cpy
	return nil
}

func (s *MemStore) DeleteDocument(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.docs[id]; !ok {
		return ErrNotFound
	}
	delete(s.docs, id)
	delete(s.members, id)
	return nil
}

func (s *MemStore) UpsertMembership(_ context.Context, m *Membership) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	byUser, ok := s.members[m.DocID]
	if !ok {
		byUser = map[string]*Membership{}
		s.members[m.DocID] = byUser
	}
	cpy := *m
	byUser[m.UserID] = &cpy
	return nil
}

func (s *MemStore) Membership(_ context.Context, userID, docID string) (*Membership, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.members[docID][userID]
	if !ok {
		return nil, ErrNotFound
	}
	cpy := *m
	return &cpy, nil
}

func (s *MemStore) MembershipsByDocument(_ context.Context, docID string) ([]*Membership, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []*Membership{}
	for _, m := range s.members[docID] {
		cpy := *m
		out = append(out, &cpy)
	}
	return out, nil
}

func (s *MemStore) MembershipsByUser(_ context.Context, userID string) ([]*Membership, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []*Membership{}
	for _, byUser := range s.members {
		if m, ok := byUser[userID]; ok {
			cpy := *m
			out = append(out, &cpy)
		}
	}
	return out, nil
}

func (s *MemStore) DeleteMembership(_ context.Context, userID, docID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.members[docID][userID]; !ok {
		return ErrNotFound
	}
	delete(s.members[docID], userID)
	return nil
}

// snapshot copies out the full state for persistence.
func (s *MemStore) snapshot() ([]*Document, []*Membership) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	docs := make([]*Document, 0, len(s.docs))
	for _, d := range s.docs {
		cpy := *d
		docs = append(docs, &cpy)
	}
	members := []*Membership{}
	for _, byUser := range s.members {
		for _, m := range byUser {
			cpy := *m
			members = append(members, &cpy)
		}
	}
	return docs, members
}

// restore replaces the full state, used when loading from disk.
func (s *MemStore) restore(docs []*Document, members []*Membership) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs = map[string]*Document{}
	s.members = map[string]map[string]*Membership{}
	for _, d := range docs {
		cpy := *d
		s.docs[d.ID] = &cpy
	}
	for _, m := range members {
		byUser, ok := s.members[m.DocID]
		if !ok {
			byUser = map[string]*Membership{}
			s.members[m.DocID] = byUser
		}
		cpy := *m
		byUser[m.UserID] = &cpy
	}
}
