package document

import "context"

// DocumentStore persists documents. Implementations must be safe for
// concurrent use.
type DocumentStore interface {
	CreateDocument(ctx context.Context, doc *Document) error
	Document(ctx context.Context, id string) (*Document, error)
	UpdateDocument(ctx context.Context, doc *Document) error
	DeleteDocument(ctx context.Context, id string) error
}

// MembershipStore persists user/document access bindings.
type MembershipStore interface {
	UpsertMembership(ctx context.Context, m *Membership) error
	Membership(ctx context.Context, userID, docID string) (*Membership, error)
	MembershipsByDocument(ctx context.Context, docID string) ([]*Membership, error)
	MembershipsByUser(ctx context.Context, userID string) ([]*Membership, error)
	DeleteMembership(ctx context.Context, userID, docID string) error
}

// Store combines both persistence concerns behind one handle.
type Store interface {
	DocumentStore
	MembershipStore
}
