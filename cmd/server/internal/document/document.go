package document

import (
	"errors"

	"github.com/codedocs/server/cmd/server/internal/ot"
)

var (
	ErrNotFound = errors.New("not found")
	ErrExists   = errors.New("already exists")
)

// Document is the authoritative state of one collaborative file.
// Content and Revision are mutated only inside the owning room's
// critical section; Revision always matches the last applied log entry.
type Document struct {
	ID         string      `json:"id"`
	Name       string      `json:"name"`
	Language   string      `json:"programming_language"`
	Content    string      `json:"content"`
	Revision   uint64      `json:"revision"`
	LinkAccess AccessLevel `json:"link_access"`
}

// LogEntry records one applied operation. Entries are append-only and
// never updated; the whole log is dropped when a room empties.
type LogEntry struct {
	Revision uint64       `json:"revision"`
	Op       ot.Operation `json:"operation"`
	DocID    string       `json:"file_id"`
	ConnID   string       `json:"channel_name"`
}

// Membership binds a user to a document with an access level.
type Membership struct {
	UserID string      `json:"user_id"`
	DocID  string      `json:"file_id"`
	Access AccessLevel `json:"access"`
}
