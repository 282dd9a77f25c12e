package room

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/codedocs/server/cmd/server/internal/document"
	"github.com/codedocs/server/cmd/server/internal/runner"
	"github.com/codedocs/server/cmd/server/internal/users"
	"github.com/codedocs/server/pkg/metrics"
)

// UserLookup resolves user records for presence payloads.
type UserLookup interface {
	GetUser(ctx context.Context, id string) (*users.User, error)
}

// Config carries the hub's policy knobs.
type Config struct {
	// LinkAccessOwnerOnly restricts change_link_access to Owners. The
	// permissive default matches the observed behavior where any
	// member may change the link default.
	LinkAccessOwnerOnly bool
}

// Hub owns the registry of open rooms, one per document with at least
// one live connection. Replaces any ambient global state: everything a
// room needs is passed in through here.
type Hub struct {
	mu    sync.Mutex
	rooms map[string]*Room

	store  document.Store
	users  UserLookup
	runner *runner.Manager
	mirror *Mirror
	log    *slog.Logger

	linkAccessOwnerOnly bool
}

func NewHub(store document.Store, lookup UserLookup, run *runner.Manager, mirror *Mirror, log *slog.Logger, cfg Config) *Hub {
	return &Hub{
		rooms:               map[string]*Room{},
		store:               store,
		users:               lookup,
		runner:              run,
		mirror:              mirror,
		log:                 log,
		linkAccessOwnerOnly: cfg.LinkAccessOwnerOnly,
	}
}

// Join attaches a connection to the document's room, creating the room
// if this is the first connection. Returns the room the connection now
// belongs to.
func (h *Hub) Join(ctx context.Context, docID, connID string, u *users.User, send sender) (*Room, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	r, ok := h.rooms[docID]
	if !ok {
		doc, err := h.store.Document(ctx, docID)
		if errors.Is(err, document.ErrNotFound) {
			return nil, NotFound("file not found")
		} else if err != nil {
			return nil, err
		}
		r = newRoom(h, doc)
		h.rooms[docID] = r
		metrics.RoomOpened()
	}
	if err := r.join(ctx, connID, u, send); err != nil {
		if r.empty() {
			delete(h.rooms, docID)
			metrics.RoomClosed()
		}
		return nil, err
	}
	return r, nil
}

// Leave detaches a connection; the room is dropped from the registry
// when its last member goes.
func (h *Hub) Leave(r *Room, connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if r.leave(connID) {
		if _, ok := h.rooms[r.docID]; ok {
			delete(h.rooms, r.docID)
			metrics.RoomClosed()
		}
	}
}

// OpenRooms reports how many rooms currently have members.
func (h *Hub) OpenRooms() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms)
}
