package room

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"

	"github.com/codedocs/server/cmd/server/internal/document"
	"github.com/codedocs/server/cmd/server/internal/ot"
	"github.com/codedocs/server/cmd/server/internal/runner"
	"github.com/codedocs/server/cmd/server/internal/users"
	"github.com/codedocs/server/pkg/metrics"
)

// sender delivers outbound events to one connection. Implementations
// must not block the caller.
type sender interface {
	sendEvent(ev event)
}

type member struct {
	connID string
	user   *users.User
	access document.AccessLevel
	cursor int
	send   sender
}

// Room coordinates all live connections of one document. Every state
// mutation runs under the single-writer mutex; the revision log, the
// document snapshot and presence never change outside it.
type Room struct {
	docID  string
	hub    *Hub
	runner *runner.Manager
	store  document.Store
	log    *slog.Logger
	mirror *Mirror

	linkAccessOwnerOnly bool

	mu        sync.Mutex
	doc       *document.Document
	entries   []document.LogEntry
	members   map[string]*member
	userConns map[string]int
}

func newRoom(hub *Hub, doc *document.Document) *Room {
	return &Room{
		docID:               doc.ID,
		hub:                 hub,
		runner:              hub.runner,
		store:               hub.store,
		log:                 hub.log.With("component", "room", "file_id", doc.ID),
		mirror:              hub.mirror,
		linkAccessOwnerOnly: hub.linkAccessOwnerOnly,
		doc:                 doc,
		members:             map[string]*member{},
		userConns:           map[string]int{},
	}
}

// DocID returns the identifier of the document the room coordinates.
func (r *Room) DocID() string { return r.docID }

// join registers a connection, resolving or creating the user's
// membership at the document's link access. Called via Hub.Join.
func (r *Room) join(ctx context.Context, connID string, u *users.User, send sender) error {
	m, err := r.store.Membership(ctx, u.ID, r.docID)
	if errors.Is(err, document.ErrNotFound) {
		m = &document.Membership{UserID: u.ID, DocID: r.docID, Access: r.linkAccess()}
		if err := r.store.UpsertMembership(ctx, m); err != nil {
			return err
		}
	} else if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	mem := &member{connID: connID, user: u, access: m.Access, send: send}
	r.members[connID] = mem
	r.userConns[u.ID]++
	first := r.userConns[u.ID] == 1
	metrics.ConnectionOpened()

	mem.send.sendEvent(event{"type": evtChannelName, "channel_name": connID})
	mem.send.sendEvent(event{"type": evtFileStatus, "is_running": r.runner.Running(r.docID)})
	if first {
		r.broadcastLocked(event{"type": evtNewUser, "user": userPayload(mem)})
	}
	return nil
}

// leave removes a connection and reports whether the room is now
// empty. When the last member goes, the operation log is truncated and
// the revision reset; history only matters while someone is present to
// reconcile against. Called via Hub.Leave.
func (r *Room) leave(connID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	mem, ok := r.members[connID]
	if !ok {
		return len(r.members) == 0
	}
	delete(r.members, connID)
	metrics.ConnectionClosed()

	r.userConns[mem.user.ID]--
	if r.userConns[mem.user.ID] <= 0 {
		delete(r.userConns, mem.user.ID)
		r.broadcastLocked(event{"type": evtDeleteUser, "user": userPayload(mem)})
	}

	if len(r.members) == 0 {
		r.entries = nil
		r.doc.Revision = 0
		r.persistLocked()
		return true
	}
	return false
}

func (r *Room) empty() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.members) == 0
}

func (r *Room) linkAccess() document.AccessLevel {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.doc.LinkAccess
}

// FileInfo replies with the document snapshot and the caller's access.
func (r *Room) FileInfo(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	mem := r.members[connID]
	if mem == nil {
		return
	}
	doc := *r.doc
	mem.send.sendEvent(event{"type": msgFileInfo, "file": doc, "access": mem.access})
}

// ActiveUsers replies with every user currently connected, with their
// cursor positions.
func (r *Room) ActiveUsers(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	mem := r.members[connID]
	if mem == nil {
		return
	}
	seen := map[string]bool{}
	out := []event{}
	for _, m := range r.members {
		if seen[m.user.ID] {
			continue
		}
		seen[m.user.ID] = true
		p := userPayload(m)
		p["cursor_position"] = m.cursor
		out = append(out, p)
	}
	mem.send.sendEvent(event{"type": msgActiveUsers, "users": out})
}

// AllUsers replies with every membership of the document, connected or
// not.
func (r *Room) AllUsers(connID string) {
	ctx := context.Background()
	memberships, err := r.store.MembershipsByDocument(ctx, r.docID)
	if err != nil {
		r.log.Error("failed to list memberships", "error", err)
		r.sendError(connID, NotFound("memberships unavailable"))
		return
	}
	out := []event{}
	for _, m := range memberships {
		p := event{"id": m.UserID, "access": m.Access}
		if u, err := r.hub.users.GetUser(ctx, m.UserID); err == nil {
			p["username"] = u.Username
			p["account_color"] = u.AccountColor
		}
		out = append(out, p)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if mem := r.members[connID]; mem != nil {
		mem.send.sendEvent(event{"type": msgAllUsers, "users": out})
	}
}

// ChangeFileConfig applies a partial name/language update and
// broadcasts the refreshed snapshot.
func (r *Room) ChangeFileConfig(connID string, name, language *string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	mem := r.members[connID]
	if mem == nil {
		return
	}
	if !mem.access.CanEdit() {
		mem.send.sendEvent(errorEvent(AccessDenied("editor access required")))
		return
	}
	if name != nil {
		r.doc.Name = *name
	}
	if language != nil {
		r.doc.Language = *language
	}
	r.persistLocked()
	r.broadcastLocked(event{"type": msgChangeFileConfig, "file": *r.doc})
}

// ChangeLinkAccess updates the document's default access for users
// arriving through the share link.
func (r *Room) ChangeLinkAccess(connID string, access document.AccessLevel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	mem := r.members[connID]
	if mem == nil {
		return
	}
	if !access.Valid() {
		mem.send.sendEvent(errorEvent(InvalidInput("invalid access level")))
		return
	}
	if r.linkAccessOwnerOnly && !mem.access.AtLeast(document.Owner) {
		mem.send.sendEvent(errorEvent(AccessDenied("owner access required")))
		return
	}
	r.doc.LinkAccess = access
	r.persistLocked()
	r.broadcastLocked(event{"type": msgChangeLinkAccess, "new_access": access})
}

// ChangeUserAccess changes another member's access level. The
// requester must be at or above both the target's current level and
// the requested one.
func (r *Room) ChangeUserAccess(connID, targetUserID string, access document.AccessLevel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	mem := r.members[connID]
	if mem == nil {
		return
	}
	if !access.Valid() {
		mem.send.sendEvent(errorEvent(InvalidInput("invalid access level")))
		return
	}
	if targetUserID == mem.user.ID {
		mem.send.sendEvent(errorEvent(NotAcceptable("cannot change your own access")))
		return
	}

	ctx := context.Background()
	target, err := r.store.Membership(ctx, targetUserID, r.docID)
	if errors.Is(err, document.ErrNotFound) {
		mem.send.sendEvent(errorEvent(NotFound("user is not a collaborator")))
		return
	} else if err != nil {
		r.log.Error("failed to load membership", "error", err)
		mem.send.sendEvent(errorEvent(NotFound("user is not a collaborator")))
		return
	}
	if !mem.access.AtLeast(target.Access) || !mem.access.AtLeast(access) {
		mem.send.sendEvent(errorEvent(AccessDenied("insufficient access")))
		return
	}

	target.Access = access
	if err := r.store.UpsertMembership(ctx, target); err != nil {
		r.log.Error("failed to update membership", "error", err)
		mem.send.sendEvent(errorEvent(&Error{Status: 500, Message: "could not update access"}))
		return
	}
	// live connections of the target pick up the new level immediately
	for _, m := range r.members {
		if m.user.ID == targetUserID {
			m.access = access
		}
	}
	r.broadcastLocked(event{"type": msgChangeUserAccess, "user_id": targetUserID, "new_access": access})
}

// ApplyOperation rebases an edit generated at baseRevision across the
// log tail, applies it and broadcasts the sequenced result. Edits from
// members below Editor are silently ignored.
func (r *Room) ApplyOperation(connID string, baseRevision uint64, op ot.Operation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	mem := r.members[connID]
	if mem == nil {
		return
	}
	if !mem.access.CanEdit() {
		return
	}
	if !op.Kind.Valid() || op.Position < 0 {
		mem.send.sendEvent(errorEvent(InvalidInput("malformed operation")))
		return
	}

	folded := op
	steps := 0
	for _, e := range r.entries {
		if e.Revision > baseRevision {
			folded = ot.Transform(folded, e.Op)
			steps++
		}
	}

	next, err := ot.Apply(folded, r.doc.Content)
	if err != nil {
		mem.send.sendEvent(errorEvent(Conflict("operation does not apply: " + err.Error())))
		return
	}

	r.doc.Content = next
	r.doc.Revision++
	r.entries = append(r.entries, document.LogEntry{
		Revision: r.doc.Revision,
		Op:       folded,
		DocID:    r.docID,
		ConnID:   connID,
	})
	r.persistLocked()

	metrics.RecordOperationApplied(folded.Kind.String())
	metrics.RecordTransformsFolded(steps)

	r.broadcastLocked(event{
		"type":         msgApplyOperation,
		"operation":    folded,
		"revision":     r.doc.Revision,
		"channel_name": connID,
	})
}

// History replies with every log entry after sinceRevision, revision
// ascending.
func (r *Room) History(connID string, sinceRevision uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	mem := r.members[connID]
	if mem == nil {
		return
	}
	out := []event{}
	for _, e := range r.entries {
		if e.Revision > sinceRevision {
			out = append(out, event{"revision": e.Revision, "operation": e.Op})
		}
	}
	mem.send.sendEvent(event{"type": msgOperationHistory, "operations": out})
}

// ChangeCursorPosition relays a cursor move to the other members.
func (r *Room) ChangeCursorPosition(connID string, position int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	mem := r.members[connID]
	if mem == nil {
		return
	}
	mem.cursor = position
	ev := event{
		"type":         msgChangeCursorPosition,
		"channel_name": connID,
		"user_id":      mem.user.ID,
		"position":     position,
	}
	for _, m := range r.members {
		if m.connID != connID {
			m.send.sendEvent(ev)
		}
	}
	r.publish(ev)
}

// RunFile launches a sandboxed execution of the current content.
func (r *Room) RunFile(connID string) {
	r.mu.Lock()
	mem := r.members[connID]
	if mem == nil {
		r.mu.Unlock()
		return
	}
	if !mem.access.CanEdit() {
		mem.send.sendEvent(errorEvent(AccessDenied("editor access required")))
		r.mu.Unlock()
		return
	}
	doc := *r.doc
	r.mu.Unlock()

	err := r.runner.Start(&doc, runSink{r: r})
	switch {
	case errors.Is(err, runner.ErrAlreadyRunning):
		r.sendError(connID, Conflict("file is already running"))
		return
	case errors.Is(err, runner.ErrUnsupportedLanguage):
		r.sendError(connID, NotAcceptable("language cannot be run"))
		return
	case err != nil:
		r.log.Error("failed to start execution", "error", err)
		r.sendError(connID, &Error{Status: 500, Message: "could not start execution"})
		return
	}
	r.broadcast(event{"type": msgRunFile, "channel_name": connID})
}

// FileInput queues a stdin line for the running execution.
func (r *Room) FileInput(connID, line string) {
	r.mu.Lock()
	mem := r.members[connID]
	if mem == nil {
		r.mu.Unlock()
		return
	}
	if !mem.access.CanEdit() {
		mem.send.sendEvent(errorEvent(AccessDenied("editor access required")))
		r.mu.Unlock()
		return
	}
	r.mu.Unlock()

	if err := r.runner.Input(r.docID, line); err != nil {
		r.sendError(connID, Unavailable("file is not running"))
		return
	}
	r.broadcast(event{"type": msgFileInput, "file_input": line, "channel_name": connID})
}

// StopFile forcibly terminates the running execution.
func (r *Room) StopFile(connID string) {
	r.mu.Lock()
	mem := r.members[connID]
	r.mu.Unlock()
	if mem == nil {
		return
	}
	if !mem.access.CanEdit() {
		r.sendError(connID, AccessDenied("editor access required"))
		return
	}
	if err := r.runner.Stop(r.docID); err != nil {
		r.sendError(connID, Unavailable("file is not running"))
		return
	}
	r.broadcast(event{"type": msgStopFile, "channel_name": connID})
}

// runSink feeds execution output back into the room's broadcast path.
type runSink struct {
	r *Room
}

func (s runSink) Output(seq int, chunk string) {
	s.r.broadcast(event{"type": evtFileOutput, "file_output": chunk, "index": seq})
}

func (s runSink) Ended(exitCode int) {
	s.r.broadcast(event{"type": evtEndRunFile, "exit_code": exitCode})
	s.r.broadcast(event{"type": evtFileStatus, "is_running": false})
}

// sendError delivers an error event to one connection. Sends always
// happen under the room mutex so they serialize against the
// connection's departure.
func (r *Room) sendError(connID string, e *Error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if mem := r.members[connID]; mem != nil {
		mem.send.sendEvent(errorEvent(e))
	}
}

func (r *Room) broadcast(ev event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.broadcastLocked(ev)
}

func (r *Room) broadcastLocked(ev event) {
	for _, m := range r.members {
		m.send.sendEvent(ev)
	}
	r.publish(ev)
}

// publish mirrors an event to the optional external channel.
func (r *Room) publish(ev event) {
	if r.mirror == nil {
		return
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	r.mirror.Publish(r.docID, data)
}

// persistLocked writes the document snapshot through the store.
// Persistence failures are logged, not surfaced; the in-memory state
// stays authoritative for the live room.
func (r *Room) persistLocked() {
	doc := *r.doc
	if err := r.store.UpdateDocument(context.Background(), &doc); err != nil {
		r.log.Error("failed to persist document", "error", err)
	}
}

func userPayload(m *member) event {
	return event{
		"id":            m.user.ID,
		"username":      m.user.Username,
		"account_color": m.user.AccountColor,
		"access":        m.access,
	}
}
