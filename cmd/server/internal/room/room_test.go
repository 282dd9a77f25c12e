package room

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codedocs/server/cmd/server/internal/document"
	"github.com/codedocs/server/cmd/server/internal/ot"
	"github.com/codedocs/server/cmd/server/internal/runner"
	"github.com/codedocs/server/cmd/server/internal/users"
)

type fakeConn struct {
	mu     sync.Mutex
	events []event
}

func (f *fakeConn) sendEvent(ev event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
}

func (f *fakeConn) ofType(kind string) []event {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []event{}
	for _, ev := range f.events {
		if ev["type"] == kind {
			out = append(out, ev)
		}
	}
	return out
}

func (f *fakeConn) lastOfType(kind string) event {
	evs := f.ofType(kind)
	if len(evs) == 0 {
		return nil
	}
	return evs[len(evs)-1]
}

func (f *fakeConn) waitForType(t *testing.T, kind string) event {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if ev := f.lastOfType(kind); ev != nil {
			return ev
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %q event", kind)
	return nil
}

type testEnv struct {
	hub   *Hub
	store document.Store
	mgr   *users.Manager
}

func newTestEnv(t *testing.T, runCommand []string, cfg Config) *testEnv {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	store := document.NewMemStore()
	ustore, err := users.NewFileStore(t.TempDir())
	require.NoError(t, err)
	mgr, err := users.NewManager(ustore, []byte("0123456789abcdef0123456789abcdef"), time.Hour)
	require.NoError(t, err)

	if runCommand == nil {
		runCommand = []string{"/bin/cat"}
	}
	run, err := runner.NewManager(runner.Options{
		Dir:        t.TempDir(),
		Command:    runCommand,
		MaxRunTime: 10 * time.Second,
		IdleFlush:  50 * time.Millisecond,
	}, log, nil)
	require.NoError(t, err)

	return &testEnv{
		hub:   NewHub(store, mgr, run, nil, log, cfg),
		store: store,
		mgr:   mgr,
	}
}

func (e *testEnv) createDoc(t *testing.T, content string, linkAccess document.AccessLevel) *document.Document {
	t.Helper()
	doc := &document.Document{ID: "d1", Name: "main.py", Language: "python", Content: content, LinkAccess: linkAccess}
	require.NoError(t, e.store.CreateDocument(context.Background(), doc))
	return doc
}

func (e *testEnv) register(t *testing.T, username string) *users.User {
	t.Helper()
	u, err := e.mgr.Register(context.Background(), username, username+"@example.com", "escape-plan-1")
	require.NoError(t, err)
	return u
}

func (e *testEnv) join(t *testing.T, connID string, u *users.User) (*Room, *fakeConn) {
	t.Helper()
	fc := &fakeConn{}
	r, err := e.hub.Join(context.Background(), "d1", connID, u, fc)
	require.NoError(t, err)
	return r, fc
}

func TestJoinAnnouncesPresence(t *testing.T) {
	env := newTestEnv(t, nil, Config{})
	env.createDoc(t, "", document.Editor)
	alice := env.register(t, "alice")

	_, fc := env.join(t, "c1", alice)

	name := fc.lastOfType(evtChannelName)
	require.NotNil(t, name)
	assert.Equal(t, "c1", name["channel_name"])

	status := fc.lastOfType(evtFileStatus)
	require.NotNil(t, status)
	assert.Equal(t, false, status["is_running"])

	// first connection of the user is announced to everyone
	assert.Len(t, fc.ofType(evtNewUser), 1)

	// a second connection of the same user is not announced again
	_, fc2 := env.join(t, "c2", alice)
	assert.Empty(t, fc2.ofType(evtNewUser))
	assert.Len(t, fc.ofType(evtNewUser), 1)
}

func TestLeaveAnnouncesOnLastConnection(t *testing.T) {
	env := newTestEnv(t, nil, Config{})
	env.createDoc(t, "", document.Editor)
	alice := env.register(t, "alice")
	bob := env.register(t, "bob")

	r, fcA := env.join(t, "a1", alice)
	_, _ = env.join(t, "b1", bob)
	_, _ = env.join(t, "b2", bob)

	env.hub.Leave(r, "b1")
	assert.Empty(t, fcA.ofType(evtDeleteUser))

	env.hub.Leave(r, "b2")
	assert.Len(t, fcA.ofType(evtDeleteUser), 1)
}

func TestApplyOperationSequencesRevisions(t *testing.T) {
	env := newTestEnv(t, nil, Config{})
	env.createDoc(t, "", document.Editor)
	alice := env.register(t, "alice")
	bob := env.register(t, "bob")

	r, fcA := env.join(t, "a1", alice)
	_, fcB := env.join(t, "b1", bob)

	r.ApplyOperation("a1", 0, ot.NewInsert(0, "Michael"))
	r.ApplyOperation("a1", 1, ot.NewInsert(7, " Scofield"))

	evs := fcB.ofType(msgApplyOperation)
	require.Len(t, evs, 2)
	assert.Equal(t, uint64(1), evs[0]["revision"])
	assert.Equal(t, uint64(2), evs[1]["revision"])
	assert.Equal(t, "a1", evs[0]["channel_name"])

	// the sender receives its own confirmation too
	assert.Len(t, fcA.ofType(msgApplyOperation), 2)

	doc, err := env.store.Document(context.Background(), "d1")
	require.NoError(t, err)
	assert.Equal(t, "Michael Scofield", doc.Content)
	assert.Equal(t, uint64(2), doc.Revision)
}

func TestStaleOperationIsRebased(t *testing.T) {
	env := newTestEnv(t, nil, Config{})
	env.createDoc(t, "Michael Scofield", document.Editor)
	alice := env.register(t, "alice")
	bob := env.register(t, "bob")

	r, _ := env.join(t, "a1", alice)
	_, fcB := env.join(t, "b1", bob)

	// alice's insert is sequenced first
	r.ApplyOperation("a1", 0, ot.NewInsert(8, "J. "))
	// bob generated his insert against revision 0
	r.ApplyOperation("b1", 0, ot.NewInsert(0, "origami "))

	doc, err := env.store.Document(context.Background(), "d1")
	require.NoError(t, err)
	assert.Equal(t, "origami Michael J. Scofield", doc.Content)

	evs := fcB.ofType(msgApplyOperation)
	require.Len(t, evs, 2)
	assert.Equal(t, uint64(2), evs[1]["revision"])
}

func TestConcurrentDeleteAndInsert(t *testing.T) {
	env := newTestEnv(t, nil, Config{})
	env.createDoc(t, "Michael Scofield", document.Editor)
	alice := env.register(t, "alice")

	r, _ := env.join(t, "a1", alice)

	r.ApplyOperation("a1", 0, ot.NewDelete(4, "ael"))
	r.ApplyOperation("a1", 0, ot.NewInsert(0, "J. "))

	doc, err := env.store.Document(context.Background(), "d1")
	require.NoError(t, err)
	assert.Equal(t, "J. Mich Scofield", doc.Content)
}

func TestViewerEditSilentlyIgnored(t *testing.T) {
	env := newTestEnv(t, nil, Config{})
	env.createDoc(t, "content", document.Viewer)
	alice := env.register(t, "alice")

	r, fc := env.join(t, "a1", alice)
	r.ApplyOperation("a1", 0, ot.NewInsert(0, "x"))

	assert.Empty(t, fc.ofType(msgApplyOperation))
	assert.Empty(t, fc.ofType(evtError))

	doc, err := env.store.Document(context.Background(), "d1")
	require.NoError(t, err)
	assert.Equal(t, "content", doc.Content)
	assert.Equal(t, uint64(0), doc.Revision)
}

func TestApplyOperationConflictOnMismatch(t *testing.T) {
	env := newTestEnv(t, nil, Config{})
	env.createDoc(t, "abc", document.Editor)
	alice := env.register(t, "alice")

	r, fc := env.join(t, "a1", alice)
	r.ApplyOperation("a1", 0, ot.NewDelete(0, "zzz"))

	ev := fc.lastOfType(evtError)
	require.NotNil(t, ev)
	assert.Equal(t, 4409, ev["error_code"])

	doc, err := env.store.Document(context.Background(), "d1")
	require.NoError(t, err)
	assert.Equal(t, uint64(0), doc.Revision)
}

func TestHistoryReturnsEntriesAfterRevision(t *testing.T) {
	env := newTestEnv(t, nil, Config{})
	env.createDoc(t, "", document.Editor)
	alice := env.register(t, "alice")

	r, fc := env.join(t, "a1", alice)
	r.ApplyOperation("a1", 0, ot.NewInsert(0, "a"))
	r.ApplyOperation("a1", 1, ot.NewInsert(1, "b"))
	r.ApplyOperation("a1", 2, ot.NewInsert(2, "c"))

	r.History("a1", 1)
	ev := fc.lastOfType(msgOperationHistory)
	require.NotNil(t, ev)
	ops := ev["operations"].([]event)
	require.Len(t, ops, 2)
	assert.Equal(t, uint64(2), ops[0]["revision"])
	assert.Equal(t, uint64(3), ops[1]["revision"])

	r.History("a1", 3)
	ev = fc.lastOfType(msgOperationHistory)
	assert.Empty(t, ev["operations"].([]event))
}

func TestEmptyRoomResetsHistory(t *testing.T) {
	env := newTestEnv(t, nil, Config{})
	env.createDoc(t, "", document.Editor)
	alice := env.register(t, "alice")

	r, _ := env.join(t, "a1", alice)
	for i := 0; i < 5; i++ {
		r.ApplyOperation("a1", uint64(i), ot.NewInsert(i, "x"))
	}

	doc, err := env.store.Document(context.Background(), "d1")
	require.NoError(t, err)
	assert.Equal(t, uint64(5), doc.Revision)

	env.hub.Leave(r, "a1")
	assert.Equal(t, 0, env.hub.OpenRooms())

	doc, err = env.store.Document(context.Background(), "d1")
	require.NoError(t, err)
	assert.Equal(t, uint64(0), doc.Revision)
	assert.Equal(t, "xxxxx", doc.Content)

	// a fresh room starts with an empty log
	r2, fc := env.join(t, "a2", alice)
	r2.History("a2", 0)
	ev := fc.lastOfType(msgOperationHistory)
	require.NotNil(t, ev)
	assert.Empty(t, ev["operations"].([]event))
}

func TestChangeUserAccess(t *testing.T) {
	env := newTestEnv(t, nil, Config{})
	env.createDoc(t, "", document.Viewer)
	owner := env.register(t, "owner")
	guest := env.register(t, "guest")

	ctx := context.Background()
	require.NoError(t, env.store.UpsertMembership(ctx, &document.Membership{UserID: owner.ID, DocID: "d1", Access: document.Owner}))

	r, fcOwner := env.join(t, "o1", owner)
	_, fcGuest := env.join(t, "g1", guest)

	// viewer promoting themselves past the owner is denied
	r.ChangeUserAccess("g1", owner.ID, document.Viewer)
	ev := fcGuest.lastOfType(evtError)
	require.NotNil(t, ev)
	assert.Equal(t, 4403, ev["error_code"])

	m, err := env.store.Membership(ctx, owner.ID, "d1")
	require.NoError(t, err)
	assert.Equal(t, document.Owner, m.Access)

	// owner promotes the guest; the live connection picks it up
	r.ChangeUserAccess("o1", guest.ID, document.Editor)
	require.NotNil(t, fcOwner.lastOfType(msgChangeUserAccess))

	r.ApplyOperation("g1", 0, ot.NewInsert(0, "now editable"))
	doc, err := env.store.Document(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, "now editable", doc.Content)
}

func TestChangeOwnAccessRejected(t *testing.T) {
	env := newTestEnv(t, nil, Config{})
	env.createDoc(t, "", document.Editor)
	alice := env.register(t, "alice")

	r, fc := env.join(t, "a1", alice)
	r.ChangeUserAccess("a1", alice.ID, document.Owner)

	ev := fc.lastOfType(evtError)
	require.NotNil(t, ev)
	assert.Equal(t, 4406, ev["error_code"])
}

func TestChangeUserAccessUnknownTarget(t *testing.T) {
	env := newTestEnv(t, nil, Config{})
	env.createDoc(t, "", document.Editor)
	alice := env.register(t, "alice")

	r, fc := env.join(t, "a1", alice)
	r.ChangeUserAccess("a1", "nobody", document.Viewer)

	ev := fc.lastOfType(evtError)
	require.NotNil(t, ev)
	assert.Equal(t, 4404, ev["error_code"])
}

func TestChangeLinkAccess(t *testing.T) {
	env := newTestEnv(t, nil, Config{})
	env.createDoc(t, "", document.Viewer)
	alice := env.register(t, "alice")
	bob := env.register(t, "bob")

	r, fc := env.join(t, "a1", alice)
	r.ChangeLinkAccess("a1", document.Editor)
	require.NotNil(t, fc.lastOfType(msgChangeLinkAccess))

	// later joiners arrive at the new default
	_, _ = env.join(t, "b1", bob)
	m, err := env.store.Membership(context.Background(), bob.ID, "d1")
	require.NoError(t, err)
	assert.Equal(t, document.Editor, m.Access)
}

func TestChangeLinkAccessOwnerOnly(t *testing.T) {
	env := newTestEnv(t, nil, Config{LinkAccessOwnerOnly: true})
	env.createDoc(t, "", document.Editor)
	alice := env.register(t, "alice")

	r, fc := env.join(t, "a1", alice)
	r.ChangeLinkAccess("a1", document.Viewer)

	ev := fc.lastOfType(evtError)
	require.NotNil(t, ev)
	assert.Equal(t, 4403, ev["error_code"])

	doc, err := env.store.Document(context.Background(), "d1")
	require.NoError(t, err)
	assert.Equal(t, document.Editor, doc.LinkAccess)
}

func TestChangeFileConfig(t *testing.T) {
	env := newTestEnv(t, nil, Config{})
	env.createDoc(t, "", document.Editor)
	alice := env.register(t, "alice")

	r, fc := env.join(t, "a1", alice)
	name := "renamed.js"
	lang := "javascript"
	r.ChangeFileConfig("a1", &name, &lang)

	ev := fc.lastOfType(msgChangeFileConfig)
	require.NotNil(t, ev)
	doc := ev["file"].(document.Document)
	assert.Equal(t, "renamed.js", doc.Name)
	assert.Equal(t, "javascript", doc.Language)
}

func TestCursorRelayedToOthersOnly(t *testing.T) {
	env := newTestEnv(t, nil, Config{})
	env.createDoc(t, "", document.Editor)
	alice := env.register(t, "alice")
	bob := env.register(t, "bob")

	r, fcA := env.join(t, "a1", alice)
	_, fcB := env.join(t, "b1", bob)

	r.ChangeCursorPosition("a1", 7)

	assert.Empty(t, fcA.ofType(msgChangeCursorPosition))
	ev := fcB.lastOfType(msgChangeCursorPosition)
	require.NotNil(t, ev)
	assert.Equal(t, 7, ev["position"])
	assert.Equal(t, alice.ID, ev["user_id"])
}

func TestDispatchMalformedPayload(t *testing.T) {
	env := newTestEnv(t, nil, Config{})
	env.createDoc(t, "", document.Editor)
	alice := env.register(t, "alice")

	r, fc := env.join(t, "a1", alice)

	require.NoError(t, r.Dispatch("a1", []byte(`{"type":"apply_operation"}`)))
	ev := fc.lastOfType(evtError)
	require.NotNil(t, ev)
	assert.Equal(t, 4400, ev["error_code"])

	require.NoError(t, r.Dispatch("a1", []byte(`not json`)))
}

func TestDispatchUnknownTypeIsFatal(t *testing.T) {
	env := newTestEnv(t, nil, Config{})
	env.createDoc(t, "", document.Editor)
	alice := env.register(t, "alice")

	r, _ := env.join(t, "a1", alice)
	assert.Error(t, r.Dispatch("a1", []byte(`{"type":"bogus"}`)))
}

func TestDispatchApplyOperation(t *testing.T) {
	env := newTestEnv(t, nil, Config{})
	env.createDoc(t, "", document.Editor)
	alice := env.register(t, "alice")

	r, fc := env.join(t, "a1", alice)
	raw := []byte(`{"type":"apply_operation","revision":0,"operation":{"type":0,"position":0,"text":"hi"}}`)
	require.NoError(t, r.Dispatch("a1", raw))

	ev := fc.lastOfType(msgApplyOperation)
	require.NotNil(t, ev)
	assert.Equal(t, uint64(1), ev["revision"])

	doc, err := env.store.Document(context.Background(), "d1")
	require.NoError(t, err)
	assert.Equal(t, "hi", doc.Content)
}

func TestJoinUnknownDocument(t *testing.T) {
	env := newTestEnv(t, nil, Config{})
	alice := env.register(t, "alice")

	_, err := env.hub.Join(context.Background(), "missing", "a1", alice, &fakeConn{})
	var re *Error
	require.ErrorAs(t, err, &re)
	assert.Equal(t, 4404, re.EventCode())
}

func TestRunFileStreamsToRoom(t *testing.T) {
	env := newTestEnv(t, []string{"/bin/cat", "{file}"}, Config{})
	env.createDoc(t, "hello\n", document.Editor)
	alice := env.register(t, "alice")
	bob := env.register(t, "bob")

	r, _ := env.join(t, "a1", alice)
	_, fcB := env.join(t, "b1", bob)

	r.RunFile("a1")
	require.NotNil(t, fcB.waitForType(t, msgRunFile))

	out := fcB.waitForType(t, evtFileOutput)
	assert.Equal(t, "hello\n", out["file_output"])
	assert.Equal(t, 0, out["index"])

	end := fcB.waitForType(t, evtEndRunFile)
	assert.Equal(t, 0, end["exit_code"])
}

func TestRunFileConflictAndRestart(t *testing.T) {
	env := newTestEnv(t, []string{"/bin/cat"}, Config{})
	env.createDoc(t, "", document.Editor)
	alice := env.register(t, "alice")

	r, fc := env.join(t, "a1", alice)

	r.RunFile("a1")
	fc.waitForType(t, msgRunFile)

	r.RunFile("a1")
	ev := fc.lastOfType(evtError)
	require.NotNil(t, ev)
	assert.Equal(t, 4409, ev["error_code"])

	r.StopFile("a1")
	fc.waitForType(t, evtEndRunFile)

	r.RunFile("a1")
	assert.Len(t, fc.ofType(msgRunFile), 2)
	r.StopFile("a1")
}

func TestFileInputWithoutRun(t *testing.T) {
	env := newTestEnv(t, nil, Config{})
	env.createDoc(t, "", document.Editor)
	alice := env.register(t, "alice")

	r, fc := env.join(t, "a1", alice)

	r.FileInput("a1", "hello")
	ev := fc.lastOfType(evtError)
	require.NotNil(t, ev)
	assert.Equal(t, 4503, ev["error_code"])

	r.StopFile("a1")
	assert.Equal(t, 4503, fc.lastOfType(evtError)["error_code"])
}

func TestFileInputEchoedThroughProcess(t *testing.T) {
	env := newTestEnv(t, []string{"/bin/cat"}, Config{})
	env.createDoc(t, "", document.Editor)
	alice := env.register(t, "alice")

	r, fc := env.join(t, "a1", alice)

	r.RunFile("a1")
	fc.waitForType(t, msgRunFile)

	r.FileInput("a1", "ping")
	// the input line is mirrored to the room and echoed back by cat
	in := fc.waitForType(t, msgFileInput)
	assert.Equal(t, "ping", in["file_input"])
	out := fc.waitForType(t, evtFileOutput)
	assert.Equal(t, "ping\n", out["file_output"])

	r.StopFile("a1")
	fc.waitForType(t, evtEndRunFile)
}

func TestRunFileRequiresEditor(t *testing.T) {
	env := newTestEnv(t, nil, Config{})
	env.createDoc(t, "", document.Viewer)
	alice := env.register(t, "alice")

	r, fc := env.join(t, "a1", alice)
	r.RunFile("a1")

	ev := fc.lastOfType(evtError)
	require.NotNil(t, ev)
	assert.Equal(t, 4403, ev["error_code"])
}

func TestFileInputRequiresEditor(t *testing.T) {
	env := newTestEnv(t, nil, Config{})
	env.createDoc(t, "", document.Viewer)
	alice := env.register(t, "alice")

	r, fc := env.join(t, "a1", alice)
	r.FileInput("a1", "stdin line")

	ev := fc.lastOfType(evtError)
	require.NotNil(t, ev)
	assert.Equal(t, 4403, ev["error_code"])
	// the line never reaches the supervisor, so no echo either
	assert.Nil(t, fc.lastOfType(msgFileInput))
}

func TestFileInfoAndUsers(t *testing.T) {
	env := newTestEnv(t, nil, Config{})
	env.createDoc(t, "body", document.Editor)
	alice := env.register(t, "alice")
	bob := env.register(t, "bob")

	r, fc := env.join(t, "a1", alice)
	_, _ = env.join(t, "b1", bob)

	r.FileInfo("a1")
	info := fc.lastOfType(msgFileInfo)
	require.NotNil(t, info)
	doc := info["file"].(document.Document)
	assert.Equal(t, "body", doc.Content)
	assert.Equal(t, document.Editor, info["access"])

	r.ActiveUsers("a1")
	active := fc.lastOfType(msgActiveUsers)
	require.NotNil(t, active)
	assert.Len(t, active["users"].([]event), 2)

	r.AllUsers("a1")
	all := fc.lastOfType(msgAllUsers)
	require.NotNil(t, all)
	assert.Len(t, all["users"].([]event), 2)
}
