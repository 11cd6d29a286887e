package collab

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/peerbajaj/collab/internal/executor"
	"github.com/peerbajaj/collab/internal/model"
)

func TestRoom_NewRoomSnapshotIsEmpty(t *testing.T) {
	store := newMemStore()
	h := newTestHub(t, testOptions(store))

	r, a := join(t, h, "r1", "c1", "alice")

	fs := a.last(EventFilesState).(FilesState)
	assert.Equal(t, "r1", fs.RoomID)
	assert.Empty(t, fs.Files)
	assert.NotNil(t, fs.Files)
	assert.Equal(t, "", fs.ActiveFileID)
	assert.Equal(t, model.DefaultLanguage, fs.Language)
	assert.Equal(t, PhaseActive, r.Phase())
}

// Scenario A: create a file, then a second participant sees it in the snapshot.
func TestRoom_CreateFileThenJoin(t *testing.T) {
	store := newMemStore()
	h := newTestHub(t, testOptions(store))

	r, a := join(t, h, "r1", "c1", "alice")
	submit(t, r, "c1", FileCreate{RoomID: "r1", Name: "main.js", Language: "javascript"})
	state := settle(t, r)

	require.Len(t, state.Files, 1)
	assert.Equal(t, state.Files[0].ID, state.ActiveFileID)

	// The creator hears about it too.
	fs := a.last(EventFilesState).(FilesState)
	assert.Len(t, fs.Files, 1)

	_, b := join(t, h, "r1", "c2", "bob")
	snap := b.last(EventFilesState).(FilesState)
	require.Len(t, snap.Files, 1)
	assert.Equal(t, "main.js", snap.Files[0].Name)
	assert.Equal(t, snap.Files[0].ID, snap.ActiveFileID)
}

// A joiner's snapshot is exactly the state at the moment it joined.
func TestRoom_JoinSnapshotMatchesState(t *testing.T) {
	store := newMemStore()
	h := newTestHub(t, testOptions(store))

	r, _ := join(t, h, "r1", "c1", "alice")
	submit(t, r, "c1", FileCreate{RoomID: "r1", Name: "a.py", Language: "python"})
	submit(t, r, "c1", FileCreate{RoomID: "r1", Name: "b.py"})
	submit(t, r, "c1", CodeChange{RoomID: "r1", Code: "print('a')"})
	submit(t, r, "c1", FileSwitch{RoomID: "r1", FileID: "f2"})
	submit(t, r, "c1", CodeChange{RoomID: "r1", Code: "print('b')"})
	want := settle(t, r)

	_, b := join(t, h, "r1", "c2", "bob")

	snap := b.events(EventFilesState)[0].(FilesState)
	assert.Equal(t, NewFilesState("r1", want), snap)
	assert.Equal(t, "f2", snap.ActiveFileID)
	assert.Equal(t, "print('a')", snap.Files[0].Content)
	assert.Equal(t, "print('b')", snap.Files[1].Content)
}

func TestRoom_ParticipantListOnJoinAndLeave(t *testing.T) {
	store := newMemStore()
	h := newTestHub(t, testOptions(store))

	r, a := join(t, h, "r1", "c1", "alice")
	_, b := join(t, h, "r1", "c2", "bob")

	require.Eventually(t, func() bool { return a.count(EventUserJoined) == 2 }, waitFor, tick)
	uj := a.last(EventUserJoined).(UserJoined)
	assert.Equal(t, []string{"alice", "bob"}, uj.Users)
	assert.Equal(t, []ParticipantInfo{{"c1", "alice"}, {"c2", "bob"}}, uj.Participants)
	assert.Equal(t, uj, b.last(EventUserJoined).(UserJoined), "the joiner gets the list too")

	// Scenario E: A disconnects and B sees only itself.
	require.NoError(t, r.Leave(context.Background(), "c1"))
	uj = b.last(EventUserJoined).(UserJoined)
	assert.Equal(t, []string{"bob"}, uj.Users)
	assert.Equal(t, []string{"bob"}, h.Registry().Names("r1"))
	assert.Equal(t, 2, a.count(EventUserJoined), "a departed connection is not told")

	assert.Equal(t, 0, store.saveCount(), "joining and leaving never persist")
}

func TestRoom_LeaveIsIdempotent(t *testing.T) {
	h := newTestHub(t, testOptions(newMemStore()))
	r, _ := join(t, h, "r1", "c1", "alice")

	require.NoError(t, r.Leave(context.Background(), "c1"))
	require.NoError(t, r.Leave(context.Background(), "c1"))
	require.NoError(t, r.Leave(context.Background(), "never-joined"))

	assert.Equal(t, 0, h.Registry().Count())
}

func TestRoom_DuplicateJoinIsRejected(t *testing.T) {
	h := newTestHub(t, testOptions(newMemStore()))
	r, _ := join(t, h, "r1", "c1", "alice")

	again := &recordingSink{}
	require.NoError(t, r.Join("c1", "alice", again))
	settle(t, r)

	errs := again.events(EventError)
	require.Len(t, errs, 1)
	assert.Equal(t, EventJoinRoom, errs[0].(ErrorPayload).Event)
	assert.Equal(t, 0, again.count(EventFilesState))
}

// Scenario B plus the exclusion rule for every "to others" event.
func TestRoom_BroadcastExcludesSender(t *testing.T) {
	h := newTestHub(t, testOptions(newMemStore()))

	r, a := join(t, h, "r1", "c1", "alice")
	_, b := join(t, h, "r1", "c2", "bob")
	_, c := join(t, h, "r1", "c3", "carol")
	submit(t, r, "c1", FileCreate{RoomID: "r1", Name: "main.js"})

	submit(t, r, "c1", CodeChange{RoomID: "r1", Code: "console.log(1)"})
	submit(t, r, "c1", LanguageChange{RoomID: "r1", Language: "typescript"})
	submit(t, r, "c1", Typing{RoomID: "r1", UserName: "alice"})
	settle(t, r)

	for _, other := range []*recordingSink{b, c} {
		assert.Equal(t, CodeUpdate{RoomID: "r1", FileID: "f1", Code: "console.log(1)"}, other.last(EventCodeUpdate))
		assert.Equal(t, LanguageUpdate{RoomID: "r1", Language: "typescript", FileID: "f1"}, other.last(EventLanguageUpdate))
		assert.Equal(t, UserTyping{RoomID: "r1", UserName: "alice", ConnectionID: "c1"}, other.last(EventUserTyping))
	}
	assert.Equal(t, 0, a.count(EventCodeUpdate))
	assert.Equal(t, 0, a.count(EventLanguageUpdate))
	assert.Equal(t, 0, a.count(EventUserTyping))
}

func TestRoom_TypingDefaultsToDisplayName(t *testing.T) {
	h := newTestHub(t, testOptions(newMemStore()))
	r, _ := join(t, h, "r1", "c1", "alice")
	_, b := join(t, h, "r1", "c2", "bob")

	submit(t, r, "c1", Typing{RoomID: "r1"})
	settle(t, r)

	assert.Equal(t, "alice", b.last(EventUserTyping).(UserTyping).UserName)
}

func TestRoom_Chat(t *testing.T) {
	h := newTestHub(t, testOptions(newMemStore()))
	r, a := join(t, h, "r1", "c1", "alice")
	_, b := join(t, h, "r1", "c2", "bob")

	submit(t, r, "c1", ChatMessage{RoomID: "r1", Text: " hello "})
	submit(t, r, "c1", ChatMessage{RoomID: "r1", Sender: "Al", Text: "again", Time: "10:00"})
	submit(t, r, "c1", ChatMessage{RoomID: "r1", Text: "   "})
	settle(t, r)

	msgs := b.events(EventChatMessage)
	require.Len(t, msgs, 2)
	first := msgs[0].(ChatMessage)
	assert.Equal(t, "alice", first.Sender)
	assert.Equal(t, "hello", first.Text)
	_, err := time.Parse(time.RFC3339, first.Time)
	assert.NoError(t, err)
	assert.Equal(t, ChatMessage{RoomID: "r1", Sender: "Al", Text: "again", Time: "10:00"}, msgs[1])

	assert.Equal(t, 0, a.count(EventChatMessage))
	assert.Equal(t, 1, a.count(EventError), "empty message is rejected to the sender")
}

// Scenario C: only the requester gets the result.
func TestRoom_CompileRepliesToRequesterOnly(t *testing.T) {
	opts := testOptions(newMemStore())
	runner := &fakeRunner{resp: executor.Response{Output: "1\n"}}
	opts.Runner = runner
	h := newTestHub(t, opts)

	r, a := join(t, h, "r1", "c1", "alice")
	_, b := join(t, h, "r1", "c2", "bob")

	submit(t, r, "c1", CompileCode{RoomID: "r1", Code: "console.log(1)", Language: "javascript"})

	require.Eventually(t, func() bool { return a.count(EventCodeResponse) == 1 }, waitFor, tick)
	assert.Equal(t, CodeResponse{RoomID: "r1", Output: "1\n"}, a.last(EventCodeResponse))
	assert.Equal(t, 0, b.count(EventCodeResponse))

	state := settle(t, r)
	assert.Equal(t, "1\n", state.LastOutput)
}

func TestRoom_CompileDefaultsToRoomLanguage(t *testing.T) {
	opts := testOptions(newMemStore())
	runner := &fakeRunner{resp: executor.Response{Output: "ok"}}
	opts.Runner = runner
	h := newTestHub(t, opts)

	r, a := join(t, h, "r1", "c1", "alice")
	submit(t, r, "c1", LanguageChange{RoomID: "r1", Language: "python"})
	submit(t, r, "c1", CompileCode{RoomID: "r1", Code: "print(1)"})

	require.Eventually(t, func() bool { return a.count(EventCodeResponse) == 1 }, waitFor, tick)
	assert.Equal(t, "python", runner.last.Load().(executor.ExecutionRequest).Language)
}

// blockingRunner holds every request until release is closed.
type blockingRunner struct {
	started chan struct{}
	release chan struct{}
}

func (b *blockingRunner) Dispatch(_ context.Context, _ executor.ExecutionRequest) executor.Response {
	close(b.started)
	<-b.release
	return executor.Response{Output: "late"}
}

func TestRoom_CompileResultDroppedAfterLeave(t *testing.T) {
	opts := testOptions(newMemStore())
	runner := &blockingRunner{started: make(chan struct{}), release: make(chan struct{})}
	opts.Runner = runner
	h := newTestHub(t, opts)

	r, a := join(t, h, "r1", "c1", "alice")
	_, b := join(t, h, "r1", "c2", "bob")
	submit(t, r, "c1", CompileCode{RoomID: "r1", Code: "x"})
	<-runner.started

	// The room keeps working while the execution is outstanding.
	submit(t, r, "c2", FileCreate{RoomID: "r1", Name: "b.js"})
	require.Eventually(t, func() bool { return a.count(EventFilesState) == 2 }, waitFor, tick)

	require.NoError(t, r.Leave(context.Background(), "c1"))
	close(runner.release)

	require.Eventually(t, func() bool {
		s, err := r.Snapshot(context.Background())
		return err == nil && s.LastOutput == "late"
	}, waitFor, tick)
	assert.Equal(t, 0, a.count(EventCodeResponse))
	assert.Equal(t, 0, b.count(EventCodeResponse))
}

// Scenario D: with no active file, code changes are rejected.
func TestRoom_CodeChangeAfterDeletingOnlyFile(t *testing.T) {
	h := newTestHub(t, testOptions(newMemStore()))
	r, a := join(t, h, "r1", "c1", "alice")
	_, b := join(t, h, "r1", "c2", "bob")

	submit(t, r, "c1", FileCreate{RoomID: "r1", Name: "main.js"})
	submit(t, r, "c1", FileDelete{RoomID: "r1", FileID: "f1"})
	submit(t, r, "c1", CodeChange{RoomID: "r1", Code: "lost"})
	state := settle(t, r)

	assert.Empty(t, state.Files)
	assert.Equal(t, "", state.ActiveFileID)
	assert.Equal(t, "", b.last(EventFilesState).(FilesState).ActiveFileID)
	assert.Equal(t, 0, b.count(EventCodeUpdate))

	errs := a.events(EventError)
	require.Len(t, errs, 1)
	assert.Equal(t, EventCodeChange, errs[0].(ErrorPayload).Event)
}

func TestRoom_RejectsEventsForAnotherRoom(t *testing.T) {
	h := newTestHub(t, testOptions(newMemStore()))
	r, a := join(t, h, "r1", "c1", "alice")
	_, b := join(t, h, "r1", "c2", "bob")

	submit(t, r, "c1", FileCreate{RoomID: "r2", Name: "x.js"})
	submit(t, r, "c1", Typing{RoomID: "r2"})
	submit(t, r, "c1", ChatMessage{RoomID: "r2", Text: "hi"})
	submit(t, r, "c1", CompileCode{RoomID: "r2", Code: "x"})
	state := settle(t, r)

	assert.Empty(t, state.Files)
	assert.Equal(t, 4, a.count(EventError))
	assert.Equal(t, 1, b.count(EventFilesState), "only the join snapshot")
	assert.Equal(t, 0, b.count(EventUserTyping))
	assert.Equal(t, 0, b.count(EventChatMessage))
}

func TestRoom_IgnoresConnectionsOutsideTheRoom(t *testing.T) {
	h := newTestHub(t, testOptions(newMemStore()))
	r, a := join(t, h, "r1", "c1", "alice")

	submit(t, r, "ghost", FileCreate{RoomID: "r1", Name: "x.js"})
	state := settle(t, r)

	assert.Empty(t, state.Files)
	assert.Equal(t, 1, a.count(EventFilesState))
}

// Effects from one connection reach every other participant in the order
// they were applied.
func TestRoom_OrderPreserved(t *testing.T) {
	h := newTestHub(t, testOptions(newMemStore()))
	r, _ := join(t, h, "r1", "c1", "alice")
	_, b := join(t, h, "r1", "c2", "bob")

	submit(t, r, "c1", FileCreate{RoomID: "r1", Name: "one.js"})
	for i := 0; i < 50; i++ {
		submit(t, r, "c1", CodeChange{RoomID: "r1", Code: fmt.Sprintf("v%d", i)})
	}
	submit(t, r, "c1", FileRename{RoomID: "r1", FileID: "f1", Name: "two.js"})
	settle(t, r)

	var seen []string
	for _, f := range b.all() {
		switch d := f.Data.(type) {
		case FilesState:
			if len(d.Files) > 0 {
				seen = append(seen, "files:"+d.Files[0].Name)
			}
		case CodeUpdate:
			seen = append(seen, d.Code)
		}
	}

	want := []string{"files:one.js"}
	for i := 0; i < 50; i++ {
		want = append(want, fmt.Sprintf("v%d", i))
	}
	want = append(want, "files:two.js")
	assert.Equal(t, want, seen)
}

func TestRoom_FileSaveWritesImmediately(t *testing.T) {
	store := newMemStore()
	opts := testOptions(store)
	opts.Debounce = time.Hour
	h := newTestHub(t, opts)

	r, a := join(t, h, "r1", "c1", "alice")
	_, b := join(t, h, "r1", "c2", "bob")
	submit(t, r, "c1", FileCreate{RoomID: "r1", Name: "main.py", Language: "python"})
	require.Eventually(t, func() bool { return store.saveCount() == 1 }, waitFor, tick)

	submit(t, r, "c1", FileSave{RoomID: "r1", FileID: "f1", Content: "print(2)"})
	require.Eventually(t, func() bool { return store.saveCount() == 2 }, waitFor, tick)
	assert.Equal(t, "print(2)", store.lastSave().Files[0].Content)
	assert.Equal(t, "print(2)", b.last(EventFilesState).(FilesState).Files[0].Content)
	assert.Equal(t, 2, a.count(EventFilesState), "the saver is not echoed")

	// An identical save still writes through but is not broadcast.
	before := b.count(EventFilesState)
	submit(t, r, "c1", FileSave{RoomID: "r1", FileID: "f1", Content: "print(2)"})
	require.Eventually(t, func() bool { return store.saveCount() == 3 }, waitFor, tick)
	assert.Equal(t, before, b.count(EventFilesState))
}

// N rapid code changes inside one window produce one write of the last one.
func TestRoom_DebounceCoalescesWrites(t *testing.T) {
	store := newMemStore()
	opts := testOptions(store)
	opts.Debounce = 100 * time.Millisecond
	h := newTestHub(t, opts)

	r, _ := join(t, h, "r1", "c1", "alice")
	submit(t, r, "c1", FileCreate{RoomID: "r1", Name: "main.js"})
	require.Eventually(t, func() bool { return store.saveCount() == 1 }, waitFor, tick)

	for i := 1; i <= 20; i++ {
		submit(t, r, "c1", CodeChange{RoomID: "r1", Code: fmt.Sprintf("let x = %d", i)})
	}
	settle(t, r)
	assert.Equal(t, 1, store.saveCount(), "nothing is written inside the window")

	require.Eventually(t, func() bool { return store.saveCount() == 2 }, waitFor, tick)
	assert.Equal(t, "let x = 20", store.lastSave().Files[0].Content)

	time.Sleep(3 * opts.Debounce)
	assert.Equal(t, 2, store.saveCount())
}

func TestRoom_StructuralChangeFlushesPendingContent(t *testing.T) {
	store := newMemStore()
	opts := testOptions(store)
	opts.Debounce = time.Hour
	h := newTestHub(t, opts)

	r, _ := join(t, h, "r1", "c1", "alice")
	submit(t, r, "c1", FileCreate{RoomID: "r1", Name: "main.js"})
	submit(t, r, "c1", CodeChange{RoomID: "r1", Code: "pending"})
	submit(t, r, "c1", FileRename{RoomID: "r1", FileID: "f1", Name: "index.js"})

	require.Eventually(t, func() bool {
		d, ok := store.stored("r1")
		return ok && len(d.Files) == 1 && d.Files[0].Name == "index.js"
	}, waitFor, tick)
	d, _ := store.stored("r1")
	assert.Equal(t, "pending", d.Files[0].Content)
}

func TestRoom_CompileOutputIsPersisted(t *testing.T) {
	store := newMemStore()
	opts := testOptions(store)
	opts.Runner = &fakeRunner{resp: executor.Response{Output: "42\n"}}
	h := newTestHub(t, opts)

	r, _ := join(t, h, "r1", "c1", "alice")
	submit(t, r, "c1", CompileCode{RoomID: "r1", Code: "print(42)", Language: "python"})

	require.Eventually(t, func() bool {
		d, ok := store.stored("r1")
		return ok && d.LastOutput == "42\n"
	}, waitFor, tick)
}

// A failed write is invisible to participants and retried later.
func TestRoom_PersistenceFailureDoesNotAffectBroadcast(t *testing.T) {
	store := newMemStore()
	store.failSaves = 1
	h := newTestHub(t, testOptions(store))

	r, a := join(t, h, "r1", "c1", "alice")
	_, b := join(t, h, "r1", "c2", "bob")
	submit(t, r, "c1", FileCreate{RoomID: "r1", Name: "main.js"})

	require.Eventually(t, func() bool { return b.count(EventFilesState) == 2 }, waitFor, tick)
	assert.Len(t, b.last(EventFilesState).(FilesState).Files, 1)
	assert.Equal(t, 0, a.count(EventError))
	assert.Equal(t, 0, b.count(EventError))

	require.Eventually(t, func() bool {
		d, ok := store.stored("r1")
		return ok && len(d.Files) == 1
	}, waitFor, tick)
	assert.GreaterOrEqual(t, store.saveCount(), 2)
}

// Commands that arrive while the room is still loading are applied, in
// order, once the load completes.
func TestRoom_QueuesWhileLoading(t *testing.T) {
	store := newMemStore()
	store.put(model.Document{
		RoomID:       "r1",
		Files:        []model.File{{ID: "x", Name: "main.go", Language: "go", Content: "old"}},
		ActiveFileID: "x",
		Language:     "go",
	})
	store.gate = make(chan struct{})
	h := newTestHub(t, testOptions(store))

	a := &recordingSink{}
	r, err := h.Join("r1", "c1", "alice", a)
	require.NoError(t, err)
	require.NoError(t, r.Submit("c1", CodeChange{RoomID: "r1", Code: "new"}))

	assert.Equal(t, PhaseLoading, r.Phase())
	assert.Empty(t, a.all())

	close(store.gate)

	require.Eventually(t, func() bool { return a.count(EventFilesState) == 1 }, waitFor, tick)
	state := settle(t, r)
	assert.Equal(t, PhaseActive, r.Phase())

	snap := a.last(EventFilesState).(FilesState)
	assert.Equal(t, "old", snap.Files[0].Content, "the snapshot reflects the loaded document")
	assert.Equal(t, "go", snap.Language)
	assert.Equal(t, "new", state.Files[0].Content, "the queued edit applied after load")
}

func TestRoom_LoadFailureStartsEmpty(t *testing.T) {
	store := newMemStore()
	store.put(model.Document{RoomID: "r1", Files: []model.File{{ID: "x", Name: "a"}}, ActiveFileID: "x"})
	store.loadFails = 10
	store.loadErr = errors.New("connection refused")
	h := newTestHub(t, testOptions(store))

	_, a := join(t, h, "r1", "c1", "alice")

	snap := a.last(EventFilesState).(FilesState)
	assert.Empty(t, snap.Files)
	assert.Equal(t, model.DefaultLanguage, snap.Language)
}

func TestRoom_LoadRetriesTransientFailure(t *testing.T) {
	store := newMemStore()
	store.put(model.Document{RoomID: "r1", Files: []model.File{{ID: "x", Name: "a.js"}}, ActiveFileID: "x"})
	store.loadFails = 1
	store.loadErr = errors.New("timeout")
	h := newTestHub(t, testOptions(store))

	_, a := join(t, h, "r1", "c1", "alice")

	snap := a.last(EventFilesState).(FilesState)
	require.Len(t, snap.Files, 1)
	assert.Equal(t, "a.js", snap.Files[0].Name)
}

func TestRoom_RoomsAreIndependent(t *testing.T) {
	h := newTestHub(t, testOptions(newMemStore()))
	r1, _ := join(t, h, "r1", "c1", "alice")
	r2, b := join(t, h, "r2", "c2", "bob")

	submit(t, r1, "c1", FileCreate{RoomID: "r1", Name: "a.js"})
	settle(t, r1)

	assert.Empty(t, settle(t, r2).Files)
	assert.Equal(t, 1, b.count(EventFilesState))
	assert.Equal(t, 2, h.RoomCount())
}
