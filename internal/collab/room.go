package collab

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/peerbajaj/collab/internal/apperror"
	"github.com/peerbajaj/collab/internal/executor"
	"github.com/peerbajaj/collab/internal/model"
	"github.com/peerbajaj/collab/internal/session"
)

// ErrClosed is returned when a command reaches a room that has shut down.
var ErrClosed = errors.New("collab: room closed")

// Phase is a room's lifecycle state. UNLOADED rooms do not exist in memory;
// the Hub creates a Room directly in PhaseLoading.
type Phase int32

const (
	PhaseUnloaded Phase = iota
	PhaseLoading
	PhaseActive
	PhaseClosed
)

func (p Phase) String() string {
	switch p {
	case PhaseLoading:
		return "LOADING"
	case PhaseActive:
		return "ACTIVE"
	case PhaseClosed:
		return "CLOSED"
	default:
		return "UNLOADED"
	}
}

// command runs on the room goroutine with exclusive access to the room.
type command func(r *Room)

// Room is the coordinator for one roomId.
//
// ONE GOROUTINE PER ROOM:
// Every read and write of state happens on the goroutine started by
// newRoom. Other goroutines (WebSocket readers, the debounce timer, the
// persistence writer, execution calls) talk to it only by posting commands
// into inbox. The inbox is FIFO, so events from one connection are applied
// in the order that connection's reader posted them, and a room that is
// still LOADING simply does not read its inbox yet: everything queues.
//
// Nothing on the room goroutine waits on I/O. Sinks enqueue without
// blocking, writes go to the writer goroutine and executions run in their
// own goroutines, so a slow disk or a 20 second compile never stalls
// typing for everyone else.
type Room struct {
	id      string
	opts    *Options
	logger  *slog.Logger
	inbox   chan command
	quit    chan struct{}
	phase   atomic.Int32
	writer  *writer
	stopped bool

	// Owned by the room goroutine.
	state    model.RoomState
	dirty    bool
	timer    *time.Timer
	timerGen uint64
}

func newRoom(id string, opts *Options) *Room {
	r := &Room{
		id:     id,
		opts:   opts,
		logger: opts.Logger.With(slog.String("roomId", id)),
		inbox:  make(chan command, opts.InboxSize),
		quit:   make(chan struct{}),
	}
	r.writer = newWriter(id, opts.Store, opts.WriteTimeout, r.logger, opts.Metrics, func(err error) {
		_ = r.post(func(r *Room) { r.writeFailed() })
	})
	r.phase.Store(int32(PhaseLoading))

	go r.writer.run()
	go r.run()
	return r
}

// ID returns the room's id.
func (r *Room) ID() string { return r.id }

// Phase reports the lifecycle state. Safe from any goroutine.
func (r *Room) Phase() Phase { return Phase(r.phase.Load()) }

func (r *Room) run() {
	defer close(r.quit)

	r.state = r.load()
	r.phase.Store(int32(PhaseActive))
	r.opts.Metrics.RoomActivated()
	r.logger.Info("room active", slog.Int("files", len(r.state.Files)))

	for !r.stopped {
		cmd := <-r.inbox
		cmd(r)
	}
	r.phase.Store(int32(PhaseClosed))
}

// load reads the room from the store, retrying transient failures.
// A room that cannot be read after every attempt starts empty: the people
// already in it can keep working, and the failure is logged at error level.
func (r *Room) load() model.RoomState {
	empty := model.RoomState{Files: []model.File{}, Language: model.DefaultLanguage}

	for attempt := 1; ; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), r.opts.LoadTimeout)
		doc, err := r.opts.Store.Load(ctx, r.id)
		cancel()

		switch {
		case err == nil:
			return doc.State()
		case errors.Is(err, apperror.ErrNotFound):
			return empty
		case attempt >= r.opts.LoadAttempts:
			r.logger.Error("could not load room, starting empty",
				slog.Int("attempts", attempt),
				slog.String("error", err.Error()),
			)
			return empty
		}

		r.logger.Warn("room load failed, retrying",
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()),
		)
		time.Sleep(r.opts.LoadBackoff * time.Duration(attempt))
	}
}

// post hands cmd to the room goroutine. It blocks while the inbox is full,
// which pushes back on the connection that is flooding the room.
func (r *Room) post(cmd command) error {
	select {
	case <-r.quit:
		return ErrClosed
	default:
	}
	select {
	case r.inbox <- cmd:
		return nil
	case <-r.quit:
		return ErrClosed
	}
}

// call posts fn and waits for it to run.
func (r *Room) call(ctx context.Context, fn func(r *Room)) error {
	done := make(chan struct{})
	if err := r.post(func(r *Room) {
		fn(r)
		close(done)
	}); err != nil {
		return err
	}
	select {
	case <-done:
		return nil
	case <-r.quit:
		// fn may have been the command that stopped the room.
		select {
		case <-done:
			return nil
		default:
			return ErrClosed
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Join queues a participant join. Once the room is ACTIVE the connection
// receives a filesState snapshot and everyone receives the new
// participant list. A rejected join is reported to sink as an error event.
func (r *Room) Join(connectionID, displayName string, sink session.Sink) error {
	return r.post(func(r *Room) { r.join(connectionID, displayName, sink) })
}

// Leave removes a participant and waits until the remaining participants
// have been sent the new list. Waiting lets a connection leave one room and
// immediately join another without tripping the registry's one-room rule.
func (r *Room) Leave(ctx context.Context, connectionID string) error {
	return r.call(ctx, func(r *Room) { r.leave(connectionID) })
}

// Submit queues an inbound event from a connection.
func (r *Room) Submit(connectionID string, ev Event) error {
	return r.post(func(r *Room) { r.handle(connectionID, ev) })
}

// Snapshot returns a copy of the in-memory state, waiting for a LOADING
// room to finish.
func (r *Room) Snapshot(ctx context.Context) (model.RoomState, error) {
	var s model.RoomState
	err := r.call(ctx, func(r *Room) { s = r.state.Clone() })
	return s, err
}

// Close stops the room and writes any state the store has not seen yet.
func (r *Room) Close(ctx context.Context) error {
	var final *model.Document
	err := r.call(ctx, func(r *Room) {
		r.stopTimer()
		if r.dirty {
			final = model.NewDocument(r.id, r.state)
			r.dirty = false
		}
		r.stopped = true
	})
	if errors.Is(err, ErrClosed) {
		return nil
	}
	if err != nil {
		return err
	}

	select {
	case <-r.quit:
	case <-ctx.Done():
		return ctx.Err()
	}

	leftover := r.writer.close()
	if final == nil {
		final = leftover
	}
	if final == nil {
		return nil
	}

	err = r.opts.Store.Save(ctx, final)
	r.opts.Metrics.Persisted(err)
	if err != nil {
		return apperror.Persistence(r.id, err)
	}
	r.logger.Info("room flushed on shutdown")
	return nil
}

func (r *Room) join(connectionID, displayName string, sink session.Sink) {
	if _, err := r.opts.Registry.Join(r.id, connectionID, displayName, sink); err != nil {
		r.logger.Debug("join rejected",
			slog.String("connectionId", connectionID),
			slog.String("error", err.Error()),
		)
		sink.Emit(EventError, ErrorPayload{Event: EventJoinRoom, Message: err.Error()})
		return
	}

	sink.Emit(EventFilesState, NewFilesState(r.id, r.state))
	r.broadcastParticipants()
	r.logger.Info("participant joined",
		slog.String("connectionId", connectionID),
		slog.String("displayName", displayName),
	)
}

func (r *Room) leave(connectionID string) {
	p, ok := r.opts.Registry.Lookup(connectionID)
	if !ok || p.RoomID != r.id {
		return
	}
	r.opts.Registry.Leave(connectionID)
	r.broadcastParticipants()
	r.logger.Info("participant left", slog.String("connectionId", connectionID))
}

func (r *Room) broadcastParticipants() {
	members := r.opts.Registry.Members(r.id)
	payload := UserJoined{
		RoomID:       r.id,
		Users:        make([]string, len(members)),
		Participants: make([]ParticipantInfo, len(members)),
	}
	for i, m := range members {
		payload.Users[i] = m.DisplayName
		payload.Participants[i] = ParticipantInfo{ConnectionID: m.ConnectionID, DisplayName: m.DisplayName}
	}
	for _, m := range members {
		m.Sink.Emit(EventUserJoined, payload)
	}
}

func (r *Room) handle(connectionID string, ev Event) {
	sender, ok := r.opts.Registry.Member(connectionID)
	if !ok || sender.RoomID != r.id {
		r.opts.Metrics.Event(ev.EventName(), "rejected")
		r.logger.Debug("event from connection outside the room",
			slog.String("event", ev.EventName()),
			slog.String("connectionId", connectionID),
		)
		return
	}

	var err error
	switch e := ev.(type) {
	case Typing:
		err = r.typing(sender, e)
	case ChatMessage:
		err = r.chat(sender, e)
	case CompileCode:
		err = r.compile(sender, e)
	default:
		err = r.mutate(sender, ev)
	}
	if err != nil {
		r.reject(sender, ev, err)
		return
	}
	r.opts.Metrics.Event(ev.EventName(), "applied")
}

// mutate applies a state-changing event: store, then broadcast, then persist.
func (r *Room) mutate(sender session.Member, ev Event) error {
	if ev.Room() != r.id {
		return wrongRoom()
	}
	next, eff, err := Apply(r.state, r.id, ev, r.opts.NewID)
	if err != nil {
		return err
	}
	r.state = next
	r.emit(sender.ConnectionID, eff)
	r.schedule(eff.Persist)
	return nil
}

func (r *Room) typing(sender session.Member, e Typing) error {
	if e.RoomID != r.id {
		return wrongRoom()
	}
	name := strings.TrimSpace(e.UserName)
	if name == "" {
		name = sender.DisplayName
	}
	r.emit(sender.ConnectionID, Effect{
		Event:    EventUserTyping,
		Payload:  UserTyping{RoomID: r.id, UserName: session.NormalizeDisplayName(name), ConnectionID: sender.ConnectionID},
		Audience: AudienceOthers,
	})
	return nil
}

func (r *Room) chat(sender session.Member, e ChatMessage) error {
	if e.RoomID != r.id {
		return wrongRoom()
	}
	text := strings.TrimSpace(e.Text)
	if text == "" {
		return apperror.ValidationFailed("text", "message is empty")
	}
	if utf8.RuneCountInString(text) > MaxChatLength {
		return apperror.ValidationFailed("text", "message is too long")
	}
	msg := ChatMessage{
		RoomID: r.id,
		Sender: strings.TrimSpace(e.Sender),
		Text:   text,
		Time:   e.Time,
	}
	if msg.Sender == "" {
		msg.Sender = sender.DisplayName
	}
	if msg.Time == "" {
		msg.Time = time.Now().UTC().Format(time.RFC3339)
	}
	r.emit(sender.ConnectionID, Effect{Event: EventChatMessage, Payload: msg, Audience: AudienceOthers})
	return nil
}

// compile runs the request off the room goroutine. The result comes back
// through the inbox; if the requester has left by then it is dropped.
func (r *Room) compile(sender session.Member, e CompileCode) error {
	if e.RoomID != r.id {
		return wrongRoom()
	}
	req := executor.ExecutionRequest{Code: e.Code, Language: e.Language, Version: e.Version}
	if strings.TrimSpace(req.Language) == "" {
		req.Language = r.state.Language
	}

	connectionID := sender.ConnectionID
	go func() {
		resp := r.opts.Runner.Dispatch(context.Background(), req)
		_ = r.post(func(r *Room) { r.compiled(connectionID, resp) })
	}()
	return nil
}

func (r *Room) compiled(connectionID string, resp executor.Response) {
	var p Persist
	r.state, p = applyOutput(r.state, resp.Output)
	r.schedule(p)

	m, ok := r.opts.Registry.Member(connectionID)
	if !ok || m.RoomID != r.id {
		r.logger.Debug("requester left before execution finished", slog.String("connectionId", connectionID))
		return
	}
	m.Sink.Emit(EventCodeResponse, CodeResponse{RoomID: r.id, Output: resp.Output, Error: resp.Error})
}

func (r *Room) reject(sender session.Member, ev Event, err error) {
	r.opts.Metrics.Event(ev.EventName(), "rejected")
	r.logger.Debug("event rejected",
		slog.String("event", ev.EventName()),
		slog.String("connectionId", sender.ConnectionID),
		slog.String("error", err.Error()),
	)
	sender.Sink.Emit(EventError, ErrorPayload{Event: ev.EventName(), Message: err.Error()})
}

// emit delivers an effect. Members are read at emit time, so the audience
// is whoever is in the room when the change is applied.
func (r *Room) emit(senderID string, eff Effect) {
	if eff.Audience == AudienceNone {
		return
	}
	for _, m := range r.opts.Registry.Members(r.id) {
		if eff.Audience == AudienceOthers && m.ConnectionID == senderID {
			continue
		}
		m.Sink.Emit(eff.Event, eff.Payload)
	}
}

// DEBOUNCE:
// The first content change after a write arms a timer. Further changes in
// the window only mark the room dirty; when the timer fires a single write
// carries whatever the state is by then. An immediate write takes the
// pending content with it, so it cancels the timer. timerGen guards against
// a timer that fired and posted its flush just before being cancelled.

func (r *Room) schedule(p Persist) {
	switch p {
	case PersistDebounced:
		r.dirty = true
		r.armTimer()
	case PersistImmediate:
		r.dirty = true
		r.flush()
	}
}

func (r *Room) armTimer() {
	if r.timer != nil {
		return
	}
	r.timerGen++
	gen := r.timerGen
	r.timer = time.AfterFunc(r.opts.Debounce, func() {
		_ = r.post(func(r *Room) {
			if r.timerGen == gen {
				r.flush()
			}
		})
	})
}

func (r *Room) stopTimer() {
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	r.timerGen++
}

func (r *Room) flush() {
	r.stopTimer()
	if !r.dirty {
		return
	}
	r.dirty = false
	r.writer.submit(model.NewDocument(r.id, r.state))
}

// writeFailed re-marks the room dirty so the next tick retries. Memory
// stays authoritative and nobody in the room is told.
func (r *Room) writeFailed() {
	if r.stopped {
		return
	}
	r.dirty = true
	r.armTimer()
}

func wrongRoom() error {
	return apperror.ValidationFailed("roomId", "event is not for the room this connection joined")
}
