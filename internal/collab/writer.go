package collab

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/peerbajaj/collab/internal/apperror"
	"github.com/peerbajaj/collab/internal/metrics"
	"github.com/peerbajaj/collab/internal/model"
	"github.com/peerbajaj/collab/internal/repository"
)

// writer serialises one room's Document Store writes.
//
// LATEST-SNAPSHOT SLOT:
// submit never blocks the room goroutine. It overwrites a single pending
// slot and nudges the writer goroutine. If three snapshots arrive while a
// slow write is in flight, only the newest is written next; the two in
// between were already superseded. Writes for one room therefore never
// overlap and never land out of order.
type writer struct {
	roomID  string
	store   repository.DocumentStore
	timeout time.Duration
	logger  *slog.Logger
	metrics *metrics.Metrics
	onError func(error)

	mu      sync.Mutex
	pending *model.Document

	wake chan struct{}
	stop chan struct{}
	done chan struct{}
}

func newWriter(roomID string, store repository.DocumentStore, timeout time.Duration, logger *slog.Logger, m *metrics.Metrics, onError func(error)) *writer {
	return &writer{
		roomID:  roomID,
		store:   store,
		timeout: timeout,
		logger:  logger,
		metrics: m,
		onError: onError,
		wake:    make(chan struct{}, 1),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// submit replaces the pending snapshot with doc.
func (w *writer) submit(doc *model.Document) {
	w.mu.Lock()
	w.pending = doc
	w.mu.Unlock()

	select {
	case w.wake <- struct{}{}:
	default:
	}
}

func (w *writer) take() *model.Document {
	w.mu.Lock()
	defer w.mu.Unlock()
	doc := w.pending
	w.pending = nil
	return doc
}

func (w *writer) run() {
	defer close(w.done)
	for {
		select {
		case <-w.wake:
			w.write()
		case <-w.stop:
			return
		}
	}
}

func (w *writer) write() {
	doc := w.take()
	if doc == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
	err := w.store.Save(ctx, doc)
	cancel()
	w.metrics.Persisted(err)

	if err != nil {
		err = apperror.Persistence(w.roomID, err)
		w.logger.Warn("room write failed, will retry", slog.String("error", err.Error()))

		// Keep the snapshot for a shutdown flush unless a newer one is queued.
		w.mu.Lock()
		if w.pending == nil {
			w.pending = doc
		}
		w.mu.Unlock()

		w.onError(err)
		return
	}
	w.logger.Debug("room persisted", slog.Int("files", len(doc.Files)))
}

// close waits for an in-flight write to finish, stops the writer and
// returns the snapshot that was never written, if any.
func (w *writer) close() *model.Document {
	close(w.stop)
	<-w.done
	return w.take()
}
