// Package repository declares the persistence contracts of the server.
//
// The Room Coordinator only ever sees DocumentStore; which backend sits
// behind it (SQLite, Redis, an in-memory fake in tests) is decided once in
// internal/server.
package repository

import (
	"context"

	"github.com/peerbajaj/collab/internal/model"
)

// DocumentStore is the single persistence authority for room documents.
//
// Load returns an error wrapping apperror.ErrNotFound when the room has never
// been saved. Save must be idempotent: saving the same document twice leaves
// the store in the same state as saving it once.
type DocumentStore interface {
	Load(ctx context.Context, roomID string) (*model.Document, error)
	Save(ctx context.Context, doc *model.Document) error
}
