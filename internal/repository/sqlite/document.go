package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/peerbajaj/collab/internal/apperror"
	"github.com/peerbajaj/collab/internal/model"
	"github.com/peerbajaj/collab/internal/repository"
)

// compile-time check that *DB implements repository.DocumentStore
var _ repository.DocumentStore = (*DB)(nil)

// Load reads a room document and its files in tab order.
//
// sql.ErrNoRows on the rooms row is translated to apperror.NotFound so the
// coordinator can tell "brand new room" apart from "database is down".
func (db *DB) Load(ctx context.Context, roomID string) (*model.Document, error) {
	doc := &model.Document{RoomID: roomID}

	err := db.conn.QueryRowContext(ctx,
		`SELECT active_file_id, language, last_output, updated_at
		 FROM rooms
		 WHERE room_id = ?`,
		roomID,
	).Scan(&doc.ActiveFileID, &doc.Language, &doc.LastOutput, &doc.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("room", roomID)
		}
		return nil, fmt.Errorf("sqlite: loading room %s: %w", roomID, err)
	}

	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, name, language, content
		 FROM room_files
		 WHERE room_id = ?
		 ORDER BY position ASC`,
		roomID,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: loading files of room %s: %w", roomID, err)
	}
	defer rows.Close()

	doc.Files = make([]model.File, 0)
	for rows.Next() {
		var f model.File
		if err := rows.Scan(&f.ID, &f.Name, &f.Language, &f.Content); err != nil {
			return nil, fmt.Errorf("sqlite: scanning file row: %w", err)
		}
		doc.Files = append(doc.Files, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating files of room %s: %w", roomID, err)
	}

	return doc, nil
}

// Save replaces the stored document for doc.RoomID.
//
// REPLACE, DON'T DIFF:
// The whole file list is rewritten inside one transaction. A room holds a few
// small files, so rewriting is cheap, and it makes Save trivially idempotent:
// saving the same document twice produces the same rows as saving it once.
// Either every row lands or none does. A crash mid-save cannot leave a room
// with half its tabs.
func (db *DB) Save(ctx context.Context, doc *model.Document) error {
	if doc.RoomID == "" {
		return apperror.ValidationFailed("roomId", "room ID is required")
	}
	doc.UpdatedAt = time.Now().UTC()

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: beginning save of room %s: %w", doc.RoomID, err)
	}
	// Rollback after a successful Commit is a no-op, so deferring it is safe.
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO rooms (room_id, active_file_id, language, last_output, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(room_id) DO UPDATE SET
		   active_file_id = excluded.active_file_id,
		   language       = excluded.language,
		   last_output    = excluded.last_output,
		   updated_at     = excluded.updated_at`,
		doc.RoomID, doc.ActiveFileID, doc.Language, doc.LastOutput, doc.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("sqlite: upserting room %s: %w", doc.RoomID, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM room_files WHERE room_id = ?`, doc.RoomID); err != nil {
		return fmt.Errorf("sqlite: clearing files of room %s: %w", doc.RoomID, err)
	}

	for i, f := range doc.Files {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO room_files (room_id, position, id, name, language, content)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			doc.RoomID, i, f.ID, f.Name, f.Language, f.Content,
		)
		if err != nil {
			return fmt.Errorf("sqlite: inserting file %s of room %s: %w", f.ID, doc.RoomID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: committing room %s: %w", doc.RoomID, err)
	}
	return nil
}
