// Package redis implements repository.DocumentStore on top of Redis.
//
// Each room is a single JSON value under "collab:room:<roomId>". A SET of the
// whole document is atomic on the server, so readers never see a half-written
// room, and repeated SETs of identical JSON are naturally idempotent.
//
// This backend suits deployments that already run Redis for other services
// and want room documents to outlive the server's local disk.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"github.com/peerbajaj/collab/internal/apperror"
	"github.com/peerbajaj/collab/internal/model"
	"github.com/peerbajaj/collab/internal/repository"
)

const keyPrefix = "collab:room:"

var _ repository.DocumentStore = (*Store)(nil)

// Options configures the Redis connection.
type Options struct {
	Addr     string
	Password string
	DB       int
}

// Store is a Redis-backed DocumentStore.
type Store struct {
	client *goredis.Client
}

// New connects to Redis and verifies the connection with PING.
// An unreachable Redis at boot is a startup failure, so the error is returned
// rather than deferred to the first save.
func New(ctx context.Context, opts Options) (*Store, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis: connecting to %s: %w", opts.Addr, err)
	}

	return &Store{client: client}, nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.client.Close()
}

// Ping verifies Redis is still reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func roomKey(roomID string) string {
	return keyPrefix + roomID
}

// Load fetches and decodes the room document.
func (s *Store) Load(ctx context.Context, roomID string) (*model.Document, error) {
	raw, err := s.client.Get(ctx, roomKey(roomID)).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, apperror.NotFound("room", roomID)
		}
		return nil, fmt.Errorf("redis: loading room %s: %w", roomID, err)
	}

	var doc model.Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("redis: decoding room %s: %w", roomID, err)
	}
	if doc.Files == nil {
		doc.Files = make([]model.File, 0)
	}
	return &doc, nil
}

// Save encodes and stores the whole document with no expiry.
func (s *Store) Save(ctx context.Context, doc *model.Document) error {
	if doc.RoomID == "" {
		return apperror.ValidationFailed("roomId", "room ID is required")
	}
	doc.UpdatedAt = time.Now().UTC()

	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("redis: encoding room %s: %w", doc.RoomID, err)
	}
	if err := s.client.Set(ctx, roomKey(doc.RoomID), raw, 0).Err(); err != nil {
		return fmt.Errorf("redis: saving room %s: %w", doc.RoomID, err)
	}
	return nil
}
