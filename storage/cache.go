package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"stickyboard/domain"
)

type backend interface {
	FetchNotes(ctx context.Context, boardID string) ([]domain.Note, error)
	GetNote(ctx context.Context, boardID, noteID string) (domain.Note, error)
	UpsertNote(ctx context.Context, note domain.Note) (domain.Note, error)
	InsertNote(ctx context.Context, note domain.Note) (domain.Note, error)
	EnqueueEvents(ctx context.Context, events []domain.NoteEvent) error
}

// Cache wraps a Storage instance with Redis-backed caching for board reads.
// Any note write evicts the board's cache entry; Redis errors degrade
// silently to the backing storage.
type Cache struct {
	base  backend
	redis *redis.Client
	ttl   time.Duration
}

// NewCache creates a caching wrapper using the provided Redis client and TTL.
func NewCache(base backend, client *redis.Client, ttl time.Duration) *Cache {
	if base == nil {
		panic("storage.NewCache: base storage is nil")
	}
	if ttl < 0 {
		ttl = 0
	}
	return &Cache{base: base, redis: client, ttl: ttl}
}

func (c *Cache) FetchNotes(ctx context.Context, boardID string) ([]domain.Note, error) {
	if notes, ok := c.loadFromCache(ctx, boardID); ok {
		return notes, nil
	}

	notes, err := c.base.FetchNotes(ctx, boardID)
	if err != nil {
		return nil, err
	}

	c.store(ctx, boardID, notes)
	return notes, nil
}

// GetNote always hits the backing storage: saves read the note immediately
// before writing and must not act on a stale checklist.
func (c *Cache) GetNote(ctx context.Context, boardID, noteID string) (domain.Note, error) {
	return c.base.GetNote(ctx, boardID, noteID)
}

func (c *Cache) UpsertNote(ctx context.Context, note domain.Note) (domain.Note, error) {
	saved, err := c.base.UpsertNote(ctx, note)
	if err != nil {
		return domain.Note{}, err
	}
	c.evict(ctx, note.BoardID)
	return saved, nil
}

func (c *Cache) InsertNote(ctx context.Context, note domain.Note) (domain.Note, error) {
	created, err := c.base.InsertNote(ctx, note)
	if err != nil {
		return domain.Note{}, err
	}
	c.evict(ctx, note.BoardID)
	return created, nil
}

func (c *Cache) EnqueueEvents(ctx context.Context, events []domain.NoteEvent) error {
	return c.base.EnqueueEvents(ctx, events)
}

func (c *Cache) loadFromCache(ctx context.Context, boardID string) ([]domain.Note, bool) {
	if c.redis == nil {
		return nil, false
	}
	data, err := c.redis.Get(ctx, boardCacheKey(boardID)).Bytes()
	if err != nil {
		if err != redis.Nil {
			// On redis errors fall back to the backing storage without failing.
			_ = c.redis.Del(ctx, boardCacheKey(boardID)).Err()
		}
		return nil, false
	}
	var notes []domain.Note
	if err := json.Unmarshal(data, &notes); err != nil {
		_ = c.redis.Del(ctx, boardCacheKey(boardID)).Err()
		return nil, false
	}
	return notes, true
}

func (c *Cache) store(ctx context.Context, boardID string, notes []domain.Note) {
	if c.redis == nil || c.ttl == 0 {
		return
	}
	data, err := json.Marshal(notes)
	if err != nil {
		return
	}
	_ = c.redis.Set(ctx, boardCacheKey(boardID), data, c.ttl).Err()
}

func (c *Cache) evict(ctx context.Context, boardID string) {
	if c.redis == nil {
		return
	}
	_, _ = c.redis.Del(ctx, boardCacheKey(boardID)).Result()
}

func boardCacheKey(boardID string) string {
	return "board:" + boardID
}
