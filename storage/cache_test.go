package storage

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"stickyboard/domain"
)

type stubBackend struct {
	fetchNotesFn  func(ctx context.Context, boardID string) ([]domain.Note, error)
	getNoteFn     func(ctx context.Context, boardID, noteID string) (domain.Note, error)
	upsertNoteFn  func(ctx context.Context, note domain.Note) (domain.Note, error)
	insertNoteFn  func(ctx context.Context, note domain.Note) (domain.Note, error)
	enqueueEvents func(ctx context.Context, events []domain.NoteEvent) error
}

func (s *stubBackend) FetchNotes(ctx context.Context, boardID string) ([]domain.Note, error) {
	if s.fetchNotesFn == nil {
		return nil, errors.New("unexpected FetchNotes call")
	}
	return s.fetchNotesFn(ctx, boardID)
}

func (s *stubBackend) GetNote(ctx context.Context, boardID, noteID string) (domain.Note, error) {
	if s.getNoteFn == nil {
		return domain.Note{}, errors.New("unexpected GetNote call")
	}
	return s.getNoteFn(ctx, boardID, noteID)
}

func (s *stubBackend) UpsertNote(ctx context.Context, note domain.Note) (domain.Note, error) {
	if s.upsertNoteFn == nil {
		return domain.Note{}, errors.New("unexpected UpsertNote call")
	}
	return s.upsertNoteFn(ctx, note)
}

func (s *stubBackend) InsertNote(ctx context.Context, note domain.Note) (domain.Note, error) {
	if s.insertNoteFn == nil {
		return domain.Note{}, errors.New("unexpected InsertNote call")
	}
	return s.insertNoteFn(ctx, note)
}

func (s *stubBackend) EnqueueEvents(ctx context.Context, events []domain.NoteEvent) error {
	if s.enqueueEvents == nil {
		return errors.New("unexpected EnqueueEvents call")
	}
	return s.enqueueEvents(ctx, events)
}

func newCacheFixture(t *testing.T, base backend) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		if cerr := client.Close(); cerr != nil {
			t.Logf("redis close: %v", cerr)
		}
	})
	return NewCache(base, client, time.Minute), mr
}

func boardNotes() []domain.Note {
	return []domain.Note{{
		ID:      "n1",
		BoardID: "b1",
		Owner:   "user",
		ChecklistItems: []domain.ChecklistItem{
			{ID: domain.ItemID{Value: "a"}, Content: "x", Order: 0},
		},
	}}
}

func TestCacheFetchNotesMissThenHit(t *testing.T) {
	calls := 0
	base := &stubBackend{fetchNotesFn: func(ctx context.Context, boardID string) ([]domain.Note, error) {
		calls++
		return boardNotes(), nil
	}}
	cache, _ := newCacheFixture(t, base)
	ctx := context.Background()

	first, err := cache.FetchNotes(ctx, "b1")
	if err != nil {
		t.Fatalf("first fetch: %v", err)
	}
	second, err := cache.FetchNotes(ctx, "b1")
	if err != nil {
		t.Fatalf("second fetch: %v", err)
	}

	if calls != 1 {
		t.Fatalf("expected one backend call, got %d", calls)
	}
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("cache hit differs from backend result: %+v vs %+v", first, second)
	}
}

func TestCacheUpsertEvictsBoard(t *testing.T) {
	calls := 0
	base := &stubBackend{
		fetchNotesFn: func(ctx context.Context, boardID string) ([]domain.Note, error) {
			calls++
			return boardNotes(), nil
		},
		upsertNoteFn: func(ctx context.Context, note domain.Note) (domain.Note, error) {
			return note, nil
		},
	}
	cache, _ := newCacheFixture(t, base)
	ctx := context.Background()

	if _, err := cache.FetchNotes(ctx, "b1"); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if _, err := cache.UpsertNote(ctx, boardNotes()[0]); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if _, err := cache.FetchNotes(ctx, "b1"); err != nil {
		t.Fatalf("fetch after write: %v", err)
	}

	if calls != 2 {
		t.Fatalf("expected eviction to force a second backend call, got %d", calls)
	}
}

func TestCacheCorruptEntryFallsBack(t *testing.T) {
	base := &stubBackend{fetchNotesFn: func(ctx context.Context, boardID string) ([]domain.Note, error) {
		return boardNotes(), nil
	}}
	cache, mr := newCacheFixture(t, base)
	ctx := context.Background()

	if err := mr.Set(boardCacheKey("b1"), "{not json"); err != nil {
		t.Fatalf("seed corrupt entry: %v", err)
	}

	notes, err := cache.FetchNotes(ctx, "b1")
	if err != nil {
		t.Fatalf("fetch with corrupt cache: %v", err)
	}
	if len(notes) != 1 {
		t.Fatalf("expected backend result, got %+v", notes)
	}
}

func TestCacheBackendErrorPropagates(t *testing.T) {
	backendErr := errors.New("table offline")
	base := &stubBackend{fetchNotesFn: func(ctx context.Context, boardID string) ([]domain.Note, error) {
		return nil, backendErr
	}}
	cache, _ := newCacheFixture(t, base)

	if _, err := cache.FetchNotes(context.Background(), "b1"); !errors.Is(err, backendErr) {
		t.Fatalf("expected backend error, got %v", err)
	}
}

func TestCacheGetNoteBypassesCache(t *testing.T) {
	calls := 0
	base := &stubBackend{getNoteFn: func(ctx context.Context, boardID, noteID string) (domain.Note, error) {
		calls++
		return boardNotes()[0], nil
	}}
	cache, _ := newCacheFixture(t, base)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := cache.GetNote(ctx, "b1", "n1"); err != nil {
			t.Fatalf("get: %v", err)
		}
	}
	if calls != 2 {
		t.Fatalf("GetNote must always read through, got %d backend calls", calls)
	}
}
