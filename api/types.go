package api

import (
	"context"

	"stickyboard/domain"
)

// Storage abstracts persistence for handlers.
type Storage interface {
	FetchNotes(ctx context.Context, boardID string) ([]domain.Note, error)
	GetNote(ctx context.Context, boardID, noteID string) (domain.Note, error)
	UpsertNote(ctx context.Context, note domain.Note) (domain.Note, error)
	InsertNote(ctx context.Context, note domain.Note) (domain.Note, error)
	EnqueueEvents(ctx context.Context, events []domain.NoteEvent) error
}

// Authenticator is implemented by types able to extract user IDs from headers.
type Authenticator interface {
	UserIDFromAuthHeader(string) (string, error)
}

// Deduper prevents reprocessing of replayed note saves.
type Deduper interface {
	// Add records the idempotency key and returns true if it was newly added.
	Add(ctx context.Context, userID, key string) (bool, error)
	// Remove deletes a previously added key, used when downstream processing fails.
	Remove(ctx context.Context, userID, key string) error
}
