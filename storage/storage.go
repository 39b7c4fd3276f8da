package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"

	"stickyboard/domain"
)

// Storage provides access to the note table and the board event queue.
// Notes are partitioned by board: PartitionKey is the board id, RowKey the
// note id.
type Storage struct {
	noteTable  *aztables.Client
	eventQueue *azqueue.QueueClient
}

// New creates a Storage instance from the given connection string.
func New(connStr, notesTable, eventsQueue string) (*Storage, error) {
	tablesClientOptions := aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Minute * 3,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 15,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, &tablesClientOptions)
	if err != nil {
		return nil, err
	}
	nt := svc.NewClient(notesTable)

	queueClientOptions := azqueue.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    5,
				TryTimeout:    time.Minute * 5,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 60,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	eq, err := azqueue.NewQueueClientFromConnectionString(connStr, eventsQueue, &queueClientOptions)
	if err != nil {
		return nil, err
	}
	return &Storage{noteTable: nt, eventQueue: eq}, nil
}

type noteEntity struct {
	aztables.Entity
	Owner      string `json:"Owner"`
	Color      string `json:"Color"`
	ArchivedAt string `json:"ArchivedAt"`
	Items      string `json:"Items"`
}

func encodeNoteEntity(note domain.Note) ([]byte, error) {
	items, err := json.Marshal(note.ChecklistItems)
	if err != nil {
		return nil, err
	}
	archived := ""
	if note.ArchivedAt != nil {
		archived = note.ArchivedAt.UTC().Format(time.RFC3339Nano)
	}
	return json.Marshal(noteEntity{
		Entity:     aztables.Entity{PartitionKey: note.BoardID, RowKey: note.ID},
		Owner:      note.Owner,
		Color:      note.Color,
		ArchivedAt: archived,
		Items:      string(items),
	})
}

func decodeNoteEntity(data []byte) (domain.Note, error) {
	var ent noteEntity
	if err := json.Unmarshal(data, &ent); err != nil {
		return domain.Note{}, err
	}
	note := domain.Note{
		ID:      ent.RowKey,
		BoardID: ent.PartitionKey,
		Owner:   ent.Owner,
		Color:   ent.Color,
	}
	if ent.ArchivedAt != "" {
		t, err := time.Parse(time.RFC3339Nano, ent.ArchivedAt)
		if err != nil {
			return domain.Note{}, fmt.Errorf("invalid archive timestamp: %w", err)
		}
		note.ArchivedAt = &t
	}
	if ent.Items != "" {
		if err := json.Unmarshal([]byte(ent.Items), &note.ChecklistItems); err != nil {
			return domain.Note{}, fmt.Errorf("invalid checklist payload: %w", err)
		}
	}
	if note.ChecklistItems == nil {
		note.ChecklistItems = []domain.ChecklistItem{}
	}
	domain.SortItems(note.ChecklistItems)
	return note, nil
}

// FetchNotes retrieves all notes attached to the given board.
func (s *Storage) FetchNotes(ctx context.Context, boardID string) ([]domain.Note, error) {
	filter := "PartitionKey eq '" + boardID + "'"
	pager := s.noteTable.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	notes := []domain.Note{}
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, e := range resp.Entities {
			note, err := decodeNoteEntity(e)
			if err != nil {
				return nil, err
			}
			notes = append(notes, note)
		}
	}
	return notes, nil
}

// GetNote retrieves a single note, returning domain.ErrNoteNotFound for
// unknown ids.
func (s *Storage) GetNote(ctx context.Context, boardID, noteID string) (domain.Note, error) {
	resp, err := s.noteTable.GetEntity(ctx, boardID, noteID, nil)
	if err != nil {
		var respErr *azcore.ResponseError
		if errors.As(err, &respErr) && respErr.StatusCode == http.StatusNotFound {
			return domain.Note{}, domain.ErrNoteNotFound
		}
		return domain.Note{}, err
	}
	return decodeNoteEntity(resp.Value)
}

// UpsertNote replaces the stored note with the given state and returns it as
// the canonical representation.
func (s *Storage) UpsertNote(ctx context.Context, note domain.Note) (domain.Note, error) {
	data, err := encodeNoteEntity(note)
	if err != nil {
		return domain.Note{}, err
	}
	_, err = s.noteTable.UpsertEntity(ctx, data, &aztables.UpsertEntityOptions{UpdateMode: aztables.UpdateModeReplace})
	if err != nil {
		return domain.Note{}, err
	}
	return note, nil
}

// InsertNote adds a brand-new note.
func (s *Storage) InsertNote(ctx context.Context, note domain.Note) (domain.Note, error) {
	data, err := encodeNoteEntity(note)
	if err != nil {
		return domain.Note{}, err
	}
	if _, err := s.noteTable.AddEntity(ctx, data, nil); err != nil {
		return domain.Note{}, err
	}
	return note, nil
}

// EnqueueEvents sends board activity records to the event queue.
func (s *Storage) EnqueueEvents(ctx context.Context, events []domain.NoteEvent) error {
	for _, ev := range events {
		data, err := json.Marshal(ev)
		if err != nil {
			return err
		}
		if _, err := s.eventQueue.EnqueueMessage(ctx, string(data), nil); err != nil {
			return err
		}
	}
	return nil
}
