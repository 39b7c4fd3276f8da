package domain

// Note activity kinds published to the board event queue.
const (
	EventNoteCreated  = "note-created"
	EventNoteSaved    = "note-saved"
	EventNoteArchived = "note-archived"
)

// NoteEvent records a board mutation for downstream consumers.
type NoteEvent struct {
	BoardID string `json:"boardId"`
	NoteID  string `json:"noteId"`
	Actor   string `json:"actor"`
	Kind    string `json:"kind"`
	Time    int64  `json:"time"`
}
