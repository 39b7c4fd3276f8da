package domain

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// ItemID identifies a checklist item. Items created client-side carry a
// pending identifier until the server responds with its canonical note; the
// wire format is the bare string either way, so Pending never leaves the
// process that set it.
type ItemID struct {
	Value   string
	Pending bool
}

// NewPendingID builds a client-local identifier from the creation time and a
// short entropy suffix.
func NewPendingID(now time.Time, entropy string) ItemID {
	return ItemID{Value: fmt.Sprintf("%d-%s", now.UnixMilli(), entropy), Pending: true}
}

func (id ItemID) String() string { return id.Value }

func (id ItemID) MarshalJSON() ([]byte, error) {
	return json.Marshal(id.Value)
}

func (id *ItemID) UnmarshalJSON(data []byte) error {
	id.Pending = false
	return json.Unmarshal(data, &id.Value)
}

// ChecklistItem is a single to-do line within a note.
type ChecklistItem struct {
	ID      ItemID `json:"id"`
	Content string `json:"content"`
	Checked bool   `json:"checked"`
	Order   int    `json:"order"`
}

// Note is a sticky note attached to a board. ArchivedAt is derived: it is
// non-nil exactly when the note has at least one checklist item and every
// item is checked.
type Note struct {
	ID             string          `json:"id"`
	BoardID        string          `json:"boardId"`
	Owner          string          `json:"owner"`
	Color          string          `json:"color,omitempty"`
	ArchivedAt     *time.Time      `json:"archivedAt,omitempty"`
	ChecklistItems []ChecklistItem `json:"checklistItems"`
}

// Clone returns a deep copy safe to mutate independently.
func (n Note) Clone() Note {
	out := n
	if n.ArchivedAt != nil {
		t := *n.ArchivedAt
		out.ArchivedAt = &t
	}
	if n.ChecklistItems != nil {
		out.ChecklistItems = append([]ChecklistItem(nil), n.ChecklistItems...)
	}
	return out
}

// SortItems orders items by Order ascending, preserving relative position of
// equal orders.
func SortItems(items []ChecklistItem) {
	sort.SliceStable(items, func(i, j int) bool { return items[i].Order < items[j].Order })
}

// AllChecked reports the auto-archive condition: a non-empty item set with
// every item checked.
func AllChecked(items []ChecklistItem) bool {
	if len(items) == 0 {
		return false
	}
	for _, it := range items {
		if !it.Checked {
			return false
		}
	}
	return true
}

// Renumber assigns each item its position index as Order, producing the dense
// zero-based permutation the persistence layer expects.
func Renumber(items []ChecklistItem) {
	for i := range items {
		items[i].Order = i
	}
}
