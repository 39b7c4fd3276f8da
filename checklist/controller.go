// Package checklist implements the optimistic sync controller that keeps a
// note's local checklist state convergent with the board service. Every
// mutation is applied locally first, handed to the renderer, then persisted;
// a failed persistence call rolls the note back to its pre-mutation snapshot.
package checklist

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"stickyboard/domain"
)

// SavePayload is the body of one note-save round trip. IncludeArchived is set
// only by Reorder: that operation is authoritative for the archive flag and
// must transmit it even when clearing it to null, while every other operation
// leaves the recompute to the server.
type SavePayload struct {
	ChecklistItems  []domain.ChecklistItem
	ArchivedAt      *time.Time
	IncludeArchived bool
}

// Persister abstracts the board service endpoints the controller drives.
type Persister interface {
	SaveNote(ctx context.Context, boardID, noteID string, payload SavePayload) (domain.Note, error)
	CreateNote(ctx context.Context, boardID string, note domain.Note) (domain.Note, error)
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the diagnostics logger.
func WithLogger(logger *log.Logger) Option {
	return func(c *Controller) { c.logger = logger }
}

// WithOnChange registers a callback invoked with the new note state after
// every local mutation and after every reconcile outcome. This is where a
// renderer hooks in.
func WithOnChange(fn func(domain.Note)) Option {
	return func(c *Controller) { c.onChange = fn }
}

// GuardStaleResponses enables the per-note sequence token: responses to any
// request that is no longer the latest issued one are discarded instead of
// applied. Without it the controller keeps the historical last-write-wins
// behavior, where a slow response can overwrite a newer confirmed state.
func GuardStaleResponses() Option {
	return func(c *Controller) { c.guard = true }
}

// Controller mediates between one note's local state and the board service.
// Operations never queue or cancel persistence calls; overlapping calls race
// and, unless GuardStaleResponses is set, the last response to arrive wins.
type Controller struct {
	persist  Persister
	logger   *log.Logger
	onChange func(domain.Note)
	guard    bool
	clock    func() time.Time
	entropy  func() string

	mu   sync.Mutex
	note domain.Note
	seq  uint64
	wg   sync.WaitGroup
}

// New creates a controller owning the given note for the edit session.
func New(note domain.Note, persist Persister, opts ...Option) *Controller {
	c := &Controller{
		persist: persist,
		logger:  log.StandardLogger(),
		clock:   time.Now,
		entropy: func() string { return uuid.NewString()[:8] },
		note:    note.Clone(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Note returns a copy of the current note state.
func (c *Controller) Note() domain.Note {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.note.Clone()
}

// Wait blocks until all in-flight persistence calls have settled. Intended
// for shutdown and tests; the UI never calls it.
func (c *Controller) Wait() {
	c.wg.Wait()
}

// Toggle flips the checked state of the matching item and persists the full
// item array. Unknown ids are ignored.
func (c *Controller) Toggle(itemID domain.ItemID) domain.Note {
	c.mu.Lock()
	idx := indexOf(c.note.ChecklistItems, itemID)
	if idx < 0 {
		defer c.mu.Unlock()
		return c.note.Clone()
	}
	snapshot := c.note.Clone()
	c.note.ChecklistItems[idx].Checked = !c.note.ChecklistItems[idx].Checked
	domain.SortItems(c.note.ChecklistItems)
	optimistic := c.note.Clone()
	token := c.nextTokenLocked()
	c.mu.Unlock()

	c.notify(optimistic)
	c.persistAsync(snapshot, SavePayload{ChecklistItems: optimistic.Clone().ChecklistItems}, token, "toggle")
	return optimistic
}

// Edit replaces the content of the matching item and persists the full item
// array.
func (c *Controller) Edit(itemID domain.ItemID, content string) domain.Note {
	c.mu.Lock()
	idx := indexOf(c.note.ChecklistItems, itemID)
	if idx < 0 {
		defer c.mu.Unlock()
		return c.note.Clone()
	}
	snapshot := c.note.Clone()
	c.note.ChecklistItems[idx].Content = content
	optimistic := c.note.Clone()
	token := c.nextTokenLocked()
	c.mu.Unlock()

	c.notify(optimistic)
	c.persistAsync(snapshot, SavePayload{ChecklistItems: optimistic.Clone().ChecklistItems}, token, "edit")
	return optimistic
}

// Delete removes the matching item. Remaining Order values are deliberately
// not renumbered; the next successful reorder restores density.
func (c *Controller) Delete(itemID domain.ItemID) domain.Note {
	c.mu.Lock()
	idx := indexOf(c.note.ChecklistItems, itemID)
	if idx < 0 {
		defer c.mu.Unlock()
		return c.note.Clone()
	}
	snapshot := c.note.Clone()
	c.note.ChecklistItems = append(c.note.ChecklistItems[:idx], c.note.ChecklistItems[idx+1:]...)
	optimistic := c.note.Clone()
	token := c.nextTokenLocked()
	c.mu.Unlock()

	c.notify(optimistic)
	c.persistAsync(snapshot, SavePayload{ChecklistItems: optimistic.Clone().ChecklistItems}, token, "delete")
	return optimistic
}

// Add appends a new unchecked item with a pending id and Order equal to the
// current item count. The auto-archive condition is recomputed in the
// optimistic state only; the persisted payload carries just the item array,
// so the server's own recompute remains the final authority for the flag.
func (c *Controller) Add(content string) domain.Note {
	c.mu.Lock()
	snapshot := c.note.Clone()
	item := domain.ChecklistItem{
		ID:      domain.NewPendingID(c.clock(), c.entropy()),
		Content: content,
		Order:   len(c.note.ChecklistItems),
	}
	c.note.ChecklistItems = append(c.note.ChecklistItems, item)
	c.applyArchiveLocked()
	optimistic := c.note.Clone()
	token := c.nextTokenLocked()
	c.mu.Unlock()

	c.notify(optimistic)
	c.persistAsync(snapshot, SavePayload{ChecklistItems: optimistic.Clone().ChecklistItems}, token, "add")
	return optimistic
}

// Reorder replaces the checklist with the submitted sequence, as produced by
// drag-and-drop. The sequence is rejected without any state change or network
// call when it would place an unchecked item after a checked one. On success
// Order values are reassigned densely, the archive flag is recomputed over
// the new set, and both are persisted in the same request.
func (c *Controller) Reorder(sequence []domain.ChecklistItem) (domain.Note, error) {
	if err := domain.ValidateReorder(sequence); err != nil {
		return c.Note(), err
	}

	c.mu.Lock()
	snapshot := c.note.Clone()
	items := append([]domain.ChecklistItem(nil), sequence...)
	domain.Renumber(items)
	c.note.ChecklistItems = items
	c.applyArchiveLocked()
	optimistic := c.note.Clone()
	token := c.nextTokenLocked()
	c.mu.Unlock()

	persisted := optimistic.Clone()
	payload := SavePayload{
		ChecklistItems:  persisted.ChecklistItems,
		ArchivedAt:      persisted.ArchivedAt,
		IncludeArchived: true,
	}
	c.notify(optimistic)
	c.persistAsync(snapshot, payload, token, "reorder")
	return optimistic, nil
}

// Create persists a brand-new note and returns a controller seeded with the
// server's canonical representation.
func Create(ctx context.Context, persist Persister, note domain.Note, opts ...Option) (*Controller, error) {
	created, err := persist.CreateNote(ctx, note.BoardID, note)
	if err != nil {
		return nil, err
	}
	return New(created, persist, opts...), nil
}

// Copy duplicates a note onto the same board: same color and checklist, fresh
// server-assigned identity.
func Copy(ctx context.Context, persist Persister, source domain.Note, opts ...Option) (*Controller, error) {
	dup := source.Clone()
	dup.ID = ""
	dup.ArchivedAt = nil
	return Create(ctx, persist, dup, opts...)
}

func (c *Controller) applyArchiveLocked() {
	if domain.AllChecked(c.note.ChecklistItems) {
		if c.note.ArchivedAt == nil {
			now := c.clock().UTC()
			c.note.ArchivedAt = &now
		}
		return
	}
	c.note.ArchivedAt = nil
}

func (c *Controller) nextTokenLocked() uint64 {
	c.seq++
	return c.seq
}

func (c *Controller) persistAsync(snapshot domain.Note, payload SavePayload, token uint64, op string) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()

		// No timeout and no cancellation: a hung request leaves the
		// optimistic state visible until it resolves.
		canonical, err := c.persist.SaveNote(context.Background(), snapshot.BoardID, snapshot.ID, payload)

		c.mu.Lock()
		if c.guard && token != c.seq {
			c.mu.Unlock()
			c.logger.WithFields(log.Fields{"op": op, "note": snapshot.ID}).Debug("discarding stale persistence response")
			return
		}
		if err != nil {
			c.note = snapshot.Clone()
		} else {
			c.note = canonical.Clone()
		}
		next := c.note.Clone()
		c.mu.Unlock()

		if err != nil {
			// Network failures and server rejections take the same path:
			// full rollback, no retry, nothing surfaced to the user.
			c.logger.WithError(err).WithFields(log.Fields{"op": op, "note": snapshot.ID}).Warn("persistence failed, reverting optimistic state")
		}
		c.notify(next)
	}()
}

func (c *Controller) notify(note domain.Note) {
	if c.onChange != nil {
		c.onChange(note)
	}
}

func indexOf(items []domain.ChecklistItem, id domain.ItemID) int {
	for i, it := range items {
		if it.ID.Value == id.Value {
			return i
		}
	}
	return -1
}
