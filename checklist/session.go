package checklist

import (
	"strings"
	"sync"

	"stickyboard/domain"
)

// Key identifies the keystrokes the edit session reacts to. Everything else
// is plain text input handled by the view.
type Key int

const (
	KeyEnter Key = iota
	KeyEscape
	KeyBackspace
)

type editState int

const (
	stateIdle editState = iota
	stateEditing
)

type itemDraft struct {
	state editState
	text  string
}

// Session tracks the UI-local edit state for one note: per-item draft buffers
// and the new-item inputs. None of it is persisted; committed state lives in
// the controller.
//
// Per item the machine is Idle -> Editing -> Idle. Editing is entered on
// focus and left on blur, Escape, or Enter without shift. While editing, the
// draft buffer is distinct from the item's committed content.
type Session struct {
	ctrl *Controller

	mu         sync.Mutex
	drafts     map[string]*itemDraft
	newDraft   string
	extraDraft string
}

// NewSession creates an edit session bound to the given controller.
func NewSession(ctrl *Controller) *Session {
	return &Session{ctrl: ctrl, drafts: make(map[string]*itemDraft)}
}

// BeginEdit enters the editing state for an item, seeding the draft buffer
// with the committed content. Returns false for unknown items.
func (s *Session) BeginEdit(itemID domain.ItemID) bool {
	note := s.ctrl.Note()
	idx := indexOf(note.ChecklistItems, itemID)
	if idx < 0 {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.drafts[itemID.Value] = &itemDraft{state: stateEditing, text: note.ChecklistItems[idx].Content}
	return true
}

// Editing reports whether the item is currently in the editing state.
func (s *Session) Editing(itemID domain.ItemID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.drafts[itemID.Value]
	return ok && d.state == stateEditing
}

// Draft returns the current draft text for an item being edited.
func (s *Session) Draft(itemID domain.ItemID) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.drafts[itemID.Value]
	if !ok || d.state != stateEditing {
		return "", false
	}
	return d.text, true
}

// SetDraft replaces the draft text for an item being edited.
func (s *Session) SetDraft(itemID domain.ItemID, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d, ok := s.drafts[itemID.Value]; ok && d.state == stateEditing {
		d.text = text
	}
}

// Key feeds a keystroke into an item's edit session. It returns true when the
// session consumed the key (ending the session or deleting the item); false
// means the view should apply its default text handling.
func (s *Session) Key(itemID domain.ItemID, key Key, shift bool) bool {
	switch key {
	case KeyEnter:
		if shift {
			return false
		}
		s.commit(itemID)
		return true
	case KeyEscape:
		s.discard(itemID)
		return true
	case KeyBackspace:
		s.mu.Lock()
		d, ok := s.drafts[itemID.Value]
		if !ok || d.state != stateEditing || strings.TrimSpace(d.text) != "" {
			s.mu.Unlock()
			return false
		}
		// Backspace on a blank draft deletes the item instead of ever
		// committing empty content.
		delete(s.drafts, itemID.Value)
		s.mu.Unlock()
		s.ctrl.Delete(itemID)
		return true
	}
	return false
}

// Blur leaves the editing state, committing the draft.
func (s *Session) Blur(itemID domain.ItemID) {
	s.commit(itemID)
}

func (s *Session) commit(itemID domain.ItemID) {
	s.mu.Lock()
	d, ok := s.drafts[itemID.Value]
	if !ok || d.state != stateEditing {
		s.mu.Unlock()
		return
	}
	text := d.text
	delete(s.drafts, itemID.Value)
	s.mu.Unlock()
	s.ctrl.Edit(itemID, text)
}

func (s *Session) discard(itemID domain.ItemID) {
	s.mu.Lock()
	delete(s.drafts, itemID.Value)
	s.mu.Unlock()
}

// SetNewDraft updates the permanent new-item input's draft buffer.
func (s *Session) SetNewDraft(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.newDraft = text
}

// NewDraft returns the primary new-item draft.
func (s *Session) NewDraft() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.newDraft
}

// ExtraInputVisible reports whether the transient second input is shown. It
// exists only while the primary new-item draft is non-empty, enabling rapid
// multi-item entry.
func (s *Session) ExtraInputVisible() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.newDraft != ""
}

// SetExtraDraft updates the transient input's draft buffer.
func (s *Session) SetExtraDraft(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.extraDraft = text
}

// CommitNew fires on Enter or blur of the primary new-item input. Non-empty
// trimmed content is added as a new item; the draft is cleared either way.
func (s *Session) CommitNew() {
	s.mu.Lock()
	content := strings.TrimSpace(s.newDraft)
	s.newDraft = ""
	s.mu.Unlock()
	if content != "" {
		s.ctrl.Add(content)
	}
}

// CommitExtra commits the transient input's content independently of the
// primary draft.
func (s *Session) CommitExtra() {
	s.mu.Lock()
	content := strings.TrimSpace(s.extraDraft)
	s.extraDraft = ""
	s.mu.Unlock()
	if content != "" {
		s.ctrl.Add(content)
	}
}
