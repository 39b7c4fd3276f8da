package domain

import "errors"

// ErrUncheckedAfterChecked is returned when a drag reorder would place an
// unchecked item after a checked one.
var ErrUncheckedAfterChecked = errors.New("unchecked item cannot follow a checked item")

// ErrNoteNotFound is returned by storage lookups for unknown notes.
var ErrNoteNotFound = errors.New("note not found")

// ValidateReorder checks a proposed item sequence against the reorder
// constraint: once a checked item appears, no unchecked item may follow it.
// The sequence is taken in submitted position order; Order fields are ignored.
func ValidateReorder(items []ChecklistItem) error {
	firstChecked := -1
	lastUnchecked := -1
	for i, it := range items {
		if it.Checked {
			if firstChecked == -1 {
				firstChecked = i
			}
		} else {
			lastUnchecked = i
		}
	}
	if firstChecked != -1 && lastUnchecked > firstChecked {
		return ErrUncheckedAfterChecked
	}
	return nil
}
