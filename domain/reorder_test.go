package domain

import (
	"errors"
	"testing"
)

func TestValidateReorder(t *testing.T) {
	cases := []struct {
		name    string
		checked []bool
		wantErr bool
	}{
		{"empty", nil, false},
		{"all unchecked", []bool{false, false, false}, false},
		{"all checked", []bool{true, true}, false},
		{"unchecked prefix", []bool{false, false, true, true}, false},
		{"unchecked after checked", []bool{false, true, false}, true},
		{"checked first", []bool{true, false}, true},
		{"gap in checked tail", []bool{false, true, false, true}, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			items := make([]ChecklistItem, len(tc.checked))
			for i, c := range tc.checked {
				items[i] = ChecklistItem{ID: ItemID{Value: string(rune('a' + i))}, Checked: c, Order: i}
			}
			err := ValidateReorder(items)
			if tc.wantErr {
				if !errors.Is(err, ErrUncheckedAfterChecked) {
					t.Fatalf("expected rejection, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected rejection: %v", err)
			}
		})
	}
}
