package domain

import (
	"strings"
	"testing"
	"time"

	"github.com/bytedance/sonic"
)

func TestChecklistItemMarshalIncludesZeroOrder(t *testing.T) {
	item := ChecklistItem{ID: ItemID{Value: "i1"}, Content: "milk", Order: 0}

	payload, err := sonic.Marshal(item)
	if err != nil {
		t.Fatalf("marshal item: %v", err)
	}
	if !strings.Contains(string(payload), "\"order\":0") {
		t.Fatalf("expected order field to be present, got %s", payload)
	}
	if !strings.Contains(string(payload), "\"id\":\"i1\"") {
		t.Fatalf("expected id as bare string, got %s", payload)
	}
}

func TestItemIDUnmarshalClearsPending(t *testing.T) {
	var item ChecklistItem
	if err := sonic.Unmarshal([]byte(`{"id":"srv-1","content":"x","checked":true,"order":2}`), &item); err != nil {
		t.Fatalf("unmarshal item: %v", err)
	}
	if item.ID.Value != "srv-1" {
		t.Fatalf("unexpected id %q", item.ID.Value)
	}
	if item.ID.Pending {
		t.Fatal("wire ids must never be pending")
	}
}

func TestNewPendingID(t *testing.T) {
	now := time.UnixMilli(1700000000000)
	id := NewPendingID(now, "abcd1234")
	if !id.Pending {
		t.Fatal("expected pending id")
	}
	if id.Value != "1700000000000-abcd1234" {
		t.Fatalf("unexpected id value %q", id.Value)
	}
}

func TestAllChecked(t *testing.T) {
	if AllChecked(nil) {
		t.Fatal("empty set must not satisfy the archive condition")
	}
	items := []ChecklistItem{{Checked: true}, {Checked: false}}
	if AllChecked(items) {
		t.Fatal("mixed set must not satisfy the archive condition")
	}
	items[1].Checked = true
	if !AllChecked(items) {
		t.Fatal("fully checked set must satisfy the archive condition")
	}
}

func TestRenumberProducesDenseOrders(t *testing.T) {
	items := []ChecklistItem{{Order: 7}, {Order: 0}, {Order: 3}}
	Renumber(items)
	for i, it := range items {
		if it.Order != i {
			t.Fatalf("item %d has order %d", i, it.Order)
		}
	}
}

func TestSortItemsStable(t *testing.T) {
	items := []ChecklistItem{
		{ID: ItemID{Value: "b"}, Order: 1},
		{ID: ItemID{Value: "a"}, Order: 0},
		{ID: ItemID{Value: "c"}, Order: 1},
	}
	SortItems(items)
	got := items[0].ID.Value + items[1].ID.Value + items[2].ID.Value
	if got != "abc" {
		t.Fatalf("unexpected order %q", got)
	}
}

func TestNoteCloneIsIndependent(t *testing.T) {
	archived := time.Now().UTC()
	orig := Note{
		ID:         "n1",
		BoardID:    "b1",
		ArchivedAt: &archived,
		ChecklistItems: []ChecklistItem{
			{ID: ItemID{Value: "a"}, Content: "x", Checked: true, Order: 0},
		},
	}
	cp := orig.Clone()
	cp.ChecklistItems[0].Checked = false
	*cp.ArchivedAt = cp.ArchivedAt.Add(time.Hour)

	if !orig.ChecklistItems[0].Checked {
		t.Fatal("clone mutation leaked into original items")
	}
	if !orig.ArchivedAt.Equal(archived) {
		t.Fatal("clone mutation leaked into original timestamp")
	}
}
