package memory

import "testing"

func TestItemID(t *testing.T) {
	a := ItemID("hello world")
	b := ItemID("hello world")
	if a != b {
		t.Errorf("same content produced different ids: %q vs %q", a, b)
	}
	if a != "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9" {
		t.Errorf("ItemID(%q) = %q", "hello world", a)
	}
	if c := ItemID("hello there"); c == a {
		t.Error("different content produced the same id")
	}
}

func TestNewItem(t *testing.T) {
	item := NewItem("availability next week", map[string]string{
		"session_id": "s1",
		"label":      "Them",
	})

	if item.ID != ItemID("availability next week") {
		t.Errorf("item id = %q, want %q", item.ID, ItemID("availability next week"))
	}
	if item.Content != "availability next week" {
		t.Errorf("item content = %q, want %q", item.Content, "availability next week")
	}
	if item.Metadata["label"] != "Them" {
		t.Errorf("metadata label = %q, want %q", item.Metadata["label"], "Them")
	}
}
