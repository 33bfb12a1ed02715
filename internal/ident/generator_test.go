package ident

import "testing"

func TestSequentialGenerator(t *testing.T) {
	g := NewSequentialGenerator("pos")

	if got := g.NewID(); got != "pos-1" {
		t.Errorf("first id: got %q, want pos-1", got)
	}
	if got := g.NewID(); got != "pos-2" {
		t.Errorf("second id: got %q, want pos-2", got)
	}
}

func TestUUIDGenerator_Unique(t *testing.T) {
	g := NewUUIDGenerator()

	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := g.NewID()
		if id == "" {
			t.Fatal("empty id")
		}
		if seen[id] {
			t.Fatalf("duplicate id %q", id)
		}
		seen[id] = true
	}
}
