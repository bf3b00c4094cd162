package core

import (
	"testing"
	"time"
)

func TestRingTruncatesToNewestOnOverflow(t *testing.T) {
	r := NewRing[int](1000, 500)
	for i := 1; i <= 1000; i++ {
		r.Append(i)
	}
	if r.Len() != 1000 {
		t.Fatalf("expected 1000 items before overflow, got %d", r.Len())
	}

	r.Append(1001)
	if r.Len() != 500 {
		t.Fatalf("expected 500 items after overflow, got %d", r.Len())
	}
	items := r.Tail(0)
	if items[0] != 502 || items[len(items)-1] != 1001 {
		t.Fatalf("unexpected bounds after truncation: first=%d last=%d", items[0], items[len(items)-1])
	}
	for i := 1; i < len(items); i++ {
		if items[i] != items[i-1]+1 {
			t.Fatalf("order broken at %d: %d after %d", i, items[i], items[i-1])
		}
	}
}

func TestRingTail(t *testing.T) {
	r := NewRing[string](10, 5)
	r.Append("a")
	r.Append("b")
	r.Append("c")

	tests := []struct {
		name string
		n    int
		want []string
	}{
		{"all", 0, []string{"a", "b", "c"}},
		{"newest two", 2, []string{"b", "c"}},
		{"more than stored", 20, []string{"a", "b", "c"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := r.Tail(tt.n)
			if len(got) != len(tt.want) {
				t.Fatalf("Tail(%d) = %v, want %v", tt.n, got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Fatalf("Tail(%d) = %v, want %v", tt.n, got, tt.want)
				}
			}
		})
	}

	got := r.Tail(1)
	got[0] = "mutated"
	if r.Tail(1)[0] != "c" {
		t.Fatal("Tail must return a copy")
	}
}

func TestRingResetKeepsNewest(t *testing.T) {
	r := NewRing[int](3, 2)
	r.Reset([]int{1, 2, 3, 4, 5})
	got := r.Tail(0)
	if len(got) != 3 || got[0] != 3 || got[2] != 5 {
		t.Fatalf("unexpected contents after reset: %v", got)
	}
}

func TestMessageFormat(t *testing.T) {
	at := time.Date(2024, 1, 2, 9, 5, 7, 0, time.UTC)

	chat := NewMessage("alice", "hi", at)
	if got := chat.Format(); got != "[09:05:07] alice: hi" {
		t.Fatalf("chat format = %q", got)
	}

	sys := NewMessage("", "bob присоединился к комнате", at)
	if !sys.IsSystem() {
		t.Fatal("message without sender must be a system message")
	}
	if got := sys.Format(); got != "[09:05:07] bob присоединился к комнате" {
		t.Fatalf("system format = %q", got)
	}
}
