package clock

import (
	"testing"
	"time"
)

// TestSystemNowUTC ensures the system clock returns UTC timestamps.
func TestSystemNowUTC(t *testing.T) {
	t.Parallel()

	clk := NewSystem()
	before := time.Now().UTC().Add(-time.Second)
	got := clk.Now()
	after := time.Now().UTC().Add(time.Second)

	if got.Location() != time.UTC {
		t.Fatalf("expected UTC location, got %v", got.Location())
	}
	if got.Before(before) || got.After(after) {
		t.Fatalf("expected %v to be between %v and %v", got, before, after)
	}
}

// TestFixedNow checks the fixed clock returns the pinned instant.
func TestFixedNow(t *testing.T) {
	t.Parallel()

	at := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	clk := Fixed{T: at}
	if got := clk.Now(); !got.Equal(at) {
		t.Fatalf("expected %v, got %v", at, got)
	}
}
