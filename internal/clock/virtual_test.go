package clock

import (
	"testing"
	"time"
)

func TestVirtual_Advance(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewVirtual(start)

	if !c.Now().Equal(start) {
		t.Fatalf("expected %v, got %v", start, c.Now())
	}
	c.Advance(3 * time.Second)
	if got := c.Since(start); got != 3*time.Second {
		t.Errorf("expected 3s elapsed, got %s", got)
	}
}

func TestVirtual_NegativeAdvancePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic on negative advance")
		}
	}()
	NewVirtual(time.Now()).Advance(-time.Second)
}

func TestVirtual_AfterFiresOnAdvance(t *testing.T) {
	c := NewVirtual(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	ch := c.After(5 * time.Second)
	if c.Waiters() != 1 {
		t.Fatalf("expected 1 waiter, got %d", c.Waiters())
	}

	c.Advance(4 * time.Second)
	select {
	case <-ch:
		t.Fatal("After fired early")
	default:
	}

	c.Advance(time.Second)
	select {
	case got := <-ch:
		if !got.Equal(c.Now()) {
			t.Errorf("expected %v, got %v", c.Now(), got)
		}
	default:
		t.Fatal("After did not fire at its deadline")
	}
	if c.Waiters() != 0 {
		t.Errorf("expected no pending waiters, got %d", c.Waiters())
	}
}

func TestVirtual_AfterZero(t *testing.T) {
	c := NewVirtual(time.Now())
	select {
	case <-c.After(0):
	default:
		t.Fatal("After(0) should fire immediately")
	}
}
