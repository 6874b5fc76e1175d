package session

import (
	"testing"
	"time"
)

func TestCorrelatorResolveOnce(t *testing.T) {
	c := NewCorrelator()
	now := time.Now()
	c.Register("t1", "room-1", "hello", now)

	if !c.Resolve("t1") {
		t.Fatal("first resolve should report true")
	}
	if c.Resolve("t1") {
		t.Fatal("second resolve should report false")
	}
	if c.Len() != 0 {
		t.Fatalf("expected empty correlator, got %d entries", c.Len())
	}
}

func TestCorrelatorFailKeepsEntryForRetry(t *testing.T) {
	c := NewCorrelator()
	now := time.Now()
	c.Register("t1", "room-1", "hello", now)

	if !c.Fail("t1") {
		t.Fatal("fail should report true for a sending entry")
	}
	if c.Fail("t1") {
		t.Fatal("second fail should report false")
	}
	if c.Len() != 1 {
		t.Fatal("failed entry should stay registered")
	}

	p, err := c.Retry("t1", now.Add(time.Second))
	if err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	if p.TempID != "t1" || p.RoomID != "room-1" || p.Body != "hello" {
		t.Fatalf("retry returned wrong entry: %+v", p)
	}
	if p.state != pendingSending {
		t.Fatal("retry should put the entry back into sending")
	}

	if _, err := c.Retry("nope", now); err != ErrUnknownTempID {
		t.Fatalf("expected ErrUnknownTempID, got %v", err)
	}
}

func TestCorrelatorLateAckAfterFailIsSilent(t *testing.T) {
	c := NewCorrelator()
	c.Register("t1", "room-1", "hello", time.Now())
	c.Fail("t1")

	if c.Resolve("t1") {
		t.Fatal("ack after failure must not resolve a second time")
	}
	if c.Len() != 0 {
		t.Fatal("late ack should still remove the entry")
	}
}

func TestCorrelatorSweep(t *testing.T) {
	c := NewCorrelator()
	base := time.Now()
	c.Register("old", "room-1", "a", base)
	c.Register("fresh", "room-1", "b", base.Add(time.Second))

	failed := c.Sweep(base.Add(1100*time.Millisecond), time.Second)
	if len(failed) != 1 || failed[0] != "old" {
		t.Fatalf("expected only the old entry to fail, got %v", failed)
	}

	// Already failed entries are not reported again.
	if again := c.Sweep(base.Add(2*time.Second), time.Second); len(again) != 1 || again[0] != "fresh" {
		t.Fatalf("expected only the fresh entry on the second sweep, got %v", again)
	}
}

func TestCorrelatorFailAll(t *testing.T) {
	c := NewCorrelator()
	c.Register("t1", "room-1", "a", time.Now())
	c.Register("t2", "room-2", "b", time.Now())

	ids := c.FailAll()
	if len(ids) != 2 {
		t.Fatalf("expected 2 drained ids, got %v", ids)
	}
	if c.Len() != 0 {
		t.Fatal("correlator should be empty after FailAll")
	}
}
