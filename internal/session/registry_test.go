package session

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func fixedNow() time.Time {
	return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
}

func TestRegistryCreateGetRemove(t *testing.T) {
	r := NewRegistry()
	s := r.Create()
	if s.ID() == "" {
		t.Fatalf("session ID should not be empty")
	}
	if other := r.Create(); other.ID() == s.ID() {
		t.Fatalf("Create() returned duplicate id %q", s.ID())
	}

	got, err := r.Get(s.ID())
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got != s {
		t.Fatalf("Get() returned a different session instance")
	}
	if r.ActiveCount() != 2 {
		t.Fatalf("ActiveCount() = %d, want 2", r.ActiveCount())
	}

	s.End()
	if r.ActiveCount() != 1 {
		t.Fatalf("ActiveCount() after End = %d, want 1", r.ActiveCount())
	}
	if _, err := r.Get(s.ID()); err != nil {
		t.Fatalf("ended session should stay queryable, Get() error = %v", err)
	}

	if !r.Remove(s.ID()) {
		t.Fatalf("Remove() = false, want true")
	}
	if r.Remove(s.ID()) {
		t.Fatalf("second Remove() = true, want false")
	}
	if _, err := r.Get(s.ID()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get() after Remove error = %v, want %v", err, ErrNotFound)
	}
}

func TestRegistryReapsOnlyEndedSessions(t *testing.T) {
	r := NewRegistry()
	r.SetEndedRetention(20 * time.Millisecond)
	var reaped atomic.Int32
	r.SetReapHook(func(*Session) { reaped.Add(1) })

	active := r.Create()
	ended := r.Create()
	ended.End()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.StartJanitor(ctx, 10*time.Millisecond)

	time.Sleep(120 * time.Millisecond)
	if _, err := r.Get(ended.ID()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("ended session Get() error = %v, want %v", err, ErrNotFound)
	}
	if _, err := r.Get(active.ID()); err != nil {
		t.Fatalf("active session Get() error = %v", err)
	}
	if reaped.Load() != 1 {
		t.Fatalf("reaped = %d, want 1", reaped.Load())
	}
}

func TestRegistryZeroRetentionKeepsEnded(t *testing.T) {
	r := NewRegistry()
	s := r.Create()
	s.End()
	r.reapEnded(time.Now().UTC().Add(time.Hour))
	if r.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", r.Len())
	}
}
