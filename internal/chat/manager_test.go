package chat

import (
	"context"
	"errors"
	"testing"
)

func TestManagerScopesSessionsToOwner(t *testing.T) {
	manager := newTestManager(t, &fakeFactory{})
	alice := manager.Create("alice")
	bob := manager.Create("bob")

	got, err := manager.Get("alice", alice.ID())
	if err != nil || got != alice {
		t.Fatalf("Get() = %v, %v", got, err)
	}
	if _, err := manager.Get("bob", alice.ID()); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("cross-owner Get() error = %v", err)
	}
	if _, err := manager.Get("alice", "missing"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("missing Get() error = %v", err)
	}

	second := manager.Create("alice")
	list := manager.List("alice")
	if len(list) != 2 || list[0] != alice || list[1] != second {
		t.Fatalf("List() = %v", list)
	}
	if len(manager.List("bob")) != 1 || manager.List("bob")[0] != bob {
		t.Fatal("bob should only see their own session")
	}
}

func TestManagerDeleteClosesSession(t *testing.T) {
	handle := &fakeHandle{}
	manager := newTestManager(t, &fakeFactory{handles: []*fakeHandle{handle}})
	session := manager.Create("alice")
	loadCSV(t, session)
	if _, err := session.Submit(context.Background(), "average amount by region"); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	if err := manager.Delete("bob", session.ID()); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("cross-owner Delete() error = %v", err)
	}
	if err := manager.Delete("alice", session.ID()); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if !handle.isClosed() {
		t.Fatal("engine handle not closed")
	}
	if _, err := manager.Get("alice", session.ID()); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("Get() after Delete error = %v", err)
	}
	if _, err := session.Submit(context.Background(), "average amount by region"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("Submit() on closed session error = %v", err)
	}
	if err := manager.Delete("alice", session.ID()); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("second Delete() error = %v", err)
	}
}
