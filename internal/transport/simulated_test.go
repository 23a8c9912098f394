package transport

import (
	"context"
	"testing"
	"time"

	"github.com/vantrex/warelay/internal/credstore"
)

func open(t *testing.T, tr *Simulated, creds credstore.Store, sessionID string) Handle {
	t.Helper()
	h, err := tr.Open(context.Background(), sessionID, creds)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return h
}

func nextEvent(t *testing.T, h Handle) Event {
	t.Helper()
	select {
	case ev, ok := <-h.Events():
		if !ok {
			t.Fatal("Event stream closed unexpectedly")
		}
		return ev
	case <-time.After(time.Second):
		t.Fatal("No event emitted")
		return nil
	}
}

func TestUnpairedSessionGetsPairingCode(t *testing.T) {
	creds, err := credstore.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	tr := NewSimulated()
	h := open(t, tr, creds, "s1")
	defer h.Close()

	ev := nextEvent(t, h)
	code, ok := ev.(PairingCode)
	if !ok {
		t.Fatalf("Expected PairingCode, got %T", ev)
	}
	if code.Code == "" {
		t.Error("Empty pairing code")
	}
}

func TestPairedSessionOpensImmediately(t *testing.T) {
	creds, err := credstore.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	ctx := context.Background()

	identity, err := creds.Load(ctx, "s1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	identity.Paired = true
	if err := creds.Save(ctx, "s1", identity); err != nil {
		t.Fatalf("Save: %v", err)
	}

	tr := NewSimulated()
	h := open(t, tr, creds, "s1")
	defer h.Close()

	if _, ok := nextEvent(t, h).(Opened); !ok {
		t.Error("Expected Opened for a paired session")
	}
}

func TestLogoutUnpairsAndTerminatesStream(t *testing.T) {
	creds, err := credstore.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	ctx := context.Background()

	tr := NewSimulated()
	h := open(t, tr, creds, "s1")
	nextEvent(t, h) // pairing code

	if err := tr.CompletePairing(ctx, "s1", "+49170", "Alice", "android"); err != nil {
		t.Fatalf("CompletePairing: %v", err)
	}
	opened, ok := nextEvent(t, h).(Opened)
	if !ok {
		t.Fatal("Expected Opened after pairing")
	}
	if opened.Phone != "+49170" || opened.Platform != "android" {
		t.Errorf("Profile not carried: %+v", opened)
	}

	if err := h.Logout(ctx); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	closed, ok := nextEvent(t, h).(Closed)
	if !ok || !closed.LoggedOut {
		t.Errorf("Expected terminal logged-out Closed, got %+v", closed)
	}
	if _, open := <-h.Events(); open {
		t.Error("Stream not closed after logout")
	}

	identity, err := creds.Load(ctx, "s1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if identity.Paired {
		t.Error("Identity still paired after logout")
	}
}

func TestSendRequiresOpenConnection(t *testing.T) {
	creds, err := credstore.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	tr := NewSimulated()
	h := open(t, tr, creds, "s1")
	defer h.Close()

	if _, err := h.Send(context.Background(), "111@c.us", "hi"); err == nil {
		t.Error("Expected send failure before the connection opens")
	}
}
