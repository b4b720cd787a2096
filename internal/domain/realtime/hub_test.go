package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
)

func newLocalHubWithUsers(userIDs ...uuid.UUID) (*Hub, map[uuid.UUID]*Connection) {
	h := NewHubWithInstanceID(nil, "instance-a")
	conns := map[uuid.UUID]*Connection{}
	for _, userID := range userIDs {
		conn := &Connection{UserID: userID, Send: make(chan []byte, 4)}
		conns[userID] = conn
		h.connections[userID] = map[*Connection]bool{conn: true}
	}
	return h, conns
}

func waitPayload(t *testing.T, ch <-chan []byte) map[string]any {
	t.Helper()
	select {
	case msg := <-ch:
		var payload map[string]any
		if err := json.Unmarshal(msg, &payload); err != nil {
			t.Fatalf("unmarshal ws payload: %v", err)
		}
		return payload
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting websocket payload")
	}
	return nil
}

func TestSendToUserJSONTargetsOnlyThatUser(t *testing.T) {
	alice := uuid.New()
	bob := uuid.New()
	hub, conns := newLocalHubWithUsers(alice, bob)

	if err := hub.SendToUserJSON(alice, map[string]any{"type": "credits:balance_changed"}); err != nil {
		t.Fatalf("send: %v", err)
	}

	payload := waitPayload(t, conns[alice].Send)
	if payload["type"] != "credits:balance_changed" {
		t.Fatalf("unexpected payload %v", payload)
	}
	select {
	case msg := <-conns[bob].Send:
		t.Fatalf("bob received %s", msg)
	default:
	}
}

func TestSendToUserJSONPublishesForOtherInstances(t *testing.T) {
	userID := uuid.New()
	hub, _ := newLocalHubWithUsers()

	var channel string
	var published []byte
	hub.publishUserEventFn = func(ctx context.Context, ch string, payload []byte) error {
		channel = ch
		published = payload
		return nil
	}

	if err := hub.SendToUserJSON(userID, map[string]int{"balance": 5}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if channel != UserEventsChannel {
		t.Fatalf("published to %q", channel)
	}

	var msg userEventMessage
	if err := json.Unmarshal(published, &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if msg.UserID != userID.String() || msg.SenderInstanceID != "instance-a" {
		t.Fatalf("unexpected envelope %+v", msg)
	}

	hub.publishUserEventFn = func(context.Context, string, []byte) error { return errors.New("redis down") }
	if err := hub.SendToUserJSON(userID, map[string]int{"balance": 5}); err == nil {
		t.Fatal("expected publish error")
	}
}

func TestHandleUserEventPayload(t *testing.T) {
	userID := uuid.New()
	hub, conns := newLocalHubWithUsers(userID)

	remote, _ := json.Marshal(userEventMessage{
		UserID:           userID.String(),
		Payload:          json.RawMessage(`{"type":"credits:purchase_completed"}`),
		SenderInstanceID: "instance-b",
	})
	hub.handleUserEventPayload(string(remote))

	payload := waitPayload(t, conns[userID].Send)
	if payload["type"] != "credits:purchase_completed" {
		t.Fatalf("unexpected payload %v", payload)
	}

	own, _ := json.Marshal(userEventMessage{
		UserID:           userID.String(),
		Payload:          json.RawMessage(`{"type":"x"}`),
		SenderInstanceID: "instance-a",
	})
	hub.handleUserEventPayload(string(own))
	hub.handleUserEventPayload("not json")

	select {
	case msg := <-conns[userID].Send:
		t.Fatalf("unexpected redelivery %s", msg)
	default:
	}
}

func TestSendDropsWhenBufferFull(t *testing.T) {
	userID := uuid.New()
	hub, conns := newLocalHubWithUsers(userID)
	before := wsEventsDroppedTotal.Value()

	for i := 0; i < cap(conns[userID].Send)+2; i++ {
		_ = hub.SendToUserJSON(userID, i)
	}

	if got := wsEventsDroppedTotal.Value() - before; got != 2 {
		t.Fatalf("expected 2 dropped, got %d", got)
	}
}

func TestRegisterUnregister(t *testing.T) {
	hub := NewHub(nil)
	go hub.Run()
	defer hub.Shutdown()

	userID := uuid.New()
	conn := &Connection{UserID: userID, Send: make(chan []byte, 1)}
	hub.Register(conn)
	deadline := time.Now().Add(2 * time.Second)
	for !hub.IsConnected(userID) && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if hub.GetConnectionCount() != 1 {
		t.Fatal("connection not registered")
	}

	hub.Unregister(conn)
	if _, ok := <-conn.Send; ok {
		t.Fatal("send channel not closed")
	}
	if hub.IsConnected(userID) {
		t.Fatal("connection still registered")
	}
}

func TestRegisterUnregisterAfterShutdownDoNotBlock(t *testing.T) {
	hub := NewHub(nil)
	go hub.Run()
	hub.Shutdown()

	conn := &Connection{UserID: uuid.New(), Send: make(chan []byte, 1)}
	done := make(chan struct{})
	go func() {
		hub.Register(conn)
		hub.Unregister(conn)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Register/Unregister blocked after Shutdown")
	}
}
