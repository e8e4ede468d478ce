package hub

import (
	"context"
	"testing"
	"time"
)

// startHub runs h until the test ends.
func startHub(t *testing.T, h *Hub) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-h.done
	})
	return cancel
}

func waitCount(t *testing.T, h *Hub, want int) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for h.ClientCount() != want && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if n := h.ClientCount(); n != want {
		t.Fatalf("ClientCount: got %d, want %d", n, want)
	}
}

func isClosed(c *Client) bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func TestHub_BroadcastFanOut(t *testing.T) {
	h := New("test", nil)
	cancel := startHub(t, h)

	a, b := newClient(h, nil), newClient(h, nil)
	h.register <- a
	h.register <- b
	waitCount(t, h, 2)

	if err := h.BroadcastJSON(map[string]int{"n": 1}); err != nil {
		t.Fatalf("BroadcastJSON: %v", err)
	}
	for _, c := range []*Client{a, b} {
		select {
		case msg := <-c.events:
			if msg.Type != JSONMessage || string(msg.Data) != `{"n":1}` {
				t.Errorf("unexpected message %+v", msg)
			}
		case <-time.After(time.Second):
			t.Fatal("message not delivered")
		}
	}

	cancel()
	<-h.done
	if !isClosed(a) || !isClosed(b) {
		t.Error("clients should be closed after hub stops")
	}
	if h.IsRunning() {
		t.Error("hub should not be running")
	}
	if n := h.ClientCount(); n != 0 {
		t.Errorf("ClientCount after stop: got %d", n)
	}
}

func TestHub_SlowClientGetsNewestFrame(t *testing.T) {
	h := New("test", nil)
	startHub(t, h)

	slow := newClient(h, nil)
	h.register <- slow
	waitCount(t, h, 1)

	// Nobody drains the client; each frame replaces the previous one.
	for i := byte(1); i <= 5; i++ {
		h.BroadcastBinary([]byte{i})
	}
	if err := h.BroadcastJSON("sync"); err != nil {
		t.Fatal(err)
	}
	select {
	case <-slow.events:
	case <-time.After(time.Second):
		t.Fatal("sync message not delivered")
	}

	if isClosed(slow) {
		t.Fatal("a client behind on frames must not be dropped")
	}
	msg := <-slow.frame
	if msg.Type != BinaryMessage || msg.Data[0] != 5 {
		t.Errorf("frame: got %+v, want newest (5)", msg)
	}
	select {
	case extra := <-slow.frame:
		t.Errorf("stale frame still queued: %+v", extra)
	default:
	}
}

func TestHub_DropsClientWithFullEventQueue(t *testing.T) {
	h := New("test", nil)
	startHub(t, h)

	slow := newClient(h, nil)
	h.register <- slow
	waitCount(t, h, 1)

	for i := 0; i < eventQueue+1; i++ {
		h.Broadcast(NewJSONMessage([]byte("{}")))
	}
	waitCount(t, h, 0)
	if !isClosed(slow) {
		t.Error("slow client should be closed")
	}
}

func TestHub_UnregisterAfterStop(t *testing.T) {
	h := New("test", nil)
	cancel := startHub(t, h)
	cancel()
	<-h.done

	c := NewClient(h, nil)
	if !isClosed(c) {
		t.Error("client of a stopped hub should start closed")
	}
}

func TestMessage_FrameType(t *testing.T) {
	if NewJSONMessage(nil).frameType() == NewBinaryMessage(nil).frameType() {
		t.Error("JSON and binary messages must use different websocket frame types")
	}
}
