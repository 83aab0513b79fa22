package bus

import (
	"log/slog"
	"os"
	"testing"
	"time"

	"moebot/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func inbound(id string) domain.Inbound {
	return domain.Inbound{Platform: "test", Message: domain.Message{ID: id, ChannelID: "c"}}
}

func TestBus_PublishSubscribeOrder(t *testing.T) {
	b := New(10, testLogger())
	for _, id := range []string{"1", "2", "3"} {
		b.Publish(inbound(id))
	}
	b.Close()

	var got []string
	for msg := range b.Subscribe() {
		got = append(got, msg.Message.ID)
	}
	if len(got) != 3 || got[0] != "1" || got[2] != "3" {
		t.Fatalf("unexpected order %v", got)
	}
}

func TestBus_PublishAfterCloseIsDropped(t *testing.T) {
	b := New(1, testLogger())
	b.Close()
	b.Close()
	b.Publish(inbound("late"))
	if _, ok := <-b.Subscribe(); ok {
		t.Fatal("closed bus should not deliver")
	}
}

func TestBus_FullBufferDropsAfterTimeout(t *testing.T) {
	b := New(1, testLogger())
	b.publishTimeout = 20 * time.Millisecond

	b.Publish(inbound("kept"))
	start := time.Now()
	b.Publish(inbound("dropped"))
	if time.Since(start) < 20*time.Millisecond {
		t.Fatal("publish should wait for room before dropping")
	}

	if msg := <-b.Subscribe(); msg.Message.ID != "kept" {
		t.Fatalf("unexpected message %q", msg.Message.ID)
	}
	select {
	case msg := <-b.Subscribe():
		t.Fatalf("dropped message delivered: %q", msg.Message.ID)
	default:
	}
}

func TestBus_FullBufferWaitsForRoom(t *testing.T) {
	b := New(1, testLogger())
	b.Publish(inbound("first"))

	done := make(chan struct{})
	go func() {
		b.Publish(inbound("second"))
		close(done)
	}()

	<-b.Subscribe()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish did not resume once the buffer drained")
	}
	if msg := <-b.Subscribe(); msg.Message.ID != "second" {
		t.Fatalf("unexpected message %q", msg.Message.ID)
	}
}
