package bus

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stage7/missionctl/internal/common/logger"
	v1 "github.com/stage7/missionctl/pkg/api/v1"
)

func newTestLogger(t *testing.T) *logger.Logger {
	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      "debug",
		Format:     "console",
		OutputPath: "stdout",
	})
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}
	return log
}

func TestNewMemoryMessageBus(t *testing.T) {
	log := newTestLogger(t)
	bus := NewMemoryMessageBus(log)

	if bus == nil {
		t.Fatal("Expected non-nil bus")
	}
	if !bus.IsConnected() {
		t.Error("Expected bus to be connected")
	}
}

func TestMemoryMessageBus_PublishSubscribe(t *testing.T) {
	log := newTestLogger(t)
	bus := NewMemoryMessageBus(log)
	defer bus.Close()

	ctx := context.Background()
	received := make(chan *v1.Message, 1)

	sub, err := bus.Subscribe("MissionControl", func(ctx context.Context, msg *v1.Message) error {
		received <- msg
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer func() {
		_ = sub.Unsubscribe()
	}()

	msg := v1.NewMessage(v1.MessageTypePause, "user", "MissionControl", nil)
	msg.MissionID = "m1"
	if err := bus.Publish(ctx, "MissionControl", msg); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	select {
	case m := <-received:
		if m.Type != v1.MessageTypePause {
			t.Errorf("Expected message type %s, got %s", v1.MessageTypePause, m.Type)
		}
		if m.MissionID != "m1" {
			t.Errorf("Expected mission id m1, got %s", m.MissionID)
		}
	case <-time.After(time.Second):
		t.Fatal("Timeout waiting for message")
	}
}

func TestMemoryMessageBus_QueueSubscribe(t *testing.T) {
	log := newTestLogger(t)
	bus := NewMemoryMessageBus(log)
	defer bus.Close()

	ctx := context.Background()
	var count int32
	done := make(chan struct{}, 2)

	for i := 0; i < 2; i++ {
		_, err := bus.QueueSubscribe("MissionControl", "workers", func(ctx context.Context, msg *v1.Message) error {
			atomic.AddInt32(&count, 1)
			done <- struct{}{}
			return nil
		})
		if err != nil {
			t.Fatalf("QueueSubscribe failed: %v", err)
		}
	}

	msg := v1.NewMessage(v1.MessageTypeSave, "user", "MissionControl", nil)
	if err := bus.Publish(ctx, "MissionControl", msg); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Timeout waiting for queue delivery")
	}

	// Give a second (erroneous) delivery a moment to surface
	time.Sleep(50 * time.Millisecond)
	if got := atomic.LoadInt32(&count); got != 1 {
		t.Errorf("Expected exactly one queue delivery, got %d", got)
	}
}

func TestMemoryMessageBus_WildcardSubject(t *testing.T) {
	log := newTestLogger(t)
	bus := NewMemoryMessageBus(log)
	defer bus.Close()

	ctx := context.Background()
	received := make(chan *v1.Message, 1)

	_, err := bus.Subscribe("reply.*", func(ctx context.Context, msg *v1.Message) error {
		received <- msg
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	msg := v1.NewMessage(v1.MessageTypeResponse, "MissionControl", "client", nil)
	if err := bus.Publish(ctx, "reply.abc", msg); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	select {
	case <-received:
	case <-time.After(time.Second):
		t.Fatal("Timeout waiting for wildcard delivery")
	}
}

func TestMemoryMessageBus_Close(t *testing.T) {
	log := newTestLogger(t)
	bus := NewMemoryMessageBus(log)
	bus.Close()

	if bus.IsConnected() {
		t.Error("Expected bus to be disconnected after Close")
	}
	if err := bus.Publish(context.Background(), "MissionControl", v1.NewMessage(v1.MessageTypeSave, "user", "", nil)); err == nil {
		t.Error("Expected publish on closed bus to fail")
	}
}
