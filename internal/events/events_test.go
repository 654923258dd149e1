package events

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
	"go.uber.org/zap"

	"github.com/kestral/convoke/internal/task"
)

// startRedis starts a Redis testcontainer and returns its URL. The
// container is terminated when the test finishes.
func startRedis(t *testing.T, ctx context.Context) (string, error) {
	container, err := tcredis.Run(ctx, "redis:7-alpine")
	testcontainers.CleanupContainer(t, container)
	if err != nil {
		return "", fmt.Errorf("start redis: %w", err)
	}
	endpoint, err := container.Endpoint(ctx, "")
	if err != nil {
		return "", fmt.Errorf("redis endpoint: %w", err)
	}
	return "redis://" + endpoint, nil
}

func setupStream(t *testing.T) *Stream {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container-backed test in short mode")
	}
	ctx := context.Background()

	url, err := startRedis(t, ctx)
	if err != nil {
		t.Skipf("redis container unavailable: %v", err)
	}

	s, err := NewStream(url, zap.NewNop())
	if err != nil {
		t.Fatalf("connect stream: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPublishAndSubscribe(t *testing.T) {
	s := setupStream(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	ch := s.Subscribe(ctx)
	// XRead with "$" only sees entries appended after the read starts.
	time.Sleep(200 * time.Millisecond)

	tk := task.New(task.CapabilityResearch, "trace the outage", nil)
	tk.Status = task.StatusCompleted
	if err := s.PublishTaskEvent(ctx, "task.completed", tk); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case ev := <-ch:
		if ev.Event != "task.completed" || ev.TaskID != tk.ID {
			t.Errorf("event = %+v", ev)
		}
		if ev.Status != string(task.StatusCompleted) {
			t.Errorf("status = %q", ev.Status)
		}
	case <-ctx.Done():
		t.Fatal("no event received before timeout")
	}
}

func TestSubscribeClosesOnCancel(t *testing.T) {
	s := setupStream(t)

	ctx, cancel := context.WithCancel(context.Background())
	ch := s.Subscribe(ctx)
	cancel()

	select {
	case _, open := <-ch:
		if open {
			t.Error("received event on cancelled subscription")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("channel not closed after cancel")
	}
}

func TestPublishCarriesError(t *testing.T) {
	s := setupStream(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	ch := s.Subscribe(ctx)
	time.Sleep(200 * time.Millisecond)

	tk := task.New(task.CapabilityCoding, "compile it", nil)
	tk.Status = task.StatusFailed
	tk.Error = "no agent available"
	if err := s.PublishTaskEvent(ctx, "task.failed", tk); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case ev := <-ch:
		if ev.Error != "no agent available" {
			t.Errorf("error field = %q", ev.Error)
		}
	case <-ctx.Done():
		t.Fatal("no event received before timeout")
	}
}
