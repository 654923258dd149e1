package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kestral/convoke/internal/task"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const taskStream = "convoke:tasks"

// Stream publishes task lifecycle events to a Redis stream so external
// consumers (dashboards, audit pipelines) can follow execution without
// touching the orchestrator.
type Stream struct {
	rdb    *redis.Client
	logger *zap.Logger
}

// NewStream connects to Redis and verifies the connection.
func NewStream(redisURL string, logger *zap.Logger) (*Stream, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Stream{rdb: rdb, logger: logger}, nil
}

// TaskEvent is one lifecycle transition of a task.
type TaskEvent struct {
	Event     string    `json:"event"`
	TaskID    string    `json:"task_id"`
	Type      string    `json:"type"`
	Status    string    `json:"status"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// PublishTaskEvent appends one lifecycle event to the task stream.
func (s *Stream) PublishTaskEvent(ctx context.Context, event string, t *task.Task) error {
	data, err := json.Marshal(TaskEvent{
		Event:     event,
		TaskID:    t.ID,
		Type:      string(t.Type),
		Status:    string(t.Status),
		Error:     t.Error,
		Timestamp: time.Now(),
	})
	if err != nil {
		return err
	}

	_, err = s.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: taskStream,
		Values: map[string]interface{}{
			"data": string(data),
		},
	}).Result()
	if err != nil {
		return fmt.Errorf("publish to %s: %w", taskStream, err)
	}

	s.logger.Debug("task event published",
		zap.String("event", event),
		zap.String("task", t.ID),
		zap.String("status", string(t.Status)))
	return nil
}

// Subscribe follows the task stream from now on. Cancel the context to
// stop; the returned channel is closed on exit.
func (s *Stream) Subscribe(ctx context.Context) <-chan *TaskEvent {
	ch := make(chan *TaskEvent, 16)

	go func() {
		defer close(ch)
		lastID := "$"

		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			results, err := s.rdb.XRead(ctx, &redis.XReadArgs{
				Streams: []string{taskStream, lastID},
				Count:   10,
				Block:   time.Second * 2,
			}).Result()

			if err != nil {
				if err == context.Canceled || err == context.DeadlineExceeded {
					return
				}
				continue
			}

			for _, r := range results {
				for _, msg := range r.Messages {
					lastID = msg.ID
					data, ok := msg.Values["data"].(string)
					if !ok {
						continue
					}
					var ev TaskEvent
					if json.Unmarshal([]byte(data), &ev) == nil {
						ch <- &ev
					}
				}
			}
		}
	}()

	return ch
}

// Close shuts down the Redis connection.
func (s *Stream) Close() error {
	return s.rdb.Close()
}
