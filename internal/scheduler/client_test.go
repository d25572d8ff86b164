package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
)

type testSchedulerConfig struct {
	redisURL string
	queue    string
}

func (c testSchedulerConfig) GetRedisURL() string       { return c.redisURL }
func (c testSchedulerConfig) GetRedisTLSInsecure() bool { return false }
func (c testSchedulerConfig) GetAsynqQueueName() string { return c.queue }
func (c testSchedulerConfig) GetAsynqConcurrency() int  { return 1 }

func TestNewClient_RequiresRedisURL(t *testing.T) {
	if _, err := NewClient(testSchedulerConfig{}); err == nil {
		t.Fatalf("expected error without a redis url")
	}
}

func TestScheduleDelivery_EnqueuesTask(t *testing.T) {
	srv := miniredis.RunT(t)

	client, err := NewClient(testSchedulerConfig{redisURL: "redis://" + srv.Addr(), queue: "deferred"})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	defer client.Close()

	err = client.ScheduleDelivery(context.Background(), uuid.New(), time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("schedule delivery: %v", err)
	}

	// asynq stores scheduled work in the queue's scheduled zset.
	if !srv.Exists("asynq:{deferred}:scheduled") {
		t.Fatalf("expected a scheduled task in redis, keys: %v", srv.Keys())
	}
}

func TestScheduleDelivery_NilClientIsNoOp(t *testing.T) {
	var client *Client
	if err := client.ScheduleDelivery(context.Background(), uuid.New(), time.Now()); err != nil {
		t.Fatalf("nil client should be a no-op, got %v", err)
	}
	if err := client.Close(); err != nil {
		t.Fatalf("nil client close should be a no-op, got %v", err)
	}
}

func TestNotificationDeliverTaskRoundTrip(t *testing.T) {
	id := uuid.New()
	task, err := NewNotificationDeliverTask(NotificationDeliverPayload{NotificationID: id.String()})
	if err != nil {
		t.Fatalf("new task: %v", err)
	}
	if task.Type() != TaskNotificationDeliver {
		t.Fatalf("unexpected task type %q", task.Type())
	}
	payload, err := ParseNotificationDeliverPayload(task)
	if err != nil {
		t.Fatalf("parse payload: %v", err)
	}
	if payload.NotificationID != id.String() {
		t.Fatalf("payload did not round-trip: %q", payload.NotificationID)
	}
}
