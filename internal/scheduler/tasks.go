// Package scheduler runs the background work: deferred notification
// delivery and the periodic escalation tick.
package scheduler

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const TaskNotificationDeliver = "notification.deliver"

const TaskEscalationTick = "escalation.tick"

type NotificationDeliverPayload struct {
	NotificationID string `json:"notificationId"`
}

func NewNotificationDeliverTask(payload NotificationDeliverPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskNotificationDeliver, data), nil
}

func ParseNotificationDeliverPayload(task *asynq.Task) (NotificationDeliverPayload, error) {
	var payload NotificationDeliverPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return NotificationDeliverPayload{}, err
	}
	return payload, nil
}

func NewEscalationTickTask() *asynq.Task {
	return asynq.NewTask(TaskEscalationTick, nil)
}
