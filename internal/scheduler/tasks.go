package scheduler

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const TaskWorkflowScheduled = "workflow.scheduled"

const TaskReportScheduled = "reports.scheduled"

const TaskSLASweep = "engine.sla_sweep"

const TaskApprovalExpiry = "engine.approval_expiry"

type ScheduledFiringPayload struct {
	TargetID string    `json:"targetId"`
	FiredAt  time.Time `json:"firedAt"`
}

type SweepPayload struct {
	RequestedAt time.Time `json:"requestedAt"`
}

func NewScheduledFiringTask(taskType string, payload ScheduledFiringPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(taskType, data), nil
}

func ParseScheduledFiringPayload(task *asynq.Task) (ScheduledFiringPayload, error) {
	var payload ScheduledFiringPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return ScheduledFiringPayload{}, err
	}
	return payload, nil
}

func NewSweepTask(taskType string, payload SweepPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(taskType, data), nil
}

func ParseSweepPayload(task *asynq.Task) (SweepPayload, error) {
	var payload SweepPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return SweepPayload{}, err
	}
	return payload, nil
}
