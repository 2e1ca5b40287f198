package scheduler

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const TaskStageBackfill = "stages.backfill"

// StageBackfillPayload selects what a queued backfill run reconciles.
// An empty JobID means every active job.
type StageBackfillPayload struct {
	JobID       string `json:"job_id,omitempty"`
	AutoAdvance bool   `json:"auto_advance"`
}

func NewStageBackfillTask(payload StageBackfillPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskStageBackfill, data), nil
}

func ParseStageBackfillPayload(task *asynq.Task) (StageBackfillPayload, error) {
	var payload StageBackfillPayload
	if len(task.Payload()) == 0 {
		return payload, nil
	}
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return StageBackfillPayload{}, err
	}
	return payload, nil
}
