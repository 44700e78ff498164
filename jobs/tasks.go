package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskBlanketExpire is the task type for the blanket order expiry
	// sweep.
	TaskBlanketExpire = "blanket:expire"
)

// BlanketExpirePayload parameterises an expiry sweep. A zero AsOf
// means "now" at processing time.
type BlanketExpirePayload struct {
	AsOf time.Time `json:"as_of,omitempty"`
}

// NewBlanketExpireTask constructs an expiry sweep task.
func NewBlanketExpireTask(payload BlanketExpirePayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskBlanketExpire, data), nil
}
