package domain

import (
	"encoding/json"
	"math/rand"
	"time"

	"github.com/oklog/ulid/v2"
)

// TaskStatus is the lifecycle state of a single task.
type TaskStatus string

const (
	TaskReceived   TaskStatus = "received"
	TaskProcessing TaskStatus = "processing"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
)

// Terminal reports whether the status is final.
func (s TaskStatus) Terminal() bool {
	return s == TaskCompleted || s == TaskFailed
}

// Task is one inbound unit of work. It is created on request arrival, mutated
// only by the task processor, and discarded after the response is sent.
type Task struct {
	ID            string          `json:"id"`
	CorrelationID string          `json:"correlation_id"`
	Skill         string          `json:"skill,omitempty"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	Status        TaskStatus      `json:"status"`
	Result        string          `json:"result,omitempty"`
	Error         string          `json:"error,omitempty"`
	ReceivedAt    time.Time       `json:"received_at"`
}

// NewTask creates a task in the Received state. If correlationID is empty a
// fresh one is minted so every derived call can be traced back to this task.
func NewTask(skill string, payload json.RawMessage, correlationID string) *Task {
	if correlationID == "" {
		correlationID = NewID()
	}
	return &Task{
		ID:            NewID(),
		CorrelationID: correlationID,
		Skill:         skill,
		Payload:       payload,
		Status:        TaskReceived,
		ReceivedAt:    time.Now(),
	}
}

// Complete moves the task to its Completed terminal state.
// Terminal states are final: completing an already-terminal task is a no-op.
func (t *Task) Complete(result string) {
	if t.Status.Terminal() {
		return
	}
	t.Status = TaskCompleted
	t.Result = result
	t.Error = ""
}

// Fail moves the task to its Failed terminal state.
func (t *Task) Fail(msg string) {
	if t.Status.Terminal() {
		return
	}
	t.Status = TaskFailed
	t.Error = msg
	t.Result = ""
}

// NewID returns a lexicographically sortable unique id.
func NewID() string {
	t := time.Now()
	entropy := ulid.Monotonic(rand.New(rand.NewSource(t.UnixNano())), 0)
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}
