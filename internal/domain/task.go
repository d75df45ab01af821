package domain

import (
	"encoding/json"
	"slices"
	"time"
)

// TaskStatus enumerates generation task lifecycle states.
type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusProcessing TaskStatus = "processing"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusFailed     TaskStatus = "failed"
)

// IsTerminal reports whether no further transition is allowed from s.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed
}

// Valid reports whether s is one of the known lifecycle states.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusPending, TaskStatusProcessing, TaskStatusCompleted, TaskStatusFailed:
		return true
	}
	return false
}

// Progress checkpoints written by the lifecycle.
const (
	ProgressProcessing = 50
	ProgressCompleted  = 100
)

// Error codes stored in TaskError.Code.
const (
	ErrorCodeGenerationFailed = "generation_failed"
	ErrorCodeRefundFailed     = "refund_failed"
	ErrorCodeEmptyOutputs     = "empty_outputs"
)

// GenerationTask is one user-requested generation job tracked from submission
// until a terminal status is reached.
type GenerationTask struct {
	ID                   string
	TaskID               string
	ShareID              string
	UserID               string
	TaskType             string
	Provider             string
	ProviderRequestID    *string
	Model                string
	Status               TaskStatus
	Progress             int
	Parameters           json.RawMessage
	Results              []TaskResult
	ConsumeTransactionID *string
	RefundTransactionID  *string
	Error                *TaskError
	IsNSFW               bool
	NSFWDetails          *NSFWDetails
	StartedAt            time.Time
	CompletedAt          *time.Time
	DurationMs           *int64
	ClaimedAt            *time.Time
	ClaimPayload         json.RawMessage
	IsPrivate            bool
	DeletedAt            *time.Time
	CreatedAt            time.Time
	UpdatedAt            time.Time

	// QuotaConsumed is the absolute amount of the consume entry, filled on public reads.
	QuotaConsumed int
}

// HasCharge reports whether the task was debited at submission.
func (t GenerationTask) HasCharge() bool {
	return t.ConsumeTransactionID != nil && *t.ConsumeTransactionID != ""
}

// DurationSince returns the elapsed milliseconds between startedAt and now, or
// nil when the start time is unknown.
func DurationSince(startedAt, now time.Time) *int64 {
	if startedAt.IsZero() {
		return nil
	}
	ms := now.Sub(startedAt).Milliseconds()
	if ms < 0 {
		ms = 0
	}
	return &ms
}

// TaskResult is one persisted output of a completed task.
type TaskResult struct {
	URL          string    `json:"url"`
	WatermarkURL string    `json:"watermarkUrl,omitempty"`
	Type         AssetKind `json:"type"`
}

// TaskError is the structured failure payload stored on failed tasks.
type TaskError struct {
	Message string      `json:"message"`
	Code    string      `json:"code"`
	Errors  []TaskError `json:"errors,omitempty"`
}

// NSFWDetails holds the per-category verdicts returned by the content screen.
type NSFWDetails struct {
	Hate         bool `json:"hate"`
	Sexual       bool `json:"sexual"`
	Violence     bool `json:"violence"`
	Harassment   bool `json:"harassment"`
	SexualMinors bool `json:"sexual/minors"`
}

// Flagged reports whether any category was flagged.
func (d NSFWDetails) Flagged() bool {
	return d.Hate || d.Sexual || d.Violence || d.Harassment || d.SexualMinors
}

// TaskFilter selects a page of one user's non-deleted tasks, newest first.
// Empty slices match everything.
type TaskFilter struct {
	UserID        string
	Statuses      []TaskStatus
	TaskTypes     []string
	Models        []string
	CreatedAfter  *time.Time
	Limit, Offset int
}

// Matches reports whether t passes every filter criterion.
func (f TaskFilter) Matches(t GenerationTask) bool {
	if t.UserID != f.UserID || t.DeletedAt != nil {
		return false
	}
	if f.CreatedAfter != nil && t.CreatedAt.Before(*f.CreatedAfter) {
		return false
	}
	return anyOf(f.Statuses, t.Status) && anyOf(f.TaskTypes, t.TaskType) && anyOf(f.Models, t.Model)
}

func anyOf[T comparable](set []T, v T) bool {
	return len(set) == 0 || slices.Contains(set, v)
}
