package domain

import "time"

type ScheduledTaskStatus string

const (
	ScheduledPending   ScheduledTaskStatus = "PENDING"
	ScheduledRunning   ScheduledTaskStatus = "RUNNING"
	ScheduledCompleted ScheduledTaskStatus = "COMPLETED"
	ScheduledFailed    ScheduledTaskStatus = "FAILED"
	ScheduledKilling   ScheduledTaskStatus = "KILLING"
	ScheduledKilled    ScheduledTaskStatus = "KILLED"
)

type QueuedTaskStatus string

const (
	QueuedPending   QueuedTaskStatus = "PENDING"
	QueuedRunning   QueuedTaskStatus = "RUNNING"
	QueuedCompleted QueuedTaskStatus = "COMPLETED"
)

type LongRunningStatus string

const (
	LongRunningRunning   LongRunningStatus = "RUNNING"
	LongRunningCompleted LongRunningStatus = "COMPLETED"
	LongRunningFailed    LongRunningStatus = "FAILED"
	LongRunningTimeout   LongRunningStatus = "TIMEOUT"
)

// TimePeriod is one recurrence rule of a scheduled task. Nil fields are wildcards.
type TimePeriod struct {
	ID        string    `json:"id"`
	Date      *int      `json:"date,omitempty"`    // day of month, 1-31
	WeekDay   *int      `json:"weekDay,omitempty"` // ISO weekday, 1 (Monday) - 7 (Sunday)
	Hour      *int      `json:"hour,omitempty"`
	Minute    *int      `json:"minute,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

type ScheduledTask struct {
	ID             string              `json:"id"`
	TaskIdentifier string              `json:"taskIdentifier"`
	Description    string              `json:"description"`
	Configuration  map[string]any      `json:"configuration"`
	TimePeriods    []TimePeriod        `json:"timePeriods"`
	Status         ScheduledTaskStatus `json:"status"`
	PID            *int                `json:"pid,omitempty"`
	RunHandle      string              `json:"runHandle,omitempty"`
	NextStartTime  *time.Time          `json:"nextStartTime,omitempty"`
	LastStartTime  *time.Time          `json:"lastStartTime,omitempty"`
	LastEndTime    *time.Time          `json:"lastEndTime,omitempty"`
	TimeoutSeconds int                 `json:"timeoutSeconds"`
	TimeoutTime    *time.Time          `json:"timeoutTime,omitempty"`
	AccountID      string              `json:"accountId,omitempty"`
	ProjectKey     string              `json:"projectKey,omitempty"`
	CreatedAt      time.Time           `json:"createdAt"`
	UpdatedAt      time.Time           `json:"updatedAt"`
}

// Due reports whether the task should be picked up by a processing pass at now.
func (t ScheduledTask) Due(now time.Time) bool {
	return t.NextStartTime != nil && !t.NextStartTime.After(now) && t.Status != ScheduledRunning
}

// ScheduledTaskLog is an immutable record of one processing pass.
type ScheduledTaskLog struct {
	ID        int64               `json:"id"`
	TaskID    string              `json:"taskId"`
	StartTime *time.Time          `json:"startTime,omitempty"`
	EndTime   *time.Time          `json:"endTime,omitempty"`
	Status    ScheduledTaskStatus `json:"status"`
	Output    string              `json:"output"`
}

// QueueItem is the value view of a queued task.
type QueueItem struct {
	QueueName      string           `json:"queueName"`
	ID             string           `json:"id"`
	TaskIdentifier string           `json:"taskIdentifier"`
	Description    string           `json:"description"`
	Configuration  map[string]any   `json:"configuration"`
	QueuedTime     time.Time        `json:"queuedTime"`
	StartTime      *time.Time       `json:"startTime,omitempty"`
	Status         QueuedTaskStatus `json:"status"`
	DedupKey       string           `json:"dedupKey,omitempty"`
}

// Ready reports whether the item may start at now.
func (q QueueItem) Ready(now time.Time) bool {
	return q.Status == QueuedPending && (q.StartTime == nil || !q.StartTime.After(now))
}

type LongRunningTask struct {
	ID             string            `json:"id"`
	TaskIdentifier string            `json:"taskIdentifier"`
	TaskKey        string            `json:"taskKey,omitempty"`
	Status         LongRunningStatus `json:"status"`
	ProgressData   any               `json:"progressData,omitempty"`
	Result         any               `json:"result,omitempty"`
	StartedDate    time.Time         `json:"startedDate"`
	FinishedDate   *time.Time        `json:"finishedDate,omitempty"`
	TimeoutDate    time.Time         `json:"timeoutDate"`
	ExpiryDate     *time.Time        `json:"expiryDate,omitempty"`
	ExpiryMinutes  int               `json:"expiryMinutes"`
	AccountID      string            `json:"accountId,omitempty"`
	ProjectKey     string            `json:"projectKey,omitempty"`
}
