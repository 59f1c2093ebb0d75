// Package jobs owns the render job lifecycle: a persistent FIFO queue with
// bounded per-mode concurrency, crash recovery, cancellation, progress
// events, webhook notification, and workdir cleanup.
package jobs

import (
	"encoding/json"
	"time"

	"gorm.io/gorm"

	"github.com/reelforge/renderd/internal/media"
)

// Status is the job lifecycle state. Transitions are append-only:
// queued -> preparing -> processing -> done | failed, with cancelled
// reachable from queued, preparing, and processing. Terminal states are
// absorbing.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusPreparing  Status = "preparing"
	StatusProcessing Status = "processing"
	StatusDone       Status = "done"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// Terminal reports whether the status is absorbing.
func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusFailed || s == StatusCancelled
}

// Job is the in-memory job view.
type Job struct {
	ID      string              `json:"id"`
	Mode    media.Mode          `json:"mode"`
	Status  Status              `json:"status"`
	Stage   string              `json:"stage,omitempty"`
	Request media.RenderRequest `json:"request"`
	Result  *media.RenderResult `json:"result,omitempty"`
	Error   string              `json:"error,omitempty"`

	// QueuePosition is the number of queued jobs ahead of this one. It is
	// derived at read time, only meaningful while queued, and eventually
	// consistent with the scheduler.
	QueuePosition int `json:"queuePosition,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// jobRecord is the persisted row. The request and result travel as JSON
// columns so the schema survives request-model evolution.
type jobRecord struct {
	ID        string `gorm:"primaryKey"`
	Mode      string `gorm:"index"`
	Status    string `gorm:"index"`
	Stage     string
	Payload   string `gorm:"type:text"`
	Result    string `gorm:"type:text"`
	Error     string
	CreatedAt time.Time `gorm:"index"`
	UpdatedAt time.Time
}

func (jobRecord) TableName() string { return "render_jobs" }

func toRecord(j *Job) (*jobRecord, error) {
	payload, err := json.Marshal(j.Request)
	if err != nil {
		return nil, err
	}
	rec := &jobRecord{
		ID:        j.ID,
		Mode:      string(j.Mode),
		Status:    string(j.Status),
		Stage:     j.Stage,
		Payload:   string(payload),
		Error:     j.Error,
		CreatedAt: j.CreatedAt,
		UpdatedAt: j.UpdatedAt,
	}
	if j.Result != nil {
		result, err := json.Marshal(j.Result)
		if err != nil {
			return nil, err
		}
		rec.Result = string(result)
	}
	return rec, nil
}

func fromRecord(rec *jobRecord) (*Job, error) {
	j := &Job{
		ID:        rec.ID,
		Mode:      media.Mode(rec.Mode),
		Status:    Status(rec.Status),
		Stage:     rec.Stage,
		Error:     rec.Error,
		CreatedAt: rec.CreatedAt,
		UpdatedAt: rec.UpdatedAt,
	}
	if err := json.Unmarshal([]byte(rec.Payload), &j.Request); err != nil {
		return nil, err
	}
	if rec.Result != "" {
		j.Result = &media.RenderResult{}
		if err := json.Unmarshal([]byte(rec.Result), j.Result); err != nil {
			return nil, err
		}
	}
	return j, nil
}

// Migrate creates or updates the job table.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&jobRecord{})
}
