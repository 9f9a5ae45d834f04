package models

import (
	"time"
)

// RunStatus represents the lifecycle state of a capture run.
type RunStatus string

const (
	// RunStatusRunning indicates the capture loops are active.
	RunStatusRunning RunStatus = "running"
	// RunStatusCompleted indicates every display loop reached its frame total.
	RunStatusCompleted RunStatus = "completed"
	// RunStatusFailed indicates at least one display loop failed, or the run
	// could not start.
	RunStatusFailed RunStatus = "failed"
	// RunStatusInterrupted indicates the run was stopped before completion.
	RunStatusInterrupted RunStatus = "interrupted"
)

// Valid reports whether s is a known status.
func (s RunStatus) Valid() bool {
	switch s {
	case RunStatusRunning, RunStatusCompleted, RunStatusFailed, RunStatusInterrupted:
		return true
	}
	return false
}

// CaptureRun is one invocation of the capture command.
type CaptureRun struct {
	BaseModel

	Status RunStatus `gorm:"not null;default:'running';size:20;index" json:"status"`

	// Backend is the capture backend (screen, synthetic).
	Backend string `gorm:"size:50" json:"backend"`

	// Encoder is the encoder name, e.g. "ffmpeg/h264_vaapi".
	Encoder string `gorm:"size:100" json:"encoder"`

	FramesPerDisplay int   `json:"frames_per_display"`
	TargetIntervalUs int64 `json:"target_interval_us"`
	EagerRetry       bool  `json:"eager_retry"`

	// Host describes the machine the run was captured on.
	Hostname         string `gorm:"size:255" json:"hostname,omitempty"`
	OS               string `gorm:"size:50" json:"os,omitempty"`
	Platform         string `gorm:"size:100" json:"platform,omitempty"`
	CPUModel         string `gorm:"size:255" json:"cpu_model,omitempty"`
	CPUCores         int    `json:"cpu_cores,omitempty"`
	MemoryTotalBytes uint64 `json:"memory_total_bytes,omitempty"`

	// ConfigSnapshot is the effective configuration as YAML.
	ConfigSnapshot string `gorm:"type:text" json:"config_snapshot,omitempty"`

	StartedAt  Time  `gorm:"index" json:"started_at"`
	FinishedAt *Time `json:"finished_at,omitempty"`

	// Captured is the total number of frames captured across displays.
	Captured int `json:"captured"`

	LastError string `gorm:"size:4096" json:"last_error,omitempty"`

	Displays []DisplayResult `gorm:"foreignKey:RunID;constraint:OnDelete:CASCADE" json:"displays,omitempty"`
}

// TableName returns the table name for CaptureRun.
func (CaptureRun) TableName() string {
	return "capture_runs"
}

// Validate checks the run for required fields.
func (r *CaptureRun) Validate() error {
	if !r.Status.Valid() {
		return ErrInvalidRunStatus
	}
	if r.FramesPerDisplay < 1 {
		return ErrValidation{Field: "frames_per_display", Message: "must be at least 1"}
	}
	return nil
}

// Duration returns how long the run took, or how long it has been running.
func (r *CaptureRun) Duration() time.Duration {
	if r.FinishedAt != nil {
		return r.FinishedAt.Sub(r.StartedAt)
	}
	return time.Since(r.StartedAt)
}

// IsFinished reports whether the run has left the running state.
func (r *CaptureRun) IsFinished() bool {
	return r.Status != RunStatusRunning
}

// DisplayResult is the terminal outcome of one display loop within a run.
type DisplayResult struct {
	BaseModel

	RunID        ULID   `gorm:"type:varchar(26);not null;uniqueIndex:idx_display_results_run_display" json:"run_id"`
	DisplayIndex int    `gorm:"not null;uniqueIndex:idx_display_results_run_display" json:"display_index"`
	Name         string `gorm:"size:255" json:"name,omitempty"`
	Width        int    `json:"width"`
	Height       int    `json:"height"`

	// State is the loop's terminal state (terminated, failed, stopped).
	State        string `gorm:"size:20;index" json:"state"`
	Captured     int    `json:"captured"`
	Recoveries   int    `json:"recoveries"`
	LastSequence uint64 `json:"last_sequence"`
	Error        string `gorm:"size:4096" json:"error,omitempty"`
}

// TableName returns the table name for DisplayResult.
func (DisplayResult) TableName() string {
	return "display_results"
}
