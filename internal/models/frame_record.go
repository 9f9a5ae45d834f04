package models

import (
	"gorm.io/gorm"
)

// FrameRecord is one capture tick of one display: a frame or a cursor-only
// update, with its present timestamp in microseconds.
type FrameRecord struct {
	ID ULID `gorm:"primarykey;type:varchar(26)" json:"id"`

	RunID        ULID   `gorm:"type:varchar(26);not null;index:idx_frame_records_order,priority:1" json:"run_id"`
	DisplayIndex int    `gorm:"not null;index:idx_frame_records_order,priority:2" json:"display"`
	Sequence     uint64 `gorm:"not null;index:idx_frame_records_order,priority:3" json:"sequence"`

	AccumulatedFrames  uint32 `json:"accumulated"`
	PresentationMicros int64  `json:"pts_us"`
	IntervalMicros     int64  `json:"interval_us"`
	CursorOnly         bool   `json:"cursor_only"`
	MouseUpdateTicks   int64  `json:"mouse_ticks,omitempty"`

	CapturedAt Time `gorm:"not null" json:"captured_at"`
}

// TableName returns the table name for FrameRecord.
func (FrameRecord) TableName() string {
	return "frame_records"
}

// BeforeCreate generates a ULID if not already set.
func (f *FrameRecord) BeforeCreate(*gorm.DB) error {
	if f.ID.IsZero() {
		f.ID = NewULID()
	}
	return nil
}

// Validate checks the record for required fields.
func (f *FrameRecord) Validate() error {
	if f.RunID.IsZero() {
		return ErrRunIDRequired
	}
	if f.DisplayIndex < 0 {
		return ErrValidation{Field: "display", Message: "must not be negative"}
	}
	return nil
}
