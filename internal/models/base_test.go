package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewULID(t *testing.T) {
	id := NewULID()
	assert.False(t, id.IsZero(), "NewULID should generate a non-zero ID")

	id2 := NewULID()
	assert.NotEqual(t, id, id2, "two NewULID calls should produce different IDs")
	assert.Less(t, id.String(), id2.String(), "IDs from one process should be increasing")
}

func TestParseULID(t *testing.T) {
	t.Run("valid ULID string", func(t *testing.T) {
		original := NewULID()
		parsed, err := ParseULID(original.String())
		require.NoError(t, err)
		assert.Equal(t, original, parsed)
	})

	t.Run("invalid ULID string", func(t *testing.T) {
		_, err := ParseULID("not-a-valid-ulid")
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "invalid ULID")
	})

	t.Run("empty string", func(t *testing.T) {
		_, err := ParseULID("")
		assert.Error(t, err)
	})
}

func TestULID_Time(t *testing.T) {
	before := time.Now().Truncate(time.Millisecond)
	id := NewULID()
	assert.False(t, id.Time().Before(before))
	assert.WithinDuration(t, time.Now(), id.Time(), time.Second)
}

func TestULID_Value(t *testing.T) {
	t.Run("zero ULID returns nil", func(t *testing.T) {
		var zero ULID
		val, err := zero.Value()
		require.NoError(t, err)
		assert.Nil(t, val)
	})

	t.Run("non-zero ULID returns string", func(t *testing.T) {
		id := NewULID()
		val, err := id.Value()
		require.NoError(t, err)
		assert.Equal(t, id.String(), val)
	})
}

func TestULID_Scan(t *testing.T) {
	validID := NewULID()
	validStr := validID.String()

	tests := []struct {
		name      string
		input     any
		expected  ULID
		expectErr bool
	}{
		{"nil sets zero", nil, ULID{}, false},
		{"valid string", validStr, validID, false},
		{"empty string sets zero", "", ULID{}, false},
		{"valid []byte", []byte(validStr), validID, false},
		{"empty []byte sets zero", []byte{}, ULID{}, false},
		{"invalid string", "bad-ulid", ULID{}, true},
		{"unsupported type int", 12345, ULID{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var u ULID
			err := u.Scan(tt.input)
			if tt.expectErr {
				assert.Error(t, err)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.expected, u)
			}
		})
	}
}

func TestULID_JSON(t *testing.T) {
	type wrapper struct {
		ID ULID `json:"id"`
	}

	t.Run("zero ULID marshals to empty string", func(t *testing.T) {
		data, err := json.Marshal(wrapper{})
		require.NoError(t, err)
		assert.JSONEq(t, `{"id":""}`, string(data))
	})

	t.Run("non-zero roundtrip", func(t *testing.T) {
		original := wrapper{ID: NewULID()}
		data, err := json.Marshal(original)
		require.NoError(t, err)
		assert.Contains(t, string(data), original.ID.String())

		var decoded wrapper
		require.NoError(t, json.Unmarshal(data, &decoded))
		assert.Equal(t, original.ID, decoded.ID)
	})

	t.Run("invalid ULID errors", func(t *testing.T) {
		var decoded wrapper
		err := json.Unmarshal([]byte(`{"id":"not-a-ulid"}`), &decoded)
		assert.Error(t, err)
	})
}

func TestBaseModel_BeforeCreate(t *testing.T) {
	t.Run("generates ID when zero", func(t *testing.T) {
		m := &BaseModel{}
		require.NoError(t, m.BeforeCreate(nil))
		assert.False(t, m.ID.IsZero())
	})

	t.Run("preserves existing ID", func(t *testing.T) {
		existing := NewULID()
		m := &BaseModel{ID: existing}
		require.NoError(t, m.BeforeCreate(nil))
		assert.Equal(t, existing, m.ID)
	})
}

func TestCaptureRun_Validate(t *testing.T) {
	tests := []struct {
		name    string
		run     CaptureRun
		wantErr error
	}{
		{"valid", CaptureRun{Status: RunStatusRunning, FramesPerDisplay: 200}, nil},
		{"unknown status", CaptureRun{Status: "paused", FramesPerDisplay: 200}, ErrInvalidRunStatus},
		{"empty status", CaptureRun{FramesPerDisplay: 200}, ErrInvalidRunStatus},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.run.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	t.Run("frames", func(t *testing.T) {
		run := CaptureRun{Status: RunStatusCompleted}
		var verr ErrValidation
		require.ErrorAs(t, run.Validate(), &verr)
		assert.Equal(t, "frames_per_display", verr.Field)
	})
}

func TestCaptureRun_Duration(t *testing.T) {
	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	finish := start.Add(3 * time.Second)
	run := CaptureRun{StartedAt: start, FinishedAt: &finish, Status: RunStatusCompleted}
	assert.Equal(t, 3*time.Second, run.Duration())
	assert.True(t, run.IsFinished())

	running := CaptureRun{StartedAt: time.Now().Add(-time.Second), Status: RunStatusRunning}
	assert.GreaterOrEqual(t, running.Duration(), time.Second)
	assert.False(t, running.IsFinished())
}

func TestFrameRecord_Validate(t *testing.T) {
	assert.ErrorIs(t, (&FrameRecord{}).Validate(), ErrRunIDRequired)
	assert.Error(t, (&FrameRecord{RunID: NewULID(), DisplayIndex: -1}).Validate())
	assert.NoError(t, (&FrameRecord{RunID: NewULID(), CursorOnly: true}).Validate())

	rec := &FrameRecord{}
	require.NoError(t, rec.BeforeCreate(nil))
	assert.False(t, rec.ID.IsZero())
}
