package format

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBytes(t *testing.T) {
	tests := []struct {
		in   uint64
		want string
	}{
		{0, "0 B"},
		{512, "512 B"},
		{1536, "1.5 KB"},
		{5 * 1024 * 1024, "5.0 MB"},
		{3 << 30, "3.0 GB"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Bytes(tt.in))
	}
}

func TestNumbers(t *testing.T) {
	assert.Equal(t, "1,234,567", Number(1234567))
	assert.Equal(t, "999", NumberCompact(999))
	assert.Equal(t, "1.2M", NumberCompact(1234567))
	assert.Equal(t, "45.7%", Percentage(45.678, 1))
	assert.Equal(t, "59.9 fps", FPS(59.94))
}

func TestMicros(t *testing.T) {
	assert.Equal(t, "500µs", Micros(500))
	assert.Equal(t, "16.67ms", Micros(16667))
	assert.Equal(t, "2.50s", Micros(2_500_000))
	assert.Equal(t, "-1.00ms", Micros(-1000))
}

func TestDuration(t *testing.T) {
	assert.Equal(t, "0s", Duration(0))
	assert.Equal(t, "17ms", Duration(16_700*time.Microsecond))
	assert.Equal(t, "3.33s", Duration(3333*time.Millisecond))
	assert.Equal(t, "1m23s", Duration(83*time.Second+400*time.Millisecond))
}

func TestRelativeTime(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		t    time.Time
		want string
	}{
		{"zero", time.Time{}, "never"},
		{"seconds", now.Add(-10 * time.Second), "just now"},
		{"minute", now.Add(-time.Minute), "1 minute ago"},
		{"hours", now.Add(-3 * time.Hour), "3 hours ago"},
		{"days", now.Add(-50 * time.Hour), "2 days ago"},
		{"future", now.Add(2 * time.Hour), "in 2 hours"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, relativeTo(tt.t, now))
		})
	}

	assert.Equal(t, "-", Timestamp(time.Time{}))
}
