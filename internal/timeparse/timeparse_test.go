package timeparse

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Wednesday.
var now = time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC)

func TestParseCompactDuration(t *testing.T) {
	tests := []struct {
		input   string
		want    time.Time
		wantErr bool
	}{
		{input: "-30d", want: time.Date(2024, 12, 16, 10, 0, 0, 0, time.UTC)},
		{input: "+6h", want: time.Date(2025, 1, 15, 16, 0, 0, 0, time.UTC)},
		{input: "-2w", want: time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)},
		{input: "1y", want: time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)},
		{input: "-1m", want: time.Date(2024, 12, 15, 10, 0, 0, 0, time.UTC)},
		{input: "1x", wantErr: true},
		{input: "++1d", wantErr: true},
		{input: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseCompactDuration(tt.input, now)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "got %v", got)
		})
	}
}

func TestParseLayers(t *testing.T) {
	got, err := Parse("-1d", now)
	require.NoError(t, err)
	assert.True(t, now.AddDate(0, 0, -1).Equal(got))

	got, err = Parse("2025-03-15T14:30:00Z", now)
	require.NoError(t, err)
	assert.Equal(t, 14, got.Hour())

	got, err = Parse("2025-02-01", now)
	require.NoError(t, err)
	assert.True(t, time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC).Equal(got))

	got, err = Parse("yesterday", now)
	require.NoError(t, err)
	assert.Equal(t, 14, got.Day())

	_, err = Parse("not-a-date", now)
	assert.Error(t, err)
	_, err = Parse("  ", now)
	assert.Error(t, err)
}
