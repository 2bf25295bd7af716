package gateway

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDuration(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected time.Duration
		wantErr  bool
	}{
		{
			name:     "12 hours",
			input:    "12h",
			expected: 12 * time.Hour,
		},
		{
			name:     "7 days",
			input:    "7d",
			expected: 7 * 24 * time.Hour,
		},
		{
			name:     "2 weeks",
			input:    "2w",
			expected: 14 * 24 * time.Hour,
		},
		{
			name:     "3 months (approximated as 90 days)",
			input:    "3m",
			expected: 90 * 24 * time.Hour,
		},
		{
			name:     "1 year (approximated as 365 days)",
			input:    "1y",
			expected: 365 * 24 * time.Hour,
		},
		{
			name:    "invalid format - no number",
			input:   "d",
			wantErr: true,
		},
		{
			name:    "invalid format - no unit",
			input:   "7",
			wantErr: true,
		},
		{
			name:    "invalid unit",
			input:   "7x",
			wantErr: true,
		},
		{
			name:    "empty string",
			input:   "",
			wantErr: true,
		},
		{
			name:    "negative number",
			input:   "-7d",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseDuration(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.expected, got)
			}
		})
	}
}

func TestSinceTime(t *testing.T) {
	now := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)

	got, err := SinceTime("7d", now)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, time.Date(2024, 5, 3, 12, 0, 0, 0, time.UTC), *got)

	got, err = SinceTime("", now)
	require.NoError(t, err)
	assert.Nil(t, got, "empty since means no bound")

	_, err = SinceTime("invalid", now)
	assert.Error(t, err)
}
