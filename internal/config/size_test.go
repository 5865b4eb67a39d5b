package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSize(t *testing.T) {
	tests := []struct {
		input string
		want  int64
	}{
		{"", 0},
		{"0", 0},
		{"  ", 0},
		{"4096", 4096},
		{"100B", 100},
		{"1KB", 1000},
		{"1KiB", 1024},
		{"500k", 500_000},
		{"10MB", 10_000_000},
		{"10MiB", 10_485_760},
		{"1.5 GB", 1_500_000_000},
		{"4gib", 4 << 30},
		{"1TB", 1_000_000_000_000},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseSize(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseSize_Invalid(t *testing.T) {
	for _, input := range []string{"abc", "MB", "12 parsecs"} {
		t.Run(input, func(t *testing.T) {
			_, err := ParseSize(input)
			require.Error(t, err)
			assert.Contains(t, err.Error(), "invalid size")
		})
	}
}

func TestParseSize_Negative(t *testing.T) {
	for _, input := range []string{"-1", "-5MB", "-1GiB"} {
		t.Run(input, func(t *testing.T) {
			_, err := ParseSize(input)
			require.Error(t, err)
			assert.Contains(t, err.Error(), "must be non-negative")
		})
	}
}
