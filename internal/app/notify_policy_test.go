package app

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func boolPtr(v bool) *bool {
	return &v
}

func TestNotifyPolicy_ShouldNotify(t *testing.T) {
	tests := []struct {
		name      string
		policy    NotifyPolicy
		previous  *bool
		available bool
		expected  bool
	}{
		{"edge: unknown to available", NotifyOnEdge, nil, true, true},
		{"edge: unavailable to available", NotifyOnEdge, boolPtr(false), true, true},
		{"edge: available to available", NotifyOnEdge, boolPtr(true), true, false},
		{"edge: available to unavailable", NotifyOnEdge, boolPtr(true), false, false},
		{"edge: unknown to unavailable", NotifyOnEdge, nil, false, false},
		{"every: available to available", NotifyEveryCycle, boolPtr(true), true, true},
		{"every: unavailable", NotifyEveryCycle, boolPtr(false), false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.policy.ShouldNotify(tt.previous, tt.available))
		})
	}
}

func TestParseNotifyPolicy(t *testing.T) {
	tests := []struct {
		input    string
		expected NotifyPolicy
		wantErr  bool
	}{
		{"", NotifyOnEdge, false},
		{"edge", NotifyOnEdge, false},
		{" EVERY ", NotifyEveryCycle, false},
		{"sometimes", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseNotifyPolicy(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}
