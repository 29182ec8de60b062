package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTaskResultSucceeded(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		result TaskResult
		want   bool
	}{
		{
			name:   "calculated and saved",
			result: TaskResult{CalculationStatus: CalculationStatusSuccess, SavingStatus: SavingStatusSuccess},
			want:   true,
		},
		{
			name:   "calculated but never saved",
			result: TaskResult{CalculationStatus: CalculationStatusSuccess},
			want:   false,
		},
		{
			name:   "save failed",
			result: TaskResult{CalculationStatus: CalculationStatusSuccess, SavingStatus: "error - disk full"},
			want:   false,
		},
		{
			name:   "rejected input",
			result: TaskResult{CalculationStatus: CalculationStatusError, SavingStatus: SavingStatusSuccess},
			want:   false,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tt.want, tt.result.Succeeded())
		})
	}
}

func TestWorkItemDescription(t *testing.T) {
	t.Parallel()

	item := &WorkItem{Index: "ExG_wernette"}
	assert.Equal(t, "Calculate ExG_wernette", item.Description())
}
