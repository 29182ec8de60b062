package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/verdantgeo/raster-index-scheduler/internal/core/domain"
)

func computeItem() domain.WorkItem {
	return domain.WorkItem{
		Seq:               3,
		InputFile:         "field.tiff",
		Index:             "ExG",
		Formula:           "2 * G - R - B",
		BandMapping:       rgbMapping(),
		StagingPath:       "/vsimem/field_ExG.tiff",
		OutputPath:        "/output/field_ExG.tiff",
		EstimatedMemoryMB: 5,
	}
}

func runCompute(t *testing.T, engine *fakeEngine, store *fakeStore, item domain.WorkItem) domain.TaskResult {
	t.Helper()
	outcomes := make(chan computeOutcome, 1)
	newComputeRunner(engine, store, zap.NewNop()).Run(context.Background(), item, outcomes)
	out := <-outcomes
	require.Equal(t, item.Seq, out.item.Seq)
	return out.result
}

func TestComputeRunnerStagesResult(t *testing.T) {
	t.Parallel()

	engine := &fakeEngine{}
	store := newFakeStore()
	result := runCompute(t, engine, store, computeItem())

	assert.Equal(t, domain.CalculationStatusSuccess, result.CalculationStatus)
	assert.Empty(t, result.Message)
	assert.Empty(t, result.SavingStatus, "saving is not the runner's call")
	assert.InDelta(t, 5.0, result.EstimatedMemoryMB, 1e-9)
	assert.True(t, store.has("/vsimem/field_ExG.tiff"))
}

func TestComputeRunnerStatusMapping(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		setup       func(engine *fakeEngine, store *fakeStore)
		wantStatus  domain.CalculationStatus
		wantMessage string
	}{
		{
			name: "unreadable input",
			setup: func(engine *fakeEngine, store *fakeStore) {
				store.readErr["field.tiff"] = errors.New("corrupt header")
			},
			wantStatus:  domain.CalculationStatusException,
			wantMessage: "read input raster: corrupt header",
		},
		{
			name: "formula rejection",
			setup: func(engine *fakeEngine, store *fakeStore) {
				engine.evalErr = map[string]error{
					"2 * G - R - B": &domain.EvaluationError{Formula: "2 * G - R - B", Reason: `unknown symbol "Q"`},
				}
			},
			wantStatus:  domain.CalculationStatusError,
			wantMessage: `evaluate "2 * G - R - B": unknown symbol "Q"`,
		},
		{
			name: "engine failure",
			setup: func(engine *fakeEngine, store *fakeStore) {
				engine.evalErr = map[string]error{"2 * G - R - B": errors.New("raster driver crashed")}
			},
			wantStatus:  domain.CalculationStatusException,
			wantMessage: "raster driver crashed",
		},
		{
			name: "staging failure",
			setup: func(engine *fakeEngine, store *fakeStore) {
				store.writeErr["/vsimem/field_ExG.tiff"] = errors.New("no space")
			},
			wantStatus:  domain.CalculationStatusException,
			wantMessage: "stage result: no space",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			engine := &fakeEngine{}
			store := newFakeStore()
			tt.setup(engine, store)

			result := runCompute(t, engine, store, computeItem())
			assert.Equal(t, tt.wantStatus, result.CalculationStatus)
			assert.Equal(t, tt.wantMessage, result.Message)
			assert.Empty(t, result.OutputFile)
		})
	}
}
