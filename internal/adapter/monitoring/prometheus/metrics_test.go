package prometheus

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/verdantgeo/raster-index-scheduler/internal/core/domain"
)

func TestBatchMonitorTracksSchedulerState(t *testing.T) {
	t.Parallel()

	m := NewBatchMonitor(zap.NewNop())

	m.SetCommittedMemory(37.5)
	m.SetActiveTasks(3)
	m.ObserveTask(domain.CalculationStatusSuccess, 250*time.Millisecond)
	m.ObserveTask(domain.CalculationStatusSuccess, 100*time.Millisecond)
	m.ObserveTask(domain.CalculationStatusError, 10*time.Millisecond)

	assert.Equal(t, 37.5, testutil.ToFloat64(m.committedMemory))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.activeTasks))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.tasksTotal.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.tasksTotal.WithLabelValues("error")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.taskDuration))
}

func TestBatchMonitorRegistersAllCollectors(t *testing.T) {
	t.Parallel()

	m := NewBatchMonitor(zap.NewNop())
	m.ObserveTask(domain.CalculationStatusException, time.Second)

	families, err := m.registry.Gather()
	require.NoError(t, err)

	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.ElementsMatch(t, []string{
		"raster_scheduler_committed_memory_mb",
		"raster_scheduler_active_tasks",
		"raster_scheduler_tasks_total",
		"raster_scheduler_task_duration_seconds",
	}, names)
}
