package prometheus

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/verdantgeo/raster-index-scheduler/internal/core/domain"
)

// BatchMonitor exposes scheduler activity as Prometheus metrics. It carries
// its own registry, so repeated batch runs inside one process register
// cleanly every time.
type BatchMonitor struct {
	registry *prometheus.Registry

	committedMemory prometheus.Gauge
	activeTasks     prometheus.Gauge
	tasksTotal      *prometheus.CounterVec
	taskDuration    prometheus.Histogram

	log *zap.Logger
}

func NewBatchMonitor(log *zap.Logger) *BatchMonitor {
	m := &BatchMonitor{
		registry: prometheus.NewRegistry(),
		committedMemory: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "raster_scheduler_committed_memory_mb",
			Help: "Memory committed to admitted tasks, in megabytes.",
		}),
		activeTasks: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "raster_scheduler_active_tasks",
			Help: "Number of tasks currently calculating.",
		}),
		tasksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "raster_scheduler_tasks_total",
			Help: "Finished tasks by calculation status.",
		}, []string{"status"}),
		taskDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "raster_scheduler_task_duration_seconds",
			Help:    "Wall-clock duration of task calculations.",
			Buckets: prometheus.DefBuckets,
		}),
		log: log,
	}
	m.registry.MustRegister(m.committedMemory, m.activeTasks, m.tasksTotal, m.taskDuration)
	return m
}

func (m *BatchMonitor) SetCommittedMemory(mb float64) {
	m.committedMemory.Set(mb)
}

func (m *BatchMonitor) SetActiveTasks(count int) {
	m.activeTasks.Set(float64(count))
}

func (m *BatchMonitor) ObserveTask(status domain.CalculationStatus, duration time.Duration) {
	m.tasksTotal.WithLabelValues(string(status)).Inc()
	m.taskDuration.Observe(duration.Seconds())
}

// Serve exposes the metrics endpoint on addr until ctx is canceled. It blocks
// and is meant to run in its own goroutine.
func (m *BatchMonitor) Serve(ctx context.Context, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	server := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			m.log.Warn("Metrics server shutdown failed", zap.Error(err))
		}
	}()

	m.log.Info("Metrics endpoint listening", zap.String("addr", addr))
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		m.log.Error("Metrics server failed", zap.Error(err))
	}
}
