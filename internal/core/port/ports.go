// Package port provides the behavior interfaces that connect the scheduler
// core to its engine, storage, queue and monitoring adapters.
package port

import (
	"context"
	"time"

	"github.com/verdantgeo/raster-index-scheduler/internal/core/domain"
)

// RasterEngine evaluates a raster-algebra formula over a single input raster,
// producing one output band with the input's dimensions.
type RasterEngine interface {
	Evaluate(ctx context.Context, formula string, bandMapping map[string]int, input *domain.Raster) (*domain.Raster, error)
}

// RasterStore is the raster I/O boundary: durable GeoTIFF files plus the
// transient in-memory staging namespace. Describe must not load pixel data,
// it is what admission pricing runs on.
type RasterStore interface {
	Describe(ctx context.Context, path string) (domain.RasterInfo, error)
	Read(ctx context.Context, path string) (*domain.Raster, error)
	Write(ctx context.Context, path string, raster *domain.Raster) error
	Remove(ctx context.Context, path string) error
}

// StatsProvider computes per-band statistics of a raster file. The store
// implements it directly; a cache may wrap it.
type StatsProvider interface {
	BandStatistics(ctx context.Context, path string, band int) (domain.BandStats, error)
}

// IndexCatalog resolves index names into raster-algebra formulas.
type IndexCatalog interface {
	// Resolve returns the raw formula of a known index.
	Resolve(index string) (string, error)
	// RequiredBands lists the band symbols the fully inlined formula of the
	// index references, directly or as special function arguments.
	RequiredBands(index string) ([]string, error)
	// Expand rewrites the index formula until it is executable: nested index
	// references are inlined and per-band statistic calls are replaced with
	// the statistic of the mapped band of inputFile.
	Expand(ctx context.Context, index, inputFile string, bandMapping map[string]int) (string, error)
}

// ReportRepository persists finished batch reports.
type ReportRepository interface {
	SaveReport(ctx context.Context, report *domain.BatchReport) error
	ListBatchResults(ctx context.Context, batchID string) ([]domain.TaskResult, error)
}

// EventPublisher emits one event per recorded task result. Publishing is a
// side channel and never drives scheduling decisions.
type EventPublisher interface {
	PublishResult(ctx context.Context, batchID string, result *domain.TaskResult) error
}

// BatchMonitor records scheduler activity for operational visibility.
type BatchMonitor interface {
	SetCommittedMemory(mb float64)
	SetActiveTasks(count int)
	ObserveTask(status domain.CalculationStatus, duration time.Duration)
}
