package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/verdantgeo/raster-index-scheduler/internal/core/domain"
	"github.com/verdantgeo/raster-index-scheduler/internal/core/port"
)

// computeOutcome carries a finished calculation back to the batch loop. The
// result still lacks its saving status; that is the save worker's to fill.
type computeOutcome struct {
	item   domain.WorkItem
	result domain.TaskResult
}

// computeRunner executes one work item: read the input raster, evaluate the
// formula over it and stage the output band in the in-memory namespace.
type computeRunner struct {
	engine port.RasterEngine
	store  port.RasterStore
	log    *zap.Logger
}

func newComputeRunner(engine port.RasterEngine, store port.RasterStore, log *zap.Logger) *computeRunner {
	return &computeRunner{engine: engine, store: store, log: log}
}

// Run is started once per admitted item and always delivers exactly one
// outcome. A failure never escapes as an error: it is folded into the result,
// so one broken item cannot take the batch down. Formula rejections count as
// calculation errors; anything else is an exception.
func (c *computeRunner) Run(ctx context.Context, item domain.WorkItem, outcomes chan<- computeOutcome) {
	start := time.Now()
	result := domain.TaskResult{
		Index:             item.Index,
		InputFile:         item.InputFile,
		CalculationStatus: domain.CalculationStatusSuccess,
		EstimatedMemoryMB: item.EstimatedMemoryMB,
	}

	if err := c.execute(ctx, item); err != nil {
		var evalErr *domain.EvaluationError
		if errors.As(err, &evalErr) {
			result.CalculationStatus = domain.CalculationStatusError
		} else {
			result.CalculationStatus = domain.CalculationStatusException
		}
		result.Message = err.Error()
		c.log.Warn("Task calculation failed",
			zap.String("index", item.Index),
			zap.String("input_file", item.InputFile),
			zap.Error(err))
	}

	result.TimeSpent = time.Since(start)
	outcomes <- computeOutcome{item: item, result: result}
}

func (c *computeRunner) execute(ctx context.Context, item domain.WorkItem) error {
	input, err := c.store.Read(ctx, item.InputFile)
	if err != nil {
		return fmt.Errorf("read input raster: %w", err)
	}

	output, err := c.engine.Evaluate(ctx, item.Formula, item.BandMapping, input)
	if err != nil {
		return err
	}

	if err := c.store.Write(ctx, item.StagingPath, output); err != nil {
		return fmt.Errorf("stage result: %w", err)
	}
	return nil
}
