package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/verdantgeo/raster-index-scheduler/internal/core/domain"
	"github.com/verdantgeo/raster-index-scheduler/internal/core/port"
)

// saveRequest asks the save worker to finalize one computed item. Items whose
// calculation failed still pass through, so the staging area gets cleaned and
// the batch loop keeps a single point where task memory is released.
type saveRequest struct {
	item   domain.WorkItem
	result domain.TaskResult
}

// saveOutcome is the completed result of a save request.
type saveOutcome struct {
	item   domain.WorkItem
	result domain.TaskResult
}

// saveWorker drains computed rasters out of the staging area one at a time,
// moving each to its final path.
type saveWorker struct {
	store port.RasterStore
	log   *zap.Logger
}

func newSaveWorker(store port.RasterStore, log *zap.Logger) *saveWorker {
	return &saveWorker{store: store, log: log}
}

// Run consumes requests until the channel closes. Outcomes are delivered in
// request order.
func (w *saveWorker) Run(ctx context.Context, requests <-chan saveRequest, outcomes chan<- saveOutcome) {
	for req := range requests {
		outcomes <- saveOutcome{item: req.item, result: w.persist(ctx, req)}
	}
}

// persist moves the staged raster to its final location. For items whose
// calculation failed it only discards staged leftovers.
func (w *saveWorker) persist(ctx context.Context, req saveRequest) domain.TaskResult {
	item, result := req.item, req.result

	if result.CalculationStatus != domain.CalculationStatusSuccess {
		w.discardStaging(ctx, item)
		return result
	}

	// With the in-memory output directory the staged file already is the
	// final output; moving it onto itself would destroy it.
	if item.StagingPath == item.OutputPath {
		result.OutputFile = item.OutputPath
		result.SavingStatus = domain.SavingStatusSuccess
		return result
	}

	raster, err := w.store.Read(ctx, item.StagingPath)
	if err != nil {
		return w.saveFailed(ctx, item, result, err)
	}
	if err := w.store.Write(ctx, item.OutputPath, raster); err != nil {
		return w.saveFailed(ctx, item, result, err)
	}
	w.discardStaging(ctx, item)

	result.OutputFile = item.OutputPath
	result.SavingStatus = domain.SavingStatusSuccess
	w.log.Debug("Result saved", zap.String("output_file", item.OutputPath))
	return result
}

func (w *saveWorker) saveFailed(ctx context.Context, item domain.WorkItem, result domain.TaskResult, err error) domain.TaskResult {
	w.log.Error("Failed to save result",
		zap.String("index", item.Index),
		zap.String("output_file", item.OutputPath),
		zap.Error(err))
	w.discardStaging(ctx, item)
	result.SavingStatus = fmt.Sprintf("error - %v", err)
	return result
}

// discardStaging drops the staged raster, tolerating items that never staged
// anything. Staging is left alone when it doubles as the final output.
func (w *saveWorker) discardStaging(ctx context.Context, item domain.WorkItem) {
	if item.StagingPath == "" || item.StagingPath == item.OutputPath {
		return
	}
	if err := w.store.Remove(ctx, item.StagingPath); err != nil {
		w.log.Warn("Failed to discard staged raster",
			zap.String("staging_path", item.StagingPath),
			zap.Error(err))
	}
}
