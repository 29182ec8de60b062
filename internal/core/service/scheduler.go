// Package service contains the batch scheduler: FIFO admission control over a
// memory budget, bounded-concurrency calculation and sequential persistence.
package service

import (
	"context"
	"fmt"
	"math"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/verdantgeo/raster-index-scheduler/internal/core/domain"
	"github.com/verdantgeo/raster-index-scheduler/internal/core/port"
)

type schedulerService struct {
	request *domain.BatchRequest
	engine  port.RasterEngine
	store   port.RasterStore
	catalog port.IndexCatalog
	events  port.EventPublisher
	monitor port.BatchMonitor
	log     *zap.Logger
}

// NewSchedulerService wires a scheduler for one batch request. The event
// publisher and the monitor are optional; nil disables them.
func NewSchedulerService(
	request *domain.BatchRequest,
	engine port.RasterEngine,
	store port.RasterStore,
	catalog port.IndexCatalog,
	events port.EventPublisher,
	monitor port.BatchMonitor,
	log *zap.Logger,
) *schedulerService {
	if events == nil {
		events = nopPublisher{}
	}
	if monitor == nil {
		monitor = nopMonitor{}
	}
	return &schedulerService{
		request: request,
		engine:  engine,
		store:   store,
		catalog: catalog,
		events:  events,
		monitor: monitor,
		log:     log,
	}
}

// Execute runs the whole batch and returns one result per (input file, index)
// pair, in request order. Failures of individual items are folded into their
// results; the returned error is reserved for configuration problems and for
// context cancellation, which still yields the partial report.
func (s *schedulerService) Execute(ctx context.Context) (*domain.BatchReport, error) {
	// 1. Reject bad configurations before anything executes
	if err := s.request.Validate(); err != nil {
		return nil, err
	}
	if err := s.validateIndices(); err != nil {
		return nil, err
	}

	start := time.Now()
	run := s.newBatchRun()
	s.log.Info("Batch started",
		zap.String("batch_id", run.id),
		zap.Int("input_files", len(s.request.InputFiles)),
		zap.Int("indices", len(s.request.SelectedIndices)),
		zap.Float64("max_memory_mb", s.request.MaxMemoryUsageMB),
		zap.Int("max_active_tasks", s.request.MaxActiveTasks))

	// 2. Price and queue the work
	run.queue = s.buildWorkItems(ctx, run)
	run.saveRequests = make(chan saveRequest, len(run.queue)+1)

	// 3. Start the save worker; it must drain even when the batch context
	// fires, so the items already computed still reach their final paths.
	saver := newSaveWorker(s.store, s.log.Named("saver"))
	saverStopped := make(chan struct{})
	go func() {
		defer close(saverStopped)
		saver.Run(context.WithoutCancel(ctx), run.saveRequests, run.saveOutcomes)
	}()

	// 4. Admit, dispatch and record until every item has a result
	run.loop(ctx)
	close(run.saveRequests)
	<-saverStopped

	report := &domain.BatchReport{
		BatchID:   run.id,
		Results:   run.results,
		TotalTime: time.Since(start),
	}
	s.log.Info("Batch finished",
		zap.String("batch_id", run.id),
		zap.Int("succeeded", report.Succeeded()),
		zap.Int("failed", report.Failed()),
		zap.Duration("total_time", report.TotalTime))

	if run.canceled {
		return report, ctx.Err()
	}
	return report, nil
}

// validateIndices rejects the batch when an index is unknown or the band
// mapping does not cover a band its formula needs.
func (s *schedulerService) validateIndices() error {
	for _, index := range s.request.SelectedIndices {
		bands, err := s.catalog.RequiredBands(index)
		if err != nil {
			return &domain.ConfigurationError{Reason: fmt.Sprintf("unsupported index: %s", index)}
		}
		for _, band := range bands {
			if _, ok := s.request.BandMapping[band]; !ok {
				return &domain.ConfigurationError{
					Reason: fmt.Sprintf("index %s needs band %q which is not mapped", index, band),
				}
			}
		}
	}
	return nil
}

// buildWorkItems prices every (input file, index) pair and builds the FIFO
// work queue. Pairs that cannot be built at all — unreadable input, formula
// expansion failure — are recorded as failed results right away instead of
// entering the queue.
func (s *schedulerService) buildWorkItems(ctx context.Context, run *batchRun) []domain.WorkItem {
	type described struct {
		info domain.RasterInfo
		err  error
	}
	infos := make(map[string]described, len(s.request.InputFiles))

	queue := make([]domain.WorkItem, 0, run.total)
	seq := 0
	for _, file := range s.request.InputFiles {
		d, ok := infos[file]
		if !ok {
			d.info, d.err = s.store.Describe(ctx, file)
			infos[file] = d
		}
		stem := strings.TrimSuffix(filepath.Base(file), filepath.Ext(file))

		for _, index := range s.request.SelectedIndices {
			item := domain.WorkItem{
				Seq:         seq,
				InputFile:   file,
				Index:       index,
				BandMapping: s.request.BandMapping,
			}
			seq++

			if d.err != nil {
				run.record(ctx, item, failedResult(item, domain.CalculationStatusException,
					fmt.Sprintf("invalid raster file %s: %v", file, d.err)))
				continue
			}

			formula, err := s.catalog.Expand(ctx, index, file, s.request.BandMapping)
			if err != nil {
				run.record(ctx, item, failedResult(item, domain.CalculationStatusException, err.Error()))
				continue
			}

			name := fmt.Sprintf("%s_%s.tiff", stem, index)
			item.Formula = formula
			item.EstimatedMemoryMB = d.info.TaskMemoryMB()
			item.StagingPath = domain.InMemoryNamespace + name
			item.OutputPath = filepath.Join(s.request.OutputDir, name)
			queue = append(queue, item)
		}
	}
	return queue
}

func (s *schedulerService) newBatchRun() *batchRun {
	total := len(s.request.InputFiles) * len(s.request.SelectedIndices)
	return &batchRun{
		svc:             s,
		id:              uuid.NewString(),
		total:           total,
		step:            100 / float64(total),
		budgetMB:        s.request.MaxMemoryUsageMB,
		maxActive:       s.request.MaxActiveTasks,
		results:         make([]domain.TaskResult, total),
		compute:         newComputeRunner(s.engine, s.store, s.log.Named("compute")),
		computeOutcomes: make(chan computeOutcome, s.request.MaxActiveTasks),
		saveOutcomes:    make(chan saveOutcome, 1),
	}
}

// batchRun is the single-writer state of one Execute call. Only the loop
// goroutine touches it: compute goroutines and the save worker communicate
// through channels, so the queue, the memory ledger and the results need no
// locking.
type batchRun struct {
	svc       *schedulerService
	id        string
	total     int
	step      float64
	budgetMB  float64
	maxActive int

	queue       []domain.WorkItem
	committedMB float64
	inFlight    int
	canceled    bool

	results []domain.TaskResult
	done    int

	compute         *computeRunner
	computeOutcomes chan computeOutcome
	saveRequests    chan saveRequest
	saveOutcomes    chan saveOutcome
}

// loop admits, dispatches and records until every work item has a result.
// Cancellation stops admission and fails the queued remainder; items already
// running keep draining through the regular path.
func (r *batchRun) loop(ctx context.Context) {
	done := ctx.Done()
	for r.done < r.total {
		r.admit(ctx)

		select {
		case <-done:
			done = nil
			r.cancelQueued(ctx)
		case out := <-r.computeOutcomes:
			r.inFlight--
			r.svc.monitor.SetActiveTasks(r.inFlight)
			r.saveRequests <- saveRequest{item: out.item, result: out.result}
		case out := <-r.saveOutcomes:
			// The single release point of the memory ledger: a task's
			// budget share stays committed until its output is saved
			// or discarded.
			r.committedMB -= out.item.EstimatedMemoryMB
			r.svc.monitor.SetCommittedMemory(r.committedMB)
			r.record(ctx, out.item, out.result)
		}
	}
}

// admit starts queued items while the head fits under both the memory budget
// and the concurrency cap. Admission is strictly FIFO: when the head does not
// fit, everything behind it waits, whatever its cost.
func (r *batchRun) admit(ctx context.Context) {
	for !r.canceled && len(r.queue) > 0 {
		head := r.queue[0]

		// A head that can never fit is failed and dropped so it cannot
		// wedge the queue forever.
		if head.EstimatedMemoryMB > r.budgetMB {
			r.queue = r.queue[1:]
			capErr := &domain.CapacityError{
				Task:        head.Description(),
				EstimatedMB: head.EstimatedMemoryMB,
				BudgetMB:    r.budgetMB,
			}
			r.record(ctx, head, failedResult(head, domain.CalculationStatusError, capErr.Error()))
			continue
		}

		if r.inFlight >= r.maxActive || r.committedMB+head.EstimatedMemoryMB > r.budgetMB {
			return
		}

		r.queue = r.queue[1:]
		r.committedMB += head.EstimatedMemoryMB
		r.inFlight++
		r.svc.monitor.SetCommittedMemory(r.committedMB)
		r.svc.monitor.SetActiveTasks(r.inFlight)
		r.svc.log.Debug("Task admitted",
			zap.String("index", head.Index),
			zap.String("input_file", head.InputFile),
			zap.Float64("estimated_mb", head.EstimatedMemoryMB),
			zap.Float64("committed_mb", r.committedMB),
			zap.Int("in_flight", r.inFlight))
		go r.compute.Run(ctx, head, r.computeOutcomes)
	}
}

// cancelQueued fails every item still waiting for admission.
func (r *batchRun) cancelQueued(ctx context.Context) {
	r.canceled = true
	queued := r.queue
	r.queue = nil
	r.svc.log.Warn("Batch canceled",
		zap.String("batch_id", r.id),
		zap.Int("queued", len(queued)),
		zap.Int("in_flight", r.inFlight))
	for i := range queued {
		r.record(ctx, queued[i], failedResult(queued[i], domain.CalculationStatusException,
			"batch canceled before the task was admitted"))
	}
}

// record stores the result at the item's sequence slot and reports progress.
// Every item is recorded exactly once; the run ends when the count reaches
// the batch total.
func (r *batchRun) record(ctx context.Context, item domain.WorkItem, result domain.TaskResult) {
	r.results[item.Seq] = result
	r.done++
	progress := math.Round(r.step*float64(r.done)*10) / 10

	r.svc.monitor.ObserveTask(result.CalculationStatus, result.TimeSpent)
	r.svc.log.Info("Task finished",
		zap.String("index", result.Index),
		zap.String("input_file", result.InputFile),
		zap.String("calculation_status", string(result.CalculationStatus)),
		zap.Duration("time_spent", result.TimeSpent),
		zap.Float64("progress_pct", progress))

	if err := r.svc.events.PublishResult(ctx, r.id, &result); err != nil {
		r.svc.log.Warn("Failed to publish task result",
			zap.String("index", result.Index),
			zap.Error(err))
	}
}

func failedResult(item domain.WorkItem, status domain.CalculationStatus, message string) domain.TaskResult {
	return domain.TaskResult{
		Index:             item.Index,
		InputFile:         item.InputFile,
		CalculationStatus: status,
		Message:           message,
		EstimatedMemoryMB: item.EstimatedMemoryMB,
	}
}

type nopPublisher struct{}

func (nopPublisher) PublishResult(context.Context, string, *domain.TaskResult) error { return nil }

type nopMonitor struct{}

func (nopMonitor) SetCommittedMemory(float64)                          {}
func (nopMonitor) SetActiveTasks(int)                                  {}
func (nopMonitor) ObserveTask(domain.CalculationStatus, time.Duration) {}
