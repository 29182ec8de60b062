package main

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/verdantgeo/raster-index-scheduler/internal/adapter/catalog"
	"github.com/verdantgeo/raster-index-scheduler/internal/adapter/engine/algebra"
	"github.com/verdantgeo/raster-index-scheduler/internal/adapter/raster"
	"github.com/verdantgeo/raster-index-scheduler/internal/core/domain"
	"github.com/verdantgeo/raster-index-scheduler/internal/core/service"
)

const (
	fieldCount = 12
	minWidth   = 256
	maxWidth   = 2048
	indices    = "ExG_wernette,ExR_wernette,VARI_stary"
)

func main() {
	// Everything runs against the in-memory namespace; no disk, no services.
	logger := zap.NewNop()
	store := raster.NewStore(logger)
	indexCatalog := catalog.New(store, logger)
	engine := algebra.NewEngine(logger)

	fmt.Println("🚀 Starting Admission Control Simulation...")
	fmt.Printf("   Generating %d synthetic RGB fields...\n", fieldCount)

	files, totalMB := generateFields(store)
	fmt.Printf("   Total task cost across one index pass: %.0f MB\n\n", totalMB)

	// Sweep the memory budget from starved to generous and watch how the
	// admission loop behaves. The task set stays the same.
	budgets := []float64{16, 64, 256, 1024}

	for _, budgetMB := range budgets {
		fmt.Printf("[Batch] budget=%.0f MB, max active=4\n", budgetMB)

		monitor := &gaugeMonitor{}
		request := domain.NewBatchRequest(files, indices, map[string]int{"R": 1, "G": 2, "B": 3}, "", budgetMB, 4)
		scheduler := service.NewSchedulerService(request, engine, store, indexCatalog, nil, monitor, logger)

		stop := watchPressure(monitor)
		start := time.Now()
		report, err := scheduler.Execute(context.Background())
		stop()
		if err != nil {
			log.Fatal("Batch rejected:", err)
		}

		rejected := 0
		for i := range report.Results {
			if report.Results[i].CalculationStatus == domain.CalculationStatusError {
				rejected++
			}
		}
		fmt.Printf("   ✅ %d/%d succeeded, %d rejected as oversized, peak commit %.0f MB, took %v\n\n",
			report.Succeeded(), len(report.Results), rejected, monitor.peak(), time.Since(start).Round(time.Millisecond))
	}

	fmt.Println("✅ Simulation Complete.")
}

// generateFields fills the in-memory store with random RGB rasters and
// returns their paths plus the summed per-index task cost.
func generateFields(store *raster.Store) ([]string, float64) {
	files := make([]string, 0, fieldCount)
	totalMB := 0.0

	for i := 0; i < fieldCount; i++ {
		width := minWidth + rand.Intn(maxWidth-minWidth)
		height := width * 3 / 4
		dataType := domain.DataTypeByte
		if i%2 == 1 {
			// Float fields are 4x heavier; they are what starves a tight budget.
			dataType = domain.DataTypeFloat32
		}
		field := domain.NewRaster(width, height, 3, dataType)
		for s := range field.Samples {
			field.Samples[s] = float64(rand.Intn(256))
		}

		path := fmt.Sprintf("%sfield_%02d.tiff", domain.InMemoryNamespace, i)
		if err := store.Write(context.Background(), path, field); err != nil {
			log.Fatal("Failed to stage synthetic field:", err)
		}

		cost := field.Info().TaskMemoryMB()
		totalMB += cost
		fmt.Printf("   📦 %s %dx%d (%.0f MB per task)\n", path, width, height, cost)
		files = append(files, path)
	}

	return files, totalMB
}

// watchPressure prints the committed-memory gauge while a batch runs.
func watchPressure(monitor *gaugeMonitor) func() {
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(250 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				fmt.Printf("   👀 committed %.0f MB, %d active\n", monitor.committed(), monitor.active())
			}
		}
	}()
	return func() { close(done) }
}

// gaugeMonitor keeps the latest scheduler gauges readable from the watcher
// goroutine.
type gaugeMonitor struct {
	committedMB atomic.Uint64
	activeTasks atomic.Int64
	peakMB      atomic.Uint64
}

func (m *gaugeMonitor) SetCommittedMemory(mb float64) {
	v := uint64(mb)
	m.committedMB.Store(v)
	for {
		peak := m.peakMB.Load()
		if v <= peak || m.peakMB.CompareAndSwap(peak, v) {
			return
		}
	}
}

func (m *gaugeMonitor) SetActiveTasks(count int) {
	m.activeTasks.Store(int64(count))
}

func (m *gaugeMonitor) ObserveTask(domain.CalculationStatus, time.Duration) {}

func (m *gaugeMonitor) committed() float64 { return float64(m.committedMB.Load()) }
func (m *gaugeMonitor) active() int64      { return m.activeTasks.Load() }
func (m *gaugeMonitor) peak() float64      { return float64(m.peakMB.Load()) }
