package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/verdantgeo/raster-index-scheduler/config/logger"
	postgres "github.com/verdantgeo/raster-index-scheduler/config/storage/postgresql"
	redisconn "github.com/verdantgeo/raster-index-scheduler/config/storage/redis"
	config "github.com/verdantgeo/raster-index-scheduler/config/utils"
	"github.com/verdantgeo/raster-index-scheduler/internal/adapter/catalog"
	"github.com/verdantgeo/raster-index-scheduler/internal/adapter/engine/algebra"
	"github.com/verdantgeo/raster-index-scheduler/internal/adapter/monitoring/prometheus"
	"github.com/verdantgeo/raster-index-scheduler/internal/adapter/queue/rabbitmq"
	"github.com/verdantgeo/raster-index-scheduler/internal/adapter/raster"
	pgrepo "github.com/verdantgeo/raster-index-scheduler/internal/adapter/storage/postgres"
	rediscache "github.com/verdantgeo/raster-index-scheduler/internal/adapter/storage/redis"
	"github.com/verdantgeo/raster-index-scheduler/internal/core/domain"
	"github.com/verdantgeo/raster-index-scheduler/internal/core/port"
	"github.com/verdantgeo/raster-index-scheduler/internal/core/service"
)

// _persistTimeout is time to wait for the final report write once the batch
// itself is done. The batch context may already be canceled by then.
const _persistTimeout = 10 * time.Second

var (
	inputFiles     []string
	indices        string
	outputDir      string
	maxMemoryMB    float64
	maxActiveTasks int
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "calculator",
		Short:        "Calculates vegetation index batches over GeoTIFF rasters",
		RunE:         run,
		SilenceUsage: true,
	}
	rootCmd.Flags().StringSliceVarP(&inputFiles, "files", "f", nil, "input raster files")
	rootCmd.Flags().StringVarP(&indices, "indices", "i", "", "comma-separated index names, e.g. ExG_wernette,VARI_stary")
	rootCmd.Flags().StringVarP(&outputDir, "output-dir", "o", "", "output directory (default from config)")
	rootCmd.Flags().Float64Var(&maxMemoryMB, "max-memory-mb", 0, "memory budget for concurrent tasks (default from config)")
	rootCmd.Flags().IntVar(&maxActiveTasks, "max-active-tasks", 0, "concurrency cap (default from config)")
	_ = rootCmd.MarkFlagRequired("files")
	_ = rootCmd.MarkFlagRequired("indices")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, _ []string) error {
	rootCtx, rootCtxCancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer rootCtxCancel()

	// Init config
	appConfig := config.New()
	baseLogger := logger.Build(appConfig.Logger)
	zap.L().Debug("Logger Builded successfully")

	zap.L().Info("Starting the application", zap.String("app", appConfig.App.Name), zap.String("env", appConfig.App.Env), zap.String("owner", appConfig.App.Owner))

	calc := appConfig.Calculator
	if outputDir == "" {
		outputDir = calc.OutputDir
	}
	if maxMemoryMB == 0 {
		maxMemoryMB = calc.MaxMemoryUsageMB
	}
	if maxActiveTasks == 0 {
		maxActiveTasks = calc.MaxActiveTasks
	}

	store := raster.NewStore(baseLogger)

	// Band statistics come straight from the store unless Redis fronts them.
	var stats port.StatsProvider = store
	if appConfig.Redis.Enabled {
		cache, err := redisconn.New(rootCtx, appConfig.Redis)
		if err != nil {
			zap.L().Error("Error initializing cache connection", zap.Error(err))
			return err
		}
		defer cache.Close()
		zap.L().Info("Successfully connected to the cache server", zap.String("address", appConfig.Redis.Addr))
		stats = rediscache.NewStatsCache(cache.Client, store, baseLogger)
	}

	indexCatalog := catalog.New(stats, baseLogger)
	engine := algebra.NewEngine(baseLogger)

	var events port.EventPublisher
	if appConfig.AMQP.Enabled {
		queueService, err := rabbitmq.NewQueueService(appConfig.AMQP.URL(), baseLogger.Named("AMQP"))
		if err != nil {
			zap.L().Error("Error initializing queue connection", zap.Error(err))
			return err
		}
		defer queueService.Close()
		events = queueService
	}

	var monitor port.BatchMonitor
	if appConfig.Metrics.Enabled {
		batchMonitor := prometheus.NewBatchMonitor(baseLogger.Named("Metrics"))
		go batchMonitor.Serve(rootCtx, appConfig.Metrics.Addr)
		monitor = batchMonitor
	}

	request := domain.NewBatchRequest(inputFiles, indices, calc.BandMapping, outputDir, maxMemoryMB, maxActiveTasks)

	calcService := service.NewSchedulerService(request, engine, store, indexCatalog, events, monitor, baseLogger)
	report, execErr := calcService.Execute(rootCtx)
	if report == nil {
		zap.L().Error("Batch rejected", zap.Error(execErr))
		return execErr
	}
	if execErr != nil {
		zap.L().Warn("Batch interrupted", zap.Error(execErr))
	}

	for i := range report.Results {
		result := &report.Results[i]
		if result.Succeeded() {
			continue
		}
		zap.L().Warn("Task did not complete",
			zap.String("index", result.Index),
			zap.String("input_file", result.InputFile),
			zap.String("calculation_status", string(result.CalculationStatus)),
			zap.String("message", result.Message),
			zap.String("saving_status", result.SavingStatus),
		)
	}
	zap.L().Info("Batch report",
		zap.String("batch_id", report.BatchID),
		zap.Int("tasks", len(report.Results)),
		zap.Int("succeeded", report.Succeeded()),
		zap.Int("failed", report.Failed()),
		zap.Duration("total_time", report.TotalTime),
	)

	if appConfig.DB.Enabled {
		if err := persistReport(report, appConfig, baseLogger); err != nil {
			return err
		}
	}
	return execErr
}

// persistReport writes the finished report to Postgres on a fresh context, so
// an interrupted batch still leaves its rows behind.
func persistReport(report *domain.BatchReport, appConfig *config.AppConfig, baseLogger *zap.Logger) error {
	persistCtx, cancel := context.WithTimeout(context.Background(), _persistTimeout)
	defer cancel()

	// Init database service
	dbLogger := baseLogger.Named("DB")
	dbService, err := postgres.New(persistCtx, appConfig.DB, dbLogger)
	if err != nil {
		zap.L().Error("Error initializing database connection", zap.Error(err))
		return err
	}
	defer dbService.Close()
	zap.L().Info("Successfully connected to the database", zap.String("db", appConfig.DB.Connection))

	// Migrate database
	if err := dbService.Migrate(); err != nil {
		zap.L().Error("Error migrating database", zap.Error(err))
		return err
	}

	reports := pgrepo.NewReportRepository(dbService, dbLogger)
	return reports.SaveReport(persistCtx, report)
}
