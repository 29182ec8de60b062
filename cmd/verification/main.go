package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	redigo "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/verdantgeo/raster-index-scheduler/config/logger"
	postgresConfig "github.com/verdantgeo/raster-index-scheduler/config/storage/postgresql"
	config "github.com/verdantgeo/raster-index-scheduler/config/utils"
	"github.com/verdantgeo/raster-index-scheduler/internal/adapter/catalog"
	"github.com/verdantgeo/raster-index-scheduler/internal/adapter/engine/algebra"
	"github.com/verdantgeo/raster-index-scheduler/internal/adapter/monitoring/prometheus"
	"github.com/verdantgeo/raster-index-scheduler/internal/adapter/queue/rabbitmq"
	"github.com/verdantgeo/raster-index-scheduler/internal/adapter/raster"
	"github.com/verdantgeo/raster-index-scheduler/internal/adapter/storage/postgres"
	redisAdapter "github.com/verdantgeo/raster-index-scheduler/internal/adapter/storage/redis"
	"github.com/verdantgeo/raster-index-scheduler/internal/core/domain"
	"github.com/verdantgeo/raster-index-scheduler/internal/core/service"
)

func main() {
	// 1. Setup Logger & Config
	appConfig := config.New()
	log := logger.Build(appConfig.Logger)
	ctx := context.Background()

	log.Info("Starting Verification...")

	// 2. Test Calculator (pure in-process, needs no services)
	log.Info("--- Testing Calculator ---")
	store := raster.NewStore(log)
	report := runSampleBatch(ctx, log, store)

	// 3. Test Postgres
	log.Info("--- Testing Postgres ---")
	dbService, err := postgresConfig.New(ctx, appConfig.DB, log)
	if err != nil {
		log.Fatal("Failed to connect to DB", zap.Error(err))
	}
	if err := dbService.Migrate(); err != nil {
		log.Fatal("Failed to migrate DB", zap.Error(err))
	}
	reports := postgres.NewReportRepository(dbService, log)

	if err := reports.SaveReport(ctx, report); err != nil {
		log.Error("X Postgres: Save Report Failed", zap.Error(err))
	} else {
		log.Info("✓ Postgres: Save Report Success")
	}

	if results, err := reports.ListBatchResults(ctx, report.BatchID); err != nil {
		log.Error("X Postgres: List Results Failed", zap.Error(err))
	} else {
		log.Info("✓ Postgres: List Results Success", zap.Int("Count", len(results)))
	}

	// 4. Test Redis
	log.Info("--- Testing Redis ---")
	// Creating client directly so the check runs even when the cache is
	// disabled in config
	redisClient := redigo.NewClient(&redigo.Options{
		Addr:     appConfig.Redis.Addr,
		Password: appConfig.Redis.Password,
		DB:       0,
	})

	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Fatal("Failed to connect to Redis", zap.Error(err))
	}

	statsCache := redisAdapter.NewStatsCache(redisClient, store, log)
	statsPath := domain.InMemoryNamespace + "verification_field.tiff"

	if _, err := statsCache.BandStatistics(ctx, statsPath, 1); err != nil {
		log.Error("X Redis: Stats Cache Fill Failed", zap.Error(err))
	} else {
		log.Info("✓ Redis: Stats Cache Fill Success")
	}

	if stats, err := statsCache.BandStatistics(ctx, statsPath, 1); err != nil {
		log.Error("X Redis: Stats Cache Read Failed", zap.Error(err))
	} else {
		log.Info("✓ Redis: Stats Cache Read Success", zap.Float64("Mean", stats.Mean))
	}

	// 5. Test RabbitMQ
	log.Info("--- Testing RabbitMQ ---")
	queue, err := rabbitmq.NewQueueService(appConfig.AMQP.URL(), log)
	if err != nil {
		log.Error("X RabbitMQ: Connection Failed", zap.Error(err))
	} else {
		if err := queue.PublishResult(ctx, report.BatchID, &report.Results[0]); err != nil {
			log.Error("X RabbitMQ: Publish Failed", zap.Error(err))
		} else {
			log.Info("✓ RabbitMQ: Publish Success")
		}
		queue.Close()
	}

	// 6. Test Prometheus endpoint
	log.Info("--- Testing Prometheus ---")
	monitorCtx, stopMonitor := context.WithCancel(ctx)
	monitor := prometheus.NewBatchMonitor(log)
	monitor.ObserveTask(domain.CalculationStatusSuccess, time.Second)
	go monitor.Serve(monitorCtx, appConfig.Metrics.Addr)
	time.Sleep(200 * time.Millisecond)

	resp, err := http.Get(fmt.Sprintf("http://localhost%s/metrics", appConfig.Metrics.Addr))
	if err != nil {
		log.Error("X Prometheus: Scrape Failed", zap.Error(err))
	} else {
		resp.Body.Close()
		log.Info("✓ Prometheus: Scrape Success", zap.Int("StatusCode", resp.StatusCode))
	}
	stopMonitor()

	log.Info("Verification Complete.")
}

// runSampleBatch calculates two indices over one synthetic field held in the
// in-memory namespace and returns the report for the storage checks.
func runSampleBatch(ctx context.Context, log *zap.Logger, store *raster.Store) *domain.BatchReport {
	field := domain.NewRaster(64, 48, 3, domain.DataTypeByte)
	for i := range field.Samples {
		field.Samples[i] = float64(i % 251)
	}
	path := domain.InMemoryNamespace + "verification_field.tiff"
	if err := store.Write(ctx, path, field); err != nil {
		log.Fatal("Failed to stage verification field", zap.Error(err))
	}

	request := domain.NewBatchRequest([]string{path}, "ExG_wernette,VARI_stary", map[string]int{"R": 1, "G": 2, "B": 3}, "", 0, 0)
	scheduler := service.NewSchedulerService(request, algebra.NewEngine(log), store, catalog.New(store, log), nil, nil, log)

	report, err := scheduler.Execute(ctx)
	if err != nil {
		log.Fatal("X Calculator: Batch Failed", zap.Error(err))
	}
	if report.Succeeded() == len(report.Results) {
		log.Info("✓ Calculator: Batch Success", zap.Int("Tasks", len(report.Results)))
	} else {
		log.Error("X Calculator: Batch Had Failures", zap.Int("Failed", report.Failed()))
	}
	return report
}
