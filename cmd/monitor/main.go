package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/verdantgeo/raster-index-scheduler/config/logger"
	config "github.com/verdantgeo/raster-index-scheduler/config/utils"
	"github.com/verdantgeo/raster-index-scheduler/internal/adapter/queue/rabbitmq"
	"github.com/verdantgeo/raster-index-scheduler/internal/core/domain"
)

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorBlue   = "\033[34m"
	colorCyan   = "\033[36m"
	colorGray   = "\033[37m"
)

// resultsQueue is this monitor's private queue; it binds to every result
// routing key of the results exchange.
const resultsQueue = "calculation.results.monitor"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	appConfig := config.New()
	baseLogger := logger.Build(appConfig.Logger)

	fmt.Println(colorCyan + "🚀 Calculation Result Monitor Starting..." + colorReset)
	fmt.Println(colorGray + "Listening for task results on " + resultsQueue + "..." + colorReset)
	fmt.Println("-------------------------------------------------------------------------")

	queue, err := rabbitmq.NewQueueService(appConfig.AMQP.URL(), baseLogger.Named("AMQP"))
	if err != nil {
		zap.L().Fatal("Failed to connect to RabbitMQ", zap.Error(err))
	}
	defer queue.Close()

	if err := queue.ConsumeResults(ctx, resultsQueue, prettify); err != nil {
		zap.L().Fatal("Failed to start consuming results", zap.Error(err))
	}

	<-ctx.Done()
	fmt.Println(colorGray + "Monitor stopped." + colorReset)
}

func prettify(event *rabbitmq.ResultEvent) error {
	result := event.Result
	batch := shortBatchID(event.BatchID)

	switch {
	case result.Succeeded():
		fmt.Printf("[%s] ✅ "+colorGreen+"Saved:"+colorReset+" %s over %s -> %s (%v)\n",
			batch, result.Index, result.InputFile, result.OutputFile, result.TimeSpent)
	case result.CalculationStatus == domain.CalculationStatusSuccess:
		fmt.Printf("[%s] ❌ "+colorRed+"Save Failed:"+colorReset+" %s over %s: %s\n",
			batch, result.Index, result.InputFile, result.SavingStatus)
	case result.CalculationStatus == domain.CalculationStatusError:
		fmt.Printf("[%s] 🚫 "+colorYellow+"Rejected:"+colorReset+" %s over %s: %s\n",
			batch, result.Index, result.InputFile, result.Message)
	default:
		fmt.Printf("[%s] ❌ "+colorRed+"Exception:"+colorReset+" %s over %s: %s\n",
			batch, result.Index, result.InputFile, result.Message)
	}
	return nil
}

// shortBatchID trims the batch UUID down to the first group, enough to tell
// interleaved batches apart.
func shortBatchID(id string) string {
	if len(id) > 8 {
		id = id[:8]
	}
	return colorBlue + id + colorReset
}
