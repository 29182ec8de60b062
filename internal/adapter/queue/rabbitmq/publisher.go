package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/verdantgeo/raster-index-scheduler/internal/core/domain"
)

// resultsExchange receives one event per recorded task result, routed by
// calculation status.
const resultsExchange = "rasters.direct"

// ResultEvent is the wire envelope of one finished task result.
type ResultEvent struct {
	BatchID string            `json:"batch_id"`
	Result  domain.TaskResult `json:"result"`
}

type QueueService struct {
	conn *amqp.Connection
	ch   *amqp.Channel
	log  *zap.Logger
}

// NewQueueService connects to the broker and declares the results exchange.
func NewQueueService(url string, log *zap.Logger) (*QueueService, error) {
	var conn *amqp.Connection
	var err error

	// Retry connection up to 10 times with backoff
	maxRetries := 10
	for i := 1; i <= maxRetries; i++ {
		conn, err = amqp.Dial(url)
		if err == nil {
			ch, err := conn.Channel()
			if err == nil {
				if err := ch.ExchangeDeclare(
					resultsExchange, // name
					"direct",        // kind
					true,            // durable
					false,           // auto-delete
					false,           // internal
					false,           // no-wait
					nil,             // arguments
				); err != nil {
					conn.Close()
					return nil, fmt.Errorf("failed to declare exchange %s: %w", resultsExchange, err)
				}
				return &QueueService{
					conn: conn,
					ch:   ch,
					log:  log,
				}, nil
			}
			conn.Close()
		}

		log.Warn("Failed to connect to RabbitMQ, retrying...",
			zap.Int("attempt", i),
			zap.Int("max_retries", maxRetries),
			zap.Error(err),
		)

		// Simple incremental backoff
		time.Sleep(time.Duration(i*2) * time.Second)
	}

	return nil, fmt.Errorf("failed to connect to RabbitMQ after %d attempts: %w", maxRetries, err)
}

// PublishResult emits one event for a recorded task result. The routing key
// carries the calculation status, so consumers can bind to failures only.
func (q *QueueService) PublishResult(ctx context.Context, batchID string, result *domain.TaskResult) error {
	body, err := json.Marshal(ResultEvent{BatchID: batchID, Result: *result})
	if err != nil {
		return err
	}

	routingKey := "result." + string(result.CalculationStatus)

	err = q.ch.PublishWithContext(ctx,
		resultsExchange, // Exchange
		routingKey,      // Routing key
		false,           // Mandatory
		false,           // Immediate
		amqp.Publishing{
			ContentType: "application/json",
			Body:        body,
		})
	if err != nil {
		q.log.Error("Failed to publish result", zap.Error(err))
		return err
	}

	q.log.Debug("Published result",
		zap.String("index", result.Index),
		zap.String("key", routingKey))
	return nil
}

// Close releases the channel and the connection.
func (q *QueueService) Close() {
	if err := q.ch.Close(); err != nil {
		q.log.Warn("Failed to close channel", zap.Error(err))
	}
	if err := q.conn.Close(); err != nil {
		q.log.Warn("Failed to close connection", zap.Error(err))
	}
}
