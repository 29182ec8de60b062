package rabbitmq

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/verdantgeo/raster-index-scheduler/internal/core/domain"
)

// ConsumeResults binds a queue to every result status and feeds incoming
// events to the handler until the channel closes.
func (q *QueueService) ConsumeResults(ctx context.Context, queueName string, handler func(event *ResultEvent) error) error {
	// 1. Declare Queue ensure it exists
	queue, err := q.ch.QueueDeclare(
		queueName, // name
		true,      // durable
		false,     // delete when unused
		false,     // exclusive
		false,     // no-wait
		nil,       // arguments
	)
	if err != nil {
		return err
	}

	// 2. Bind it to all calculation statuses
	for _, status := range []domain.CalculationStatus{
		domain.CalculationStatusSuccess,
		domain.CalculationStatusError,
		domain.CalculationStatusException,
	} {
		if err := q.ch.QueueBind(queue.Name, "result."+string(status), resultsExchange, false, nil); err != nil {
			return err
		}
	}

	msgs, err := q.ch.Consume(
		queue.Name, // queue
		"",         // consumer
		false,      // auto-ack (We want to ack manually after work is done)
		false,      // exclusive
		false,      // no-local
		false,      // no-wait
		nil,        // args
	)
	if err != nil {
		return err
	}

	q.log.Info("Started consuming results", zap.String("queue", queue.Name))

	go func() {
		for d := range msgs {
			var event ResultEvent
			if err := json.Unmarshal(d.Body, &event); err != nil {
				q.log.Error("Failed to unmarshal result event", zap.Error(err))
				d.Nack(false, false) // discard invalid message
				continue
			}

			if err := handler(&event); err != nil {
				q.log.Error("Result handling failed", zap.Error(err))
				d.Nack(false, true)
			} else {
				d.Ack(false)
			}
		}
	}()

	return nil
}
