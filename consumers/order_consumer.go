package consumers

import (
	"context"
	"encoding/json"
	"errors"
	"os"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"shop-service/apperrors"
	"shop-service/config"
	"shop-service/models"
	"shop-service/services"
)

var logger = zerolog.New(os.Stdout).With().Timestamp().Str("component", "consumers").Logger()

// system identity used when the consumer cancels stale orders on its own
var systemIdentity = models.Identity{UserID: 0, Role: models.RoleSuperAdmin}

// StartOrderConsumer drains the order queue and the dead-letter queue.
// Delayed payment_check events cancel orders still sitting in processing.
func StartOrderConsumer(ch *amqp.Channel, cfg *config.Config, orders *services.OrderService) error {
	msgs, err := ch.Consume(
		cfg.OrderQueue,
		"shop-service", // consumer tag
		false,          // auto-ack
		false,          // exclusive
		false,          // no-local
		false,          // no-wait
		nil,
	)
	if err != nil {
		return err
	}

	go func() {
		for msg := range msgs {
			processOrderMessage(msg, orders)
		}
	}()

	dlqMsgs, err := ch.Consume(
		cfg.DeadLetterQueue,
		"shop-service-dlq", // consumer tag
		false,              // auto-ack
		false,              // exclusive
		false,              // no-local
		false,              // no-wait
		nil,
	)
	if err != nil {
		return err
	}

	go func() {
		for msg := range dlqMsgs {
			processDeadLetterMessage(msg)
		}
	}()

	return nil
}

func processOrderMessage(msg amqp.Delivery, orders *services.OrderService) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error().Interface("panic", r).Msg("recovered in order message processing")
		}
	}()

	var event models.OrderEvent
	if err := json.Unmarshal(msg.Body, &event); err != nil {
		logger.Error().Err(err).Msg("invalid order event payload")
		_ = msg.Nack(false, false) // to the dead-letter queue
		return
	}

	switch event.Type {
	case "payment_check":
		handlePaymentCheck(event, orders)
	case "created", "cancelled", "status_updated":
		logger.Info().
			Int("order_id", event.OrderID).
			Str("type", event.Type).
			Str("status", string(event.Status)).
			Msg("order event")
	default:
		logger.Warn().Str("type", event.Type).Msg("unknown order event type")
	}

	_ = msg.Ack(false)
}

// handlePaymentCheck cancels orders that never left processing within the
// payment window. Orders that already completed or were cancelled make the
// engine return an invalid-state error, which is the expected outcome here.
func handlePaymentCheck(event models.OrderEvent, orders *services.OrderService) {
	err := orders.CancelOrder(context.Background(), event.OrderID, systemIdentity)
	if err == nil {
		logger.Info().Int("order_id", event.OrderID).Msg("order auto-cancelled after payment window")
		return
	}

	var appErr *apperrors.Error
	if errors.As(err, &appErr) &&
		(appErr.Kind == apperrors.KindInvalidState || appErr.Kind == apperrors.KindNotFound) {
		return
	}
	logger.Error().Err(err).Int("order_id", event.OrderID).Msg("payment check cancel failed")
}

func processDeadLetterMessage(msg amqp.Delivery) {
	logger.Error().
		Str("body", string(msg.Body)).
		Msg("dead-lettered order event")
	_ = msg.Ack(false)
}
