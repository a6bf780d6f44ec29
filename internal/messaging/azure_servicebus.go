package messaging

import (
	"context"

	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus"
	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"example.com/venuetix/services/ticketing/config"
	"example.com/venuetix/services/ticketing/internal/tracing"
)

// MessageHandler processes one received queue message.
type MessageHandler func(ctx context.Context, message *azservicebus.ReceivedMessage, txn *newrelic.Transaction) error

// AzureServiceBus consumes scan events published by venue scanner devices.
type AzureServiceBus struct {
	client    *azservicebus.Client
	queueName string
	tracer    tracing.Tracer
}

// NewAzureServiceBus creates a new Azure Service Bus consumer
func NewAzureServiceBus(cfg config.AzureConfig, tracer tracing.Tracer) (*AzureServiceBus, error) {
	if cfg.QueueConnStr == "" {
		return nil, errors.New("Azure Service Bus connection string is empty")
	}

	client, err := azservicebus.NewClientFromConnectionString(cfg.QueueConnStr, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create Service Bus client")
	}

	return &AzureServiceBus{
		client:    client,
		queueName: cfg.QueueName,
		tracer:    tracer,
	}, nil
}

// ProcessMessages receives from the queue in batches and dispatches each
// message to handler until ctx is cancelled. A handler error abandons the
// message back to the queue; a processed message is completed.
func (b *AzureServiceBus) ProcessMessages(ctx context.Context, handler MessageHandler) error {
	receiver, err := b.client.NewReceiverForQueue(b.queueName, nil)
	if err != nil {
		return errors.Wrap(err, "failed to create Service Bus receiver")
	}
	defer func() {
		if err := receiver.Close(context.Background()); err != nil {
			log.Error().Err(err).Msg("Error closing Service Bus receiver")
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		messages, err := receiver.ReceiveMessages(ctx, 10, nil)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return errors.Wrap(err, "failed to receive messages")
		}

		for _, message := range messages {
			txn := b.tracer.StartTransaction("process-scan-message")

			if err := handler(ctx, message, txn); err != nil {
				log.Error().Err(err).Str("message_id", message.MessageID).Msg("Error processing message")
				b.tracer.RecordError(txn, err)
				// Return the message to the queue
				if abandonErr := receiver.AbandonMessage(ctx, message, nil); abandonErr != nil {
					log.Error().Err(abandonErr).Str("message_id", message.MessageID).Msg("Failed to abandon message")
				}
				b.tracer.EndTransaction(txn)
				continue
			}

			if err := receiver.CompleteMessage(ctx, message, nil); err != nil {
				log.Error().Err(err).Str("message_id", message.MessageID).Msg("Failed to complete message")
			}
			b.tracer.EndTransaction(txn)
		}
	}
}

// Close shuts down the underlying client
func (b *AzureServiceBus) Close() error {
	if b.client == nil {
		return nil
	}
	return b.client.Close(context.Background())
}
