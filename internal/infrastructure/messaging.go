package infrastructure

import (
	"context"
	"fmt"
	"time"

	"github.com/24hmood24/checkserialnum/config"
	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus"
	"github.com/sirupsen/logrus"
)

// Messaging sends lifecycle events to an Azure Service Bus queue.
type Messaging struct {
	client     *azservicebus.Client
	sender     *azservicebus.Sender
	maxRetries int
	retryDelay time.Duration
	logger     *logrus.Logger
}

func NewMessaging(cfg config.ServiceBusConfig, logger *logrus.Logger) (*Messaging, error) {
	client, err := azservicebus.NewClientFromConnectionString(cfg.ConnectionString, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create service bus client: %w", err)
	}

	sender, err := client.NewSender(cfg.QueueName, nil)
	if err != nil {
		client.Close(context.Background())
		return nil, fmt.Errorf("failed to create sender: %w", err)
	}

	return &Messaging{
		client:     client,
		sender:     sender,
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
		logger:     logger,
	}, nil
}

// PublishRaw sends an already encoded body, retrying transient failures.
func (m *Messaging) PublishRaw(ctx context.Context, topic string, body []byte) error {
	msg := &azservicebus.Message{
		Body:        body,
		ContentType: stringPtr("application/json"),
		Subject:     stringPtr(topic),
		ApplicationProperties: map[string]interface{}{
			"topic":     topic,
			"timestamp": time.Now().Unix(),
		},
	}

	var lastErr error
	for attempt := 0; attempt <= m.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(m.retryDelay * time.Duration(attempt)):
			}
		}
		if lastErr = m.sender.SendMessage(ctx, msg, nil); lastErr == nil {
			return nil
		}
		m.logger.WithError(lastErr).WithFields(logrus.Fields{
			"topic":   topic,
			"attempt": attempt + 1,
		}).Warn("Service bus send failed")
	}
	return fmt.Errorf("failed to send %s: %w", topic, lastErr)
}

func (m *Messaging) Close() error {
	if m.sender != nil {
		if err := m.sender.Close(context.Background()); err != nil {
			return err
		}
	}

	if m.client != nil {
		return m.client.Close(context.Background())
	}

	return nil
}

func stringPtr(s string) *string { return &s }
