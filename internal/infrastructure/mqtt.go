package infrastructure

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/24hmood24/checkserialnum/config"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"
)

const messageTimeout = 30 * time.Second

// MessageHandler processes one MQTT message.
type MessageHandler func(ctx context.Context, topic string, payload []byte) error

// MQTTSubscriber receives scanner messages and publishes replies.
// Handlers are keyed by the last topic segment, so scanners/{id}/check
// dispatches to the "check" handler.
type MQTTSubscriber struct {
	config    config.MQTTConfig
	client    mqtt.Client
	logger    *logrus.Logger
	handlers  map[string]MessageHandler
	mu        sync.RWMutex
	connected bool
	wg        sync.WaitGroup
}

func NewMQTTSubscriber(cfg config.MQTTConfig, logger *logrus.Logger) (*MQTTSubscriber, error) {
	if cfg.BrokerURL == "" {
		return nil, fmt.Errorf("MQTT broker URL is required")
	}
	if len(cfg.Topics) == 0 {
		return nil, fmt.Errorf("at least one MQTT topic is required")
	}

	if cfg.ClientID == "" {
		cfg.ClientID = fmt.Sprintf("checkserial-%d", time.Now().UnixNano())
	}

	return &MQTTSubscriber{
		config:   cfg,
		logger:   logger,
		handlers: make(map[string]MessageHandler),
	}, nil
}

// RegisterHandler registers a handler for a message type.
func (s *MQTTSubscriber) RegisterHandler(messageType string, handler MessageHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[messageType] = handler
}

// Start connects to the broker. Subscriptions are (re)made on every connect.
func (s *MQTTSubscriber) Start() error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(s.config.BrokerURL)
	opts.SetClientID(s.config.ClientID)

	if s.config.Username != "" {
		opts.SetUsername(s.config.Username)
	}
	if s.config.Password != "" {
		opts.SetPassword(s.config.Password)
	}

	opts.SetCleanSession(s.config.CleanSession)
	opts.SetKeepAlive(s.config.KeepAlive)
	opts.SetConnectTimeout(s.config.ConnectTimeout)
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(s.config.MaxReconnectDelay)

	opts.SetOnConnectHandler(s.onConnect)
	opts.SetConnectionLostHandler(s.onConnectionLost)
	opts.SetReconnectingHandler(func(mqtt.Client, *mqtt.ClientOptions) {
		s.logger.Info("Attempting to reconnect to MQTT broker...")
	})
	opts.SetDefaultPublishHandler(s.messageHandler)

	s.client = mqtt.NewClient(opts)

	if token := s.client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}

	s.logger.WithField("broker", s.config.BrokerURL).Info("MQTT subscriber started")
	return nil
}

// Stop unsubscribes, disconnects and waits for in-flight handlers.
func (s *MQTTSubscriber) Stop() {
	s.logger.Info("Stopping MQTT subscriber...")

	if s.client != nil && s.client.IsConnected() {
		for _, topic := range s.config.Topics {
			if token := s.client.Unsubscribe(topic); token.Wait() && token.Error() != nil {
				s.logger.WithError(token.Error()).WithField("topic", topic).
					Error("Failed to unsubscribe from topic")
			}
		}
		s.client.Disconnect(250)
	}

	s.wg.Wait()
	s.logger.Info("MQTT subscriber stopped")
}

func (s *MQTTSubscriber) IsConnected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected
}

func (s *MQTTSubscriber) onConnect(client mqtt.Client) {
	s.mu.Lock()
	s.connected = true
	s.mu.Unlock()

	s.logger.Info("Connected to MQTT broker")

	for _, topic := range s.config.Topics {
		if token := client.Subscribe(topic, s.config.QoS, nil); token.Wait() && token.Error() != nil {
			s.logger.WithError(token.Error()).WithField("topic", topic).
				Error("Failed to subscribe to topic")
		} else {
			s.logger.WithField("topic", topic).Info("Subscribed to topic")
		}
	}
}

func (s *MQTTSubscriber) onConnectionLost(_ mqtt.Client, err error) {
	s.mu.Lock()
	s.connected = false
	s.mu.Unlock()

	s.logger.WithError(err).Warn("Lost connection to MQTT broker")
}

func (s *MQTTSubscriber) messageHandler(_ mqtt.Client, msg mqtt.Message) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.dispatch(msg.Topic(), msg.Payload())
	}()
}

func (s *MQTTSubscriber) dispatch(topic string, payload []byte) {
	messageType := messageTypeOf(topic)

	s.logger.WithFields(logrus.Fields{
		"topic":        topic,
		"message_type": messageType,
		"size":         len(payload),
	}).Debug("Received MQTT message")

	s.mu.RLock()
	handler, exists := s.handlers[messageType]
	s.mu.RUnlock()

	if !exists {
		s.logger.WithFields(logrus.Fields{
			"topic":        topic,
			"message_type": messageType,
		}).Warn("No handler registered for message type")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), messageTimeout)
	defer cancel()

	if err := handler(ctx, topic, payload); err != nil {
		s.logger.WithError(err).WithField("topic", topic).Error("Failed to process MQTT message")
	}
}

// messageTypeOf returns the last segment of topic.
func messageTypeOf(topic string) string {
	if i := strings.LastIndex(topic, "/"); i >= 0 {
		return topic[i+1:]
	}
	return topic
}

// PublishResponse publishes a reply message.
func (s *MQTTSubscriber) PublishResponse(topic string, payload []byte, qos byte) error {
	if !s.IsConnected() {
		return fmt.Errorf("MQTT client not connected")
	}

	token := s.client.Publish(topic, qos, false, payload)
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to publish message: %w", token.Error())
	}

	return nil
}
