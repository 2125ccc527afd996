package infrastructure

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/24hmood24/checkserialnum/internal/metrics"
	"github.com/sirupsen/logrus"
)

// BusSender delivers encoded events.
type BusSender interface {
	PublishRaw(ctx context.Context, topic string, body []byte) error
}

var _ BusSender = (*Messaging)(nil)

const (
	defaultSendTimeout = 2 * time.Second
	defaultBusCooldown = 30 * time.Second
)

// Outbox publishes lifecycle events to the bus and falls back to the WAL
// when the bus is missing or failing. After a failed send the bus is
// skipped for a cooldown period and events go straight to the WAL.
type Outbox struct {
	bus         BusSender
	wal         *WAL
	logger      *logrus.Logger
	sendTimeout time.Duration
	cooldown    time.Duration
	now         func() time.Time

	mu           sync.Mutex
	busDownUntil time.Time
}

// NewOutbox builds an outbox. Either bus or wal may be nil, not both.
func NewOutbox(bus BusSender, wal *WAL, logger *logrus.Logger) *Outbox {
	return &Outbox{
		bus:         bus,
		wal:         wal,
		logger:      logger,
		sendTimeout: defaultSendTimeout,
		cooldown:    defaultBusCooldown,
		now:         time.Now,
	}
}

// WithBusLimits bounds how long one live send may take and how long the bus
// is skipped after a failure. Zero values keep the defaults.
func (o *Outbox) WithBusLimits(sendTimeout, cooldown time.Duration) *Outbox {
	if sendTimeout > 0 {
		o.sendTimeout = sendTimeout
	}
	if cooldown > 0 {
		o.cooldown = cooldown
	}
	return o
}

func (o *Outbox) busAvailable() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return !o.now().Before(o.busDownUntil)
}

func (o *Outbox) markBusDown() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.busDownUntil = o.now().Add(o.cooldown)
}

func (o *Outbox) send(ctx context.Context, topic string, data []byte) error {
	ctx, cancel := context.WithTimeout(ctx, o.sendTimeout)
	defer cancel()
	return o.bus.PublishRaw(ctx, topic, data)
}

func (o *Outbox) Publish(ctx context.Context, topic string, message interface{}) error {
	data, err := json.Marshal(message)
	if err != nil {
		metrics.EventsPublishedTotal.WithLabelValues("dropped").Inc()
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if o.bus != nil && (o.wal == nil || o.busAvailable()) {
		busErr := o.send(ctx, topic, data)
		if busErr == nil {
			metrics.EventsPublishedTotal.WithLabelValues("bus").Inc()
			return nil
		}
		if o.wal == nil {
			metrics.EventsPublishedTotal.WithLabelValues("dropped").Inc()
			return busErr
		}
		o.markBusDown()
		o.logger.WithError(busErr).WithFields(logrus.Fields{
			"topic":    topic,
			"cooldown": o.cooldown.String(),
		}).Warn("Bus unavailable, writing events to outbox")
	}

	if o.wal == nil {
		metrics.EventsPublishedTotal.WithLabelValues("dropped").Inc()
		return fmt.Errorf("no event sink configured")
	}
	if _, err := o.wal.Append(topic, data); err != nil {
		metrics.EventsPublishedTotal.WithLabelValues("dropped").Inc()
		return err
	}
	metrics.EventsPublishedTotal.WithLabelValues("outbox").Inc()
	return nil
}

// ReplayResult summarizes one replay pass.
type ReplayResult struct {
	Pending   int `json:"pending"`
	Delivered int `json:"delivered"`
	Failed    int `json:"failed"`
}

// Replay sends up to limit queued events to the bus and compacts the WAL.
// A limit of zero or less replays everything. With dryRun set nothing is
// sent or rewritten.
func (o *Outbox) Replay(ctx context.Context, limit int, dryRun bool) (ReplayResult, error) {
	if o.wal == nil {
		return ReplayResult{}, fmt.Errorf("outbox has no WAL")
	}
	entries, err := o.wal.ReadAll()
	if err != nil {
		return ReplayResult{}, err
	}

	result := ReplayResult{Pending: len(entries)}
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	if dryRun {
		for _, e := range entries {
			o.logger.WithFields(logrus.Fields{
				"id":      e.ID,
				"topic":   e.Topic,
				"retries": e.Retries,
			}).Info("Would republish event")
		}
		return result, nil
	}
	if o.bus == nil {
		return result, fmt.Errorf("service bus is not configured")
	}

	var delivered, failed []string
	for _, e := range entries {
		if ctx.Err() != nil {
			break
		}
		if err := o.bus.PublishRaw(ctx, e.Topic, e.Data); err != nil {
			o.logger.WithError(err).WithField("id", e.ID).Warn("Republish failed")
			failed = append(failed, e.ID)
			continue
		}
		delivered = append(delivered, e.ID)
	}
	result.Delivered = len(delivered)
	result.Failed = len(failed)

	if err := o.wal.Compact(delivered, failed); err != nil {
		return result, err
	}
	return result, ctx.Err()
}
