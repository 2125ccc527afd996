// internal/core/events.go
package core

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
)

// Lifecycle event topics.
const (
	TopicCertificateIssued      = "certificate.issued"
	TopicCertificateTransferred = "certificate.transferred"
	TopicCertificateStolen      = "certificate.stolen"
	TopicReportFiled            = "report.filed"
	TopicClosureRequested       = "report.closure_requested"
	TopicReportClosed           = "report.closed"
	TopicReportReopened         = "report.reopened"
)

// Publisher delivers lifecycle events to downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, topic string, message interface{}) error
}

// LifecycleEvent describes one committed state change.
type LifecycleEvent struct {
	ID                string    `json:"id"`
	Topic             string    `json:"topic"`
	SerialNumber      string    `json:"serialNumber"`
	CertificateID     string    `json:"certificateId,omitempty"`
	CertificateNumber string    `json:"certificateNumber,omitempty"`
	ReportID          string    `json:"reportId,omitempty"`
	Status            string    `json:"status"`
	Actor             string    `json:"actor,omitempty"`
	OccurredAt        time.Time `json:"occurredAt"`
}

func certificateEvent(topic string, c *PurchaseCertificate, actor string) LifecycleEvent {
	return LifecycleEvent{
		ID:                ulid.Make().String(),
		Topic:             topic,
		SerialNumber:      c.SerialNumber,
		CertificateID:     c.ID,
		CertificateNumber: c.CertificateNumber,
		Status:            string(c.Status),
		Actor:             actor,
		OccurredAt:        time.Now().UTC(),
	}
}

func reportEvent(topic string, r *StolenDeviceReport, actor string) LifecycleEvent {
	return LifecycleEvent{
		ID:           ulid.Make().String(),
		Topic:        topic,
		SerialNumber: r.SerialNumber,
		ReportID:     r.ReportID,
		Status:       string(r.Status),
		Actor:        actor,
		OccurredAt:   time.Now().UTC(),
	}
}

// eventSink publishes after commit. Delivery failures are logged and never
// fail the operation that produced the event.
type eventSink struct {
	publisher Publisher
	logger    *logrus.Logger
}

func (e eventSink) emit(ctx context.Context, events ...LifecycleEvent) {
	if e.publisher == nil {
		return
	}
	for _, ev := range events {
		if err := e.publisher.Publish(ctx, ev.Topic, ev); err != nil {
			e.logger.WithError(err).WithFields(logrus.Fields{
				"topic":    ev.Topic,
				"event_id": ev.ID,
				"serial":   ev.SerialNumber,
			}).Error("Failed to publish lifecycle event")
		}
	}
}
