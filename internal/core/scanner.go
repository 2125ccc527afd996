// internal/core/scanner.go
package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// ScanRequest is published by a retail scanner on scanners/{id}/check.
type ScanRequest struct {
	SerialNumber string `json:"serial_number"`
	RequestID    string `json:"request_id"`
}

// ScanResult is returned on scanners/{id}/result. It carries identifiers
// only, never owner details.
type ScanResult struct {
	RequestID         string       `json:"request_id,omitempty"`
	ScannerID         string       `json:"scanner_id"`
	SerialNumber      string       `json:"serial_number"`
	Status            DeviceStatus `json:"status,omitempty"`
	CertificateNumber string       `json:"certificate_number,omitempty"`
	ReportID          string       `json:"report_id,omitempty"`
	Error             string       `json:"error,omitempty"`
	CheckedAt         time.Time    `json:"checked_at"`
}

// ResponsePublisher sends a reply back to a scanner.
type ResponsePublisher interface {
	PublishResponse(topic string, payload []byte, qos byte) error
}

// ScannerService answers device checks arriving over MQTT.
type ScannerService struct {
	resolver  *DeviceResolver
	responder ResponsePublisher
	qos       byte
	logger    *logrus.Logger
}

func NewScannerService(resolver *DeviceResolver, logger *logrus.Logger) *ScannerService {
	return &ScannerService{resolver: resolver, logger: logger}
}

// SetResponder attaches the transport used for replies.
func (s *ScannerService) SetResponder(r ResponsePublisher, qos byte) {
	s.responder = r
	s.qos = qos
}

// ScannerIDFromTopic extracts the scanner ID from scanners/{id}/check.
func ScannerIDFromTopic(topic string) (string, bool) {
	parts := strings.Split(topic, "/")
	if len(parts) != 3 || parts[0] != "scanners" || parts[2] != "check" || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

// HandleCheck resolves one scan request and publishes the verdict.
func (s *ScannerService) HandleCheck(ctx context.Context, topic string, payload []byte) error {
	scannerID, ok := ScannerIDFromTopic(topic)
	if !ok {
		return fmt.Errorf("unexpected scanner topic %q", topic)
	}

	result, err := s.Resolve(ctx, scannerID, payload)
	if err != nil {
		s.logger.WithError(err).WithField("scanner_id", scannerID).Warn("Scanner check failed")
	}
	return s.respond(scannerID, result)
}

// Resolve turns a raw scan payload into a result. A non-nil error is also
// described in the result so the scanner always gets an answer.
func (s *ScannerService) Resolve(ctx context.Context, scannerID string, payload []byte) (*ScanResult, error) {
	result := &ScanResult{ScannerID: scannerID, CheckedAt: time.Now().UTC()}

	var req ScanRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		result.Error = ErrMissingFields.Code
		return result, fmt.Errorf("failed to decode scan request: %w", err)
	}
	result.RequestID = req.RequestID
	result.SerialNumber = req.SerialNumber

	check, err := s.resolver.CheckDevice(ctx, req.SerialNumber)
	if err != nil {
		var be BusinessError
		if errors.As(err, &be) {
			result.Error = be.Code
		} else {
			result.Error = string(KindStore)
		}
		return result, err
	}

	result.Status = check.Status
	if check.Certificate != nil {
		result.CertificateNumber = check.Certificate.CertificateNumber
	}
	if check.Device != nil {
		result.ReportID = check.Device.ReportID
	}
	return result, nil
}

func (s *ScannerService) respond(scannerID string, result *ScanResult) error {
	if s.responder == nil {
		return nil
	}
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal scan result: %w", err)
	}
	return s.responder.PublishResponse("scanners/"+scannerID+"/result", data, s.qos)
}
