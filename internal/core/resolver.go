// internal/core/resolver.go
package core

import (
	"context"

	"github.com/24hmood24/checkserialnum/internal/metrics"
	"github.com/24hmood24/checkserialnum/internal/utils"
	"github.com/sirupsen/logrus"
)

// DeviceStatus is the public verdict for a serial number.
type DeviceStatus string

const (
	DeviceStolen  DeviceStatus = "stolen"
	DeviceSafe    DeviceStatus = "safe"
	DeviceUnknown DeviceStatus = "unknown"
)

// DeviceCheck is the result of resolving a serial number. Device is the
// active theft report, Certificate the active purchase certificate.
type DeviceCheck struct {
	Status      DeviceStatus         `json:"status"`
	Device      *StolenDeviceReport  `json:"device,omitempty"`
	Certificate *PurchaseCertificate `json:"certificate,omitempty"`
}

// DeviceResolver answers public device checks.
type DeviceResolver struct {
	store  DataStore
	logger *logrus.Logger
}

func NewDeviceResolver(store DataStore, logger *logrus.Logger) *DeviceResolver {
	return &DeviceResolver{store: store, logger: logger}
}

// CheckDevice resolves the current status of a serial number. An active
// theft report outranks an active certificate.
func (r *DeviceResolver) CheckDevice(ctx context.Context, serialNumber string) (*DeviceCheck, error) {
	serial := utils.NormalizeSerial(serialNumber)
	if serial == "" {
		return nil, ErrMissingFields
	}

	check, err := resolveDevice(ctx, r.store, serial)
	if err != nil {
		return nil, err
	}

	metrics.DeviceChecksTotal.WithLabelValues(string(check.Status)).Inc()
	r.logger.WithFields(logrus.Fields{
		"serial": serial,
		"status": check.Status,
	}).Debug("Device checked")
	return check, nil
}

// resolveDevice expects an already normalized serial.
func resolveDevice(ctx context.Context, store DataStore, serial string) (*DeviceCheck, error) {
	cert, err := activeCertificate(ctx, store, serial)
	if err != nil {
		return nil, err
	}
	report, err := activeReport(ctx, store, serial)
	if err != nil {
		return nil, err
	}

	switch {
	case report != nil:
		return &DeviceCheck{Status: DeviceStolen, Device: report, Certificate: cert}, nil
	case cert != nil:
		return &DeviceCheck{Status: DeviceSafe, Certificate: cert}, nil
	default:
		return &DeviceCheck{Status: DeviceUnknown}, nil
	}
}

func activeCertificate(ctx context.Context, store DataStore, serial string) (*PurchaseCertificate, error) {
	return store.Certificates().First(ctx, Query{
		Equals: map[string]interface{}{
			"serialNumber": serial,
			"status":       string(CertificateActive),
		},
	}, "-createdAt")
}

func activeReport(ctx context.Context, store DataStore, serial string) (*StolenDeviceReport, error) {
	return store.Reports().First(ctx, Query{
		Equals: map[string]interface{}{
			"serialNumber": serial,
			"status":       string(ReportActive),
		},
	}, "-createdAt")
}

func findUser(ctx context.Context, store DataStore, nationalID string) (*AppUser, error) {
	return store.Users().First(ctx, Query{
		Equals: map[string]interface{}{"nationalId": nationalID},
	}, "")
}
