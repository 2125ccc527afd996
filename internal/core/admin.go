// internal/core/admin.go
package core

import (
	"context"
	"strings"

	"github.com/24hmood24/checkserialnum/internal/utils"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

var (
	reportSearchFields      = []string{"reportId", "serialNumber", "reporterNationalId", "reporterPhone", "location"}
	certificateSearchFields = []string{"certificateNumber", "serialNumber", "buyerId", "buyerName", "sellerNationalId"}
)

// DashboardQuery filters the admin dashboard. Empty fields do not filter.
type DashboardQuery struct {
	Search     string     `form:"q"`
	Region     string     `form:"region"`
	DeviceType DeviceType `form:"device_type"`
	Limit      int        `form:"limit"`
}

type DashboardData struct {
	Reports      []StolenDeviceReport  `json:"reports"`
	Certificates []PurchaseCertificate `json:"certificates"`
}

// Stats counts records per status.
type Stats struct {
	Reports      map[string]int64 `json:"reports"`
	Certificates map[string]int64 `json:"certificates"`
	Users        map[string]int64 `json:"users"`
}

// DeviceHistory is everything recorded against one serial, newest first.
type DeviceHistory struct {
	SerialNumber string                `json:"serialNumber"`
	Certificates []PurchaseCertificate `json:"certificates"`
	Reports      []StolenDeviceReport  `json:"reports"`
}

// AdminService backs the administrator dashboard.
type AdminService struct {
	store  DataStore
	logger *logrus.Logger
}

func NewAdminService(store DataStore, logger *logrus.Logger) *AdminService {
	return &AdminService{store: store, logger: logger}
}

// GetAdminDashboardData loads reports and certificates matching q, newest
// first.
func (s *AdminService) GetAdminDashboardData(ctx context.Context, q DashboardQuery) (*DashboardData, error) {
	search := strings.TrimSpace(utils.NormalizeDigits(q.Search))
	region := strings.TrimSpace(q.Region)
	if q.DeviceType != "" && !q.DeviceType.Valid() {
		return nil, ErrInvalidDeviceType
	}

	reportQuery := Query{Search: search, SearchFields: reportSearchFields, Limit: q.Limit}
	certQuery := Query{Search: search, SearchFields: certificateSearchFields, Limit: q.Limit}
	if region != "" {
		reportQuery.Prefix = map[string]string{"location": region}
	}
	if q.DeviceType != "" {
		reportQuery.Equals = map[string]interface{}{"deviceType": string(q.DeviceType)}
		certQuery.Equals = map[string]interface{}{"deviceType": string(q.DeviceType)}
	}

	data := &DashboardData{}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		rows, err := s.store.Reports().Filter(gctx, reportQuery, "-createdAt")
		data.Reports = rows
		return err
	})
	g.Go(func() error {
		rows, err := s.store.Certificates().Filter(gctx, certQuery, "-createdAt")
		data.Certificates = rows
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if data.Reports == nil {
		data.Reports = []StolenDeviceReport{}
	}
	if data.Certificates == nil {
		data.Certificates = []PurchaseCertificate{}
	}
	return data, nil
}

// Stats counts reports and certificates per status and accounts per type.
func (s *AdminService) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		stats.Reports, err = s.store.Reports().CountBy(gctx, "status")
		return err
	})
	g.Go(func() (err error) {
		stats.Certificates, err = s.store.Certificates().CountBy(gctx, "status")
		return err
	})
	g.Go(func() (err error) {
		stats.Users, err = s.store.Users().CountBy(gctx, "userType")
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return stats, nil
}

// CertificateHistory returns the ownership chain and theft reports for a
// serial.
func (s *AdminService) CertificateHistory(ctx context.Context, serialNumber string) (*DeviceHistory, error) {
	serial := utils.NormalizeSerial(serialNumber)
	if serial == "" {
		return nil, ErrMissingFields
	}
	bySerial := Query{Equals: map[string]interface{}{"serialNumber": serial}}

	history := &DeviceHistory{SerialNumber: serial}
	var err error
	if history.Certificates, err = s.store.Certificates().Filter(ctx, bySerial, "-createdAt"); err != nil {
		return nil, err
	}
	if history.Reports, err = s.store.Reports().Filter(ctx, bySerial, "-createdAt"); err != nil {
		return nil, err
	}
	return history, nil
}
