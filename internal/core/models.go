// internal/core/models.go
package core

import (
	"strings"
	"time"

	"github.com/24hmood24/checkserialnum/internal/utils"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// DeviceType is the category of a registered device.
type DeviceType string

const (
	DeviceTypePhone  DeviceType = "phone"
	DeviceTypeLaptop DeviceType = "laptop"
	DeviceTypeTablet DeviceType = "tablet"
	DeviceTypeWatch  DeviceType = "watch"
	DeviceTypeCamera DeviceType = "camera"
	DeviceTypeOther  DeviceType = "other"
)

// Valid reports whether d is a known device type.
func (d DeviceType) Valid() bool {
	switch d {
	case DeviceTypePhone, DeviceTypeLaptop, DeviceTypeTablet, DeviceTypeWatch, DeviceTypeCamera, DeviceTypeOther:
		return true
	}
	return false
}

// CertificateStatus is the lifecycle state of a purchase certificate.
type CertificateStatus string

const (
	CertificateActive      CertificateStatus = "active"
	CertificateTransferred CertificateStatus = "transferred"
	CertificateStolen      CertificateStatus = "stolen"
)

// CanTransitionTo reports whether a certificate may move from s to next.
// Transferred and stolen are terminal.
func (s CertificateStatus) CanTransitionTo(next CertificateStatus) bool {
	return s == CertificateActive && (next == CertificateTransferred || next == CertificateStolen)
}

// ReportStatus is the lifecycle state of a theft report.
type ReportStatus string

const (
	ReportActive         ReportStatus = "active"
	ReportPendingClosure ReportStatus = "pending_closure"
	ReportClosed         ReportStatus = "closed"
)

// CanTransitionTo reports whether a report may move from s to next.
func (s ReportStatus) CanTransitionTo(next ReportStatus) bool {
	switch s {
	case ReportActive:
		return next == ReportPendingClosure
	case ReportPendingClosure:
		return next == ReportClosed || next == ReportActive
	}
	return false
}

// ClosureReason explains why a reporter asks to close a report.
type ClosureReason string

const (
	ClosureDeviceFound ClosureReason = "device_found"
	ClosureOther       ClosureReason = "other"
)

func (r ClosureReason) Valid() bool {
	return r == ClosureDeviceFound || r == ClosureOther
}

// UserType distinguishes administrators from regular accounts.
type UserType string

const (
	UserRegular UserType = "regular"
	UserAdmin   UserType = "admin"
)

// PurchaseCertificate asserts that a buyer owns the device with SerialNumber
// as of IssueDate.
type PurchaseCertificate struct {
	ID                    string            `json:"id" gorm:"primaryKey;size:36"`
	CertificateNumber     string            `json:"certificateNumber" gorm:"uniqueIndex;size:10;not null"`
	SerialNumber          string            `json:"serialNumber" gorm:"index;index:idx_purchase_certificates_active_serial,unique,where:status = 'active';not null"`
	DeviceType            DeviceType        `json:"deviceType" gorm:"index;not null"`
	BuyerID               string            `json:"buyerId" gorm:"index;size:10;not null"`
	BuyerIDType           utils.IDType      `json:"buyerIdType"`
	BuyerName             string            `json:"buyerName"`
	BuyerNameAtSale       string            `json:"buyerNameAtSale"`
	SellerNationalID      string            `json:"sellerNationalId,omitempty" gorm:"index;size:10"`
	SellerIDType          utils.IDType      `json:"sellerIdType,omitempty"`
	SellerPhone           string            `json:"sellerPhone,omitempty"`
	PurchasePrice         decimal.Decimal   `json:"purchasePrice" gorm:"type:numeric(14,2);not null;default:0"`
	IssueDate             string            `json:"issueDate" gorm:"size:10;not null"`
	Status                CertificateStatus `json:"status" gorm:"index;not null"`
	OriginalCertificateID *string           `json:"originalCertificateId,omitempty" gorm:"size:36"`
	CreatedAt             time.Time         `json:"createdAt"`
	UpdatedAt             time.Time         `json:"updatedAt"`
}

// StolenDeviceReport asserts that a device was reported stolen.
type StolenDeviceReport struct {
	ID                    string        `json:"id" gorm:"primaryKey;size:36"`
	ReportID              string        `json:"reportId" gorm:"uniqueIndex;size:32;not null"`
	SerialNumber          string        `json:"serialNumber" gorm:"index;index:idx_stolen_devices_active_serial,unique,where:status = 'active';not null"`
	DeviceType            DeviceType    `json:"deviceType" gorm:"index;not null"`
	ReporterIDType        utils.IDType  `json:"reporterIdType"`
	ReporterNationalID    string        `json:"reporterNationalId" gorm:"index;size:10;not null"`
	ReporterPhone         string        `json:"reporterPhone" gorm:"not null"`
	TheftDate             string        `json:"theftDate" gorm:"size:10;not null"`
	Location              string        `json:"location" gorm:"not null"`
	TheftDetails          string        `json:"theftDetails"`
	Status                ReportStatus  `json:"status" gorm:"index;not null"`
	ClosureRequestReason  ClosureReason `json:"closureRequestReason,omitempty"`
	ClosureRequestDetails string        `json:"closureRequestDetails,omitempty"`
	CreatedAt             time.Time     `json:"createdAt"`
	UpdatedAt             time.Time     `json:"updatedAt"`
}

// AppUser is an account in the directory.
type AppUser struct {
	ID           string    `json:"id" gorm:"primaryKey;size:36"`
	NationalID   string    `json:"nationalId" gorm:"uniqueIndex;size:10;not null"`
	FullName     string    `json:"fullName" gorm:"not null"`
	PhoneNumber  string    `json:"phoneNumber" gorm:"not null"`
	PasswordHash string    `json:"-" gorm:"not null"`
	UserType     UserType  `json:"userType" gorm:"not null;default:regular"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

func (PurchaseCertificate) TableName() string { return "purchase_certificates" }
func (StolenDeviceReport) TableName() string  { return "stolen_devices" }
func (AppUser) TableName() string             { return "app_users" }

// BeforeCreate hooks assign server-generated UUIDs.
func (c *PurchaseCertificate) BeforeCreate(*gorm.DB) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	return nil
}

func (r *StolenDeviceReport) BeforeCreate(*gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	return nil
}

func (u *AppUser) BeforeCreate(*gorm.DB) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	return nil
}

// IsAdmin reports whether the account may use administrative entry points.
func (u *AppUser) IsAdmin() bool {
	return u != nil && u.UserType == UserAdmin
}

// CertificateDraft carries the fields needed to issue a certificate.
type CertificateDraft struct {
	SerialNumber          string
	DeviceType            DeviceType
	BuyerID               string
	BuyerName             string
	BuyerNameAtSale       string
	SellerNationalID      string
	SellerPhone           string
	PurchasePrice         decimal.Decimal
	OriginalCertificateID *string
}

// NewPurchaseCertificate validates a draft and returns an unsaved active
// certificate. The certificate number and ID are assigned at issuance.
func NewPurchaseCertificate(d CertificateDraft, issued time.Time) (*PurchaseCertificate, error) {
	serial := utils.NormalizeSerial(d.SerialNumber)
	buyerID := utils.NormalizeID(d.BuyerID)
	if serial == "" || buyerID == "" || d.DeviceType == "" {
		return nil, ErrMissingFields
	}
	if !d.DeviceType.Valid() {
		return nil, ErrInvalidDeviceType
	}
	buyerType := utils.DetectIDType(buyerID)
	if buyerType == "" {
		return nil, ErrInvalidID
	}
	if d.PurchasePrice.IsNegative() {
		return nil, ErrInvalidPrice
	}

	cert := &PurchaseCertificate{
		SerialNumber:          serial,
		DeviceType:            d.DeviceType,
		BuyerID:               buyerID,
		BuyerIDType:           buyerType,
		BuyerName:             strings.TrimSpace(d.BuyerName),
		BuyerNameAtSale:       strings.TrimSpace(d.BuyerNameAtSale),
		PurchasePrice:         d.PurchasePrice,
		IssueDate:             issued.Format("2006-01-02"),
		Status:                CertificateActive,
		OriginalCertificateID: d.OriginalCertificateID,
	}
	if cert.BuyerNameAtSale == "" {
		cert.BuyerNameAtSale = cert.BuyerName
	}

	if seller := utils.NormalizeID(d.SellerNationalID); seller != "" {
		sellerType := utils.DetectIDType(seller)
		if sellerType == "" {
			return nil, ErrInvalidID
		}
		cert.SellerNationalID = seller
		cert.SellerIDType = sellerType
		cert.SellerPhone = utils.NormalizePhone(d.SellerPhone)
	}
	return cert, nil
}
