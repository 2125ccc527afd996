// internal/core/transfer.go
package core

import (
	"context"
	"strings"

	"github.com/24hmood24/checkserialnum/internal/metrics"
	"github.com/24hmood24/checkserialnum/internal/utils"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// SaleRequest transfers a device to a new owner. With CertificateID set the
// authenticated owner sells a certificate they hold; otherwise the buyer
// registers a store purchase naming the seller by ID and phone.
type SaleRequest struct {
	CertificateID string          `json:"certificateId"`
	SerialNumber  string          `json:"serialNumber"`
	SellerID      string          `json:"sellerId"`
	SellerPhone   string          `json:"sellerPhone"`
	BuyerID       string          `json:"buyerId"`
	BuyerName     string          `json:"buyerName"`
	DeviceType    DeviceType      `json:"deviceType"`
	PurchasePrice decimal.Decimal `json:"purchasePrice"`
}

// RegisterDeviceRequest adds a device the owner already holds.
type RegisterDeviceRequest struct {
	SerialNumber string     `json:"serialNumber"`
	DeviceType   DeviceType `json:"deviceType"`
	OwnerID      string     `json:"ownerId"`
}

// TransferService issues certificates and moves ownership between accounts.
type TransferService struct {
	*lifecycle
}

// Sell retires the current certificate for the device (if any) and issues
// a new active one to the buyer.
func (s *TransferService) Sell(ctx context.Context, req SaleRequest) (*PurchaseCertificate, error) {
	dashboard := strings.TrimSpace(req.CertificateID) != ""
	buyerID := utils.NormalizeID(req.BuyerID)
	sellerID := utils.NormalizeID(req.SellerID)
	serial := utils.NormalizeSerial(req.SerialNumber)

	if buyerID == "" || sellerID == "" || req.DeviceType == "" {
		return nil, ErrMissingFields
	}
	if !dashboard && (serial == "" || strings.TrimSpace(req.SellerPhone) == "") {
		return nil, ErrMissingFields
	}
	if !req.DeviceType.Valid() {
		return nil, ErrInvalidDeviceType
	}
	if !utils.ValidateID(buyerID) || !utils.ValidateID(sellerID) {
		return nil, ErrInvalidID
	}
	if buyerID == sellerID {
		return nil, ErrCannotSellToSelf
	}

	if dashboard {
		sold, err := s.store.Certificates().Get(ctx, req.CertificateID)
		if err != nil {
			return nil, err
		}
		if sold == nil {
			return nil, ErrCertificateNotFound
		}
		serial = sold.SerialNumber
	}

	var (
		issued *PurchaseCertificate
		events []LifecycleEvent
	)
	err := s.transact(ctx, serial, func(ctx context.Context, tx DataStore) error {
		events = nil

		var sold *PurchaseCertificate
		if dashboard {
			c, err := tx.Certificates().Get(ctx, req.CertificateID)
			if err != nil {
				return err
			}
			if c == nil {
				return ErrCertificateNotFound
			}
			if c.DeviceType != req.DeviceType {
				return ErrDeviceTypeMismatch
			}
			sold = c
		}

		buyer, err := findUser(ctx, tx, buyerID)
		if err != nil {
			return err
		}
		if buyer == nil {
			return ErrBuyerNotFound
		}

		if !req.PurchasePrice.IsPositive() {
			return ErrInvalidPrice
		}

		seller, err := findUser(ctx, tx, sellerID)
		if err != nil {
			return err
		}
		var sellerPhone string
		if dashboard {
			if seller != nil {
				sellerPhone = utils.NormalizePhone(seller.PhoneNumber)
			}
		} else {
			if seller == nil {
				return ErrSellerNotFound
			}
			sellerPhone = utils.NormalizePhone(req.SellerPhone)
			if !utils.ValidPhone(sellerPhone) {
				return ErrInvalidPhone
			}
			if utils.NormalizePhone(seller.PhoneNumber) != sellerPhone {
				return ErrSellerPhoneMismatch
			}
		}

		check, err := resolveDevice(ctx, tx, serial)
		if err != nil {
			return err
		}
		if check.Status == DeviceStolen {
			return ErrDeviceStolen
		}

		prior := check.Certificate
		if prior != nil {
			if prior.BuyerID != sellerID {
				return ErrSellerNotOwner
			}
			if prior.DeviceType != req.DeviceType {
				return ErrDeviceTypeMismatch
			}
		}
		if sold != nil && (prior == nil || prior.ID != sold.ID) {
			return ErrCertificateNotActive
		}

		var originalID *string
		if prior != nil {
			if err := setCertificateStatus(ctx, tx, prior, CertificateTransferred); err != nil {
				return err
			}
			id := prior.ID
			originalID = &id
			events = append(events, certificateEvent(TopicCertificateTransferred, prior, sellerID))
		}

		cert, err := NewPurchaseCertificate(CertificateDraft{
			SerialNumber:          serial,
			DeviceType:            req.DeviceType,
			BuyerID:               buyerID,
			BuyerName:             buyer.FullName,
			BuyerNameAtSale:       req.BuyerName,
			SellerNationalID:      sellerID,
			SellerPhone:           sellerPhone,
			PurchasePrice:         req.PurchasePrice,
			OriginalCertificateID: originalID,
		}, s.now())
		if err != nil {
			return err
		}
		if err := s.issue(ctx, tx, cert); err != nil {
			return err
		}

		issued = cert
		events = append(events, certificateEvent(TopicCertificateIssued, cert, sellerID))
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.CertificatesIssuedTotal.WithLabelValues("sale").Inc()
	s.logger.WithFields(logrus.Fields{
		"serial":             serial,
		"certificate_number": issued.CertificateNumber,
		"transferred":        issued.OriginalCertificateID != nil,
	}).Info("Device sold")
	s.events.emit(ctx, events...)
	return issued, nil
}

// RegisterDevice issues a first certificate for a device the owner already
// holds.
func (s *TransferService) RegisterDevice(ctx context.Context, req RegisterDeviceRequest) (*PurchaseCertificate, error) {
	serial := utils.NormalizeSerial(req.SerialNumber)
	ownerID := utils.NormalizeID(req.OwnerID)
	if serial == "" || ownerID == "" || req.DeviceType == "" {
		return nil, ErrMissingFields
	}
	if !req.DeviceType.Valid() {
		return nil, ErrInvalidDeviceType
	}
	if !utils.ValidateID(ownerID) {
		return nil, ErrInvalidID
	}

	var issued *PurchaseCertificate
	err := s.transact(ctx, serial, func(ctx context.Context, tx DataStore) error {
		owner, err := findUser(ctx, tx, ownerID)
		if err != nil {
			return err
		}
		if owner == nil {
			return ErrUserNotFound
		}

		check, err := resolveDevice(ctx, tx, serial)
		if err != nil {
			return err
		}
		switch check.Status {
		case DeviceStolen:
			return ErrDeviceStolen
		case DeviceSafe:
			return ErrAlreadyRegistered
		}

		cert, err := NewPurchaseCertificate(CertificateDraft{
			SerialNumber: serial,
			DeviceType:   req.DeviceType,
			BuyerID:      ownerID,
			BuyerName:    owner.FullName,
		}, s.now())
		if err != nil {
			return err
		}
		if err := s.issue(ctx, tx, cert); err != nil {
			return err
		}
		issued = cert
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.CertificatesIssuedTotal.WithLabelValues("registration").Inc()
	s.logger.WithFields(logrus.Fields{
		"serial":             serial,
		"certificate_number": issued.CertificateNumber,
		"owner":              ownerID,
	}).Info("Device registered")
	s.events.emit(ctx, certificateEvent(TopicCertificateIssued, issued, ownerID))
	return issued, nil
}

// CreatePurchaseCertificate issues a certificate directly from a draft. It
// refuses serials that already have an active certificate or an active
// theft report.
func (s *TransferService) CreatePurchaseCertificate(ctx context.Context, draft CertificateDraft, actor string) (*PurchaseCertificate, error) {
	candidate, err := NewPurchaseCertificate(draft, s.now())
	if err != nil {
		return nil, err
	}
	if !candidate.PurchasePrice.IsPositive() {
		return nil, ErrInvalidPrice
	}

	var issued *PurchaseCertificate
	err = s.transact(ctx, candidate.SerialNumber, func(ctx context.Context, tx DataStore) error {
		check, err := resolveDevice(ctx, tx, candidate.SerialNumber)
		if err != nil {
			return err
		}
		switch check.Status {
		case DeviceStolen:
			return ErrDeviceStolen
		case DeviceSafe:
			return ErrAlreadyRegistered
		}

		d := draft
		if strings.TrimSpace(d.BuyerName) == "" {
			buyer, err := findUser(ctx, tx, candidate.BuyerID)
			if err != nil {
				return err
			}
			if buyer != nil {
				d.BuyerName = buyer.FullName
			}
		}
		cert, err := NewPurchaseCertificate(d, s.now())
		if err != nil {
			return err
		}
		if err := s.issue(ctx, tx, cert); err != nil {
			return err
		}
		issued = cert
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.CertificatesIssuedTotal.WithLabelValues("admin").Inc()
	s.logger.WithFields(logrus.Fields{
		"serial":             issued.SerialNumber,
		"certificate_number": issued.CertificateNumber,
		"actor":              actor,
	}).Info("Purchase certificate created")
	s.events.emit(ctx, certificateEvent(TopicCertificateIssued, issued, actor))
	return issued, nil
}

// Certificate returns the certificate with the given record ID.
func (s *TransferService) Certificate(ctx context.Context, id string) (*PurchaseCertificate, error) {
	cert, err := s.store.Certificates().Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if cert == nil {
		return nil, ErrCertificateNotFound
	}
	return cert, nil
}
