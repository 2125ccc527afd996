// internal/core/theft.go
package core

import (
	"context"
	"strings"
	"time"

	"github.com/24hmood24/checkserialnum/internal/metrics"
	"github.com/24hmood24/checkserialnum/internal/utils"
	"github.com/sirupsen/logrus"
)

// ReportRequest files a theft report.
type ReportRequest struct {
	ReporterID    string     `json:"reporterId"`
	ReporterPhone string     `json:"reporterPhone"`
	DeviceType    DeviceType `json:"deviceType"`
	SerialNumber  string     `json:"serialNumber"`
	TheftDate     string     `json:"theftDate"`
	Location      string     `json:"location"`
	TheftDetails  string     `json:"theftDetails"`
}

// ClosureRequest asks an administrator to close an active report.
type ClosureRequest struct {
	Reason  ClosureReason `json:"reason"`
	Details string        `json:"details"`
}

// ReportUpdate is an administrative edit. Nil fields are left unchanged.
type ReportUpdate struct {
	Location      *string       `json:"location"`
	TheftDetails  *string       `json:"theftDetails"`
	ReporterPhone *string       `json:"reporterPhone"`
	DeviceType    *DeviceType   `json:"deviceType"`
	Status        *ReportStatus `json:"status"`
}

// TheftService runs the theft report state machine:
// active -> pending_closure -> closed, or back to active on rejection.
type TheftService struct {
	*lifecycle
}

// FileReport records a theft. An active certificate for the device must
// belong to the reporter, and is marked stolen in the same transaction.
func (s *TheftService) FileReport(ctx context.Context, req ReportRequest) (*StolenDeviceReport, error) {
	serial := utils.NormalizeSerial(req.SerialNumber)
	reporterID := utils.NormalizeID(req.ReporterID)
	phone := utils.NormalizePhone(req.ReporterPhone)
	theftDate := strings.TrimSpace(utils.NormalizeDigits(req.TheftDate))

	if serial == "" || reporterID == "" || phone == "" || req.DeviceType == "" ||
		theftDate == "" || strings.TrimSpace(req.Location) == "" {
		return nil, ErrMissingFields
	}
	if !req.DeviceType.Valid() {
		return nil, ErrInvalidDeviceType
	}
	if _, err := time.Parse("2006-01-02", theftDate); err != nil {
		return nil, ErrInvalidDate
	}
	location, ok := utils.ParseLocation(req.Location)
	if !ok {
		return nil, ErrInvalidLocation
	}
	reporterType := utils.DetectIDType(reporterID)
	if reporterType == "" {
		return nil, ErrInvalidID
	}
	if !utils.ValidPhone(phone) {
		return nil, ErrInvalidPhone
	}

	var (
		report *StolenDeviceReport
		events []LifecycleEvent
	)
	err := s.transact(ctx, serial, func(ctx context.Context, tx DataStore) error {
		events = nil

		check, err := resolveDevice(ctx, tx, serial)
		if err != nil {
			return err
		}
		if check.Status == DeviceStolen {
			return ErrAlreadyReportedStolen
		}

		if cert := check.Certificate; cert != nil {
			if cert.BuyerID != reporterID {
				return ErrReporterNotOwner
			}
			if cert.DeviceType != req.DeviceType {
				return ErrDeviceTypeMismatch
			}
			owner, err := findUser(ctx, tx, cert.BuyerID)
			if err != nil {
				return err
			}
			if owner == nil {
				return ErrReporterNotOwner
			}
			if utils.NormalizePhone(owner.PhoneNumber) != phone {
				return ErrReporterPhoneMismatch
			}
			if err := setCertificateStatus(ctx, tx, cert, CertificateStolen); err != nil {
				return err
			}
			events = append(events, certificateEvent(TopicCertificateStolen, cert, reporterID))
		}

		r := &StolenDeviceReport{
			ReportID:           NewReportID(),
			SerialNumber:       serial,
			DeviceType:         req.DeviceType,
			ReporterIDType:     reporterType,
			ReporterNationalID: reporterID,
			ReporterPhone:      phone,
			TheftDate:          theftDate,
			Location:           location.String(),
			TheftDetails:       strings.TrimSpace(req.TheftDetails),
			Status:             ReportActive,
		}
		if err := tx.Reports().Create(ctx, r); err != nil {
			return err
		}
		report = r
		events = append(events, reportEvent(TopicReportFiled, r, reporterID))
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.ReportsFiledTotal.Inc()
	s.logger.WithFields(logrus.Fields{
		"serial":    serial,
		"report_id": report.ReportID,
		"region":    location.Region,
	}).Info("Theft report filed")
	s.events.emit(ctx, events...)
	return report, nil
}

// RequestClosure moves the caller's active report to pending_closure.
func (s *TheftService) RequestClosure(ctx context.Context, id, callerID string, req ClosureRequest) (*StolenDeviceReport, error) {
	details := strings.TrimSpace(req.Details)
	callerID = utils.NormalizeID(callerID)

	return s.transition(ctx, id, ReportPendingClosure, callerID, func(r *StolenDeviceReport) (map[string]interface{}, error) {
		if r.ReporterNationalID != callerID {
			return nil, ErrNotReportOwner
		}
		if !req.Reason.Valid() {
			return nil, ErrInvalidReason
		}
		if req.Reason == ClosureOther && details == "" {
			return nil, ErrReasonRequired
		}
		if req.Reason == ClosureDeviceFound {
			details = ""
		}
		r.ClosureRequestReason = req.Reason
		r.ClosureRequestDetails = details
		return map[string]interface{}{
			"closureRequestReason":  string(req.Reason),
			"closureRequestDetails": details,
		}, nil
	})
}

// ApproveClosure closes a report awaiting closure.
func (s *TheftService) ApproveClosure(ctx context.Context, id, adminID string) (*StolenDeviceReport, error) {
	return s.transition(ctx, id, ReportClosed, adminID, nil)
}

// RejectClosure returns a report awaiting closure to active and clears the
// closure request.
func (s *TheftService) RejectClosure(ctx context.Context, id, adminID string) (*StolenDeviceReport, error) {
	return s.transition(ctx, id, ReportActive, adminID, nil)
}

// UpdateReport applies an administrative edit. A status change goes through
// the same transition rules as the dedicated operations.
func (s *TheftService) UpdateReport(ctx context.Context, id, adminID string, upd ReportUpdate) (*StolenDeviceReport, error) {
	fields := map[string]interface{}{}
	if upd.Location != nil {
		loc, ok := utils.ParseLocation(*upd.Location)
		if !ok {
			return nil, ErrInvalidLocation
		}
		fields["location"] = loc.String()
	}
	if upd.TheftDetails != nil {
		fields["theftDetails"] = strings.TrimSpace(*upd.TheftDetails)
	}
	if upd.ReporterPhone != nil {
		phone := utils.NormalizePhone(*upd.ReporterPhone)
		if !utils.ValidPhone(phone) {
			return nil, ErrInvalidPhone
		}
		fields["reporterPhone"] = phone
	}
	if upd.DeviceType != nil {
		if !upd.DeviceType.Valid() {
			return nil, ErrInvalidDeviceType
		}
		fields["deviceType"] = string(*upd.DeviceType)
	}

	apply := func(r *StolenDeviceReport) (map[string]interface{}, error) {
		if v, ok := fields["location"]; ok {
			r.Location = v.(string)
		}
		if v, ok := fields["theftDetails"]; ok {
			r.TheftDetails = v.(string)
		}
		if v, ok := fields["reporterPhone"]; ok {
			r.ReporterPhone = v.(string)
		}
		if upd.DeviceType != nil {
			r.DeviceType = *upd.DeviceType
		}
		return fields, nil
	}

	if upd.Status != nil {
		// Closure requests carry the reporter's reason and come only from
		// RequestClosure.
		if *upd.Status == ReportPendingClosure {
			return nil, ErrInvalidTransition
		}
		return s.transition(ctx, id, *upd.Status, adminID, apply)
	}
	if len(fields) == 0 {
		return nil, ErrMissingFields
	}

	report, err := s.withReport(ctx, id, func(ctx context.Context, tx DataStore, r *StolenDeviceReport) error {
		if _, err := apply(r); err != nil {
			return err
		}
		return tx.Reports().Update(ctx, r.ID, fields)
	})
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"report_id": report.ReportID,
		"admin":     adminID,
	}).Info("Theft report updated")
	return report, nil
}

// withReport runs fn on report id inside a transaction holding the lock for
// the report's serial.
func (s *TheftService) withReport(
	ctx context.Context,
	id string,
	fn func(ctx context.Context, tx DataStore, r *StolenDeviceReport) error,
) (*StolenDeviceReport, error) {
	current, err := s.store.Reports().Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, ErrReportNotFound
	}

	var report *StolenDeviceReport
	err = s.transact(ctx, current.SerialNumber, func(ctx context.Context, tx DataStore) error {
		r, err := tx.Reports().Get(ctx, id)
		if err != nil {
			return err
		}
		if r == nil {
			return ErrReportNotFound
		}
		if err := fn(ctx, tx, r); err != nil {
			return err
		}
		report = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return report, nil
}

// transition moves report id to next. prepare may validate the record and
// contribute extra fields to persist alongside the status.
func (s *TheftService) transition(
	ctx context.Context,
	id string,
	next ReportStatus,
	actor string,
	prepare func(r *StolenDeviceReport) (map[string]interface{}, error),
) (*StolenDeviceReport, error) {
	report, err := s.withReport(ctx, id, func(ctx context.Context, tx DataStore, r *StolenDeviceReport) error {
		if !r.Status.CanTransitionTo(next) {
			return ErrInvalidTransition
		}

		fields := map[string]interface{}{}
		if prepare != nil {
			extra, err := prepare(r)
			if err != nil {
				return err
			}
			for k, v := range extra {
				fields[k] = v
			}
		}

		if next == ReportActive {
			other, err := activeReport(ctx, tx, r.SerialNumber)
			if err != nil {
				return err
			}
			if other != nil && other.ID != r.ID {
				return ErrAlreadyReportedStolen
			}
			fields["closureRequestReason"] = ""
			fields["closureRequestDetails"] = ""
			r.ClosureRequestReason = ""
			r.ClosureRequestDetails = ""
		}

		fields["status"] = string(next)
		if err := tx.Reports().Update(ctx, r.ID, fields); err != nil {
			return err
		}
		r.Status = next
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.ReportTransitionsTotal.WithLabelValues(string(next)).Inc()
	s.logger.WithFields(logrus.Fields{
		"report_id": report.ReportID,
		"status":    next,
		"actor":     actor,
	}).Info("Theft report status changed")
	s.events.emit(ctx, reportEvent(transitionTopic(next), report, actor))
	return report, nil
}

func transitionTopic(status ReportStatus) string {
	switch status {
	case ReportPendingClosure:
		return TopicClosureRequested
	case ReportClosed:
		return TopicReportClosed
	default:
		return TopicReportReopened
	}
}
