// internal/core/errors.go
package core

import (
	"errors"
	"fmt"
)

// ErrorKind groups business errors by how callers should react to them.
type ErrorKind string

const (
	KindValidation ErrorKind = "validation_error"
	KindNotFound   ErrorKind = "not_found"
	KindConflict   ErrorKind = "conflict"
	KindState      ErrorKind = "state_error"
	KindStore      ErrorKind = "store_error"
)

// BusinessError represents a business logic error with a code.
type BusinessError struct {
	Kind    ErrorKind `json:"kind"`
	Code    string    `json:"code"`
	Message string    `json:"message"`
}

// Error implements the error interface.
func (e BusinessError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

var (
	// Input errors
	ErrMissingFields     = BusinessError{KindValidation, "missing_fields", "required fields are missing"}
	ErrInvalidID         = BusinessError{KindValidation, "invalid_id", "identity number must be 10 digits starting with 1, 2 or 7"}
	ErrInvalidPhone      = BusinessError{KindValidation, "invalid_phone", "phone number must be a mobile number starting with 05"}
	ErrInvalidLocation   = BusinessError{KindValidation, "invalid_location", "location must name a region, city and district"}
	ErrInvalidPrice      = BusinessError{KindValidation, "invalid_price", "purchase price must be greater than zero"}
	ErrInvalidDeviceType = BusinessError{KindValidation, "invalid_device_type", "unknown device type"}
	ErrInvalidReason     = BusinessError{KindValidation, "invalid_reason", "closure reason must be device_found or other"}
	ErrReasonRequired    = BusinessError{KindValidation, "reason_required", "closure details are required when the reason is other"}
	ErrWeakPassword      = BusinessError{KindValidation, "weak_password", "password must be at least 8 characters"}
	ErrInvalidCredential = BusinessError{KindValidation, "invalid_credentials", "national ID or password is incorrect"}
	ErrInvalidQuery      = BusinessError{KindValidation, "invalid_query", "unknown field in query"}
	ErrInvalidDate       = BusinessError{KindValidation, "invalid_date", "date must be formatted as YYYY-MM-DD"}

	// Lookup errors
	ErrBuyerNotFound       = BusinessError{KindNotFound, "buyer_not_found", "buyer has no registered account"}
	ErrSellerNotFound      = BusinessError{KindNotFound, "seller_not_found", "seller has no registered account"}
	ErrUserNotFound        = BusinessError{KindNotFound, "user_not_found", "account not found"}
	ErrCertificateNotFound = BusinessError{KindNotFound, "certificate_not_found", "certificate not found"}
	ErrReportNotFound      = BusinessError{KindNotFound, "report_not_found", "report not found"}

	// Ownership and consistency conflicts
	ErrCannotSellToSelf        = BusinessError{KindConflict, "cannot_sell_to_self", "buyer and seller must be different people"}
	ErrDeviceTypeMismatch      = BusinessError{KindConflict, "device_type_mismatch", "device type does not match the registered device"}
	ErrSellerPhoneMismatch     = BusinessError{KindConflict, "seller_phone_mismatch", "seller phone does not match the registered account"}
	ErrDeviceStolen            = BusinessError{KindConflict, "device_stolen", "device is reported stolen"}
	ErrSellerNotOwner          = BusinessError{KindConflict, "seller_not_owner", "seller is not the registered owner of this device"}
	ErrAlreadyRegistered       = BusinessError{KindConflict, "already_registered", "device already has an active certificate"}
	ErrAlreadyReportedStolen   = BusinessError{KindConflict, "already_reported_stolen", "device already has an active theft report"}
	ErrReporterNotOwner        = BusinessError{KindConflict, "reporter_not_owner", "only the registered owner can report this device"}
	ErrReporterPhoneMismatch   = BusinessError{KindConflict, "reporter_phone_mismatch", "phone does not match the owner's registered phone"}
	ErrNotReportOwner          = BusinessError{KindConflict, "not_report_owner", "only the reporter can request closure"}
	ErrNotCertificateOwner     = BusinessError{KindConflict, "not_certificate_owner", "certificate belongs to another account"}
	ErrCertificateNotActive    = BusinessError{KindConflict, "certificate_not_active", "certificate is no longer active"}
	ErrUserExists              = BusinessError{KindConflict, "user_exists", "an account with this national ID already exists"}
	ErrCertificateNumberExists = BusinessError{KindConflict, "certificate_number_taken", "certificate number already issued"}

	// Lifecycle errors
	ErrInvalidTransition = BusinessError{KindState, "invalid_transition", "status change is not allowed from the current state"}
)

// KindOf classifies err. Errors that are not business errors are store
// failures.
func KindOf(err error) ErrorKind {
	var be BusinessError
	if errors.As(err, &be) {
		return be.Kind
	}
	return KindStore
}
