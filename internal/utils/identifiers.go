// internal/utils/identifiers.go
package utils

import (
	"regexp"
	"strings"
)

// IDType classifies a 10-digit identity number by its leading digit.
type IDType string

const (
	IDTypeNational      IDType = "national_id"
	IDTypeResident      IDType = "resident_id"
	IDTypeCommercialReg IDType = "commercial_reg"
)

var (
	idPattern    = regexp.MustCompile(`^[0-9]{10}$`)
	phonePattern = regexp.MustCompile(`^05[0-9]{8}$`)
)

// NormalizeDigits maps Arabic-Indic (U+0660..U+0669) and Extended
// Arabic-Indic (U+06F0..U+06F9) digits to ASCII. Other runes pass through.
func NormalizeDigits(text string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= '٠' && r <= '٩':
			return '0' + (r - '٠')
		case r >= '۰' && r <= '۹':
			return '0' + (r - '۰')
		}
		return r
	}, text)
}

// NormalizeSerial canonicalizes a serial number for storage and comparison.
func NormalizeSerial(text string) string {
	return strings.ToLower(strings.TrimSpace(NormalizeDigits(text)))
}

// NormalizeID folds digits and trims whitespace from an identity number.
func NormalizeID(text string) string {
	return strings.TrimSpace(NormalizeDigits(text))
}

// DetectIDType returns the identity type for a 10-digit number, or "" when
// the number is malformed or its leading digit is not recognised.
func DetectIDType(id string) IDType {
	if !idPattern.MatchString(id) {
		return ""
	}
	switch id[0] {
	case '1':
		return IDTypeNational
	case '2':
		return IDTypeResident
	case '7':
		return IDTypeCommercialReg
	}
	return ""
}

// ValidateID reports whether id is a well-formed identity number.
func ValidateID(id string) bool {
	return DetectIDType(id) != ""
}

// NormalizePhone strips everything but digits and restores a missing
// leading trunk zero on 9-digit numbers.
func NormalizePhone(text string) string {
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, NormalizeDigits(text))

	if len(digits) == 9 && !strings.HasPrefix(digits, "0") {
		digits = "0" + digits
	}
	return digits
}

// ValidPhone reports whether text normalizes to a Saudi mobile number.
func ValidPhone(text string) bool {
	return phonePattern.MatchString(NormalizePhone(text))
}

// Location is a "Region - City - District" theft location.
type Location struct {
	Region   string
	City     string
	District string
}

func (l Location) String() string {
	return l.Region + " - " + l.City + " - " + l.District
}

// ParseLocation splits a hierarchical location on " - ". It requires exactly
// three non-empty parts; hyphens inside a name ("Al-Olaya") are kept.
func ParseLocation(text string) (Location, bool) {
	parts := strings.Split(strings.TrimSpace(text), " - ")
	if len(parts) != 3 {
		return Location{}, false
	}
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
		if parts[i] == "" {
			return Location{}, false
		}
	}
	return Location{Region: parts[0], City: parts[1], District: parts[2]}, true
}
