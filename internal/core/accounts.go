// internal/core/accounts.go
package core

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/24hmood24/checkserialnum/internal/utils"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const minPasswordLength = 8

// UserLookup is the result of a directory lookup.
type UserLookup struct {
	Exists bool     `json:"exists"`
	User   *AppUser `json:"user,omitempty"`
}

type RegisterUserRequest struct {
	NationalID  string `json:"nationalId"`
	FullName    string `json:"fullName"`
	PhoneNumber string `json:"phoneNumber"`
	Password    string `json:"password"`
}

// ProfileUpdate edits the caller's own account. Nil fields are left
// unchanged. A new password needs the current one.
type ProfileUpdate struct {
	FullName        *string `json:"fullName"`
	PhoneNumber     *string `json:"phoneNumber"`
	CurrentPassword string  `json:"currentPassword"`
	NewPassword     string  `json:"newPassword"`
}

// Session is a signed token for an authenticated account.
type Session struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
	User      *AppUser  `json:"user"`
}

// AccountService is the account directory and credential check.
type AccountService struct {
	store  DataStore
	signer *utils.SessionSigner
	logger *logrus.Logger
}

func NewAccountService(store DataStore, signer *utils.SessionSigner, logger *logrus.Logger) *AccountService {
	return &AccountService{store: store, signer: signer, logger: logger}
}

// FindUserByNationalID looks an account up by identity number.
func (s *AccountService) FindUserByNationalID(ctx context.Context, nationalID string) (*UserLookup, error) {
	id := utils.NormalizeID(nationalID)
	if id == "" {
		return nil, ErrMissingFields
	}
	if !utils.ValidateID(id) {
		return nil, ErrInvalidID
	}

	user, err := findUser(ctx, s.store, id)
	if err != nil {
		return nil, err
	}
	return &UserLookup{Exists: user != nil, User: user}, nil
}

// RegisterUser creates an account with a bcrypt-hashed password.
func (s *AccountService) RegisterUser(ctx context.Context, req RegisterUserRequest, userType UserType) (*AppUser, error) {
	user, err := newUser(req, userType)
	if err != nil {
		return nil, err
	}

	existing, err := findUser(ctx, s.store, user.NationalID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrUserExists
	}

	if err := s.store.Users().Create(ctx, user); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, ErrUserExists
		}
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"user_id":   user.ID,
		"user_type": user.UserType,
	}).Info("Account registered")
	return user, nil
}

// EnsureAdmin creates the account as an administrator, or promotes an
// existing account. It reports whether anything changed.
func (s *AccountService) EnsureAdmin(ctx context.Context, req RegisterUserRequest) (*AppUser, bool, error) {
	id := utils.NormalizeID(req.NationalID)
	existing, err := findUser(ctx, s.store, id)
	if err != nil {
		return nil, false, err
	}
	if existing == nil {
		user, err := s.RegisterUser(ctx, req, UserAdmin)
		return user, err == nil, err
	}
	if existing.IsAdmin() {
		return existing, false, nil
	}

	if err := s.store.Users().Update(ctx, existing.ID, map[string]interface{}{"userType": string(UserAdmin)}); err != nil {
		return nil, false, err
	}
	existing.UserType = UserAdmin
	s.logger.WithField("user_id", existing.ID).Info("Account promoted to admin")
	return existing, true, nil
}

// Authenticate checks a national ID and password.
func (s *AccountService) Authenticate(ctx context.Context, nationalID, password string) (*AppUser, error) {
	id := utils.NormalizeID(nationalID)
	if id == "" || password == "" {
		return nil, ErrMissingFields
	}

	user, err := findUser(ctx, s.store, id)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrUserNotFound
	}
	if !utils.CheckPasswordHash(password, user.PasswordHash) {
		s.logger.WithField("user_id", user.ID).Warn("Failed login attempt")
		return nil, ErrInvalidCredential
	}
	return user, nil
}

// Login authenticates and signs a session token.
func (s *AccountService) Login(ctx context.Context, nationalID, password string) (*Session, error) {
	user, err := s.Authenticate(ctx, nationalID, password)
	if err != nil {
		return nil, err
	}
	token, expires, err := s.signer.Issue(user.ID, user.NationalID, string(user.UserType))
	if err != nil {
		return nil, err
	}
	return &Session{Token: token, ExpiresAt: expires, User: user}, nil
}

// VerifySession validates a session token.
func (s *AccountService) VerifySession(token string) (*utils.SessionClaims, error) {
	return s.signer.Verify(token)
}

// Profile returns the account for nationalID.
func (s *AccountService) Profile(ctx context.Context, nationalID string) (*AppUser, error) {
	user, err := findUser(ctx, s.store, utils.NormalizeID(nationalID))
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrUserNotFound
	}
	return user, nil
}

// UpdateProfile changes the name, phone or password of the account for
// nationalID. The national ID itself never changes.
func (s *AccountService) UpdateProfile(ctx context.Context, nationalID string, upd ProfileUpdate) (*AppUser, error) {
	fields := map[string]interface{}{}
	if upd.FullName != nil {
		name := strings.TrimSpace(*upd.FullName)
		if name == "" {
			return nil, ErrMissingFields
		}
		fields["fullName"] = name
	}
	if upd.PhoneNumber != nil {
		phone := utils.NormalizePhone(*upd.PhoneNumber)
		if phone == "" {
			return nil, ErrMissingFields
		}
		if !utils.ValidPhone(phone) {
			return nil, ErrInvalidPhone
		}
		fields["phoneNumber"] = phone
	}
	if upd.NewPassword != "" {
		if upd.CurrentPassword == "" {
			return nil, ErrMissingFields
		}
		if utf8.RuneCountInString(upd.NewPassword) < minPasswordLength {
			return nil, ErrWeakPassword
		}
	}
	if len(fields) == 0 && upd.NewPassword == "" {
		return nil, ErrMissingFields
	}

	user, err := s.Profile(ctx, nationalID)
	if err != nil {
		return nil, err
	}
	if upd.NewPassword != "" {
		if !utils.CheckPasswordHash(upd.CurrentPassword, user.PasswordHash) {
			s.logger.WithField("user_id", user.ID).Warn("Profile update with wrong current password")
			return nil, ErrInvalidCredential
		}
		hash, err := utils.HashPassword(upd.NewPassword)
		if err != nil {
			return nil, err
		}
		fields["passwordHash"] = hash
	}

	if err := s.store.Users().Update(ctx, user.ID, fields); err != nil {
		return nil, err
	}
	if v, ok := fields["fullName"]; ok {
		user.FullName = v.(string)
	}
	if v, ok := fields["phoneNumber"]; ok {
		user.PhoneNumber = v.(string)
	}
	if v, ok := fields["passwordHash"]; ok {
		user.PasswordHash = v.(string)
	}

	s.logger.WithFields(logrus.Fields{
		"user_id":          user.ID,
		"phone_changed":    upd.PhoneNumber != nil,
		"password_changed": upd.NewPassword != "",
	}).Info("Profile updated")
	return user, nil
}

// UserDevices lists the active certificates owned by nationalID.
func (s *AccountService) UserDevices(ctx context.Context, nationalID string) ([]PurchaseCertificate, error) {
	return s.store.Certificates().Filter(ctx, Query{
		Equals: map[string]interface{}{
			"buyerId": utils.NormalizeID(nationalID),
			"status":  string(CertificateActive),
		},
	}, "-createdAt")
}

// UserReports lists every report filed by nationalID.
func (s *AccountService) UserReports(ctx context.Context, nationalID string) ([]StolenDeviceReport, error) {
	return s.store.Reports().Filter(ctx, Query{
		Equals: map[string]interface{}{"reporterNationalId": utils.NormalizeID(nationalID)},
	}, "-createdAt")
}

func newUser(req RegisterUserRequest, userType UserType) (*AppUser, error) {
	id := utils.NormalizeID(req.NationalID)
	name := strings.TrimSpace(req.FullName)
	phone := utils.NormalizePhone(req.PhoneNumber)
	if id == "" || name == "" || phone == "" || req.Password == "" {
		return nil, ErrMissingFields
	}
	if !utils.ValidateID(id) {
		return nil, ErrInvalidID
	}
	if !utils.ValidPhone(phone) {
		return nil, ErrInvalidPhone
	}
	if utf8.RuneCountInString(req.Password) < minPasswordLength {
		return nil, ErrWeakPassword
	}

	hash, err := utils.HashPassword(req.Password)
	if err != nil {
		return nil, err
	}
	if userType == "" {
		userType = UserRegular
	}
	return &AppUser{
		NationalID:   id,
		FullName:     name,
		PhoneNumber:  phone,
		PasswordHash: hash,
		UserType:     userType,
	}, nil
}
