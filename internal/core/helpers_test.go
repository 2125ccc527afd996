package core

import (
	"context"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/24hmood24/checkserialnum/internal/utils"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	aliceID    = "1000000001"
	alicePhone = "0500000001"
	bobID      = "1000000002"
	bobPhone   = "0500000002"
	carolID    = "2000000003"
	carolPhone = "0500000003"
)

type recordingPublisher struct {
	mu     sync.Mutex
	topics []string
}

func (p *recordingPublisher) Publish(_ context.Context, topic string, _ interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topics = append(p.topics, topic)
	return nil
}

func (p *recordingPublisher) Topics() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.topics...)
}

type testEnv struct {
	store     DataStore
	services  *ServiceRegistry
	publisher *recordingPublisher
	logger    *logrus.Logger
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func newTestStore(t *testing.T) DataStore {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to get sql.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	if err := db.AutoMigrate(Models()...); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	store, err := NewDataStore(db)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	return store
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnvWith(t, Dependencies{})
}

func newTestEnvWith(t *testing.T, deps Dependencies) *testEnv {
	t.Helper()

	if deps.Store == nil {
		deps.Store = newTestStore(t)
	}
	signer, err := utils.NewSessionSigner("test-secret", time.Hour)
	if err != nil {
		t.Fatalf("failed to create signer: %v", err)
	}
	pub := &recordingPublisher{}
	deps.Logger = quietLogger()
	deps.Signer = signer
	deps.Publisher = pub

	return &testEnv{
		store:     deps.Store,
		services:  NewServiceRegistry(deps),
		publisher: pub,
		logger:    deps.Logger,
	}
}

func (e *testEnv) addUser(t *testing.T, id, phone string) *AppUser {
	t.Helper()
	user, err := e.services.Accounts.RegisterUser(context.Background(), RegisterUserRequest{
		NationalID:  id,
		FullName:    "User " + id,
		PhoneNumber: phone,
		Password:    "password-" + id,
	}, UserRegular)
	if err != nil {
		t.Fatalf("failed to register user %s: %v", id, err)
	}
	return user
}

func (e *testEnv) register(t *testing.T, serial string, deviceType DeviceType, owner string) *PurchaseCertificate {
	t.Helper()
	cert, err := e.services.Transfers.RegisterDevice(context.Background(), RegisterDeviceRequest{
		SerialNumber: serial,
		DeviceType:   deviceType,
		OwnerID:      owner,
	})
	if err != nil {
		t.Fatalf("failed to register %s: %v", serial, err)
	}
	return cert
}

func (e *testEnv) certificatesFor(t *testing.T, serial string) []PurchaseCertificate {
	t.Helper()
	rows, err := e.store.Certificates().Filter(context.Background(), Query{
		Equals: map[string]interface{}{"serialNumber": serial},
	}, "certificateNumber")
	if err != nil {
		t.Fatalf("failed to list certificates: %v", err)
	}
	return rows
}

func (e *testEnv) reportsFor(t *testing.T, serial string) []StolenDeviceReport {
	t.Helper()
	rows, err := e.store.Reports().Filter(context.Background(), Query{
		Equals: map[string]interface{}{"serialNumber": serial},
	}, "createdAt")
	if err != nil {
		t.Fatalf("failed to list reports: %v", err)
	}
	return rows
}

func countStatus[T any](rows []T, status func(T) string, want string) int {
	n := 0
	for _, r := range rows {
		if status(r) == want {
			n++
		}
	}
	return n
}

func certStatus(c PurchaseCertificate) string  { return string(c.Status) }
func reportStatus(r StolenDeviceReport) string { return string(r.Status) }
