// internal/core/registry.go
package core

import (
	"time"

	"github.com/24hmood24/checkserialnum/internal/utils"
	"github.com/sirupsen/logrus"
)

// Dependencies wires the domain services. Nil optional fields fall back
// to in-process defaults.
type Dependencies struct {
	Store       DataStore
	Logger      *logrus.Logger
	Signer      *utils.SessionSigner
	Sequencer   Sequencer
	Locker      Locker
	Publisher   Publisher
	MaxAttempts int
}

// ServiceRegistry holds all domain services.
type ServiceRegistry struct {
	Resolver  *DeviceResolver
	Transfers *TransferService
	Theft     *TheftService
	Admin     *AdminService
	Accounts  *AccountService
	Scanner   *ScannerService
}

func NewServiceRegistry(deps Dependencies) *ServiceRegistry {
	if deps.Sequencer == nil {
		deps.Sequencer = NewStoreSequencer(deps.Logger)
	}
	if deps.Locker == nil {
		deps.Locker = NewKeyedMutex()
	}
	if deps.MaxAttempts < 1 {
		deps.MaxAttempts = 3
	}

	lc := &lifecycle{
		store:       deps.Store,
		sequencer:   deps.Sequencer,
		locker:      deps.Locker,
		events:      eventSink{publisher: deps.Publisher, logger: deps.Logger},
		logger:      deps.Logger,
		maxAttempts: deps.MaxAttempts,
		now:         time.Now,
	}

	resolver := NewDeviceResolver(deps.Store, deps.Logger)
	return &ServiceRegistry{
		Resolver:  resolver,
		Transfers: &TransferService{lifecycle: lc},
		Theft:     &TheftService{lifecycle: lc},
		Admin:     NewAdminService(deps.Store, deps.Logger),
		Accounts:  NewAccountService(deps.Store, deps.Signer, deps.Logger),
		Scanner:   NewScannerService(resolver, deps.Logger),
	}
}
