// internal/core/lifecycle.go
package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/24hmood24/checkserialnum/internal/metrics"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// lifecycle holds what every state-changing service needs: the store, the
// per-serial locker, the certificate sequencer and the event sink.
type lifecycle struct {
	store       DataStore
	sequencer   Sequencer
	locker      Locker
	events      eventSink
	logger      *logrus.Logger
	maxAttempts int
	now         func() time.Time
}

// transact runs fn in a store transaction while holding the serial's lock.
// A duplicate key from a concurrent writer (certificate number or active
// serial) re-runs fn from scratch, so fn must re-read everything it checks.
func (l *lifecycle) transact(ctx context.Context, serial string, fn func(ctx context.Context, tx DataStore) error) error {
	unlock, err := l.locker.Lock(ctx, serialLockKey(serial))
	if err != nil {
		return fmt.Errorf("failed to lock serial %s: %w", serial, err)
	}
	defer unlock()

	for attempt := 1; ; attempt++ {
		err = l.store.WithTransaction(ctx, fn)
		if !errors.Is(err, gorm.ErrDuplicatedKey) {
			return err
		}

		fields := logrus.Fields{"serial": serial, "attempt": attempt}
		if attempt >= l.maxAttempts {
			l.logger.WithError(err).WithFields(fields).Error("Giving up on certificate issuance")
			return ErrCertificateNumberExists
		}
		metrics.IssuanceRetriesTotal.Inc()
		l.logger.WithFields(fields).Warn("Duplicate key during issuance, retrying")
	}
}

// issue assigns the next certificate number and inserts cert.
func (l *lifecycle) issue(ctx context.Context, tx DataStore, cert *PurchaseCertificate) error {
	number, err := l.sequencer.NextCertificateNumber(ctx, tx)
	if err != nil {
		return err
	}
	cert.CertificateNumber = number
	return tx.Certificates().Create(ctx, cert)
}

func setCertificateStatus(ctx context.Context, tx DataStore, cert *PurchaseCertificate, next CertificateStatus) error {
	if !cert.Status.CanTransitionTo(next) {
		return ErrInvalidTransition
	}
	if err := tx.Certificates().Update(ctx, cert.ID, map[string]interface{}{"status": string(next)}); err != nil {
		return err
	}
	cert.Status = next
	return nil
}
