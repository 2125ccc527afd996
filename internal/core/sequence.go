// internal/core/sequence.go
package core

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
)

const (
	certificateNumberWidth = 10
	maxCertificateNumber   = 9_999_999_999
	reportIDPrefix         = "SR-"
)

// Sequencer hands out certificate numbers. It is called with the store of
// the transaction that will insert the certificate.
type Sequencer interface {
	NextCertificateNumber(ctx context.Context, store DataStore) (string, error)
}

// FormatCertificateNumber pads n to the fixed certificate number width.
func FormatCertificateNumber(n uint64) string {
	return fmt.Sprintf("%0*d", certificateNumberWidth, n)
}

// NewReportID returns a fresh report identifier. It never has the shape of
// a certificate number.
func NewReportID() string {
	return reportIDPrefix + ulid.Make().String()
}

// StoreSequencer derives the next number from the highest issued one.
type StoreSequencer struct {
	logger *logrus.Logger
	now    func() time.Time
}

func NewStoreSequencer(logger *logrus.Logger) *StoreSequencer {
	return &StoreSequencer{logger: logger, now: time.Now}
}

func (s *StoreSequencer) NextCertificateNumber(ctx context.Context, store DataStore) (string, error) {
	last, err := lastCertificateNumber(ctx, store)
	if err != nil {
		return "", err
	}
	if last == "" {
		return FormatCertificateNumber(1), nil
	}

	n, err := strconv.ParseUint(last, 10, 64)
	if err != nil || n >= maxCertificateNumber {
		fallback := s.fallback()
		s.logger.WithFields(logrus.Fields{
			"last_number": last,
			"fallback":    fallback,
		}).Warn("Unparseable certificate number, falling back to timestamp")
		return fallback, nil
	}
	return FormatCertificateNumber(n + 1), nil
}

// fallback uses the low digits of the millisecond clock. Two fallbacks in
// the same millisecond collide; issuance retries on the duplicate.
func (s *StoreSequencer) fallback() string {
	ms := strconv.FormatInt(s.now().UnixMilli(), 10)
	if len(ms) > certificateNumberWidth {
		ms = ms[len(ms)-certificateNumberWidth:]
	}
	return strings.Repeat("0", certificateNumberWidth-len(ms)) + ms
}

// Counter is an atomic shared counter, such as a Redis key.
type Counter interface {
	SetNX(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error)
	Incr(ctx context.Context, key string) (int64, error)
}

// CounterSequencer hands out numbers from an atomic counter. The counter is
// seeded once from the highest number in the store.
type CounterSequencer struct {
	counter Counter
	key     string
	logger  *logrus.Logger

	mu     sync.Mutex
	seeded bool
}

func NewCounterSequencer(counter Counter, key string, logger *logrus.Logger) *CounterSequencer {
	if key == "" {
		key = "checkserial:certificate_number"
	}
	return &CounterSequencer{counter: counter, key: key, logger: logger}
}

func (s *CounterSequencer) NextCertificateNumber(ctx context.Context, store DataStore) (string, error) {
	if err := s.seed(ctx, store); err != nil {
		return "", err
	}

	n, err := s.counter.Incr(ctx, s.key)
	if err != nil {
		return "", fmt.Errorf("failed to increment certificate counter: %w", err)
	}
	if n <= 0 || n > maxCertificateNumber {
		return "", fmt.Errorf("certificate counter out of range: %d", n)
	}
	return FormatCertificateNumber(uint64(n)), nil
}

func (s *CounterSequencer) seed(ctx context.Context, store DataStore) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.seeded {
		return nil
	}

	last, err := lastCertificateNumber(ctx, store)
	if err != nil {
		return err
	}
	start, err := strconv.ParseUint(last, 10, 64)
	if err != nil {
		start = 0
	}

	set, err := s.counter.SetNX(ctx, s.key, start, 0)
	if err != nil {
		return fmt.Errorf("failed to seed certificate counter: %w", err)
	}
	s.logger.WithFields(logrus.Fields{
		"key":   s.key,
		"start": start,
		"set":   set,
	}).Info("Certificate counter ready")

	s.seeded = true
	return nil
}

func lastCertificateNumber(ctx context.Context, store DataStore) (string, error) {
	rows, err := store.Certificates().List(ctx, "-certificateNumber", 1)
	if err != nil {
		return "", err
	}
	if len(rows) == 0 {
		return "", nil
	}
	return strings.TrimSpace(rows[0].CertificateNumber), nil
}
