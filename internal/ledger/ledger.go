// Package ledger owns Order and Payment records. It is the only writer of
// orders.status and payments.status; every write is a conditional update
// inside a database transaction so a lost race is reported, never applied.
package ledger

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"subscription-billing/internal/clock"
	"subscription-billing/internal/domain/apperr"
	"subscription-billing/internal/domain/orders"
	"subscription-billing/internal/domain/plans"
	"subscription-billing/internal/logger"
)

// Locker is the keyed mutual exclusion the ledger uses to reduce contention
// on per-user order creation.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl, wait time.Duration) (string, error)
	Release(ctx context.Context, key, token string) (bool, error)
}

// TierSource resolves catalog entries.
type TierSource interface {
	GetTier(ctx context.Context, id uint) (*plans.Tier, error)
}

// ProviderSet reports whether a payment method is configured.
type ProviderSet interface {
	Has(provider string) bool
}

type Options struct {
	OrderTTL time.Duration
	Clock    clock.Clock
	Logger   *zap.Logger
}

type Ledger struct {
	db        *gorm.DB
	locker    Locker
	tiers     TierSource
	providers ProviderSet
	clock     clock.Clock
	ttl       time.Duration
	log       *zap.Logger
}

func New(db *gorm.DB, locker Locker, tiers TierSource, providers ProviderSet, opts Options) *Ledger {
	if opts.OrderTTL <= 0 {
		opts.OrderTTL = orders.DefaultTTL
	}
	if opts.Clock == nil {
		opts.Clock = clock.NewSystem()
	}
	return &Ledger{
		db:        db,
		locker:    locker,
		tiers:     tiers,
		providers: providers,
		clock:     opts.Clock,
		ttl:       opts.OrderTTL,
		log:       logger.OrNop(opts.Logger).Named("ledger"),
	}
}

// Now is the ledger's notion of the current time.
func (l *Ledger) Now() time.Time { return l.clock.Now() }

func (l *Ledger) tx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return l.db.WithContext(ctx).Transaction(fn)
}

// dbError leaves typed errors alone and classifies everything else as a
// store failure.
func dbError(err error) error {
	if err == nil {
		return nil
	}
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		return err
	}
	return apperr.External("database", err)
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
