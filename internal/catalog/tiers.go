// Package catalog serves the tier catalog from the database through a short
// redis cache, and keeps it in step with Stripe recurring prices.
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"

	"subscription-billing/internal/domain/apperr"
	"subscription-billing/internal/domain/money"
	"subscription-billing/internal/domain/plans"
	"subscription-billing/internal/logger"
)

const (
	DefaultCacheTTL = time.Hour
	activeKey       = "tiers:active"
)

func tierKey(id uint) string { return "tier:" + strconv.FormatUint(uint64(id), 10) }

type Catalog struct {
	db    *gorm.DB
	cache redis.Cmdable
	ttl   time.Duration
	group singleflight.Group
	log   *zap.Logger
}

// New builds a catalog. cache may be nil, in which case every read goes to
// the database.
func New(db *gorm.DB, cache redis.Cmdable, ttl time.Duration, log *zap.Logger) *Catalog {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Catalog{db: db, cache: cache, ttl: ttl, log: logger.OrNop(log).Named("catalog")}
}

// GetTier returns the tier with id, active or not.
func (c *Catalog) GetTier(ctx context.Context, id uint) (*plans.Tier, error) {
	var tier plans.Tier
	if c.fromCache(ctx, tierKey(id), &tier) {
		return &tier, nil
	}

	v, err, _ := c.group.Do(tierKey(id), func() (any, error) {
		var t plans.Tier
		if err := c.db.WithContext(ctx).Take(&t, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, apperr.Validation("invalid_tier", "tier %d not found", id)
			}
			return nil, apperr.External("database", err)
		}
		c.toCache(ctx, tierKey(id), &t)
		return &t, nil
	})
	if err != nil {
		return nil, err
	}
	t := *v.(*plans.Tier)
	return &t, nil
}

// ListActive returns purchasable tiers ordered for display.
func (c *Catalog) ListActive(ctx context.Context) ([]plans.Tier, error) {
	var list []plans.Tier
	if c.fromCache(ctx, activeKey, &list) {
		return list, nil
	}

	v, err, _ := c.group.Do(activeKey, func() (any, error) {
		var tiers []plans.Tier
		err := c.db.WithContext(ctx).
			Where("is_active = ?", true).
			Order("sort_order ASC").
			Order("monthly_price ASC").
			Find(&tiers).Error
		if err != nil {
			return nil, apperr.External("database", err)
		}
		c.toCache(ctx, activeKey, tiers)
		return tiers, nil
	})
	if err != nil {
		return nil, err
	}
	return append([]plans.Tier(nil), v.([]plans.Tier)...), nil
}

// SaveTier creates or updates a tier by code.
func (c *Catalog) SaveTier(ctx context.Context, in plans.Tier) (*plans.Tier, error) {
	if in.Code == "" || in.Name == "" {
		return nil, apperr.Validation("invalid_tier", "code and name are required")
	}
	if in.MonthlyPrice.IsNegative() || in.YearlyPrice.IsNegative() {
		return nil, apperr.Validation("invalid_price", "prices must not be negative")
	}
	in.Currency = money.Normalize(in.Currency)
	if !money.IsSupported(in.Currency) {
		return nil, apperr.Validation("invalid_currency", "unsupported currency %q", in.Currency)
	}
	if _, err := money.ToMinor(in.MonthlyPrice, in.Currency); err != nil {
		return nil, apperr.Validation("invalid_price", "%v", err)
	}
	if _, err := money.ToMinor(in.YearlyPrice, in.Currency); err != nil {
		return nil, apperr.Validation("invalid_price", "%v", err)
	}

	var tier plans.Tier
	err := c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Where("code = ?", in.Code).Take(&tier).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			tier = in
			tier.ID = 0
			return createTier(tx, &tier)
		case err != nil:
			return err
		}
		return tx.Model(&tier).Updates(map[string]any{
			"name":          in.Name,
			"monthly_price": in.MonthlyPrice,
			"yearly_price":  in.YearlyPrice,
			"currency":      in.Currency,
			"features":      in.Features,
			"is_active":     in.IsActive,
			"sort_order":    in.SortOrder,
		}).Error
	})
	if err != nil {
		return nil, apperr.External("database", err)
	}

	c.Invalidate(ctx, tier.ID)
	c.log.Info("tier saved", zap.String("code", tier.Code), zap.Uint("id", tier.ID))
	return c.GetTier(ctx, tier.ID)
}

// createTier inserts t. is_active carries a database default that gorm
// substitutes for a zero value and then reads back into t, so the requested
// flag is captured first and written again when it is false.
func createTier(tx *gorm.DB, t *plans.Tier) error {
	active := t.IsActive
	if err := tx.Create(t).Error; err != nil {
		return err
	}
	if active {
		return nil
	}
	t.IsActive = false
	return tx.Model(&plans.Tier{}).Where("id = ?", t.ID).Update("is_active", false).Error
}

// Invalidate drops the cached list and the given tiers.
func (c *Catalog) Invalidate(ctx context.Context, ids ...uint) {
	if c.cache == nil {
		return
	}
	keys := []string{activeKey}
	for _, id := range ids {
		keys = append(keys, tierKey(id))
	}
	if err := c.cache.Del(ctx, keys...).Err(); err != nil {
		c.log.Warn("tier cache invalidation failed", zap.Error(err))
	}
}

func (c *Catalog) fromCache(ctx context.Context, key string, dst any) bool {
	if c.cache == nil {
		return false
	}
	raw, err := c.cache.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.log.Warn("tier cache read failed", zap.String("key", key), zap.Error(err))
		}
		return false
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		c.log.Warn("tier cache entry corrupt", zap.String("key", key), zap.Error(err))
		return false
	}
	return true
}

func (c *Catalog) toCache(ctx context.Context, key string, v any) {
	if c.cache == nil {
		return
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := c.cache.Set(ctx, key, raw, c.ttl).Err(); err != nil {
		c.log.Warn("tier cache write failed", zap.String("key", key), zap.Error(err))
	}
}
