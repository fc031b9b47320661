package cli

import (
	"context"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"subscription-billing/config"
	"subscription-billing/database"
	"subscription-billing/internal/catalog"
	"subscription-billing/internal/events"
	"subscription-billing/internal/gateway"
	"subscription-billing/internal/infra/alipay"
	"subscription-billing/internal/infra/kafka"
	"subscription-billing/internal/infra/paypal"
	"subscription-billing/internal/infra/redislock"
	"subscription-billing/internal/infra/stripe"
	"subscription-billing/internal/infra/wechat"
	"subscription-billing/internal/ledger"
	"subscription-billing/internal/payments"
	"subscription-billing/internal/refunds"
	"subscription-billing/internal/settlement"
)

// app holds every long-lived component of one process.
type app struct {
	db       *gorm.DB
	redis    *redis.Client
	locker   *redislock.Locker
	limiter  *redislock.RateLimiter
	gateways *gateway.Registry
	stripe   *stripe.Adapter
	catalog  *catalog.Catalog
	ledger   *ledger.Ledger

	publisher events.Publisher

	payments   *payments.Service
	settlement *settlement.Processor
	audit      *settlement.Audit
	refunds    *refunds.Coordinator

	closers []func() error
}

func newApp(ctx context.Context, log *zap.Logger) (*app, error) {
	a := &app{}

	db, err := database.InitDB(config.DB_URL)
	if err != nil {
		return nil, err
	}
	a.db = db
	if sqlDB, err := db.DB(); err == nil {
		a.closers = append(a.closers, sqlDB.Close)
	}

	rdb, err := redislock.NewClient(ctx, config.REDIS_ADDR, config.REDIS_PASSWORD, config.REDIS_DB)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.redis = rdb
	a.closers = append(a.closers, rdb.Close)
	a.locker = redislock.NewLocker(rdb)
	a.limiter = redislock.NewRateLimiter(rdb)

	if err := a.buildGateways(log); err != nil {
		a.Close()
		return nil, err
	}

	a.publisher = events.Nop()
	if len(config.KAFKA_BROKERS) > 0 {
		p, err := kafka.Dial(config.KAFKA_BROKERS, config.KAFKA_TOPIC, log)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.publisher = p
		a.closers = append(a.closers, p.Close)
	} else {
		log.Info("KAFKA_BROKERS not set, order events are not published")
	}

	a.catalog = catalog.New(db, rdb, 0, log)
	a.ledger = ledger.New(db, a.locker, a.catalog, a.gateways, ledger.Options{
		OrderTTL: config.ORDER_TTL,
		Logger:   log,
	})
	a.payments = payments.NewService(a.ledger, a.gateways, log)
	a.settlement = settlement.NewProcessor(a.ledger, a.locker, a.publisher, log)
	a.audit = settlement.NewAudit(db)
	a.refunds = refunds.NewCoordinator(a.ledger, a.gateways, a.locker, a.publisher, log)
	return a, nil
}

// buildGateways registers an adapter for every provider whose credentials
// are configured.
func (a *app) buildGateways(log *zap.Logger) error {
	a.gateways = gateway.NewRegistry()

	if config.Stripe.Enabled() {
		a.stripe = stripe.New(stripe.Config{
			SecretKey:     config.Stripe.SecretKey,
			WebhookSecret: config.Stripe.WebhookSecret,
			APIURL:        config.Stripe.APIURL,
		}, log)
		a.gateways.Register(a.stripe)
	}
	if config.PayPal.Enabled() {
		a.gateways.Register(paypal.New(paypal.Config{
			ClientID:     config.PayPal.ClientID,
			ClientSecret: config.PayPal.ClientSecret,
			WebhookID:    config.PayPal.WebhookID,
			APIURL:       config.PayPal.APIURL,
			ReturnURL:    config.PayPal.ReturnURL,
			CancelURL:    config.PayPal.CancelURL,
		}, log))
	}
	if config.Alipay.Enabled() {
		ad, err := alipay.New(alipay.Config{
			AppID:      config.Alipay.AppID,
			PrivateKey: config.Alipay.PrivateKey,
			PublicKey:  config.Alipay.PublicKey,
			GatewayURL: config.Alipay.GatewayURL,
			NotifyURL:  config.Alipay.NotifyURL,
			ReturnURL:  config.Alipay.ReturnURL,
		}, log)
		if err != nil {
			return fmt.Errorf("alipay: %w", err)
		}
		a.gateways.Register(ad)
	}
	if config.WeChat.Enabled() {
		ad, err := wechat.New(wechat.Config{
			MchID:             config.WeChat.MchID,
			AppID:             config.WeChat.AppID,
			SerialNo:          config.WeChat.SerialNo,
			PrivateKey:        config.WeChat.PrivateKey,
			PlatformPublicKey: config.WeChat.PlatformPublicKey,
			APIv3Key:          config.WeChat.APIv3Key,
			NotifyURL:         config.WeChat.NotifyURL,
			APIURL:            config.WeChat.APIURL,
		}, log)
		if err != nil {
			return fmt.Errorf("wechat: %w", err)
		}
		a.gateways.Register(ad)
	}

	if len(a.gateways.Providers()) == 0 {
		log.Warn("no payment provider configured, payment intents will be rejected")
	} else {
		log.Info("payment providers enabled", zap.Strings("providers", a.gateways.Providers()))
	}
	return nil
}

// priceSource is nil unless stripe is configured.
func (a *app) priceSource() catalog.PriceSource {
	if a.stripe == nil {
		return nil
	}
	return a.stripe
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		_ = a.closers[i]()
	}
	a.closers = nil
}

func asynqRedis() asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     config.REDIS_ADDR,
		Password: config.REDIS_PASSWORD,
		DB:       config.REDIS_DB,
	}
}
