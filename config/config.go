package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

var (
	PORT        string
	APP_ENV     string
	DB_URL      string
	JWT_SECRET  string
	CORS_ORIGIN string

	REDIS_ADDR     string
	REDIS_PASSWORD string
	REDIS_DB       int

	ORDER_TTL       time.Duration
	RATE_LIMIT      int
	RATE_WINDOW     time.Duration
	EXPIRE_SCHEDULE string

	KAFKA_BROKERS []string
	KAFKA_TOPIC   string

	Stripe StripeConfig
	PayPal PayPalConfig
	Alipay AlipayConfig
	WeChat WeChatConfig

	// EnvFileLoaded is false when no .env file was found and only the
	// process environment is used.
	EnvFileLoaded bool
)

type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
	APIURL        string
	ProductID     string
}

func (c StripeConfig) Enabled() bool {
	return c.SecretKey != "" && c.WebhookSecret != ""
}

type PayPalConfig struct {
	ClientID     string
	ClientSecret string
	WebhookID    string
	APIURL       string
	ReturnURL    string
	CancelURL    string
}

func (c PayPalConfig) Enabled() bool {
	return c.ClientID != "" && c.ClientSecret != "" && c.WebhookID != ""
}

type AlipayConfig struct {
	AppID      string
	PrivateKey string
	PublicKey  string
	GatewayURL string
	NotifyURL  string
	ReturnURL  string
}

func (c AlipayConfig) Enabled() bool {
	return c.AppID != "" && c.PrivateKey != "" && c.PublicKey != ""
}

type WeChatConfig struct {
	MchID             string
	AppID             string
	SerialNo          string
	PrivateKey        string
	PlatformPublicKey string
	APIv3Key          string
	NotifyURL         string
	APIURL            string
}

func (c WeChatConfig) Enabled() bool {
	return c.MchID != "" && c.PrivateKey != "" && c.PlatformPublicKey != "" && len(c.APIv3Key) == 32
}

// LoadEnv reads an optional .env file, then resolves every setting from the
// environment with defaults applied. Missing required keys are reported
// together.
func LoadEnv() error {
	EnvFileLoaded = godotenv.Load() == nil

	v := viper.New()
	v.AutomaticEnv()
	setDefaults(v)

	var missing []string
	mustEnv := func(key string) string {
		s := strings.TrimSpace(v.GetString(key))
		if s == "" {
			missing = append(missing, key)
		}
		return s
	}

	PORT = v.GetString("PORT")
	APP_ENV = v.GetString("APP_ENV")
	DB_URL = mustEnv("DB_URL")
	JWT_SECRET = mustEnv("JWT_SECRET")
	CORS_ORIGIN = v.GetString("CORS_ORIGIN")

	REDIS_ADDR = v.GetString("REDIS_ADDR")
	REDIS_PASSWORD = v.GetString("REDIS_PASSWORD")
	REDIS_DB = v.GetInt("REDIS_DB")

	ORDER_TTL = v.GetDuration("ORDER_TTL")
	RATE_LIMIT = v.GetInt("RATE_LIMIT")
	RATE_WINDOW = v.GetDuration("RATE_WINDOW")
	EXPIRE_SCHEDULE = v.GetString("EXPIRE_SCHEDULE")

	KAFKA_BROKERS = splitList(v.GetString("KAFKA_BROKERS"))
	KAFKA_TOPIC = v.GetString("KAFKA_TOPIC")

	Stripe = StripeConfig{
		SecretKey:     v.GetString("STRIPE_SECRET_KEY"),
		WebhookSecret: v.GetString("STRIPE_WEBHOOK_SECRET"),
		APIURL:        v.GetString("STRIPE_API_URL"),
		ProductID:     v.GetString("STRIPE_PRODUCT_ID"),
	}
	PayPal = PayPalConfig{
		ClientID:     v.GetString("PAYPAL_CLIENT_ID"),
		ClientSecret: v.GetString("PAYPAL_CLIENT_SECRET"),
		WebhookID:    v.GetString("PAYPAL_WEBHOOK_ID"),
		APIURL:       v.GetString("PAYPAL_API_URL"),
		ReturnURL:    v.GetString("PAYPAL_RETURN_URL"),
		CancelURL:    v.GetString("PAYPAL_CANCEL_URL"),
	}
	Alipay = AlipayConfig{
		AppID:      v.GetString("ALIPAY_APP_ID"),
		PrivateKey: v.GetString("ALIPAY_PRIVATE_KEY"),
		PublicKey:  v.GetString("ALIPAY_PUBLIC_KEY"),
		GatewayURL: v.GetString("ALIPAY_GATEWAY_URL"),
		NotifyURL:  v.GetString("ALIPAY_NOTIFY_URL"),
		ReturnURL:  v.GetString("ALIPAY_RETURN_URL"),
	}
	WeChat = WeChatConfig{
		MchID:             v.GetString("WECHAT_MCH_ID"),
		AppID:             v.GetString("WECHAT_APP_ID"),
		SerialNo:          v.GetString("WECHAT_SERIAL_NO"),
		PrivateKey:        v.GetString("WECHAT_PRIVATE_KEY"),
		PlatformPublicKey: v.GetString("WECHAT_PLATFORM_PUBLIC_KEY"),
		APIv3Key:          v.GetString("WECHAT_API_V3_KEY"),
		NotifyURL:         v.GetString("WECHAT_NOTIFY_URL"),
		APIURL:            v.GetString("WECHAT_API_URL"),
	}

	if len(missing) > 0 {
		return fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("PORT", "8080")
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("REDIS_ADDR", "localhost:6379")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("ORDER_TTL", "24h")
	v.SetDefault("RATE_LIMIT", 60)
	v.SetDefault("RATE_WINDOW", "1m")
	v.SetDefault("EXPIRE_SCHEDULE", "@every 5m")
	v.SetDefault("KAFKA_TOPIC", "billing.events")
	v.SetDefault("STRIPE_API_URL", "https://api.stripe.com")
	v.SetDefault("PAYPAL_API_URL", "https://api-m.paypal.com")
	v.SetDefault("ALIPAY_GATEWAY_URL", "https://openapi.alipay.com/gateway.do")
	v.SetDefault("WECHAT_API_URL", "https://api.mch.weixin.qq.com")
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
