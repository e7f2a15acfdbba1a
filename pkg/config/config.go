package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
)

// EnvPrefix namespaces every environment variable consumed by the platform.
const EnvPrefix = "DESIGNIA"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

type Config struct {
	App        AppConfig
	Service    ServiceConfig
	DB         DBConfig
	Redis      RedisConfig
	JWT        JWTConfig
	Stripe     StripeConfig
	Settlement SettlementConfig
	Payout     PayoutConfig
	Outbox     OutboxConfig
	PubSub     PubSubConfig
	GCP        GCPConfig
	Sendgrid   SendgridConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"DESIGNIA_APP_ENV" required:"true"`
	Port         string `envconfig:"DESIGNIA_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"DESIGNIA_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"DESIGNIA_LOG_WARN_STACK" default:"false"`
	AutoMigrate  bool   `envconfig:"DESIGNIA_APP_AUTO_MIGRATE" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"DESIGNIA_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"DESIGNIA_DB_DSN"`
	Driver string `envconfig:"DESIGNIA_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"DESIGNIA_DB_HOST"`
	LegacyPort     int    `envconfig:"DESIGNIA_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"DESIGNIA_DB_USER"`
	LegacyPassword string `envconfig:"DESIGNIA_DB_PASSWORD"`
	LegacyName     string `envconfig:"DESIGNIA_DB_NAME"`
	LegacySSLMode  string `envconfig:"DESIGNIA_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"DESIGNIA_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"DESIGNIA_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"DESIGNIA_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"DESIGNIA_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"DESIGNIA_REDIS_URL" required:"true"`
	Address      string        `envconfig:"DESIGNIA_REDIS_ADDR"`
	Password     string        `envconfig:"DESIGNIA_REDIS_PASSWORD"`
	DB           int           `envconfig:"DESIGNIA_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"DESIGNIA_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"DESIGNIA_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"DESIGNIA_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"DESIGNIA_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"DESIGNIA_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"DESIGNIA_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"DESIGNIA_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"DESIGNIA_JWT_EXPIRATION_MINUTES" default:"60"`
}

type StripeConfig struct {
	APIKey              string        `envconfig:"DESIGNIA_STRIPE_API_KEY"`
	Secret              string        `envconfig:"DESIGNIA_STRIPE_SECRET"`
	ConnectSecret       string        `envconfig:"DESIGNIA_STRIPE_CONNECT_SECRET"`
	Env                 string        `envconfig:"DESIGNIA_STRIPE_ENV" default:"test"`
	CheckoutSuccessURL  string        `envconfig:"DESIGNIA_STRIPE_CHECKOUT_SUCCESS_URL"`
	CheckoutCancelURL   string        `envconfig:"DESIGNIA_STRIPE_CHECKOUT_CANCEL_URL"`
	EventIdempotencyTTL time.Duration `envconfig:"DESIGNIA_STRIPE_EVENT_IDEMPOTENCY_TTL" default:"720h"`
}

// Environment returns the normalized Stripe environment (test/live).
func (s StripeConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "test"
	}
	return env
}

type SettlementConfig struct {
	PlatformFeeRate string        `envconfig:"DESIGNIA_SETTLEMENT_PLATFORM_FEE_RATE" default:"0.10"`
	DaysToHold      int           `envconfig:"DESIGNIA_SETTLEMENT_DAYS_TO_HOLD" default:"7"`
	PendingOrderTTL time.Duration `envconfig:"DESIGNIA_SETTLEMENT_PENDING_ORDER_TTL" default:"72h"`
	DeadlockRetries int           `envconfig:"DESIGNIA_SETTLEMENT_DEADLOCK_RETRIES" default:"3"`
	DeadlockBackoff time.Duration `envconfig:"DESIGNIA_SETTLEMENT_DEADLOCK_BACKOFF" default:"10ms"`
	DefaultCurrency string        `envconfig:"DESIGNIA_SETTLEMENT_CURRENCY" default:"usd"`
}

// PlatformRate parses the configured platform fee rate as a decimal fraction.
func (s SettlementConfig) PlatformRate() (decimal.Decimal, error) {
	rate, err := decimal.NewFromString(strings.TrimSpace(s.PlatformFeeRate))
	if err != nil {
		return decimal.Zero, fmt.Errorf("parsing platform fee rate: %w", err)
	}
	if rate.IsNegative() || rate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return decimal.Zero, fmt.Errorf("platform fee rate %s out of range [0,1)", rate)
	}
	return rate, nil
}

type PayoutConfig struct {
	WindowDays     int `envconfig:"DESIGNIA_PAYOUT_WINDOW_DAYS" default:"30"`
	ReconcileLimit int `envconfig:"DESIGNIA_PAYOUT_RECONCILE_LIMIT" default:"50"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"DESIGNIA_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"DESIGNIA_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"DESIGNIA_OUTBOX_MAX_ATTEMPTS" default:"10"`
}

type PubSubConfig struct {
	SettlementTopic        string `envconfig:"DESIGNIA_PUBSUB_SETTLEMENT_TOPIC" default:"designia-settlement-events"`
	SettlementSubscription string `envconfig:"DESIGNIA_PUBSUB_SETTLEMENT_SUBSCRIPTION"`
}

type GCPConfig struct {
	ProjectID       string `envconfig:"DESIGNIA_GCP_PROJECT_ID"`
	CredentialsJSON string `envconfig:"DESIGNIA_GCP_CREDENTIALS_JSON"`
}

type SendgridConfig struct {
	APIKey      string `envconfig:"DESIGNIA_SENDGRID_API_KEY"`
	DefaultFrom string `envconfig:"DESIGNIA_SENDGRID_FROM_EMAIL"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	legacyValues := map[string]string{
		"DESIGNIA_DB_HOST": db.LegacyHost,
		"DESIGNIA_DB_USER": db.LegacyUser,
		"DESIGNIA_DB_NAME": db.LegacyName,
	}
	for _, key := range []string{"DESIGNIA_DB_HOST", "DESIGNIA_DB_USER", "DESIGNIA_DB_NAME"} {
		if legacyValues[key] == "" {
			missing = append(missing, key)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either DESIGNIA_DB_DSN or %s are required", strings.Join(missing, ", "))
	}

	userInfo := url.User(db.LegacyUser)
	if db.LegacyPassword != "" {
		userInfo = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.LegacyHost, db.LegacyPort),
		Path:   db.LegacyName,
	}

	if db.LegacySSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.LegacySSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
