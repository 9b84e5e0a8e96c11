package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the service settings that are not owned by the database package.
type Config struct {
	Port         string
	LogLevel     string
	JWT          JWTConfig
	Ledger       LedgerConfig
	Audit        AuditConfig
	Kafka        KafkaConfig
	Notification NotificationConfig
	Admin        AdminConfig
}

type JWTConfig struct {
	SecretKey   string
	ExpiryHours int
}

type LedgerConfig struct {
	LockExpiry     time.Duration
	LockTries      int
	LockRetryDelay time.Duration
	MaxListLimit   int
}

type AuditConfig struct {
	DefaultPageSize   int
	MaxPageSize       int
	OutboxBatchSize   int
	OutboxInterval    time.Duration
	OutboxMaxAttempts int
	OutboxBaseBackoff time.Duration
	ReconcileInterval time.Duration
	ReconcileLookback time.Duration
}

type KafkaConfig struct {
	Brokers []string
	Topic   string
}

type NotificationConfig struct {
	ProviderURL string
	APIKey      string
	Timeout     time.Duration
}

type AdminConfig struct {
	AllowSelfDeactivation bool
}

// BindEnv maps environment variables onto viper keys.
func BindEnv() {
	viper.SetConfigFile(".env")
	viper.AutomaticEnv()

	viper.BindEnv("port", "PORT")
	viper.BindEnv("log.level", "LOG_LEVEL")

	viper.BindEnv("database.host", "DATABASE_HOST")
	viper.BindEnv("database.port", "DATABASE_PORT")
	viper.BindEnv("database.user", "DATABASE_USER")
	viper.BindEnv("database.password", "DATABASE_PASSWORD")
	viper.BindEnv("database.name", "DATABASE_NAME")
	viper.BindEnv("database.ssl_mode", "DATABASE_SSL_MODE")

	viper.BindEnv("redis.host", "REDIS_HOST")
	viper.BindEnv("redis.port", "REDIS_PORT")
	viper.BindEnv("redis.password", "REDIS_PASSWORD")
	viper.BindEnv("redis.db", "REDIS_DB")

	viper.BindEnv("jwt.secret_key", "JWT_SECRET_KEY")
	viper.BindEnv("jwt.expiry_hours", "JWT_EXPIRY_HOURS")

	viper.BindEnv("kafka.brokers", "KAFKA_BROKERS")
	viper.BindEnv("kafka.topic", "KAFKA_AUDIT_TOPIC")

	viper.BindEnv("notifications.provider_url", "PUSH_PROVIDER_URL")
	viper.BindEnv("notifications.api_key", "PUSH_PROVIDER_API_KEY")

	viper.BindEnv("admin.allow_self_deactivation", "ADMIN_ALLOW_SELF_DEACTIVATION")
}

func setDefaults() {
	viper.SetDefault("port", "8080")
	viper.SetDefault("log.level", "info")
	viper.SetDefault("jwt.expiry_hours", 12)

	viper.SetDefault("ledger.lock_expiry", 10*time.Second)
	viper.SetDefault("ledger.lock_tries", 32)
	viper.SetDefault("ledger.lock_retry_delay", 50*time.Millisecond)
	viper.SetDefault("ledger.max_list_limit", 200)

	viper.SetDefault("audit.default_page_size", 20)
	viper.SetDefault("audit.max_page_size", 100)
	viper.SetDefault("audit.outbox.batch_size", 50)
	viper.SetDefault("audit.outbox.interval", 2*time.Second)
	viper.SetDefault("audit.outbox.max_attempts", 10)
	viper.SetDefault("audit.outbox.base_backoff", time.Second)
	viper.SetDefault("audit.reconcile.interval", 15*time.Minute)
	viper.SetDefault("audit.reconcile.lookback", 24*time.Hour)

	viper.SetDefault("kafka.topic", "audit.entries")

	viper.SetDefault("notifications.timeout", 10*time.Second)

	viper.SetDefault("admin.allow_self_deactivation", false)
}

// Load reads the current viper state into a Config.
func Load() *Config {
	setDefaults()

	return &Config{
		Port:     viper.GetString("port"),
		LogLevel: viper.GetString("log.level"),
		JWT: JWTConfig{
			SecretKey:   viper.GetString("jwt.secret_key"),
			ExpiryHours: viper.GetInt("jwt.expiry_hours"),
		},
		Ledger: LedgerConfig{
			LockExpiry:     viper.GetDuration("ledger.lock_expiry"),
			LockTries:      viper.GetInt("ledger.lock_tries"),
			LockRetryDelay: viper.GetDuration("ledger.lock_retry_delay"),
			MaxListLimit:   viper.GetInt("ledger.max_list_limit"),
		},
		Audit: AuditConfig{
			DefaultPageSize:   viper.GetInt("audit.default_page_size"),
			MaxPageSize:       viper.GetInt("audit.max_page_size"),
			OutboxBatchSize:   viper.GetInt("audit.outbox.batch_size"),
			OutboxInterval:    viper.GetDuration("audit.outbox.interval"),
			OutboxMaxAttempts: viper.GetInt("audit.outbox.max_attempts"),
			OutboxBaseBackoff: viper.GetDuration("audit.outbox.base_backoff"),
			ReconcileInterval: viper.GetDuration("audit.reconcile.interval"),
			ReconcileLookback: viper.GetDuration("audit.reconcile.lookback"),
		},
		Kafka: KafkaConfig{
			Brokers: splitList(viper.GetStringSlice("kafka.brokers")),
			Topic:   viper.GetString("kafka.topic"),
		},
		Notification: NotificationConfig{
			ProviderURL: viper.GetString("notifications.provider_url"),
			APIKey:      viper.GetString("notifications.api_key"),
			Timeout:     viper.GetDuration("notifications.timeout"),
		},
		Admin: AdminConfig{
			AllowSelfDeactivation: viper.GetBool("admin.allow_self_deactivation"),
		},
	}
}

// splitList accepts both YAML lists and comma separated env values.
func splitList(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
