package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/ignite/listing-live/internal/domain"
)

// Push transports.
const (
	TransportPostgres = "postgres"
	TransportRedis    = "redis"
	TransportSQS      = "sqs"
	TransportNone     = "none"
)

// Profile sources.
const (
	ProfilesPostgres = "postgres"
	ProfilesDynamoDB = "dynamodb"
	ProfilesStatic   = "static"
)

// Config holds all configuration for the application
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Database      DatabaseConfig      `yaml:"database"`
	Redis         RedisConfig         `yaml:"redis"`
	Live          LiveConfig          `yaml:"live"`
	Notifications NotificationsConfig `yaml:"notifications"`
	AWS           AWSConfig           `yaml:"aws"`
	SQS           SQSConfig           `yaml:"sqs"`
	Archive       ArchiveConfig       `yaml:"archive"`
	Profiles      ProfilesConfig      `yaml:"profiles"`
	Log           LogConfig           `yaml:"log"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port           int      `yaml:"port"`
	Host           string   `yaml:"host"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// GetHost returns the server host, with ECS detection
func (c ServerConfig) GetHost() string {
	// On ECS/container, listen on all interfaces
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" || os.Getenv("AWS_EXECUTION_ENV") != "" {
		return "0.0.0.0"
	}
	if host := os.Getenv("SERVER_HOST"); host != "" {
		return host
	}
	return c.Host
}

// Addr returns host:port.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.GetHost(), c.Port)
}

// DatabaseConfig holds the Postgres connection and pool settings.
type DatabaseConfig struct {
	URL                    string `yaml:"url"`
	MaxOpenConns           int    `yaml:"max_open_conns"`
	MaxIdleConns           int    `yaml:"max_idle_conns"`
	ConnMaxLifetimeMinutes int    `yaml:"conn_max_lifetime_minutes"`
	// NotifyChannelPrefix is prepended to the table name to form the
	// LISTEN/NOTIFY channel.
	NotifyChannelPrefix string `yaml:"notify_channel_prefix"`
	// PublishNotify makes the visit writer call pg_notify itself, for
	// schemas without the change triggers.
	PublishNotify bool `yaml:"publish_notify"`
}

// ConnMaxLifetime returns the pool connection lifetime.
func (c DatabaseConfig) ConnMaxLifetime() time.Duration {
	return time.Duration(c.ConnMaxLifetimeMinutes) * time.Minute
}

// RedisConfig holds Redis settings. URL wins over Addr.
type RedisConfig struct {
	URL           string `yaml:"url"`
	Addr          string `yaml:"addr"`
	Password      string `yaml:"password"`
	DB            int    `yaml:"db"`
	ChannelPrefix string `yaml:"channel_prefix"`
	DedupPrefix   string `yaml:"dedup_prefix"`
}

// Enabled reports whether a Redis server is configured.
func (c RedisConfig) Enabled() bool {
	return c.URL != "" || c.Addr != ""
}

// LiveConfig holds the live core settings. Durations are milliseconds.
type LiveConfig struct {
	PresenceHorizonMs   int      `yaml:"presence_horizon_ms"`
	PollIntervalMs      int      `yaml:"poll_interval_ms"`
	NotificationTTLMs   int      `yaml:"notification_ttl_ms"`
	ListingLookbackMs   int      `yaml:"listing_lookback_ms"`
	SweepIntervalMs     int      `yaml:"sweep_interval_ms"`
	PushRetryIntervalMs int      `yaml:"push_retry_interval_ms"`
	PushTransport       string   `yaml:"push_transport"`
	SyntheticVisitEnd   bool     `yaml:"synthetic_visit_end"`
	MissingFieldPolicy  string   `yaml:"missing_field_policy"`
	InboxSize           int      `yaml:"inbox_size"`
	ListingFeeds        []string `yaml:"listing_feeds"`
}

func ms(v int) time.Duration { return time.Duration(v) * time.Millisecond }

// PresenceHorizon returns how long an open visit counts as present.
func (c LiveConfig) PresenceHorizon() time.Duration { return ms(c.PresenceHorizonMs) }

// PollInterval returns the snapshot period.
func (c LiveConfig) PollInterval() time.Duration { return ms(c.PollIntervalMs) }

// NotificationTTL returns the dedup window.
func (c LiveConfig) NotificationTTL() time.Duration { return ms(c.NotificationTTLMs) }

// ListingLookback returns how far back the listing poll reaches.
func (c LiveConfig) ListingLookback() time.Duration { return ms(c.ListingLookbackMs) }

// SweepInterval returns the presence sweep period.
func (c LiveConfig) SweepInterval() time.Duration { return ms(c.SweepIntervalMs) }

// PushRetryInterval returns the push reconnect delay; zero disables retry.
func (c LiveConfig) PushRetryInterval() time.Duration { return ms(c.PushRetryIntervalMs) }

// MinNotificationTTL is the smallest dedup window that still covers a
// listing seen by push and then again by the next two polls.
func (c LiveConfig) MinNotificationTTL() time.Duration {
	return c.ListingLookback() + 2*c.PollInterval()
}

// NotificationsConfig holds the liquid templates for listing notifications.
// Empty fields use the built-in templates.
type NotificationsConfig struct {
	Title       string `yaml:"title"`
	Description string `yaml:"description"`
	TargetURL   string `yaml:"target_url"`
}

// AWSConfig holds shared AWS client settings. Empty keys use the default
// credential chain.
type AWSConfig struct {
	Region          string `yaml:"region"`
	Profile         string `yaml:"profile"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

// GetProfile returns the shared config profile, ignored on ECS/Lambda.
func (c AWSConfig) GetProfile() string {
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" || os.Getenv("AWS_EXECUTION_ENV") != "" {
		return ""
	}
	return c.Profile
}

// SQSConfig holds the per-topic queues of the sqs push transport.
type SQSConfig struct {
	VisitsQueueURL   string `yaml:"visits_queue_url"`
	ListingsQueueURL string `yaml:"listings_queue_url"`
	MessagesQueueURL string `yaml:"messages_queue_url"`
}

// ArchiveConfig holds presence archive settings. Disabled without a bucket.
type ArchiveConfig struct {
	Bucket          string `yaml:"bucket"`
	IntervalSeconds int    `yaml:"interval_seconds"`
}

// Interval returns the report period.
func (c ArchiveConfig) Interval() time.Duration {
	return time.Duration(c.IntervalSeconds) * time.Second
}

// ProfilesConfig selects where preference profiles are read from. Static
// profiles are served when Source is "static".
type ProfilesConfig struct {
	Source         string                     `yaml:"source"`
	DynamoDBTable  string                     `yaml:"dynamodb_table"`
	RefreshSeconds int                        `yaml:"refresh_seconds"`
	Static         []domain.PreferenceProfile `yaml:"static"`
}

// RefreshInterval returns the out-of-band profile refresh period.
func (c ProfilesConfig) RefreshInterval() time.Duration {
	return time.Duration(c.RefreshSeconds) * time.Second
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level            string `yaml:"level"`
	DisableRedaction bool   `yaml:"disable_redaction"`
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &cfg, nil
}

// Default returns a configuration with every default applied.
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

func (cfg *Config) applyDefaults() {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 20
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifetimeMinutes == 0 {
		cfg.Database.ConnMaxLifetimeMinutes = 30
	}

	live := &cfg.Live
	if live.PresenceHorizonMs == 0 {
		live.PresenceHorizonMs = 300000
	}
	if live.PollIntervalMs == 0 {
		live.PollIntervalMs = 30000
	}
	if live.NotificationTTLMs == 0 {
		live.NotificationTTLMs = 600000
	}
	if live.ListingLookbackMs == 0 {
		live.ListingLookbackMs = 120000
	}
	if live.SweepIntervalMs == 0 {
		live.SweepIntervalMs = 15000
	}
	if live.PushTransport == "" {
		live.PushTransport = TransportPostgres
	}
	if live.MissingFieldPolicy == "" {
		live.MissingFieldPolicy = "exclude"
	}
	if live.InboxSize == 0 {
		live.InboxSize = 256
	}

	if cfg.AWS.Region == "" {
		cfg.AWS.Region = "us-west-2"
	}
	if cfg.Archive.IntervalSeconds == 0 {
		cfg.Archive.IntervalSeconds = 300
	}
	if cfg.Profiles.Source == "" {
		cfg.Profiles.Source = ProfilesPostgres
	}
	if cfg.Profiles.DynamoDBTable == "" {
		cfg.Profiles.DynamoDBTable = "preference_profiles"
	}
	if cfg.Profiles.RefreshSeconds == 0 {
		cfg.Profiles.RefreshSeconds = 60
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
}

// Validate checks values that defaults cannot repair.
func (cfg *Config) Validate() error {
	var errs []error
	live := cfg.Live

	for _, f := range []struct {
		key   string
		value int
	}{
		{"live.presence_horizon_ms", live.PresenceHorizonMs},
		{"live.poll_interval_ms", live.PollIntervalMs},
		{"live.notification_ttl_ms", live.NotificationTTLMs},
		{"live.listing_lookback_ms", live.ListingLookbackMs},
		{"live.sweep_interval_ms", live.SweepIntervalMs},
		{"live.inbox_size", live.InboxSize},
	} {
		if f.value <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", f.key))
		}
	}
	if live.PushRetryIntervalMs < 0 {
		errs = append(errs, errors.New("live.push_retry_interval_ms must not be negative"))
	}
	if live.NotificationTTLMs > 0 && live.NotificationTTL() < live.MinNotificationTTL() {
		errs = append(errs, fmt.Errorf("live.notification_ttl_ms must be at least %d (listing lookback plus two poll intervals)",
			live.MinNotificationTTL().Milliseconds()))
	}

	switch live.PushTransport {
	case TransportPostgres, TransportRedis, TransportSQS, TransportNone:
	default:
		errs = append(errs, fmt.Errorf("live.push_transport %q is not one of postgres, redis, sqs, none", live.PushTransport))
	}
	switch strings.ToLower(live.MissingFieldPolicy) {
	case "exclude", "include":
	default:
		errs = append(errs, fmt.Errorf("live.missing_field_policy %q is not one of exclude, include", live.MissingFieldPolicy))
	}

	if live.PushTransport == TransportRedis && !cfg.Redis.Enabled() {
		errs = append(errs, errors.New("push_transport redis requires redis.url or redis.addr"))
	}
	if live.PushTransport == TransportSQS &&
		cfg.SQS.VisitsQueueURL == "" && cfg.SQS.ListingsQueueURL == "" && cfg.SQS.MessagesQueueURL == "" {
		errs = append(errs, errors.New("push_transport sqs requires at least one sqs queue url"))
	}

	switch cfg.Profiles.Source {
	case ProfilesPostgres, ProfilesDynamoDB, ProfilesStatic:
	default:
		errs = append(errs, fmt.Errorf("profiles.source %q is not one of postgres, dynamodb, static", cfg.Profiles.Source))
	}
	return errors.Join(errs...)
}

// LoadFromEnv loads configuration with environment variable overrides.
// It automatically loads a .env file (if present) before reading env vars,
// so secrets can live in .env locally and in real env vars on ECS.
func LoadFromEnv(path string) (*Config, error) {
	// Load .env file if it exists (no error if missing)
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (cfg *Config) applyEnv() error {
	if v := os.Getenv("PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("PORT: %w", err)
		}
		cfg.Server.Port = port
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Redis.URL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("LIVE_PUSH_TRANSPORT"); v != "" {
		cfg.Live.PushTransport = strings.ToLower(v)
	}
	if v := os.Getenv("SQS_VISITS_QUEUE_URL"); v != "" {
		cfg.SQS.VisitsQueueURL = v
	}
	if v := os.Getenv("SQS_LISTINGS_QUEUE_URL"); v != "" {
		cfg.SQS.ListingsQueueURL = v
	}
	if v := os.Getenv("SQS_MESSAGES_QUEUE_URL"); v != "" {
		cfg.SQS.MessagesQueueURL = v
	}
	if v := os.Getenv("ARCHIVE_BUCKET"); v != "" {
		cfg.Archive.Bucket = v
	}
	if v := os.Getenv("AWS_REGION"); v != "" {
		cfg.AWS.Region = v
	}
	if v := os.Getenv("AWS_ACCESS_KEY_ID"); v != "" {
		cfg.AWS.AccessKeyID = v
	}
	if v := os.Getenv("AWS_SECRET_ACCESS_KEY"); v != "" {
		cfg.AWS.SecretAccessKey = v
	}
	if v := os.Getenv("PROFILES_SOURCE"); v != "" {
		cfg.Profiles.Source = strings.ToLower(v)
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	return nil
}
