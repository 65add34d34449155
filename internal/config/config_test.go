package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
  host: "0.0.0.0"

database:
  url: "postgres://localhost/live?sslmode=disable"
  notify_channel_prefix: "live_"

live:
  presence_horizon_ms: 120000
  poll_interval_ms: 10000
  notification_ttl_ms: 900000
  push_transport: redis
  synthetic_visit_end: true
  missing_field_policy: include
  listing_feeds:
    - https://partner.example.com/listings.rss

redis:
  addr: "localhost:6379"

notifications:
  title: "{{ listing.title }}"

profiles:
  source: dynamodb
  dynamodb_table: saved_searches
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, "live_", cfg.Database.NotifyChannelPrefix)

	assert.Equal(t, 2*time.Minute, cfg.Live.PresenceHorizon())
	assert.Equal(t, 10*time.Second, cfg.Live.PollInterval())
	assert.Equal(t, 15*time.Minute, cfg.Live.NotificationTTL())
	assert.Equal(t, TransportRedis, cfg.Live.PushTransport)
	assert.True(t, cfg.Live.SyntheticVisitEnd)
	assert.Equal(t, "include", cfg.Live.MissingFieldPolicy)
	assert.Equal(t, []string{"https://partner.example.com/listings.rss"}, cfg.Live.ListingFeeds)

	assert.Equal(t, "{{ listing.title }}", cfg.Notifications.Title)
	assert.Equal(t, ProfilesDynamoDB, cfg.Profiles.Source)
	assert.Equal(t, "saved_searches", cfg.Profiles.DynamoDBTable)
	assert.NoError(t, cfg.Validate())
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "server:\n  port: 8081\n"))
	require.NoError(t, err)

	assert.Equal(t, 8081, cfg.Server.Port)
	assert.Equal(t, "localhost", cfg.Server.Host)
	assert.Equal(t, 5*time.Minute, cfg.Live.PresenceHorizon())
	assert.Equal(t, 30*time.Second, cfg.Live.PollInterval())
	assert.Equal(t, 10*time.Minute, cfg.Live.NotificationTTL())
	assert.Equal(t, 2*time.Minute, cfg.Live.ListingLookback())
	assert.Equal(t, 15*time.Second, cfg.Live.SweepInterval())
	assert.Equal(t, time.Duration(0), cfg.Live.PushRetryInterval())
	assert.Equal(t, TransportPostgres, cfg.Live.PushTransport)
	assert.False(t, cfg.Live.SyntheticVisitEnd)
	assert.Equal(t, "exclude", cfg.Live.MissingFieldPolicy)
	assert.Equal(t, 256, cfg.Live.InboxSize)
	assert.Equal(t, ProfilesPostgres, cfg.Profiles.Source)
	assert.Equal(t, time.Minute, cfg.Profiles.RefreshInterval())
	assert.Equal(t, 5*time.Minute, cfg.Archive.Interval())
	assert.Equal(t, 30*time.Minute, cfg.Database.ConnMaxLifetime())
	assert.Equal(t, "info", cfg.Log.Level)
	assert.NoError(t, cfg.Validate())
}

func TestLoadFromEnv(t *testing.T) {
	path := writeConfig(t, `
database:
  url: "postgres://file"
live:
  push_transport: postgres
`)
	t.Setenv("DATABASE_URL", "postgres://env")
	t.Setenv("PORT", "7070")
	t.Setenv("LIVE_PUSH_TRANSPORT", "SQS")
	t.Setenv("SQS_LISTINGS_QUEUE_URL", "https://sqs.us-west-2.amazonaws.com/1/listings")
	t.Setenv("ARCHIVE_BUCKET", "presence-archive")
	t.Setenv("REDIS_URL", "redis://localhost:6379/2")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := LoadFromEnv(path)
	require.NoError(t, err)

	assert.Equal(t, "postgres://env", cfg.Database.URL)
	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, TransportSQS, cfg.Live.PushTransport)
	assert.Equal(t, "https://sqs.us-west-2.amazonaws.com/1/listings", cfg.SQS.ListingsQueueURL)
	assert.Equal(t, "presence-archive", cfg.Archive.Bucket)
	assert.True(t, cfg.Redis.Enabled())
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.NoError(t, cfg.Validate())
}

func TestLoadFromEnv_BadPort(t *testing.T) {
	t.Setenv("PORT", "eighty")
	_, err := LoadFromEnv(writeConfig(t, "{}\n"))
	assert.Error(t, err)
}

func TestLoadFileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"negative poll", func(c *Config) { c.Live.PollIntervalMs = -1 }, "live.poll_interval_ms must be positive"},
		{"ttl below floor", func(c *Config) { c.Live.NotificationTTLMs = 60000 }, "live.notification_ttl_ms must be at least 180000"},
		{"unknown transport", func(c *Config) { c.Live.PushTransport = "kafka" }, "live.push_transport"},
		{"unknown policy", func(c *Config) { c.Live.MissingFieldPolicy = "maybe" }, "live.missing_field_policy"},
		{"redis without server", func(c *Config) { c.Live.PushTransport = TransportRedis }, "requires redis"},
		{"sqs without queues", func(c *Config) { c.Live.PushTransport = TransportSQS }, "requires at least one sqs queue"},
		{"negative retry", func(c *Config) { c.Live.PushRetryIntervalMs = -5 }, "push_retry_interval_ms"},
		{"unknown profiles source", func(c *Config) { c.Profiles.Source = "csv" }, "profiles.source"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestServerAddr(t *testing.T) {
	t.Setenv("ECS_CONTAINER_METADATA_URI", "")
	t.Setenv("AWS_EXECUTION_ENV", "")
	t.Setenv("SERVER_HOST", "")
	cfg := ServerConfig{Port: 8080, Host: "127.0.0.1"}
	assert.Equal(t, "127.0.0.1:8080", cfg.Addr())
}
