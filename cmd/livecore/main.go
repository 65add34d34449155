package main

import (
	"context"
	"database/sql"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/ignite/listing-live/internal/api"
	"github.com/ignite/listing-live/internal/archive"
	"github.com/ignite/listing-live/internal/config"
	"github.com/ignite/listing-live/internal/domain"
	"github.com/ignite/listing-live/internal/live"
	"github.com/ignite/listing-live/internal/matcher"
	"github.com/ignite/listing-live/internal/notify"
	"github.com/ignite/listing-live/internal/pkg/distlock"
	"github.com/ignite/listing-live/internal/pkg/logger"
	"github.com/ignite/listing-live/internal/presence"
	"github.com/ignite/listing-live/internal/profiles"
	"github.com/ignite/listing-live/internal/session"
	"github.com/ignite/listing-live/internal/tracking"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	log.Println("Starting listing-live core...")

	cfg, err := config.LoadFromEnv(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}
	logger.SetLevel(logger.ParseLevel(cfg.Log.Level))
	logger.SetRedactPII(!cfg.Log.DisableRedaction)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db := openDatabase(ctx, cfg.Database)
	if db != nil {
		defer db.Close()
	}
	rdb := openRedis(ctx, cfg.Redis)
	if rdb != nil {
		defer rdb.Close()
	}

	var awsCfg *aws.Config
	if needsAWS(cfg) {
		c, err := loadAWSConfig(ctx, cfg.AWS)
		if err != nil {
			log.Fatalf("Failed to load AWS config: %v", err)
		}
		awsCfg = &c
	}

	// Event source adapter
	var sqsClient *sqs.Client
	if awsCfg != nil && cfg.Live.PushTransport == config.TransportSQS {
		sqsClient = sqs.NewFromConfig(*awsCfg)
	}
	push, publisher := pushTransport(cfg, db, rdb, sqsClient)
	adapter := tracking.NewAdapter(tracking.Config{
		Push:              push,
		Poll:              snapshotSources(cfg, db),
		PollInterval:      cfg.Live.PollInterval(),
		PushRetryInterval: cfg.Live.PushRetryInterval(),
	})

	// Notification dispatcher
	renderer, err := notify.NewRenderer(notify.Templates{
		Title:       cfg.Notifications.Title,
		Description: cfg.Notifications.Description,
		TargetURL:   cfg.Notifications.TargetURL,
	})
	if err != nil {
		log.Fatalf("Invalid notification templates: %v", err)
	}
	dedup := newDedup(cfg.Redis, rdb, db)
	dispatcher := notify.NewDispatcher(notify.Options{
		TTL:      cfg.Live.NotificationTTL(),
		Dedup:    dedup,
		Renderer: renderer,
	})

	// Profiles
	loader, err := profileLoader(cfg, db, awsCfg)
	if err != nil {
		log.Fatalf("Failed to set up profiles: %v", err)
	}
	cache := profiles.NewCache(loader)
	cache.StartRefresh(cfg.Profiles.RefreshInterval())
	defer cache.Stop()

	policy, err := matcher.ParsePolicy(cfg.Live.MissingFieldPolicy)
	if err != nil {
		log.Fatalf("Invalid config: %v", err)
	}

	engine := live.NewEngine(live.Config{
		SweepInterval:     cfg.Live.SweepInterval(),
		SyntheticVisitEnd: cfg.Live.SyntheticVisitEnd,
		InboxSize:         cfg.Live.InboxSize,
		MessageTTL:        cfg.Live.ListingLookback() + cfg.Live.PollInterval(),
	}, adapter, presence.NewAggregator(cfg.Live.PresenceHorizon()), matcher.New(policy), dispatcher, cache)
	if err := engine.Start(ctx); err != nil {
		log.Fatalf("Failed to start live engine: %v", err)
	}

	// Presence archive
	var s3Client *s3.Client
	if awsCfg != nil && cfg.Archive.Bucket != "" {
		s3Client = s3.NewFromConfig(*awsCfg)
		reporter := archive.NewReporter(archive.NewS3Uploader(s3Client, cfg.Archive.Bucket),
			engine.Presence, engine.Stats, cfg.Archive.Interval())
		reporter.UseLock(distlock.New(rdb, db, "archive", 2*cfg.Archive.Interval()))
		reporter.Start(ctx)
		defer reporter.Stop()
	}

	if pg, ok := dedup.(*notify.PGDedup); ok {
		go purgeDedup(ctx, pg, distlock.NewAdvisoryLock(db, "dedup-purge"), cfg.Live.NotificationTTL())
	}

	// HTTP
	var trackingHandler *tracking.Handler
	if db != nil {
		writer := tracking.NewSQLVisitWriter(db, publisher)
		tracker := tracking.NewVisitTracker(session.NewIdentity(nil), writer)
		tracker.SetHorizon(cfg.Live.PresenceHorizon())
		trackingHandler = tracking.NewHandler(tracker)
	}
	var s3Head api.S3HeadAPI
	if s3Client != nil {
		s3Head = s3Client
	}
	health := api.NewHealthChecker(db, rdb, s3Head, cfg.Archive.Bucket, engine.Stats)
	server := api.NewServer(engine, trackingHandler, health, api.Options{AllowedOrigins: cfg.Server.AllowedOrigins})

	srv := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           server.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		log.Printf("listing-live listening on %s (push=%s)", srv.Addr, cfg.Live.PushTransport)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down listing-live core...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("http shutdown: %v", err)
	}
	engine.Stop()
	cancel()
	log.Println("Stopped")
}

func openDatabase(ctx context.Context, cfg config.DatabaseConfig) *sql.DB {
	if cfg.URL == "" {
		log.Println("DATABASE_URL not set, running without Postgres")
		return nil
	}
	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime())

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		log.Fatalf("Failed to ping database: %v", err)
	}
	log.Println("Connected to database")
	return db
}

func openRedis(ctx context.Context, cfg config.RedisConfig) *redis.Client {
	if !cfg.Enabled() {
		return nil
	}
	var opts *redis.Options
	if cfg.URL != "" {
		parsed, err := redis.ParseURL(cfg.URL)
		if err != nil {
			log.Fatalf("Invalid REDIS_URL: %v", err)
		}
		opts = parsed
	} else {
		opts = &redis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB}
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		log.Printf("Redis unreachable (%v), continuing without it", err)
		client.Close()
		return nil
	}
	log.Println("Connected to Redis")
	return client
}

func needsAWS(cfg *config.Config) bool {
	return cfg.Live.PushTransport == config.TransportSQS ||
		cfg.Archive.Bucket != "" ||
		cfg.Profiles.Source == config.ProfilesDynamoDB
}

func loadAWSConfig(ctx context.Context, cfg config.AWSConfig) (aws.Config, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	} else if profile := cfg.GetProfile(); profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(profile))
	}
	return awsconfig.LoadDefaultConfig(ctx, opts...)
}

// pushTransport returns the push source for the adapter and the publisher
// the visit writer uses to feed it.
func pushTransport(cfg *config.Config, db *sql.DB, rdb *redis.Client, sqsClient *sqs.Client) (tracking.PushSource, tracking.Publisher) {
	switch cfg.Live.PushTransport {
	case config.TransportPostgres:
		if db == nil {
			log.Println("push_transport postgres without a database, running poll only")
			return nil, nil
		}
		var pub tracking.Publisher
		if cfg.Database.PublishNotify {
			pub = tracking.NewPGNotifyPublisher(db, cfg.Database.NotifyChannelPrefix)
		}
		return tracking.NewPGListener(cfg.Database.URL, cfg.Database.NotifyChannelPrefix), pub
	case config.TransportRedis:
		if rdb == nil {
			log.Println("push_transport redis but Redis is unreachable, running poll only")
			return nil, nil
		}
		return tracking.NewRedisSubscriber(rdb, cfg.Redis.ChannelPrefix), tracking.NewRedisPublisher(rdb, cfg.Redis.ChannelPrefix)
	case config.TransportSQS:
		queues := map[domain.Topic]string{}
		for topic, url := range map[domain.Topic]string{
			domain.TopicVisits:   cfg.SQS.VisitsQueueURL,
			domain.TopicListings: cfg.SQS.ListingsQueueURL,
			domain.TopicMessages: cfg.SQS.MessagesQueueURL,
		} {
			if url != "" {
				queues[topic] = url
			}
		}
		return tracking.NewSQSConsumer(sqsClient, queues), tracking.NewSQSPublisher(sqsClient, queues)
	}
	return nil, nil
}

func snapshotSources(cfg *config.Config, db *sql.DB) tracking.SnapshotSource {
	var sources tracking.MultiSnapshotter
	if db != nil {
		sources = append(sources, tracking.NewSQLSnapshotter(db, cfg.Live.PresenceHorizon(), cfg.Live.ListingLookback()))
	}
	if len(cfg.Live.ListingFeeds) > 0 {
		sources = append(sources, tracking.NewFeedSnapshotter(cfg.Live.ListingFeeds, cfg.Live.ListingLookback()))
	}
	if len(sources) == 0 {
		return nil
	}
	return sources
}

func newDedup(cfg config.RedisConfig, rdb *redis.Client, db *sql.DB) notify.DedupStore {
	if rdb != nil && cfg.DedupPrefix != "" {
		return notify.NewRedisDedup(rdb, cfg.DedupPrefix)
	}
	return notify.NewDedup(rdb, db)
}

func profileLoader(cfg *config.Config, db *sql.DB, awsCfg *aws.Config) (profiles.Loader, error) {
	switch cfg.Profiles.Source {
	case config.ProfilesDynamoDB:
		return profiles.NewDynamoLoader(dynamodb.NewFromConfig(*awsCfg), cfg.Profiles.DynamoDBTable), nil
	case config.ProfilesPostgres:
		if db != nil {
			return profiles.NewPGLoader(db), nil
		}
		log.Println("profiles.source postgres without a database, serving static profiles")
	}
	return profiles.NewStaticLoader(cfg.Profiles.Static...), nil
}

func purgeDedup(ctx context.Context, pg *notify.PGDedup, lock distlock.Lock, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, err := distlock.RunExclusive(ctx, lock, "dedup-purge", func(ctx context.Context) error {
				n, err := pg.Purge(ctx)
				if err == nil {
					logger.Debug("[Dedup] purged expired keys", "count", n)
				}
				return err
			})
			if err != nil {
				logger.Warn("[Dedup] purge failed", "error", err)
			}
		}
	}
}
