// Package archive writes periodic presence reports to object storage.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/ignite/listing-live/internal/pkg/distlock"
	"github.com/ignite/listing-live/internal/pkg/logger"
	"github.com/ignite/listing-live/internal/presence"
)

// DefaultInterval is the report period when none is configured.
const DefaultInterval = 5 * time.Minute

// LatestKey always holds the most recent report.
const LatestKey = "presence/latest.json"

// Uploader stores one JSON object.
type Uploader interface {
	Upload(ctx context.Context, key string, body []byte) error
}

// S3API is the subset of the S3 client S3Uploader uses.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Uploader writes objects to a bucket.
type S3Uploader struct {
	client S3API
	bucket string
}

// NewS3Uploader creates an uploader.
func NewS3Uploader(client S3API, bucket string) *S3Uploader {
	return &S3Uploader{client: client, bucket: bucket}
}

func (u *S3Uploader) Upload(ctx context.Context, key string, body []byte) error {
	_, err := u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(u.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("putting object to S3: %w", err)
	}
	return nil
}

// Report is one archived presence snapshot.
type Report struct {
	GeneratedAt time.Time         `json:"generated_at"`
	Presence    presence.Snapshot `json:"presence"`
	Stats       map[string]int64  `json:"stats,omitempty"`
}

// Reporter periodically archives presence.
type Reporter struct {
	uploader Uploader
	snapshot func() presence.Snapshot
	stats    func() map[string]int64
	interval time.Duration
	now      func() time.Time
	lock     distlock.Lock

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	written atomic.Int64
	failed  atomic.Int64
	skipped atomic.Int64
}

// NewReporter creates a reporter. stats may be nil.
func NewReporter(uploader Uploader, snapshot func() presence.Snapshot, stats func() map[string]int64, interval time.Duration) *Reporter {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Reporter{
		uploader: uploader,
		snapshot: snapshot,
		stats:    stats,
		interval: interval,
		now:      time.Now,
	}
}

// UseLock makes scheduled reports run only on the replica holding l. Call it
// before Start.
func (r *Reporter) UseLock(l distlock.Lock) {
	r.lock = l
}

// ReportKey returns the dated key for a report generated at t.
func ReportKey(t time.Time) string {
	t = t.UTC()
	return fmt.Sprintf("presence/%s/report_%s.json", t.Format("2006-01-02"), t.Format("20060102T150405Z"))
}

// WriteOnce archives the current snapshot under its dated key and LatestKey.
func (r *Reporter) WriteOnce(ctx context.Context) error {
	rep := Report{GeneratedAt: r.now().UTC(), Presence: r.snapshot()}
	if r.stats != nil {
		rep.Stats = r.stats()
	}
	body, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling report: %w", err)
	}
	for _, key := range []string{ReportKey(rep.GeneratedAt), LatestKey} {
		if err := r.uploader.Upload(ctx, key, body); err != nil {
			r.failed.Add(1)
			return err
		}
	}
	r.written.Add(1)
	return nil
}

// Start writes a report every interval until Stop.
func (r *Reporter) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return
	}
	ctx, r.cancel = context.WithCancel(ctx)
	r.running = true

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := r.tick(ctx); err != nil && ctx.Err() == nil {
					logger.Warn("[Archive] report upload failed", "error", err)
				}
			}
		}
	}()
	logger.Info("[Archive] reporter started", "interval", r.interval.String())
}

func (r *Reporter) tick(ctx context.Context) error {
	if r.lock == nil {
		return r.WriteOnce(ctx)
	}
	ran, err := distlock.RunExclusive(ctx, r.lock, "archive", r.WriteOnce)
	if !ran && err == nil {
		r.skipped.Add(1)
	}
	return err
}

// Stop ends the loop and waits for an in-flight upload.
func (r *Reporter) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	r.cancel()
	r.mu.Unlock()
	r.wg.Wait()
	logger.Info("[Archive] reporter stopped")
}

// Stats returns reporter counters.
func (r *Reporter) Stats() map[string]int64 {
	return map[string]int64{
		"reports_written": r.written.Load(),
		"reports_failed":  r.failed.Load(),
		"reports_skipped": r.skipped.Load(),
	}
}
