package tracking

import (
	"context"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/ignite/listing-live/internal/domain"
	"github.com/ignite/listing-live/internal/pkg/logger"
)

// PGListener is a push source over Postgres LISTEN/NOTIFY. Row triggers
// publish the change envelope on a channel named after the table.
type PGListener struct {
	connStr       string
	channelPrefix string
	minReconnect  time.Duration
	maxReconnect  time.Duration
	pingInterval  time.Duration
}

// NewPGListener creates a listener for the given connection string.
func NewPGListener(connStr, channelPrefix string) *PGListener {
	return &PGListener{
		connStr:       connStr,
		channelPrefix: channelPrefix,
		minReconnect:  time.Second,
		maxReconnect:  30 * time.Second,
		pingInterval:  90 * time.Second,
	}
}

func (p *PGListener) Name() string { return "postgres" }

// Channel returns the NOTIFY channel for topic.
func (p *PGListener) Channel(topic domain.Topic) string {
	return p.channelPrefix + string(topic)
}

// Listen holds one dedicated connection per topic. A failed reconnect
// attempt ends the subscription so the adapter can fall back to polling.
func (p *PGListener) Listen(ctx context.Context, topic domain.Topic, out chan<- []byte) error {
	failed := make(chan error, 1)
	l := pq.NewListener(p.connStr, p.minReconnect, p.maxReconnect, func(ev pq.ListenerEventType, err error) {
		switch ev {
		case pq.ListenerEventConnectionAttemptFailed:
			select {
			case failed <- err:
			default:
			}
		case pq.ListenerEventReconnected:
			logger.Warn("[PGListener] reconnected, notifications may have been missed", "topic", topic)
		}
	})
	defer l.Close()

	channel := p.Channel(topic)
	if err := l.Listen(channel); err != nil {
		return fmt.Errorf("listen %s: %w", channel, err)
	}
	logger.Info("[PGListener] listening", "channel", channel)

	ping := time.NewTicker(p.pingInterval)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-failed:
			return fmt.Errorf("connection to %s lost: %w", channel, err)
		case n := <-l.Notify:
			// nil is sent after a reconnect.
			if n == nil {
				continue
			}
			if !send(ctx, out, []byte(n.Extra)) {
				return nil
			}
		case <-ping.C:
			if err := l.Ping(); err != nil {
				return fmt.Errorf("ping %s: %w", channel, err)
			}
		}
	}
}

// NotifySQL is the statement writers use to publish an envelope without a
// trigger.
const NotifySQL = `SELECT pg_notify($1, $2)`
