// Package listener consumes Postgres LISTEN/NOTIFY change events for newly
// inserted suggestions and republishes them to the SSE hub. It holds one
// dedicated connection, separate from the store's pool, and survives
// database restarts by reconnecting with capped exponential backoff.
package listener

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/mindtrack/mindtrack-go/internal/datastore"
	"github.com/mindtrack/mindtrack-go/internal/observability/metrics"
)

// Notification is one raw event from the channel.
type Notification struct {
	Channel string
	Payload string
}

// NotificationConn is the subset of a database connection the listener
// needs. The production implementation wraps a pgx connection.
type NotificationConn interface {
	Listen(ctx context.Context, channel string) error
	WaitForNotification(ctx context.Context) (*Notification, error)
	Close(ctx context.Context) error
}

// ConnectFunc opens a new NotificationConn.
type ConnectFunc func(ctx context.Context, dsn string) (NotificationConn, error)

// Publisher fans a suggestion event out to the owning user's streams.
type Publisher interface {
	Publish(userID uint, payload any, eventID string)
}

// changeEvent mirrors the JSON the notify trigger builds.
type changeEvent struct {
	Event  string `json:"event"`
	Table  string `json:"table"`
	ID     uint   `json:"id"`
	UserID uint   `json:"userId"`
	Ts     int64  `json:"ts"`
}

// Config tunes the listener.
type Config struct {
	DSN         string
	Channel     string
	PollTimeout time.Duration // bound on one blocking wait
	MinBackoff  time.Duration
	MaxBackoff  time.Duration
}

// Listener is the resilient subscription loop.
type Listener struct {
	cfg     Config
	connect ConnectFunc
	store   datastore.Interface
	hub     Publisher
	logger  *slog.Logger
	metrics *metrics.Metrics

	// sleep is replaceable so reconnect schedules are testable.
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a Listener. Logger and metrics may be nil; connect defaults
// to a pgx-backed connection.
func New(cfg Config, store datastore.Interface, hub Publisher, logger *slog.Logger, m *metrics.Metrics) *Listener {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = time.Second
	}
	if cfg.MinBackoff <= 0 {
		cfg.MinBackoff = time.Second
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 30 * time.Second
	}
	return &Listener{
		cfg:     cfg,
		connect: connectPgx,
		store:   store,
		hub:     hub,
		logger:  logger,
		metrics: m,
		sleep:   sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Run connects, listens and dispatches until the context is cancelled.
// Every failure path falls back into the reconnect schedule; Run itself
// only returns on cancellation.
func (l *Listener) Run(ctx context.Context) {
	backoff := l.cfg.MinBackoff

	for ctx.Err() == nil {
		conn, err := l.connect(ctx, l.cfg.DSN)
		if err != nil {
			l.retry(ctx, &backoff, "connecting to database", err)
			continue
		}

		if err := conn.Listen(ctx, l.cfg.Channel); err != nil {
			_ = conn.Close(context.Background())
			l.retry(ctx, &backoff, "subscribing to channel", err)
			continue
		}

		l.logger.Info("listening for change notifications", "channel", l.cfg.Channel)
		backoff = l.cfg.MinBackoff

		err = l.consume(ctx, conn)
		_ = conn.Close(context.Background())
		if ctx.Err() != nil {
			return
		}
		l.retry(ctx, &backoff, "notification wait failed", err)
	}
}

// consume blocks on the connection until it breaks or the context ends.
// Each wait is bounded so cancellation is noticed within PollTimeout even
// on a quiet channel.
func (l *Listener) consume(ctx context.Context, conn NotificationConn) error {
	for {
		waitCtx, cancel := context.WithTimeout(ctx, l.cfg.PollTimeout)
		n, err := conn.WaitForNotification(waitCtx)
		cancel()

		switch {
		case err == nil:
			l.dispatch(n)
		case ctx.Err() != nil:
			return ctx.Err()
		case errors.Is(err, context.DeadlineExceeded):
			// Quiet channel, wait again.
		default:
			return err
		}
	}
}

// dispatch parses a notification and republishes the full suggestion to
// the owning user's streams. A malformed payload is logged and skipped;
// it must never take the subscription down.
func (l *Listener) dispatch(n *Notification) {
	var ev changeEvent
	if err := json.Unmarshal([]byte(n.Payload), &ev); err != nil {
		l.logger.Warn("skipping malformed notification payload",
			"channel", n.Channel, "payload", n.Payload, "error", err)
		l.countNotification("malformed")
		return
	}
	if ev.ID == 0 || ev.UserID == 0 {
		l.logger.Warn("skipping notification without identifiers",
			"channel", n.Channel, "payload", n.Payload)
		l.countNotification("malformed")
		return
	}

	suggestion, err := l.store.GetSuggestionWithItems(ev.ID)
	if err != nil {
		l.logger.Error("loading notified suggestion failed",
			"suggestion_id", ev.ID, "user_id", ev.UserID, "error", err)
		l.countNotification("load_failed")
		return
	}

	l.hub.Publish(ev.UserID, datastore.PayloadFromSuggestion(suggestion),
		strconv.FormatUint(uint64(ev.ID), 10))
	l.countNotification("published")
	l.logger.Debug("notification dispatched",
		"suggestion_id", ev.ID, "user_id", ev.UserID, "event", ev.Event)
}

// retry logs the failure, waits for the current backoff and doubles it up
// to the cap.
func (l *Listener) retry(ctx context.Context, backoff *time.Duration, msg string, err error) {
	if ctx.Err() != nil {
		return
	}
	if l.metrics != nil {
		l.metrics.ListenerReconnects.Inc()
	}
	l.logger.Warn(msg, "error", err, "retry_in", *backoff)

	if l.sleep(ctx, *backoff) != nil {
		return
	}
	*backoff *= 2
	if *backoff > l.cfg.MaxBackoff {
		*backoff = l.cfg.MaxBackoff
	}
}

func (l *Listener) countNotification(result string) {
	if l.metrics != nil {
		l.metrics.NotificationsTotal.WithLabelValues(result).Inc()
	}
}
