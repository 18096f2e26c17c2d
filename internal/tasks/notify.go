// Package tasks holds the river jobs that run outside the request path:
// notification delivery and the periodic ledger sweeps.
package tasks

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/riverqueue/river"

	"github.com/promptbazaar/backend/internal/notify"
	"github.com/promptbazaar/backend/internal/services"
)

type NotifyArgs struct {
	UserID  uuid.UUID      `json:"user_id"`
	Kind    string         `json:"kind"`
	Payload map[string]any `json:"payload,omitempty"`
	At      time.Time      `json:"at"`
}

func (NotifyArgs) Kind() string { return "notify" }

// InsertOpts makes delivery at-most-once: a failed send is never retried.
func (NotifyArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{MaxAttempts: 1, Queue: QueueNotify}
}

// NotifyWorker hands a notification to the configured sink.
type NotifyWorker struct {
	river.WorkerDefaults[NotifyArgs]
	sink   notify.Sink
	logger *slog.Logger
}

func NewNotifyWorker(sink notify.Sink, logger *slog.Logger) *NotifyWorker {
	if logger == nil {
		logger = slog.Default()
	}
	return &NotifyWorker{sink: sink, logger: logger}
}

func (w *NotifyWorker) Work(ctx context.Context, job *river.Job[NotifyArgs]) error {
	args := job.Args
	err := w.sink.Send(ctx, notify.Message{UserID: args.UserID, Kind: args.Kind, Payload: args.Payload, SentAt: args.At})
	if err != nil {
		// Swallowed: notifications are best effort and must not be redelivered.
		w.logger.WarnContext(ctx, "notification dropped", "user_id", args.UserID, "kind", args.Kind, "error", err)
	}
	return nil
}

func (w *NotifyWorker) Timeout(*river.Job[NotifyArgs]) time.Duration { return 15 * time.Second }

// InsertNotifyFunc enqueues a notification job. It is wired to the river client after
// the client is built, which breaks the worker/client construction cycle.
type InsertNotifyFunc func(ctx context.Context, args NotifyArgs) error

// Dispatcher implements services.Notifier by enqueueing river jobs. Enqueue
// failures are logged and dropped.
type Dispatcher struct {
	Insert InsertNotifyFunc
	Now    func() time.Time
	Logger *slog.Logger
}

var _ services.Notifier = (*Dispatcher)(nil)

func (d *Dispatcher) Notify(ctx context.Context, userID uuid.UUID, kind string, payload map[string]any) {
	now := time.Now()
	if d.Now != nil {
		now = d.Now()
	}
	err := d.Insert(ctx, NotifyArgs{UserID: userID, Kind: kind, Payload: payload, At: now})
	if err != nil {
		l := d.Logger
		if l == nil {
			l = slog.Default()
		}
		l.WarnContext(ctx, "enqueue notification", "user_id", userID, "kind", kind, "error", err)
	}
}
