package tasks

import (
	"context"
	"fmt"
	"time"

	"github.com/riverqueue/river"

	"github.com/promptbazaar/backend/internal/services"
)

const (
	QueueNotify = "notify"
	QueueSweeps = "sweeps"
)

// ReconcileArgs triggers one reconciliation sweep of stale pending purchases.
type ReconcileArgs struct{}

func (ReconcileArgs) Kind() string { return "reconcile_checkouts" }

func (ReconcileArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{Queue: QueueSweeps, MaxAttempts: 1}
}

type Sweeper interface {
	Sweep(ctx context.Context) (*services.ReconcileReport, error)
}

type ReconcileWorker struct {
	river.WorkerDefaults[ReconcileArgs]
	reconciler Sweeper
}

func NewReconcileWorker(r Sweeper) *ReconcileWorker {
	return &ReconcileWorker{reconciler: r}
}

func (w *ReconcileWorker) Work(ctx context.Context, _ *river.Job[ReconcileArgs]) error {
	if _, err := w.reconciler.Sweep(ctx); err != nil {
		return fmt.Errorf("reconcile sweep: %w", err)
	}
	return nil
}

func (w *ReconcileWorker) Timeout(*river.Job[ReconcileArgs]) time.Duration { return 5 * time.Minute }

// ReleaseArgs triggers one wallet revenue release pass.
type ReleaseArgs struct{}

func (ReleaseArgs) Kind() string { return "release_wallet_revenue" }

func (ReleaseArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{Queue: QueueSweeps, MaxAttempts: 1}
}

type Releaser interface {
	ReleaseDue(ctx context.Context) (int, error)
}

type ReleaseWorker struct {
	river.WorkerDefaults[ReleaseArgs]
	releaser Releaser
}

func NewReleaseWorker(r Releaser) *ReleaseWorker {
	return &ReleaseWorker{releaser: r}
}

func (w *ReleaseWorker) Work(ctx context.Context, _ *river.Job[ReleaseArgs]) error {
	if _, err := w.releaser.ReleaseDue(ctx); err != nil {
		return fmt.Errorf("release wallet revenue: %w", err)
	}
	return nil
}

// PeriodicJobs schedules both sweeps. Release runs hourly; holds are measured in days.
func PeriodicJobs(reconcileEvery time.Duration) []*river.PeriodicJob {
	return []*river.PeriodicJob{
		river.NewPeriodicJob(
			river.PeriodicInterval(reconcileEvery),
			func() (river.JobArgs, *river.InsertOpts) { return ReconcileArgs{}, nil },
			&river.PeriodicJobOpts{RunOnStart: true},
		),
		river.NewPeriodicJob(
			river.PeriodicInterval(time.Hour),
			func() (river.JobArgs, *river.InsertOpts) { return ReleaseArgs{}, nil },
			&river.PeriodicJobOpts{RunOnStart: true},
		),
	}
}

// Queues is the river queue layout for the API process.
func Queues() map[string]river.QueueConfig {
	return map[string]river.QueueConfig{
		river.QueueDefault: {MaxWorkers: 5},
		QueueNotify:        {MaxWorkers: 10},
		QueueSweeps:        {MaxWorkers: 1},
	}
}

// Register adds every worker to workers.
func Register(workers *river.Workers, notifyWorker *NotifyWorker, reconcile *ReconcileWorker, release *ReleaseWorker) {
	river.AddWorker(workers, notifyWorker)
	river.AddWorker(workers, reconcile)
	river.AddWorker(workers, release)
}
