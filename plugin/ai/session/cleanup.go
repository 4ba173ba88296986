package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/finsight/advisor/store/db"
)

// DefaultCleanupInterval is the default interval between sweeps of
// expired session rows.
const DefaultCleanupInterval = 10 * time.Minute

// CleanupJob periodically deletes expired session rows. Expired
// sessions are already unreachable through Load; the sweep only
// reclaims storage.
type CleanupJob struct {
	db       *db.DB
	interval time.Duration

	mu       sync.Mutex
	running  bool
	stopChan chan struct{}
}

// NewCleanupJob creates a cleanup job for the given database.
func NewCleanupJob(database *db.DB, interval time.Duration) *CleanupJob {
	if interval <= 0 {
		interval = DefaultCleanupInterval
	}
	return &CleanupJob{
		db:       database,
		interval: interval,
	}
}

// Start begins the periodic sweep in a goroutine. Calling Start on a
// running job is a no-op.
func (j *CleanupJob) Start(ctx context.Context) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.running {
		return
	}
	j.running = true
	j.stopChan = make(chan struct{})

	go j.run(ctx)

	slog.Info("session cleanup job started", "interval", j.interval)
}

// Stop stops the cleanup job.
func (j *CleanupJob) Stop() {
	j.mu.Lock()
	defer j.mu.Unlock()

	if !j.running {
		return
	}
	close(j.stopChan)
	j.running = false

	slog.Info("session cleanup job stopped")
}

func (j *CleanupJob) run(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-j.stopChan:
			return
		case <-ticker.C:
			j.sweep(ctx)
		}
	}
}

func (j *CleanupJob) sweep(ctx context.Context) {
	sweepCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	removed, err := j.db.DeleteExpiredSessions(sweepCtx)
	if err != nil {
		slog.Warn("session cleanup sweep failed", "error", err)
		return
	}
	if removed > 0 {
		slog.Info("expired sessions removed", "count", removed)
	}
}
