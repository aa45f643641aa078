package video

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/clipbin/clipbin/internal/database"
	"github.com/clipbin/clipbin/internal/storage"
)

// RetentionPeriod is how long an account and its videos live before the
// sweep evicts them.
const RetentionPeriod = 24 * time.Hour

var (
	sweepRunsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "clipbin_retention_sweeps_total",
		Help: "Completed retention sweep runs.",
	})
	sweptVideosTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "clipbin_retention_videos_deleted_total",
		Help: "Videos removed by the retention sweep.",
	})
	sweepFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "clipbin_retention_failures_total",
		Help: "Blob or catalog deletions that failed during a sweep.",
	})
)

// Sweeper evicts accounts older than the retention period together with
// their blobs and catalog rows.
type Sweeper struct {
	db      database.DBTX
	storage ObjectStorage
}

func NewSweeper(db database.DBTX, s ObjectStorage) *Sweeper {
	return &Sweeper{db: db, storage: s}
}

// Sweep runs one eviction pass. Blobs are deleted before their rows, and an
// account row is only removed once every one of its blobs is confirmed
// gone, so a partial failure leaves the remainder for the next pass instead
// of orphaning blobs in the backend.
func (s *Sweeper) Sweep(ctx context.Context) error {
	rows, err := s.db.Query(ctx,
		"SELECT id FROM accounts WHERE created_at < now() - make_interval(secs => $1)",
		RetentionPeriod.Seconds(),
	)
	if err != nil {
		return fmt.Errorf("query expired accounts: %w", err)
	}
	accountIDs := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return fmt.Errorf("scan expired account: %w", err)
		}
		accountIDs = append(accountIDs, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("read expired accounts: %w", err)
	}

	for _, accountID := range accountIDs {
		if err := s.sweepAccount(ctx, accountID); err != nil {
			slog.Error("retention: account sweep incomplete", "account", accountID, "error", err)
		}
	}

	sweepRunsTotal.Inc()
	return nil
}

func (s *Sweeper) sweepAccount(ctx context.Context, accountID string) error {
	rows, err := s.db.Query(ctx,
		"SELECT id, filename FROM videos WHERE account_id = $1", accountID,
	)
	if err != nil {
		return fmt.Errorf("query account videos: %w", err)
	}
	type entry struct {
		id       int64
		filename string
	}
	entries := []entry{}
	for rows.Next() {
		var e entry
		if err := rows.Scan(&e.id, &e.filename); err != nil {
			rows.Close()
			return fmt.Errorf("scan account video: %w", err)
		}
		entries = append(entries, e)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("read account videos: %w", err)
	}

	clean := true
	for _, e := range entries {
		err := s.storage.Delete(ctx, e.filename)
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			sweepFailuresTotal.Inc()
			slog.Error("retention: blob delete failed", "filename", e.filename, "error", err)
			clean = false
			continue
		}
		if _, err := s.db.Exec(ctx, "DELETE FROM videos WHERE id = $1", e.id); err != nil {
			sweepFailuresTotal.Inc()
			slog.Error("retention: catalog delete failed", "filename", e.filename, "error", err)
			clean = false
			continue
		}
		sweptVideosTotal.Inc()
	}

	if !clean {
		return fmt.Errorf("some videos could not be removed")
	}

	if _, err := s.db.Exec(ctx, "DELETE FROM accounts WHERE id = $1", accountID); err != nil {
		sweepFailuresTotal.Inc()
		return fmt.Errorf("delete account: %w", err)
	}
	return nil
}

// StartRetentionLoop runs an immediate sweep and then one per interval
// until ctx is cancelled.
func (s *Sweeper) StartRetentionLoop(ctx context.Context, interval time.Duration) {
	go func() {
		if err := s.Sweep(ctx); err != nil {
			slog.Error("retention: sweep failed", "error", err)
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := s.Sweep(ctx); err != nil {
					slog.Error("retention: sweep failed", "error", err)
				}
			}
		}
	}()
}
