// Package sweeper purges soft-deleted records whose retention window has
// elapsed. Each purge claims the metadata row with a single conditional
// delete before touching the storage object, so a record restored a
// moment earlier is never purged and an object is never double-freed.
package sweeper

import (
	"context"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/filedepot/filedepot/internal/blob"
	"github.com/filedepot/filedepot/internal/queue"
	"github.com/filedepot/filedepot/internal/store"
)

// Sweeper finds and purges expired recycle-bin entries.
type Sweeper struct {
	store       store.Store
	blobs       blob.Accessor
	logger      *zap.Logger
	filesBucket string
}

// New constructs a Sweeper.
func New(s store.Store, blobs blob.Accessor, logger *zap.Logger, filesBucket string) *Sweeper {
	return &Sweeper{store: s, blobs: blobs, logger: logger, filesBucket: filesBucket}
}

// Sweep purges everything expired as of now and returns how many records
// were removed. A storage failure on one record is logged and the sweep
// continues; by then the row is already claimed, so the worst case is an
// orphan object, never a corrupt record.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	now := time.Now().UTC()
	expired, err := s.store.FindExpiredDeletedFiles(ctx, now)
	if err != nil {
		return 0, err
	}
	purged := 0
	for _, rec := range expired {
		if err := ctx.Err(); err != nil {
			return purged, err
		}
		claimed, err := s.store.PurgeExpired(ctx, rec.UserID, rec.InternalName, now)
		if err != nil {
			s.logger.Warn("purge claim failed",
				zap.String("user", rec.UserID),
				zap.String("file", rec.DisplayName),
				zap.Error(err))
			continue
		}
		if !claimed {
			// Restored (or already purged) since the listing; leave it be.
			continue
		}
		if err := s.blobs.Delete(ctx, s.filesBucket+"/"+rec.InternalName); err != nil {
			s.logger.Warn("delete expired object failed",
				zap.String("user", rec.UserID),
				zap.String("object", rec.InternalName),
				zap.Error(err))
		}
		purged++
	}
	if purged > 0 {
		s.logger.Info("recycle bin swept", zap.Int("purged", purged))
	}
	return purged, nil
}

// Run sweeps on a fixed interval until the context is cancelled.
func (s *Sweeper) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil {
				s.logger.Error("sweep failed", zap.Error(err))
			}
		}
	}
}

// Handler registers the sweep task for the asynq worker loop.
func (s *Sweeper) Handler() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.RecycleSweepTask, s.handleSweep)
	return mux
}

func (s *Sweeper) handleSweep(ctx context.Context, task *asynq.Task) error {
	_, err := s.Sweep(ctx)
	return err
}
