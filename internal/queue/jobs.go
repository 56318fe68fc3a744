package queue

import (
	"context"
	"fmt"

	"github.com/hibiken/asynq"
)

const (
	// RecycleSweepTask triggers a pass over the expired recycle-bin
	// partition.
	RecycleSweepTask = "recycle:sweep"
)

// EnqueueSweep schedules a recycle-bin sweep. The task carries no payload;
// the worker always sweeps everything expired at execution time.
func EnqueueSweep(ctx context.Context, client *asynq.Client) error {
	task := asynq.NewTask(RecycleSweepTask, nil)
	if _, err := client.EnqueueContext(ctx, task, asynq.MaxRetry(3)); err != nil {
		return fmt.Errorf("enqueue sweep task: %w", err)
	}
	return nil
}
