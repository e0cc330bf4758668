package tasks

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/klaudstn/postvault/app/media"
	"github.com/klaudstn/postvault/app/metrics"
)

// SweepMediaTask removes unreferenced media files from disk. Never
// scheduled automatically; enqueued only through the admin API.
type SweepMediaTask struct {
	Task
	store *media.Store
}

func NewSweepMediaTask(store *media.Store) *SweepMediaTask {
	return &SweepMediaTask{
		Task:  NewTask(TaskTypeSweepMedia, ""),
		store: store,
	}
}

func (t *SweepMediaTask) Execute(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	reclaimed, freed, err := t.store.Sweep()
	if err != nil {
		return fmt.Errorf("media sweep failed: %w", err)
	}

	metrics.MediaReclaimed.Add(float64(reclaimed))
	metrics.MediaBytesFreed.Add(float64(freed))

	slog.Info("Task completed",
		"type", t.GetType(),
		"duration", t.GetDuration(),
		"reclaimed", reclaimed,
		"bytes_freed", freed)

	return nil
}
