package tasks

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/klaudstn/postvault/app/database"
	"github.com/klaudstn/postvault/app/sources"
)

// SyncSourceConfigTask reconciles one source config file with its
// database row. Runs at startup and whenever the file changes.
type SyncSourceConfigTask struct {
	Task
	SourceConfig *sources.Config
	sourceRepo   *database.SourceRepository
}

func NewSyncSourceConfigTask(sourceConfig *sources.Config, sourceRepo *database.SourceRepository) *SyncSourceConfigTask {
	return &SyncSourceConfigTask{
		Task:         NewTask(TaskTypeSyncSourceConfig, sourceConfig.Name),
		SourceConfig: sourceConfig,
		sourceRepo:   sourceRepo,
	}
}

func (t *SyncSourceConfigTask) Execute(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	_, urlChanged, err := t.sourceRepo.UpsertSource(t.SourceConfig.Name,
		t.SourceConfig.Platform, t.SourceConfig.Creator, t.SourceConfig.URL)
	if err != nil {
		return fmt.Errorf("failed to sync source config: %w", err)
	}

	if urlChanged {
		slog.Warn("Source URL changed, existing items keep their original identity",
			"source", t.SourceName, "url", t.SourceConfig.URL)
	}

	if err := t.sourceRepo.SetSourceActive(t.SourceConfig.Name, t.SourceConfig.Settings.Enabled); err != nil {
		return fmt.Errorf("failed to update source active flag: %w", err)
	}

	slog.Info("Task completed",
		"type", t.GetType(),
		"source", t.SourceName,
		"duration", t.GetDuration(),
		"enabled", t.SourceConfig.Settings.Enabled)

	return nil
}
