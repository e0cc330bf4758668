package tasks

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/klaudstn/postvault/app/database"
	"github.com/klaudstn/postvault/app/ingest"
	"github.com/klaudstn/postvault/app/metrics"
	"github.com/klaudstn/postvault/app/sources"
)

type DiscoverSourceTask struct {
	Task
	SourceConfig *sources.Config
	sourceRepo   *database.SourceRepository
	discoverer   *ingest.Discoverer
}

func NewDiscoverSourceTask(sourceConfig *sources.Config, sourceRepo *database.SourceRepository,
	discoverer *ingest.Discoverer) *DiscoverSourceTask {
	return &DiscoverSourceTask{
		Task:         NewTask(TaskTypeDiscoverSource, sourceConfig.Name),
		SourceConfig: sourceConfig,
		sourceRepo:   sourceRepo,
		discoverer:   discoverer,
	}
}

func (t *DiscoverSourceTask) Execute(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	if !t.SourceConfig.Settings.Enabled {
		slog.Debug("Source disabled, skipping discovery", "source", t.SourceName)
		return nil
	}

	source, err := t.sourceRepo.GetSourceByName(t.SourceName)
	if err != nil {
		return fmt.Errorf("failed to get source: %w", err)
	}
	if source == nil {
		return fmt.Errorf("source '%s' not registered in database", t.SourceName)
	}

	newCount, err := t.discoverer.Run(ctx, t.SourceConfig, source.ID)
	if err != nil {
		return fmt.Errorf("discovery run failed: %w", err)
	}

	metrics.ItemsDiscovered.WithLabelValues(t.SourceName).Add(float64(newCount))

	slog.Info("Task completed",
		"type", t.GetType(),
		"source", t.SourceName,
		"duration", t.GetDuration(),
		"new", newCount)

	return nil
}
