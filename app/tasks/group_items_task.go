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

// GroupItemsTask claims a batch of grouping-eligible items and applies
// the source's collection rules to each.
type GroupItemsTask struct {
	Task
	SourceConfig *sources.Config
	sourceRepo   *database.SourceRepository
	statusRepo   *database.StatusRepository
	grouper      *ingest.Grouper
	batchSize    int
}

func NewGroupItemsTask(sourceConfig *sources.Config, sourceRepo *database.SourceRepository,
	statusRepo *database.StatusRepository, grouper *ingest.Grouper, batchSize int) *GroupItemsTask {
	return &GroupItemsTask{
		Task:         NewTask(TaskTypeGroupItems, sourceConfig.Name),
		SourceConfig: sourceConfig,
		sourceRepo:   sourceRepo,
		statusRepo:   statusRepo,
		grouper:      grouper,
		batchSize:    batchSize,
	}
}

func (t *GroupItemsTask) Execute(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	source, err := t.sourceRepo.GetSourceByName(t.SourceName)
	if err != nil {
		return fmt.Errorf("failed to get source: %w", err)
	}
	if source == nil {
		return fmt.Errorf("source '%s' not registered in database", t.SourceName)
	}

	records, err := t.statusRepo.ListPending(source.ID, database.PhaseGrouping, t.batchSize)
	if err != nil {
		return fmt.Errorf("failed to list grouping-eligible items: %w", err)
	}

	if len(records) == 0 {
		slog.Debug("No items need grouping", "source", t.SourceName)
		return nil
	}

	successCount := 0
	errorCount := 0

	for _, record := range records {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		// Grouping an unextracted item would read an empty tag set;
		// leave it pending until extraction has run.
		if record.Extraction.Status != database.StatusCompleted {
			continue
		}

		if err := t.grouper.Run(t.SourceConfig, source.ID, record); err != nil {
			slog.Error("Failed to group item", "source", t.SourceName,
				"item_id", record.ItemID, "error", err)
			errorCount++
			metrics.PhaseOutcomes.WithLabelValues(t.SourceName, string(database.PhaseGrouping), "failed").Inc()
		} else {
			successCount++
			metrics.PhaseOutcomes.WithLabelValues(t.SourceName, string(database.PhaseGrouping), "completed").Inc()
		}
	}

	slog.Info("Task completed",
		"type", t.GetType(),
		"source", t.SourceName,
		"duration", t.GetDuration(),
		"success", successCount,
		"errors", errorCount)

	return nil
}
