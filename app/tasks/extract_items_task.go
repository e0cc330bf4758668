package tasks

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/klaudstn/postvault/app/database"
	"github.com/klaudstn/postvault/app/ingest"
	"github.com/klaudstn/postvault/app/metrics"
	"github.com/klaudstn/postvault/app/sources"
)

// ExtractItemsTask claims one batch of extraction-eligible items for a
// source and runs them through the extractor. One item's failure never
// aborts its siblings; each outcome is already recorded on the status
// tracker by the extractor.
type ExtractItemsTask struct {
	Task
	SourceConfig *sources.Config
	sourceRepo   *database.SourceRepository
	statusRepo   *database.StatusRepository
	extractor    *ingest.Extractor
	batchSize    int
	phaseTimeout time.Duration
}

func NewExtractItemsTask(sourceConfig *sources.Config, sourceRepo *database.SourceRepository,
	statusRepo *database.StatusRepository, extractor *ingest.Extractor,
	batchSize int, phaseTimeout time.Duration) *ExtractItemsTask {
	return &ExtractItemsTask{
		Task:         NewTask(TaskTypeExtractItems, sourceConfig.Name),
		SourceConfig: sourceConfig,
		sourceRepo:   sourceRepo,
		statusRepo:   statusRepo,
		extractor:    extractor,
		batchSize:    batchSize,
		phaseTimeout: phaseTimeout,
	}
}

func (t *ExtractItemsTask) Execute(ctx context.Context) error {
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

	records, err := t.statusRepo.ListPending(source.ID, database.PhaseExtraction, t.batchSize)
	if err != nil {
		return fmt.Errorf("failed to list extraction-eligible items: %w", err)
	}

	if len(records) == 0 {
		slog.Debug("No items need extraction", "source", t.SourceName)
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

		itemCtx, cancel := context.WithTimeout(ctx, t.phaseTimeout)
		err := t.extractor.Run(itemCtx, t.SourceConfig, source.ID, record)
		cancel()

		if err != nil {
			slog.Error("Failed to extract item", "source", t.SourceName,
				"item_id", record.ItemID, "attempts", record.Extraction.Attempts+1, "error", err)
			errorCount++
			metrics.PhaseOutcomes.WithLabelValues(t.SourceName, string(database.PhaseExtraction), "failed").Inc()
		} else {
			successCount++
			metrics.PhaseOutcomes.WithLabelValues(t.SourceName, string(database.PhaseExtraction), "completed").Inc()
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
