package tasks

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/klaudstn/postvault/app/cfg"
	"github.com/klaudstn/postvault/app/database"
	"github.com/klaudstn/postvault/app/ingest"
	"github.com/klaudstn/postvault/app/sources"
)

var _ TaskSchedulerInterface = (*Scheduler)(nil)

// Scheduler runs ingestion tasks on a worker pool, enqueued on a cron
// cadence. A task that fails is not re-enqueued immediately: failed
// items carry their state on the status tracker and become eligible
// again on the next scheduled run, which is the backpressure that keeps
// a rate-limiting source from being hammered.
type Scheduler struct {
	configCache *sources.ConfigCache
	sourceRepo  *database.SourceRepository
	statusRepo  *database.StatusRepository
	discoverer  *ingest.Discoverer
	extractor   *ingest.Extractor
	grouper     *ingest.Grouper

	batchSize    int
	phaseTimeout time.Duration
	schedule     string
	workerCount  int

	cron      *cron.Cron
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	taskQueue chan TaskInterface
}

func NewScheduler(configCache *sources.ConfigCache, sourceRepo *database.SourceRepository,
	statusRepo *database.StatusRepository, discoverer *ingest.Discoverer,
	extractor *ingest.Extractor, grouper *ingest.Grouper) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	c := cfg.Get()

	return &Scheduler{
		configCache:  configCache,
		sourceRepo:   sourceRepo,
		statusRepo:   statusRepo,
		discoverer:   discoverer,
		extractor:    extractor,
		grouper:      grouper,
		batchSize:    c.ExtractBatchSize,
		phaseTimeout: time.Duration(c.PhaseTimeout) * time.Second,
		schedule:     c.DiscoverySchedule,
		workerCount:  c.WorkerCount,
		cron:         cron.New(),
		ctx:          ctx,
		cancel:       cancel,
		taskQueue:    make(chan TaskInterface, 300),
	}
}

func (s *Scheduler) Start() error {
	for i := 0; i < s.workerCount; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}

	s.enqueueStartupTasks()

	if _, err := s.cron.AddFunc(s.schedule, s.enqueueScheduledTasks); err != nil {
		return fmt.Errorf("invalid discovery schedule '%s': %w", s.schedule, err)
	}
	s.cron.Start()

	return nil
}

func (s *Scheduler) Stop() {
	cronCtx := s.cron.Stop()
	<-cronCtx.Done()

	s.cancel()
	s.wg.Wait()
	close(s.taskQueue)
}

func (s *Scheduler) EnqueueTask(task TaskInterface) error {
	select {
	case s.taskQueue <- task:
		return nil
	case <-s.ctx.Done():
		return s.ctx.Err()
	default:
		return fmt.Errorf("task queue is full")
	}
}

// enqueueStartupTasks syncs every configured source into the database
// before the first scheduled run, then kicks off an initial ingestion
// round for the enabled ones.
func (s *Scheduler) enqueueStartupTasks() {
	sourceConfigs := s.configCache.GetConfigs()
	if len(sourceConfigs) == 0 {
		slog.Debug("No source configurations found")
		return
	}

	slog.Debug("Processing source configurations", "count", len(sourceConfigs))

	for _, sourceConfig := range sourceConfigs {
		syncTask := NewSyncSourceConfigTask(sourceConfig, s.sourceRepo)
		if err := s.EnqueueTask(syncTask); err != nil {
			slog.Warn("Failed to enqueue SyncSourceConfigTask", "source", sourceConfig.Name, "error", err)
			continue
		}

		if !sourceConfig.Settings.Enabled {
			slog.Debug("Source disabled, skipping ingestion tasks", "source", sourceConfig.Name)
			continue
		}

		s.enqueueIngestionTasks(sourceConfig)
	}
}

func (s *Scheduler) enqueueScheduledTasks() {
	sourceConfigs := s.configCache.GetEnabledConfigs()
	if len(sourceConfigs) == 0 {
		slog.Debug("No enabled source configurations found")
		return
	}

	slog.Debug("Enqueueing scheduled ingestion tasks", "count", len(sourceConfigs))

	for _, sourceConfig := range sourceConfigs {
		source, err := s.sourceRepo.GetSourceByName(sourceConfig.Name)
		if err != nil {
			slog.Warn("Failed to get source from database, skipping", "source", sourceConfig.Name, "error", err)
			continue
		}
		if source == nil {
			slog.Warn("Source not found in database, skipping", "source", sourceConfig.Name)
			continue
		}
		if !source.Active {
			slog.Debug("Source deactivated, skipping", "source", sourceConfig.Name)
			continue
		}

		s.enqueueIngestionTasks(sourceConfig)
	}
}

func (s *Scheduler) enqueueIngestionTasks(sourceConfig *sources.Config) {
	discoverTask := NewDiscoverSourceTask(sourceConfig, s.sourceRepo, s.discoverer)
	if err := s.EnqueueTask(discoverTask); err != nil {
		slog.Warn("Failed to enqueue DiscoverSourceTask", "source", sourceConfig.Name, "error", err)
	}

	extractTask := NewExtractItemsTask(sourceConfig, s.sourceRepo, s.statusRepo, s.extractor, s.batchSize, s.phaseTimeout)
	if err := s.EnqueueTask(extractTask); err != nil {
		slog.Warn("Failed to enqueue ExtractItemsTask", "source", sourceConfig.Name, "error", err)
	}

	groupTask := NewGroupItemsTask(sourceConfig, s.sourceRepo, s.statusRepo, s.grouper, s.batchSize)
	if err := s.EnqueueTask(groupTask); err != nil {
		slog.Warn("Failed to enqueue GroupItemsTask", "source", sourceConfig.Name, "error", err)
	}
}

func (s *Scheduler) worker(id int) {
	defer s.wg.Done()

	for {
		select {
		case task, ok := <-s.taskQueue:
			if !ok {
				return
			}
			s.executeTask(id, task)

		case <-s.ctx.Done():
			return
		}
	}
}

func (s *Scheduler) executeTask(workerID int, task TaskInterface) {
	task.Start()

	taskCtx, cancel := context.WithTimeout(s.ctx, 10*time.Minute)
	defer cancel()

	if err := task.Execute(taskCtx); err != nil {
		// Item-level failures live on the status tracker; retry happens
		// on the next scheduled run, never by immediate re-enqueue.
		slog.Error("Worker task execution failed", "worker_id", workerID,
			"type", string(task.GetType()), "id", task.GetID(),
			"source", task.GetSourceName(), "error", err)
	}
}
