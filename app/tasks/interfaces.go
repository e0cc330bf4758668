package tasks

// TaskSchedulerInterface is the scheduling surface the API layer uses
// to trigger work outside the cron cadence (discover-now, sweeps,
// config re-syncs).
type TaskSchedulerInterface interface {
	Start() error
	Stop()
	EnqueueTask(task TaskInterface) error
}
