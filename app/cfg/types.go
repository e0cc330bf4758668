package cfg

type Cfg struct {
	// Storage configuration
	DataDir string

	// Application configuration
	SourcesDir        string
	Port              string
	BaseUrl           string
	WorkerCount       int
	DiscoverySchedule string
	ExtractBatchSize  int
	KnownStreak       int
	PhaseTimeout      int
	APIAccessKey      string

	// Application metadata
	UserAgent string
	Timezone  string
	Debug     bool
	Version   string
}
