package sources

// Config describes one configured (creator, platform) ingestion target.
// Loaded from a YAML file in the sources directory; the source name is
// derived from the filename.
type Config struct {
	Name     string `yaml:"-"`
	Platform string `yaml:"platform"`
	Creator  string `yaml:"creator"`
	URL      string `yaml:"url"`
	FeedURL  string `yaml:"feed_url"`

	Settings ConfigSettings `yaml:"settings"`
	Grouping []GroupingRule `yaml:"grouping"`
}

type ConfigSettings struct {
	Enabled  bool `yaml:"enabled"`
	Timeout  int  `yaml:"timeout"`
	MaxPages int  `yaml:"max_pages"`
}

// GroupingRule assigns items carrying a tag to a named collection
// during the grouping phase.
type GroupingRule struct {
	Tag        string `yaml:"tag"`
	Collection string `yaml:"collection"`
}
