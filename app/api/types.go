package api

import (
	"sync"
	"time"

	"github.com/klaudstn/postvault/app/database"
	"github.com/klaudstn/postvault/app/media"
	"github.com/klaudstn/postvault/app/search"
	"github.com/klaudstn/postvault/app/sources"
	"github.com/klaudstn/postvault/app/tasks"
)

// purgeTicket is a pending purge confirmation. A purge only executes
// when the caller echoes back the token from a prior dry run.
type purgeTicket struct {
	SourceName string
	Report     *database.PurgeReport
	IssuedAt   time.Time
}

type Handler struct {
	configCache    *sources.ConfigCache
	sourceRepo     *database.SourceRepository
	itemRepo       *database.ItemRepository
	statusRepo     *database.StatusRepository
	mediaRepo      *database.MediaRepository
	collectionRepo *database.CollectionRepository
	store          *media.Store
	indexer        *search.Indexer
	scheduler      tasks.TaskSchedulerInterface

	purgeMu      sync.Mutex
	purgeTickets map[string]purgeTicket
}
