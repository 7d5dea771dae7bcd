// The cleanup service owns removal of orphaned media. When a house
// listing is deleted elsewhere in the system, the house delete event is
// dispatched on the bus; this service queues the house ID and a pool of
// workers purges the catalog rows and on-disk subtrees for it.
package cleanup

import (
	"context"
	"fmt"
	"sync"

	"github.com/casalist/casalist/internal/event"
	"github.com/casalist/casalist/pkg/logger"
	"github.com/casalist/casalist/pkg/worker"
)

var log = logger.Get("CleanServ")

type (
	purger interface {
		PurgeHouseMedia(houseID int64) error
	}

	// queuedHouse is one pending purge. Workers claim a house before
	// purging it so that two workers never race on the same subtree.
	queuedHouse struct {
		houseID int64
		claimed bool
	}

	// Config controls the worker pool size for the cleanup service.
	Config struct {
		PurgeWorkers int `yaml:"purge_workers" env:"CLEANUP_PURGE_WORKERS" env-default:"2"`
	}

	Service struct {
		*sync.Mutex
		purger     purger
		eventBus   event.EventCoordinator
		config     Config
		queue      []*queuedHouse
		workerPool *worker.WorkerPool
	}
)

func New(config Config, purger purger, eventBus event.EventCoordinator) *Service {
	return &Service{
		Mutex:      &sync.Mutex{},
		purger:     purger,
		eventBus:   eventBus,
		config:     config,
		queue:      make([]*queuedHouse, 0),
		workerPool: worker.NewWorkerPool(),
	}
}

// Run starts the purge workers and blocks until the provided context is
// cancelled. House delete events arriving on the bus while running are
// queued and handed to the next idle worker.
func (service *Service) Run(ctx context.Context) error {
	service.eventBus.RegisterHandlerFunction(event.HouseDeleteEvent, func(ev event.Event, payload event.Payload) {
		houseID, ok := payload.(int64)
		if !ok {
			log.Emit(logger.ERROR, "Discarding %s event with illegal payload %v\n", ev, payload)
			return
		}

		service.enqueue(houseID)
	})

	for i := 0; i < service.config.PurgeWorkers; i++ {
		w := worker.NewWorker(fmt.Sprintf("purge_worker_%d", i), func(w worker.Worker) (bool, error) {
			return service.purgeNext()
		})
		if err := service.workerPool.PushWorker(w); err != nil {
			return fmt.Errorf("failed to populate cleanup worker pool: %w", err)
		}
	}

	if err := service.workerPool.Start(); err != nil {
		return fmt.Errorf("failed to start cleanup worker pool: %w", err)
	}

	<-ctx.Done()

	service.workerPool.Close()
	return nil
}

// enqueue records a pending purge and wakes the pool. Duplicate events
// for a house already queued are collapsed.
func (service *Service) enqueue(houseID int64) {
	service.Lock()
	defer service.Unlock()

	for _, queued := range service.queue {
		if queued.houseID == houseID && !queued.claimed {
			return
		}
	}

	service.queue = append(service.queue, &queuedHouse{houseID: houseID})
	log.Emit(logger.INFO, "Queued media purge for house %d\n", houseID)
	if err := service.workerPool.WakeupWorkers(); err != nil {
		log.Emit(logger.WARNING, "Failed to wake purge workers: %v\n", err)
	}
}

// purgeNext claims the next unclaimed house and purges its media,
// reporting whether any work was available. Purge failures are logged
// but never escalated; the listing is already gone and a retry gains
// nothing an operator cannot do by hand.
func (service *Service) purgeNext() (bool, error) {
	item := service.claimNext()
	if item == nil {
		return false, nil
	}

	defer service.remove(item)
	if err := service.purger.PurgeHouseMedia(item.houseID); err != nil {
		log.Emit(logger.ERROR, "Media purge for house %d failed: %v\n", item.houseID, err)
	}

	service.eventBus.Dispatch(event.CleanupDoneEvent, item.houseID)
	return true, nil
}

func (service *Service) claimNext() *queuedHouse {
	service.Lock()
	defer service.Unlock()

	for _, queued := range service.queue {
		if !queued.claimed {
			queued.claimed = true
			return queued
		}
	}

	return nil
}

func (service *Service) remove(item *queuedHouse) {
	service.Lock()
	defer service.Unlock()

	for i, queued := range service.queue {
		if queued == item {
			service.queue = append(service.queue[:i], service.queue[i+1:]...)
			return
		}
	}
}
