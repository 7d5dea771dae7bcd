package internal

import (
	"context"
	"fmt"
	"sync"

	"github.com/casalist/casalist/internal/api"
	"github.com/casalist/casalist/internal/asset"
	"github.com/casalist/casalist/internal/cleanup"
	"github.com/casalist/casalist/internal/database"
	"github.com/casalist/casalist/internal/event"
	"github.com/casalist/casalist/internal/image"
	"github.com/casalist/casalist/internal/ingest"
	"github.com/casalist/casalist/internal/media"
	"github.com/casalist/casalist/internal/video"
	"github.com/casalist/casalist/pkg/logger"
)

var log = logger.Get("Core")

type (
	RunnableService interface {
		Run(context.Context) error
	}
)

// Casalist represents the top-level object for the server, and is
// responsible for initialising the stores, services, event handling,
// et cetera...
type casalistImpl struct {
	eventBus event.EventCoordinator
	config   CasalistConfig

	databaseManager database.Manager
	assetStore      *asset.Store
	imageStore      *media.ImageStore
	videoStore      *media.VideoStore
	mediaService    *media.Service

	restGateway    RunnableService
	cleanupService RunnableService
}

func New(config CasalistConfig) *casalistImpl {
	log.Emit(logger.DEBUG, "Bootstrapping Casalist services using config: %#v\n", config)

	casalist := &casalistImpl{
		eventBus: event.New(),
		config:   config,
	}

	casalist.databaseManager = database.New()
	casalist.assetStore = asset.NewStore(config.Assets)
	casalist.imageStore = media.NewImageStore(casalist.databaseManager)
	casalist.videoStore = media.NewVideoStore(casalist.assetStore)

	casalist.mediaService = media.New(
		ingest.NewValidator(config.Ingest),
		image.NewTransformer(),
		video.NewTranscoder(config.Transcoder),
		casalist.assetStore,
		casalist.imageStore,
		casalist.videoStore,
		casalist.eventBus,
	)

	restConfig := &api.RestConfig{
		HostAddr:      fmt.Sprintf("%s:%s", config.ApiHostAddr, config.ApiHostPort),
		UploadRootDir: config.Assets.RootDir,
	}
	casalist.restGateway = api.NewRestGateway(restConfig, casalist.mediaService, config.Image.TransformOptions())
	casalist.cleanupService = cleanup.New(config.Cleanup, casalist.mediaService, casalist.eventBus)

	return casalist
}

// EventBus exposes the coordinator so that adjacent systems (such as the
// listing service which owns house records) can dispatch house deletion
// events for the cleanup workers to act on.
func (casalist *casalistImpl) EventBus() event.EventCoordinator {
	return casalist.eventBus
}

// Run will start all of Casalist by bringing up all required services
// and connections, such as:
// - Database connection (and pending migrations)
// - Service instances
//
// This function will not return until Casalist is stopped.
// To stop Casalist, the provided context must be cancelled. Errors from
// which Casalist cannot recover will also cause it to stop.
func (casalist *casalistImpl) Run(parent context.Context) error {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	crashHandler := func(label string, err error) {
		log.Emit(logger.FATAL, "Service crash (%s)! %s\n", label, err.Error())
		cancel()
	}

	log.Emit(logger.NEW, "Connecting to database...\n")
	if err := casalist.databaseManager.Connect(casalist.config.Database); err != nil {
		return err
	}

	wg := &sync.WaitGroup{}
	casalist.spawnAsyncService(ctx, wg, casalist.cleanupService, "cleanup-service", crashHandler)
	casalist.spawnAsyncService(ctx, wg, casalist.restGateway, "rest-gateway", crashHandler)
	log.Emit(logger.SUCCESS, "Casalist services spawned!\n")

	wg.Wait()
	return nil
}

// spawnAsyncService will run the provided function/service as it's own
// go-routine, ensuring that the Casalist service waitgroup is updated
// correctly
func (casalist *casalistImpl) spawnAsyncService(context context.Context, wg *sync.WaitGroup, service RunnableService, serviceLabel string, crashHandler func(string, error)) {
	log.Emit(logger.NEW, "Spawning %s\n", serviceLabel)
	wg.Add(1)

	go func(wg *sync.WaitGroup, label string, crash func(string, error)) {
		defer func() {
			if r := recover(); r != nil {
				crash(label, fmt.Errorf("panic %v", r))
			}
		}()

		defer wg.Done()
		if err := service.Run(context); err != nil {
			crash(label, err)
		}
	}(wg, serviceLabel, crashHandler)
}
