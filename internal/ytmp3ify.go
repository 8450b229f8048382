package internal

import (
	"context"
	"fmt"
	"sync"

	"github.com/adamroke/ytmp3ify/internal/api"
	"github.com/adamroke/ytmp3ify/internal/event"
	"github.com/adamroke/ytmp3ify/internal/extract"
	"github.com/adamroke/ytmp3ify/internal/scratch"
	"github.com/adamroke/ytmp3ify/pkg/logger"
)

var log = logger.Get("Core")

type (
	RunnableService interface {
		Run(context.Context) error
	}

	ExtractService interface {
		RunnableService
		Execute(context.Context, extract.Request) (*extract.ExtractionTask, error)
	}
)

// ytmp3ify is the top-level object for the server, responsible for
// constructing the services, wiring them together over the event bus,
// and supervising their goroutines.
type ytmp3ify struct {
	eventBus event.EventCoordinator
	config   Config

	scratchManager *scratch.Manager
	extractService ExtractService
	restGateway    RunnableService
}

func New(config Config) *ytmp3ify {
	log.Emit(logger.DEBUG, "Bootstrapping services using config: %#v\n", config)
	server := &ytmp3ify{
		eventBus: event.New(),
		config:   config,
	}

	scratchManager, err := scratch.New(config.Scratch)
	if err != nil {
		panic(fmt.Sprintf("failed to construct scratch manager due to error: %s", err))
	}
	server.scratchManager = scratchManager

	extractService, err := extract.New(
		config.Extract,
		server.eventBus,
		&config.Downloader,
		&config.Remux,
		&config.Media,
		scratchManager,
	)
	if err != nil {
		panic(fmt.Sprintf("failed to construct extraction service due to error: %s", err))
	}
	server.extractService = extractService

	server.restGateway = api.NewRestGateway(
		&config.Rest,
		config.Auth,
		extractService,
		&config.Downloader,
		&config.Remux,
		server.eventBus,
	)

	return server
}

// Run starts all the services and blocks until the provided context
// is cancelled, or until a service crashes in a way the server cannot
// recover from.
func (server *ytmp3ify) Run(parent context.Context) error {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	crashHandler := func(label string, err error) {
		log.Emit(logger.FATAL, "Service crash (%s)! %s\n", label, err.Error())
		cancel()
	}

	wg := &sync.WaitGroup{}
	server.spawnAsyncService(ctx, wg, server.scratchManager, "scratch-reaper", crashHandler)
	server.spawnAsyncService(ctx, wg, server.extractService, "extract-service", crashHandler)
	server.spawnAsyncService(ctx, wg, server.restGateway, "rest-gateway", crashHandler)
	log.Emit(logger.SUCCESS, "Services spawned!\n")

	wg.Wait()
	return nil
}

// spawnAsyncService runs the provided service as its own goroutine,
// updating the service waitgroup and reporting panics and errors to
// the crash handler.
func (server *ytmp3ify) spawnAsyncService(ctx context.Context, wg *sync.WaitGroup, service RunnableService, serviceLabel string, crashHandler func(string, error)) {
	log.Emit(logger.NEW, "Spawning %s\n", serviceLabel)
	wg.Add(1)

	go func(wg *sync.WaitGroup, label string, crash func(string, error)) {
		defer func() {
			if r := recover(); r != nil {
				crash(label, fmt.Errorf("panic %v", r))
			}
		}()

		defer wg.Done()
		if err := service.Run(ctx); err != nil {
			crash(label, err)
		}
	}(wg, serviceLabel, crashHandler)
}
