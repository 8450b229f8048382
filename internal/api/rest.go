package api

import (
	"context"
	"sync"

	"github.com/adamroke/ytmp3ify/internal/api/auth"
	"github.com/adamroke/ytmp3ify/internal/api/downloads"
	"github.com/adamroke/ytmp3ify/internal/api/system"
	"github.com/adamroke/ytmp3ify/internal/event"
	"github.com/adamroke/ytmp3ify/internal/extract"
	"github.com/adamroke/ytmp3ify/internal/websocket"
	"github.com/adamroke/ytmp3ify/pkg/logger"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

var log = logger.Get("API")

type (
	RestConfig struct {
		HostAddr string `yaml:"host_address" env:"YTMP3IFY_API_HOST_ADDR" env-default:"0.0.0.0:8080"`
	}

	controller interface {
		SetRoutes(*echo.Group)
	}

	// extractionService is the union of the service requirements of
	// the controllers and the activity broadcaster.
	extractionService interface {
		downloads.ExtractionService
		Task(id uuid.UUID) *extract.ExtractionTask
		CancelTask(id uuid.UUID) error
	}

	// The RestGateway is a thin wrapper around the Echo HTTP router.
	// Its sole responsibility is to create the routes the server
	// exposes, manage ongoing web socket connections and events, and
	// to enforce auth middleware where applicable.
	RestGateway struct {
		*broadcaster
		config              *RestConfig
		ec                  *echo.Echo
		socket              *websocket.SocketHub
		authProvider        *auth.Provider
		authController      controller
		downloadsController controller
		systemController    controller
	}
)

// NewRestGateway constructs the Echo router and populates it with all
// the routes defined by the various controllers.
func NewRestGateway(
	config *RestConfig,
	authConfig auth.Config,
	extractService extractionService,
	downloaderHealth system.HealthReporter,
	transcoderHealth system.HealthReporter,
	eventBus event.EventHandler,
) *RestGateway {
	ec := echo.New()
	ec.OnAddRouteHandler = func(host string, route echo.Route, handler echo.HandlerFunc, middleware []echo.MiddlewareFunc) {
		log.Emit(logger.DEBUG, "Registered new route %s %s\n", route.Method, route.Path)
	}
	ec.HidePort = true
	ec.HideBanner = true

	validate := validator.New()
	socket := websocket.NewHub()
	authProvider := auth.NewProvider(authConfig)
	gateway := &RestGateway{
		broadcaster:         newBroadcaster(socket, extractService),
		config:              config,
		ec:                  ec,
		socket:              socket,
		authProvider:        authProvider,
		authController:      auth.New(validate, authProvider),
		downloadsController: downloads.New(validate, extractService),
		systemController:    system.New(downloaderHealth, transcoderHealth),
	}

	gateway.listenForActivity(eventBus)
	socket.WithConnectionCallback(func() map[string]interface{} {
		return map[string]interface{}{"active_tasks": extractService.AllTasks()}
	})
	socket.BindCommand("CANCEL_TASK", func(hub *websocket.SocketHub, message *websocket.SocketMessage) error {
		raw, ok := message.Body["task_id"].(string)
		if !ok {
			return errMissingTaskID
		}

		id, err := uuid.Parse(raw)
		if err != nil {
			return err
		}

		return extractService.CancelTask(id)
	})

	ec.Use(middleware.Logger())
	ec.Use(middleware.Recover())
	ec.Pre(middleware.AddTrailingSlash())

	ec.GET("/api/ytmp3ify/v1/activity/ws/", func(ec echo.Context) error {
		gateway.socket.UpgradeToSocket(ec.Response(), ec.Request())
		return nil
	}, authProvider.Middleware())

	authGroup := ec.Group("/api/ytmp3ify/v1/auth")
	gateway.authController.SetRoutes(authGroup)

	downloadsGroup := ec.Group("/api/ytmp3ify/v1/downloads", authProvider.Middleware())
	gateway.downloadsController.SetRoutes(downloadsGroup)

	systemGroup := ec.Group("/api/ytmp3ify/v1/system", authProvider.Middleware())
	gateway.systemController.SetRoutes(systemGroup)

	return gateway
}

func (gateway *RestGateway) Run(parentCtx context.Context) error {
	ctx, ctxCancel := context.WithCancelCause(parentCtx)
	wg := &sync.WaitGroup{}

	// Start echo router
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := gateway.ec.Start(gateway.config.HostAddr); err != nil {
			ctxCancel(err)
		}
	}()

	// Start thread to listen for context cancellation
	go func(ec *echo.Echo) {
		<-ctx.Done()
		ec.Close()
	}(gateway.ec)

	// Start websocket
	wg.Add(1)
	go func() {
		defer wg.Done()
		gateway.socket.Start(ctx)
	}()

	wg.Wait()

	// Return cancellation cause if any, otherwise nil as parent context
	// cancellation is not an error case we should report.
	if cause := context.Cause(ctx); cause != ctx.Err() {
		return cause
	}

	return nil
}
