package system

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

const healthcheckTimeout = time.Second * 10

type (
	HealthReporter interface {
		Healthcheck(ctx context.Context) error
	}

	HealthDto struct {
		Healthy    bool   `json:"healthy"`
		Downloader string `json:"downloader"`
		Transcoder string `json:"transcoder"`
	}

	// Controller reports on the availability of the external binaries
	// the server depends on.
	Controller struct {
		downloader HealthReporter
		transcoder HealthReporter
	}
)

func New(downloader HealthReporter, transcoder HealthReporter) *Controller {
	return &Controller{downloader: downloader, transcoder: transcoder}
}

func (controller *Controller) SetRoutes(eg *echo.Group) {
	eg.GET("/health/", controller.health)
}

// health spawns both external binaries in version-check mode and
// reports 503 if either cannot be run.
func (controller *Controller) health(ec echo.Context) error {
	ctx, cancel := context.WithTimeout(ec.Request().Context(), healthcheckTimeout)
	defer cancel()

	dto := HealthDto{Healthy: true, Downloader: "ok", Transcoder: "ok"}
	if err := controller.downloader.Healthcheck(ctx); err != nil {
		dto.Healthy = false
		dto.Downloader = err.Error()
	}
	if err := controller.transcoder.Healthcheck(ctx); err != nil {
		dto.Healthy = false
		dto.Transcoder = err.Error()
	}

	status := http.StatusOK
	if !dto.Healthy {
		status = http.StatusServiceUnavailable
	}

	return ec.JSON(status, dto)
}
