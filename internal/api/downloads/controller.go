package downloads

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/adamroke/ytmp3ify/internal/extract"
	"github.com/adamroke/ytmp3ify/internal/ytdl"
	"github.com/adamroke/ytmp3ify/pkg/logger"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

var controllerLogger = logger.Get("DownloadsController")

// SourceCookieHeader carries raw cookie material for the source site.
// A dedicated header keeps it separate from the Cookie header, which
// holds this server's own auth cookie.
const SourceCookieHeader = "X-Source-Cookies"

type (
	// DownloadRequest is bound from the query parameters of a download
	// call. Format defaults to mp3 when omitted.
	DownloadRequest struct {
		URL        string `query:"url" validate:"required,url"`
		Format     string `query:"format" validate:"omitempty,oneof=best mp3 m4a aac flac"`
		CookieFile string `query:"cookie_file"`
	}

	ExtractionService interface {
		Execute(ctx context.Context, request extract.Request) (*extract.ExtractionTask, error)
		AllTasks() []*extract.ExtractionTask
		ReleaseTask(id uuid.UUID)
	}

	// Controller defines the routes for requesting extractions and
	// streaming their artifacts back to the caller.
	Controller struct {
		validate *validator.Validate
		service  ExtractionService
	}
)

func New(validate *validator.Validate, service ExtractionService) *Controller {
	return &Controller{validate: validate, service: service}
}

func (controller *Controller) SetRoutes(eg *echo.Group) {
	eg.GET("/", controller.download)
	eg.GET("/active/", controller.listActive)
}

// download runs a full extraction for the requested URL and streams
// the resulting audio file back, deleting it once the response body
// has been written. The request blocks for the lifetime of the
// extraction; disconnecting cancels it.
func (controller *Controller) download(ec echo.Context) error {
	var request DownloadRequest
	if err := ec.Bind(&request); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "query parameters illegal")
	}

	if err := controller.validate.Struct(request); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("invalid request: %v", err))
	}

	rawFormat := request.Format
	if rawFormat == "" {
		rawFormat = "mp3"
	}
	format, err := ytdl.ParseAudioFormat(rawFormat)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	task, err := controller.service.Execute(ec.Request().Context(), extract.Request{
		URL:    request.URL,
		Format: format,
		Cookies: ytdl.CookieSource{
			File:   request.CookieFile,
			Header: ec.Request().Header.Get(SourceCookieHeader),
		},
	})
	if err != nil {
		if ec.Request().Context().Err() != nil {
			return echo.NewHTTPError(http.StatusServiceUnavailable, "request cancelled")
		}

		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	// The task (and its file) are removed once the response has been
	// fully written; ServeContent does not return until then.
	defer controller.service.ReleaseTask(task.ID())
	return controller.streamArtifact(ec, task)
}

// listActive returns all the extraction tasks currently known to the
// service.
func (controller *Controller) listActive(ec echo.Context) error {
	return ec.JSON(http.StatusOK, controller.service.AllTasks())
}

// streamArtifact writes the produced file to the response with
// byte-range support, marked non-cacheable.
func (controller *Controller) streamArtifact(ec echo.Context, task *extract.ExtractionTask) error {
	path := task.OutputPath()
	file, err := os.Open(path)
	if err != nil {
		controllerLogger.Errorf("Failed to open artifact %s for streaming: %v\n", path, err)
		return echo.NewHTTPError(http.StatusInternalServerError, "produced file could not be opened")
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "produced file could not be read")
	}

	name := filepath.Base(path)
	header := ec.Response().Header()
	header.Set(echo.HeaderContentType, contentTypeForFile(name))
	header.Set("Cache-Control", "no-store")
	header.Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", name))

	http.ServeContent(ec.Response(), ec.Request(), name, info.ModTime(), file)
	return nil
}

// contentTypeForFile maps a produced file's extension to the content
// type served to the client.
func contentTypeForFile(name string) string {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
	switch ext {
	case "mp3":
		return "audio/mpeg"
	case "m4a":
		return "audio/mp4"
	case "aac":
		return "audio/aac"
	case "flac":
		return "audio/flac"
	case "opus", "ogg":
		return "audio/ogg"
	default:
		return "application/octet-stream"
	}
}
