package system_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/adamroke/ytmp3ify/internal/api/system"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
)

type fakeReporter struct {
	err error
}

func (fake *fakeReporter) Healthcheck(ctx context.Context) error { return fake.err }

func newServer(downloader error, transcoder error) *echo.Echo {
	ec := echo.New()
	controller := system.New(&fakeReporter{err: downloader}, &fakeReporter{err: transcoder})
	controller.SetRoutes(ec.Group("/system"))
	return ec
}

func TestHealth(t *testing.T) {
	t.Run("healthy when both binaries respond", func(t *testing.T) {
		rec := httptest.NewRecorder()
		newServer(nil, nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/system/health/", nil))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"healthy":true`)
	})

	t.Run("unavailable when downloader is missing", func(t *testing.T) {
		rec := httptest.NewRecorder()
		newServer(errors.New("yt-dlp healthcheck failed"), nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/system/health/", nil))

		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Contains(t, rec.Body.String(), "yt-dlp healthcheck failed")
	})

	t.Run("unavailable when transcoder is missing", func(t *testing.T) {
		rec := httptest.NewRecorder()
		newServer(nil, errors.New("ffmpeg healthcheck failed")).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/system/health/", nil))

		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})
}
