package extract_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/adamroke/ytmp3ify/internal/event"
	"github.com/adamroke/ytmp3ify/internal/extract"
	"github.com/adamroke/ytmp3ify/internal/media"
	"github.com/adamroke/ytmp3ify/internal/remux"
	"github.com/adamroke/ytmp3ify/internal/ytdl"
	"github.com/adamroke/ytmp3ify/pkg/logger"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errExpected = errors.New("test: expected error")

func init() {
	logger.SetMinLoggingLevel(logger.VERBOSE.Level())
}

type fakeDownloader struct {
	mu sync.Mutex

	probeResult ytdl.ProbeResult
	probeErr    error
	downloadErr error

	probeCalls    int
	downloadCalls []ytdl.DownloadRequest
}

func (fake *fakeDownloader) Probe(ctx context.Context, url string, cookies ytdl.CookieSource) (ytdl.ProbeResult, error) {
	fake.mu.Lock()
	defer fake.mu.Unlock()
	fake.probeCalls++
	return fake.probeResult, fake.probeErr
}

func (fake *fakeDownloader) Download(ctx context.Context, request ytdl.DownloadRequest) (string, error) {
	fake.mu.Lock()
	defer fake.mu.Unlock()
	fake.downloadCalls = append(fake.downloadCalls, request)

	if fake.downloadErr != nil {
		return "", fake.downloadErr
	}

	if request.OnProgress != nil {
		request.OnProgress(50)
		request.OnProgress(100)
	}

	path := filepath.Join(request.WorkingDirectory, "audio - Chan - Title.mp3")
	if err := os.WriteFile(path, []byte("audio-bytes"), 0o644); err != nil {
		return "", err
	}

	return path, nil
}

type fakeRemuxer struct {
	mu sync.Mutex

	err   error
	calls []remux.Tags
}

func (fake *fakeRemuxer) Remux(ctx context.Context, inputPath string, tags remux.Tags) (string, error) {
	fake.mu.Lock()
	defer fake.mu.Unlock()
	fake.calls = append(fake.calls, tags)

	if fake.err != nil {
		return "", fake.err
	}

	return inputPath, nil
}

func (fake *fakeRemuxer) tags() []remux.Tags {
	fake.mu.Lock()
	defer fake.mu.Unlock()
	return fake.calls
}

type fakeInspector struct {
	err error
}

func (fake *fakeInspector) Inspect(path string) (*media.FileInfo, error) {
	if fake.err != nil {
		return nil, fake.err
	}

	return &media.FileInfo{StreamCount: 1, AudioOnly: true}, nil
}

type fakeScratch struct {
	mu sync.Mutex

	root     string
	released []uuid.UUID
}

func (fake *fakeScratch) TaskDir(taskID uuid.UUID) (string, error) {
	dir := filepath.Join(fake.root, taskID.String())
	return dir, os.MkdirAll(dir, 0o755)
}

func (fake *fakeScratch) Release(taskID uuid.UUID) {
	fake.mu.Lock()
	defer fake.mu.Unlock()
	fake.released = append(fake.released, taskID)
	os.RemoveAll(filepath.Join(fake.root, taskID.String()))
}

type Service interface {
	Execute(context.Context, extract.Request) (*extract.ExtractionTask, error)
	AllTasks() []*extract.ExtractionTask
	Task(uuid.UUID) *extract.ExtractionTask
	ReleaseTask(uuid.UUID)
}

func startService(
	t *testing.T,
	eventBus event.EventCoordinator,
	downloader *fakeDownloader,
	remuxer *fakeRemuxer,
	inspector *fakeInspector,
	scratch *fakeScratch,
) Service {
	srv, err := extract.New(extract.Config{Parallelism: 2}, eventBus, downloader, remuxer, inspector, scratch)
	require.Nil(t, err)

	wg := sync.WaitGroup{}
	wg.Add(1)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		defer wg.Done()
		assert.Nil(t, srv.Run(ctx))
	}()

	t.Cleanup(func() {
		cancel()
		wg.Wait()
	})

	return srv
}

func defaultFakes(t *testing.T) (*fakeDownloader, *fakeRemuxer, *fakeInspector, *fakeScratch) {
	downloader := &fakeDownloader{
		probeResult: ytdl.ProbeResult{Title: "Real Title", Channel: "Real Channel", CanonicalURL: "https://example.com/canonical"},
	}
	return downloader, &fakeRemuxer{}, &fakeInspector{}, &fakeScratch{root: t.TempDir()}
}

func TestExecute_Success(t *testing.T) {
	downloader, remuxer, inspector, scratchDir := defaultFakes(t)
	srv := startService(t, event.New(), downloader, remuxer, inspector, scratchDir)

	task, err := srv.Execute(context.Background(), extract.Request{
		URL:    "https://example.com/watch?v=abc",
		Format: ytdl.MP3,
	})
	require.Nil(t, err)

	assert.Equal(t, extract.COMPLETE, task.Status())
	assert.FileExists(t, task.OutputPath())
	assert.Equal(t, "Real Title", task.Metadata().Title)
	assert.Equal(t, float64(100), task.LastProgress())

	require.Len(t, remuxer.tags(), 1)
	assert.Equal(t, remux.Tags{
		Title:   "Real Title",
		Artist:  "Real Channel",
		Comment: "https://example.com/canonical",
	}, remuxer.tags()[0])
}

func TestExecute_ProbeFailureDegradesToPlaceholders(t *testing.T) {
	downloader, remuxer, inspector, scratchDir := defaultFakes(t)
	downloader.probeErr = errExpected

	eventBus := event.New()
	degraded := make(event.HandlerChannel, 4)
	eventBus.RegisterHandlerChannel(degraded, event.ProbeDegraded)

	srv := startService(t, eventBus, downloader, remuxer, inspector, scratchDir)

	task, err := srv.Execute(context.Background(), extract.Request{
		URL:    "https://example.com/watch?v=abc",
		Format: ytdl.MP3,
	})
	require.Nil(t, err, "a probe failure must not abort the extraction")

	assert.Equal(t, extract.COMPLETE, task.Status())
	assert.True(t, task.Metadata().Degraded)

	require.Len(t, remuxer.tags(), 1)
	assert.Equal(t, remux.Tags{
		Title:   ytdl.PlaceholderTitle,
		Artist:  ytdl.PlaceholderChannel,
		Comment: "https://example.com/watch?v=abc",
	}, remuxer.tags()[0])

	message := <-degraded
	assert.Equal(t, event.ProbeDegraded, message.Event)
	assert.Equal(t, task.ID(), message.Payload)
}

func TestExecute_DownloadFailure(t *testing.T) {
	downloader, remuxer, inspector, scratchDir := defaultFakes(t)
	downloader.downloadErr = errExpected

	srv := startService(t, event.New(), downloader, remuxer, inspector, scratchDir)

	_, err := srv.Execute(context.Background(), extract.Request{
		URL:    "https://example.com/watch?v=abc",
		Format: ytdl.MP3,
	})
	require.NotNil(t, err)
	assert.Contains(t, err.Error(), errExpected.Error())
	assert.Empty(t, remuxer.tags(), "remux must not run after a failed download")
	assert.Empty(t, srv.AllTasks(), "failed task should have been released")
}

func TestExecute_RemuxFailureIsFatal(t *testing.T) {
	downloader, remuxer, inspector, scratchDir := defaultFakes(t)
	remuxer.err = errExpected

	srv := startService(t, event.New(), downloader, remuxer, inspector, scratchDir)

	_, err := srv.Execute(context.Background(), extract.Request{
		URL:    "https://example.com/watch?v=abc",
		Format: ytdl.MP3,
	})
	require.NotNil(t, err, "a remux failure fails the extraction even though the download succeeded")
	assert.Contains(t, err.Error(), errExpected.Error())
}

func TestExecute_InspectionFailureIsFatal(t *testing.T) {
	downloader, remuxer, inspector, scratchDir := defaultFakes(t)
	inspector.err = errExpected

	srv := startService(t, event.New(), downloader, remuxer, inspector, scratchDir)

	_, err := srv.Execute(context.Background(), extract.Request{
		URL:    "https://example.com/watch?v=abc",
		Format: ytdl.MP3,
	})
	require.NotNil(t, err)
	assert.Empty(t, remuxer.tags())
}

func TestReleaseTask(t *testing.T) {
	downloader, remuxer, inspector, scratchDir := defaultFakes(t)
	srv := startService(t, event.New(), downloader, remuxer, inspector, scratchDir)

	task, err := srv.Execute(context.Background(), extract.Request{
		URL:    "https://example.com/watch?v=abc",
		Format: ytdl.MP3,
	})
	require.Nil(t, err)
	require.NotNil(t, srv.Task(task.ID()))

	srv.ReleaseTask(task.ID())

	assert.Nil(t, srv.Task(task.ID()))
	assert.Contains(t, scratchDir.released, task.ID())
	_, statErr := os.Stat(task.OutputPath())
	assert.True(t, os.IsNotExist(statErr), "released artifact should be deleted")
}
