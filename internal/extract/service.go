package extract

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/adamroke/ytmp3ify/internal/event"
	"github.com/adamroke/ytmp3ify/internal/media"
	"github.com/adamroke/ytmp3ify/internal/remux"
	"github.com/adamroke/ytmp3ify/internal/ytdl"
	"github.com/adamroke/ytmp3ify/pkg/logger"
	"github.com/adamroke/ytmp3ify/pkg/worker"
	"github.com/google/uuid"
)

var (
	log = logger.Get("ExtractServ")

	ErrTaskNotFound = errors.New("no task found")
)

type (
	Downloader interface {
		Probe(ctx context.Context, url string, cookies ytdl.CookieSource) (ytdl.ProbeResult, error)
		Download(ctx context.Context, request ytdl.DownloadRequest) (string, error)
	}

	Remuxer interface {
		Remux(ctx context.Context, inputPath string, tags remux.Tags) (string, error)
	}

	Inspector interface {
		Inspect(path string) (*media.FileInfo, error)
	}

	ScratchProvider interface {
		TaskDir(taskID uuid.UUID) (string, error)
		Release(taskID uuid.UUID)
	}

	Config struct {
		// Parallelism is how many extractions may run concurrently;
		// further requests queue behind them.
		Parallelism int `yaml:"parallelism" env:"YTMP3IFY_EXTRACT_PARALLELISM" env-default:"2"`
	}

	// extractService owns the queue of extraction tasks and the worker
	// pool that drains it. It is responsible for:
	//   - Running the probe/download/remux pipeline for each task
	//   - Live-tracking and reporting of ongoing extractions over the event bus
	//   - Handing finished artifacts (and their cleanup) to the caller
	extractService struct {
		*sync.Mutex
		config *Config
		tasks  []*ExtractionTask

		downloader Downloader
		remuxer    Remuxer
		inspector  Inspector
		scratch    ScratchProvider

		eventBus event.EventCoordinator
		pool     *worker.WorkerPool
	}
)

// New creates a new extractService with all collaborators injected.
func New(config Config, eventBus event.EventCoordinator, downloader Downloader, remuxer Remuxer, inspector Inspector, scratch ScratchProvider) (*extractService, error) {
	if config.Parallelism < 1 {
		return nil, fmt.Errorf("extraction parallelism must be at least 1, got %d", config.Parallelism)
	}

	service := &extractService{
		Mutex:      &sync.Mutex{},
		config:     &config,
		tasks:      make([]*ExtractionTask, 0),
		downloader: downloader,
		remuxer:    remuxer,
		inspector:  inspector,
		scratch:    scratch,
		eventBus:   eventBus,
		pool:       worker.NewWorkerPool(),
	}

	for i := 0; i < config.Parallelism; i++ {
		label := fmt.Sprintf("extract-worker-%d", i)
		if err := service.pool.PushWorker(worker.NewWorker(label, service.performExtraction)); err != nil {
			return nil, err
		}
	}

	return service, nil
}

// Run starts the worker pool and blocks until the provided context is
// cancelled, at which point the pool is drained and closed.
func (service *extractService) Run(ctx context.Context) error {
	if err := service.pool.Start(); err != nil {
		return err
	}

	<-ctx.Done()
	log.Emit(logger.STOP, "Shutting down (context cancelled). Waiting for extraction workers to finish.\n")
	service.pool.Close()
	return nil
}

// Execute enqueues a new extraction task and blocks until it finishes
// or the provided context is cancelled. On success the returned task
// holds the path of the produced file; ownership of that file (and the
// obligation to ReleaseTask) transfers to the caller.
func (service *extractService) Execute(ctx context.Context, request Request) (*ExtractionTask, error) {
	task := newTask(ctx, request)

	service.Lock()
	service.tasks = append(service.tasks, task)
	service.Unlock()

	service.eventBus.Dispatch(event.ExtractionUpdate, task.ID())
	if err := service.pool.WakeupWorkers(); err != nil {
		service.ReleaseTask(task.ID())
		return nil, err
	}

	select {
	case <-task.done:
	case <-ctx.Done():
		task.cancel()
		<-task.done
	}

	switch task.Status() {
	case COMPLETE:
		return task, nil
	case CANCELLED:
		service.ReleaseTask(task.ID())
		return nil, ctx.Err()
	default:
		message := task.ErrorMessage()
		service.ReleaseTask(task.ID())
		if message == "" {
			message = "extraction failed"
		}
		return nil, errors.New(message)
	}
}

// AllTasks returns the slice of extraction task pointers known to the service.
func (service *extractService) AllTasks() []*ExtractionTask {
	service.Lock()
	defer service.Unlock()

	tasks := make([]*ExtractionTask, len(service.tasks))
	copy(tasks, service.tasks)
	return tasks
}

// Task returns the task with a matching ID if it can be found,
// otherwise nil.
func (service *extractService) Task(id uuid.UUID) *ExtractionTask {
	service.Lock()
	defer service.Unlock()
	return service.task(id)
}

func (service *extractService) task(id uuid.UUID) *ExtractionTask {
	for _, t := range service.tasks {
		if t.ID() == id {
			return t
		}
	}

	return nil
}

// CancelTask cancels the task with the given ID, interrupting any
// subprocess currently running on its behalf.
func (service *extractService) CancelTask(id uuid.UUID) error {
	task := service.Task(id)
	if task == nil {
		return ErrTaskNotFound
	}

	task.cancel()
	log.Emit(logger.STOP, "Cancelled %s\n", task)
	return nil
}

// ReleaseTask removes the task from the service and deletes its
// scratch directory, including the produced file. Callers invoke this
// once the artifact has been fully consumed (or the task abandoned).
func (service *extractService) ReleaseTask(id uuid.UUID) {
	service.Lock()
	defer service.Unlock()

	for i, t := range service.tasks {
		if t.ID() == id {
			service.tasks = append(service.tasks[:i], service.tasks[i+1:]...)
			break
		}
	}

	service.scratch.Release(id)
}

// performExtraction is the worker task: claim the oldest WAITING task
// and run the pipeline against it. Reports whether a task was claimed
// so idle workers go back to sleep.
func (service *extractService) performExtraction(w worker.Worker) (bool, error) {
	task := service.claimWaitingTask()
	if task == nil {
		return false, nil
	}

	log.Debugf("Worker %s claimed %s\n", w.Label(), task)
	service.runPipeline(task)
	return true, nil
}

func (service *extractService) claimWaitingTask() *ExtractionTask {
	service.Lock()
	defer service.Unlock()

	for _, t := range service.tasks {
		if t.status == WAITING {
			t.status = WORKING
			return t
		}
	}

	return nil
}

// runPipeline executes probe, download, inspect and remux for the
// task, in that order. A probe failure degrades to placeholder
// metadata; every later failure is fatal to the task.
func (service *extractService) runPipeline(task *ExtractionTask) {
	defer close(task.done)
	service.eventBus.Dispatch(event.ExtractionUpdate, task.ID())

	metadata, err := service.downloader.Probe(task.ctx, task.request.URL, task.request.Cookies)
	if err != nil {
		if task.ctx.Err() != nil {
			service.concludeTask(task, CANCELLED, "")
			return
		}

		log.Warnf("Probe for %s failed (%v), continuing with placeholder metadata\n", task, err)
		metadata = ytdl.PlaceholderResult(task.request.URL)
		service.eventBus.Dispatch(event.ProbeDegraded, task.ID())
	}
	task.metadata = metadata

	workingDir, err := service.scratch.TaskDir(task.ID())
	if err != nil {
		service.concludeTask(task, FAILED, ytdl.FlattenErrorText(err))
		return
	}

	outputPath, err := service.downloader.Download(task.ctx, ytdl.DownloadRequest{
		URL:              task.request.URL,
		Format:           task.request.Format,
		Cookies:          task.request.Cookies,
		WorkingDirectory: workingDir,
		OnProgress: func(percent float64) {
			task.lastProgress = percent
			service.eventBus.Dispatch(event.ExtractionProgress, task.ID())
		},
	})
	if err != nil {
		if task.ctx.Err() != nil {
			service.concludeTask(task, CANCELLED, "")
		} else {
			service.concludeTask(task, FAILED, ytdl.FlattenErrorText(err))
		}
		return
	}

	if info, err := service.inspector.Inspect(outputPath); err != nil {
		service.concludeTask(task, FAILED, ytdl.FlattenErrorText(err))
		return
	} else if !info.AudioOnly {
		log.Warnf("Produced file %s reports video stream dimensions, continuing anyway\n", outputPath)
	}

	// A remux failure fails the whole task even though the download
	// succeeded; emitting a file with unmanaged metadata is not
	// acceptable output.
	finalPath, err := service.remuxer.Remux(task.ctx, outputPath, remux.Tags{
		Title:   metadata.Title,
		Artist:  metadata.Channel,
		Comment: metadata.CanonicalURL,
	})
	if err != nil {
		if task.ctx.Err() != nil {
			service.concludeTask(task, CANCELLED, "")
		} else {
			service.concludeTask(task, FAILED, ytdl.FlattenErrorText(err))
		}
		return
	}

	task.outputPath = finalPath
	service.concludeTask(task, COMPLETE, "")
}

func (service *extractService) concludeTask(task *ExtractionTask, status TaskStatus, errMessage string) {
	task.status = status
	task.errMessage = errMessage
	task.cancel()

	if status == COMPLETE {
		log.Emit(logger.SUCCESS, "Completed %s\n", task)
		service.eventBus.Dispatch(event.ExtractionComplete, task.ID())
	} else {
		log.Emit(logger.STOP, "Concluded %s with error=%q\n", task, errMessage)
		service.eventBus.Dispatch(event.ExtractionUpdate, task.ID())
	}
}
