package extract

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/adamroke/ytmp3ify/internal/ytdl"
	"github.com/google/uuid"
)

type TaskStatus int

const (
	WAITING TaskStatus = iota
	WORKING
	COMPLETE
	FAILED
	CANCELLED
)

func (s TaskStatus) String() string {
	return []string{"WAITING", "WORKING", "COMPLETE", "FAILED", "CANCELLED"}[s]
}

func (s TaskStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// Request describes one extraction as received from a client.
type Request struct {
	URL     string
	Format  ytdl.AudioFormat
	Cookies ytdl.CookieSource
}

// ExtractionTask tracks one extraction through the pipeline. The task
// context is derived from the originating request, so a client
// disconnect cancels any subprocess running on the task's behalf.
type ExtractionTask struct {
	id           uuid.UUID
	request      Request
	status       TaskStatus
	metadata     ytdl.ProbeResult
	outputPath   string
	lastProgress float64
	errMessage   string

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func newTask(ctx context.Context, request Request) *ExtractionTask {
	taskCtx, cancel := context.WithCancel(ctx)
	return &ExtractionTask{
		id:      uuid.New(),
		request: request,
		status:  WAITING,
		ctx:     taskCtx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
}

func (task *ExtractionTask) ID() uuid.UUID { return task.id }

func (task *ExtractionTask) Request() Request { return task.request }

func (task *ExtractionTask) Status() TaskStatus { return task.status }

func (task *ExtractionTask) Metadata() ytdl.ProbeResult { return task.metadata }

func (task *ExtractionTask) OutputPath() string { return task.outputPath }

func (task *ExtractionTask) LastProgress() float64 { return task.lastProgress }

// ErrorMessage returns the flattened failure detail for a FAILED task,
// or the empty string.
func (task *ExtractionTask) ErrorMessage() string { return task.errMessage }

func (task *ExtractionTask) String() string {
	return fmt.Sprintf("{%v URL=%s Format=%s Status=%s}", task.id, task.request.URL, task.request.Format, task.status)
}

func (task *ExtractionTask) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		ID       uuid.UUID        `json:"id"`
		URL      string           `json:"url"`
		Format   string           `json:"format"`
		Status   TaskStatus       `json:"status"`
		Metadata ytdl.ProbeResult `json:"metadata"`
		Progress float64          `json:"progress"`
		Error    string           `json:"error,omitempty"`
	}{
		task.id,
		task.request.URL,
		task.request.Format.String(),
		task.status,
		task.metadata,
		task.lastProgress,
		task.errMessage,
	})
}
