package api

import (
	"errors"

	"github.com/adamroke/ytmp3ify/internal/event"
	"github.com/adamroke/ytmp3ify/internal/extract"
	"github.com/adamroke/ytmp3ify/internal/websocket"
	"github.com/google/uuid"
)

const (
	TitleTaskUpdate    = "TASK_UPDATE"
	TitleTaskProgress  = "TASK_PROGRESS_UPDATE"
	TitleTaskComplete  = "TASK_COMPLETE"
	TitleProbeDegraded = "TASK_PROBE_DEGRADED"
)

var errMissingTaskID = errors.New("message missing mandatory 'task_id' argument")

type (
	TaskUpdate struct {
		TaskID uuid.UUID               `json:"task_id"`
		Task   *extract.ExtractionTask `json:"task"`
	}

	// broadcaster forwards task lifecycle events from the event bus to
	// every connected websocket client.
	broadcaster struct {
		socketHub *websocket.SocketHub
		service   extractionService
	}
)

func newBroadcaster(socketHub *websocket.SocketHub, service extractionService) *broadcaster {
	return &broadcaster{socketHub, service}
}

// listenForActivity subscribes the broadcaster to the task lifecycle
// events. Handlers run asynchronously so a slow socket client cannot
// stall the extraction pipeline.
func (gateway *RestGateway) listenForActivity(eventBus event.EventHandler) {
	forward := func(title string) event.HandlerMethod {
		return func(ev event.Event, payload event.Payload) {
			if id, ok := payload.(uuid.UUID); ok {
				gateway.broadcastTask(title, id)
			} else {
				log.Errorf("failed to extract UUID from %s event (payload %#v)\n", ev, payload)
			}
		}
	}

	eventBus.RegisterAsyncHandlerFunction(event.ExtractionUpdate, forward(TitleTaskUpdate))
	eventBus.RegisterAsyncHandlerFunction(event.ExtractionProgress, forward(TitleTaskProgress))
	eventBus.RegisterAsyncHandlerFunction(event.ExtractionComplete, forward(TitleTaskComplete))
	eventBus.RegisterAsyncHandlerFunction(event.ProbeDegraded, forward(TitleProbeDegraded))
}

func (hub *broadcaster) broadcastTask(title string, id uuid.UUID) {
	update := TaskUpdate{TaskID: id, Task: hub.service.Task(id)}
	hub.socketHub.Send(&websocket.SocketMessage{
		Title: title,
		Body:  map[string]interface{}{"arguments": update},
		Type:  websocket.Update,
	})
}
