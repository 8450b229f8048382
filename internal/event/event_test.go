package event_test

import (
	"testing"
	"time"

	"github.com/adamroke/ytmp3ify/internal/event"
	"github.com/adamroke/ytmp3ify/pkg/logger"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func init() {
	logger.SetMinLoggingLevel(logger.VERBOSE.Level())
}

func TestDispatch_HandlerFunction(t *testing.T) {
	bus := event.New()
	id := uuid.New()

	var received []event.Payload
	bus.RegisterHandlerFunction(event.ExtractionUpdate, func(ev event.Event, payload event.Payload) {
		received = append(received, payload)
	})

	bus.Dispatch(event.ExtractionUpdate, id)
	assert.Equal(t, []event.Payload{id}, received)
}

func TestDispatch_HandlerChannel(t *testing.T) {
	bus := event.New()
	id := uuid.New()

	eventChannel := make(event.HandlerChannel, 4)
	bus.RegisterHandlerChannel(eventChannel, event.ExtractionComplete, event.ProbeDegraded)

	bus.Dispatch(event.ExtractionComplete, id)
	bus.Dispatch(event.ProbeDegraded, id)

	first := <-eventChannel
	assert.Equal(t, event.ExtractionComplete, first.Event)
	assert.Equal(t, id, first.Payload)

	second := <-eventChannel
	assert.Equal(t, event.ProbeDegraded, second.Event)
}

func TestDispatch_RejectsInvalidPayload(t *testing.T) {
	bus := event.New()

	eventChannel := make(event.HandlerChannel, 1)
	bus.RegisterHandlerChannel(eventChannel, event.ExtractionUpdate)

	bus.Dispatch(event.ExtractionUpdate, "not-a-uuid")

	select {
	case message := <-eventChannel:
		t.Fatalf("expected no delivery for invalid payload, received %#v", message)
	case <-time.After(50 * time.Millisecond):
	}
}
