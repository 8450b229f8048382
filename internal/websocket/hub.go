// Package websocket hosts the activity feed: a hub of connected
// clients which receive broadcasts whenever an extraction task changes
// state, plus a small command surface for querying the server.
package websocket

import (
	"context"
	"net/http"

	"github.com/adamroke/ytmp3ify/pkg/logger"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

var log = logger.Get("WebSocket")

type SocketHandler func(*SocketHub, *SocketMessage) error

// SocketHub manages websocket upgrading, client registration, and the
// pushing and receiving of messages.
type SocketHub struct {
	handlers           map[string]SocketHandler
	upgrader           *websocket.Upgrader
	clients            []*socketClient
	registerCh         chan *socketClient
	deregisterCh       chan *socketClient
	sendCh             chan *SocketMessage
	receiveCh          chan *SocketMessage
	connectionCallback func() map[string]interface{}
	running            bool
}

func NewHub() *SocketHub {
	return &SocketHub{
		handlers: make(map[string]SocketHandler),
		upgrader: &websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		running: false,
	}
}

// WithConnectionCallback sets a callback executed each time a new
// client connects, furnishing it with the servers current state
// without it having to wait for the next broadcast.
func (hub *SocketHub) WithConnectionCallback(callback func() map[string]interface{}) {
	hub.connectionCallback = callback
}

// BindCommand attaches a handler to a client-sent command title.
func (hub *SocketHub) BindCommand(command string, handler SocketHandler) *SocketHub {
	hub.handlers[command] = handler
	return hub
}

// Start runs the hub event loop, listening on all related channels for
// incoming clients and messages. Blocks until the context is
// cancelled.
func (hub *SocketHub) Start(ctx context.Context) {
	if hub.running {
		log.Warnf("Attempting to start socket hub when already running! Ignoring request.\n")
		return
	} else if ctx.Err() != nil {
		log.Emit(logger.STOP, "Refusing to start socket hub as provided context is already cancelled\n")
		return
	}

	hub.sendCh = make(chan *SocketMessage)
	hub.receiveCh = make(chan *SocketMessage)
	hub.registerCh = make(chan *socketClient)
	hub.deregisterCh = make(chan *socketClient)
	hub.clients = make([]*socketClient, 0)
	hub.running = true

	defer hub.close()
	for {
		select {
		case message := <-hub.sendCh:
			if message.Target != nil {
				if _, client := hub.findClient(message.Target); client != nil {
					if err := client.SendMessage(message); err != nil {
						log.Errorf("Failed to send message to target {%v}: %v\n", message.Target, err)
					}
				} else {
					log.Warnf("Attempted to send message to target {%v}, but no matching client was found.\n", message.Target)
				}

				break
			}

			hub.broadcastMessage(message)
		case message := <-hub.receiveCh:
			go hub.handleMessage(message)
		case client := <-hub.registerCh:
			if idx, _ := hub.findClient(client.id); idx > -1 {
				log.Errorf("Attempted to register client that is already registered (duplicate uuid)! Illegal!\n")
				client.Close()

				break
			}

			hub.clients = append(hub.clients, client)
			log.Emit(logger.NEW, "Registered new client {%v}\n", client.id)
		case client := <-hub.deregisterCh:
			if idx, _ := hub.findClient(client.id); idx != -1 {
				hub.clients = append(hub.clients[:idx], hub.clients[idx+1:]...)
				log.Emit(logger.REMOVE, "Deregistered client {%v}\n", client.id)

				break
			}

			log.Warnf("Attempted to deregister unknown client {%v}\n", client.id)
		case <-ctx.Done():
			log.Emit(logger.REMOVE, "Shutting down socket hub! Closing all clients.\n")
			return
		}
	}
}

// Send emits the message on the hubs send channel; a message with a
// Target is only delivered to the client with a matching ID. Ignored
// if the hub is not running.
func (hub *SocketHub) Send(message *SocketMessage) {
	if !hub.running {
		log.Warnf("Attempted to send message via socket hub, however the hub is offline. Ignoring message.\n")
		return
	}

	hub.sendCh <- message
}

// UpgradeToSocket upgrades the HTTP request to a websocket, registers
// the new client, and runs its read loop until disconnection.
func (hub *SocketHub) UpgradeToSocket(w http.ResponseWriter, r *http.Request) {
	if !hub.running {
		log.Errorf("Failed to upgrade incoming HTTP request to a websocket: hub has not been started!\n")
		return
	}

	// Generate the UUID before upgrading; failing afterwards would
	// leave a connected socket we can't address.
	id, err := uuid.NewRandom()
	if err != nil {
		log.Errorf("Failed to generate UUID for new connection - aborting!\n")
		return
	}

	sock, err := hub.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Errorf("Failed to upgrade incoming HTTP request to a websocket: %v\n", err)
		return
	}

	client := &socketClient{
		id:     &id,
		socket: sock,
	}

	hub.registerCh <- client

	body := map[string]interface{}{}
	if hub.connectionCallback != nil {
		body = hub.connectionCallback()
	}
	body["client"] = id

	hub.Send(&SocketMessage{
		Title:  "CONNECTION_ESTABLISHED",
		Body:   body,
		Target: &id,
		Type:   Welcome,
	})

	defer func() {
		hub.deregisterCh <- client
		client.Close()
	}()

	if err := client.Read(hub.receiveCh); err != nil {
		log.Warnf("Client {%v} closed, error: %v\n", client.id, err)
	}
}

func (hub *SocketHub) close() {
	if !hub.running {
		return
	}

	for _, client := range hub.clients {
		client.Close()
	}

	hub.clients = nil
	hub.running = false
	log.Emit(logger.STOP, "Socket hub is now closed!\n")
}

// handleMessage forwards a received command to its bound handler. Any
// handler error (or an unknown command) is reported back to the
// originating client.
func (hub *SocketHub) handleMessage(command *SocketMessage) {
	if command.Type != Command {
		log.Warnf("Received a message from client {%v} of type {%v} - only commands can be sent to the server!\n", command.Origin, command.Type)
		return
	}

	replyWithError := func(err string) {
		hub.Send(&SocketMessage{
			Title:  "COMMAND_FAILURE",
			Id:     command.Id,
			Target: command.Origin,
			Body:   map[string]interface{}{"command": command, "error": err},
			Type:   ErrorResponse,
		})
	}

	if handler, ok := hub.handlers[command.Title]; ok {
		if err := handler(hub, command); err != nil {
			log.Errorf("Handler for command '%v' returned error - %v\n", command.Title, err)
			replyWithError(err.Error())
		}

		return
	}

	replyWithError("Unknown command")
	log.Warnf("No handler found for command '%v'\n", command.Title)
}

// findClient returns the client with the matching uuid along with its
// index in the client list, or (-1, nil).
func (hub *SocketHub) findClient(id *uuid.UUID) (int, *socketClient) {
	for idx, client := range hub.clients {
		if client.id == id {
			return idx, client
		}
	}

	return -1, nil
}

func (hub *SocketHub) broadcastMessage(message *SocketMessage) {
	for _, client := range hub.clients {
		if err := client.SendMessage(message); err != nil {
			log.Errorf("Failed to broadcast to client {%v}: %v\n", client.id, err)
		}
	}
}
