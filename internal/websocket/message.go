package websocket

import "github.com/google/uuid"

type messageType int

const (
	Update messageType = iota
	Command
	Response
	ErrorResponse
	Welcome
)

// SocketMessage is the JSON frame exchanged with connected clients.
// Id allows a reply to be correlated with the command it answers;
// Origin/Target identify the sending/receiving client and never leave
// the server.
type SocketMessage struct {
	Title  string                 `json:"title"`
	Body   map[string]interface{} `json:"arguments"`
	Id     int                    `json:"id"`
	Type   messageType            `json:"type"`
	Origin *uuid.UUID             `json:"-"`
	Target *uuid.UUID             `json:"-"`
}

// FormReply returns a NEW message targeted back at the origin of this
// message, carrying the same correlation ID with a new title, body and
// type.
func (message *SocketMessage) FormReply(replyTitle string, replyBody map[string]interface{}, replyType messageType) *SocketMessage {
	if replyBody != nil {
		replyBody["command"] = message.Body
	}

	return &SocketMessage{
		Title:  replyTitle,
		Body:   replyBody,
		Type:   replyType,
		Id:     message.Id,
		Target: message.Origin,
	}
}
