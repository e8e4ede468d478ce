// Package hub fans dashboard messages out to websocket clients. One
// goroutine owns the client set; slow clients are dropped, never waited on.
package hub

import "github.com/gofiber/websocket/v2"

// MessageType selects how a message is queued and framed.
type MessageType int

const (
	// JSONMessage is queued in order; a client that lets its queue fill up is
	// disconnected.
	JSONMessage MessageType = iota

	// BinaryMessage is a video frame (camera or mask JPEG). Each client keeps
	// only the newest one; an unsent frame is replaced, never queued.
	BinaryMessage
)

// Message is one broadcast payload.
type Message struct {
	Type MessageType
	Data []byte
}

// NewJSONMessage wraps pre-encoded JSON.
func NewJSONMessage(data []byte) Message {
	return Message{Type: JSONMessage, Data: data}
}

// NewBinaryMessage wraps an encoded frame.
func NewBinaryMessage(data []byte) Message {
	return Message{Type: BinaryMessage, Data: data}
}

func (m Message) frameType() int {
	if m.Type == BinaryMessage {
		return websocket.BinaryMessage
	}
	return websocket.TextMessage
}
