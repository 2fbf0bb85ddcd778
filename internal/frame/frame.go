package frame

import (
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/luciancaetano/wspush"
)

// FromPayload maps a payload to the frame the transport writes.
//
// Text payloads become websocket.TextMessage frames carrying the string's
// bytes unchanged; binary payloads become websocket.BinaryMessage frames
// carrying the same slice. The mapping is total.
func FromPayload(p wspush.Payload) wspush.Frame {
	if p.Kind() == wspush.KindText {
		return wspush.Frame{MessageType: websocket.TextMessage, Data: []byte(p.Text())}
	}
	return wspush.Frame{MessageType: websocket.BinaryMessage, Data: p.Bytes()}
}

// ToPayload maps an inbound data message to a payload.
// Control message types are rejected.
func ToPayload(messageType int, data []byte) (wspush.Payload, error) {
	switch messageType {
	case websocket.TextMessage:
		return wspush.Text(string(data)), nil
	case websocket.BinaryMessage:
		return wspush.Binary(data), nil
	default:
		return wspush.Payload{}, errors.Errorf("unsupported message type %d", messageType)
	}
}
