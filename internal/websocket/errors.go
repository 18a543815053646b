package websocket

import "errors"

var (
	ErrConnectionClosed   = errors.New("websocket: connection closed")
	ErrSendBufferFull     = errors.New("websocket: send buffer full")
	ErrInvalidFrame       = errors.New("websocket: invalid frame")
	ErrUnknownMessageType = errors.New("websocket: unknown message type")
	ErrMissingField       = errors.New("websocket: missing field")
)

var (
	ErrUnauthorized = errors.New("websocket: unauthorized")
	ErrHubClosed    = errors.New("websocket: hub closed")
)
