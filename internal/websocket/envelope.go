package websocket

import (
	"fmt"
	"strings"
	"time"

	json "github.com/goccy/go-json"
)

// EventType tags every envelope pushed to a client.
type EventType string

const (
	EventConnected             EventType = "connected"
	EventPong                  EventType = "pong"
	EventNewCatch              EventType = "new_catch"
	EventNewLike               EventType = "new_like"
	EventNewComment            EventType = "new_comment"
	EventNewMessage            EventType = "new_message"
	EventTyping                EventType = "typing"
	EventPresence              EventType = "presence"
	EventFriendRequest         EventType = "friend_request"
	EventFriendRequestAccepted EventType = "friend_request_accepted"
	EventError                 EventType = "error"
)

func (e EventType) String() string {
	return string(e)
}

func (e EventType) IsValid() bool {
	switch e {
	case EventConnected, EventPong, EventNewCatch, EventNewLike, EventNewComment,
		EventNewMessage, EventTyping, EventPresence, EventFriendRequest,
		EventFriendRequestAccepted, EventError:
		return true
	default:
		return false
	}
}

// Envelope is the unit pushed over a connection. Build it with NewEnvelope and
// treat it as a value; it is never persisted.
type Envelope struct {
	Event     EventType `json:"event"`
	Data      any       `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

func NewEnvelope(event EventType, data any) Envelope {
	return newEnvelopeAt(event, data, time.Now())
}

func newEnvelopeAt(event EventType, data any, at time.Time) Envelope {
	if data == nil {
		data = struct{}{}
	}
	return Envelope{Event: event, Data: data, Timestamp: at.UTC()}
}

// EncodeEnvelope renders env in the wire shape {event, data, timestamp}.
func EncodeEnvelope(env Envelope) ([]byte, error) {
	if !env.Event.IsValid() {
		return nil, fmt.Errorf("encode envelope: unknown event %q", env.Event)
	}
	b, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encode envelope %s: %w", env.Event, err)
	}
	return b, nil
}

// Client message types carried in data.type.
const (
	ClientTypePing   = "ping"
	ClientTypeTyping = "typing"
)

// ClientFrame is a decoded client-to-server frame.
type ClientFrame struct {
	Type           string
	ConversationID string
	UserName       string
	ParticipantIDs []string
}

type clientPayload struct {
	Type           string   `json:"type"`
	ConversationID string   `json:"conversationId"`
	UserName       string   `json:"userName"`
	ParticipantIDs []string `json:"participantIds"`
}

type clientWire struct {
	Event          string         `json:"event"`
	Type           string         `json:"type"`
	ConversationID string         `json:"conversationId"`
	UserName       string         `json:"userName"`
	ParticipantIDs []string       `json:"participantIds"`
	Data           *clientPayload `json:"data"`
}

// DecodeClientFrame accepts the envelope shape {event, data: {type, ...}}, the
// mobile shape {type, data: {...}} and, for older builds, the flat shape {type, ...}.
func DecodeClientFrame(raw []byte) (ClientFrame, error) {
	var wire clientWire
	if err := json.Unmarshal(raw, &wire); err != nil {
		return ClientFrame{}, fmt.Errorf("%w: %v", ErrInvalidFrame, err)
	}

	payload := clientPayload{
		Type:           wire.Type,
		ConversationID: wire.ConversationID,
		UserName:       wire.UserName,
		ParticipantIDs: wire.ParticipantIDs,
	}
	if wire.Data != nil {
		payload = *wire.Data
		if payload.Type == "" {
			payload.Type = wire.Type
		}
	}
	if payload.Type == "" {
		payload.Type = wire.Event
	}
	payload.Type = strings.TrimSpace(payload.Type)
	if payload.Type == "" {
		return ClientFrame{}, fmt.Errorf("%w: missing type", ErrInvalidFrame)
	}

	return ClientFrame(payload), nil
}

// typingRequest validates a typing frame and returns its participants without blanks.
func (f ClientFrame) typingRequest() (ClientFrame, error) {
	if strings.TrimSpace(f.ConversationID) == "" {
		return f, fmt.Errorf("%w: conversationId", ErrMissingField)
	}
	if strings.TrimSpace(f.UserName) == "" {
		return f, fmt.Errorf("%w: userName", ErrMissingField)
	}
	ids := make([]string, 0, len(f.ParticipantIDs))
	for _, id := range f.ParticipantIDs {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return f, fmt.Errorf("%w: participantIds", ErrMissingField)
	}
	f.ParticipantIDs = ids
	return f, nil
}

// Payloads

type Actor struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Avatar string `json:"avatar,omitempty"`
}

type ConnectedData struct {
	UserID       string `json:"userId"`
	ConnectionID string `json:"connectionId"`
	Message      string `json:"message"`
}

type ErrorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type PongData struct {
	Timestamp time.Time `json:"timestamp"`
}

type TypingData struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
	UserName       string `json:"userName"`
}

type PresenceData struct {
	UserID    string    `json:"userId"`
	IsOnline  bool      `json:"isOnline"`
	Timestamp time.Time `json:"timestamp"`
}

// CatchSummary is what followers need to render a feed card.
type CatchSummary struct {
	CatchID  string `json:"catchId"`
	AuthorID string `json:"authorId"`
	Species  string `json:"species,omitempty"`
	PhotoURL string `json:"photoUrl,omitempty"`
}

type LikeData struct {
	CatchID string `json:"catchId"`
	Liker   Actor  `json:"liker"`
}

type CommentData struct {
	CatchID   string `json:"catchId"`
	Commenter Actor  `json:"commenter"`
	Comment   string `json:"comment"`
}

type MessageSummary struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	SenderID  string    `json:"senderId"`
	CreatedAt time.Time `json:"createdAt"`
}

type MessageData struct {
	ConversationID string         `json:"conversationId"`
	Message        MessageSummary `json:"message"`
}

type FriendRequestData struct {
	Requester Actor `json:"requester"`
}

type FriendAcceptedData struct {
	Friend Actor `json:"friend"`
}
