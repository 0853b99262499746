package model

import "encoding/json"

// MessageType is the tag of a relay envelope.
type MessageType string

// Client-originated message types.
const (
	TypeJoinSession  MessageType = "join-session"
	TypeLeaveSession MessageType = "leave-session"
	TypeOffer        MessageType = "offer"
	TypeAnswer       MessageType = "answer"
	TypeICECandidate MessageType = "ice-candidate"
	TypeChat         MessageType = "chat"
	TypeHeartbeat    MessageType = "heartbeat"
	TypeStartStream  MessageType = "start-stream"
	TypeEndStream    MessageType = "end-stream"
)

// Server-originated message types. Offer, answer, ice-candidate, chat and
// heartbeat are also sent by the server.
const (
	TypeError         MessageType = "error"
	TypeUserJoined    MessageType = "user-joined"
	TypeUserLeft      MessageType = "user-left"
	TypeRequestOffer  MessageType = "request-offer"
	TypeStreamStarted MessageType = "stream-started"
	TypeStreamEnded   MessageType = "stream-ended"
	TypeStreamError   MessageType = "stream-error"
)

// Envelope is an inbound message. Payload stays raw until the type is known.
type Envelope struct {
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Message is an outbound message.
type Message struct {
	Type    MessageType `json:"type"`
	Payload any         `json:"payload,omitempty"`
}

// ErrorMessage builds an error envelope with a string payload.
func ErrorMessage(text string) Message {
	return Message{Type: TypeError, Payload: text}
}

type JoinSessionPayload struct {
	UserID    ID `json:"userId"`
	SessionID ID `json:"sessionId"`
}

type ChatPayload struct {
	Message string `json:"message"`
}

type StartStreamPayload struct {
	StreamURL string `json:"streamUrl"`
}

// UserEvent is the payload of user-joined, user-left and request-offer.
type UserEvent struct {
	UserID ID `json:"userId"`
}

// ChatEvent is a chat message as delivered to the other members.
type ChatEvent struct {
	ID        string `json:"id"`
	UserID    ID     `json:"userId"`
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"`
}

// StreamEvent is the payload of stream-started and stream-ended.
// Timestamp is unix milliseconds.
type StreamEvent struct {
	SessionID ID    `json:"sessionId"`
	Timestamp int64 `json:"timestamp"`
}

// StreamErrorEvent tells viewers that the stream did not start or stopped.
type StreamErrorEvent struct {
	SessionID ID     `json:"sessionId"`
	Timestamp int64  `json:"timestamp"`
	Tier      string `json:"tier,omitempty"`
	Message   string `json:"message"`
}

type HeartbeatEvent struct {
	Timestamp int64 `json:"timestamp"`
}
