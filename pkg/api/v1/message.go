// Package v1 defines the wire types Mission Control shares with its
// collaborators: the message envelope, the message-type vocabulary,
// mission projections, and telemetry statistics.
package v1

import (
	"encoding/json"
	"time"
)

// MessageType identifies a message on the wire.
type MessageType string

// Recognized inbound command types.
const (
	MessageTypeCreateMission     MessageType = "CREATE_MISSION"
	MessageTypePause             MessageType = "PAUSE"
	MessageTypeResume            MessageType = "RESUME"
	MessageTypeAbort             MessageType = "ABORT"
	MessageTypeSave              MessageType = "SAVE"
	MessageTypeLoad              MessageType = "LOAD"
	MessageTypeListMissions      MessageType = "LIST_MISSIONS"
	MessageTypeUserMessage       MessageType = "USER_MESSAGE"
	MessageTypeUserInputRequest  MessageType = "USER_INPUT_REQUEST"
	MessageTypeUserInputResponse MessageType = "USER_INPUT_RESPONSE"
)

// Outbound message types.
const (
	MessageTypeStatusUpdate MessageType = "STATUS_UPDATE"
	MessageTypeStatistics   MessageType = "STATISTICS"
	MessageTypeResponse     MessageType = "RESPONSE"
	MessageTypeError        MessageType = "ERROR"
)

// Message is the common envelope carried by both the HTTP ingress and the
// broker queue. Content is left raw; each handler decodes the shape it
// expects.
type Message struct {
	Type          MessageType     `json:"type"`
	Sender        string          `json:"sender"`
	Recipient     string          `json:"recipient,omitempty"`
	Content       json.RawMessage `json:"content,omitempty"`
	ClientID      string          `json:"clientId,omitempty"`
	UserID        string          `json:"userId,omitempty"`
	MissionID     string          `json:"missionId,omitempty"`
	CorrelationID string          `json:"correlationId,omitempty"`
	ReplyTo       string          `json:"replyTo,omitempty"`
	Timestamp     time.Time       `json:"timestamp,omitempty"`
}

// NewMessage builds an envelope with the content marshalled in place.
// The structs we send marshal without error, so a failure degrades to an
// empty content rather than propagating.
func NewMessage(t MessageType, sender, recipient string, content any) *Message {
	raw, _ := json.Marshal(content)
	return &Message{
		Type:      t,
		Sender:    sender,
		Recipient: recipient,
		Content:   raw,
		Timestamp: time.Now().UTC(),
	}
}

// DecodeContent unmarshals the envelope content into out.
func (m *Message) DecodeContent(out any) error {
	if len(m.Content) == 0 {
		return nil
	}
	return json.Unmarshal(m.Content, out)
}

// StatusUpdateContent is the payload of a STATUS_UPDATE message. It carries
// enough of the mission for clients to render without a second fetch.
type StatusUpdateContent struct {
	ID        string        `json:"id"`
	Name      string        `json:"name"`
	Status    MissionStatus `json:"status"`
	Goal      string        `json:"goal"`
	Message   string        `json:"message,omitempty"`
	CreatedAt time.Time     `json:"createdAt"`
	UpdatedAt time.Time     `json:"updatedAt"`
}

// UserMessageContent is the payload distributed to agents on USER_MESSAGE.
type UserMessageContent struct {
	MissionID string `json:"missionId"`
	Message   string `json:"message"`
}

// UserInputRequestContent registers a pending human-input request for a
// suspended step.
type UserInputRequestContent struct {
	RequestID string `json:"requestId"`
	MissionID string `json:"missionId"`
	StepID    string `json:"stepId"`
	AgentID   string `json:"agentId"`
	Question  string `json:"question,omitempty"`
}

// UserInputResponseContent routes a human answer back to the step that
// asked for it.
type UserInputResponseContent struct {
	RequestID string          `json:"requestId,omitempty"`
	MissionID string          `json:"missionId"`
	StepID    string          `json:"stepId"`
	AgentID   string          `json:"agentId"`
	Response  json.RawMessage `json:"response"`
}
