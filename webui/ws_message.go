package webui

import (
	"time"

	"sdqueue/jobs"
)

// Message types sent over /ws.
const (
	// MessageTypeInitial carries the job listing and health on connect.
	MessageTypeInitial = "initial"

	// MessageTypeJobUpdate carries one queue transition.
	MessageTypeJobUpdate = "job_update"
)

// WSMessage is the envelope for every websocket message.
type WSMessage struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data,omitempty"`
}

// NewWSMessage creates a message stamped with the current time.
func NewWSMessage(msgType string, data any) WSMessage {
	return WSMessage{
		Type:      msgType,
		Timestamp: time.Now(),
		Data:      data,
	}
}

// JobUpdateData is one queue transition.
type JobUpdateData struct {
	Event string   `json:"event"`
	Job   jobs.Job `json:"job"`
}

// InitialData is the state a client starts from.
type InitialData struct {
	Health jobs.Health `json:"health"`
	Jobs   jobs.List   `json:"jobs"`
}

// NewJobUpdateMessage wraps a queue event.
func NewJobUpdateMessage(e jobs.Event) WSMessage {
	return NewWSMessage(MessageTypeJobUpdate, JobUpdateData{Event: string(e.Type), Job: e.Job})
}

// NewInitialMessage creates the initial state snapshot message.
func NewInitialMessage(data InitialData) WSMessage {
	return NewWSMessage(MessageTypeInitial, data)
}
