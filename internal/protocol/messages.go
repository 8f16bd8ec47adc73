// Package protocol defines the websocket payloads of the job event stream.
package protocol

// MessageType identifies websocket payload variants.
type MessageType string

const (
	TypeJobEvent   MessageType = "job_event"
	TypeErrorEvent MessageType = "error_event"
)

type JobEvent struct {
	Type    MessageType `json:"type"`
	JobID   string      `json:"job_id"`
	Status  string      `json:"status"`
	Message string      `json:"message,omitempty"`
	TSMs    int64       `json:"ts_ms"`
}

type ErrorEvent struct {
	Type   MessageType `json:"type"`
	Code   string      `json:"code"`
	Detail string      `json:"detail"`
}
