// Package model defines the core data types shared across the ingestion
// pipeline, the detection engines, and the persistence layer.
package model

import "encoding/json"

// EventType tags the kind of activity an Event carries.
type EventType string

const (
	EventTypeMCP     EventType = "MCP"
	EventTypeFile    EventType = "File"
	EventTypeProcess EventType = "Process"
	EventTypeOther   EventType = "Other"
)

// Producer tags where an Event originated.
type Producer string

const (
	ProducerLocal   Producer = "local"
	ProducerRemote  Producer = "remote"
	ProducerUnknown Producer = "unknown"
)

// Task tags the direction of an MCP message.
const (
	TaskSend = "SEND"
	TaskRecv = "RECV"
)

// Event is an immutable (once dispatched) unit of observed traffic.
type Event struct {
	EventType EventType `json:"eventType"`
	Producer  Producer  `json:"producer"`
	Ts        int64     `json:"ts"`
	McpTag    string    `json:"mcpTag,omitempty"`
	Data      EventData `json:"data"`

	// RawEventID is assigned by the persistence layer after insert and
	// attached to the event before it reaches any engine.
	RawEventID string `json:"-"`
}

// EventData is the structured payload carried by an Event. For MCP events
// it wraps a JSON-RPC message. Extra is not filled by JSON decoding and is
// never marshaled, so File/Process payload fields other than task, message
// and mcpTag are not retained.
type EventData struct {
	Task    string      `json:"task,omitempty"`
	Message RPCMessage  `json:"message,omitempty"`
	McpTag  string      `json:"mcpTag,omitempty"`
	Extra   json.RawMessage `json:"-"`
}

// RPCMessage is a JSON-RPC 2.0 message as exchanged between an LLM host and
// an MCP tool server.
type RPCMessage struct {
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Tools  []ToolDescriptor `json:"tools,omitempty"`
}

// MessageParams is the decoded shape of RPCMessage.Params for tool calls.
type MessageParams struct {
	Name      string          `json:"name,omitempty"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// ToolDescriptor is the metadata a server advertises via tools/list.
// Unique key is (McpTag, Producer, ToolSlug).
type ToolDescriptor struct {
	McpTag      string          `json:"mcpTag"`
	Producer    Producer        `json:"producer"`
	ToolSlug    string          `json:"tool_slug"`
	Title       string          `json:"title,omitempty"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
	Annotations json.RawMessage `json:"annotations,omitempty"`
}

// Key returns the unique catalog key for this descriptor.
func (t ToolDescriptor) Key() string {
	return string(t.Producer) + "/" + t.McpTag + "/" + t.ToolSlug
}
