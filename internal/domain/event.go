package domain

import "encoding/json"

// 部署 SSE 通道上的事件类型。
const (
	EventTitle    = "title"
	EventMessage  = "message"
	EventStep     = "step"
	EventPhase    = "phase"
	EventPing     = "ping"
	EventEOF      = "EOF"
	EventInternal = "internal"
)

// StreamEvent 是部署事件通道上的单条事件。
type StreamEvent struct {
	ID    int64  `json:"id"`
	Event string `json:"event"`
	Data  string `json:"data"`
}

// MessageData 是 message 事件的载荷。
type MessageData struct {
	Line   string `json:"line"`
	Stream string `json:"stream"` // STDOUT / STDERR
}

// InternalData 是 internal 事件的载荷，由 pipeline 消费以推进步骤/阶段状态。
type InternalData struct {
	Name      string `json:"name"`
	Type      string `json:"type"`   // step / phase
	Status    string `json:"status"` // started / finished / aborted
	Publisher string `json:"publisher"`
}

// NewMessageEvent 构造一条日志行事件。
func NewMessageEvent(line, stream string) StreamEvent {
	data, _ := json.Marshal(MessageData{Line: line, Stream: stream})
	return StreamEvent{Event: EventMessage, Data: string(data)}
}

// NewTitleEvent 构造一条标题事件。
func NewTitleEvent(title string) StreamEvent {
	data, _ := json.Marshal(map[string]string{"title": title})
	return StreamEvent{Event: EventTitle, Data: string(data)}
}

// NewInternalEvent 构造一条内部状态流转事件。
func NewInternalEvent(name, typ, status, publisher string) StreamEvent {
	data, _ := json.Marshal(InternalData{Name: name, Type: typ, Status: status, Publisher: publisher})
	return StreamEvent{Event: EventInternal, Data: string(data)}
}
