package models

import "time"

// ChannelEmail is the only delivery channel this service handles.
const ChannelEmail = "email"

// Body type identifiers accepted in requests.
const (
	BodyTypeText = "text"
	BodyTypeHTML = "html"
)

// MessageBody encapsulates the content of an email request.
type MessageBody struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

// EmailRequest models the payload expected on the email request topic. From
// may carry multiple author addresses; Sender, when set, designates the
// envelope sender and takes precedence over the first From address.
type EmailRequest struct {
	MessageID string            `json:"message_id"`
	Channel   string            `json:"channel"`
	TenantID  string            `json:"tenant_id,omitempty"`
	TraceID   string            `json:"trace_id,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	Meta      map[string]string `json:"meta,omitempty"`

	Sender  string            `json:"sender,omitempty"`
	From    []string          `json:"from"`
	To      []string          `json:"to,omitempty"`
	CC      []string          `json:"cc,omitempty"`
	BCC     []string          `json:"bcc,omitempty"`
	Subject string            `json:"subject"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    MessageBody       `json:"body"`
}
