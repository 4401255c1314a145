package common

import (
	"time"

	"github.com/example/mail-courier/internal/models"
)

// ValidatedMessage is the canonical representation of a request after it has
// passed validation. The adapter receives this structure when delivering, and
// the worker engine uses it to enrich status and DLQ events.
type ValidatedMessage struct {
	MessageID    string
	TraceID      string
	TenantID     string
	CreatedAt    time.Time
	Request      *models.EmailRequest
	RawPayload   []byte
	Key          []byte
	KafkaHeaders map[string][]byte
}
