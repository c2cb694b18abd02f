// Package mail carries queued mail jobs over Kafka to the mail worker.
package mail

import (
	"time"

	"github.com/pages-platform/pages-core/internal/mailer"
)

// MailJobQueuedType is the event type of a queued mail job.
const MailJobQueuedType = "mail.job.queued"

// MailJobQueuedEvent wraps a mail job.
type MailJobQueuedEvent struct {
	EventType     string    `json:"event_type"`
	EventID       string    `json:"event_id"`
	EventTime     time.Time `json:"event_time"`
	SchemaVersion string    `json:"schema_version"`

	Job mailer.Job `json:"job"`
}
