package mail

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/pages-platform/pages-core/internal/mailer"
)

// HandleMailJobQueued delivers the mail job in msg.
func HandleMailJobQueued(ctx context.Context, msg []byte, sender mailer.Sender) error {
	var event MailJobQueuedEvent
	if err := json.Unmarshal(msg, &event); err != nil {
		return fmt.Errorf("failed to unmarshal MailJobQueuedEvent: %w", err)
	}
	if event.Job.Name == "" || len(event.Job.Data.To) == 0 {
		return fmt.Errorf("invalid event: missing required fields")
	}
	if err := sender.Send(ctx, event.Job.Data); err != nil {
		return fmt.Errorf("failed to send %s mail job %s: %w", event.Job.Name, event.Job.ID, err)
	}
	return nil
}
