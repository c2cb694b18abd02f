package mailer

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DirectQueue delivers each job immediately with a Sender. It is used when no broker is
// configured.
type DirectQueue struct {
	sender Sender
	logger *zap.SugaredLogger
}

// NewDirectQueue creates a DirectQueue.
func NewDirectQueue(sender Sender, logger *zap.Logger) *DirectQueue {
	return &DirectQueue{sender: sender, logger: logger.Sugar()}
}

// Add sends the mail and returns the job that was delivered.
func (q *DirectQueue) Add(ctx context.Context, name string, data JobData) (*Job, error) {
	job := &Job{ID: uuid.NewString(), Name: name, Data: data, QueuedAt: time.Now().UTC()}
	if err := q.sender.Send(ctx, data); err != nil {
		q.logger.Errorw("Failed to send mail", "job", name, "id", job.ID, "error", err)
		return nil, err
	}
	return job, nil
}
