// Package mailer queues templated email jobs and delivers them through an HTTP mail service or SMTP.
package mailer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/pages-platform/pages-core/internal/config"
	"github.com/pages-platform/pages-core/model"
	"github.com/pages-platform/pages-core/util"
)

// ErrNotInitialized is returned by every send before Init was called.
var ErrNotInitialized = errors.New("Mail Queue is not initialized, did you forget to call `init()`?")

// Job names.
const (
	JobUAAInvite       = "uaa-invite"
	JobSandboxReminder = "sandbox-reminder"
	JobAlert           = "alert"
)

const reminderConcurrency = 10

// JobData is the payload of a mail job.
type JobData struct {
	To      []string `json:"to"`
	Cc      []string `json:"cc,omitempty"`
	Bcc     []string `json:"bcc,omitempty"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html"`
}

// Job is a queued mail job.
type Job struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Data     JobData   `json:"data"`
	QueuedAt time.Time `json:"queuedAt"`
}

// Queue accepts mail jobs for delivery.
type Queue interface {
	Add(ctx context.Context, name string, data JobData) (*Job, error)
}

// SandboxOrganization is a sandbox organization with the sites that will be removed and the
// members to remind.
type SandboxOrganization struct {
	model.Organization
	Sites []model.Site
	Users []model.User
}

// Mailer renders mail templates and queues them.
type Mailer struct {
	mu              sync.RWMutex
	queue           Queue
	hostname        string
	appEnv          string
	alertRecipients []string
	now             func() time.Time
	logger          *zap.SugaredLogger
}

// New creates a Mailer. It must be initialized with a queue before use.
func New(cfg *config.Config, logger *zap.Logger) *Mailer {
	return &Mailer{
		hostname:        cfg.App.Hostname,
		appEnv:          cfg.App.AppEnv,
		alertRecipients: util.NormalizeEmails(cfg.Mailer.AlertRecipients),
		now:             time.Now,
		logger:          logger.Sugar(),
	}
}

// Init sets the queue jobs are added to.
func (m *Mailer) Init(queue Queue) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue = queue
}

func (m *Mailer) add(ctx context.Context, name string, data JobData) (*Job, error) {
	m.mu.RLock()
	queue := m.queue
	m.mu.RUnlock()
	if queue == nil {
		return nil, ErrNotInitialized
	}
	data.To = util.NormalizeEmails(data.To)
	data.Cc = util.NormalizeEmails(data.Cc)
	data.Bcc = util.NormalizeEmails(data.Bcc)
	job, err := queue.Add(ctx, name, data)
	if err != nil {
		return nil, err
	}
	m.logger.Debugw("Queued mail job", "job", name, "id", job.ID, "to", len(data.To))
	return job, nil
}

// SendUAAInvite queues the identity provider invitation for email.
func (m *Mailer) SendUAAInvite(ctx context.Context, email, link string) (*Job, error) {
	html, err := render(uaaInviteTemplate, map[string]string{"Link": link})
	if err != nil {
		return nil, err
	}
	return m.add(ctx, JobUAAInvite, JobData{
		To:      []string{email},
		Subject: "Invitation to join cloud.gov Pages",
		HTML:    html,
	})
}

type reminderSite struct {
	ID         int64
	Owner      string
	Repository string
}

// SendOrgMemberSandboxReminder queues the cleaning reminder for one member of a sandbox org.
func (m *Mailer) SendOrgMemberSandboxReminder(ctx context.Context, user model.User, org SandboxOrganization) (*Job, error) {
	var dateStr string
	if org.SandboxNextCleaningAt != nil {
		dateStr = org.SandboxNextCleaningAt.Format("01-02-2006")
	}

	sites := make([]reminderSite, 0, len(org.Sites))
	for _, s := range org.Sites {
		sites = append(sites, reminderSite{ID: s.ID, Owner: s.Owner, Repository: s.Repository})
	}

	html, err := render(sandboxReminderTemplate, map[string]interface{}{
		"OrganizationName": org.Name,
		"OrganizationID":   org.ID,
		"DateStr":          dateStr,
		"Sites":            sites,
		"Hostname":         m.hostname,
	})
	if err != nil {
		return nil, err
	}

	days := org.DaysUntilSandboxCleaning(m.now())
	return m.add(ctx, JobSandboxReminder, JobData{
		To:      []string{user.Email},
		Subject: fmt.Sprintf("Your Pages sandbox organization's sites will be removed in %d days", days),
		HTML:    html,
	})
}

// SendSandboxReminder reminds every member of org concurrently. Jobs are returned in member
// order; if any member failed, the error lists each failure.
func (m *Mailer) SendSandboxReminder(ctx context.Context, org SandboxOrganization) ([]*Job, error) {
	jobs := make([]*Job, len(org.Users))
	errs := make([]error, len(org.Users))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(reminderConcurrency)
	for i := range org.Users {
		g.Go(func() error {
			jobs[i], errs[i] = m.SendOrgMemberSandboxReminder(gctx, org.Users[i], org)
			return nil
		})
	}
	g.Wait() //nolint:errcheck // workers record their own errors

	var lines []string
	for i, err := range errs {
		if err != nil {
			lines = append(lines, fmt.Sprintf("  user@id=%d: %s", org.Users[i].ID, err.Error()))
		}
	}
	if len(lines) > 0 {
		header := fmt.Sprintf("Failed to queue a sandbox reminders for organization@id=%d members:", org.ID)
		return nil, errors.New(header + "," + strings.Join(lines, ","))
	}
	return jobs, nil
}

// SendAlert queues an alert for the operators.
func (m *Mailer) SendAlert(ctx context.Context, reason string, errs []string) (*Job, error) {
	html, err := render(alertTemplate, map[string]interface{}{"Reason": reason, "Errors": errs})
	if err != nil {
		return nil, err
	}
	return m.add(ctx, JobAlert, JobData{
		To:      m.alertRecipients,
		Subject: fmt.Sprintf("Pages %s Alert | %s", m.appEnv, reason),
		HTML:    html,
	})
}
