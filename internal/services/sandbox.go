package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/pages-platform/pages-core/database"
	"github.com/pages-platform/pages-core/internal/config"
	"github.com/pages-platform/pages-core/internal/mailer"
	"github.com/pages-platform/pages-core/model"
)

// ReminderMailer sends sandbox reminders and operator alerts.
type ReminderMailer interface {
	SendSandboxReminder(ctx context.Context, org mailer.SandboxOrganization) ([]*mailer.Job, error)
	SendAlert(ctx context.Context, reason string, errs []string) (*mailer.Job, error)
}

// SandboxService warns sandbox organization members before their sites are removed and
// removes them once the cleaning date arrives.
type SandboxService struct {
	store        database.Store
	mailer       ReminderMailer
	intervalDays int
	reminderDays int
	now          func() time.Time
	logger       *zap.SugaredLogger
}

// NewSandboxService creates a SandboxService.
func NewSandboxService(store database.Store, m ReminderMailer, cfg config.SandboxConfig, logger *zap.Logger) *SandboxService {
	return &SandboxService{
		store:        store,
		mailer:       m,
		intervalDays: cfg.CleaningIntervalDays,
		reminderDays: cfg.ReminderDays,
		now:          time.Now,
		logger:       logger.Sugar(),
	}
}

func nextCleaning(intervalDays int) time.Time {
	now := time.Now().UTC()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, intervalDays)
}

// NotifyUpcomingCleanings reminds members of every sandbox organization whose cleaning is
// exactly reminderDays or one day away. It returns the number of organizations notified.
func (s *SandboxService) NotifyUpcomingCleanings(ctx context.Context) (int, error) {
	orgs, err := s.store.ListSandboxOrganizations(ctx)
	if err != nil {
		return 0, err
	}

	now := s.now()
	notified := 0
	var errs []error
	for i := range orgs {
		org := orgs[i]
		if org.SandboxNextCleaningAt == nil || org.SandboxCleaningDue(now) {
			continue
		}
		days := org.DaysUntilSandboxCleaning(now)
		if days != s.reminderDays && days != 1 {
			continue
		}

		target, err := s.loadSandbox(ctx, org)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if len(target.Sites) == 0 || len(target.Users) == 0 {
			continue
		}
		if _, err := s.mailer.SendSandboxReminder(ctx, target); err != nil {
			errs = append(errs, err)
			continue
		}
		notified++
	}
	return notified, errors.Join(errs...)
}

func (s *SandboxService) loadSandbox(ctx context.Context, org model.Organization) (mailer.SandboxOrganization, error) {
	target := mailer.SandboxOrganization{Organization: org}

	sites, err := s.store.ListSites(ctx, database.SiteFilter{OrganizationID: &org.ID})
	if err != nil {
		return target, fmt.Errorf("load sites for organization@id=%d: %w", org.ID, err)
	}
	target.Sites = sites

	members, err := s.store.ListOrganizationMembers(ctx, org.ID)
	if err != nil {
		return target, fmt.Errorf("load members for organization@id=%d: %w", org.ID, err)
	}
	for _, m := range members {
		if m.User != nil && m.User.IsActive && m.User.Email != "" {
			target.Users = append(target.Users, *m.User)
		}
	}
	return target, nil
}

// CleanExpired removes the sites of sandbox organizations whose cleaning date has passed and
// schedules their next cleaning. Failures are mailed to the operators.
func (s *SandboxService) CleanExpired(ctx context.Context) (int, error) {
	orgs, err := s.store.ListSandboxOrganizations(ctx)
	if err != nil {
		return 0, err
	}

	now := s.now()
	cleaned := 0
	var failures []string
	for i := range orgs {
		org := orgs[i]
		if !org.SandboxCleaningDue(now) {
			continue
		}

		sites, err := s.store.ListSites(ctx, database.SiteFilter{OrganizationID: &org.ID})
		if err != nil {
			failures = append(failures, fmt.Sprintf("organization@id=%d: %s", org.ID, err))
			continue
		}
		failed := false
		for _, site := range sites {
			if err := s.store.DeleteSite(ctx, site.ID); err != nil && !errors.Is(err, database.ErrNotFound) {
				failures = append(failures, fmt.Sprintf("site@id=%d: %s", site.ID, err))
				failed = true
			}
		}
		if failed {
			continue
		}

		u := now.UTC()
		day := time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
		next := day.AddDate(0, 0, s.intervalDays)
		org.SandboxNextCleaningAt = &next
		if err := s.store.UpdateOrganization(ctx, &org); err != nil {
			failures = append(failures, fmt.Sprintf("organization@id=%d: %s", org.ID, err))
			continue
		}
		s.logger.Infow("Cleaned sandbox organization", "organization", org.ID, "sites", len(sites), "next", next)
		cleaned++
	}

	if len(failures) > 0 {
		if _, err := s.mailer.SendAlert(ctx, "Sandbox Organization Cleaning Failures", failures); err != nil {
			s.logger.Errorw("Failed to send sandbox cleaning alert", "error", err)
		}
		return cleaned, fmt.Errorf("sandbox cleaning failed for %d item(s)", len(failures))
	}
	return cleaned, nil
}

// Run sends reminders, then cleans expired sandboxes.
func (s *SandboxService) Run(ctx context.Context) error {
	notified, nerr := s.NotifyUpcomingCleanings(ctx)
	cleaned, cerr := s.CleanExpired(ctx)
	s.logger.Infow("Sandbox job finished", "notified", notified, "cleaned", cleaned)
	return errors.Join(nerr, cerr)
}
