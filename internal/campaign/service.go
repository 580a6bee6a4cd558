// Package campaign owns the campaign lifecycle: membership, content
// generation, send-day scheduling, manual requeue, and analytics.
package campaign

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/lalithlochan/outreach/internal/db"
	"github.com/lalithlochan/outreach/internal/metrics"
	"github.com/lalithlochan/outreach/internal/outreach"
)

var (
	// ErrInvalidTransition is returned for a campaign status change that
	// does not move forward.
	ErrInvalidTransition = errors.New("invalid campaign status transition")

	// ErrCampaignCompleted is returned when an operation needs a campaign
	// that has not finished yet.
	ErrCampaignCompleted = fmt.Errorf("campaign is completed: %w", ErrInvalidTransition)

	// ErrInvalidSchedule is returned for out-of-range schedule parameters.
	ErrInvalidSchedule = errors.New("invalid schedule parameters")

	ErrInvalidInput = errors.New("invalid input")
)

// Store is the record store surface the service needs.
type Store interface {
	CreateCampaign(ctx context.Context, c *db.Campaign) error
	GetCampaign(ctx context.Context, id int64) (*db.Campaign, error)
	ListCampaigns(ctx context.Context) ([]db.CampaignSummary, error)
	ListCampaignIDsByStatus(ctx context.Context, statuses ...db.CampaignStatus) ([]int64, error)
	TransitionCampaign(ctx context.Context, id int64, from, to db.CampaignStatus, at time.Time) error
	CampaignsWithSentEmails(ctx context.Context, status db.CampaignStatus) ([]int64, error)

	GetBusiness(ctx context.Context, id int64) (*db.Business, error)
	GetBusinessDetails(ctx context.Context, id int64) (*db.BusinessDetails, error)
	FindBusinessIDs(ctx context.Context, f db.BusinessFilter) ([]int64, error)

	AddCampaignEmails(ctx context.Context, campaignID int64, businessIDs []int64, emailType db.EmailType) (int, error)
	ContentTargets(ctx context.Context, campaignID int64) ([]db.ContentTarget, error)
	SetEmailContent(ctx context.Context, emailID int64, subject, content string) error
	PendingEmails(ctx context.Context, campaignID int64) ([]db.Email, error)
	ApplySchedule(ctx context.Context, campaignID int64, startedAt time.Time, assignments []db.ScheduleAssignment) (db.ScheduleOutcome, error)
	RequeueFailed(ctx context.Context, campaignID int64, at time.Time) (int, error)
	RecordEngagement(ctx context.Context, trackingID string, event db.EngagementEvent, at time.Time) (bool, error)
	EmailCounts(ctx context.Context, campaignID int64) (db.EmailCounts, error)

	CreateAppointment(ctx context.Context, a *db.Appointment) error
	CountAppointments(ctx context.Context, campaignID int64) (int, error)
	UpsertSnapshot(ctx context.Context, s *db.AnalyticsSnapshot) error
	ListSnapshots(ctx context.Context, campaignID int64) ([]db.AnalyticsSnapshot, error)
}

// Personalizer rewrites a rendered draft for one business.
type Personalizer interface {
	Personalize(ctx context.Context, b db.Business, emailType db.EmailType, d outreach.Draft) (outreach.Draft, error)
}

type Service struct {
	store        Store
	generator    *outreach.Generator
	personalizer Personalizer
	logger       *zap.Logger
	now          func() time.Time
}

type Option func(*Service)

// WithPersonalizer enables the AI rewrite step of content generation.
func WithPersonalizer(p Personalizer) Option {
	return func(s *Service) {
		s.personalizer = p
	}
}

// WithClock overrides the service's time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

func NewService(store Store, generator *outreach.Generator, logger *zap.Logger, opts ...Option) *Service {
	s := &Service{
		store:     store,
		generator: generator,
		logger:    logger,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewCampaign is the input to CreateCampaign.
type NewCampaign struct {
	Name         string
	Description  string
	TemplateName string
}

// CreateCampaign creates a draft campaign. An empty template name means the
// default initial contact template.
func (s *Service) CreateCampaign(ctx context.Context, in NewCampaign) (*db.Campaign, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, fmt.Errorf("campaign name is required: %w", ErrInvalidInput)
	}
	tpl := strings.TrimSpace(in.TemplateName)
	if tpl == "" {
		tpl = outreach.TemplateInitialContact
	}
	if _, ok := s.generator.Templates().Get(tpl); !ok {
		s.logger.Warn("campaign template not found, emails will use the placeholder",
			zap.String("template", tpl),
		)
	}

	c := &db.Campaign{Name: name, Description: in.Description, TemplateName: tpl}
	if err := s.store.CreateCampaign(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

func (s *Service) GetCampaign(ctx context.Context, id int64) (*db.Campaign, error) {
	return s.store.GetCampaign(ctx, id)
}

func (s *Service) ListCampaigns(ctx context.Context) ([]db.CampaignSummary, error) {
	return s.store.ListCampaigns(ctx)
}

func (s *Service) BusinessDetails(ctx context.Context, id int64) (*db.BusinessDetails, error) {
	return s.store.GetBusinessDetails(ctx, id)
}

// AddResult reports how many businesses matched and how many were new to
// the campaign.
type AddResult struct {
	Matched int `json:"matched"`
	Added   int `json:"added"`
}

// AddBusinesses creates one pending initial email per matching business.
// Businesses already in the campaign are skipped.
func (s *Service) AddBusinesses(ctx context.Context, campaignID int64, filter db.BusinessFilter) (AddResult, error) {
	c, err := s.store.GetCampaign(ctx, campaignID)
	if err != nil {
		return AddResult{}, err
	}
	if c.Status == db.CampaignCompleted {
		return AddResult{}, ErrCampaignCompleted
	}

	ids, err := s.store.FindBusinessIDs(ctx, filter)
	if err != nil {
		return AddResult{}, err
	}
	if len(ids) == 0 {
		return AddResult{}, nil
	}

	added, err := s.store.AddCampaignEmails(ctx, campaignID, ids, db.EmailInitial)
	if err != nil {
		return AddResult{}, err
	}
	return AddResult{Matched: len(ids), Added: added}, nil
}

// GenerateResult counts what GenerateCampaignEmails wrote.
type GenerateResult struct {
	Generated    int `json:"generated"`
	Placeholders int `json:"placeholders"`
	Personalized int `json:"personalized"`
}

// GenerateCampaignEmails fills subject and content for the campaign's unsent
// emails that have none. A missing template yields a placeholder email.
func (s *Service) GenerateCampaignEmails(ctx context.Context, campaignID int64) (GenerateResult, error) {
	c, err := s.store.GetCampaign(ctx, campaignID)
	if err != nil {
		return GenerateResult{}, err
	}

	targets, err := s.store.ContentTargets(ctx, campaignID)
	if err != nil {
		return GenerateResult{}, err
	}

	var res GenerateResult
	for _, t := range targets {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		tpl := outreach.NameFor(t.Type, c.TemplateName)
		draft, ok := s.generator.Generate(t.Business, tpl)
		if !ok {
			res.Placeholders++
			s.logger.Warn("template missing, using placeholder",
				zap.Int64("email_id", t.EmailID),
				zap.String("template", tpl),
			)
		}

		if s.personalizer != nil && ok {
			rewritten, err := s.personalizer.Personalize(ctx, t.Business, t.Type, draft)
			if err != nil {
				s.logger.Warn("personalization failed, keeping template draft",
					zap.Int64("email_id", t.EmailID),
					zap.Error(err),
				)
			} else {
				draft = rewritten
				res.Personalized++
			}
		}

		err := s.store.SetEmailContent(ctx, t.EmailID, draft.Subject, draft.Body)
		if errors.Is(err, db.ErrConflict) {
			continue
		}
		if err != nil {
			return res, err
		}
		res.Generated++
	}

	s.logger.Info("campaign content generated",
		zap.Int64("campaign_id", campaignID),
		zap.Int("generated", res.Generated),
		zap.Int("placeholders", res.Placeholders),
		zap.Int("personalized", res.Personalized),
	)
	return res, nil
}

// ScheduleCampaign assigns send days to the campaign's pending emails and
// creates their follow-ups in one transaction. A zero start date means now.
// With nothing pending it returns a zero outcome and leaves the campaign
// status alone.
func (s *Service) ScheduleCampaign(ctx context.Context, campaignID int64, req ScheduleRequest) (db.ScheduleOutcome, error) {
	if req.EmailsPerDay < 1 {
		return db.ScheduleOutcome{}, fmt.Errorf("emails_per_day must be at least 1: %w", ErrInvalidSchedule)
	}
	if req.FollowUpDays < 0 {
		return db.ScheduleOutcome{}, fmt.Errorf("follow_up_days must not be negative: %w", ErrInvalidSchedule)
	}

	c, err := s.store.GetCampaign(ctx, campaignID)
	if err != nil {
		return db.ScheduleOutcome{}, err
	}
	if c.Status == db.CampaignCompleted {
		return db.ScheduleOutcome{}, ErrCampaignCompleted
	}

	start := req.StartDate
	if start.IsZero() {
		start = s.now()
	}

	pending, err := s.store.PendingEmails(ctx, campaignID)
	if err != nil {
		return db.ScheduleOutcome{}, err
	}
	if len(pending) == 0 {
		s.logger.Info("no pending emails to schedule", zap.Int64("campaign_id", campaignID))
		return db.ScheduleOutcome{}, nil
	}

	plan := PlanSchedule(pending, start, req.EmailsPerDay, req.FollowUpDays)
	out, err := s.store.ApplySchedule(ctx, campaignID, start, plan)
	if err != nil {
		return db.ScheduleOutcome{}, err
	}

	metrics.RecordScheduled("scheduled", out.Scheduled)
	metrics.RecordScheduled(string(db.EmailFollowUp), out.FollowUps)
	return out, nil
}

// RequeueFailed moves the campaign's failed emails back to scheduled. A
// zero time means now.
func (s *Service) RequeueFailed(ctx context.Context, campaignID int64, at time.Time) (int, error) {
	if _, err := s.store.GetCampaign(ctx, campaignID); err != nil {
		return 0, err
	}
	if at.IsZero() {
		at = s.now()
	}
	return s.store.RequeueFailed(ctx, campaignID, at)
}

// AdvanceStatus moves a campaign forward in its lifecycle. Moving backwards
// or to the current status fails with ErrInvalidTransition.
func (s *Service) AdvanceStatus(ctx context.Context, campaignID int64, to db.CampaignStatus) (*db.Campaign, error) {
	c, err := s.store.GetCampaign(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	if to.Rank() < 0 || to.Rank() <= c.Status.Rank() {
		return nil, fmt.Errorf("%s -> %s: %w", c.Status, to, ErrInvalidTransition)
	}

	err = s.store.TransitionCampaign(ctx, campaignID, c.Status, to, s.now())
	if errors.Is(err, db.ErrConflict) {
		return nil, fmt.Errorf("%s -> %s: %w", c.Status, to, ErrInvalidTransition)
	}
	if err != nil {
		return nil, err
	}
	return s.store.GetCampaign(ctx, campaignID)
}

// RefreshStatuses moves scheduled campaigns with a sent email to active,
// and active campaigns with nothing left to send to completed.
func (s *Service) RefreshStatuses(ctx context.Context) error {
	var errs []error
	now := s.now()

	started, err := s.store.CampaignsWithSentEmails(ctx, db.CampaignScheduled)
	if err != nil {
		return err
	}
	for _, id := range started {
		err := s.store.TransitionCampaign(ctx, id, db.CampaignScheduled, db.CampaignActive, now)
		if err != nil && !errors.Is(err, db.ErrConflict) {
			errs = append(errs, err)
		}
	}

	active, err := s.store.ListCampaignIDsByStatus(ctx, db.CampaignActive)
	if err != nil {
		return errors.Join(append(errs, err)...)
	}
	for _, id := range active {
		counts, err := s.store.EmailCounts(ctx, id)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if counts.Outstanding() > 0 {
			continue
		}
		err = s.store.TransitionCampaign(ctx, id, db.CampaignActive, db.CampaignCompleted, now)
		if err != nil && !errors.Is(err, db.ErrConflict) {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// Rates are percentages of sent emails, rounded to two decimals.
type Rates struct {
	Open        float64 `json:"open_rate"`
	Click       float64 `json:"click_rate"`
	Reply       float64 `json:"reply_rate"`
	Appointment float64 `json:"appointment_rate"`
}

type Stats struct {
	Campaign     db.Campaign    `json:"campaign"`
	Emails       db.EmailCounts `json:"emails"`
	Appointments int            `json:"appointments"`
	Rates        Rates          `json:"rates"`
}

// GetCampaignStats returns the campaign's counts and engagement rates.
func (s *Service) GetCampaignStats(ctx context.Context, campaignID int64) (*Stats, error) {
	c, err := s.store.GetCampaign(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	counts, err := s.store.EmailCounts(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	appts, err := s.store.CountAppointments(ctx, campaignID)
	if err != nil {
		return nil, err
	}

	return &Stats{
		Campaign:     *c,
		Emails:       counts,
		Appointments: appts,
		Rates: Rates{
			Open:        rate(counts.Opened, counts.Sent),
			Click:       rate(counts.Clicked, counts.Sent),
			Reply:       rate(counts.Replied, counts.Sent),
			Appointment: rate(appts, counts.Sent),
		},
	}, nil
}

func rate(n, sent int) float64 {
	if sent == 0 {
		return 0
	}
	return math.Round(float64(n)/float64(sent)*100*100) / 100
}

// Snapshots returns the campaign's daily analytics history.
func (s *Service) Snapshots(ctx context.Context, campaignID int64) ([]db.AnalyticsSnapshot, error) {
	if _, err := s.store.GetCampaign(ctx, campaignID); err != nil {
		return nil, err
	}
	return s.store.ListSnapshots(ctx, campaignID)
}

// UpdateAnalytics writes today's snapshot for every scheduled or active
// campaign and returns how many were written. A failing campaign does not
// stop the others.
func (s *Service) UpdateAnalytics(ctx context.Context, now time.Time) (int, error) {
	if now.IsZero() {
		now = s.now()
	}
	ids, err := s.store.ListCampaignIDsByStatus(ctx, db.CampaignScheduled, db.CampaignActive)
	if err != nil {
		return 0, err
	}

	var errs []error
	written := 0
	for _, id := range ids {
		if err := s.snapshot(ctx, id, now); err != nil {
			s.logger.Error("analytics snapshot failed",
				zap.Int64("campaign_id", id),
				zap.Error(err),
			)
			errs = append(errs, fmt.Errorf("campaign %d: %w", id, err))
			continue
		}
		written++
	}

	metrics.RecordSnapshots(written)
	s.logger.Info("analytics updated",
		zap.Int("campaigns", len(ids)),
		zap.Int("snapshots", written),
	)
	return written, errors.Join(errs...)
}

func (s *Service) snapshot(ctx context.Context, campaignID int64, now time.Time) error {
	counts, err := s.store.EmailCounts(ctx, campaignID)
	if err != nil {
		return err
	}
	appts, err := s.store.CountAppointments(ctx, campaignID)
	if err != nil {
		return err
	}
	return s.store.UpsertSnapshot(ctx, &db.AnalyticsSnapshot{
		CampaignID:   campaignID,
		Day:          now,
		Counts:       counts,
		Appointments: appts,
	})
}

// NewAppointment is the input to AddAppointment.
type NewAppointment struct {
	BusinessID    int64
	CampaignID    int64
	ScheduledTime time.Time
	Notes         string
	CalendlyLink  string
}

// AddAppointment records a scheduled appointment for a business in a
// campaign. Both must exist.
func (s *Service) AddAppointment(ctx context.Context, in NewAppointment) (*db.Appointment, error) {
	if in.ScheduledTime.IsZero() {
		return nil, fmt.Errorf("scheduled_time is required: %w", ErrInvalidInput)
	}
	if _, err := s.store.GetBusiness(ctx, in.BusinessID); err != nil {
		return nil, err
	}
	if _, err := s.store.GetCampaign(ctx, in.CampaignID); err != nil {
		return nil, err
	}

	a := &db.Appointment{
		BusinessID:    in.BusinessID,
		CampaignID:    in.CampaignID,
		ScheduledTime: in.ScheduledTime,
		Notes:         in.Notes,
		CalendlyLink:  in.CalendlyLink,
	}
	if err := s.store.CreateAppointment(ctx, a); err != nil {
		return nil, err
	}

	s.logger.Info("appointment added",
		zap.Int64("appointment_id", a.ID),
		zap.Int64("business_id", a.BusinessID),
		zap.Int64("campaign_id", a.CampaignID),
	)
	return a, nil
}

// RecordEngagement stamps an opened, clicked or replied time on the email
// with the tracking id. Only the first report of each event counts.
func (s *Service) RecordEngagement(ctx context.Context, trackingID string, event db.EngagementEvent, at time.Time, source string) (bool, error) {
	if !event.Valid() {
		return false, fmt.Errorf("unknown engagement event %q: %w", event, ErrInvalidInput)
	}
	if at.IsZero() {
		at = s.now()
	}

	recorded, err := s.store.RecordEngagement(ctx, trackingID, event, at)
	if err != nil {
		return false, err
	}
	if recorded {
		metrics.RecordEngagement(string(event), source)
	}
	return recorded, nil
}
