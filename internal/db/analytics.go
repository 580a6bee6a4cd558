package db

import (
	"context"
	"fmt"
	"time"
)

// CreateAppointment records an appointment in scheduled status.
func (r *Repository) CreateAppointment(ctx context.Context, a *Appointment) error {
	if a.Status == "" {
		a.Status = AppointmentScheduled
	}
	a.CreatedAt = utc(r.now())
	a.ScheduledTime = utc(a.ScheduledTime)

	err := r.db.queryRow(ctx, r.db.sql, `
		INSERT INTO appointments (business_id, campaign_id, status, scheduled_time, notes, calendly_link, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		RETURNING id`,
		a.BusinessID, a.CampaignID, a.Status, a.ScheduledTime, a.Notes, a.CalendlyLink, a.CreatedAt,
	).Scan(&a.ID)
	if err != nil {
		return fmt.Errorf("insert appointment: %w", err)
	}
	return nil
}

// CountAppointments counts a campaign's appointments in any status.
func (r *Repository) CountAppointments(ctx context.Context, campaignID int64) (int, error) {
	var n int
	if err := r.db.queryRow(ctx, r.db.sql,
		`SELECT COUNT(*) FROM appointments WHERE campaign_id = ?`, campaignID,
	).Scan(&n); err != nil {
		return 0, fmt.Errorf("count appointments: %w", err)
	}
	return n, nil
}

func (r *Repository) listAppointments(ctx context.Context, where string, args ...any) ([]Appointment, error) {
	rows, err := r.db.query(ctx, r.db.sql, `
		SELECT id, business_id, campaign_id, status, scheduled_time, notes, calendly_link, created_at
		FROM appointments `+where, args...)
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	defer rows.Close()

	out := []Appointment{}
	for rows.Next() {
		var a Appointment
		if err := rows.Scan(&a.ID, &a.BusinessID, &a.CampaignID, &a.Status, &a.ScheduledTime,
			&a.Notes, &a.CalendlyLink, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan appointment: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// UpsertSnapshot writes the snapshot for (campaign, day), replacing any
// earlier snapshot for the same day.
func (r *Repository) UpsertSnapshot(ctx context.Context, s *AnalyticsSnapshot) error {
	s.Day = Day(s.Day)
	s.UpdatedAt = utc(r.now())
	c := s.Counts

	err := r.db.queryRow(ctx, r.db.sql, `
		INSERT INTO analytics_snapshots
			(campaign_id, day, total, pending, scheduled, sent, failed, opened, clicked, replied, appointments, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (campaign_id, day) DO UPDATE SET
			total = excluded.total,
			pending = excluded.pending,
			scheduled = excluded.scheduled,
			sent = excluded.sent,
			failed = excluded.failed,
			opened = excluded.opened,
			clicked = excluded.clicked,
			replied = excluded.replied,
			appointments = excluded.appointments,
			updated_at = excluded.updated_at
		RETURNING id`,
		s.CampaignID, s.Day, c.Total, c.Pending, c.Scheduled, c.Sent, c.Failed, c.Opened, c.Clicked, c.Replied,
		s.Appointments, s.UpdatedAt,
	).Scan(&s.ID)
	if err != nil {
		return fmt.Errorf("upsert snapshot: %w", err)
	}
	return nil
}

// ListSnapshots returns a campaign's daily snapshots, oldest first.
func (r *Repository) ListSnapshots(ctx context.Context, campaignID int64) ([]AnalyticsSnapshot, error) {
	rows, err := r.db.query(ctx, r.db.sql, `
		SELECT id, campaign_id, day, total, pending, scheduled, sent, failed, opened, clicked, replied, appointments, updated_at
		FROM analytics_snapshots
		WHERE campaign_id = ?
		ORDER BY day`, campaignID)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	defer rows.Close()

	out := []AnalyticsSnapshot{}
	for rows.Next() {
		var s AnalyticsSnapshot
		c := &s.Counts
		if err := rows.Scan(&s.ID, &s.CampaignID, &s.Day, &c.Total, &c.Pending, &c.Scheduled, &c.Sent, &c.Failed,
			&c.Opened, &c.Clicked, &c.Replied, &s.Appointments, &s.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// SetClock overrides the repository's time source. Tests use it to pin
// created_at and updated_at stamps.
func (r *Repository) SetClock(now func() time.Time) {
	r.now = now
}
