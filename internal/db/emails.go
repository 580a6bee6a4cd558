package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// AddCampaignEmails creates one pending email of the given type per business.
// Businesses that already have any email in the campaign are skipped.
func (r *Repository) AddCampaignEmails(ctx context.Context, campaignID int64, businessIDs []int64, emailType EmailType) (int, error) {
	added := 0
	err := r.db.withTx(ctx, func(tx *sql.Tx) error {
		for _, businessID := range businessIDs {
			var existing int
			if err := r.db.queryRow(ctx, tx,
				`SELECT COUNT(*) FROM emails WHERE business_id = ? AND campaign_id = ?`,
				businessID, campaignID,
			).Scan(&existing); err != nil {
				return fmt.Errorf("check campaign membership: %w", err)
			}
			if existing > 0 {
				r.logger.Debug("business already in campaign",
					zap.Int64("campaign_id", campaignID),
					zap.Int64("business_id", businessID),
				)
				continue
			}

			if _, err := r.db.exec(ctx, tx, `
				INSERT INTO emails (business_id, campaign_id, email_type, status, tracking_id, created_at)
				VALUES (?, ?, ?, ?, ?, ?)`,
				businessID, campaignID, emailType, EmailPending, uuid.NewString(), utc(r.now()),
			); err != nil {
				return fmt.Errorf("insert email for business %d: %w", businessID, err)
			}
			added++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	r.logger.Info("businesses added to campaign",
		zap.Int64("campaign_id", campaignID),
		zap.Int("added", added),
		zap.Int("requested", len(businessIDs)),
	)
	return added, nil
}

// ContentTargets lists the campaign's unsent emails that still lack content.
// Follow-ups are created already scheduled, so scheduled rows are included.
func (r *Repository) ContentTargets(ctx context.Context, campaignID int64) ([]ContentTarget, error) {
	rows, err := r.db.query(ctx, r.db.sql, `
		SELECT e.id, e.email_type,
			b.id, b.name, b.category, b.address, b.phone, b.email, b.contact_name, b.location, b.source, b.created_at
		FROM emails e
		JOIN businesses b ON b.id = e.business_id
		WHERE e.campaign_id = ? AND e.content IS NULL AND e.status IN ('pending', 'scheduled')
		ORDER BY e.id`, campaignID)
	if err != nil {
		return nil, fmt.Errorf("list content targets: %w", err)
	}
	defer rows.Close()

	var out []ContentTarget
	for rows.Next() {
		var t ContentTarget
		b := &t.Business
		if err := rows.Scan(&t.EmailID, &t.Type,
			&b.ID, &b.Name, &b.Category, &b.Address, &b.Phone, &b.Email, &b.ContactName, &b.Location, &b.Source, &b.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan content target: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// SetEmailContent fills subject and content once. It returns ErrConflict if
// the row already has content.
func (r *Repository) SetEmailContent(ctx context.Context, emailID int64, subject, content string) error {
	result, err := r.db.exec(ctx, r.db.sql,
		`UPDATE emails SET subject = ?, content = ? WHERE id = ? AND content IS NULL`,
		subject, content, emailID,
	)
	if err != nil {
		return fmt.Errorf("set email content: %w", err)
	}
	return expectOne(result, fmt.Sprintf("email %d content", emailID))
}

const emailColumns = `id, business_id, campaign_id, email_type, status, subject, content,
	scheduled_time, sent_time, opened_time, clicked_time, replied_time, tracking_id, last_error, created_at`

func scanEmail(row interface{ Scan(...any) error }, e *Email) error {
	return row.Scan(&e.ID, &e.BusinessID, &e.CampaignID, &e.Type, &e.Status, &e.Subject, &e.Content,
		&e.ScheduledTime, &e.SentTime, &e.OpenedTime, &e.ClickedTime, &e.RepliedTime,
		&e.TrackingID, &e.LastError, &e.CreatedAt)
}

// GetEmail returns one email by id.
func (r *Repository) GetEmail(ctx context.Context, id int64) (*Email, error) {
	var e Email
	err := scanEmail(r.db.queryRow(ctx, r.db.sql, `SELECT `+emailColumns+` FROM emails WHERE id = ?`, id), &e)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("email %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get email: %w", err)
	}
	return &e, nil
}

// ListCampaignEmails returns a campaign's emails in creation order.
func (r *Repository) ListCampaignEmails(ctx context.Context, campaignID int64) ([]Email, error) {
	return r.listEmails(ctx, `WHERE campaign_id = ? ORDER BY id`, campaignID)
}

// PendingEmails returns the campaign's pending, unscheduled emails in
// creation order.
func (r *Repository) PendingEmails(ctx context.Context, campaignID int64) ([]Email, error) {
	return r.listEmails(ctx,
		`WHERE campaign_id = ? AND status = 'pending' AND scheduled_time IS NULL ORDER BY id`, campaignID)
}

func (r *Repository) listEmails(ctx context.Context, where string, args ...any) ([]Email, error) {
	rows, err := r.db.query(ctx, r.db.sql, `SELECT `+emailColumns+` FROM emails `+where, args...)
	if err != nil {
		return nil, fmt.Errorf("list emails: %w", err)
	}
	defer rows.Close()

	var out []Email
	for rows.Next() {
		var e Email
		if err := scanEmail(rows, &e); err != nil {
			return nil, fmt.Errorf("scan email: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// ApplySchedule assigns send times and creates follow-ups in one
// transaction. Only rows still pending and unscheduled are touched, and a
// follow-up is inserted only for an initial that this call scheduled. A
// draft campaign moves to scheduled with started_at set.
func (r *Repository) ApplySchedule(ctx context.Context, campaignID int64, startedAt time.Time, assignments []ScheduleAssignment) (ScheduleOutcome, error) {
	var out ScheduleOutcome

	err := r.db.withTx(ctx, func(tx *sql.Tx) error {
		for _, a := range assignments {
			result, err := r.db.exec(ctx, tx, `
				UPDATE emails SET status = 'scheduled', scheduled_time = ?
				WHERE id = ? AND campaign_id = ? AND status = 'pending' AND scheduled_time IS NULL`,
				utc(a.At), a.EmailID, campaignID,
			)
			if err != nil {
				return fmt.Errorf("schedule email %d: %w", a.EmailID, err)
			}
			n, err := result.RowsAffected()
			if err != nil {
				return err
			}
			if n == 0 {
				continue
			}
			out.Scheduled++

			if a.FollowUpAt == nil {
				continue
			}
			if _, err := r.db.exec(ctx, tx, `
				INSERT INTO emails (business_id, campaign_id, email_type, status, scheduled_time, tracking_id, created_at)
				VALUES (?, ?, ?, ?, ?, ?, ?)`,
				a.BusinessID, campaignID, EmailFollowUp, EmailScheduled, utcPtr(a.FollowUpAt), uuid.NewString(), utc(r.now()),
			); err != nil {
				return fmt.Errorf("insert follow-up for email %d: %w", a.EmailID, err)
			}
			out.FollowUps++
		}

		if out.Scheduled == 0 {
			return nil
		}
		_, err := r.db.exec(ctx, tx,
			`UPDATE campaigns SET status = ?, started_at = ? WHERE id = ? AND status = ?`,
			CampaignScheduled, utc(startedAt), campaignID, CampaignDraft,
		)
		if err != nil {
			return fmt.Errorf("mark campaign scheduled: %w", err)
		}
		return nil
	})
	if err != nil {
		return ScheduleOutcome{}, err
	}

	r.logger.Info("campaign emails scheduled",
		zap.Int64("campaign_id", campaignID),
		zap.Int("scheduled", out.Scheduled),
		zap.Int("follow_ups", out.FollowUps),
	)
	return out, nil
}

// DueEmails returns scheduled emails with content whose time has come,
// joined with the recipient address. limit <= 0 means no limit.
func (r *Repository) DueEmails(ctx context.Context, now time.Time, limit int) ([]DueEmail, error) {
	query := `
		SELECT e.id, e.campaign_id, e.business_id, e.email_type, COALESCE(e.subject, ''), e.content, e.tracking_id,
			b.name, b.email
		FROM emails e
		JOIN businesses b ON b.id = e.business_id
		WHERE e.status = 'scheduled' AND e.scheduled_time <= ? AND e.content IS NOT NULL
		ORDER BY e.scheduled_time, e.id`
	args := []any{utc(now)}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := r.db.query(ctx, r.db.sql, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query due emails: %w", err)
	}
	defer rows.Close()

	var out []DueEmail
	for rows.Next() {
		var d DueEmail
		if err := rows.Scan(&d.ID, &d.CampaignID, &d.BusinessID, &d.Type, &d.Subject, &d.Content, &d.TrackingID,
			&d.BusinessName, &d.Recipient); err != nil {
			return nil, fmt.Errorf("scan due email: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// MarkEmailSent moves a scheduled email to sent. ErrConflict means the row
// was no longer scheduled, which makes repeated passes harmless.
func (r *Repository) MarkEmailSent(ctx context.Context, emailID int64, at time.Time) error {
	result, err := r.db.exec(ctx, r.db.sql,
		`UPDATE emails SET status = 'sent', sent_time = ?, last_error = NULL WHERE id = ? AND status = 'scheduled'`,
		utc(at), emailID,
	)
	if err != nil {
		return fmt.Errorf("mark email %d sent: %w", emailID, err)
	}
	return expectOne(result, fmt.Sprintf("email %d sent", emailID))
}

// MarkEmailFailed moves a scheduled email to failed and records why.
func (r *Repository) MarkEmailFailed(ctx context.Context, emailID int64, reason string) error {
	result, err := r.db.exec(ctx, r.db.sql,
		`UPDATE emails SET status = 'failed', last_error = ? WHERE id = ? AND status = 'scheduled'`,
		reason, emailID,
	)
	if err != nil {
		return fmt.Errorf("mark email %d failed: %w", emailID, err)
	}
	return expectOne(result, fmt.Sprintf("email %d failed", emailID))
}

// RequeueFailed moves a campaign's failed emails back to scheduled at the
// given time and returns how many moved.
func (r *Repository) RequeueFailed(ctx context.Context, campaignID int64, at time.Time) (int, error) {
	result, err := r.db.exec(ctx, r.db.sql, `
		UPDATE emails SET status = 'scheduled', scheduled_time = ?, last_error = NULL
		WHERE campaign_id = ? AND status = 'failed'`,
		utc(at), campaignID,
	)
	if err != nil {
		return 0, fmt.Errorf("requeue failed emails: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}

	r.logger.Info("failed emails requeued",
		zap.Int64("campaign_id", campaignID),
		zap.Int64("count", n),
	)
	return int(n), nil
}

// RecordEngagement stamps the event's timestamp on the email with the given
// tracking id. The first report wins; later ones return false.
func (r *Repository) RecordEngagement(ctx context.Context, trackingID string, event EngagementEvent, at time.Time) (bool, error) {
	var column string
	switch event {
	case EventOpened:
		column = "opened_time"
	case EventClicked:
		column = "clicked_time"
	case EventReplied:
		column = "replied_time"
	default:
		return false, fmt.Errorf("unknown engagement event %q", event)
	}

	result, err := r.db.exec(ctx, r.db.sql,
		`UPDATE emails SET `+column+` = ? WHERE tracking_id = ? AND `+column+` IS NULL`,
		utc(at), trackingID,
	)
	if err != nil {
		return false, fmt.Errorf("record %s: %w", event, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	if n > 0 {
		return true, nil
	}

	var exists int
	if err := r.db.queryRow(ctx, r.db.sql,
		`SELECT COUNT(*) FROM emails WHERE tracking_id = ?`, trackingID,
	).Scan(&exists); err != nil {
		return false, fmt.Errorf("lookup tracking id: %w", err)
	}
	if exists == 0 {
		return false, fmt.Errorf("tracking id %s: %w", trackingID, ErrNotFound)
	}
	return false, nil
}

// EmailCounts aggregates a campaign's emails by status and engagement.
func (r *Repository) EmailCounts(ctx context.Context, campaignID int64) (EmailCounts, error) {
	var c EmailCounts
	err := r.db.queryRow(ctx, r.db.sql, `
		SELECT
			COUNT(*),
			COUNT(CASE WHEN status = 'pending' THEN 1 END),
			COUNT(CASE WHEN status = 'scheduled' THEN 1 END),
			COUNT(CASE WHEN status = 'sent' THEN 1 END),
			COUNT(CASE WHEN status = 'failed' THEN 1 END),
			COUNT(opened_time),
			COUNT(clicked_time),
			COUNT(replied_time)
		FROM emails
		WHERE campaign_id = ?`, campaignID,
	).Scan(&c.Total, &c.Pending, &c.Scheduled, &c.Sent, &c.Failed, &c.Opened, &c.Clicked, &c.Replied)
	if err != nil {
		return EmailCounts{}, fmt.Errorf("count emails: %w", err)
	}
	return c, nil
}

func expectOne(result sql.Result, what string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", what, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", what, ErrConflict)
	}
	return nil
}
