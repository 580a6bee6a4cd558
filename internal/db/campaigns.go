package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// CreateCampaign inserts a draft campaign and fills in its id.
func (r *Repository) CreateCampaign(ctx context.Context, c *Campaign) error {
	c.Status = CampaignDraft
	c.CreatedAt = utc(r.now())

	err := r.db.queryRow(ctx, r.db.sql, `
		INSERT INTO campaigns (name, description, template_name, status, created_at)
		VALUES (?, ?, ?, ?, ?)
		RETURNING id`,
		c.Name, c.Description, c.TemplateName, c.Status, c.CreatedAt,
	).Scan(&c.ID)
	if err != nil {
		return fmt.Errorf("insert campaign: %w", err)
	}

	r.logger.Info("campaign created",
		zap.Int64("campaign_id", c.ID),
		zap.String("name", c.Name),
	)
	return nil
}

const campaignColumns = `id, name, description, template_name, status, created_at, started_at, completed_at`

func scanCampaign(row interface{ Scan(...any) error }, c *Campaign) error {
	return row.Scan(&c.ID, &c.Name, &c.Description, &c.TemplateName, &c.Status,
		&c.CreatedAt, &c.StartedAt, &c.CompletedAt)
}

// GetCampaign returns one campaign by id.
func (r *Repository) GetCampaign(ctx context.Context, id int64) (*Campaign, error) {
	var c Campaign
	err := scanCampaign(r.db.queryRow(ctx, r.db.sql,
		`SELECT `+campaignColumns+` FROM campaigns WHERE id = ?`, id), &c)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("campaign %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get campaign: %w", err)
	}
	return &c, nil
}

// ListCampaigns returns every campaign, newest first, with email totals.
func (r *Repository) ListCampaigns(ctx context.Context) ([]CampaignSummary, error) {
	rows, err := r.db.query(ctx, r.db.sql, `
		SELECT c.id, c.name, c.description, c.template_name, c.status, c.created_at, c.started_at, c.completed_at,
			COUNT(e.id),
			COUNT(CASE WHEN e.status = 'sent' THEN 1 END)
		FROM campaigns c
		LEFT JOIN emails e ON e.campaign_id = c.id
		GROUP BY c.id, c.name, c.description, c.template_name, c.status, c.created_at, c.started_at, c.completed_at
		ORDER BY c.created_at DESC, c.id DESC`)
	if err != nil {
		return nil, fmt.Errorf("list campaigns: %w", err)
	}
	defer rows.Close()

	out := []CampaignSummary{}
	for rows.Next() {
		var s CampaignSummary
		if err := rows.Scan(&s.ID, &s.Name, &s.Description, &s.TemplateName, &s.Status,
			&s.CreatedAt, &s.StartedAt, &s.CompletedAt, &s.TotalEmails, &s.SentEmails); err != nil {
			return nil, fmt.Errorf("scan campaign: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// ListCampaignIDsByStatus returns ids of campaigns in any of the statuses.
func (r *Repository) ListCampaignIDsByStatus(ctx context.Context, statuses ...CampaignStatus) ([]int64, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	args := make([]any, len(statuses))
	for i, s := range statuses {
		args[i] = s
	}

	rows, err := r.db.query(ctx, r.db.sql,
		`SELECT id FROM campaigns WHERE status IN (`+placeholders(len(statuses))+`) ORDER BY id`, args...)
	if err != nil {
		return nil, fmt.Errorf("list campaigns by status: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// TransitionCampaign moves a campaign from one status to another. The update
// is guarded on the current status; ErrConflict means another writer moved it.
// Entering completed stamps completed_at.
func (r *Repository) TransitionCampaign(ctx context.Context, id int64, from, to CampaignStatus, at time.Time) error {
	query := `UPDATE campaigns SET status = ? WHERE id = ? AND status = ?`
	args := []any{to, id, from}
	if to == CampaignCompleted {
		query = `UPDATE campaigns SET status = ?, completed_at = ? WHERE id = ? AND status = ?`
		args = []any{to, utc(at), id, from}
	}

	result, err := r.db.exec(ctx, r.db.sql, query, args...)
	if err != nil {
		return fmt.Errorf("update campaign status: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update campaign status: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("campaign %d %s -> %s: %w", id, from, to, ErrConflict)
	}

	r.logger.Info("campaign status changed",
		zap.Int64("campaign_id", id),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
	)
	return nil
}

// CampaignsWithSentEmails returns scheduled campaigns that already have at
// least one sent email, i.e. the ones that should become active.
func (r *Repository) CampaignsWithSentEmails(ctx context.Context, status CampaignStatus) ([]int64, error) {
	rows, err := r.db.query(ctx, r.db.sql, `
		SELECT c.id FROM campaigns c
		WHERE c.status = ?
		  AND EXISTS (SELECT 1 FROM emails e WHERE e.campaign_id = c.id AND e.status = 'sent')
		ORDER BY c.id`, status)
	if err != nil {
		return nil, fmt.Errorf("campaigns with sent emails: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
