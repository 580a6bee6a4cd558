package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Repository is the typed access layer for the outreach tables.
type Repository struct {
	db     *DB
	logger *zap.Logger
	now    func() time.Time
}

// NewRepository creates a repository over an open DB.
func NewRepository(db *DB, logger *zap.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
		now:    time.Now,
	}
}

// UpsertBusiness inserts a business or refreshes the one with the same name
// and phone. It reports whether a new row was created.
func (r *Repository) UpsertBusiness(ctx context.Context, b *Business) (bool, error) {
	var id int64
	err := r.db.queryRow(ctx, r.db.sql,
		`SELECT id FROM businesses WHERE name = ? AND phone = ?`, b.Name, b.Phone,
	).Scan(&id)

	switch {
	case err == nil:
		_, err = r.db.exec(ctx, r.db.sql, `
			UPDATE businesses
			SET category = ?, address = ?, email = ?, contact_name = ?, location = ?, source = ?
			WHERE id = ?`,
			b.Category, b.Address, b.Email, b.ContactName, b.Location, b.Source, id,
		)
		if err != nil {
			return false, fmt.Errorf("update business %d: %w", id, err)
		}
		b.ID = id
		return false, nil

	case errors.Is(err, sql.ErrNoRows):
		if b.Source == "" {
			b.Source = "import"
		}
		b.CreatedAt = utc(r.now())
		err = r.db.queryRow(ctx, r.db.sql, `
			INSERT INTO businesses (name, category, address, phone, email, contact_name, location, source, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			RETURNING id`,
			b.Name, b.Category, b.Address, b.Phone, b.Email, b.ContactName, b.Location, b.Source, b.CreatedAt,
		).Scan(&b.ID)
		if err != nil {
			return false, fmt.Errorf("insert business: %w", err)
		}
		return true, nil

	default:
		return false, fmt.Errorf("lookup business: %w", err)
	}
}

const businessColumns = `id, name, category, address, phone, email, contact_name, location, source, created_at`

func scanBusiness(row interface{ Scan(...any) error }, b *Business) error {
	return row.Scan(&b.ID, &b.Name, &b.Category, &b.Address, &b.Phone, &b.Email,
		&b.ContactName, &b.Location, &b.Source, &b.CreatedAt)
}

// GetBusiness returns one business by id.
func (r *Repository) GetBusiness(ctx context.Context, id int64) (*Business, error) {
	var b Business
	err := scanBusiness(r.db.queryRow(ctx, r.db.sql,
		`SELECT `+businessColumns+` FROM businesses WHERE id = ?`, id), &b)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("business %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get business: %w", err)
	}
	return &b, nil
}

// FindBusinessIDs resolves a filter to business ids in id order.
func (r *Repository) FindBusinessIDs(ctx context.Context, f BusinessFilter) ([]int64, error) {
	query := `SELECT id FROM businesses WHERE 1=1`
	var args []any

	if len(f.IDs) > 0 {
		query += ` AND id IN (` + placeholders(len(f.IDs)) + `)`
		for _, id := range f.IDs {
			args = append(args, id)
		}
	} else {
		if f.Category != "" {
			query += ` AND LOWER(category) LIKE ?`
			args = append(args, "%"+strings.ToLower(f.Category)+"%")
		}
		if f.Location != "" {
			query += ` AND LOWER(location) LIKE ?`
			args = append(args, "%"+strings.ToLower(f.Location)+"%")
		}
	}
	query += ` ORDER BY id`

	rows, err := r.db.query(ctx, r.db.sql, query, args...)
	if err != nil {
		return nil, fmt.Errorf("find businesses: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan business id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// GetBusinessDetails returns a business with its email and appointment history.
func (r *Repository) GetBusinessDetails(ctx context.Context, id int64) (*BusinessDetails, error) {
	b, err := r.GetBusiness(ctx, id)
	if err != nil {
		return nil, err
	}
	details := &BusinessDetails{Business: *b, Emails: []BusinessEmail{}, Appointments: []Appointment{}}

	rows, err := r.db.query(ctx, r.db.sql, `
		SELECT e.id, e.campaign_id, c.name, e.email_type, e.status, e.sent_time, e.opened_time, e.replied_time
		FROM emails e
		JOIN campaigns c ON c.id = e.campaign_id
		WHERE e.business_id = ?
		ORDER BY e.id DESC`, id)
	if err != nil {
		return nil, fmt.Errorf("list business emails: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var e BusinessEmail
		if err := rows.Scan(&e.ID, &e.CampaignID, &e.CampaignName, &e.Type, &e.Status,
			&e.SentTime, &e.OpenedTime, &e.RepliedTime); err != nil {
			return nil, fmt.Errorf("scan business email: %w", err)
		}
		details.Emails = append(details.Emails, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	appts, err := r.listAppointments(ctx, `WHERE business_id = ? ORDER BY scheduled_time DESC`, id)
	if err != nil {
		return nil, err
	}
	details.Appointments = appts

	return details, nil
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
