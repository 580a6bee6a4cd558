// Package report renders campaign results as an XLSX workbook and can
// upload it to S3.
package report

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/lalithlochan/outreach/internal/campaign"
	"github.com/lalithlochan/outreach/internal/db"
)

const (
	SummarySheet   = "Summary"
	SnapshotsSheet = "Daily"

	ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

type Source interface {
	GetCampaignStats(ctx context.Context, campaignID int64) (*campaign.Stats, error)
	Snapshots(ctx context.Context, campaignID int64) ([]db.AnalyticsSnapshot, error)
}

type s3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type Exporter struct {
	source Source
	s3     s3API
	bucket string
	now    func() time.Time
	logger *zap.Logger
}

func NewExporter(source Source, logger *zap.Logger) *Exporter {
	return &Exporter{source: source, now: time.Now, logger: logger}
}

// WithBucket enables Upload. The AWS config is loaded from the environment.
func (e *Exporter) WithBucket(ctx context.Context, bucket, region string) (*Exporter, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	e.s3 = s3.NewFromConfig(awsCfg)
	e.bucket = bucket
	return e, nil
}

// CanUpload reports whether a bucket is configured.
func (e *Exporter) CanUpload() bool { return e.s3 != nil && e.bucket != "" }

// Build renders the campaign workbook.
func (e *Exporter) Build(ctx context.Context, campaignID int64) ([]byte, error) {
	stats, err := e.source.GetCampaignStats(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	snapshots, err := e.source.Snapshots(ctx, campaignID)
	if err != nil {
		return nil, err
	}

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), SummarySheet); err != nil {
		return nil, fmt.Errorf("rename sheet: %w", err)
	}
	header, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E0E0E0"}, Pattern: 1},
	})
	if err != nil {
		return nil, fmt.Errorf("create header style: %w", err)
	}

	if err := writeSummary(f, header, stats); err != nil {
		return nil, err
	}
	if err := writeSnapshots(f, header, snapshots); err != nil {
		return nil, err
	}
	f.SetActiveSheet(0)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("write workbook: %w", err)
	}
	return buf.Bytes(), nil
}

func writeSummary(f *excelize.File, header int, s *campaign.Stats) error {
	rows := [][]any{
		{"Field", "Value"},
		{"Campaign", s.Campaign.Name},
		{"Status", string(s.Campaign.Status)},
		{"Template", s.Campaign.TemplateName},
		{"Created", s.Campaign.CreatedAt.UTC().Format(time.RFC3339)},
		{"Total emails", s.Emails.Total},
		{"Pending", s.Emails.Pending},
		{"Scheduled", s.Emails.Scheduled},
		{"Sent", s.Emails.Sent},
		{"Failed", s.Emails.Failed},
		{"Opened", s.Emails.Opened},
		{"Clicked", s.Emails.Clicked},
		{"Replied", s.Emails.Replied},
		{"Appointments", s.Appointments},
		{"Open rate %", s.Rates.Open},
		{"Click rate %", s.Rates.Click},
		{"Reply rate %", s.Rates.Reply},
		{"Appointment rate %", s.Rates.Appointment},
	}
	if err := setRows(f, SummarySheet, rows); err != nil {
		return err
	}
	_ = f.SetCellStyle(SummarySheet, "A1", "B1", header)
	_ = f.SetColWidth(SummarySheet, "A", "A", 22)
	_ = f.SetColWidth(SummarySheet, "B", "B", 30)
	return nil
}

func writeSnapshots(f *excelize.File, header int, snapshots []db.AnalyticsSnapshot) error {
	if _, err := f.NewSheet(SnapshotsSheet); err != nil {
		return fmt.Errorf("create sheet %s: %w", SnapshotsSheet, err)
	}
	rows := [][]any{{"Day", "Total", "Scheduled", "Sent", "Failed", "Opened", "Clicked", "Replied", "Appointments"}}
	for _, s := range snapshots {
		rows = append(rows, []any{
			s.Day.UTC().Format("2006-01-02"),
			s.Counts.Total, s.Counts.Scheduled, s.Counts.Sent, s.Counts.Failed,
			s.Counts.Opened, s.Counts.Clicked, s.Counts.Replied, s.Appointments,
		})
	}
	if err := setRows(f, SnapshotsSheet, rows); err != nil {
		return err
	}
	_ = f.SetCellStyle(SnapshotsSheet, "A1", "I1", header)
	_ = f.SetColWidth(SnapshotsSheet, "A", "I", 13)
	return nil
}

func setRows(f *excelize.File, sheet string, rows [][]any) error {
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("write %s row %d: %w", sheet, i+1, err)
		}
	}
	return nil
}

// Upload builds the workbook and stores it under
// reports/campaign-<id>/<timestamp>.xlsx, returning the object key.
func (e *Exporter) Upload(ctx context.Context, campaignID int64) (string, error) {
	if !e.CanUpload() {
		return "", fmt.Errorf("report upload needs REPORT_BUCKET")
	}
	data, err := e.Build(ctx, campaignID)
	if err != nil {
		return "", err
	}

	key := fmt.Sprintf("reports/campaign-%d/%s.xlsx", campaignID, e.now().UTC().Format("20060102T150405Z"))
	_, err = e.s3.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(e.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(ContentType),
	})
	if err != nil {
		return "", fmt.Errorf("upload report to s3: %w", err)
	}

	e.logger.Info("campaign report uploaded",
		zap.Int64("campaign_id", campaignID),
		zap.String("bucket", e.bucket),
		zap.String("key", key),
		zap.Int("bytes", len(data)),
	)
	return key, nil
}
