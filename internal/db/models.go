package db

import "time"

// CampaignStatus only moves forward: draft, scheduled, active, completed.
type CampaignStatus string

const (
	CampaignDraft     CampaignStatus = "draft"
	CampaignScheduled CampaignStatus = "scheduled"
	CampaignActive    CampaignStatus = "active"
	CampaignCompleted CampaignStatus = "completed"
)

// Rank orders campaign statuses along the lifecycle. Unknown statuses rank -1.
func (s CampaignStatus) Rank() int {
	switch s {
	case CampaignDraft:
		return 0
	case CampaignScheduled:
		return 1
	case CampaignActive:
		return 2
	case CampaignCompleted:
		return 3
	}
	return -1
}

type EmailType string

const (
	EmailInitial          EmailType = "initial"
	EmailFollowUp         EmailType = "follow_up"
	EmailValueProposition EmailType = "value_proposition"
)

func (t EmailType) Valid() bool {
	return t == EmailInitial || t == EmailFollowUp || t == EmailValueProposition
}

type EmailStatus string

const (
	EmailPending   EmailStatus = "pending"
	EmailScheduled EmailStatus = "scheduled"
	EmailSent      EmailStatus = "sent"
	EmailFailed    EmailStatus = "failed"
)

type AppointmentStatus string

const (
	AppointmentScheduled AppointmentStatus = "scheduled"
	AppointmentCompleted AppointmentStatus = "completed"
	AppointmentCanceled  AppointmentStatus = "canceled"
)

// EngagementEvent is reported by external tracking hooks.
type EngagementEvent string

const (
	EventOpened  EngagementEvent = "opened"
	EventClicked EngagementEvent = "clicked"
	EventReplied EngagementEvent = "replied"
)

func (e EngagementEvent) Valid() bool {
	return e == EventOpened || e == EventClicked || e == EventReplied
}

type Business struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Category    string    `json:"category"`
	Address     string    `json:"address"`
	Phone       string    `json:"phone"`
	Email       string    `json:"email"`
	ContactName string    `json:"contact_name"`
	Location    string    `json:"location"`
	Source      string    `json:"source"`
	CreatedAt   time.Time `json:"created_at"`
}

type Campaign struct {
	ID           int64          `json:"id"`
	Name         string         `json:"name"`
	Description  string         `json:"description"`
	TemplateName string         `json:"template_name"`
	Status       CampaignStatus `json:"status"`
	CreatedAt    time.Time      `json:"created_at"`
	StartedAt    *time.Time     `json:"started_at,omitempty"`
	CompletedAt  *time.Time     `json:"completed_at,omitempty"`
}

// CampaignSummary is a campaign row plus its headline email counts.
type CampaignSummary struct {
	Campaign
	TotalEmails int `json:"total_emails"`
	SentEmails  int `json:"sent_emails"`
}

type Email struct {
	ID            int64       `json:"id"`
	BusinessID    int64       `json:"business_id"`
	CampaignID    int64       `json:"campaign_id"`
	Type          EmailType   `json:"email_type"`
	Status        EmailStatus `json:"status"`
	Subject       *string     `json:"subject,omitempty"`
	Content       *string     `json:"content,omitempty"`
	ScheduledTime *time.Time  `json:"scheduled_time,omitempty"`
	SentTime      *time.Time  `json:"sent_time,omitempty"`
	OpenedTime    *time.Time  `json:"opened_time,omitempty"`
	ClickedTime   *time.Time  `json:"clicked_time,omitempty"`
	RepliedTime   *time.Time  `json:"replied_time,omitempty"`
	TrackingID    string      `json:"tracking_id"`
	LastError     *string     `json:"last_error,omitempty"`
	CreatedAt     time.Time   `json:"created_at"`
}

// DueEmail is a scheduled email joined with its recipient, ready to send.
type DueEmail struct {
	ID           int64
	CampaignID   int64
	BusinessID   int64
	Type         EmailType
	Subject      string
	Content      string
	TrackingID   string
	BusinessName string
	Recipient    string
}

// ContentTarget is an email still waiting for generated content, with the
// business attributes the templates substitute.
type ContentTarget struct {
	EmailID  int64
	Type     EmailType
	Business Business
}

// ScheduleAssignment sets one pending email's send time. FollowUpAt is set
// for initial emails and creates the companion follow-up row.
type ScheduleAssignment struct {
	EmailID    int64
	BusinessID int64
	At         time.Time
	FollowUpAt *time.Time
}

type ScheduleOutcome struct {
	Scheduled int `json:"scheduled"`
	FollowUps int `json:"follow_ups"`
}

type Appointment struct {
	ID            int64             `json:"id"`
	BusinessID    int64             `json:"business_id"`
	CampaignID    int64             `json:"campaign_id"`
	Status        AppointmentStatus `json:"status"`
	ScheduledTime time.Time         `json:"scheduled_time"`
	Notes         string            `json:"notes,omitempty"`
	CalendlyLink  string            `json:"calendly_link,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
}

// EmailCounts aggregates a campaign's emails by status and engagement.
type EmailCounts struct {
	Total     int `json:"total"`
	Pending   int `json:"pending"`
	Scheduled int `json:"scheduled"`
	Sent      int `json:"sent"`
	Failed    int `json:"failed"`
	Opened    int `json:"opened"`
	Clicked   int `json:"clicked"`
	Replied   int `json:"replied"`
}

// Outstanding is the number of emails that may still be sent.
func (c EmailCounts) Outstanding() int {
	return c.Pending + c.Scheduled
}

// AnalyticsSnapshot is one campaign's counts for one UTC calendar day.
type AnalyticsSnapshot struct {
	ID           int64       `json:"id"`
	CampaignID   int64       `json:"campaign_id"`
	Day          time.Time   `json:"day"`
	Counts       EmailCounts `json:"counts"`
	Appointments int         `json:"appointments"`
	UpdatedAt    time.Time   `json:"updated_at"`
}

// BusinessEmail is one line of a business's email history.
type BusinessEmail struct {
	ID           int64       `json:"id"`
	CampaignID   int64       `json:"campaign_id"`
	CampaignName string      `json:"campaign_name"`
	Type         EmailType   `json:"type"`
	Status       EmailStatus `json:"status"`
	SentTime     *time.Time  `json:"sent_time,omitempty"`
	OpenedTime   *time.Time  `json:"opened_time,omitempty"`
	RepliedTime  *time.Time  `json:"replied_time,omitempty"`
}

type BusinessDetails struct {
	Business
	Emails       []BusinessEmail `json:"emails"`
	Appointments []Appointment   `json:"appointments"`
}

// BusinessFilter selects businesses for a campaign. IDs win over the
// substring filters; an empty filter selects every business.
type BusinessFilter struct {
	IDs      []int64
	Category string
	Location string
}
