package campaign

import (
	"time"

	"github.com/lalithlochan/outreach/internal/db"
)

// Operator defaults when a schedule request leaves the pacing unset.
const (
	DefaultEmailsPerDay = 10
	DefaultFollowUpDays = 7
)

// ScheduleRequest is the operator input to ScheduleCampaign.
type ScheduleRequest struct {
	StartDate    time.Time
	EmailsPerDay int
	FollowUpDays int
}

// PlanSchedule assigns send days to pending emails given in creation order.
// The i-th email lands on start + floor(i/emailsPerDay) days, at UTC
// midnight. Initial emails also get a follow-up followUpDays after their own
// send day.
func PlanSchedule(pending []db.Email, start time.Time, emailsPerDay, followUpDays int) []db.ScheduleAssignment {
	if emailsPerDay < 1 {
		return nil
	}
	day := db.Day(start)

	out := make([]db.ScheduleAssignment, 0, len(pending))
	for i, e := range pending {
		at := day.AddDate(0, 0, i/emailsPerDay)
		a := db.ScheduleAssignment{
			EmailID:    e.ID,
			BusinessID: e.BusinessID,
			At:         at,
		}
		if e.Type == db.EmailInitial {
			followUp := at.AddDate(0, 0, followUpDays)
			a.FollowUpAt = &followUp
		}
		out = append(out, a)
	}
	return out
}
