package db_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lalithlochan/outreach/internal/db"
	"github.com/lalithlochan/outreach/internal/db/dbtest"
)

func TestMigrate_Idempotent(t *testing.T) {
	_, store := dbtest.Open(t)

	result, err := store.Migrate(context.Background())
	require.NoError(t, err)
	assert.Empty(t, result.Applied)
	assert.Equal(t, []string{"0001_init.up.sql"}, result.Skipped)
}

func TestUpsertBusiness(t *testing.T) {
	repo, _ := dbtest.Open(t)
	ctx := context.Background()

	b := &db.Business{Name: "Joe's Pizza", Phone: "+15550001111", Category: "restaurant"}
	created, err := repo.UpsertBusiness(ctx, b)
	require.NoError(t, err)
	assert.True(t, created)

	again := &db.Business{Name: "Joe's Pizza", Phone: "+15550001111", Category: "pizzeria", Email: "joe@example.com"}
	created, err = repo.UpsertBusiness(ctx, again)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, b.ID, again.ID)

	got, err := repo.GetBusiness(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, "pizzeria", got.Category)
	assert.Equal(t, "joe@example.com", got.Email)
}

func TestGetBusiness_NotFound(t *testing.T) {
	repo, _ := dbtest.Open(t)

	_, err := repo.GetBusiness(context.Background(), 404)
	assert.ErrorIs(t, err, db.ErrNotFound)
}

func TestFindBusinessIDs(t *testing.T) {
	repo, _ := dbtest.Open(t)
	ctx := context.Background()

	for _, b := range []*db.Business{
		{Name: "A", Phone: "1", Category: "Restaurant", Location: "Austin"},
		{Name: "B", Phone: "2", Category: "plumber", Location: "Austin"},
		{Name: "C", Phone: "3", Category: "restaurant", Location: "Denver"},
	} {
		_, err := repo.UpsertBusiness(ctx, b)
		require.NoError(t, err)
	}

	all, err := repo.FindBusinessIDs(ctx, db.BusinessFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	restaurants, err := repo.FindBusinessIDs(ctx, db.BusinessFilter{Category: "RESTAUR"})
	require.NoError(t, err)
	assert.Equal(t, []int64{all[0], all[2]}, restaurants)

	austinRestaurants, err := repo.FindBusinessIDs(ctx, db.BusinessFilter{Category: "restaurant", Location: "austin"})
	require.NoError(t, err)
	assert.Equal(t, []int64{all[0]}, austinRestaurants)

	byID, err := repo.FindBusinessIDs(ctx, db.BusinessFilter{IDs: []int64{all[1]}, Category: "restaurant"})
	require.NoError(t, err)
	assert.Equal(t, []int64{all[1]}, byID)
}

func TestAddCampaignEmails_SkipsExistingMembers(t *testing.T) {
	repo, _ := dbtest.Open(t)
	ctx := context.Background()

	ids := dbtest.SeedBusinesses(t, repo, 3)
	c := dbtest.SeedCampaign(t, repo, ids[:2])

	added, err := repo.AddCampaignEmails(ctx, c.ID, ids, db.EmailInitial)
	require.NoError(t, err)
	assert.Equal(t, 1, added)

	emails, err := repo.ListCampaignEmails(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, emails, 3)

	seen := map[string]bool{}
	for _, e := range emails {
		assert.Equal(t, db.EmailPending, e.Status)
		assert.Nil(t, e.Content)
		assert.NotEmpty(t, e.TrackingID)
		assert.False(t, seen[e.TrackingID], "tracking ids must be unique")
		seen[e.TrackingID] = true
	}
}

func TestApplySchedule(t *testing.T) {
	repo, _ := dbtest.Open(t)
	ctx := context.Background()

	ids := dbtest.SeedBusinesses(t, repo, 2)
	c := dbtest.SeedCampaign(t, repo, ids)

	pending, err := repo.PendingEmails(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, pending, 2)

	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	followUp := start.AddDate(0, 0, 7)
	assignments := []db.ScheduleAssignment{
		{EmailID: pending[0].ID, BusinessID: pending[0].BusinessID, At: start, FollowUpAt: &followUp},
		{EmailID: pending[1].ID, BusinessID: pending[1].BusinessID, At: start},
	}

	out, err := repo.ApplySchedule(ctx, c.ID, start, assignments)
	require.NoError(t, err)
	assert.Equal(t, db.ScheduleOutcome{Scheduled: 2, FollowUps: 1}, out)

	campaign, err := repo.GetCampaign(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, db.CampaignScheduled, campaign.Status)
	require.NotNil(t, campaign.StartedAt)
	assert.True(t, campaign.StartedAt.Equal(start))

	emails, err := repo.ListCampaignEmails(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, emails, 3)
	assert.Equal(t, db.EmailFollowUp, emails[2].Type)
	assert.Equal(t, db.EmailScheduled, emails[2].Status)
	assert.True(t, emails[2].ScheduledTime.Equal(followUp))

	// a second apply touches nothing and creates no duplicate follow-ups
	out, err = repo.ApplySchedule(ctx, c.ID, start, assignments)
	require.NoError(t, err)
	assert.Equal(t, db.ScheduleOutcome{}, out)
}

func TestDueEmails_SkipsMissingContentAndFutureRows(t *testing.T) {
	repo, _ := dbtest.Open(t)
	ctx := context.Background()

	ids := dbtest.SeedBusinesses(t, repo, 3)
	c := dbtest.SeedCampaign(t, repo, ids)
	pending, err := repo.PendingEmails(ctx, c.ID)
	require.NoError(t, err)

	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	_, err = repo.ApplySchedule(ctx, c.ID, now, []db.ScheduleAssignment{
		{EmailID: pending[0].ID, At: now.Add(-time.Hour)},
		{EmailID: pending[1].ID, At: now.Add(-time.Hour)},
		{EmailID: pending[2].ID, At: now.Add(time.Hour)},
	})
	require.NoError(t, err)

	require.NoError(t, repo.SetEmailContent(ctx, pending[0].ID, "Hello", "Body"))
	require.NoError(t, repo.SetEmailContent(ctx, pending[2].ID, "Later", "Body"))

	due, err := repo.DueEmails(ctx, now, 0)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, pending[0].ID, due[0].ID)
	assert.Equal(t, "Hello", due[0].Subject)
	assert.NotEmpty(t, due[0].Recipient)
}

func TestMarkEmailSent_GuardsOnScheduled(t *testing.T) {
	repo, _ := dbtest.Open(t)
	ctx := context.Background()

	ids := dbtest.SeedBusinesses(t, repo, 1)
	c := dbtest.SeedCampaign(t, repo, ids)
	pending, err := repo.PendingEmails(ctx, c.ID)
	require.NoError(t, err)

	// pending rows are never sendable
	err = repo.MarkEmailSent(ctx, pending[0].ID, time.Now())
	assert.ErrorIs(t, err, db.ErrConflict)

	now := time.Now().UTC()
	_, err = repo.ApplySchedule(ctx, c.ID, now, []db.ScheduleAssignment{{EmailID: pending[0].ID, At: now}})
	require.NoError(t, err)

	require.NoError(t, repo.MarkEmailSent(ctx, pending[0].ID, now))
	assert.ErrorIs(t, repo.MarkEmailSent(ctx, pending[0].ID, now), db.ErrConflict)
	assert.ErrorIs(t, repo.MarkEmailFailed(ctx, pending[0].ID, "late failure"), db.ErrConflict)

	got, err := repo.GetEmail(ctx, pending[0].ID)
	require.NoError(t, err)
	assert.Equal(t, db.EmailSent, got.Status)
	require.NotNil(t, got.SentTime)
}

func TestRequeueFailed(t *testing.T) {
	repo, _ := dbtest.Open(t)
	ctx := context.Background()

	ids := dbtest.SeedBusinesses(t, repo, 2)
	c := dbtest.SeedCampaign(t, repo, ids)
	pending, err := repo.PendingEmails(ctx, c.ID)
	require.NoError(t, err)

	now := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
	_, err = repo.ApplySchedule(ctx, c.ID, now, []db.ScheduleAssignment{
		{EmailID: pending[0].ID, At: now},
		{EmailID: pending[1].ID, At: now},
	})
	require.NoError(t, err)
	require.NoError(t, repo.MarkEmailFailed(ctx, pending[0].ID, "mailbox unavailable"))

	later := now.Add(48 * time.Hour)
	n, err := repo.RequeueFailed(ctx, c.ID, later)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := repo.GetEmail(ctx, pending[0].ID)
	require.NoError(t, err)
	assert.Equal(t, db.EmailScheduled, got.Status)
	assert.Nil(t, got.LastError)
	assert.True(t, got.ScheduledTime.Equal(later))
}

func TestRecordEngagement(t *testing.T) {
	repo, _ := dbtest.Open(t)
	ctx := context.Background()

	ids := dbtest.SeedBusinesses(t, repo, 1)
	c := dbtest.SeedCampaign(t, repo, ids)
	emails, err := repo.ListCampaignEmails(ctx, c.ID)
	require.NoError(t, err)
	tracking := emails[0].TrackingID

	first, err := repo.RecordEngagement(ctx, tracking, db.EventOpened, time.Now())
	require.NoError(t, err)
	assert.True(t, first)

	second, err := repo.RecordEngagement(ctx, tracking, db.EventOpened, time.Now())
	require.NoError(t, err)
	assert.False(t, second)

	_, err = repo.RecordEngagement(ctx, "no-such-id", db.EventClicked, time.Now())
	assert.ErrorIs(t, err, db.ErrNotFound)

	_, err = repo.RecordEngagement(ctx, tracking, db.EngagementEvent("bounced"), time.Now())
	assert.Error(t, err)

	counts, err := repo.EmailCounts(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, counts.Opened)
	assert.Equal(t, 0, counts.Clicked)
}

func TestUpsertSnapshot_OnePerDay(t *testing.T) {
	repo, _ := dbtest.Open(t)
	ctx := context.Background()

	c := dbtest.SeedCampaign(t, repo, nil)
	morning := time.Date(2025, 3, 4, 9, 0, 0, 0, time.UTC)

	s := &db.AnalyticsSnapshot{CampaignID: c.ID, Day: morning, Counts: db.EmailCounts{Total: 5, Sent: 1}}
	require.NoError(t, repo.UpsertSnapshot(ctx, s))

	s2 := &db.AnalyticsSnapshot{CampaignID: c.ID, Day: morning.Add(6 * time.Hour), Counts: db.EmailCounts{Total: 5, Sent: 4}, Appointments: 1}
	require.NoError(t, repo.UpsertSnapshot(ctx, s2))
	assert.Equal(t, s.ID, s2.ID)

	s3 := &db.AnalyticsSnapshot{CampaignID: c.ID, Day: morning.AddDate(0, 0, 1), Counts: db.EmailCounts{Total: 5, Sent: 5}}
	require.NoError(t, repo.UpsertSnapshot(ctx, s3))

	snaps, err := repo.ListSnapshots(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, snaps, 2)
	assert.Equal(t, 4, snaps[0].Counts.Sent)
	assert.Equal(t, 1, snaps[0].Appointments)
	assert.True(t, snaps[0].Day.Equal(db.Day(morning)))
	assert.Equal(t, 5, snaps[1].Counts.Sent)
}

func TestGetBusinessDetails(t *testing.T) {
	repo, _ := dbtest.Open(t)
	ctx := context.Background()

	ids := dbtest.SeedBusinesses(t, repo, 1)
	c := dbtest.SeedCampaign(t, repo, ids)

	appt := &db.Appointment{BusinessID: ids[0], CampaignID: c.ID, ScheduledTime: time.Now().Add(24 * time.Hour), Notes: "intro call"}
	require.NoError(t, repo.CreateAppointment(ctx, appt))
	assert.Equal(t, db.AppointmentScheduled, appt.Status)

	details, err := repo.GetBusinessDetails(ctx, ids[0])
	require.NoError(t, err)
	require.Len(t, details.Emails, 1)
	assert.Equal(t, c.Name, details.Emails[0].CampaignName)
	require.Len(t, details.Appointments, 1)
	assert.Equal(t, "intro call", details.Appointments[0].Notes)

	n, err := repo.CountAppointments(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestTransitionCampaign(t *testing.T) {
	repo, _ := dbtest.Open(t)
	ctx := context.Background()

	c := dbtest.SeedCampaign(t, repo, nil)

	require.NoError(t, repo.TransitionCampaign(ctx, c.ID, db.CampaignDraft, db.CampaignScheduled, time.Now()))
	assert.ErrorIs(t, repo.TransitionCampaign(ctx, c.ID, db.CampaignDraft, db.CampaignScheduled, time.Now()), db.ErrConflict)

	require.NoError(t, repo.TransitionCampaign(ctx, c.ID, db.CampaignScheduled, db.CampaignCompleted, time.Now()))
	got, err := repo.GetCampaign(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, db.CampaignCompleted, got.Status)
	assert.NotNil(t, got.CompletedAt)

	summaries, err := repo.ListCampaigns(ctx)
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.Equal(t, 0, summaries[0].TotalEmails)
}
