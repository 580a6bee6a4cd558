package dbtest

import (
	"context"
	"fmt"
	"testing"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/stretchr/testify/require"

	"github.com/lalithlochan/outreach/internal/db"
)

var categories = []string{"restaurant", "plumber", "electrician", "hairdresser", "dentist", "mechanic", "cleaner"}

// FakeBusiness builds a plausible business. The seed keeps names and phones
// distinct so upserts never collide within a test.
func FakeBusiness(faker *gofakeit.Faker, i int) *db.Business {
	return &db.Business{
		Name:        fmt.Sprintf("%s %d", faker.Company(), i),
		Category:    categories[i%len(categories)],
		Address:     faker.Street(),
		Phone:       fmt.Sprintf("+1555%07d", i),
		Email:       faker.Email(),
		ContactName: faker.Name(),
		Location:    faker.City(),
		Source:      "fixture",
	}
}

// SeedBusinesses inserts n fake businesses and returns their ids in
// insertion order.
func SeedBusinesses(t testing.TB, repo *db.Repository, n int) []int64 {
	t.Helper()

	faker := gofakeit.New(int64(n))
	ids := make([]int64, 0, n)
	for i := 0; i < n; i++ {
		b := FakeBusiness(faker, i)
		created, err := repo.UpsertBusiness(context.Background(), b)
		require.NoError(t, err)
		require.True(t, created)
		ids = append(ids, b.ID)
	}
	return ids
}

// SeedCampaign creates a draft campaign with one pending initial email per
// business.
func SeedCampaign(t testing.TB, repo *db.Repository, businessIDs []int64) *db.Campaign {
	t.Helper()

	ctx := context.Background()
	c := &db.Campaign{Name: "fixture campaign", TemplateName: "initial_contact"}
	require.NoError(t, repo.CreateCampaign(ctx, c))

	added, err := repo.AddCampaignEmails(ctx, c.ID, businessIDs, db.EmailInitial)
	require.NoError(t, err)
	require.Equal(t, len(businessIDs), added)
	return c
}
