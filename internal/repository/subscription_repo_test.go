package repository

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qs3c/artgen_go_server/internal/model"
	"github.com/qs3c/artgen_go_server/internal/testutil"
)

func TestSubscriptionRepository_GetActiveByUser(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	repo := NewSubscriptionRepository(db)
	user := testutil.TestUser(t, db)
	now := time.Now()

	// 已过期的 active 订阅不应被返回
	testutil.TestSubscription(t, db, user.ID,
		testutil.WithSubExpiry(now.Add(-time.Hour)))

	_, err := repo.GetActiveByUser(user.ID, now)
	assert.Error(t, err)

	current := testutil.TestSubscription(t, db, user.ID,
		testutil.WithSubExpiry(now.Add(20*24*time.Hour)))

	found, err := repo.GetActiveByUser(user.ID, now)
	require.NoError(t, err)
	assert.Equal(t, current.ID, found.ID)
}

func TestSubscriptionRepository_GetActiveByUser_SkipsNonActive(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	repo := NewSubscriptionRepository(db)
	user := testutil.TestUser(t, db)
	now := time.Now()

	testutil.TestSubscription(t, db, user.ID,
		testutil.WithSubStatus(model.SubStatusPending))
	testutil.TestSubscription(t, db, user.ID,
		testutil.WithSubStatus(model.SubStatusExpired))

	_, err := repo.GetActiveByUser(user.ID, now)
	assert.Error(t, err)
}

func TestSubscriptionRepository_GetByCreemID(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	repo := NewSubscriptionRepository(db)
	user := testutil.TestUser(t, db)

	created := testutil.TestSubscription(t, db, user.ID,
		testutil.WithCreemID("sub_abc123"))

	found, err := repo.GetByCreemID("sub_abc123")
	require.NoError(t, err)
	assert.Equal(t, created.ID, found.ID)

	_, err = repo.GetByCreemID("sub_missing")
	assert.Error(t, err)
}

func TestSubscriptionRepository_UnactivatedMonths(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	repo := NewSubscriptionRepository(db)
	user := testutil.TestUser(t, db)

	sub := testutil.TestSubscription(t, db, user.ID)
	require.Zero(t, sub.UnactivatedMonths)

	err := repo.IncrementUnactivatedMonths(sub.ID, 11)
	require.NoError(t, err)

	found, err := repo.GetByID(sub.ID)
	require.NoError(t, err)
	assert.Equal(t, 11, found.UnactivatedMonths)

	err = repo.DecrementUnactivatedMonths(sub.ID)
	require.NoError(t, err)

	found, err = repo.GetByID(sub.ID)
	require.NoError(t, err)
	assert.Equal(t, 10, found.UnactivatedMonths)
}

func TestSubscriptionRepository_DecrementUnactivatedMonths_NotBelowZero(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	repo := NewSubscriptionRepository(db)
	user := testutil.TestUser(t, db)

	sub := testutil.TestSubscription(t, db, user.ID)

	err := repo.DecrementUnactivatedMonths(sub.ID)
	require.NoError(t, err)

	found, err := repo.GetByID(sub.ID)
	require.NoError(t, err)
	assert.Zero(t, found.UnactivatedMonths)
}

func TestSubscriptionRepository_ListActiveWithUnactivatedMonths(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	repo := NewSubscriptionRepository(db)
	user := testutil.TestUser(t, db)

	yearly := testutil.TestSubscription(t, db, user.ID,
		testutil.WithCycle(model.CycleYearly),
		testutil.WithUnactivatedMonths(11))
	testutil.TestSubscription(t, db, user.ID)
	testutil.TestSubscription(t, db, user.ID,
		testutil.WithSubStatus(model.SubStatusExpired),
		testutil.WithUnactivatedMonths(3))

	subs, err := repo.ListActiveWithUnactivatedMonths()
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, yearly.ID, subs[0].ID)
}

func TestSubscriptionRepository_ListPendingDue(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	repo := NewSubscriptionRepository(db)
	user := testutil.TestUser(t, db)
	now := time.Now()

	due := testutil.TestSubscription(t, db, user.ID,
		testutil.WithSubStatus(model.SubStatusPending))
	dueAt := now.Add(-time.Minute)
	require.NoError(t, db.Model(due).Update("activation_date", dueAt).Error)

	// 激活时间未到
	future := testutil.TestSubscription(t, db, user.ID,
		testutil.WithSubStatus(model.SubStatusPending))
	futureAt := now.Add(24 * time.Hour)
	require.NoError(t, db.Model(future).Update("activation_date", futureAt).Error)

	// pending 但没有激活时间（异常数据）不应被扫到
	testutil.TestSubscription(t, db, user.ID,
		testutil.WithSubStatus(model.SubStatusPending))

	subs, err := repo.ListPendingDue(now)
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, due.ID, subs[0].ID)
}

func TestSubscriptionRepository_ListActiveExpiredBefore(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	repo := NewSubscriptionRepository(db)
	user := testutil.TestUser(t, db)
	now := time.Now()

	overdue := testutil.TestSubscription(t, db, user.ID,
		testutil.WithSubExpiry(now.Add(-time.Hour)))
	testutil.TestSubscription(t, db, user.ID,
		testutil.WithSubExpiry(now.Add(time.Hour)))
	testutil.TestSubscription(t, db, user.ID,
		testutil.WithSubStatus(model.SubStatusExpired),
		testutil.WithSubExpiry(now.Add(-time.Hour)))

	subs, err := repo.ListActiveExpiredBefore(now)
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, overdue.ID, subs[0].ID)
}

func TestSubscriptionRepository_ListByUser(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	repo := NewSubscriptionRepository(db)
	user := testutil.TestUser(t, db)
	other := testutil.TestUser(t, db, testutil.WithUsername("other"))

	testutil.TestSubscription(t, db, user.ID,
		testutil.WithSubStatus(model.SubStatusExpired))
	testutil.TestSubscription(t, db, user.ID,
		testutil.WithPlan(model.PlanPro, 800))
	testutil.TestSubscription(t, db, other.ID)

	subs, err := repo.ListByUser(user.ID)
	require.NoError(t, err)
	assert.Len(t, subs, 2)
}
