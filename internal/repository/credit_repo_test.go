package repository

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qs3c/artgen_go_server/internal/model"
	"github.com/qs3c/artgen_go_server/internal/testutil"
)

func TestCreditRepository_SumAvailable(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	repo := NewCreditRepository(db)
	user := testutil.TestUser(t, db)
	now := time.Now()

	testutil.TestGrant(t, db, user.ID, 100)
	testutil.TestGrant(t, db, user.ID, 50, testutil.WithExpiry(now.Add(24*time.Hour)))
	// 过期、冻结、pending 都不计入
	testutil.TestGrant(t, db, user.ID, 30, testutil.WithExpiry(now.Add(-time.Hour)))
	testutil.TestGrant(t, db, user.ID, 20, testutil.WithFrozen(now.Add(time.Hour), 3600))
	testutil.TestGrant(t, db, user.ID, 10, testutil.WithPending(now.Add(time.Hour)))

	sum, err := repo.SumAvailable(user.ID, now)
	require.NoError(t, err)
	assert.Equal(t, 150, sum)
}

func TestCreditRepository_DecrementRemaining(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	repo := NewCreditRepository(db)
	user := testutil.TestUser(t, db)
	grant := testutil.TestGrant(t, db, user.ID, 100)

	err := repo.DecrementRemaining(db, grant.ID, 40)
	require.NoError(t, err)

	found, err := repo.GetByID(grant.ID)
	require.NoError(t, err)
	assert.Equal(t, 60, found.RemainingAmount)
	assert.Equal(t, 100, found.Amount) // 发放量不变
}

func TestCreditRepository_GetLatestRefill(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	repo := NewCreditRepository(db)
	user := testutil.TestUser(t, db)
	subID := int64(7)

	first := testutil.TestGrant(t, db, user.ID, 150,
		testutil.WithTxType(model.TxSubscriptionRefill),
		testutil.WithRelatedEntity(model.EntitySubscription, subID),
	)
	require.NoError(t, db.Model(first).Update("created_at", time.Now().Add(-30*24*time.Hour)).Error)
	latest := testutil.TestGrant(t, db, user.ID, 150,
		testutil.WithTxType(model.TxSubscriptionRefill),
		testutil.WithRelatedEntity(model.EntitySubscription, subID),
	)

	found, err := repo.GetLatestRefill(user.ID, subID)
	require.NoError(t, err)
	assert.Equal(t, latest.ID, found.ID)
}

func TestCreditRepository_UnfreezeAll(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	repo := NewCreditRepository(db)
	user := testutil.TestUser(t, db)
	now := time.Now()

	testutil.TestGrant(t, db, user.ID, 50, testutil.WithFrozen(now.Add(time.Hour), 3600))
	testutil.TestGrant(t, db, user.ID, 30, testutil.WithFrozen(now.Add(time.Hour), 3600))
	testutil.TestGrant(t, db, user.ID, 20)

	n, err := repo.UnfreezeAll(user.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	sum, err := repo.SumAvailable(user.ID, now)
	require.NoError(t, err)
	assert.Equal(t, 100, sum)

	// 再次执行无事可做
	n, err = repo.UnfreezeAll(user.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestCreditRepository_HasGrantForEntity(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	repo := NewCreditRepository(db)
	user := testutil.TestUser(t, db)
	subID := int64(3)

	testutil.TestGrant(t, db, user.ID, 150,
		testutil.WithTxType(model.TxSubscriptionRefill),
		testutil.WithRelatedEntity(model.EntitySubscription, subID),
	)

	has, err := repo.HasGrantForEntity(user.ID, model.TxSubscriptionRefill, subID, time.Now().Add(-5*time.Minute))
	require.NoError(t, err)
	assert.True(t, has)

	// 其他订阅或其他类型不会误判
	has, err = repo.HasGrantForEntity(user.ID, model.TxSubscriptionRefill, 999, time.Now().Add(-5*time.Minute))
	require.NoError(t, err)
	assert.False(t, has)

	has, err = repo.HasGrantForEntity(user.ID, model.TxSubscriptionBonus, subID, time.Now().Add(-5*time.Minute))
	require.NoError(t, err)
	assert.False(t, has)
}

func TestCreditRepository_ListExpiringBefore(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	repo := NewCreditRepository(db)
	user := testutil.TestUser(t, db)
	now := time.Now()

	soon := testutil.TestGrant(t, db, user.ID, 30, testutil.WithExpiry(now.Add(5*24*time.Hour)))
	testutil.TestGrant(t, db, user.ID, 40, testutil.WithExpiry(now.Add(60*24*time.Hour)))
	testutil.TestGrant(t, db, user.ID, 50) // 永久

	grants, err := repo.ListExpiringBefore(user.ID, now, now.Add(30*24*time.Hour))
	require.NoError(t, err)
	require.Len(t, grants, 1)
	assert.Equal(t, soon.ID, grants[0].ID)
}

func TestCreditRepository_HasRefundForTask(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	repo := NewCreditRepository(db)
	user := testutil.TestUser(t, db)
	taskID := int64(11)

	has, err := repo.HasRefundForTask(taskID)
	require.NoError(t, err)
	assert.False(t, has)

	testutil.TestGrant(t, db, user.ID, 50,
		testutil.WithTxType(model.TxVideoRefund),
		testutil.WithRelatedEntity(model.EntityGeneration, taskID),
	)

	has, err = repo.HasRefundForTask(taskID)
	require.NoError(t, err)
	assert.True(t, has)
}
