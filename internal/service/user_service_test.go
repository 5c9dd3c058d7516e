package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/qs3c/artgen_go_server/config"
	"github.com/qs3c/artgen_go_server/internal/model/dto"
	"github.com/qs3c/artgen_go_server/internal/pkg/userlock"
	"github.com/qs3c/artgen_go_server/internal/repository"
	"github.com/qs3c/artgen_go_server/internal/testutil"
)

func newUserService(t *testing.T) (*UserService, *repository.UserRepository, *gorm.DB) {
	db := testutil.SetupTestDB(t)
	cfg := config.Default()
	cfg.JWT.Secret = "test-secret-key-for-testing"
	cfg.JWT.ExpireHours = 24

	userRepo := repository.NewUserRepository(db)
	creditRepo := repository.NewCreditRepository(db)
	subRepo := repository.NewSubscriptionRepository(db)
	creditSvc := NewCreditService(creditRepo, userlock.New(), cfg)
	freezeSvc := NewFreezeService(creditRepo, subRepo)
	subSvc := NewSubscriptionService(subRepo, creditRepo, creditSvc, freezeSvc, cfg)
	authSvc := NewAuthService(userRepo, creditSvc, subSvc, nil, cfg)
	return NewUserService(userRepo, authSvc, nil), userRepo, db
}

func TestUpdateProfile(t *testing.T) {
	userSvc, userRepo, db := newUserService(t)
	user := testutil.TestUser(t, db, testutil.WithUsername("alice"))

	info, err := userSvc.UpdateProfile(user.ID, &dto.UpdateProfileRequest{Username: "alice2"})
	require.NoError(t, err)
	assert.Equal(t, "alice2", info.Username)

	got, err := userRepo.GetByID(user.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice2", got.Username)
}

func TestUpdateProfile_UsernameTaken(t *testing.T) {
	userSvc, _, db := newUserService(t)

	testutil.TestUser(t, db, testutil.WithUsername("bob"))
	user := testutil.TestUser(t, db, testutil.WithUsername("carol"))

	_, err := userSvc.UpdateProfile(user.ID, &dto.UpdateProfileRequest{Username: "bob"})
	assert.Equal(t, ErrUsernameExists, err)
}

func TestGetProfile_IncludesCredits(t *testing.T) {
	userSvc, _, db := newUserService(t)

	user := testutil.TestUser(t, db)
	testutil.TestGrant(t, db, user.ID, 42)

	info, err := userSvc.GetProfile(user.ID)
	require.NoError(t, err)
	assert.Equal(t, 42, info.Credits)
}
