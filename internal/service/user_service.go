package service

import (
	"io"
	"path/filepath"
	"strings"

	"github.com/qs3c/artgen_go_server/internal/model/dto"
	"github.com/qs3c/artgen_go_server/internal/pkg/oss"
	"github.com/qs3c/artgen_go_server/internal/repository"
)

// UserService 用户资料管理
type UserService struct {
	userRepo  *repository.UserRepository
	authSvc   *AuthService
	ossClient *oss.Client
}

func NewUserService(userRepo *repository.UserRepository, authSvc *AuthService, ossClient *oss.Client) *UserService {
	return &UserService{
		userRepo:  userRepo,
		authSvc:   authSvc,
		ossClient: ossClient,
	}
}

// GetProfile 获取用户资料（含可用积分和当前套餐）
func (s *UserService) GetProfile(userID int64) (*dto.UserInfo, error) {
	return s.authSvc.GetUserInfo(userID)
}

// UpdateProfile 更新用户资料
func (s *UserService) UpdateProfile(userID int64, req *dto.UpdateProfileRequest) (*dto.UserInfo, error) {
	user, err := s.userRepo.GetByID(userID)
	if err != nil {
		return nil, ErrUserNotFound
	}

	if req.Username != "" && req.Username != user.Username {
		existing, _ := s.userRepo.GetByUsername(req.Username)
		if existing != nil {
			return nil, ErrUsernameExists
		}
		user.Username = req.Username
	}

	if err := s.userRepo.Update(user); err != nil {
		return nil, err
	}

	return s.authSvc.GetUserInfo(userID)
}

// UploadAvatar 上传头像到 OSS 并更新用户资料
func (s *UserService) UploadAvatar(userID int64, r io.Reader, filename string) (string, error) {
	user, err := s.userRepo.GetByID(userID)
	if err != nil {
		return "", ErrUserNotFound
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}

	ext := strings.ToLower(filepath.Ext(filename))
	if ext == "" {
		ext = ".jpg"
	}

	avatarURL, err := s.ossClient.UploadAvatar(userID, data, ext)
	if err != nil {
		return "", err
	}

	user.AvatarURL = avatarURL
	if err := s.userRepo.Update(user); err != nil {
		return "", err
	}

	return avatarURL, nil
}
