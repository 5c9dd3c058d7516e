package repository

import (
	"gorm.io/gorm"

	"github.com/qs3c/artgen_go_server/internal/model"
)

type GenerationRepository struct {
	db *gorm.DB
}

func NewGenerationRepository(db *gorm.DB) *GenerationRepository {
	return &GenerationRepository{db: db}
}

func (r *GenerationRepository) Create(task *model.GenerationTask) error {
	return r.db.Create(task).Error
}

func (r *GenerationRepository) GetByID(id int64) (*model.GenerationTask, error) {
	var task model.GenerationTask
	err := r.db.Where("id = ?", id).First(&task).Error
	if err != nil {
		return nil, err
	}
	return &task, nil
}

func (r *GenerationRepository) Update(task *model.GenerationTask) error {
	return r.db.Save(task).Error
}

func (r *GenerationRepository) UpdateStatus(id int64, status string) error {
	return r.db.Model(&model.GenerationTask{}).Where("id = ?", id).Update("status", status).Error
}

func (r *GenerationRepository) UpdateFields(id int64, fields map[string]interface{}) error {
	return r.db.Model(&model.GenerationTask{}).Where("id = ?", id).Updates(fields).Error
}

// CountInFlight 统计用户进行中的任务数（并发额度检查用）
func (r *GenerationRepository) CountInFlight(userID int64) (int, error) {
	var count int64
	err := r.db.Model(&model.GenerationTask{}).
		Where("user_id = ? AND status IN ?", userID,
			[]string{model.GenStatusPending, model.GenStatusProcessing}).
		Count(&count).Error
	return int(count), err
}

// ListByUser 分页查询用户的生成任务
func (r *GenerationRepository) ListByUser(userID int64, limit, offset int) ([]*model.GenerationTask, int64, error) {
	query := r.db.Model(&model.GenerationTask{}).Where("user_id = ?", userID)

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var tasks []*model.GenerationTask
	err := query.Order("created_at DESC").Limit(limit).Offset(offset).Find(&tasks).Error
	return tasks, total, err
}
