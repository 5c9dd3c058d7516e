package repository

import (
	"gorm.io/gorm"

	"github.com/qs3c/artgen_go_server/internal/model"
)

type OrderRepository struct {
	db *gorm.DB
}

func NewOrderRepository(db *gorm.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

func (r *OrderRepository) Create(order *model.Order) error {
	return r.db.Create(order).Error
}

func (r *OrderRepository) GetByCreemOrderID(creemOrderID string) (*model.Order, error) {
	var order model.Order
	err := r.db.Where("creem_order_id = ?", creemOrderID).First(&order).Error
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *OrderRepository) UpdateByCreemOrderID(creemOrderID string, fields map[string]interface{}) error {
	return r.db.Model(&model.Order{}).
		Where("creem_order_id = ?", creemOrderID).
		Updates(fields).Error
}

func (r *OrderRepository) ListByUser(userID int64) ([]*model.Order, error) {
	var orders []*model.Order
	err := r.db.Where("user_id = ?", userID).Order("created_at DESC").Find(&orders).Error
	return orders, err
}
