package repository

import (
	"context"

	"dianping/shophub/internal/model"
)

type ShopRepository interface {
	Create(ctx context.Context, shop *model.Shop) error
	GetByID(ctx context.Context, id int64) (*model.Shop, error)
	// Update overwrites every column but the id and creation time, and
	// returns gorm.ErrRecordNotFound for an unknown id.
	Update(ctx context.Context, shop *model.Shop) error
	ListIDs(ctx context.Context, limit int) ([]int64, error)
}
