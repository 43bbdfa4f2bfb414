package repository

import (
	"context"

	"gorm.io/gorm"

	"dianping/shophub/internal/model"
)

type pgShopRepository struct {
	db *gorm.DB
}

func NewPGShopRepository(db *gorm.DB) ShopRepository {
	return &pgShopRepository{db: db}
}

func (r *pgShopRepository) Create(ctx context.Context, shop *model.Shop) error {
	return r.db.WithContext(ctx).Create(shop).Error
}

func (r *pgShopRepository) GetByID(ctx context.Context, id int64) (*model.Shop, error) {
	var shop model.Shop
	if err := r.db.WithContext(ctx).First(&shop, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &shop, nil
}

func (r *pgShopRepository) Update(ctx context.Context, shop *model.Shop) error {
	res := r.db.WithContext(ctx).
		Model(&model.Shop{}).
		Where("id = ?", shop.ID).
		Select("*").
		Omit("id", "created_at").
		Updates(shop)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *pgShopRepository) ListIDs(ctx context.Context, limit int) ([]int64, error) {
	var ids []int64
	q := r.db.WithContext(ctx).Model(&model.Shop{}).Order("id")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Pluck("id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}
