package repository

import (
	"context"
	"errors"

	"msmeconnect/internal/model"

	"gorm.io/gorm"
)

type LedgerRepository struct {
	db *gorm.DB
}

func NewLedgerRepository(db *gorm.DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

// Create 只追加
func (r *LedgerRepository) Create(ctx context.Context, tx *gorm.DB, entry *model.LedgerEntry) error {
	return pick(r.db, tx).WithContext(ctx).Create(entry).Error
}

func (r *LedgerRepository) GetByIdempotencyKey(ctx context.Context, tx *gorm.DB, userID int64, key string) (*model.LedgerEntry, error) {
	var entry model.LedgerEntry
	err := pick(r.db, tx).WithContext(ctx).
		Where("user_id = ? AND idempotency_key = ?", userID, key).
		First(&entry).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &entry, nil
}

func (r *LedgerRepository) ListByUserID(ctx context.Context, userID int64, page, pageSize int) ([]*model.LedgerEntry, int64, error) {
	var entries []*model.LedgerEntry
	var total int64

	query := r.db.WithContext(ctx).Model(&model.LedgerEntry{}).Where("user_id = ?", userID)

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := query.
		Order("id DESC").
		Scopes(paginate(page, pageSize)).
		Find(&entries).Error

	return entries, total, err
}

// SumByUserID 用户全部分录之和，即由流水推导出的余额
func (r *LedgerRepository) SumByUserID(ctx context.Context, tx *gorm.DB, userID int64) (int64, error) {
	var sum int64
	err := pick(r.db, tx).WithContext(ctx).
		Model(&model.LedgerEntry{}).
		Where("user_id = ?", userID).
		Select("COALESCE(SUM(amount), 0)").
		Scan(&sum).Error
	return sum, err
}
