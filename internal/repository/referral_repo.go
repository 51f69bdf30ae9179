package repository

import (
	"context"
	"errors"

	"msmeconnect/internal/model"

	"gorm.io/gorm"
)

type ReferralRepository struct {
	db *gorm.DB
}

func NewReferralRepository(db *gorm.DB) *ReferralRepository {
	return &ReferralRepository{db: db}
}

// Create 被推荐人已有记录时返回唯一索引冲突
func (r *ReferralRepository) Create(ctx context.Context, tx *gorm.DB, reward *model.ReferralReward) error {
	return pick(r.db, tx).WithContext(ctx).Create(reward).Error
}

func (r *ReferralRepository) GetByRefereeID(ctx context.Context, tx *gorm.DB, refereeID int64) (*model.ReferralReward, error) {
	var reward model.ReferralReward
	err := pick(r.db, tx).WithContext(ctx).Where("referee_id = ?", refereeID).First(&reward).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &reward, nil
}
