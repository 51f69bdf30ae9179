package repository

import (
	"context"
	"errors"
	"time"

	"msmeconnect/internal/model"

	"gorm.io/gorm"
)

var (
	ErrRedemptionNotFound = errors.New("redemption request not found")
	ErrStatusConflict     = errors.New("redemption status conflict")
)

type RedemptionRepository struct {
	db *gorm.DB
}

func NewRedemptionRepository(db *gorm.DB) *RedemptionRepository {
	return &RedemptionRepository{db: db}
}

func (r *RedemptionRepository) Create(ctx context.Context, tx *gorm.DB, req *model.RedemptionRequest) error {
	return pick(r.db, tx).WithContext(ctx).Create(req).Error
}

func (r *RedemptionRepository) GetByID(ctx context.Context, tx *gorm.DB, id int64) (*model.RedemptionRequest, error) {
	var req model.RedemptionRequest
	err := pick(r.db, tx).WithContext(ctx).Where("id = ?", id).First(&req).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRedemptionNotFound
		}
		return nil, err
	}
	return &req, nil
}

func (r *RedemptionRepository) GetByIdempotencyKey(ctx context.Context, tx *gorm.DB, userID int64, key string) (*model.RedemptionRequest, error) {
	var req model.RedemptionRequest
	err := pick(r.db, tx).WithContext(ctx).
		Where("user_id = ? AND idempotency_key = ?", userID, key).
		First(&req).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &req, nil
}

// UpdateStatus 条件更新状态：WHERE id = ? AND status = fromStatus
// 影响行数为 0 说明状态已被其他请求改变
func (r *RedemptionRepository) UpdateStatus(ctx context.Context, tx *gorm.DB, id int64, fromStatus, toStatus, resolvedBy string) error {
	if !model.CanTransitionTo(fromStatus, toStatus) {
		return ErrStatusConflict
	}

	now := time.Now()
	result := pick(r.db, tx).WithContext(ctx).
		Model(&model.RedemptionRequest{}).
		Where("id = ? AND status = ?", id, fromStatus).
		Updates(map[string]interface{}{
			"status":      toStatus,
			"resolved_by": resolvedBy,
			"resolved_at": &now,
		})

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrStatusConflict
	}
	return nil
}

func (r *RedemptionRepository) ListByUserID(ctx context.Context, userID int64, page, pageSize int) ([]*model.RedemptionRequest, int64, error) {
	return r.list(ctx, r.db.WithContext(ctx).Model(&model.RedemptionRequest{}).Where("user_id = ?", userID), page, pageSize, "id DESC")
}

// ListByStatus 后台按状态查看，先进先出
func (r *RedemptionRepository) ListByStatus(ctx context.Context, status string, page, pageSize int) ([]*model.RedemptionRequest, int64, error) {
	return r.list(ctx, r.db.WithContext(ctx).Model(&model.RedemptionRequest{}).Where("status = ?", status), page, pageSize, "id ASC")
}

// ListByStatusAfter 按 ID 游标遍历某状态的申请，遍历期间有单据流转也不会跳过后续记录
func (r *RedemptionRepository) ListByStatusAfter(ctx context.Context, status string, afterID int64, limit int) ([]*model.RedemptionRequest, error) {
	var reqs []*model.RedemptionRequest
	err := r.db.WithContext(ctx).
		Where("status = ? AND id > ?", status, afterID).
		Order("id ASC").
		Limit(limit).
		Find(&reqs).Error
	return reqs, err
}

func (r *RedemptionRepository) list(ctx context.Context, query *gorm.DB, page, pageSize int, order string) ([]*model.RedemptionRequest, int64, error) {
	var reqs []*model.RedemptionRequest
	var total int64

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := query.
		Order(order).
		Scopes(paginate(page, pageSize)).
		Find(&reqs).Error

	return reqs, total, err
}

// ListPendingBefore 创建时间早于 before 仍未处理的申请
func (r *RedemptionRepository) ListPendingBefore(ctx context.Context, before time.Time, limit int) ([]*model.RedemptionRequest, error) {
	var reqs []*model.RedemptionRequest
	err := r.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", model.RedemptionStatusPending, before).
		Order("created_at ASC").
		Limit(limit).
		Find(&reqs).Error
	return reqs, err
}

func (r *RedemptionRepository) CountPendingBefore(ctx context.Context, before time.Time) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&model.RedemptionRequest{}).
		Where("status = ? AND created_at < ?", model.RedemptionStatusPending, before).
		Count(&count).Error
	return count, err
}
