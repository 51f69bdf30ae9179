package repository

import (
	"context"
	"errors"

	"msmeconnect/internal/model"

	"gorm.io/gorm"
)

var ErrPaymentNotFound = errors.New("payment not found")

type PaymentRepository struct {
	db *gorm.DB
}

func NewPaymentRepository(db *gorm.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

func (r *PaymentRepository) Create(ctx context.Context, tx *gorm.DB, payment *model.PaymentTransaction) error {
	return pick(r.db, tx).WithContext(ctx).Create(payment).Error
}

func (r *PaymentRepository) GetByPaymentNo(ctx context.Context, paymentNo string) (*model.PaymentTransaction, error) {
	var payment model.PaymentTransaction
	err := r.db.WithContext(ctx).Where("payment_no = ?", paymentNo).First(&payment).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPaymentNotFound
		}
		return nil, err
	}
	return &payment, nil
}

func (r *PaymentRepository) GetByIdempotencyKey(ctx context.Context, tx *gorm.DB, userID int64, key string) (*model.PaymentTransaction, error) {
	var payment model.PaymentTransaction
	err := pick(r.db, tx).WithContext(ctx).
		Where("user_id = ? AND idempotency_key = ?", userID, key).
		First(&payment).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &payment, nil
}

func (r *PaymentRepository) GetByGatewayPaymentID(ctx context.Context, tx *gorm.DB, gatewayPaymentID string) (*model.PaymentTransaction, error) {
	var payment model.PaymentTransaction
	err := pick(r.db, tx).WithContext(ctx).
		Where("gateway_payment_id = ?", gatewayPaymentID).
		First(&payment).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &payment, nil
}

func (r *PaymentRepository) ListByUserID(ctx context.Context, userID int64, page, pageSize int) ([]*model.PaymentTransaction, int64, error) {
	var payments []*model.PaymentTransaction
	var total int64

	query := r.db.WithContext(ctx).Model(&model.PaymentTransaction{}).Where("user_id = ?", userID)

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := query.
		Order("id DESC").
		Scopes(paginate(page, pageSize)).
		Find(&payments).Error

	return payments, total, err
}
