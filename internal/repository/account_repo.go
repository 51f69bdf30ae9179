package repository

import (
	"context"
	"errors"
	"math"

	"msmeconnect/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrAccountNotFound  = errors.New("account not found")
	ErrBalanceNotEnough = errors.New("balance not enough")
	ErrConcurrentUpdate = errors.New("account changed concurrently")
	ErrBalanceOverflow  = errors.New("balance would overflow")
)

type AccountRepository struct {
	db *gorm.DB
}

func NewAccountRepository(db *gorm.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

// Open 开户，已存在时直接返回原账户
func (r *AccountRepository) Open(ctx context.Context, userID int64) (*model.Account, error) {
	account := &model.Account{UserID: userID}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoNothing: true,
		}).
		Create(account).Error
	if err != nil {
		return nil, err
	}
	return r.GetByUserID(ctx, nil, userID)
}

func (r *AccountRepository) GetByUserID(ctx context.Context, tx *gorm.DB, userID int64) (*model.Account, error) {
	var account model.Account
	err := pick(r.db, tx).WithContext(ctx).Where("user_id = ?", userID).First(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return &account, nil
}

// GetByUserIDForUpdate 行锁读取（sqlite 方言会忽略 FOR UPDATE，由单写连接保证串行）
func (r *AccountRepository) GetByUserIDForUpdate(ctx context.Context, tx *gorm.DB, userID int64) (*model.Account, error) {
	var account model.Account
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_id = ?", userID).
		First(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return &account, nil
}

// GetByUserIDForShare 共享锁读取，阻塞并发的余额变更直到事务结束
func (r *AccountRepository) GetByUserIDForShare(ctx context.Context, tx *gorm.DB, userID int64) (*model.Account, error) {
	var account model.Account
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "SHARE"}).
		Where("user_id = ?", userID).
		First(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return &account, nil
}

// Deduct 条件扣减：余额检查与扣减在同一条 UPDATE 中完成
//
//	UPDATE wallet_account SET balance = balance - ? WHERE user_id = ? AND balance >= ?
//
// 成功返回扣减后的余额；余额不足时返回当前余额和 ErrBalanceNotEnough
func (r *AccountRepository) Deduct(ctx context.Context, tx *gorm.DB, userID int64, amount int64) (int64, error) {
	result := tx.WithContext(ctx).
		Model(&model.Account{}).
		Where("user_id = ? AND balance >= ?", userID, amount).
		Updates(map[string]interface{}{
			"balance": gorm.Expr("balance - ?", amount),
			"version": gorm.Expr("version + 1"),
		})
	if result.Error != nil {
		return 0, result.Error
	}

	account, err := r.GetByUserID(ctx, tx, userID)
	if err != nil {
		return 0, err
	}
	if result.RowsAffected == 0 {
		return account.Balance, ErrBalanceNotEnough
	}
	return account.Balance, nil
}

// Increase 入账，返回入账后的余额
//
//	UPDATE wallet_account SET balance = balance + ? WHERE user_id = ? AND balance <= MaxInt64 - ?
//
// 入账后余额超出 int64 时返回 ErrBalanceOverflow，余额不变
func (r *AccountRepository) Increase(ctx context.Context, tx *gorm.DB, userID int64, amount int64) (int64, error) {
	result := tx.WithContext(ctx).
		Model(&model.Account{}).
		Where("user_id = ? AND balance <= ?", userID, math.MaxInt64-amount).
		Updates(map[string]interface{}{
			"balance": gorm.Expr("balance + ?", amount),
			"version": gorm.Expr("version + 1"),
		})
	if result.Error != nil {
		return 0, result.Error
	}

	account, err := r.GetByUserID(ctx, tx, userID)
	if err != nil {
		return 0, err
	}
	if result.RowsAffected == 0 {
		return account.Balance, ErrBalanceOverflow
	}
	return account.Balance, nil
}

// CompareAndSet 仅当余额仍为 expected 时写入 target
func (r *AccountRepository) CompareAndSet(ctx context.Context, tx *gorm.DB, userID int64, expected, target int64) error {
	result := tx.WithContext(ctx).
		Model(&model.Account{}).
		Where("user_id = ? AND balance = ?", userID, expected).
		Updates(map[string]interface{}{
			"balance": target,
			"version": gorm.Expr("version + 1"),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrConcurrentUpdate
	}
	return nil
}

// ListAfter 按 ID 游标分页遍历账户，对账任务使用
func (r *AccountRepository) ListAfter(ctx context.Context, afterID int64, limit int) ([]*model.Account, error) {
	var accounts []*model.Account
	err := r.db.WithContext(ctx).
		Where("id > ?", afterID).
		Order("id ASC").
		Limit(limit).
		Find(&accounts).Error
	return accounts, err
}
