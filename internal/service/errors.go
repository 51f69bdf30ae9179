package service

import (
	"errors"
	"fmt"

	"msmeconnect/internal/infrastructure/database"
	"msmeconnect/internal/repository"

	"github.com/shopspring/decimal"
)

// 账本错误类型，调用方用 errors.Is 判断
var (
	ErrNotFound            = errors.New("not found")
	ErrInvalidAmount       = errors.New("invalid amount")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrInvalidTransition   = errors.New("invalid redemption transition")
	ErrStorageConflict     = errors.New("storage conflict")
	ErrIdempotencyConflict = errors.New("idempotency key reused with a different request")
	ErrInvalidRequest      = errors.New("invalid request")
)

// InsufficientBalanceError 余额不足详情
type InsufficientBalanceError struct {
	UserID    int64
	Available decimal.Decimal
	Requested decimal.Decimal
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance: user %d available %s, requested %s",
		e.UserID, e.Available.StringFixed(2), e.Requested.StringFixed(2))
}

func (e *InsufficientBalanceError) Unwrap() error {
	return ErrInsufficientBalance
}

// InvalidTransitionError 提现单不在 PENDING 状态
type InvalidTransitionError struct {
	RequestID int64
	From      string
	To        string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid redemption transition: request %d %s -> %s", e.RequestID, e.From, e.To)
}

func (e *InvalidTransitionError) Unwrap() error {
	return ErrInvalidTransition
}

// IsRetryable 只有 StorageConflict 可以无条件整体重试（事务未提交）
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStorageConflict)
}

// Kind 错误类型的短名，用于指标标签和日志
func Kind(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidAmount):
		return "invalid_amount"
	case errors.Is(err, ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.Is(err, ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, ErrStorageConflict):
		return "storage_conflict"
	case errors.Is(err, ErrIdempotencyConflict):
		return "idempotency_conflict"
	case errors.Is(err, ErrInvalidRequest):
		return "invalid_request"
	}
	return "internal"
}

// translate 把仓储层 / 驱动层错误归类为账本错误类型
func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repository.ErrAccountNotFound),
		errors.Is(err, repository.ErrRedemptionNotFound),
		errors.Is(err, repository.ErrPaymentNotFound):
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	case errors.Is(err, repository.ErrBalanceOverflow):
		return fmt.Errorf("%w: %w", ErrInvalidAmount, err)
	case errors.Is(err, repository.ErrConcurrentUpdate):
		return fmt.Errorf("%w: %w", ErrStorageConflict, err)
	case database.IsSerializationFailure(err):
		return fmt.Errorf("%w: %w", ErrStorageConflict, err)
	}
	return err
}
