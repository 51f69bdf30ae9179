package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"msmeconnect/internal/config"
	"msmeconnect/internal/infrastructure/database"
	"msmeconnect/internal/infrastructure/lock"
	"msmeconnect/internal/infrastructure/metrics"
	"msmeconnect/internal/model"
	"msmeconnect/internal/repository"
	"msmeconnect/pkg/idgen"
	"msmeconnect/pkg/money"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

const maxIdempotencyKeyLen = 128

// Locker 分布式锁，用于串行化同一幂等键的并发重放
type Locker interface {
	Acquire(ctx context.Context, key, token string) (release func(), err error)
}

// LedgerService 钱包账本
//
// 所有余额变更在单个数据库事务内完成：余额更新、账本分录、业务单据和 outbox 事件
// 要么全部提交，要么全部回滚。
type LedgerService struct {
	db             *gorm.DB
	locker         Locker
	events         *eventWriter
	accountRepo    *repository.AccountRepository
	ledgerRepo     *repository.LedgerRepository
	paymentRepo    *repository.PaymentRepository
	redemptionRepo *repository.RedemptionRepository
}

// NewLedgerService locker 可以为 nil（未启用 Redis 时只依赖数据库唯一约束）
func NewLedgerService(db *gorm.DB, locker Locker, cfg *config.Config) *LedgerService {
	return &LedgerService{
		db:     db,
		locker: locker,
		events: &eventWriter{
			topic:      cfg.Kafka.Topic.WalletEvents,
			outboxRepo: repository.NewOutboxRepository(db),
		},
		accountRepo:    repository.NewAccountRepository(db),
		ledgerRepo:     repository.NewLedgerRepository(db),
		paymentRepo:    repository.NewPaymentRepository(db),
		redemptionRepo: repository.NewRedemptionRepository(db),
	}
}

type CreditRequest struct {
	UserID         int64
	Amount         decimal.Decimal
	Source         string
	Reference      string
	IdempotencyKey string
}

type DebitRequest struct {
	UserID         int64
	Amount         decimal.Decimal
	ServiceName    string
	IdempotencyKey string
}

type RedemptionInput struct {
	UserID         int64
	Method         model.PayoutMethod
	Details        string
	IdempotencyKey string
}

// ReconcileResult 账户余额与分录汇总的比对结果
type ReconcileResult struct {
	UserID     int64 `json:"user_id"`
	Balance    int64 `json:"balance"`
	LedgerSum  int64 `json:"ledger_sum"`
	Consistent bool  `json:"consistent"`
}

// positiveMinor 校验金额为正且最多两位小数
func positiveMinor(amount decimal.Decimal) (int64, error) {
	if !amount.IsPositive() {
		return 0, fmt.Errorf("%w: %s must be positive", ErrInvalidAmount, amount.String())
	}
	minor, err := money.ToMinor(amount)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrInvalidAmount, err)
	}
	return minor, nil
}

func normalizeKey(key string) (*string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, nil
	}
	if len(key) > maxIdempotencyKeyLen {
		return nil, fmt.Errorf("%w: idempotency key longer than %d", ErrInvalidRequest, maxIdempotencyKeyLen)
	}
	return &key, nil
}

// acquire 未配置锁时直接放行，返回的 release 总是可以调用
func acquire(ctx context.Context, locker Locker, lockKey string) (func(), error) {
	if locker == nil {
		return func() {}, nil
	}
	release, err := locker.Acquire(ctx, lockKey, uuid.NewString())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStorageConflict, err)
	}
	return release, nil
}

// OpenAccount 开户，重复开户返回已有账户
func (s *LedgerService) OpenAccount(ctx context.Context, userID int64) (*model.Account, error) {
	if userID <= 0 {
		return nil, fmt.Errorf("%w: user id must be positive", ErrInvalidRequest)
	}
	account, err := s.accountRepo.Open(ctx, userID)
	if err != nil {
		return nil, translate(err)
	}
	return account, nil
}

// ============================================================================
// Credit 入账
// ============================================================================

func (s *LedgerService) Credit(ctx context.Context, req CreditRequest) (*model.LedgerEntry, error) {
	return s.credit(ctx, req, nil)
}

// credit 新分录写入后在同一事务内调用 onEntry，幂等重放不调用
func (s *LedgerService) credit(ctx context.Context, req CreditRequest, onEntry func(tx *gorm.DB, entry *model.LedgerEntry) error) (entry *model.LedgerEntry, err error) {
	var minor int64
	defer func() { metrics.ObserveLedger("credit", Kind(err), minor) }()

	minor, err = positiveMinor(req.Amount)
	if err != nil {
		return nil, err
	}
	key, err := normalizeKey(req.IdempotencyKey)
	if err != nil {
		return nil, err
	}
	source := req.Source
	if source == "" {
		source = model.CreditSourceAdjustment
	}

	if key != nil {
		release, err := acquire(ctx, s.locker, lock.IdempotencyKey("credit", req.UserID, *key))
		if err != nil {
			return nil, err
		}
		defer release()
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if key != nil {
			existing, err := s.ledgerRepo.GetByIdempotencyKey(ctx, tx, req.UserID, *key)
			if err != nil {
				return err
			}
			if existing != nil {
				entry, err = replayCredit(existing, minor)
				return err
			}
		}

		after, err := s.accountRepo.Increase(ctx, tx, req.UserID, minor)
		if err != nil {
			return err
		}

		reference := req.Reference
		if reference == "" {
			reference = source
		}
		entry = &model.LedgerEntry{
			EntryNo:        idgen.GenerateEntryNo(),
			UserID:         req.UserID,
			Amount:         minor,
			Type:           model.EntryTypeCredit,
			BalanceBefore:  after - minor,
			BalanceAfter:   after,
			Reference:      reference,
			IdempotencyKey: key,
			Remark:         source,
		}
		if err := s.ledgerRepo.Create(ctx, tx, entry); err != nil {
			return err
		}
		if onEntry != nil {
			if err := onEntry(tx, entry); err != nil {
				return err
			}
		}

		return s.events.emit(ctx, tx, model.EventWalletCredited, req.UserID, map[string]interface{}{
			"entry_no":      entry.EntryNo,
			"amount":        money.FormatMinor(minor),
			"source":        source,
			"reference":     reference,
			"balance_after": money.FormatMinor(after),
		})
	})

	// 无锁部署下两个相同幂等键并发提交，后到者撞唯一索引，按重放处理
	if err != nil && key != nil && database.IsDuplicateKey(err) {
		existing, lookupErr := s.ledgerRepo.GetByIdempotencyKey(ctx, nil, req.UserID, *key)
		if lookupErr == nil && existing != nil {
			entry, err = replayCredit(existing, minor)
		}
	}
	if err != nil {
		return nil, translate(err)
	}

	log.Printf("[Ledger] 入账成功: entryNo=%s, userID=%d, amount=%s, source=%s",
		entry.EntryNo, req.UserID, money.FormatMinor(entry.Amount), entry.Remark)
	return entry, nil
}

func replayCredit(existing *model.LedgerEntry, minor int64) (*model.LedgerEntry, error) {
	if existing.Type != model.EntryTypeCredit || existing.Amount != minor {
		return nil, ErrIdempotencyConflict
	}
	return existing, nil
}

// ============================================================================
// Debit 钱包支付
// ============================================================================

func (s *LedgerService) Debit(ctx context.Context, req DebitRequest) (payment *model.PaymentTransaction, err error) {
	var minor int64
	defer func() { metrics.ObserveLedger("debit", Kind(err), minor) }()

	minor, err = positiveMinor(req.Amount)
	if err != nil {
		return nil, err
	}
	serviceName := strings.TrimSpace(req.ServiceName)
	if serviceName == "" {
		return nil, fmt.Errorf("%w: service name is required", ErrInvalidRequest)
	}
	key, err := normalizeKey(req.IdempotencyKey)
	if err != nil {
		return nil, err
	}

	if key != nil {
		release, err := acquire(ctx, s.locker, lock.IdempotencyKey("debit", req.UserID, *key))
		if err != nil {
			return nil, err
		}
		defer release()
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if key != nil {
			existing, err := s.paymentRepo.GetByIdempotencyKey(ctx, tx, req.UserID, *key)
			if err != nil {
				return err
			}
			if existing != nil {
				payment, err = replayDebit(existing, minor, serviceName)
				return err
			}
		}

		after, err := s.accountRepo.Deduct(ctx, tx, req.UserID, minor)
		if errors.Is(err, repository.ErrBalanceNotEnough) {
			return &InsufficientBalanceError{
				UserID:    req.UserID,
				Available: money.FromMinor(after),
				Requested: money.FromMinor(minor),
			}
		}
		if err != nil {
			return err
		}

		payment = &model.PaymentTransaction{
			PaymentNo:      idgen.GeneratePaymentNo(),
			UserID:         req.UserID,
			ServiceName:    serviceName,
			Amount:         minor,
			Funding:        model.FundingWallet,
			Reference:      idgen.GenerateWalletReference(),
			IdempotencyKey: key,
			Status:         model.PaymentStatusSuccess,
		}
		if err := s.paymentRepo.Create(ctx, tx, payment); err != nil {
			return err
		}

		entry := &model.LedgerEntry{
			EntryNo:       idgen.GenerateEntryNo(),
			UserID:        req.UserID,
			Amount:        -minor,
			Type:          model.EntryTypeDebit,
			BalanceBefore: after + minor,
			BalanceAfter:  after,
			Reference:     payment.PaymentNo,
			Remark:        serviceName,
		}
		if err := s.ledgerRepo.Create(ctx, tx, entry); err != nil {
			return err
		}

		return s.events.emit(ctx, tx, model.EventWalletDebited, req.UserID, map[string]interface{}{
			"payment_no":    payment.PaymentNo,
			"reference":     payment.Reference,
			"service_name":  serviceName,
			"amount":        money.FormatMinor(minor),
			"balance_after": money.FormatMinor(after),
		})
	})

	if err != nil && key != nil && database.IsDuplicateKey(err) {
		existing, lookupErr := s.paymentRepo.GetByIdempotencyKey(ctx, nil, req.UserID, *key)
		if lookupErr == nil && existing != nil {
			payment, err = replayDebit(existing, minor, serviceName)
		}
	}
	if err != nil {
		return nil, translate(err)
	}

	log.Printf("[Ledger] 钱包支付成功: paymentNo=%s, userID=%d, amount=%s, service=%s",
		payment.PaymentNo, req.UserID, money.FormatMinor(payment.Amount), payment.ServiceName)
	return payment, nil
}

func replayDebit(existing *model.PaymentTransaction, minor int64, serviceName string) (*model.PaymentTransaction, error) {
	if existing.Funding != model.FundingWallet || existing.Amount != minor || existing.ServiceName != serviceName {
		return nil, ErrIdempotencyConflict
	}
	return existing, nil
}

// ============================================================================
// RequestRedemption 全额提现申请
// ============================================================================

// RequestRedemption 将当前全部余额转入一笔 PENDING 提现单，余额清零
func (s *LedgerService) RequestRedemption(ctx context.Context, in RedemptionInput) (req *model.RedemptionRequest, err error) {
	var minor int64
	defer func() { metrics.ObserveLedger("redemption_request", Kind(err), minor) }()

	if !in.Method.Valid() {
		return nil, fmt.Errorf("%w: unsupported payout method %q", ErrInvalidRequest, in.Method)
	}
	details := strings.TrimSpace(in.Details)
	if details == "" {
		return nil, fmt.Errorf("%w: payout details are required", ErrInvalidRequest)
	}
	key, err := normalizeKey(in.IdempotencyKey)
	if err != nil {
		return nil, err
	}

	if key != nil {
		release, err := acquire(ctx, s.locker, lock.IdempotencyKey("redemption", in.UserID, *key))
		if err != nil {
			return nil, err
		}
		defer release()
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if key != nil {
			existing, err := s.redemptionRepo.GetByIdempotencyKey(ctx, tx, in.UserID, *key)
			if err != nil {
				return err
			}
			if existing != nil {
				req, err = replayRedemption(existing, in.Method, details)
				return err
			}
		}

		account, err := s.accountRepo.GetByUserIDForUpdate(ctx, tx, in.UserID)
		if err != nil {
			return err
		}
		if account.Balance <= 0 {
			return &InsufficientBalanceError{
				UserID:    in.UserID,
				Available: money.FromMinor(account.Balance),
				Requested: money.FromMinor(account.Balance),
			}
		}

		// 读到的余额即提现金额；期间若有其他写入，CAS 失败，整个事务回滚
		snapshot := account.Balance
		if err := s.accountRepo.CompareAndSet(ctx, tx, in.UserID, snapshot, 0); err != nil {
			return err
		}
		minor = snapshot

		req = &model.RedemptionRequest{
			RequestNo:      idgen.GenerateRedemptionNo(),
			UserID:         in.UserID,
			Amount:         snapshot,
			Method:         in.Method,
			Details:        details,
			Status:         model.RedemptionStatusPending,
			IdempotencyKey: key,
		}
		if err := s.redemptionRepo.Create(ctx, tx, req); err != nil {
			return err
		}

		entry := &model.LedgerEntry{
			EntryNo:       idgen.GenerateEntryNo(),
			UserID:        in.UserID,
			Amount:        -snapshot,
			Type:          model.EntryTypeRedemption,
			BalanceBefore: snapshot,
			BalanceAfter:  0,
			Reference:     req.RequestNo,
			Remark:        string(in.Method),
		}
		if err := s.ledgerRepo.Create(ctx, tx, entry); err != nil {
			return err
		}

		return s.events.emit(ctx, tx, model.EventRedemptionRequested, in.UserID, map[string]interface{}{
			"request_id": req.ID,
			"request_no": req.RequestNo,
			"amount":     money.FormatMinor(snapshot),
			"method":     string(in.Method),
		})
	})

	if err != nil && key != nil && database.IsDuplicateKey(err) {
		existing, lookupErr := s.redemptionRepo.GetByIdempotencyKey(ctx, nil, in.UserID, *key)
		if lookupErr == nil && existing != nil {
			req, err = replayRedemption(existing, in.Method, details)
		}
	}
	if err != nil {
		return nil, translate(err)
	}

	log.Printf("[Ledger] 提现申请已创建: requestNo=%s, userID=%d, amount=%s, method=%s",
		req.RequestNo, in.UserID, money.FormatMinor(req.Amount), req.Method)
	return req, nil
}

func replayRedemption(existing *model.RedemptionRequest, method model.PayoutMethod, details string) (*model.RedemptionRequest, error) {
	if existing.Method != method || existing.Details != details {
		return nil, ErrIdempotencyConflict
	}
	return existing, nil
}

// ============================================================================
// ResolveRedemption 提现结果处理
// ============================================================================

// ResolveRedemption 将 PENDING 提现单置为 COMPLETED 或 FAILED，FAILED 时原额退回
func (s *LedgerService) ResolveRedemption(ctx context.Context, requestID int64, outcome, resolvedBy string) (req *model.RedemptionRequest, err error) {
	var minor int64
	defer func() { metrics.ObserveLedger("redemption_resolve", Kind(err), minor) }()

	if outcome != model.RedemptionStatusCompleted && outcome != model.RedemptionStatusFailed {
		return nil, fmt.Errorf("%w: outcome must be COMPLETED or FAILED", ErrInvalidRequest)
	}

	release, err := acquire(ctx, s.locker, lock.RedemptionKey(requestID))
	if err != nil {
		return nil, err
	}
	defer release()

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := s.redemptionRepo.GetByID(ctx, tx, requestID)
		if err != nil {
			return err
		}
		if !model.CanTransitionTo(current.Status, outcome) {
			return &InvalidTransitionError{RequestID: requestID, From: current.Status, To: outcome}
		}

		// 条件更新 WHERE status = PENDING，并发处理时只有一个成功
		err = s.redemptionRepo.UpdateStatus(ctx, tx, requestID, model.RedemptionStatusPending, outcome, resolvedBy)
		if errors.Is(err, repository.ErrStatusConflict) {
			return &InvalidTransitionError{RequestID: requestID, From: current.Status, To: outcome}
		}
		if err != nil {
			return err
		}
		minor = current.Amount

		eventType := model.EventRedemptionCompleted
		payload := map[string]interface{}{
			"request_id":  current.ID,
			"request_no":  current.RequestNo,
			"amount":      money.FormatMinor(current.Amount),
			"resolved_by": resolvedBy,
		}

		if outcome == model.RedemptionStatusFailed {
			eventType = model.EventRedemptionFailed
			after, err := s.accountRepo.Increase(ctx, tx, current.UserID, current.Amount)
			if err != nil {
				return err
			}
			entry := &model.LedgerEntry{
				EntryNo:       idgen.GenerateEntryNo(),
				UserID:        current.UserID,
				Amount:        current.Amount,
				Type:          model.EntryTypeRefund,
				BalanceBefore: after - current.Amount,
				BalanceAfter:  after,
				Reference:     current.RequestNo,
				Remark:        "redemption failed",
			}
			if err := s.ledgerRepo.Create(ctx, tx, entry); err != nil {
				return err
			}
			payload["balance_after"] = money.FormatMinor(after)
		}

		if err := s.events.emit(ctx, tx, eventType, current.UserID, payload); err != nil {
			return err
		}

		req, err = s.redemptionRepo.GetByID(ctx, tx, requestID)
		return err
	})
	if err != nil {
		return nil, translate(err)
	}

	log.Printf("[Ledger] 提现单已处理: requestNo=%s, status=%s, amount=%s, resolvedBy=%s",
		req.RequestNo, req.Status, money.FormatMinor(req.Amount), resolvedBy)
	return req, nil
}

// ============================================================================
// 查询
// ============================================================================

func (s *LedgerService) GetAccount(ctx context.Context, userID int64) (*model.Account, error) {
	account, err := s.accountRepo.GetByUserID(ctx, nil, userID)
	if err != nil {
		return nil, translate(err)
	}
	return account, nil
}

func (s *LedgerService) GetBalance(ctx context.Context, userID int64) (decimal.Decimal, error) {
	account, err := s.GetAccount(ctx, userID)
	if err != nil {
		return decimal.Zero, err
	}
	return money.FromMinor(account.Balance), nil
}

func (s *LedgerService) GetRedemption(ctx context.Context, requestID int64) (*model.RedemptionRequest, error) {
	req, err := s.redemptionRepo.GetByID(ctx, nil, requestID)
	if err != nil {
		return nil, translate(err)
	}
	return req, nil
}

func (s *LedgerService) ListRedemptions(ctx context.Context, userID int64, page, pageSize int) ([]*model.RedemptionRequest, int64, error) {
	return s.redemptionRepo.ListByUserID(ctx, userID, page, pageSize)
}

func (s *LedgerService) ListRedemptionsByStatus(ctx context.Context, status string, page, pageSize int) ([]*model.RedemptionRequest, int64, error) {
	return s.redemptionRepo.ListByStatus(ctx, status, page, pageSize)
}

// ListAllRedemptionsByStatus 按 ID 游标取出某状态的全部申请，导出使用
func (s *LedgerService) ListAllRedemptionsByStatus(ctx context.Context, status string) ([]*model.RedemptionRequest, error) {
	var all []*model.RedemptionRequest
	var afterID int64
	for {
		reqs, err := s.redemptionRepo.ListByStatusAfter(ctx, status, afterID, repository.MaxPageSize)
		if err != nil {
			return nil, err
		}
		all = append(all, reqs...)
		if len(reqs) < repository.MaxPageSize {
			return all, nil
		}
		afterID = reqs[len(reqs)-1].ID
	}
}

func (s *LedgerService) ListPendingRedemptions(ctx context.Context, page, pageSize int) ([]*model.RedemptionRequest, int64, error) {
	return s.ListRedemptionsByStatus(ctx, model.RedemptionStatusPending, page, pageSize)
}

func (s *LedgerService) ListPayments(ctx context.Context, userID int64, page, pageSize int) ([]*model.PaymentTransaction, int64, error) {
	return s.paymentRepo.ListByUserID(ctx, userID, page, pageSize)
}

func (s *LedgerService) ListLedgerEntries(ctx context.Context, userID int64, page, pageSize int) ([]*model.LedgerEntry, int64, error) {
	return s.ledgerRepo.ListByUserID(ctx, userID, page, pageSize)
}

// Reconcile 校验账户余额等于全部分录之和
//
// 两次读取在同一事务内完成。写路径总是先改余额再写分录，
// 账户行持有共享锁期间该用户不会有新分录提交。
func (s *LedgerService) Reconcile(ctx context.Context, userID int64) (*ReconcileResult, error) {
	result := &ReconcileResult{UserID: userID}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		account, err := s.accountRepo.GetByUserIDForShare(ctx, tx, userID)
		if err != nil {
			return err
		}
		sum, err := s.ledgerRepo.SumByUserID(ctx, tx, userID)
		if err != nil {
			return err
		}
		result.Balance = account.Balance
		result.LedgerSum = sum
		result.Consistent = account.Balance == sum
		return nil
	})
	if err != nil {
		return nil, translate(err)
	}
	return result, nil
}
