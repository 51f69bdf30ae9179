package service

import (
	"context"
	"fmt"
	"log"

	"msmeconnect/internal/infrastructure/database"
	"msmeconnect/internal/infrastructure/lock"
	"msmeconnect/internal/model"
	"msmeconnect/internal/repository"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// RewardService 推荐奖励，每个被推荐人只发放一次
type RewardService struct {
	ledger       *LedgerService
	locker       Locker
	amount       decimal.Decimal
	referralRepo *repository.ReferralRepository
}

func NewRewardService(ledger *LedgerService, locker Locker, amount decimal.Decimal) *RewardService {
	return &RewardService{
		ledger:       ledger,
		locker:       locker,
		amount:       amount,
		referralRepo: repository.NewReferralRepository(ledger.db),
	}
}

func referralKey(refereeID int64) string {
	return fmt.Sprintf("referral:%d", refereeID)
}

func referralReference(refereeID int64) string {
	return fmt.Sprintf("referee:%d", refereeID)
}

// RewardReferral 给推荐人入账固定奖励
func (s *RewardService) RewardReferral(ctx context.Context, referrerID, refereeID int64) (*model.LedgerEntry, error) {
	if referrerID <= 0 || refereeID <= 0 {
		return nil, fmt.Errorf("%w: referrer and referee ids must be positive", ErrInvalidRequest)
	}
	if referrerID == refereeID {
		return nil, fmt.Errorf("%w: self referral is not rewarded", ErrInvalidRequest)
	}

	release, err := acquire(ctx, s.locker, lock.ReferralKey(refereeID))
	if err != nil {
		return nil, err
	}
	defer release()

	entry, err := s.ledger.credit(ctx, CreditRequest{
		UserID:         referrerID,
		Amount:         s.amount,
		Source:         model.CreditSourceReferral,
		Reference:      referralReference(refereeID),
		IdempotencyKey: referralKey(refereeID),
	}, func(tx *gorm.DB, entry *model.LedgerEntry) error {
		return s.referralRepo.Create(ctx, tx, &model.ReferralReward{
			RefereeID:  refereeID,
			ReferrerID: referrerID,
			EntryNo:    entry.EntryNo,
		})
	})
	if err != nil && database.IsDuplicateKey(err) {
		// 被推荐人的奖励记录已由并发请求写入
		entry, err = s.settled(ctx, referrerID, refereeID)
	}
	if err != nil {
		return nil, err
	}

	log.Printf("[Reward] 推荐奖励: referrer=%d, referee=%d, entryNo=%s", referrerID, refereeID, entry.EntryNo)
	return entry, nil
}

// settled 被推荐人已有奖励记录：同一推荐人按重放返回原分录，否则拒绝
func (s *RewardService) settled(ctx context.Context, referrerID, refereeID int64) (*model.LedgerEntry, error) {
	reward, err := s.referralRepo.GetByRefereeID(ctx, nil, refereeID)
	if err != nil {
		return nil, err
	}
	if reward == nil {
		return nil, fmt.Errorf("%w: referral reward for referee %d", ErrStorageConflict, refereeID)
	}
	if reward.ReferrerID != referrerID {
		return nil, fmt.Errorf("%w: referee %d already rewarded to user %d", ErrIdempotencyConflict, refereeID, reward.ReferrerID)
	}
	entry, err := s.ledger.ledgerRepo.GetByIdempotencyKey(ctx, nil, referrerID, referralKey(refereeID))
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, fmt.Errorf("%w: referral entry %s missing", ErrStorageConflict, reward.EntryNo)
	}
	return entry, nil
}
