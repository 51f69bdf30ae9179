package repository

import (
	"context"
	"math"
	"testing"
	"time"

	"msmeconnect/internal/model"
	"msmeconnect/internal/testdb"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestNormalizePage(t *testing.T) {
	p, s := NormalizePage(0, 0)
	assert.Equal(t, 1, p)
	assert.Equal(t, DefaultPageSize, s)

	p, s = NormalizePage(3, 1000)
	assert.Equal(t, 3, p)
	assert.Equal(t, MaxPageSize, s)
}

func TestAccountOpenIdempotent(t *testing.T) {
	db := testdb.New(t)
	repo := NewAccountRepository(db)
	ctx := context.Background()

	a1, err := repo.Open(ctx, 7)
	require.NoError(t, err)
	a2, err := repo.Open(ctx, 7)
	require.NoError(t, err)

	assert.Equal(t, a1.ID, a2.ID)
	assert.Equal(t, int64(0), a2.Balance)

	_, err = repo.GetByUserID(ctx, nil, 8)
	assert.ErrorIs(t, err, ErrAccountNotFound)
}

func TestAccountDeductConditional(t *testing.T) {
	db := testdb.New(t)
	repo := NewAccountRepository(db)
	ctx := context.Background()

	_, err := repo.Open(ctx, 1)
	require.NoError(t, err)

	err = db.Transaction(func(tx *gorm.DB) error {
		after, err := repo.Increase(ctx, tx, 1, 10000)
		require.NoError(t, err)
		assert.Equal(t, int64(10000), after)

		after, err = repo.Deduct(ctx, tx, 1, 8000)
		require.NoError(t, err)
		assert.Equal(t, int64(2000), after)

		current, err := repo.Deduct(ctx, tx, 1, 8000)
		assert.ErrorIs(t, err, ErrBalanceNotEnough)
		assert.Equal(t, int64(2000), current)
		return nil
	})
	require.NoError(t, err)

	account, err := repo.GetByUserID(ctx, nil, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2000), account.Balance)
	assert.Equal(t, 2, account.Version)

	err = db.Transaction(func(tx *gorm.DB) error {
		_, err := repo.Deduct(ctx, tx, 99, 1)
		return err
	})
	assert.ErrorIs(t, err, ErrAccountNotFound)

	err = db.Transaction(func(tx *gorm.DB) error {
		_, err := repo.Increase(ctx, tx, 99, 1)
		return err
	})
	assert.ErrorIs(t, err, ErrAccountNotFound)
}

func TestAccountIncreaseOverflow(t *testing.T) {
	db := testdb.New(t)
	repo := NewAccountRepository(db)
	ctx := context.Background()

	_, err := repo.Open(ctx, 1)
	require.NoError(t, err)
	require.NoError(t, db.Model(&model.Account{}).Where("user_id = ?", 1).Update("balance", int64(math.MaxInt64-10)).Error)

	current, err := repo.Increase(ctx, db, 1, 11)
	assert.ErrorIs(t, err, ErrBalanceOverflow)
	assert.Equal(t, int64(math.MaxInt64-10), current)

	after, err := repo.Increase(ctx, db, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(math.MaxInt64), after)
}

func TestAccountCompareAndSet(t *testing.T) {
	db := testdb.New(t)
	repo := NewAccountRepository(db)
	ctx := context.Background()

	_, err := repo.Open(ctx, 1)
	require.NoError(t, err)
	require.NoError(t, db.Model(&model.Account{}).Where("user_id = ?", 1).Update("balance", 500).Error)

	assert.ErrorIs(t, repo.CompareAndSet(ctx, db, 1, 400, 0), ErrConcurrentUpdate)
	require.NoError(t, repo.CompareAndSet(ctx, db, 1, 500, 0))

	account, err := repo.GetByUserID(ctx, nil, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(0), account.Balance)
}

func TestAccountListAfter(t *testing.T) {
	db := testdb.New(t)
	repo := NewAccountRepository(db)
	ctx := context.Background()

	for uid := int64(1); uid <= 5; uid++ {
		_, err := repo.Open(ctx, uid)
		require.NoError(t, err)
	}

	first, err := repo.ListAfter(ctx, 0, 3)
	require.NoError(t, err)
	require.Len(t, first, 3)

	rest, err := repo.ListAfter(ctx, first[2].ID, 3)
	require.NoError(t, err)
	assert.Len(t, rest, 2)
}

func TestRedemptionUpdateStatus(t *testing.T) {
	db := testdb.New(t)
	repo := NewRedemptionRepository(db)
	ctx := context.Background()

	req := &model.RedemptionRequest{
		RequestNo: "RDM1",
		UserID:    1,
		Amount:    50000,
		Method:    model.PayoutMethodUPI,
		Details:   "x@bank",
		Status:    model.RedemptionStatusPending,
	}
	require.NoError(t, repo.Create(ctx, nil, req))

	require.NoError(t, repo.UpdateStatus(ctx, nil, req.ID, model.RedemptionStatusPending, model.RedemptionStatusCompleted, "admin-1"))

	// 第二次基于 PENDING 的更新不再命中
	err := repo.UpdateStatus(ctx, nil, req.ID, model.RedemptionStatusPending, model.RedemptionStatusFailed, "admin-1")
	assert.ErrorIs(t, err, ErrStatusConflict)

	// 终态之间不允许流转
	err = repo.UpdateStatus(ctx, nil, req.ID, model.RedemptionStatusCompleted, model.RedemptionStatusFailed, "admin-1")
	assert.ErrorIs(t, err, ErrStatusConflict)

	got, err := repo.GetByID(ctx, nil, req.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RedemptionStatusCompleted, got.Status)
	assert.Equal(t, "admin-1", got.ResolvedBy)
	assert.NotNil(t, got.ResolvedAt)

	_, err = repo.GetByID(ctx, nil, 404)
	assert.ErrorIs(t, err, ErrRedemptionNotFound)
}

func TestRedemptionListing(t *testing.T) {
	db := testdb.New(t)
	repo := NewRedemptionRepository(db)
	ctx := context.Background()

	key := "idem-1"
	for i, status := range []string{model.RedemptionStatusPending, model.RedemptionStatusPending, model.RedemptionStatusFailed} {
		req := &model.RedemptionRequest{
			RequestNo: "RDM" + string(rune('A'+i)),
			UserID:    1,
			Amount:    100,
			Method:    model.PayoutMethodBank,
			Details:   "acct",
			Status:    status,
		}
		if i == 0 {
			req.IdempotencyKey = &key
		}
		require.NoError(t, repo.Create(ctx, nil, req))
	}

	list, total, err := repo.ListByUserID(ctx, 1, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	assert.Len(t, list, 2)
	assert.Equal(t, "RDMC", list[0].RequestNo)

	pending, total, err := repo.ListByStatus(ctx, model.RedemptionStatusPending, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	assert.Equal(t, "RDMA", pending[0].RequestNo)

	found, err := repo.GetByIdempotencyKey(ctx, nil, 1, key)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, "RDMA", found.RequestNo)

	missing, err := repo.GetByIdempotencyKey(ctx, nil, 1, "other")
	require.NoError(t, err)
	assert.Nil(t, missing)

	stale, err := repo.ListPendingBefore(ctx, time.Now().Add(time.Minute), 10)
	require.NoError(t, err)
	assert.Len(t, stale, 2)

	count, err := repo.CountPendingBefore(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
}

func TestRedemptionListByStatusAfter(t *testing.T) {
	db := testdb.New(t)
	repo := NewRedemptionRepository(db)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, repo.Create(ctx, nil, &model.RedemptionRequest{
			RequestNo: "RDM" + string(rune('A'+i)),
			UserID:    int64(i + 1),
			Amount:    100,
			Method:    model.PayoutMethodUPI,
			Details:   "x@bank",
			Status:    model.RedemptionStatusPending,
		}))
	}

	first, err := repo.ListByStatusAfter(ctx, model.RedemptionStatusPending, 0, 2)
	require.NoError(t, err)
	require.Len(t, first, 2)

	// 已取出的单据在遍历中被处理，游标之后的记录不受影响
	for _, req := range first {
		require.NoError(t, repo.UpdateStatus(ctx, nil, req.ID, model.RedemptionStatusPending, model.RedemptionStatusCompleted, "admin-1"))
	}

	rest, err := repo.ListByStatusAfter(ctx, model.RedemptionStatusPending, first[1].ID, 2)
	require.NoError(t, err)
	require.Len(t, rest, 2)
	assert.Equal(t, "RDMC", rest[0].RequestNo)
	assert.Equal(t, "RDMD", rest[1].RequestNo)

	last, err := repo.ListByStatusAfter(ctx, model.RedemptionStatusPending, rest[1].ID, 2)
	require.NoError(t, err)
	require.Len(t, last, 1)
	assert.Equal(t, "RDME", last[0].RequestNo)
}

func TestLedgerSum(t *testing.T) {
	db := testdb.New(t)
	repo := NewLedgerRepository(db)
	ctx := context.Background()

	sum, err := repo.SumByUserID(ctx, nil, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(0), sum)

	for i, amount := range []int64{1000, -300, -700, 700} {
		require.NoError(t, repo.Create(ctx, nil, &model.LedgerEntry{
			EntryNo:   "LED" + string(rune('A'+i)),
			UserID:    1,
			Amount:    amount,
			Type:      model.EntryTypeCredit,
			Reference: "ref",
		}))
	}

	sum, err = repo.SumByUserID(ctx, nil, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(700), sum)

	entries, total, err := repo.ListByUserID(ctx, 1, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(4), total)
	assert.Equal(t, int64(700), entries[0].Amount)
}

func TestPaymentGatewayUnique(t *testing.T) {
	db := testdb.New(t)
	repo := NewPaymentRepository(db)
	ctx := context.Background()

	gw := "pay_123"
	p := &model.PaymentTransaction{
		PaymentNo:        "PAY1",
		UserID:           1,
		ServiceName:      "Valuation",
		Amount:           99900,
		Funding:          model.FundingGateway,
		GatewayPaymentID: &gw,
		Status:           model.PaymentStatusSuccess,
	}
	require.NoError(t, repo.Create(ctx, nil, p))

	dup := *p
	dup.ID = 0
	dup.PaymentNo = "PAY2"
	assert.Error(t, repo.Create(ctx, nil, &dup))

	found, err := repo.GetByGatewayPaymentID(ctx, nil, gw)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, "PAY1", found.PaymentNo)

	_, err = repo.GetByPaymentNo(ctx, "PAY404")
	assert.ErrorIs(t, err, ErrPaymentNotFound)
}

func TestOutboxLifecycle(t *testing.T) {
	db := testdb.New(t)
	repo := NewOutboxRepository(db)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, repo.Create(ctx, nil, &model.OutboxMessage{
			MessageKey: "1",
			Topic:      "wallet",
			EventType:  model.EventWalletCredited,
			Payload:    "{}",
			Status:     model.OutboxStatusPending,
		}))
	}

	msgs, err := repo.GetPendingMessages(ctx, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 3)

	require.NoError(t, repo.MarkAsSent(ctx, msgs[0].ID))
	require.NoError(t, repo.IncrementRetryCount(ctx, msgs[1].ID))
	require.NoError(t, repo.MarkAsFailed(ctx, msgs[2].ID))

	msgs, err = repo.GetPendingMessages(ctx, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, 1, msgs[0].RetryCount)
}
