package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"msmeconnect/internal/model"
	"msmeconnect/internal/testdb"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 以下测试需要外部 MySQL / Postgres（见 testdb.Shared），多连接下事务真正并发执行

const concurrencyRounds = 20

func newSharedLedger(t *testing.T) *LedgerService {
	t.Helper()
	return NewLedgerService(testdb.Shared(t), nil, testConfig())
}

// retry StorageConflict 表示事务未提交，可以整体重试
func retry(fn func() error) error {
	var err error
	for attempt := 0; attempt < 5; attempt++ {
		if err = fn(); !IsRetryable(err) {
			return err
		}
	}
	return err
}

// race 所有 goroutine 就绪后同时放行
func race(n int, fn func(i int)) {
	var ready, done sync.WaitGroup
	start := make(chan struct{})
	ready.Add(n)
	done.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer done.Done()
			ready.Done()
			<-start
			fn(i)
		}(i)
	}
	ready.Wait()
	close(start)
	done.Wait()
}

func TestShared_DebitRace(t *testing.T) {
	s := newSharedLedger(t)

	for round := int64(1); round <= concurrencyRounds; round++ {
		fund(t, s, round, "100")

		errs := make([]error, 2)
		race(2, func(i int) {
			errs[i] = retry(func() error {
				_, err := s.Debit(context.Background(), DebitRequest{UserID: round, Amount: dec("80"), ServiceName: "Ads"})
				return err
			})
		})

		var ok, insufficient int
		for _, err := range errs {
			switch {
			case err == nil:
				ok++
			case errors.Is(err, ErrInsufficientBalance):
				insufficient++
			default:
				t.Fatalf("round %d: unexpected error: %v", round, err)
			}
		}
		assert.Equal(t, 1, ok, "round %d", round)
		assert.Equal(t, 1, insufficient, "round %d", round)
		assertBalance(t, s, round, "20")
		assertConsistent(t, s, round)
	}
}

// 提现与入账并发：快照金额加剩余余额恒等于总入账
func TestShared_RedemptionWithCredit(t *testing.T) {
	s := newSharedLedger(t)

	for round := int64(1); round <= concurrencyRounds; round++ {
		fund(t, s, round, "100")

		var req *model.RedemptionRequest
		errs := make([]error, 2)
		race(2, func(i int) {
			errs[i] = retry(func() error {
				var err error
				if i == 0 {
					req, err = s.RequestRedemption(context.Background(), RedemptionInput{UserID: round, Method: model.PayoutMethodUPI, Details: "x@bank"})
				} else {
					_, err = s.Credit(context.Background(), CreditRequest{UserID: round, Amount: dec("50")})
				}
				return err
			})
		})
		require.NoError(t, errs[0], "round %d", round)
		require.NoError(t, errs[1], "round %d", round)

		left := balance(t, s, round)
		assert.True(t, left.IsZero() || left.Equal(dec("50")), "round %d: balance %s", round, left)
		assert.Equal(t, int64(15000), req.Amount+left.Shift(2).IntPart(), "round %d", round)
		assertConsistent(t, s, round)
	}
}

func TestShared_ResolveRace(t *testing.T) {
	s := newSharedLedger(t)

	for round := int64(1); round <= concurrencyRounds; round++ {
		fund(t, s, round, "100")
		req, err := s.RequestRedemption(context.Background(), RedemptionInput{UserID: round, Method: model.PayoutMethodUPI, Details: "x@bank"})
		require.NoError(t, err)

		outcomes := []string{model.RedemptionStatusCompleted, model.RedemptionStatusFailed}
		errs := make([]error, len(outcomes))
		race(len(outcomes), func(i int) {
			errs[i] = retry(func() error {
				_, err := s.ResolveRedemption(context.Background(), req.ID, outcomes[i], "admin")
				return err
			})
		})

		winner := ""
		for i, err := range errs {
			if err == nil {
				require.Empty(t, winner, "round %d: two resolutions succeeded", round)
				winner = outcomes[i]
				continue
			}
			assert.ErrorIs(t, err, ErrInvalidTransition, "round %d", round)
		}
		require.NotEmpty(t, winner, "round %d", round)

		got, err := s.GetRedemption(context.Background(), req.ID)
		require.NoError(t, err)
		assert.Equal(t, winner, got.Status)
		if winner == model.RedemptionStatusFailed {
			assertBalance(t, s, round, "100")
		} else {
			assertBalance(t, s, round, "0")
		}
		assertConsistent(t, s, round)
	}
}

func TestShared_ReferralRace(t *testing.T) {
	s := newSharedLedger(t)
	r := NewRewardService(s, nil, dec("100"))
	const referrers = 4
	for uid := int64(1); uid <= referrers; uid++ {
		fund(t, s, uid, "0")
	}

	for referee := int64(100); referee < 100+concurrencyRounds; referee++ {
		errs := make([]error, referrers)
		race(referrers, func(i int) {
			errs[i] = retry(func() error {
				_, err := r.RewardReferral(context.Background(), int64(i+1), referee)
				return err
			})
		})

		var ok int
		for _, err := range errs {
			if err == nil {
				ok++
				continue
			}
			assert.ErrorIs(t, err, ErrIdempotencyConflict, "referee %d", referee)
		}
		assert.Equal(t, 1, ok, "referee %d", referee)
	}

	var rewarded int64
	for uid := int64(1); uid <= referrers; uid++ {
		rewarded += balance(t, s, uid).Shift(2).IntPart()
		assertConsistent(t, s, uid)
	}
	assert.Equal(t, int64(concurrencyRounds*10000), rewarded)
}
