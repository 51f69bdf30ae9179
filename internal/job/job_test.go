package job

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"msmeconnect/internal/config"
	"msmeconnect/internal/infrastructure/metrics"
	"msmeconnect/internal/infrastructure/mq"
	"msmeconnect/internal/model"
	"msmeconnect/internal/service"
	"msmeconnect/internal/testdb"

	"github.com/IBM/sarama/mocks"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type published struct {
	topic, key, value string
	headers           map[string]string
}

type fakePublisher struct {
	mu       sync.Mutex
	failures int
	sent     []published
}

func (f *fakePublisher) Publish(topic, key, value string, headers map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failures > 0 {
		f.failures--
		return errors.New("broker unavailable")
	}
	f.sent = append(f.sent, published{topic, key, value, headers})
	return nil
}

func (f *fakePublisher) Close() error { return nil }

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Kafka.Topic.WalletEvents = "test.wallet.events"
	cfg.Business.MaxRetryCount = 3
	cfg.Business.StaleRedemptionHours = 1
	return cfg
}

func seedLedger(t *testing.T, db *gorm.DB) *service.LedgerService {
	t.Helper()
	ledger := service.NewLedgerService(db, nil, testConfig())
	ctx := context.Background()
	for _, uid := range []int64{1, 2} {
		_, err := ledger.OpenAccount(ctx, uid)
		require.NoError(t, err)
		_, err = ledger.Credit(ctx, service.CreditRequest{UserID: uid, Amount: decimal.NewFromInt(100)})
		require.NoError(t, err)
	}
	return ledger
}

func outboxStatuses(t *testing.T, db *gorm.DB) []model.OutboxMessage {
	t.Helper()
	var msgs []model.OutboxMessage
	require.NoError(t, db.Order("id ASC").Find(&msgs).Error)
	return msgs
}

func TestOutboxSender_Publishes(t *testing.T) {
	db := testdb.New(t)
	seedLedger(t, db)
	pub := &fakePublisher{}
	sender := NewOutboxSender(db, pub, testConfig())

	assert.Equal(t, 2, sender.processPendingMessages(context.Background()))
	require.Len(t, pub.sent, 2)
	assert.Equal(t, "test.wallet.events", pub.sent[0].topic)
	assert.Equal(t, "1", pub.sent[0].key)
	assert.Equal(t, model.EventWalletCredited, pub.sent[0].headers["event_type"])
	assert.Contains(t, pub.sent[0].value, `"amount":"100.00"`)

	for _, m := range outboxStatuses(t, db) {
		assert.Equal(t, model.OutboxStatusSent, m.Status)
	}
	assert.Zero(t, sender.processPendingMessages(context.Background()))
}

func TestOutboxSender_RetryThenFail(t *testing.T) {
	db := testdb.New(t)
	seedLedger(t, db)
	pub := &fakePublisher{failures: 3}
	sender := NewOutboxSender(db, pub, testConfig())
	ctx := context.Background()

	// 前两轮失败后停在第一条消息，保持顺序
	assert.Zero(t, sender.processPendingMessages(ctx))
	assert.Zero(t, sender.processPendingMessages(ctx))
	msgs := outboxStatuses(t, db)
	assert.Equal(t, 2, msgs[0].RetryCount)
	assert.Equal(t, model.OutboxStatusPending, msgs[1].Status)

	// 第三次失败达到上限，放弃第一条，继续发送第二条
	assert.Equal(t, 1, sender.processPendingMessages(ctx))
	msgs = outboxStatuses(t, db)
	assert.Equal(t, model.OutboxStatusFailed, msgs[0].Status)
	assert.Equal(t, 3, msgs[0].RetryCount)
	assert.Equal(t, model.OutboxStatusSent, msgs[1].Status)
}

func TestOutboxSender_WithKafkaPublisher(t *testing.T) {
	db := testdb.New(t)
	seedLedger(t, db)

	producer := mocks.NewSyncProducer(t, mq.NewProducerConfig())
	producer.ExpectSendMessageAndSucceed()
	producer.ExpectSendMessageAndSucceed()
	pub := mq.NewKafkaPublisher(producer)
	defer pub.Close()

	sender := NewOutboxSender(db, pub, testConfig())
	assert.Equal(t, 2, sender.processPendingMessages(context.Background()))
}

func TestOutboxSender_StartStop(t *testing.T) {
	db := testdb.New(t)
	seedLedger(t, db)
	pub := &fakePublisher{}
	sender := NewOutboxSender(db, pub, testConfig())

	done := make(chan struct{})
	go func() {
		sender.Start(context.Background())
		close(done)
	}()

	assert.Eventually(t, func() bool {
		pub.mu.Lock()
		defer pub.mu.Unlock()
		return len(pub.sent) == 2
	}, 2*time.Second, 20*time.Millisecond)

	sender.Stop()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("sender did not stop")
	}
}

func TestReconcileJob(t *testing.T) {
	db := testdb.New(t)
	ledger := seedLedger(t, db)
	j := NewReconcileJob(db, ledger, testConfig())
	j.batchSize = 1

	assert.Zero(t, j.reconcileAll(context.Background()))
	assert.Equal(t, float64(0), testutil.ToFloat64(metrics.ReconcileMismatches))

	// 绕过账本直接改余额
	require.NoError(t, db.Model(&model.Account{}).Where("user_id = ?", 2).Update("balance", 1).Error)
	assert.Equal(t, 1, j.reconcileAll(context.Background()))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.ReconcileMismatches))
}

func TestStaleRedemptionJob(t *testing.T) {
	db := testdb.New(t)
	ledger := seedLedger(t, db)
	ctx := context.Background()

	fresh, err := ledger.RequestRedemption(ctx, service.RedemptionInput{UserID: 1, Method: model.PayoutMethodUPI, Details: "a@bank"})
	require.NoError(t, err)
	old, err := ledger.RequestRedemption(ctx, service.RedemptionInput{UserID: 2, Method: model.PayoutMethodUPI, Details: "b@bank"})
	require.NoError(t, err)
	require.NoError(t, db.Model(&model.RedemptionRequest{}).Where("id = ?", old.ID).
		UpdateColumn("created_at", time.Now().Add(-3*time.Hour)).Error)

	j := NewStaleRedemptionJob(db, testConfig())
	assert.Equal(t, int64(1), j.reportStale(ctx))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.StaleRedemptions))

	// 只报告，不处理
	got, err := ledger.GetRedemption(ctx, old.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RedemptionStatusPending, got.Status)

	_, err = ledger.ResolveRedemption(ctx, old.ID, model.RedemptionStatusCompleted, "ops")
	require.NoError(t, err)
	_, err = ledger.ResolveRedemption(ctx, fresh.ID, model.RedemptionStatusCompleted, "ops")
	require.NoError(t, err)
	assert.Zero(t, j.reportStale(ctx))
	assert.Equal(t, float64(0), testutil.ToFloat64(metrics.StaleRedemptions))
}
