package job

import (
	"context"
	"log"
	"strconv"
	"time"

	"msmeconnect/internal/config"
	"msmeconnect/internal/infrastructure/metrics"
	"msmeconnect/internal/infrastructure/mq"
	"msmeconnect/internal/model"
	"msmeconnect/internal/repository"

	"gorm.io/gorm"
)

// OutboxSender 轮询 outbox 表，将钱包事件投递到 Kafka
type OutboxSender struct {
	publisher  mq.Publisher
	outboxRepo *repository.OutboxRepository
	maxRetry   int
	stopCh     chan struct{}
	interval   time.Duration
	batchSize  int
}

func NewOutboxSender(db *gorm.DB, publisher mq.Publisher, cfg *config.Config) *OutboxSender {
	maxRetry := cfg.Business.MaxRetryCount
	if maxRetry <= 0 {
		maxRetry = 1
	}
	return &OutboxSender{
		publisher:  publisher,
		outboxRepo: repository.NewOutboxRepository(db),
		maxRetry:   maxRetry,
		stopCh:     make(chan struct{}),
		interval:   100 * time.Millisecond,
		batchSize:  100,
	}
}

func (s *OutboxSender) Start(ctx context.Context) {
	log.Println("[OutboxSender] 消息发送任务启动")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[OutboxSender] 收到停止信号，任务退出")
			return
		case <-s.stopCh:
			log.Println("[OutboxSender] 任务停止")
			return
		case <-ticker.C:
			s.processPendingMessages(ctx)
		}
	}
}

func (s *OutboxSender) Stop() {
	close(s.stopCh)
}

// processPendingMessages 按 ID 顺序发送，遇到失败即结束本轮，避免同一用户事件乱序
func (s *OutboxSender) processPendingMessages(ctx context.Context) int {
	messages, err := s.outboxRepo.GetPendingMessages(ctx, s.batchSize)
	if err != nil {
		log.Printf("[OutboxSender] 查询消息失败: %v", err)
		return 0
	}

	sent := 0
	for _, msg := range messages {
		if !s.sendMessage(ctx, msg) {
			break
		}
		sent++
	}
	return sent
}

func (s *OutboxSender) sendMessage(ctx context.Context, msg *model.OutboxMessage) bool {
	headers := map[string]string{
		"event_type": msg.EventType,
		"outbox_id":  strconv.FormatInt(msg.ID, 10),
	}
	err := s.publisher.Publish(msg.Topic, msg.MessageKey, msg.Payload, headers)

	if err == nil {
		metrics.OutboxPublished.WithLabelValues("sent").Inc()
		if updateErr := s.outboxRepo.MarkAsSent(ctx, msg.ID); updateErr != nil {
			log.Printf("[OutboxSender] 更新消息状态失败: id=%d, err=%v", msg.ID, updateErr)
		}
		return true
	}

	log.Printf("[OutboxSender] 消息发送失败: id=%d, event=%s, err=%v", msg.ID, msg.EventType, err)

	if msg.RetryCount+1 >= s.maxRetry {
		metrics.OutboxPublished.WithLabelValues("failed").Inc()
		if err := s.outboxRepo.MarkAsFailed(ctx, msg.ID); err != nil {
			log.Printf("[OutboxSender] 标记消息失败状态失败: id=%d, err=%v", msg.ID, err)
		} else {
			log.Printf("[OutboxSender] 消息超过最大重试次数，标记为失败: id=%d", msg.ID)
		}
		// 已放弃的消息不阻塞后续消息
		return true
	}

	metrics.OutboxPublished.WithLabelValues("retry").Inc()
	if err := s.outboxRepo.IncrementRetryCount(ctx, msg.ID); err != nil {
		log.Printf("[OutboxSender] 增加重试次数失败: id=%d, err=%v", msg.ID, err)
	}
	return false
}
