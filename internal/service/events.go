package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"msmeconnect/internal/model"
	"msmeconnect/internal/repository"

	"gorm.io/gorm"
)

// eventWriter 在业务事务内写 outbox，由 OutboxSender 异步投递
type eventWriter struct {
	topic      string
	outboxRepo *repository.OutboxRepository
}

func (w *eventWriter) emit(ctx context.Context, tx *gorm.DB, eventType string, userID int64, payload map[string]interface{}) error {
	payload["event_type"] = eventType
	payload["user_id"] = userID
	payload["occurred_at"] = time.Now().UTC().Format(time.RFC3339Nano)

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", eventType, err)
	}

	msg := &model.OutboxMessage{
		MessageKey: strconv.FormatInt(userID, 10),
		Topic:      w.topic,
		EventType:  eventType,
		Payload:    string(data),
		Status:     model.OutboxStatusPending,
	}
	if err := w.outboxRepo.Create(ctx, tx, msg); err != nil {
		return fmt.Errorf("write outbox: %w", err)
	}
	return nil
}
