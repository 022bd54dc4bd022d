// Package messaging 交换同步任务的 outbox 写入与 Kafka 转发
package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/grafioschtrader/gtnet/internal/gtnet/domain"
	"github.com/wyfcoding/pkg/contextx"
	"gorm.io/gorm"
)

// Outbox 状态
const (
	StatusPending = "pending"
	StatusSent    = "sent"
)

// EventExchangeSync 交换同步任务事件类型
const EventExchangeSync = "ExchangeSyncRequested"

// OutboxMessage 待转发的消息
type OutboxMessage struct {
	ID        string    `gorm:"type:varchar(36);primaryKey"`
	EventID   string    `gorm:"type:varchar(36);index"`
	EventType string    `gorm:"type:varchar(100);index"`
	Topic     string    `gorm:"type:varchar(255);not null"`
	Key       string    `gorm:"column:msg_key;type:varchar(255)"`
	Payload   string    `gorm:"type:text"`
	Status    string    `gorm:"type:varchar(20);index;default:'pending'"`
	Attempts  int       `gorm:"not null;default:0"`
	CreatedAt time.Time `gorm:"index"`
	UpdatedAt time.Time
}

// TableName 指定表名
func (OutboxMessage) TableName() string {
	return "gtnet_outbox_messages"
}

// AutoMigrate 创建 outbox 表
func AutoMigrate(ctx context.Context, db *gorm.DB) error {
	return db.WithContext(ctx).AutoMigrate(&OutboxMessage{})
}

func getDB(ctx context.Context, db *gorm.DB) *gorm.DB {
	if tx, ok := contextx.GetTx(ctx).(*gorm.DB); ok && tx != nil {
		return tx
	}
	return db.WithContext(ctx)
}

// OutboxScheduler 把交换同步任务写进 outbox，与消息处理共用同一事务
type OutboxScheduler struct {
	db    *gorm.DB
	topic string
	now   func() time.Time
}

// NewOutboxScheduler 创建调度器
func NewOutboxScheduler(db *gorm.DB, topic string) *OutboxScheduler {
	return &OutboxScheduler{db: db, topic: topic, now: time.Now}
}

// ScheduleExchangeSync 只入队，不做任何网络调用
func (s *OutboxScheduler) ScheduleExchangeSync(ctx context.Context, task domain.ExchangeSyncTask) error {
	payload, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal exchange sync task: %w", err)
	}
	now := s.now()
	msg := OutboxMessage{
		ID:        uuid.NewString(),
		EventID:   uuid.NewString(),
		EventType: EventExchangeSync,
		Topic:     s.topic,
		Key:       task.DomainName,
		Payload:   string(payload),
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	return getDB(ctx, s.db).Create(&msg).Error
}
