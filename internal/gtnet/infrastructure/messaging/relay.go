package messaging

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/grafioschtrader/gtnet/pkg/logger"
	"github.com/grafioschtrader/gtnet/pkg/metrics"
	"github.com/grafioschtrader/gtnet/pkg/mq"
	"gorm.io/gorm"
)

// Publisher 消息发布端，*mq.KafkaProducer 满足该接口
type Publisher interface {
	Publish(ctx context.Context, records ...mq.Record) error
}

// RelayConfig 转发参数
type RelayConfig struct {
	Interval  time.Duration
	BatchSize int
}

// Relay 轮询 outbox 并把待发送消息批量发布到 Kafka
type Relay struct {
	db        *gorm.DB
	publisher Publisher
	metrics   *metrics.Metrics
	cfg       RelayConfig
}

// NewRelay 创建转发器
func NewRelay(db *gorm.DB, publisher Publisher, m *metrics.Metrics, cfg RelayConfig) *Relay {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	return &Relay{db: db, publisher: publisher, metrics: m, cfg: cfg}
}

// ProcessOnce 发布一批待发送消息，返回本批条数
func (r *Relay) ProcessOnce(ctx context.Context) (int, error) {
	var messages []OutboxMessage
	err := r.db.WithContext(ctx).
		Where("status = ?", StatusPending).
		Order("created_at").
		Limit(r.cfg.BatchSize).
		Find(&messages).Error
	if err != nil {
		return 0, err
	}
	if len(messages) == 0 {
		return 0, nil
	}

	ids := make([]string, len(messages))
	records := make([]mq.Record, len(messages))
	for i, m := range messages {
		ids[i] = m.ID
		records[i] = mq.Record{Topic: m.Topic, Key: m.Key, Value: []byte(m.Payload)}
	}

	if err := r.publisher.Publish(ctx, records...); err != nil {
		r.metrics.ObserveOutbox("failed", len(messages))
		if uerr := r.db.WithContext(ctx).Model(&OutboxMessage{}).
			Where("id IN ?", ids).
			UpdateColumn("attempts", gorm.Expr("attempts + 1")).Error; uerr != nil {
			logger.Warn(ctx, "failed to record outbox attempt", "error", uerr)
		}
		return 0, err
	}

	err = r.db.WithContext(ctx).Model(&OutboxMessage{}).
		Where("id IN ?", ids).
		Updates(map[string]any{"status": StatusSent, "updated_at": time.Now()}).Error
	if err != nil {
		// 已发布但未标记，下一轮会重复发布；消费端按 EventID 去重
		return 0, err
	}
	r.metrics.ObserveOutbox("published", len(messages))
	return len(messages), nil
}

// Run 阻塞运行直到 ctx 取消；失败时按指数退避等待
func (r *Relay) Run(ctx context.Context) error {
	retry := backoff.NewExponentialBackOff()
	retry.MaxInterval = 30 * time.Second

	for {
		wait := r.cfg.Interval
		n, err := r.ProcessOnce(ctx)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return nil
			}
			wait = retry.NextBackOff()
			logger.Error(ctx, "outbox relay failed", "error", err, "retry_in", wait)
		case n == r.cfg.BatchSize:
			retry.Reset()
			continue
		default:
			retry.Reset()
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
	}
}

// Cleanup 删除 before 之前已发送的消息
func (r *Relay) Cleanup(ctx context.Context, before time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Where("status = ? AND updated_at < ?", StatusSent, before).Delete(&OutboxMessage{})
	return res.RowsAffected, res.Error
}
