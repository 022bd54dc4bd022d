// Package mq 提供 Kafka 生产者封装，用于发布 GTNet 数据同步任务
package mq

import (
	"context"
	"fmt"
	"time"

	"github.com/grafioschtrader/gtnet/pkg/logger"
	"github.com/segmentio/kafka-go"
)

// KafkaConfig Kafka 配置
type KafkaConfig struct {
	Brokers []string
	// 写超时（毫秒）
	WriteTimeout int
}

// Record 待发布的消息，Value 已序列化
type Record struct {
	Topic string
	Key   string
	Value []byte
}

// KafkaProducer Kafka 生产者
type KafkaProducer struct {
	writer *kafka.Writer
}

// NewProducer 创建 Kafka 生产者；重试由调用方的 backoff 控制，writer 只尝试一次
func NewProducer(cfg KafkaConfig) (*KafkaProducer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers are required")
	}
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		AllowAutoTopicCreation: true,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		MaxAttempts:            1,
		WriteTimeout:           time.Duration(cfg.WriteTimeout) * time.Millisecond,
	}

	logger.Info(context.Background(), "kafka producer created", "brokers", cfg.Brokers)
	return &KafkaProducer{writer: writer}, nil
}

// Publish 批量发布消息，同一 Key 落在同一分区以保持顺序
func (kp *KafkaProducer) Publish(ctx context.Context, records ...Record) error {
	if len(records) == 0 {
		return nil
	}
	msgs := make([]kafka.Message, len(records))
	for i, r := range records {
		msgs[i] = kafka.Message{Topic: r.Topic, Key: []byte(r.Key), Value: r.Value}
	}
	if err := kp.writer.WriteMessages(ctx, msgs...); err != nil {
		logger.Error(ctx, "failed to publish kafka messages", "count", len(msgs), "error", err)
		return err
	}
	logger.Debug(ctx, "kafka messages published", "count", len(msgs))
	return nil
}

// Close 关闭生产者
func (kp *KafkaProducer) Close() error {
	return kp.writer.Close()
}
