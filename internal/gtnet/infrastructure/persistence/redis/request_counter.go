// Package redis 多副本共享的节点每日请求计数
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/grafioschtrader/gtnet/internal/gtnet/domain"
	"github.com/redis/go-redis/v9"
)

// dailyCounter 以 UTC 日期分桶计数，键在次日结束后过期
type dailyCounter struct {
	client redis.UniversalClient
	prefix string
}

// NewDailyRequestCounter 创建 Redis 计数器
func NewDailyRequestCounter(client redis.UniversalClient) domain.DailyRequestCounter {
	return &dailyCounter{client: client, prefix: "gtnet:daily:"}
}

func (c *dailyCounter) key(peerID uint, day time.Time) string {
	return fmt.Sprintf("%s%d:%s", c.prefix, peerID, day.Format("20060102"))
}

// Increment 自增并回写到节点记录，使规则表达式看到的是全局计数
func (c *dailyCounter) Increment(ctx context.Context, peer *domain.Peer, now time.Time) (int, error) {
	day := domain.TruncateDay(now)
	key := c.key(peer.ID, day)

	var incr *redis.IntCmd
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		pipe.ExpireAt(ctx, key, day.Add(48*time.Hour))
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("increment daily request count: %w", err)
	}

	n := int(incr.Val())
	peer.DailyCountDate = day
	peer.DailyRequestCount = n
	return n, nil
}
