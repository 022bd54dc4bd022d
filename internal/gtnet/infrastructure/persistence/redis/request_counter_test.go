package redis

import (
	"context"
	"testing"
	"time"

	"github.com/grafioschtrader/gtnet/internal/gtnet/domain"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDailyKeyUsesUTCDay(t *testing.T) {
	c := &dailyCounter{prefix: "gtnet:daily:"}
	zurich, err := time.LoadLocation("Europe/Zurich")
	require.NoError(t, err)
	local := time.Date(2026, 3, 5, 0, 30, 0, 0, zurich)
	assert.Equal(t, "gtnet:daily:7:20260304", c.key(7, domain.TruncateDay(local)))
}

func TestIncrementLeavesPeerOnError(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	t.Cleanup(func() { _ = client.Close() })

	peer := &domain.Peer{ID: 3, DailyRequestCount: 4}
	_, err := NewDailyRequestCounter(client).Increment(context.Background(), peer, time.Now())
	require.Error(t, err)
	assert.Equal(t, 4, peer.DailyRequestCount)
}
