package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestObserveMessage(t *testing.T) {
	m := New()
	m.ObserveMessage("GT_NET_PING", "immediate", 5*time.Millisecond)
	m.ObserveMessage("GT_NET_PING", "immediate", 5*time.Millisecond)
	m.ObserveMessage("GT_NET_PING", "error", time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.MessagesTotal.WithLabelValues("GT_NET_PING", "immediate")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.MessagesTotal.WithLabelValues("GT_NET_PING", "error")))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveMessage("x", "y", time.Second)
		m.ObserveAutoResponse("matched")
		m.IncRuleEvalError()
		m.ObserveOutbox("published", 3)
		m.ObserveHTTP("/", "200")
	})
}

func TestOutboxCounter(t *testing.T) {
	m := New()
	m.ObserveOutbox("published", 3)
	m.ObserveOutbox("published", 0)
	assert.Equal(t, 3.0, testutil.ToFloat64(m.OutboxPublishedTotal.WithLabelValues("published")))
}
