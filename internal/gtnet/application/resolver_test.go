package application

import (
	"context"
	"testing"
	"time"

	"github.com/grafioschtrader/gtnet/internal/gtnet/domain"
	"github.com/grafioschtrader/gtnet/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvaluateFirstTrueSlotWins(t *testing.T) {
	r := NewResolver(nil, nil)
	rule := &domain.AutoResponseRule{
		RequestCode: domain.CodeDataRequest,
		Slots: [3]domain.RuleSlot{
			{Condition: "hour > 30", ResponseCode: domain.CodeDataRequestReject, Message: "never"},
			{Condition: "dailyCount <= dailyLimit", ResponseCode: domain.CodeDataRequestAccept, Message: "welcome"},
			{Condition: "", ResponseCode: domain.CodeDataRequestReject, Message: "fallback"},
		},
		WaitDays: 2,
	}
	env := map[string]any{VarHour: 10, VarDailyCount: 3, VarDailyLimit: 10}

	d := r.Evaluate(context.Background(), rule, env)
	require.NotNil(t, d)
	assert.Equal(t, domain.CodeDataRequestAccept, d.ResponseCode)
	assert.Equal(t, "welcome", d.Message)
	assert.Equal(t, 2, d.WaitDays)
}

func TestEvaluateBlankFirstConditionIsTrue(t *testing.T) {
	r := NewResolver(nil, nil)
	rule := &domain.AutoResponseRule{Slots: [3]domain.RuleSlot{{ResponseCode: domain.CodeFirstHandshakeAccept}}}
	d := r.Evaluate(context.Background(), rule, map[string]any{})
	require.NotNil(t, d)
	assert.Equal(t, domain.CodeFirstHandshakeAccept, d.ResponseCode)
}

func TestEvaluateSkipsUnconfiguredSlots(t *testing.T) {
	r := NewResolver(nil, nil)
	rule := &domain.AutoResponseRule{Slots: [3]domain.RuleSlot{
		{Condition: "hour > 30", ResponseCode: domain.CodeDataRequestAccept},
		// 未设置应答码的槽位即使条件为空也不参与
		{Condition: ""},
	}}
	assert.Nil(t, r.Evaluate(context.Background(), rule, map[string]any{VarHour: 10}))
}

func TestEvaluateErrorCountsAsFalse(t *testing.T) {
	m := metrics.New()
	r := NewResolver(nil, m)
	rule := &domain.AutoResponseRule{Slots: [3]domain.RuleSlot{
		{Condition: "hour >", ResponseCode: domain.CodeDataRequestReject},
		{Condition: "hour + 1", ResponseCode: domain.CodeDataRequestReject},
		{Condition: "hour < 12", ResponseCode: domain.CodeDataRequestAccept},
	}}

	d := r.Evaluate(context.Background(), rule, map[string]any{VarHour: 10})
	require.NotNil(t, d)
	assert.Equal(t, domain.CodeDataRequestAccept, d.ResponseCode)
	assert.Equal(t, float64(2), testutil.ToFloat64(m.RuleEvalErrorsTotal))
}

func TestEvaluateLegacyDialect(t *testing.T) {
	r := NewResolver(nil, nil)
	rule := &domain.AutoResponseRule{Slots: [3]domain.RuleSlot{
		{Condition: "hour >= 8 AND hour < 18 AND NOT (timezone = 'Asia/Tokyo')", ResponseCode: domain.CodeDataRequestAccept},
	}}
	env := map[string]any{VarHour: 9, VarTimezone: "Europe/Zurich"}
	assert.NotNil(t, r.Evaluate(context.Background(), rule, env))

	env[VarTimezone] = "Asia/Tokyo"
	assert.Nil(t, r.Evaluate(context.Background(), rule, env))
}

func TestEvaluateVariablesShadowBuiltins(t *testing.T) {
	m := metrics.New()
	r := NewResolver(nil, m)
	rule := &domain.AutoResponseRule{Slots: [3]domain.RuleSlot{
		{Condition: "timezone = 'Europe/Zurich' AND date = 20260304 AND now > 2", ResponseCode: domain.CodeDataRequestAccept},
	}}
	env := map[string]any{VarTimezone: "Europe/Zurich", "date": 20260304, "now": 3}
	assert.NotNil(t, r.Evaluate(context.Background(), rule, env))

	env["now"] = 1
	assert.Nil(t, r.Evaluate(context.Background(), rule, env))
	assert.Zero(t, testutil.ToFloat64(m.RuleEvalErrorsTotal))
}

func TestResolveWithParamNamedAfterBuiltin(t *testing.T) {
	m := metrics.New()
	r := NewResolver(nil, m)
	hc := &HandlerContext{
		Now:    time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC),
		Remote: &domain.Peer{TimeZone: "Europe/Zurich"},
		Rule: &domain.AutoResponseRule{RequestCode: domain.CodeDataRequest, Slots: [3]domain.RuleSlot{
			{Condition: "duration = 'short' AND timezone = 'Europe/Zurich'", ResponseCode: domain.CodeDataRequestAccept},
			{Condition: "region = 'EU'", ResponseCode: domain.CodeDataRequestReject},
		}},
		Envelope: &domain.MessageEnvelope{Message: domain.WireMessage{Params: map[string]string{"duration": "short"}}},
	}
	d, err := r.Resolve(context.Background(), hc)
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Equal(t, domain.CodeDataRequestAccept, d.ResponseCode)

	hc.Envelope.Message.Params["duration"] = "long"
	d, err = r.Resolve(context.Background(), hc)
	require.NoError(t, err)
	assert.Nil(t, d)
	assert.Zero(t, testutil.ToFloat64(m.RuleEvalErrorsTotal))
}

func TestNormalizeCondition(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"", ""},
		{"  ", ""},
		{"hour >= 8 AND hour < 18", "hour >= 8 && hour < 18"},
		{"dayOfWeek = 6 OR dayOfWeek = 7", "dayOfWeek == 6 || dayOfWeek == 7"},
		{"NOT (timezone = 'UTC')", "! (timezone == 'UTC')"},
		{"dailyCount <> dailyLimit", "dailyCount != dailyLimit"},
		{"dailyCount == 1 && hour != 3", "dailyCount == 1 && hour != 3"},
		{"hour <= 3 || hour >= 20", "hour <= 3 || hour >= 20"},
		{"note = 'a=b AND c'", "note == 'a=b AND c'"},
		{`note = "x OR y"`, `note == "x OR y"`},
		{"ANDROID = 1", "ANDROID == 1"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, NormalizeCondition(tc.in), tc.in)
	}
}

func TestBuildEnv(t *testing.T) {
	sunday := time.Date(2026, 3, 8, 22, 30, 0, 0, time.FixedZone("CET", 3600))
	hc := &HandlerContext{
		Now:        sunday,
		DailyCount: 4,
		Remote:     &domain.Peer{DailyRequestLimit: 50, TimeZone: "Europe/Zurich"},
		Envelope: &domain.MessageEnvelope{Message: domain.WireMessage{Params: map[string]string{
			"count": "5",
			"ratio": "1.5",
			"flag":  "TRUE",
			"name":  "x",
			"hour":  "99",
		}}},
	}
	env := BuildEnv(hc)
	assert.Equal(t, 21, env[VarHour])
	assert.Equal(t, 7, env[VarDayOfWeek])
	assert.Equal(t, 4, env[VarDailyCount])
	assert.Equal(t, 50, env[VarDailyLimit])
	assert.Equal(t, "Europe/Zurich", env[VarTimezone])
	assert.Equal(t, 5, env["count"])
	assert.Equal(t, 1.5, env["ratio"])
	assert.Equal(t, true, env["flag"])
	assert.Equal(t, "x", env["name"])
}

func TestBuildEnvUsesSenderIdentityForUnknownPeer(t *testing.T) {
	hc := &HandlerContext{
		Now: time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC),
		Envelope: &domain.MessageEnvelope{Sender: domain.PeerIdentity{
			DomainName: "new.example.org", TimeZone: "America/New_York", DailyRequestLimit: 7,
		}},
	}
	env := BuildEnv(hc)
	assert.Equal(t, 1, env[VarDayOfWeek])
	assert.Equal(t, 7, env[VarDailyLimit])
	assert.Equal(t, "America/New_York", env[VarTimezone])
}

func TestResolveWithoutRule(t *testing.T) {
	m := metrics.New()
	r := NewResolver(&memRules{m: map[byte]*domain.AutoResponseRule{}}, m)
	hc := &HandlerContext{Code: domain.CodeDataRequest, Now: time.Now(), Envelope: &domain.MessageEnvelope{}}

	d, err := r.Resolve(context.Background(), hc)
	require.NoError(t, err)
	assert.Nil(t, d)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.AutoResponseTotal.WithLabelValues("no_rule")))
}
