package application

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/grafioschtrader/gtnet/internal/gtnet/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func announcementContext(f *fixture, code domain.MessageCode) *HandlerContext {
	return &HandlerContext{
		Envelope: f.envelope(remoteDomain, code, nil),
		Code:     code,
		Local:    f.local,
		Remote:   f.remote,
		Now:      f.now,
	}
}

func TestValidationFailurePersistsNothing(t *testing.T) {
	f := newFixture(t)
	deps := &PipelineDeps{Messages: f.messages}
	called := false
	hooks := AnnouncementHooks{
		Validate: func(context.Context, *HandlerContext) *domain.ProcessingError {
			return domain.NewProcessingError(domain.ErrCodeInvalidMessage, "bad")
		},
		SideEffects: func(context.Context, *HandlerContext) error {
			called = true
			return nil
		},
	}
	res, err := RunAnnouncementPipeline(context.Background(), deps, announcementContext(f, domain.CodeBusy), hooks)
	require.NoError(t, err)
	requireProcessingError(t, res, domain.ErrCodeInvalidMessage)
	assert.Empty(t, f.messages.list)
	assert.False(t, called)
}

func TestMessagePersistedBeforeSideEffects(t *testing.T) {
	f := newFixture(t)
	deps := &PipelineDeps{Messages: f.messages}
	rowsAtSideEffect := -1
	hooks := AnnouncementHooks{
		SideEffects: func(_ context.Context, hc *HandlerContext) error {
			rowsAtSideEffect = len(f.messages.list)
			require.NotNil(t, hc.Inbound)
			assert.NotZero(t, hc.Inbound.ID)
			return nil
		},
	}
	res, err := RunAnnouncementPipeline(context.Background(), deps, announcementContext(f, domain.CodeBusy), hooks)
	require.NoError(t, err)
	assert.IsType(t, domain.NoResponseNeeded{}, res)
	assert.Equal(t, 1, rowsAtSideEffect)
	assert.Len(t, f.messages.list, 1)
	assert.Equal(t, domain.DirectionReceived, f.messages.list[0].Direction)
}

func TestSideEffectFailurePropagates(t *testing.T) {
	f := newFixture(t)
	deps := &PipelineDeps{Messages: f.messages}
	boom := errors.New("boom")
	hooks := AnnouncementHooks{
		SideEffects: func(context.Context, *HandlerContext) error { return boom },
	}
	_, err := RunAnnouncementPipeline(context.Background(), deps, announcementContext(f, domain.CodeBusy), hooks)
	require.ErrorIs(t, err, boom)
}

func TestUnknownSenderRejected(t *testing.T) {
	f := newFixture(t)
	res := f.process(t, f.envelope("stranger.example.org", domain.CodeDataRequest, map[string]string{
		domain.ParamEntityKinds: "HistoricalPrice",
	}))
	requireProcessingError(t, res, domain.ErrCodeUnknownPeer)
	assert.Empty(t, f.messages.list)
}

func TestPingIsNeverPersisted(t *testing.T) {
	f := newFixture(t)
	env := f.envelope("stranger.example.org", domain.CodePing, nil)

	reply := requireImmediate(t, f.process(t, env))
	assert.Equal(t, domain.CodePing.Value(), reply.Message.Code)
	assert.Equal(t, byte(domain.DirectionAnswer), reply.Message.Direction)
	assert.Nil(t, reply.Message.ID)
	assert.Equal(t, localDomain, reply.Sender.DomainName)
	assert.Empty(t, f.messages.list)

	stranger, _ := f.peers.FindByDomain(context.Background(), "stranger.example.org")
	assert.Nil(t, stranger)
}

func TestPingRefreshesOnlineStatus(t *testing.T) {
	f := newFixture(t)
	f.remote.OnlineStatus = domain.OnlineStatusOffline

	requireImmediate(t, f.process(t, f.envelope(remoteDomain, domain.CodePing, nil)))
	assert.Equal(t, domain.OnlineStatusOnline, f.remote.OnlineStatus)
	assert.Empty(t, f.messages.list)
}

func TestHandshakeFromUnknownPeer(t *testing.T) {
	f := newFixture(t)
	f.rules.always(domain.CodeFirstHandshake, domain.CodeFirstHandshakeAccept, 0)
	env := f.envelope("new.example.org", domain.CodeFirstHandshake, nil)
	env.Sender.TimeZone = "Asia/Tokyo"
	env.Sender.DailyRequestLimit = 20
	senderMsgID := uint(7)
	env.Message.ID = &senderMsgID

	reply := requireImmediate(t, f.process(t, env))
	assert.Equal(t, domain.CodeFirstHandshakeAccept.Value(), reply.Message.Code)
	require.NotNil(t, reply.Message.ReplyToID)
	assert.Equal(t, senderMsgID, *reply.Message.ReplyToID)

	peer, _ := f.peers.FindByDomain(context.Background(), "new.example.org")
	require.NotNil(t, peer)
	assert.Equal(t, "Asia/Tokyo", peer.TimeZone)
	assert.Equal(t, 20, peer.DailyRequestLimit)
	assert.Equal(t, domain.OnlineStatusOnline, peer.OnlineStatus)
	assert.NotNil(t, f.peers.configs[peer.ID])

	require.Len(t, f.messages.list, 2)
	inbound, out := f.messages.list[0], f.messages.list[1]
	assert.Equal(t, peer.ID, *inbound.PeerID)
	assert.Equal(t, senderMsgID, *inbound.RemoteMessageID)
	assert.Equal(t, domain.DirectionSend, out.Direction)
	assert.Equal(t, inbound.ID, *out.ReplyToID)
}

func TestHandshakeFromUnknownPeerRefusedByPolicy(t *testing.T) {
	f := newFixture(t)
	deps := &Dependencies{
		Pipeline: &PipelineDeps{Messages: f.messages, Resolver: NewResolver(f.rules, nil)},
		Peers:    f.peers,
		Policy:   Policy{AcceptUnknownPeers: false},
	}
	reg, err := NewRegistry(newHandshakeHandler(deps))
	require.NoError(t, err)
	svc := NewMessageService(reg, f.peers, f.messages, f.rules, inlineTx{}, WithClock(func() time.Time { return f.now }))

	res, err := svc.Process(context.Background(), f.envelope("new.example.org", domain.CodeFirstHandshake, nil))
	require.NoError(t, err)
	requireProcessingError(t, res, domain.ErrCodeUnknownPeer)
	assert.Empty(t, f.messages.list)
}

func TestNoRuleAwaitsManualResponse(t *testing.T) {
	f := newFixture(t)
	res := f.process(t, f.envelope(remoteDomain, domain.CodeFirstHandshake, nil))
	awaiting, ok := res.(domain.AwaitingManualResponse)
	require.True(t, ok, "got %T", res)
	require.NotNil(t, awaiting.Stored)
	assert.NotZero(t, awaiting.Stored.ID)

	pending, err := f.service.PendingRequests(context.Background())
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, awaiting.Stored.ID, pending[0].ID)
}

func TestRuleWithForeignResponseCodeDefers(t *testing.T) {
	f := newFixture(t)
	f.rules.always(domain.CodeFirstHandshake, domain.CodeDataRequestAccept, 0)
	res := f.process(t, f.envelope(remoteDomain, domain.CodeFirstHandshake, nil))
	assert.IsType(t, domain.AwaitingManualResponse{}, res)
}

func TestRespondManually(t *testing.T) {
	f := newFixture(t)
	env := f.envelope(remoteDomain, domain.CodeFirstHandshake, nil)
	remoteID := uint(42)
	env.Message.ID = &remoteID
	res := f.process(t, env)
	stored := res.(domain.AwaitingManualResponse).Stored

	_, err := f.service.RespondManually(context.Background(), stored.ID, Decision{ResponseCode: domain.CodeDataRequestAccept})
	require.ErrorIs(t, err, ErrResponseNotAllowed)

	_, err = f.service.RespondManually(context.Background(), 999, Decision{ResponseCode: domain.CodeFirstHandshakeAccept})
	require.ErrorIs(t, err, ErrMessageNotFound)

	res, err = f.service.RespondManually(context.Background(), stored.ID, Decision{ResponseCode: domain.CodeFirstHandshakeAccept, Message: "welcome"})
	require.NoError(t, err)
	reply := requireImmediate(t, res)
	assert.Equal(t, "welcome", reply.Message.Note)
	require.NotNil(t, reply.Message.ReplyToID)
	assert.Equal(t, remoteID, *reply.Message.ReplyToID)
	assert.NotNil(t, f.peers.configs[f.remote.ID])

	pending, _ := f.service.PendingRequests(context.Background())
	assert.Empty(t, pending)

	_, err = f.service.RespondManually(context.Background(), stored.ID, Decision{ResponseCode: domain.CodeFirstHandshakeAccept})
	require.ErrorIs(t, err, ErrNotAwaitingReply)
}

func TestResponseNeverTriggersReply(t *testing.T) {
	f := newFixture(t)
	reqID := f.compose(t, domain.CodeFirstHandshake, nil)
	env := f.envelope(remoteDomain, domain.CodeFirstHandshakeAccept, nil)
	env.Message.ReplyToID = &reqID

	res := f.process(t, env)
	assert.IsType(t, domain.NoResponseNeeded{}, res)
	assert.Len(t, f.messages.list, 2)
	assert.NotNil(t, f.peers.configs[f.remote.ID])
}

func TestHandshakeRejectClosesPeer(t *testing.T) {
	f := newFixture(t)
	reqID := f.compose(t, domain.CodeFirstHandshake, nil)
	env := f.envelope(remoteDomain, domain.CodeFirstHandshakeReject, nil)
	env.Message.ReplyToID = &reqID

	assert.IsType(t, domain.NoResponseNeeded{}, f.process(t, env))
	assert.Equal(t, domain.ServerStateClosed, f.remote.ServerState)
}

func TestResponseMustReferenceOwnRequest(t *testing.T) {
	f := newFixture(t)
	env := f.envelope(remoteDomain, domain.CodeFirstHandshakeAccept, nil)
	requireProcessingError(t, f.process(t, env), domain.ErrCodeReplyUnmatched)

	missing := uint(999)
	env.Message.ReplyToID = &missing
	requireProcessingError(t, f.process(t, env), domain.ErrCodeReplyUnmatched)

	dataReq := f.compose(t, domain.CodeDataRequest, map[string]string{domain.ParamEntityKinds: "Split"})
	env.Message.ReplyToID = &dataReq
	requireProcessingError(t, f.process(t, env), domain.ErrCodeReplyUnmatched)
	assert.Len(t, f.messages.list, 1)
}

func TestCoolingOffAfterRejection(t *testing.T) {
	f := newFixture(t)
	f.states.put(f.local.ID, domain.EntityKindHistoricalPrice, func(st *domain.EntityExchangeState) {
		st.AcceptMode = domain.AcceptModeOpen
	})
	f.rules.always(domain.CodeDataRequest, domain.CodeDataRequestReject, 3)
	params := map[string]string{domain.ParamEntityKinds: "HistoricalPrice"}

	reply := requireImmediate(t, f.process(t, f.envelope(remoteDomain, domain.CodeDataRequest, params)))
	assert.Equal(t, domain.CodeDataRequestReject.Value(), reply.Message.Code)
	assert.Equal(t, "3", reply.Message.Params[domain.ParamWaitDays])
	rows := len(f.messages.list)

	f.now = f.now.AddDate(0, 0, 2)
	requireProcessingError(t, f.process(t, f.envelope(remoteDomain, domain.CodeDataRequest, params)), domain.ErrCodeCoolingOff)
	assert.Len(t, f.messages.list, rows)

	f.now = f.now.AddDate(0, 0, 2)
	requireImmediate(t, f.process(t, f.envelope(remoteDomain, domain.CodeDataRequest, params)))
}

func TestDailyCountFeedsRules(t *testing.T) {
	f := newFixture(t)
	f.remote.DailyRequestLimit = 2
	f.rules.m[domain.CodeFirstHandshake.Value()] = &domain.AutoResponseRule{
		RequestCode: domain.CodeFirstHandshake,
		Slots: [3]domain.RuleSlot{
			{Condition: "dailyCount <= dailyLimit", ResponseCode: domain.CodeFirstHandshakeAccept},
			{Condition: "", ResponseCode: domain.CodeFirstHandshakeReject},
		},
	}
	codes := make([]byte, 0, 3)
	for range 3 {
		reply := requireImmediate(t, f.process(t, f.envelope(remoteDomain, domain.CodeFirstHandshake, nil)))
		codes = append(codes, reply.Message.Code)
	}
	assert.Equal(t, []byte{2, 2, 3}, codes)
	assert.Equal(t, 3, f.remote.DailyRequestCount)
}
