package application

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/grafioschtrader/gtnet/internal/gtnet/domain"
	"github.com/stretchr/testify/require"
)

type memPeers struct {
	peers   map[uint]*domain.Peer
	configs map[uint]*domain.PeerConfig
	nextID  uint
}

func newMemPeers() *memPeers {
	return &memPeers{peers: map[uint]*domain.Peer{}, configs: map[uint]*domain.PeerConfig{}}
}

func (r *memPeers) FindByID(_ context.Context, id uint) (*domain.Peer, error) {
	return r.peers[id], nil
}

func (r *memPeers) FindByDomain(_ context.Context, name string) (*domain.Peer, error) {
	for _, p := range r.peers {
		if strings.EqualFold(p.DomainName, name) {
			return p, nil
		}
	}
	return nil, nil
}

func (r *memPeers) FindLocal(context.Context) (*domain.Peer, error) {
	for _, p := range r.peers {
		if p.IsLocal {
			return p, nil
		}
	}
	return nil, nil
}

func (r *memPeers) Save(_ context.Context, p *domain.Peer) error {
	if p.ID == 0 {
		r.nextID++
		p.ID = r.nextID
	}
	r.peers[p.ID] = p
	return nil
}

func (r *memPeers) FindShareable(_ context.Context, excludeID uint) ([]*domain.Peer, error) {
	var out []*domain.Peer
	for _, p := range r.peers {
		if p.IsLocal || p.ID == excludeID || p.ServerState == domain.ServerStateClosed {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *memPeers) FindConfig(_ context.Context, peerID uint) (*domain.PeerConfig, error) {
	return r.configs[peerID], nil
}

func (r *memPeers) SaveConfig(_ context.Context, cfg *domain.PeerConfig) error {
	r.configs[cfg.PeerID] = cfg
	return nil
}

type stateKey struct {
	peer uint
	kind domain.EntityKind
}

type memStates struct {
	m map[stateKey]*domain.EntityExchangeState
}

func newMemStates() *memStates {
	return &memStates{m: map[stateKey]*domain.EntityExchangeState{}}
}

func (r *memStates) Find(_ context.Context, peerID uint, kind domain.EntityKind) (*domain.EntityExchangeState, error) {
	return r.m[stateKey{peerID, kind}], nil
}

func (r *memStates) FindByPeer(_ context.Context, peerID uint) ([]*domain.EntityExchangeState, error) {
	var out []*domain.EntityExchangeState
	for k, st := range r.m {
		if k.peer == peerID {
			out = append(out, st)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Kind < out[j].Kind })
	return out, nil
}

func (r *memStates) Save(_ context.Context, st *domain.EntityExchangeState) error {
	r.m[stateKey{st.PeerID, st.Kind}] = st
	return nil
}

func (r *memStates) put(peerID uint, kind domain.EntityKind, fn func(st *domain.EntityExchangeState)) *domain.EntityExchangeState {
	st := domain.NewEntityExchangeState(peerID, kind)
	if fn != nil {
		fn(st)
	}
	r.m[stateKey{peerID, kind}] = st
	return st
}

type memMessages struct {
	list []*domain.Message
}

func (r *memMessages) Save(_ context.Context, m *domain.Message) error {
	m.ID = uint(len(r.list) + 1)
	r.list = append(r.list, m)
	return nil
}

func (r *memMessages) FindByID(_ context.Context, id uint) (*domain.Message, error) {
	for _, m := range r.list {
		if m.ID == id {
			return m, nil
		}
	}
	return nil, nil
}

func (r *memMessages) answered(id uint) bool {
	for _, m := range r.list {
		if m.Direction == domain.DirectionSend && m.ReplyToID != nil && *m.ReplyToID == id {
			return true
		}
	}
	return false
}

func (r *memMessages) FindUnansweredRequests(context.Context) ([]*domain.Message, error) {
	var out []*domain.Message
	for _, m := range r.list {
		if m.Direction == domain.DirectionReceived && m.Code.IsRequestRequiringResponse() && !r.answered(m.ID) {
			out = append(out, m)
		}
	}
	return out, nil
}

func (r *memMessages) FindLatestReply(_ context.Context, peerID uint, code domain.MessageCode) (*domain.Message, error) {
	var latest *domain.Message
	for _, m := range r.list {
		if m.Direction != domain.DirectionSend || m.PeerID == nil || *m.PeerID != peerID || m.ReplyToID == nil {
			continue
		}
		req, _ := r.FindByID(context.Background(), *m.ReplyToID)
		if req == nil || req.Code != code {
			continue
		}
		latest = m
	}
	return latest, nil
}

func (r *memMessages) byCode(code domain.MessageCode) []*domain.Message {
	var out []*domain.Message
	for _, m := range r.list {
		if m.Code == code {
			out = append(out, m)
		}
	}
	return out
}

type memRules struct {
	m map[byte]*domain.AutoResponseRule
}

func (r *memRules) FindByRequestCode(_ context.Context, code domain.MessageCode) (*domain.AutoResponseRule, error) {
	return r.m[code.Value()], nil
}

// always 无条件以 code 应答的规则
func (r *memRules) always(request, response domain.MessageCode, waitDays int) {
	r.m[request.Value()] = &domain.AutoResponseRule{
		RequestCode: request,
		Slots:       [3]domain.RuleSlot{{ResponseCode: response}},
		WaitDays:    waitDays,
	}
}

type memPool struct {
	entries []*domain.InstrumentPoolEntry
	history map[uint]map[time.Time]domain.HistoryRecord
	calls   int
}

func newMemPool() *memPool {
	return &memPool{history: map[uint]map[time.Time]domain.HistoryRecord{}}
}

func (p *memPool) FindByKey(_ context.Context, key domain.InstrumentKey) (*domain.InstrumentPoolEntry, error) {
	p.calls++
	for _, e := range p.entries {
		if e.Key == key {
			return e, nil
		}
	}
	return nil, nil
}

func (p *memPool) FindOrCreate(ctx context.Context, key domain.InstrumentKey, localID *uint) (*domain.InstrumentPoolEntry, bool, error) {
	if e, _ := p.FindByKey(ctx, key); e != nil {
		return e, false, nil
	}
	e := &domain.InstrumentPoolEntry{ID: uint(len(p.entries) + 1), Key: key, LocalID: localID}
	p.entries = append(p.entries, e)
	return e, true, nil
}

func (p *memPool) FindHistory(_ context.Context, ids []uint, from, to time.Time) (map[uint][]domain.HistoryRecord, error) {
	p.calls++
	out := map[uint][]domain.HistoryRecord{}
	for _, id := range ids {
		for _, r := range p.history[id] {
			if !r.Date.Before(from) && !r.Date.After(to) {
				out[id] = append(out[id], r)
			}
		}
		sort.Slice(out[id], func(i, j int) bool { return out[id][i].Date.Before(out[id][j].Date) })
	}
	return out, nil
}

func (p *memPool) SaveHistory(_ context.Context, id uint, records []domain.HistoryRecord) (int, error) {
	p.calls++
	if p.history[id] == nil {
		p.history[id] = map[time.Time]domain.HistoryRecord{}
	}
	n := 0
	for _, r := range records {
		if _, ok := p.history[id][r.Date]; ok {
			continue
		}
		p.history[id][r.Date] = r
		n++
	}
	return n, nil
}

// memInstruments 本地证券/货币对与本地历史行情
type memInstruments struct {
	ids     map[domain.InstrumentKey]uint
	history map[uint][]domain.HistoryRecord
}

func newMemInstruments() *memInstruments {
	return &memInstruments{ids: map[domain.InstrumentKey]uint{}, history: map[uint][]domain.HistoryRecord{}}
}

func (m *memInstruments) FindLocalID(_ context.Context, key domain.InstrumentKey) (*uint, error) {
	id, ok := m.ids[key]
	if !ok {
		return nil, nil
	}
	return &id, nil
}

func (m *memInstruments) FindHistory(_ context.Context, ids []uint, from, to time.Time) (map[uint][]domain.HistoryRecord, error) {
	out := map[uint][]domain.HistoryRecord{}
	for _, id := range ids {
		for _, r := range m.history[id] {
			if !r.Date.Before(from) && !r.Date.After(to) {
				out[id] = append(out[id], r)
			}
		}
	}
	return out, nil
}

type memScheduler struct {
	tasks []domain.ExchangeSyncTask
}

func (s *memScheduler) ScheduleExchangeSync(_ context.Context, task domain.ExchangeSyncTask) error {
	s.tasks = append(s.tasks, task)
	return nil
}

type inlineTx struct{}

func (inlineTx) WithTx(ctx context.Context, fn func(ctx context.Context) error) error { return fn(ctx) }

const (
	localDomain  = "local.example.org"
	remoteDomain = "remote.example.org"
)

type fixture struct {
	peers       *memPeers
	states      *memStates
	messages    *memMessages
	rules       *memRules
	pool        *memPool
	instruments *memInstruments
	scheduler   *memScheduler
	local       *domain.Peer
	remote      *domain.Peer
	now         time.Time
	registry    *Registry
	service     *MessageService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		peers:       newMemPeers(),
		states:      newMemStates(),
		messages:    &memMessages{},
		rules:       &memRules{m: map[byte]*domain.AutoResponseRule{}},
		pool:        newMemPool(),
		instruments: newMemInstruments(),
		scheduler:   &memScheduler{},
		now:         time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC),
	}
	f.local = &domain.Peer{DomainName: localDomain, TimeZone: "UTC", SpreadCapability: true, IsLocal: true,
		OnlineStatus: domain.OnlineStatusOnline, ServerState: domain.ServerStateOpen}
	f.remote = &domain.Peer{DomainName: remoteDomain, TimeZone: "Europe/Zurich", DailyRequestLimit: 100,
		OnlineStatus: domain.OnlineStatusOnline, ServerState: domain.ServerStateOpen}
	require.NoError(t, f.peers.Save(context.Background(), f.local))
	require.NoError(t, f.peers.Save(context.Background(), f.remote))

	clock := func() time.Time { return f.now }
	pipeline := &PipelineDeps{Messages: f.messages, Resolver: NewResolver(f.rules, nil)}
	history := NewHistoryquoteService(
		NewOpenStrategy(f.instruments, f.instruments, DefaultHistoryBatchThresholdDays, clock),
		NewPushOpenStrategy(f.pool, f.instruments, f.instruments, DefaultHistoryBatchThresholdDays, clock),
	)
	deps := &Dependencies{
		Pipeline:   pipeline,
		Peers:      f.peers,
		States:     f.states,
		Negotiator: NewExchangeNegotiator(f.states, f.scheduler),
		History:    history,
		Policy:     Policy{AcceptUnknownPeers: true, DefaultAcceptMode: domain.AcceptModeOpen},
	}
	reg, err := NewRegistry(DefaultHandlers(deps)...)
	require.NoError(t, err)
	f.registry = reg
	f.service = NewMessageService(reg, f.peers, f.messages, f.rules, inlineTx{}, WithClock(clock))
	return f
}

// envelope 以 sender 身份构造入站信封
func (f *fixture) envelope(sender string, code domain.MessageCode, params map[string]string) *domain.MessageEnvelope {
	id := domain.PeerIdentity{DomainName: sender, ServerState: domain.ServerStateOpen}
	if p, _ := f.peers.FindByDomain(context.Background(), sender); p != nil {
		id = p.Identity()
	}
	return &domain.MessageEnvelope{
		Sender: id,
		Message: domain.WireMessage{
			Code:      code.Value(),
			Timestamp: f.now,
			Direction: byte(domain.DirectionSend),
			Params:    params,
		},
	}
}

func (f *fixture) process(t *testing.T, env *domain.MessageEnvelope) domain.HandlerResult {
	t.Helper()
	res, err := f.service.Process(context.Background(), env)
	require.NoError(t, err)
	require.NotNil(t, res)
	return res
}

// compose 本节点向 remote 发出请求，返回已保存消息的 ID
func (f *fixture) compose(t *testing.T, code domain.MessageCode, params map[string]string) uint {
	t.Helper()
	env, err := f.service.Compose(context.Background(), ComposeCommand{DomainName: remoteDomain, Code: code, Params: params})
	require.NoError(t, err)
	require.NotNil(t, env.Message.ID)
	return *env.Message.ID
}

func withPayload(t *testing.T, env *domain.MessageEnvelope, v any) *domain.MessageEnvelope {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	env.Payload = raw
	return env
}

func requireProcessingError(t *testing.T, res domain.HandlerResult, code string) {
	t.Helper()
	perr, ok := res.(*domain.ProcessingError)
	require.True(t, ok, "expected ProcessingError, got %T", res)
	require.Equal(t, code, perr.Code)
}

func requireImmediate(t *testing.T, res domain.HandlerResult) *domain.MessageEnvelope {
	t.Helper()
	imm, ok := res.(domain.ImmediateResponse)
	require.True(t, ok, "expected ImmediateResponse, got %T: %v", res, res)
	return imm.Envelope
}
