package application

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/grafioschtrader/gtnet/internal/gtnet/domain"
	"github.com/grafioschtrader/gtnet/pkg/logger"
	"github.com/grafioschtrader/gtnet/pkg/metrics"
)

var (
	ErrUnknownCode        = errors.New("unknown message code")
	ErrNotComposable      = errors.New("server responses are produced by the request pipeline")
	ErrLocalPeerMissing   = errors.New("local peer is not configured")
	ErrUnknownPeer        = errors.New("peer not found")
	ErrMessageNotFound    = errors.New("message not found")
	ErrNotAwaitingReply   = errors.New("message is not awaiting a manual reply")
	ErrResponseNotAllowed = errors.New("response code not allowed for request")
)

// ComposeCommand 本节点发起的一条出站消息
type ComposeCommand struct {
	DomainName string
	Code       domain.MessageCode
	Note       string
	Params     map[string]string
	Payload    any
}

// MessageService 入站信封的入口：预处理、分派、事务与指标
type MessageService struct {
	registry *Registry
	peers    domain.PeerRepository
	messages domain.MessageRepository
	rules    domain.RuleRepository
	tx       domain.TransactionManager
	counter  domain.DailyRequestCounter
	metrics  *metrics.Metrics
	now      func() time.Time
}

// ServiceOption 可选依赖
type ServiceOption func(*MessageService)

// WithClock 替换时钟
func WithClock(now func() time.Time) ServiceOption {
	return func(s *MessageService) { s.now = now }
}

// WithMetrics 记录处理指标
func WithMetrics(m *metrics.Metrics) ServiceOption {
	return func(s *MessageService) { s.metrics = m }
}

// WithRequestCounter 使用外部的当日请求计数器（多副本部署时为 redis）
func WithRequestCounter(c domain.DailyRequestCounter) ServiceOption {
	return func(s *MessageService) { s.counter = c }
}

// NewMessageService 创建消息服务
func NewMessageService(registry *Registry, peers domain.PeerRepository, messages domain.MessageRepository,
	rules domain.RuleRepository, tx domain.TransactionManager, opts ...ServiceOption,
) *MessageService {
	s := &MessageService{
		registry: registry,
		peers:    peers,
		messages: messages,
		rules:    rules,
		tx:       tx,
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Process 处理一个入站信封，整个过程在一个事务内完成
func (s *MessageService) Process(ctx context.Context, env *domain.MessageEnvelope) (domain.HandlerResult, error) {
	start := time.Now()
	code := domain.MessageCodeOf(env.Message.Code)
	ctx = logger.WithPeer(ctx, env.Sender.DomainName)

	if code.IsUnknown() {
		perr := domain.NewProcessingError(domain.ErrCodeUnknownMessage, fmt.Sprintf("message code %d is not assigned", env.Message.Code))
		s.observe(ctx, code, perr, nil, start)
		return perr, nil
	}
	h, ok := s.registry.HandlerFor(code)
	if !ok {
		perr := domain.NewProcessingError(domain.ErrCodeNoHandler, fmt.Sprintf("no handler for %s", code))
		s.observe(ctx, code, perr, nil, start)
		return perr, nil
	}

	var result domain.HandlerResult
	err := s.tx.WithTx(ctx, func(txCtx context.Context) error {
		hc, err := s.buildContext(txCtx, env, code)
		if err != nil {
			return err
		}
		r, err := h.Handle(txCtx, hc)
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	if err != nil {
		err = fmt.Errorf("process %s: %w", code, err)
	}
	s.observe(ctx, code, result, err, start)
	return result, err
}

// buildContext 解析发送方、同步其身份、计数并加载配置与规则
func (s *MessageService) buildContext(ctx context.Context, env *domain.MessageEnvelope, code domain.MessageCode) (*HandlerContext, error) {
	now := s.now()
	local, err := s.peers.FindLocal(ctx)
	if err != nil {
		return nil, fmt.Errorf("load local peer: %w", err)
	}
	remote, err := s.peers.FindByDomain(ctx, env.Sender.DomainName)
	if err != nil {
		return nil, fmt.Errorf("load sender: %w", err)
	}
	hc := &HandlerContext{Envelope: env, Code: code, Local: local, Remote: remote, Now: now}

	if remote != nil {
		remote.ApplyIdentity(env.Sender)
		remote.OnlineStatus = domain.OnlineStatusOnline
		if code.IsRequestRequiringResponse() {
			if hc.DailyCount, err = s.countRequest(ctx, remote, now); err != nil {
				return nil, fmt.Errorf("count daily request: %w", err)
			}
		} else if remote.DailyCountDate.Equal(domain.TruncateDay(now)) {
			hc.DailyCount = remote.DailyRequestCount
		}
		remote.UpdatedAt = now
		if err := s.peers.Save(ctx, remote); err != nil {
			return nil, fmt.Errorf("sync sender: %w", err)
		}
		if hc.RemoteConfig, err = s.peers.FindConfig(ctx, remote.ID); err != nil {
			return nil, fmt.Errorf("load peer config: %w", err)
		}
	}

	if code.IsRequestRequiringResponse() && s.rules != nil {
		if hc.Rule, err = s.rules.FindByRequestCode(ctx, code); err != nil {
			return nil, fmt.Errorf("load auto-response rule: %w", err)
		}
	}
	return hc, nil
}

func (s *MessageService) countRequest(ctx context.Context, remote *domain.Peer, now time.Time) (int, error) {
	if s.counter != nil {
		return s.counter.Increment(ctx, remote, now)
	}
	return remote.IncrementDailyCount(now), nil
}

func (s *MessageService) observe(ctx context.Context, code domain.MessageCode, result domain.HandlerResult, err error, start time.Time) {
	outcome := "error"
	if err == nil && result != nil {
		outcome = result.Outcome()
	}
	s.metrics.ObserveMessage(code.Name(), outcome, time.Since(start))

	switch r := result.(type) {
	case *domain.ProcessingError:
		logger.Warn(ctx, "message rejected", "code", code.Name(), "error_code", r.Code, "reason", r.Message)
	case domain.AwaitingManualResponse:
		logger.Info(ctx, "message awaiting manual response", "code", code.Name())
	}
	if err != nil {
		logger.Error(ctx, "message processing failed", "code", code.Name(), "error", err)
		return
	}
	logger.Debug(ctx, "message processed", "code", code.Name(), "outcome", outcome, "duration", time.Since(start))
}

// Compose 构造并保存一条出站消息，返回待发送的信封；ping 不落库
func (s *MessageService) Compose(ctx context.Context, cmd ComposeCommand) (*domain.MessageEnvelope, error) {
	if cmd.Code.IsUnknown() {
		return nil, ErrUnknownCode
	}
	if cmd.Code.IsServerResponse() {
		return nil, fmt.Errorf("%w: %s", ErrNotComposable, cmd.Code)
	}
	var payload json.RawMessage
	if cmd.Payload != nil {
		raw, err := json.Marshal(cmd.Payload)
		if err != nil {
			return nil, fmt.Errorf("marshal payload: %w", err)
		}
		payload = raw
	}

	var env *domain.MessageEnvelope
	err := s.tx.WithTx(ctx, func(txCtx context.Context) error {
		local, err := s.peers.FindLocal(txCtx)
		if err != nil {
			return err
		}
		if local == nil {
			return ErrLocalPeerMissing
		}
		msg := &domain.Message{
			Timestamp: s.now(),
			Direction: domain.DirectionSend,
			Code:      cmd.Code,
			Note:      cmd.Note,
			Params:    cmd.Params,
		}
		if cmd.Code != domain.CodePing {
			remote, err := s.outboundPeer(txCtx, cmd)
			if err != nil {
				return err
			}
			id := remote.ID
			msg.PeerID = &id
			if err := s.messages.Save(txCtx, msg); err != nil {
				return err
			}
		}
		env = &domain.MessageEnvelope{Sender: local.Identity(), Message: msg.ToWire(), Payload: payload}
		return nil
	})
	if err != nil {
		return nil, err
	}
	logger.Info(ctx, "outbound message composed", "code", cmd.Code.Name(), "peer", cmd.DomainName)
	return env, nil
}

// outboundPeer 首次握手可以发给尚未登记的节点，此时先登记
func (s *MessageService) outboundPeer(ctx context.Context, cmd ComposeCommand) (*domain.Peer, error) {
	remote, err := s.peers.FindByDomain(ctx, cmd.DomainName)
	if err != nil {
		return nil, err
	}
	if remote != nil {
		return remote, nil
	}
	if cmd.Code != domain.CodeFirstHandshake || cmd.DomainName == "" {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPeer, cmd.DomainName)
	}
	remote = domain.NewPeerFromIdentity(domain.PeerIdentity{DomainName: cmd.DomainName})
	remote.UpdatedAt = s.now()
	if err := s.peers.Save(ctx, remote); err != nil {
		return nil, err
	}
	return remote, nil
}

// PendingRequests 等待人工回复的请求
func (s *MessageService) PendingRequests(ctx context.Context) ([]*domain.Message, error) {
	return s.messages.FindUnansweredRequests(ctx)
}

// LocalPeer 本地节点，未配置时返回 nil
func (s *MessageService) LocalPeer(ctx context.Context) (*domain.Peer, error) {
	return s.peers.FindLocal(ctx)
}

// RespondManually 对等待中的请求人工给出应答
func (s *MessageService) RespondManually(ctx context.Context, messageID uint, d Decision) (domain.HandlerResult, error) {
	var result domain.HandlerResult
	err := s.tx.WithTx(ctx, func(txCtx context.Context) error {
		stored, err := s.pendingRequest(txCtx, messageID)
		if err != nil {
			return err
		}
		h, ok := s.registry.HandlerFor(stored.Code)
		if !ok {
			return fmt.Errorf("%w: %s", ErrNotAwaitingReply, stored.Code)
		}
		mr, ok := h.(ManualResponder)
		if !ok {
			return fmt.Errorf("%w: %s", ErrNotAwaitingReply, stored.Code)
		}
		if !slices.Contains(mr.AllowedResponses(), d.ResponseCode) {
			return fmt.Errorf("%w: %s cannot answer %s", ErrResponseNotAllowed, d.ResponseCode, stored.Code)
		}
		hc, err := s.manualContext(txCtx, stored)
		if err != nil {
			return err
		}
		r, err := mr.RespondManually(txCtx, hc, &d)
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	logger.Info(ctx, "manual response recorded", "message_id", messageID, "response", d.ResponseCode.Name(), "outcome", result.Outcome())
	return result, nil
}

func (s *MessageService) pendingRequest(ctx context.Context, messageID uint) (*domain.Message, error) {
	pending, err := s.messages.FindUnansweredRequests(ctx)
	if err != nil {
		return nil, err
	}
	for _, m := range pending {
		if m.ID == messageID {
			return m, nil
		}
	}
	stored, err := s.messages.FindByID(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if stored == nil {
		return nil, ErrMessageNotFound
	}
	return nil, ErrNotAwaitingReply
}

// manualContext 由已保存的请求重建处理上下文
func (s *MessageService) manualContext(ctx context.Context, stored *domain.Message) (*HandlerContext, error) {
	if stored.PeerID == nil {
		return nil, ErrNotAwaitingReply
	}
	remote, err := s.peers.FindByID(ctx, *stored.PeerID)
	if err != nil {
		return nil, err
	}
	if remote == nil {
		return nil, fmt.Errorf("%w: id %d", ErrUnknownPeer, *stored.PeerID)
	}
	local, err := s.peers.FindLocal(ctx)
	if err != nil {
		return nil, err
	}
	if local == nil {
		return nil, ErrLocalPeerMissing
	}
	cfg, err := s.peers.FindConfig(ctx, remote.ID)
	if err != nil {
		return nil, err
	}
	env := &domain.MessageEnvelope{
		Sender: remote.Identity(),
		Message: domain.WireMessage{
			ID:        stored.RemoteMessageID,
			Code:      stored.Code.Value(),
			Timestamp: stored.Timestamp,
			Direction: byte(domain.DirectionSend),
			Note:      stored.Note,
			Params:    stored.Params,
		},
	}
	return &HandlerContext{
		Envelope:     env,
		Code:         stored.Code,
		Remote:       remote,
		Local:        local,
		RemoteConfig: cfg,
		DailyCount:   remote.DailyRequestCount,
		Now:          s.now(),
		Inbound:      stored,
	}, nil
}
