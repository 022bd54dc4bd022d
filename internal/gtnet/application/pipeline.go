package application

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strconv"

	"github.com/grafioschtrader/gtnet/internal/gtnet/domain"
	"github.com/grafioschtrader/gtnet/pkg/logger"
)

// PipelineDeps 三个处理流程共用的依赖
type PipelineDeps struct {
	Messages domain.MessageRepository
	Resolver *Resolver
}

// Decision 应答决定，来自自动应答规则或人工
type Decision struct {
	ResponseCode domain.MessageCode
	Message      string
	WaitDays     int
}

// ReplyContent 应答附带的参数与负载
type ReplyContent struct {
	Params  map[string]string
	Payload any
}

// 钩子函数签名
type (
	ValidateFunc     func(ctx context.Context, hc *HandlerContext) *domain.ProcessingError
	PersistFunc      func(ctx context.Context, hc *HandlerContext) (*domain.Message, error)
	SideEffectFunc   func(ctx context.Context, hc *HandlerContext) error
	DecideFunc       func(ctx context.Context, hc *HandlerContext) (*Decision, error)
	PostResponseFunc func(ctx context.Context, hc *HandlerContext, d *Decision) error
	BuildReplyFunc   func(ctx context.Context, hc *HandlerContext, d *Decision) (*ReplyContent, error)
)

// RequestHooks 请求类处理器可插入的步骤
type RequestHooks struct {
	// AllowUnknownSender 允许未握手节点发送（ping、首次握手）
	AllowUnknownSender bool
	// Responses 允许的应答码，规则给出其他码时转人工
	Responses []domain.MessageCode
	// TransientReply 应答不落库，方向为 Answer
	TransientReply bool

	Validate ValidateFunc
	// PrepareSender 校验通过后、持久化之前执行，用于创建发送方节点
	PrepareSender SideEffectFunc
	// Persist 默认保存完整入站消息
	Persist     PersistFunc
	PreResponse SideEffectFunc
	// Decide 默认交给自动应答解析器
	Decide       DecideFunc
	PostResponse PostResponseFunc
	BuildReply   BuildReplyFunc
}

// ResponseHooks 应答类处理器可插入的步骤
type ResponseHooks struct {
	// AnswersTo 被回复的请求码
	AnswersTo   domain.MessageCode
	Validate    ValidateFunc
	Persist     PersistFunc
	SideEffects SideEffectFunc
}

// AnnouncementHooks 通告类处理器可插入的步骤
type AnnouncementHooks struct {
	Validate    ValidateFunc
	Persist     PersistFunc
	SideEffects SideEffectFunc
}

// RunRequestPipeline 校验 -> 持久化 -> 应答前副作用 -> 决定 -> (应答后副作用 + 应答) 或 等待人工
func RunRequestPipeline(ctx context.Context, deps *PipelineDeps, hc *HandlerContext, hooks RequestHooks) (domain.HandlerResult, error) {
	if perr := validateSender(hc, hooks.AllowUnknownSender); perr != nil {
		return perr, nil
	}
	if hooks.Validate != nil {
		if perr := hooks.Validate(ctx, hc); perr != nil {
			return perr, nil
		}
	}
	perr, err := checkCoolingOff(ctx, deps, hc)
	if err != nil {
		return nil, err
	}
	if perr != nil {
		return perr, nil
	}
	if hooks.PrepareSender != nil {
		if err := hooks.PrepareSender(ctx, hc); err != nil {
			return nil, fmt.Errorf("prepare sender: %w", err)
		}
	}
	if err := persistInbound(ctx, deps, hc, hooks.Persist); err != nil {
		return nil, err
	}
	if hooks.PreResponse != nil {
		if err := hooks.PreResponse(ctx, hc); err != nil {
			return nil, fmt.Errorf("pre-response side effects: %w", err)
		}
	}

	decide := hooks.Decide
	if decide == nil {
		decide = deps.Resolver.Resolve
	}
	d, err := decide(ctx, hc)
	if err != nil {
		return nil, err
	}
	if d == nil {
		return domain.AwaitingManualResponse{Stored: hc.Inbound}, nil
	}
	if !slices.Contains(hooks.Responses, d.ResponseCode) {
		logger.Warn(ctx, "auto-response code not allowed for request, deferring",
			"request", hc.Code.Name(), "response", d.ResponseCode.Name())
		return domain.AwaitingManualResponse{Stored: hc.Inbound}, nil
	}
	return CompleteRequest(ctx, deps, hc, hooks, d)
}

// CompleteRequest 应答后副作用 -> 构建并保存应答；自动与人工回复共用
func CompleteRequest(ctx context.Context, deps *PipelineDeps, hc *HandlerContext, hooks RequestHooks, d *Decision) (domain.HandlerResult, error) {
	if hooks.PostResponse != nil {
		if err := hooks.PostResponse(ctx, hc, d); err != nil {
			return nil, fmt.Errorf("post-response side effects: %w", err)
		}
	}
	var content *ReplyContent
	if hooks.BuildReply != nil {
		c, err := hooks.BuildReply(ctx, hc, d)
		if err != nil {
			return nil, fmt.Errorf("build reply: %w", err)
		}
		content = c
	}
	// 入站消息未落库时应答也不落库
	transient := hooks.TransientReply || hc.Inbound == nil || hc.Inbound.ID == 0
	env, err := buildReply(ctx, deps, hc, d, content, transient)
	if err != nil {
		return nil, err
	}
	return domain.ImmediateResponse{Envelope: env}, nil
}

// RunResponsePipeline 校验 -> 持久化 -> 副作用；应答从不触发新的应答
func RunResponsePipeline(ctx context.Context, deps *PipelineDeps, hc *HandlerContext, hooks ResponseHooks) (domain.HandlerResult, error) {
	if perr := validateSender(hc, false); perr != nil {
		return perr, nil
	}
	perr, err := validateReplyThread(ctx, deps, hc, hooks.AnswersTo)
	if err != nil {
		return nil, err
	}
	if perr != nil {
		return perr, nil
	}
	return runOneWay(ctx, deps, hc, hooks.Validate, hooks.Persist, hooks.SideEffects)
}

// RunAnnouncementPipeline 校验 -> 持久化 -> 副作用
func RunAnnouncementPipeline(ctx context.Context, deps *PipelineDeps, hc *HandlerContext, hooks AnnouncementHooks) (domain.HandlerResult, error) {
	if perr := validateSender(hc, false); perr != nil {
		return perr, nil
	}
	return runOneWay(ctx, deps, hc, hooks.Validate, hooks.Persist, hooks.SideEffects)
}

func runOneWay(ctx context.Context, deps *PipelineDeps, hc *HandlerContext, validate ValidateFunc, persist PersistFunc, sideEffects SideEffectFunc) (domain.HandlerResult, error) {
	if validate != nil {
		if perr := validate(ctx, hc); perr != nil {
			return perr, nil
		}
	}
	if err := persistInbound(ctx, deps, hc, persist); err != nil {
		return nil, err
	}
	if sideEffects != nil {
		if err := sideEffects(ctx, hc); err != nil {
			return nil, fmt.Errorf("side effects of %s: %w", hc.Code, err)
		}
	}
	return domain.NoResponseNeeded{}, nil
}

func validateSender(hc *HandlerContext, allowUnknown bool) *domain.ProcessingError {
	if hc.Local == nil {
		return domain.NewProcessingError(domain.ErrCodeLocalPeerMissing, "local peer is not configured")
	}
	if hc.Remote == nil && !allowUnknown {
		return domain.NewProcessingError(domain.ErrCodeUnknownPeer,
			fmt.Sprintf("peer %q has not completed a handshake", hc.Envelope.Sender.DomainName))
	}
	return nil
}

// validateReplyThread 应答必须回复本节点发给该节点的请求
func validateReplyThread(ctx context.Context, deps *PipelineDeps, hc *HandlerContext, answersTo domain.MessageCode) (*domain.ProcessingError, error) {
	replyTo := hc.Envelope.Message.ReplyToID
	if replyTo == nil {
		return domain.NewProcessingError(domain.ErrCodeReplyUnmatched, "response does not reference a request"), nil
	}
	req, err := deps.Messages.FindByID(ctx, *replyTo)
	if err != nil {
		return nil, err
	}
	if req == nil || req.Direction != domain.DirectionSend || req.PeerID == nil || *req.PeerID != hc.Remote.ID {
		return domain.NewProcessingError(domain.ErrCodeReplyUnmatched,
			fmt.Sprintf("message %d is not a request sent to this peer", *replyTo)), nil
	}
	if !answersTo.IsUnknown() && req.Code != answersTo {
		return domain.NewProcessingError(domain.ErrCodeReplyUnmatched,
			fmt.Sprintf("%s cannot answer %s", hc.Code, req.Code)), nil
	}
	hc.Request = req
	return nil, nil
}

// checkCoolingOff 上次拒绝附带的等待期内不接受同类请求
func checkCoolingOff(ctx context.Context, deps *PipelineDeps, hc *HandlerContext) (*domain.ProcessingError, error) {
	if hc.Remote == nil || hc.Remote.ID == 0 {
		return nil, nil
	}
	last, err := deps.Messages.FindLatestReply(ctx, hc.Remote.ID, hc.Code)
	if err != nil {
		return nil, err
	}
	if last == nil || !last.Code.IsNegative() {
		return nil, nil
	}
	days := last.WaitDays()
	if days == 0 {
		return nil, nil
	}
	until := last.Timestamp.AddDate(0, 0, days)
	if hc.Now.Before(until) {
		return domain.NewProcessingError(domain.ErrCodeCoolingOff,
			fmt.Sprintf("request %s rejected, retry after %s", hc.Code, until.Format("2006-01-02"))), nil
	}
	return nil, nil
}

func persistInbound(ctx context.Context, deps *PipelineDeps, hc *HandlerContext, persist PersistFunc) error {
	var (
		msg *domain.Message
		err error
	)
	if persist != nil {
		msg, err = persist(ctx, hc)
	} else {
		msg = NewInboundMessage(hc)
		err = deps.Messages.Save(ctx, msg)
	}
	if err != nil {
		return fmt.Errorf("persist inbound %s: %w", hc.Code, err)
	}
	hc.Inbound = msg
	return nil
}

// SkipPersist 不落库的持久化步骤（ping）
func SkipPersist(_ context.Context, hc *HandlerContext) (*domain.Message, error) {
	return NewInboundMessage(hc), nil
}

func buildReply(ctx context.Context, deps *PipelineDeps, hc *HandlerContext, d *Decision, content *ReplyContent, transient bool) (*domain.MessageEnvelope, error) {
	params := map[string]string{}
	var payload json.RawMessage
	if content != nil {
		for k, v := range content.Params {
			params[k] = v
		}
		if content.Payload != nil {
			raw, err := json.Marshal(content.Payload)
			if err != nil {
				return nil, fmt.Errorf("marshal reply payload: %w", err)
			}
			payload = raw
		}
	}
	if d.ResponseCode.IsNegative() && d.WaitDays > 0 {
		params[domain.ParamWaitDays] = strconv.Itoa(d.WaitDays)
	}
	if len(params) == 0 {
		params = nil
	}

	reply := &domain.Message{
		PeerID:          hc.RemoteID(),
		Timestamp:       hc.Now,
		Direction:       domain.DirectionSend,
		Code:            d.ResponseCode,
		Note:            d.Message,
		Params:          params,
		RemoteMessageID: hc.Envelope.Message.ID,
	}
	if hc.Inbound != nil && hc.Inbound.ID != 0 {
		id := hc.Inbound.ID
		reply.ReplyToID = &id
	}
	if transient {
		reply.Direction = domain.DirectionAnswer
		reply.PeerID = nil
	} else if err := deps.Messages.Save(ctx, reply); err != nil {
		return nil, fmt.Errorf("persist reply %s: %w", d.ResponseCode, err)
	}

	return &domain.MessageEnvelope{
		Sender:  hc.Local.Identity(),
		Message: reply.ToWire(),
		Payload: payload,
	}, nil
}
