package application

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/grafioschtrader/gtnet/internal/gtnet/domain"
)

// Policy 运行时可配置的协议策略
type Policy struct {
	// AcceptUnknownPeers 是否接受未知节点的首次握手
	AcceptUnknownPeers bool
	// DefaultAcceptMode 本地节点尚无种类记录时采用的接受模式
	DefaultAcceptMode domain.AcceptMode
}

// localAcceptMode 本地种类的有效接受模式，无记录时取默认值
func (p Policy) localAcceptMode(st *domain.EntityExchangeState, kind domain.EntityKind) domain.AcceptMode {
	if st != nil {
		return st.AcceptMode
	}
	return domain.NewLocalExchangeState(0, kind, p.DefaultAcceptMode, time.Time{}).AcceptMode
}

// Dependencies 具体处理器的依赖
type Dependencies struct {
	Pipeline   *PipelineDeps
	Peers      domain.PeerRepository
	States     domain.ExchangeStateRepository
	Negotiator *ExchangeNegotiator
	History    *HistoryquoteService
	Policy     Policy
}

// DefaultHandlers 全部消息码的静态注册表
func DefaultHandlers(deps *Dependencies) []MessageHandler {
	return []MessageHandler{
		newPingHandler(deps),
		newHandshakeHandler(deps),
		newHandshakeResponseHandler(deps),
		newServerListHandler(deps),
		newServerListResponseHandler(deps),
		newServerListRevokeHandler(deps),
		newStatusHandler(deps),
		newAdminMessageHandler(deps),
		newDataRequestHandler(deps),
		newDataAcceptHandler(deps),
		newDataRejectHandler(deps),
		newDataRevokeHandler(deps),
		newAcceptModeChangedHandler(deps),
		newHistoryquoteRequestHandler(deps),
		newHistoryquoteResponseHandler(deps),
	}
}

type requestHandler struct {
	codes []domain.MessageCode
	deps  *PipelineDeps
	hooks RequestHooks
}

func (h *requestHandler) Codes() []domain.MessageCode { return h.codes }
func (h *requestHandler) Category() Category          { return CategoryRequest }

func (h *requestHandler) Handle(ctx context.Context, hc *HandlerContext) (domain.HandlerResult, error) {
	return RunRequestPipeline(ctx, h.deps, hc, h.hooks)
}

// RespondManually 对已保存的请求人工回复；校验按当前状态重新执行
func (h *requestHandler) RespondManually(ctx context.Context, hc *HandlerContext, d *Decision) (domain.HandlerResult, error) {
	if h.hooks.Validate != nil {
		if perr := h.hooks.Validate(ctx, hc); perr != nil {
			return perr, nil
		}
	}
	return CompleteRequest(ctx, h.deps, hc, h.hooks, d)
}

func (h *requestHandler) AllowedResponses() []domain.MessageCode { return h.hooks.Responses }

type responseHandler struct {
	codes []domain.MessageCode
	deps  *PipelineDeps
	hooks ResponseHooks
}

func (h *responseHandler) Codes() []domain.MessageCode { return h.codes }
func (h *responseHandler) Category() Category          { return CategoryResponse }

func (h *responseHandler) Handle(ctx context.Context, hc *HandlerContext) (domain.HandlerResult, error) {
	return RunResponsePipeline(ctx, h.deps, hc, h.hooks)
}

type announcementHandler struct {
	codes []domain.MessageCode
	deps  *PipelineDeps
	hooks AnnouncementHooks
}

func (h *announcementHandler) Codes() []domain.MessageCode { return h.codes }
func (h *announcementHandler) Category() Category          { return CategoryAnnouncement }

func (h *announcementHandler) Handle(ctx context.Context, hc *HandlerContext) (domain.HandlerResult, error) {
	return RunAnnouncementPipeline(ctx, h.deps, hc, h.hooks)
}

// fixedDecision 总是给出同一个应答码
func fixedDecision(code domain.MessageCode) DecideFunc {
	return func(context.Context, *HandlerContext) (*Decision, error) {
		return &Decision{ResponseCode: code}, nil
	}
}

// ensurePeerConfig 首次成功协商时创建节点配置
func ensurePeerConfig(ctx context.Context, peers domain.PeerRepository, hc *HandlerContext) (*domain.PeerConfig, error) {
	if hc.RemoteConfig != nil {
		return hc.RemoteConfig, nil
	}
	cfg, err := peers.FindConfig(ctx, hc.Remote.ID)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		cfg = domain.NewPeerConfig(hc.Remote.ID)
		cfg.UpdatedAt = hc.Now
		if err := peers.SaveConfig(ctx, cfg); err != nil {
			return nil, fmt.Errorf("create peer config: %w", err)
		}
	}
	hc.RemoteConfig = cfg
	return cfg, nil
}

func saveRemote(ctx context.Context, peers domain.PeerRepository, hc *HandlerContext, mutate func(p *domain.Peer)) error {
	mutate(hc.Remote)
	hc.Remote.UpdatedAt = hc.Now
	return peers.Save(ctx, hc.Remote)
}

// decodePayload 解析信封负载，缺失或格式错误返回校验失败
func decodePayload(hc *HandlerContext, v any) *domain.ProcessingError {
	raw := hc.Envelope.Payload
	if len(raw) == 0 || string(raw) == "null" {
		return domain.NewProcessingError(domain.ErrCodeInvalidPayload, fmt.Sprintf("%s requires a payload", hc.Code))
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return domain.NewProcessingError(domain.ErrCodeInvalidPayload, err.Error())
	}
	return nil
}

func updateStates(ctx context.Context, states domain.ExchangeStateRepository, peerID uint, now time.Time, fn func(st *domain.EntityExchangeState) bool) error {
	list, err := states.FindByPeer(ctx, peerID)
	if err != nil {
		return err
	}
	for _, st := range list {
		if !fn(st) {
			continue
		}
		st.LastUpdate = now
		if err := states.Save(ctx, st); err != nil {
			return err
		}
	}
	return nil
}
