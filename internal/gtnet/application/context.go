package application

import (
	"time"

	"github.com/grafioschtrader/gtnet/internal/gtnet/domain"
)

// HandlerContext 单次消息处理的上下文
type HandlerContext struct {
	Envelope     *domain.MessageEnvelope
	Code         domain.MessageCode
	Remote       *domain.Peer
	Local        *domain.Peer
	RemoteConfig *domain.PeerConfig
	// Rule 请求码对应的自动应答规则，可能为空
	Rule       *domain.AutoResponseRule
	DailyCount int
	Now        time.Time

	// Inbound 已持久化的入站消息
	Inbound *domain.Message
	// Request 应答所回复的本地请求
	Request *domain.Message
	// Decoded 校验阶段解析出的负载
	Decoded any
}

// Param 入站消息参数
func (hc *HandlerContext) Param(key string) string {
	if hc.Envelope == nil || hc.Envelope.Message.Params == nil {
		return ""
	}
	return hc.Envelope.Message.Params[key]
}

// RemoteID 远端节点 ID，未知节点为 nil
func (hc *HandlerContext) RemoteID() *uint {
	if hc.Remote == nil || hc.Remote.ID == 0 {
		return nil
	}
	id := hc.Remote.ID
	return &id
}

// NewInboundMessage 由信封构造入站消息记录
func NewInboundMessage(hc *HandlerContext) *domain.Message {
	w := hc.Envelope.Message
	ts := w.Timestamp
	if ts.IsZero() {
		ts = hc.Now
	}
	var params map[string]string
	if len(w.Params) > 0 {
		params = make(map[string]string, len(w.Params))
		for k, v := range w.Params {
			params[k] = v
		}
	}
	return &domain.Message{
		PeerID:          hc.RemoteID(),
		Timestamp:       ts,
		Direction:       domain.DirectionReceived,
		Code:            hc.Code,
		Note:            w.Note,
		Params:          params,
		ReplyToID:       w.ReplyToID,
		RemoteMessageID: w.ID,
	}
}
