// Package application 消息分发、三类处理流程、自动应答与数据交换协商
package application

import (
	"context"
	"errors"
	"fmt"

	"github.com/grafioschtrader/gtnet/internal/gtnet/domain"
)

// ErrDuplicateHandler 两个处理器声明了同一个消息码
var ErrDuplicateHandler = errors.New("duplicate message handler registration")

// Category 处理流程类别
type Category uint8

const (
	CategoryRequest Category = iota
	CategoryResponse
	CategoryAnnouncement
)

func (c Category) String() string {
	switch c {
	case CategoryRequest:
		return "request"
	case CategoryResponse:
		return "response"
	case CategoryAnnouncement:
		return "announcement"
	default:
		return "unknown"
	}
}

// MessageHandler 处理一个或几个相关的消息码
type MessageHandler interface {
	Codes() []domain.MessageCode
	Category() Category
	Handle(ctx context.Context, hc *HandlerContext) (domain.HandlerResult, error)
}

// ManualResponder 支持对已保存请求进行人工回复的请求处理器
type ManualResponder interface {
	RespondManually(ctx context.Context, hc *HandlerContext, d *Decision) (domain.HandlerResult, error)
	AllowedResponses() []domain.MessageCode
}

// Registry 消息码到处理器的映射，构建后只读
type Registry struct {
	handlers map[byte]MessageHandler
}

// NewRegistry 构建注册表，重复声明同一消息码返回 ErrDuplicateHandler
func NewRegistry(handlers ...MessageHandler) (*Registry, error) {
	r := &Registry{handlers: make(map[byte]MessageHandler)}
	for _, h := range handlers {
		for _, code := range h.Codes() {
			if code.IsUnknown() {
				return nil, fmt.Errorf("handler %T declares an unknown message code", h)
			}
			if prev, ok := r.handlers[code.Value()]; ok {
				return nil, fmt.Errorf("%w: %s claimed by %T and %T", ErrDuplicateHandler, code, prev, h)
			}
			r.handlers[code.Value()] = h
		}
	}
	return r, nil
}

// HandlerFor 查找处理器；第二个返回值为 false 表示没有该消息码的处理器
func (r *Registry) HandlerFor(code domain.MessageCode) (MessageHandler, bool) {
	h, ok := r.handlers[code.Value()]
	return h, ok
}

// Len 已注册的消息码数量
func (r *Registry) Len() int { return len(r.handlers) }
