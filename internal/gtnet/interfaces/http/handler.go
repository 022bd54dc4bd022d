// Package http GTNet M2M 端点：每个请求携带一个消息信封，返回处理结果
package http

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/grafioschtrader/gtnet/internal/gtnet/domain"
	"github.com/grafioschtrader/gtnet/pkg/logger"
	"github.com/grafioschtrader/gtnet/pkg/metrics"
)

// MessageProcessor 消息处理入口，由 application.MessageService 实现
type MessageProcessor interface {
	Process(ctx context.Context, env *domain.MessageEnvelope) (domain.HandlerResult, error)
	LocalPeer(ctx context.Context) (*domain.Peer, error)
}

// errorBody 失败时的响应体
type errorBody struct {
	ErrorCode string `json:"errorCode"`
	Message   string `json:"message"`
}

// pendingBody 等待人工处理时的响应体
type pendingBody struct {
	MessageID uint `json:"messageId"`
}

// GTNetHandler M2M HTTP 处理器
type GTNetHandler struct {
	service MessageProcessor
}

// NewGTNetHandler 创建处理器
func NewGTNetHandler(service MessageProcessor) *GTNetHandler {
	return &GTNetHandler{service: service}
}

// RegisterRoutes 注册路由
func (h *GTNetHandler) RegisterRoutes(router *gin.Engine) {
	api := router.Group("/api/v1/gtnet")
	{
		api.POST("/m2m", h.Receive)
	}
	router.GET("/health", h.Health)
}

// RegisterMetrics 在 path 上暴露 Prometheus 指标
func RegisterMetrics(router *gin.Engine, path string, m *metrics.Metrics) {
	router.GET(path, gin.WrapH(m.Handler()))
}

// Receive 处理一条入站消息
func (h *GTNetHandler) Receive(c *gin.Context) {
	ctx := c.Request.Context()
	var env domain.MessageEnvelope
	if err := c.ShouldBindJSON(&env); err != nil {
		c.JSON(http.StatusBadRequest, errorBody{ErrorCode: domain.ErrCodeInvalidMessage, Message: err.Error()})
		return
	}

	result, err := h.service.Process(ctx, &env)
	if err != nil {
		logger.Error(ctx, "failed to process gtnet message", "code", env.Message.Code, "sender", env.Sender.DomainName, "error", err)
		c.JSON(http.StatusInternalServerError, errorBody{ErrorCode: "gt.net.internal.error", Message: "internal server error"})
		return
	}

	switch r := result.(type) {
	case domain.ImmediateResponse:
		c.JSON(http.StatusOK, r.Envelope)
	case domain.AwaitingManualResponse:
		c.JSON(http.StatusAccepted, pendingBody{MessageID: r.Stored.ID})
	case domain.NoResponseNeeded:
		c.Status(http.StatusNoContent)
	case *domain.ProcessingError:
		c.JSON(statusOf(r), errorBody{ErrorCode: r.Code, Message: r.Message})
	default:
		c.JSON(http.StatusInternalServerError, errorBody{ErrorCode: "gt.net.internal.error", Message: "unexpected result"})
	}
}

func statusOf(perr *domain.ProcessingError) int {
	if perr.Code == domain.ErrCodeUnknownPeer {
		return http.StatusForbidden
	}
	return http.StatusBadRequest
}

// Health 本地节点状态；本地节点未配置时返回 503
func (h *GTNetHandler) Health(c *gin.Context) {
	local, err := h.service.LocalPeer(c.Request.Context())
	if err != nil || local == nil {
		msg := "local peer not configured"
		if err != nil {
			msg = err.Error()
		}
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "DOWN", "message": msg})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":      "UP",
		"domainName":  local.DomainName,
		"serverState": local.ServerState.String(),
		"serverBusy":  local.ServerBusy,
	})
}
