// Package grpc 以 gRPC 健康检查对外反映本地节点的服务器状态
package grpc

import (
	"context"
	"time"

	"github.com/grafioschtrader/gtnet/internal/gtnet/domain"
	"github.com/grafioschtrader/gtnet/pkg/logger"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// ServiceName 健康检查的服务名
const ServiceName = "gtnet"

// LocalPeerSource 提供本地节点
type LocalPeerSource interface {
	LocalPeer(ctx context.Context) (*domain.Peer, error)
}

// HealthServer 定期读取本地节点状态并更新健康检查结果
type HealthServer struct {
	health   *health.Server
	source   LocalPeerSource
	interval time.Duration
}

// NewHealthServer 注册健康检查与反射服务
func NewHealthServer(s *grpc.Server, source LocalPeerSource, interval time.Duration) *HealthServer {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	hs := &HealthServer{health: health.NewServer(), source: source, interval: interval}
	hs.health.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
	healthpb.RegisterHealthServer(s, hs.health)
	reflection.Register(s)
	return hs
}

// StatusOf 只有 Open 的本地节点才算可服务
func StatusOf(local *domain.Peer) healthpb.HealthCheckResponse_ServingStatus {
	if local == nil || local.ServerState != domain.ServerStateOpen {
		return healthpb.HealthCheckResponse_NOT_SERVING
	}
	return healthpb.HealthCheckResponse_SERVING
}

// Refresh 读取一次本地节点并更新状态
func (h *HealthServer) Refresh(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	local, err := h.source.LocalPeer(ctx)
	if err != nil {
		logger.Warn(ctx, "failed to load local peer for health", "error", err)
	}
	st := StatusOf(local)
	h.health.SetServingStatus(ServiceName, st)
	h.health.SetServingStatus("", st)
	return st
}

// Run 轮询直到 ctx 取消，退出时标记为 NOT_SERVING
func (h *HealthServer) Run(ctx context.Context) error {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	for {
		h.Refresh(ctx)
		select {
		case <-ctx.Done():
			h.health.Shutdown()
			return nil
		case <-ticker.C:
		}
	}
}
