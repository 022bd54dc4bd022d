package grpc

import (
	"context"
	"errors"
	"testing"

	"github.com/grafioschtrader/gtnet/internal/gtnet/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

type peerSource struct {
	peer *domain.Peer
	err  error
}

func (s *peerSource) LocalPeer(context.Context) (*domain.Peer, error) { return s.peer, s.err }

func check(t *testing.T, h *HealthServer) healthpb.HealthCheckResponse_ServingStatus {
	t.Helper()
	resp, err := h.health.Check(context.Background(), &healthpb.HealthCheckRequest{Service: ServiceName})
	require.NoError(t, err)
	return resp.Status
}

func TestHealthMirrorsLocalServerState(t *testing.T) {
	src := &peerSource{}
	h := NewHealthServer(grpc.NewServer(), src, 0)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check(t, h))

	src.peer = &domain.Peer{DomainName: "local.example.org", IsLocal: true, ServerState: domain.ServerStateOpen}
	h.Refresh(context.Background())
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, check(t, h))

	src.peer.ServerState = domain.ServerStateMaintenance
	h.Refresh(context.Background())
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check(t, h))

	src.peer, src.err = nil, errors.New("db down")
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, h.Refresh(context.Background()))
}

func TestHealthRunStopsOnCancel(t *testing.T) {
	src := &peerSource{peer: &domain.Peer{ServerState: domain.ServerStateOpen}}
	h := NewHealthServer(grpc.NewServer(), src, 0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, h.Run(ctx))
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check(t, h))
}
