package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/grafioschtrader/gtnet/internal/gtnet/domain"
	"github.com/grafioschtrader/gtnet/pkg/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubProcessor struct {
	result domain.HandlerResult
	err    error
	local  *domain.Peer
	got    *domain.MessageEnvelope
}

func (s *stubProcessor) Process(_ context.Context, env *domain.MessageEnvelope) (domain.HandlerResult, error) {
	s.got = env
	return s.result, s.err
}

func (s *stubProcessor) LocalPeer(context.Context) (*domain.Peer, error) {
	return s.local, nil
}

func newRouter(p MessageProcessor) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	NewGTNetHandler(p).RegisterRoutes(r)
	RegisterMetrics(r, "/metrics", metrics.New())
	return r
}

const pingBody = `{"sender":{"domainName":"remote.example.org","spreadCapability":false,"dailyRequestLimit":0,"serverState":1},
"message":{"id":7,"code":0,"timestamp":"2026-03-04T10:00:00Z","direction":0}}`

func post(r *gin.Engine, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/gtnet/m2m", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	return w
}

func TestReceiveMapsResults(t *testing.T) {
	reply := &domain.MessageEnvelope{
		Sender:  domain.PeerIdentity{DomainName: "local.example.org"},
		Message: domain.WireMessage{Code: domain.CodePing.Value(), Direction: byte(domain.DirectionAnswer)},
	}
	cases := []struct {
		name   string
		result domain.HandlerResult
		err    error
		status int
	}{
		{"immediate", domain.ImmediateResponse{Envelope: reply}, nil, http.StatusOK},
		{"awaiting", domain.AwaitingManualResponse{Stored: &domain.Message{ID: 12}}, nil, http.StatusAccepted},
		{"no response", domain.NoResponseNeeded{}, nil, http.StatusNoContent},
		{"invalid", domain.NewProcessingError(domain.ErrCodeInvalidEntityKind, "bad kind"), nil, http.StatusBadRequest},
		{"unknown peer", domain.NewProcessingError(domain.ErrCodeUnknownPeer, "who"), nil, http.StatusForbidden},
		{"failure", nil, errors.New("db down"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := &stubProcessor{result: tc.result, err: tc.err}
			w := post(newRouter(p), pingBody)
			assert.Equal(t, tc.status, w.Code)
			require.NotNil(t, p.got)
			assert.Equal(t, "remote.example.org", p.got.Sender.DomainName)
			require.NotNil(t, p.got.Message.ID)
			assert.Equal(t, uint(7), *p.got.Message.ID)
		})
	}
}

func TestReceiveBodies(t *testing.T) {
	p := &stubProcessor{result: domain.AwaitingManualResponse{Stored: &domain.Message{ID: 12}}}
	w := post(newRouter(p), pingBody)
	assert.JSONEq(t, `{"messageId":12}`, w.Body.String())

	p.result = domain.NewProcessingError(domain.ErrCodeCoolingOff, "wait 3 days")
	w = post(newRouter(p), pingBody)
	assert.JSONEq(t, `{"errorCode":"gt.net.request.cooling.off","message":"wait 3 days"}`, w.Body.String())

	p.result = domain.ImmediateResponse{Envelope: &domain.MessageEnvelope{
		Sender:  domain.PeerIdentity{DomainName: "local.example.org"},
		Message: domain.WireMessage{Code: domain.CodePing.Value()},
	}}
	w = post(newRouter(p), pingBody)
	var env domain.MessageEnvelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	assert.Equal(t, "local.example.org", env.Sender.DomainName)
}

func TestReceiveRejectsMalformedJSON(t *testing.T) {
	p := &stubProcessor{}
	w := post(newRouter(p), `{"sender":`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), domain.ErrCodeInvalidMessage)
	assert.Nil(t, p.got)
}

func TestHealth(t *testing.T) {
	p := &stubProcessor{}
	r := newRouter(p)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	p.local = &domain.Peer{DomainName: "local.example.org", ServerState: domain.ServerStateOpen}
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"serverState":"Open"`)
}

func TestMetricsEndpoint(t *testing.T) {
	w := httptest.NewRecorder()
	newRouter(&stubProcessor{}).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "go_goroutines")
}
