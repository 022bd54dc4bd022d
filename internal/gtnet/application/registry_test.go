package application

import (
	"testing"

	"github.com/grafioschtrader/gtnet/internal/gtnet/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryRejectsDuplicateCodes(t *testing.T) {
	deps := &Dependencies{Pipeline: &PipelineDeps{}}
	_, err := NewRegistry(newPingHandler(deps), newPingHandler(deps))
	require.ErrorIs(t, err, ErrDuplicateHandler)
	assert.Contains(t, err.Error(), domain.CodePing.Name())
}

func TestRegistryRejectsUnknownCode(t *testing.T) {
	h := &announcementHandler{codes: []domain.MessageCode{domain.CodeUnknown}}
	_, err := NewRegistry(h)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrDuplicateHandler)
}

func TestDefaultHandlersCoverEveryCode(t *testing.T) {
	f := newFixture(t)
	for _, code := range domain.AllCodes() {
		h, ok := f.registry.HandlerFor(code)
		if assert.True(t, ok, "no handler for %s", code) {
			assert.Contains(t, h.Codes(), code)
		}
	}
	assert.Equal(t, len(domain.AllCodes()), f.registry.Len())

	_, ok := f.registry.HandlerFor(domain.CodeUnknown)
	assert.False(t, ok)
}

func TestHandlerCategories(t *testing.T) {
	f := newFixture(t)
	cases := map[domain.MessageCode]Category{
		domain.CodePing:                         CategoryRequest,
		domain.CodeFirstHandshake:               CategoryRequest,
		domain.CodeFirstHandshakeAccept:         CategoryResponse,
		domain.CodeUpdateServerListRevoke:       CategoryAnnouncement,
		domain.CodeMaintenance:                  CategoryAnnouncement,
		domain.CodeDataRequest:                  CategoryRequest,
		domain.CodeDataRequestReject:            CategoryResponse,
		domain.CodeDataAcceptModeChanged:        CategoryAnnouncement,
		domain.CodeHistoryquoteExchange:         CategoryRequest,
		domain.CodeHistoryquoteExchangeResponse: CategoryResponse,
	}
	for code, want := range cases {
		h, ok := f.registry.HandlerFor(code)
		require.True(t, ok)
		assert.Equal(t, want, h.Category(), code.Name())
	}
}

func TestUnknownCodeIsRejectedWithoutPersistence(t *testing.T) {
	f := newFixture(t)
	env := f.envelope(remoteDomain, domain.CodePing, nil)
	env.Message.Code = 99

	res := f.process(t, env)
	requireProcessingError(t, res, domain.ErrCodeUnknownMessage)
	assert.Empty(t, f.messages.list)
}

func TestManualResponderOnlyForRequests(t *testing.T) {
	f := newFixture(t)
	h, _ := f.registry.HandlerFor(domain.CodeDataRequest)
	mr, ok := h.(ManualResponder)
	require.True(t, ok)
	assert.Equal(t, []domain.MessageCode{domain.CodeDataRequestAccept, domain.CodeDataRequestReject}, mr.AllowedResponses())

	h, _ = f.registry.HandlerFor(domain.CodeOffline)
	_, ok = h.(ManualResponder)
	assert.False(t, ok)
}
