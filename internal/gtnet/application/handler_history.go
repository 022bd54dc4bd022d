package application

import (
	"context"
	"fmt"

	"github.com/grafioschtrader/gtnet/internal/gtnet/domain"
	"github.com/grafioschtrader/gtnet/pkg/logger"
)

// historyExchange 历史行情请求的校验与查询结果
type historyExchange struct {
	request  *domain.HistoryquoteRequest
	strategy HistoryquoteQueryStrategy
	result   *domain.HistoryquoteResponse
}

// persistByLogLevel 数据面消息按节点的历史行情日志级别落库：None 不保存，Summary 不保存参数，Detail 全部保存
func persistByLogLevel(deps *PipelineDeps) PersistFunc {
	return func(ctx context.Context, hc *HandlerContext) (*domain.Message, error) {
		msg := NewInboundMessage(hc)
		level := domain.ExchangeLogSummary
		if hc.RemoteConfig != nil {
			level = hc.RemoteConfig.HistoryLogLevel
		}
		switch level {
		case domain.ExchangeLogNone:
			return msg, nil
		case domain.ExchangeLogDetail:
		default:
			msg.Params = nil
		}
		if err := deps.Messages.Save(ctx, msg); err != nil {
			return nil, err
		}
		return msg, nil
	}
}

func historyState(ctx context.Context, states domain.ExchangeStateRepository, peerID uint) (*domain.EntityExchangeState, *domain.ProcessingError) {
	st, err := states.Find(ctx, peerID, domain.EntityKindHistoricalPrice)
	if err != nil {
		return nil, domain.NewProcessingError(domain.ErrCodeInvalidMessage, err.Error())
	}
	if st == nil {
		st = domain.NewEntityExchangeState(peerID, domain.EntityKindHistoricalPrice)
	}
	return st, nil
}

func newHistoryquoteRequestHandler(deps *Dependencies) MessageHandler {
	return &requestHandler{
		codes: []domain.MessageCode{domain.CodeHistoryquoteExchange},
		deps:  deps.Pipeline,
		hooks: RequestHooks{
			Responses: []domain.MessageCode{domain.CodeHistoryquoteExchangeResponse},
			Validate: func(ctx context.Context, hc *HandlerContext) *domain.ProcessingError {
				remote, perr := historyState(ctx, deps.States, hc.Remote.ID)
				if perr != nil {
					return perr
				}
				if !remote.Offer {
					return domain.NewProcessingError(domain.ErrCodeNotOffered,
						fmt.Sprintf("historical prices are not offered to %s", hc.Remote.DomainName))
				}
				local, perr := historyState(ctx, deps.States, hc.Local.ID)
				if perr != nil {
					return perr
				}
				strategy := deps.History.SelectStrategy(local.AcceptMode)
				if strategy == nil {
					return domain.NewProcessingError(domain.ErrCodeEntityKindClosed, "historical prices are closed on this server")
				}
				var req domain.HistoryquoteRequest
				if perr := decodePayload(hc, &req); perr != nil {
					return perr
				}
				for _, it := range req.Instruments {
					if !it.Key.Normalize().Valid() {
						return domain.NewProcessingError(domain.ErrCodeInvalidPayload, fmt.Sprintf("incomplete instrument key %s", it.Key))
					}
				}
				hc.Decoded = &historyExchange{request: &req, strategy: strategy}
				return nil
			},
			Persist: persistByLogLevel(deps.Pipeline),
			Decide:  fixedDecision(domain.CodeHistoryquoteExchangeResponse),
			PostResponse: func(ctx context.Context, hc *HandlerContext, _ *Decision) error {
				ex := hc.Decoded.(*historyExchange)
				resp, err := ex.strategy.Query(ctx, ex.request)
				if err != nil {
					return err
				}
				ex.result = resp
				logger.Info(ctx, "historyquote request served",
					"peer", hc.Remote.DomainName, "requested", len(ex.request.Instruments), "returned", len(resp.Instruments))
				return nil
			},
			BuildReply: func(_ context.Context, hc *HandlerContext, _ *Decision) (*ReplyContent, error) {
				return &ReplyContent{Payload: hc.Decoded.(*historyExchange).result}, nil
			},
		},
	}
}

func newHistoryquoteResponseHandler(deps *Dependencies) MessageHandler {
	return &responseHandler{
		codes: []domain.MessageCode{domain.CodeHistoryquoteExchangeResponse},
		deps:  deps.Pipeline,
		hooks: ResponseHooks{
			AnswersTo: domain.CodeHistoryquoteExchange,
			Validate: func(ctx context.Context, hc *HandlerContext) *domain.ProcessingError {
				remote, perr := historyState(ctx, deps.States, hc.Remote.ID)
				if perr != nil {
					return perr
				}
				if !remote.Receive {
					return domain.NewProcessingError(domain.ErrCodeNotOffered,
						fmt.Sprintf("historical prices are not received from %s", hc.Remote.DomainName))
				}
				var resp domain.HistoryquoteResponse
				if perr := decodePayload(hc, &resp); perr != nil {
					return perr
				}
				hc.Decoded = &resp
				return nil
			},
			Persist: persistByLogLevel(deps.Pipeline),
			SideEffects: func(ctx context.Context, hc *HandlerContext) error {
				n, err := deps.History.StoreReceived(ctx, hc.Decoded.(*domain.HistoryquoteResponse))
				if err != nil {
					return err
				}
				logger.Info(ctx, "historyquote response stored", "peer", hc.Remote.DomainName, "records", n)
				return nil
			},
		},
	}
}
