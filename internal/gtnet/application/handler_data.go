package application

import (
	"context"
	"fmt"

	"github.com/grafioschtrader/gtnet/internal/gtnet/domain"
)

// dataRequest 数据请求校验结果
type dataRequest struct {
	kinds []domain.EntityKind
	// open 本地未关闭的种类，接受时只提供这些
	open  []domain.EntityKind
	modes map[domain.EntityKind]domain.AcceptMode
}

func newDataRequestHandler(deps *Dependencies) MessageHandler {
	return &requestHandler{
		codes: []domain.MessageCode{domain.CodeDataRequest},
		deps:  deps.Pipeline,
		hooks: RequestHooks{
			Responses: []domain.MessageCode{domain.CodeDataRequestAccept, domain.CodeDataRequestReject},
			Validate: func(ctx context.Context, hc *HandlerContext) *domain.ProcessingError {
				kinds, perr := ParseEntityKinds(hc.Param(domain.ParamEntityKinds))
				if perr != nil {
					return perr
				}
				if len(kinds) == 0 {
					return domain.NewProcessingError(domain.ErrCodeInvalidEntityKind, "entityKinds is required")
				}
				req := &dataRequest{kinds: kinds, modes: map[domain.EntityKind]domain.AcceptMode{}}
				for _, k := range kinds {
					st, err := deps.States.Find(ctx, hc.Local.ID, k)
					if err != nil {
						return domain.NewProcessingError(domain.ErrCodeInvalidMessage, err.Error())
					}
					mode := deps.Policy.localAcceptMode(st, k)
					if mode == domain.AcceptModeClosed || mode == domain.AcceptModeUnknown {
						continue
					}
					req.open = append(req.open, k)
					req.modes[k] = mode
				}
				if len(req.open) == 0 {
					return domain.NewProcessingError(domain.ErrCodeEntityKindClosed,
						fmt.Sprintf("none of %s is open on this server", domain.JoinEntityKinds(kinds)))
				}
				hc.Decoded = req
				return nil
			},
			PreResponse: func(ctx context.Context, hc *HandlerContext) error {
				return deps.Negotiator.MarkRequested(ctx, hc.Remote, hc.Decoded.(*dataRequest).kinds, hc.Now)
			},
			PostResponse: func(ctx context.Context, hc *HandlerContext, d *Decision) error {
				req := hc.Decoded.(*dataRequest)
				if d.ResponseCode == domain.CodeDataRequestAccept {
					return deps.Negotiator.AcceptRequest(ctx, hc.Remote, hc.Local, req.open, req.modes, hc.Now)
				}
				return deps.Negotiator.Reject(ctx, hc.Remote, req.kinds, hc.Now)
			},
			BuildReply: func(_ context.Context, hc *HandlerContext, d *Decision) (*ReplyContent, error) {
				req := hc.Decoded.(*dataRequest)
				if d.ResponseCode == domain.CodeDataRequestAccept {
					return &ReplyContent{Params: map[string]string{
						domain.ParamEntityKinds: domain.JoinEntityKinds(req.open),
						domain.ParamAcceptModes: FormatAcceptModes(req.open, req.modes),
					}}, nil
				}
				return &ReplyContent{Params: map[string]string{
					domain.ParamEntityKinds: domain.JoinEntityKinds(req.kinds),
				}}, nil
			},
		},
	}
}

// acceptedData 数据接受应答的校验结果
type acceptedData struct {
	kinds []domain.EntityKind
	modes map[domain.EntityKind]domain.AcceptMode
}

func newDataAcceptHandler(deps *Dependencies) MessageHandler {
	return &responseHandler{
		codes: []domain.MessageCode{domain.CodeDataRequestAccept},
		deps:  deps.Pipeline,
		hooks: ResponseHooks{
			AnswersTo: domain.CodeDataRequest,
			Validate: func(_ context.Context, hc *HandlerContext) *domain.ProcessingError {
				kinds, perr := ParseEntityKinds(hc.Param(domain.ParamEntityKinds))
				if perr != nil {
					return perr
				}
				if len(kinds) == 0 {
					return domain.NewProcessingError(domain.ErrCodeInvalidEntityKind, "entityKinds is required")
				}
				modes, perr := ParseAcceptModes(hc.Param(domain.ParamAcceptModes))
				if perr != nil {
					return perr
				}
				hc.Decoded = &acceptedData{kinds: kinds, modes: modes}
				return nil
			},
			SideEffects: func(ctx context.Context, hc *HandlerContext) error {
				acc := hc.Decoded.(*acceptedData)
				return deps.Negotiator.AcceptResponse(ctx, hc.Remote, hc.Local, acc.kinds, acc.modes, hc.Now)
			},
		},
	}
}

func newDataRejectHandler(deps *Dependencies) MessageHandler {
	return &responseHandler{
		codes: []domain.MessageCode{domain.CodeDataRequestReject},
		deps:  deps.Pipeline,
		hooks: ResponseHooks{
			AnswersTo: domain.CodeDataRequest,
			Validate: func(_ context.Context, hc *HandlerContext) *domain.ProcessingError {
				raw := hc.Param(domain.ParamEntityKinds)
				if raw == "" {
					// 拒绝应答未列出种类时沿用原请求
					raw = hc.Request.Param(domain.ParamEntityKinds)
				}
				kinds, perr := ParseEntityKinds(raw)
				if perr != nil {
					return perr
				}
				hc.Decoded = kinds
				return nil
			},
			SideEffects: func(ctx context.Context, hc *HandlerContext) error {
				return deps.Negotiator.Reject(ctx, hc.Remote, hc.Decoded.([]domain.EntityKind), hc.Now)
			},
		},
	}
}

func newDataRevokeHandler(deps *Dependencies) MessageHandler {
	return &announcementHandler{
		codes: []domain.MessageCode{domain.CodeDataRevoke},
		deps:  deps.Pipeline,
		hooks: AnnouncementHooks{
			Validate: func(_ context.Context, hc *HandlerContext) *domain.ProcessingError {
				kinds, perr := ParseEntityKinds(hc.Param(domain.ParamEntityKinds))
				if perr != nil {
					return perr
				}
				hc.Decoded = kinds
				return nil
			},
			SideEffects: func(ctx context.Context, hc *HandlerContext) error {
				return deps.Negotiator.Revoke(ctx, hc.Remote, hc.Decoded.([]domain.EntityKind), hc.Now)
			},
		},
	}
}

func newAcceptModeChangedHandler(deps *Dependencies) MessageHandler {
	return &announcementHandler{
		codes: []domain.MessageCode{domain.CodeDataAcceptModeChanged},
		deps:  deps.Pipeline,
		hooks: AnnouncementHooks{
			Validate: func(_ context.Context, hc *HandlerContext) *domain.ProcessingError {
				modes, perr := ParseAcceptModes(hc.Param(domain.ParamAcceptModes))
				if perr != nil {
					return perr
				}
				if len(modes) == 0 {
					return domain.NewProcessingError(domain.ErrCodeInvalidAccept, "acceptModes is required")
				}
				hc.Decoded = modes
				return nil
			},
			SideEffects: func(ctx context.Context, hc *HandlerContext) error {
				return deps.Negotiator.ChangeAcceptMode(ctx, hc.Remote, hc.Decoded.(map[domain.EntityKind]domain.AcceptMode), hc.Now)
			},
		},
	}
}
