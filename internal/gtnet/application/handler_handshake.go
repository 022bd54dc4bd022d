package application

import (
	"context"
	"strings"

	"github.com/grafioschtrader/gtnet/internal/gtnet/domain"
	"github.com/grafioschtrader/gtnet/pkg/logger"
)

// ping 从不落库，回复为临时应答
func newPingHandler(deps *Dependencies) MessageHandler {
	return &requestHandler{
		codes: []domain.MessageCode{domain.CodePing},
		deps:  deps.Pipeline,
		hooks: RequestHooks{
			AllowUnknownSender: true,
			Responses:          []domain.MessageCode{domain.CodePing},
			TransientReply:     true,
			Persist:            SkipPersist,
			Decide:             fixedDecision(domain.CodePing),
		},
	}
}

func newHandshakeHandler(deps *Dependencies) MessageHandler {
	return &requestHandler{
		codes: []domain.MessageCode{domain.CodeFirstHandshake},
		deps:  deps.Pipeline,
		hooks: RequestHooks{
			AllowUnknownSender: deps.Policy.AcceptUnknownPeers,
			Responses:          []domain.MessageCode{domain.CodeFirstHandshakeAccept, domain.CodeFirstHandshakeReject},
			Validate: func(_ context.Context, hc *HandlerContext) *domain.ProcessingError {
				name := strings.TrimSpace(hc.Envelope.Sender.DomainName)
				if name == "" {
					return domain.NewProcessingError(domain.ErrCodeInvalidMessage, "sender domain name is required")
				}
				if strings.EqualFold(name, hc.Local.DomainName) {
					return domain.NewProcessingError(domain.ErrCodeInvalidMessage, "handshake from the local domain")
				}
				return nil
			},
			PrepareSender: func(ctx context.Context, hc *HandlerContext) error {
				if hc.Remote != nil {
					return nil
				}
				p := domain.NewPeerFromIdentity(hc.Envelope.Sender)
				p.OnlineStatus = domain.OnlineStatusOnline
				p.UpdatedAt = hc.Now
				if err := deps.Peers.Save(ctx, p); err != nil {
					return err
				}
				hc.Remote = p
				logger.Info(ctx, "peer registered by handshake", "peer", p.DomainName, "peer_id", p.ID)
				return nil
			},
			PreResponse: func(ctx context.Context, hc *HandlerContext) error {
				if hc.Remote.OnlineStatus == domain.OnlineStatusOnline {
					return nil
				}
				return saveRemote(ctx, deps.Peers, hc, func(p *domain.Peer) { p.OnlineStatus = domain.OnlineStatusOnline })
			},
			PostResponse: func(ctx context.Context, hc *HandlerContext, d *Decision) error {
				if d.ResponseCode != domain.CodeFirstHandshakeAccept {
					return nil
				}
				_, err := ensurePeerConfig(ctx, deps.Peers, hc)
				return err
			},
		},
	}
}

func newHandshakeResponseHandler(deps *Dependencies) MessageHandler {
	return &responseHandler{
		codes: []domain.MessageCode{domain.CodeFirstHandshakeAccept, domain.CodeFirstHandshakeReject},
		deps:  deps.Pipeline,
		hooks: ResponseHooks{
			AnswersTo: domain.CodeFirstHandshake,
			SideEffects: func(ctx context.Context, hc *HandlerContext) error {
				if hc.Code == domain.CodeFirstHandshakeReject {
					return saveRemote(ctx, deps.Peers, hc, func(p *domain.Peer) { p.ServerState = domain.ServerStateClosed })
				}
				err := saveRemote(ctx, deps.Peers, hc, func(p *domain.Peer) {
					p.OnlineStatus = domain.OnlineStatusOnline
					if s := domain.ServerStateOf(byte(hc.Envelope.Sender.ServerState)); s != domain.ServerStateUnknown {
						p.ServerState = s
					}
				})
				if err != nil {
					return err
				}
				_, err = ensurePeerConfig(ctx, deps.Peers, hc)
				return err
			},
		},
	}
}
