package application

import (
	"context"
	"strings"

	"github.com/grafioschtrader/gtnet/internal/gtnet/domain"
	"github.com/grafioschtrader/gtnet/pkg/logger"
)

func newServerListHandler(deps *Dependencies) MessageHandler {
	return &requestHandler{
		codes: []domain.MessageCode{domain.CodeUpdateServerList},
		deps:  deps.Pipeline,
		hooks: RequestHooks{
			Responses: []domain.MessageCode{domain.CodeUpdateServerListAccept, domain.CodeUpdateServerListReject},
			Validate: func(_ context.Context, hc *HandlerContext) *domain.ProcessingError {
				if !hc.Local.SpreadCapability {
					return domain.NewProcessingError(domain.ErrCodeNoSpread, "this server does not share its server list")
				}
				return nil
			},
			Decide: func(ctx context.Context, hc *HandlerContext) (*Decision, error) {
				if hc.RemoteConfig != nil && hc.RemoteConfig.ServerlistAccessGranted {
					return &Decision{ResponseCode: domain.CodeUpdateServerListAccept}, nil
				}
				return deps.Pipeline.Resolver.Resolve(ctx, hc)
			},
			PostResponse: func(ctx context.Context, hc *HandlerContext, d *Decision) error {
				if d.ResponseCode != domain.CodeUpdateServerListAccept {
					return nil
				}
				cfg, err := ensurePeerConfig(ctx, deps.Peers, hc)
				if err != nil {
					return err
				}
				if cfg.ServerlistAccessGranted {
					return nil
				}
				cfg.ServerlistAccessGranted = true
				cfg.UpdatedAt = hc.Now
				return deps.Peers.SaveConfig(ctx, cfg)
			},
			BuildReply: func(ctx context.Context, hc *HandlerContext, d *Decision) (*ReplyContent, error) {
				if d.ResponseCode != domain.CodeUpdateServerListAccept {
					return nil, nil
				}
				peers, err := deps.Peers.FindShareable(ctx, hc.Remote.ID)
				if err != nil {
					return nil, err
				}
				list := domain.ServerList{Peers: make([]domain.PeerIdentity, 0, len(peers))}
				for _, p := range peers {
					list.Peers = append(list.Peers, p.Identity())
				}
				return &ReplyContent{Payload: list}, nil
			},
		},
	}
}

func newServerListResponseHandler(deps *Dependencies) MessageHandler {
	return &responseHandler{
		codes: []domain.MessageCode{domain.CodeUpdateServerListAccept, domain.CodeUpdateServerListReject},
		deps:  deps.Pipeline,
		hooks: ResponseHooks{
			AnswersTo: domain.CodeUpdateServerList,
			Validate: func(_ context.Context, hc *HandlerContext) *domain.ProcessingError {
				if hc.Code != domain.CodeUpdateServerListAccept {
					return nil
				}
				var list domain.ServerList
				if perr := decodePayload(hc, &list); perr != nil {
					return perr
				}
				hc.Decoded = &list
				return nil
			},
			SideEffects: func(ctx context.Context, hc *HandlerContext) error {
				list, ok := hc.Decoded.(*domain.ServerList)
				if !ok {
					return nil
				}
				return mergeServerList(ctx, deps.Peers, hc, list)
			},
		},
	}
}

// mergeServerList 只补充未知节点，已知节点的记录不被第三方信息覆盖
func mergeServerList(ctx context.Context, peers domain.PeerRepository, hc *HandlerContext, list *domain.ServerList) error {
	added := 0
	for _, id := range list.Peers {
		name := strings.TrimSpace(id.DomainName)
		if name == "" || strings.EqualFold(name, hc.Local.DomainName) {
			continue
		}
		existing, err := peers.FindByDomain(ctx, name)
		if err != nil {
			return err
		}
		if existing != nil {
			continue
		}
		p := domain.NewPeerFromIdentity(id)
		p.DomainName = name
		p.UpdatedAt = hc.Now
		if err := peers.Save(ctx, p); err != nil {
			return err
		}
		added++
	}
	logger.Info(ctx, "server list merged", "peer", hc.Remote.DomainName, "received", len(list.Peers), "added", added)
	return nil
}

func newServerListRevokeHandler(deps *Dependencies) MessageHandler {
	return &announcementHandler{
		codes: []domain.MessageCode{domain.CodeUpdateServerListRevoke},
		deps:  deps.Pipeline,
		hooks: AnnouncementHooks{
			SideEffects: func(ctx context.Context, hc *HandlerContext) error {
				cfg := hc.RemoteConfig
				if cfg == nil || !cfg.ServerlistAccessGranted {
					return nil
				}
				cfg.ServerlistAccessGranted = false
				cfg.UpdatedAt = hc.Now
				return deps.Peers.SaveConfig(ctx, cfg)
			},
		},
	}
}
