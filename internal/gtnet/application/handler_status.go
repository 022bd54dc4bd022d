package application

import (
	"context"

	"github.com/grafioschtrader/gtnet/internal/gtnet/domain"
)

// statusEffect 状态通告对节点记录和实体状态的作用
type statusEffect struct {
	peer  func(p *domain.Peer)
	state func(st *domain.EntityExchangeState, kinds map[domain.EntityKind]bool) bool
	// scoped 实体状态只作用于 entityKinds 参数列出的种类
	scoped bool
}

var statusEffects = map[byte]statusEffect{
	domain.CodeOffline.Value(): {
		peer: func(p *domain.Peer) { p.OnlineStatus = domain.OnlineStatusOffline },
		state: func(st *domain.EntityExchangeState, _ map[domain.EntityKind]bool) bool {
			st.ServerState = domain.ServerStateClosed
			return true
		},
	},
	domain.CodeOnline.Value(): {
		peer: func(p *domain.Peer) { p.OnlineStatus = domain.OnlineStatusOnline },
		state: func(st *domain.EntityExchangeState, _ map[domain.EntityKind]bool) bool {
			if st.ServerState != domain.ServerStateClosed || st.AcceptMode == domain.AcceptModeClosed {
				return false
			}
			st.ServerState = domain.ServerStateOpen
			return true
		},
	},
	domain.CodeBusy.Value(): {
		peer: func(p *domain.Peer) { p.ServerBusy = true },
	},
	domain.CodeReleasedBusy.Value(): {
		peer: func(p *domain.Peer) { p.ServerBusy = false },
	},
	domain.CodeSettingsUpdated.Value(): {},
	domain.CodeMaintenance.Value(): {
		peer: func(p *domain.Peer) { p.ServerState = domain.ServerStateMaintenance },
		state: func(st *domain.EntityExchangeState, kinds map[domain.EntityKind]bool) bool {
			if len(kinds) > 0 && !kinds[st.Kind] {
				return false
			}
			st.ServerState = domain.ServerStateMaintenance
			return true
		},
		scoped: true,
	},
	domain.CodeMaintenanceCancel.Value(): {
		peer: func(p *domain.Peer) { p.ServerState = domain.ServerStateOpen },
		state: func(st *domain.EntityExchangeState, _ map[domain.EntityKind]bool) bool {
			if st.ServerState != domain.ServerStateMaintenance {
				return false
			}
			st.ServerState = domain.ServerStateOpen
			return true
		},
	},
	domain.CodeOperationDiscontinued.Value(): {
		peer: func(p *domain.Peer) { p.ServerState = domain.ServerStateClosed },
		state: func(st *domain.EntityExchangeState, _ map[domain.EntityKind]bool) bool {
			st.ServerState = domain.ServerStateClosed
			st.AcceptMode = domain.AcceptModeClosed
			return true
		},
	},
	domain.CodeOperationDiscontinuedCancel.Value(): {
		peer: func(p *domain.Peer) { p.ServerState = domain.ServerStateOpen },
		state: func(st *domain.EntityExchangeState, _ map[domain.EntityKind]bool) bool {
			st.ServerState = domain.ServerStateOpen
			return true
		},
	},
}

func newStatusHandler(deps *Dependencies) MessageHandler {
	codes := []domain.MessageCode{
		domain.CodeOffline, domain.CodeOnline, domain.CodeBusy, domain.CodeReleasedBusy,
		domain.CodeSettingsUpdated, domain.CodeMaintenance, domain.CodeMaintenanceCancel,
		domain.CodeOperationDiscontinued, domain.CodeOperationDiscontinuedCancel,
	}
	return &announcementHandler{
		codes: codes,
		deps:  deps.Pipeline,
		hooks: AnnouncementHooks{
			Validate: func(_ context.Context, hc *HandlerContext) *domain.ProcessingError {
				if !statusEffects[hc.Code.Value()].scoped {
					return nil
				}
				kinds, perr := ParseEntityKinds(hc.Param(domain.ParamEntityKinds))
				if perr != nil {
					return perr
				}
				set := make(map[domain.EntityKind]bool, len(kinds))
				for _, k := range kinds {
					set[k] = true
				}
				hc.Decoded = set
				return nil
			},
			SideEffects: func(ctx context.Context, hc *HandlerContext) error {
				effect := statusEffects[hc.Code.Value()]
				if effect.peer != nil {
					if err := saveRemote(ctx, deps.Peers, hc, effect.peer); err != nil {
						return err
					}
				}
				if effect.state == nil {
					return nil
				}
				kinds, _ := hc.Decoded.(map[domain.EntityKind]bool)
				return updateStates(ctx, deps.States, hc.Remote.ID, hc.Now, func(st *domain.EntityExchangeState) bool {
					return effect.state(st, kinds)
				})
			},
		},
	}
}

func newAdminMessageHandler(deps *Dependencies) MessageHandler {
	return &announcementHandler{
		codes: []domain.MessageCode{domain.CodeAdminMessage},
		deps:  deps.Pipeline,
		hooks: AnnouncementHooks{
			Validate: func(_ context.Context, hc *HandlerContext) *domain.ProcessingError {
				raw := hc.Param(domain.ParamVisibility)
				if raw == "" {
					return nil
				}
				if domain.VisibilityByName(raw) == domain.VisibilityUnknown {
					return domain.NewProcessingError(domain.ErrCodeInvalidVisibility, "visibility must be AllUsers or AdminOnly")
				}
				return nil
			},
		},
	}
}
