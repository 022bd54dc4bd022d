package application

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/grafioschtrader/gtnet/internal/gtnet/domain"
	"github.com/grafioschtrader/gtnet/pkg/logger"
)

// ExchangeNegotiator 实体种类的接受/拒绝/撤销生命周期
type ExchangeNegotiator struct {
	states    domain.ExchangeStateRepository
	scheduler domain.ExchangeSyncScheduler
}

// NewExchangeNegotiator 创建协商器
func NewExchangeNegotiator(states domain.ExchangeStateRepository, scheduler domain.ExchangeSyncScheduler) *ExchangeNegotiator {
	return &ExchangeNegotiator{states: states, scheduler: scheduler}
}

func (n *ExchangeNegotiator) loadOrNew(ctx context.Context, peerID uint, kind domain.EntityKind) (*domain.EntityExchangeState, error) {
	st, err := n.states.Find(ctx, peerID, kind)
	if err != nil {
		return nil, err
	}
	if st == nil {
		st = domain.NewEntityExchangeState(peerID, kind)
	}
	return st, nil
}

func (n *ExchangeNegotiator) update(ctx context.Context, peerID uint, kinds []domain.EntityKind, fn func(*domain.EntityExchangeState) error) error {
	for _, k := range kinds {
		st, err := n.loadOrNew(ctx, peerID, k)
		if err != nil {
			return err
		}
		if err := fn(st); err != nil {
			return fmt.Errorf("%s: %w", k, err)
		}
		if err := n.states.Save(ctx, st); err != nil {
			return err
		}
	}
	return nil
}

// MarkRequested 收到数据请求时记录协商中
func (n *ExchangeNegotiator) MarkRequested(ctx context.Context, remote *domain.Peer, kinds []domain.EntityKind, now time.Time) error {
	return n.update(ctx, remote.ID, kinds, func(st *domain.EntityExchangeState) error {
		st.RequestState = domain.RequestStateRequested
		st.LastUpdate = now
		return nil
	})
}

// AcceptRequest 本节点接受对方的数据请求：向对方提供这些种类，并更新本地节点自己的提供记录。
// modes 为校验时生效的本地接受模式，本地尚无记录的种类按它建档。
func (n *ExchangeNegotiator) AcceptRequest(ctx context.Context, remote, local *domain.Peer, kinds []domain.EntityKind, modes map[domain.EntityKind]domain.AcceptMode, now time.Time) error {
	err := n.update(ctx, remote.ID, kinds, func(st *domain.EntityExchangeState) error {
		st.Offer = true
		st.RequestState = domain.RequestStateAccepted
		st.LastUpdate = now
		return nil
	})
	if err != nil {
		return err
	}
	err = n.update(ctx, local.ID, kinds, func(st *domain.EntityExchangeState) error {
		if mode, ok := modes[st.Kind]; ok && st.AcceptMode != mode {
			if err := st.SetAcceptMode(mode, now); err != nil {
				return err
			}
			if st.ServerState == domain.ServerStateNone {
				st.ServerState = domain.ServerStateOpen
			}
		}
		st.Offer = true
		st.LastUpdate = now
		return nil
	})
	if err != nil {
		return err
	}
	return n.schedule(ctx, remote, kinds, true, false, now)
}

// AcceptResponse 对方接受了本节点的数据请求：从对方接收这些种类，接受模式取自应答参数
func (n *ExchangeNegotiator) AcceptResponse(ctx context.Context, remote, local *domain.Peer, kinds []domain.EntityKind, modes map[domain.EntityKind]domain.AcceptMode, now time.Time) error {
	err := n.update(ctx, remote.ID, kinds, func(st *domain.EntityExchangeState) error {
		st.Receive = true
		st.RequestState = domain.RequestStateAccepted
		st.LastUpdate = now
		if mode, ok := modes[st.Kind]; ok {
			if err := st.SetAcceptMode(mode, now); err != nil {
				return err
			}
			if mode != domain.AcceptModeClosed {
				st.ServerState = domain.ServerStateOpen
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	err = n.update(ctx, local.ID, kinds, func(st *domain.EntityExchangeState) error {
		st.Receive = true
		st.LastUpdate = now
		return nil
	})
	if err != nil {
		return err
	}
	return n.schedule(ctx, remote, kinds, false, true, now)
}

// EnsureLocalStates 为本地节点补齐缺失的可同步种类记录，返回新建数量
func (n *ExchangeNegotiator) EnsureLocalStates(ctx context.Context, local *domain.Peer, mode domain.AcceptMode, now time.Time) (int, error) {
	created := 0
	for _, k := range domain.SyncableEntityKinds() {
		st, err := n.states.Find(ctx, local.ID, k)
		if err != nil {
			return created, err
		}
		if st != nil {
			continue
		}
		if err := n.states.Save(ctx, domain.NewLocalExchangeState(local.ID, k, mode, now)); err != nil {
			return created, err
		}
		created++
	}
	return created, nil
}

// Reject 记录拒绝，不改变已有能力
func (n *ExchangeNegotiator) Reject(ctx context.Context, remote *domain.Peer, kinds []domain.EntityKind, now time.Time) error {
	return n.update(ctx, remote.ID, kinds, func(st *domain.EntityExchangeState) error {
		st.RequestState = domain.RequestStateRejected
		st.LastUpdate = now
		return nil
	})
}

// Revoke 清除指定种类（为空时为全部可同步种类）的能力；没有记录的种类直接跳过
func (n *ExchangeNegotiator) Revoke(ctx context.Context, remote *domain.Peer, kinds []domain.EntityKind, now time.Time) error {
	if len(kinds) == 0 {
		kinds = domain.SyncableEntityKinds()
	}
	for _, k := range kinds {
		st, err := n.states.Find(ctx, remote.ID, k)
		if err != nil {
			return err
		}
		if st == nil {
			continue
		}
		st.Offer = false
		st.Receive = false
		st.RequestState = domain.RequestStateRevoked
		st.LastUpdate = now
		if err := n.states.Save(ctx, st); err != nil {
			return err
		}
	}
	return nil
}

// ChangeAcceptMode 对方广播了新的接受模式
func (n *ExchangeNegotiator) ChangeAcceptMode(ctx context.Context, remote *domain.Peer, modes map[domain.EntityKind]domain.AcceptMode, now time.Time) error {
	for k, mode := range modes {
		err := n.update(ctx, remote.ID, []domain.EntityKind{k}, func(st *domain.EntityExchangeState) error {
			return st.SetAcceptMode(mode, now)
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (n *ExchangeNegotiator) schedule(ctx context.Context, remote *domain.Peer, kinds []domain.EntityKind, offer, receive bool, now time.Time) error {
	task := domain.ExchangeSyncTask{
		PeerID:      remote.ID,
		DomainName:  remote.DomainName,
		Kinds:       kinds,
		Offer:       offer,
		Receive:     receive,
		RequestedAt: now,
	}
	if err := n.scheduler.ScheduleExchangeSync(ctx, task); err != nil {
		return fmt.Errorf("schedule exchange sync: %w", err)
	}
	logger.Info(ctx, "exchange sync scheduled", "peer", remote.DomainName, "kinds", domain.JoinEntityKinds(kinds))
	return nil
}

// ParseEntityKinds 解析 entityKinds 参数；未知或不可同步的种类返回校验失败
func ParseEntityKinds(raw string) ([]domain.EntityKind, *domain.ProcessingError) {
	names := domain.SplitList(raw)
	kinds := make([]domain.EntityKind, 0, len(names))
	seen := map[domain.EntityKind]bool{}
	for _, name := range names {
		k := domain.EntityKindByName(name)
		if k == domain.EntityKindUnknown || !k.IsSyncable() {
			return nil, domain.NewProcessingError(domain.ErrCodeInvalidEntityKind, fmt.Sprintf("unknown entity kind %q", name))
		}
		if !seen[k] {
			seen[k] = true
			kinds = append(kinds, k)
		}
	}
	return kinds, nil
}

// ParseAcceptModes 解析 "Kind:Mode,..." 格式；PushOpen 只允许支持推送的种类
func ParseAcceptModes(raw string) (map[domain.EntityKind]domain.AcceptMode, *domain.ProcessingError) {
	out := map[domain.EntityKind]domain.AcceptMode{}
	for _, item := range domain.SplitList(raw) {
		kindName, modeName, ok := strings.Cut(item, ":")
		if !ok {
			return nil, domain.NewProcessingError(domain.ErrCodeInvalidAccept, fmt.Sprintf("malformed accept mode %q", item))
		}
		k := domain.EntityKindByName(kindName)
		mode := domain.AcceptModeByName(modeName)
		if k == domain.EntityKindUnknown || mode == domain.AcceptModeUnknown {
			return nil, domain.NewProcessingError(domain.ErrCodeInvalidAccept, fmt.Sprintf("unknown accept mode %q", item))
		}
		if mode == domain.AcceptModePushOpen && !k.SupportsPush() {
			return nil, domain.NewProcessingError(domain.ErrCodeInvalidAccept, fmt.Sprintf("%s does not support push", k))
		}
		out[k] = mode
	}
	return out, nil
}

// FormatAcceptModes 与 ParseAcceptModes 对应的序列化，按种类顺序输出
func FormatAcceptModes(kinds []domain.EntityKind, modes map[domain.EntityKind]domain.AcceptMode) string {
	parts := make([]string, 0, len(kinds))
	for _, k := range kinds {
		if m, ok := modes[k]; ok {
			parts = append(parts, k.String()+":"+m.String())
		}
	}
	return strings.Join(parts, ",")
}
