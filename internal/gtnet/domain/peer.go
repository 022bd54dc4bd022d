package domain

import (
	"errors"
	"time"
)

// ErrPushNotSupported 实体种类不支持 PushOpen
var ErrPushNotSupported = errors.New("entity kind does not support push")

// Peer 网络中的一个 GTNet 节点（远端或本地）。只由消息处理的副作用修改，从不删除。
type Peer struct {
	ID                uint
	DomainName        string
	TimeZone          string
	SpreadCapability  bool
	DailyRequestLimit int
	DailyRequestCount int
	// DailyCountDate 计数所属的 UTC 日期
	DailyCountDate time.Time
	OnlineStatus   OnlineStatus
	ServerState    ServerState
	ServerBusy     bool
	IsLocal        bool
	UpdatedAt      time.Time
}

// Identity 对外公布的身份信息
func (p *Peer) Identity() PeerIdentity {
	return PeerIdentity{
		DomainName:        p.DomainName,
		TimeZone:          p.TimeZone,
		SpreadCapability:  p.SpreadCapability,
		DailyRequestLimit: p.DailyRequestLimit,
		ServerState:       p.ServerState,
	}
}

// ApplyIdentity 同步对方声明的设置，返回是否有变化
func (p *Peer) ApplyIdentity(id PeerIdentity) bool {
	changed := false
	if id.TimeZone != "" && id.TimeZone != p.TimeZone {
		p.TimeZone = id.TimeZone
		changed = true
	}
	if id.SpreadCapability != p.SpreadCapability {
		p.SpreadCapability = id.SpreadCapability
		changed = true
	}
	if id.DailyRequestLimit != p.DailyRequestLimit {
		p.DailyRequestLimit = id.DailyRequestLimit
		changed = true
	}
	// 未声明 serverState 时解码为 None，不覆盖已知状态
	if s := ServerStateOf(byte(id.ServerState)); s != ServerStateUnknown && s != ServerStateNone && s != p.ServerState {
		p.ServerState = s
		changed = true
	}
	return changed
}

// IncrementDailyCount 自增当日请求计数，跨日时重置
func (p *Peer) IncrementDailyCount(now time.Time) int {
	day := TruncateDay(now)
	if !p.DailyCountDate.Equal(day) {
		p.DailyCountDate = day
		p.DailyRequestCount = 0
	}
	p.DailyRequestCount++
	return p.DailyRequestCount
}

// NewPeerFromIdentity 由握手发送方的身份创建节点记录
func NewPeerFromIdentity(id PeerIdentity) *Peer {
	p := &Peer{DomainName: id.DomainName, OnlineStatus: OnlineStatusUnknown, ServerState: ServerStateNone}
	p.ApplyIdentity(id)
	return p
}

// PeerConfig 与某个节点协商得到的权限，首次成功协商时创建
type PeerConfig struct {
	PeerID                  uint
	ServerlistAccessGranted bool
	HistoryLogLevel         ExchangeLogLevel
	LastPriceLogLevel       ExchangeLogLevel
	UpdatedAt               time.Time
}

// NewPeerConfig 默认配置
func NewPeerConfig(peerID uint) *PeerConfig {
	return &PeerConfig{PeerID: peerID, HistoryLogLevel: ExchangeLogSummary, LastPriceLogLevel: ExchangeLogNone}
}

// EntityExchangeState (节点, 实体种类) 的交换状态。
// Offer 表示本节点向对方提供该种类，Receive 表示本节点从对方接收。
type EntityExchangeState struct {
	PeerID       uint
	Kind         EntityKind
	AcceptMode   AcceptMode
	ServerState  ServerState
	Offer        bool
	Receive      bool
	RequestState RequestState
	LastUpdate   time.Time
}

// NewEntityExchangeState 新建关闭状态的记录
func NewEntityExchangeState(peerID uint, kind EntityKind) *EntityExchangeState {
	return &EntityExchangeState{
		PeerID:       peerID,
		Kind:         kind,
		AcceptMode:   AcceptModeClosed,
		ServerState:  ServerStateNone,
		RequestState: RequestStateNone,
	}
}

// NewLocalExchangeState 按默认接受模式新建本地节点的种类记录。
// 不支持推送的种类把 PushOpen 降为 Open。
func NewLocalExchangeState(peerID uint, kind EntityKind, mode AcceptMode, now time.Time) *EntityExchangeState {
	st := NewEntityExchangeState(peerID, kind)
	switch {
	case mode == AcceptModePushOpen && !kind.SupportsPush():
		mode = AcceptModeOpen
	case AcceptModeOf(byte(mode)) == AcceptModeUnknown:
		mode = AcceptModeClosed
	}
	st.AcceptMode = mode
	if mode != AcceptModeClosed {
		st.ServerState = ServerStateOpen
	}
	st.LastUpdate = now
	return st
}

// SetAcceptMode 修改接受模式，PushOpen 仅限支持推送的种类
func (s *EntityExchangeState) SetAcceptMode(mode AcceptMode, now time.Time) error {
	if mode == AcceptModePushOpen && !s.Kind.SupportsPush() {
		return ErrPushNotSupported
	}
	s.AcceptMode = mode
	s.LastUpdate = now
	return nil
}

// HasCapability 是否存在已授予的交换能力
func (s *EntityExchangeState) HasCapability() bool { return s.Offer || s.Receive }

// TruncateDay 截断到 UTC 日期
func TruncateDay(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}
