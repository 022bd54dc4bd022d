package domain

import (
	"context"
	"time"
)

// 仓储约定：查找不到时返回 (nil, nil)

// PeerRepository 节点及其配置仓储
type PeerRepository interface {
	FindByID(ctx context.Context, id uint) (*Peer, error)
	FindByDomain(ctx context.Context, domainName string) (*Peer, error)
	FindLocal(ctx context.Context) (*Peer, error)
	Save(ctx context.Context, peer *Peer) error
	// FindShareable 可对外分享的节点列表，排除 excludeID 和本地节点
	FindShareable(ctx context.Context, excludeID uint) ([]*Peer, error)
	FindConfig(ctx context.Context, peerID uint) (*PeerConfig, error)
	SaveConfig(ctx context.Context, cfg *PeerConfig) error
}

// ExchangeStateRepository 实体交换状态仓储
type ExchangeStateRepository interface {
	Find(ctx context.Context, peerID uint, kind EntityKind) (*EntityExchangeState, error)
	FindByPeer(ctx context.Context, peerID uint) ([]*EntityExchangeState, error)
	Save(ctx context.Context, state *EntityExchangeState) error
}

// MessageRepository 消息日志仓储，只追加
type MessageRepository interface {
	Save(ctx context.Context, msg *Message) error
	FindByID(ctx context.Context, id uint) (*Message, error)
	// FindUnansweredRequests 尚未回复的入站请求（等待人工处理）
	FindUnansweredRequests(ctx context.Context) ([]*Message, error)
	// FindLatestReply 本节点发给 peerID 的、针对 requestCode 请求的最新回复
	FindLatestReply(ctx context.Context, peerID uint, requestCode MessageCode) (*Message, error)
}

// RuleRepository 自动应答规则仓储
type RuleRepository interface {
	FindByRequestCode(ctx context.Context, code MessageCode) (*AutoResponseRule, error)
}

// InstrumentPoolRepository 网络工具池仓储
type InstrumentPoolRepository interface {
	FindByKey(ctx context.Context, key InstrumentKey) (*InstrumentPoolEntry, error)
	// FindOrCreate 按自然键查找或创建，created 表示本次新建
	FindOrCreate(ctx context.Context, key InstrumentKey, localID *uint) (entry *InstrumentPoolEntry, created bool, err error)
	// FindHistory 一次查询多个条目的历史行情，按条目 ID 分组
	FindHistory(ctx context.Context, entryIDs []uint, from, to time.Time) (map[uint][]HistoryRecord, error)
	// SaveHistory 幂等写入，同一日期只保存一次，返回新写入条数
	SaveHistory(ctx context.Context, entryID uint, records []HistoryRecord) (int, error)
}

// LocalInstrumentReader 本地证券/货币对表
type LocalInstrumentReader interface {
	FindLocalID(ctx context.Context, key InstrumentKey) (*uint, error)
}

// LocalHistoryReader 本地历史行情表，一次查询多个工具，按本地 ID 分组
type LocalHistoryReader interface {
	FindHistory(ctx context.Context, localIDs []uint, from, to time.Time) (map[uint][]HistoryRecord, error)
}

// ExchangeSyncTask 协商成功后排队的数据同步任务
type ExchangeSyncTask struct {
	PeerID      uint         `json:"peerId"`
	DomainName  string       `json:"domainName"`
	Kinds       []EntityKind `json:"kinds"`
	Offer       bool         `json:"offer"`
	Receive     bool         `json:"receive"`
	RequestedAt time.Time    `json:"requestedAt"`
}

// ExchangeSyncScheduler 任务队列入口，只负责入队
type ExchangeSyncScheduler interface {
	ScheduleExchangeSync(ctx context.Context, task ExchangeSyncTask) error
}

// DailyRequestCounter 节点当日请求计数
type DailyRequestCounter interface {
	Increment(ctx context.Context, peer *Peer, now time.Time) (int, error)
}

// TransactionManager 每条入站消息一个事务
type TransactionManager interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
}
