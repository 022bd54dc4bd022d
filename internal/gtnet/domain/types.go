package domain

import "strings"

// 所有单字节枚举在未知值时统一回落到各自的 Unknown 变体

type byteEnum interface {
	~uint8
}

func lookup[T byteEnum](value byte, names map[T]string, unknown T) T {
	if _, ok := names[T(value)]; ok {
		return T(value)
	}
	return unknown
}

func lookupName[T byteEnum](name string, names map[T]string, unknown T) T {
	for v, n := range names {
		if strings.EqualFold(n, strings.TrimSpace(name)) {
			return v
		}
	}
	return unknown
}

func nameOf[T byteEnum](v T, names map[T]string) string {
	if n, ok := names[v]; ok {
		return n
	}
	return "Unknown"
}

// OnlineStatus 节点在线状态
type OnlineStatus uint8

const (
	OnlineStatusUnknown OnlineStatus = 0
	OnlineStatusOnline  OnlineStatus = 1
	OnlineStatusOffline OnlineStatus = 2
)

var onlineStatusNames = map[OnlineStatus]string{
	OnlineStatusUnknown: "Unknown",
	OnlineStatusOnline:  "Online",
	OnlineStatusOffline: "Offline",
}

// OnlineStatusOf 按字节值查找
func OnlineStatusOf(b byte) OnlineStatus {
	return lookup(b, onlineStatusNames, OnlineStatusUnknown)
}

func (s OnlineStatus) String() string { return nameOf(s, onlineStatusNames) }

// ServerState 节点或实体种类的服务状态
type ServerState uint8

const (
	ServerStateNone        ServerState = 0
	ServerStateOpen        ServerState = 1
	ServerStateClosed      ServerState = 2
	ServerStateMaintenance ServerState = 3
	ServerStateUnknown     ServerState = 255
)

var serverStateNames = map[ServerState]string{
	ServerStateNone:        "None",
	ServerStateOpen:        "Open",
	ServerStateClosed:      "Closed",
	ServerStateMaintenance: "Maintenance",
}

// ServerStateOf 按字节值查找，未知值返回 ServerStateUnknown
func ServerStateOf(b byte) ServerState {
	return lookup(b, serverStateNames, ServerStateUnknown)
}

func (s ServerState) String() string { return nameOf(s, serverStateNames) }

// AcceptMode 实体种类的接受模式
type AcceptMode uint8

const (
	AcceptModeClosed   AcceptMode = 0
	AcceptModeOpen     AcceptMode = 1
	AcceptModePushOpen AcceptMode = 2
	AcceptModeUnknown  AcceptMode = 255
)

var acceptModeNames = map[AcceptMode]string{
	AcceptModeClosed:   "Closed",
	AcceptModeOpen:     "Open",
	AcceptModePushOpen: "PushOpen",
}

// AcceptModeOf 按字节值查找
func AcceptModeOf(b byte) AcceptMode {
	return lookup(b, acceptModeNames, AcceptModeUnknown)
}

// AcceptModeByName 按名称查找，忽略大小写
func AcceptModeByName(name string) AcceptMode {
	return lookupName(name, acceptModeNames, AcceptModeUnknown)
}

func (m AcceptMode) String() string { return nameOf(m, acceptModeNames) }

// Direction 消息方向；Answer 只用于不落库的临时应答
type Direction uint8

const (
	DirectionSend     Direction = 0
	DirectionReceived Direction = 1
	DirectionAnswer   Direction = 2
	DirectionUnknown  Direction = 255
)

var directionNames = map[Direction]string{
	DirectionSend:     "Send",
	DirectionReceived: "Received",
	DirectionAnswer:   "Answer",
}

// DirectionOf 按字节值查找
func DirectionOf(b byte) Direction {
	return lookup(b, directionNames, DirectionUnknown)
}

func (d Direction) String() string { return nameOf(d, directionNames) }

// EntityKind 可交换的数据种类
type EntityKind uint8

const (
	EntityKindLastPrice       EntityKind = 0
	EntityKindHistoricalPrice EntityKind = 1
	EntityKindDividend        EntityKind = 2
	EntityKindSplit           EntityKind = 3
	EntityKindUnknown         EntityKind = 255
)

var entityKindNames = map[EntityKind]string{
	EntityKindLastPrice:       "LastPrice",
	EntityKindHistoricalPrice: "HistoricalPrice",
	EntityKindDividend:        "Dividend",
	EntityKindSplit:           "Split",
}

type entityKindCaps struct {
	syncable bool
	push     bool
}

var entityKindCapabilities = map[EntityKind]entityKindCaps{
	EntityKindLastPrice:       {syncable: true, push: true},
	EntityKindHistoricalPrice: {syncable: true, push: true},
	EntityKindDividend:        {syncable: true},
	EntityKindSplit:           {syncable: true},
}

// EntityKindOf 按字节值查找
func EntityKindOf(b byte) EntityKind {
	return lookup(b, entityKindNames, EntityKindUnknown)
}

// EntityKindByName 按名称查找，忽略大小写
func EntityKindByName(name string) EntityKind {
	return lookupName(name, entityKindNames, EntityKindUnknown)
}

// SyncableEntityKinds 按字节值排序的可同步种类
func SyncableEntityKinds() []EntityKind {
	out := make([]EntityKind, 0, len(entityKindCapabilities))
	for _, k := range []EntityKind{EntityKindLastPrice, EntityKindHistoricalPrice, EntityKindDividend, EntityKindSplit} {
		if k.IsSyncable() {
			out = append(out, k)
		}
	}
	return out
}

func (k EntityKind) String() string { return nameOf(k, entityKindNames) }

// SupportsPush 是否允许 PushOpen
func (k EntityKind) SupportsPush() bool { return entityKindCapabilities[k].push }

// IsSyncable 是否参与数据交换
func (k EntityKind) IsSyncable() bool { return entityKindCapabilities[k].syncable }

// RequestState 数据交换请求的协商状态
type RequestState uint8

const (
	RequestStateNone      RequestState = 0
	RequestStateRequested RequestState = 1
	RequestStateAccepted  RequestState = 2
	RequestStateRejected  RequestState = 3
	RequestStateRevoked   RequestState = 4
	RequestStateUnknown   RequestState = 255
)

var requestStateNames = map[RequestState]string{
	RequestStateNone:      "None",
	RequestStateRequested: "Requested",
	RequestStateAccepted:  "Accepted",
	RequestStateRejected:  "Rejected",
	RequestStateRevoked:   "Revoked",
}

// RequestStateOf 按字节值查找
func RequestStateOf(b byte) RequestState {
	return lookup(b, requestStateNames, RequestStateUnknown)
}

func (s RequestState) String() string { return nameOf(s, requestStateNames) }

// Visibility 管理员消息的可见范围
type Visibility uint8

const (
	VisibilityAllUsers  Visibility = 0
	VisibilityAdminOnly Visibility = 1
	VisibilityUnknown   Visibility = 255
)

var visibilityNames = map[Visibility]string{
	VisibilityAllUsers:  "AllUsers",
	VisibilityAdminOnly: "AdminOnly",
}

// VisibilityByName 按名称查找
func VisibilityByName(name string) Visibility {
	return lookupName(name, visibilityNames, VisibilityUnknown)
}

func (v Visibility) String() string { return nameOf(v, visibilityNames) }

// ExchangeLogLevel 数据交换消息的记录粒度
type ExchangeLogLevel uint8

const (
	ExchangeLogNone    ExchangeLogLevel = 0
	ExchangeLogSummary ExchangeLogLevel = 1
	ExchangeLogDetail  ExchangeLogLevel = 2
	ExchangeLogUnknown ExchangeLogLevel = 255
)

var exchangeLogLevelNames = map[ExchangeLogLevel]string{
	ExchangeLogNone:    "None",
	ExchangeLogSummary: "Summary",
	ExchangeLogDetail:  "Detail",
}

// ExchangeLogLevelOf 按字节值查找
func ExchangeLogLevelOf(b byte) ExchangeLogLevel {
	return lookup(b, exchangeLogLevelNames, ExchangeLogUnknown)
}

func (l ExchangeLogLevel) String() string { return nameOf(l, exchangeLogLevelNames) }

// InstrumentType 池中条目的类型
type InstrumentType uint8

const (
	InstrumentSecurity     InstrumentType = 0
	InstrumentCurrencyPair InstrumentType = 1
)
