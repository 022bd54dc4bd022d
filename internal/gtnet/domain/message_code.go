// Package domain GTNet 协议的领域模型：消息码、节点、消息、应答规则与仓储契约
package domain

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// MessageCode 消息码，字节值与符号名成对出现，语义由符号名的约定片段决定。
// 字节值会被持久化并在网络上传输，发布后不得更改。
type MessageCode struct {
	value byte
	name  string
}

// ExtensionCodeStart 应用扩展消息码的起始值，核心码占用 0-54
const ExtensionCodeStart byte = 60

var (
	// ErrReservedCode 字节值已退役或属于核心区间
	ErrReservedCode = errors.New("message code value is reserved")
	// ErrDuplicateCode 字节值或符号名已注册
	ErrDuplicateCode = errors.New("message code already registered")
)

var (
	codeMu     sync.RWMutex
	codeByByte = map[byte]MessageCode{}
	codeByName = map[string]MessageCode{}
	// 已退役的值，永远不能复用
	retiredCodes = map[byte]string{4: "GT_NET_FIRST_HANDSHAKE_REVOKE (retired)"}
)

// CodeUnknown 查找失败时返回的哨兵值，调用方须用 IsUnknown 检查
var CodeUnknown = MessageCode{value: 255, name: "GT_NET_UNKNOWN"}

func core(value byte, name string) MessageCode {
	c := MessageCode{value: value, name: name}
	codeByByte[value] = c
	codeByName[name] = c
	return c
}

// 核心消息码
var (
	CodePing                        = core(0, "GT_NET_PING")
	CodeFirstHandshake              = core(1, "GT_NET_FIRST_HANDSHAKE_SEL_RR_C")
	CodeFirstHandshakeAccept        = core(2, "GT_NET_FIRST_HANDSHAKE_ACCEPT_S")
	CodeFirstHandshakeReject        = core(3, "GT_NET_FIRST_HANDSHAKE_REJECT_S")
	CodeUpdateServerList            = core(10, "GT_NET_UPDATE_SERVERLIST_SEL_RR_C")
	CodeUpdateServerListAccept      = core(11, "GT_NET_UPDATE_SERVERLIST_ACCEPT_S")
	CodeUpdateServerListReject      = core(12, "GT_NET_UPDATE_SERVERLIST_REJECT_S")
	CodeUpdateServerListRevoke      = core(13, "GT_NET_UPDATE_SERVERLIST_REVOKE_SEL_C")
	CodeOffline                     = core(20, "GT_NET_OFFLINE_ALL_C")
	CodeOnline                      = core(21, "GT_NET_ONLINE_ALL_C")
	CodeBusy                        = core(22, "GT_NET_BUSY_ALL_C")
	CodeReleasedBusy                = core(23, "GT_NET_RELEASED_BUSY_ALL_C")
	CodeSettingsUpdated             = core(24, "GT_NET_SETTINGS_UPDATED_ALL_C")
	CodeMaintenance                 = core(25, "GT_NET_MAINTENANCE_ALL_C")
	CodeMaintenanceCancel           = core(26, "GT_NET_MAINTENANCE_CANCEL_ALL_C")
	CodeOperationDiscontinued       = core(27, "GT_NET_OPERATION_DISCONTINUED_ALL_C")
	CodeOperationDiscontinuedCancel = core(28, "GT_NET_OPERATION_DISCONTINUED_CANCEL_ALL_C")
	CodeAdminMessage                = core(30, "GT_NET_ADMIN_MESSAGE_SEL_C")
	CodeDataRequest                 = core(50, "GT_NET_DATA_REQUEST_SEL_RR_C")
	CodeDataRequestAccept           = core(51, "GT_NET_DATA_REQUEST_ACCEPT_S")
	CodeDataRequestReject           = core(52, "GT_NET_DATA_REQUEST_REJECT_S")
	CodeDataRevoke                  = core(53, "GT_NET_DATA_REVOKE_SEL_C")
	CodeDataAcceptModeChanged       = core(54, "GT_NET_DATA_ACCEPT_MODE_CHANGED_ALL_C")
)

// 扩展消息码：历史行情数据面
var (
	CodeHistoryquoteExchange         = mustRegisterExtension(61, "GT_NET_HISTORYQUOTE_EXCHANGE_SEL_RR_C")
	CodeHistoryquoteExchangeResponse = mustRegisterExtension(62, "GT_NET_HISTORYQUOTE_EXCHANGE_S")
)

// RegisterExtensionCode 注册扩展消息码，只应在包初始化阶段调用
func RegisterExtensionCode(value byte, name string) (MessageCode, error) {
	if value < ExtensionCodeStart || value == CodeUnknown.value {
		return CodeUnknown, fmt.Errorf("%w: %d", ErrReservedCode, value)
	}
	if _, retired := retiredCodes[value]; retired {
		return CodeUnknown, fmt.Errorf("%w: %d", ErrReservedCode, value)
	}
	codeMu.Lock()
	defer codeMu.Unlock()
	if _, ok := codeByByte[value]; ok {
		return CodeUnknown, fmt.Errorf("%w: %d", ErrDuplicateCode, value)
	}
	if _, ok := codeByName[name]; ok {
		return CodeUnknown, fmt.Errorf("%w: %s", ErrDuplicateCode, name)
	}
	c := MessageCode{value: value, name: name}
	codeByByte[value] = c
	codeByName[name] = c
	return c, nil
}

func mustRegisterExtension(value byte, name string) MessageCode {
	c, err := RegisterExtensionCode(value, name)
	if err != nil {
		panic(err)
	}
	return c
}

// MessageCodeOf 按字节值查找，未分配的值返回 CodeUnknown
func MessageCodeOf(value byte) MessageCode {
	codeMu.RLock()
	defer codeMu.RUnlock()
	if c, ok := codeByByte[value]; ok {
		return c
	}
	return CodeUnknown
}

// MessageCodeByName 按符号名查找，未知名称返回 CodeUnknown
func MessageCodeByName(name string) MessageCode {
	codeMu.RLock()
	defer codeMu.RUnlock()
	if c, ok := codeByName[name]; ok {
		return c
	}
	return CodeUnknown
}

// IsReserved 字节值是否已退役
func IsReserved(value byte) bool {
	_, ok := retiredCodes[value]
	return ok
}

// AllCodes 按字节值排序的全部已注册消息码
func AllCodes() []MessageCode {
	codeMu.RLock()
	out := make([]MessageCode, 0, len(codeByByte))
	for _, c := range codeByByte {
		out = append(out, c)
	}
	codeMu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].value < out[j].value })
	return out
}

// Value 字节值
func (c MessageCode) Value() byte { return c.value }

// Name 符号名
func (c MessageCode) Name() string { return c.name }

func (c MessageCode) String() string { return c.name }

// IsUnknown 是否为查找失败的哨兵
func (c MessageCode) IsUnknown() bool { return c == CodeUnknown || c.name == "" }

// IsRequestRequiringResponse 名称包含 _RR_
func (c MessageCode) IsRequestRequiringResponse() bool { return strings.Contains(c.name, "_RR_") }

// IsClientInitiated 名称以 _C 结尾
func (c MessageCode) IsClientInitiated() bool { return strings.HasSuffix(c.name, "_C") }

// IsServerResponse 名称以 _S 结尾
func (c MessageCode) IsServerResponse() bool { return strings.HasSuffix(c.name, "_S") }

// IsBroadcast 名称包含 _ALL_
func (c MessageCode) IsBroadcast() bool { return strings.Contains(c.name, "_ALL_") }

// IsTargeted 名称包含 _SEL_
func (c MessageCode) IsTargeted() bool { return strings.Contains(c.name, "_SEL_") }

// IsNegative 拒绝类应答，携带冷却期
func (c MessageCode) IsNegative() bool { return strings.Contains(c.name, "_REJECT_") }
