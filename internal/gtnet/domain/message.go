package domain

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// 常用消息参数名
const (
	ParamEntityKinds = "entityKinds"
	ParamAcceptModes = "acceptModes"
	ParamWaitDays    = "waitDays"
	ParamVisibility  = "visibility"
)

// Message 消息日志记录，创建后不再修改
type Message struct {
	ID        uint
	PeerID    *uint
	Timestamp time.Time
	Direction Direction
	Code      MessageCode
	Note      string
	Params    map[string]string
	// ReplyToID 本地被回复消息的 ID
	ReplyToID *uint
	// RemoteMessageID 对方本地的消息 ID：入站为发送方的 id，出站回复为被回复消息在对方的 id
	RemoteMessageID *uint
}

// Param 读取参数，不存在返回空串
func (m *Message) Param(key string) string {
	if m == nil || m.Params == nil {
		return ""
	}
	return m.Params[key]
}

// WaitDays 拒绝应答携带的冷却天数
func (m *Message) WaitDays() int {
	n, err := strconv.Atoi(m.Param(ParamWaitDays))
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// PeerIdentity 发送方身份
type PeerIdentity struct {
	DomainName        string      `json:"domainName"`
	TimeZone          string      `json:"timeZone,omitempty"`
	SpreadCapability  bool        `json:"spreadCapability"`
	DailyRequestLimit int         `json:"dailyRequestLimit"`
	ServerState       ServerState `json:"serverState"`
}

// WireMessage 网络传输的消息体
type WireMessage struct {
	// ID 发送方本地消息 ID
	ID        *uint             `json:"id,omitempty"`
	Code      byte              `json:"code"`
	Timestamp time.Time         `json:"timestamp"`
	Direction byte              `json:"direction"`
	ReplyToID *uint             `json:"replyToId,omitempty"`
	Note      string            `json:"note,omitempty"`
	Params    map[string]string `json:"params,omitempty"`
}

// MessageEnvelope M2M 传输的信封：发送方身份 + 单条消息 + 可选负载
type MessageEnvelope struct {
	Sender  PeerIdentity    `json:"sender"`
	Message WireMessage     `json:"message"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ToWire 转换为出站网络消息
func (m *Message) ToWire() WireMessage {
	w := WireMessage{
		Code:      m.Code.Value(),
		Timestamp: m.Timestamp,
		Direction: byte(m.Direction),
		ReplyToID: m.RemoteMessageID,
		Note:      m.Note,
		Params:    m.Params,
	}
	if m.ID != 0 {
		id := m.ID
		w.ID = &id
	}
	return w
}

// SplitList 解析逗号分隔的参数值
func SplitList(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// JoinEntityKinds 序列化实体种类列表
func JoinEntityKinds(kinds []EntityKind) string {
	names := make([]string, len(kinds))
	for i, k := range kinds {
		names[i] = k.String()
	}
	return strings.Join(names, ",")
}

// ServerList 服务器列表应答的负载
type ServerList struct {
	Peers []PeerIdentity `json:"peers"`
}
