package mysql

import (
	"encoding/json"
	"time"

	"github.com/grafioschtrader/gtnet/internal/gtnet/domain"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// PeerModel 节点表映射
type PeerModel struct {
	gorm.Model
	DomainName        string     `gorm:"column:domain_name;type:varchar(128);uniqueIndex;not null"`
	TimeZone          string     `gorm:"column:time_zone;type:varchar(50)"`
	SpreadCapability  bool       `gorm:"column:spread_capability;not null;default:false"`
	DailyRequestLimit int        `gorm:"column:daily_request_limit;not null;default:0"`
	DailyRequestCount int        `gorm:"column:daily_request_count;not null;default:0"`
	DailyCountDate    *time.Time `gorm:"column:daily_count_date"`
	OnlineStatus      uint8      `gorm:"column:online_status;not null;default:0"`
	ServerState       uint8      `gorm:"column:server_state;not null;default:0"`
	ServerBusy        bool       `gorm:"column:server_busy;not null;default:false"`
	IsLocal           bool       `gorm:"column:is_local;index;not null;default:false"`
}

func (PeerModel) TableName() string { return "gtnet" }

// PeerConfigModel 节点协商配置
type PeerConfigModel struct {
	PeerID                  uint      `gorm:"column:id_gt_net;primaryKey;autoIncrement:false"`
	ServerlistAccessGranted bool      `gorm:"column:serverlist_access_granted;not null;default:false"`
	HistoryLogLevel         uint8     `gorm:"column:history_log_level;not null;default:1"`
	LastPriceLogLevel       uint8     `gorm:"column:last_price_log_level;not null;default:0"`
	UpdatedAt               time.Time `gorm:"column:updated_at"`
}

func (PeerConfigModel) TableName() string { return "gtnet_config" }

// ExchangeStateModel (节点, 实体种类) 交换状态
type ExchangeStateModel struct {
	PeerID       uint      `gorm:"column:id_gt_net;primaryKey;autoIncrement:false"`
	EntityKind   uint8     `gorm:"column:entity_kind;primaryKey;autoIncrement:false"`
	AcceptMode   uint8     `gorm:"column:accept_mode;not null;default:0"`
	ServerState  uint8     `gorm:"column:server_state;not null;default:0"`
	Offer        bool      `gorm:"column:offer;not null;default:false"`
	Receive      bool      `gorm:"column:receive;not null;default:false"`
	RequestState uint8     `gorm:"column:request_state;not null;default:0"`
	LastUpdate   time.Time `gorm:"column:last_update"`
}

func (ExchangeStateModel) TableName() string { return "gtnet_entity" }

// MessageModel 消息日志，只追加所以没有软删除
type MessageModel struct {
	ID              uint           `gorm:"primaryKey;autoIncrement;column:id"`
	PeerID          *uint          `gorm:"column:id_gt_net;index"`
	Timestamp       time.Time      `gorm:"column:timestamp;not null"`
	Direction       uint8          `gorm:"column:direction;index;not null"`
	Code            uint8          `gorm:"column:message_code;index;not null"`
	Note            string         `gorm:"column:message;type:varchar(1000)"`
	Params          datatypes.JSON `gorm:"column:params"`
	ReplyToID       *uint          `gorm:"column:reply_to;index"`
	RemoteMessageID *uint          `gorm:"column:id_source_gt_net_message"`
}

func (MessageModel) TableName() string { return "gtnet_message" }

// RuleModel 自动应答规则，三个条件槽位平铺成列
type RuleModel struct {
	gorm.Model
	RequestCode   uint8  `gorm:"column:request_code;uniqueIndex;not null"`
	Condition1    string `gorm:"column:condition1;type:varchar(512)"`
	ResponseCode1 uint8  `gorm:"column:response_code1;not null"`
	Message1      string `gorm:"column:message1;type:varchar(1000)"`
	Condition2    string `gorm:"column:condition2;type:varchar(512)"`
	ResponseCode2 *uint8 `gorm:"column:response_code2"`
	Message2      string `gorm:"column:message2;type:varchar(1000)"`
	Condition3    string `gorm:"column:condition3;type:varchar(512)"`
	ResponseCode3 *uint8 `gorm:"column:response_code3"`
	Message3      string `gorm:"column:message3;type:varchar(1000)"`
	WaitDays      int    `gorm:"column:wait_days;not null;default:0"`
}

func (RuleModel) TableName() string { return "gtnet_message_answer" }

// PoolEntryModel 网络工具池条目
type PoolEntryModel struct {
	ID             uint      `gorm:"primaryKey;autoIncrement;column:id"`
	InstrumentType uint8     `gorm:"column:instrument_type;not null;uniqueIndex:ux_pool_key,priority:1"`
	ISIN           string    `gorm:"column:isin;type:varchar(12);not null;default:'';uniqueIndex:ux_pool_key,priority:2"`
	Currency       string    `gorm:"column:currency;type:varchar(3);not null;default:'';uniqueIndex:ux_pool_key,priority:3"`
	FromCurrency   string    `gorm:"column:from_currency;type:varchar(3);not null;default:'';uniqueIndex:ux_pool_key,priority:4"`
	ToCurrency     string    `gorm:"column:to_currency;type:varchar(3);not null;default:'';uniqueIndex:ux_pool_key,priority:5"`
	LocalID        *uint     `gorm:"column:id_securitycurrency;index"`
	CreatedAt      time.Time `gorm:"column:created_at"`
}

func (PoolEntryModel) TableName() string { return "gtnet_instrument" }

// PoolHistoryModel 池条目的历史行情，(条目, 日期) 唯一
type PoolHistoryModel struct {
	ID      uint            `gorm:"primaryKey;autoIncrement;column:id"`
	EntryID uint            `gorm:"column:id_gt_net_instrument;not null;uniqueIndex:ux_pool_history,priority:1"`
	Date    time.Time       `gorm:"column:date;not null;uniqueIndex:ux_pool_history,priority:2"`
	Open    decimal.Decimal `gorm:"column:open;type:decimal(20,8)"`
	High    decimal.Decimal `gorm:"column:high;type:decimal(20,8)"`
	Low     decimal.Decimal `gorm:"column:low;type:decimal(20,8)"`
	Close   decimal.Decimal `gorm:"column:close;type:decimal(20,8);not null"`
	Volume  int64           `gorm:"column:volume;not null;default:0"`
}

func (PoolHistoryModel) TableName() string { return "gtnet_instrument_history" }

// SecuritycurrencyModel 本地证券与货币对，共用 ID 空间
type SecuritycurrencyModel struct {
	ID             uint   `gorm:"primaryKey;autoIncrement;column:id_securitycurrency"`
	InstrumentType uint8  `gorm:"column:instrument_type;not null;index:ix_local_key,priority:1"`
	ISIN           string `gorm:"column:isin;type:varchar(12);not null;default:'';index:ix_local_key,priority:2"`
	Currency       string `gorm:"column:currency;type:varchar(3);not null;default:'';index:ix_local_key,priority:3"`
	FromCurrency   string `gorm:"column:from_currency;type:varchar(3);not null;default:'';index:ix_local_key,priority:4"`
	ToCurrency     string `gorm:"column:to_currency;type:varchar(3);not null;default:'';index:ix_local_key,priority:5"`
	Name           string `gorm:"column:name;type:varchar(80)"`
}

func (SecuritycurrencyModel) TableName() string { return "securitycurrency" }

// HistoryquoteModel 本地历史行情
type HistoryquoteModel struct {
	ID         uint            `gorm:"primaryKey;autoIncrement;column:id_history_quote"`
	LocalID    uint            `gorm:"column:id_securitycurrency;not null;uniqueIndex:ux_historyquote,priority:1"`
	Date       time.Time       `gorm:"column:date;not null;uniqueIndex:ux_historyquote,priority:2"`
	Open       decimal.Decimal `gorm:"column:open;type:decimal(20,8)"`
	High       decimal.Decimal `gorm:"column:high;type:decimal(20,8)"`
	Low        decimal.Decimal `gorm:"column:low;type:decimal(20,8)"`
	Close      decimal.Decimal `gorm:"column:close;type:decimal(20,8);not null"`
	Volume     int64           `gorm:"column:volume;not null;default:0"`
	CreateType uint8           `gorm:"column:create_type;not null;default:0"`
}

func (HistoryquoteModel) TableName() string { return "historyquote" }

// AllModels 供 AutoMigrate 使用
func AllModels() []any {
	return []any{
		&PeerModel{}, &PeerConfigModel{}, &ExchangeStateModel{}, &MessageModel{}, &RuleModel{},
		&PoolEntryModel{}, &PoolHistoryModel{}, &SecuritycurrencyModel{}, &HistoryquoteModel{},
	}
}

// --- mapping helpers ---

func toPeer(m *PeerModel) *domain.Peer {
	if m == nil {
		return nil
	}
	p := &domain.Peer{
		ID:                m.ID,
		DomainName:        m.DomainName,
		TimeZone:          m.TimeZone,
		SpreadCapability:  m.SpreadCapability,
		DailyRequestLimit: m.DailyRequestLimit,
		DailyRequestCount: m.DailyRequestCount,
		OnlineStatus:      domain.OnlineStatusOf(m.OnlineStatus),
		ServerState:       domain.ServerStateOf(m.ServerState),
		ServerBusy:        m.ServerBusy,
		IsLocal:           m.IsLocal,
		UpdatedAt:         m.UpdatedAt,
	}
	if m.DailyCountDate != nil {
		p.DailyCountDate = m.DailyCountDate.UTC()
	}
	return p
}

func toPeerModel(p *domain.Peer) *PeerModel {
	m := &PeerModel{
		DomainName:        p.DomainName,
		TimeZone:          p.TimeZone,
		SpreadCapability:  p.SpreadCapability,
		DailyRequestLimit: p.DailyRequestLimit,
		DailyRequestCount: p.DailyRequestCount,
		OnlineStatus:      uint8(p.OnlineStatus),
		ServerState:       uint8(p.ServerState),
		ServerBusy:        p.ServerBusy,
		IsLocal:           p.IsLocal,
	}
	m.ID = p.ID
	if !p.DailyCountDate.IsZero() {
		d := p.DailyCountDate
		m.DailyCountDate = &d
	}
	return m
}

func toPeerConfig(m *PeerConfigModel) *domain.PeerConfig {
	return &domain.PeerConfig{
		PeerID:                  m.PeerID,
		ServerlistAccessGranted: m.ServerlistAccessGranted,
		HistoryLogLevel:         domain.ExchangeLogLevelOf(m.HistoryLogLevel),
		LastPriceLogLevel:       domain.ExchangeLogLevelOf(m.LastPriceLogLevel),
		UpdatedAt:               m.UpdatedAt,
	}
}

func toPeerConfigModel(c *domain.PeerConfig) *PeerConfigModel {
	return &PeerConfigModel{
		PeerID:                  c.PeerID,
		ServerlistAccessGranted: c.ServerlistAccessGranted,
		HistoryLogLevel:         uint8(c.HistoryLogLevel),
		LastPriceLogLevel:       uint8(c.LastPriceLogLevel),
	}
}

func toExchangeState(m *ExchangeStateModel) *domain.EntityExchangeState {
	return &domain.EntityExchangeState{
		PeerID:       m.PeerID,
		Kind:         domain.EntityKindOf(m.EntityKind),
		AcceptMode:   domain.AcceptModeOf(m.AcceptMode),
		ServerState:  domain.ServerStateOf(m.ServerState),
		Offer:        m.Offer,
		Receive:      m.Receive,
		RequestState: domain.RequestStateOf(m.RequestState),
		LastUpdate:   m.LastUpdate,
	}
}

func toExchangeStateModel(s *domain.EntityExchangeState) *ExchangeStateModel {
	return &ExchangeStateModel{
		PeerID:       s.PeerID,
		EntityKind:   uint8(s.Kind),
		AcceptMode:   uint8(s.AcceptMode),
		ServerState:  uint8(s.ServerState),
		Offer:        s.Offer,
		Receive:      s.Receive,
		RequestState: uint8(s.RequestState),
		LastUpdate:   s.LastUpdate,
	}
}

func toMessage(m *MessageModel) (*domain.Message, error) {
	msg := &domain.Message{
		ID:              m.ID,
		PeerID:          m.PeerID,
		Timestamp:       m.Timestamp,
		Direction:       domain.DirectionOf(m.Direction),
		Code:            domain.MessageCodeOf(m.Code),
		Note:            m.Note,
		ReplyToID:       m.ReplyToID,
		RemoteMessageID: m.RemoteMessageID,
	}
	if len(m.Params) > 0 {
		if err := json.Unmarshal(m.Params, &msg.Params); err != nil {
			return nil, err
		}
	}
	return msg, nil
}

func toMessageModel(msg *domain.Message) (*MessageModel, error) {
	m := &MessageModel{
		ID:              msg.ID,
		PeerID:          msg.PeerID,
		Timestamp:       msg.Timestamp,
		Direction:       uint8(msg.Direction),
		Code:            msg.Code.Value(),
		Note:            msg.Note,
		ReplyToID:       msg.ReplyToID,
		RemoteMessageID: msg.RemoteMessageID,
	}
	if len(msg.Params) > 0 {
		raw, err := json.Marshal(msg.Params)
		if err != nil {
			return nil, err
		}
		m.Params = datatypes.JSON(raw)
	}
	return m, nil
}

func optionalCode(v *uint8) domain.MessageCode {
	if v == nil {
		return domain.CodeUnknown
	}
	return domain.MessageCodeOf(*v)
}

func toRule(m *RuleModel) *domain.AutoResponseRule {
	return &domain.AutoResponseRule{
		ID:          m.ID,
		RequestCode: domain.MessageCodeOf(m.RequestCode),
		Slots: [3]domain.RuleSlot{
			{Condition: m.Condition1, ResponseCode: domain.MessageCodeOf(m.ResponseCode1), Message: m.Message1},
			{Condition: m.Condition2, ResponseCode: optionalCode(m.ResponseCode2), Message: m.Message2},
			{Condition: m.Condition3, ResponseCode: optionalCode(m.ResponseCode3), Message: m.Message3},
		},
		WaitDays: m.WaitDays,
	}
}

func toRuleModel(r *domain.AutoResponseRule) *RuleModel {
	code := func(s domain.RuleSlot) *uint8 {
		if !s.Configured() {
			return nil
		}
		v := s.ResponseCode.Value()
		return &v
	}
	return &RuleModel{
		RequestCode:   r.RequestCode.Value(),
		Condition1:    r.Slots[0].Condition,
		ResponseCode1: r.Slots[0].ResponseCode.Value(),
		Message1:      r.Slots[0].Message,
		Condition2:    r.Slots[1].Condition,
		ResponseCode2: code(r.Slots[1]),
		Message2:      r.Slots[1].Message,
		Condition3:    r.Slots[2].Condition,
		ResponseCode3: code(r.Slots[2]),
		Message3:      r.Slots[2].Message,
		WaitDays:      r.WaitDays,
	}
}

func toPoolEntry(m *PoolEntryModel) *domain.InstrumentPoolEntry {
	return &domain.InstrumentPoolEntry{
		ID: m.ID,
		Key: domain.InstrumentKey{
			Type:         domain.InstrumentType(m.InstrumentType),
			ISIN:         m.ISIN,
			Currency:     m.Currency,
			FromCurrency: m.FromCurrency,
			ToCurrency:   m.ToCurrency,
		},
		LocalID:   m.LocalID,
		CreatedAt: m.CreatedAt,
	}
}

func toPoolEntryModel(key domain.InstrumentKey, localID *uint) *PoolEntryModel {
	key = key.Normalize()
	return &PoolEntryModel{
		InstrumentType: uint8(key.Type),
		ISIN:           key.ISIN,
		Currency:       key.Currency,
		FromCurrency:   key.FromCurrency,
		ToCurrency:     key.ToCurrency,
		LocalID:        localID,
	}
}

func toHistoryRecord(date time.Time, open, high, low, closePrice decimal.Decimal, volume int64) domain.HistoryRecord {
	return domain.HistoryRecord{Date: date.UTC(), Open: open, High: high, Low: low, Close: closePrice, Volume: volume}
}

// keyColumns 自然键查询条件，池表和本地表列名一致
func keyColumns(key domain.InstrumentKey) map[string]any {
	key = key.Normalize()
	return map[string]any{
		"instrument_type": uint8(key.Type),
		"isin":            key.ISIN,
		"currency":        key.Currency,
		"from_currency":   key.FromCurrency,
		"to_currency":     key.ToCurrency,
	}
}
