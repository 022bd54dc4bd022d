package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// InstrumentKey 证券 (ISIN, 币种) 或货币对 (from, to) 的自然键
type InstrumentKey struct {
	Type         InstrumentType `json:"type"`
	ISIN         string         `json:"isin,omitempty"`
	Currency     string         `json:"currency,omitempty"`
	FromCurrency string         `json:"fromCurrency,omitempty"`
	ToCurrency   string         `json:"toCurrency,omitempty"`
}

// SecurityKey 构造证券键
func SecurityKey(isin, currency string) InstrumentKey {
	return InstrumentKey{Type: InstrumentSecurity, ISIN: strings.ToUpper(isin), Currency: strings.ToUpper(currency)}
}

// CurrencyPairKey 构造货币对键
func CurrencyPairKey(from, to string) InstrumentKey {
	return InstrumentKey{Type: InstrumentCurrencyPair, FromCurrency: strings.ToUpper(from), ToCurrency: strings.ToUpper(to)}
}

// Normalize 统一大小写并清理与类型无关的字段
func (k InstrumentKey) Normalize() InstrumentKey {
	if k.Type == InstrumentCurrencyPair {
		return CurrencyPairKey(k.FromCurrency, k.ToCurrency)
	}
	return SecurityKey(k.ISIN, k.Currency)
}

// Valid 键是否完整
func (k InstrumentKey) Valid() bool {
	switch k.Type {
	case InstrumentSecurity:
		return k.ISIN != "" && k.Currency != ""
	case InstrumentCurrencyPair:
		return k.FromCurrency != "" && k.ToCurrency != ""
	default:
		return false
	}
}

func (k InstrumentKey) String() string {
	if k.Type == InstrumentCurrencyPair {
		return fmt.Sprintf("%s/%s", k.FromCurrency, k.ToCurrency)
	}
	return fmt.Sprintf("%s:%s", k.ISIN, k.Currency)
}

// InstrumentPoolEntry 网络工具池条目；LocalID 为空表示只通过网络获知的外部工具
type InstrumentPoolEntry struct {
	ID        uint
	Key       InstrumentKey
	LocalID   *uint
	CreatedAt time.Time
}

// IsLocal 是否对应本地工具
func (e *InstrumentPoolEntry) IsLocal() bool { return e.LocalID != nil }

// HistoryRecord 单日 OHLC 行情
type HistoryRecord struct {
	Date   time.Time       `json:"date"`
	Open   decimal.Decimal `json:"open"`
	High   decimal.Decimal `json:"high"`
	Low    decimal.Decimal `json:"low"`
	Close  decimal.Decimal `json:"close"`
	Volume int64           `json:"volume"`
}

// InstrumentHistoryRequest 单个工具的历史行情请求，Records 为推送方附带的数据
type InstrumentHistoryRequest struct {
	Key      InstrumentKey   `json:"key"`
	FromDate time.Time       `json:"fromDate"`
	ToDate   time.Time       `json:"toDate"`
	Records  []HistoryRecord `json:"records,omitempty"`
}

// HistoryquoteRequest 一批历史行情请求
type HistoryquoteRequest struct {
	Instruments []InstrumentHistoryRequest `json:"instruments"`
}

// HasRecords 是否携带了推送数据
func (r *InstrumentHistoryRequest) HasRecords() bool { return len(r.Records) > 0 }

// InstrumentHistory 单个工具的应答
type InstrumentHistory struct {
	Key     InstrumentKey   `json:"key"`
	Records []HistoryRecord `json:"records"`
}

// HistoryquoteResponse 一批历史行情应答；本地没有的工具被省略
type HistoryquoteResponse struct {
	Instruments []InstrumentHistory `json:"instruments"`
}
