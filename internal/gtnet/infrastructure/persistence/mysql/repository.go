// Package mysql GTNet 领域仓储的 GORM 实现，同时支持 MySQL 与 PostgreSQL
package mysql

import (
	"context"
	"errors"
	"time"

	"github.com/grafioschtrader/gtnet/internal/gtnet/domain"
	"github.com/grafioschtrader/gtnet/pkg/db"
	"github.com/wyfcoding/pkg/contextx"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// base 各仓储共用的连接获取逻辑
type base struct {
	db *db.DB
}

// getDB 优先使用上下文中的事务
func (b base) getDB(ctx context.Context) *gorm.DB {
	if tx, ok := contextx.GetTx(ctx).(*gorm.DB); ok && tx != nil {
		return tx
	}
	return b.db.DB.WithContext(ctx)
}

// TxManager 事务管理器，事务通过 contextx 在仓储间传递
type TxManager struct {
	base
}

// NewTxManager 创建事务管理器
func NewTxManager(database *db.DB) *TxManager {
	return &TxManager{base{db: database}}
}

// WithTx 在事务中执行 fn；上下文中已有事务时直接复用
func (m *TxManager) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if tx, ok := contextx.GetTx(ctx).(*gorm.DB); ok && tx != nil {
		return fn(ctx)
	}
	return m.db.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		txCtx := contextx.WithTx(ctx, tx)
		return fn(txCtx)
	})
}

// PeerRepository 节点仓储
type PeerRepository struct {
	base
}

// NewPeerRepository 创建节点仓储
func NewPeerRepository(database *db.DB) domain.PeerRepository {
	return &PeerRepository{base{db: database}}
}

func (r *PeerRepository) findOne(ctx context.Context, query string, args ...any) (*domain.Peer, error) {
	var model PeerModel
	if err := r.getDB(ctx).Where(query, args...).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return toPeer(&model), nil
}

func (r *PeerRepository) FindByID(ctx context.Context, id uint) (*domain.Peer, error) {
	return r.findOne(ctx, "id = ?", id)
}

// FindByDomain 域名不区分大小写
func (r *PeerRepository) FindByDomain(ctx context.Context, domainName string) (*domain.Peer, error) {
	return r.findOne(ctx, "LOWER(domain_name) = LOWER(?)", domainName)
}

func (r *PeerRepository) FindLocal(ctx context.Context) (*domain.Peer, error) {
	return r.findOne(ctx, "is_local = ?", true)
}

func (r *PeerRepository) Save(ctx context.Context, peer *domain.Peer) error {
	model := toPeerModel(peer)
	q := r.getDB(ctx)
	if model.ID != 0 {
		q = q.Omit("created_at")
	}
	if err := q.Save(model).Error; err != nil {
		return err
	}
	peer.ID = model.ID
	peer.UpdatedAt = model.UpdatedAt
	return nil
}

func (r *PeerRepository) FindShareable(ctx context.Context, excludeID uint) ([]*domain.Peer, error) {
	var models []PeerModel
	err := r.getDB(ctx).
		Where("is_local = ? AND id <> ? AND server_state <> ?", false, excludeID, uint8(domain.ServerStateClosed)).
		Order("id").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	out := make([]*domain.Peer, len(models))
	for i := range models {
		out[i] = toPeer(&models[i])
	}
	return out, nil
}

func (r *PeerRepository) FindConfig(ctx context.Context, peerID uint) (*domain.PeerConfig, error) {
	var model PeerConfigModel
	if err := r.getDB(ctx).Where("id_gt_net = ?", peerID).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return toPeerConfig(&model), nil
}

func (r *PeerRepository) SaveConfig(ctx context.Context, cfg *domain.PeerConfig) error {
	model := toPeerConfigModel(cfg)
	err := r.getDB(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id_gt_net"}},
		UpdateAll: true,
	}).Create(model).Error
	if err != nil {
		return err
	}
	cfg.UpdatedAt = model.UpdatedAt
	return nil
}

// ExchangeStateRepository 交换状态仓储
type ExchangeStateRepository struct {
	base
}

// NewExchangeStateRepository 创建交换状态仓储
func NewExchangeStateRepository(database *db.DB) domain.ExchangeStateRepository {
	return &ExchangeStateRepository{base{db: database}}
}

func (r *ExchangeStateRepository) Find(ctx context.Context, peerID uint, kind domain.EntityKind) (*domain.EntityExchangeState, error) {
	var model ExchangeStateModel
	err := r.getDB(ctx).Where("id_gt_net = ? AND entity_kind = ?", peerID, uint8(kind)).First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return toExchangeState(&model), nil
}

func (r *ExchangeStateRepository) FindByPeer(ctx context.Context, peerID uint) ([]*domain.EntityExchangeState, error) {
	var models []ExchangeStateModel
	if err := r.getDB(ctx).Where("id_gt_net = ?", peerID).Order("entity_kind").Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]*domain.EntityExchangeState, len(models))
	for i := range models {
		out[i] = toExchangeState(&models[i])
	}
	return out, nil
}

func (r *ExchangeStateRepository) Save(ctx context.Context, state *domain.EntityExchangeState) error {
	return r.getDB(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id_gt_net"}, {Name: "entity_kind"}},
		UpdateAll: true,
	}).Create(toExchangeStateModel(state)).Error
}

// MessageRepository 消息日志仓储
type MessageRepository struct {
	base
	requestCodes []int
}

// NewMessageRepository 创建消息日志仓储
func NewMessageRepository(database *db.DB) domain.MessageRepository {
	var codes []int
	for _, c := range domain.AllCodes() {
		if c.IsRequestRequiringResponse() {
			codes = append(codes, int(c.Value()))
		}
	}
	return &MessageRepository{base: base{db: database}, requestCodes: codes}
}

func (r *MessageRepository) Save(ctx context.Context, msg *domain.Message) error {
	model, err := toMessageModel(msg)
	if err != nil {
		return err
	}
	if err := r.getDB(ctx).Create(model).Error; err != nil {
		return err
	}
	msg.ID = model.ID
	return nil
}

func (r *MessageRepository) FindByID(ctx context.Context, id uint) (*domain.Message, error) {
	var model MessageModel
	if err := r.getDB(ctx).First(&model, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return toMessage(&model)
}

func (r *MessageRepository) toMessages(models []MessageModel) ([]*domain.Message, error) {
	out := make([]*domain.Message, 0, len(models))
	for i := range models {
		msg, err := toMessage(&models[i])
		if err != nil {
			return nil, err
		}
		out = append(out, msg)
	}
	return out, nil
}

func (r *MessageRepository) FindUnansweredRequests(ctx context.Context) ([]*domain.Message, error) {
	var models []MessageModel
	err := r.getDB(ctx).
		Where("direction = ? AND message_code IN ?", uint8(domain.DirectionReceived), r.requestCodes).
		Where("NOT EXISTS (SELECT 1 FROM gtnet_message a WHERE a.reply_to = gtnet_message.id AND a.direction = ?)", uint8(domain.DirectionSend)).
		Order("id").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return r.toMessages(models)
}

func (r *MessageRepository) FindLatestReply(ctx context.Context, peerID uint, requestCode domain.MessageCode) (*domain.Message, error) {
	var model MessageModel
	err := r.getDB(ctx).
		Table("gtnet_message AS m").
		Select("m.*").
		Joins("JOIN gtnet_message q ON q.id = m.reply_to").
		Where("m.direction = ? AND m.id_gt_net = ? AND q.message_code = ?",
			uint8(domain.DirectionSend), peerID, requestCode.Value()).
		Order("m.id DESC").
		Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return toMessage(&model)
}

// RuleRepository 自动应答规则仓储
type RuleRepository struct {
	base
}

// NewRuleRepository 创建规则仓储
func NewRuleRepository(database *db.DB) *RuleRepository {
	return &RuleRepository{base{db: database}}
}

func (r *RuleRepository) FindByRequestCode(ctx context.Context, code domain.MessageCode) (*domain.AutoResponseRule, error) {
	var model RuleModel
	if err := r.getDB(ctx).Where("request_code = ?", code.Value()).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return toRule(&model), nil
}

// Save 新增或替换某请求码的规则
func (r *RuleRepository) Save(ctx context.Context, rule *domain.AutoResponseRule) error {
	model := toRuleModel(rule)
	err := r.getDB(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "request_code"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"condition1", "response_code1", "message1",
			"condition2", "response_code2", "message2",
			"condition3", "response_code3", "message3",
			"wait_days", "updated_at",
		}),
	}).Create(model).Error
	if err != nil {
		return err
	}
	rule.ID = model.ID
	return nil
}

// InstrumentPoolRepository 网络工具池仓储
type InstrumentPoolRepository struct {
	base
}

// NewInstrumentPoolRepository 创建工具池仓储
func NewInstrumentPoolRepository(database *db.DB) domain.InstrumentPoolRepository {
	return &InstrumentPoolRepository{base{db: database}}
}

func (r *InstrumentPoolRepository) FindByKey(ctx context.Context, key domain.InstrumentKey) (*domain.InstrumentPoolEntry, error) {
	var model PoolEntryModel
	if err := r.getDB(ctx).Where(keyColumns(key)).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return toPoolEntry(&model), nil
}

// FindOrCreate 并发插入同一键时由唯一索引保证只有一条
func (r *InstrumentPoolRepository) FindOrCreate(ctx context.Context, key domain.InstrumentKey, localID *uint) (*domain.InstrumentPoolEntry, bool, error) {
	entry, err := r.FindByKey(ctx, key)
	if err != nil || entry != nil {
		return entry, false, err
	}
	model := toPoolEntryModel(key, localID)
	res := r.getDB(ctx).Clauses(db.OnConflictIgnore(
		"instrument_type", "isin", "currency", "from_currency", "to_currency",
	)).Create(model)
	if res.Error != nil {
		return nil, false, res.Error
	}
	if res.RowsAffected == 0 {
		entry, err = r.FindByKey(ctx, key)
		return entry, false, err
	}
	return toPoolEntry(model), true, nil
}

func (r *InstrumentPoolRepository) FindHistory(ctx context.Context, entryIDs []uint, from, to time.Time) (map[uint][]domain.HistoryRecord, error) {
	out := make(map[uint][]domain.HistoryRecord)
	if len(entryIDs) == 0 {
		return out, nil
	}
	var models []PoolHistoryModel
	err := r.getDB(ctx).
		Where("id_gt_net_instrument IN ? AND date >= ? AND date <= ?", entryIDs, from.UTC(), to.UTC()).
		Order("id_gt_net_instrument, date").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	for _, m := range models {
		out[m.EntryID] = append(out[m.EntryID], toHistoryRecord(m.Date, m.Open, m.High, m.Low, m.Close, m.Volume))
	}
	return out, nil
}

func (r *InstrumentPoolRepository) SaveHistory(ctx context.Context, entryID uint, records []domain.HistoryRecord) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}
	models := make([]PoolHistoryModel, len(records))
	for i, rec := range records {
		models[i] = PoolHistoryModel{
			EntryID: entryID,
			Date:    domain.TruncateDay(rec.Date),
			Open:    rec.Open,
			High:    rec.High,
			Low:     rec.Low,
			Close:   rec.Close,
			Volume:  rec.Volume,
		}
	}
	res := r.getDB(ctx).Clauses(db.OnConflictIgnore("id_gt_net_instrument", "date")).CreateInBatches(models, 500)
	if res.Error != nil {
		return 0, res.Error
	}
	return int(res.RowsAffected), nil
}

// LocalInstrumentRepository 读取本地证券/货币对及其历史行情
type LocalInstrumentRepository struct {
	base
}

// NewLocalInstrumentRepository 创建本地工具读取器
func NewLocalInstrumentRepository(database *db.DB) *LocalInstrumentRepository {
	return &LocalInstrumentRepository{base{db: database}}
}

func (r *LocalInstrumentRepository) FindLocalID(ctx context.Context, key domain.InstrumentKey) (*uint, error) {
	var model SecuritycurrencyModel
	if err := r.getDB(ctx).Select("id_securitycurrency").Where(keyColumns(key)).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	id := model.ID
	return &id, nil
}

func (r *LocalInstrumentRepository) FindHistory(ctx context.Context, localIDs []uint, from, to time.Time) (map[uint][]domain.HistoryRecord, error) {
	out := make(map[uint][]domain.HistoryRecord)
	if len(localIDs) == 0 {
		return out, nil
	}
	var models []HistoryquoteModel
	err := r.getDB(ctx).
		Where("id_securitycurrency IN ? AND date >= ? AND date <= ?", localIDs, from.UTC(), to.UTC()).
		Order("id_securitycurrency, date").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	for _, m := range models {
		out[m.LocalID] = append(out[m.LocalID], toHistoryRecord(m.Date, m.Open, m.High, m.Low, m.Close, m.Volume))
	}
	return out, nil
}
