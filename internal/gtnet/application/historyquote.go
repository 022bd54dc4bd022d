package application

import (
	"context"
	"fmt"
	"time"

	"github.com/grafioschtrader/gtnet/internal/gtnet/domain"
	"github.com/grafioschtrader/gtnet/pkg/logger"
)

// DefaultHistoryBatchThresholdDays 批量查询的默认回溯阈值
const DefaultHistoryBatchThresholdDays = 10

// HistoryquoteQueryStrategy 回答"这些工具在某日期区间的历史行情"
type HistoryquoteQueryStrategy interface {
	Query(ctx context.Context, req *domain.HistoryquoteRequest) (*domain.HistoryquoteResponse, error)
}

// BatchFromDate 所有 fromDate 都在阈值内时取最早的一个，否则整批截断到 now - threshold
func BatchFromDate(now time.Time, fromDates []time.Time, thresholdDays int) time.Time {
	limit := domain.TruncateDay(now).AddDate(0, 0, -thresholdDays)
	if len(fromDates) == 0 {
		return limit
	}
	oldest := fromDates[0]
	for _, d := range fromDates[1:] {
		if d.Before(oldest) {
			oldest = d
		}
	}
	if oldest.Before(limit) {
		return limit
	}
	return domain.TruncateDay(oldest)
}

type batchWindow struct {
	from, to time.Time
}

func newBatchWindow(now time.Time, items []domain.InstrumentHistoryRequest, thresholdDays int) batchWindow {
	froms := make([]time.Time, 0, len(items))
	var to time.Time
	for _, it := range items {
		froms = append(froms, it.FromDate)
		if it.ToDate.After(to) {
			to = it.ToDate
		}
	}
	if to.IsZero() {
		to = now
	}
	return batchWindow{from: BatchFromDate(now, froms, thresholdDays), to: to}
}

// clip 把整批结果裁剪到单个工具自己的区间 [max(fromDate, batchFrom), toDate]
func (w batchWindow) clip(records []domain.HistoryRecord, item domain.InstrumentHistoryRequest) []domain.HistoryRecord {
	from := w.from
	if item.FromDate.After(from) {
		from = domain.TruncateDay(item.FromDate)
	}
	to := item.ToDate
	if to.IsZero() {
		to = w.to
	}
	out := make([]domain.HistoryRecord, 0, len(records))
	for _, r := range records {
		if r.Date.Before(from) || r.Date.After(to) {
			continue
		}
		out = append(out, r)
	}
	return out
}

// OpenStrategy 只读本地证券/货币对与本地历史行情，从不访问工具池
type OpenStrategy struct {
	instruments   domain.LocalInstrumentReader
	history       domain.LocalHistoryReader
	thresholdDays int
	now           func() time.Time
}

// NewOpenStrategy 创建 Open 策略
func NewOpenStrategy(instruments domain.LocalInstrumentReader, history domain.LocalHistoryReader, thresholdDays int, now func() time.Time) *OpenStrategy {
	return &OpenStrategy{instruments: instruments, history: history, thresholdDays: thresholdDays, now: now}
}

// Query 本地没有的工具直接省略
func (s *OpenStrategy) Query(ctx context.Context, req *domain.HistoryquoteRequest) (*domain.HistoryquoteResponse, error) {
	type match struct {
		item    domain.InstrumentHistoryRequest
		localID uint
	}
	matches := make([]match, 0, len(req.Instruments))
	for _, item := range req.Instruments {
		item.Key = item.Key.Normalize()
		id, err := s.instruments.FindLocalID(ctx, item.Key)
		if err != nil {
			return nil, err
		}
		if id == nil {
			continue
		}
		matches = append(matches, match{item: item, localID: *id})
	}

	resp := &domain.HistoryquoteResponse{Instruments: make([]domain.InstrumentHistory, 0, len(matches))}
	if len(matches) == 0 {
		return resp, nil
	}
	items := make([]domain.InstrumentHistoryRequest, len(matches))
	ids := make([]uint, len(matches))
	for i, m := range matches {
		items[i] = m.item
		ids[i] = m.localID
	}
	w := newBatchWindow(s.now(), items, s.thresholdDays)
	byID, err := s.history.FindHistory(ctx, ids, w.from, w.to)
	if err != nil {
		return nil, fmt.Errorf("query local history: %w", err)
	}
	for _, m := range matches {
		resp.Instruments = append(resp.Instruments, domain.InstrumentHistory{
			Key:     m.item.Key,
			Records: w.clip(byID[m.localID], m.item),
		})
	}
	return resp, nil
}

// PushOpenStrategy 以工具池为准：本地条目读本地历史，外部条目读池历史；
// 请求附带数据时会创建缺失的外部条目并幂等写入
type PushOpenStrategy struct {
	pool          domain.InstrumentPoolRepository
	instruments   domain.LocalInstrumentReader
	history       domain.LocalHistoryReader
	thresholdDays int
	now           func() time.Time
}

// NewPushOpenStrategy 创建 PushOpen 策略
func NewPushOpenStrategy(pool domain.InstrumentPoolRepository, instruments domain.LocalInstrumentReader, history domain.LocalHistoryReader, thresholdDays int, now func() time.Time) *PushOpenStrategy {
	return &PushOpenStrategy{pool: pool, instruments: instruments, history: history, thresholdDays: thresholdDays, now: now}
}

// Query 按工具池匹配并合并推送数据
func (s *PushOpenStrategy) Query(ctx context.Context, req *domain.HistoryquoteRequest) (*domain.HistoryquoteResponse, error) {
	type match struct {
		item  domain.InstrumentHistoryRequest
		entry *domain.InstrumentPoolEntry
	}
	matches := make([]match, 0, len(req.Instruments))
	for _, item := range req.Instruments {
		item.Key = item.Key.Normalize()
		entry, err := s.resolveEntry(ctx, item)
		if err != nil {
			return nil, err
		}
		if entry == nil {
			continue
		}
		matches = append(matches, match{item: item, entry: entry})
	}

	resp := &domain.HistoryquoteResponse{Instruments: make([]domain.InstrumentHistory, 0, len(matches))}
	if len(matches) == 0 {
		return resp, nil
	}
	items := make([]domain.InstrumentHistoryRequest, len(matches))
	var localIDs, poolIDs []uint
	for i, m := range matches {
		items[i] = m.item
		if m.entry.IsLocal() {
			localIDs = append(localIDs, *m.entry.LocalID)
		} else {
			poolIDs = append(poolIDs, m.entry.ID)
		}
	}
	w := newBatchWindow(s.now(), items, s.thresholdDays)

	local := map[uint][]domain.HistoryRecord{}
	if len(localIDs) > 0 {
		var err error
		if local, err = s.history.FindHistory(ctx, localIDs, w.from, w.to); err != nil {
			return nil, fmt.Errorf("query local history: %w", err)
		}
	}
	foreign := map[uint][]domain.HistoryRecord{}
	if len(poolIDs) > 0 {
		var err error
		if foreign, err = s.pool.FindHistory(ctx, poolIDs, w.from, w.to); err != nil {
			return nil, fmt.Errorf("query pool history: %w", err)
		}
	}

	for _, m := range matches {
		var records []domain.HistoryRecord
		if m.entry.IsLocal() {
			records = local[*m.entry.LocalID]
		} else {
			records = foreign[m.entry.ID]
		}
		resp.Instruments = append(resp.Instruments, domain.InstrumentHistory{
			Key:     m.item.Key,
			Records: w.clip(records, m.item),
		})
	}
	return resp, nil
}

// resolveEntry 查找池条目；缺失时本地工具登记为本地条目，带数据的外部工具登记为外部条目
func (s *PushOpenStrategy) resolveEntry(ctx context.Context, item domain.InstrumentHistoryRequest) (*domain.InstrumentPoolEntry, error) {
	entry, err := s.pool.FindByKey(ctx, item.Key)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		localID, err := s.instruments.FindLocalID(ctx, item.Key)
		if err != nil {
			return nil, err
		}
		if localID == nil && !item.HasRecords() {
			return nil, nil
		}
		var created bool
		entry, created, err = s.pool.FindOrCreate(ctx, item.Key, localID)
		if err != nil {
			return nil, fmt.Errorf("create pool entry %s: %w", item.Key, err)
		}
		if created {
			logger.Debug(ctx, "instrument pool entry created", "instrument", item.Key.String(), "local", localID != nil)
		}
	}
	if !entry.IsLocal() && item.HasRecords() {
		if _, err := s.pool.SaveHistory(ctx, entry.ID, item.Records); err != nil {
			return nil, fmt.Errorf("store pool history %s: %w", item.Key, err)
		}
	}
	return entry, nil
}

// Store 保存对方推送或应答的历史行情；本地条目的数据以本地为准，忽略
func (s *PushOpenStrategy) Store(ctx context.Context, resp *domain.HistoryquoteResponse) (int, error) {
	stored := 0
	for _, inst := range resp.Instruments {
		if len(inst.Records) == 0 {
			continue
		}
		item := domain.InstrumentHistoryRequest{Key: inst.Key.Normalize(), Records: inst.Records}
		entry, err := s.pool.FindByKey(ctx, item.Key)
		if err != nil {
			return stored, err
		}
		if entry != nil && entry.IsLocal() {
			continue
		}
		if entry == nil {
			localID, err := s.instruments.FindLocalID(ctx, item.Key)
			if err != nil {
				return stored, err
			}
			if localID != nil {
				continue
			}
			if entry, _, err = s.pool.FindOrCreate(ctx, item.Key, nil); err != nil {
				return stored, err
			}
		}
		n, err := s.pool.SaveHistory(ctx, entry.ID, inst.Records)
		if err != nil {
			return stored, err
		}
		stored += n
	}
	return stored, nil
}

// HistoryquoteService 按本地接受模式选择策略
type HistoryquoteService struct {
	open *OpenStrategy
	push *PushOpenStrategy
}

// NewHistoryquoteService 创建服务
func NewHistoryquoteService(open *OpenStrategy, push *PushOpenStrategy) *HistoryquoteService {
	return &HistoryquoteService{open: open, push: push}
}

// SelectStrategy Closed 或未知模式返回 nil
func (s *HistoryquoteService) SelectStrategy(mode domain.AcceptMode) HistoryquoteQueryStrategy {
	switch mode {
	case domain.AcceptModeOpen:
		return s.open
	case domain.AcceptModePushOpen:
		return s.push
	default:
		return nil
	}
}

// StoreReceived 保存应答中的历史行情到工具池
func (s *HistoryquoteService) StoreReceived(ctx context.Context, resp *domain.HistoryquoteResponse) (int, error) {
	return s.push.Store(ctx, resp)
}
