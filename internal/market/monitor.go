package market

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/betbot/kalshibot/internal/domain"
	"github.com/betbot/kalshibot/internal/orderbook"
	"github.com/betbot/kalshibot/internal/stream"
	"github.com/betbot/kalshibot/pkg/cache"
	"github.com/betbot/kalshibot/pkg/logger"
)

// opportunityThrottleTTL 同一市场两次机会回调之间的最短间隔
// 订单簿高频更新时避免对同一市场反复触发信号评估
const opportunityThrottleTTL = 30 * time.Second

// MarketLister REST 市场发现所需的最小接口
type MarketLister interface {
	GetMarkets(ctx context.Context, status string) ([]*domain.Market, error)
}

// OpportunityHandler 市场通过筛选时回调
type OpportunityHandler func(m *domain.Market, score float64)

// FillHandler 收到自己订单的成交通知时回调
type FillHandler func(fill *stream.FillMsg)

// OrderUpdateHandler 收到自己订单的状态变化时回调
type OrderUpdateHandler func(update *stream.OrderUpdateMsg)

// Monitor 市场监控器，持有市场注册表与本地订单簿
// 行情消息到达时更新对应市场并触发机会筛选
type Monitor struct {
	api    MarketLister
	filter *Filter

	mu      sync.RWMutex
	markets map[string]*domain.Market
	books   map[string]*orderbook.Book

	throttle *cache.Throttle

	onOpportunity OpportunityHandler
	onFill        FillHandler
	onOrderUpdate OrderUpdateHandler
}

// NewMonitor 创建监控器
func NewMonitor(api MarketLister, filter *Filter) *Monitor {
	return &Monitor{
		api:      api,
		filter:   filter,
		markets:  make(map[string]*domain.Market),
		books:    make(map[string]*orderbook.Book),
		throttle: cache.NewThrottle(opportunityThrottleTTL),
	}
}

// OnOpportunity 设置机会回调
func (mo *Monitor) OnOpportunity(fn OpportunityHandler) {
	mo.onOpportunity = fn
}

// OnFill 设置成交回调
func (mo *Monitor) OnFill(fn FillHandler) {
	mo.onFill = fn
}

// OnOrderUpdate 设置订单状态回调
func (mo *Monitor) OnOrderUpdate(fn OrderUpdateHandler) {
	mo.onOrderUpdate = fn
}

// Discover 通过 REST 拉取全部开放市场，填充注册表
// 必须在建立流式订阅前调用，保证行情不会打到空注册表上
func (mo *Monitor) Discover(ctx context.Context) ([]string, error) {
	markets, err := mo.api.GetMarkets(ctx, "open")
	if err != nil {
		return nil, errors.Wrap(err, "市场发现失败")
	}

	mo.mu.Lock()
	tickers := make([]string, 0, len(markets))
	for _, m := range markets {
		mo.markets[m.Ticker] = m
		if _, ok := mo.books[m.Ticker]; !ok {
			mo.books[m.Ticker] = orderbook.New(m.Ticker)
		}
		tickers = append(tickers, m.Ticker)
	}
	mo.mu.Unlock()

	logger.Infof("[market] 市场发现完成: %d 个开放市场", len(tickers))
	return tickers, nil
}

// Market 按 ticker 查询市场，返回副本避免外部修改
func (mo *Monitor) Market(ticker string) (*domain.Market, bool) {
	mo.mu.RLock()
	defer mo.mu.RUnlock()
	m, ok := mo.markets[ticker]
	if !ok {
		return nil, false
	}
	cp := *m
	return &cp, true
}

// Tickers 当前注册表中的全部 ticker
func (mo *Monitor) Tickers() []string {
	mo.mu.RLock()
	defer mo.mu.RUnlock()
	out := make([]string, 0, len(mo.markets))
	for t := range mo.markets {
		out = append(out, t)
	}
	return out
}

// MarketCount 注册表中的市场数
func (mo *Monitor) MarketCount() int {
	mo.mu.RLock()
	defer mo.mu.RUnlock()
	return len(mo.markets)
}

// HandleMessage 分发一条流式消息
// 未知类型与解析失败只记日志丢弃，保留上一份已知状态
func (mo *Monitor) HandleMessage(env *stream.Envelope) {
	switch env.MessageType() {
	case stream.TypeOrderbookSnapshot:
		var msg stream.OrderbookSnapshotMsg
		if err := json.Unmarshal(env.Msg, &msg); err != nil {
			logger.Warnf("[market] 解析订单簿快照失败: %v", err)
			return
		}
		mo.applySnapshot(&msg)

	case stream.TypeOrderbookDelta:
		var msg stream.OrderbookDeltaMsg
		if err := json.Unmarshal(env.Msg, &msg); err != nil {
			logger.Warnf("[market] 解析订单簿增量失败: %v", err)
			return
		}
		mo.applyDelta(&msg)

	case stream.TypeTicker:
		var msg stream.TickerMsg
		if err := json.Unmarshal(env.Msg, &msg); err != nil {
			logger.Warnf("[market] 解析行情失败: %v", err)
			return
		}
		mo.applyTicker(&msg)

	case stream.TypeTrade:
		var msg stream.TradeMsg
		if err := json.Unmarshal(env.Msg, &msg); err != nil {
			logger.Warnf("[market] 解析成交失败: %v", err)
			return
		}
		logger.Debugf("[market] 市场成交: %s %d@%d", msg.MarketTicker, msg.Count, msg.YesPrice)

	case stream.TypeFill:
		var msg stream.FillMsg
		if err := json.Unmarshal(env.Msg, &msg); err != nil {
			logger.Warnf("[market] 解析成交通知失败: %v", err)
			return
		}
		logger.Infof("[market] 订单成交: order=%s ticker=%s count=%d price=%d",
			msg.OrderID, msg.MarketTicker, msg.Count, msg.YesPrice)
		if mo.onFill != nil {
			mo.onFill(&msg)
		}

	case stream.TypeOrderUpdate:
		var msg stream.OrderUpdateMsg
		if err := json.Unmarshal(env.Msg, &msg); err != nil {
			logger.Warnf("[market] 解析订单更新失败: %v", err)
			return
		}
		logger.Infof("[market] 订单状态: order=%s status=%s ticker=%s",
			msg.OrderID, msg.Status, msg.MarketTicker)
		if mo.onOrderUpdate != nil {
			mo.onOrderUpdate(&msg)
		}

	case stream.TypeSubscribed:
		logger.Debugf("[market] 订阅确认")

	case stream.TypeError:
		logger.Errorf("[market] 服务端错误消息: %s", string(env.Msg))

	default:
		logger.Debugf("[market] 未知消息类型: %s", env.MessageType())
	}
}

// applySnapshot 应用订单簿快照并同步到市场
func (mo *Monitor) applySnapshot(msg *stream.OrderbookSnapshotMsg) {
	book := mo.bookFor(msg.MarketTicker)
	if book == nil {
		return
	}

	yes := make([]orderbook.Level, 0, len(msg.Yes))
	for _, lv := range msg.Yes {
		yes = append(yes, orderbook.Level{PriceCents: lv[0], Size: lv[1]})
	}
	no := make([]orderbook.Level, 0, len(msg.No))
	for _, lv := range msg.No {
		no = append(no, orderbook.Level{PriceCents: lv[0], Size: lv[1]})
	}
	book.ApplySnapshot(yes, no)
	mo.syncBookToMarket(msg.MarketTicker)
}

// applyDelta 应用订单簿增量并同步到市场
func (mo *Monitor) applyDelta(msg *stream.OrderbookDeltaMsg) {
	book := mo.bookFor(msg.MarketTicker)
	if book == nil {
		return
	}

	side := domain.SideYes
	if msg.Side == "no" {
		side = domain.SideNo
	}
	book.ApplyDelta(side, msg.Price, msg.Delta)
	mo.syncBookToMarket(msg.MarketTicker)
}

// applyTicker 把行情更新写入市场，分转美元
func (mo *Monitor) applyTicker(msg *stream.TickerMsg) {
	mo.mu.Lock()
	m, ok := mo.markets[msg.MarketTicker]
	if !ok {
		mo.mu.Unlock()
		return
	}

	if msg.YesPrice != nil {
		p := centsToDollars(*msg.YesPrice)
		m.LastPrice = &p
	}
	if msg.YesBid != nil {
		p := centsToDollars(*msg.YesBid)
		m.YesBid = &p
	}
	if msg.YesAsk != nil {
		p := centsToDollars(*msg.YesAsk)
		m.YesAsk = &p
	}
	if msg.Volume != nil {
		m.Volume = *msg.Volume
	}
	if msg.OpenInterest != nil {
		m.OpenInterest = *msg.OpenInterest
	}
	m.UpdatedAt = time.Now()
	snapshot := *m
	mo.mu.Unlock()

	mo.checkOpportunity(&snapshot)
}

// syncBookToMarket 把本地订单簿的买一/卖一同步到市场对象
// 流动性取买一价位的挂单量
func (mo *Monitor) syncBookToMarket(ticker string) {
	mo.mu.Lock()
	m, ok := mo.markets[ticker]
	book := mo.books[ticker]
	if !ok || book == nil {
		mo.mu.Unlock()
		return
	}

	bid, ask, hasBid, hasAsk := book.TopOfBook()
	if hasBid {
		p := centsToDollars(bid)
		m.YesBid = &p
		if size := book.SizeAt(domain.SideYes, bid); size > 0 {
			m.Liquidity = centsToDollars(bid).Mul(decimal.NewFromInt(size))
		}
	}
	if hasAsk {
		p := centsToDollars(ask)
		m.YesAsk = &p
	}
	m.UpdatedAt = time.Now()
	snapshot := *m
	mo.mu.Unlock()

	mo.checkOpportunity(&snapshot)
}

// checkOpportunity 运行筛选链，通过则计算评分并回调
// 同一市场在节流窗口内只回调一次
func (mo *Monitor) checkOpportunity(m *domain.Market) {
	ok, reason := mo.filter.Check(m)
	if !ok {
		logger.Debugf("[market] 市场被过滤: %s reason=%s", m.Ticker, reason)
		return
	}

	if !mo.throttle.Allow(m.Ticker) {
		logger.Debugf("[market] 机会被节流: %s", m.Ticker)
		return
	}

	score, _ := mo.filter.Score(m)
	logger.Infof("[market] 发现机会: %s score=%.1f liquidity=%s", m.Ticker, score, m.Liquidity)
	if mo.onOpportunity != nil {
		mo.onOpportunity(m, score)
	}
}

func (mo *Monitor) bookFor(ticker string) *orderbook.Book {
	mo.mu.RLock()
	defer mo.mu.RUnlock()
	return mo.books[ticker]
}

func centsToDollars(cents int64) decimal.Decimal {
	return decimal.NewFromInt(cents).Div(decimal.NewFromInt(100))
}
