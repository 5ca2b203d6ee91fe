package kalshi

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/betbot/kalshibot/internal/domain"
)

var cents100 = decimal.NewFromInt(100)

// CentsToDollars 把交易所的整数分转换为美元
func CentsToDollars(cents int64) decimal.Decimal {
	return decimal.NewFromInt(cents).Div(cents100)
}

// DollarsToCents 把美元价格转换为整数分（向下取整）
func DollarsToCents(dollars decimal.Decimal) int64 {
	return dollars.Mul(cents100).IntPart()
}

// ExchangeStatus 交易所运行状态
type ExchangeStatus struct {
	ExchangeActive bool `json:"exchange_active"`
	TradingActive  bool `json:"trading_active"`
}

// Balance 账户余额（美元）
type Balance struct {
	Total     decimal.Decimal
	Available decimal.Decimal
	Locked    decimal.Decimal
}

// balanceResponse 余额接口返回（单位为分）
type balanceResponse struct {
	Balance          int64  `json:"balance"`
	AvailableBalance *int64 `json:"available_balance,omitempty"`
}

// marketWire 市场行情的线上格式，价格单位为分
type marketWire struct {
	Ticker       string    `json:"ticker"`
	EventTicker  string    `json:"event_ticker"`
	Title        string    `json:"title"`
	Category     string    `json:"category"`
	Status       string    `json:"status"`
	YesBid       int64     `json:"yes_bid"`
	YesAsk       int64     `json:"yes_ask"`
	NoBid        int64     `json:"no_bid"`
	NoAsk        int64     `json:"no_ask"`
	LastPrice    int64     `json:"last_price"`
	Volume       int64     `json:"volume"`
	OpenInterest int64     `json:"open_interest"`
	Liquidity    int64     `json:"liquidity"`
	CloseTime    time.Time `json:"close_time"`
}

// toDomain 把线上格式转换为本地市场对象，分转美元在这里完成
func (w marketWire) toDomain() *domain.Market {
	m := &domain.Market{
		Ticker:       w.Ticker,
		EventTicker:  w.EventTicker,
		Title:        w.Title,
		Category:     w.Category,
		Status:       marketStatusFromKalshi(w.Status),
		Volume:       w.Volume,
		OpenInterest: w.OpenInterest,
		Liquidity:    CentsToDollars(w.Liquidity),
		CloseTime:    w.CloseTime,
		UpdatedAt:    time.Now(),
	}
	if w.YesBid > 0 {
		p := CentsToDollars(w.YesBid)
		m.YesBid = &p
	}
	if w.YesAsk > 0 {
		p := CentsToDollars(w.YesAsk)
		m.YesAsk = &p
	}
	if w.NoBid > 0 {
		p := CentsToDollars(w.NoBid)
		m.NoBid = &p
	}
	if w.NoAsk > 0 {
		p := CentsToDollars(w.NoAsk)
		m.NoAsk = &p
	}
	if w.LastPrice > 0 {
		p := CentsToDollars(w.LastPrice)
		m.LastPrice = &p
	}
	return m
}

// marketStatusFromKalshi 交易所市场状态映射
func marketStatusFromKalshi(status string) domain.MarketStatus {
	switch status {
	case "unopened", "initialized":
		return domain.MarketStatusUnopened
	case "open", "active":
		return domain.MarketStatusActive
	case "closed":
		return domain.MarketStatusClosed
	case "settled", "finalized":
		return domain.MarketStatusSettled
	default:
		return domain.MarketStatus(status)
	}
}

type marketsResponse struct {
	Markets []marketWire `json:"markets"`
	Cursor  string       `json:"cursor"`
}

type marketResponse struct {
	Market marketWire `json:"market"`
}

// BookLevel 订单簿价位，价格为分，数量为张
type BookLevel struct {
	PriceCents int64
	Size       int64
}

// BookSnapshot 订单簿快照，yes/no 两边的原始分价位
type BookSnapshot struct {
	Ticker string
	Yes    []BookLevel
	No     []BookLevel
}

// orderbookResponse 订单簿接口返回，层级为 [price_cents, size] 数组
type orderbookResponse struct {
	Orderbook struct {
		Yes [][2]int64 `json:"yes"`
		No  [][2]int64 `json:"no"`
	} `json:"orderbook"`
}

func (r orderbookResponse) toSnapshot(ticker string) *BookSnapshot {
	snap := &BookSnapshot{Ticker: ticker}
	for _, lv := range r.Orderbook.Yes {
		snap.Yes = append(snap.Yes, BookLevel{PriceCents: lv[0], Size: lv[1]})
	}
	for _, lv := range r.Orderbook.No {
		snap.No = append(snap.No, BookLevel{PriceCents: lv[0], Size: lv[1]})
	}
	return snap
}

// createOrderRequest 下单请求体，价格单位为分
type createOrderRequest struct {
	Ticker        string `json:"ticker"`
	ClientOrderID string `json:"client_order_id"`
	Side          string `json:"side"`
	Action        string `json:"action"`
	Type          string `json:"type"`
	Count         int    `json:"count"`
	YesPrice      int64  `json:"yes_price,omitempty"`
	NoPrice       int64  `json:"no_price,omitempty"`
}

// orderWire 订单的线上格式
type orderWire struct {
	OrderID        string `json:"order_id"`
	ClientOrderID  string `json:"client_order_id"`
	Ticker         string `json:"ticker"`
	Side           string `json:"side"`
	Action         string `json:"action"`
	Type           string `json:"type"`
	Status         string `json:"status"`
	YesPrice       int64  `json:"yes_price"`
	NoPrice        int64  `json:"no_price"`
	Count          int    `json:"count"`
	RemainingCount int    `json:"remaining_count"`
}

type orderResponse struct {
	Order orderWire `json:"order"`
}

type ordersResponse struct {
	Orders []orderWire `json:"orders"`
	Cursor string      `json:"cursor"`
}

// OrderState 订单在交易所的当前状态（美元价格）
type OrderState struct {
	ExchangeOrderID string
	ClientOrderID   string
	Ticker          string
	Status          domain.OrderStatus
	Price           decimal.Decimal
	Count           int
	FilledCount     int
}

func (w orderWire) toState() *OrderState {
	priceCents := w.YesPrice
	if w.Side == "no" {
		priceCents = w.NoPrice
	}
	return &OrderState{
		ExchangeOrderID: w.OrderID,
		ClientOrderID:   w.ClientOrderID,
		Ticker:          w.Ticker,
		Status:          domain.StatusFromKalshi(w.Status, w.RemainingCount),
		Price:           CentsToDollars(priceCents),
		Count:           w.Count,
		FilledCount:     w.Count - w.RemainingCount,
	}
}

// Fill 成交记录（美元价格）
type Fill struct {
	Ticker    string
	OrderID   string
	Side      domain.OrderSide
	Action    domain.OrderAction
	Count     int
	Price     decimal.Decimal
	IsTaker   bool
	CreatedAt time.Time
}

type fillWire struct {
	Ticker      string    `json:"ticker"`
	OrderID     string    `json:"order_id"`
	Side        string    `json:"side"`
	Action      string    `json:"action"`
	Count       int       `json:"count"`
	YesPrice    int64     `json:"yes_price"`
	NoPrice     int64     `json:"no_price"`
	IsTaker     bool      `json:"is_taker"`
	CreatedTime time.Time `json:"created_time"`
}

func (w fillWire) toFill() Fill {
	priceCents := w.YesPrice
	if w.Side == "no" {
		priceCents = w.NoPrice
	}
	return Fill{
		Ticker:    w.Ticker,
		OrderID:   w.OrderID,
		Side:      domain.OrderSide(w.Side),
		Action:    domain.OrderAction(w.Action),
		Count:     w.Count,
		Price:     CentsToDollars(priceCents),
		IsTaker:   w.IsTaker,
		CreatedAt: w.CreatedTime,
	}
}

type fillsResponse struct {
	Fills []fillWire `json:"fills"`
}

// ExchangePosition 交易所侧的持仓视图
type ExchangePosition struct {
	Ticker         string
	Position       int // 正数为 YES 持仓，负数为 NO
	MarketExposure decimal.Decimal
}

type positionWire struct {
	Ticker         string `json:"ticker"`
	Position       int    `json:"position"`
	MarketExposure int64  `json:"market_exposure"`
}

type positionsResponse struct {
	MarketPositions []positionWire `json:"market_positions"`
}
