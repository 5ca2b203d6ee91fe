package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// OrderSide 订单方向（合约边）
type OrderSide string

const (
	SideYes OrderSide = "yes"
	SideNo  OrderSide = "no"
)

// OrderAction 买卖动作
type OrderAction string

const (
	ActionBuy  OrderAction = "buy"
	ActionSell OrderAction = "sell"
)

// OrderType 订单类型
type OrderType string

const (
	TypeLimit  OrderType = "limit"
	TypeMarket OrderType = "market"
)

// OrderStatus 订单状态机:
// PENDING -> SUBMITTED -> { PARTIAL -> FILLED | CANCELLED | REJECTED }
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "PENDING"
	OrderStatusSubmitted OrderStatus = "SUBMITTED"
	OrderStatusPartial   OrderStatus = "PARTIAL"
	OrderStatusFilled    OrderStatus = "FILLED"
	OrderStatusCancelled OrderStatus = "CANCELLED"
	OrderStatusRejected  OrderStatus = "REJECTED"
)

// IsTerminal 是否终态
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCancelled, OrderStatusRejected:
		return true
	}
	return false
}

var (
	// MinLimitPrice 限价单最低价格
	MinLimitPrice = decimal.NewFromFloat(0.01)
	// MaxLimitPrice 限价单最高价格
	MaxLimitPrice = decimal.NewFromFloat(0.99)
)

// Order 本地订单记录
type Order struct {
	ID              string // 本地 uuid
	ClientOrderID   string // 提交给交易所的幂等 id
	ExchangeOrderID string // 交易所返回的订单 id
	Ticker          string
	Side            OrderSide
	Action          OrderAction
	Type            OrderType
	Price           decimal.Decimal // 美元
	Count           int             // 合约张数
	Status          OrderStatus
	FilledCount     int
	AvgFillPrice    decimal.Decimal
	CreatedAt       time.Time
	UpdatedAt       time.Time
	FilledAt        *time.Time
}

// NewLimitOrder 创建限价单，价格必须在 [0.01, 0.99] 美元内
func NewLimitOrder(ticker string, side OrderSide, action OrderAction, price decimal.Decimal, count int) (*Order, error) {
	if ticker == "" {
		return nil, errors.New("ticker 不能为空")
	}
	if count <= 0 {
		return nil, errors.Errorf("订单数量必须为正: %d", count)
	}
	if price.LessThan(MinLimitPrice) || price.GreaterThan(MaxLimitPrice) {
		return nil, errors.Errorf("限价必须在 [%s, %s] 之间: %s", MinLimitPrice, MaxLimitPrice, price)
	}

	now := time.Now()
	return &Order{
		ID:            uuid.NewString(),
		ClientOrderID: uuid.NewString(),
		Ticker:        ticker,
		Side:          side,
		Action:        action,
		Type:          TypeLimit,
		Price:         price,
		Count:         count,
		Status:        OrderStatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

// Notional 订单名义金额（美元）
func (o *Order) Notional() decimal.Decimal {
	return o.Price.Mul(decimal.NewFromInt(int64(o.Count)))
}

// IsActive 是否仍在场内（非终态）
func (o *Order) IsActive() bool {
	return !o.Status.IsTerminal()
}

// StatusFromKalshi 把交易所状态映射到本地状态机
// remaining 为剩余未成交张数，用于区分部分成交
func StatusFromKalshi(status string, remaining int) OrderStatus {
	switch status {
	case "resting":
		return OrderStatusSubmitted
	case "pending":
		return OrderStatusPending
	case "canceled", "cancelled":
		return OrderStatusCancelled
	case "executed":
		if remaining > 0 {
			return OrderStatusPartial
		}
		return OrderStatusFilled
	case "rejected":
		return OrderStatusRejected
	default:
		return OrderStatusSubmitted
	}
}
