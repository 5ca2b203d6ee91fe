// Package stream 提供 Kalshi 实时行情/账户流的 WebSocket 客户端
package stream

import (
	"encoding/json"
	"time"
)

// 订阅频道
const (
	ChannelOrderbookDelta = "orderbook_delta"
	ChannelTicker         = "ticker"
	ChannelTrade          = "trade"
	ChannelFill           = "fill"
	ChannelOrderUpdate    = "order_update"
)

// 服务端消息类型（type 字段）
const (
	TypeOrderbookSnapshot = "orderbook_snapshot"
	TypeOrderbookDelta    = "orderbook_delta"
	TypeTicker            = "ticker"
	TypeTrade             = "trade"
	TypeFill              = "fill"
	TypeOrderUpdate       = "order_update"
	TypeSubscribed        = "subscribed"
	TypeError             = "error"
)

// Config WebSocket 客户端配置
type Config struct {
	ReconnectDelayBase time.Duration // 重连初始延迟
	MaxReconnectDelay  time.Duration // 重连最大延迟
	PingInterval       time.Duration // 心跳间隔
	PongTimeout        time.Duration // pong 超时，超过即判定连接失效
	HandshakeTimeout   time.Duration
	ReadBufferSize     int
	WriteBufferSize    int
}

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		ReconnectDelayBase: 1 * time.Second,
		MaxReconnectDelay:  30 * time.Second,
		PingInterval:       30 * time.Second,
		PongTimeout:        10 * time.Second,
		HandshakeTimeout:   10 * time.Second,
		ReadBufferSize:     4096,
		WriteBufferSize:    4096,
	}
}

// command Kalshi 订阅协议的命令格式
type command struct {
	ID     int64         `json:"id"`
	Cmd    string        `json:"cmd"`
	Params commandParams `json:"params"`
}

type commandParams struct {
	Channels      []string `json:"channels"`
	MarketTickers []string `json:"market_tickers,omitempty"`
}

// Envelope 服务端消息信封
// type 为消息判别字段；同时带 id 和 result 的消息是命令确认
type Envelope struct {
	Type    string          `json:"type"`
	Channel string          `json:"channel,omitempty"`
	ID      *int64          `json:"id,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	SID     int64           `json:"sid,omitempty"`
	Seq     int64           `json:"seq,omitempty"`
	Msg     json.RawMessage `json:"msg,omitempty"`
}

// MessageType 返回判别用的消息类型，type 缺失时回退到 channel
func (e *Envelope) MessageType() string {
	if e.Type != "" {
		return e.Type
	}
	return e.Channel
}

// IsAck 是否为命令确认消息
func (e *Envelope) IsAck() bool {
	return e.ID != nil && len(e.Result) > 0
}

// OrderbookSnapshotMsg 订单簿全量快照，价格为分
type OrderbookSnapshotMsg struct {
	MarketTicker string     `json:"market_ticker"`
	Yes          [][2]int64 `json:"yes"`
	No           [][2]int64 `json:"no"`
}

// OrderbookDeltaMsg 订单簿单价位增量
type OrderbookDeltaMsg struct {
	MarketTicker string `json:"market_ticker"`
	Price        int64  `json:"price"`
	Delta        int64  `json:"delta"`
	Side         string `json:"side"`
}

// TickerMsg 行情更新，价格为分
type TickerMsg struct {
	MarketTicker string `json:"market_ticker"`
	YesPrice     *int64 `json:"yes_price,omitempty"`
	YesBid       *int64 `json:"yes_bid,omitempty"`
	YesAsk       *int64 `json:"yes_ask,omitempty"`
	Volume       *int64 `json:"volume,omitempty"`
	OpenInterest *int64 `json:"open_interest,omitempty"`
}

// TradeMsg 市场成交
type TradeMsg struct {
	MarketTicker string `json:"market_ticker"`
	YesPrice     int64  `json:"yes_price"`
	Count        int64  `json:"count"`
	TakerSide    string `json:"taker_side"`
	Ts           int64  `json:"ts"`
}

// FillMsg 自己订单的成交通知
type FillMsg struct {
	MarketTicker string `json:"market_ticker"`
	OrderID      string `json:"order_id"`
	Side         string `json:"side"`
	Action       string `json:"action"`
	Count        int    `json:"count"`
	YesPrice     int64  `json:"yes_price"`
	IsTaker      bool   `json:"is_taker"`
}

// OrderUpdateMsg 自己订单的状态变化
type OrderUpdateMsg struct {
	MarketTicker   string `json:"market_ticker"`
	OrderID        string `json:"order_id"`
	ClientID       string `json:"client_order_id"`
	Status         string `json:"status"`
	RemainingCount int    `json:"remaining_count"`
}
