package stream

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/betbot/kalshibot/internal/metrics"
	"github.com/betbot/kalshibot/pkg/logger"
)

// HeadersFunc 每次连接时调用，返回新鲜的认证头
type HeadersFunc func() (map[string]string, error)

// MessageHandler 收到服务端消息时回调
type MessageHandler func(*Envelope)

// subscription 需要在重连后重放的订阅
type subscription struct {
	channels []string
	tickers  []string
}

// Client Kalshi WebSocket 客户端
// 断线自动重连（指数退避），每次连接重新生成认证头，
// 重连成功后重放全部订阅（服务端会重发订单簿快照覆盖旧状态）
type Client struct {
	url          string
	config       *Config
	headers      HeadersFunc
	onMsg        MessageHandler
	onConnect    func()
	onDisconnect func()

	conn   *websocket.Conn
	connMu sync.Mutex

	running   bool
	runningMu sync.RWMutex

	connected    bool
	disconnectAt time.Time
	stateMu      sync.RWMutex

	subs   []subscription
	subsMu sync.Mutex

	msgID   int64
	msgIDMu sync.Mutex

	lastPong   time.Time
	lastPongMu sync.RWMutex

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewClient 创建 WebSocket 客户端
func NewClient(url string, headers HeadersFunc, onMsg MessageHandler, config *Config) *Client {
	if config == nil {
		config = DefaultConfig()
	}
	return &Client{
		url:          url,
		config:       config,
		headers:      headers,
		onMsg:        onMsg,
		disconnectAt: time.Now(),
		stopCh:       make(chan struct{}),
		doneCh:       make(chan struct{}),
	}
}

// OnConnect 设置连接建立后的回调（含重连）
func (c *Client) OnConnect(fn func()) {
	c.onConnect = fn
}

// OnDisconnect 设置连接断开后的回调
func (c *Client) OnDisconnect(fn func()) {
	c.onDisconnect = fn
}

// Start 建立连接并启动读取/心跳循环
func (c *Client) Start() error {
	c.runningMu.Lock()
	if c.running {
		c.runningMu.Unlock()
		return errors.New("WebSocket 客户端已在运行")
	}
	c.running = true
	c.runningMu.Unlock()

	if err := c.connect(); err != nil {
		c.runningMu.Lock()
		c.running = false
		c.runningMu.Unlock()
		return errors.Wrap(err, "初始连接失败")
	}

	go c.runLoop()

	logger.Infof("[stream] 已连接到 %s", c.url)
	return nil
}

// Stop 优雅关闭连接
func (c *Client) Stop() {
	c.runningMu.Lock()
	if !c.running {
		c.runningMu.Unlock()
		return
	}
	c.running = false
	c.runningMu.Unlock()

	close(c.stopCh)

	c.connMu.Lock()
	if c.conn != nil {
		_ = c.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		_ = c.conn.Close()
		c.conn = nil
	}
	c.connMu.Unlock()

	select {
	case <-c.doneCh:
	case <-time.After(5 * time.Second):
		logger.Warnf("[stream] 关闭超时")
	}
	logger.Infof("[stream] 已停止")
}

// IsRunning 客户端是否在运行
func (c *Client) IsRunning() bool {
	c.runningMu.RLock()
	defer c.runningMu.RUnlock()
	return c.running
}

// IsConnected 当前是否有活跃连接
func (c *Client) IsConnected() bool {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.connected
}

// DisconnectedFor 当前断连持续时长，已连接时返回 0
func (c *Client) DisconnectedFor() time.Duration {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	if c.connected {
		return 0
	}
	return time.Since(c.disconnectAt)
}

// Subscribe 订阅频道并记录，供重连后重放
func (c *Client) Subscribe(channels []string, marketTickers []string) error {
	c.subsMu.Lock()
	c.subs = append(c.subs, subscription{channels: channels, tickers: marketTickers})
	c.subsMu.Unlock()

	return c.sendCommand("subscribe", channels, marketTickers)
}

// Unsubscribe 取消订阅并从重放列表移除
func (c *Client) Unsubscribe(channels []string, marketTickers []string) error {
	c.subsMu.Lock()
	kept := c.subs[:0]
	for _, sub := range c.subs {
		if !sameStrings(sub.channels, channels) || !sameStrings(sub.tickers, marketTickers) {
			kept = append(kept, sub)
		}
	}
	c.subs = kept
	c.subsMu.Unlock()

	return c.sendCommand("unsubscribe", channels, marketTickers)
}

// sendCommand 发送带递增 id 的协议命令，写操作串行化
func (c *Client) sendCommand(cmd string, channels, tickers []string) error {
	c.msgIDMu.Lock()
	c.msgID++
	id := c.msgID
	c.msgIDMu.Unlock()

	msg := command{
		ID:  id,
		Cmd: cmd,
		Params: commandParams{
			Channels:      channels,
			MarketTickers: tickers,
		},
	}

	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.conn == nil {
		return errors.New("未连接")
	}
	if err := c.conn.WriteJSON(msg); err != nil {
		return errors.Wrapf(err, "发送 %s 命令失败", cmd)
	}
	logger.Debugf("[stream] 已发送 %s: id=%d channels=%v tickers=%d", cmd, id, channels, len(tickers))
	return nil
}

// connect 建立连接，每次调用都生成新的认证头
func (c *Client) connect() error {
	header := http.Header{}
	if c.headers != nil {
		auth, err := c.headers()
		if err != nil {
			return errors.Wrap(err, "生成认证头失败")
		}
		for k, v := range auth {
			header.Set(k, v)
		}
	}

	dialer := websocket.Dialer{
		ReadBufferSize:   c.config.ReadBufferSize,
		WriteBufferSize:  c.config.WriteBufferSize,
		HandshakeTimeout: c.config.HandshakeTimeout,
	}

	conn, _, err := dialer.Dial(c.url, header)
	if err != nil {
		return errors.Wrapf(err, "连接失败: %s", c.url)
	}

	// 用标准 pong 帧维护心跳时间戳
	c.lastPongMu.Lock()
	c.lastPong = time.Now()
	c.lastPongMu.Unlock()
	conn.SetPongHandler(func(string) error {
		c.lastPongMu.Lock()
		c.lastPong = time.Now()
		c.lastPongMu.Unlock()
		return nil
	})

	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()

	c.setConnected(true)
	return nil
}

// runLoop 连接生命周期主循环: 读取直到出错，然后指数退避重连
func (c *Client) runLoop() {
	defer close(c.doneCh)

	delay := c.config.ReconnectDelayBase

	for {
		if !c.IsRunning() {
			return
		}

		if c.onConnect != nil {
			c.onConnect()
		}
		c.replaySubscriptions()

		pingStop := make(chan struct{})
		go c.pingLoop(pingStop)

		c.readLoop()
		close(pingStop)

		c.setConnected(false)
		if c.onDisconnect != nil {
			c.onDisconnect()
		}

		if !c.IsRunning() {
			return
		}

		logger.Warnf("[stream] 连接断开, %v 后重连", delay)
		select {
		case <-c.stopCh:
			return
		case <-time.After(delay):
		}

		delay *= 2
		if delay > c.config.MaxReconnectDelay {
			delay = c.config.MaxReconnectDelay
		}

		if err := c.connect(); err != nil {
			logger.Errorf("[stream] 重连失败: %v", err)
			continue
		}
		// 重连成功后恢复初始退避
		delay = c.config.ReconnectDelayBase
		metrics.StreamReconnects.Add(1)
		logger.Infof("[stream] 重连成功")
	}
}

// replaySubscriptions 重放全部已记录的订阅
func (c *Client) replaySubscriptions() {
	c.subsMu.Lock()
	subs := make([]subscription, len(c.subs))
	copy(subs, c.subs)
	c.subsMu.Unlock()

	for _, sub := range subs {
		if err := c.sendCommand("subscribe", sub.channels, sub.tickers); err != nil {
			logger.Errorf("[stream] 重放订阅失败: %v", err)
		}
	}
}

// readLoop 持续读取消息直到连接失效
func (c *Client) readLoop() {
	defer func() {
		// gorilla 在失效连接上重复读取会 panic，这里兜底清理
		if r := recover(); r != nil {
			logger.Errorf("[stream] 读取循环 panic: %v", r)
			c.closeConn()
		}
	}()

	for {
		c.connMu.Lock()
		conn := c.conn
		c.connMu.Unlock()
		if conn == nil {
			return
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			c.closeConn()
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Infof("[stream] 连接正常关闭")
			} else if c.IsRunning() {
				logger.Warnf("[stream] 读取错误: %v", err)
			}
			return
		}

		c.handleMessage(data)
	}
}

// pingLoop 定期发送协议 ping，pong 超时则强制断开触发重连
func (c *Client) pingLoop(stop <-chan struct{}) {
	ticker := time.NewTicker(c.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.connMu.Lock()
			conn := c.conn
			c.connMu.Unlock()
			if conn == nil {
				return
			}

			c.lastPongMu.RLock()
			pongAge := time.Since(c.lastPong)
			c.lastPongMu.RUnlock()
			if pongAge > c.config.PingInterval+c.config.PongTimeout {
				logger.Warnf("[stream] pong 超时 (%v), 强制断开", pongAge)
				c.closeConn()
				return
			}

			deadline := time.Now().Add(c.config.PongTimeout)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				logger.Warnf("[stream] ping 发送失败: %v", err)
				c.closeConn()
				return
			}
		}
	}
}

// handleMessage 解析信封并分发，命令确认与未知类型在这里吞掉
func (c *Client) handleMessage(data []byte) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		logger.Warnf("[stream] 解析消息失败: %v", err)
		return
	}
	metrics.StreamMessages.Add(1)

	if env.IsAck() {
		logger.Debugf("[stream] 命令确认: id=%d", *env.ID)
		return
	}

	if c.onMsg != nil {
		c.onMsg(&env)
	}
}

// closeConn 关闭并清理当前连接
func (c *Client) closeConn() {
	c.connMu.Lock()
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.connMu.Unlock()
}

// setConnected 更新连接状态并记录断开时刻
func (c *Client) setConnected(connected bool) {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	if c.connected && !connected {
		c.disconnectAt = time.Now()
	}
	c.connected = connected
}

func sameStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
