package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/shopspring/decimal"

	"github.com/betbot/kalshibot/internal/alerts"
	"github.com/betbot/kalshibot/internal/domain"
	"github.com/betbot/kalshibot/internal/execution"
	"github.com/betbot/kalshibot/internal/health"
	"github.com/betbot/kalshibot/internal/kalshi"
	"github.com/betbot/kalshibot/internal/market"
	"github.com/betbot/kalshibot/internal/metrics"
	"github.com/betbot/kalshibot/internal/persistence"
	"github.com/betbot/kalshibot/internal/risk"
	"github.com/betbot/kalshibot/internal/strategy"
	"github.com/betbot/kalshibot/internal/stream"
	"github.com/betbot/kalshibot/pkg/config"
	"github.com/betbot/kalshibot/pkg/logger"
	"github.com/betbot/kalshibot/pkg/shutdown"
	"github.com/betbot/kalshibot/pkg/sigchan"
	"github.com/betbot/kalshibot/pkg/syncgroup"
)

// 后台循环周期
const (
	exitCheckInterval = 5 * time.Second
	riskCheckInterval = 10 * time.Second
)

// Bot 交易机器人，持有全部组件并负责启动/停机编排
type Bot struct {
	cfg config.Config

	api       *kalshi.Client
	account   *domain.Account
	store     *persistence.Store
	alerter   *alerts.Alerter
	monitor   *market.Monitor
	strategy  *strategy.Engine
	riskMgr   *risk.Manager
	orders    *execution.OrderManager
	positions *execution.PositionTracker
	executor  *execution.Engine
	streamCli *stream.Client
	healthSrv *health.Server

	sg       *syncgroup.SyncGroup
	ctx      context.Context
	cancel   context.CancelFunc
	stopCh   *sigchan.Chan
	shutdown *shutdown.Manager

	running  atomic.Bool
	stopOnce sync.Once

	// 入场去重: 同一市场只允许一个在途执行
	pendingMu sync.Mutex
	pending   map[string]bool

	dailyOpened atomic.Int64
	dailyClosed atomic.Int64
}

func main() {
	configPath := flag.String("config", "config.yaml", "配置文件路径")
	envPath := flag.String("env", "", ".env 文件路径（默认读取进程环境变量）")
	logLevel := flag.String("log-level", "", "覆盖配置中的日志级别")
	flag.Parse()

	cfg, err := config.Load(*configPath, *envPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}

	if err := logger.Init(logger.Config{
		Level:      cfg.Logging.Level,
		OutputFile: cfg.Logging.OutputFile,
		MaxSize:    cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAge:     cfg.Logging.MaxAgeDays,
		Compress:   cfg.Logging.Compress,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "初始化日志失败: %v\n", err)
		os.Exit(1)
	}

	logger.Infof("[bot] 启动 environment=%s demo=%v", cfg.Secrets.Environment, cfg.API.UseDemo)

	bot, err := NewBot(cfg)
	if err != nil {
		logger.Errorf("[bot] 初始化失败: %v", err)
		os.Exit(1)
	}
	if err := bot.Run(); err != nil {
		logger.Errorf("[bot] 运行失败: %v", err)
		os.Exit(1)
	}
}

// NewBot 按协作顺序组装全部组件
func NewBot(cfg config.Config) (*Bot, error) {
	ctx, cancel := context.WithCancel(context.Background())
	b := &Bot{
		cfg:      cfg,
		sg:       syncgroup.NewSyncGroup(),
		ctx:      ctx,
		cancel:   cancel,
		stopCh:   sigchan.New(1),
		shutdown: shutdown.NewManager(),
		pending:  make(map[string]bool),
	}

	auth, err := kalshi.NewAuthFromFile(cfg.Secrets.KalshiAPIKeyID, cfg.Secrets.KalshiPrivateKeyPath)
	if err != nil {
		cancel()
		return nil, err
	}

	b.api, err = kalshi.NewClient(kalshi.ClientConfig{
		BaseURL:          cfg.API.ActiveBaseURL(),
		ReadRateLimit:    cfg.API.ReadRateLimitPerSecond,
		WriteRateLimit:   cfg.API.WriteRateLimitPerSecond,
		RequestTimeout:   time.Duration(cfg.API.RequestTimeoutSeconds) * time.Second,
		MaxRetries:       cfg.API.MaxRetries,
		RetryBackoffBase: cfg.API.RetryBackoffBase,
	}, auth)
	if err != nil {
		cancel()
		return nil, err
	}

	b.store = persistence.Open(cfg.Storage.Dir)
	if n := b.store.LoadTrades(); n > 0 {
		logger.Infof("[bot] 已恢复历史交易记录: %d 条", n)
	}
	b.alerter = alerts.NewAlerter(cfg.Email, cfg.Secrets)

	filter := market.NewFilter(
		cfg.Strategy.EntryThreshold,
		cfg.Strategy.MinLiquidity,
		cfg.Strategy.MinVolume,
		cfg.Strategy.MaxSpreadPct,
		cfg.Strategy.TakeProfitPct,
	)
	b.monitor = market.NewMonitor(b.api, filter)

	b.strategy = strategy.NewEngine(strategy.Config{
		EntryThreshold:     cfg.Strategy.EntryThreshold,
		TakeProfitPct:      cfg.Strategy.TakeProfitPct,
		StopLossPct:        cfg.Strategy.StopLossPct,
		MaxHoldTime:        time.Duration(cfg.Strategy.MaxHoldTimeHours) * time.Hour,
		MaxPositionSizePct: cfg.Risk.MaxPositionSizePct,
		MinPositionSize:    cfg.Positions.MinPositionSize,
		MaxPositionSize:    cfg.Positions.MaxPositionSize,
	})

	b.riskMgr = risk.NewManager(risk.ManagerConfig{
		MaxPositionSizePct:  cfg.Risk.MaxPositionSizePct,
		MaxTotalExposurePct: cfg.Risk.MaxTotalExposurePct,
		MaxConcurrent:       cfg.Positions.MaxConcurrent,
		Breaker: risk.BreakerConfig{
			MaxDailyLossPct:      cfg.Risk.MaxDailyLossPct,
			MaxConsecutiveLosses: cfg.Risk.MaxConsecutiveLosses,
			APIErrorThreshold:    cfg.Risk.APIErrorThreshold,
			MaxDisconnect:        time.Duration(cfg.Risk.MaxDisconnectSeconds) * time.Second,
		},
	}, b.onCircuitBreaker)

	b.orders = execution.NewOrderManager()
	b.positions = execution.NewPositionTracker()

	b.streamCli = stream.NewClient(
		cfg.API.ActiveWebsocketURL(),
		auth.WSHeaders,
		b.monitor.HandleMessage,
		&stream.Config{
			ReconnectDelayBase: time.Duration(cfg.WebSocket.ReconnectDelayBase) * time.Second,
			MaxReconnectDelay:  time.Duration(cfg.WebSocket.MaxReconnectDelay) * time.Second,
			PingInterval:       time.Duration(cfg.WebSocket.PingInterval) * time.Second,
			PongTimeout:        time.Duration(cfg.WebSocket.PingTimeout) * time.Second,
			HandshakeTimeout:   10 * time.Second,
			ReadBufferSize:     4096,
			WriteBufferSize:    4096,
		},
	)

	b.healthSrv = health.NewServer(cfg.Monitoring.HealthCheckPort, b.systemStatus)
	return b, nil
}

// Run 启动机器人并阻塞直到收到停机信号
func (b *Bot) Run() error {
	// 交易所状态检查
	statusCtx, cancel := context.WithTimeout(b.ctx, 30*time.Second)
	status, err := b.api.GetExchangeStatus(statusCtx)
	cancel()
	if err != nil {
		return err
	}
	if !status.TradingActive {
		logger.Warnf("[bot] 交易所当前不可交易, 等待行情恢复")
	}

	// 初始余额
	balCtx, cancel := context.WithTimeout(b.ctx, 30*time.Second)
	bal, err := b.api.GetBalance(balCtx)
	cancel()
	if err != nil {
		logger.Warnf("[bot] 获取余额失败, 使用默认余额: %v", err)
		bal = &kalshi.Balance{Total: decimal.NewFromInt(1000)}
	}
	b.account = domain.NewAccount(bal.Total)
	logger.Infof("[bot] 账户余额: $%s", bal.Total)

	// 执行引擎依赖账户，放在余额拉取之后
	b.executor = execution.NewEngine(b.api, b.orders, b.positions, b.account)
	b.executor.OnPositionOpened(b.onPositionOpened)
	b.executor.OnPositionClosed(b.onPositionClosed)

	b.monitor.OnOpportunity(b.onOpportunity)
	b.monitor.OnFill(b.onFill)
	b.monitor.OnOrderUpdate(b.onOrderUpdate)

	// REST 先发现市场，再起 WebSocket 订阅
	discCtx, cancel := context.WithTimeout(b.ctx, 60*time.Second)
	tickers, err := b.monitor.Discover(discCtx)
	cancel()
	if err != nil {
		return err
	}
	logger.Infof("[bot] 已发现 %d 个活跃市场", len(tickers))

	if err := b.streamCli.Start(); err != nil {
		return err
	}
	if err := b.streamCli.Subscribe([]string{
		stream.ChannelOrderbookDelta,
		stream.ChannelTicker,
		stream.ChannelTrade,
	}, tickers); err != nil {
		logger.Warnf("[bot] 行情订阅失败, 等待重连后重放: %v", err)
	}
	if err := b.streamCli.Subscribe([]string{
		stream.ChannelFill,
		stream.ChannelOrderUpdate,
	}, nil); err != nil {
		logger.Warnf("[bot] 账户流订阅失败, 等待重连后重放: %v", err)
	}

	go func() {
		if err := b.healthSrv.Start(); err != nil {
			logger.Errorf("[bot] 健康检查服务异常退出: %v", err)
		}
	}()

	if b.cfg.Monitoring.MetricsEnabled {
		addr := fmt.Sprintf(":%d", b.cfg.Monitoring.MetricsPort)
		if _, err := metrics.StartAsync(b.ctx, addr); err != nil {
			logger.Warnf("[bot] metrics 服务启动失败: %v", err)
		} else {
			logger.Infof("[bot] metrics/debug 服务启动: %s", addr)
		}
	}

	b.registerShutdownHandlers()
	b.running.Store(true)

	b.sg.Add(b.exitLoop)
	b.sg.Add(b.riskLoop)
	b.sg.Add(b.snapshotLoop)
	if b.cfg.Email.SendDailySummary {
		b.sg.Add(b.dailySummaryLoop)
	}
	b.sg.Run()

	logger.Infof("[bot] 启动完成")

	// 等待 SIGINT/SIGTERM 或内部停机请求（熔断）
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		logger.Infof("[bot] 收到信号 %s, 开始停机", sig)
	case <-b.stopCh.C():
		logger.Infof("[bot] 收到内部停机请求")
	}

	b.Shutdown()
	return nil
}

// registerShutdownHandlers 注册循环退出后执行的清理回调
// 撤销交易所挂单必须抢在流、存储、健康检查拆除之前完成
func (b *Bot) registerShutdownHandlers() {
	b.shutdown.OnShutdownFirst(func(ctx context.Context) {
		b.executor.CancelAllActive(ctx)
	})
	b.shutdown.OnShutdown(func(_ context.Context) {
		b.streamCli.Stop()
	})
	b.shutdown.OnShutdown(func(_ context.Context) {
		// 最终快照
		b.store.SaveSnapshot(b.account.Snapshot(b.positions.OpenCount()))
		if err := b.store.Close(); err != nil {
			logger.Errorf("[bot] 关闭存储失败: %v", err)
		}
	})
	b.shutdown.OnShutdown(func(ctx context.Context) {
		if err := b.healthSrv.Stop(ctx); err != nil {
			logger.Errorf("[bot] 停止健康检查服务失败: %v", err)
		}
	})
}

// Shutdown 优雅停机: 停止接单 -> 等待循环退出 -> 撤销挂单 -> 拆除资源
func (b *Bot) Shutdown() {
	b.stopOnce.Do(func() {
		b.running.Store(false)
		b.cancel()
		b.sg.Wait()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		b.shutdown.Shutdown(ctx)

		logger.Infof("[bot] 停机完成")
	})
}

// onOpportunity 机会回调: 生成信号 -> 风控校验 -> 异步执行
func (b *Bot) onOpportunity(m *domain.Market, score float64) {
	if !b.running.Load() || b.riskMgr.IsBreakerActive() {
		return
	}
	if b.positions.HasMarket(m.Ticker) {
		return
	}

	sig := b.strategy.EvaluateMarket(m, b.account.Available())
	if sig == nil {
		return
	}

	ok, reason := b.riskMgr.ValidateSignal(sig, b.account, b.positions.OpenCount())
	if !ok {
		metrics.SignalsRejected.Add(1)
		logger.Infof("[bot] 信号被风控拒绝: %s %s", m.Ticker, reason)
		return
	}

	// 同一市场的在途执行去重
	b.pendingMu.Lock()
	if b.pending[m.Ticker] {
		b.pendingMu.Unlock()
		return
	}
	b.pending[m.Ticker] = true
	b.pendingMu.Unlock()

	logger.Infof("[bot] 执行机会: %s score=%.1f", m.Ticker, score)

	go func() {
		defer func() {
			b.pendingMu.Lock()
			delete(b.pending, m.Ticker)
			b.pendingMu.Unlock()
		}()

		p, err := b.executor.ExecuteSignal(b.ctx, sig)
		if err != nil {
			logger.Warnf("[bot] 信号执行失败: %s %v", sig.Ticker, err)
			b.store.LogEvent("WARN", "execution", fmt.Sprintf("execute %s: %v", sig.Ticker, err))
			return
		}
		b.store.SaveTrade(domain.TradeFromPosition(p, sig))
	}()
}

// onFill 自己订单的成交通知，加速本地订单状态收敛
// 成交累加由订单跟踪器在锁内完成，推送与 REST 轮询可以交错到达
func (b *Bot) onFill(f *stream.FillMsg) {
	b.orders.ApplyFill(f.OrderID, f.Count, kalshi.CentsToDollars(f.YesPrice))
}

// onOrderUpdate 订单状态推送
func (b *Bot) onOrderUpdate(u *stream.OrderUpdateMsg) {
	o, ok := b.orders.GetByExchangeID(u.OrderID)
	if !ok {
		return
	}
	b.orders.Update(o.ID, domain.StatusFromKalshi(u.Status, u.RemainingCount), 0, decimal.Zero)
}

// onPositionOpened 开仓回调: 告警
func (b *Bot) onPositionOpened(p *domain.Position) {
	b.dailyOpened.Add(1)
	go b.alerter.PositionOpened(p)
}

// onPositionClosed 平仓回调: 更新交易记录 + 告警
func (b *Bot) onPositionClosed(p *domain.Position) {
	b.dailyClosed.Add(1)
	if t, ok := b.store.Trade(p.ID); ok {
		t.ApplyClose(p)
		b.store.UpdateTrade(t)
	}
	go b.alerter.PositionClosed(p)
}

// onCircuitBreaker 熔断回调: 告警 + 记录事件
func (b *Bot) onCircuitBreaker(reason risk.BreakerReason) {
	snap := b.account.Snapshot(b.positions.OpenCount())
	b.store.LogEvent("CRITICAL", "risk", fmt.Sprintf("circuit breaker triggered: %s", reason))
	go b.alerter.CircuitBreaker(string(reason), snap)
}

// exitLoop 每 5 秒检查未平仓持仓的离场条件
func (b *Bot) exitLoop() {
	ticker := time.NewTicker(exitCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.ctx.Done():
			return
		case <-ticker.C:
			b.checkExits()
		}
	}
}

func (b *Bot) checkExits() {
	now := time.Now()
	for _, p := range b.positions.OpenPositions() {
		m, ok := b.monitor.Market(p.Ticker)
		if !ok || m.LastPrice == nil {
			continue
		}
		current := *m.LastPrice

		shouldExit, reason := b.strategy.CheckExit(p, current, !m.IsActive(), now)
		if !shouldExit {
			continue
		}

		exitPrice := b.strategy.ExitPrice(p, current, reason)
		if err := b.executor.ClosePosition(b.ctx, p, exitPrice, reason); err != nil {
			logger.Errorf("[bot] 平仓失败: %s %v", p.ID, err)
		}
	}
}

// riskLoop 每 10 秒检查熔断条件
func (b *Bot) riskLoop() {
	ticker := time.NewTicker(riskCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.ctx.Done():
			return
		case <-ticker.C:
			b.riskMgr.CheckCircuitBreakers(b.account, b.api.ErrorRate(), b.streamCli.DisconnectedFor())
			if b.riskMgr.ShouldShutdown() {
				logger.Errorf("[bot] 熔断要求停机: %s", b.riskMgr.BreakerReason())
				b.stopCh.Emit()
				return
			}
		}
	}
}

// snapshotLoop 定期保存账户快照
func (b *Bot) snapshotLoop() {
	interval := time.Duration(b.cfg.Storage.SnapshotInterval) * time.Second
	if interval <= 0 {
		interval = 300 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-b.ctx.Done():
			return
		case <-ticker.C:
			b.store.SaveSnapshot(b.account.Snapshot(b.positions.OpenCount()))
		}
	}
}

// dailySummaryLoop 每天在配置的整点发送一次交易总结
func (b *Bot) dailySummaryLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	var lastSent string
	for {
		select {
		case <-b.ctx.Done():
			return
		case <-ticker.C:
			now := time.Now().UTC()
			day := now.Format("2006-01-02")
			if now.Hour() != b.cfg.Email.DailySummaryHour || lastSent == day {
				continue
			}
			lastSent = day
			snap := b.account.Snapshot(b.positions.OpenCount())
			b.alerter.DailySummary(snap, int(b.dailyOpened.Swap(0)), int(b.dailyClosed.Swap(0)))
			b.account.ResetDaily()
		}
	}
}

// systemStatus 健康检查回调
func (b *Bot) systemStatus() health.Status {
	st := health.Status{
		Running:              b.running.Load(),
		StreamConnected:      b.streamCli.IsConnected(),
		StreamOutageSeconds:  b.streamCli.DisconnectedFor().Seconds(),
		CircuitBreakerActive: b.riskMgr.IsBreakerActive(),
		CircuitBreakerReason: string(b.riskMgr.BreakerReason()),
		OpenPositions:        b.positions.OpenCount(),
	}
	if b.account != nil {
		st.Balance = b.account.Balance()
		st.DailyPnL = b.account.DailyPnL()
	}
	return st
}
