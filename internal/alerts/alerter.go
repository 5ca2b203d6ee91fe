// Package alerts 关键事件的邮件告警
package alerts

import (
	"fmt"
	"net/smtp"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/betbot/kalshibot/internal/domain"
	"github.com/betbot/kalshibot/pkg/config"
	"github.com/betbot/kalshibot/pkg/logger"
	"github.com/betbot/kalshibot/pkg/ratelimit"
)

var hundred = decimal.NewFromInt(100)

// Type 告警类型，限流按类型隔离
type Type string

const (
	TypePositionOpened Type = "position_opened"
	TypePositionClosed Type = "position_closed"
	TypeCircuitBreaker Type = "circuit_breaker"
	TypeDailySummary   Type = "daily_summary"
	TypeError          Type = "error"
)

// sendFunc 底层发信函数，测试时替换
type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// Alerter SMTP 邮件告警器
// 同类告警在限流窗口内只发一封; 熔断告警永不限流
type Alerter struct {
	enabled  bool
	host     string
	port     int
	user     string
	password string
	to       string
	window   time.Duration

	mu       sync.Mutex
	limiters map[Type]*ratelimit.SlidingWindow

	send sendFunc
}

// NewAlerter 按配置创建告警器
// 未启用或 SMTP 配置不完整时返回 no-op 告警器
func NewAlerter(cfg config.EmailConfig, secrets config.Secrets) *Alerter {
	a := &Alerter{
		enabled:  cfg.Enabled,
		host:     secrets.SMTPHost,
		port:     secrets.SMTPPort,
		user:     secrets.SMTPUser,
		password: secrets.SMTPPassword,
		to:       secrets.AlertEmail,
		window:   time.Duration(cfg.RateLimitMinutes) * time.Minute,
		limiters: make(map[Type]*ratelimit.SlidingWindow),
		send:     smtp.SendMail,
	}
	if a.enabled && (a.host == "" || a.to == "") {
		logger.Warnf("[alerts] SMTP 配置不完整, 邮件告警已禁用")
		a.enabled = false
	}
	return a
}

// Enabled 告警是否启用
func (a *Alerter) Enabled() bool { return a.enabled }

// PositionOpened 开仓告警
func (a *Alerter) PositionOpened(p *domain.Position) bool {
	subject := fmt.Sprintf("📈 Position Opened: %s", p.Ticker)
	body := fmt.Sprintf(`New position opened:

Market: %s
Side: %s

Entry Details:
- Entry Price: $%s
- Count: %d
- Notional: $%s

Risk Management:
- Stop Loss: $%s
- Take Profit: $%s

Time: %s
`,
		p.Ticker, p.Side,
		p.EntryPrice, p.Count, p.Notional(),
		p.StopLossPrice, p.TakeProfitPrice,
		p.OpenedAt.UTC().Format("2006-01-02 15:04:05 UTC"))
	return a.deliver(TypePositionOpened, subject, body)
}

// PositionClosed 平仓告警
func (a *Alerter) PositionClosed(p *domain.Position) bool {
	emoji := "✅"
	if p.RealizedPnL.IsNegative() {
		emoji = "❌"
	}
	closedAt := "N/A"
	holdHours := 0.0
	if p.ClosedAt != nil {
		closedAt = p.ClosedAt.UTC().Format("2006-01-02 15:04:05 UTC")
		holdHours = p.ClosedAt.Sub(p.OpenedAt).Hours()
	}
	subject := fmt.Sprintf("%s Position Closed: %s", emoji, p.Ticker)
	body := fmt.Sprintf(`Position closed:

Market: %s
Side: %s

Entry: $%s at %s
Exit: $%s at %s
Exit Reason: %s
Hold Time: %.2f hours

Performance:
- Realized P&L: $%s
- Max Profit: %s%%
- Max Drawdown: %s%%
`,
		p.Ticker, p.Side,
		p.EntryPrice, p.OpenedAt.UTC().Format("2006-01-02 15:04:05 UTC"),
		p.ExitPrice, closedAt,
		p.ExitReason, holdHours,
		p.RealizedPnL,
		p.MaxProfitPct.Mul(hundred), p.MaxDrawdownPct.Mul(hundred))
	return a.deliver(TypePositionClosed, subject, body)
}

// CircuitBreaker 熔断告警，永不限流
func (a *Alerter) CircuitBreaker(reason string, snap domain.AccountSnapshot) bool {
	subject := fmt.Sprintf("🚨 CIRCUIT BREAKER TRIGGERED: %s", strings.ToUpper(reason))
	body := fmt.Sprintf(`CRITICAL ALERT: Circuit breaker has been activated

Reason: %s
Time: %s

Account Status:
- Balance: $%s
- Available: $%s
- Locked: $%s

Daily Performance:
- Daily P&L: $%s
- Daily Trades: %d
- Consecutive Losses: %d

All trading has been halted. Please review the system immediately.
`,
		reason, time.Now().UTC().Format("2006-01-02 15:04:05 UTC"),
		snap.Balance, snap.Available, snap.LockedFunds,
		snap.DailyPnL, snap.DailyTrades, snap.ConsecutiveLosses)
	return a.deliver(TypeCircuitBreaker, subject, body)
}

// DailySummary 每日交易总结
func (a *Alerter) DailySummary(snap domain.AccountSnapshot, opened, closed int) bool {
	subject := fmt.Sprintf("📊 Daily Summary - %s", time.Now().UTC().Format("2006-01-02"))
	body := fmt.Sprintf(`Daily Trading Summary

Date: %s

Performance:
- Daily P&L: $%s

Trading Activity:
- Positions Opened: %d
- Positions Closed: %d
- Completed Trades: %d

Account Status:
- Balance: $%s
- Available: $%s
- Locked: $%s
- Open Positions: %d
- Consecutive Losses: %d
`,
		time.Now().UTC().Format("2006-01-02"),
		snap.DailyPnL,
		opened, closed, snap.DailyTrades,
		snap.Balance, snap.Available, snap.LockedFunds,
		snap.OpenPositions, snap.ConsecutiveLosses)
	return a.deliver(TypeDailySummary, subject, body)
}

// Error 严重错误告警
func (a *Alerter) Error(errType, message string) bool {
	subject := fmt.Sprintf("⚠️ Critical Error: %s", errType)
	body := fmt.Sprintf(`A critical error has occurred:

Error Type: %s
Time: %s

Error Message:
%s

Please investigate immediately.
`,
		errType, time.Now().UTC().Format("2006-01-02 15:04:05 UTC"), message)
	return a.deliver(TypeError, subject, body)
}

// deliver 限流检查后发送，失败只记日志
func (a *Alerter) deliver(alertType Type, subject, body string) bool {
	if !a.enabled {
		logger.Debugf("[alerts] 告警未启用, 丢弃: %s", alertType)
		return false
	}
	if !a.allow(alertType) {
		logger.Warnf("[alerts] 告警被限流: %s", alertType)
		return false
	}

	msg := a.buildMessage(subject, body)
	addr := fmt.Sprintf("%s:%d", a.host, a.port)
	var auth smtp.Auth
	if a.user != "" {
		auth = smtp.PlainAuth("", a.user, a.password, a.host)
	}

	if err := a.send(addr, auth, a.user, []string{a.to}, msg); err != nil {
		logger.Errorf("[alerts] 发送邮件失败: type=%s %v", alertType, err)
		return false
	}
	logger.Infof("[alerts] 邮件已发送: type=%s subject=%q", alertType, subject)
	return true
}

// allow 熔断告警直接放行，其余按类型过滑动窗口
func (a *Alerter) allow(alertType Type) bool {
	if alertType == TypeCircuitBreaker {
		return true
	}
	a.mu.Lock()
	lim, ok := a.limiters[alertType]
	if !ok {
		lim = ratelimit.NewSlidingWindow(1, a.window)
		a.limiters[alertType] = lim
	}
	a.mu.Unlock()
	return lim.Allow()
}

func (a *Alerter) buildMessage(subject, body string) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", a.user)
	fmt.Fprintf(&b, "To: %s\r\n", a.to)
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(body)
	return []byte(b.String())
}
