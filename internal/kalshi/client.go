package kalshi

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"

	"github.com/betbot/kalshibot/internal/domain"
	"github.com/betbot/kalshibot/pkg/logger"
	"github.com/betbot/kalshibot/pkg/ratelimit"
)

// APIError 交易所返回的非 2xx 响应
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("kalshi api error %d: %s", e.StatusCode, e.Body)
}

// Retryable 429 和 5xx 可重试，其余 4xx 为终态错误
func (e *APIError) Retryable() bool {
	switch e.StatusCode {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

// ClientConfig REST 客户端配置
type ClientConfig struct {
	BaseURL          string
	ReadRateLimit    float64 // GET 每秒限额
	WriteRateLimit   float64 // POST/DELETE 每秒限额
	RequestTimeout   time.Duration
	MaxRetries       int
	RetryBackoffBase float64 // 重试延迟 = base^attempt 秒
}

// DefaultClientConfig 返回默认客户端配置
func DefaultClientConfig(baseURL string) ClientConfig {
	return ClientConfig{
		BaseURL:          baseURL,
		ReadRateLimit:    20,
		WriteRateLimit:   10,
		RequestTimeout:   10 * time.Second,
		MaxRetries:       3,
		RetryBackoffBase: 2.0,
	}
}

// Client Kalshi REST 客户端
// 分/美元转换只发生在这一层，上层一律使用美元
type Client struct {
	http     *resty.Client
	auth     *Auth
	basePath string // 签名用的路径前缀，例如 /trade-api/v2

	readLimiter  *ratelimit.TokenBucket
	writeLimiter *ratelimit.TokenBucket

	maxRetries  int
	backoffBase float64

	totalRequests  atomic.Int64
	failedRequests atomic.Int64
}

// NewClient 创建 REST 客户端
func NewClient(cfg ClientConfig, auth *Auth) (*Client, error) {
	base := strings.TrimSuffix(cfg.BaseURL, "/")
	parsed, err := url.Parse(base)
	if err != nil {
		return nil, errors.Wrapf(err, "无效的 base url: %s", cfg.BaseURL)
	}

	// 重试由本层控制，每次尝试都要重新签名，不能用 resty 自带的重试
	httpClient := resty.New().
		SetBaseURL(base).
		SetTimeout(cfg.RequestTimeout).
		SetRetryCount(0)

	return &Client{
		http:         httpClient,
		auth:         auth,
		basePath:     parsed.Path,
		readLimiter:  ratelimit.NewTokenBucket(cfg.ReadRateLimit),
		writeLimiter: ratelimit.NewTokenBucket(cfg.WriteRateLimit),
		maxRetries:   cfg.MaxRetries,
		backoffBase:  cfg.RetryBackoffBase,
	}, nil
}

// doRequest 执行一次带签名、限流和重试的请求
// endpoint 形如 "/markets"，params 为 query 参数，body 为 JSON 请求体
func (c *Client) doRequest(ctx context.Context, method, endpoint string, params map[string]string, body, out any) error {
	limiter := c.writeLimiter
	if method == http.MethodGet {
		limiter = c.readLimiter
	}
	signPath := c.basePath + endpoint

	for attempt := 0; ; attempt++ {
		if err := limiter.Wait(ctx); err != nil {
			return err
		}

		// 每次尝试重新签名，时间戳必须是新的
		headers, err := c.auth.Headers(method, signPath)
		if err != nil {
			return err
		}

		c.totalRequests.Add(1)

		req := c.http.R().SetContext(ctx).SetHeaders(headers)
		if len(params) > 0 {
			req.SetQueryParams(params)
		}
		if body != nil {
			req.SetHeader("Content-Type", "application/json")
			req.SetBody(body)
		}
		if out != nil {
			req.SetResult(out)
		}

		resp, err := req.Execute(method, endpoint)
		if err != nil {
			// 传输层错误（含超时）可重试
			c.failedRequests.Add(1)
			if attempt < c.maxRetries {
				if werr := c.backoff(ctx, attempt, method, endpoint); werr != nil {
					return werr
				}
				continue
			}
			return errors.Wrapf(err, "请求失败: %s %s", method, endpoint)
		}

		if resp.IsSuccess() {
			return nil
		}

		// 与传输层错误一致: 每次失败的尝试都计入错误计数
		c.failedRequests.Add(1)

		apiErr := &APIError{StatusCode: resp.StatusCode(), Body: string(resp.Body())}
		if apiErr.Retryable() && attempt < c.maxRetries {
			logger.Warnf("[kalshi] 请求被拒绝, 准备重试: %s %s status=%d attempt=%d",
				method, endpoint, apiErr.StatusCode, attempt+1)
			if werr := c.backoff(ctx, attempt, method, endpoint); werr != nil {
				return werr
			}
			continue
		}

		return apiErr
	}
}

// backoff 指数退避: base^attempt 秒
func (c *Client) backoff(ctx context.Context, attempt int, method, endpoint string) error {
	delay := time.Duration(math.Pow(c.backoffBase, float64(attempt)) * float64(time.Second))
	logger.Debugf("[kalshi] 退避 %v 后重试 %s %s", delay, method, endpoint)
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(delay):
		return nil
	}
}

// ErrorRate 自启动以来的请求错误率，按单次尝试计数（重试的每一跳都算一次）
func (c *Client) ErrorRate() float64 {
	total := c.totalRequests.Load()
	if total == 0 {
		return 0
	}
	return float64(c.failedRequests.Load()) / float64(total)
}

// TotalRequests 自启动以来的请求总数
func (c *Client) TotalRequests() int64 {
	return c.totalRequests.Load()
}

// GetExchangeStatus 查询交易所运行状态
func (c *Client) GetExchangeStatus(ctx context.Context) (*ExchangeStatus, error) {
	var out ExchangeStatus
	if err := c.doRequest(ctx, http.MethodGet, "/exchange/status", nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetBalance 查询账户余额，分转美元
func (c *Client) GetBalance(ctx context.Context) (*Balance, error) {
	var out balanceResponse
	if err := c.doRequest(ctx, http.MethodGet, "/portfolio/balance", nil, nil, &out); err != nil {
		return nil, err
	}

	total := CentsToDollars(out.Balance)
	available := total
	if out.AvailableBalance != nil {
		available = CentsToDollars(*out.AvailableBalance)
	}
	return &Balance{
		Total:     total,
		Available: available,
		Locked:    total.Sub(available),
	}, nil
}

// GetMarkets 按状态分页拉取市场列表，跟随 cursor 直到取完
func (c *Client) GetMarkets(ctx context.Context, status string) ([]*domain.Market, error) {
	var markets []*domain.Market
	cursor := ""

	for {
		params := map[string]string{"limit": "200"}
		if status != "" {
			params["status"] = status
		}
		if cursor != "" {
			params["cursor"] = cursor
		}

		var out marketsResponse
		if err := c.doRequest(ctx, http.MethodGet, "/markets", params, nil, &out); err != nil {
			return nil, err
		}
		for _, w := range out.Markets {
			markets = append(markets, w.toDomain())
		}

		cursor = out.Cursor
		if cursor == "" {
			break
		}
	}
	return markets, nil
}

// GetMarket 查询单个市场
func (c *Client) GetMarket(ctx context.Context, ticker string) (*domain.Market, error) {
	var out marketResponse
	if err := c.doRequest(ctx, http.MethodGet, "/markets/"+ticker, nil, nil, &out); err != nil {
		return nil, err
	}
	return out.Market.toDomain(), nil
}

// GetOrderbook 查询订单簿快照，保留原始分价位供本地订单簿使用
func (c *Client) GetOrderbook(ctx context.Context, ticker string) (*BookSnapshot, error) {
	var out orderbookResponse
	if err := c.doRequest(ctx, http.MethodGet, "/markets/"+ticker+"/orderbook", nil, nil, &out); err != nil {
		return nil, err
	}
	return out.toSnapshot(ticker), nil
}

// CreateOrder 提交限价单，成功后把交易所订单 id 和状态回填到本地订单
func (c *Client) CreateOrder(ctx context.Context, order *domain.Order) error {
	req := createOrderRequest{
		Ticker:        order.Ticker,
		ClientOrderID: order.ClientOrderID,
		Side:          string(order.Side),
		Action:        string(order.Action),
		Type:          string(order.Type),
		Count:         order.Count,
	}
	priceCents := DollarsToCents(order.Price)
	if order.Side == domain.SideNo {
		req.NoPrice = priceCents
	} else {
		req.YesPrice = priceCents
	}

	var out orderResponse
	if err := c.doRequest(ctx, http.MethodPost, "/portfolio/orders", nil, req, &out); err != nil {
		return err
	}

	order.ExchangeOrderID = out.Order.OrderID
	order.Status = domain.StatusFromKalshi(out.Order.Status, out.Order.RemainingCount)
	order.UpdatedAt = time.Now()
	logger.Infof("[kalshi] 订单已提交: ticker=%s action=%s side=%s price=%s count=%d exchange_id=%s",
		order.Ticker, order.Action, order.Side, order.Price, order.Count, order.ExchangeOrderID)
	return nil
}

// CancelOrder 撤销订单
func (c *Client) CancelOrder(ctx context.Context, exchangeOrderID string) error {
	if exchangeOrderID == "" {
		return errors.New("撤单缺少交易所订单 id")
	}
	return c.doRequest(ctx, http.MethodDelete, "/portfolio/orders/"+exchangeOrderID, nil, nil, nil)
}

// GetOrder 查询订单当前状态
func (c *Client) GetOrder(ctx context.Context, exchangeOrderID string) (*OrderState, error) {
	var out orderResponse
	if err := c.doRequest(ctx, http.MethodGet, "/portfolio/orders/"+exchangeOrderID, nil, nil, &out); err != nil {
		return nil, err
	}
	return out.Order.toState(), nil
}

// GetActiveOrders 查询场内挂单，可按市场过滤
func (c *Client) GetActiveOrders(ctx context.Context, ticker string) ([]*OrderState, error) {
	params := map[string]string{"status": "resting"}
	if ticker != "" {
		params["ticker"] = ticker
	}

	var out ordersResponse
	if err := c.doRequest(ctx, http.MethodGet, "/portfolio/orders", params, nil, &out); err != nil {
		return nil, err
	}
	states := make([]*OrderState, 0, len(out.Orders))
	for _, w := range out.Orders {
		states = append(states, w.toState())
	}
	return states, nil
}

// GetFills 查询成交记录，可按市场或订单过滤
func (c *Client) GetFills(ctx context.Context, ticker, orderID string) ([]Fill, error) {
	params := map[string]string{}
	if ticker != "" {
		params["ticker"] = ticker
	}
	if orderID != "" {
		params["order_id"] = orderID
	}

	var out fillsResponse
	if err := c.doRequest(ctx, http.MethodGet, "/portfolio/fills", params, nil, &out); err != nil {
		return nil, err
	}
	fills := make([]Fill, 0, len(out.Fills))
	for _, w := range out.Fills {
		fills = append(fills, w.toFill())
	}
	return fills, nil
}

// GetPositions 查询交易所侧持仓
func (c *Client) GetPositions(ctx context.Context) ([]ExchangePosition, error) {
	var out positionsResponse
	if err := c.doRequest(ctx, http.MethodGet, "/portfolio/positions", nil, nil, &out); err != nil {
		return nil, err
	}
	positions := make([]ExchangePosition, 0, len(out.MarketPositions))
	for _, w := range out.MarketPositions {
		positions = append(positions, ExchangePosition{
			Ticker:         w.Ticker,
			Position:       w.Position,
			MarketExposure: CentsToDollars(w.MarketExposure),
		})
	}
	return positions, nil
}
