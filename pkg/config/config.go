package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// StrategyConfig 策略配置
type StrategyConfig struct {
	EntryThreshold   float64 `yaml:"entry_threshold"`     // 入场概率阈值
	TakeProfitPct    float64 `yaml:"take_profit_pct"`     // 止盈百分比
	StopLossPct      float64 `yaml:"stop_loss_pct"`       // 止损百分比
	MaxHoldTimeHours int     `yaml:"max_hold_time_hours"` // 最大持仓时长（小时）
	MinLiquidity     float64 `yaml:"min_liquidity"`       // 最小流动性（美元）
	MinVolume        float64 `yaml:"min_volume"`          // 最小成交量
	MaxSpreadPct     float64 `yaml:"max_spread_pct"`      // 最大点差比例
}

// RiskConfig 风控配置
type RiskConfig struct {
	MaxPositionSizePct   float64 `yaml:"max_position_size_pct"`  // 单仓位最大占比
	MaxTotalExposurePct  float64 `yaml:"max_total_exposure_pct"` // 总敞口最大占比
	MaxDailyLossPct      float64 `yaml:"max_daily_loss_pct"`     // 单日最大亏损占比
	MaxConsecutiveLosses int     `yaml:"max_consecutive_losses"` // 最大连续亏损次数
	APIErrorThreshold    float64 `yaml:"api_error_threshold"`    // API 错误率阈值
	MaxDisconnectSeconds int     `yaml:"max_disconnect_seconds"` // WebSocket 最大断连秒数
}

// PositionsConfig 仓位配置
type PositionsConfig struct {
	MaxConcurrent   int     `yaml:"max_concurrent"`    // 最大并发仓位数
	MinPositionSize float64 `yaml:"min_position_size"` // 最小仓位金额（美元）
	MaxPositionSize float64 `yaml:"max_position_size"` // 最大仓位金额（美元）
}

// APIConfig API 配置
type APIConfig struct {
	BaseURL                 string  `yaml:"base_url"`
	WebsocketURL            string  `yaml:"websocket_url"`
	DemoBaseURL             string  `yaml:"demo_base_url"`
	DemoWebsocketURL        string  `yaml:"demo_websocket_url"`
	UseDemo                 bool    `yaml:"use_demo"`
	ReadRateLimitPerSecond  float64 `yaml:"read_rate_limit_per_second"`
	WriteRateLimitPerSecond float64 `yaml:"write_rate_limit_per_second"`
	RequestTimeoutSeconds   int     `yaml:"request_timeout"`
	MaxRetries              int     `yaml:"max_retries"`
	RetryBackoffBase        float64 `yaml:"retry_backoff_base"`
}

// ActiveBaseURL 根据 demo 模式返回实际的 REST 地址
func (c APIConfig) ActiveBaseURL() string {
	if c.UseDemo {
		return c.DemoBaseURL
	}
	return c.BaseURL
}

// ActiveWebsocketURL 根据 demo 模式返回实际的 WebSocket 地址
func (c APIConfig) ActiveWebsocketURL() string {
	if c.UseDemo {
		return c.DemoWebsocketURL
	}
	return c.WebsocketURL
}

// WebSocketConfig WebSocket 配置
type WebSocketConfig struct {
	ReconnectDelayBase int `yaml:"reconnect_delay_base"` // 重连初始延迟（秒）
	MaxReconnectDelay  int `yaml:"max_reconnect_delay"`  // 重连最大延迟（秒）
	PingInterval       int `yaml:"ping_interval"`        // 心跳间隔（秒）
	PingTimeout        int `yaml:"ping_timeout"`         // 心跳超时（秒）
}

// EmailConfig 邮件告警配置
type EmailConfig struct {
	Enabled          bool `yaml:"enabled"`
	RateLimitMinutes int  `yaml:"rate_limit_minutes"` // 同类告警的限流窗口（分钟）
	SendDailySummary bool `yaml:"send_daily_summary"`
	DailySummaryHour int  `yaml:"daily_summary_hour"`
}

// MonitoringConfig 监控配置
type MonitoringConfig struct {
	HealthCheckPort int  `yaml:"health_check_port"`
	MetricsEnabled  bool `yaml:"metrics_enabled"`
	MetricsPort     int  `yaml:"metrics_port"` // expvar/pprof debug 端口
}

// LoggingConfig 日志配置
type LoggingConfig struct {
	Level      string `yaml:"level"`
	OutputFile string `yaml:"output_file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// StorageConfig 本地存储配置
type StorageConfig struct {
	Dir              string `yaml:"dir"`               // Badger 数据目录
	SnapshotInterval int    `yaml:"snapshot_interval"` // 账户快照间隔（秒）
}

// Secrets 从环境变量加载的密钥
type Secrets struct {
	KalshiAPIKeyID       string // KALSHI_API_KEY_ID
	KalshiPrivateKeyPath string // KALSHI_PRIVATE_KEY（PEM 文件路径）
	SMTPHost             string // SMTP_HOST
	SMTPPort             int    // SMTP_PORT
	SMTPUser             string // SMTP_USER
	SMTPPassword         string // SMTP_PASSWORD
	AlertEmail           string // ALERT_EMAIL
	Environment          string // ENVIRONMENT: development / production
}

// Config 应用配置，加载后不可变，通过构造函数注入各组件
type Config struct {
	Strategy   StrategyConfig   `yaml:"strategy"`
	Risk       RiskConfig       `yaml:"risk"`
	Positions  PositionsConfig  `yaml:"positions"`
	API        APIConfig        `yaml:"api"`
	WebSocket  WebSocketConfig  `yaml:"websocket"`
	Email      EmailConfig      `yaml:"email"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
	Logging    LoggingConfig    `yaml:"logging"`
	Storage    StorageConfig    `yaml:"storage"`

	Secrets Secrets `yaml:"-"`
}

// Default 返回带默认值的配置
func Default() Config {
	return Config{
		Strategy: StrategyConfig{
			EntryThreshold:   0.85,
			TakeProfitPct:    0.02,
			StopLossPct:      0.01,
			MaxHoldTimeHours: 2,
			MinLiquidity:     500.0,
			MinVolume:        10000.0,
			MaxSpreadPct:     0.02,
		},
		Risk: RiskConfig{
			MaxPositionSizePct:   0.10,
			MaxTotalExposurePct:  0.30,
			MaxDailyLossPct:      0.05,
			MaxConsecutiveLosses: 5,
			APIErrorThreshold:    0.10,
			MaxDisconnectSeconds: 15,
		},
		Positions: PositionsConfig{
			MaxConcurrent:   10,
			MinPositionSize: 50.0,
			MaxPositionSize: 1000.0,
		},
		API: APIConfig{
			BaseURL:                 "https://api.elections.kalshi.com/trade-api/v2",
			WebsocketURL:            "wss://api.elections.kalshi.com/trade-api/ws/v2",
			DemoBaseURL:             "https://demo-api.kalshi.co/trade-api/v2",
			DemoWebsocketURL:        "wss://demo-api.kalshi.co/trade-api/ws/v2",
			UseDemo:                 true,
			ReadRateLimitPerSecond:  20,
			WriteRateLimitPerSecond: 10,
			RequestTimeoutSeconds:   10,
			MaxRetries:              3,
			RetryBackoffBase:        2.0,
		},
		WebSocket: WebSocketConfig{
			ReconnectDelayBase: 1,
			MaxReconnectDelay:  30,
			PingInterval:       30,
			PingTimeout:        10,
		},
		Email: EmailConfig{
			Enabled:          true,
			RateLimitMinutes: 5,
			SendDailySummary: true,
			DailySummaryHour: 20,
		},
		Monitoring: MonitoringConfig{
			HealthCheckPort: 8080,
			MetricsEnabled:  true,
			MetricsPort:     6060,
		},
		Logging: LoggingConfig{
			Level:      "info",
			OutputFile: "logs/bot.log",
			MaxSizeMB:  100,
			MaxBackups: 3,
			MaxAgeDays: 7,
			Compress:   true,
		},
		Storage: StorageConfig{
			Dir:              "data/badger",
			SnapshotInterval: 300,
		},
	}
}

// Load 加载 YAML 配置文件和 .env 密钥
// envPath 为空时只读取进程环境变量
func Load(configPath, envPath string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(configPath)
	if err != nil {
		return cfg, errors.Wrapf(err, "读取配置文件失败: %s", configPath)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, errors.Wrapf(err, "解析配置文件失败: %s", configPath)
	}

	if envPath != "" {
		if err := godotenv.Overload(envPath); err != nil {
			return cfg, errors.Wrapf(err, "加载 .env 文件失败: %s", envPath)
		}
	} else {
		// .env 不存在时静默跳过，直接使用进程环境变量
		_ = godotenv.Load()
	}

	secrets, err := loadSecrets()
	if err != nil {
		return cfg, err
	}
	cfg.Secrets = secrets

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// loadSecrets 从环境变量读取密钥
func loadSecrets() (Secrets, error) {
	s := Secrets{
		KalshiAPIKeyID:       os.Getenv("KALSHI_API_KEY_ID"),
		KalshiPrivateKeyPath: os.Getenv("KALSHI_PRIVATE_KEY"),
		SMTPHost:             os.Getenv("SMTP_HOST"),
		SMTPUser:             os.Getenv("SMTP_USER"),
		SMTPPassword:         os.Getenv("SMTP_PASSWORD"),
		AlertEmail:           os.Getenv("ALERT_EMAIL"),
		Environment:          os.Getenv("ENVIRONMENT"),
	}
	if s.Environment == "" {
		s.Environment = "development"
	}
	if port := os.Getenv("SMTP_PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return s, errors.Wrapf(err, "SMTP_PORT 无效: %s", port)
		}
		s.SMTPPort = p
	}
	if s.KalshiAPIKeyID == "" {
		return s, errors.New("环境变量 KALSHI_API_KEY_ID 未设置")
	}
	if s.KalshiPrivateKeyPath == "" {
		return s, errors.New("环境变量 KALSHI_PRIVATE_KEY 未设置")
	}
	return s, nil
}

// Validate 校验配置项取值范围
func (c Config) Validate() error {
	if c.Strategy.EntryThreshold <= 0 || c.Strategy.EntryThreshold >= 1 {
		return errors.Errorf("entry_threshold 必须在 (0, 1) 之间: %v", c.Strategy.EntryThreshold)
	}
	if c.Strategy.TakeProfitPct < 0 || c.Strategy.TakeProfitPct > 0.1 {
		return errors.Errorf("take_profit_pct 必须在 [0, 0.1] 之间: %v", c.Strategy.TakeProfitPct)
	}
	if c.Strategy.StopLossPct < 0 || c.Strategy.StopLossPct > 0.1 {
		return errors.Errorf("stop_loss_pct 必须在 [0, 0.1] 之间: %v", c.Strategy.StopLossPct)
	}
	if c.Strategy.MaxHoldTimeHours < 1 {
		return errors.Errorf("max_hold_time_hours 必须 >= 1: %d", c.Strategy.MaxHoldTimeHours)
	}
	if c.Positions.MaxPositionSize < c.Positions.MinPositionSize {
		return errors.Errorf("max_position_size (%v) 必须 >= min_position_size (%v)",
			c.Positions.MaxPositionSize, c.Positions.MinPositionSize)
	}
	if c.Risk.MaxConsecutiveLosses < 1 {
		return errors.Errorf("max_consecutive_losses 必须 >= 1: %d", c.Risk.MaxConsecutiveLosses)
	}
	if c.API.ReadRateLimitPerSecond < 1 || c.API.WriteRateLimitPerSecond < 1 {
		return errors.New("速率限制必须 >= 1/s")
	}
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return errors.Errorf("无效的日志级别: %s", c.Logging.Level)
	}
	return nil
}

// IsProduction 是否生产环境
func (c Config) IsProduction() bool {
	return strings.EqualFold(c.Secrets.Environment, "production")
}
