package conf

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cast"
	"gopkg.in/yaml.v3"
)

// 配置加载（跟单账户、交易所地址、API密钥等）

type HyperliquidConfig struct {
	ApiURL  string `yaml:"api_url"`
	WsURL   string `yaml:"ws_url"`
	Testnet bool   `yaml:"testnet"`
}

// AccountConfig 单个跟单子账户的配置
type AccountConfig struct {
	Name string `yaml:"name"` // 账户标识，用于日志和状态存储
	// 被跟踪的钱包地址
	TrackedAddress string `yaml:"tracked_address"`
	// 操作者自己的子账户地址
	UserAddress string `yaml:"user_address"`
	// 签名走外部signer服务，密钥不经过本进程
	SignerURL string `yaml:"signer_url"`
	// signer服务的鉴权token所在环境变量，不写进配置文件
	SignerTokenEnv string `yaml:"signer_token_env"`

	// 漂移阈值（占账户价值的百分比差）
	DriftThresholdPct float64 `yaml:"drift_threshold_pct"`
	// 单笔订单最小名义价值，0 表示用全局默认
	MinOrderValue float64 `yaml:"min_order_value"`
	// 高风险入场过滤：被跟踪仓位浮亏达到该百分比才允许入场，0 关闭
	HighRiskEntryPct float64 `yaml:"high_risk_entry_pct"`
	// 低于该余额停止交易
	MinTradableBalance float64 `yaml:"min_tradable_balance"`
}

type SyncConfig struct {
	Interval time.Duration `yaml:"interval"` // 同步轮询间隔，默认60s
	// 滑点控制
	SlippageBasePct      float64 `yaml:"slippage_base_pct"`
	SlippageIncrementPct float64 `yaml:"slippage_increment_pct"`
	SlippageMaxPct       float64 `yaml:"slippage_max_pct"`
	// 全局默认的最小订单名义价值
	DefaultMinOrderValue float64 `yaml:"default_min_order_value"`
}

type Db struct {
	DbName   string `yaml:"dbname"`
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

type LogConfig struct {
	Level      string `yaml:"level"`
	FileName   string `yaml:"file-name"`
	TimeFormat string `yaml:"time-format"`
	MaxSize    int    `yaml:"max-size"`
	MaxBackups int    `yaml:"max-backups"`
	MaxAge     int    `yaml:"max-age"`
	Compress   bool   `yaml:"compress"`
	LocalTime  bool   `yaml:"local-time"`
	Console    bool   `yaml:"console"`
}

// RedisConfig is used to configure redis
type RedisConfig struct {
	Addr         string `yaml:"address"`
	Password     string `yaml:"password"`
	Db           int    `yaml:"db"`
	PoolSize     int    `yaml:"pool-size"`
	MinIdleConns int    `yaml:"min-idle-conns"`
	IdleTimeout  int    `yaml:"idle-timeout"`
}

type KafkaConfig struct {
	BrokerURL  string `yaml:"broker"`
	AlertTopic string `yaml:"alert_topic"`
}

type RecorderConfig struct {
	TradePath    string `yaml:"trade_path"`
	SnapshotPath string `yaml:"snapshot_path"`
}

type Config struct {
	AppName string `yaml:"app_name"`
	Listen  string `yaml:"listen"`
	Mode    string `yaml:"mode"`

	Hyperliquid HyperliquidConfig `yaml:"hyperliquid"`
	Accounts    []AccountConfig   `yaml:"accounts"`
	Sync        SyncConfig        `yaml:"sync"`
	Db          `yaml:"database"`
	Log         LogConfig      `yaml:"log"`
	Redis       RedisConfig    `yaml:"redis"`
	Kafka       KafkaConfig    `yaml:"kafka"`
	Recorder    RecorderConfig `yaml:"recorder"`
}

var AppConfig Config

func LoadConfig(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("Read config file error %w", err)
	}
	if err := yaml.Unmarshal(data, &AppConfig); err != nil {
		return fmt.Errorf("Unmarshal config yaml error: %w", err)
	}
	applyDefaults(&AppConfig)
	return nil
}

func applyDefaults(c *Config) {
	if c.Hyperliquid.ApiURL == "" {
		if c.Hyperliquid.Testnet {
			c.Hyperliquid.ApiURL = "https://api.hyperliquid-testnet.xyz"
			c.Hyperliquid.WsURL = "wss://api.hyperliquid-testnet.xyz/ws"
		} else {
			c.Hyperliquid.ApiURL = "https://api.hyperliquid.xyz"
			c.Hyperliquid.WsURL = "wss://api.hyperliquid.xyz/ws"
		}
	}
	if c.Sync.Interval <= 0 {
		c.Sync.Interval = time.Minute
	}
	if c.Sync.SlippageBasePct <= 0 {
		c.Sync.SlippageBasePct = 0.05
	}
	if c.Sync.SlippageIncrementPct <= 0 {
		c.Sync.SlippageIncrementPct = 0.05
	}
	if c.Sync.SlippageMaxPct <= 0 {
		c.Sync.SlippageMaxPct = 0.5
	}
	if c.Sync.DefaultMinOrderValue <= 0 {
		c.Sync.DefaultMinOrderValue = 10
	}
	if c.Kafka.BrokerURL != "" && c.Kafka.AlertTopic == "" {
		c.Kafka.AlertTopic = "copyflow_alerts"
	}
	for i := range c.Accounts {
		acc := &c.Accounts[i]
		if acc.DriftThresholdPct <= 0 {
			acc.DriftThresholdPct = 2
		}
		if acc.MinTradableBalance <= 0 {
			acc.MinTradableBalance = 50
		}
	}
	// 环境变量允许覆盖轮询间隔，方便测试网调试
	if v := os.Getenv("COPYFLOW_SYNC_INTERVAL_SEC"); v != "" {
		if sec := cast.ToInt(v); sec > 0 {
			c.Sync.Interval = time.Duration(sec) * time.Second
		}
	}
}

// SignerToken 从环境变量取signer服务的鉴权token
func (a AccountConfig) SignerToken() string {
	if a.SignerTokenEnv == "" {
		return ""
	}
	return os.Getenv(a.SignerTokenEnv)
}
