package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"oneseed-engine/pkg/logger"

	"github.com/fsnotify/fsnotify"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

const DefaultConfigPath = "./config/"

// Config 定义整个配置的结构
type Config struct {
	Log        LogConfig        `mapstructure:"log"`
	Chain      ChainConfig      `mapstructure:"chain"`
	Contracts  ContractsConfig  `mapstructure:"contracts"`
	Fetch      FetchConfig      `mapstructure:"fetch"`
	Cache      CacheConfig      `mapstructure:"cache"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Monitor    MonitorConfig    `mapstructure:"monitor"`
	Estimate   EstimateConfig   `mapstructure:"estimate"`
	Slippage   SlippageConfig   `mapstructure:"slippage"`
	Trend      TrendConfig      `mapstructure:"trend"`
	Withdrawal WithdrawalConfig `mapstructure:"withdrawal"`
	Calendar   CalendarConfig   `mapstructure:"calendar"`
	Tokens     []TokenConfig    `mapstructure:"tokens"`
	Relay      RelayConfig      `mapstructure:"relay"`
	Price      PriceConfig      `mapstructure:"price"`
	Watch      WatchUsersConfig `mapstructure:"watch"`
}

// LogConfig Log 日志配置
type LogConfig struct {
	Level string `mapstructure:"level"`
	Dir   string `mapstructure:"dir"`
}

// ChainConfig 链 RPC 配置
type ChainConfig struct {
	RpcUrl                  string `mapstructure:"rpc_url"`
	ChainID                 uint64 `mapstructure:"chain_id"`
	Confirmations           uint64 `mapstructure:"confirmations"`
	AverageBlockTimeSeconds uint64 `mapstructure:"average_block_time_seconds"`
	PollIntervalSeconds     int    `mapstructure:"poll_interval_seconds"`
}

// ContractsConfig 各模块合约地址，每种事件从自己的合约查询
type ContractsConfig struct {
	Savings  string `mapstructure:"savings"`
	DCA      string `mapstructure:"dca"`
	Strategy string `mapstructure:"strategy"`
	Slippage string `mapstructure:"slippage"`
	Vault    string `mapstructure:"vault"`
}

type FetchConfig struct {
	ActivityLookbackBlocks  uint64 `mapstructure:"activity_lookback_blocks"`
	AnalyticsLookbackBlocks uint64 `mapstructure:"analytics_lookback_blocks"`
	QueryTimeoutSeconds     int    `mapstructure:"query_timeout_seconds"`
	MaxParallel             int    `mapstructure:"max_parallel"`
}

type CacheConfig struct {
	StaleAfterSeconds      int  `mapstructure:"stale_after_seconds"`
	RefreshIntervalSeconds int  `mapstructure:"refresh_interval_seconds"`
	RetentionMinutes       int  `mapstructure:"retention_minutes"`
	RedisMirror            bool `mapstructure:"redis_mirror"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	DBPrice  int    `mapstructure:"db_price"`
}

type MonitorConfig struct {
	Enable         bool   `mapstructure:"enable"`
	PrometheusAddr string `mapstructure:"prometheus_addr"`
}

// EstimateConfig gas / 价格估算常量，按网络注入
type EstimateConfig struct {
	GasPerIndividualTx        uint64  `mapstructure:"gas_per_individual_tx"`
	GasPerBatchedTx           uint64  `mapstructure:"gas_per_batched_tx"`
	GasUnitsSavedPerBatchedTx uint64  `mapstructure:"gas_units_saved_per_batched_tx"`
	AssumedGasPriceGwei       float64 `mapstructure:"assumed_gas_price_gwei"`
	AssumedAssetPriceUSD      float64 `mapstructure:"assumed_asset_price_usd"`
	NativeSymbol              string  `mapstructure:"native_symbol"`
}

// SlippageConfig 滑点告警阈值(百分比)
type SlippageConfig struct {
	WarningPct  float64 `mapstructure:"warning_pct"`
	CriticalPct float64 `mapstructure:"critical_pct"`
}

type TrendConfig struct {
	Days    int `mapstructure:"days"`
	Buckets int `mapstructure:"buckets"`
}

type WithdrawalConfig struct {
	DefaultPenaltyBps uint64 `mapstructure:"default_penalty_bps"`
}

// CalendarConfig 月度统计使用的时区，空表示本地时区
type CalendarConfig struct {
	Location string `mapstructure:"location"`
}

type TokenConfig struct {
	Address  string `mapstructure:"address"`
	Symbol   string `mapstructure:"symbol"`
	Decimals uint8  `mapstructure:"decimals"`
}

// RelayConfig 提现提交 relay 配置
type RelayConfig struct {
	URL       string `mapstructure:"url"`
	APIKey    string `mapstructure:"api_key"`
	Timeout   int    `mapstructure:"timeout"`
	RateLimit int    `mapstructure:"rate_limit"`
}

// PriceConfig 静态 USD 价格，key 为 symbol
type PriceConfig struct {
	Static map[string]float64 `mapstructure:"static"`
}

type WatchUsersConfig struct {
	Users []string `mapstructure:"users"`
}

func setDefaults() {
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.dir", "logs")
	viper.SetDefault("chain.confirmations", 1)
	viper.SetDefault("chain.average_block_time_seconds", 2)
	viper.SetDefault("chain.poll_interval_seconds", 4)
	viper.SetDefault("fetch.activity_lookback_blocks", 50000)
	viper.SetDefault("fetch.analytics_lookback_blocks", 100000)
	viper.SetDefault("fetch.query_timeout_seconds", 15)
	viper.SetDefault("fetch.max_parallel", 5)
	viper.SetDefault("cache.stale_after_seconds", 30)
	viper.SetDefault("cache.refresh_interval_seconds", 60)
	viper.SetDefault("cache.retention_minutes", 10)
	viper.SetDefault("estimate.gas_per_individual_tx", 120000)
	viper.SetDefault("estimate.gas_per_batched_tx", 45000)
	viper.SetDefault("estimate.gas_units_saved_per_batched_tx", 21000)
	viper.SetDefault("estimate.assumed_gas_price_gwei", 0.1)
	viper.SetDefault("estimate.assumed_asset_price_usd", 3000)
	viper.SetDefault("estimate.native_symbol", "ETH")
	viper.SetDefault("slippage.warning_pct", 1)
	viper.SetDefault("slippage.critical_pct", 5)
	viper.SetDefault("trend.days", 30)
	viper.SetDefault("trend.buckets", 12)
	viper.SetDefault("withdrawal.default_penalty_bps", 500)
	viper.SetDefault("relay.timeout", 30)
	viper.SetDefault("relay.rate_limit", 60)
}

func InitConfig() Config {
	cfg, err := Load(DefaultConfigPath, "config.engine")
	if err != nil {
		panic(fmt.Errorf("fatal error config file: %s", err))
	}
	return cfg
}

// Load 读取指定目录下的 yaml 配置并校验
func Load(path, name string) (Config, error) {
	var config Config

	setDefaults()
	viper.SetConfigName(name)
	viper.SetConfigType("yaml")
	viper.AddConfigPath(path)

	if err := viper.ReadInConfig(); err != nil {
		return config, err
	}

	if err := mapstructure.Decode(viper.AllSettings(), &config); err != nil {
		return config, err
	}

	if err := config.Validate(); err != nil {
		return config, err
	}
	return config, nil
}

// WatchConfig 配置文件变化时重新加载，onChange 用于把新配置推给各组件
func WatchConfig(config *Config, onChange ...func(Config)) {
	viper.WatchConfig()
	viper.OnConfigChange(func(e fsnotify.Event) {
		newConfig, err := Load(DefaultConfigPath, "config.engine")
		if err != nil {
			// 新配置不合法时保留旧配置
			return
		}
		*config = newConfig
		logger.SetLogLevel(config.Log.Level)
		for _, fn := range onChange {
			fn(newConfig)
		}
	})
}

// Validate 校验配置组合，错误的 gas 常量会让节省估算变成负数
func (c Config) Validate() error {
	var errs []error
	if c.Estimate.GasPerBatchedTx >= c.Estimate.GasPerIndividualTx {
		errs = append(errs, fmt.Errorf("estimate.gas_per_batched_tx (%d) must be lower than gas_per_individual_tx (%d)",
			c.Estimate.GasPerBatchedTx, c.Estimate.GasPerIndividualTx))
	}
	if c.Slippage.WarningPct < 0 || c.Slippage.CriticalPct < c.Slippage.WarningPct {
		errs = append(errs, fmt.Errorf("slippage thresholds invalid: warning=%v critical=%v", c.Slippage.WarningPct, c.Slippage.CriticalPct))
	}
	if c.Trend.Days <= 0 || c.Trend.Buckets <= 0 {
		errs = append(errs, fmt.Errorf("trend.days and trend.buckets must be positive"))
	}
	if c.Withdrawal.DefaultPenaltyBps > 10000 {
		errs = append(errs, fmt.Errorf("withdrawal.default_penalty_bps out of range: %d", c.Withdrawal.DefaultPenaltyBps))
	}
	if c.Fetch.ActivityLookbackBlocks == 0 || c.Fetch.AnalyticsLookbackBlocks == 0 {
		errs = append(errs, fmt.Errorf("fetch lookback must be positive"))
	}
	if _, err := c.Calendar.TimeLocation(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// TimeLocation 解析月度统计使用的时区
func (c CalendarConfig) TimeLocation() (*time.Location, error) {
	name := strings.TrimSpace(c.Location)
	if name == "" || strings.EqualFold(name, "local") {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("calendar.location %q: %w", name, err)
	}
	return loc, nil
}

func (c FetchConfig) QueryTimeout() time.Duration {
	return time.Duration(c.QueryTimeoutSeconds) * time.Second
}

func (c CacheConfig) StaleAfter() time.Duration {
	return time.Duration(c.StaleAfterSeconds) * time.Second
}

func (c CacheConfig) RefreshInterval() time.Duration {
	return time.Duration(c.RefreshIntervalSeconds) * time.Second
}

func (c CacheConfig) Retention() time.Duration {
	return time.Duration(c.RetentionMinutes) * time.Minute
}

func (c ChainConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}
