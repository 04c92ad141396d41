// internal/service/config.go
package service

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix 环境变量前缀，例如 BONFIDA_EXCHANGE_RESTURL
const EnvPrefix = "BONFIDA"

type Config struct {
	Exchange ExchangeConfig `mapstructure:"Exchange"`
	Logging  LoggingConfig  `mapstructure:"Logging"`
	Storage  StorageConfig  `mapstructure:"Storage"`
	Stream   StreamConfig   `mapstructure:"Stream"`
}

// ExchangeConfig 定义了交易所的连接信息
type ExchangeConfig struct {
	RESTURL   string `mapstructure:"RESTURL"`
	StreamURL string `mapstructure:"StreamURL"` // subscribe/unsubscribe 的根地址
}

// LoggingConfig 日志级别和可选的滚动日志文件
type LoggingConfig struct {
	Level      string `mapstructure:"Level"`
	File       string `mapstructure:"File"` // 为空时只输出到 stdout
	MaxSizeMB  int    `mapstructure:"MaxSizeMB"`
	MaxBackups int    `mapstructure:"MaxBackups"`
	MaxAgeDays int    `mapstructure:"MaxAgeDays"`
}

// StorageConfig 成交记录落盘
type StorageConfig struct {
	SQLitePath string `mapstructure:"SQLitePath"` // 为空时不记录
}

// StreamConfig 订阅被拒绝 (例如 429) 时的重试间隔
type StreamConfig struct {
	RetryInitial time.Duration `mapstructure:"RetryInitial"`
	RetryMax     time.Duration `mapstructure:"RetryMax"`
}

// GlobalConfig 存储加载后的全局配置
var GlobalConfig Config

func setDefaults(v *viper.Viper) {
	v.SetDefault("Exchange.RESTURL", "https://serum-api.bonfida.com")
	v.SetDefault("Exchange.StreamURL", "https://serum-ws.bonfida.com")

	v.SetDefault("Logging.Level", "info")
	v.SetDefault("Logging.File", "")
	v.SetDefault("Logging.MaxSizeMB", 5)
	v.SetDefault("Logging.MaxBackups", 10)
	v.SetDefault("Logging.MaxAgeDays", 14)

	v.SetDefault("Storage.SQLitePath", "")

	v.SetDefault("Stream.RetryInitial", time.Second)
	v.SetDefault("Stream.RetryMax", 30*time.Second)
}

// NewViper 带默认值和环境变量覆盖的 viper 实例
func NewViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// BindFlags 将命令行参数绑定到对应的配置项
func BindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	bindings := map[string]string{
		"rest-url":   "Exchange.RESTURL",
		"stream-url": "Exchange.StreamURL",
		"log-level":  "Logging.Level",
		"log-file":   "Logging.File",
		"sqlite":     "Storage.SQLitePath",
	}
	for flag, key := range bindings {
		f := flags.Lookup(flag)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("bind flag %s: %w", flag, err)
		}
	}
	return nil
}

// LoadConfig 读取并解析配置文件。
// configPath 下没有 config.yaml 时使用默认值，文件格式错误时返回错误。
func LoadConfig(v *viper.Viper, configPath string) (*Config, error) {
	// 设置配置文件的名称、类型和路径
	v.SetConfigName("config") // 文件名是 config
	v.SetConfigType("yaml")   // 文件类型是 yaml
	v.AddConfigPath(configPath)

	// 查找并读取配置文件
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	// 将配置绑定到结构体
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if cfg.Stream.RetryInitial <= 0 {
		return nil, fmt.Errorf("invalid config: Stream.RetryInitial must be positive, got %s", cfg.Stream.RetryInitial)
	}
	if cfg.Stream.RetryMax < cfg.Stream.RetryInitial {
		cfg.Stream.RetryMax = cfg.Stream.RetryInitial
	}

	GlobalConfig = cfg
	return &GlobalConfig, nil
}
