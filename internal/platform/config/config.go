package config

import (
	"errors"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config 结构体定义了应用程序的所有配置项
// 它与 config.yaml 文件的结构完全对应
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Cursor     CursorConfig     `mapstructure:"cursor"`
	Limits     LimitsConfig     `mapstructure:"limits"`
	Cascade    CascadeConfig    `mapstructure:"cascade"`
	Changefeed ChangefeedConfig `mapstructure:"changefeed"`
	Analytics  AnalyticsConfig  `mapstructure:"analytics"`
	Reconciler ReconcilerConfig `mapstructure:"reconciler"`
	Log        LogConfig        `mapstructure:"log"`
}

// ServerConfig 定义了服务器相关的配置
type ServerConfig struct {
	Mode    string     `mapstructure:"mode"`
	Address string     `mapstructure:"address"`
	Cors    CorsConfig `mapstructure:"cors"`
}

// CorsConfig 定义了CORS相关的配置
type CorsConfig struct {
	AllowedOrigins []string `mapstructure:"allowedOrigins"`
}

// DatabaseConfig 定义了数据库和缓存相关的配置
type DatabaseConfig struct {
	// Driver 取值 sqlite 或 postgres
	Driver   string      `mapstructure:"driver"`
	DSN      string      `mapstructure:"dsn"`
	LogLevel string      `mapstructure:"logLevel"`
	Redis    RedisConfig `mapstructure:"redis"`
}

// RedisConfig 定义了Redis的配置
type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// AuthConfig 描述外部身份提供方如何把用户ID交给我们
type AuthConfig struct {
	Header string `mapstructure:"header"`
}

// CursorConfig 是事件分页游标的签名密钥，留空则在启动时随机生成
type CursorConfig struct {
	Secret string `mapstructure:"secret"`
}

type LimitsConfig struct {
	CarrotGiftsPerMinute int `mapstructure:"carrotGiftsPerMinute"`
}

type CascadeConfig struct {
	PageSize int `mapstructure:"pageSize"`
	// MaxPages 为0表示不限制
	MaxPages int `mapstructure:"maxPages"`
}

type ChangefeedConfig struct {
	Stream        string        `mapstructure:"stream"`
	Group         string        `mapstructure:"group"`
	Consumer      string        `mapstructure:"consumer"`
	Batch         int64         `mapstructure:"batch"`
	Block         time.Duration `mapstructure:"block"`
	ClaimIdle     time.Duration `mapstructure:"claimIdle"`
	MaxDeliveries int64         `mapstructure:"maxDeliveries"`
	MaxLen        int64         `mapstructure:"maxLen"`
}

type AnalyticsConfig struct {
	Interval    time.Duration `mapstructure:"interval"`
	Concurrency int           `mapstructure:"concurrency"`
}

type ReconcilerConfig struct {
	Interval time.Duration `mapstructure:"interval"`
	Grace    time.Duration `mapstructure:"grace"`
}

type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// setDefaults 注册所有默认值，使服务在没有配置文件时也能启动
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.address", ":8080")
	v.SetDefault("server.cors.allowedOrigins", []string{"http://localhost:4200"})

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "uvbunny.db")
	v.SetDefault("database.logLevel", "silent")
	v.SetDefault("database.redis.address", "localhost:6379")
	v.SetDefault("database.redis.password", "")
	v.SetDefault("database.redis.db", 0)

	v.SetDefault("auth.header", "X-User-ID")
	v.SetDefault("cursor.secret", "")
	v.SetDefault("limits.carrotGiftsPerMinute", 120)

	v.SetDefault("cascade.pageSize", 500)
	v.SetDefault("cascade.maxPages", 0)

	v.SetDefault("changefeed.stream", "uvbunny:changes")
	v.SetDefault("changefeed.group", "uvbunny-triggers")
	v.SetDefault("changefeed.consumer", "")
	v.SetDefault("changefeed.batch", 32)
	v.SetDefault("changefeed.block", 2*time.Second)
	v.SetDefault("changefeed.claimIdle", 30*time.Second)
	v.SetDefault("changefeed.maxDeliveries", 5)
	v.SetDefault("changefeed.maxLen", 100000)

	v.SetDefault("analytics.interval", 60*time.Minute)
	v.SetDefault("analytics.concurrency", 4)

	v.SetDefault("reconciler.interval", 30*time.Second)
	v.SetDefault("reconciler.grace", 10*time.Second)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
}

// LoadConfig 函数负责查找、加载和解析配置文件
// 它会在指定的路径中查找名为 config.yaml 的文件，找不到时只使用默认值和环境变量
func LoadConfig() (*Config, error) {
	// .env 只是开发便利，不存在时忽略
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./config")
	v.AddConfigPath(".")

	// 允许通过环境变量覆盖配置，例如 UVBUNNY_SERVER_ADDRESS=:9090
	v.SetEnvPrefix("UVBUNNY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default 返回只包含默认值的配置，测试和命令行工具使用
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	_ = v.Unmarshal(&cfg)
	return &cfg
}
