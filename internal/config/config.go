package config

import (
	"log"

	"github.com/spf13/viper"
)

// Config 全局配置结构
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Mongo     MongoConfig     `mapstructure:"mongo"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	Consumer  ConsumerConfig  `mapstructure:"consumer"`
	Analytics AnalyticsConfig `mapstructure:"analytics"`
	Job       JobConfig       `mapstructure:"job"`
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

type MongoConfig struct {
	URI        string `mapstructure:"uri"`
	Database   string `mapstructure:"database"`
	Collection string `mapstructure:"collection"`
	TimeoutSec int    `mapstructure:"timeout_seconds"`
}

type RedisConfig struct {
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	Password   string `mapstructure:"password"`
	DB         int    `mapstructure:"db"`
	TTLSeconds int    `mapstructure:"ttl_seconds"`
}

type KafkaConfig struct {
	Brokers []string         `mapstructure:"brokers"`
	GroupID string           `mapstructure:"group_id"`
	Topic   KafkaTopicConfig `mapstructure:"topic"`
}

type KafkaTopicConfig struct {
	AccountEvents string `mapstructure:"account_events"`
	Recalculated  string `mapstructure:"recalculated"`
}

type ConsumerConfig struct {
	Lanes        int  `mapstructure:"lanes"`         // 处理通道数（每个账户固定映射到一条通道）
	LaneBuffer   int  `mapstructure:"lane_buffer"`   // 单条通道的缓冲长度
	MaxRetry     int  `mapstructure:"max_retry"`     // 存储瞬时故障的最大重试次数
	BaseDelayMs  int  `mapstructure:"base_delay_ms"` // 重试退避基础间隔（毫秒，指数增长）
	NotifyEnable bool `mapstructure:"notify_enable"` // 是否发送重算完成通知
}

type AnalyticsConfig struct {
	HighThreshold         float64 `mapstructure:"high_threshold"`           // 波动率高阈值
	ModerateThreshold     float64 `mapstructure:"moderate_threshold"`       // 波动率中阈值
	DedupWindow           int     `mapstructure:"dedup_window"`             // 幂等键去重窗口大小
	VolatilityWindowMonth int     `mapstructure:"volatility_window_months"` // 波动率计算窗口（月），0 表示全量
}

type JobConfig struct {
	RepairIntervalSec int `mapstructure:"repair_interval_seconds"` // 缓存修复任务扫描间隔
	RepairBatchSize   int `mapstructure:"repair_batch_size"`       // 单次扫描的文档数
	RepairLookbackSec int `mapstructure:"repair_lookback_seconds"` // 回看窗口，只检查近期更新的账户
}

var GlobalConfig *Config

// LoadConfig 加载配置文件
func LoadConfig(configPath string) *Config {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")

	// 未显式配置时的缺省值
	viper.SetDefault("analytics.high_threshold", 0.75)
	viper.SetDefault("analytics.moderate_threshold", 0.35)
	viper.SetDefault("analytics.dedup_window", 500)
	viper.SetDefault("analytics.volatility_window_months", 0)
	viper.SetDefault("consumer.lanes", 16)
	viper.SetDefault("consumer.lane_buffer", 64)
	viper.SetDefault("consumer.max_retry", 5)
	viper.SetDefault("consumer.base_delay_ms", 100)
	viper.SetDefault("mongo.timeout_seconds", 10)
	viper.SetDefault("redis.ttl_seconds", 0)
	viper.SetDefault("job.repair_interval_seconds", 60)
	viper.SetDefault("job.repair_batch_size", 100)
	viper.SetDefault("job.repair_lookback_seconds", 300)

	if err := viper.ReadInConfig(); err != nil {
		log.Fatalf("读取配置文件失败: %v", err)
	}

	config := &Config{}
	if err := viper.Unmarshal(config); err != nil {
		log.Fatalf("解析配置文件失败: %v", err)
	}

	GlobalConfig = config
	return config
}
