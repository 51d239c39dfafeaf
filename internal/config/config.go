package config

import (
	"errors"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Running struct {
		Port int `mapstructure:"port"`
	} `mapstructure:"running"`
	Redis struct {
		Addr     string `mapstructure:"addr"`
		Password string `mapstructure:"password"`
	} `mapstructure:"redis"`
	Mysql struct {
		DSN string `mapstructure:"dsn"`
	} `mapstructure:"mysql"`
	Kafka struct {
		Brokers []string `mapstructure:"brokers"`
		Topic   string   `mapstructure:"topic"`
	} `mapstructure:"kafka"`
	Collab struct {
		PresenceTTLSeconds int  `mapstructure:"presenceTtlSeconds"`
		SnapshotDebounceMs int  `mapstructure:"snapshotDebounceMs"`
		MaxOps             int  `mapstructure:"maxOps"`
		SweepIntervalMs    int  `mapstructure:"sweepIntervalMs"`
		MetricsEnabled     bool `mapstructure:"metricsEnabled"`
	} `mapstructure:"collab"`
}

// Load 读取 collabConfig.yaml（可选）并叠加环境变量。
// 环境变量形如 COLLAB_PRESENCETTLSECONDS、REDIS_ADDR。
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("collabConfig")
	v.SetConfigType("yaml")
	// 兼容从项目根目录或 backend 目录启动
	v.AddConfigPath("./config")
	v.AddConfigPath(".")

	v.SetDefault("running.port", 8084)
	v.SetDefault("redis.addr", "127.0.0.1:6379")
	v.SetDefault("kafka.topic", "collab-metrics")
	v.SetDefault("collab.presenceTtlSeconds", 45)
	v.SetDefault("collab.snapshotDebounceMs", 10000)
	v.SetDefault("collab.maxOps", 200)
	v.SetDefault("collab.sweepIntervalMs", 60000)
	v.SetDefault("collab.metricsEnabled", true)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		// 没有配置文件时全走默认值 + 环境变量
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	// maxOps 必须是正整数，否则回落默认值
	if cfg.Collab.MaxOps <= 0 {
		cfg.Collab.MaxOps = 200
	}
	if cfg.Collab.PresenceTTLSeconds <= 0 {
		cfg.Collab.PresenceTTLSeconds = 45
	}
	if cfg.Collab.SnapshotDebounceMs <= 0 {
		cfg.Collab.SnapshotDebounceMs = 10000
	}
	if cfg.Collab.SweepIntervalMs <= 0 {
		cfg.Collab.SweepIntervalMs = 60000
	}
	return cfg, nil
}
