package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/iabetor/snswatch/internal/dedup"
	"github.com/iabetor/snswatch/internal/feed"
	"github.com/iabetor/snswatch/internal/logger"
	"github.com/samber/lo"
	"gopkg.in/yaml.v3"
)

// Config 是 snswatch 的顶层配置结构。
type Config struct {
	Discord       DiscordConfig  `yaml:"discord"`
	CheckInterval int            `yaml:"check_interval"` // 秒
	DataDir       string         `yaml:"data_dir"`
	Store         StoreConfig    `yaml:"store"`
	Fetch         FetchConfig    `yaml:"fetch"`
	Metrics       MetricsConfig  `yaml:"metrics"`
	Log           LogConfig      `yaml:"log"`
	Sources       []SourceConfig `yaml:"sources"`
}

// DiscordConfig Discord 机器人配置。
type DiscordConfig struct {
	Token string `yaml:"token"`
	// DryRun 为 true 时不连接 Discord，通知只写入日志。
	DryRun bool `yaml:"dry_run"`
}

// StoreConfig 去重记录存储配置。
type StoreConfig struct {
	Backend string `yaml:"backend"` // file 或 sqlite
	DBPath  string `yaml:"db_path"`
}

// FetchConfig 订阅源抓取配置。
type FetchConfig struct {
	UserAgent     string `yaml:"user_agent"`
	Timeout       int    `yaml:"timeout"` // 秒
	Retries       int    `yaml:"retries"` // 0 使用默认值，负数表示不重试
	MinIntervalMs int    `yaml:"min_interval_ms"`
}

// MetricsConfig 指标服务配置，Listen 为空时不启动。
type MetricsConfig struct {
	Listen string `yaml:"listen"`
}

// LogConfig 日志配置。
type LogConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSize    int    `yaml:"max_size"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAge     int    `yaml:"max_age"`
}

// SourceConfig 一个订阅源。
type SourceConfig struct {
	Kind    string `yaml:"kind"`
	Name    string `yaml:"name"`
	URL     string `yaml:"url"`
	Key     string `yaml:"key"`
	Channel string `yaml:"channel"`
}

// Load 读取 YAML 配置文件并返回 Config。
// 支持 ${VAR_NAME} 形式的环境变量展开。
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件 %s 失败: %w", path, err)
	}

	// 展开环境变量，如 ${DISCORD_TOKEN}
	expanded := os.Expand(string(data), func(key string) string {
		return os.Getenv(key)
	})

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("解析配置文件 %s 失败: %w", path, err)
	}

	setDefaults(cfg)
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("配置文件 %s 无效: %w", path, err)
	}
	return cfg, nil
}

// setDefaults 为未设置的配置项填充默认值。
func setDefaults(cfg *Config) {
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = 300
	}
	if cfg.DataDir == "" {
		cfg.DataDir = "./data"
	} else if strings.HasPrefix(cfg.DataDir, "~/") {
		// Go 不会自动展开 ~，需要手动替换为用户主目录
		home, _ := os.UserHomeDir()
		if home != "" {
			cfg.DataDir = home + cfg.DataDir[1:]
		}
	}
	if cfg.Store.Backend == "" {
		cfg.Store.Backend = "file"
	}
	if cfg.Store.DBPath == "" {
		cfg.Store.DBPath = filepath.Join(cfg.DataDir, "snswatch.db")
	}
	if cfg.Fetch.UserAgent == "" {
		cfg.Fetch.UserAgent = "Mozilla/5.0"
	}
	if cfg.Fetch.Timeout <= 0 {
		cfg.Fetch.Timeout = 15
	}
	if cfg.Fetch.Retries < 0 {
		cfg.Fetch.Retries = 0
	} else if cfg.Fetch.Retries == 0 {
		cfg.Fetch.Retries = 2
	}
	if cfg.Fetch.MinIntervalMs == 0 {
		cfg.Fetch.MinIntervalMs = 500
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}

	for i := range cfg.Sources {
		s := &cfg.Sources[i]
		s.Key = strings.TrimSpace(s.Key)
		s.URL = strings.TrimSpace(s.URL)
		if s.Name == "" {
			s.Name = s.Key
		}
	}

	// 去除 token 两端可能的空白（环境变量展开后常见）
	cfg.Discord.Token = strings.TrimSpace(cfg.Discord.Token)
}

func (cfg *Config) validate() error {
	var errs []error

	if !cfg.Discord.DryRun && cfg.Discord.Token == "" {
		errs = append(errs, errors.New("discord.token 不能为空（或设置 discord.dry_run）"))
	}
	if cfg.Store.Backend != "file" && cfg.Store.Backend != "sqlite" {
		errs = append(errs, fmt.Errorf("store.backend 只支持 file 或 sqlite: %q", cfg.Store.Backend))
	}
	if _, err := logger.ParseLevel(cfg.Log.Level); err != nil {
		errs = append(errs, err)
	}
	if len(cfg.Sources) == 0 {
		errs = append(errs, errors.New("至少需要一个订阅源"))
	}

	for i, s := range cfg.Sources {
		if _, err := feed.ParseKind(s.Kind); err != nil {
			errs = append(errs, fmt.Errorf("sources[%d]: %w", i, err))
		}
		if s.URL == "" {
			errs = append(errs, fmt.Errorf("sources[%d]: url 不能为空", i))
		}
		if s.Channel == "" {
			errs = append(errs, fmt.Errorf("sources[%d]: channel 不能为空", i))
		}
		if !dedup.ValidKey(s.Key) {
			errs = append(errs, fmt.Errorf("sources[%d]: key %q 只能包含字母、数字、_ 和 -", i, s.Key))
		}
	}

	keys := lo.Map(cfg.Sources, func(s SourceConfig, _ int) string { return s.Key })
	if dup := lo.FindDuplicates(keys); len(dup) > 0 {
		errs = append(errs, fmt.Errorf("订阅源 key 重复: %s", strings.Join(dup, ", ")))
	}

	return errors.Join(errs...)
}

// Interval 返回检查间隔。
func (cfg *Config) Interval() time.Duration {
	return time.Duration(cfg.CheckInterval) * time.Second
}

// TrackedSources 把配置中的订阅源转换为运行时模型。
// 只应在 Load 校验通过后调用。
func (cfg *Config) TrackedSources() []feed.TrackedSource {
	return lo.Map(cfg.Sources, func(s SourceConfig, _ int) feed.TrackedSource {
		kind, _ := feed.ParseKind(s.Kind)
		return feed.TrackedSource{
			Kind:    kind,
			Name:    s.Name,
			URL:     s.URL,
			Key:     s.Key,
			Channel: s.Channel,
		}
	})
}

// LoggerConfig 返回日志初始化配置。
func (cfg *Config) LoggerConfig() logger.Config {
	return logger.Config{
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSize:    cfg.Log.MaxSize,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAge:     cfg.Log.MaxAge,
	}
}

// FetcherConfig 返回抓取端配置。
func (cfg *Config) FetcherConfig() feed.FetcherConfig {
	return feed.FetcherConfig{
		UserAgent:   cfg.Fetch.UserAgent,
		Timeout:     time.Duration(cfg.Fetch.Timeout) * time.Second,
		Retries:     cfg.Fetch.Retries,
		MinInterval: time.Duration(cfg.Fetch.MinIntervalMs) * time.Millisecond,
	}
}
