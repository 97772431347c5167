package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/iabetor/snswatch/internal/checker"
	"github.com/iabetor/snswatch/internal/config"
	"github.com/iabetor/snswatch/internal/database"
	"github.com/iabetor/snswatch/internal/dedup"
	"github.com/iabetor/snswatch/internal/feed"
	"github.com/iabetor/snswatch/internal/logger"
	"github.com/iabetor/snswatch/internal/metrics"
	"github.com/iabetor/snswatch/internal/notify"
	"github.com/iabetor/snswatch/internal/scheduler"
	"github.com/joho/godotenv"
)

// sink 投递端，额外提供就绪信号。
type sink interface {
	notify.Sink
	Ready() <-chan struct{}
}

func main() {
	configPath := flag.String("config", "configs/snswatch.yaml", "配置文件路径")
	flag.Parse()

	// .env 不存在时忽略
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}
	if err := logger.Init(cfg.LoggerConfig()); err != nil {
		fmt.Fprintf(os.Stderr, "初始化日志失败: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg); err != nil {
		logger.Errorf("[main] %v", err)
		logger.Sync()
		os.Exit(1)
	}
	logger.Info("[main] snswatch 已停止")
}

func run(cfg *config.Config) error {
	sources := cfg.TrackedSources()
	logger.Infof("[main] snswatch 启动中 (sources=%d, interval=%s, store=%s, log_level=%s)",
		len(sources), cfg.Interval(), cfg.Store.Backend, cfg.Log.Level)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 监听系统信号，优雅关闭
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Infof("[main] 收到信号 %v，正在关闭...", sig)
		cancel()
	}()

	store, closeStore, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	s, closeSink, err := openSink(cfg)
	if err != nil {
		return err
	}
	defer closeSink()

	var m *metrics.Metrics
	if cfg.Metrics.Listen != "" {
		m = metrics.New()
		go func() {
			if err := m.Serve(ctx, cfg.Metrics.Listen); err != nil {
				logger.Errorf("[metrics] 指标服务退出: %v", err)
			}
		}()
	}

	c := checker.New(feed.NewFetcher(cfg.FetcherConfig()), s, store, checker.WithMetrics(m))
	sched := scheduler.New(c, sources, cfg.Interval())
	if err := sched.RunWhenReady(ctx, s.Ready()); err != nil {
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return fmt.Errorf("启动调度器失败: %w", err)
	}

	<-ctx.Done()
	sched.Stop()
	return nil
}

func openStore(cfg *config.Config) (dedup.Store, func(), error) {
	switch cfg.Store.Backend {
	case "sqlite":
		db, err := database.Open(cfg.Store.DBPath)
		if err != nil {
			return nil, nil, err
		}
		if err := db.Migrate(); err != nil {
			db.Close()
			return nil, nil, err
		}
		logger.Infof("[main] 去重记录使用 SQLite: %s", db.Path())
		return dedup.NewSQLiteStore(db), func() { db.Close() }, nil
	default:
		fs, err := dedup.NewFileStore(cfg.DataDir)
		if err != nil {
			return nil, nil, err
		}
		logger.Infof("[main] 去重记录目录: %s", cfg.DataDir)
		return fs, func() {}, nil
	}
}

func openSink(cfg *config.Config) (sink, func(), error) {
	if cfg.Discord.DryRun {
		logger.Info("[main] dry-run 模式，通知只写入日志")
		return notify.NewLogSink(), func() {}, nil
	}

	d, err := notify.NewDiscord(cfg.Discord.Token)
	if err != nil {
		return nil, nil, err
	}
	if err := d.Open(); err != nil {
		return nil, nil, err
	}
	return d, func() {
		if err := d.Close(); err != nil {
			logger.Warnf("[discord] 关闭连接失败: %v", err)
		}
	}, nil
}
