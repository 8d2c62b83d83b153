package main

import (
	"context"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/qq148376839/trading-system/internal/app"
	"github.com/qq148376839/trading-system/internal/config"
	"github.com/qq148376839/trading-system/internal/logger"
)

// 退出码：0 正常退出，1 运行期错误，2 启动失败。
const (
	exitRuntime = 1
	exitStartup = 2
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfgPath := os.Getenv("TRADING_CONFIG")
	if cfgPath == "" {
		cfgPath = "configs/config.yaml"
	}

	// 先加载一次配置拿日志路径，再由 app 完成其余初始化。
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Printf("读取配置失败: %v", err)
		os.Exit(exitStartup)
	}
	logFile, err := setupLogOutput(cfg.App.LogPath)
	if err != nil {
		log.Printf("初始化日志文件失败: %v", err)
		os.Exit(exitStartup)
	}
	if logFile != nil {
		defer logFile.Close()
	}
	logger.Infof("✓ 配置加载成功（环境=%s，账户=%s）", cfg.App.Env, cfg.Trading.AccountType)

	a, err := app.NewApp(ctx, cfgPath)
	if err != nil {
		logger.Errorf("初始化应用失败: %v", err)
		os.Exit(exitStartup)
	}
	if err := a.Run(ctx); err != nil {
		logger.Errorf("运行失败: %v", err)
		os.Exit(exitRuntime)
	}
	logger.Infof("交易系统已退出")
}

func setupLogOutput(path string) (*os.File, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, nil
	}
	dir := filepath.Dir(trimmed)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	file, err := os.OpenFile(trimmed, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	mw := io.MultiWriter(os.Stdout, file)
	log.SetOutput(mw)
	logger.SetOutput(mw)
	return file, nil
}
