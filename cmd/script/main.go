package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"oneseed-engine/internal/worker"
	"oneseed-engine/internal/worker/config"
	"oneseed-engine/pkg/logger"
	"oneseed-engine/pkg/utils"

	"github.com/bytedance/sonic"
	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

// 一次性任务：拉取单个地址的账本、面板和执行质量报告并输出 JSON

func main() {
	os.Exit(run())
}

// run 返回进程退出码，defer 的清理在退出前执行
func run() int {
	startTime := time.Now()
	address := pflag.String("address", "", "user address to reconstruct")
	configDir := pflag.String("config-dir", config.DefaultConfigPath, "directory containing config.engine.yaml")
	sections := pflag.StringSlice("sections", []string{"ledger", "dashboard", "analytics"}, "sections to print: ledger, dashboard, analytics, balances")
	pflag.Parse()

	user, ok := utils.ParseAddress(*address)
	if !ok {
		fmt.Fprintf(os.Stderr, "invalid --address %q\n", *address)
		return 2
	}

	// 初始化配置文件
	cfg, err := config.Load(*configDir, "config.engine")
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		return 1
	}
	// 只输出一次结果，不需要 redis 镜像
	cfg.Cache.RedisMirror = false

	// 初始化 trace provider
	logger.InitTrace("oneseed-engine", "script")
	// 启动主 span
	ctx, span := logger.StartSpan(context.Background(), "main", "main")
	defer span.End()

	// 创建 root logger 并注入 trace 上下文
	logger.SetLogDir(cfg.Log.Dir)
	rootLogger := logger.NewLogger("script")
	logger.SetLogLevel(cfg.Log.Level)
	tl := logger.WithTrace(ctx, rootLogger)

	core, err := worker.New(cfg, tl)
	if err != nil {
		tl.Error("Failed to init worker", zap.Error(err))
		return 1
	}
	defer core.Stop(ctx)

	out := make(map[string]interface{}, len(*sections))
	for _, name := range *sections {
		value, err := section(ctx, core, strings.TrimSpace(name), user)
		if err != nil {
			tl.Error("Section failed", zap.String("section", name), zap.Error(err))
			return 1
		}
		out[name] = value
	}

	raw, err := sonic.MarshalIndent(out, "", "  ")
	if err != nil {
		tl.Error("Failed to encode output", zap.Error(err))
		return 1
	}
	fmt.Println(string(raw))
	tl.Info("Task completed successfully", zap.String("user", user.Hex()), zap.Duration("taken_time", time.Since(startTime)))
	return 0
}

func section(ctx context.Context, core *worker.Core, name string, user common.Address) (interface{}, error) {
	switch name {
	case "ledger":
		return core.Activity().Ledger(ctx, user)
	case "dashboard":
		return core.Dashboard().Dashboard(ctx, user)
	case "analytics":
		return core.Analytics().Report(ctx, user)
	case "balances":
		return core.Portfolio().ActiveBalances(ctx, user)
	}
	return nil, fmt.Errorf("unknown section %q", name)
}
