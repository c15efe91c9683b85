// =============================================================================
// ChatFlow 主入口
// =============================================================================
// 多方对话调度服务，包含 HTTP/WebSocket API、健康检查、Prometheus 指标
//
// 使用方法:
//
//	chatflow serve                          # 启动服务
//	chatflow serve --config config.yaml     # 指定配置文件（支持热重载）
//	chatflow run --config config.yaml "hi"  # 在终端中进行一次会话
//	chatflow version                        # 显示版本信息
//	chatflow health                         # 健康检查
// =============================================================================

// @title ChatFlow API
// @version 1.0.0
// @description Multi-party conversation engine: participants exchange turns over a routing graph, suspending for human input.

// @license.name MIT
// @license.url https://opensource.org/licenses/MIT

// @host localhost:8080
// @BasePath /
// @schemes http https

// @securityDefinitions.apikey ApiKeyAuth
// @in header
// @name X-API-Key

package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/BaSui01/chatflow/config"
	"github.com/BaSui01/chatflow/internal/server"
	"github.com/BaSui01/chatflow/internal/telemetry"
)

// =============================================================================
// 📦 版本信息（构建时注入）
// =============================================================================

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// =============================================================================
// 🎯 主函数
// =============================================================================

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	var code int
	switch os.Args[1] {
	case "serve":
		code = runServe(os.Args[2:])
	case "run":
		code = runRun(os.Args[2:])
	case "version":
		printVersion()
	case "health":
		code = runHealthCheck(os.Args[2:])
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		code = 1
	}
	os.Exit(code)
}

// loadConfig 加载并校验配置；path 为空时只使用默认值与环境变量
func loadConfig(path string) (*config.Loader, *config.Config, error) {
	loader := config.NewLoader().WithValidator(func(c *config.Config) error { return c.Validate() })
	if path != "" {
		loader = loader.WithConfigPath(path)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, nil, err
	}
	return loader, cfg, nil
}

// =============================================================================
// 🖥️ serve 命令
// =============================================================================

func runServe(args []string) int {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	fs.Parse(args)

	loader, cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	logger := initLogger(cfg.Log)
	defer logger.Sync()

	logger.Info("starting chatflow",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("git_commit", GitCommit),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	otelProviders, err := telemetry.Init(ctx, cfg.Telemetry, logger)
	if err != nil {
		logger.Warn("failed to initialize telemetry", zap.Error(err))
	}

	app, err := NewApp(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to build application", zap.Error(err))
		return 1
	}

	if *configPath != "" && cfg.Server.ReloadInterval > 0 {
		reloader := config.NewReloader(loader, cfg, cfg.Server.ReloadInterval, logger)
		reloader.OnReload(app.Reload)
		if err := reloader.Start(ctx); err != nil {
			logger.Warn("config hot reload disabled", zap.Error(err))
		} else {
			defer reloader.Stop()
		}
	}

	runErr := server.Run(ctx, app.Servers(ctx)...)
	if runErr != nil {
		logger.Error("server stopped with error", zap.Error(runErr))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := app.Close(shutdownCtx); err != nil {
		logger.Warn("shutdown incomplete", zap.Error(err))
	}
	if err := otelProviders.Shutdown(shutdownCtx); err != nil {
		logger.Warn("telemetry shutdown failed", zap.Error(err))
	}

	logger.Info("chatflow stopped")
	if runErr != nil {
		return 1
	}
	return 0
}

// =============================================================================
// 💻 run 命令
// =============================================================================

func runRun(args []string) int {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	from := fs.String("from", "user", "Sender of the first message")
	to := fs.String("to", "assistant", "Recipient of the first message")
	userID := fs.String("user", os.Getenv("USER"), "User recorded on answered interrupts")
	verbose := fs.Bool("v", false, "Log to stderr at debug level")
	fs.Parse(args)

	_, cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	// 终端模式下日志走 stderr，避免和对话输出混在一起
	cfg.Log.OutputPaths = []string{"stderr"}
	cfg.Log.Format = "console"
	if !*verbose {
		cfg.Log.Level = "warn"
	} else {
		cfg.Log.Level = "debug"
	}
	logger := initLogger(cfg.Log)
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := NewApp(ctx, cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start: %v\n", err)
		return 1
	}
	defer app.Close(context.Background())

	opts := consoleOptions{
		From:    *from,
		To:      *to,
		Message: strings.Join(fs.Args(), " "),
		UserID:  *userID,
	}
	if err := runConsole(ctx, app, opts, os.Stdin, os.Stdout); err != nil {
		return 1
	}
	return 0
}

// =============================================================================
// 🏥 健康检查命令
// =============================================================================

func runHealthCheck(args []string) int {
	fs := flag.NewFlagSet("health", flag.ExitOnError)
	addr := fs.String("addr", "http://localhost:8080", "Server address")
	fs.Parse(args)

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(*addr + "/ready")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Health check failed: %v\n", err)
		return 1
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(os.Stderr, "Health check failed: status %d\n", resp.StatusCode)
		return 1
	}

	fmt.Println("OK")
	return 0
}

// =============================================================================
// 📋 版本和帮助
// =============================================================================

func printVersion() {
	fmt.Printf("ChatFlow %s\n", Version)
	fmt.Printf("  Build Time: %s\n", BuildTime)
	fmt.Printf("  Git Commit: %s\n", GitCommit)
}

func printUsage() {
	fmt.Println(`ChatFlow - multi-party conversation engine

Usage:
  chatflow <command> [options]

Commands:
  serve     Start the HTTP/WebSocket API
  run       Hold one conversation in the terminal
  version   Show version information
  health    Check server readiness
  help      Show this help message

Options for 'serve':
  --config <path>   Path to configuration file (YAML, hot reloaded)

Options for 'run':
  --config <path>   Path to configuration file (YAML)
  --from <id>       Sender of the first message (default "user")
  --to <id>         Recipient of the first message (default "assistant")
  --user <name>     User recorded on answered interrupts
  -v                Verbose logging to stderr

  At each prompt type a reply, press enter on an empty line to let the
  backend answer, send TERMINATE to end the conversation or exit to leave.

Examples:
  chatflow serve --config /etc/chatflow/config.yaml
  chatflow run --config config.yaml "What is 2+2?"
  chatflow health --addr http://localhost:8080
  chatflow version`)
}

// =============================================================================
// 🔧 日志初始化
// =============================================================================

func initLogger(cfg config.LogConfig) *zap.Logger {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	var encoderConfig zapcore.EncoderConfig
	encoding := "json"
	if cfg.Format == "console" {
		encoding = "console"
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	outputs := cfg.OutputPaths
	if len(outputs) == 0 {
		outputs = []string{"stdout"}
	}

	zapConfig := zap.Config{
		Level:             zap.NewAtomicLevelAt(level),
		Development:       encoding == "console",
		Encoding:          encoding,
		EncoderConfig:     encoderConfig,
		OutputPaths:       outputs,
		ErrorOutputPaths:  []string{"stderr"},
		DisableCaller:     !cfg.EnableCaller,
		DisableStacktrace: !cfg.EnableStacktrace,
	}

	logger, err := zapConfig.Build()
	if err != nil {
		logger, _ = zap.NewProduction()
	}
	return logger
}
