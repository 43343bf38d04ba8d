package app

import (
	"os"
	"strings"
	"time"

	"github.com/Do1K/b2b-point-service/internal/config"
	"github.com/Do1K/b2b-point-service/internal/logger"

	"go.uber.org/zap"
)

// 启动模式：api 只处理准入请求，worker 只消费队列并定时入库
const (
	ModeAll    = "all"
	ModeAPI    = "api"
	ModeWorker = "worker"
)

// Options 应用启动选项
type Options struct {
	Config          *config.Config
	Logger          *zap.SugaredLogger
	Signals         []os.Signal
	ShutdownTimeout time.Duration
	Mode            string
}

// normalizeOptions 补齐默认参数
func normalizeOptions(opts Options) Options {
	if opts.Logger == nil {
		opts.Logger = logger.S()
	}
	if opts.ShutdownTimeout <= 0 {
		// worker 停止时会再跑一轮入库，留出足够时间
		opts.ShutdownTimeout = 30 * time.Second
	}
	opts.Mode = strings.ToLower(strings.TrimSpace(opts.Mode))
	if opts.Mode == "" {
		opts.Mode = ModeAll
	}
	return opts
}

func isKnownMode(mode string) bool {
	switch mode {
	case ModeAll, ModeAPI, ModeWorker:
		return true
	default:
		return false
	}
}
