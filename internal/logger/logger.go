package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync/atomic"

	"log/slog"
)

// 包级日志门面。全仓库统一走 Debugf/Infof/Warnf/Errorf，
// 输出目标可被 main 在挂接日志文件后整体替换。

var (
	level   slog.LevelVar
	current atomic.Pointer[slog.Logger]
)

func init() {
	level.Set(slog.LevelInfo)
	current.Store(build(os.Stdout))
}

func build(w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stdout
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: &level}))
}

// SetOutput 替换日志输出目标。已在途的日志行继续写旧目标。
func SetOutput(w io.Writer) {
	current.Store(build(w))
}

// SetLevel 按配置字符串调整级别，无法识别时回落到 info。
func SetLevel(name string) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		level.Set(slog.LevelDebug)
	case "warn", "warning":
		level.Set(slog.LevelWarn)
	case "error":
		level.Set(slog.LevelError)
	default:
		level.Set(slog.LevelInfo)
	}
}

func Debugf(format string, args ...any) { current.Load().Debug(fmt.Sprintf(format, args...)) }

func Infof(format string, args ...any) { current.Load().Info(fmt.Sprintf(format, args...)) }

func Warnf(format string, args ...any) { current.Load().Warn(fmt.Sprintf(format, args...)) }

func Errorf(format string, args ...any) { current.Load().Error(fmt.Sprintf(format, args...)) }
