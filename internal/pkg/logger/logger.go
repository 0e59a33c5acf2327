// Package logger 提供基于 zerolog 的全局结构化日志，并自动附带链路追踪信息。
package logger

import (
	"context"
	"io"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

var base atomic.Pointer[zerolog.Logger]

func init() {
	l := zerolog.New(os.Stdout).With().Timestamp().Logger()
	base.Store(&l)
}

// Init 根据服务名、日志级别和输出格式初始化全局 logger。
// format 为 "console" 时输出人类可读格式，其他值输出 JSON。
func Init(serviceName, level, format string) {
	var out io.Writer = os.Stdout
	if strings.EqualFold(format, "console") {
		out = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	l := zerolog.New(out).Level(lvl).With().Timestamp().Str("service", serviceName).Logger()
	base.Store(&l)
}

// SetOutput 替换全局 logger 的输出，主要用于测试。
func SetOutput(w io.Writer) {
	l := base.Load().Output(w)
	base.Store(&l)
}

// L 返回不带上下文信息的全局 logger。
func L() *zerolog.Logger {
	return base.Load()
}

// Ctx 返回一个携带当前 span 的 trace_id / span_id 的 logger。
func Ctx(ctx context.Context) *zerolog.Logger {
	l := base.Load()
	if ctx == nil {
		return l
	}
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return l
	}
	enriched := l.With().
		Str("trace_id", sc.TraceID().String()).
		Str("span_id", sc.SpanID().String()).
		Logger()
	return &enriched
}
