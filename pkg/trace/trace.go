package trace

import (
	"context"
	"strings"

	"github.com/google/uuid"
)

type ctxKey struct{}

// HeaderName 是承载 trace ID 的 HTTP header
const HeaderName = "X-Trace-ID"

// requestIDHeader 作为备选来源（网关/代理常用）
const requestIDHeader = "X-Request-ID"

// GenerateTraceID 生成一个新的 trace ID（32 位十六进制）
func GenerateTraceID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// FromContext 从 context 中获取 trace_id
func FromContext(ctx context.Context) string {
	if traceID, ok := ctx.Value(ctxKey{}).(string); ok {
		return traceID
	}
	return ""
}

// WithContext 将 trace_id 添加到 context 中
func WithContext(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, ctxKey{}, traceID)
}

// FromHeader 按 X-Trace-ID、X-Request-ID 的顺序取 trace ID，都没有则生成新的
func FromHeader(get func(string) string) string {
	for _, name := range []string{HeaderName, requestIDHeader} {
		if v := strings.TrimSpace(get(name)); v != "" && len(v) <= 128 {
			return v
		}
	}
	return GenerateTraceID()
}
