package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"strings"

	"github.com/rabbitmq/amqp091-go"
)

// classifyPublishError 判断发布失败是否值得重试。
// payload 无法解析的事件重试也不会成功，直接标记为 failed 留给人工重放。
func classifyPublishError(err error) (retryable bool, errorType string) {
	if err == nil {
		return false, ""
	}

	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return false, "payload_decode_error"
	}

	if errors.Is(err, context.Canceled) {
		return true, "context_canceled"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true, "timeout"
	}

	if errors.Is(err, amqp091.ErrClosed) {
		return true, "mq_channel_closed"
	}
	var amqpErr *amqp091.Error
	if errors.As(err, &amqpErr) {
		return amqpErr.Recover, "mq_error"
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return true, "network_timeout"
		}
		return true, "network_error"
	}
	if strings.Contains(err.Error(), "connection") {
		return true, "connection_error"
	}

	// 其余错误按可重试处理，超过 maxRetries 后仍会落到 failed
	return true, "unknown_error"
}
