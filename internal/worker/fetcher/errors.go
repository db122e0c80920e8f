package fetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"oneseed-engine/internal/worker/model"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rpc"
)

type Reason string

const (
	ReasonRangeTooLarge Reason = "range_too_large"
	ReasonTimeout       Reason = "timeout"
	ReasonCanceled      Reason = "canceled"
	ReasonRPC           Reason = "rpc"
)

// LogQueryError 单个事件类型的日志查询失败，只影响该类型本轮的结果
type LogQueryError struct {
	Kind     model.Kind
	Contract common.Address
	Window   Window
	Reason   Reason
	Err      error
}

func (e *LogQueryError) Error() string {
	return fmt.Sprintf("log query %s on %s [%s] failed (%s): %v", e.Kind, e.Contract.Hex(), e.Window, e.Reason, e.Err)
}

func (e *LogQueryError) Unwrap() error {
	return e.Err
}

// 各家 RPC 对区块范围过大的报错文案
var rangeTooLargeTokens = []string{
	"block range",
	"range too large",
	"range is too large",
	"query returned more than",
	"exceed maximum block range",
	"limit exceeded",
	"too many blocks",
	"response size exceeded",
	"log response size",
}

var timeoutTokens = []string{
	"timeout",
	"timed out",
	"deadline exceeded",
}

// classify 区分范围过大 / 超时 / 普通 RPC 错误
func classify(err error) Reason {
	if errors.Is(err, context.Canceled) {
		return ReasonCanceled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ReasonTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ReasonTimeout
	}

	lower := strings.ToLower(err.Error())
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) && rpcErr.ErrorCode() == -32005 {
		return ReasonRangeTooLarge
	}
	if containsAny(lower, rangeTooLargeTokens) {
		return ReasonRangeTooLarge
	}
	if containsAny(lower, timeoutTokens) {
		return ReasonTimeout
	}
	return ReasonRPC
}

func containsAny(msg string, tokens []string) bool {
	for _, token := range tokens {
		if strings.Contains(msg, token) {
			return true
		}
	}
	return false
}
