package netmiddleware

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/bx-d/bus/message"
)

// Retry re-runs the handler when the result carries a transient error
// (timeouts, connection refusals from downstream collaborators), backing
// off exponentially between attempts. Non-transient errors — unknown API,
// unknown procedure, a procedure's own failure — return immediately: the
// caller must see those, not a masked retry.
func Retry(maxRetries int, baseDelay time.Duration, logger *zap.SugaredLogger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.RpcMessage) *message.ResultMessage {
			result := next(ctx, req)
			for i := 0; i < maxRetries; i++ {
				if !result.Error {
					return result // Success, return response
				}
				text, _ := result.Result.(string)
				if strings.Contains(text, "timed out") || strings.Contains(text, "connection refused") {
					logger.Warnw("retrying rpc dispatch",
						"attempt", i+1,
						"procedure", req.CanonicalName(),
						"error", text,
					)
					time.Sleep(baseDelay * time.Duration(1<<i)) // Exponential backoff
					result = next(ctx, req)                     // Retry the dispatch
				} else {
					return result // Non-retryable error, return immediately
				}
			}
			return result // Return last response after retries
		}
	}
}
