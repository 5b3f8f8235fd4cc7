package netmiddleware

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/bx-d/bus/message"
)

// Logging records the procedure, duration, and any errors for each
// dispatched call. It captures the start time before calling next, and logs
// the elapsed time after next returns.
func Logging(logger *zap.SugaredLogger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.RpcMessage) *message.ResultMessage {
			start := time.Now()

			// Call the next handler in the chain
			result := next(ctx, req)

			// Post-processing: log duration and errors
			logger.Infow("rpc dispatched",
				"procedure", req.CanonicalName(),
				"rpc_message_id", req.ID(),
				"duration", time.Since(start),
			)
			if result.Error {
				logger.Warnw("rpc dispatch failed",
					"procedure", req.CanonicalName(),
					"rpc_message_id", req.ID(),
					"error", result.Result,
				)
			}
			return result
		}
	}
}
