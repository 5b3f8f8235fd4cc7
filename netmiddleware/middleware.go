// Package netmiddleware implements the onion model middleware chain the RPC
// server loop (consumer.RpcServer) wraps around server-side RPC dispatch.
//
// Middleware wraps the dispatch handler to add cross-cutting concerns
// (logging, timeout, rate limiting) without modifying the handler itself.
// The handler maps an incoming RpcMessage to the ResultMessage that will be
// routed back along the call's return path.
//
// Onion model execution order:
//
//	Chain(A, B, C)(handler)  →  A(B(C(handler)))
//
//	Request:   A.before → B.before → C.before → handler
//	Response:  handler → C.after → B.after → A.after
//
// Each middleware can:
//   - Do pre-processing (before calling next)
//   - Call next(ctx, req) to pass to the next layer
//   - Do post-processing (after next returns)
//   - Short-circuit by returning early without calling next (e.g., rate limiting)
package netmiddleware

import (
	"context"

	"github.com/bx-d/bus/message"
)

// HandlerFunc is the function signature for RPC dispatch handlers.
// Both the dispatch handler and middleware-wrapped handlers share this signature.
type HandlerFunc func(ctx context.Context, req *message.RpcMessage) *message.ResultMessage

// Middleware takes a handler and returns a new handler that wraps it.
// This is the decorator pattern — each middleware adds behavior around the next handler.
type Middleware func(next HandlerFunc) HandlerFunc

// Chain composes multiple middlewares into a single middleware.
// It builds the chain from right to left so that the first middleware in the list
// is the outermost layer (executed first on request, last on response).
//
// Example:
//
//	chain := Chain(Logging(logger), Timeout(d), RateLimit(r, b))
//	handler := chain(dispatchHandler)
//	// Execution: Logging → Timeout → RateLimit → dispatchHandler → RateLimit → Timeout → Logging
func Chain(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		// Build from right to left: wrap innermost first
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}
