package netmiddleware

import (
	"context"

	"golang.org/x/time/rate"

	"github.com/bx-d/bus/buserr"
	"github.com/bx-d/bus/message"
)

// RateLimit caps how fast the dispatch layer accepts inbound calls: one
// token per dispatch, refilled at r per second up to burst. Short bursts
// ride through on the bucket; sustained overload is shed immediately
// instead of queueing behind slow procedures.
//
// The limiter lives in the outer closure, shared by every dispatch this
// middleware wraps — one bucket per RateLimit(...) in the chain, not one
// per call. A call that finds the bucket empty short-circuits: the rest of
// the chain never runs, and the caller receives an error result built from
// ErrRateLimited, the same shape any other dispatch failure takes, so the
// remote side can match on it and back off.
func RateLimit(r float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.RpcMessage) *message.ResultMessage {
			if !limiter.Allow() {
				return message.NewResultMessageFromError(req.ID(),
					buserr.Wrapf(buserr.ErrRateLimited, "%s", req.CanonicalName()))
			}
			return next(ctx, req)
		}
	}
}
