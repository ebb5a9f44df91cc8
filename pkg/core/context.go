package core

import "context"

type liveKey struct{}

// Live is what a connected socket carries through event handling.
type Live struct {
	Socket  *Socket
	Session Session
	Params  Params
}

// WithLive stores l in ctx.
func WithLive(ctx context.Context, l Live) context.Context {
	return context.WithValue(ctx, liveKey{}, l)
}

// LiveFromContext returns the connection stored by WithLive. ok is false
// for static renders.
func LiveFromContext(ctx context.Context) (l Live, ok bool) {
	l, ok = ctx.Value(liveKey{}).(Live)
	return l, ok && l.Socket != nil
}
