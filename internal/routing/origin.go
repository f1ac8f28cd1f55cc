package routing

import "context"

// Origin describes the HTTP request that triggered a routing decision.
type Origin struct {
	ClientIP  string
	RequestID string
}

type originKey struct{}

// WithOrigin attaches o to ctx. Callback handlers do this before handing a
// request to the engine so override audits can name the caller.
func WithOrigin(ctx context.Context, o Origin) context.Context {
	if o == (Origin{}) {
		return ctx
	}
	return context.WithValue(ctx, originKey{}, o)
}

func OriginFrom(ctx context.Context) Origin {
	o, _ := ctx.Value(originKey{}).(Origin)
	return o
}
