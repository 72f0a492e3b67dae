package admission

import "context"

type resultKey struct{}

// WithResult attaches a decision to ctx
func WithResult(ctx context.Context, result *Result) context.Context {
	return context.WithValue(ctx, resultKey{}, result)
}

// FromContext returns the decision taken for the current request, if any
func FromContext(ctx context.Context) (*Result, bool) {
	if ctx == nil {
		return nil, false
	}
	result, ok := ctx.Value(resultKey{}).(*Result)
	return result, ok
}
