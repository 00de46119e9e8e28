package tracker

import "context"

// Scope labels usage rows with what the call was made for.
type Scope struct {
	Operation string
	Stage     string
	RunID     string
}

type scopeKey struct{}

// WithScope attaches a usage scope to ctx.
func WithScope(ctx context.Context, s Scope) context.Context {
	return context.WithValue(ctx, scopeKey{}, s)
}

// ScopeFromContext returns the scope attached to ctx, defaulting Operation to completion.
func ScopeFromContext(ctx context.Context) Scope {
	s, _ := ctx.Value(scopeKey{}).(Scope)
	if s.Operation == "" {
		s.Operation = OperationCompletion
	}
	return s
}
