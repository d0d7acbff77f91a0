package weaveports

import "context"

// Tracer emits spans and events around each turn.
type Tracer interface {
	StartSpan(ctx context.Context, name string, attrs map[string]any) (context.Context, func(err error))
	Event(ctx context.Context, name string, attrs map[string]any)
}
