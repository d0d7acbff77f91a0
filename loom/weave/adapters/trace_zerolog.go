package adapters

import (
	"context"
	"time"

	ports "github.com/ZanzyTHEbar/loreweave/loom/weave/ports"
	"github.com/rs/zerolog"
)

type spanLoggerKey struct{}

// ZerologTracer implements Tracer by logging span boundaries and events.
type ZerologTracer struct {
	logger zerolog.Logger
}

func NewZerologTracer(logger zerolog.Logger) *ZerologTracer {
	return &ZerologTracer{logger: logger}
}

// StartSpan logs the span start and returns a finish func that logs its duration.
// Nested spans inherit the parent's fields.
func (t *ZerologTracer) StartSpan(ctx context.Context, name string, attrs map[string]any) (context.Context, func(err error)) {
	parent := t.spanLogger(ctx)
	spanLogger := parent.With().Str("span", name).Fields(attrs).Logger()
	ctx = context.WithValue(ctx, spanLoggerKey{}, spanLogger)

	start := time.Now()
	spanLogger.Debug().Str("event", "span_start").Msg("Starting span")

	finish := func(err error) {
		event := spanLogger.Debug()
		if err != nil {
			event = spanLogger.Error().Err(err)
		}
		event.
			Str("event", "span_end").
			Dur("duration", time.Since(start)).
			Msg("Ending span")
	}

	return ctx, finish
}

// Event logs a named event on the current span, or the root logger outside one.
func (t *ZerologTracer) Event(ctx context.Context, name string, attrs map[string]any) {
	l := t.spanLogger(ctx)
	l.Info().
		Fields(attrs).
		Str("event", name).
		Msg("Tracing event")
}

func (t *ZerologTracer) spanLogger(ctx context.Context) zerolog.Logger {
	if l, ok := ctx.Value(spanLoggerKey{}).(zerolog.Logger); ok {
		return l
	}
	return t.logger
}

var _ ports.Tracer = (*ZerologTracer)(nil)
