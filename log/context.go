package log

import "context"

// loggerKey is the context key for the injected Logger.
type loggerKey struct{}

// ToContext returns a copy of ctx carrying logger.
func ToContext(ctx context.Context, logger Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

// FromContext returns the Logger carried by ctx, or nil if none was set.
func FromContext(ctx context.Context) Logger {
	logger, ok := ctx.Value(loggerKey{}).(Logger)
	if !ok {
		return nil
	}
	return logger
}

// FromContextOrNoop returns the Logger carried by ctx, or a no-op Logger
// if none was set. Callers that always want a non-nil Logger should use
// this instead of FromContext.
func FromContextOrNoop(ctx context.Context) Logger {
	if logger := FromContext(ctx); logger != nil {
		return logger
	}
	return Noop()
}
