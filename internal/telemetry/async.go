package telemetry

import (
	"context"
	"time"

	"tenant-auth-policy/internal/audit"
)

// emitTimeout is the max time allowed for a single async audit write. Used by AsyncSink and by ShutdownDrainDuration.
const emitTimeout = 5 * time.Second

// ShutdownDrainDuration is how long to wait after gRPC GracefulStop before shutting down OTel providers,
// so in-flight async audit writes have time to complete. Must be >= emitTimeout.
const ShutdownDrainDuration = emitTimeout

// AsyncSink wraps an audit.Sink so Record returns immediately. The write runs in a goroutine bounded by
// emitTimeout and detached from request cancellation; context values (client IP, identity) are kept.
type AsyncSink struct {
	next audit.Sink
}

// NewAsyncSink returns an AsyncSink over next. A nil next yields a sink that drops events.
func NewAsyncSink(next audit.Sink) *AsyncSink {
	if next == nil {
		next = audit.Discard
	}
	return &AsyncSink{next: next}
}

// Record forwards e to the wrapped sink without blocking the caller.
func (s *AsyncSink) Record(ctx context.Context, e audit.Event) {
	detached := context.WithoutCancel(ctx)
	go func() {
		emitCtx, cancel := context.WithTimeout(detached, emitTimeout)
		defer cancel()
		s.next.Record(emitCtx, e)
	}()
}
