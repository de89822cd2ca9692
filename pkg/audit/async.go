package audit

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

const (
	defaultBufferSize = 1024
	writeTimeout      = 10 * time.Second
)

// Stats are the delivery counters of an AsyncLogger.
type Stats struct {
	Written int64 `json:"written"`
	Failed  int64 `json:"failed"`
	Dropped int64 `json:"dropped"`
	Pending int   `json:"pending"`
}

// AsyncLogger delivers records to a sink on a single background worker so
// callers never wait on the sink. Records are written in the order Log was
// called. When the queue is full the record is dropped and counted.
type AsyncLogger struct {
	sink  Logger
	queue chan Record
	done  chan struct{}

	mu     sync.RWMutex
	closed bool

	written atomic.Int64
	failed  atomic.Int64
	dropped atomic.Int64
}

// NewAsyncLogger starts a worker delivering to sink. A non-positive
// bufferSize uses the default.
func NewAsyncLogger(sink Logger, bufferSize int) *AsyncLogger {
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	l := &AsyncLogger{
		sink:  sink,
		queue: make(chan Record, bufferSize),
		done:  make(chan struct{}),
	}
	go l.run()
	return l
}

// Log enqueues record and returns immediately. It never returns an error.
func (l *AsyncLogger) Log(_ context.Context, record Record) error {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.closed {
		l.drop(record, "logger closed")
		return nil
	}
	select {
	case l.queue <- record:
	default:
		l.drop(record, "queue full")
	}
	return nil
}

func (l *AsyncLogger) drop(record Record, reason string) {
	l.dropped.Add(1)
	slog.Warn("audit record dropped",
		"reason", reason,
		"agent_id", record.AgentID,
		"module", record.Module,
		"action", record.Action,
		"result", record.Result,
	)
}

func (l *AsyncLogger) run() {
	defer close(l.done)
	for record := range l.queue {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		err := l.sink.Log(ctx, record)
		cancel()
		if err != nil {
			l.failed.Add(1)
			slog.Warn("audit write failed",
				"agent_id", record.AgentID,
				"action", record.Action,
				"result", record.Result,
				"error", err,
			)
			continue
		}
		l.written.Add(1)
	}
}

// Query reads from the sink. Queued records are not yet visible.
func (l *AsyncLogger) Query(ctx context.Context, filter QueryFilter) ([]Record, error) {
	return l.sink.Query(ctx, filter) //nolint:wrapcheck // pass-through
}

// Summary delegates to the sink when it can aggregate.
func (l *AsyncLogger) Summary(ctx context.Context, filter QueryFilter) (*Summary, error) {
	s, ok := l.sink.(Summarizer)
	if !ok {
		return nil, nil //nolint:nilnil // sink has no aggregation
	}
	return s.Summary(ctx, filter) //nolint:wrapcheck // pass-through
}

// Stats returns the current delivery counters.
func (l *AsyncLogger) Stats() Stats {
	return Stats{
		Written: l.written.Load(),
		Failed:  l.failed.Load(),
		Dropped: l.dropped.Load(),
		Pending: len(l.queue),
	}
}

// Flush blocks until the queue is empty or ctx is done. Records being
// written when the queue drains may still be in flight.
func (l *AsyncLogger) Flush(ctx context.Context) error {
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for {
		if len(l.queue) == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Close stops accepting records, drains the queue and closes the sink.
func (l *AsyncLogger) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	close(l.queue)
	l.mu.Unlock()

	<-l.done
	return l.sink.Close() //nolint:wrapcheck // pass-through
}

var (
	_ Logger     = (*AsyncLogger)(nil)
	_ Summarizer = (*AsyncLogger)(nil)
)
