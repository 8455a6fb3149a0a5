package core

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"

	"contribledger/pkg/domain"
)

// SpanRecord is one finished operation as written by JSONTracer.
type SpanRecord struct {
	Operation  string           `json:"operation"`
	Outcome    string           `json:"outcome"`
	Code       domain.ErrorCode `json:"code,omitempty"`
	Error      string           `json:"error,omitempty"`
	DurationMS float64          `json:"duration_ms"`
	StartedAt  time.Time        `json:"started_at"`
}

// JSONTracer writes one JSON line per finished operation.
type JSONTracer struct {
	mu  sync.Mutex
	enc *json.Encoder
	now func() time.Time
}

// NewJSONTracer writes spans to w.
func NewJSONTracer(w io.Writer) *JSONTracer {
	return &JSONTracer{
		enc: json.NewEncoder(w),
		now: func() time.Time { return time.Now().UTC() },
	}
}

// Start implements Tracer.
func (t *JSONTracer) Start(ctx context.Context, operation string) (context.Context, TraceSpan) {
	return ctx, &jsonSpan{tracer: t, operation: operation, started: t.now()}
}

type jsonSpan struct {
	tracer    *JSONTracer
	operation string
	started   time.Time
	once      sync.Once
}

func (s *jsonSpan) End(err error) {
	s.once.Do(func() {
		rec := SpanRecord{
			Operation:  s.operation,
			Outcome:    Outcome(err),
			Code:       domain.CodeOf(err),
			DurationMS: float64(s.tracer.now().Sub(s.started)) / float64(time.Millisecond),
			StartedAt:  s.started,
		}
		if err != nil {
			rec.Error = err.Error()
		}
		s.tracer.mu.Lock()
		_ = s.tracer.enc.Encode(rec)
		s.tracer.mu.Unlock()
	})
}
