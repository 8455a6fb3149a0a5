package core

import (
	"context"
	"expvar"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"contribledger/pkg/domain"
)

// OutcomeSuccess labels operations that returned no error. Failed operations
// are labelled with their domain.ErrorCode, or OutcomeInternal when the error
// carries none.
const (
	OutcomeSuccess  = "success"
	OutcomeInternal = "internal"
)

// Outcome labels err for metrics.
func Outcome(err error) string {
	if err == nil {
		return OutcomeSuccess
	}
	if code := domain.CodeOf(err); code != "" {
		return string(code)
	}
	return OutcomeInternal
}

var expvarSeq atomic.Uint64

// ExpvarMetricsRecorder publishes one expvar map per operation under
// /debug/vars. Each map holds the call count, the summed latency in
// milliseconds and one counter per outcome.
type ExpvarMetricsRecorder struct {
	name string
	root *expvar.Map

	mu  sync.Mutex
	ops map[string]*expvar.Map
}

// NewExpvarMetricsRecorder publishes the recorder under name, or under a
// generated unique name when name is empty.
func NewExpvarMetricsRecorder(name string) *ExpvarMetricsRecorder {
	if name == "" {
		name = fmt.Sprintf("contribledger_operations_%d", expvarSeq.Add(1))
	}
	return &ExpvarMetricsRecorder{
		name: name,
		root: expvar.NewMap(name),
		ops:  make(map[string]*expvar.Map),
	}
}

// Name returns the expvar export name.
func (r *ExpvarMetricsRecorder) Name() string { return r.name }

// Observe implements MetricsRecorder.
func (r *ExpvarMetricsRecorder) Observe(_ context.Context, operation string, err error, duration time.Duration) {
	if operation == "" {
		return
	}
	m := r.operation(operation)
	m.Add("calls", 1)
	m.AddFloat("duration_ms_total", float64(duration)/float64(time.Millisecond))
	m.Add(Outcome(err), 1)
}

// Count returns how many times operation finished with outcome.
func (r *ExpvarMetricsRecorder) Count(operation, outcome string) int64 {
	r.mu.Lock()
	m, ok := r.ops[operation]
	r.mu.Unlock()
	if !ok {
		return 0
	}
	if v, ok := m.Get(outcome).(*expvar.Int); ok {
		return v.Value()
	}
	return 0
}

func (r *ExpvarMetricsRecorder) operation(name string) *expvar.Map {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.ops[name]; ok {
		return m
	}
	m := new(expvar.Map).Init()
	r.ops[name] = m
	r.root.Set(name, m)
	return m
}
