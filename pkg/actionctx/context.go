// Package actionctx implements the per-task Action Context (spec §4.3): a
// tree of contexts threaded through goroutines via context.Context (the
// "explicit propagation handle" spec §9 calls for instead of a hidden
// interpreter-global), carrying the current task id, task level, and a
// monotonically increasing child-step counter.
//
// Grounded on the teacher's pkg/tracing/tracing.go parent/child span
// bookkeeping (trace id + span id + parent span id inherited across calls),
// adapted from distributed tracing's flat span graph to spec §3's
// hierarchical task_level model, and on pkg/task_manager/task_manager.go's
// one-shot state-transition discipline for Scope.Finish.
package actionctx

import (
	"context"
	"sync/atomic"

	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/logxpy/logxpy-go/pkg/ordered"
	"github.com/logxpy/logxpy-go/pkg/taskid"
	"github.com/logxpy/logxpy-go/pkg/types"
)

type ctxKey struct{}

// tracer backs every Context's place in the action tree with a real
// OpenTelemetry span (parent/child span IDs mirroring task_level), the same
// bookkeeping the teacher's pkg/tracing/tracing.go used for distributed
// tracing. No SpanProcessor/exporter is registered: SPEC_FULL.md has no
// trace-export destination, so spans are never shipped anywhere, but the
// SDK's own span/trace ID allocation and parent-child linkage are real.
var tracer = sdktrace.NewTracerProvider().Tracer("github.com/logxpy/logxpy-go/pkg/actionctx")

// Context is one node in the per-process action-context tree. It holds no
// reference to its parent at all: a child takes the parent's readonly
// ambient-field snapshot when it is opened, so Context never walks upward
// after construction.
type Context struct {
	taskID     string
	level      []int
	childStep  int64 // atomic, next child gets AddInt64(&childStep, 1)
	ambient    *ordered.Fields
	generator  taskid.Generator
	span       oteltrace.Span
}

// Root creates a new root Context with task_level = [1] (spec §3: "Records
// emitted outside any scope get a synthetic root context with task_level =
// [1] and a fresh task_id").
func Root(gen taskid.Generator) *Context {
	_, span := tracer.Start(context.Background(), "logxpy.root")
	taskID := gen.NewRoot()
	span.SetAttributes(attribute.String("logxpy.task_id", taskID))
	return &Context{
		taskID:    taskID,
		level:     []int{1},
		ambient:   ordered.New(),
		generator: gen,
		span:      span,
	}
}

// EndSpan closes the OTel span backing this context's place in the action
// tree. Scope.finish calls this once the scope's own end record is emitted;
// the facade's transient per-emission contexts (Emission, rootContext) end
// their span immediately after the record they back is built, since those
// contexts have no start/end lifecycle of their own.
func (c *Context) EndSpan() {
	if c.span != nil {
		c.span.End()
	}
}

// TaskID returns this context's task identifier.
func (c *Context) TaskID() string { return c.taskID }

// TaskLevel returns a copy of this context's task_level path.
func (c *Context) TaskLevel() []int {
	out := make([]int, len(c.level))
	copy(out, c.level)
	return out
}

// Ambient returns the ambient scope fields snapshot captured for this
// context.
func (c *Context) Ambient() *ordered.Fields { return c.ambient }

// Emission returns a derived Context for one plain log record nested inside
// this scope: spec §8 invariant 3 requires a plain emission's task_level to
// be a prefix-extension of the enclosing scope's task_level, allocated off
// the same atomic child-step counter StartAction uses, so a record emitted
// between two nested start_action calls and the nested scope itself never
// collide on the same step.
func (c *Context) Emission() *Context {
	return c.child(nil)
}

// child allocates the next child step atomically (spec §4.3: "concurrent
// start_action on the same parent context must allocate distinct child step
// numbers atomically") and returns a new Context one level deeper.
func (c *Context) child(extraAmbient []types.Field) *Context {
	step := atomic.AddInt64(&c.childStep, 1)
	level := make([]int, len(c.level)+1)
	copy(level, c.level)
	level[len(level)-1] = int(step)

	ambient := c.ambient.Snapshot()
	if len(extraAmbient) > 0 {
		ambient = ambient.WithAll(extraAmbient)
	}

	taskID := c.generator.Child(c.taskID, int(step))

	var span oteltrace.Span
	if c.span != nil {
		parent := oteltrace.ContextWithSpan(context.Background(), c.span)
		_, span = tracer.Start(parent, "logxpy.child")
		span.SetAttributes(
			attribute.String("logxpy.task_id", taskID),
			attribute.Int64("logxpy.child_step", step),
		)
	}

	return &Context{
		taskID:    taskID,
		level:     level,
		ambient:   ambient,
		generator: c.generator,
		span:      span,
	}
}

// WithScopeFields returns a new Context at the same level with additional
// ambient fields pushed on top (the scope(**ctx) facade primitive, spec §6).
func (c *Context) WithScopeFields(fields []types.Field) *Context {
	return &Context{
		taskID:    c.taskID,
		level:     c.level,
		ambient:   c.ambient.Snapshot().WithAll(fields),
		generator: c.generator,
		childStep: atomic.LoadInt64(&c.childStep),
		span:      c.span,
	}
}

// FromContext retrieves the task-local Context, if any.
func FromContext(ctx context.Context) (*Context, bool) {
	c, ok := ctx.Value(ctxKey{}).(*Context)
	return c, ok
}

// NewContext returns a derived context.Context carrying ac, for explicit
// propagation across goroutine boundaries (spawned children, continuations).
func NewContext(parent context.Context, ac *Context) context.Context {
	return context.WithValue(parent, ctxKey{}, ac)
}
