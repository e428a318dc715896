package logxpy

import (
	"context"

	"github.com/logxpy/logxpy-go/pkg/actionctx"
	"github.com/logxpy/logxpy-go/pkg/clock"
	"github.com/logxpy/logxpy-go/pkg/types"
)

// Field is re-exported so callers never need to import pkg/types directly
// for the common case of building log fields.
type Field = types.Field

func Int(name string, v int64) Field    { return Field{Name: name, Value: types.Int(v)} }
func Float(name string, v float64) Field { return Field{Name: name, Value: types.Float(v)} }
func Bool(name string, v bool) Field    { return Field{Name: name, Value: types.Bool(v)} }
func Str(name, v string) Field          { return Field{Name: name, Value: types.Str(v)} }

// rootContext lazily builds the synthetic root Action Context spec §3
// describes for records emitted outside any scope ("task_level = [1] and a
// fresh task_id").
func (l *Logger) rootContext() *actionctx.Context {
	return actionctx.Root(l.generator)
}

func (l *Logger) emit(ctx context.Context, level types.Level, msg string, fields []Field) *Logger {
	if severityRank(level) < severityRank(l.minLevel) {
		return l
	}
	ac, ok := actionctx.FromContext(ctx)
	if !ok {
		ac = l.rootContext()
	} else {
		// Spec invariant 3: a plain emission nested in a scope gets a
		// prefix-extension of the scope's task_level, not the scope's own
		// level verbatim (which is reserved for the scope's own boundary
		// records).
		ac = ac.Emission()
	}
	r := l.newRecord(ac, level, msg, fields)
	// ac here is always a transient, per-record context (a fresh root or a
	// one-shot Emission), never a Scope's own long-lived context, so its
	// backing span's lifetime is exactly this one record.
	ac.EndSpan()
	l.handle(&r)
	return l
}

// severityRank maps a Level to a filtering tier for init(level=...) (spec
// §6). The Level enum's declaration order is not itself a severity scale
// (success/note/checkpoint sit alongside info rather than above warning), so
// filtering uses this explicit rank instead of the raw enum value.
func severityRank(l types.Level) int {
	switch l {
	case types.LevelDebug:
		return 0
	case types.LevelInfo, types.LevelSuccess, types.LevelNote, types.LevelCheckpoint:
		return 10
	case types.LevelWarning:
		return 20
	case types.LevelError, types.LevelException:
		return 30
	case types.LevelCritical:
		return 40
	default:
		return 10
	}
}

// levelFromString parses init(level=...)'s string form, defaulting to debug
// (nothing filtered) for an empty or unrecognized value.
func levelFromString(s string) types.Level {
	switch s {
	case "debug":
		return types.LevelDebug
	case "info":
		return types.LevelInfo
	case "success":
		return types.LevelSuccess
	case "note":
		return types.LevelNote
	case "warning":
		return types.LevelWarning
	case "error":
		return types.LevelError
	case "critical":
		return types.LevelCritical
	case "checkpoint":
		return types.LevelCheckpoint
	case "exception":
		return types.LevelException
	default:
		return types.LevelDebug
	}
}

// Debug, Info, Success, Note, Warning, Error, Critical, Checkpoint, and
// Exception are the nine chainable severity methods spec §6 requires
// (log.<level>(msg, **fields) -> Self). Each emits against the background
// context's root Action Context; use WithContext for call sites that carry
// an action/task scope.
func (l *Logger) Debug(msg string, fields ...Field) *Logger {
	return l.emit(context.Background(), types.LevelDebug, msg, fields)
}
func (l *Logger) Info(msg string, fields ...Field) *Logger {
	return l.emit(context.Background(), types.LevelInfo, msg, fields)
}
func (l *Logger) Success(msg string, fields ...Field) *Logger {
	return l.emit(context.Background(), types.LevelSuccess, msg, fields)
}
func (l *Logger) Note(msg string, fields ...Field) *Logger {
	return l.emit(context.Background(), types.LevelNote, msg, fields)
}
func (l *Logger) Warning(msg string, fields ...Field) *Logger {
	return l.emit(context.Background(), types.LevelWarning, msg, fields)
}
func (l *Logger) Error(msg string, fields ...Field) *Logger {
	return l.emit(context.Background(), types.LevelError, msg, fields)
}
func (l *Logger) Critical(msg string, fields ...Field) *Logger {
	return l.emit(context.Background(), types.LevelCritical, msg, fields)
}
func (l *Logger) Checkpoint(msg string, fields ...Field) *Logger {
	return l.emit(context.Background(), types.LevelCheckpoint, msg, fields)
}
func (l *Logger) Exception(msg string, fields ...Field) *Logger {
	return l.emit(context.Background(), types.LevelException, msg, fields)
}

// WithContext returns a Logger-like handle whose log.<level>() calls carry
// ctx's Action Context (the task/action scope started by StartAction,
// StartTask, or Scope), rather than a fresh synthetic root.
func (l *Logger) WithContext(ctx context.Context) *Bound {
	return &Bound{logger: l, ctx: ctx}
}

// Bound pairs a Logger with a context.Context carrying an Action Context,
// so chained log.<level>() calls inside a scope attribute to the right
// task_id/task_level (spec §3/§4.3).
type Bound struct {
	logger *Logger
	ctx    context.Context
}

func (b *Bound) Debug(msg string, fields ...Field) *Bound {
	b.logger.emit(b.ctx, types.LevelDebug, msg, fields)
	return b
}
func (b *Bound) Info(msg string, fields ...Field) *Bound {
	b.logger.emit(b.ctx, types.LevelInfo, msg, fields)
	return b
}
func (b *Bound) Success(msg string, fields ...Field) *Bound {
	b.logger.emit(b.ctx, types.LevelSuccess, msg, fields)
	return b
}
func (b *Bound) Note(msg string, fields ...Field) *Bound {
	b.logger.emit(b.ctx, types.LevelNote, msg, fields)
	return b
}
func (b *Bound) Warning(msg string, fields ...Field) *Bound {
	b.logger.emit(b.ctx, types.LevelWarning, msg, fields)
	return b
}
func (b *Bound) Error(msg string, fields ...Field) *Bound {
	b.logger.emit(b.ctx, types.LevelError, msg, fields)
	return b
}
func (b *Bound) Critical(msg string, fields ...Field) *Bound {
	b.logger.emit(b.ctx, types.LevelCritical, msg, fields)
	return b
}
func (b *Bound) Checkpoint(msg string, fields ...Field) *Bound {
	b.logger.emit(b.ctx, types.LevelCheckpoint, msg, fields)
	return b
}
func (b *Bound) Exception(msg string, fields ...Field) *Bound {
	b.logger.emit(b.ctx, types.LevelException, msg, fields)
	return b
}

// Context returns the context.Context carrying the bound Action Context, for
// passing to downstream calls (spawned goroutines, RPCs) that should
// continue the same task tree.
func (b *Bound) Context() context.Context { return b.ctx }

// ActionHandle is returned by StartAction/StartTask: callers finish it with
// exactly one of Succeed, Fail, or Finish (spec §4.3's one-shot transition).
type ActionHandle struct {
	scope *actionctx.Scope
	ctx   context.Context
}

// Context returns the child context.Context to propagate to continuations
// spawned inside this action.
func (h *ActionHandle) Context() context.Context { return h.ctx }

// Succeed closes the action with status=succeeded (spec §4.3).
func (h *ActionHandle) Succeed(fields ...Field) {
	h.scope.Succeed(fields, h.nowSeconds())
}

// Fail closes the action with status=failed and an error classification
// (spec §4.3).
func (h *ActionHandle) Fail(errClass, errMsg string, fields ...Field) {
	h.scope.Fail(errClass, errMsg, fields, h.nowSeconds())
}

// Finish closes the action via the generic err==nil => succeed, err!=nil =>
// fail path, for deferred cleanup (spec §9's "scoped guard" pattern):
//
//	action, ctx := log.StartAction(ctx, "load_config")
//	defer func() { action.Finish(err) }()
func (h *ActionHandle) Finish(err error) {
	h.scope.Finish(err, h.nowSeconds())
}

func (h *ActionHandle) nowSeconds() float64 {
	return clock.WallSeconds(clock.System{})
}

// StartAction opens a child action scope of ctx's Action Context (or a fresh
// synthetic root if ctx carries none), emitting the paired start record
// immediately (spec §6 start_action(type, **fields)).
func (l *Logger) StartAction(ctx context.Context, actionType string, fields ...Field) (*ActionHandle, context.Context) {
	scope, childCtx := actionctx.StartAction(ctx, l, actionType, fields, clock.WallSeconds(l.clock), l.rootContext)
	return &ActionHandle{scope: scope, ctx: childCtx}, childCtx
}

// StartTask is an alias for StartAction in this implementation: spec §6
// lists start_task(type, **fields) as a distinct primitive from
// start_action, but both open a child scope of the Action Context tree and
// differ only in the caller's intent (a "task" is expected to outlive the
// scope that created it, e.g. handed off to another goroutine via Context()
// — which StartAction's returned context already supports).
func (l *Logger) StartTask(ctx context.Context, taskType string, fields ...Field) (*ActionHandle, context.Context) {
	return l.StartAction(ctx, taskType, fields...)
}

// Scope pushes ambient fields onto ctx's Action Context, returning a new
// context.Context whose subsequent log.<level>() calls (and child
// StartAction calls) automatically carry those fields (spec §6 scope(**ctx)).
func (l *Logger) Scope(ctx context.Context, fields ...Field) context.Context {
	ac, ok := actionctx.FromContext(ctx)
	if !ok {
		ac = l.rootContext()
	}
	return actionctx.NewContext(ctx, ac.WithScopeFields(fields))
}

// SerializeTaskID renders ctx's task id/level for cross-process propagation
// (spec §4.3 serialize_task_id()).
func (l *Logger) SerializeTaskID(ctx context.Context) (string, bool) {
	ac, ok := actionctx.FromContext(ctx)
	if !ok {
		return "", false
	}
	return actionctx.SerializeTaskID(ac), true
}

// ContinueTask reconstructs a context.Context carrying the Action Context
// described by serialized (as produced by SerializeTaskID), attaching this
// Logger's id generator so further child scopes can be opened (spec §4.3
// continue_task()).
func (l *Logger) ContinueTask(parent context.Context, serialized string) (context.Context, bool) {
	ac, ok := actionctx.ContinueTask(serialized)
	if !ok {
		return parent, false
	}
	ac.SetGenerator(l.generator)
	return actionctx.NewContext(parent, ac), true
}
