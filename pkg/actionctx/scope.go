package actionctx

import (
	"context"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/logxpy/logxpy-go/pkg/taskid"
	"github.com/logxpy/logxpy-go/pkg/types"
)

// scopeState mirrors the STARTED -> {SUCCEEDED | FAILED} state machine of
// spec §4.3, grounded on the teacher's task_manager running/completed/failed
// transitions, but a double-Finish here is surfaced as an error record
// instead of a panic, as spec §4.3 explicitly requires.
type scopeState int32

const (
	scopeStarted scopeState = iota
	scopeFinished
)

// Emitter is the narrow interface Scope needs from the facade to emit the
// start/end records without importing the writer package (which would create
// an import cycle back through the facade).
type Emitter interface {
	EmitActionBoundary(ctx *Context, actionType string, status types.ActionStatus, fields []types.Field, durationSeconds float64, hasDuration bool, errClass, errMsg string)
	// EmitDoubleFinish is called when Finish is invoked a second time on the
	// same Scope; it must never panic (spec §4.3).
	EmitDoubleFinish(ctx *Context, actionType string)
}

// Scope is the handle returned by StartAction/StartTask; exactly one of
// Succeed/Fail/Finish must be called on it (spec §4.3's one-shot
// transitions). Callers that prefer exception-style cleanup should defer
// Scope.Finish(err) per spec §9's "scoped guard whose destructor emits the
// end-record on all exit paths".
type Scope struct {
	emitter    Emitter
	ctx        *Context
	parentCtx  context.Context
	actionType string
	startedAt  float64
	state      int32 // atomic scopeState
}

// StartAction opens a child scope of the context found in parentCtx (or a
// fresh root if none is present), emits the start record, and returns the
// Scope plus a context.Context carrying the child for propagation to
// continuations/spawned goroutines.
func StartAction(parentCtx context.Context, emitter Emitter, actionType string, fields []types.Field, nowSeconds float64, rootFactory func() *Context) (*Scope, context.Context) {
	// A freshly synthesized root is already at the correct level ([1]) for
	// this scope and must be used as-is: extending it with .child() would
	// double-advance the level to [1,1], contradicting spec.md's S3 scenario
	// where the first opened scope sits at task_level=[1].
	parent, ok := FromContext(parentCtx)
	var child *Context
	if ok {
		child = parent.child(nil)
	} else {
		child = rootFactory()
	}

	emitter.EmitActionBoundary(child, actionType, types.ActionStatusStarted, fields, 0, false, "", "")

	s := &Scope{
		emitter:    emitter,
		ctx:        child,
		parentCtx:  parentCtx,
		actionType: actionType,
		startedAt:  nowSeconds,
		state:      int32(scopeStarted),
	}
	return s, NewContext(parentCtx, child)
}

// Context returns the Action Context this scope owns.
func (s *Scope) Context() *Context { return s.ctx }

// Succeed finishes the scope with status=succeeded.
func (s *Scope) Succeed(fields []types.Field, nowSeconds float64) {
	s.finish(types.ActionStatusSucceeded, fields, nowSeconds, "", "")
}

// Fail finishes the scope with status=failed and an error classification.
func (s *Scope) Fail(errClass, errMsg string, fields []types.Field, nowSeconds float64) {
	s.finish(types.ActionStatusFailed, fields, nowSeconds, errClass, errMsg)
}

// Finish is the generic exit path used by deferred guards: finish(err) in the
// teacher's idiom translates to "succeed if err == nil, fail otherwise".
func (s *Scope) Finish(err error, nowSeconds float64) {
	if err == nil {
		s.Succeed(nil, nowSeconds)
		return
	}
	s.Fail(classifyError(err), err.Error(), nil, nowSeconds)
}

func (s *Scope) finish(status types.ActionStatus, fields []types.Field, nowSeconds float64, errClass, errMsg string) {
	if !atomic.CompareAndSwapInt32(&s.state, int32(scopeStarted), int32(scopeFinished)) {
		s.emitter.EmitDoubleFinish(s.ctx, s.actionType)
		return
	}
	duration := nowSeconds - s.startedAt
	s.emitter.EmitActionBoundary(s.ctx, s.actionType, status, fields, duration, true, errClass, errMsg)
	s.ctx.EndSpan()
}

func classifyError(err error) string {
	return "error"
}

// SerializeTaskID renders the cross-boundary propagation form described in
// spec §4.3 ("serialize_task_id() -> String"): task id and level joined so a
// receiver on another thread/process can resume the same task tree via
// ContinueTask.
func SerializeTaskID(c *Context) string {
	parts := make([]string, len(c.level))
	for i, v := range c.level {
		parts[i] = strconv.Itoa(v)
	}
	return c.taskID + "|" + strings.Join(parts, ".")
}

// ContinueTask reconstructs a Context from a string produced by
// SerializeTaskID, for resuming work that crossed a thread or process
// boundary (spec §4.3 "continue_task").
func ContinueTask(serialized string) (*Context, bool) {
	taskID, levelPart, found := strings.Cut(serialized, "|")
	if !found {
		return nil, false
	}
	fields := strings.Split(levelPart, ".")
	level := make([]int, 0, len(fields))
	for _, f := range fields {
		n, err := strconv.Atoi(f)
		if err != nil {
			return nil, false
		}
		level = append(level, n)
	}
	if len(level) == 0 {
		return nil, false
	}
	return &Context{taskID: taskID, level: level, ambient: nil}, true
}

// SetGenerator attaches the id generator a continued context needs before it
// can open child scopes of its own; ContinueTask cannot know which generator
// the resuming process is configured with, so the caller supplies it.
func (c *Context) SetGenerator(gen taskid.Generator) {
	c.generator = gen
}
