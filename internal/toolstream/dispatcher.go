package toolstream

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"

	"go.opentelemetry.io/otel/codes"

	"github.com/samsaffron/toolstream/internal/telemetry"
)

// Handler executes one built-in tool call.
type Handler interface {
	Handle(ctx context.Context, inv *Invocation) (Outcome, error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, inv *Invocation) (Outcome, error)

func (f HandlerFunc) Handle(ctx context.Context, inv *Invocation) (Outcome, error) {
	return f(ctx, inv)
}

// CustomHandler executes calls to tools that are not built in.
type CustomHandler interface {
	HandleCustom(ctx context.Context, inv *Invocation, call *CustomCall) (Outcome, error)
}

// CustomHandlerFunc adapts a function to the CustomHandler interface.
type CustomHandlerFunc func(ctx context.Context, inv *Invocation, call *CustomCall) (Outcome, error)

func (f CustomHandlerFunc) HandleCustom(ctx context.Context, inv *Invocation, call *CustomCall) (Outcome, error) {
	return f(ctx, inv, call)
}

// Invocation is what a handler receives. Handlers start work immediately;
// anything that must observe earlier calls' effects waits first.
type Invocation struct {
	Call ToolCall
	// Previous closes when the call before this one has committed.
	Previous <-chan struct{}
	// State is shared by the turn. Read it only after Wait returns.
	State *State
}

// Wait blocks until the previous call has committed or ctx is done.
func (inv *Invocation) Wait(ctx context.Context) error {
	select {
	case <-inv.Previous:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Outcome is a handler's result. Update, when set, is applied to the shared
// State at commit time, after every earlier call has committed.
type Outcome struct {
	Output any
	Update func(*State)
}

// ToolCallError is the recorded failure of a call: a handler error, a
// panic, or a body that could not be parsed.
type ToolCallError struct {
	ToolName string
	Args     string
	Message  string
}

func (e *ToolCallError) Error() string {
	if e.ToolName == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.ToolName, e.Message)
}

// Record is the committed outcome of one call. Exactly one of Output and
// Err is meaningful.
type Record struct {
	Call   ToolCall
	Output any
	Err    *ToolCallError
}

// Registry routes parsed calls to handlers.
type Registry struct {
	handlers map[Kind]Handler
	custom   CustomHandler
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[Kind]Handler)}
}

// Register installs the handler for a built-in kind, replacing any
// previous one.
func (r *Registry) Register(kind Kind, h Handler) {
	if kind == KindCustom {
		panic("toolstream: use SetCustom for custom tools")
	}
	r.handlers[kind] = h
}

// RegisterFunc is Register for a plain function.
func (r *Registry) RegisterFunc(kind Kind, f func(ctx context.Context, inv *Invocation) (Outcome, error)) {
	r.Register(kind, HandlerFunc(f))
}

// SetCustom installs the fallback for tools that are not built in.
func (r *Registry) SetCustom(h CustomHandler) {
	r.custom = h
}

// Kinds returns the built-in kinds that have a handler.
func (r *Registry) Kinds() []Kind {
	var out []Kind
	for _, k := range BuiltinKinds {
		if _, ok := r.handlers[k]; ok {
			out = append(out, k)
		}
	}
	return out
}

func (r *Registry) handle(ctx context.Context, inv *Invocation) (Outcome, error) {
	switch in := inv.Call.Input.(type) {
	case nil:
		return Outcome{}, fmt.Errorf("tool call %q has no input", inv.Call.Name)
	case *CustomCall:
		if r.custom == nil {
			return Outcome{}, UnknownToolError(in)
		}
		return r.custom.HandleCustom(ctx, inv, in)
	default:
		h, ok := r.handlers[in.Kind()]
		if !ok {
			return Outcome{}, fmt.Errorf("no handler registered for %s", in.Kind())
		}
		return h.Handle(ctx, inv)
	}
}

// DispatcherOptions configures a Dispatcher.
type DispatcherOptions struct {
	Registry *Registry
	State    *State
	// Root gates the first commit. ProcessStreamWithTools closes it when
	// the model stream ends.
	Root   <-chan struct{}
	Logger telemetry.Logger
	Tracer telemetry.Tracer
	// OnCommit is called for each record in call order.
	OnCommit func(Record)
}

// Dispatcher runs tool calls concurrently and commits their outcomes in
// the order the calls were dispatched.
type Dispatcher struct {
	registry *Registry
	state    *State
	chain    *Chain
	logger   telemetry.Logger
	tracer   telemetry.Tracer
	onCommit func(Record)
	fields   []any

	mu      sync.Mutex
	records []*Record
	// abandoned is set when Wait gives up on ctx. Later commits leave
	// State alone since the caller owns it again.
	abandoned bool
}

func NewDispatcher(opts DispatcherOptions) *Dispatcher {
	if opts.Registry == nil {
		opts.Registry = NewRegistry()
	}
	if opts.State == nil {
		opts.State = &State{}
	}
	if opts.Root == nil {
		root := make(chan struct{})
		close(root)
		opts.Root = root
	}
	if opts.Logger == nil {
		opts.Logger = telemetry.NewNoopLogger()
	}
	if opts.Tracer == nil {
		opts.Tracer = telemetry.NewNoopTracer()
	}
	return &Dispatcher{
		registry: opts.Registry,
		state:    opts.State,
		chain:    NewChain(opts.Root),
		logger:   opts.Logger,
		tracer:   opts.Tracer,
		onCommit: opts.OnCommit,
		fields:   opts.State.logFields(),
	}
}

// Dispatch starts call and returns without waiting for it.
func (d *Dispatcher) Dispatch(ctx context.Context, call ToolCall) {
	prev, done := d.chain.Link()
	slot := d.reserve(call)
	inv := &Invocation{Call: call, Previous: prev, State: d.state}

	go func() {
		defer done()
		outcome, err := d.run(ctx, inv)
		<-prev
		d.commit(ctx, slot, outcome, err)
	}()
}

// Reject records a body that could not be parsed. The error takes the
// position the call would have had.
func (d *Dispatcher) Reject(ctx context.Context, err error, body string) {
	call := ToolCall{ID: NewCallID()}
	var pe *ParseError
	if errors.As(err, &pe) {
		call.Name = pe.ToolName
	}
	prev, done := d.chain.Link()
	slot := d.reserve(call)

	d.logger.Warn(ctx, "rejected tool call", append([]any{
		"tool_name", call.Name,
		"tool_call_id", call.ID,
		"err", err,
	}, d.fields...)...)

	go func() {
		defer done()
		<-prev
		d.mu.Lock()
		slot.Err = &ToolCallError{ToolName: call.Name, Args: body, Message: err.Error()}
		rec := *slot
		abandoned := d.abandoned
		d.mu.Unlock()
		if d.onCommit != nil && !abandoned {
			d.onCommit(rec)
		}
	}()
}

func (d *Dispatcher) reserve(call ToolCall) *Record {
	d.mu.Lock()
	defer d.mu.Unlock()
	rec := &Record{Call: call}
	d.records = append(d.records, rec)
	return rec
}

// run executes the handler, converting a panic into an error.
func (d *Dispatcher) run(ctx context.Context, inv *Invocation) (outcome Outcome, err error) {
	ctx, span := d.tracer.Start(ctx, "tool."+inv.Call.Name,
		"tool_name", inv.Call.Name,
		"tool_call_id", inv.Call.ID,
		"index", inv.Call.Index,
	)
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			d.logger.Error(ctx, "tool handler panicked", append([]any{
				"tool_name", inv.Call.Name,
				"tool_call_id", inv.Call.ID,
				"panic", fmt.Sprint(r),
				"stack", string(debug.Stack()),
			}, d.fields...)...)
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
	}()

	return d.registry.handle(ctx, inv)
}

func (d *Dispatcher) commit(ctx context.Context, slot *Record, outcome Outcome, err error) {
	d.mu.Lock()
	if d.abandoned {
		d.mu.Unlock()
		d.logger.Debug(ctx, "dropped tool outcome after wait ended", append([]any{
			"tool_name", slot.Call.Name,
			"tool_call_id", slot.Call.ID,
		}, d.fields...)...)
		return
	}
	if err == nil && outcome.Update != nil {
		err = applyUpdate(d.state, outcome.Update)
	}
	if err != nil {
		slot.Err = &ToolCallError{ToolName: slot.Call.Name, Args: string(slot.Call.Raw), Message: err.Error()}
	} else {
		slot.Output = outcome.Output
	}
	rec := *slot
	d.mu.Unlock()

	if err != nil {
		d.logger.Error(ctx, "tool call failed", append([]any{
			"tool_name", slot.Call.Name,
			"tool_call_id", slot.Call.ID,
			"err", err,
		}, d.fields...)...)
	} else {
		d.logger.Debug(ctx, "tool call committed", append([]any{
			"tool_name", slot.Call.Name,
			"tool_call_id", slot.Call.ID,
		}, d.fields...)...)
	}
	if d.onCommit != nil {
		d.onCommit(rec)
	}
}

// applyUpdate runs update with d.mu held by the caller.
func applyUpdate(state *State, update func(*State)) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic applying state update: %v", r)
		}
	}()
	update(state)
	return nil
}

// Wait blocks until every dispatched call has committed or ctx is done,
// then returns the records in call order. On ctx expiry the records of
// calls that have not committed yet carry neither output nor error, and
// their outcomes are dropped when they finish: State is not touched and
// OnCommit is not called.
func (d *Dispatcher) Wait(ctx context.Context) ([]Record, error) {
	var err error
	select {
	case <-d.chain.Tail():
	case <-ctx.Done():
		err = ctx.Err()
		d.mu.Lock()
		d.abandoned = true
		d.mu.Unlock()
	}
	return d.Records(), err
}

// Records returns a snapshot of the records in call order.
func (d *Dispatcher) Records() []Record {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Record, len(d.records))
	for i, r := range d.records {
		out[i] = *r
	}
	return out
}

// State returns the shared state.
func (d *Dispatcher) State() *State {
	return d.state
}
