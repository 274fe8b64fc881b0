package toolstream

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func customCall(name string, index int) ToolCall {
	return ToolCall{
		ID:    fmt.Sprintf("call-%d", index),
		Name:  name,
		Input: &CustomCall{Name: name, Args: map[string]any{"i": index}},
		Index: index,
	}
}

// gatedRegistry routes custom calls to handlers that block until their gate
// is released, so tests control completion order.
type gatedRegistry struct {
	mu    sync.Mutex
	gates map[string]chan struct{}
	order []string
}

func newGatedRegistry(names ...string) (*Registry, *gatedRegistry) {
	g := &gatedRegistry{gates: make(map[string]chan struct{})}
	for _, n := range names {
		g.gates[n] = make(chan struct{})
	}
	reg := NewRegistry()
	reg.SetCustom(CustomHandlerFunc(func(ctx context.Context, inv *Invocation, call *CustomCall) (Outcome, error) {
		<-g.gates[call.Name]
		g.mu.Lock()
		g.order = append(g.order, call.Name)
		g.mu.Unlock()
		name := call.Name
		return Outcome{
			Output: "out:" + name,
			Update: func(s *State) { s.Plan += name + ";" },
		}, nil
	}))
	return reg, g
}

func (g *gatedRegistry) release(name string) { close(g.gates[name]) }

func (g *gatedRegistry) finished() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.order...)
}

func TestDispatcherCommitsInCallOrder(t *testing.T) {
	reg, g := newGatedRegistry("a", "b", "c")
	state := &State{}

	var mu sync.Mutex
	var committed []string
	d := NewDispatcher(DispatcherOptions{
		Registry: reg,
		State:    state,
		OnCommit: func(r Record) {
			mu.Lock()
			committed = append(committed, r.Call.Name)
			mu.Unlock()
		},
	})

	ctx := context.Background()
	d.Dispatch(ctx, customCall("a", 0))
	d.Dispatch(ctx, customCall("b", 1))
	d.Dispatch(ctx, customCall("c", 2))

	// b finishes first, then c, then a.
	g.release("b")
	require.Eventually(t, func() bool { return len(g.finished()) == 1 }, time.Second, time.Millisecond)
	g.release("c")
	require.Eventually(t, func() bool { return len(g.finished()) == 2 }, time.Second, time.Millisecond)

	mu.Lock()
	assert.Empty(t, committed, "nothing commits before the first call")
	mu.Unlock()

	g.release("a")
	records, err := d.Wait(ctx)
	require.NoError(t, err)

	assert.Equal(t, []string{"b", "c", "a"}, g.finished())
	assert.Equal(t, []string{"a", "b", "c"}, committed)
	assert.Equal(t, "a;b;c;", state.Plan)
	require.Len(t, records, 3)
	for i, name := range []string{"a", "b", "c"} {
		assert.Equal(t, name, records[i].Call.Name)
		assert.Equal(t, "out:"+name, records[i].Output)
		assert.Nil(t, records[i].Err)
	}
}

func TestDispatcherWaitsForRoot(t *testing.T) {
	root := make(chan struct{})
	var committed sync.WaitGroup
	committed.Add(1)

	reg := NewRegistry()
	reg.RegisterFunc(KindEndTurn, func(ctx context.Context, inv *Invocation) (Outcome, error) {
		return Outcome{Update: func(s *State) { s.EndTurn = true }}, nil
	})
	state := &State{}
	d := NewDispatcher(DispatcherOptions{
		Registry: reg,
		State:    state,
		Root:     root,
		OnCommit: func(Record) { committed.Done() },
	})

	d.Dispatch(context.Background(), ToolCall{ID: "x", Name: "end_turn", Input: &EndTurn{}})

	select {
	case <-d.chain.Tail():
		t.Fatal("call committed before root closed")
	case <-time.After(20 * time.Millisecond):
	}

	close(root)
	committed.Wait()
	assert.True(t, state.EndTurn)
}

func TestDispatcherFailureIsolation(t *testing.T) {
	reg := NewRegistry()
	reg.SetCustom(CustomHandlerFunc(func(ctx context.Context, inv *Invocation, call *CustomCall) (Outcome, error) {
		switch call.Name {
		case "boom":
			panic("kaboom")
		case "fail":
			return Outcome{}, errors.New("disk full")
		case "bad_update":
			return Outcome{Output: "ignored", Update: func(*State) { panic("bad update") }}, nil
		}
		return Outcome{Output: call.Name}, nil
	}))

	d := NewDispatcher(DispatcherOptions{Registry: reg})
	ctx := context.Background()
	for i, name := range []string{"ok1", "boom", "fail", "bad_update", "ok2"} {
		d.Dispatch(ctx, customCall(name, i))
	}

	records, err := d.Wait(ctx)
	require.NoError(t, err)
	require.Len(t, records, 5)

	assert.Equal(t, "ok1", records[0].Output)
	require.NotNil(t, records[1].Err)
	assert.Equal(t, "boom", records[1].Err.ToolName)
	assert.Contains(t, records[1].Err.Message, "kaboom")
	require.NotNil(t, records[2].Err)
	assert.Equal(t, "disk full", records[2].Err.Message)
	require.NotNil(t, records[3].Err)
	assert.Contains(t, records[3].Err.Message, "bad update")
	assert.Nil(t, records[3].Output)
	assert.Equal(t, "ok2", records[4].Output)
	assert.Nil(t, records[4].Err)
}

func TestDispatcherRejectKeepsPosition(t *testing.T) {
	reg, g := newGatedRegistry("first", "last")
	d := NewDispatcher(DispatcherOptions{Registry: reg})
	ctx := context.Background()

	d.Dispatch(ctx, customCall("first", 0))
	parseErr := &ParseError{Reason: ReasonUnknownTool, ToolName: "nope", Err: ErrUnknownTool}
	d.Reject(ctx, parseErr, `{"tool_name":"nope"}`)
	d.Dispatch(ctx, customCall("last", 2))

	g.release("last")
	g.release("first")

	records, err := d.Wait(ctx)
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "first", records[0].Call.Name)
	assert.Equal(t, "nope", records[1].Call.Name)
	require.NotNil(t, records[1].Err)
	assert.Equal(t, `{"tool_name":"nope"}`, records[1].Err.Args)
	assert.Contains(t, records[1].Err.Message, `tool "nope" not found`)
	assert.Equal(t, "last", records[2].Call.Name)
}

func TestDispatcherMissingHandler(t *testing.T) {
	d := NewDispatcher(DispatcherOptions{})
	ctx := context.Background()
	d.Dispatch(ctx, ToolCall{ID: "1", Name: "read_files", Input: &ReadFiles{Paths: []string{"a"}}})
	d.Dispatch(ctx, customCall("mystery", 1))

	records, err := d.Wait(ctx)
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.NotNil(t, records[0].Err)
	assert.Contains(t, records[0].Err.Message, "no handler registered for read_files")
	require.NotNil(t, records[1].Err)
	assert.Contains(t, records[1].Err.Message, `tool "mystery" not found`)
}

func TestDispatcherInvocationWait(t *testing.T) {
	reg := NewRegistry()
	var sawPlan string
	reg.RegisterFunc(KindCreatePlan, func(ctx context.Context, inv *Invocation) (Outcome, error) {
		in := inv.Call.Input.(*CreatePlan)
		return Outcome{Update: func(s *State) { s.Plan = in.Plan }}, nil
	})
	reg.RegisterFunc(KindThinkDeeply, func(ctx context.Context, inv *Invocation) (Outcome, error) {
		if err := inv.Wait(ctx); err != nil {
			return Outcome{}, err
		}
		sawPlan = inv.State.Plan
		return Outcome{}, nil
	})

	d := NewDispatcher(DispatcherOptions{Registry: reg})
	ctx := context.Background()
	d.Dispatch(ctx, ToolCall{ID: "1", Name: "create_plan", Input: &CreatePlan{Path: "plan.md", Plan: "step one"}})
	d.Dispatch(ctx, ToolCall{ID: "2", Name: "think_deeply", Input: &ThinkDeeply{Thought: "hmm"}, Index: 1})

	_, err := d.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, "step one", sawPlan)
}

func TestDispatcherWaitContextCanceled(t *testing.T) {
	reg, g := newGatedRegistry("slow")
	d := NewDispatcher(DispatcherOptions{Registry: reg})
	d.Dispatch(context.Background(), customCall("slow", 0))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	records, err := d.Wait(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.Len(t, records, 1)
	assert.Nil(t, records[0].Output)
	assert.Nil(t, records[0].Err)

	// The handler still finishes, but its outcome is dropped.
	g.release("slow")
	<-d.chain.Tail()
	assert.Nil(t, d.Records()[0].Output)
}

func TestDispatcherLeavesStateAloneAfterDeadline(t *testing.T) {
	reg, g := newGatedRegistry("slow")
	reg.RegisterFunc(KindCreatePlan, func(ctx context.Context, inv *Invocation) (Outcome, error) {
		return Outcome{Update: func(s *State) { s.Plan = "late plan" }}, nil
	})

	var commitMu sync.Mutex
	var committed []string
	state := &State{}
	d := NewDispatcher(DispatcherOptions{
		Registry: reg,
		State:    state,
		OnCommit: func(r Record) {
			commitMu.Lock()
			defer commitMu.Unlock()
			committed = append(committed, r.Call.Name)
		},
	})
	d.Dispatch(context.Background(), customCall("slow", 0))
	d.Dispatch(context.Background(), ToolCall{ID: "2", Name: "create_plan", Input: &CreatePlan{Path: "plan.md", Plan: "late plan"}, Index: 1})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := d.Wait(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	// The caller owns State again; writing it must not race with late commits.
	state.Messages = nil
	state.Plan = "caller plan"

	g.release("slow")
	<-d.chain.Tail()
	assert.Equal(t, "caller plan", state.Plan)
	commitMu.Lock()
	defer commitMu.Unlock()
	assert.Empty(t, committed)
}

func TestRegistryRegisterCustomPanics(t *testing.T) {
	reg := NewRegistry()
	assert.Panics(t, func() { reg.RegisterFunc(KindCustom, nil) })
}

func TestRegistryKinds(t *testing.T) {
	reg := NewRegistry()
	noop := func(context.Context, *Invocation) (Outcome, error) { return Outcome{}, nil }
	reg.RegisterFunc(KindEndTurn, noop)
	reg.RegisterFunc(KindReadFiles, noop)
	assert.Equal(t, []Kind{KindReadFiles, KindEndTurn}, reg.Kinds())
}

func TestChainLinks(t *testing.T) {
	root := make(chan struct{})
	c := NewChain(root)

	prev1, done1 := c.Link()
	prev2, done2 := c.Link()
	assert.Equal(t, (<-chan struct{})(root), prev1)

	close(root)
	select {
	case <-prev2:
		t.Fatal("second link released before first is done")
	default:
	}
	done1()
	done1()
	<-prev2
	done2()
	<-c.Tail()
}

func TestDispatcherCommitOrderProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("records and updates follow call order for any completion order", prop.ForAll(
		func(delays []int) bool {
			reg := NewRegistry()
			reg.SetCustom(CustomHandlerFunc(func(ctx context.Context, inv *Invocation, call *CustomCall) (Outcome, error) {
				time.Sleep(time.Duration(delays[inv.Call.Index]) * 100 * time.Microsecond)
				idx := inv.Call.Index
				return Outcome{
					Output: idx,
					Update: func(s *State) { s.Plan += fmt.Sprintf("%d,", idx) },
				}, nil
			}))
			state := &State{}
			var committed []int
			d := NewDispatcher(DispatcherOptions{
				Registry: reg,
				State:    state,
				OnCommit: func(r Record) { committed = append(committed, r.Call.Index) },
			})
			ctx := context.Background()
			var want string
			for i := range delays {
				d.Dispatch(ctx, customCall("t", i))
				want += fmt.Sprintf("%d,", i)
			}
			records, err := d.Wait(ctx)
			if err != nil || len(records) != len(delays) || state.Plan != want {
				return false
			}
			for i, r := range records {
				if r.Output != i || committed[i] != i {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.IntRange(0, 20)),
	))

	properties.TestingRun(t)
}
