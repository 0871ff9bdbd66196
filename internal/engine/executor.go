package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rendis/flowengine/internal/logging"
	"github.com/rendis/flowengine/pkg/schema"
)

// StepHandler executes one action kind and returns the resulting state.
type StepHandler interface {
	Handle(ctx context.Context, action *schema.Action, state *RunState, constants *RunConstants) (*RunState, error)
}

// ExecutorDeps holds the collaborators of an Executor.
type ExecutorDeps struct {
	Runner StepRunner
	Logger *slog.Logger // nil = slog.Default()
}

// Executor walks a flow's action chain and dispatches each action to the
// handler registered for its type. One Executor serves any number of runs;
// per-run data travels in RunState and RunConstants.
type Executor struct {
	handlers map[schema.ActionType]StepHandler
	logger   *slog.Logger

	// sends tracks in-flight progress updates.
	sends sync.WaitGroup
}

// NewExecutor creates an Executor with the built-in handlers.
func NewExecutor(deps ExecutorDeps) *Executor {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	e := &Executor{logger: logger}
	e.handlers = map[schema.ActionType]StepHandler{
		schema.ActionTypeCode:   &runnerHandler{runner: deps.Runner, code: true, logger: logger},
		schema.ActionTypeBlock:  &runnerHandler{runner: deps.Runner, logger: logger},
		schema.ActionTypeBranch: &branchHandler{exec: e},
		schema.ActionTypeLoop:   &loopHandler{exec: e},
		schema.ActionTypeSplit:  &splitHandler{exec: e},
	}
	return e
}

// Handler returns the handler for an action type. It panics on an unknown
// type; flows are validated before they reach the interpreter.
func (e *Executor) Handler(t schema.ActionType) StepHandler {
	h, ok := e.handlers[t]
	if !ok {
		panic(fmt.Sprintf("engine: no handler for action type %q", t))
	}
	return h
}

// ExecuteFrom runs action and its NextAction chain until the chain ends or
// the verdict leaves RUNNING. The deadline is checked before every step; an
// expired deadline aborts with ErrExecutionTimeout. Handler errors abort the
// chain and are returned as is.
func (e *Executor) ExecuteFrom(ctx context.Context, action *schema.Action, state *RunState, constants *RunConstants) (*RunState, error) {
	start := constants.Now()
	current := state

	for a := action; a != nil; a = a.NextAction {
		if err := constants.Deadline.Check(); err != nil {
			return nil, err
		}

		handler := e.Handler(a.Type)
		stepCtx := logging.WithStep(ctx, a.Name, string(a.Type))
		stepStart := constants.Now()

		next, err := handler.Handle(stepCtx, a, current, constants)
		if err != nil {
			return nil, err
		}
		current = next.SetStepDuration(a.Name, elapsedMillis(stepStart, constants.Now()))

		e.sendProgress(stepCtx, current, constants)

		if current.Verdict() != schema.RunStatusRunning {
			break
		}
	}

	return current.SetDuration(elapsedMillis(start, constants.Now())), nil
}

// TriggerRun executes a flow from the trigger's first action. A run that is
// still RUNNING at the end of the chain succeeds. The final state is reported
// synchronously before the response is returned.
func (e *Executor) TriggerRun(ctx context.Context, trigger *schema.Trigger, constants *RunConstants, state *RunState) (schema.FlowRunResponse, error) {
	out, err := e.ExecuteFrom(ctx, trigger.NextAction, state, constants)
	if err != nil {
		return schema.FlowRunResponse{}, err
	}
	if out.Verdict() == schema.RunStatusRunning {
		out = out.SetVerdict(schema.RunStatusSucceeded, out.VerdictResponse())
	}

	if err := e.SendFinal(ctx, out, constants); err != nil {
		return schema.FlowRunResponse{}, err
	}
	return out.ToResponse(), nil
}

// SendFinal waits for the run's pending progress updates and then sends
// state synchronously. Only an expired deadline is returned; other failures
// are logged.
func (e *Executor) SendFinal(ctx context.Context, state *RunState, constants *RunConstants) error {
	if constants.Progress == nil {
		return nil
	}
	constants.progress.wait()
	err := constants.Progress.Send(ctx, state, constants)
	if errors.Is(err, ErrExecutionTimeout) {
		return err
	}
	if err != nil {
		logging.LogWith(ctx, e.logger).Error("error sending progress update", "error", err)
	}
	return nil
}

// Wait blocks until every fire-and-forget progress update has finished.
func (e *Executor) Wait() {
	e.sends.Wait()
}

// sendProgress reports state without blocking the interpreter. Updates of
// one run are delivered in step order.
func (e *Executor) sendProgress(ctx context.Context, state *RunState, constants *RunConstants) {
	if constants.Progress == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	prev, done := constants.progress.enqueue()
	e.sends.Go(func() {
		defer close(done)
		if prev != nil {
			<-prev
		}
		if err := constants.Progress.Send(ctx, state, constants); err != nil {
			logging.LogWith(ctx, e.logger).Error("error sending progress update", "error", err)
		}
	})
}

// progressQueue orders the asynchronous progress updates of one run.
type progressQueue struct {
	mu   sync.Mutex
	tail chan struct{}
}

// enqueue returns the completion channel of the previous update (nil if
// none) and the channel the new update must close.
func (q *progressQueue) enqueue() (prev <-chan struct{}, done chan struct{}) {
	done = make(chan struct{})
	if q == nil {
		return nil, done
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.tail != nil {
		prev = q.tail
	}
	q.tail = done
	return prev, done
}

func (q *progressQueue) wait() {
	if q == nil {
		return
	}
	q.mu.Lock()
	tail := q.tail
	q.mu.Unlock()
	if tail != nil {
		<-tail
	}
}

func elapsedMillis(from, to time.Time) float64 {
	return float64(to.Sub(from)) / float64(time.Millisecond)
}
