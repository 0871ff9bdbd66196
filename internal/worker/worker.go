// Package worker runs flow executions requested by the coordinator: it
// guards each run with a lock, seeds the interpreter state, classifies
// failures and persists the outcome.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/rendis/flowengine/internal/engine"
	"github.com/rendis/flowengine/internal/logging"
	"github.com/rendis/flowengine/internal/progress"
	"github.com/rendis/flowengine/internal/store"
	"github.com/rendis/flowengine/internal/validation"
	"github.com/rendis/flowengine/pkg/schema"
)

// DefaultTimeout bounds runs whose request names no timeout.
const DefaultTimeout = 600 * time.Second

// Config wires a Worker. Only Executor is required.
type Config struct {
	Executor  *engine.Executor
	Store     store.Store               // nil = runs are not persisted
	Validator *validation.FlowValidator // nil = flows are not validated
	Locker    Locker                    // nil = no run lock
	Variables engine.VariableResolver   // template resolver for step inputs
	Decoder   engine.SampleDecoder      // decodes step test outputs
	Progress  progress.Config           // template for the per-run reporter
	Logger    *slog.Logger              // nil = slog.Default()
	Timeout   time.Duration             // 0 = DefaultTimeout
	Now       func() time.Time          // nil = time.Now

	// NewProgress overrides the per-run progress sender.
	NewProgress func() engine.ProgressSender
}

// Worker executes begin, resume and resolve requests.
type Worker struct {
	exec      *engine.Executor
	store     store.Store
	events    *store.EventLog
	validator *validation.FlowValidator
	locker    Locker
	variables engine.VariableResolver
	decoder   engine.SampleDecoder
	progress  func() engine.ProgressSender
	logger    *slog.Logger
	timeout   time.Duration
	now       func() time.Time
}

// New creates a Worker.
func New(cfg Config) *Worker {
	w := &Worker{
		exec:      cfg.Executor,
		store:     cfg.Store,
		validator: cfg.Validator,
		locker:    cfg.Locker,
		variables: cfg.Variables,
		decoder:   cfg.Decoder,
		progress:  cfg.NewProgress,
		logger:    cfg.Logger,
		timeout:   cfg.Timeout,
		now:       cfg.Now,
	}
	if w.logger == nil {
		w.logger = slog.Default()
	}
	if w.timeout <= 0 {
		w.timeout = DefaultTimeout
	}
	if w.now == nil {
		w.now = time.Now
	}
	if w.store != nil {
		w.events = store.NewEventLog(w.store)
	}
	if w.progress == nil {
		pcfg := cfg.Progress
		if pcfg.Logger == nil {
			pcfg.Logger = w.logger
		}
		w.progress = func() engine.ProgressSender { return progress.NewReporter(pcfg) }
	}
	return w
}

// BeginRun executes a flow from its trigger.
func (w *Worker) BeginRun(ctx context.Context, req *BeginRunRequest) (schema.FlowRunResponse, error) {
	req.ExecutionType = schema.ExecutionTypeBegin
	return w.run(ctx, req, nil)
}

// ResumeRun continues a paused run from its captured steps. Resuming a run
// that already succeeded returns the stored response without executing.
func (w *Worker) ResumeRun(ctx context.Context, req *ResumeRunRequest) (schema.FlowRunResponse, error) {
	req.ExecutionType = schema.ExecutionTypeResume
	return w.run(ctx, &req.BeginRunRequest, req)
}

// run executes req. resume is nil for a fresh run; for a resumed run it
// carries the captured steps, task count and payload.
func (w *Worker) run(ctx context.Context, req *BeginRunRequest, resume *ResumeRunRequest) (schema.FlowRunResponse, error) {
	if req.RunID == "" {
		req.RunID = uuid.NewString()
	}
	ctx = logging.WithRunID(ctx, req.RunID)
	log := logging.LogWith(ctx, w.logger)

	if err := w.validate(ctx, &req.FlowVersion); err != nil {
		return schema.FlowRunResponse{}, err
	}

	timeout := w.timeout
	if req.TimeoutSeconds > 0 {
		timeout = time.Duration(req.TimeoutSeconds) * time.Second
	}
	deadline := engine.Deadline{At: w.now().Add(timeout), Now: w.now}
	if req.DeadlineTimestamp > 0 {
		deadline.At = time.UnixMilli(req.DeadlineTimestamp)
	}

	if w.locker != nil {
		release, err := w.locker.Acquire(ctx, "run:"+req.RunID, timeout+LockGrace)
		if err != nil {
			return schema.FlowRunResponse{}, err
		}
		defer func() {
			if err := release(context.WithoutCancel(ctx)); err != nil {
				log.Warn("failed to release run lock", "error", err)
			}
		}()
	}

	resuming := resume != nil
	if resuming {
		if resp, done, err := w.succeededRun(ctx, req.RunID); err != nil || done {
			return resp, err
		}
	}
	if err := w.persistStart(ctx, req, resuming); err != nil {
		return schema.FlowRunResponse{}, err
	}

	var (
		state         *engine.RunState
		resumePayload any
	)
	if resume != nil {
		state = engine.NewState(resume.CapturedSteps).IncreaseTask(resume.Tasks)
		resumePayload = resume.ResumePayload
	} else {
		state = seedTrigger(&req.FlowVersion.Trigger, req.TriggerPayload)
	}

	constants := engine.NewRunConstants(engine.RunConstants{
		ProjectID:              req.ProjectID,
		RunID:                  req.RunID,
		EngineToken:            req.EngineToken,
		InternalAPIURL:         req.InternalAPIURL,
		PublicURL:              req.PublicURL,
		FlowVersion:            &req.FlowVersion,
		ExecutionCorrelationID: req.ExecutionCorrelationID,
		ServerHandlerID:        req.ServerHandlerID,
		ProgressUpdateType:     req.ProgressUpdateType,
		ExecutionType:          req.ExecutionType,
		ResumePayload:          resumePayload,
		Deadline:               deadline,
		Variables:              w.variables,
		Progress:               w.progress(),
	})

	log.Info("run started", "flow_version_id", req.FlowVersion.ID, "execution_type", req.ExecutionType)
	resp, err := w.trigger(ctx, &req.FlowVersion.Trigger, constants, state)
	if err != nil {
		resp = w.fail(ctx, err, state, constants)
	}
	log.Info("run ended", "status", resp.Status, "duration_ms", resp.Duration)

	w.persistEnd(ctx, req.RunID, &resp)
	return resp, nil
}

// trigger runs the interpreter, turning a panic into an error.
func (w *Worker) trigger(ctx context.Context, trigger *schema.Trigger, constants *engine.RunConstants, state *engine.RunState) (resp schema.FlowRunResponse, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("run panicked: %v", r)
		}
	}()
	return w.exec.TriggerRun(ctx, trigger, constants, state)
}

// fail classifies a run error and reports the classified state.
func (w *Worker) fail(ctx context.Context, err error, state *engine.RunState, constants *engine.RunConstants) schema.FlowRunResponse {
	status := schema.RunStatusInternalError
	if errors.Is(err, engine.ErrExecutionTimeout) {
		status = schema.RunStatusTimeout
	}
	logging.LogWith(ctx, w.logger).Error("run aborted", "status", status, "error", err)

	final := state.SetVerdict(status, schema.VerdictResponse{})

	// The final update must go out even when the deadline has passed.
	unbounded := *constants
	unbounded.Deadline = engine.Deadline{Now: constants.Deadline.Now}
	_ = w.exec.SendFinal(context.WithoutCancel(ctx), final, &unbounded)

	resp := final.ToResponse()
	resp.Error = &schema.RunError{Message: err.Error()}
	return resp
}

func (w *Worker) validate(ctx context.Context, fv *schema.FlowVersion) error {
	if w.validator == nil {
		return nil
	}
	result := w.validator.Validate(fv)
	for _, warn := range result.Warnings {
		logging.LogWith(ctx, w.logger).Warn("flow validation warning", "step", warn.StepName, "message", warn.Message)
	}
	return result.ToError()
}

// seedTrigger records the trigger as a succeeded step whose output is the
// trigger payload.
func seedTrigger(trigger *schema.Trigger, payload any) *engine.RunState {
	return engine.EmptyState().UpsertStep(trigger.Name, schema.StepOutput{
		Type:   string(trigger.Type),
		Status: schema.StepStatusSucceeded,
		Input:  map[string]any{},
		Output: payload,
	})
}

// succeededRun reports whether runID already finished successfully and
// returns its stored response.
func (w *Worker) succeededRun(ctx context.Context, runID string) (schema.FlowRunResponse, bool, error) {
	if w.store == nil {
		return schema.FlowRunResponse{}, false, nil
	}
	run, err := w.store.GetRun(ctx, runID)
	if err != nil {
		if isNotFound(err) {
			return schema.FlowRunResponse{}, false, nil
		}
		return schema.FlowRunResponse{}, false, err
	}
	if run.Status != schema.RunStatusSucceeded {
		return schema.FlowRunResponse{}, false, nil
	}

	logging.LogWith(ctx, w.logger).Info("run already succeeded, ignoring resume")
	if _, err := w.events.Record(ctx, runID, store.EventResumeNoop, nil); err != nil {
		logging.LogWith(ctx, w.logger).Warn("failed to record run event", "event", store.EventResumeNoop, "error", err)
	}
	if run.Response != nil {
		return *run.Response, true, nil
	}
	return schema.FlowRunResponse{Status: schema.RunStatusSucceeded, Steps: schema.NewStepMap(), Tags: []string{}}, true, nil
}

func (w *Worker) persistStart(ctx context.Context, req *BeginRunRequest, resuming bool) error {
	if w.store == nil {
		return nil
	}
	running := schema.RunStatusRunning

	_, err := w.store.GetRun(ctx, req.RunID)
	switch {
	case err == nil:
		if err := w.store.UpdateRun(ctx, req.RunID, store.RunUpdate{Status: &running}); err != nil {
			return err
		}
	case isNotFound(err):
		fv, merr := json.Marshal(req.FlowVersion)
		if merr != nil {
			return schema.NewErrorf(schema.ErrCodeStore, "marshal flow version: %s", merr.Error()).WithCause(merr)
		}
		if err := w.store.CreateRun(ctx, &store.Run{
			ID:            req.RunID,
			ProjectID:     req.ProjectID,
			FlowID:        req.FlowVersion.FlowID,
			FlowVersionID: req.FlowVersion.ID,
			Status:        running,
			FlowVersion:   fv,
			CreatedAt:     w.now().UTC(),
		}); err != nil {
			return err
		}
	default:
		return err
	}

	event := store.EventRunStarted
	if resuming {
		event = store.EventRunResumed
	}
	if _, err := w.events.Record(ctx, req.RunID, event, map[string]any{"executionType": req.ExecutionType}); err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "record %s: %s", event, err.Error()).WithCause(err)
	}
	return nil
}

// persistEnd stores the outcome of a run. Failures are logged: the run has
// already been reported to the coordinator.
func (w *Worker) persistEnd(ctx context.Context, runID string, resp *schema.FlowRunResponse) {
	if w.store == nil {
		return
	}
	log := logging.LogWith(ctx, w.logger)

	update := store.RunUpdate{Status: &resp.Status, Response: resp}
	if resp.Error != nil {
		update.Error = &resp.Error.Message
	}
	if resp.Status.IsTerminal() {
		now := w.now().UTC()
		update.FinishedAt = &now
	}
	if err := w.store.UpdateRun(ctx, runID, update); err != nil {
		log.Error("failed to persist run", "error", err)
	}

	event := endEvent(resp.Status)
	var payload any = map[string]any{"status": resp.Status}
	if resp.Error != nil {
		payload = map[string]any{"status": resp.Status, "error": resp.Error.Message}
	}
	if _, err := w.events.Record(ctx, runID, event, payload); err != nil {
		log.Error("failed to record run event", "event", event, "error", err)
	}
}

func endEvent(status schema.FlowRunStatus) string {
	switch status {
	case schema.RunStatusPaused:
		return store.EventRunPaused
	case schema.RunStatusFailed:
		return store.EventRunFailed
	case schema.RunStatusTimeout:
		return store.EventRunTimedOut
	case schema.RunStatusInternalError:
		return store.EventRunCrashed
	default:
		return store.EventRunFinished
	}
}

// ResolveVariable resolves an expression as the given step would see it.
func (w *Worker) ResolveVariable(ctx context.Context, req *schema.ResolveVariableRequest) schema.ResolveVariableResponse {
	constants := engine.FromResolveRequest(req, w.variables)
	return engine.ResolveVariable(ctx, req, constants, w.decoder)
}

// RunStatus returns the persisted state of a run.
func (w *Worker) RunStatus(ctx context.Context, runID string) (*store.Run, error) {
	if w.store == nil {
		return nil, schema.NewError(schema.ErrCodeUnsupported, "run store is not configured")
	}
	return w.store.GetRun(ctx, runID)
}

// Execute routes an engine request by operation type. The result is a
// schema.FlowRunResponse or a schema.ResolveVariableResponse.
func (w *Worker) Execute(ctx context.Context, req schema.EngineRequest) (any, error) {
	switch req.OperationType {
	case schema.OperationExecuteFlow:
		if executionTypeOf(req.EngineInput) == schema.ExecutionTypeResume {
			var in ResumeRunRequest
			if err := decodeInput(req.EngineInput, &in); err != nil {
				return nil, err
			}
			if in.DeadlineTimestamp == 0 {
				in.DeadlineTimestamp = req.DeadlineTimestamp
			}
			return w.ResumeRun(ctx, &in)
		}
		var in BeginRunRequest
		if err := decodeInput(req.EngineInput, &in); err != nil {
			return nil, err
		}
		if in.DeadlineTimestamp == 0 {
			in.DeadlineTimestamp = req.DeadlineTimestamp
		}
		return w.BeginRun(ctx, &in)

	case schema.OperationResolveVariable:
		var in schema.ResolveVariableRequest
		if err := decodeInput(req.EngineInput, &in); err != nil {
			return nil, err
		}
		return w.ResolveVariable(ctx, &in), nil

	default:
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "unsupported operation type %q", req.OperationType)
	}
}

func decodeInput(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return schema.NewError(schema.ErrCodeValidation, "engineInput is required")
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return schema.NewErrorf(schema.ErrCodeValidation, "invalid engineInput: %s", err.Error()).WithCause(err)
	}
	return nil
}

func isNotFound(err error) bool {
	var engErr *schema.EngineError
	return errors.As(err, &engErr) && engErr.Code == schema.ErrCodeNotFound
}
