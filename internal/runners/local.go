// Package runners executes Code and Block step bodies in process.
package runners

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/rendis/flowengine/internal/blocks"
	"github.com/rendis/flowengine/internal/engine"
	"github.com/rendis/flowengine/internal/expressions"
	"github.com/rendis/flowengine/internal/logging"
	"github.com/rendis/flowengine/pkg/schema"
)

// DefaultLanguage evaluates code steps that name no language.
const DefaultLanguage = "expr"

// Config wires a Local runner.
type Config struct {
	Engines expressions.Engines
	Blocks  *blocks.Registry
	Logger  *slog.Logger
	// Retry defaults to engine.StepRetryPolicy.
	Retry *engine.RetryPolicy
	// Wait defaults to engine.WaitForBackoff.
	Wait func(context.Context, time.Duration) error
}

// Local implements engine.StepRunner. Code bodies are evaluated by the
// expression engine selected by sourceCode.language with the resolved input
// bound as `inputs`; block steps are dispatched to the block registry.
type Local struct {
	engines expressions.Engines
	blocks  *blocks.Registry
	logger  *slog.Logger
	retry   engine.RetryPolicy
	wait    func(context.Context, time.Duration) error
}

// NewLocal creates a Local runner.
func NewLocal(cfg Config) *Local {
	l := &Local{
		engines: cfg.Engines,
		blocks:  cfg.Blocks,
		logger:  cfg.Logger,
		retry:   engine.StepRetryPolicy,
		wait:    cfg.Wait,
	}
	if cfg.Retry != nil {
		l.retry = *cfg.Retry
	}
	if l.logger == nil {
		l.logger = slog.Default()
	}
	return l
}

func (l *Local) RunCode(ctx context.Context, req engine.StepRequest) (engine.StepResult, error) {
	code := req.Action.Settings.SourceCode
	if code == nil || code.Code == "" {
		return engine.StepResult{}, schema.NewError(schema.ErrCodeValidation, "code step has no source code").WithStep(req.Action.Name)
	}
	lang := code.Language
	if lang == "" {
		lang = DefaultLanguage
	}
	eng, ok := l.engines[lang]
	if !ok {
		return engine.StepResult{}, schema.NewErrorf(schema.ErrCodeUnsupported, "unsupported code language %q", lang).WithStep(req.Action.Name)
	}

	data := map[string]any{"inputs": req.Input}
	var out any
	err := l.attempt(ctx, req, func() error {
		var err error
		out, err = eng.Evaluate(ctx, code.Code, data)
		return err
	})
	if err != nil {
		return engine.StepResult{}, err
	}
	return engine.StepResult{Output: out}, nil
}

func (l *Local) RunBlock(ctx context.Context, req engine.StepRequest) (engine.StepResult, error) {
	if l.blocks == nil {
		return engine.StepResult{}, schema.NewError(schema.ErrCodeUnsupported, "no block registry configured").WithStep(req.Action.Name)
	}
	s := req.Action.Settings

	params, ok := req.Input.(map[string]any)
	if !ok && req.Input != nil {
		return engine.StepResult{}, schema.NewErrorf(schema.ErrCodeValidation, "block input must be an object, got %T", req.Input).WithStep(req.Action.Name)
	}
	input := blocks.ActionInput{
		Params:        params,
		RunID:         req.RunID,
		ProjectID:     req.ProjectID,
		Resuming:      req.Resuming,
		ResumePayload: req.ResumePayload,
	}

	var out *blocks.ActionOutput
	err := l.attempt(ctx, req, func() error {
		var err error
		out, err = l.blocks.Execute(ctx, s.BlockName, s.ActionName, input)
		return err
	})
	if err != nil {
		return engine.StepResult{}, err
	}
	return toStepResult(out)
}

// attempt runs fn once, or under the step retry policy when the step asks
// for retries.
func (l *Local) attempt(ctx context.Context, req engine.StepRequest, fn func() error) error {
	if !req.RetryOnFailure {
		return fn()
	}
	return engine.Retry(ctx, l.retry, l.wait, func(n int) error {
		err := fn()
		if err != nil && n < l.retry.Attempts && engine.IsRetryableError(err) {
			logging.LogWith(ctx, l.logger).Warn("step attempt failed, retrying",
				"attempt", n+1, "error", err)
		}
		return err
	})
}

func toStepResult(out *blocks.ActionOutput) (engine.StepResult, error) {
	if out == nil {
		return engine.StepResult{}, nil
	}
	var result engine.StepResult
	if len(out.Data) > 0 {
		if err := json.Unmarshal(out.Data, &result.Output); err != nil {
			return engine.StepResult{}, schema.NewError(schema.ErrCodeExecution, "block returned invalid JSON output").WithCause(err)
		}
	}
	result.Pause = out.Pause
	if out.Stop != nil {
		result.Stop = &engine.StopRequest{Response: out.Stop.Response}
	}
	return result, nil
}

var _ engine.StepRunner = (*Local)(nil)
