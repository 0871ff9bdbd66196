package engine

import (
	"context"
	"strings"
	"time"

	"github.com/rendis/flowengine/pkg/schema"
)

// VariableResolver resolves {{ }} templates against a step scope and
// returns both the real and the secret-redacted value.
// Satisfied by expressions.TemplateResolver.
type VariableResolver interface {
	Resolve(ctx context.Context, unresolved any, scope map[string]any) (resolved any, censored any, err error)
}

// ProgressSender pushes the current run state to the coordinator.
// Satisfied by progress.Reporter.
type ProgressSender interface {
	Send(ctx context.Context, state *RunState, constants *RunConstants) error
}

// RunConstants is the immutable configuration of one run or resolve request.
type RunConstants struct {
	ProjectID              string
	RunID                  string
	EngineToken            string
	InternalAPIURL         string
	PublicURL              string
	FlowVersion            *schema.FlowVersion
	ExecutionCorrelationID string
	ServerHandlerID        *string
	ProgressUpdateType     schema.ProgressUpdateType
	ExecutionType          schema.ExecutionType
	ResumePayload          any

	// Set for resolve requests only.
	StepName        string
	StepTestOutputs map[string]string

	Deadline  Deadline
	Variables VariableResolver
	Progress  ProgressSender

	progress *progressQueue
}

// NewRunConstants returns a copy of c with defaults applied: internal and
// public URLs end with a slash, progress mode defaults to NONE and execution
// type to BEGIN. Progress updates are only ordered for constants built here.
func NewRunConstants(c RunConstants) *RunConstants {
	c.InternalAPIURL = withTrailingSlash(c.InternalAPIURL)
	c.PublicURL = withTrailingSlash(c.PublicURL)
	if c.ProgressUpdateType == "" {
		c.ProgressUpdateType = schema.ProgressUpdateNone
	}
	if c.ExecutionType == "" {
		c.ExecutionType = schema.ExecutionTypeBegin
	}
	c.progress = &progressQueue{}
	return &c
}

// FromResolveRequest builds constants for a dry-run variable resolution.
// No progress is reported for these.
func FromResolveRequest(req *schema.ResolveVariableRequest, variables VariableResolver) *RunConstants {
	return NewRunConstants(RunConstants{
		ProjectID:       req.ProjectID,
		EngineToken:     req.EngineToken,
		InternalAPIURL:  req.InternalAPIURL,
		PublicURL:       req.PublicURL,
		FlowVersion:     &req.FlowVersion,
		StepName:        req.StepName,
		StepTestOutputs: req.StepTestOutputs,
		Variables:       variables,
	})
}

// Resuming reports whether the run continues a paused execution.
func (c *RunConstants) Resuming() bool {
	return c.ExecutionType == schema.ExecutionTypeResume
}

// Now reads the run clock.
func (c *RunConstants) Now() time.Time {
	return c.Deadline.now()
}

func withTrailingSlash(u string) string {
	if u == "" || strings.HasSuffix(u, "/") {
		return u
	}
	return u + "/"
}
