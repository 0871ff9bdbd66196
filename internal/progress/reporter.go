// Package progress pushes run state to the coordinating service.
package progress

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/spaolacci/murmur3"

	"github.com/rendis/flowengine/internal/engine"
	"github.com/rendis/flowengine/internal/logging"
	"github.com/rendis/flowengine/pkg/schema"
)

// UpdateRunPath is appended to the internal API URL.
const UpdateRunPath = "v1/engine/update-run"

// Config configures a Reporter.
type Config struct {
	Client *http.Client        // nil = 10s timeout client
	Logger *slog.Logger        // nil = slog.Default()
	Retry  *engine.RetryPolicy // nil = engine.ProgressRetryPolicy

	// Wait sleeps between retries; nil = engine.WaitForBackoff.
	Wait func(ctx context.Context, d time.Duration) error
}

// Reporter sends deduplicated progress updates for a single run. Sends are
// serialized; an update whose payload only differs in durations from the
// previous one is skipped. Delivery is best effort.
type Reporter struct {
	client *http.Client
	logger *slog.Logger
	retry  engine.RetryPolicy
	wait   func(ctx context.Context, d time.Duration) error

	mu       sync.Mutex
	lastHash string
}

// NewReporter creates a Reporter. Create one per run.
func NewReporter(cfg Config) *Reporter {
	r := &Reporter{
		client: cfg.Client,
		logger: cfg.Logger,
		retry:  engine.ProgressRetryPolicy,
		wait:   cfg.Wait,
	}
	if r.client == nil {
		r.client = &http.Client{Timeout: 10 * time.Second}
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	if cfg.Retry != nil {
		r.retry = *cfg.Retry
	}
	return r
}

// Send reports state. An expired run deadline is returned to the caller;
// delivery failures are logged and swallowed.
func (r *Reporter) Send(ctx context.Context, state *engine.RunState, constants *engine.RunConstants) error {
	if err := constants.Deadline.Check(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if constants.ExecutionCorrelationID == "" {
		return schema.NewError(schema.ErrCodeProgress,
			"executionCorrelationId is not defined when sending an update run progress request")
	}

	req := schema.UpdateRunProgressRequest{
		ExecutionCorrelationID: constants.ExecutionCorrelationID,
		RunID:                  constants.RunID,
		WorkerHandlerID:        constants.ServerHandlerID,
		RunDetails:             state.ToResponse(),
		ProgressUpdateType:     constants.ProgressUpdateType,
	}
	body, err := json.Marshal(req)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeProgress, "marshal progress update: %s", err.Error()).WithCause(err)
	}

	log := logging.LogWith(ctx, r.logger)
	log.Debug("sending progress update", "run_id", req.RunID, "status", req.RunDetails.Status)

	hash, err := Hash(body)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeProgress, "hash progress update: %s", err.Error()).WithCause(err)
	}
	if hash == r.lastHash {
		return nil
	}
	r.lastHash = hash

	url := constants.InternalAPIURL + UpdateRunPath
	err = engine.Retry(ctx, r.retry, r.wait, func(int) error {
		return r.post(ctx, url, constants.EngineToken, body)
	})
	if err != nil {
		log.Error(fmt.Sprintf("progress update failed after %d retries", r.retry.Attempts),
			"run_id", req.RunID, "status", req.RunDetails.Status, "error", err)
	}
	return nil
}

type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("update-run returned %d: %s", e.code, e.body)
}

func (r *Reporter) post(ctx context.Context, url, token string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeValidation, "build progress request: %s", err.Error())
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := r.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &statusError{code: resp.StatusCode, body: string(msg)}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// Hash returns the murmur3 128-bit hash of a JSON document with every
// "duration" key removed, at any depth. Object keys are re-encoded in sorted
// order, so two documents that differ only in key order (step order
// included) hash the same.
func Hash(doc []byte) (string, error) {
	var v any
	dec := json.NewDecoder(bytes.NewReader(doc))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return "", err
	}
	canonical, err := json.Marshal(stripDurations(v))
	if err != nil {
		return "", err
	}
	h1, h2 := murmur3.Sum128(canonical)
	sum := make([]byte, 16)
	for i := 0; i < 8; i++ {
		sum[i] = byte(h1 >> (56 - 8*i))
		sum[8+i] = byte(h2 >> (56 - 8*i))
	}
	return hex.EncodeToString(sum), nil
}

func stripDurations(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			if k == "duration" {
				continue
			}
			out[k] = stripDurations(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = stripDurations(val)
		}
		return out
	default:
		return v
	}
}

// Discard drops every update but still enforces the run deadline. Used when
// no coordinator is configured.
type Discard struct{}

func (Discard) Send(_ context.Context, _ *engine.RunState, constants *engine.RunConstants) error {
	return constants.Deadline.Check()
}

var (
	_ engine.ProgressSender = (*Reporter)(nil)
	_ engine.ProgressSender = Discard{}
)
