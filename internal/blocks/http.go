package blocks

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rendis/flowengine/pkg/schema"
)

// HTTPBlock is the name of the HTTP block.
const HTTPBlock = "@flowengine/block-http"

// HTTPConfig configures the HTTP block.
type HTTPConfig struct {
	MaxResponseBody int64
	DefaultTimeout  time.Duration
	// Transport overrides the client transport. Tests use it to reach
	// httptest servers.
	Transport http.RoundTripper
}

const (
	defaultMaxResponseBody = 10 * 1024 * 1024 // 10MB
	defaultHTTPTimeout     = 30 * time.Second
)

const sendRequestInputSchema = `{
  "type": "object",
  "properties": {
    "method": {"type": "string", "enum": ["GET","POST","PUT","PATCH","DELETE","HEAD","OPTIONS","get","post","put","patch","delete","head","options"]},
    "url": {"type": "string", "minLength": 1},
    "headers": {"type": "object"},
    "queryParams": {"type": "object"},
    "body": {},
    "bodyType": {"type": "string", "enum": ["json","form","text","none"]},
    "authentication": {
      "type": "object",
      "properties": {
        "type": {"type": "string", "enum": ["NONE","BEARER_TOKEN","BASIC","API_KEY"]},
        "token": {"type": "string"},
        "username": {"type": "string"},
        "password": {"type": "string"},
        "headerName": {"type": "string"},
        "headerValue": {"type": "string"}
      }
    },
    "timeout": {"type": "number", "minimum": 0},
    "failureMode": {"type": "string", "enum": ["all","4xx","5xx","none"]}
  },
  "required": ["url"]
}`

// HTTPActions returns the actions of the HTTP block.
func HTTPActions(cfg HTTPConfig) []Action {
	return []Action{NewSendRequestAction(cfg)}
}

// SendRequestAction implements send_request: one HTTP call whose response
// becomes the step output as {status, headers, body}.
type SendRequestAction struct {
	config HTTPConfig
	client *http.Client
}

// NewSendRequestAction creates a send_request action.
func NewSendRequestAction(cfg HTTPConfig) *SendRequestAction {
	if cfg.MaxResponseBody <= 0 {
		cfg.MaxResponseBody = defaultMaxResponseBody
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = defaultHTTPTimeout
	}
	transport := cfg.Transport
	if transport == nil {
		transport = http.DefaultTransport.(*http.Transport).Clone()
	}
	return &SendRequestAction{config: cfg, client: &http.Client{Transport: transport}}
}

func (a *SendRequestAction) Name() string { return "send_request" }

func (a *SendRequestAction) Schema() ActionSchema {
	return ActionSchema{
		Description: "Send an HTTP request and return its status, headers and body.",
		InputSchema: json.RawMessage(sendRequestInputSchema),
	}
}

func (a *SendRequestAction) Execute(ctx context.Context, input ActionInput) (*ActionOutput, error) {
	params := input.Params

	rawURL := stringParam(params, "url", "")
	u, err := url.ParseRequestURI(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "send_request: invalid url %q", rawURL)
	}
	if qp, ok := params["queryParams"].(map[string]any); ok && len(qp) > 0 {
		q := u.Query()
		for k, v := range qp {
			q.Set(k, fmt.Sprintf("%v", v))
		}
		u.RawQuery = q.Encode()
	}

	method := strings.ToUpper(stringParam(params, "method", http.MethodGet))

	timeout := a.config.DefaultTimeout
	if secs := floatParam(params, "timeout", 0); secs > 0 {
		timeout = time.Duration(secs * float64(time.Second))
	}

	bodyReader, contentType, err := encodeBody(params)
	if err != nil {
		return nil, err
	}

	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, method, u.String(), bodyReader)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeExecution, "send_request: failed to create request").WithCause(err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if hdrs, ok := params["headers"].(map[string]any); ok {
		for k, v := range hdrs {
			req.Header.Set(k, fmt.Sprintf("%v", v))
		}
	}
	applyAuth(req, params)

	start := time.Now()
	resp, err := a.client.Do(req)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExecution, "send_request: request failed: %v", err).WithCause(err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(io.LimitReader(resp.Body, a.config.MaxResponseBody))
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeExecution, "send_request: failed to read response body").WithCause(err)
	}

	respHeaders := make(map[string]string, len(resp.Header))
	for k := range resp.Header {
		respHeaders[k] = resp.Header.Get(k)
	}
	result := map[string]any{
		"status":     resp.StatusCode,
		"headers":    respHeaders,
		"body":       decodeBody(resp.Header.Get("Content-Type"), bodyBytes),
		"durationMs": time.Since(start).Milliseconds(),
	}

	if failsOn(stringParam(params, "failureMode", "all"), resp.StatusCode) {
		code := schema.ErrCodeStepFailed
		if resp.StatusCode >= 500 {
			code = schema.ErrCodeExecution
		}
		return nil, schema.NewErrorf(code, "send_request: server returned %d", resp.StatusCode).
			WithDetails(result)
	}

	return jsonOutput("send_request", result)
}

func encodeBody(params map[string]any) (io.Reader, string, error) {
	rawBody, ok := params["body"]
	if !ok || rawBody == nil {
		return nil, "", nil
	}
	switch stringParam(params, "bodyType", "json") {
	case "none":
		return nil, "", nil
	case "form":
		formData, ok := rawBody.(map[string]any)
		if !ok {
			return nil, "", schema.NewError(schema.ErrCodeValidation, "send_request: form body must be an object")
		}
		vals := url.Values{}
		for k, v := range formData {
			vals.Set(k, fmt.Sprintf("%v", v))
		}
		return strings.NewReader(vals.Encode()), "application/x-www-form-urlencoded", nil
	case "text":
		return strings.NewReader(fmt.Sprintf("%v", rawBody)), "text/plain", nil
	default:
		b, err := json.Marshal(rawBody)
		if err != nil {
			return nil, "", schema.NewError(schema.ErrCodeExecution, "send_request: failed to marshal body as JSON").WithCause(err)
		}
		return strings.NewReader(string(b)), "application/json", nil
	}
}

func decodeBody(contentType string, body []byte) any {
	if len(body) == 0 {
		return nil
	}
	if strings.Contains(contentType, "json") {
		var v any
		if err := json.Unmarshal(body, &v); err == nil {
			return v
		}
	}
	return string(body)
}

func applyAuth(req *http.Request, params map[string]any) {
	auth, ok := params["authentication"].(map[string]any)
	if !ok {
		return
	}
	switch stringParam(auth, "type", "NONE") {
	case "BEARER_TOKEN":
		req.Header.Set("Authorization", "Bearer "+stringParam(auth, "token", ""))
	case "BASIC":
		req.SetBasicAuth(stringParam(auth, "username", ""), stringParam(auth, "password", ""))
	case "API_KEY":
		if name := stringParam(auth, "headerName", ""); name != "" {
			req.Header.Set(name, stringParam(auth, "headerValue", ""))
		}
	}
}

func failsOn(mode string, status int) bool {
	switch mode {
	case "none":
		return false
	case "4xx":
		return status >= 400 && status < 500
	case "5xx":
		return status >= 500
	default:
		return status >= 400
	}
}

// Param helpers used by all block files.

func stringParam(m map[string]any, key, defaultVal string) string {
	s, ok := m[key].(string)
	if !ok {
		return defaultVal
	}
	return s
}

func floatParam(m map[string]any, key string, defaultVal float64) float64 {
	switch n := m[key].(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return defaultVal
		}
		return f
	default:
		return defaultVal
	}
}
