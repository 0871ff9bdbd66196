package blocks

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/flowengine/pkg/schema"
)

func execSendRequest(t *testing.T, params map[string]any) (map[string]any, error) {
	t.Helper()
	out, err := NewSendRequestAction(HTTPConfig{}).Execute(context.Background(), ActionInput{Params: params})
	if err != nil {
		return nil, err
	}
	var result map[string]any
	require.NoError(t, json.Unmarshal(out.Data, &result))
	return result, nil
}

func TestSendRequest_GET_JSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "2", r.URL.Query().Get("page"))
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("X-Custom", "test-value")
		_ = json.NewEncoder(w).Encode(map[string]any{"greeting": "hello", "count": 42})
	}))
	defer srv.Close()

	result, err := execSendRequest(t, map[string]any{
		"url":         srv.URL,
		"queryParams": map[string]any{"page": 2},
	})
	require.NoError(t, err)

	assert.Equal(t, float64(200), result["status"])
	body, ok := result["body"].(map[string]any)
	require.True(t, ok, "body should be parsed map")
	assert.Equal(t, "hello", body["greeting"])

	hdrs, ok := result["headers"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "test-value", hdrs["X-Custom"])
}

func TestSendRequest_POST_Bodies(t *testing.T) {
	tests := []struct {
		name        string
		bodyType    string
		body        any
		wantType    string
		wantPayload string
	}{
		{"json", "json", map[string]any{"a": 1}, "application/json", `{"a":1}`},
		{"default is json", "", []any{"x"}, "application/json", `["x"]`},
		{"form", "form", map[string]any{"q": "go"}, "application/x-www-form-urlencoded", "q=go"},
		{"text", "text", "plain words", "text/plain", "plain words"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotType, gotBody string
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				gotType = r.Header.Get("Content-Type")
				b, _ := io.ReadAll(r.Body)
				gotBody = string(b)
				w.WriteHeader(http.StatusCreated)
			}))
			defer srv.Close()

			params := map[string]any{"url": srv.URL, "method": "post", "body": tt.body}
			if tt.bodyType != "" {
				params["bodyType"] = tt.bodyType
			}
			result, err := execSendRequest(t, params)
			require.NoError(t, err)
			assert.Equal(t, float64(201), result["status"])
			assert.Nil(t, result["body"])
			assert.Equal(t, tt.wantType, gotType)
			assert.Equal(t, tt.wantPayload, gotBody)
		})
	}
}

func TestSendRequest_Auth(t *testing.T) {
	tests := []struct {
		name  string
		auth  map[string]any
		check func(t *testing.T, r *http.Request)
	}{
		{"bearer", map[string]any{"type": "BEARER_TOKEN", "token": "tok"}, func(t *testing.T, r *http.Request) {
			assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		}},
		{"basic", map[string]any{"type": "BASIC", "username": "u", "password": "p"}, func(t *testing.T, r *http.Request) {
			user, pass, ok := r.BasicAuth()
			assert.True(t, ok)
			assert.Equal(t, "u", user)
			assert.Equal(t, "p", pass)
		}},
		{"api key", map[string]any{"type": "API_KEY", "headerName": "X-Key", "headerValue": "k"}, func(t *testing.T, r *http.Request) {
			assert.Equal(t, "k", r.Header.Get("X-Key"))
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				tt.check(t, r)
			}))
			defer srv.Close()

			_, err := execSendRequest(t, map[string]any{"url": srv.URL, "authentication": tt.auth})
			require.NoError(t, err)
		})
	}
}

func TestSendRequest_FailureModes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := execSendRequest(t, map[string]any{"url": srv.URL + "/missing"})
	requireCode(t, err, schema.ErrCodeStepFailed)

	_, err = execSendRequest(t, map[string]any{"url": srv.URL})
	requireCode(t, err, schema.ErrCodeExecution)

	result, err := execSendRequest(t, map[string]any{"url": srv.URL + "/missing", "failureMode": "5xx"})
	require.NoError(t, err)
	assert.Equal(t, float64(404), result["status"])

	result, err = execSendRequest(t, map[string]any{"url": srv.URL, "failureMode": "none"})
	require.NoError(t, err)
	assert.Equal(t, float64(502), result["status"])
}

func TestSendRequest_InvalidURL(t *testing.T) {
	_, err := execSendRequest(t, map[string]any{"url": "ftp://example.com"})
	requireCode(t, err, schema.ErrCodeValidation)
}

func TestSendRequest_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(2 * time.Second):
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()

	start := time.Now()
	_, err := execSendRequest(t, map[string]any{"url": srv.URL, "timeout": 0.05})
	requireCode(t, err, schema.ErrCodeExecution)
	assert.Less(t, time.Since(start), time.Second)
}

func TestSendRequest_TextResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("pong"))
	}))
	defer srv.Close()

	result, err := execSendRequest(t, map[string]any{"url": srv.URL})
	require.NoError(t, err)
	assert.Equal(t, "pong", result["body"])
}
