package invoker

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/flowcore/pkg/schema"
)

func testRequest() Request {
	return Request{
		RunID:       "run-1",
		WorkflowID:  "wf-1",
		StepID:      "fetch",
		AgentID:     "agent-1",
		Instruction: "fetch the data",
		Mode:        schema.RunModeLive,
		Context:     schema.Context{"steps": map[string]any{}},
	}
}

func TestInvokeSuccess(t *testing.T) {
	var gotPath string
	var gotBody invokePayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success": true, "result": "3 items", "count": 3}`))
	}))
	defer srv.Close()

	inv := NewHTTPInvoker(HTTPConfig{BaseURL: srv.URL})
	res, err := inv.Invoke(context.Background(), testRequest())
	require.NoError(t, err)

	assert.Equal(t, "/agents/agent-1/invoke", gotPath)
	assert.Equal(t, "fetch the data", gotBody.Instruction)
	assert.Equal(t, "live", gotBody.Mode)
	assert.True(t, res.Success)
	assert.Equal(t, "3 items", res.Fields["result"])
	assert.Equal(t, float64(3), res.Fields["count"])
}

func TestInvokeAgentFailureResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"success": false, "error": "upstream timeout"}`))
	}))
	defer srv.Close()

	inv := NewHTTPInvoker(HTTPConfig{BaseURL: srv.URL})
	res, err := inv.Invoke(context.Background(), testRequest())
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "upstream timeout", res.Fields["error"])
}

func TestInvokeNonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	inv := NewHTTPInvoker(HTTPConfig{BaseURL: srv.URL})
	_, err := inv.Invoke(context.Background(), testRequest())
	require.Error(t, err)

	var flowErr *schema.FlowError
	require.True(t, errors.As(err, &flowErr))
	assert.Equal(t, schema.ErrCodeStepInvocation, flowErr.Code)
	assert.Equal(t, "fetch", flowErr.StepID)
	assert.Equal(t, 500, flowErr.Details["status_code"])
}

func TestInvokeTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	inv := NewHTTPInvoker(HTTPConfig{BaseURL: srv.URL, Timeout: 20 * time.Millisecond})
	_, err := inv.Invoke(context.Background(), testRequest())
	require.Error(t, err)

	var flowErr *schema.FlowError
	require.True(t, errors.As(err, &flowErr))
	assert.Equal(t, schema.ErrCodeStepInvocation, flowErr.Code)
}

func TestInvokeCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	inv := NewHTTPInvoker(HTTPConfig{BaseURL: srv.URL})
	_, err := inv.Invoke(ctx, testRequest())
	require.Error(t, err)
}

func TestInvokeBearerAuth(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_, _ = w.Write([]byte(`{"success": true}`))
	}))
	defer srv.Close()

	inv := NewHTTPInvoker(HTTPConfig{BaseURL: srv.URL, AuthToken: "secret"})
	_, err := inv.Invoke(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, "Bearer secret", gotAuth)
}

func TestInvokeMalformedResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`not json`))
	}))
	defer srv.Close()

	inv := NewHTTPInvoker(HTTPConfig{BaseURL: srv.URL})
	_, err := inv.Invoke(context.Background(), testRequest())
	require.Error(t, err)
}
