package invoker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rendis/flowcore/pkg/schema"
)

// HTTPConfig configures the HTTP invoker.
type HTTPConfig struct {
	// BaseURL of the agent gateway. The invoker POSTs to
	// {BaseURL}/agents/{agent_id}/invoke.
	BaseURL string
	// AuthToken is sent as a bearer token when non-empty.
	AuthToken       string
	Timeout         time.Duration
	MaxResponseBody int64
}

const (
	defaultInvokeTimeout   = 120 * time.Second
	defaultMaxResponseBody = 10 * 1024 * 1024 // 10MB
)

// HTTPInvoker delivers step instructions to agents over HTTP.
type HTTPInvoker struct {
	config HTTPConfig
	client *http.Client
}

// NewHTTPInvoker creates an invoker that POSTs step instructions to the
// agent gateway.
func NewHTTPInvoker(cfg HTTPConfig) *HTTPInvoker {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultInvokeTimeout
	}
	if cfg.MaxResponseBody <= 0 {
		cfg.MaxResponseBody = defaultMaxResponseBody
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &HTTPInvoker{
		config: cfg,
		client: &http.Client{},
	}
}

type invokePayload struct {
	RunID       string         `json:"run_id"`
	WorkflowID  string         `json:"workflow_id"`
	StepID      string         `json:"step_id"`
	Instruction string         `json:"instruction"`
	Mode        string         `json:"mode"`
	Context     schema.Context `json:"context,omitempty"`
}

// Invoke sends the instruction to the step's agent and parses the response
// object. A missing "success" field is treated as failure.
func (i *HTTPInvoker) Invoke(ctx context.Context, req Request) (*Result, error) {
	payload, err := json.Marshal(invokePayload{
		RunID:       req.RunID,
		WorkflowID:  req.WorkflowID,
		StepID:      req.StepID,
		Instruction: req.Instruction,
		Mode:        string(req.Mode),
		Context:     req.Context,
	})
	if err != nil {
		return nil, invokeErr(req, "marshal request: %v", err).WithCause(err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, i.config.Timeout)
	defer cancel()

	url := fmt.Sprintf("%s/agents/%s/invoke", i.config.BaseURL, req.AgentID)
	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, invokeErr(req, "create request: %v", err).WithCause(err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if i.config.AuthToken != "" {
		httpReq.Header.Set("Authorization", "Bearer "+i.config.AuthToken)
	}

	resp, err := i.client.Do(httpReq)
	if err != nil {
		return nil, invokeErr(req, "agent unreachable: %v", err).WithCause(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, i.config.MaxResponseBody))
	if err != nil {
		return nil, invokeErr(req, "read response: %v", err).WithCause(err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, invokeErr(req, "agent returned status %d", resp.StatusCode).
			WithDetails(map[string]any{
				"agent_id":    req.AgentID,
				"run_id":      req.RunID,
				"status_code": resp.StatusCode,
				"body":        string(body),
			})
	}

	var fields map[string]any
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, invokeErr(req, "invalid response body: %v", err).WithCause(err)
	}

	success, _ := fields["success"].(bool)
	return &Result{Success: success, Fields: fields}, nil
}

func invokeErr(req Request, format string, args ...any) *schema.FlowError {
	return schema.NewErrorf(schema.ErrCodeStepInvocation, format, args...).
		WithStep(req.StepID).
		WithDetails(map[string]any{"agent_id": req.AgentID, "run_id": req.RunID})
}
