// Package translator implements the Translator Client (C4): it calls the
// external, opaque translation model and extracts a single-line shell
// command from either a structured function call or raw text. Grounded on
// agent_core/api_client.py's run_executor/_to_single_line/
// _extract_function_call_command and executor.py's translate_task_to_bash.
package translator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"

	"github.com/terminusdev/terminus/internal/llmclient"
)

// emitBashSchema is the strict function-call schema for emit_bash, ported
// from agent_core/schemas.py's BASH_SCHEMA.
const emitBashSchema = `{
	"name": "emit_bash",
	"parameters": {
		"type": "object",
		"additionalProperties": false,
		"required": ["command"],
		"properties": {"command": {"type": "string", "minLength": 1}}
	}
}`

// functionCall is a structured tool-call item in the translator's response.
type functionCall struct {
	Type      string `json:"type"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type rawResponse struct {
	OutputText    string         `json:"output_text"`
	FunctionCalls []functionCall `json:"function_calls"`
}

// Options configures the translator client.
type Options struct {
	Model                  string
	BaseURL                string
	SafetyIdentifierPrefix string
	StrictFunction         bool
	AllowTextFallback      bool
	HTTPClient             *http.Client
	// Offline switches to the deterministic substring-mapping mode used
	// when no upstream credentials are configured.
	Offline bool
}

// Client calls the external translator and normalizes its output.
type Client struct {
	opts    Options
	breaker *gobreaker.CircuitBreaker
}

// New builds a translator Client.
func New(opts Options) *Client {
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if opts.SafetyIdentifierPrefix == "" {
		opts.SafetyIdentifierPrefix = "terminus-"
	}
	return &Client{opts: opts, breaker: llmclient.NewBreaker("translator")}
}

// Translate returns the single-line shell command for subTask.
func (c *Client) Translate(ctx context.Context, subTask, sessionID string) (string, error) {
	if c.opts.Offline || c.opts.BaseURL == "" {
		return offlineTranslate(subTask), nil
	}

	result, err := llmclient.Call(ctx, c.breaker, llmclient.DefaultRetryConfig(), func(ctx context.Context) (any, error) {
		return c.call(ctx, subTask, sessionID)
	})
	if err != nil {
		return "", fmt.Errorf("translator call failed: %w", err)
	}
	return Normalize(result.(string)), nil
}

// TranslateStandalone mints an ephemeral session id and translates subTask,
// for callers with no existing session context — ported from
// executor.py's translate_task_to_bash.
func (c *Client) TranslateStandalone(ctx context.Context, subTask string) (string, error) {
	sessionID := strings.ReplaceAll(uuid.New().String(), "-", "")[:12]
	return c.Translate(ctx, subTask, sessionID)
}

// offlineTranslate implements run_executor's TERMINUS_FAKE branch exactly:
// fixed substrings map to fixed commands, with "echo noop" as the default.
func offlineTranslate(subTask string) string {
	task := strings.ToLower(strings.TrimSpace(subTask))
	switch {
	case strings.Contains(task, "print hello"):
		return "echo hello"
	case strings.Contains(task, "print completion"), strings.Contains(task, "print done"):
		return "echo done"
	case strings.Contains(task, "cause failure"):
		return "bash -lc 'exit 1'"
	case strings.Contains(task, "remediate"):
		return "echo remediate"
	default:
		return "echo noop"
	}
}

func (c *Client) call(ctx context.Context, subTask, sessionID string) (string, error) {
	reqBody := map[string]any{
		"model":             c.opts.Model,
		"system_prompt":     "Return exactly one single-line shell command. No prose, no multiple lines.",
		"sub_task":          subTask,
		"safety_identifier": c.opts.SafetyIdentifierPrefix + sessionID,
	}
	if c.opts.StrictFunction {
		reqBody["tool_choice"] = map[string]any{
			"type": "allowed_tools",
			"mode": "required",
			"tools": []map[string]string{
				{"type": "function", "name": "emit_bash"},
			},
		}
		reqBody["tools"] = []json.RawMessage{json.RawMessage(emitBashSchema)}
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", err
	}

	raw, err := c.doRequest(ctx, body)
	if err != nil {
		return "", err
	}

	if c.opts.StrictFunction {
		if cmd, ok := extractFunctionCallCommand(raw); ok {
			return cmd, nil
		}
		if c.opts.AllowTextFallback {
			return raw.OutputText, nil
		}
		return "", fmt.Errorf("translator: no emit_bash function call in strict mode and text fallback disabled")
	}

	var obj struct {
		Command string `json:"command"`
	}
	if err := json.Unmarshal([]byte(raw.OutputText), &obj); err == nil && obj.Command != "" {
		return obj.Command, nil
	}
	return raw.OutputText, nil
}

func (c *Client) doRequest(ctx context.Context, body []byte) (rawResponse, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.opts.BaseURL, bytes.NewReader(body))
	if err != nil {
		return rawResponse{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.opts.HTTPClient.Do(httpReq)
	if err != nil {
		return rawResponse{}, &llmclient.StatusError{StatusCode: 0, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return rawResponse{}, &llmclient.StatusError{
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("translator upstream returned status %d", resp.StatusCode),
		}
	}

	var raw rawResponse
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return rawResponse{}, fmt.Errorf("translator: decode response: %w", err)
	}
	return raw, nil
}

// extractFunctionCallCommand scans the response's function calls for an
// emit_bash invocation and decodes its command argument.
func extractFunctionCallCommand(raw rawResponse) (string, bool) {
	for _, fc := range raw.FunctionCalls {
		if fc.Name != "emit_bash" {
			continue
		}
		var args struct {
			Command string `json:"command"`
		}
		if err := json.Unmarshal([]byte(fc.Arguments), &args); err == nil && args.Command != "" {
			return args.Command, true
		}
	}
	return "", false
}

// Normalize replaces \n, \r, \t with spaces and collapses whitespace runs,
// matching _to_single_line. Idempotent: Normalize(Normalize(x)) == Normalize(x).
func Normalize(cmd string) string {
	replacer := strings.NewReplacer("\n", " ", "\r", " ", "\t", " ")
	cmd = replacer.Replace(cmd)
	return strings.Join(strings.Fields(cmd), " ")
}
