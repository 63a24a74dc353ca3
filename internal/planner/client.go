// Package planner implements the Planner Client (C3): it calls the
// external, opaque planning model and parses its strict-JSON or
// bullet-text response into an ordered plan. Grounded line-for-line on
// agent_core/api_client.py's run_planner/_retry/_responses_create_compat/
// _parse_plan_text_to_list.
package planner

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/terminusdev/terminus/internal/llmclient"
)

// Request is the structured request sent to the planner's HTTP endpoint.
type Request struct {
	Model              string         `json:"model"`
	SystemPrompt       string         `json:"system_prompt"`
	UserGoal           string         `json:"user_goal"`
	ResponseFormat     any            `json:"response_format,omitempty"`
	Tools              []OptionalTool `json:"tools,omitempty"`
	ToolChoice         any            `json:"tool_choice,omitempty"`
	SafetyIdentifier   string         `json:"safety_identifier"`
	PreviousResponseID string         `json:"previous_response_id,omitempty"`
}

// OptionalTool describes an opt-in planner tool attachment (web search,
// file search, or a remote MCP server), ported from
// api_client.py's _build_planner_tools.
type OptionalTool struct {
	Type           string   `json:"type"`
	VectorStoreIDs []string `json:"vector_store_ids,omitempty"`
	ServerURL      string   `json:"server_url,omitempty"`
}

// rawResponse is the minimal shape of the planner HTTP response: either a
// structured plan document, or free-form output text to fall back to
// bullet-line parsing.
type rawResponse struct {
	OutputText string `json:"output_text"`
}

// Options configures optional planner behavior.
type Options struct {
	Model                   string
	BaseURL                 string
	SafetyIdentifierPrefix  string
	StrictJSON              bool
	EnableWebSearch         bool
	EnableFileSearch        bool
	EnableMCP               bool
	VectorStoreIDs          []string
	MCPServerURLs           []string
	HTTPClient              *http.Client
	// Offline forces the deterministic, network-free planning mode used
	// for end-to-end tests and developer environments without upstream
	// credentials (no API key configured).
	Offline bool
}

// Client calls the external planner and parses its response into a plan.
type Client struct {
	opts    Options
	breaker *gobreaker.CircuitBreaker
}

// New builds a planner Client.
func New(opts Options) *Client {
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if opts.SafetyIdentifierPrefix == "" {
		opts.SafetyIdentifierPrefix = "terminus-"
	}
	return &Client{opts: opts, breaker: llmclient.NewBreaker("planner")}
}

// Plan returns an ordered list of steps for userGoal. previousResponseID
// chains a re-plan call to a prior upstream response when non-empty.
func (c *Client) Plan(ctx context.Context, userGoal, sessionID, previousResponseID string) ([]string, error) {
	if c.opts.Offline || c.opts.BaseURL == "" {
		return offlinePlan(userGoal), nil
	}

	result, err := llmclient.Call(ctx, c.breaker, llmclient.DefaultRetryConfig(), func(ctx context.Context) (any, error) {
		return c.call(ctx, userGoal, sessionID, previousResponseID)
	})
	if err != nil {
		return nil, fmt.Errorf("planner call failed: %w", err)
	}

	text := result.(string)
	plan := parsePlanText(text)
	if len(plan) == 0 {
		plan = []string{"Analyze and begin: " + userGoal}
	}
	return plan, nil
}

// offlinePlan is the deterministic network-free planning mode: a compound
// goal written as "step one -> step two -> ..." decomposes into one step
// per segment; any other goal is a single-step plan of itself, matching
// the happy-path scenario in spec.md §8.
func offlinePlan(userGoal string) []string {
	segments := strings.Split(userGoal, "->")
	plan := make([]string, 0, len(segments))
	for _, seg := range segments {
		seg = strings.TrimSpace(seg)
		if seg != "" {
			plan = append(plan, seg)
		}
	}
	if len(plan) == 0 {
		plan = []string{"Analyze and begin: " + userGoal}
	}
	return plan
}

func (c *Client) call(ctx context.Context, userGoal, sessionID, previousResponseID string) (any, error) {
	req := Request{
		Model:              c.opts.Model,
		SystemPrompt:       "Return strict JSON matching {\"plan\": [string, ...]}. No prose.",
		UserGoal:           userGoal,
		SafetyIdentifier:   c.opts.SafetyIdentifierPrefix + sessionID,
		PreviousResponseID: previousResponseID,
	}
	if c.opts.StrictJSON {
		req.ResponseFormat = map[string]any{"type": "json_schema", "json_schema": json.RawMessage(planSchemaJSON)}
	}
	req.Tools = c.buildOptionalTools()

	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	text, err := c.doRequestWithCompatFallback(ctx, body)
	if err != nil {
		return nil, err
	}
	return text, nil
}

// buildOptionalTools ports _build_planner_tools: web search / file search /
// MCP tool attachments are opt-in via configuration.
func (c *Client) buildOptionalTools() []OptionalTool {
	var tools []OptionalTool
	if c.opts.EnableWebSearch {
		tools = append(tools, OptionalTool{Type: "web_search_preview"})
	}
	if c.opts.EnableFileSearch && len(c.opts.VectorStoreIDs) > 0 {
		tools = append(tools, OptionalTool{Type: "file_search", VectorStoreIDs: c.opts.VectorStoreIDs})
	}
	if c.opts.EnableMCP {
		for _, url := range c.opts.MCPServerURLs {
			tools = append(tools, OptionalTool{Type: "mcp", ServerURL: url})
		}
	}
	return tools
}

// doRequestWithCompatFallback sends body as-is; if the upstream rejects an
// optional field with a 4xx, it retries with that field progressively
// dropped per llmclient.OptionalFieldPriority, matching
// _responses_create_compat.
func (c *Client) doRequestWithCompatFallback(ctx context.Context, body []byte) (string, error) {
	text, err := c.doRequest(ctx, body)
	if err == nil {
		return text, nil
	}
	var se *llmclient.StatusError
	if !errors.As(err, &se) || se.StatusCode < 400 || se.StatusCode >= 500 {
		return "", err
	}

	var fields map[string]any
	if jsonErr := json.Unmarshal(body, &fields); jsonErr != nil {
		return "", err
	}
	for _, variant := range llmclient.DropOptionalFields(fields) {
		variantBody, marshalErr := json.Marshal(variant)
		if marshalErr != nil {
			continue
		}
		if text, retryErr := c.doRequest(ctx, variantBody); retryErr == nil {
			return text, nil
		}
	}
	return "", err
}

func (c *Client) doRequest(ctx context.Context, body []byte) (string, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.opts.BaseURL, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.opts.HTTPClient.Do(httpReq)
	if err != nil {
		return "", &llmclient.StatusError{StatusCode: 0, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", &llmclient.StatusError{
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("planner upstream returned status %d", resp.StatusCode),
		}
	}

	var raw rawResponse
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return "", fmt.Errorf("planner: decode response: %w", err)
	}
	return raw.OutputText, nil
}

var bulletPrefix = regexp.MustCompile(`^(\s*([-*•]|\d+\.)\s+)`)

// parsePlanText implements _parse_plan_text_to_list: try JSON first
// ({"plan": [...]} or a bare array), then fall back to bullet-line parsing.
func parsePlanText(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	var obj struct {
		Plan []string `json:"plan"`
	}
	if err := json.Unmarshal([]byte(text), &obj); err == nil && len(obj.Plan) > 0 {
		if err := validatePlanDocument(map[string]any{"plan": toAnySlice(obj.Plan)}); err != nil {
			slog.Warn("planner: strict-JSON plan failed schema validation, using it anyway", "error", err)
		}
		return trimAll(obj.Plan)
	}

	var arr []string
	if err := json.Unmarshal([]byte(text), &arr); err == nil && len(arr) > 0 {
		return trimAll(arr)
	}

	var lines []string
	for _, line := range strings.Split(text, "\n") {
		line = bulletPrefix.ReplaceAllString(line, "")
		line = strings.TrimSpace(line)
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

func trimAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

func toAnySlice(in []string) []any {
	out := make([]any, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}
