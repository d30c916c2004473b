package providers

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const (
	openaiDefaultTimeout = 120 * time.Second
	// Conservative default: most chat backends throttle well above this.
	openaiDefaultRPS = 5
)

// OpenAIProvider speaks the OpenAI-compatible chat completions API.
// Works against OpenAI itself and the many compatible backends.
type OpenAIProvider struct {
	name         string
	apiKey       string
	apiBase      string
	defaultModel string
	client       *http.Client
	limiter      *rate.Limiter
}

func NewOpenAIProvider(name, apiKey, apiBase, defaultModel string) *OpenAIProvider {
	if apiBase == "" {
		apiBase = "https://api.openai.com/v1"
	}
	return &OpenAIProvider{
		name:         name,
		apiKey:       apiKey,
		apiBase:      strings.TrimRight(apiBase, "/"),
		defaultModel: defaultModel,
		client:       &http.Client{Timeout: openaiDefaultTimeout},
		limiter:      rate.NewLimiter(rate.Limit(openaiDefaultRPS), openaiDefaultRPS),
	}
}

func (p *OpenAIProvider) Name() string { return p.name }

// SetRateLimit overrides the default requests-per-second cap.
func (p *OpenAIProvider) SetRateLimit(rps float64, burst int) {
	p.limiter = rate.NewLimiter(rate.Limit(rps), burst)
}

// --- wire types ---

type oaMessage struct {
	Role       string       `json:"role"`
	Content    string       `json:"content"`
	ToolCalls  []oaToolCall `json:"tool_calls,omitempty"`
	ToolCallID string       `json:"tool_call_id,omitempty"`
	Name       string       `json:"name,omitempty"`
}

type oaToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type oaRequest struct {
	Model          string                 `json:"model"`
	Messages       []oaMessage            `json:"messages"`
	Tools          []ToolDefinition       `json:"tools,omitempty"`
	Stream         bool                   `json:"stream,omitempty"`
	MaxTokens      int                    `json:"max_tokens,omitempty"`
	Temperature    *float64               `json:"temperature,omitempty"`
	ResponseFormat map[string]interface{} `json:"response_format,omitempty"`
}

type oaChoice struct {
	Message      oaMessage `json:"message"`
	FinishReason string    `json:"finish_reason"`
}

type oaResponse struct {
	Choices []oaChoice `json:"choices"`
	Usage   Usage      `json:"usage"`
	Error   *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// Chat performs a blocking chat completion.
func (p *OpenAIProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	body := p.buildRequest(req, false)

	raw, err := p.post(ctx, "/chat/completions", body)
	if err != nil {
		return nil, err
	}

	var resp oaResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("parse chat response: %w", err)
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("%s API error: %s", p.name, resp.Error.Message)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%s: empty choices in response", p.name)
	}

	msg := resp.Choices[0].Message
	return &ChatResponse{
		Content:   msg.Content,
		ToolCalls: convertToolCalls(msg.ToolCalls),
		Usage:     resp.Usage,
	}, nil
}

// ChatStream performs a streaming chat completion, invoking onChunk for each
// content delta. Tool call fragments are accumulated and returned whole.
func (p *OpenAIProvider) ChatStream(ctx context.Context, req ChatRequest, onChunk func(StreamChunk)) (*ChatResponse, error) {
	body := p.buildRequest(req, true)

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", p.apiBase+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	p.setHeaders(httpReq)
	httpReq.Header.Set("Accept", "text/event-stream")

	httpResp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("stream request failed: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(httpResp.Body, 4096))
		return nil, fmt.Errorf("%s API returned %d: %s", p.name, httpResp.StatusCode, strings.TrimSpace(string(raw)))
	}

	return p.readStream(httpResp.Body, onChunk)
}

// streamDelta is the incremental choice payload in SSE chunks.
type streamDelta struct {
	Choices []struct {
		Delta struct {
			Content   string `json:"content"`
			Reasoning string `json:"reasoning_content"`
			ToolCalls []struct {
				Index    int    `json:"index"`
				ID       string `json:"id"`
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *Usage `json:"usage"`
}

func (p *OpenAIProvider) readStream(r io.Reader, onChunk func(StreamChunk)) (*ChatResponse, error) {
	var (
		content  strings.Builder
		thinking strings.Builder
		usage    Usage
	)

	// index → accumulating tool call fragments
	type partialCall struct {
		id   string
		name string
		args strings.Builder
	}
	partials := make(map[int]*partialCall)
	var order []int

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "[DONE]" {
			break
		}

		var delta streamDelta
		if err := json.Unmarshal([]byte(data), &delta); err != nil {
			slog.Debug("stream: skipping unparseable chunk", "provider", p.name, "error", err)
			continue
		}
		if delta.Usage != nil {
			usage = *delta.Usage
		}
		if len(delta.Choices) == 0 {
			continue
		}

		d := delta.Choices[0].Delta
		if d.Content != "" {
			content.WriteString(d.Content)
			if onChunk != nil {
				onChunk(StreamChunk{Content: d.Content})
			}
		}
		if d.Reasoning != "" {
			thinking.WriteString(d.Reasoning)
			if onChunk != nil {
				onChunk(StreamChunk{Thinking: d.Reasoning})
			}
		}
		for _, tc := range d.ToolCalls {
			pc, ok := partials[tc.Index]
			if !ok {
				pc = &partialCall{}
				partials[tc.Index] = pc
				order = append(order, tc.Index)
			}
			if tc.ID != "" {
				pc.id = tc.ID
			}
			if tc.Function.Name != "" {
				pc.name = tc.Function.Name
			}
			pc.args.WriteString(tc.Function.Arguments)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read stream: %w", err)
	}

	if onChunk != nil {
		onChunk(StreamChunk{Done: true})
	}

	calls := make([]oaToolCall, 0, len(order))
	for _, idx := range order {
		pc := partials[idx]
		var oc oaToolCall
		oc.ID = pc.id
		oc.Type = "function"
		oc.Function.Name = pc.name
		oc.Function.Arguments = pc.args.String()
		calls = append(calls, oc)
	}

	return &ChatResponse{
		Content:   content.String(),
		Thinking:  thinking.String(),
		ToolCalls: convertToolCalls(calls),
		Usage:     usage,
	}, nil
}

func (p *OpenAIProvider) buildRequest(req ChatRequest, stream bool) oaRequest {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}

	messages := make([]oaMessage, len(req.Messages))
	for i, m := range req.Messages {
		messages[i] = oaMessage{
			Role:       m.Role,
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
			Name:       m.Name,
		}
		for _, tc := range m.ToolCalls {
			var oc oaToolCall
			oc.ID = tc.ID
			oc.Type = "function"
			oc.Function.Name = tc.Name
			if tc.RawArguments != "" {
				oc.Function.Arguments = tc.RawArguments
			} else {
				argsJSON, _ := json.Marshal(tc.Arguments)
				oc.Function.Arguments = string(argsJSON)
			}
			messages[i].ToolCalls = append(messages[i].ToolCalls, oc)
		}
	}

	out := oaRequest{
		Model:    model,
		Messages: messages,
		Tools:    CleanToolSchemas(p.name, req.Tools),
		Stream:   stream,
	}

	if v, ok := req.Options["max_tokens"].(int); ok {
		out.MaxTokens = v
	}
	if v, ok := req.Options["temperature"].(float64); ok {
		out.Temperature = &v
	}

	if req.ResponseSchema != nil && req.NativeStructuredOutput {
		name := req.ResponseSchemaName
		if name == "" {
			name = "response"
		}
		out.ResponseFormat = map[string]interface{}{
			"type": "json_schema",
			"json_schema": map[string]interface{}{
				"name":   name,
				"schema": CleanSchemaForProvider(p.name, req.ResponseSchema),
				"strict": true,
			},
		}
	}

	return out
}

func (p *OpenAIProvider) post(ctx context.Context, path string, body interface{}) ([]byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", p.apiBase+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	p.setHeaders(req)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s API returned %d: %s", p.name, resp.StatusCode, truncate(string(raw), 300))
	}
	return raw, nil
}

func (p *OpenAIProvider) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}
}

// convertToolCalls maps wire tool calls to the internal shape. Argument JSON
// that fails to parse marks the call Malformed instead of dropping it; the
// loop decides how to recover.
func convertToolCalls(calls []oaToolCall) []ToolCall {
	if len(calls) == 0 {
		return nil
	}
	out := make([]ToolCall, 0, len(calls))
	for _, c := range calls {
		tc := ToolCall{
			ID:           c.ID,
			Name:         c.Function.Name,
			RawArguments: c.Function.Arguments,
		}
		args := strings.TrimSpace(c.Function.Arguments)
		if args == "" {
			tc.Arguments = map[string]interface{}{}
		} else if err := json.Unmarshal([]byte(args), &tc.Arguments); err != nil {
			tc.Malformed = true
			tc.Arguments = map[string]interface{}{}
			slog.Warn("tool call arguments unparseable", "tool", tc.Name, "error", err)
		}
		out = append(out, tc)
	}
	return out
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
