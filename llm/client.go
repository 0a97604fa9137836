// Package llm is a minimal HTTP client for Ollama-compatible chat servers.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"
)

// ChatMessage is one entry in a chat request.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Options tunes a single request.
type Options struct {
	Model       string
	Temperature float64
	MaxTokens   int
	Stop        []string
}

// Response is the decoded completion.
type Response struct {
	Text         string
	FinishReason string
	Usage        map[string]int
}

// Client talks to an Ollama-compatible endpoint.
type Client struct {
	Endpoint string
	Model    string
	Debug    bool
	client   *http.Client
}

// NewClient builds a client with sane defaults.
func NewClient(endpoint, model string) *Client {
	if endpoint == "" {
		endpoint = "http://localhost:11434"
	}
	return &Client{
		Endpoint: endpoint,
		Model:    model,
		client:   &http.Client{Timeout: 3 * time.Minute},
	}
}

// response mirrors the wire shapes of /api/generate and /api/chat.
type wireResponse struct {
	Text     string `json:"text"`
	Response string `json:"response"`
	Message  *struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"message"`
	DoneReason      string         `json:"done_reason"`
	Usage           map[string]int `json:"usage"`
	EvalCount       int            `json:"eval_count"`
	PromptEvalCount int            `json:"prompt_eval_count"`
}

// Generate completes a single prompt.
func (c *Client) Generate(ctx context.Context, prompt string, opts *Options) (*Response, error) {
	payload := map[string]interface{}{
		"model":  c.model(opts),
		"prompt": prompt,
		"stream": false,
	}
	applyOptions(payload, opts)
	return c.doRequest(ctx, "/api/generate", payload)
}

// Chat completes a multi-message conversation.
func (c *Client) Chat(ctx context.Context, messages []ChatMessage, opts *Options) (*Response, error) {
	payload := map[string]interface{}{
		"model":    c.model(opts),
		"messages": messages,
		"stream":   false,
	}
	applyOptions(payload, opts)
	return c.doRequest(ctx, "/api/chat", payload)
}

func (c *Client) model(opts *Options) string {
	if opts != nil && opts.Model != "" {
		return opts.Model
	}
	if c.Model != "" {
		return c.Model
	}
	return "llama3"
}

func applyOptions(payload map[string]interface{}, opts *Options) {
	if opts == nil {
		return
	}
	if opts.Temperature != 0 {
		payload["temperature"] = opts.Temperature
	}
	if opts.MaxTokens != 0 {
		payload["max_tokens"] = opts.MaxTokens
	}
	if opts.Stop != nil {
		payload["stop"] = opts.Stop
	}
}

func (c *Client) httpClient() *http.Client {
	if c.client == nil {
		c.client = &http.Client{Timeout: 3 * time.Minute}
	}
	return c.client
}

func (c *Client) doRequest(ctx context.Context, path string, payload interface{}) (*Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	c.logf("request %s payload: %s", path, truncate(string(body), 2048))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient().Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		detail := strings.TrimSpace(string(msg))
		if detail != "" {
			return nil, fmt.Errorf("llm error: %s: %s", resp.Status, detail)
		}
		return nil, fmt.Errorf("llm error: %s", resp.Status)
	}
	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	c.logf("response %s payload: %s", path, truncate(string(responseBody), 2048))
	return decodeResponse(responseBody)
}

func decodeResponse(body []byte) (*Response, error) {
	var raw wireResponse
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, err
	}
	out := &Response{
		Text:         firstNonEmpty(raw.Text, raw.Response),
		FinishReason: raw.DoneReason,
		Usage:        normalizeUsage(raw),
	}
	if out.Text == "" && raw.Message != nil {
		out.Text = raw.Message.Content
	}
	return out, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func normalizeUsage(raw wireResponse) map[string]int {
	if raw.Usage != nil {
		return raw.Usage
	}
	usage := make(map[string]int)
	if raw.EvalCount > 0 {
		usage["completion_tokens"] = raw.EvalCount
	}
	if raw.PromptEvalCount > 0 {
		usage["prompt_tokens"] = raw.PromptEvalCount
	}
	if len(usage) == 0 {
		return nil
	}
	return usage
}

func (c *Client) logf(format string, args ...interface{}) {
	if !c.Debug {
		return
	}
	log.Printf("[llm] "+format, args...)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "...(truncated)"
}
