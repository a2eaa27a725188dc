package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"ciro-tutor/internal/config"
)

// Client is the text-generation capability. When schema is non-nil the
// provider must return JSON conforming to it; free text in that case is a
// contract violation and surfaces as a parse error at the caller.
type Client interface {
	Complete(ctx context.Context, messages []Message, schema *JSONSchema) (string, error)
}

// Message is one prompt message.
type Message struct {
	Role    string `json:"role"` // "system", "user", "assistant"
	Content string `json:"content"`
}

// JSONSchema is a structured-output request (OpenAI strict mode shape).
type JSONSchema struct {
	Name   string         `json:"name"`
	Schema map[string]any `json:"schema"`
	Strict bool           `json:"strict,omitempty"`
}

// NewClient builds the configured provider client.
func NewClient(cfg *config.Config) (Client, error) {
	httpClient := &http.Client{Timeout: cfg.LLM.Timeout}
	switch cfg.LLM.Provider {
	case "openai":
		return &OpenAIClient{config: cfg.LLM.OpenAI, httpClient: httpClient}, nil
	case "anthropic":
		return &AnthropicClient{config: cfg.LLM.Anthropic, httpClient: httpClient}, nil
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", cfg.LLM.Provider)
	}
}

// Unmarshal decodes a structured completion into out. Providers sometimes
// wrap JSON in code fences even in schema mode; strip them before decoding.
func Unmarshal(response string, out any) error {
	trimmed := strings.TrimSpace(response)
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(trimmed, "```")
	if err := json.Unmarshal([]byte(strings.TrimSpace(trimmed)), out); err != nil {
		return fmt.Errorf("decode structured response: %w", err)
	}
	return nil
}

// OpenAIClient talks to an OpenAI-compatible chat completions endpoint.
type OpenAIClient struct {
	config     config.LLMProviderConfig
	httpClient *http.Client
}

func (c *OpenAIClient) Complete(ctx context.Context, messages []Message, schema *JSONSchema) (string, error) {
	reqBody := map[string]any{
		"model":                 c.config.Model,
		"messages":              messages,
		"temperature":           c.config.Temperature,
		"max_completion_tokens": c.config.MaxTokens,
	}

	// Reasoning models can burn the whole token budget on reasoning tokens
	// and return empty content with finish_reason=length. Pin effort low so
	// there is always parseable output.
	if isOpenAIReasoningModel(c.config.Model) {
		reqBody["reasoning_effort"] = "low"
	}

	if schema != nil {
		reqBody["response_format"] = map[string]any{
			"type":        "json_schema",
			"json_schema": schema,
		}
	}

	respBody, err := postJSON(ctx, c.httpClient, c.config.APIURL+"/chat/completions", reqBody, map[string]string{
		"Authorization": "Bearer " + c.config.APIKey,
	})
	if err != nil {
		return "", err
	}

	var result struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", fmt.Errorf("unmarshal response: %w", err)
	}
	if len(result.Choices) == 0 {
		return "", fmt.Errorf("no choices in response")
	}
	content := result.Choices[0].Message.Content
	if content == "" {
		return "", fmt.Errorf("empty content in response")
	}
	return content, nil
}

func isOpenAIReasoningModel(model string) bool {
	return strings.HasPrefix(model, "gpt-5") || strings.HasPrefix(model, "o1")
}

// AnthropicClient talks to the Anthropic messages endpoint. Anthropic has no
// schema mode; schema requests are folded into the system prompt and the
// output is validated by the caller's decode.
type AnthropicClient struct {
	config     config.LLMProviderConfig
	httpClient *http.Client
}

func (c *AnthropicClient) Complete(ctx context.Context, messages []Message, schema *JSONSchema) (string, error) {
	var systemMsg string
	userMessages := make([]map[string]string, 0, len(messages))
	for _, msg := range messages {
		if msg.Role == "system" {
			systemMsg = msg.Content
			continue
		}
		userMessages = append(userMessages, map[string]string{
			"role":    msg.Role,
			"content": msg.Content,
		})
	}

	if schema != nil {
		schemaJSON, err := json.Marshal(schema.Schema)
		if err != nil {
			return "", fmt.Errorf("marshal schema: %w", err)
		}
		systemMsg += "\n\nRespond ONLY with a JSON object conforming to this JSON Schema, no prose:\n" + string(schemaJSON)
	}

	reqBody := map[string]any{
		"model":       c.config.Model,
		"messages":    userMessages,
		"max_tokens":  c.config.MaxTokens,
		"temperature": c.config.Temperature,
	}
	if systemMsg != "" {
		reqBody["system"] = systemMsg
	}

	respBody, err := postJSON(ctx, c.httpClient, c.config.APIURL+"/messages", reqBody, map[string]string{
		"x-api-key":         c.config.APIKey,
		"anthropic-version": "2023-06-01",
	})
	if err != nil {
		return "", err
	}

	var result struct {
		Content []struct {
			Text string `json:"text"`
			Type string `json:"type"`
		} `json:"content"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", fmt.Errorf("unmarshal response: %w", err)
	}
	if len(result.Content) == 0 {
		return "", fmt.Errorf("no content in response")
	}
	return result.Content[0].Text, nil
}

func postJSON(ctx context.Context, client *http.Client, url string, body any, headers map[string]string) ([]byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(respBody))
	}
	return respBody, nil
}
