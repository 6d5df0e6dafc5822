// Package llm is a thin client for an OpenAI-compatible API: chat
// completions with optional tool calling, audio transcription, and speech
// synthesis. No provider-specific behavior beyond that surface.
package llm

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/AgN1ke/aisus/internal/config"
)

type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	Name       string     `json:"name,omitempty"`
}

type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function FunctionCall `json:"function"`
}

type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type ToolSpec struct {
	Type     string       `json:"type"`
	Function FunctionSpec `json:"function"`
}

type FunctionSpec struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

type ChatRequest struct {
	Messages []Message
	Tools    []ToolSpec
}

type Client struct {
	apiKey      string
	baseURL     string
	model       string
	maxTokens   int
	temperature float64
	sttModel    string
	ttsModel    string
	ttsVoice    string
	httpClient  *http.Client
}

func NewClient(cfg *config.Config) *Client {
	return &Client{
		apiKey:      cfg.Provider.APIKey,
		baseURL:     strings.TrimRight(strings.TrimSpace(cfg.Provider.BaseURL), "/"),
		model:       cfg.Agent.Model,
		maxTokens:   cfg.Agent.MaxTokens,
		temperature: cfg.Agent.Temperature,
		sttModel:    cfg.Voice.STTModel,
		ttsModel:    cfg.Voice.TTSModel,
		ttsVoice:    cfg.Voice.TTSVoice,
		httpClient:  &http.Client{Timeout: 60 * time.Second},
	}
}

// ChatCompletion runs one chat turn and returns the assistant message, which
// may carry tool calls instead of content.
func (c *Client) ChatCompletion(ctx context.Context, req ChatRequest) (Message, error) {
	if err := c.check(); err != nil {
		return Message{}, err
	}

	body := map[string]any{
		"model":       c.model,
		"messages":    req.Messages,
		"max_tokens":  c.maxTokens,
		"temperature": c.temperature,
	}
	if len(req.Tools) > 0 {
		body["tools"] = req.Tools
		body["tool_choice"] = "auto"
	}

	respBody, err := c.post(ctx, "/chat/completions", body)
	if err != nil {
		return Message{}, err
	}

	var decoded struct {
		Choices []struct {
			Message Message `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(respBody, &decoded); err != nil {
		return Message{}, fmt.Errorf("decode response: %w", err)
	}
	if len(decoded.Choices) == 0 {
		return Message{}, fmt.Errorf("empty choices in response")
	}
	return decoded.Choices[0].Message, nil
}

// Complete runs a plain system+user exchange and returns the text. This is
// the generation surface the memory summarizer consumes.
func (c *Client) Complete(ctx context.Context, system, user string) (string, error) {
	msg, err := c.ChatCompletion(ctx, ChatRequest{Messages: []Message{
		{Role: "system", Content: system},
		{Role: "user", Content: user},
	}})
	if err != nil {
		return "", err
	}
	content := strings.TrimSpace(msg.Content)
	if content == "" {
		return "", fmt.Errorf("empty content in response")
	}
	return content, nil
}

// DescribeImage sends the image alongside the prompt as a data URL in a
// multimodal chat completion and returns the model's description.
func (c *Client) DescribeImage(ctx context.Context, prompt string, image []byte) (string, error) {
	if err := c.check(); err != nil {
		return "", err
	}
	if len(image) == 0 {
		return "", fmt.Errorf("empty image payload")
	}

	dataURL := "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(image)
	body := map[string]any{
		"model":      c.model,
		"max_tokens": c.maxTokens,
		"messages": []map[string]any{{
			"role": "user",
			"content": []map[string]any{
				{"type": "text", "text": prompt},
				{"type": "image_url", "image_url": map[string]any{"url": dataURL}},
			},
		}},
	}

	respBody, err := c.post(ctx, "/chat/completions", body)
	if err != nil {
		return "", err
	}

	var decoded struct {
		Choices []struct {
			Message Message `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(respBody, &decoded); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if len(decoded.Choices) == 0 {
		return "", fmt.Errorf("empty choices in response")
	}
	content := strings.TrimSpace(decoded.Choices[0].Message.Content)
	if content == "" {
		return "", fmt.Errorf("empty content in response")
	}
	return content, nil
}

// Transcribe sends an audio file to /audio/transcriptions and returns the
// recognized text.
func (c *Client) Transcribe(ctx context.Context, filename string, data []byte) (string, error) {
	if err := c.check(); err != nil {
		return "", err
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", filename)
	if err != nil {
		return "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return "", fmt.Errorf("write form file: %w", err)
	}
	if err := w.WriteField("model", c.sttModel); err != nil {
		return "", fmt.Errorf("write form field: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("close form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/audio/transcriptions", &buf)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", w.FormDataContentType())

	respBody, err := c.do(req)
	if err != nil {
		return "", err
	}

	var decoded struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(respBody, &decoded); err != nil {
		return "", fmt.Errorf("decode transcription: %w", err)
	}
	return strings.TrimSpace(decoded.Text), nil
}

// Speak renders text to speech and returns the raw audio bytes.
func (c *Client) Speak(ctx context.Context, text string) ([]byte, error) {
	if err := c.check(); err != nil {
		return nil, err
	}

	body := map[string]any{
		"model": c.ttsModel,
		"input": text,
		"voice": c.ttsVoice,
	}
	return c.post(ctx, "/audio/speech", body)
}

func (c *Client) check() error {
	if strings.TrimSpace(c.apiKey) == "" {
		return fmt.Errorf("missing api key")
	}
	if c.baseURL == "" {
		return fmt.Errorf("missing base url")
	}
	if c.model == "" {
		return fmt.Errorf("missing model")
	}
	return nil
}

func (c *Client) post(ctx context.Context, path string, body map[string]any) ([]byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	return c.do(req)
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("llm http %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}
	return respBody, nil
}
