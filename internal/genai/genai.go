// Package genai provides the generative responder backed by an
// OpenAI-compatible chat completion API (Groq by default).
package genai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/BTreeMap/RelayPipe/internal/models"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// Default configuration values
const (
	DefaultBaseURL     = "https://api.groq.com/openai/v1"
	DefaultModel       = "llama-3.1-8b-instant"
	DefaultTemperature = 0.7
	DefaultMaxTokens   = 1024
	DefaultTimeout     = 30 * time.Second
	DefaultMaxRetries  = 2
)

// DefaultSystemPrompt is the persona used when no system prompt is configured.
const DefaultSystemPrompt = "Eres la psicóloga Gloria Esther Acevedo Palacio, experta en terapia cognitivo-conductual y análisis junguiano. " +
	"Tu enfoque combina técnicas de la Terapia Dialéctica Conductual (DBT) con principios de la Psicoterapia Analítica Junguiana. " +
	"Ofreces apoyo empático y guía práctica, ayudando a los usuarios a explorar sus emociones, pensamientos y comportamientos, " +
	"mientras los animas a descubrir su potencial interior y significado personal. " +
	"Siempre recuerdas al usuario que presionando el botón 'Menu' podrán elegir entre el chatbot automatizado o el asistente de IA."

// Error variables
var (
	ErrNoChoicesReturned = errors.New("no choices returned")
	ErrMissingAPIKey     = errors.New("API key not set")
	ErrEmptyInput        = errors.New("input cannot be empty")
)

// chatService defines minimal interface for chat completions.
type chatService interface {
	Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error)
}

// completionsAdapter adapts the SDK's completion service to chatService.
type completionsAdapter struct {
	svc *openai.ChatCompletionService
}

func (a completionsAdapter) Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error) {
	resp, err := a.svc.New(ctx, params)
	if err != nil {
		return openai.ChatCompletion{}, err
	}
	return *resp, nil
}

// Opts holds configuration for the GenAI client.
type Opts struct {
	APIKey       string
	BaseURL      string
	Model        string
	SystemPrompt string
	Temperature  float64
	MaxTokens    int
	Timeout      time.Duration
	MaxRetries   int
	HTTPClient   *http.Client
	DebugMode    bool
	StateDir     string
}

// Option configures the GenAI client.
type Option func(*Opts)

// WithAPIKey sets the API key.
func WithAPIKey(key string) Option {
	return func(o *Opts) { o.APIKey = key }
}

// WithBaseURL sets the OpenAI-compatible endpoint.
func WithBaseURL(url string) Option {
	return func(o *Opts) { o.BaseURL = url }
}

// WithModel sets the model name.
func WithModel(model string) Option {
	return func(o *Opts) { o.Model = model }
}

// WithSystemPrompt sets the system prompt sent before the history.
func WithSystemPrompt(prompt string) Option {
	return func(o *Opts) { o.SystemPrompt = prompt }
}

// WithTemperature sets the sampling temperature.
func WithTemperature(temp float64) Option {
	return func(o *Opts) { o.Temperature = temp }
}

// WithMaxTokens sets the completion token limit.
func WithMaxTokens(n int) Option {
	return func(o *Opts) { o.MaxTokens = n }
}

// WithTimeout bounds each request.
func WithTimeout(d time.Duration) Option {
	return func(o *Opts) { o.Timeout = d }
}

// WithMaxRetries sets the SDK retry count for transient failures.
func WithMaxRetries(n int) Option {
	return func(o *Opts) { o.MaxRetries = n }
}

// WithHTTPClient overrides the HTTP client used by the SDK.
func WithHTTPClient(c *http.Client) Option {
	return func(o *Opts) { o.HTTPClient = c }
}

// WithDebugMode enables writing request/response pairs under StateDir/debug.
func WithDebugMode(enabled bool) Option {
	return func(o *Opts) { o.DebugMode = enabled }
}

// WithStateDir sets the directory used for debug logs.
func WithStateDir(dir string) Option {
	return func(o *Opts) { o.StateDir = dir }
}

// Client wraps the chat completion service for generating replies.
type Client struct {
	chat         chatService
	model        string
	systemPrompt string
	temperature  float64
	maxTokens    int
	debugMode    bool
	stateDir     string
}

// NewClient initializes a new GenAI client using the provided options.
func NewClient(opts ...Option) (*Client, error) {
	cfg := Opts{
		BaseURL:      DefaultBaseURL,
		Model:        DefaultModel,
		SystemPrompt: DefaultSystemPrompt,
		Temperature:  DefaultTemperature,
		MaxTokens:    DefaultMaxTokens,
		Timeout:      DefaultTimeout,
		MaxRetries:   DefaultMaxRetries,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.APIKey == "" {
		slog.Error("GenAI.NewClient: API key not set")
		return nil, ErrMissingAPIKey
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithBaseURL(cfg.BaseURL),
		option.WithMaxRetries(cfg.MaxRetries),
		option.WithRequestTimeout(cfg.Timeout),
	}
	if cfg.HTTPClient != nil {
		reqOpts = append(reqOpts, option.WithHTTPClient(cfg.HTTPClient))
	}
	cli := openai.NewClient(reqOpts...)

	slog.Debug("GenAI.NewClient: client created", "baseURL", cfg.BaseURL, "model", cfg.Model, "timeout", cfg.Timeout, "maxRetries", cfg.MaxRetries)
	return &Client{
		chat:         completionsAdapter{svc: &cli.Chat.Completions},
		model:        cfg.Model,
		systemPrompt: cfg.SystemPrompt,
		temperature:  cfg.Temperature,
		maxTokens:    cfg.MaxTokens,
		debugMode:    cfg.DebugMode,
		stateDir:     cfg.StateDir,
	}, nil
}

// Model returns the configured model name.
func (c *Client) Model() string {
	return c.model
}

// BuildMessages assembles the system prompt, the history oldest first and the input.
func (c *Client) BuildMessages(input string, history []models.MessageEntry) []openai.ChatCompletionMessageParamUnion {
	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(history)+2)
	if c.systemPrompt != "" {
		msgs = append(msgs, openai.SystemMessage(c.systemPrompt))
	}
	for _, entry := range history {
		if entry.Message == "" {
			continue
		}
		if entry.Sender == models.RoleAssistant {
			msgs = append(msgs, openai.AssistantMessage(entry.Message))
		} else {
			msgs = append(msgs, openai.UserMessage(entry.Message))
		}
	}
	return append(msgs, openai.UserMessage(input))
}

// Generate returns a reply to input given the sender's prior history.
func (c *Client) Generate(ctx context.Context, input string, history []models.MessageEntry) (string, error) {
	if input == "" {
		return "", ErrEmptyInput
	}
	params := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(c.model),
		Messages:    c.BuildMessages(input, history),
		Temperature: openai.Float(c.temperature),
	}
	if c.maxTokens > 0 {
		params.MaxTokens = openai.Int(int64(c.maxTokens))
	}

	slog.Debug("GenAI.Generate: sending request", "model", c.model, "historyLen", len(history), "inputLen", len(input))
	resp, err := c.chat.Create(ctx, params)
	c.writeDebugLog("Generate", params, resp, err)
	if err != nil {
		slog.Error("GenAI.Generate: chat completion failed", "model", c.model, "error", err)
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		slog.Error("GenAI.Generate: no choices returned", "model", c.model)
		return "", ErrNoChoicesReturned
	}
	content := resp.Choices[0].Message.Content
	slog.Debug("GenAI.Generate: response received", "model", c.model, "outputLen", len(content))
	return content, nil
}

// writeDebugLog stores one request/response pair as a JSON file when debug mode is on.
func (c *Client) writeDebugLog(method string, params openai.ChatCompletionNewParams, resp openai.ChatCompletion, callErr error) {
	if !c.debugMode || c.stateDir == "" {
		return
	}
	dir := filepath.Join(c.stateDir, "debug")
	if err := os.MkdirAll(dir, 0755); err != nil {
		slog.Warn("GenAI.writeDebugLog: failed to create debug directory", "dir", dir, "error", err)
		return
	}
	entry := map[string]any{
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		"method":    method,
		"model":     c.model,
		"params":    params,
		"response":  debugResponse(resp),
	}
	if callErr != nil {
		entry["error"] = callErr.Error()
	}
	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		slog.Warn("GenAI.writeDebugLog: failed to encode entry", "error", err)
		return
	}
	name := fmt.Sprintf("genai_%s_%d.json", method, time.Now().UnixNano())
	if err := os.WriteFile(filepath.Join(dir, name), data, 0644); err != nil {
		slog.Warn("GenAI.writeDebugLog: failed to write entry", "error", err)
	}
}

// debugResponse keeps the fields of a completion worth inspecting offline.
func debugResponse(resp openai.ChatCompletion) map[string]any {
	contents := make([]string, 0, len(resp.Choices))
	for _, choice := range resp.Choices {
		contents = append(contents, choice.Message.Content)
	}
	return map[string]any{
		"id":       resp.ID,
		"model":    resp.Model,
		"contents": contents,
		"usage": map[string]int64{
			"prompt_tokens":     resp.Usage.PromptTokens,
			"completion_tokens": resp.Usage.CompletionTokens,
		},
	}
}
