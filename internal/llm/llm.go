package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"tubepilot.app/internal/obs"
)

const (
	// DefaultModel is used when no model is configured.
	DefaultModel = "gemini-2.0-flash"
	// DefaultTimeout bounds a single generation call.
	DefaultTimeout = 60 * time.Second
)

var (
	// ErrNotConfigured means no API key was supplied.
	ErrNotConfigured = errors.New("llm: api key is not configured")
	// ErrGeneration wraps failures returned by the model provider.
	ErrGeneration = errors.New("llm: generation failed")
	// ErrEmptyResponse means the model returned no text.
	ErrEmptyResponse = errors.New("llm: empty response")
)

// Generator turns a prompt into text.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, prompt string) (string, error)

func (f GeneratorFunc) Generate(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

// Config configures the Gemini client.
type Config struct {
	APIKey  string
	Model   string
	Timeout time.Duration
	// BaseURL overrides the API endpoint (tests, proxies).
	BaseURL    string
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// GenAI calls Google Gemini through the genai SDK.
type GenAI struct {
	client  *genai.Client
	model   string
	timeout time.Duration
	logger  *zap.Logger
}

// NewGenAI builds a Gemini-backed Generator. An empty key returns ErrNotConfigured.
func NewGenAI(ctx context.Context, cfg Config) (*GenAI, error) {
	key := strings.TrimSpace(cfg.APIKey)
	if key == "" {
		return nil, ErrNotConfigured
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = DefaultModel
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = obs.Logger()
	}

	cc := &genai.ClientConfig{
		APIKey:     key,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: cfg.HTTPClient,
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("llm: create genai client: %w", err)
	}
	return &GenAI{client: client, model: model, timeout: timeout, logger: logger.Named("llm")}, nil
}

// Model returns the configured model name.
func (g *GenAI) Model() string { return g.model }

// Generate sends prompt as a single user turn and returns the response text.
func (g *GenAI) Generate(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	start := time.Now()
	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(prompt), nil)
	if err != nil {
		g.logger.Warn("generate content failed",
			zap.String("model", g.model),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err),
		)
		return "", fmt.Errorf("%w: %v", ErrGeneration, err)
	}
	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", ErrEmptyResponse
	}
	g.logger.Debug("generate content",
		zap.String("model", g.model),
		zap.Int("prompt_len", len(prompt)),
		zap.Int("response_len", len(text)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return text, nil
}
