package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"Story-Loom/server/internal/config"
)

const (
	defaultBaseURL    = "https://api.mistral.ai/v1"
	defaultTimeout    = 120 * time.Second
	defaultMaxRetries = 3
	retryDelay        = 1 * time.Second
)

// LLMClient talks to an OpenAI-compatible chat completions API for story
// text and photo classification
type LLMClient struct {
	client      *openai.Client
	model       string
	visionModel string
	maxTokens   int
	temperature float32
	maxRetries  uint
	retryDelay  time.Duration
	tracer      trace.Tracer
}

// NewLLMClient creates a client from the text and vision configuration
func NewLLMClient(text config.TextConfig, vision config.VisionConfig) *LLMClient {
	cfg := openai.DefaultConfig(text.APIKey)
	cfg.BaseURL = text.BaseURL
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}

	timeout := text.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}
	cfg.HTTPClient = &http.Client{
		Timeout: timeout,
	}

	maxRetries := text.MaxRetries
	if maxRetries == 0 {
		maxRetries = defaultMaxRetries
	}

	return &LLMClient{
		client:      openai.NewClientWithConfig(cfg),
		model:       text.Model,
		visionModel: vision.Model,
		maxTokens:   text.MaxTokens,
		temperature: text.Temperature,
		maxRetries:  maxRetries,
		retryDelay:  retryDelay,
		tracer:      otel.Tracer("story-loom/engine"),
	}
}

// Complete sends one system and one user message and returns the reply text
func (c *LLMClient) Complete(ctx context.Context, system, user string) (string, error) {
	ctx, span := c.tracer.Start(ctx, "engine.complete",
		trace.WithAttributes(attribute.String("llm.model", c.model)))
	defer span.End()

	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if system != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: system,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: user,
	})

	text, err := c.chat(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    messages,
		MaxTokens:   c.maxTokens,
		Temperature: c.temperature,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	span.SetAttributes(attribute.Int("llm.response_length", len(text)))
	return text, nil
}

// ClassifySubject names the most prominent object in the image
func (c *LLMClient) ClassifySubject(ctx context.Context, imageURL, instruction string) (string, error) {
	ctx, span := c.tracer.Start(ctx, "engine.classify_subject",
		trace.WithAttributes(attribute.String("llm.model", c.visionModel)))
	defer span.End()

	text, err := c.chat(ctx, openai.ChatCompletionRequest{
		Model: c.visionModel,
		Messages: []openai.ChatCompletionMessage{
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{Type: openai.ChatMessagePartTypeText, Text: instruction},
					{Type: openai.ChatMessagePartTypeImageURL, ImageURL: &openai.ChatMessageImageURL{URL: imageURL}},
				},
			},
		},
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	subject := strings.Trim(strings.TrimSpace(text), `."'`)
	span.SetAttributes(attribute.String("llm.subject", subject))
	return subject, nil
}

// chat runs one completion, retrying rate limits and server errors
func (c *LLMClient) chat(ctx context.Context, req openai.ChatCompletionRequest) (string, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.retryDelay

	attempt := 0
	return backoff.Retry(ctx, func() (string, error) {
		attempt++
		resp, err := c.client.CreateChatCompletion(ctx, req)
		if err != nil {
			if !isRetryableError(err) {
				return "", backoff.Permanent(fmt.Errorf("chat completion failed: %w", err))
			}
			log.Printf("[LLM] Attempt %d failed, retrying: %v", attempt, err)
			return "", fmt.Errorf("chat completion failed: %w", err)
		}
		if len(resp.Choices) == 0 {
			return "", backoff.Permanent(fmt.Errorf("no choices returned from model"))
		}
		return resp.Choices[0].Message.Content, nil
	}, backoff.WithBackOff(b), backoff.WithMaxTries(c.maxRetries))
}

// isRetryableError checks if an error is worth another attempt
func isRetryableError(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == http.StatusTooManyRequests || apiErr.HTTPStatusCode >= 500
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode == http.StatusTooManyRequests || reqErr.HTTPStatusCode >= 500
	}
	return false
}
