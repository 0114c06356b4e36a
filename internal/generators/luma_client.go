package generators

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"Story-Loom/server/internal/config"
	"Story-Loom/server/internal/interfaces"
)

const (
	lumaBaseURL        = "https://api.lumalabs.ai/dream-machine/v1"
	lumaDefaultTimeout = 60 * time.Second
)

// LumaClient talks to the Luma Dream Machine generations API
type LumaClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	videoModel string
	imageModel string
}

// lumaKeyframe references either an image or an earlier generation
type lumaKeyframe struct {
	Type string `json:"type"`
	ID   string `json:"id,omitempty"`
	URL  string `json:"url,omitempty"`
}

type lumaVideoRequest struct {
	Prompt      string                  `json:"prompt"`
	Model       string                  `json:"model,omitempty"`
	AspectRatio string                  `json:"aspect_ratio,omitempty"`
	Loop        bool                    `json:"loop,omitempty"`
	Keyframes   map[string]lumaKeyframe `json:"keyframes,omitempty"`
}

type lumaImageRequest struct {
	Prompt      string `json:"prompt"`
	Model       string `json:"model,omitempty"`
	AspectRatio string `json:"aspect_ratio,omitempty"`
}

// lumaGeneration is the provider's view of a job
type lumaGeneration struct {
	ID             string            `json:"id"`
	State          string            `json:"state"` // queued, dreaming, completed, failed
	FailureReason  string            `json:"failure_reason"`
	GenerationType string            `json:"generation_type"`
	Model          string            `json:"model"`
	CreatedAt      string            `json:"created_at"`
	Assets         map[string]string `json:"assets"`
	Request        struct {
		Prompt      string `json:"prompt"`
		AspectRatio string `json:"aspect_ratio"`
	} `json:"request"`
}

type lumaGenerationList struct {
	Generations []lumaGeneration `json:"generations"`
	Count       int              `json:"count"`
	Limit       int              `json:"limit"`
	Offset      int              `json:"offset"`
	HasMore     bool             `json:"has_more"`
}

// NewLumaClient creates a client from media configuration
func NewLumaClient(cfg config.MediaConfig) *LumaClient {
	baseURL := strings.TrimSuffix(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = lumaBaseURL
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = lumaDefaultTimeout
	}
	return &LumaClient{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		baseURL:    baseURL,
		apiKey:     cfg.APIKey,
		videoModel: cfg.VideoModel,
		imageModel: cfg.ImageModel,
	}
}

// Submit queues a video or image generation
func (c *LumaClient) Submit(ctx context.Context, req *interfaces.GenerationRequest) (string, error) {
	var (
		path string
		body interface{}
	)

	switch req.Kind {
	case interfaces.MediaVideo:
		videoReq := &lumaVideoRequest{
			Prompt:      req.Prompt,
			Model:       firstNonEmpty(req.Model, c.videoModel),
			AspectRatio: req.AspectRatio,
			Loop:        req.Loop,
		}
		if req.ContinueFrom != "" {
			videoReq.Keyframes = map[string]lumaKeyframe{
				"frame0": {Type: "generation", ID: req.ContinueFrom},
			}
		}
		path, body = "/generations", videoReq
	case interfaces.MediaImage:
		path = "/generations/image"
		body = &lumaImageRequest{
			Prompt:      req.Prompt,
			Model:       firstNonEmpty(req.Model, c.imageModel),
			AspectRatio: req.AspectRatio,
		}
	default:
		return "", fmt.Errorf("unsupported media kind: %q", req.Kind)
	}

	var gen lumaGeneration
	if err := c.do(ctx, http.MethodPost, path, body, &gen); err != nil {
		return "", err
	}
	if gen.ID == "" {
		return "", fmt.Errorf("invalid response: missing generation id")
	}
	return gen.ID, nil
}

// Status fetches the generation and maps its state
func (c *LumaClient) Status(ctx context.Context, id string) (*interfaces.GenerationStatus, error) {
	var gen lumaGeneration
	if err := c.do(ctx, http.MethodGet, "/generations/"+id, nil, &gen); err != nil {
		return nil, err
	}

	status := &interfaces.GenerationStatus{
		ID:            gen.ID,
		VideoURL:      gen.Assets["video"],
		ImageURL:      gen.Assets["image"],
		FailureReason: gen.FailureReason,
	}
	switch gen.State {
	case "completed":
		status.State = interfaces.JobCompleted
	case "failed":
		status.State = interfaces.JobFailed
	default:
		status.State = interfaces.JobPending
	}
	return status, nil
}

// ListGenerations returns one page of the account's generations
func (c *LumaClient) ListGenerations(ctx context.Context, limit, offset int) (*interfaces.GenerationPage, error) {
	query := url.Values{}
	query.Set("limit", strconv.Itoa(limit))
	query.Set("offset", strconv.Itoa(offset))

	var list lumaGenerationList
	if err := c.do(ctx, http.MethodGet, "/generations?"+query.Encode(), nil, &list); err != nil {
		return nil, err
	}

	page := &interfaces.GenerationPage{
		Generations: make([]interfaces.GenerationSummary, 0, len(list.Generations)),
		Count:       list.Count,
		Limit:       list.Limit,
		Offset:      list.Offset,
		HasMore:     list.HasMore,
	}
	for _, gen := range list.Generations {
		assets := make(map[string]string, len(gen.Assets))
		for kind, assetURL := range gen.Assets {
			if assetURL != "" {
				assets[kind] = assetURL
			}
		}
		page.Generations = append(page.Generations, interfaces.GenerationSummary{
			ID:             gen.ID,
			State:          gen.State,
			GenerationType: gen.GenerationType,
			Model:          gen.Model,
			Prompt:         gen.Request.Prompt,
			AspectRatio:    gen.Request.AspectRatio,
			Assets:         assets,
			FailureReason:  gen.FailureReason,
			CreatedAt:      gen.CreatedAt,
		})
	}
	return page, nil
}

// HealthCheck checks that the API accepts our credentials
func (c *LumaClient) HealthCheck(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/credits", nil, nil)
}

func (c *LumaClient) do(ctx context.Context, method, path string, in, out interface{}) error {
	var reader io.Reader
	if in != nil {
		reqBody, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(reqBody)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.apiKey))
	if in != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		log.Printf("[Luma] %s %s returned %d: %s", method, path, resp.StatusCode, string(respBody))
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(respBody))
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
