package interfaces

import "context"

// MediaKind selects what a generation job produces
type MediaKind string

const (
	MediaImage MediaKind = "image"
	MediaVideo MediaKind = "video"
)

// JobState is the provider-neutral state of a generation job
type JobState string

const (
	JobPending   JobState = "pending"
	JobCompleted JobState = "completed"
	JobFailed    JobState = "failed"
)

// GenerationRequest describes one media generation job
type GenerationRequest struct {
	Kind         MediaKind
	Prompt       string
	AspectRatio  string // "16:9", "1:1", ...
	Model        string // Empty means the backend default
	Loop         bool   // Video only
	ContinueFrom string // Provider id of a previous video generation to extend
}

// GenerationStatus is the answer to one status query
type GenerationStatus struct {
	ID            string
	State         JobState
	VideoURL      string
	ImageURL      string
	FailureReason string
}

// MediaBackend submits and inspects asynchronous generation jobs
type MediaBackend interface {
	// Submit starts a job and returns its provider id
	Submit(ctx context.Context, req *GenerationRequest) (string, error)

	// Status reports the current state of a job
	Status(ctx context.Context, id string) (*GenerationStatus, error)
}

// GenerationSummary is one entry of a backend's generation history
type GenerationSummary struct {
	ID             string            `json:"id"`
	State          string            `json:"state"` // As the provider names it
	GenerationType string            `json:"generation_type"`
	Model          string            `json:"model,omitempty"`
	Prompt         string            `json:"prompt,omitempty"`
	AspectRatio    string            `json:"aspect_ratio,omitempty"`
	Assets         map[string]string `json:"assets"`
	FailureReason  string            `json:"failure_reason,omitempty"`
	CreatedAt      string            `json:"created_at,omitempty"`
}

// GenerationPage is one page of a backend's generation history
type GenerationPage struct {
	Generations []GenerationSummary `json:"generations"`
	Count       int                 `json:"count"`
	Limit       int                 `json:"limit"`
	Offset      int                 `json:"offset"`
	HasMore     bool                `json:"has_more"`
}

// GenerationLister pages through a backend's generations, newest first
type GenerationLister interface {
	ListGenerations(ctx context.Context, limit, offset int) (*GenerationPage, error)
}
