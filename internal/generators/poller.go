package generators

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"Story-Loom/server/internal/interfaces"
)

const (
	defaultPollInterval  = 3 * time.Second
	defaultPollTimeout   = 10 * time.Minute
	defaultStatusRetries = 5
)

// ErrGenerationTimeout is returned when a job is still pending at its deadline
var ErrGenerationTimeout = errors.New("generation timed out")

// GenerationFailedError is returned when the provider reports a failed job
type GenerationFailedError struct {
	JobID  string
	Reason string
}

func (e *GenerationFailedError) Error() string {
	return fmt.Sprintf("generation %s failed: %s", e.JobID, e.Reason)
}

// JobHandle identifies a submitted job
type JobHandle struct {
	ID   string
	Kind interfaces.MediaKind
}

// Asset is the result of a completed job
type Asset struct {
	GenerationID string
	VideoURL     string
	ImageURL     string
}

// URL returns the video if there is one, the image otherwise
func (a Asset) URL() string {
	if a.VideoURL != "" {
		return a.VideoURL
	}
	return a.ImageURL
}

// PollerOptions holds the defaults used by Generate
type PollerOptions struct {
	Interval      time.Duration
	Timeout       time.Duration
	StatusRetries uint // Attempts per status query before the job is abandoned
}

// Poller drives media jobs from submission to a terminal state. Every feature
// that waits for generated media goes through it.
type Poller struct {
	backend       interfaces.MediaBackend
	interval      time.Duration
	timeout       time.Duration
	statusRetries uint
	tracer        trace.Tracer
}

// NewPoller creates a poller over backend
func NewPoller(backend interfaces.MediaBackend, opts PollerOptions) *Poller {
	if opts.Interval <= 0 {
		opts.Interval = defaultPollInterval
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultPollTimeout
	}
	if opts.StatusRetries == 0 {
		opts.StatusRetries = defaultStatusRetries
	}
	return &Poller{
		backend:       backend,
		interval:      opts.Interval,
		timeout:       opts.Timeout,
		statusRetries: opts.StatusRetries,
		tracer:        otel.Tracer("story-loom/generators"),
	}
}

// Submit starts one job
func (p *Poller) Submit(ctx context.Context, req *interfaces.GenerationRequest) (JobHandle, error) {
	id, err := p.backend.Submit(ctx, req)
	if err != nil {
		return JobHandle{}, fmt.Errorf("failed to submit %s generation: %w", req.Kind, err)
	}
	log.Printf("[Poller] Submitted %s generation %s", req.Kind, id)
	return JobHandle{ID: id, Kind: req.Kind}, nil
}

// PollUntilTerminal queries the job once immediately and then once per
// interval until it completes, fails, times out or ctx is cancelled. A
// non-positive interval or timeout falls back to the poller's own.
func (p *Poller) PollUntilTerminal(ctx context.Context, h JobHandle, interval, timeout time.Duration) (Asset, error) {
	if interval <= 0 {
		interval = p.interval
	}
	if timeout <= 0 {
		timeout = p.timeout
	}

	ctx, span := p.tracer.Start(ctx, "generators.poll",
		trace.WithAttributes(
			attribute.String("generation.id", h.ID),
			attribute.String("generation.kind", string(h.Kind)),
		))
	defer span.End()

	pollCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for polls := 1; ; polls++ {
		status, err := p.queryStatus(pollCtx, h.ID)
		if err != nil {
			if pollCtx.Err() != nil {
				return Asset{}, p.stopped(ctx, span, h, polls)
			}
			span.RecordError(err)
			span.SetStatus(codes.Error, "status query failed")
			return Asset{}, fmt.Errorf("failed to query generation %s: %w", h.ID, err)
		}

		switch status.State {
		case interfaces.JobCompleted:
			span.SetAttributes(attribute.Int("generation.polls", polls))
			return Asset{
				GenerationID: h.ID,
				VideoURL:     status.VideoURL,
				ImageURL:     status.ImageURL,
			}, nil
		case interfaces.JobFailed:
			err := &GenerationFailedError{JobID: h.ID, Reason: status.FailureReason}
			span.RecordError(err)
			span.SetStatus(codes.Error, "generation failed")
			return Asset{}, err
		}

		select {
		case <-pollCtx.Done():
			return Asset{}, p.stopped(ctx, span, h, polls)
		case <-ticker.C:
		}
	}
}

// Generate submits req and waits for it with the poller's defaults
func (p *Poller) Generate(ctx context.Context, req *interfaces.GenerationRequest) (Asset, error) {
	h, err := p.Submit(ctx, req)
	if err != nil {
		return Asset{}, err
	}
	return p.PollUntilTerminal(ctx, h, p.interval, p.timeout)
}

// queryStatus retries transient failures with exponential backoff
func (p *Poller) queryStatus(ctx context.Context, id string) (*interfaces.GenerationStatus, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.interval / 4
	b.MaxInterval = p.interval * 4

	return backoff.Retry(ctx, func() (*interfaces.GenerationStatus, error) {
		status, err := p.backend.Status(ctx, id)
		if err != nil {
			log.Printf("[Poller] Status query for %s failed: %v", id, err)
			return nil, err
		}
		return status, nil
	}, backoff.WithBackOff(b), backoff.WithMaxTries(p.statusRetries))
}

// stopped maps the end of the poll context to cancellation or timeout
func (p *Poller) stopped(ctx context.Context, span trace.Span, h JobHandle, polls int) error {
	span.SetAttributes(attribute.Int("generation.polls", polls))
	if err := ctx.Err(); err != nil {
		span.SetStatus(codes.Error, "cancelled")
		return err
	}
	log.Printf("[Poller] Generation %s still pending after %d polls", h.ID, polls)
	span.SetStatus(codes.Error, "timeout")
	return ErrGenerationTimeout
}
