package generators

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"Story-Loom/server/internal/interfaces"
)

// scriptedBackend answers status queries from a fixed script. The last entry
// repeats once the script runs out.
type scriptedBackend struct {
	mu       sync.Mutex
	script   []scriptStep
	polls    int
	requests []interfaces.GenerationRequest
}

type scriptStep struct {
	status interfaces.GenerationStatus
	err    error
}

func (b *scriptedBackend) Submit(ctx context.Context, req *interfaces.GenerationRequest) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.requests = append(b.requests, *req)
	return "gen-1", nil
}

func (b *scriptedBackend) Status(ctx context.Context, id string) (*interfaces.GenerationStatus, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	step := b.script[len(b.script)-1]
	if b.polls < len(b.script) {
		step = b.script[b.polls]
	}
	b.polls++
	if step.err != nil {
		return nil, step.err
	}
	st := step.status
	st.ID = id
	return &st, nil
}

func (b *scriptedBackend) pollCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.polls
}

func pending() scriptStep {
	return scriptStep{status: interfaces.GenerationStatus{State: interfaces.JobPending}}
}

func TestPollReturnsAssetAfterExactPolls(t *testing.T) {
	backend := &scriptedBackend{script: []scriptStep{
		pending(),
		pending(),
		{status: interfaces.GenerationStatus{State: interfaces.JobCompleted, VideoURL: "https://cdn.example/v.mp4"}},
	}}
	p := NewPoller(backend, PollerOptions{})

	asset, err := p.PollUntilTerminal(context.Background(), JobHandle{ID: "gen-1"}, time.Millisecond, time.Second)
	if err != nil {
		t.Fatalf("PollUntilTerminal: %v", err)
	}
	if asset.URL() != "https://cdn.example/v.mp4" {
		t.Fatalf("asset URL = %q", asset.URL())
	}
	if got := backend.pollCount(); got != 3 {
		t.Fatalf("polls = %d, want 3", got)
	}
}

func TestPollFailedJob(t *testing.T) {
	backend := &scriptedBackend{script: []scriptStep{
		pending(),
		{status: interfaces.GenerationStatus{State: interfaces.JobFailed, FailureReason: "moderation"}},
	}}
	p := NewPoller(backend, PollerOptions{})

	asset, err := p.PollUntilTerminal(context.Background(), JobHandle{ID: "gen-1"}, time.Millisecond, time.Second)
	var failed *GenerationFailedError
	if !errors.As(err, &failed) {
		t.Fatalf("err = %v, want GenerationFailedError", err)
	}
	if failed.Reason != "moderation" {
		t.Fatalf("Reason = %q, want moderation", failed.Reason)
	}
	if asset != (Asset{}) {
		t.Fatalf("asset = %+v, want zero", asset)
	}
}

func TestPollTimesOut(t *testing.T) {
	backend := &scriptedBackend{script: []scriptStep{pending()}}
	p := NewPoller(backend, PollerOptions{})

	_, err := p.PollUntilTerminal(context.Background(), JobHandle{ID: "gen-1"}, 5*time.Millisecond, 30*time.Millisecond)
	if !errors.Is(err, ErrGenerationTimeout) {
		t.Fatalf("err = %v, want ErrGenerationTimeout", err)
	}
}

func TestPollFallsBackToPollerTiming(t *testing.T) {
	backend := &scriptedBackend{script: []scriptStep{
		pending(),
		pending(),
		{status: interfaces.GenerationStatus{State: interfaces.JobCompleted, ImageURL: "https://cdn.example/i.png"}},
	}}
	p := NewPoller(backend, PollerOptions{Interval: 2 * time.Millisecond, Timeout: time.Second})

	asset, err := p.PollUntilTerminal(context.Background(), JobHandle{ID: "gen-1"}, 0, 0)
	if err != nil {
		t.Fatalf("PollUntilTerminal: %v", err)
	}
	if asset.URL() != "https://cdn.example/i.png" {
		t.Fatalf("asset URL = %q", asset.URL())
	}
	if got := backend.pollCount(); got != 3 {
		t.Fatalf("polls = %d, want 3", got)
	}
}

func TestPollStopsOnCancel(t *testing.T) {
	backend := &scriptedBackend{script: []scriptStep{pending()}}
	p := NewPoller(backend, PollerOptions{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := p.PollUntilTerminal(ctx, JobHandle{ID: "gen-1"}, 10*time.Millisecond, time.Minute)
		done <- err
	}()

	time.Sleep(25 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("err = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("PollUntilTerminal did not return after cancel")
	}
}

func TestPollRetriesTransientStatusErrors(t *testing.T) {
	backend := &scriptedBackend{script: []scriptStep{
		{err: errors.New("HTTP 502: bad gateway")},
		{err: errors.New("HTTP 502: bad gateway")},
		{status: interfaces.GenerationStatus{State: interfaces.JobCompleted, ImageURL: "https://cdn.example/i.png"}},
	}}
	p := NewPoller(backend, PollerOptions{StatusRetries: 5})

	asset, err := p.PollUntilTerminal(context.Background(), JobHandle{ID: "gen-1"}, time.Millisecond, time.Second)
	if err != nil {
		t.Fatalf("PollUntilTerminal: %v", err)
	}
	if asset.ImageURL != "https://cdn.example/i.png" {
		t.Fatalf("ImageURL = %q", asset.ImageURL)
	}
}

func TestPollGivesUpAfterStatusRetries(t *testing.T) {
	backend := &scriptedBackend{script: []scriptStep{{err: errors.New("HTTP 500")}}}
	p := NewPoller(backend, PollerOptions{StatusRetries: 2})

	_, err := p.PollUntilTerminal(context.Background(), JobHandle{ID: "gen-1"}, time.Millisecond, time.Second)
	if err == nil {
		t.Fatal("PollUntilTerminal succeeded, want error")
	}
	if got := backend.pollCount(); got != 2 {
		t.Fatalf("polls = %d, want 2", got)
	}
}

func TestGenerateSubmitsThenPolls(t *testing.T) {
	backend := &scriptedBackend{script: []scriptStep{
		{status: interfaces.GenerationStatus{State: interfaces.JobCompleted, ImageURL: "https://cdn.example/i.png"}},
	}}
	p := NewPoller(backend, PollerOptions{Interval: time.Millisecond, Timeout: time.Second})

	asset, err := p.Generate(context.Background(), &interfaces.GenerationRequest{Kind: interfaces.MediaImage, Prompt: "a foundry"})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if asset.GenerationID != "gen-1" {
		t.Fatalf("GenerationID = %q, want gen-1", asset.GenerationID)
	}
	if len(backend.requests) != 1 || backend.requests[0].Prompt != "a foundry" {
		t.Fatalf("requests = %+v", backend.requests)
	}
}
