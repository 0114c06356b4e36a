// Package engine runs story turns: it guards the session log, asks the text
// model for the next block, compiles it into events and drives the media jobs
// that illustrate it.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/atomic"

	"Story-Loom/server/internal/dialogue"
	"Story-Loom/server/internal/events"
	"Story-Loom/server/internal/generators"
	"Story-Loom/server/internal/interfaces"
	"Story-Loom/server/internal/models"
	"Story-Loom/server/internal/observability"
	"Story-Loom/server/internal/prompts"
)

var (
	ErrBudgetExhausted = errors.New("action budget exhausted")
	ErrAlreadyStarted  = errors.New("session already started")
	ErrNotStarted      = errors.New("session not started")
	ErrEmptyAction     = errors.New("empty action")
)

// Client-facing messages. Internal error detail never reaches a client.
const (
	msgTurnFailed  = "failed to write the next part of the story"
	msgMediaFailed = "failed to prepare the scene"
)

// MediaGenerator produces one media asset and waits for it. Both the poller
// and the bounded media queue satisfy it.
type MediaGenerator interface {
	Generate(ctx context.Context, req *interfaces.GenerationRequest) (generators.Asset, error)
}

// Options tunes turn generation
type Options struct {
	Thresholds       Thresholds
	BackdropAspect   string
	HighlightAspect  string
	HighlightEnabled bool
	ContinuityLines  int
	PromptsDir       string // Template overrides, see prompts.LoadOverrides
}

// Action is the player input that triggers a turn
type Action struct {
	Kind     ActionKind
	Text     string
	PhotoURL string
}

// Orchestrator starts turns and runs each one in its own goroutine
type Orchestrator struct {
	store    interfaces.SessionStore
	text     interfaces.TextGenerator
	vision   interfaces.VisionClassifier
	media    MediaGenerator
	notifier interfaces.Notifier
	prompts  *prompts.TemplateEngine
	opts     Options

	// baseCtx outlives client connections so a disconnect never cancels a turn
	baseCtx  context.Context
	wg       sync.WaitGroup
	inflight *atomic.Int32
	tracer   trace.Tracer

	// running counts this process's turns per session
	mu      sync.Mutex
	running map[string]int
}

// NewOrchestrator creates an orchestrator whose turns run under baseCtx
func NewOrchestrator(
	baseCtx context.Context,
	store interfaces.SessionStore,
	text interfaces.TextGenerator,
	vision interfaces.VisionClassifier,
	media MediaGenerator,
	notifier interfaces.Notifier,
	opts Options,
) (*Orchestrator, error) {
	promptEngine, err := prompts.NewDefaultEngine(opts.PromptsDir)
	if err != nil {
		return nil, err
	}
	if opts.ContinuityLines <= 0 {
		opts.ContinuityLines = 3
	}

	return &Orchestrator{
		store:    store,
		text:     text,
		vision:   vision,
		media:    media,
		notifier: notifier,
		prompts:  promptEngine,
		opts:     opts,
		baseCtx:  baseCtx,
		inflight: atomic.NewInt32(0),
		tracer:   otel.Tracer("story-loom/engine"),
		running:  make(map[string]int),
	}, nil
}

// StartGame shows the opening sequence and writes the first unit
func (o *Orchestrator) StartGame(ctx context.Context, sessionID string) error {
	session, err := o.store.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	current, err := o.store.Events(ctx, sessionID)
	if err != nil {
		return err
	}

	// A start that failed before its first unit may be retried without
	// showing the opening sequence twice
	var evs []events.Event
	if !hasKind(current, events.KindShowPrologue) && len(session.Prologue) > 0 {
		evs = append(evs, events.ShowPrologue{Lines: session.Prologue})
	}
	if !hasKind(current, events.KindShowVideo) && session.OpeningVideoURL != "" {
		evs = append(evs, events.ShowVideo{URL: session.OpeningVideoURL})
	}
	evs = append(evs, events.WritingInProgress{})

	err = o.store.AppendIf(ctx, sessionID, func(_ *models.Session, log []events.Event) error {
		if err := CheckTurnAvailable(log); err != nil {
			return err
		}
		if hasKind(log, events.KindNewNarrativeUnit) {
			return ErrAlreadyStarted
		}
		return nil
	}, evs...)
	if err != nil {
		return err
	}

	o.notify(sessionID, interfaces.NotifyUpdated, "")
	o.spawn(sessionID, Action{Kind: ActionStart})
	return nil
}

// TakeAction continues the story with a free-text action
func (o *Orchestrator) TakeAction(ctx context.Context, sessionID, action string) error {
	action = strings.TrimSpace(action)
	if action == "" {
		return ErrEmptyAction
	}
	if err := o.acceptAction(ctx, sessionID, events.WritingInProgress{}); err != nil {
		return err
	}
	o.spawn(sessionID, Action{Kind: ActionText, Text: action})
	return nil
}

// SubmitPhoto continues the story with a submitted photo
func (o *Orchestrator) SubmitPhoto(ctx context.Context, sessionID, url string) error {
	url = strings.TrimSpace(url)
	if url == "" {
		return ErrEmptyAction
	}
	if err := o.acceptAction(ctx, sessionID, events.PhotoSubmitted{URL: url}, events.WritingInProgress{}); err != nil {
		return err
	}
	o.spawn(sessionID, Action{Kind: ActionPhoto, PhotoURL: url})
	return nil
}

// Reset empties the session log and removes every unit. It is refused while
// a turn of the session runs here; a turn running elsewhere finds its unit
// rejected by the store.
func (o *Orchestrator) Reset(ctx context.Context, sessionID string) error {
	if o.isRunning(sessionID) {
		return ErrTurnAlreadyInProgress
	}
	if err := o.store.Reset(ctx, sessionID); err != nil {
		return err
	}
	log.Printf("[Engine] Session %s reset", sessionID)
	o.notify(sessionID, interfaces.NotifyUpdated, "")
	return nil
}

// Wait blocks until every running turn has finished
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// InFlight returns the number of running turns
func (o *Orchestrator) InFlight() int32 {
	return o.inflight.Load()
}

// acceptAction rejects structurally invalid actions and otherwise appends
// the turn's opening events in one guarded step
func (o *Orchestrator) acceptAction(ctx context.Context, sessionID string, evs ...events.Event) error {
	err := o.store.AppendIf(ctx, sessionID, func(session *models.Session, log []events.Event) error {
		if err := CheckTurnAvailable(log); err != nil {
			return err
		}
		if !hasKind(log, events.KindNewNarrativeUnit) {
			return ErrNotStarted
		}
		if session.Remaining() <= 0 || hasKind(log, events.KindStoryEnd) {
			return ErrBudgetExhausted
		}
		return nil
	}, evs...)
	if err != nil {
		return err
	}

	o.notify(sessionID, interfaces.NotifyUpdated, "")
	return nil
}

func (o *Orchestrator) spawn(sessionID string, action Action) {
	o.wg.Add(1)
	o.inflight.Inc()
	o.track(sessionID, 1)
	go func() {
		defer o.wg.Done()
		defer o.inflight.Dec()
		defer o.track(sessionID, -1)
		o.runTurn(observability.WithSessionID(o.baseCtx, sessionID), sessionID, action)
	}()
}

func (o *Orchestrator) track(sessionID string, delta int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.running[sessionID] += delta
	if o.running[sessionID] <= 0 {
		delete(o.running, sessionID)
	}
}

func (o *Orchestrator) isRunning(sessionID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.running[sessionID] > 0
}

// mediaError is a failure after the unit and its events were committed
type mediaError struct {
	err error
}

func (e *mediaError) Error() string { return e.err.Error() }
func (e *mediaError) Unwrap() error { return e.err }

func (o *Orchestrator) runTurn(ctx context.Context, sessionID string, action Action) {
	ctx, span := o.tracer.Start(ctx, "engine.turn",
		trace.WithAttributes(
			attribute.String("session.id", sessionID),
			attribute.String("turn.action", string(action.Kind)),
		))
	defer span.End()

	err := o.writeTurn(ctx, sessionID, action)
	if err == nil {
		return
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())

	if errors.Is(err, interfaces.ErrSessionReset) {
		log.Printf("[Engine] Session %s was reset during its turn, dropping the unit", sessionID)
		return
	}

	var me *mediaError
	if errors.As(err, &me) {
		log.Printf("[Engine] Media for session %s failed: %v", sessionID, err)
		o.notify(sessionID, interfaces.NotifyError, msgMediaFailed)
		return
	}

	log.Printf("[Engine] Turn for session %s failed: %v", sessionID, err)
	// The turn may have failed because the server is shutting down; the guard
	// must still be released
	if appendErr := o.store.Append(context.WithoutCancel(ctx), sessionID, events.TurnFailed{}); appendErr != nil {
		log.Printf("[Engine] Failed to close turn for session %s: %v", sessionID, appendErr)
	}
	o.notify(sessionID, interfaces.NotifyError, msgTurnFailed)
}

// writeTurn generates, stores and illustrates one narrative unit
func (o *Orchestrator) writeTurn(ctx context.Context, sessionID string, action Action) error {
	session, err := o.store.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	generation := session.Generation
	units, err := o.store.Units(ctx, sessionID)
	if err != nil {
		return err
	}

	var prev *models.NarrativeUnit
	if len(units) > 0 {
		prev = &units[len(units)-1]
	}
	unitNumber := len(units) + 1
	cost := action.Kind.Cost()
	state := ComputeState(unitNumber, session.ActionsConsumed, session.TotalActions, cost, o.opts.Thresholds)
	isFinal := session.ActionsConsumed+cost >= session.TotalActions

	trace.SpanFromContext(ctx).SetAttributes(
		attribute.Int("turn.unit", unitNumber),
		attribute.String("turn.state", string(state)),
	)
	log.Printf("[Engine] Writing unit %d of session %s (%s, %d/%d actions)",
		unitNumber, sessionID, state, session.ActionsConsumed+cost, session.TotalActions)

	synopsis, err := o.actSynopsis(ctx, session, state)
	if err != nil {
		return err
	}

	requirements, err := o.requirements(ctx, state, prev, action)
	if err != nil {
		return err
	}

	system, err := o.prompts.Render(prompts.StoryBlockSystem, map[string]string{"base_character": prompts.BaseCharacter})
	if err != nil {
		return err
	}
	user, err := o.prompts.Render(prompts.StoryBlockContext, prompts.StoryContextVars(session, synopsis, requirements))
	if err != nil {
		return err
	}

	raw, err := o.text.Complete(ctx, system, user)
	if err != nil {
		return fmt.Errorf("failed to generate block: %w", err)
	}

	// Generation suspended; work from fresh session state
	session, err = o.store.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}

	var block blockResponse
	if err := DecodeStrict(raw, blockKeys, &block); err != nil {
		return err
	}

	compiled, err := dialogue.Compile(block.Dialogue, session.Characters)
	if err != nil {
		return err
	}

	unit := &models.NarrativeUnit{
		SessionID:         sessionID,
		IsFinal:           isFinal,
		Dialogue:          block.Dialogue,
		PossibleActions:   block.PossibleActions,
		PhotoRequirements: block.PhotoRequirements,
		PreviousAction:    previousAction(action),
		ActionsConsumed:   cost,
		BackdropURL:       session.PromoImageURL,
		Generation:        generation,
	}
	if prev != nil && prev.BackdropURL != "" {
		unit.BackdropURL = prev.BackdropURL
	}

	var closing events.Event
	switch {
	case isFinal:
		unit.PossibleActions = []string{}
		unit.PhotoRequirements = nil
		closing = events.StoryEnd{}
	case len(block.PhotoRequirements) > 0:
		closing = events.PlayerPhotoRequest{Requirements: block.PhotoRequirements}
	default:
		closing = events.PlayerOptions{Options: nonNil(block.PossibleActions)}
	}

	if err := o.store.CreateUnit(ctx, unit); err != nil {
		return fmt.Errorf("failed to store unit: %w", err)
	}

	evs := make([]events.Event, 0, len(compiled)+2)
	evs = append(evs, events.NewNarrativeUnit{UnitID: unit.ID})
	evs = append(evs, compiled...)
	evs = append(evs, closing)
	if err := o.store.Append(ctx, sessionID, evs...); err != nil {
		return fmt.Errorf("failed to append unit events: %w", err)
	}
	o.notify(sessionID, interfaces.NotifyUpdated, "")

	if err := o.illustrate(ctx, session, unit); err != nil {
		return &mediaError{err: err}
	}
	return nil
}

// actSynopsis picks the act synopsis for the state, writing the closing
// synopsis the first time it is needed
func (o *Orchestrator) actSynopsis(ctx context.Context, session *models.Session, state State) (string, error) {
	switch {
	case state == StateOpening || state == StateIntroduction:
		return session.OpeningSynopsis, nil
	case state.usesClosingSynopsis():
		if session.ClosingSynopsis != "" {
			return session.ClosingSynopsis, nil
		}
		system, err := o.prompts.Render(prompts.ClosingSynopsisSystem, map[string]string{
			"base_character":   prompts.BaseCharacter,
			"possible_endings": session.PossibleEndings,
		})
		if err != nil {
			return "", err
		}
		user, err := o.prompts.Render(prompts.StoryBlockContext, prompts.StoryContextVars(session, session.MiddleSynopsis, ""))
		if err != nil {
			return "", err
		}
		synopsis, err := o.text.Complete(ctx, system, user)
		if err != nil {
			return "", fmt.Errorf("failed to generate closing synopsis: %w", err)
		}
		return o.store.SetClosingSynopsis(ctx, session.ID, strings.TrimSpace(synopsis))
	default:
		return session.MiddleSynopsis, nil
	}
}

// requirements builds the additional requirements for the block prompt
func (o *Orchestrator) requirements(ctx context.Context, state State, prev *models.NarrativeUnit, action Action) (string, error) {
	if state == StateOpening {
		return prompts.OpeningRequirements, nil
	}

	var parts []string
	if prev != nil && len(prev.Dialogue) > 0 {
		lines := prev.Dialogue
		if len(lines) > o.opts.ContinuityLines {
			lines = lines[len(lines)-o.opts.ContinuityLines:]
		}
		parts = append(parts, o.prompts.MustRender(prompts.PreviousDialogue, map[string]string{
			"lines": strings.Join(lines, "\n- "),
		}))
	}

	switch action.Kind {
	case ActionText:
		parts = append(parts, o.prompts.MustRender(prompts.TextAction, map[string]string{"action": action.Text}))
	case ActionPhoto:
		instruction := o.prompts.MustRender(prompts.VisionSubject, nil)
		subject, err := o.vision.ClassifySubject(ctx, action.PhotoURL, instruction)
		if err != nil {
			return "", fmt.Errorf("failed to classify photo: %w", err)
		}
		log.Printf("[Engine] Photo classified as %q", subject)
		parts = append(parts, o.prompts.MustRender(prompts.PhotoAssistance, map[string]string{"subject": subject}))
	}

	switch state {
	case StateFinal:
		parts = append(parts, prompts.FinalRequirements)
	case StateClosing:
		parts = append(parts, prompts.ClosingRequirements)
	}
	return strings.Join(parts, "\n\n"), nil
}

// illustrate renders the unit's backdrop and, after the last unit, the
// chained highlight video
func (o *Orchestrator) illustrate(ctx context.Context, session *models.Session, unit *models.NarrativeUnit) error {
	asset, err := o.media.Generate(ctx, &interfaces.GenerationRequest{
		Kind:        interfaces.MediaImage,
		Prompt:      o.prompts.MustRender(prompts.BackdropImage, map[string]string{"world_setting": session.WorldSetting, "scene": sceneOf(unit)}),
		AspectRatio: o.opts.BackdropAspect,
	})
	if err != nil {
		return fmt.Errorf("backdrop for unit %d: %w", unit.ID, err)
	}
	if err := o.store.SetUnitBackdrop(ctx, unit.ID, asset.URL()); err != nil {
		return err
	}
	o.notify(session.ID, interfaces.NotifyUpdated, "")

	if !unit.IsFinal || !o.opts.HighlightEnabled {
		return nil
	}
	return o.highlight(ctx, session)
}

// highlight generates one video per unit in order, each continuing the
// previous generation, and shows the last one
func (o *Orchestrator) highlight(ctx context.Context, session *models.Session) error {
	units, err := o.store.Units(ctx, session.ID)
	if err != nil {
		return err
	}

	var last generators.Asset
	for i := range units {
		prompt := o.prompts.MustRender(prompts.HighlightSegment, map[string]string{
			"title":  session.Title,
			"number": strconv.Itoa(units[i].Number),
			"total":  strconv.Itoa(len(units)),
			"scene":  sceneOf(&units[i]),
		})
		req := &interfaces.GenerationRequest{
			Kind:         interfaces.MediaVideo,
			Prompt:       prompt,
			AspectRatio:  o.opts.HighlightAspect,
			ContinueFrom: last.GenerationID,
		}
		last, err = o.media.Generate(ctx, req)
		if err != nil {
			return fmt.Errorf("highlight segment %d: %w", units[i].Number, err)
		}
	}
	if last.URL() == "" {
		return nil
	}

	if err := o.store.SetFinalVideo(ctx, session.ID, last.URL()); err != nil {
		return err
	}
	if err := o.store.Append(ctx, session.ID, events.ShowVideo{URL: last.URL()}); err != nil {
		return err
	}
	log.Printf("[Engine] Highlight video ready for session %s", session.ID)
	o.notify(session.ID, interfaces.NotifyUpdated, "")
	return nil
}

func (o *Orchestrator) notify(sessionID, kind, message string) {
	if o.notifier == nil {
		return
	}
	n := interfaces.Notification{SessionID: sessionID, Type: kind, Message: message}
	if err := o.notifier.Publish(o.baseCtx, n); err != nil {
		log.Printf("[Engine] Failed to notify session %s: %v", sessionID, err)
	}
}

func previousAction(a Action) string {
	switch a.Kind {
	case ActionText:
		return a.Text
	case ActionPhoto:
		return "photo"
	default:
		return ""
	}
}

// sceneOf summarises a unit for media prompts
func sceneOf(unit *models.NarrativeUnit) string {
	lines := unit.Dialogue
	if len(lines) > 4 {
		lines = lines[:4]
	}
	return strings.Join(lines, "\n")
}

func hasKind(log []events.Event, kind events.Kind) bool {
	for _, ev := range log {
		if ev.Kind() == kind {
			return true
		}
	}
	return false
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
