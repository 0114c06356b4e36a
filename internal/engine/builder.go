package engine

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"Story-Loom/server/internal/dialogue"
	"Story-Loom/server/internal/interfaces"
	"Story-Loom/server/internal/models"
	"Story-Loom/server/internal/prompts"
)

// BuilderOptions tunes session generation
type BuilderOptions struct {
	TotalActions   int
	PortraitAspect string
	PromoAspect    string
	SkipMedia      bool // Keep placeholder images, for offline seeding
	PromptsDir     string
}

// SessionBuilder writes a new session from reference material
type SessionBuilder struct {
	store   interfaces.SessionStore
	text    interfaces.TextGenerator
	media   MediaGenerator
	prompts *prompts.TemplateEngine
	opts    BuilderOptions
}

// NewSessionBuilder creates a builder
func NewSessionBuilder(store interfaces.SessionStore, text interfaces.TextGenerator, media MediaGenerator, opts BuilderOptions) (*SessionBuilder, error) {
	promptEngine, err := prompts.NewDefaultEngine(opts.PromptsDir)
	if err != nil {
		return nil, err
	}
	return &SessionBuilder{
		store:   store,
		text:    text,
		media:   media,
		prompts: promptEngine,
		opts:    opts,
	}, nil
}

// Build generates the brief, renders portraits, promo image and opening video
// concurrently, and persists the session
func (b *SessionBuilder) Build(ctx context.Context, referenceMaterial string) (*models.Session, error) {
	system, err := b.prompts.Render(prompts.SessionBriefSystem, map[string]string{"base_character": prompts.BaseCharacter})
	if err != nil {
		return nil, err
	}
	user, err := b.prompts.Render(prompts.SessionBriefContext, map[string]string{"reference_material": referenceMaterial})
	if err != nil {
		return nil, err
	}

	raw, err := b.text.Complete(ctx, system, user)
	if err != nil {
		return nil, fmt.Errorf("failed to generate session brief: %w", err)
	}

	var brief sessionBrief
	if err := DecodeStrict(raw, briefKeys, &brief); err != nil {
		return nil, err
	}
	if len(brief.Characters) == 0 {
		return nil, dialogue.ErrMissingCharacterData
	}

	session := &models.Session{
		ID:               uuid.NewString(),
		Title:            brief.Title,
		Synopsis:         brief.Synopsis,
		ReferenceSummary: brief.ReferenceSummary,
		WorldSetting:     brief.WorldSetting,
		PossibleEndings:  strings.Join(brief.PossibleEndings, "\n"),
		OpeningSynopsis:  brief.OpeningActSynopsis,
		MiddleSynopsis:   brief.MiddleActSynopsis,
		Prologue:         brief.Prologue,
		TotalActions:     b.opts.TotalActions,
	}
	if session.ReferenceSummary == "" {
		session.ReferenceSummary = referenceMaterial
	}
	for i, c := range brief.Characters {
		session.Characters = append(session.Characters, models.Character{
			Position:        i,
			Name:            c.Name,
			Personality:     c.Personality,
			Background:      c.Background,
			ProfileImageURL: placeholderImage(c.Name),
			IsMainCharacter: i == 0,
		})
	}

	if !b.opts.SkipMedia {
		if err := b.renderMedia(ctx, session, brief.Genres); err != nil {
			return nil, err
		}
	}

	if err := b.store.CreateSession(ctx, session); err != nil {
		return nil, err
	}
	log.Printf("[Builder] Created session %s (%q, %d characters)", session.ID, session.Title, len(session.Characters))
	return session, nil
}

func (b *SessionBuilder) renderMedia(ctx context.Context, session *models.Session, genres []string) error {
	g, gctx := errgroup.WithContext(ctx)
	var mu sync.Mutex

	for i := range session.Characters {
		i := i
		c := session.Characters[i]
		prompt := b.prompts.MustRender(prompts.CharacterPortrait, map[string]string{
			"genres":      strings.Join(genres, ", "),
			"background":  c.Background,
			"personality": c.Personality,
		})
		g.Go(func() error {
			asset, err := b.media.Generate(gctx, &interfaces.GenerationRequest{
				Kind:        interfaces.MediaImage,
				Prompt:      prompt,
				AspectRatio: b.opts.PortraitAspect,
			})
			if err != nil {
				return fmt.Errorf("portrait for %s: %w", c.Name, err)
			}
			mu.Lock()
			session.Characters[i].ProfileImageURL = asset.URL()
			mu.Unlock()
			return nil
		})
	}

	g.Go(func() error {
		asset, err := b.media.Generate(gctx, &interfaces.GenerationRequest{
			Kind:        interfaces.MediaImage,
			Prompt:      b.prompts.MustRender(prompts.PromoImage, map[string]string{"title": session.Title, "world_setting": session.WorldSetting}),
			AspectRatio: b.opts.PromoAspect,
		})
		if err != nil {
			return fmt.Errorf("promo image: %w", err)
		}
		mu.Lock()
		session.PromoImageURL = asset.URL()
		mu.Unlock()
		return nil
	})

	g.Go(func() error {
		asset, err := b.media.Generate(gctx, &interfaces.GenerationRequest{
			Kind:        interfaces.MediaVideo,
			Prompt:      b.prompts.MustRender(prompts.OpeningVideo, map[string]string{"title": session.Title, "synopsis": session.Synopsis}),
			AspectRatio: b.opts.PromoAspect,
		})
		if err != nil {
			return fmt.Errorf("opening video: %w", err)
		}
		mu.Lock()
		session.OpeningVideoURL = asset.URL()
		mu.Unlock()
		return nil
	})

	return g.Wait()
}

func placeholderImage(name string) string {
	return "https://placehold.co/400?text=" + url.QueryEscape(name)
}
