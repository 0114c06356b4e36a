package engine

import (
	"context"
	"errors"
	"strings"
	"testing"

	"Story-Loom/server/internal/dialogue"
	"Story-Loom/server/internal/interfaces"
	"Story-Loom/server/internal/storage"
)

const briefJSON = "```json\n" + `{
  "title": "The Brass Foundry",
  "genres": ["history", "steampunk"],
  "synopsis": "A foundry hides a secret.",
  "world_setting": "Victorian London, powered by brass.",
  "characters": [
    {"name": "Elara Finch", "personality": "curious", "background": "engineer"},
    {"name": "Thomas Finch", "personality": "stern", "background": "retired"}
  ],
  "possible_endings": ["The plot is exposed", "The city falls"],
  "opening_act_synopsis": "Elara finds the stelae.",
  "middle_act_synopsis": "Elara investigates.",
  "prologue": ["London, 1851."]
}` + "\n```"

type staticText string

func (s staticText) Complete(ctx context.Context, system, user string) (string, error) {
	return string(s), nil
}

func TestBuildSession(t *testing.T) {
	store := storage.NewMemoryStore()
	media := &fakeMedia{}
	b, err := NewSessionBuilder(store, staticText(briefJSON), media, BuilderOptions{
		TotalActions:   10,
		PortraitAspect: "1:1",
		PromoAspect:    "16:9",
	})
	if err != nil {
		t.Fatalf("NewSessionBuilder: %v", err)
	}

	session, err := b.Build(context.Background(), "St. James's Park")
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	stored, err := store.GetSession(context.Background(), session.ID)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if stored.Title != "The Brass Foundry" || stored.TotalActions != 10 {
		t.Fatalf("session = %+v", stored)
	}
	if len(stored.Characters) != 2 || !stored.Characters[0].IsMainCharacter || stored.Characters[1].IsMainCharacter {
		t.Fatalf("characters = %+v", stored.Characters)
	}
	for _, c := range stored.Characters {
		if !strings.HasPrefix(c.ProfileImageURL, "https://cdn.example/") {
			t.Fatalf("%s portrait = %q", c.Name, c.ProfileImageURL)
		}
	}
	if stored.PromoImageURL == "" || !strings.HasSuffix(stored.OpeningVideoURL, ".mp4") {
		t.Fatalf("promo = %q, opening = %q", stored.PromoImageURL, stored.OpeningVideoURL)
	}
	if stored.ReferenceSummary != "St. James's Park" {
		t.Fatalf("ReferenceSummary = %q", stored.ReferenceSummary)
	}

	portraits := 0
	for _, r := range media.requests {
		if r.Kind == interfaces.MediaImage && r.AspectRatio == "1:1" {
			portraits++
		}
	}
	if portraits != 2 {
		t.Fatalf("portrait requests = %d, want 2", portraits)
	}
}

func TestBuildSessionSkipMedia(t *testing.T) {
	media := &fakeMedia{}
	b, err := NewSessionBuilder(storage.NewMemoryStore(), staticText(briefJSON), media, BuilderOptions{SkipMedia: true})
	if err != nil {
		t.Fatalf("NewSessionBuilder: %v", err)
	}
	session, err := b.Build(context.Background(), "ref")
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(media.requests) != 0 {
		t.Fatalf("media requests = %d, want 0", len(media.requests))
	}
	if !strings.HasPrefix(session.Characters[0].ProfileImageURL, "https://placehold.co/") {
		t.Fatalf("portrait = %q", session.Characters[0].ProfileImageURL)
	}
}

func TestBuildSessionRejectsBadBriefs(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want error
	}{
		{"prose", "Here is your story!", ErrMalformedResponse},
		{"missing prologue", `{"title":"t","synopsis":"s","world_setting":"w","characters":[],"opening_act_synopsis":"o","middle_act_synopsis":"m"}`, ErrMalformedResponse},
		{"no characters", `{"title":"t","synopsis":"s","world_setting":"w","characters":[],"opening_act_synopsis":"o","middle_act_synopsis":"m","prologue":[]}`, dialogue.ErrMissingCharacterData},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			b, err := NewSessionBuilder(storage.NewMemoryStore(), staticText(tc.raw), &fakeMedia{}, BuilderOptions{SkipMedia: true})
			if err != nil {
				t.Fatalf("NewSessionBuilder: %v", err)
			}
			if _, err := b.Build(context.Background(), "ref"); !errors.Is(err, tc.want) {
				t.Fatalf("Build = %v, want %v", err, tc.want)
			}
		})
	}
}
