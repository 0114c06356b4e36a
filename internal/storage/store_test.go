package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"Story-Loom/server/internal/config"
	"Story-Loom/server/internal/events"
	"Story-Loom/server/internal/interfaces"
	"Story-Loom/server/internal/models"
)

var errBusy = errors.New("busy")

func newTestSession(id string) *models.Session {
	return &models.Session{
		ID:           id,
		Title:        "The Brass Foundry",
		TotalActions: 10,
		Prologue:     []string{"Smoke over the river."},
		Characters: []models.Character{
			{Position: 0, Name: "Alice", IsMainCharacter: true},
			{Position: 1, Name: "Bob"},
		},
	}
}

// storeFactories lists every SessionStore implementation under test
func storeFactories(t *testing.T) map[string]func(t *testing.T) interfaces.SessionStore {
	return map[string]func(t *testing.T) interfaces.SessionStore{
		"memory": func(t *testing.T) interfaces.SessionStore {
			return NewMemoryStore()
		},
		"sqlite": func(t *testing.T) interfaces.SessionStore {
			store, err := NewGormStore(config.DatabaseConfig{
				Driver: "sqlite",
				SQLite: config.SQLiteConfig{Path: filepath.Join(t.TempDir(), "test.db")},
			}, "silent")
			if err != nil {
				t.Fatalf("NewGormStore: %v", err)
			}
			t.Cleanup(func() { store.Close() })
			return store
		},
	}
}

func TestStoreSessionRoundTrip(t *testing.T) {
	for name, newStore := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := newStore(t)

			if err := store.CreateSession(ctx, newTestSession("s1")); err != nil {
				t.Fatalf("CreateSession: %v", err)
			}
			got, err := store.GetSession(ctx, "s1")
			if err != nil {
				t.Fatalf("GetSession: %v", err)
			}
			if got.Title != "The Brass Foundry" || got.TotalActions != 10 {
				t.Fatalf("session = %+v", got)
			}
			if len(got.Characters) != 2 || got.Characters[0].Name != "Alice" || got.Characters[1].Name != "Bob" {
				t.Fatalf("characters = %+v", got.Characters)
			}
			if len(got.Prologue) != 1 {
				t.Fatalf("prologue = %v", got.Prologue)
			}

			if _, err := store.GetSession(ctx, "missing"); !errors.Is(err, interfaces.ErrSessionNotFound) {
				t.Fatalf("GetSession(missing) = %v, want ErrSessionNotFound", err)
			}
		})
	}
}

func TestStoreAppendPreservesOrder(t *testing.T) {
	for name, newStore := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := newStore(t)
			if err := store.CreateSession(ctx, newTestSession("s1")); err != nil {
				t.Fatalf("CreateSession: %v", err)
			}

			if err := store.Append(ctx, "s1", events.WritingInProgress{}, events.NewNarrativeUnit{UnitID: 1}); err != nil {
				t.Fatalf("Append: %v", err)
			}
			if err := store.Append(ctx, "s1", events.PlayerOptions{Options: []string{"Run", "Hide"}}); err != nil {
				t.Fatalf("Append: %v", err)
			}

			log, err := store.Events(ctx, "s1")
			if err != nil {
				t.Fatalf("Events: %v", err)
			}
			want := []events.Kind{events.KindWritingInProgress, events.KindNewNarrativeUnit, events.KindPlayerOptions}
			if len(log) != len(want) {
				t.Fatalf("len(log) = %d, want %d", len(log), len(want))
			}
			for i, k := range want {
				if log[i].Kind() != k {
					t.Fatalf("log[%d] = %s, want %s", i, log[i].Kind(), k)
				}
			}
			opts := log[2].(events.PlayerOptions)
			if len(opts.Options) != 2 || opts.Options[1] != "Hide" {
				t.Fatalf("options = %v", opts.Options)
			}

			if err := store.Append(ctx, "missing", events.StoryEnd{}); !errors.Is(err, interfaces.ErrSessionNotFound) {
				t.Fatalf("Append(missing) = %v, want ErrSessionNotFound", err)
			}
		})
	}
}

func TestStoreAppendIfRejects(t *testing.T) {
	for name, newStore := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := newStore(t)
			if err := store.CreateSession(ctx, newTestSession("s1")); err != nil {
				t.Fatalf("CreateSession: %v", err)
			}

			busyIfWriting := func(_ *models.Session, log []events.Event) error {
				for _, ev := range log {
					if ev.Kind() == events.KindWritingInProgress {
						return errBusy
					}
				}
				return nil
			}

			if err := store.AppendIf(ctx, "s1", busyIfWriting, events.WritingInProgress{}); err != nil {
				t.Fatalf("first AppendIf: %v", err)
			}
			if err := store.AppendIf(ctx, "s1", busyIfWriting, events.WritingInProgress{}); !errors.Is(err, errBusy) {
				t.Fatalf("second AppendIf = %v, want errBusy", err)
			}

			log, err := store.Events(ctx, "s1")
			if err != nil {
				t.Fatalf("Events: %v", err)
			}
			if len(log) != 1 {
				t.Fatalf("len(log) = %d, want 1", len(log))
			}
		})
	}
}

func TestStoreCreateUnitLinksAndCounts(t *testing.T) {
	for name, newStore := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := newStore(t)
			if err := store.CreateSession(ctx, newTestSession("s1")); err != nil {
				t.Fatalf("CreateSession: %v", err)
			}

			first := &models.NarrativeUnit{SessionID: "s1", Dialogue: []string{"Alice: Hi"}, ActionsConsumed: 1}
			if err := store.CreateUnit(ctx, first); err != nil {
				t.Fatalf("CreateUnit: %v", err)
			}
			second := &models.NarrativeUnit{SessionID: "s1", PreviousAction: "Run", ActionsConsumed: 2}
			if err := store.CreateUnit(ctx, second); err != nil {
				t.Fatalf("CreateUnit: %v", err)
			}

			if first.Number != 1 || second.Number != 2 {
				t.Fatalf("numbers = %d, %d, want 1, 2", first.Number, second.Number)
			}

			units, err := store.Units(ctx, "s1")
			if err != nil {
				t.Fatalf("Units: %v", err)
			}
			if len(units) != 2 {
				t.Fatalf("len(units) = %d, want 2", len(units))
			}
			if units[0].NextUnitID == nil || *units[0].NextUnitID != second.ID {
				t.Fatalf("units[0].NextUnitID = %v, want %d", units[0].NextUnitID, second.ID)
			}
			if units[1].NextUnitID != nil {
				t.Fatalf("units[1].NextUnitID = %v, want nil", *units[1].NextUnitID)
			}

			session, err := store.GetSession(ctx, "s1")
			if err != nil {
				t.Fatalf("GetSession: %v", err)
			}
			if session.ActionsConsumed != 3 {
				t.Fatalf("ActionsConsumed = %d, want 3", session.ActionsConsumed)
			}

			if err := store.SetUnitBackdrop(ctx, second.ID, "https://cdn.example/b.png"); err != nil {
				t.Fatalf("SetUnitBackdrop: %v", err)
			}
			units, _ = store.Units(ctx, "s1")
			if units[1].BackdropURL != "https://cdn.example/b.png" {
				t.Fatalf("BackdropURL = %q", units[1].BackdropURL)
			}
		})
	}
}

func TestStoreClosingSynopsisIsWrittenOnce(t *testing.T) {
	for name, newStore := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := newStore(t)
			if err := store.CreateSession(ctx, newTestSession("s1")); err != nil {
				t.Fatalf("CreateSession: %v", err)
			}

			got, err := store.SetClosingSynopsis(ctx, "s1", "first")
			if err != nil || got != "first" {
				t.Fatalf("SetClosingSynopsis = %q, %v, want first", got, err)
			}
			got, err = store.SetClosingSynopsis(ctx, "s1", "second")
			if err != nil || got != "first" {
				t.Fatalf("SetClosingSynopsis = %q, %v, want first", got, err)
			}
		})
	}
}

func TestStoreReset(t *testing.T) {
	for name, newStore := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := newStore(t)
			if err := store.CreateSession(ctx, newTestSession("s1")); err != nil {
				t.Fatalf("CreateSession: %v", err)
			}
			if err := store.Append(ctx, "s1", events.WritingInProgress{}, events.StoryEnd{}); err != nil {
				t.Fatalf("Append: %v", err)
			}
			if err := store.CreateUnit(ctx, &models.NarrativeUnit{SessionID: "s1", ActionsConsumed: 1}); err != nil {
				t.Fatalf("CreateUnit: %v", err)
			}
			if _, err := store.SetClosingSynopsis(ctx, "s1", "closing"); err != nil {
				t.Fatalf("SetClosingSynopsis: %v", err)
			}

			if err := store.Reset(ctx, "s1"); err != nil {
				t.Fatalf("Reset: %v", err)
			}

			log, _ := store.Events(ctx, "s1")
			units, _ := store.Units(ctx, "s1")
			session, err := store.GetSession(ctx, "s1")
			if err != nil {
				t.Fatalf("GetSession: %v", err)
			}
			if len(log) != 0 || len(units) != 0 {
				t.Fatalf("after reset: %d events, %d units, want none", len(log), len(units))
			}
			if session.ActionsConsumed != 0 || session.ClosingSynopsis != "" {
				t.Fatalf("after reset: session = %+v", session)
			}
			if len(session.Characters) != 2 {
				t.Fatalf("after reset: %d characters, want 2", len(session.Characters))
			}

			if err := store.Reset(ctx, "missing"); !errors.Is(err, interfaces.ErrSessionNotFound) {
				t.Fatalf("Reset(missing) = %v, want ErrSessionNotFound", err)
			}
		})
	}
}

func TestStoreRejectsUnitFromBeforeReset(t *testing.T) {
	for name, newStore := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := newStore(t)
			if err := store.CreateSession(ctx, newTestSession("s1")); err != nil {
				t.Fatalf("CreateSession: %v", err)
			}
			before, err := store.GetSession(ctx, "s1")
			if err != nil {
				t.Fatalf("GetSession: %v", err)
			}

			if err := store.Reset(ctx, "s1"); err != nil {
				t.Fatalf("Reset: %v", err)
			}

			stale := &models.NarrativeUnit{SessionID: "s1", ActionsConsumed: 1, Generation: before.Generation}
			if err := store.CreateUnit(ctx, stale); !errors.Is(err, interfaces.ErrSessionReset) {
				t.Fatalf("CreateUnit(stale) = %v, want ErrSessionReset", err)
			}
			units, _ := store.Units(ctx, "s1")
			session, err := store.GetSession(ctx, "s1")
			if err != nil {
				t.Fatalf("GetSession: %v", err)
			}
			if len(units) != 0 || session.ActionsConsumed != 0 {
				t.Fatalf("stale unit left %d units, %d consumed", len(units), session.ActionsConsumed)
			}

			fresh := &models.NarrativeUnit{SessionID: "s1", ActionsConsumed: 1, Generation: session.Generation}
			if err := store.CreateUnit(ctx, fresh); err != nil {
				t.Fatalf("CreateUnit(fresh): %v", err)
			}
		})
	}
}
