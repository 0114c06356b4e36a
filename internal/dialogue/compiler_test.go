package dialogue

import (
	"errors"
	"reflect"
	"testing"

	"Story-Loom/server/internal/events"
	"Story-Loom/server/internal/models"
)

func TestCompileCoalescesAndSplitsOptions(t *testing.T) {
	chars := []models.Character{{ID: 1, Name: "A"}}

	got, err := Compile([]string{"A: hi", "A: there", "*: yes * no"}, chars)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	want := []events.Event{
		events.CharacterLine{CharacterID: 1, Messages: []string{"hi", "there"}},
		events.PlayerOptions{Options: []string{"yes", "no"}},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Compile = %#v, want %#v", got, want)
	}
}

func TestCompileResolvesMisspelledName(t *testing.T) {
	chars := []models.Character{
		{ID: 1, Name: "Bob"},
		{ID: 2, Name: "Alice"},
	}

	got, err := Compile([]string{"Alics: hi"}, chars)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	want := []events.Event{events.CharacterLine{CharacterID: 2, Messages: []string{"hi"}}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Compile = %#v, want %#v", got, want)
	}
}

func TestCompileStartsNewLineOnSpeakerChange(t *testing.T) {
	chars := []models.Character{{ID: 1, Name: "Elara"}, {ID: 2, Name: "Thomas"}}

	got, err := Compile([]string{
		"Elara: Father?",
		"Thomas: Nonsense.",
		"Elara: But",
		"* Leave",
		"Elara: Fine.",
	}, chars)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	want := []events.Event{
		events.CharacterLine{CharacterID: 1, Messages: []string{"Father?"}},
		events.CharacterLine{CharacterID: 2, Messages: []string{"Nonsense."}},
		events.CharacterLine{CharacterID: 1, Messages: []string{"But"}},
		events.PlayerOptions{Options: []string{"Leave"}},
		events.CharacterLine{CharacterID: 1, Messages: []string{"Fine."}},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Compile = %#v, want %#v", got, want)
	}
}

func TestCompileAttributesNarrationToMainCharacter(t *testing.T) {
	chars := []models.Character{
		{ID: 4, Name: "Thomas"},
		{ID: 5, Name: "Elara", IsMainCharacter: true},
	}

	got, err := Compile([]string{"The air hangs thick with coal dust.", "Elara: I know."}, chars)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	want := []events.Event{
		events.CharacterLine{CharacterID: 5, Messages: []string{"The air hangs thick with coal dust.", "I know."}},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Compile = %#v, want %#v", got, want)
	}
}

func TestCompileEmptyInput(t *testing.T) {
	got, err := Compile(nil, []models.Character{{ID: 1, Name: "A"}})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("Compile = %v, want no events", got)
	}
}

func TestCompileWithoutCharacters(t *testing.T) {
	_, err := Compile([]string{"A: hi"}, nil)
	if !errors.Is(err, ErrMissingCharacterData) {
		t.Fatalf("err = %v, want ErrMissingCharacterData", err)
	}
}

func TestCompileEmptyChoiceLine(t *testing.T) {
	got, err := Compile([]string{"*: * *"}, []models.Character{{ID: 1, Name: "A"}})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	want := []events.Event{events.PlayerOptions{Options: []string{}}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Compile = %#v, want %#v", got, want)
	}
}

func TestResolveTiesGoToFirstCharacter(t *testing.T) {
	r, err := NewResolver([]models.Character{
		{ID: 1, Name: "Ann"},
		{ID: 2, Name: "Anne"},
		{ID: 3, Name: "Ann"},
	})
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}

	if got := r.Resolve("Ann").ID; got != 1 {
		t.Fatalf("exact Resolve = %d, want 1", got)
	}
	if got := r.Resolve("zzz").ID; got != 1 {
		t.Fatalf("no-overlap Resolve = %d, want 1", got)
	}
	if got := r.Resolve("anne").ID; got != 2 {
		t.Fatalf("case-insensitive Resolve = %d, want 2", got)
	}
}

func TestSimilarity(t *testing.T) {
	if got := Similarity("Alice", "alice"); got != 1 {
		t.Fatalf("Similarity(Alice, alice) = %v, want 1", got)
	}
	if got := Similarity("Alics", "Alice"); got != 0.8 {
		t.Fatalf("Similarity(Alics, Alice) = %v, want 0.8", got)
	}
	if got := Similarity("xyz", "Bob"); got != 0 {
		t.Fatalf("Similarity(xyz, Bob) = %v, want 0", got)
	}
}
