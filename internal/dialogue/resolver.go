package dialogue

import (
	"strings"

	"github.com/pmezard/go-difflib/difflib"

	"Story-Loom/server/internal/models"
)

// Resolver attributes speaker names to the session's characters.
type Resolver struct {
	characters []models.Character
	main       models.Character
}

// NewResolver returns ErrMissingCharacterData for an empty character set.
func NewResolver(characters []models.Character) (*Resolver, error) {
	if len(characters) == 0 {
		return nil, ErrMissingCharacterData
	}
	r := &Resolver{characters: characters, main: characters[0]}
	for _, c := range characters {
		if c.IsMainCharacter {
			r.main = c
			break
		}
	}
	return r, nil
}

// Main is the character narration lines are attributed to.
func (r *Resolver) Main() models.Character {
	return r.main
}

// Resolve matches by exact name first, then by the highest similarity ratio.
// Ties go to the character stored first, so Resolve always succeeds.
func (r *Resolver) Resolve(name string) models.Character {
	for _, c := range r.characters {
		if c.Name == name {
			return c
		}
	}

	best := r.characters[0]
	bestScore := -1.0
	for _, c := range r.characters {
		if score := Similarity(name, c.Name); score > bestScore {
			best, bestScore = c, score
		}
	}
	return best
}

// Similarity is the difflib ratio of two names, compared rune by rune after
// trimming and lower-casing. It ranges from 0 to 1.
func Similarity(a, b string) float64 {
	ra := runes(strings.ToLower(strings.TrimSpace(a)))
	rb := runes(strings.ToLower(strings.TrimSpace(b)))
	if len(ra) == 0 && len(rb) == 0 {
		return 1
	}
	return difflib.NewMatcher(ra, rb).Ratio()
}

func runes(s string) []string {
	out := make([]string, 0, len(s))
	for _, r := range s {
		out = append(out, string(r))
	}
	return out
}
