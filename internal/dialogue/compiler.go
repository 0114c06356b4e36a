// Package dialogue compiles scripted dialogue lines into log events.
//
// Two line shapes are understood:
//
//	Alice: Did you hear that?        character line, split on the first colon
//	*: Run * Hide * Call for help    player choice, options split on "*"
//
// A line without a colon is narration and belongs to the main character.
package dialogue

import (
	"errors"
	"strings"

	"Story-Loom/server/internal/events"
	"Story-Loom/server/internal/models"
)

const (
	choiceMarker    = "*"
	optionDelimiter = "*"
)

// ErrMissingCharacterData is returned when a session has no characters to
// attribute lines to.
var ErrMissingCharacterData = errors.New("missing character data")

// Compile converts raw dialogue lines into CharacterLine and PlayerOptions
// events. Consecutive lines of the same character are merged into one event.
func Compile(lines []string, characters []models.Character) ([]events.Event, error) {
	resolver, err := NewResolver(characters)
	if err != nil {
		return nil, err
	}

	out := make([]events.Event, 0, len(lines))
	var open *events.CharacterLine
	flush := func() {
		if open != nil {
			out = append(out, *open)
			open = nil
		}
	}

	for _, raw := range lines {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, choiceMarker) {
			flush()
			out = append(out, events.PlayerOptions{Options: ParseOptions(line)})
			continue
		}

		speaker, message := resolver.Main(), line
		if name, msg, ok := strings.Cut(line, ":"); ok {
			speaker = resolver.Resolve(strings.TrimSpace(name))
			message = strings.TrimSpace(msg)
		}
		if message == "" {
			continue
		}

		if open != nil && open.CharacterID == speaker.ID {
			open.Messages = append(open.Messages, message)
			continue
		}
		flush()
		open = &events.CharacterLine{CharacterID: speaker.ID, Messages: []string{message}}
	}
	flush()

	return out, nil
}

// ParseOptions splits a choice line into trimmed, non-empty options. A line
// with nothing usable yields an empty, non-nil slice.
func ParseOptions(line string) []string {
	body := strings.TrimPrefix(strings.TrimSpace(line), choiceMarker)
	body = strings.TrimPrefix(strings.TrimSpace(body), ":")

	options := []string{}
	for _, part := range strings.Split(body, optionDelimiter) {
		if part = strings.TrimSpace(part); part != "" {
			options = append(options, part)
		}
	}
	return options
}
