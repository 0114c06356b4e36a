package engine

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrMalformedResponse is returned when model output does not match the
// expected JSON shape
var ErrMalformedResponse = errors.New("malformed generation response")

// StripFences removes a leading and trailing fenced-code marker line
func StripFences(raw string) string {
	lines := strings.Split(strings.TrimSpace(raw), "\n")
	if len(lines) > 0 && strings.HasPrefix(strings.TrimSpace(lines[0]), "`") {
		lines = lines[1:]
	}
	if len(lines) > 0 && strings.HasPrefix(strings.TrimSpace(lines[len(lines)-1]), "`") {
		lines = lines[:len(lines)-1]
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// DecodeStrict parses raw model output as exactly one JSON object that
// carries every required key, then decodes it into out
func DecodeStrict(raw string, required []string, out interface{}) error {
	body := StripFences(raw)

	var fields map[string]json.RawMessage
	dec := json.NewDecoder(strings.NewReader(body))
	if err := dec.Decode(&fields); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if dec.More() {
		return fmt.Errorf("%w: trailing content after object", ErrMalformedResponse)
	}
	if fields == nil {
		return fmt.Errorf("%w: not an object", ErrMalformedResponse)
	}
	for _, key := range required {
		v, ok := fields[key]
		if !ok || bytes.Equal(bytes.TrimSpace(v), []byte("null")) {
			return fmt.Errorf("%w: missing %q", ErrMalformedResponse, key)
		}
	}

	if err := json.Unmarshal([]byte(body), out); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return nil
}

// blockResponse is the shape of a generated story block
type blockResponse struct {
	Dialogue          []string `json:"dialogue"`
	PossibleActions   []string `json:"possible_actions"`
	PhotoRequirements []string `json:"photo_requirements"`
}

var blockKeys = []string{"dialogue", "possible_actions"}

// sessionBrief is the shape of a generated session
type sessionBrief struct {
	Title              string           `json:"title"`
	Genres             []string         `json:"genres"`
	Synopsis           string           `json:"synopsis"`
	ReferenceSummary   string           `json:"reference_summary"`
	WorldSetting       string           `json:"world_setting"`
	Characters         []briefCharacter `json:"characters"`
	PossibleEndings    []string         `json:"possible_endings"`
	OpeningActSynopsis string           `json:"opening_act_synopsis"`
	MiddleActSynopsis  string           `json:"middle_act_synopsis"`
	Prologue           []string         `json:"prologue"`
}

type briefCharacter struct {
	Name        string `json:"name"`
	Personality string `json:"personality"`
	Background  string `json:"background"`
}

var briefKeys = []string{"title", "synopsis", "world_setting", "characters", "opening_act_synopsis", "middle_act_synopsis", "prologue"}
