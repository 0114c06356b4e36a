package events

import (
	"encoding/json"
	"fmt"
)

// Encode serializes an event as a JSON object carrying a "type" tag.
func Encode(ev Event) ([]byte, error) {
	var enc encoder
	ev.Accept(&enc)
	if enc.err != nil {
		return nil, fmt.Errorf("failed to encode %s event: %w", ev.Kind(), enc.err)
	}
	return enc.data, nil
}

// Decode parses one tagged event. Unrecognised tags decode to Unknown rather
// than failing.
func Decode(data []byte) (Event, error) {
	var head struct {
		Type Kind `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("failed to decode event: %w", err)
	}

	switch head.Type {
	case KindWritingInProgress:
		return WritingInProgress{}, nil
	case KindNewNarrativeUnit:
		return decodeAs[NewNarrativeUnit](data)
	case KindShowPrologue:
		return decodeAs[ShowPrologue](data)
	case KindShowVideo:
		return decodeAs[ShowVideo](data)
	case KindCharacterLine:
		return decodeAs[CharacterLine](data)
	case KindPlayerOptions:
		return decodeAs[PlayerOptions](data)
	case KindPlayerPhotoRequest:
		return decodeAs[PlayerPhotoRequest](data)
	case KindPhotoSubmitted:
		return decodeAs[PhotoSubmitted](data)
	case KindStoryEnd:
		return StoryEnd{}, nil
	case KindTurnFailed:
		return TurnFailed{}, nil
	default:
		raw := make([]byte, len(data))
		copy(raw, data)
		return Unknown{Type: string(head.Type), Raw: raw}, nil
	}
}

// EncodeLog serializes a whole log, preserving order.
func EncodeLog(log []Event) ([]json.RawMessage, error) {
	out := make([]json.RawMessage, 0, len(log))
	for _, ev := range log {
		data, err := Encode(ev)
		if err != nil {
			return nil, err
		}
		out = append(out, data)
	}
	return out, nil
}

// DecodeLog parses a serialized log, preserving order.
func DecodeLog(raw []json.RawMessage) ([]Event, error) {
	out := make([]Event, 0, len(raw))
	for i, data := range raw {
		ev, err := Decode(data)
		if err != nil {
			return nil, fmt.Errorf("event %d: %w", i, err)
		}
		out = append(out, ev)
	}
	return out, nil
}

func decodeAs[T Event](data []byte) (Event, error) {
	var ev T
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, fmt.Errorf("failed to decode %s event: %w", ev.Kind(), err)
	}
	return ev, nil
}

type encoder struct {
	data []byte
	err  error
}

func (e *encoder) put(v any) {
	e.data, e.err = json.Marshal(v)
}

func (e *encoder) VisitWritingInProgress(WritingInProgress) {
	e.put(struct {
		Type Kind `json:"type"`
	}{KindWritingInProgress})
}

func (e *encoder) VisitNewNarrativeUnit(ev NewNarrativeUnit) {
	e.put(struct {
		Type Kind `json:"type"`
		NewNarrativeUnit
	}{KindNewNarrativeUnit, ev})
}

func (e *encoder) VisitShowPrologue(ev ShowPrologue) {
	ev.Lines = nonNil(ev.Lines)
	e.put(struct {
		Type Kind `json:"type"`
		ShowPrologue
	}{KindShowPrologue, ev})
}

func (e *encoder) VisitShowVideo(ev ShowVideo) {
	e.put(struct {
		Type Kind `json:"type"`
		ShowVideo
	}{KindShowVideo, ev})
}

func (e *encoder) VisitCharacterLine(ev CharacterLine) {
	ev.Messages = nonNil(ev.Messages)
	e.put(struct {
		Type Kind `json:"type"`
		CharacterLine
	}{KindCharacterLine, ev})
}

func (e *encoder) VisitPlayerOptions(ev PlayerOptions) {
	ev.Options = nonNil(ev.Options)
	e.put(struct {
		Type Kind `json:"type"`
		PlayerOptions
	}{KindPlayerOptions, ev})
}

func (e *encoder) VisitPlayerPhotoRequest(ev PlayerPhotoRequest) {
	ev.Requirements = nonNil(ev.Requirements)
	e.put(struct {
		Type Kind `json:"type"`
		PlayerPhotoRequest
	}{KindPlayerPhotoRequest, ev})
}

func (e *encoder) VisitPhotoSubmitted(ev PhotoSubmitted) {
	e.put(struct {
		Type Kind `json:"type"`
		PhotoSubmitted
	}{KindPhotoSubmitted, ev})
}

func (e *encoder) VisitStoryEnd(StoryEnd) {
	e.put(struct {
		Type Kind `json:"type"`
	}{KindStoryEnd})
}

func (e *encoder) VisitTurnFailed(TurnFailed) {
	e.put(struct {
		Type Kind `json:"type"`
	}{KindTurnFailed})
}

func (e *encoder) VisitUnknown(ev Unknown) {
	if !json.Valid(ev.Raw) {
		e.err = fmt.Errorf("unknown event %q carries invalid JSON", ev.Type)
		return
	}
	e.data = ev.Raw
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
