// Package events defines the typed, append-only session event log and the
// projection that folds it into client state.
package events

// Kind is the wire discriminator of an event.
type Kind string

const (
	KindWritingInProgress  Kind = "writing-next-act"
	KindNewNarrativeUnit   Kind = "new-act"
	KindShowPrologue       Kind = "story-prologue"
	KindShowVideo          Kind = "video"
	KindCharacterLine      Kind = "character"
	KindPlayerOptions      Kind = "player-options"
	KindPlayerPhotoRequest Kind = "player-photo-task"
	KindPhotoSubmitted     Kind = "submit-photo"
	KindStoryEnd           Kind = "story-end"
	KindTurnFailed         Kind = "turn-failed"
)

// Event is one immutable entry of a session log. The set of implementations is
// closed: every kind has a matching method on Visitor.
type Event interface {
	Kind() Kind
	Accept(v Visitor)
}

// Visitor handles every event kind. Adding a kind adds a method here, so every
// projection and codec must be updated before the module builds again.
type Visitor interface {
	VisitWritingInProgress(WritingInProgress)
	VisitNewNarrativeUnit(NewNarrativeUnit)
	VisitShowPrologue(ShowPrologue)
	VisitShowVideo(ShowVideo)
	VisitCharacterLine(CharacterLine)
	VisitPlayerOptions(PlayerOptions)
	VisitPlayerPhotoRequest(PlayerPhotoRequest)
	VisitPhotoSubmitted(PhotoSubmitted)
	VisitStoryEnd(StoryEnd)
	VisitTurnFailed(TurnFailed)
	VisitUnknown(Unknown)
}

// WritingInProgress marks the start of a turn.
type WritingInProgress struct{}

// NewNarrativeUnit announces a freshly created narrative unit.
type NewNarrativeUnit struct {
	UnitID uint `json:"unit_id"`
}

// ShowPrologue shows the session's opening lines.
type ShowPrologue struct {
	Lines []string `json:"lines"`
}

// ShowVideo plays a generated video.
type ShowVideo struct {
	URL string `json:"url"`
}

// CharacterLine is a run of consecutive messages spoken by one character.
type CharacterLine struct {
	CharacterID uint     `json:"character_id"`
	Messages    []string `json:"messages"`
}

// PlayerOptions offers suggested actions. Options may be empty.
type PlayerOptions struct {
	Options []string `json:"options"`
}

// PlayerPhotoRequest asks the player to submit a photo.
type PlayerPhotoRequest struct {
	Requirements []string `json:"requirements"`
}

// PhotoSubmitted records the photo a player sent.
type PhotoSubmitted struct {
	URL string `json:"url"`
}

// StoryEnd closes the story. Nothing but media follows it.
type StoryEnd struct{}

// TurnFailed ends a turn that could not produce a narrative unit.
type TurnFailed struct{}

// Unknown is an event whose tag this build does not understand. It is kept
// verbatim so it survives a re-encode, and projection skips it.
type Unknown struct {
	Type string
	Raw  []byte
}

func (WritingInProgress) Kind() Kind  { return KindWritingInProgress }
func (NewNarrativeUnit) Kind() Kind   { return KindNewNarrativeUnit }
func (ShowPrologue) Kind() Kind       { return KindShowPrologue }
func (ShowVideo) Kind() Kind          { return KindShowVideo }
func (CharacterLine) Kind() Kind      { return KindCharacterLine }
func (PlayerOptions) Kind() Kind      { return KindPlayerOptions }
func (PlayerPhotoRequest) Kind() Kind { return KindPlayerPhotoRequest }
func (PhotoSubmitted) Kind() Kind     { return KindPhotoSubmitted }
func (StoryEnd) Kind() Kind           { return KindStoryEnd }
func (TurnFailed) Kind() Kind         { return KindTurnFailed }
func (u Unknown) Kind() Kind          { return Kind(u.Type) }

func (e WritingInProgress) Accept(v Visitor)  { v.VisitWritingInProgress(e) }
func (e NewNarrativeUnit) Accept(v Visitor)   { v.VisitNewNarrativeUnit(e) }
func (e ShowPrologue) Accept(v Visitor)       { v.VisitShowPrologue(e) }
func (e ShowVideo) Accept(v Visitor)          { v.VisitShowVideo(e) }
func (e CharacterLine) Accept(v Visitor)      { v.VisitCharacterLine(e) }
func (e PlayerOptions) Accept(v Visitor)      { v.VisitPlayerOptions(e) }
func (e PlayerPhotoRequest) Accept(v Visitor) { v.VisitPlayerPhotoRequest(e) }
func (e PhotoSubmitted) Accept(v Visitor)     { v.VisitPhotoSubmitted(e) }
func (e StoryEnd) Accept(v Visitor)           { v.VisitStoryEnd(e) }
func (e TurnFailed) Accept(v Visitor)         { v.VisitTurnFailed(e) }
func (e Unknown) Accept(v Visitor)            { v.VisitUnknown(e) }

// terminalCheck reports whether an event ends a turn.
type terminalCheck struct{ terminal bool }

func (t *terminalCheck) VisitWritingInProgress(WritingInProgress)   {}
func (t *terminalCheck) VisitNewNarrativeUnit(NewNarrativeUnit)     {}
func (t *terminalCheck) VisitShowPrologue(ShowPrologue)             {}
func (t *terminalCheck) VisitShowVideo(ShowVideo)                   {}
func (t *terminalCheck) VisitCharacterLine(CharacterLine)           {}
func (t *terminalCheck) VisitPlayerOptions(PlayerOptions)           { t.terminal = true }
func (t *terminalCheck) VisitPlayerPhotoRequest(PlayerPhotoRequest) { t.terminal = true }
func (t *terminalCheck) VisitPhotoSubmitted(PhotoSubmitted)         {}
func (t *terminalCheck) VisitStoryEnd(StoryEnd)                     { t.terminal = true }
func (t *terminalCheck) VisitTurnFailed(TurnFailed)                 { t.terminal = true }
func (t *terminalCheck) VisitUnknown(Unknown)                       {}

// IsTerminal reports whether e closes the turn opened by the latest
// WritingInProgress.
func IsTerminal(e Event) bool {
	var t terminalCheck
	e.Accept(&t)
	return t.terminal
}
