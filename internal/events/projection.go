package events

// Line is one message attributed to a character inside a narrative unit.
type Line struct {
	UnitID      uint   `json:"unit_id"`
	CharacterID uint   `json:"character_id"`
	Message     string `json:"message"`
}

// ClientState is what a client shows after consuming a log from the start.
type ClientState struct {
	UnitID            uint     `json:"unit_id"`
	UnitsSeen         int      `json:"units_seen"`
	Prologue          []string `json:"prologue"`
	Videos            []string `json:"videos"`
	Lines             []Line   `json:"lines"`
	Options           []string `json:"options"`
	PhotoRequirements []string `json:"photo_requirements"`
	SubmittedPhotos   []string `json:"submitted_photos"`
	Writing           bool     `json:"writing"`
	AwaitingPhoto     bool     `json:"awaiting_photo"`
	Ended             bool     `json:"ended"`
	Failed            bool     `json:"failed"`
	Skipped           int      `json:"skipped"`
}

// Replay folds a log into client state. It has no side effects and never
// fails: events of unknown kinds are counted in Skipped and otherwise ignored.
func Replay(log []Event) ClientState {
	p := projector{state: ClientState{
		Prologue:          []string{},
		Videos:            []string{},
		Lines:             []Line{},
		Options:           []string{},
		PhotoRequirements: []string{},
		SubmittedPhotos:   []string{},
	}}
	for _, ev := range log {
		ev.Accept(&p)
	}
	return p.state
}

type projector struct {
	state ClientState
}

func (p *projector) VisitWritingInProgress(WritingInProgress) {
	p.state.Writing = true
	p.state.Failed = false
	p.state.Options = []string{}
}

func (p *projector) VisitNewNarrativeUnit(ev NewNarrativeUnit) {
	p.state.UnitID = ev.UnitID
	p.state.UnitsSeen++
	p.state.Options = []string{}
	p.state.PhotoRequirements = []string{}
}

func (p *projector) VisitShowPrologue(ev ShowPrologue) {
	p.state.Prologue = append([]string{}, ev.Lines...)
}

func (p *projector) VisitShowVideo(ev ShowVideo) {
	p.state.Videos = append(p.state.Videos, ev.URL)
}

func (p *projector) VisitCharacterLine(ev CharacterLine) {
	for _, msg := range ev.Messages {
		p.state.Lines = append(p.state.Lines, Line{
			UnitID:      p.state.UnitID,
			CharacterID: ev.CharacterID,
			Message:     msg,
		})
	}
}

func (p *projector) VisitPlayerOptions(ev PlayerOptions) {
	p.state.Options = append([]string{}, ev.Options...)
	p.state.Writing = false
}

func (p *projector) VisitPlayerPhotoRequest(ev PlayerPhotoRequest) {
	p.state.PhotoRequirements = append([]string{}, ev.Requirements...)
	p.state.AwaitingPhoto = true
	p.state.Writing = false
}

func (p *projector) VisitPhotoSubmitted(ev PhotoSubmitted) {
	p.state.SubmittedPhotos = append(p.state.SubmittedPhotos, ev.URL)
	p.state.AwaitingPhoto = false
}

func (p *projector) VisitStoryEnd(StoryEnd) {
	p.state.Ended = true
	p.state.Writing = false
	p.state.AwaitingPhoto = false
	p.state.Options = []string{}
}

func (p *projector) VisitTurnFailed(TurnFailed) {
	p.state.Writing = false
	p.state.Failed = true
}

func (p *projector) VisitUnknown(Unknown) {
	p.state.Skipped++
}
