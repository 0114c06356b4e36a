package models

import (
	"time"
)

// Session is one playable story with its fixed action budget
type Session struct {
	ID               string      `gorm:"primaryKey;size:64" json:"id"`
	Title            string      `gorm:"size:255" json:"title"`
	Synopsis         string      `gorm:"type:text" json:"synopsis"`
	ReferenceSummary string      `gorm:"type:text" json:"-"`
	WorldSetting     string      `gorm:"type:text" json:"world_setting"`
	PossibleEndings  string      `gorm:"type:text" json:"-"`
	OpeningSynopsis  string      `gorm:"type:text" json:"-"`
	MiddleSynopsis   string      `gorm:"type:text" json:"-"`
	ClosingSynopsis  string      `gorm:"type:text" json:"-"` // Generated once, on the first closing turn
	Prologue         []string    `gorm:"serializer:json" json:"prologue"`
	PromoImageURL    string      `gorm:"size:1024" json:"promo_image_url"`
	OpeningVideoURL  string      `gorm:"size:1024" json:"opening_video_url"`
	FinalVideoURL    string      `gorm:"size:1024" json:"final_video_url"`
	ActionsConsumed  int         `json:"actions_consumed"`
	TotalActions     int         `json:"total_actions"`
	Generation       int         `gorm:"not null;default:0" json:"-"`
	Characters       []Character `gorm:"foreignKey:SessionID" json:"characters"`
	CreatedAt        time.Time   `json:"created_at"`
	UpdatedAt        time.Time   `json:"updated_at"`
}

// Remaining returns the unspent action budget
func (s *Session) Remaining() int {
	return s.TotalActions - s.ActionsConsumed
}

// MainCharacter returns the player's character, or the first character when
// none is flagged
func (s *Session) MainCharacter() (Character, bool) {
	for _, c := range s.Characters {
		if c.IsMainCharacter {
			return c, true
		}
	}
	if len(s.Characters) > 0 {
		return s.Characters[0], true
	}
	return Character{}, false
}

// SupportingCharacters returns every character except the main one
func (s *Session) SupportingCharacters() []Character {
	main, ok := s.MainCharacter()
	out := make([]Character, 0, len(s.Characters))
	for _, c := range s.Characters {
		if ok && c.ID == main.ID {
			continue
		}
		out = append(out, c)
	}
	return out
}

// Character is immutable once the session is built
type Character struct {
	ID              uint   `gorm:"primaryKey" json:"id"`
	SessionID       string `gorm:"index;size:64" json:"-"`
	Position        int    `json:"position"` // Stored order, used to break similarity ties
	Name            string `gorm:"size:128" json:"name"`
	Personality     string `gorm:"type:text" json:"personality"`
	Background      string `gorm:"type:text" json:"background"`
	ProfileImageURL string `gorm:"size:1024" json:"profile_image_url"`
	IsMainCharacter bool   `json:"is_main_character"`
}

// NarrativeUnit is one generated story block
type NarrativeUnit struct {
	ID                uint      `gorm:"primaryKey" json:"id"`
	SessionID         string    `gorm:"index;size:64" json:"session_id"`
	Number            int       `gorm:"index" json:"number"` // 1-based and gapless, the canonical order
	IsFinal           bool      `json:"is_final"`
	Dialogue          []string  `gorm:"serializer:json" json:"dialogue"`
	PossibleActions   []string  `gorm:"serializer:json" json:"possible_actions"`
	PhotoRequirements []string  `gorm:"serializer:json" json:"photo_requirements"`
	PreviousAction    string    `gorm:"type:text" json:"previous_action"`
	ActionsConsumed   int       `json:"actions_consumed"`
	Generation        int       `gorm:"-" json:"-"`
	BackdropURL       string    `gorm:"size:1024" json:"backdrop_url"`
	NextUnitID        *uint     `json:"next_unit_id,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
}

// SessionEvent is the stored form of one log entry
type SessionEvent struct {
	ID        uint      `gorm:"primaryKey"`
	SessionID string    `gorm:"uniqueIndex:idx_session_seq;size:64"`
	Seq       int       `gorm:"uniqueIndex:idx_session_seq"`
	Type      string    `gorm:"size:32"`
	Payload   string    `gorm:"type:text"`
	CreatedAt time.Time
}
