package interfaces

import (
	"context"
	"errors"

	"Story-Loom/server/internal/events"
	"Story-Loom/server/internal/models"
)

var (
	// ErrSessionNotFound is returned for an unknown session key
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionReset is returned when a unit is written for a generation
	// of the session that a reset has since replaced
	ErrSessionReset = errors.New("session was reset")
)

// SessionStore is the durable home of sessions, their logs and their units
type SessionStore interface {
	// CreateSession persists a new session with its characters
	CreateSession(ctx context.Context, session *models.Session) error

	// GetSession loads a session and its characters in stored order
	GetSession(ctx context.Context, sessionID string) (*models.Session, error)

	// Events returns the full ordered log
	Events(ctx context.Context, sessionID string) ([]events.Event, error)

	// Append adds events to the log atomically
	Append(ctx context.Context, sessionID string, evs ...events.Event) error

	// AppendIf runs check against the current session and log and appends
	// only if it returns nil, as one step
	AppendIf(ctx context.Context, sessionID string, check func(session *models.Session, log []events.Event) error, evs ...events.Event) error

	// Units returns the session's narrative units ordered by number
	Units(ctx context.Context, sessionID string) ([]models.NarrativeUnit, error)

	// CreateUnit stores the next unit, links its predecessor to it and adds
	// its cost to the session counter, as one transaction. It fails with
	// ErrSessionReset unless unit.Generation is the session's generation.
	CreateUnit(ctx context.Context, unit *models.NarrativeUnit) error

	// SetUnitBackdrop attaches a finished backdrop image
	SetUnitBackdrop(ctx context.Context, unitID uint, url string) error

	// SetClosingSynopsis stores synopsis unless one exists and returns the
	// value that is stored afterwards
	SetClosingSynopsis(ctx context.Context, sessionID, synopsis string) (string, error)

	// SetFinalVideo stores the highlight video of a finished session
	SetFinalVideo(ctx context.Context, sessionID, url string) error

	// Reset empties the log, deletes every unit of the session and starts a
	// new generation
	Reset(ctx context.Context, sessionID string) error
}
