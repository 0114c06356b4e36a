package storage

import (
	"context"
	"sync"
	"time"

	"Story-Loom/server/internal/events"
	"Story-Loom/server/internal/interfaces"
	"Story-Loom/server/internal/models"
)

// MemoryStore is an in-process SessionStore for tests and single-node demos
type MemoryStore struct {
	mu         sync.Mutex
	sessions   map[string]*models.Session
	logs       map[string][]events.Event
	units      map[string][]*models.NarrativeUnit
	nextUnitID uint
	nextCharID uint
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*models.Session),
		logs:     make(map[string][]events.Event),
		units:    make(map[string][]*models.NarrativeUnit),
	}
}

func (s *MemoryStore) CreateSession(ctx context.Context, session *models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	session.CreatedAt, session.UpdatedAt = now, now
	for i := range session.Characters {
		if session.Characters[i].ID == 0 {
			s.nextCharID++
			session.Characters[i].ID = s.nextCharID
		} else if session.Characters[i].ID > s.nextCharID {
			s.nextCharID = session.Characters[i].ID
		}
		session.Characters[i].SessionID = session.ID
	}
	s.sessions[session.ID] = copySession(session)
	return nil
}

func (s *MemoryStore) GetSession(ctx context.Context, sessionID string) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[sessionID]
	if !ok {
		return nil, interfaces.ErrSessionNotFound
	}
	return copySession(session), nil
}

func (s *MemoryStore) Events(ctx context.Context, sessionID string) ([]events.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]events.Event{}, s.logs[sessionID]...), nil
}

func (s *MemoryStore) Append(ctx context.Context, sessionID string, evs ...events.Event) error {
	return s.AppendIf(ctx, sessionID, nil, evs...)
}

func (s *MemoryStore) AppendIf(ctx context.Context, sessionID string, check func(*models.Session, []events.Event) error, evs ...events.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[sessionID]
	if !ok {
		return interfaces.ErrSessionNotFound
	}
	if check != nil {
		if err := check(copySession(session), append([]events.Event{}, s.logs[sessionID]...)); err != nil {
			return err
		}
	}
	s.logs[sessionID] = append(s.logs[sessionID], evs...)
	return nil
}

func (s *MemoryStore) Units(ctx context.Context, sessionID string) ([]models.NarrativeUnit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.NarrativeUnit, 0, len(s.units[sessionID]))
	for _, u := range s.units[sessionID] {
		out = append(out, copyUnit(u))
	}
	return out, nil
}

func (s *MemoryStore) CreateUnit(ctx context.Context, unit *models.NarrativeUnit) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[unit.SessionID]
	if !ok {
		return interfaces.ErrSessionNotFound
	}
	if unit.Generation != session.Generation {
		return interfaces.ErrSessionReset
	}

	s.nextUnitID++
	unit.ID = s.nextUnitID
	unit.CreatedAt = time.Now()

	existing := s.units[unit.SessionID]
	unit.Number = len(existing) + 1
	if len(existing) > 0 {
		id := unit.ID
		existing[len(existing)-1].NextUnitID = &id
	}

	stored := copyUnit(unit)
	s.units[unit.SessionID] = append(existing, &stored)
	session.ActionsConsumed += unit.ActionsConsumed
	session.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) SetUnitBackdrop(ctx context.Context, unitID uint, url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, units := range s.units {
		for _, u := range units {
			if u.ID == unitID {
				u.BackdropURL = url
				return nil
			}
		}
	}
	return nil
}

func (s *MemoryStore) SetClosingSynopsis(ctx context.Context, sessionID, synopsis string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[sessionID]
	if !ok {
		return "", interfaces.ErrSessionNotFound
	}
	if session.ClosingSynopsis == "" {
		session.ClosingSynopsis = synopsis
	}
	return session.ClosingSynopsis, nil
}

func (s *MemoryStore) SetFinalVideo(ctx context.Context, sessionID, url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[sessionID]
	if !ok {
		return interfaces.ErrSessionNotFound
	}
	session.FinalVideoURL = url
	return nil
}

func (s *MemoryStore) Reset(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[sessionID]
	if !ok {
		return interfaces.ErrSessionNotFound
	}
	session.ActionsConsumed = 0
	session.ClosingSynopsis = ""
	session.FinalVideoURL = ""
	session.Generation++
	delete(s.logs, sessionID)
	delete(s.units, sessionID)
	return nil
}

func copySession(in *models.Session) *models.Session {
	out := *in
	out.Prologue = append([]string(nil), in.Prologue...)
	out.Characters = append([]models.Character(nil), in.Characters...)
	return &out
}

func copyUnit(in *models.NarrativeUnit) models.NarrativeUnit {
	out := *in
	out.Dialogue = append([]string(nil), in.Dialogue...)
	out.PossibleActions = append([]string(nil), in.PossibleActions...)
	out.PhotoRequirements = append([]string(nil), in.PhotoRequirements...)
	if in.NextUnitID != nil {
		id := *in.NextUnitID
		out.NextUnitID = &id
	}
	return out
}
