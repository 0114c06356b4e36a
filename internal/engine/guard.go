package engine

import (
	"errors"

	"Story-Loom/server/internal/events"
)

// ErrTurnAlreadyInProgress rejects a turn while another one is being written
var ErrTurnAlreadyInProgress = errors.New("turn already in progress")

// CheckTurnAvailable scans back to the latest WritingInProgress marker and
// rejects when no terminal event follows it
func CheckTurnAvailable(log []events.Event) error {
	for i := len(log) - 1; i >= 0; i-- {
		if events.IsTerminal(log[i]) {
			return nil
		}
		if log[i].Kind() == events.KindWritingInProgress {
			return ErrTurnAlreadyInProgress
		}
	}
	return nil
}
