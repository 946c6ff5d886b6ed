package session

import (
	"slices"

	"github.com/vintagevision/vintagevision/internal/apperr"
	"github.com/vintagevision/vintagevision/internal/model"
)

var transitions = map[model.SessionStatus][]model.SessionStatus{
	model.SessionGatheringInfo: {model.SessionProcessing, model.SessionAbandoned},
	model.SessionProcessing:    {model.SessionComplete, model.SessionGatheringInfo, model.SessionAbandoned},
}

// CanTransition reports whether a session may move from one status to
// another.
func CanTransition(from, to model.SessionStatus) bool {
	return slices.Contains(transitions[from], to)
}

// transition moves s to status to, leaving it untouched when the edge is
// not allowed.
func transition(s *model.InteractiveSession, to model.SessionStatus) error {
	if !CanTransition(s.Status, to) {
		return apperr.SessionState("session %s: cannot move from %s to %s", s.ID, s.Status, to)
	}
	s.Status = to
	return nil
}
