package session

import (
	"errors"
	"fmt"

	"github.com/Meldroq8/trivia-game-sub003/internal/minigame"
	"github.com/Meldroq8/trivia-game-sub003/internal/store"
)

// ErrSessionNotFound is returned when an operation targets a session that was
// never created or has expired.
var ErrSessionNotFound = errors.New("session not found")

// ErrWrongGame is returned when a mutator is called on a service whose game
// type does not carry the targeted field.
var ErrWrongGame = errors.New("operation not valid for game")

// ServiceError wraps a store failure with the game-type context of the
// operation that triggered it.
type ServiceError struct {
	Game      minigame.Game
	Op        string
	SessionID string
	Err       error
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("%s session %s %q: %v", e.Game, e.Op, e.SessionID, e.Err)
}

func (e *ServiceError) Unwrap() error { return e.Err }

// wrap converts a store error into a ServiceError, translating missing
// documents into ErrSessionNotFound.
func (s *Service) wrap(op, id string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, store.ErrNotFound) {
		err = fmt.Errorf("%w: %v", ErrSessionNotFound, err)
	}
	return &ServiceError{Game: s.game, Op: op, SessionID: id, Err: err}
}
