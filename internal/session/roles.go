package session

import (
	"context"

	"github.com/Meldroq8/trivia-game-sub003/internal/minigame"
	"github.com/Meldroq8/trivia-game-sub003/internal/store"
)

// PresenterOps exposes only the mutators the presenter role may use: session
// creation and control signals. Connection and readiness flags are not here;
// the player owns those.
type PresenterOps struct {
	svc *Service
}

// CreateSession writes the session document, overwriting any existing one.
// Used for an explicit mini-game restart.
func (p PresenterOps) CreateSession(ctx context.Context, sess *minigame.Session) error {
	return p.svc.CreateSession(ctx, sess)
}

// AttachOrCreate creates the session when absent and re-attaches otherwise,
// preserving player contributions across a presenter reload.
func (p PresenterOps) AttachOrCreate(ctx context.Context, sess *minigame.Session) (*minigame.Session, bool, error) {
	return p.svc.AttachOrCreate(ctx, sess)
}

// Subscribe registers a live listener for the session.
func (p PresenterOps) Subscribe(ctx context.Context, id string, fn Callback) (store.Unsubscribe, error) {
	return p.svc.Subscribe(ctx, id, fn)
}

// Get reads the current session.
func (p PresenterOps) Get(ctx context.Context, id string) (*minigame.Session, error) {
	return p.svc.Get(ctx, id)
}

// SetStatus advances the session phase.
func (p PresenterOps) SetStatus(ctx context.Context, id string, status minigame.Status) error {
	return p.svc.SetStatus(ctx, id, status)
}

// Finish marks the session finished.
func (p PresenterOps) Finish(ctx context.Context, id string) error {
	return p.svc.SetStatus(ctx, id, minigame.StatusFinished)
}

// ResetTimer restarts the shared countdown from the given value.
func (p PresenterOps) ResetTimer(ctx context.Context, id string, seconds int) error {
	return p.svc.ResetTimer(ctx, id, seconds)
}

// PlayerOps exposes only the mutators the player role may use: its own
// connection/readiness flags and gameplay contributions. ResetTimer appears
// on both roles; that shared field is the one accepted last-write-wins race.
type PlayerOps struct {
	svc *Service
}

// Subscribe registers a live listener for the session.
func (p PlayerOps) Subscribe(ctx context.Context, id string, fn Callback) (store.Unsubscribe, error) {
	return p.svc.Subscribe(ctx, id, fn)
}

// Get reads the current session.
func (p PlayerOps) Get(ctx context.Context, id string) (*minigame.Session, error) {
	return p.svc.Get(ctx, id)
}

// SetConnected records that the player device's subscription attached (or
// detached).
func (p PlayerOps) SetConnected(ctx context.Context, id string, connected bool) error {
	return p.svc.setConnected(ctx, id, connected)
}

// SetReady records the human's readiness signal and starts the in-play
// phase.
func (p PlayerOps) SetReady(ctx context.Context, id string) error {
	return p.svc.setReady(ctx, id)
}

// RecordStroke appends one drawn stroke (drawing only).
func (p PlayerOps) RecordStroke(ctx context.Context, id string, stroke minigame.Stroke) error {
	return p.svc.recordStroke(ctx, id, stroke)
}

// IncrementCounter bumps one team's cycle counter (headband only).
func (p PlayerOps) IncrementCounter(ctx context.Context, id string, team minigame.Team) (int, error) {
	return p.svc.incrementCounter(ctx, id, team)
}

// AdvanceQuestion bumps the question counter (guess-word only).
func (p PlayerOps) AdvanceQuestion(ctx context.Context, id string) (int, error) {
	return p.svc.advanceQuestion(ctx, id)
}

// SubmitAnswer records the final answer and finishes the session
// (guess-word only).
func (p PlayerOps) SubmitAnswer(ctx context.Context, id string, answer string) error {
	return p.svc.submitAnswer(ctx, id, answer)
}

// ResetTimer restarts the shared countdown from the given value.
func (p PlayerOps) ResetTimer(ctx context.Context, id string, seconds int) error {
	return p.svc.ResetTimer(ctx, id, seconds)
}
