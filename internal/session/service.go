// Package session is the protocol layer over the document store: it fixes
// the field schema per mini-game, validates state transitions, and exposes
// typed mutators split by role so the field-ownership convention (who writes
// what) is enforced in one place instead of being sprinkled through views.
package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/Meldroq8/trivia-game-sub003/internal/minigame"
	"github.com/Meldroq8/trivia-game-sub003/internal/store"
)

// Document field names, fixed by the wire contract.
const (
	fieldStatus          = "status"
	fieldUpdatedAt       = "updatedAt"
	fieldPlayerConnected = "playerConnected"
	fieldDrawerConnected = "drawerConnected"
	fieldPlayerReady     = "playerReady"
	fieldDrawerReady     = "drawerReady"
	fieldStrokes         = "strokes"
	fieldTimeRemaining   = "timeRemaining"
	fieldTimerResetAt    = "timerResetAt"
	fieldTeamACounter    = "teamACounter"
	fieldTeamBCounter    = "teamBCounter"
	fieldSubmittedAnswer = "submittedAnswer"
	fieldQuestionCount   = "questionCount"
)

// Callback receives every observed state of a subscribed session. A nil
// session means the document does not exist; callers must treat that as
// "no session", never as an error.
type Callback func(sess *minigame.Session)

// Service coordinates one mini-game type's sessions over the store.
type Service struct {
	store store.Store
	game  minigame.Game
	clock clockwork.Clock
	sink  EventSink
}

// Option configures a Service.
type Option func(*Service)

// WithClock substitutes the wall clock, for tests.
func WithClock(clock clockwork.Clock) Option {
	return func(s *Service) { s.clock = clock }
}

// WithEventSink attaches a lifecycle-event publisher.
func WithEventSink(sink EventSink) Option {
	return func(s *Service) { s.sink = sink }
}

// New creates a session service for one game type.
func New(st store.Store, game minigame.Game, opts ...Option) *Service {
	s := &Service{
		store: st,
		game:  game,
		clock: clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Game returns the game type this service coordinates.
func (s *Service) Game() minigame.Game { return s.game }

// Presenter returns the mutator set the presenter role may use.
func (s *Service) Presenter() PresenterOps { return PresenterOps{s} }

// Player returns the mutator set the player role may use.
func (s *Service) Player() PlayerOps { return PlayerOps{s} }

// CreateSession validates the payload and writes the session document,
// overwriting any prior document with the same ID (explicit restart).
func (s *Service) CreateSession(ctx context.Context, sess *minigame.Session) error {
	if err := s.prepare(sess); err != nil {
		return s.wrap("create", sess.SessionID, err)
	}
	doc, err := store.Encode(sess)
	if err != nil {
		return s.wrap("create", sess.SessionID, err)
	}
	if err := s.store.Create(ctx, sess.SessionID, doc); err != nil {
		return s.wrap("create", sess.SessionID, err)
	}
	s.emit(ctx, sess.SessionID, EventSessionCreated, nil)
	return nil
}

// AttachOrCreate re-attaches to a live session document when one exists and
// creates it otherwise. This is the presenter-reload recovery path: player
// contributions written before the reload survive.
func (s *Service) AttachOrCreate(ctx context.Context, sess *minigame.Session) (*minigame.Session, bool, error) {
	if err := s.prepare(sess); err != nil {
		return nil, false, s.wrap("create", sess.SessionID, err)
	}
	doc, err := store.Encode(sess)
	if err != nil {
		return nil, false, s.wrap("create", sess.SessionID, err)
	}
	created, err := s.store.CreateIfAbsent(ctx, sess.SessionID, doc)
	if err != nil {
		return nil, false, s.wrap("create", sess.SessionID, err)
	}
	if created {
		s.emit(ctx, sess.SessionID, EventSessionCreated, nil)
		return sess, true, nil
	}
	existing, err := s.Get(ctx, sess.SessionID)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

// Get reads the current session, or ErrSessionNotFound.
func (s *Service) Get(ctx context.Context, id string) (*minigame.Session, error) {
	doc, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, s.wrap("get", id, err)
	}
	return s.decode(id, doc)
}

// Subscribe registers a live listener. The callback fires once immediately
// with the current state (nil when the session does not exist) and then on
// every change. The returned unsubscribe is idempotent.
func (s *Service) Subscribe(ctx context.Context, id string, fn Callback) (store.Unsubscribe, error) {
	unsub, err := s.store.Subscribe(ctx, id, func(doc store.Document) {
		if doc == nil {
			fn(nil)
			return
		}
		sess, err := s.decode(id, doc)
		if err != nil {
			// Malformed remote state must not crash the view; skip the
			// delivery and keep the subscription alive.
			log.Error().Err(err).Str("session_id", id).Msg("dropping malformed session state")
			return
		}
		fn(sess)
	})
	if err != nil {
		return nil, s.wrap("subscribe", id, err)
	}
	return unsub, nil
}

// SetStatus advances the session phase. Backward transitions are rejected;
// writing the current status again is a no-op that still lands.
func (s *Service) SetStatus(ctx context.Context, id string, status minigame.Status) error {
	current, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if !minigame.CanTransition(current.Status, status) {
		return s.wrap("status", id, fmt.Errorf("invalid transition %s -> %s", current.Status, status))
	}
	if err := s.update(ctx, id, store.Document{fieldStatus: string(status)}); err != nil {
		return s.wrap("status", id, err)
	}
	s.emit(ctx, id, EventStatusChanged, map[string]any{"status": status})
	return nil
}

// ResetTimer writes the authoritative remaining-time value plus a reset
// nonce. Each side observing the nonce change restarts its own local
// countdown from the written value; there is no tick-by-tick sync.
func (s *Service) ResetTimer(ctx context.Context, id string, seconds int) error {
	if s.game != minigame.GameDrawing {
		return s.wrap("timer-reset", id, ErrWrongGame)
	}
	if seconds <= 0 {
		return s.wrap("timer-reset", id, fmt.Errorf("invalid duration %d", seconds))
	}
	now := s.clock.Now().UTC()
	err := s.update(ctx, id, store.Document{
		fieldTimeRemaining: seconds,
		fieldTimerResetAt:  now.Format(timeLayout),
	})
	if err != nil {
		return s.wrap("timer-reset", id, err)
	}
	s.emit(ctx, id, EventTimerReset, map[string]any{"seconds": seconds})
	return nil
}

// setConnected records the second device's attachment under the flag name
// the game uses.
func (s *Service) setConnected(ctx context.Context, id string, connected bool) error {
	field := fieldPlayerConnected
	if s.game == minigame.GameDrawing {
		field = fieldDrawerConnected
	}
	if err := s.update(ctx, id, store.Document{field: connected}); err != nil {
		return s.wrap("connect", id, err)
	}
	if connected {
		s.emit(ctx, id, EventPlayerConnected, nil)
	}
	return nil
}

// setReady records the human's readiness signal and moves the session into
// its in-play phase. The status advance is guarded so a tap landing after
// the session finished cannot drag it backward; the flag itself still lands.
func (s *Service) setReady(ctx context.Context, id string) error {
	field := fieldPlayerReady
	if s.game == minigame.GameDrawing {
		field = fieldDrawerReady
	}
	current, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	fields := store.Document{field: true}
	if minigame.CanTransition(current.Status, s.game.ActiveStatus()) {
		fields[fieldStatus] = string(s.game.ActiveStatus())
	}
	if err := s.update(ctx, id, fields); err != nil {
		return s.wrap("ready", id, err)
	}
	s.emit(ctx, id, EventPlayerReady, nil)
	return nil
}

// recordStroke appends one drawn stroke. Strokes are append-only and
// replicated best-effort: a failed append is reported but never replayed.
func (s *Service) recordStroke(ctx context.Context, id string, stroke minigame.Stroke) error {
	if s.game != minigame.GameDrawing {
		return s.wrap("stroke", id, ErrWrongGame)
	}
	value, err := store.Encode(stroke)
	if err != nil {
		return s.wrap("stroke", id, err)
	}
	if err := s.store.Append(ctx, id, fieldStrokes, map[string]any(value)); err != nil {
		return s.wrap("stroke", id, err)
	}
	s.touch(ctx, id)
	return nil
}

// incrementCounter bumps one headband team's counter atomically and returns
// the new value. In practice each counter has a single writer, but the
// store-level increment keeps the contract safe if that ever changes.
func (s *Service) incrementCounter(ctx context.Context, id string, team minigame.Team) (int, error) {
	if s.game != minigame.GameHeadband {
		return 0, s.wrap("counter", id, ErrWrongGame)
	}
	field := fieldTeamACounter
	if team == minigame.TeamB {
		field = fieldTeamBCounter
	}
	v, err := s.store.Increment(ctx, id, field, 1)
	if err != nil {
		return 0, s.wrap("counter", id, err)
	}
	s.touch(ctx, id)
	return int(v), nil
}

// advanceQuestion bumps the guess-word question counter and returns the new
// value; the caller compares it against maxQuestions.
func (s *Service) advanceQuestion(ctx context.Context, id string) (int, error) {
	if s.game != minigame.GameGuessWord {
		return 0, s.wrap("advance", id, ErrWrongGame)
	}
	v, err := s.store.Increment(ctx, id, fieldQuestionCount, 1)
	if err != nil {
		return 0, s.wrap("advance", id, err)
	}
	s.touch(ctx, id)
	return int(v), nil
}

// submitAnswer records the player's final answer and finishes the session.
func (s *Service) submitAnswer(ctx context.Context, id string, answer string) error {
	if s.game != minigame.GameGuessWord {
		return s.wrap("submit", id, ErrWrongGame)
	}
	fields := store.Document{
		fieldSubmittedAnswer: answer,
		fieldStatus:          string(minigame.StatusFinished),
	}
	if err := s.update(ctx, id, fields); err != nil {
		return s.wrap("submit", id, err)
	}
	s.emit(ctx, id, EventAnswerSubmitted, map[string]any{"answer": answer})
	return nil
}

const timeLayout = "2006-01-02T15:04:05.999999999Z07:00"

// prepare validates required fields per game and stamps creation metadata.
func (s *Service) prepare(sess *minigame.Session) error {
	if sess.SessionID == "" {
		return errors.New("missing session ID")
	}
	if sess.QuestionID == "" {
		return errors.New("missing question ID")
	}
	if sess.Game == "" {
		sess.Game = s.game
	}
	if sess.Game != s.game {
		return fmt.Errorf("session game %q does not match service game %q", sess.Game, s.game)
	}
	switch s.game {
	case minigame.GameDrawing:
		if sess.TimeRemaining <= 0 {
			return errors.New("drawing session needs a positive timeRemaining")
		}
	case minigame.GameHeadband:
		if sess.Answer == "" || sess.Answer2 == "" {
			return errors.New("headband session needs both team answers")
		}
	case minigame.GameCharades:
		if sess.Answer == "" {
			return errors.New("charades session needs an answer")
		}
	case minigame.GameGuessWord:
		if sess.Answer == "" {
			return errors.New("guess-word session needs an answer")
		}
		if sess.MaxQuestions <= 0 {
			return errors.New("guess-word session needs a positive maxQuestions")
		}
	}
	if sess.Status == "" {
		sess.Status = minigame.StatusCreated
	}
	now := s.clock.Now().UTC()
	sess.CreatedAt = now
	sess.UpdatedAt = now
	return nil
}

// update merges fields, stamping updatedAt alongside.
func (s *Service) update(ctx context.Context, id string, fields store.Document) error {
	fields[fieldUpdatedAt] = s.clock.Now().UTC().Format(timeLayout)
	return s.store.Update(ctx, id, fields)
}

// touch refreshes updatedAt after store primitives that bypass update.
func (s *Service) touch(ctx context.Context, id string) {
	err := s.store.Update(ctx, id, store.Document{
		fieldUpdatedAt: s.clock.Now().UTC().Format(timeLayout),
	})
	if err != nil {
		log.Debug().Err(err).Str("session_id", id).Msg("touch failed")
	}
}

func (s *Service) decode(id string, doc store.Document) (*minigame.Session, error) {
	var sess minigame.Session
	if err := store.Decode(doc, &sess); err != nil {
		return nil, s.wrap("decode", id, &store.ReadError{Op: "decode", ID: id, Err: err})
	}
	if sess.SessionID == "" {
		sess.SessionID = id
	}
	return &sess, nil
}

// emit publishes a lifecycle event best-effort.
func (s *Service) emit(ctx context.Context, id string, typ EventType, payload any) {
	if s.sink == nil {
		return
	}
	event := Event{
		ID:        uuid.New().String(),
		SessionID: id,
		Game:      s.game,
		Type:      typ,
		Timestamp: s.clock.Now().UTC(),
		Payload:   payload,
	}
	if err := s.sink.PublishSessionEvent(ctx, event); err != nil {
		log.Warn().Err(err).Str("session_id", id).Str("event_type", string(typ)).Msg("session event publish failed")
	}
}
