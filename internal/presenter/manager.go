// Package presenter implements the main-screen side of a mini-game session:
// it provisions the session when an eligible question is displayed, renders
// the QR join payload, subscribes to player contributions, and drives the
// local countdown.
package presenter

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/Meldroq8/trivia-game-sub003/internal/countdown"
	"github.com/Meldroq8/trivia-game-sub003/internal/minigame"
	"github.com/Meldroq8/trivia-game-sub003/internal/question"
	"github.com/Meldroq8/trivia-game-sub003/internal/session"
	"github.com/Meldroq8/trivia-game-sub003/internal/store"
)

// State is the presenter lifecycle phase for the currently displayed
// question.
type State string

const (
	StateIdle         State = "idle"
	StateProvisioning State = "provisioning"
	StateWaiting      State = "waiting"
	StateActive       State = "active"
	StateTornDown     State = "torn_down"
)

// GameSettings tunes one mini-game.
type GameSettings struct {
	// TimerSeconds seeds the shared countdown for timed games.
	TimerSeconds int `yaml:"timerSeconds"`
	// HintThreshold is the per-team counter value unlocking headband hints.
	HintThreshold int `yaml:"hintThreshold"`
	// MaxQuestions bounds the guess-word question cycle.
	MaxQuestions int `yaml:"maxQuestions"`
}

// DefaultSettings returns the stock tuning for a game.
func DefaultSettings(game minigame.Game) GameSettings {
	switch game {
	case minigame.GameDrawing:
		return GameSettings{TimerSeconds: 60}
	case minigame.GameHeadband:
		return GameSettings{HintThreshold: 7}
	case minigame.GameCharades:
		return GameSettings{TimerSeconds: 120}
	case minigame.GameGuessWord:
		return GameSettings{MaxQuestions: 20}
	}
	return GameSettings{}
}

// Callbacks are rendering hooks. All are optional and are invoked from
// manager goroutines; a nil session means "no session".
type Callbacks struct {
	OnState         func(state State)
	OnSession       func(sess *minigame.Session)
	OnTimerTick     func(remaining int)
	OnTimerExpire   func()
	OnHintsUnlocked func()
	OnError         func(err error)
}

// QRPayload is the plain string contract handed to the external QR-image
// generator: the session identifier plus a mode tag identifying the game.
type QRPayload struct {
	SessionID string
	Game      minigame.Game
	URL       string
}

// Manager runs the presenter-side session lifecycle. Mini-game sessions are
// mutually exclusive: at most one is live for the displayed question.
type Manager struct {
	services map[minigame.Game]*session.Service
	settings map[minigame.Game]GameSettings
	userID   string
	baseURL  string
	clock    clockwork.Clock
	cb       Callbacks

	mu      sync.Mutex
	state   State
	game    minigame.Game
	sessID  string
	unsub   store.Unsubscribe
	alive   *atomic.Bool
	last    *minigame.Session
	hinted  bool
	timer   *countdown.Countdown
	started bool
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock substitutes the wall clock, for tests.
func WithClock(clock clockwork.Clock) Option {
	return func(m *Manager) { m.clock = clock }
}

// WithSettings overrides the tuning for one game.
func WithSettings(game minigame.Game, s GameSettings) Option {
	return func(m *Manager) { m.settings[game] = s }
}

// NewManager creates a presenter manager for one presenter user.
// baseURL is the public URL the player device opens after scanning.
func NewManager(services map[minigame.Game]*session.Service, userID, baseURL string, cb Callbacks, opts ...Option) *Manager {
	m := &Manager{
		services: services,
		settings: make(map[minigame.Game]GameSettings, len(minigame.Games)),
		userID:   userID,
		baseURL:  baseURL,
		clock:    clockwork.NewRealClock(),
		cb:       cb,
		state:    StateIdle,
	}
	for _, game := range minigame.Games {
		m.settings[game] = DefaultSettings(game)
	}
	for _, opt := range opts {
		opt(m)
	}
	m.timer = countdown.New(m.clock, m.tick, m.expire)
	return m
}

// State returns the current lifecycle phase.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Session returns the last observed session snapshot, nil before the first
// delivery.
func (m *Manager) Session() *minigame.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}

// TimerRemaining returns the local countdown's remaining seconds.
func (m *Manager) TimerRemaining() int {
	return m.timer.Remaining()
}

// ShowQuestion is called when the presenter renders a question. When the
// question's category enables no mini-game the manager stays Idle. Otherwise
// it provisions (or re-attaches to) the session and returns the QR payload,
// which renders unconditionally from this point so the player device can
// join at any time.
func (m *Manager) ShowQuestion(ctx context.Context, q *question.Question) (QRPayload, error) {
	m.Teardown()

	if q.Game == "" {
		return QRPayload{}, nil
	}
	svc, ok := m.services[q.Game]
	if !ok {
		return QRPayload{}, fmt.Errorf("no service for game %q", q.Game)
	}

	id := minigame.SessionID(q.ID, m.userID)
	m.setState(StateProvisioning, q.Game, id)

	seed := m.buildSession(q, id)

	// Attach-or-create: after a presenter reload the document usually still
	// exists remotely, and recreating it would wipe the player's strokes and
	// counters. State is re-derived from the first subscription delivery
	// either way.
	_, created, err := svc.Presenter().AttachOrCreate(ctx, seed)
	if err != nil {
		m.setState(StateIdle, "", "")
		m.reportError(err)
		return QRPayload{}, err
	}
	if !created {
		log.Info().Str("session_id", id).Msg("re-attached to live session")
	}

	alive := &atomic.Bool{}
	alive.Store(true)
	unsub, err := svc.Presenter().Subscribe(ctx, id, func(sess *minigame.Session) {
		// In-flight deliveries may land after teardown; drop them.
		if !alive.Load() {
			return
		}
		m.handleUpdate(sess)
	})
	if err != nil {
		m.setState(StateIdle, "", "")
		m.reportError(err)
		return QRPayload{}, err
	}

	m.mu.Lock()
	m.unsub = unsub
	m.alive = alive
	m.mu.Unlock()

	m.setState(StateWaiting, q.Game, id)
	return m.qrPayload(q.Game, id), nil
}

// Restart overwrites the session document, intentionally resetting
// player-contributed fields. This is the explicit "restart the mini-game"
// affordance, distinct from the reload-safe attach path.
func (m *Manager) Restart(ctx context.Context, q *question.Question) (QRPayload, error) {
	if q.Game == "" {
		return QRPayload{}, fmt.Errorf("question %q enables no mini-game", q.ID)
	}
	svc, ok := m.services[q.Game]
	if !ok {
		return QRPayload{}, fmt.Errorf("no service for game %q", q.Game)
	}
	id := minigame.SessionID(q.ID, m.userID)
	if err := svc.Presenter().CreateSession(ctx, m.buildSession(q, id)); err != nil {
		m.reportError(err)
		return QRPayload{}, err
	}
	m.timer.Stop()
	m.mu.Lock()
	m.started = false
	m.hinted = false
	m.mu.Unlock()
	return m.qrPayload(q.Game, id), nil
}

// ResetTimer writes the authoritative remaining-time value. The local
// countdown restarts when the write is observed back through the
// subscription, same as on the player side.
func (m *Manager) ResetTimer(ctx context.Context, seconds int) error {
	m.mu.Lock()
	game, id := m.game, m.sessID
	m.mu.Unlock()
	if id == "" {
		return fmt.Errorf("no live session")
	}
	if err := m.services[game].Presenter().ResetTimer(ctx, id, seconds); err != nil {
		// Leave the triggering action retryable; never retry in a loop.
		m.reportError(err)
		return err
	}
	return nil
}

// Finish marks the session finished, typically when the presenter reveals
// the answer and moves to scoring.
func (m *Manager) Finish(ctx context.Context) error {
	m.mu.Lock()
	game, id := m.game, m.sessID
	m.mu.Unlock()
	if id == "" {
		return fmt.Errorf("no live session")
	}
	if err := m.services[game].Presenter().Finish(ctx, id); err != nil {
		m.reportError(err)
		return err
	}
	return nil
}

// Teardown unsubscribes and discards in-memory session state. Idempotent;
// the remote document is left alone (soft expiry handles cleanup).
func (m *Manager) Teardown() {
	m.mu.Lock()
	unsub := m.unsub
	if m.alive != nil {
		m.alive.Store(false)
	}
	m.unsub = nil
	m.alive = nil
	m.last = nil
	m.game = ""
	m.sessID = ""
	m.started = false
	m.hinted = false
	m.state = StateIdle
	m.mu.Unlock()

	m.timer.Stop()
	if unsub != nil {
		unsub()
		if m.cb.OnState != nil {
			m.cb.OnState(StateTornDown)
		}
	}
}

// HintsUnlocked reports whether the headband hint condition holds: both team
// counters at or past the threshold.
func (m *Manager) HintsUnlocked(sess *minigame.Session) bool {
	if sess == nil || sess.Game != minigame.GameHeadband {
		return false
	}
	threshold := m.settings[minigame.GameHeadband].HintThreshold
	return sess.TeamACounter >= threshold && sess.TeamBCounter >= threshold
}

func (m *Manager) buildSession(q *question.Question, id string) *minigame.Session {
	s := &minigame.Session{
		SessionID:    id,
		Game:         q.Game,
		Status:       minigame.StatusCreated,
		QuestionID:   q.ID,
		QuestionText: q.Text,
		Difficulty:   q.Difficulty,
		Points:       q.Points,
		Answer:       q.Answer,
	}
	cfg := m.settings[q.Game]
	switch q.Game {
	case minigame.GameDrawing:
		s.TimeRemaining = cfg.TimerSeconds
	case minigame.GameHeadband:
		s.Answer2 = q.Answer2
		s.AnswerImage = q.AnswerImageURL
		s.AnswerImage2 = q.AnswerImage2URL
	case minigame.GameCharades:
		s.AnswerImageURL = q.AnswerImageURL
		s.AnswerAudioURL = q.AnswerAudioURL
		s.AnswerVideoURL = q.AnswerVideoURL
	case minigame.GameGuessWord:
		s.MaxQuestions = cfg.MaxQuestions
	}
	return s
}

func (m *Manager) qrPayload(game minigame.Game, id string) QRPayload {
	return QRPayload{
		SessionID: id,
		Game:      game,
		URL:       fmt.Sprintf("%s/play?mode=%s&session=%s", m.baseURL, game, id),
	}
}

// handleUpdate re-derives presenter state from each observed session
// snapshot. It never assumes this process created the session.
func (m *Manager) handleUpdate(sess *minigame.Session) {
	m.mu.Lock()
	prev := m.last
	m.last = sess
	game := m.game
	cfg := m.settings[game]

	if sess == nil {
		m.mu.Unlock()
		if m.cb.OnSession != nil {
			m.cb.OnSession(nil)
		}
		return
	}

	startTimer := 0
	becameActive := false
	if !m.started && sess.Ready() {
		m.started = true
		becameActive = true
		if m.state == StateWaiting {
			m.state = StateActive
		}
		if game == minigame.GameDrawing {
			startTimer = sess.TimeRemaining
		} else if cfg.TimerSeconds > 0 {
			// Charades runs a presenter-local countdown; there is no shared
			// timer field for it.
			startTimer = cfg.TimerSeconds
		}
	}

	resetTimer := 0
	if prev != nil && game == minigame.GameDrawing &&
		!sess.TimerResetAt.IsZero() && !sess.TimerResetAt.Equal(prev.TimerResetAt) {
		resetTimer = sess.TimeRemaining
	}

	hints := false
	if !m.hinted && game == minigame.GameHeadband &&
		sess.TeamACounter >= cfg.HintThreshold && sess.TeamBCounter >= cfg.HintThreshold {
		m.hinted = true
		hints = true
	}

	active := m.state == StateActive
	m.mu.Unlock()

	if startTimer > 0 {
		m.timer.Start(startTimer)
	}
	if resetTimer > 0 {
		m.timer.Reset(resetTimer)
	}
	if becameActive && active && m.cb.OnState != nil {
		m.cb.OnState(StateActive)
	}
	if hints && m.cb.OnHintsUnlocked != nil {
		m.cb.OnHintsUnlocked()
	}
	if m.cb.OnSession != nil {
		m.cb.OnSession(sess)
	}
}

func (m *Manager) setState(state State, game minigame.Game, id string) {
	m.mu.Lock()
	m.state = state
	m.game = game
	m.sessID = id
	m.mu.Unlock()
	if m.cb.OnState != nil {
		m.cb.OnState(state)
	}
}

func (m *Manager) tick(remaining int) {
	if m.cb.OnTimerTick != nil {
		m.cb.OnTimerTick(remaining)
	}
}

func (m *Manager) expire() {
	if m.cb.OnTimerExpire != nil {
		m.cb.OnTimerExpire()
	}
}

func (m *Manager) reportError(err error) {
	log.Error().Err(err).Msg("presenter session operation failed")
	if m.cb.OnError != nil {
		m.cb.OnError(err)
	}
}
