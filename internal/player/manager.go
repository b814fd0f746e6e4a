// Package player implements the second-device side of a mini-game session:
// join-by-identifier after a QR scan, bounded retry while the presenter is
// still provisioning, connection/readiness flags, and fire-and-forget
// contribution push.
package player

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/Meldroq8/trivia-game-sub003/internal/countdown"
	"github.com/Meldroq8/trivia-game-sub003/internal/minigame"
	"github.com/Meldroq8/trivia-game-sub003/internal/session"
	"github.com/Meldroq8/trivia-game-sub003/internal/store"
)

// ErrSessionNotReady is returned by Join when the presenter has not created
// the session within the retry budget. The human sees a "waiting for
// presenter" state and may retry.
var ErrSessionNotReady = errors.New("session not created yet")

// contributionQueue bounds queued fire-and-forget writes. Contributions are
// human-paced, so the queue only fills when the store is down; overflow is
// dropped, matching the best-effort stroke contract.
const contributionQueue = 128

// Callbacks are rendering hooks for the player view. All are optional.
type Callbacks struct {
	OnSession     func(sess *minigame.Session)
	OnTimerTick   func(remaining int)
	OnTimerExpire func()
	OnError       func(err error)
}

// Config tunes the join retry loop. Creation of the document and delivery of
// the QR code are not ordered, so a scan can legally race ahead of creation.
type Config struct {
	JoinAttempts int
	JoinInterval time.Duration
}

// DefaultConfig returns the stock retry budget.
func DefaultConfig() Config {
	return Config{
		JoinAttempts: 10,
		JoinInterval: 500 * time.Millisecond,
	}
}

// Manager runs the player-side session lifecycle for one joined session.
type Manager struct {
	svc   *session.Service
	cfg   Config
	clock clockwork.Clock
	cb    Callbacks

	mu     sync.Mutex
	sessID string
	unsub  store.Unsubscribe
	alive  *atomic.Bool
	last   *minigame.Session
	ready  bool
	timer  *countdown.Countdown

	qmu     sync.Mutex
	queue   chan func(context.Context)
	queueWG sync.WaitGroup
	closed  atomic.Bool
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock substitutes the wall clock, for tests.
func WithClock(clock clockwork.Clock) Option {
	return func(m *Manager) { m.clock = clock }
}

// WithConfig overrides the join retry budget.
func WithConfig(cfg Config) Option {
	return func(m *Manager) { m.cfg = cfg }
}

// NewManager creates a player manager bound to one game's session service.
func NewManager(svc *session.Service, cb Callbacks, opts ...Option) *Manager {
	m := &Manager{
		svc:   svc,
		cfg:   DefaultConfig(),
		clock: clockwork.NewRealClock(),
		cb:    cb,
		queue: make(chan func(context.Context), contributionQueue),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.timer = countdown.New(m.clock, m.tick, m.expire)

	m.queueWG.Add(1)
	go m.worker()
	return m
}

// Join subscribes to the session named in the scanned QR payload and marks
// this device connected. When the document does not exist yet it polls with
// a bounded retry before giving up with ErrSessionNotReady.
func (m *Manager) Join(ctx context.Context, sessionID string) error {
	var found bool
	for attempt := 0; attempt < m.cfg.JoinAttempts; attempt++ {
		_, err := m.svc.Player().Get(ctx, sessionID)
		if err == nil {
			found = true
			break
		}
		if !errors.Is(err, session.ErrSessionNotFound) {
			m.reportError(err)
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-m.clock.After(m.cfg.JoinInterval):
		}
	}
	if !found {
		return fmt.Errorf("%w: %s", ErrSessionNotReady, sessionID)
	}

	alive := &atomic.Bool{}
	alive.Store(true)
	unsub, err := m.svc.Player().Subscribe(ctx, sessionID, func(sess *minigame.Session) {
		if !alive.Load() {
			return
		}
		m.handleUpdate(sess)
	})
	if err != nil {
		m.reportError(err)
		return err
	}

	m.mu.Lock()
	m.sessID = sessionID
	m.unsub = unsub
	m.alive = alive
	m.mu.Unlock()

	if err := m.svc.Player().SetConnected(ctx, sessionID, true); err != nil {
		// The subscription is live; the flag write is retried by Ready.
		m.reportError(err)
	}
	return nil
}

// Ready signals that the human is ready to play. Kept synchronous so the
// button can stay clickable when the write fails.
func (m *Manager) Ready(ctx context.Context) error {
	id := m.sessionID()
	if id == "" {
		return fmt.Errorf("not joined")
	}
	if err := m.svc.Player().SetReady(ctx, id); err != nil {
		m.reportError(err)
		return err
	}
	return nil
}

// DrawStroke replicates one drawn stroke. Fire-and-forget: the stroke
// renders locally immediately and replication is best-effort, queued so a
// single writer's strokes land in draw order.
func (m *Manager) DrawStroke(stroke minigame.Stroke) {
	id := m.sessionID()
	if id == "" {
		return
	}
	m.enqueue(func(ctx context.Context) {
		if err := m.svc.Player().RecordStroke(ctx, id, stroke); err != nil {
			// Not replayed; the visual stroke already rendered locally.
			m.reportError(err)
		}
	})
}

// NextCelebrity advances one headband team's counter on a "next" tap.
func (m *Manager) NextCelebrity(team minigame.Team) {
	id := m.sessionID()
	if id == "" {
		return
	}
	m.enqueue(func(ctx context.Context) {
		if _, err := m.svc.Player().IncrementCounter(ctx, id, team); err != nil {
			m.reportError(err)
		}
	})
}

// NextQuestion advances the guess-word question counter; it reports whether
// the budget is exhausted based on the last observed session.
func (m *Manager) NextQuestion() (exhausted bool) {
	m.mu.Lock()
	last := m.last
	id := m.sessID
	m.mu.Unlock()
	if id == "" {
		return false
	}
	if last != nil && last.MaxQuestions > 0 && last.QuestionCount >= last.MaxQuestions {
		return true
	}
	m.enqueue(func(ctx context.Context) {
		if _, err := m.svc.Player().AdvanceQuestion(ctx, id); err != nil {
			m.reportError(err)
		}
	})
	return false
}

// SubmitAnswer records the final guess-word answer. Synchronous so the
// submit affordance can surface failure and stay retryable.
func (m *Manager) SubmitAnswer(ctx context.Context, answer string) error {
	id := m.sessionID()
	if id == "" {
		return fmt.Errorf("not joined")
	}
	if err := m.svc.Player().SubmitAnswer(ctx, id, answer); err != nil {
		m.reportError(err)
		return err
	}
	return nil
}

// ResetTimer restarts the shared countdown from the given value. Both sides
// restart their local countdowns when the write is observed back.
func (m *Manager) ResetTimer(ctx context.Context, seconds int) error {
	id := m.sessionID()
	if id == "" {
		return fmt.Errorf("not joined")
	}
	if err := m.svc.Player().ResetTimer(ctx, id, seconds); err != nil {
		m.reportError(err)
		return err
	}
	return nil
}

// Session returns the last observed session snapshot.
func (m *Manager) Session() *minigame.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}

// TimerRemaining returns the local countdown's remaining seconds.
func (m *Manager) TimerRemaining() int {
	return m.timer.Remaining()
}

// Leave tears down the subscription and stops the contribution worker.
// Idempotent. Writes already dispatched may still land afterwards; the
// liveness guard keeps their callbacks from touching state.
func (m *Manager) Leave(ctx context.Context) {
	if m.closed.Swap(true) {
		return
	}

	m.mu.Lock()
	unsub := m.unsub
	if m.alive != nil {
		m.alive.Store(false)
	}
	id := m.sessID
	m.unsub = nil
	m.alive = nil
	m.sessID = ""
	m.last = nil
	m.ready = false
	m.mu.Unlock()

	m.timer.Stop()
	m.qmu.Lock()
	close(m.queue)
	m.qmu.Unlock()
	m.queueWG.Wait()

	if unsub != nil {
		unsub()
	}
	if id != "" {
		if err := m.svc.Player().SetConnected(ctx, id, false); err != nil {
			log.Debug().Err(err).Str("session_id", id).Msg("disconnect flag write failed")
		}
	}
}

func (m *Manager) sessionID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessID
}

// enqueue hands a write to the worker. qmu serializes the send against
// Leave's close of the queue; the closed check alone leaves a window where
// a command dispatched during teardown sends on a closed channel.
func (m *Manager) enqueue(op func(context.Context)) {
	m.qmu.Lock()
	defer m.qmu.Unlock()
	if m.closed.Load() {
		return
	}
	select {
	case m.queue <- op:
	default:
		log.Warn().Msg("contribution queue full, dropping write")
	}
}

// worker applies queued contributions one at a time, preserving this
// writer's submission order.
func (m *Manager) worker() {
	defer m.queueWG.Done()
	for op := range m.queue {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		op(ctx)
		cancel()
	}
}

func (m *Manager) handleUpdate(sess *minigame.Session) {
	m.mu.Lock()
	prev := m.last
	m.last = sess

	if sess == nil {
		m.ready = false
		m.mu.Unlock()
		m.timer.Stop()
		if m.cb.OnSession != nil {
			m.cb.OnSession(nil)
		}
		return
	}

	startTimer := 0
	if !m.ready && sess.Ready() {
		m.ready = true
		if sess.Game == minigame.GameDrawing {
			startTimer = sess.TimeRemaining
		}
	}
	resetTimer := 0
	if prev != nil && sess.Game == minigame.GameDrawing &&
		!sess.TimerResetAt.IsZero() && !sess.TimerResetAt.Equal(prev.TimerResetAt) {
		resetTimer = sess.TimeRemaining
	}
	m.mu.Unlock()

	if startTimer > 0 {
		m.timer.Start(startTimer)
	}
	if resetTimer > 0 {
		m.timer.Reset(resetTimer)
	}
	if m.cb.OnSession != nil {
		m.cb.OnSession(sess)
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
	log.Error().Err(err).Msg("player session operation failed")
	if m.cb.OnError != nil {
		m.cb.OnError(err)
	}
}
