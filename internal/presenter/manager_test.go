package presenter

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/Meldroq8/trivia-game-sub003/internal/minigame"
	"github.com/Meldroq8/trivia-game-sub003/internal/question"
	"github.com/Meldroq8/trivia-game-sub003/internal/session"
	"github.com/Meldroq8/trivia-game-sub003/internal/store/memstore"
)

func newServices(t *testing.T) map[minigame.Game]*session.Service {
	t.Helper()
	st := memstore.New()
	t.Cleanup(func() { st.Close(context.Background()) })
	services := make(map[minigame.Game]*session.Service, len(minigame.Games))
	for _, game := range minigame.Games {
		services[game] = session.New(st, game)
	}
	return services
}

func drawingQuestion() *question.Question {
	return &question.Question{ID: "q1", Text: "ارسم", Game: minigame.GameDrawing}
}

func headbandQuestion() *question.Question {
	return &question.Question{ID: "q2", Answer: "a", Answer2: "b", Game: minigame.GameHeadband}
}

func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestShowQuestionProvisionsSession(t *testing.T) {
	services := newServices(t)
	states := make(chan State, 16)
	mgr := NewManager(services, "user", "http://host", Callbacks{
		OnState: func(s State) { states <- s },
	})
	defer mgr.Teardown()

	qr, err := mgr.ShowQuestion(context.Background(), drawingQuestion())
	if err != nil {
		t.Fatalf("ShowQuestion: %v", err)
	}
	if qr.SessionID != "q1_user" || qr.Game != minigame.GameDrawing {
		t.Errorf("QR payload = %+v", qr)
	}
	if !strings.Contains(qr.URL, "/play?mode=drawing&session=q1_user") {
		t.Errorf("QR URL = %q", qr.URL)
	}
	if got := mgr.State(); got != StateWaiting {
		t.Errorf("state = %q, want waiting", got)
	}

	sess, err := services[minigame.GameDrawing].Get(context.Background(), "q1_user")
	if err != nil {
		t.Fatalf("session document missing: %v", err)
	}
	if sess.TimeRemaining != 60 {
		t.Errorf("seeded timeRemaining = %d, want 60", sess.TimeRemaining)
	}

	eventually(t, func() bool { return mgr.Session() != nil }, "never observed the session")
}

func TestShowQuestionWithoutMiniGame(t *testing.T) {
	mgr := NewManager(newServices(t), "user", "http://host", Callbacks{})
	defer mgr.Teardown()

	qr, err := mgr.ShowQuestion(context.Background(), &question.Question{ID: "q9"})
	if err != nil {
		t.Fatalf("ShowQuestion: %v", err)
	}
	if qr.SessionID != "" {
		t.Errorf("QR payload for plain question = %+v", qr)
	}
	if got := mgr.State(); got != StateIdle {
		t.Errorf("state = %q, want idle", got)
	}
}

func TestShowQuestionReattachesAfterReload(t *testing.T) {
	services := newServices(t)
	svc := services[minigame.GameHeadband]
	ctx := context.Background()

	// A previous presenter instance created the session and the player has
	// been busy in it.
	mgr := NewManager(services, "user", "http://host", Callbacks{})
	if _, err := mgr.ShowQuestion(ctx, headbandQuestion()); err != nil {
		t.Fatalf("ShowQuestion: %v", err)
	}
	player := svc.Player()
	if err := player.SetReady(ctx, "q2_user"); err != nil {
		t.Fatalf("SetReady: %v", err)
	}
	if _, err := player.IncrementCounter(ctx, "q2_user", minigame.TeamA); err != nil {
		t.Fatalf("IncrementCounter: %v", err)
	}
	mgr.Teardown()

	// The reloaded presenter shows the same question.
	mgr2 := NewManager(services, "user", "http://host", Callbacks{})
	defer mgr2.Teardown()
	if _, err := mgr2.ShowQuestion(ctx, headbandQuestion()); err != nil {
		t.Fatalf("reload ShowQuestion: %v", err)
	}

	sess, err := svc.Get(ctx, "q2_user")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if sess.TeamACounter != 1 || !sess.PlayerReady {
		t.Errorf("player state lost across reattach: %+v", sess)
	}
}

func TestRestartDiscardsPlayerState(t *testing.T) {
	services := newServices(t)
	svc := services[minigame.GameHeadband]
	ctx := context.Background()

	mgr := NewManager(services, "user", "http://host", Callbacks{})
	defer mgr.Teardown()
	if _, err := mgr.ShowQuestion(ctx, headbandQuestion()); err != nil {
		t.Fatalf("ShowQuestion: %v", err)
	}
	if _, err := svc.Player().IncrementCounter(ctx, "q2_user", minigame.TeamA); err != nil {
		t.Fatalf("IncrementCounter: %v", err)
	}

	if _, err := mgr.Restart(ctx, headbandQuestion()); err != nil {
		t.Fatalf("Restart: %v", err)
	}
	sess, err := svc.Get(ctx, "q2_user")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if sess.TeamACounter != 0 {
		t.Errorf("restart kept counter %d", sess.TeamACounter)
	}
}

func TestTimerStartsOnReadiness(t *testing.T) {
	services := newServices(t)
	ctx := context.Background()

	states := make(chan State, 16)
	// Frozen clock: a started countdown holds its seed value, so the exact
	// starting point is observable.
	mgr := NewManager(services, "user", "http://host", Callbacks{
		OnState: func(s State) { states <- s },
	}, WithClock(clockwork.NewFakeClock()))
	defer mgr.Teardown()
	if _, err := mgr.ShowQuestion(ctx, drawingQuestion()); err != nil {
		t.Fatalf("ShowQuestion: %v", err)
	}

	// The countdown must not run before the drawer is ready.
	time.Sleep(50 * time.Millisecond)
	if got := mgr.TimerRemaining(); got != 0 {
		t.Fatalf("timer running before readiness: %d", got)
	}

	if err := services[minigame.GameDrawing].Player().SetReady(ctx, "q1_user"); err != nil {
		t.Fatalf("SetReady: %v", err)
	}

	eventually(t, func() bool { return mgr.TimerRemaining() > 0 }, "countdown never started from the shared value")
	if got := mgr.TimerRemaining(); got != 60 {
		t.Errorf("countdown started from %d, want 60", got)
	}
	eventually(t, func() bool { return mgr.State() == StateActive }, "never reached active state")
}

func TestTimerResetObserved(t *testing.T) {
	services := newServices(t)
	ctx := context.Background()

	mgr := NewManager(services, "user", "http://host", Callbacks{})
	defer mgr.Teardown()
	if _, err := mgr.ShowQuestion(ctx, drawingQuestion()); err != nil {
		t.Fatalf("ShowQuestion: %v", err)
	}
	player := services[minigame.GameDrawing].Player()
	if err := player.SetReady(ctx, "q1_user"); err != nil {
		t.Fatalf("SetReady: %v", err)
	}
	eventually(t, func() bool { return mgr.TimerRemaining() > 0 }, "countdown never started")

	// The player restarts the shared timer; the presenter side follows.
	if err := player.ResetTimer(ctx, "q1_user", 30); err != nil {
		t.Fatalf("ResetTimer: %v", err)
	}
	eventually(t, func() bool {
		r := mgr.TimerRemaining()
		return r > 0 && r <= 30
	}, "countdown never restarted from the reset value")
}

func TestHintsUnlockedFiresOnce(t *testing.T) {
	services := newServices(t)
	ctx := context.Background()

	hints := make(chan struct{}, 8)
	mgr := NewManager(services, "user", "http://host", Callbacks{
		OnHintsUnlocked: func() { hints <- struct{}{} },
	}, WithSettings(minigame.GameHeadband, GameSettings{HintThreshold: 2}))
	defer mgr.Teardown()

	if _, err := mgr.ShowQuestion(ctx, headbandQuestion()); err != nil {
		t.Fatalf("ShowQuestion: %v", err)
	}
	player := services[minigame.GameHeadband].Player()

	// One team past the threshold is not enough.
	for i := 0; i < 2; i++ {
		if _, err := player.IncrementCounter(ctx, "q2_user", minigame.TeamA); err != nil {
			t.Fatalf("IncrementCounter A: %v", err)
		}
	}
	select {
	case <-hints:
		t.Fatal("hints unlocked with only one team at threshold")
	case <-time.After(100 * time.Millisecond):
	}

	for i := 0; i < 3; i++ {
		if _, err := player.IncrementCounter(ctx, "q2_user", minigame.TeamB); err != nil {
			t.Fatalf("IncrementCounter B: %v", err)
		}
	}

	select {
	case <-hints:
	case <-time.After(2 * time.Second):
		t.Fatal("hints never unlocked")
	}
	// Further counter movement must not refire.
	if _, err := player.IncrementCounter(ctx, "q2_user", minigame.TeamA); err != nil {
		t.Fatalf("IncrementCounter: %v", err)
	}
	select {
	case <-hints:
		t.Fatal("hints unlocked twice")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestTeardownStopsDeliveries(t *testing.T) {
	services := newServices(t)
	ctx := context.Background()

	sessions := make(chan *minigame.Session, 64)
	mgr := NewManager(services, "user", "http://host", Callbacks{
		OnSession: func(s *minigame.Session) { sessions <- s },
	})
	if _, err := mgr.ShowQuestion(ctx, headbandQuestion()); err != nil {
		t.Fatalf("ShowQuestion: %v", err)
	}
	eventually(t, func() bool { return mgr.Session() != nil }, "never observed the session")

	mgr.Teardown()
	mgr.Teardown()
	if got := mgr.State(); got != StateIdle {
		t.Errorf("state after teardown = %q, want idle", got)
	}

	for len(sessions) > 0 {
		<-sessions
	}
	if _, err := services[minigame.GameHeadband].Player().IncrementCounter(ctx, "q2_user", minigame.TeamA); err != nil {
		t.Fatalf("IncrementCounter: %v", err)
	}
	select {
	case s := <-sessions:
		t.Errorf("received %+v after teardown", s)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestHintsUnlockedPredicate(t *testing.T) {
	mgr := NewManager(newServices(t), "user", "http://host", Callbacks{})
	defer mgr.Teardown()

	if mgr.HintsUnlocked(nil) {
		t.Error("nil session must not unlock hints")
	}
	sess := &minigame.Session{Game: minigame.GameHeadband, TeamACounter: 7, TeamBCounter: 6}
	if mgr.HintsUnlocked(sess) {
		t.Error("one team short of threshold must not unlock hints")
	}
	sess.TeamBCounter = 7
	if !mgr.HintsUnlocked(sess) {
		t.Error("both teams at threshold must unlock hints")
	}
	sess.Game = minigame.GameDrawing
	if mgr.HintsUnlocked(sess) {
		t.Error("hints apply to headband only")
	}
}
