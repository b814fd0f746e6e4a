package player

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Meldroq8/trivia-game-sub003/internal/minigame"
	"github.com/Meldroq8/trivia-game-sub003/internal/session"
	"github.com/Meldroq8/trivia-game-sub003/internal/store/memstore"
)

func newService(t *testing.T, game minigame.Game) *session.Service {
	t.Helper()
	st := memstore.New()
	t.Cleanup(func() { st.Close(context.Background()) })
	return session.New(st, game)
}

func fastJoin() Option {
	return WithConfig(Config{JoinAttempts: 5, JoinInterval: 10 * time.Millisecond})
}

func createDrawing(t *testing.T, svc *session.Service, id string) {
	t.Helper()
	err := svc.CreateSession(context.Background(), &minigame.Session{
		SessionID:     id,
		QuestionID:    "q1",
		TimeRemaining: 60,
	})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
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

func TestJoinMarksConnected(t *testing.T) {
	svc := newService(t, minigame.GameDrawing)
	ctx := context.Background()
	createDrawing(t, svc, "s1")

	mgr := NewManager(svc, Callbacks{}, fastJoin())
	defer mgr.Leave(ctx)

	if err := mgr.Join(ctx, "s1"); err != nil {
		t.Fatalf("Join: %v", err)
	}

	sess, err := svc.Get(ctx, "s1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !sess.DrawerConnected {
		t.Error("join did not set the connected flag")
	}
	eventually(t, func() bool { return mgr.Session() != nil }, "never observed the session")
}

func TestJoinWaitsOutCreationRace(t *testing.T) {
	svc := newService(t, minigame.GameDrawing)
	ctx := context.Background()

	mgr := NewManager(svc, Callbacks{}, fastJoin())
	defer mgr.Leave(ctx)

	// The scan raced ahead of the presenter's create; the document lands
	// while the join loop is polling.
	go func() {
		time.Sleep(25 * time.Millisecond)
		svc.CreateSession(context.Background(), &minigame.Session{
			SessionID:     "s1",
			QuestionID:    "q1",
			TimeRemaining: 60,
		})
	}()

	if err := mgr.Join(ctx, "s1"); err != nil {
		t.Fatalf("Join: %v", err)
	}
}

func TestJoinGivesUpWhenSessionNeverAppears(t *testing.T) {
	svc := newService(t, minigame.GameDrawing)
	mgr := NewManager(svc, Callbacks{}, WithConfig(Config{JoinAttempts: 2, JoinInterval: time.Millisecond}))
	defer mgr.Leave(context.Background())

	err := mgr.Join(context.Background(), "never")
	if !errors.Is(err, ErrSessionNotReady) {
		t.Fatalf("got %v, want ErrSessionNotReady", err)
	}
}

func TestReadyStartsSharedTimer(t *testing.T) {
	svc := newService(t, minigame.GameDrawing)
	ctx := context.Background()
	createDrawing(t, svc, "s1")

	mgr := NewManager(svc, Callbacks{}, fastJoin())
	defer mgr.Leave(ctx)
	if err := mgr.Join(ctx, "s1"); err != nil {
		t.Fatalf("Join: %v", err)
	}
	if err := mgr.Ready(ctx); err != nil {
		t.Fatalf("Ready: %v", err)
	}

	sess, _ := svc.Get(ctx, "s1")
	if !sess.DrawerReady {
		t.Error("ready flag not written")
	}
	if sess.Status != minigame.StatusDrawing {
		t.Errorf("status = %q, want drawing", sess.Status)
	}
	eventually(t, func() bool {
		r := mgr.TimerRemaining()
		return r > 0 && r <= 60
	}, "countdown never started from the shared value")
}

func TestStrokesDeliveredInOrder(t *testing.T) {
	svc := newService(t, minigame.GameDrawing)
	ctx := context.Background()
	createDrawing(t, svc, "s1")

	mgr := NewManager(svc, Callbacks{}, fastJoin())
	defer mgr.Leave(ctx)
	if err := mgr.Join(ctx, "s1"); err != nil {
		t.Fatalf("Join: %v", err)
	}

	const n = 20
	for i := 0; i < n; i++ {
		mgr.DrawStroke(minigame.Stroke{
			Points: []minigame.Point{{X: float64(i), Y: 0}},
			Color:  "#000",
			Width:  1,
		})
	}

	eventually(t, func() bool {
		sess, err := svc.Get(ctx, "s1")
		return err == nil && len(sess.Strokes) == n
	}, "strokes never all landed")

	sess, _ := svc.Get(ctx, "s1")
	for i, stroke := range sess.Strokes {
		if len(stroke.Points) != 1 || stroke.Points[0].X != float64(i) {
			t.Fatalf("stroke %d out of order: %+v", i, stroke)
		}
	}
}

func TestNextCelebrityAdvancesCounter(t *testing.T) {
	svc := newService(t, minigame.GameHeadband)
	ctx := context.Background()
	err := svc.CreateSession(ctx, &minigame.Session{
		SessionID:  "s1",
		QuestionID: "q1",
		Answer:     "a",
		Answer2:    "b",
	})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	mgr := NewManager(svc, Callbacks{}, fastJoin())
	defer mgr.Leave(ctx)
	if err := mgr.Join(ctx, "s1"); err != nil {
		t.Fatalf("Join: %v", err)
	}

	mgr.NextCelebrity(minigame.TeamA)
	mgr.NextCelebrity(minigame.TeamA)
	mgr.NextCelebrity(minigame.TeamB)

	eventually(t, func() bool {
		sess, err := svc.Get(ctx, "s1")
		return err == nil && sess.TeamACounter == 2 && sess.TeamBCounter == 1
	}, "counters never reached 2/1")
}

func TestNextQuestionBudget(t *testing.T) {
	svc := newService(t, minigame.GameGuessWord)
	ctx := context.Background()
	err := svc.CreateSession(ctx, &minigame.Session{
		SessionID:    "s1",
		QuestionID:   "q1",
		Answer:       "a",
		MaxQuestions: 2,
	})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	mgr := NewManager(svc, Callbacks{}, fastJoin())
	defer mgr.Leave(ctx)
	if err := mgr.Join(ctx, "s1"); err != nil {
		t.Fatalf("Join: %v", err)
	}

	if mgr.NextQuestion() {
		t.Fatal("budget reported exhausted on first advance")
	}
	eventually(t, func() bool {
		s := mgr.Session()
		return s != nil && s.QuestionCount == 1
	}, "first advance never observed")

	if mgr.NextQuestion() {
		t.Fatal("budget reported exhausted on second advance")
	}
	eventually(t, func() bool {
		s := mgr.Session()
		return s != nil && s.QuestionCount == 2
	}, "second advance never observed")

	if !mgr.NextQuestion() {
		t.Fatal("exhausted budget not reported")
	}
	sess, _ := svc.Get(ctx, "s1")
	if sess.QuestionCount != 2 {
		t.Errorf("questionCount = %d, want 2", sess.QuestionCount)
	}
}

func TestSubmitAnswerFinishesSession(t *testing.T) {
	svc := newService(t, minigame.GameGuessWord)
	ctx := context.Background()
	err := svc.CreateSession(ctx, &minigame.Session{
		SessionID:    "s1",
		QuestionID:   "q1",
		Answer:       "a",
		MaxQuestions: 5,
	})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	mgr := NewManager(svc, Callbacks{}, fastJoin())
	defer mgr.Leave(ctx)
	if err := mgr.Join(ctx, "s1"); err != nil {
		t.Fatalf("Join: %v", err)
	}
	if err := mgr.SubmitAnswer(ctx, "guess"); err != nil {
		t.Fatalf("SubmitAnswer: %v", err)
	}

	sess, _ := svc.Get(ctx, "s1")
	if sess.SubmittedAnswer != "guess" || sess.Status != minigame.StatusFinished {
		t.Errorf("session after submit: %+v", sess)
	}
}

func TestLeaveDetaches(t *testing.T) {
	svc := newService(t, minigame.GameDrawing)
	ctx := context.Background()
	createDrawing(t, svc, "s1")

	sessions := make(chan *minigame.Session, 64)
	mgr := NewManager(svc, Callbacks{
		OnSession: func(s *minigame.Session) { sessions <- s },
	}, fastJoin())
	if err := mgr.Join(ctx, "s1"); err != nil {
		t.Fatalf("Join: %v", err)
	}
	eventually(t, func() bool { return mgr.Session() != nil }, "never observed the session")

	mgr.Leave(ctx)
	mgr.Leave(ctx)

	sess, _ := svc.Get(ctx, "s1")
	if sess.DrawerConnected {
		t.Error("leave did not clear the connected flag")
	}

	for len(sessions) > 0 {
		<-sessions
	}
	if err := svc.Presenter().ResetTimer(ctx, "s1", 30); err != nil {
		t.Fatalf("ResetTimer: %v", err)
	}
	select {
	case s := <-sessions:
		t.Errorf("received %+v after leave", s)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestLeaveDuringStrokeDispatch(t *testing.T) {
	svc := newService(t, minigame.GameDrawing)
	ctx := context.Background()

	// The read side can still be dispatching strokes while the write side's
	// teardown runs Leave. The contribution queue must absorb or drop those
	// writes, never panic on a closed channel.
	for i := 0; i < 50; i++ {
		id := minigame.SessionID("q1", "user")
		createDrawing(t, svc, id)

		mgr := NewManager(svc, Callbacks{}, fastJoin())
		if err := mgr.Join(ctx, id); err != nil {
			t.Fatalf("Join: %v", err)
		}

		done := make(chan struct{})
		go func() {
			defer close(done)
			for n := 0; n < 100; n++ {
				mgr.DrawStroke(minigame.Stroke{Points: []minigame.Point{{X: float64(n)}}})
			}
		}()

		mgr.Leave(ctx)
		<-done
	}
}
