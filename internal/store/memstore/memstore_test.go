package memstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/Meldroq8/trivia-game-sub003/internal/store"
)

func waitDoc(t *testing.T, ch <-chan store.Document) store.Document {
	t.Helper()
	select {
	case doc := <-ch:
		return doc
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a delivery")
		return nil
	}
}

func subscribe(t *testing.T, m *Memstore, id string) (<-chan store.Document, store.Unsubscribe) {
	t.Helper()
	ch := make(chan store.Document, 64)
	unsub, err := m.Subscribe(context.Background(), id, func(doc store.Document) {
		ch <- doc
	})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	return ch, unsub
}

func TestCreateAndGet(t *testing.T) {
	m := New()
	defer m.Close(context.Background())
	ctx := context.Background()

	if _, err := m.Get(ctx, "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("Get missing: got %v, want ErrNotFound", err)
	}

	doc := store.Document{"status": "created", "timeRemaining": float64(60)}
	if err := m.Create(ctx, "s1", doc); err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := m.Get(ctx, "s1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got["status"] != "created" || got["timeRemaining"] != float64(60) {
		t.Errorf("Get returned %v", got)
	}

	// The stored copy must be isolated from later caller mutation.
	doc["status"] = "mutated"
	got2, _ := m.Get(ctx, "s1")
	if got2["status"] != "created" {
		t.Error("store shares memory with the caller's document")
	}
}

func TestCreateIfAbsent(t *testing.T) {
	m := New()
	defer m.Close(context.Background())
	ctx := context.Background()

	created, err := m.CreateIfAbsent(ctx, "s1", store.Document{"status": "created"})
	if err != nil || !created {
		t.Fatalf("first CreateIfAbsent: created=%v err=%v", created, err)
	}

	if err := m.Update(ctx, "s1", store.Document{"playerReady": true}); err != nil {
		t.Fatalf("Update: %v", err)
	}

	created, err = m.CreateIfAbsent(ctx, "s1", store.Document{"status": "created"})
	if err != nil || created {
		t.Fatalf("second CreateIfAbsent: created=%v err=%v", created, err)
	}

	// The existing document, player contribution included, must survive.
	got, _ := m.Get(ctx, "s1")
	if got["playerReady"] != true {
		t.Error("CreateIfAbsent overwrote an existing document")
	}
}

func TestUpdateMergesDisjointFields(t *testing.T) {
	m := New()
	defer m.Close(context.Background())
	ctx := context.Background()

	if err := m.Create(ctx, "s1", store.Document{"status": "created"}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := m.Update(ctx, "s1", store.Document{"drawerConnected": true}); err != nil {
		t.Fatalf("Update drawerConnected: %v", err)
	}
	if err := m.Update(ctx, "s1", store.Document{"status": "waiting"}); err != nil {
		t.Fatalf("Update status: %v", err)
	}

	got, _ := m.Get(ctx, "s1")
	if got["drawerConnected"] != true {
		t.Error("merge clobbered a disjoint field")
	}
	if got["status"] != "waiting" {
		t.Errorf("status = %v, want waiting", got["status"])
	}
}

func TestUpdateMissingDocument(t *testing.T) {
	m := New()
	defer m.Close(context.Background())

	err := m.Update(context.Background(), "missing", store.Document{"status": "waiting"})
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
	var we *store.WriteError
	if !errors.As(err, &we) {
		t.Fatalf("got %T, want *store.WriteError", err)
	}
}

func TestIncrement(t *testing.T) {
	m := New()
	defer m.Close(context.Background())
	ctx := context.Background()

	if err := m.Create(ctx, "s1", store.Document{"teamACounter": float64(0)}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	for want := int64(1); want <= 3; want++ {
		got, err := m.Increment(ctx, "s1", "teamACounter", 1)
		if err != nil {
			t.Fatalf("Increment: %v", err)
		}
		if got != want {
			t.Errorf("Increment returned %d, want %d", got, want)
		}
	}

	// Absent fields start from zero.
	got, err := m.Increment(ctx, "s1", "teamBCounter", 1)
	if err != nil || got != 1 {
		t.Errorf("Increment absent field: got %d, %v", got, err)
	}

	if _, err := m.Increment(ctx, "missing", "teamACounter", 1); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Increment missing doc: got %v, want ErrNotFound", err)
	}
}

func TestAppendPreservesOrder(t *testing.T) {
	m := New()
	defer m.Close(context.Background())
	ctx := context.Background()

	if err := m.Create(ctx, "s1", store.Document{}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	for i := 0; i < 5; i++ {
		stroke := map[string]any{"width": float64(i)}
		if err := m.Append(ctx, "s1", "strokes", stroke); err != nil {
			t.Fatalf("Append %d: %v", i, err)
		}
	}

	got, _ := m.Get(ctx, "s1")
	arr, ok := got["strokes"].([]any)
	if !ok {
		t.Fatalf("strokes is %T, want []any", got["strokes"])
	}
	if len(arr) != 5 {
		t.Fatalf("len(strokes) = %d, want 5", len(arr))
	}
	for i, v := range arr {
		entry := v.(map[string]any)
		if entry["width"] != float64(i) {
			t.Errorf("strokes[%d].width = %v, want %d", i, entry["width"], i)
		}
	}
}

func TestSubscribeInitialDelivery(t *testing.T) {
	m := New()
	defer m.Close(context.Background())
	ctx := context.Background()

	// Missing document: first delivery is nil.
	ch, unsub := subscribe(t, m, "missing")
	if doc := waitDoc(t, ch); doc != nil {
		t.Errorf("initial delivery for missing doc = %v, want nil", doc)
	}
	unsub()

	if err := m.Create(ctx, "s1", store.Document{"status": "created"}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	ch, unsub = subscribe(t, m, "s1")
	defer unsub()
	doc := waitDoc(t, ch)
	if doc == nil || doc["status"] != "created" {
		t.Errorf("initial delivery = %v, want existing state", doc)
	}
}

func TestSubscribeObservesUpdatesInOrder(t *testing.T) {
	m := New()
	defer m.Close(context.Background())
	ctx := context.Background()

	if err := m.Create(ctx, "s1", store.Document{"n": float64(0)}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	ch, unsub := subscribe(t, m, "s1")
	defer unsub()
	waitDoc(t, ch) // initial state

	for i := 1; i <= 10; i++ {
		if err := m.Update(ctx, "s1", store.Document{"n": float64(i)}); err != nil {
			t.Fatalf("Update %d: %v", i, err)
		}
	}
	for i := 1; i <= 10; i++ {
		doc := waitDoc(t, ch)
		if doc["n"] != float64(i) {
			t.Fatalf("delivery %d carried n=%v", i, doc["n"])
		}
	}
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	m := New()
	defer m.Close(context.Background())
	ctx := context.Background()

	if err := m.Create(ctx, "s1", store.Document{"n": float64(0)}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	ch, unsub := subscribe(t, m, "s1")
	waitDoc(t, ch)

	unsub()
	unsub()

	if err := m.Update(ctx, "s1", store.Document{"n": float64(1)}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	select {
	case doc := <-ch:
		t.Errorf("received %v after unsubscribe", doc)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestUnsubscribeAfterClose(t *testing.T) {
	m := New()
	ctx := context.Background()

	if err := m.Create(ctx, "s1", store.Document{"n": float64(0)}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	ch, unsub := subscribe(t, m, "s1")
	waitDoc(t, ch)

	// Shutdown ordering in the server tears the store down before the
	// connection managers run their unsubscribes. Both paths close the same
	// subscription; neither may panic.
	if err := m.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	unsub()
	unsub()
}

func TestSubscribeInitialNotOvertakenByWriters(t *testing.T) {
	m := New()
	defer m.Close(context.Background())
	ctx := context.Background()

	// A writer racing with Subscribe must never make the subscriber observe
	// a newer counter before the subscription-time snapshot.
	for i := 0; i < 200; i++ {
		id := "s1"
		if err := m.Create(ctx, id, store.Document{"n": float64(0)}); err != nil {
			t.Fatalf("Create: %v", err)
		}
		done := make(chan struct{})
		go func() {
			defer close(done)
			for n := 1; n <= 5; n++ {
				m.Update(ctx, id, store.Document{"n": float64(n)})
			}
		}()

		ch, unsub := subscribe(t, m, id)
		<-done
		if err := m.Update(ctx, id, store.Document{"n": float64(6)}); err != nil {
			t.Fatalf("Update: %v", err)
		}
		last := float64(-1)
		for {
			doc := waitDoc(t, ch)
			n := doc["n"].(float64)
			if n < last {
				t.Fatalf("iteration %d: counter regressed %v -> %v", i, last, n)
			}
			last = n
			if n == 6 {
				break
			}
		}
		unsub()
		m.Delete(ctx, id)
	}
}

func TestDeleteNotifiesNil(t *testing.T) {
	m := New()
	defer m.Close(context.Background())
	ctx := context.Background()

	if err := m.Create(ctx, "s1", store.Document{"status": "created"}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	ch, unsub := subscribe(t, m, "s1")
	defer unsub()
	waitDoc(t, ch)

	if err := m.Delete(ctx, "s1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if doc := waitDoc(t, ch); doc != nil {
		t.Errorf("delete delivery = %v, want nil", doc)
	}
	if _, err := m.Get(ctx, "s1"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Get after delete: got %v, want ErrNotFound", err)
	}
}

func TestIdleExpiry(t *testing.T) {
	clock := clockwork.NewFakeClock()
	m := New(WithClock(clock), WithTTL(time.Hour))
	defer m.Close(context.Background())
	ctx := context.Background()

	if err := m.Create(ctx, "stale", store.Document{"status": "created"}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	ch, unsub := subscribe(t, m, "stale")
	defer unsub()
	waitDoc(t, ch)

	// Wait for the janitor's ticker, then push past the TTL.
	clock.BlockUntil(1)
	clock.Advance(2 * time.Hour)

	if doc := waitDoc(t, ch); doc != nil {
		t.Errorf("expiry delivery = %v, want nil", doc)
	}
	if _, err := m.Get(ctx, "stale"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Get after expiry: got %v, want ErrNotFound", err)
	}
}
