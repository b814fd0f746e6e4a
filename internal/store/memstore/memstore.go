// Package memstore implements the session store in process memory. It backs
// tests and single-node development; the Mongo and Redis backends serve
// multi-instance deployments.
package memstore

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/Meldroq8/trivia-game-sub003/internal/store"
)

const subscriberBuffer = 256

// Memstore is an in-memory store.Store. Zero value is not usable; call New.
type Memstore struct {
	mu      sync.Mutex
	docs    map[string]store.Document
	touched map[string]time.Time
	subs    map[string]map[int]*subscriber
	nextSub int
	closed  bool

	clock clockwork.Clock
	ttl   time.Duration
	stop  chan struct{}
}

type subscriber struct {
	ch     chan store.Document
	done   chan struct{}
	closed atomic.Bool
	once   sync.Once
}

// Option configures a Memstore.
type Option func(*Memstore)

// WithClock substitutes the wall clock, for tests.
func WithClock(clock clockwork.Clock) Option {
	return func(m *Memstore) { m.clock = clock }
}

// WithTTL enables the idle-expiry janitor. Documents untouched for longer
// than ttl are removed and subscribers observe nil.
func WithTTL(ttl time.Duration) Option {
	return func(m *Memstore) { m.ttl = ttl }
}

// New creates an empty in-memory store.
func New(opts ...Option) *Memstore {
	m := &Memstore{
		docs:    make(map[string]store.Document),
		touched: make(map[string]time.Time),
		subs:    make(map[string]map[int]*subscriber),
		clock:   clockwork.NewRealClock(),
		stop:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.ttl > 0 {
		go m.janitor()
	}
	return m
}

func (m *Memstore) Create(ctx context.Context, id string, doc store.Document) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return &store.WriteError{Op: "create", ID: id, Err: errors.New("store closed")}
	}
	m.docs[id] = doc.Clone()
	m.touched[id] = m.clock.Now()
	snapshot, targets := m.docs[id].Clone(), m.targets(id)
	m.mu.Unlock()

	deliver(snapshot, targets)
	return nil
}

func (m *Memstore) CreateIfAbsent(ctx context.Context, id string, doc store.Document) (bool, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return false, &store.WriteError{Op: "create", ID: id, Err: errors.New("store closed")}
	}
	if _, exists := m.docs[id]; exists {
		m.mu.Unlock()
		return false, nil
	}
	m.docs[id] = doc.Clone()
	m.touched[id] = m.clock.Now()
	snapshot, targets := m.docs[id].Clone(), m.targets(id)
	m.mu.Unlock()

	deliver(snapshot, targets)
	return true, nil
}

func (m *Memstore) Update(ctx context.Context, id string, fields store.Document) error {
	m.mu.Lock()
	doc, exists := m.docs[id]
	if !exists {
		m.mu.Unlock()
		return &store.WriteError{Op: "update", ID: id, Err: store.ErrNotFound}
	}
	for k, v := range fields.Clone() {
		doc[k] = v
	}
	m.touched[id] = m.clock.Now()
	snapshot, targets := doc.Clone(), m.targets(id)
	m.mu.Unlock()

	deliver(snapshot, targets)
	return nil
}

func (m *Memstore) Increment(ctx context.Context, id string, field string, delta int64) (int64, error) {
	m.mu.Lock()
	doc, exists := m.docs[id]
	if !exists {
		m.mu.Unlock()
		return 0, &store.WriteError{Op: "increment", ID: id, Err: store.ErrNotFound}
	}
	var current int64
	switch v := doc[field].(type) {
	case nil:
	case float64:
		current = int64(v)
	case int64:
		current = v
	case int:
		current = int64(v)
	default:
		m.mu.Unlock()
		return 0, &store.WriteError{Op: "increment", ID: id, Err: errors.New("field is not numeric")}
	}
	next := current + delta
	doc[field] = float64(next)
	m.touched[id] = m.clock.Now()
	snapshot, targets := doc.Clone(), m.targets(id)
	m.mu.Unlock()

	deliver(snapshot, targets)
	return next, nil
}

func (m *Memstore) Append(ctx context.Context, id string, field string, value any) error {
	m.mu.Lock()
	doc, exists := m.docs[id]
	if !exists {
		m.mu.Unlock()
		return &store.WriteError{Op: "append", ID: id, Err: store.ErrNotFound}
	}
	arr, ok := doc[field].([]any)
	if !ok && doc[field] != nil {
		m.mu.Unlock()
		return &store.WriteError{Op: "append", ID: id, Err: errors.New("field is not an array")}
	}
	doc[field] = append(arr, store.CloneValue(value))
	m.touched[id] = m.clock.Now()
	snapshot, targets := doc.Clone(), m.targets(id)
	m.mu.Unlock()

	deliver(snapshot, targets)
	return nil
}

func (m *Memstore) Get(ctx context.Context, id string) (store.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, exists := m.docs[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	return doc.Clone(), nil
}

func (m *Memstore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	_, existed := m.docs[id]
	delete(m.docs, id)
	delete(m.touched, id)
	targets := m.targets(id)
	m.mu.Unlock()

	if existed {
		deliver(nil, targets)
	}
	return nil
}

func (m *Memstore) Subscribe(ctx context.Context, id string, fn store.OnChange) (store.Unsubscribe, error) {
	sub := &subscriber{
		ch:   make(chan store.Document, subscriberBuffer),
		done: make(chan struct{}),
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, &store.ReadError{Op: "subscribe", ID: id, Err: errors.New("store closed")}
	}
	m.nextSub++
	key := m.nextSub
	if m.subs[id] == nil {
		m.subs[id] = make(map[int]*subscriber)
	}
	m.subs[id][key] = sub

	// First delivery carries the state at subscription time, nil when the
	// document does not exist, so late subscribers are never blind. It is
	// enqueued before the lock is released so a racing writer cannot slot a
	// newer snapshot ahead of it. The channel is fresh, so this never blocks.
	var initial store.Document
	if doc, exists := m.docs[id]; exists {
		initial = doc.Clone()
	}
	sub.ch <- initial
	m.mu.Unlock()

	go sub.pump(fn)

	unsubscribe := func() {
		sub.shutdown()
		m.mu.Lock()
		if subs, ok := m.subs[id]; ok {
			delete(subs, key)
			if len(subs) == 0 {
				delete(m.subs, id)
			}
		}
		m.mu.Unlock()
	}
	return unsubscribe, nil
}

func (m *Memstore) Close(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	close(m.stop)
	var all []*subscriber
	for _, subs := range m.subs {
		for _, sub := range subs {
			all = append(all, sub)
		}
	}
	m.subs = make(map[string]map[int]*subscriber)
	m.mu.Unlock()

	for _, sub := range all {
		sub.shutdown()
	}
	return nil
}

// targets snapshots the subscriber set for an ID. Caller must hold mu.
func (m *Memstore) targets(id string) []*subscriber {
	subs := m.subs[id]
	if len(subs) == 0 {
		return nil
	}
	out := make([]*subscriber, 0, len(subs))
	for _, sub := range subs {
		out = append(out, sub)
	}
	return out
}

func deliver(doc store.Document, targets []*subscriber) {
	for _, sub := range targets {
		sub.send(doc)
	}
}

// shutdown stops delivery exactly once. Shared by the subscription's
// unsubscribe function and store Close so neither double-closes done.
func (s *subscriber) shutdown() {
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.done)
	})
}

func (s *subscriber) send(doc store.Document) {
	select {
	case s.ch <- doc:
	case <-s.done:
	}
}

// pump invokes the callback from a single goroutine so one subscriber always
// observes changes in order.
func (s *subscriber) pump(fn store.OnChange) {
	for {
		select {
		case <-s.done:
			return
		case doc := <-s.ch:
			if s.closed.Load() {
				return
			}
			fn(doc)
		}
	}
}

func (m *Memstore) janitor() {
	ticker := m.clock.NewTicker(m.ttl / 4)
	defer ticker.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-ticker.Chan():
			m.expireIdle()
		}
	}
}

func (m *Memstore) expireIdle() {
	cutoff := m.clock.Now().Add(-m.ttl)
	m.mu.Lock()
	var expired []string
	for id, at := range m.touched {
		if at.Before(cutoff) {
			expired = append(expired, id)
		}
	}
	type gone struct {
		id      string
		targets []*subscriber
	}
	var notify []gone
	for _, id := range expired {
		delete(m.docs, id)
		delete(m.touched, id)
		notify = append(notify, gone{id, m.targets(id)})
	}
	m.mu.Unlock()

	for _, g := range notify {
		log.Debug().Str("session_id", g.id).Msg("expired idle session document")
		deliver(nil, g.targets)
	}
}
