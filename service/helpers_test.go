package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"planning-poker-backend/model"
	"planning-poker-backend/repository"

	"go.uber.org/zap"
)

type recordedEvent struct {
	PIN     string
	Type    string
	Payload interface{}
}

// recordingBroadcaster 记录所有事件，可注入失败或回调
type recordingBroadcaster struct {
	mu     sync.Mutex
	events []recordedEvent
	hook   func(pin, event string) error
}

func (b *recordingBroadcaster) Broadcast(_ context.Context, pin, event string, payload interface{}) error {
	b.mu.Lock()
	hook := b.hook
	b.mu.Unlock()

	if hook != nil {
		if err := hook(pin, event); err != nil {
			return err
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, recordedEvent{PIN: pin, Type: event, Payload: payload})
	return nil
}

func (b *recordingBroadcaster) setHook(hook func(pin, event string) error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.hook = hook
}

func (b *recordingBroadcaster) types(pin string) []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []string
	for _, e := range b.events {
		if e.PIN == pin {
			out = append(out, e.Type)
		}
	}
	return out
}

func (b *recordingBroadcaster) count(pin, event string) int {
	n := 0
	for _, t := range b.types(pin) {
		if t == event {
			n++
		}
	}
	return n
}

func (b *recordingBroadcaster) last() recordedEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.events) == 0 {
		return recordedEvent{}
	}
	return b.events[len(b.events)-1]
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Millisecond)
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type testEnv struct {
	svc         *SessionService
	repo        *repository.MemorySessionRepository
	broadcaster *recordingBroadcaster
	clock       *fakeClock
}

func newTestEnv(t *testing.T, opts ...Option) *testEnv {
	t.Helper()
	env := &testEnv{
		repo:        repository.NewMemorySessionRepository(),
		broadcaster: &recordingBroadcaster{},
		clock:       newFakeClock(),
	}
	opts = append([]Option{WithClock(env.clock.Now)}, opts...)
	env.svc = NewSessionService(env.repo, env.broadcaster, zap.NewNop(), opts...)
	return env
}

func (e *testEnv) createSession(t *testing.T, name string) *model.Session {
	t.Helper()
	s, err := e.svc.CreateSession(context.Background(), name, "")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	return s
}

func (e *testEnv) join(t *testing.T, pin, name string) *model.Participant {
	t.Helper()
	p, err := e.svc.JoinSession(context.Background(), pin, name)
	if err != nil {
		t.Fatalf("join session: %v", err)
	}
	return p
}
