package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"planning-poker-backend/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestSweeper_EndsExpiredSessions(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	old := env.createSession(t, "Old")
	alice := env.join(t, old.PIN, "Alice")
	require.NoError(t, env.svc.SubmitVote(ctx, old.PIN, alice.ID, "5"))
	env.clock.Advance(61 * time.Minute)
	fresh := env.createSession(t, "Fresh")

	sweeper := NewExpirationSweeper(env.svc, time.Minute, time.Hour, zap.NewNop())
	assert.Equal(t, 1, sweeper.Sweep(ctx))

	_, err := env.svc.GetSession(ctx, old.PIN)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.Equal(t, 1, env.broadcaster.count(old.PIN, model.EventSessionEnded))

	_, err = env.svc.GetSession(ctx, fresh.PIN)
	assert.NoError(t, err)
	assert.Equal(t, 0, env.broadcaster.count(fresh.PIN, model.EventSessionEnded))
}

func TestSweeper_FailureSkipsOnlyThatSession(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	failing := env.createSession(t, "Failing")
	ok := env.createSession(t, "Ok")
	env.clock.Advance(2 * time.Hour)

	env.broadcaster.setHook(func(pin, event string) error {
		if pin == failing.PIN {
			return errors.New("transport down")
		}
		return nil
	})

	sweeper := NewExpirationSweeper(env.svc, time.Minute, time.Hour, zap.NewNop())
	assert.Equal(t, 1, sweeper.Sweep(ctx))

	_, err := env.svc.GetSession(ctx, ok.PIN)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	// 通知失败的会话保留到下一轮
	_, err = env.svc.GetSession(ctx, failing.PIN)
	assert.NoError(t, err)

	env.broadcaster.setHook(nil)
	assert.Equal(t, 1, sweeper.Sweep(ctx))
	_, err = env.svc.GetSession(ctx, failing.PIN)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestSweeper_RecoversFromPanic(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	first := env.createSession(t, "First")
	second := env.createSession(t, "Second")
	env.clock.Advance(2 * time.Hour)

	env.broadcaster.setHook(func(pin, event string) error {
		if pin == first.PIN {
			panic("boom")
		}
		return nil
	})

	sweeper := NewExpirationSweeper(env.svc, time.Minute, time.Hour, zap.NewNop())
	assert.NotPanics(t, func() { sweeper.Sweep(ctx) })

	_, err := env.svc.GetSession(ctx, second.PIN)
	assert.ErrorIs(t, err, ErrSessionNotFound)

	// 会话锁已释放
	env.broadcaster.setHook(nil)
	assert.NoError(t, env.svc.RevealVotes(ctx, first.PIN))
}

func TestSweeper_RunStopsOnCancel(t *testing.T) {
	env := newTestEnv(t)
	s := env.createSession(t, "Old")
	env.clock.Advance(2 * time.Hour)

	sweeper := NewExpirationSweeper(env.svc, 5*time.Millisecond, time.Hour, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sweeper.Run(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool {
		return env.broadcaster.count(s.PIN, model.EventSessionEnded) == 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop after cancel")
	}
}

// 清理和加入同时落在同一个PIN上：要么加入成功后收到 SessionEnded，要么加入得到 SessionNotFound
func TestSweeper_ConcurrentJoin(t *testing.T) {
	for i := 0; i < 50; i++ {
		env := newTestEnv(t)
		ctx := context.Background()
		s := env.createSession(t, "Old")
		env.clock.Advance(2 * time.Hour)
		sweeper := NewExpirationSweeper(env.svc, time.Minute, time.Hour, zap.NewNop())

		var (
			wg      sync.WaitGroup
			ended   int
			joinErr error
		)
		start := make(chan struct{})
		wg.Add(2)
		go func() {
			defer wg.Done()
			<-start
			ended = sweeper.Sweep(ctx)
		}()
		go func() {
			defer wg.Done()
			<-start
			_, joinErr = env.svc.JoinSession(ctx, s.PIN, "Late")
		}()
		close(start)
		wg.Wait()

		require.Equal(t, 1, ended)
		if joinErr == nil {
			assert.Equal(t, []string{model.EventParticipantJoined, model.EventSessionEnded}, env.broadcaster.types(s.PIN))
		} else {
			require.ErrorIs(t, joinErr, ErrSessionNotFound)
			assert.Equal(t, []string{model.EventSessionEnded}, env.broadcaster.types(s.PIN))
		}

		_, err := env.svc.GetSession(ctx, s.PIN)
		assert.ErrorIs(t, err, ErrSessionNotFound)
		pins, err := env.repo.ListExpired(ctx, env.clock.Now().Add(time.Hour))
		require.NoError(t, err)
		assert.Empty(t, pins)
	}
}
