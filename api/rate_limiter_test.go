package api

import (
	"net/http"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func TestRateLimiter_PerClient(t *testing.T) {
	l := PerHour(2)
	assert.True(t, l.Allow("10.0.0.1"))
	assert.True(t, l.Allow("10.0.0.1"))
	assert.False(t, l.Allow("10.0.0.1"))
	assert.True(t, l.Allow("10.0.0.2"))
}

func TestRateLimiter_Refills(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	l := PerSecond(1)
	l.now = func() time.Time { return now }

	assert.True(t, l.Allow("a"))
	assert.False(t, l.Allow("a"))

	now = now.Add(time.Second)
	assert.True(t, l.Allow("a"))
}

func TestRateLimiter_PrunesIdleClients(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	l := NewRateLimiter(rate.Limit(1), 1, time.Minute)
	l.now = func() time.Time { return now }

	l.Allow("a")
	l.Allow("b")
	assert.Equal(t, 2, l.size())

	now = now.Add(2 * time.Minute)
	l.Allow("c")
	assert.Equal(t, 1, l.size())
}

func TestRateLimitMiddleware(t *testing.T) {
	env := SetupTestEnvironment(t, func(o *envOptions) {
		o.createLimit = PerHour(1)
		o.voteLimit = PerSecond(1)
	})

	pin := env.createSession(t, "First")
	w := env.do(http.MethodPost, "/api/sessions", gin.H{"name": "Second"})
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "Too many requests. Please try again later.", errorOf(t, w))

	alice := env.join(t, pin, "Alice")
	w = env.do(http.MethodPost, "/api/sessions/"+pin+"/votes", gin.H{"participantId": alice, "cardValue": "3"})
	require.Equal(t, http.StatusOK, w.Code)
	w = env.do(http.MethodPost, "/api/sessions/"+pin+"/votes", gin.H{"participantId": alice, "cardValue": "5"})
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}
