package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"planning-poker-backend/config"
	"planning-poker-backend/database"
	"planning-poker-backend/repository"
	"planning-poker-backend/service"
	"planning-poker-backend/websocket"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type testEnv struct {
	router   *gin.Engine
	sessions *service.SessionService
	registry *service.ConnectionRegistry
	hub      *websocket.Hub
	repo     repository.SessionRepository
}

type envOptions struct {
	createLimit *RateLimiter
	voteLimit   *RateLimiter
	lifecycle   context.Context
}

// SetupTestEnvironment 基于内存SQLite组装路由
func SetupTestEnvironment(t *testing.T, opts ...func(*envOptions)) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	o := envOptions{lifecycle: context.Background()}
	for _, opt := range opts {
		opt(&o)
	}

	logger := zap.NewNop()
	db, err := database.OpenInMemory(logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close(db) })

	repo := repository.NewGormSessionRepository(db)
	hub := websocket.NewHub(0, logger)
	sessions := service.NewSessionService(repo, hub, logger)
	registry := service.NewConnectionRegistry(sessions, hub, logger)

	router := gin.New()
	router.Use(CorrelationID(), RequestLogger(logger))
	api := router.Group("/api")
	{
		NewHealthController(repo, hub, config.Config{Store: config.StoreConfig{Driver: config.StoreSQLite}}).RegisterRoutes(api)
		NewSessionController(sessions, o.createLimit, o.voteLimit, logger).RegisterRoutes(api)
		NewEventsController(o.lifecycle, hub, registry, logger).RegisterRoutes(api)
	}

	return &testEnv{router: router, sessions: sessions, registry: registry, hub: hub, repo: repo}
}

func (e *testEnv) do(method, path string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v), w.Body.String())
}

func errorOf(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var resp ErrorResponse
	decode(t, w, &resp)
	return resp.Error
}

func (e *testEnv) createSession(t *testing.T, name string) string {
	t.Helper()
	w := e.do(http.MethodPost, "/api/sessions", gin.H{"name": name})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var s struct {
		PIN string `json:"pin"`
	}
	decode(t, w, &s)
	return s.PIN
}

func (e *testEnv) join(t *testing.T, pin, name string) uint {
	t.Helper()
	w := e.do(http.MethodPost, "/api/sessions/"+pin+"/participants", gin.H{"name": name})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var p struct {
		ParticipantID uint `json:"participantId"`
	}
	decode(t, w, &p)
	return p.ParticipantID
}
