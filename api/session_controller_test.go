package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"testing"

	"planning-poker-backend/model"
	"planning-poker-backend/service"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateSession(t *testing.T) {
	env := SetupTestEnvironment(t)

	w := env.do(http.MethodPost, "/api/sessions", gin.H{"name": "Sprint 42", "hostName": "Dana"})
	require.Equal(t, http.StatusCreated, w.Code)

	var session model.Session
	decode(t, w, &session)
	assert.NotZero(t, session.ID)
	assert.True(t, service.IsValidPIN(session.PIN))
	assert.Equal(t, "Sprint 42", session.Name)
	assert.Equal(t, model.SessionStatusActive, session.Status)
	assert.False(t, session.Revealed)
	require.NotNil(t, session.HostParticipantID)

	w = env.do(http.MethodGet, "/api/sessions/"+session.PIN, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var detail model.SessionResponse
	decode(t, w, &detail)
	require.Len(t, detail.Participants, 1)
	assert.Equal(t, "Dana", detail.Participants[0].Name)
	assert.Equal(t, *session.HostParticipantID, detail.Participants[0].ID)
}

func TestCreateSession_InvalidInput(t *testing.T) {
	env := SetupTestEnvironment(t)

	tests := []struct {
		name        string
		body        gin.H
		expectedErr string
	}{
		{
			name:        "Missing name",
			body:        gin.H{},
			expectedErr: "Error:Field validation for 'Name' failed on the 'required' tag",
		},
		{
			name:        "Name too long",
			body:        gin.H{"name": strings.Repeat("x", 201)},
			expectedErr: "Error:Field validation for 'Name' failed on the 'max' tag",
		},
		{
			name:        "Host name too long",
			body:        gin.H{"name": "ok", "hostName": strings.Repeat("x", 101)},
			expectedErr: "Error:Field validation for 'HostName' failed on the 'max' tag",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			w := env.do(http.MethodPost, "/api/sessions", tc.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Contains(t, errorOf(t, w), tc.expectedErr)
		})
	}
}

func TestGetSession_EmptyParticipants(t *testing.T) {
	env := SetupTestEnvironment(t)
	pin := env.createSession(t, "Empty")

	w := env.do(http.MethodGet, "/api/sessions/"+pin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"participants":[]`)
}

func TestVotingRound(t *testing.T) {
	env := SetupTestEnvironment(t)
	pin := env.createSession(t, "Sprint")
	alice := env.join(t, pin, "Alice")
	bob := env.join(t, pin, "Bob")
	carol := env.join(t, pin, "Carol")

	for _, v := range []struct {
		id   uint
		card string
	}{{alice, "3"}, {bob, "8"}, {carol, "?"}, {alice, "5"}} {
		w := env.do(http.MethodPost, "/api/sessions/"+pin+"/votes", gin.H{"participantId": v.id, "cardValue": v.card})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		var msg model.MessageResponse
		decode(t, w, &msg)
		assert.Equal(t, "Vote submitted successfully", msg.Message)
	}

	w := env.do(http.MethodPost, "/api/sessions/"+pin+"/reveal", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = env.do(http.MethodGet, "/api/sessions/"+pin, nil)
	var detail model.SessionResponse
	decode(t, w, &detail)
	assert.True(t, detail.Revealed)

	w = env.do(http.MethodGet, "/api/sessions/"+pin+"/results", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var results model.Results
	decode(t, w, &results)
	require.Len(t, results.Votes, 3)
	assert.Equal(t, "Alice", results.Votes[0].ParticipantName)
	assert.Equal(t, "5", results.Votes[0].CardValue)
	require.NotNil(t, results.Statistics)
	assert.InDelta(t, 6.5, results.Statistics.Average, 1e-9)
	assert.Equal(t, 5, results.Statistics.Min)
	assert.Equal(t, 8, results.Statistics.Max)

	w = env.do(http.MethodPost, "/api/sessions/"+pin+"/reset", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var msg model.MessageResponse
	decode(t, w, &msg)
	assert.Equal(t, "Session reset for new round", msg.Message)

	w = env.do(http.MethodGet, "/api/sessions/"+pin+"/results", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"votes":[],"statistics":null}`, w.Body.String())
}

func TestLeaveCloseAndEnd(t *testing.T) {
	env := SetupTestEnvironment(t)
	pin := env.createSession(t, "Sprint")
	alice := env.join(t, pin, "Alice")

	w := env.do(http.MethodDelete, fmt.Sprintf("/api/sessions/%s/participants/%d", pin, alice), nil)
	require.Equal(t, http.StatusOK, w.Code)
	w = env.do(http.MethodDelete, fmt.Sprintf("/api/sessions/%s/participants/%d", pin, alice), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "Participant not found", errorOf(t, w))

	w = env.do(http.MethodPost, "/api/sessions/"+pin+"/close", nil)
	require.Equal(t, http.StatusOK, w.Code)
	w = env.do(http.MethodPost, "/api/sessions/"+pin+"/participants", gin.H{"name": "Late"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Session is not active", errorOf(t, w))

	w = env.do(http.MethodDelete, "/api/sessions/"+pin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var msg model.MessageResponse
	decode(t, w, &msg)
	assert.Equal(t, "Session ended and deleted successfully", msg.Message)

	w = env.do(http.MethodGet, "/api/sessions/"+pin, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "Session not found", errorOf(t, w))
}

func TestErrorMapping(t *testing.T) {
	env := SetupTestEnvironment(t)
	pin := env.createSession(t, "Sprint")

	tests := []struct {
		name     string
		method   string
		path     string
		body     interface{}
		code     int
		expected string
	}{
		{"Malformed PIN", http.MethodGet, "/api/sessions/12ab56", nil, http.StatusBadRequest, "Invalid PIN format"},
		{"Short PIN", http.MethodPost, "/api/sessions/12345/reveal", nil, http.StatusBadRequest, "Invalid PIN format"},
		{"Leading zero PIN", http.MethodGet, "/api/sessions/099999", nil, http.StatusNotFound, "Session not found"},
		{"Missing session", http.MethodPost, "/api/sessions/" + otherPIN(pin) + "/reset", nil, http.StatusNotFound, "Session not found"},
		{"Unknown participant", http.MethodPost, "/api/sessions/" + pin + "/votes", gin.H{"participantId": 999, "cardValue": "5"}, http.StatusNotFound, "Participant not found"},
		{"Bad participant id", http.MethodDelete, "/api/sessions/" + pin + "/participants/abc", nil, http.StatusBadRequest, "Invalid participant ID"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			w := env.do(tc.method, tc.path, tc.body)
			assert.Equal(t, tc.code, w.Code)
			assert.Equal(t, tc.expected, errorOf(t, w))
		})
	}
}

func TestSubmitVote_InvalidInput(t *testing.T) {
	env := SetupTestEnvironment(t)
	pin := env.createSession(t, "Sprint")
	alice := env.join(t, pin, "Alice")

	w := env.do(http.MethodPost, "/api/sessions/"+pin+"/votes", gin.H{"participantId": alice, "cardValue": strings.Repeat("9", 11)})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, errorOf(t, w), "'CardValue' failed on the 'max' tag")

	w = env.do(http.MethodPost, "/api/sessions/"+pin+"/votes", gin.H{"participantId": alice})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHTTPError(t *testing.T) {
	code, msg := httpError(service.ErrAllocationExhausted)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.NotEmpty(t, msg)

	code, _ = httpError(fmt.Errorf("lock: %w", context.DeadlineExceeded))
	assert.Equal(t, http.StatusInternalServerError, code)

	code, msg = httpError(fmt.Errorf("wrapped: %w", service.ErrSessionNotFound))
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "Session not found", msg)
}

// otherPIN 一个格式合法但不存在的PIN
func otherPIN(pin string) string {
	if pin == "123456" {
		return "654321"
	}
	return "123456"
}
