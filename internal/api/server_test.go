package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aideepspeak/internal/api/auth"
	"github.com/aideepspeak/internal/conversation"
	"github.com/aideepspeak/internal/setupgen"
	"github.com/aideepspeak/pkg/models"
)

type fakeRunner struct {
	gotSetup models.Setup
	doc      models.Transcript
	err      error
}

func (f *fakeRunner) RunMeeting(_ context.Context, setup models.Setup) (models.Transcript, error) {
	f.gotSetup = setup
	return f.doc, f.err
}

// stageCaller answers the three setup generation prompts with minimal
// canned JSON.
type stageCaller struct{}

func (stageCaller) Call(_ context.Context, prompt string) (string, models.Usage, error) {
	switch {
	case strings.Contains(prompt, "4-6 characters"):
		return `{"characters":[
			{"name":"Aria","position":"Strategist","role":"Leads the council strategy","hierarchy_level":1},
			{"name":"Brom","position":"Quartermaster","role":"Keeps the stores","hierarchy_level":2},
			{"name":"Cara","position":"Harbormaster","role":"Runs the port","hierarchy_level":2},
			{"name":"Dain","position":"Captain","role":"Commands the fleet","hierarchy_level":3}
		]}`, models.Usage{TotalTokens: 10}, nil
	case strings.Contains(prompt, "world context"):
		return `{"world_or_simulation_context":{"era":"Age of Sail","year":1177}}`, models.Usage{TotalTokens: 10}, nil
	default:
		return `{"meeting_setup":{"purpose_and_context":{"purpose":"Agree on a defense plan"}}}`, models.Usage{TotalTokens: 10}, nil
	}
}

func (stageCaller) GetModel() string { return "fake-model" }

func sampleTranscript(id string) models.Transcript {
	return models.Transcript{
		ConversationID: id,
		Name:           "Harbor Defense Council",
		Messages: []models.Message{
			{Speaker: "Aria", TurnIndex: 0, Text: "We hold the harbor.", Timestamp: "2026-03-01 09:00:00"},
		},
		Summary: models.Summary{TotalTurns: 1, TerminationReason: "turn limit reached"},
	}
}

func postJSON(t *testing.T, handler http.Handler, path string, body interface{}, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpoint(t *testing.T) {
	server := NewServer(Options{Runner: &fakeRunner{}})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "healthy")
}

func TestCreateMeetingRunsSynchronously(t *testing.T) {
	setup := models.Setup{
		ConversationID: "33333333-4444-5555-6666-777777777777",
		Characters: []models.Character{
			{Name: "Aria", Position: "Strategist", AssignedModel: "openai-gpt"},
		},
		MeetingParameters: models.MeetingParameters{TurnLimit: 1},
	}
	runner := &fakeRunner{doc: sampleTranscript(setup.ConversationID)}
	server := NewServer(Options{Runner: runner})

	rec := postJSON(t, server.Handler(), "/api/v1/meetings", setup, nil)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, setup.ConversationID, runner.gotSetup.ConversationID)

	var doc models.Transcript
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
	assert.Equal(t, setup.ConversationID, doc.ConversationID)
	assert.Len(t, doc.Messages, 1)
}

func TestCreateMeetingRejectsInvalidSetup(t *testing.T) {
	runner := &fakeRunner{err: &conversation.ConfigError{Reason: "at least one character is required"}}
	server := NewServer(Options{Runner: runner})

	rec := postJSON(t, server.Handler(), "/api/v1/meetings", models.Setup{}, nil)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "at least one character")
}

func TestCreateMeetingAsyncWithoutQueue(t *testing.T) {
	server := NewServer(Options{Runner: &fakeRunner{}})

	rec := postJSON(t, server.Handler(), "/api/v1/meetings?async=1", models.Setup{}, nil)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "job queue not configured")
}

func TestMeetingEndpointsWithoutArchive(t *testing.T) {
	server := NewServer(Options{Runner: &fakeRunner{}})

	paths := []string{
		"/api/v1/meetings",
		"/api/v1/meetings/some-id",
		"/api/v1/meetings/stats",
	}
	for _, path := range paths {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		server.Handler().ServeHTTP(rec, req)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code, path)
		assert.Contains(t, rec.Body.String(), "archive not configured", path)
	}
}

func TestGenerateSetupEndpoint(t *testing.T) {
	generator := setupgen.New(stageCaller{}, nil, setupgen.Options{OutDir: t.TempDir()})
	server := NewServer(Options{Runner: &fakeRunner{}, Generator: generator})

	rec := postJSON(t, server.Handler(), "/api/v1/setups/generate",
		map[string]string{"topic": "Defending the harbor"}, nil)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var setup models.Setup
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &setup))
	assert.Equal(t, "Defending the harbor", setup.Topic)
	assert.Len(t, setup.Characters, 4)
	assert.Equal(t, "1177", setup.WorldContext.Year)
	assert.NotEmpty(t, setup.ConversationID)
}

func TestGenerateSetupRequiresTopic(t *testing.T) {
	generator := setupgen.New(stageCaller{}, nil, setupgen.Options{OutDir: t.TempDir()})
	server := NewServer(Options{Runner: &fakeRunner{}, Generator: generator})

	rec := postJSON(t, server.Handler(), "/api/v1/setups/generate",
		map[string]string{"topic": "   "}, nil)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "topic is required")
}

func TestGenerateSetupWithoutGenerator(t *testing.T) {
	server := NewServer(Options{Runner: &fakeRunner{}})

	rec := postJSON(t, server.Handler(), "/api/v1/setups/generate",
		map[string]string{"topic": "Defending the harbor"}, nil)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestAuthProtectsTheAPI(t *testing.T) {
	hash, err := auth.HashAPIKey("harbor-key")
	require.NoError(t, err)
	tokens := auth.NewTokenService("signing-secret", hash)

	runner := &fakeRunner{doc: sampleTranscript("44444444-5555-6666-7777-888888888888")}
	server := NewServer(Options{Runner: runner, Tokens: tokens})

	// Health stays open
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	// API calls without a token are rejected
	rec = postJSON(t, server.Handler(), "/api/v1/meetings", models.Setup{}, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// The wrong key earns no token
	rec = postJSON(t, server.Handler(), "/api/v1/auth/token",
		map[string]string{"api_key": "wrong"}, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// The right key does
	rec = postJSON(t, server.Handler(), "/api/v1/auth/token",
		map[string]string{"api_key": "harbor-key"}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var token auth.TokenResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &token))
	require.NotEmpty(t, token.AccessToken)

	// And the token opens the API
	rec = postJSON(t, server.Handler(), "/api/v1/meetings", models.Setup{},
		map[string]string{"Authorization": "Bearer " + token.AccessToken})
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}
