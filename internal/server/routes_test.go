// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Aegis Contributors

package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aegis-dev/aegis/internal/agent"
	"github.com/aegis-dev/aegis/internal/guard"
	"github.com/aegis-dev/aegis/internal/provider"
	"github.com/aegis-dev/aegis/internal/server"
	"github.com/aegis-dev/aegis/internal/store"
	"github.com/aegis-dev/aegis/internal/tools"
)

// queueBackend replays canned chat responses in order.
type queueBackend struct {
	responses []*provider.ChatResponse
}

func (b *queueBackend) Name() string { return "queue" }
func (b *queueBackend) Close() error { return nil }

func (b *queueBackend) Chat(_ context.Context, _ provider.ChatRequest) (*provider.ChatResponse, error) {
	if len(b.responses) == 0 {
		return &provider.ChatResponse{Text: "done"}, nil
	}
	resp := b.responses[0]
	b.responses = b.responses[1:]
	return resp, nil
}

type testEnv struct {
	server  *httptest.Server
	sandbox string
}

func newTestEnv(t *testing.T, backend provider.Backend) *testEnv {
	t.Helper()

	sandbox := t.TempDir()
	registry := tools.NewRegistry()
	fsTools, err := tools.NewFilesystemTools(sandbox)
	require.NoError(t, err)
	require.NoError(t, registry.RegisterAll(fsTools...))
	require.NoError(t, registry.Register(tools.NewCalculator()))

	limiter, err := guard.NewRateLimiter(guard.RateLimiterConfig{MaxCalls: 100, Window: time.Minute})
	require.NoError(t, err)

	orch, err := agent.New(agent.Config{
		Backend:     backend,
		Model:       "test-model",
		Registry:    registry,
		RateLimiter: limiter,
		Audit:       guard.NewAuditLogger(&bytes.Buffer{}),
		Gate: guard.NewGate(guard.GateConfig{
			DestructiveTools: []string{"write_file", "append_to_file", "create_directory"},
			SandboxRoot:      sandbox,
		}),
	})
	require.NoError(t, err)

	srv, err := server.New(server.Config{ListenAddr: "127.0.0.1:0"}, &server.Services{
		Orchestrator: orch,
		Store:        store.NewMemStore(),
	})
	require.NoError(t, err)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return &testEnv{server: ts, sandbox: sandbox}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) (*http.Response, map[string]any) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, e.server.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var decoded map[string]any
	dec := json.NewDecoder(resp.Body)
	_ = dec.Decode(&decoded)
	return resp, decoded
}

func (e *testEnv) createSession(t *testing.T) string {
	t.Helper()
	resp, body := e.do(t, http.MethodPost, "/api/v1/sessions", map[string]any{"title": "test"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	id, _ := body["id"].(string)
	require.NotEmpty(t, id)
	return id
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, &queueBackend{})
	resp, body := env.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
}

func TestSessionLifecycle(t *testing.T) {
	env := newTestEnv(t, &queueBackend{})
	id := env.createSession(t)

	resp, body := env.do(t, http.MethodGet, "/api/v1/sessions", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	sessions, _ := body["sessions"].([]any)
	require.Len(t, sessions, 1)

	resp, body = env.do(t, http.MethodGet, "/api/v1/sessions/"+id, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "test", body["title"])
	assert.Equal(t, false, body["awaiting_confirmation"])

	resp, _ = env.do(t, http.MethodDelete, "/api/v1/sessions/"+id, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, _ = env.do(t, http.MethodGet, "/api/v1/sessions/"+id, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestChatTurnPersistsHistory(t *testing.T) {
	env := newTestEnv(t, &queueBackend{responses: []*provider.ChatResponse{
		{Text: "Hello there!"},
	}})
	id := env.createSession(t)

	resp, body := env.do(t, http.MethodPost, "/api/v1/sessions/"+id+"/chat",
		map[string]any{"message": "hi"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	messages, _ := body["messages"].([]any)
	require.Len(t, messages, 1)
	first := messages[0].(map[string]any)
	assert.Equal(t, "assistant", first["role"])
	assert.Equal(t, "Hello there!", first["content"])
	assert.Equal(t, float64(1), body["iteration_count"])

	// The turn must survive a reload through the checkpoint store.
	resp, body = env.do(t, http.MethodGet, "/api/v1/sessions/"+id, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	history, _ := body["messages"].([]any)
	require.Len(t, history, 3) // system, user, assistant
}

func TestChatConfirmationFlow(t *testing.T) {
	env := newTestEnv(t, &queueBackend{responses: []*provider.ChatResponse{
		{Text: "Writing it now.", ToolCalls: []provider.ToolCall{{
			ID: "w1", Name: "write_file",
			Arguments: map[string]any{"path": "out.txt", "content": "hello"},
		}}},
		{Text: "All done."},
	}})
	id := env.createSession(t)

	resp, body := env.do(t, http.MethodPost, "/api/v1/sessions/"+id+"/chat",
		map[string]any{"message": "write hello to out.txt"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["awaiting_confirmation"])
	assert.NoFileExists(t, filepath.Join(env.sandbox, "out.txt"))

	messages, _ := body["messages"].([]any)
	last := messages[len(messages)-1].(map[string]any)
	assert.Equal(t, "disclosure", last["kind"])
	assert.Contains(t, last["content"], "write_file")

	resp, body = env.do(t, http.MethodPost, "/api/v1/sessions/"+id+"/chat",
		map[string]any{"message": "yes"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, false, body["awaiting_confirmation"])

	data, err := os.ReadFile(filepath.Join(env.sandbox, "out.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
}

func TestChatUnknownSession(t *testing.T) {
	env := newTestEnv(t, &queueBackend{})
	resp, _ := env.do(t, http.MethodPost, "/api/v1/sessions/nope/chat",
		map[string]any{"message": "hi"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestChatRejectsEmptyMessage(t *testing.T) {
	env := newTestEnv(t, &queueBackend{})
	id := env.createSession(t)

	// Schema validation catches the empty string.
	resp, _ := env.do(t, http.MethodPost, "/api/v1/sessions/"+id+"/chat",
		map[string]any{"message": ""})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	// Whitespace passes the schema but the orchestrator rejects it.
	resp, _ = env.do(t, http.MethodPost, "/api/v1/sessions/"+id+"/chat",
		map[string]any{"message": "   "})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServerRequiresListenAddr(t *testing.T) {
	_, err := server.New(server.Config{}, &server.Services{})
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "listen address"))
}

func TestOpenAPISpecServed(t *testing.T) {
	env := newTestEnv(t, &queueBackend{})
	resp, err := http.Get(env.server.URL + "/openapi.json")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
