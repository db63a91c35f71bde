package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/draftpilot/draftpilot/internal/config"
	"github.com/draftpilot/draftpilot/internal/events"
	"github.com/draftpilot/draftpilot/internal/llm"
	"github.com/draftpilot/draftpilot/internal/session"
	"github.com/draftpilot/draftpilot/internal/store"
	"github.com/draftpilot/draftpilot/internal/stream"
)

const roboticsPayload = `{"options":[{"title":"Vision","matchScore":75},{"title":"Robotics","description":"d","reasoning":"r","references":"ref","matchScore":90}]}`

type MockStore struct {
	mock.Mock
}

func (m *MockStore) Get(ctx context.Context, key string) ([]byte, error) {
	args := m.Called(ctx, key)
	var result []byte
	if value := args.Get(0); value != nil {
		result = value.([]byte)
	}
	return result, args.Error(1)
}

func (m *MockStore) Put(ctx context.Context, key string, value []byte) error {
	args := m.Called(ctx, key, value)
	return args.Error(0)
}

func (m *MockStore) Delete(ctx context.Context, key string) error {
	args := m.Called(ctx, key)
	return args.Error(0)
}

func (m *MockStore) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

var _ store.Store = (*MockStore)(nil)

type MockBroker struct {
	mock.Mock
}

func (m *MockBroker) Publish(event events.SessionEvent) events.SessionEvent {
	m.Called(event)
	return event
}

func (m *MockBroker) Subscribe(ctx context.Context, sessionID string) <-chan events.SessionEvent {
	args := m.Called(ctx, sessionID)
	if value := args.Get(0); value != nil {
		if ch, ok := value.(chan events.SessionEvent); ok {
			return ch
		}
		if ch, ok := value.(<-chan events.SessionEvent); ok {
			return ch
		}
	}
	return nil
}

func (m *MockBroker) Forget(sessionID string) {
	m.Called(sessionID)
}

type MockWorkflowService struct {
	mock.Mock
}

func (m *MockWorkflowService) StartDraft(ctx context.Context, draftID string, inputs session.Inputs, pick int) error {
	args := m.Called(ctx, draftID, inputs, pick)
	return args.Error(0)
}

func (m *MockWorkflowService) CancelDraft(ctx context.Context, draftID string) error {
	args := m.Called(ctx, draftID)
	return args.Error(0)
}

// scriptedGenerator streams one canned chunk per intent. When gate is set the
// stream holds before completing until gate closes or the stream is cancelled.
type scriptedGenerator struct {
	mu        sync.Mutex
	requests  []llm.Request
	research  string
	statement string
	err       error
	gate      chan struct{}
}

func newScriptedGenerator() *scriptedGenerator {
	return &scriptedGenerator{research: roboticsPayload, statement: "## Statement\n\nI **built** a robot."}
}

func (g *scriptedGenerator) Generate(ctx context.Context, req llm.Request) (string, error) {
	return "", errors.New("single-shot generation is not used by the API")
}

func (g *scriptedGenerator) Stream(ctx context.Context, req llm.Request, h stream.Handler) error {
	g.mu.Lock()
	g.requests = append(g.requests, req)
	gate, err := g.gate, g.err
	g.mu.Unlock()
	if err != nil {
		return err
	}
	content := g.research
	if req.Intent == llm.IntentStatement {
		content = g.statement
	}
	h.OnChunk(content)
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	h.OnComplete()
	return nil
}

func (g *scriptedGenerator) recorded() []llm.Request {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]llm.Request(nil), g.requests...)
}

func newTestServer(t *testing.T, st store.Store, broker Broker, workflows WorkflowService, generator llm.Generator, cfg config.Config, opts ...Option) (*httptest.Server, *Server) {
	t.Helper()
	opts = append([]Option{WithLogger(zaptest.NewLogger(t))}, opts...)
	server := NewServer(st, broker, workflows, generator, cfg, opts...)
	httpServer := httptest.NewServer(server.Router())
	t.Cleanup(func() {
		httpServer.Close()
		server.Close()
	})
	return httpServer, server
}

func postJSON(t *testing.T, url string, body string, headers ...string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, url, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var out T
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	return out
}

func createSession(t *testing.T, baseURL string) string {
	t.Helper()
	resp := postJSON(t, baseURL+"/sessions", "")
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	payload := decodeBody[map[string]any](t, resp)
	id, _ := payload["session_id"].(string)
	require.NotEmpty(t, id)
	return id
}

func getSession(t *testing.T, baseURL, id string) sessionResponse {
	t.Helper()
	resp, err := http.Get(baseURL + "/sessions/" + id)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	return decodeBody[sessionResponse](t, resp)
}

func waitForStage(t *testing.T, baseURL, id string, stage session.Stage) sessionResponse {
	t.Helper()
	require.Eventually(t, func() bool {
		snap, ok := fetchSession(baseURL, id)
		return ok && snap.State.Stage == stage && !snap.Buffer.Open
	}, 2*time.Second, 10*time.Millisecond)
	return getSession(t, baseURL, id)
}

// fetchSession is safe to call from Eventually conditions.
func fetchSession(baseURL, id string) (sessionResponse, bool) {
	var out sessionResponse
	resp, err := http.Get(baseURL + "/sessions/" + id)
	if err != nil {
		return out, false
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return out, false
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return out, false
	}
	return out, true
}

// deleteRequest closes the response body; only the status is returned.
func deleteRequest(t *testing.T, url string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodDelete, url, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	return resp
}
