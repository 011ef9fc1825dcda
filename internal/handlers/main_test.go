package handlers_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MegaGrindStone/chat-widget/internal/handlers"
	"github.com/MegaGrindStone/chat-widget/internal/models"
	"github.com/MegaGrindStone/chat-widget/internal/widget"
)

type mockBackend struct {
	mu       sync.Mutex
	messages []string
	result   models.ChatResult
}

type mockStore struct {
	mu       sync.Mutex
	sessions map[string]models.Session
	messages map[string][]models.Message
	err      error
}

const testSessionID = "6f1c9a52-8d5e-4b8a-9f0e-2c1d3b4a5e6f"

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newMockStore() *mockStore {
	return &mockStore{
		sessions: map[string]models.Session{},
		messages: map[string][]models.Message{},
	}
}

func newTestMain(t *testing.T, backend *mockBackend, store *mockStore, opts handlers.Options) handlers.Main {
	t.Helper()
	return newTestMainWithBackend(t, backend, store, opts)
}

func newTestMainWithBackend(t *testing.T, backend widget.Backend, store *mockStore, opts handlers.Options) handlers.Main {
	t.Helper()

	main, err := handlers.NewMain(func() (widget.Backend, error) {
		return backend, nil
	}, store, models.NewMarkdownRenderer(true), opts, testLogger())
	if err != nil {
		t.Fatalf("NewMain() error = %v", err)
	}
	t.Cleanup(func() {
		_ = main.Shutdown(context.Background())
	})
	return main
}

func openSession(t *testing.T, main handlers.Main) *http.Cookie {
	t.Helper()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: "widget_session", Value: testSessionID})
	w := httptest.NewRecorder()

	main.HandleHome(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("HandleHome() status = %v, want %v", w.Code, http.StatusOK)
	}
	return &http.Cookie{Name: "widget_session", Value: testSessionID}
}

func TestNewMain(t *testing.T) {
	main, err := handlers.NewMain(func() (widget.Backend, error) {
		return &mockBackend{}, nil
	}, newMockStore(), models.NewMarkdownRenderer(false), handlers.Options{}, testLogger())
	if err != nil {
		t.Fatalf("NewMain() error = %v", err)
	}

	if main.Shutdown(context.Background()) != nil {
		t.Error("Shutdown() should not return error")
	}
}

func TestHandleHome(t *testing.T) {
	store := newMockStore()
	store.sessions[testSessionID] = models.Session{ID: testSessionID}
	store.messages[testSessionID] = []models.Message{
		{ID: "1", Role: models.RoleUser, Text: "Hello", RenderedHTML: "Hello"},
		{ID: "2", Role: models.RoleBot, Text: "Welcome back", RenderedHTML: "<p>Welcome back</p>", QuickReplySet: models.QuickReplyWelcome},
	}

	main := newTestMain(t, &mockBackend{}, store, handlers.Options{})

	tests := []struct {
		name         string
		cookie       string
		wantBody     []string
		wantNewID    bool
		wantSameSess bool
	}{
		{
			name:      "New browser",
			wantBody:  []string{`id="chat-body"`, `id="api-key-modal"`, `id="loading"`},
			wantNewID: true,
		},
		{
			name:      "Invalid cookie",
			cookie:    "not-a-uuid",
			wantBody:  []string{`id="chat-body"`},
			wantNewID: true,
		},
		{
			name:         "Returning browser",
			cookie:       testSessionID,
			wantBody:     []string{"Hello", "Welcome back", "quick-reply-btn"},
			wantSameSess: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.cookie != "" {
				req.AddCookie(&http.Cookie{Name: "widget_session", Value: tt.cookie})
			}
			w := httptest.NewRecorder()

			main.HandleHome(w, req)

			if w.Code != http.StatusOK {
				t.Fatalf("HandleHome() status = %v, want %v", w.Code, http.StatusOK)
			}
			for _, want := range tt.wantBody {
				if !strings.Contains(w.Body.String(), want) {
					t.Errorf("HandleHome() body = %v, want to contain %v", w.Body.String(), want)
				}
			}

			var sessionCookie *http.Cookie
			for _, c := range w.Result().Cookies() {
				if c.Name == "widget_session" {
					sessionCookie = c
				}
			}
			if sessionCookie == nil {
				t.Fatal("HandleHome() should set the session cookie")
			}
			if tt.wantNewID && (sessionCookie.Value == "" || sessionCookie.Value == tt.cookie) {
				t.Errorf("session cookie = %q, want a new session ID", sessionCookie.Value)
			}
			if tt.wantSameSess && sessionCookie.Value != tt.cookie {
				t.Errorf("session cookie = %q, want %q", sessionCookie.Value, tt.cookie)
			}
		})
	}
}

func TestHandleHomeStoreError(t *testing.T) {
	store := newMockStore()
	store.err = fmt.Errorf("disk full")
	main := newTestMain(t, &mockBackend{}, store, handlers.Options{})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	w := httptest.NewRecorder()
	main.HandleHome(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Errorf("HandleHome() status = %v, want %v", w.Code, http.StatusInternalServerError)
	}
}

func TestHandleEvents(t *testing.T) {
	tests := []struct {
		name       string
		method     string
		body       string
		withCookie bool
		wantStatus int
	}{
		{
			name:       "Invalid method",
			method:     http.MethodGet,
			withCookie: true,
			wantStatus: http.StatusMethodNotAllowed,
		},
		{
			name:       "No session",
			method:     http.MethodPost,
			body:       `{"type": "click", "target": "send-btn"}`,
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "Invalid JSON",
			method:     http.MethodPost,
			body:       `{"type":`,
			withCookie: true,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "Unhandled event",
			method:     http.MethodPost,
			body:       `{"type": "dblclick", "target": "send-btn"}`,
			withCookie: true,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "Settings click",
			method:     http.MethodPost,
			body:       `{"type": "click", "target": "settings-btn"}`,
			withCookie: true,
			wantStatus: http.StatusAccepted,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			main := newTestMain(t, &mockBackend{}, newMockStore(), handlers.Options{})
			cookie := openSession(t, main)

			req := httptest.NewRequest(tt.method, "/events", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", "application/json")
			if tt.withCookie {
				req.AddCookie(cookie)
			}
			w := httptest.NewRecorder()

			main.HandleEvents(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("HandleEvents() status = %v, want %v", w.Code, tt.wantStatus)
			}
		})
	}
}

func TestHandleEventsSendsMessage(t *testing.T) {
	backend := &mockBackend{result: models.ChatResult{Kind: models.ResultOK, Text: "**Kuwait University**"}}
	store := newMockStore()
	main := newTestMain(t, backend, store, handlers.Options{})
	cookie := openSession(t, main)

	body := `{"type": "keydown", "target": "user-input", "key": "Enter", "values": {"user-input": "List of all universities"}}`
	req := httptest.NewRequest(http.MethodPost, "/events", strings.NewReader(body))
	req.AddCookie(cookie)
	w := httptest.NewRecorder()

	main.HandleEvents(w, req)

	if w.Code != http.StatusAccepted {
		t.Fatalf("HandleEvents() status = %v, want %v", w.Code, http.StatusAccepted)
	}

	msgs := store.waitForMessages(t, testSessionID, 2)
	if msgs[0].Role != models.RoleUser || msgs[0].Text != "List of all universities" {
		t.Errorf("first stored message = %+v, want the user message", msgs[0])
	}
	if msgs[1].Role != models.RoleBot || !strings.Contains(msgs[1].RenderedHTML, "<strong>Kuwait University</strong>") {
		t.Errorf("second stored message = %+v, want the rendered bot answer", msgs[1])
	}
	if msgs[1].QuickReplySet != models.QuickReplyUniversities {
		t.Errorf("bot quick reply set = %q, want %q", msgs[1].QuickReplySet, models.QuickReplyUniversities)
	}

	if sent := backend.sent(); len(sent) != 1 || sent[0] != "List of all universities" {
		t.Errorf("backend received %q, want the typed message", sent)
	}

	// The page rendered afterwards shows the conversation from the mirror.
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(cookie)
	w = httptest.NewRecorder()
	main.HandleHome(w, req)
	if !strings.Contains(w.Body.String(), "<strong>Kuwait University</strong>") {
		t.Errorf("HandleHome() body = %v, want the bot answer", w.Body.String())
	}
}

func TestHandleEventsRateLimit(t *testing.T) {
	main := newTestMain(t, &mockBackend{}, newMockStore(), handlers.Options{EventsPerMinute: 1, EventBurst: 2})
	cookie := openSession(t, main)

	var codes []int
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/events",
			strings.NewReader(`{"type": "click", "target": "settings-btn"}`))
		req.AddCookie(cookie)
		w := httptest.NewRecorder()
		main.HandleEvents(w, req)
		codes = append(codes, w.Code)
	}

	want := []int{http.StatusAccepted, http.StatusAccepted, http.StatusTooManyRequests}
	for i := range want {
		if codes[i] != want[i] {
			t.Errorf("request %d status = %v, want %v", i, codes[i], want[i])
		}
	}
}

func TestHandleSSEWithoutSession(t *testing.T) {
	main := newTestMain(t, &mockBackend{}, newMockStore(), handlers.Options{})

	tests := []struct {
		name   string
		cookie string
	}{
		{name: "No cookie"},
		{name: "Invalid cookie", cookie: "../../etc"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/sse", nil)
			if tt.cookie != "" {
				req.AddCookie(&http.Cookie{Name: "widget_session", Value: tt.cookie})
			}
			w := httptest.NewRecorder()

			main.HandleSSE(w, req)

			if w.Code != http.StatusUnauthorized {
				t.Errorf("HandleSSE() status = %v, want %v", w.Code, http.StatusUnauthorized)
			}
		})
	}
}

func (m *mockBackend) SetAPIKey(context.Context, string) error {
	return nil
}

func (m *mockBackend) Chat(_ context.Context, message string) models.ChatResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, message)
	return m.result
}

func (m *mockBackend) sent() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.messages...)
}

func (m *mockStore) Session(_ context.Context, sessionID string) (models.Session, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return models.Session{}, false, m.err
	}
	sess, ok := m.sessions[sessionID]
	return sess, ok, nil
}

func (m *mockStore) AddSession(_ context.Context, sess models.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sessions[sess.ID] = sess
	return nil
}

func (m *mockStore) Messages(_ context.Context, sessionID string) ([]models.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	return append([]models.Message(nil), m.messages[sessionID]...), nil
}

func (m *mockStore) AddMessage(_ context.Context, sessionID string, msg models.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.messages[sessionID] = append(m.messages[sessionID], msg)
	return nil
}

func (m *mockStore) sessionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

func (m *mockStore) waitForMessages(t *testing.T, sessionID string, n int) []models.Message {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		msgs, _ := m.Messages(context.Background(), sessionID)
		if len(msgs) >= n {
			return msgs
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("store did not receive %d messages in time", n)
	return nil
}
