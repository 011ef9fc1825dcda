package handlers

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	chatwidget "github.com/MegaGrindStone/chat-widget"
	"github.com/MegaGrindStone/chat-widget/internal/models"
	"github.com/MegaGrindStone/chat-widget/internal/widget"
	"github.com/tmaxmax/go-sse"
	"golang.org/x/time/rate"
)

// Store defines the interface for persisting widget sessions and their transcripts. Transcripts are
// append-only: messages are never updated or removed.
type Store interface {
	Session(ctx context.Context, sessionID string) (models.Session, bool, error)
	AddSession(ctx context.Context, sess models.Session) error

	Messages(ctx context.Context, sessionID string) ([]models.Message, error)
	AddMessage(ctx context.Context, sessionID string, message models.Message) error
}

// BackendFactory creates the chat backend client of a new widget session. Each session gets its own
// client, since the chat backend tracks the API key per client session.
type BackendFactory func() (widget.Backend, error)

// Options holds the widget settings shared by every session.
type Options struct {
	Elements     widget.Elements
	QuickReplies models.QuickReplySets

	// EventsPerMinute and EventBurst limit the events a single session may post. A zero EventsPerMinute
	// disables the limit.
	EventsPerMinute int
	EventBurst      int

	// IdleTimeout is how long a session may go without activity before it is released. Released sessions
	// are rebuilt from the store on their next request. Zero means the default; a negative value keeps
	// sessions until shutdown.
	IdleTimeout time.Duration
}

// Main hosts chat widgets. It serves the widget page, receives the events of the page, and streams the
// resulting DOM patches back through server-sent events, one topic per widget session.
type Main struct {
	sseSrv    *sse.Server
	templates *template.Template

	newBackend BackendFactory
	store      Store
	markdown   widget.Renderer
	opts       Options

	sessions *sessions
	// workers tracks the event workers of live sessions.
	workers  *sync.WaitGroup
	stop     chan struct{}
	stopOnce *sync.Once

	logger *slog.Logger
}

const (
	sessionCookieName = "widget_session"

	patchSSEType = "patch"

	errLoggerKey = "err"

	defaultIdleTimeout = 30 * time.Minute
	eventQueueSize     = 32
)

// NewMain creates a new Main instance. It parses the page templates from the embedded filesystem and
// configures the SSE server so that every client subscribes to the topic of its widget session.
func NewMain(newBackend BackendFactory, store Store, markdown widget.Renderer, opts Options, logger *slog.Logger) (Main, error) {
	// We parse templates from three distinct directories to separate layout, pages, and partial views
	tmpl, err := template.ParseFS(
		chatwidget.TemplateFS,
		"templates/layout/*.html",
		"templates/pages/*.html",
		"templates/partials/*.html",
	)
	if err != nil {
		return Main{}, err
	}

	opts.Elements = opts.Elements.WithDefaults()
	if opts.QuickReplies == nil {
		opts.QuickReplies = models.DefaultQuickReplySets()
	}
	if opts.IdleTimeout == 0 {
		opts.IdleTimeout = defaultIdleTimeout
	}

	m := Main{
		sseSrv: &sse.Server{
			OnSession: func(s *sse.Session) (sse.Subscription, bool) {
				topics := []string{sse.DefaultTopic}

				// Requests without a session cookie are refused before reaching the SSE server.
				if c, err := s.Req.Cookie(sessionCookieName); err == nil {
					topics = append(topics, sessionTopic(c.Value))
				}

				return sse.Subscription{
					Client:      s,
					LastEventID: s.LastEventID,
					Topics:      topics,
				}, true
			},
		},
		templates:  tmpl,
		newBackend: newBackend,
		store:      store,
		markdown:   markdown,
		opts:       opts,
		sessions:   newSessions(),
		workers:    &sync.WaitGroup{},
		stop:       make(chan struct{}),
		stopOnce:   &sync.Once{},
		logger:     logger.With(slog.String("module", "main")),
	}

	if opts.IdleTimeout > 0 {
		go m.sweepSessions(opts.IdleTimeout)
	}

	return m, nil
}

func sessionTopic(sessionID string) string {
	return fmt.Sprintf("session-%s", sessionID)
}

// Shutdown gracefully terminates the Main instance. It cancels the requests of every widget session,
// broadcasts a close message to all connected clients and waits up to 5 seconds for connections to
// terminate and for the session workers to finish the event they are handling. After the timeout, any
// remaining connections are forcefully closed.
func (m Main) Shutdown(ctx context.Context) error {
	m.stopOnce.Do(func() { close(m.stop) })
	m.sessions.closeAll()

	e := &sse.Message{Type: sse.Type("closeWidget")}
	// An SSE event must carry data to be dispatched by the browser
	e.AppendData("bye")

	// We ignore the error here since we're shutting down anyway
	_ = m.sseSrv.Publish(e)

	ctx, cancel := context.WithTimeout(ctx, time.Second*5)
	defer cancel()

	err := m.sseSrv.Shutdown(ctx)

	done := make(chan struct{})
	go func() {
		m.workers.Wait()
		close(done)
	}()

	select {
	case <-done:
		return err
	case <-ctx.Done():
		return errors.Join(err, fmt.Errorf("failed to wait for session workers: %w", ctx.Err()))
	}
}

func (m Main) sweepSessions(idle time.Duration) {
	ticker := time.NewTicker(max(idle/2, time.Second))
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case now := <-ticker.C:
			if n := m.sessions.evictIdle(now.Add(-idle)); n > 0 {
				m.logger.Debug("Released idle sessions", slog.Int("count", n))
			}
		}
	}
}

// session returns the widget session with the given ID, creating it if needed. A new session replays the
// transcript stored for its ID, so a returning browser sees its previous conversation. A session that
// isn't stored yet is only written to the store once it records a message or streams patches.
func (m Main) session(ctx context.Context, sessionID string) (*session, error) {
	return m.sessions.getOrCreate(sessionID, func() (*session, error) {
		stored, found, err := m.store.Session(ctx, sessionID)
		if err != nil {
			return nil, fmt.Errorf("failed to get session: %w", err)
		}

		sess := &session{
			id:        sessionID,
			createdAt: time.Now(),
			persisted: found,
			events:    make(chan widget.Event, eventQueueSize),
		}
		if found {
			sess.createdAt = stored.CreatedAt
		}

		backend, err := m.newBackend()
		if err != nil {
			return nil, fmt.Errorf("failed to create backend: %w", err)
		}

		logger := m.logger.With(slog.String("session", sessionID))
		sess.dom = newSSEDOM(m.opts.Elements, sseSink{srv: m.sseSrv}, sessionTopic(sessionID), logger)

		sess.ctrl, err = widget.NewController(sess.dom, backend, m.markdown, logger,
			widget.WithElements(m.opts.Elements),
			widget.WithQuickReplySets(m.opts.QuickReplies),
			widget.WithMessageHook(func(msg models.Message) {
				if err := sess.persist(context.Background(), m.store); err != nil {
					logger.Error("Failed to store session", slog.String(errLoggerKey, err.Error()))
					return
				}
				if err := m.store.AddMessage(context.Background(), sessionID, msg); err != nil {
					logger.Error("Failed to store message",
						slog.String("message", fmt.Sprintf("%+v", msg)),
						slog.String(errLoggerKey, err.Error()))
				}
			}),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create controller: %w", err)
		}

		if found {
			msgs, err := m.store.Messages(ctx, sessionID)
			if err != nil {
				return nil, fmt.Errorf("failed to get messages: %w", err)
			}
			// Replaying happens before any client subscribes, so the patches go nowhere.
			if err := sess.ctrl.Restore(msgs); err != nil {
				return nil, fmt.Errorf("failed to restore transcript: %w", err)
			}
		}

		if m.opts.EventsPerMinute > 0 {
			sess.limiter = rate.NewLimiter(rate.Limit(m.opts.EventsPerMinute)/60.0, max(m.opts.EventBurst, 1))
		}

		sess.ctx, sess.cancel = context.WithCancel(context.Background())

		m.workers.Add(1)
		go func() {
			defer m.workers.Done()
			sess.run()
		}()

		return sess, nil
	})
}

// sessionFromRequest returns the session named by the request cookie. The second return value is false if
// the request carries no cookie or names a session that isn't live.
func (m Main) sessionFromRequest(r *http.Request) (*session, bool) {
	c, err := r.Cookie(sessionCookieName)
	if err != nil {
		return nil, false
	}
	return m.sessions.get(c.Value)
}

// session is a live widget: a controller bound to the DOM mirror of one browser page. Events of the page
// are handled one at a time, in the order they were posted.
type session struct {
	id        string
	createdAt time.Time
	ctrl      *widget.Controller
	dom       *sseDOM
	limiter   *rate.Limiter
	events    chan widget.Event

	lastActive atomic.Int64
	busy       atomic.Bool
	streams    atomic.Int32

	mu        sync.Mutex
	persisted bool

	// ctx bounds the requests made on behalf of the session.
	ctx    context.Context
	cancel context.CancelFunc
}

func (s *session) allow() bool {
	return s.limiter == nil || s.limiter.Allow()
}

func (s *session) touch() {
	s.lastActive.Store(time.Now().UnixNano())
}

// enqueue queues ev for the worker. It returns false if the session is closed or its queue is full.
func (s *session) enqueue(ev widget.Event) bool {
	if s.ctx.Err() != nil {
		return false
	}
	select {
	case s.events <- ev:
		return true
	default:
		return false
	}
}

func (s *session) run() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case ev := <-s.events:
			s.busy.Store(true)
			s.dom.syncValues(ev.Values)
			s.ctrl.Dispatch(s.ctx, ev)
			s.busy.Store(false)
			s.touch()
		}
	}
}

// persist writes the session to store unless it is already there.
func (s *session) persist(ctx context.Context, store Store) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.persisted {
		return nil
	}
	if err := store.AddSession(ctx, models.Session{ID: s.id, CreatedAt: s.createdAt}); err != nil {
		return fmt.Errorf("failed to add session: %w", err)
	}
	s.persisted = true
	return nil
}

// idle reports whether the session has had no activity since cutoff, with no event pending or running and
// no page streaming its patches.
func (s *session) idle(cutoff time.Time) bool {
	return s.lastActive.Load() < cutoff.UnixNano() &&
		s.streams.Load() == 0 &&
		!s.busy.Load() &&
		len(s.events) == 0
}

type sessions struct {
	mu   sync.Mutex
	byID map[string]*session
}

func newSessions() *sessions {
	return &sessions{byID: make(map[string]*session)}
}

func (s *sessions) get(id string) (*session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.byID[id]
	if ok {
		sess.touch()
	}
	return sess, ok
}

// getOrCreate holds the lock while create runs, so concurrent first requests of a browser share a session.
func (s *sessions) getOrCreate(id string, create func() (*session, error)) (*session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.byID[id]; ok {
		sess.touch()
		return sess, nil
	}
	sess, err := create()
	if err != nil {
		return nil, err
	}
	sess.touch()
	s.byID[id] = sess
	return sess, nil
}

// evictIdle releases the sessions idle since cutoff and returns how many were released.
func (s *sessions) evictIdle(cutoff time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, sess := range s.byID {
		if !sess.idle(cutoff) {
			continue
		}
		sess.cancel()
		delete(s.byID, id)
		n++
	}
	return n
}

func (s *sessions) closeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, sess := range s.byID {
		sess.cancel()
		delete(s.byID, id)
	}
}
