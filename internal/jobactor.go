package internal

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// throttleRule is a pipeline's persistence throttle (§4.7 table): storage is
// written when either the count or the time threshold fires; WebSocket
// broadcasts are never throttled.
type throttleRule struct {
	count int
	window time.Duration
}

var throttleRules = map[Pipeline]throttleRule{
	PipelineBatchEnrichment: {count: 5, window: 10 * time.Second},
	PipelineCSVImport:       {count: 20, window: 30 * time.Second},
	PipelineAIScan:          {count: 1, window: 60 * time.Second},
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true }, // CORS is out of scope (§1); handled upstream.
}

// jobActor is one actor per jobId: single-threaded execution via a closure
// inbox, owning the WebSocket connection, persisted state, and the cleanup
// timer (§4.7, the hardest component per §2). Every field below is only
// ever touched from inside run(), except where a dedicated mutex is noted.
type jobActor struct {
	id    string
	inbox chan func()

	state JobState
	token AuthToken

	conn   *websocket.Conn
	connMu sync.Mutex // guards writes to conn; reads happen on a separate reader goroutine

	ready     chan struct{}
	readyOnce sync.Once

	updatesSinceFlush int
	lastFlush         time.Time

	persister *Persister
	cache     *Cache

	cleanupTimer *time.Timer

	onTerminalCleanup func(jobID string)
}

func newJobActor(id string, persister *Persister, cache *Cache, onCleanup func(string)) *jobActor {
	a := &jobActor{
		id:                id,
		inbox:             make(chan func(), 32),
		ready:             make(chan struct{}),
		persister:         persister,
		cache:             cache,
		onTerminalCleanup: onCleanup,
	}
	go a.run()
	return a
}

func (a *jobActor) run() {
	for fn := range a.inbox {
		fn()
	}
}

// do enqueues a mutation and blocks until it has executed, giving callers a
// simple synchronous API over the actor's serialized inbox.
func (a *jobActor) do(fn func()) {
	done := make(chan struct{})
	a.inbox <- func() {
		fn()
		close(done)
	}
	<-done
}

// SetAuthToken stores the job's auth token (§4.7).
func (a *jobActor) SetAuthToken(tok AuthToken) {
	a.do(func() { a.token = tok })
}

// CurrentState returns a copy of the job's state, used by GET /api/job-state.
func (a *jobActor) CurrentState() JobState {
	var s JobState
	a.do(func() { s = a.state })
	return s
}

// TokenValid checks a presented token against the actor's stored token.
func (a *jobActor) TokenValid(presented string, now time.Time) bool {
	var ok bool
	a.do(func() {
		ok = a.token.Value == presented && a.token.valid(now)
	})
	return ok
}

// RefreshAuthToken issues a new token if oldToken is within its refresh
// window (§4.7, §8: refused more than 30 minutes before expiry).
func (a *jobActor) RefreshAuthToken(oldToken string, now time.Time) (AuthToken, bool) {
	var tok AuthToken
	var ok bool
	a.do(func() {
		if a.token.Value != oldToken || !a.token.refreshable(now) {
			return
		}
		a.token = a.token.refresh(now)
		tok, ok = a.token, true
	})
	return tok, ok
}

// AttachConnection installs a freshly-upgraded WebSocket as the job's
// connection. If one is already attached, it's closed with 1000 "client
// reconnecting" and the new connection receives a replayed `reconnected`
// message with current progress (§4.7).
func (a *jobActor) AttachConnection(ctx context.Context, conn *websocket.Conn) {
	a.do(func() {
		if a.conn != nil {
			a.writeClose(a.conn, CloseNormal, "client reconnecting")
			_ = a.conn.Close()
			a.sendRaw(conn, Message{
				Type:      MsgReconnected,
				JobID:     a.id,
				Pipeline:  a.state.Pipeline,
				Timestamp: nowISO(),
				Version:   protocolVersion,
				Payload: ReconnectedPayload{
					Status:         a.state.Status,
					ProcessedCount: a.state.ProcessedCount,
					TotalCount:     a.state.TotalCount,
					Progress:       a.state.Progress,
				},
			})
		}
		a.conn = conn
		go a.readLoop(ctx, conn)
	})
}

// readLoop pumps inbound frames and forwards them to the actor's inbox so
// they're processed with the same serialization as everything else.
func (a *jobActor) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		msg, err := parseMessage(data)
		if err != nil || msg.Type == "" {
			a.do(func() { a.writeClose(conn, CloseProtocolViolation, "malformed message") })
			return
		}
		switch msg.Type {
		case "ready":
			a.readyOnce.Do(func() { close(a.ready) })
		case MsgPing:
			a.do(func() {
				a.sendRaw(conn, Message{Type: MsgPong, JobID: a.id, Timestamp: nowISO(), Version: protocolVersion})
			})
		}
	}
}

// WaitForReady blocks until the client sends `ready` or the timeout elapses
// (§4.7: guarantees no progress is sent before the client is attached).
func (a *jobActor) WaitForReady(timeout time.Duration) bool {
	select {
	case <-a.ready:
		return true
	case <-time.After(timeout):
		return false
	}
}

// InitializeJobState persists the job's initial state (§4.7).
func (a *jobActor) InitializeJobState(pipeline Pipeline, totalCount int) {
	a.do(func() {
		now := time.Now()
		canceled := a.state.Canceled
		a.state = JobState{
			JobID:          a.id,
			Pipeline:       pipeline,
			TotalCount:     totalCount,
			Status:         JobInitialized,
			StartTime:      now,
			LastUpdateTime: now,
			Canceled:       canceled,
		}
		a.persist()
		a.broadcast(Message{
			Type: MsgJobStarted, JobID: a.id, Pipeline: pipeline,
			Timestamp: nowISO(), Version: protocolVersion,
			Payload: JobStartedPayload{TotalCount: totalCount},
		})
		if canceled {
			a.state.Status = JobCanceled
		} else {
			a.state.Status = JobRunning
		}
	})
}

// UpdateProgress updates in-memory state and always broadcasts; it persists
// only when the pipeline's throttle fires (§4.7).
func (a *jobActor) UpdateProgress(processedCount int, index int) {
	a.do(func() {
		a.state.ProcessedCount = processedCount
		if a.state.TotalCount > 0 {
			a.state.Progress = float64(processedCount) / float64(a.state.TotalCount)
		}
		a.state.LastUpdateTime = time.Now()

		a.broadcast(Message{
			Type: MsgJobProgress, JobID: a.id, Pipeline: a.state.Pipeline,
			Timestamp: nowISO(), Version: protocolVersion,
			Payload: JobProgressPayload{
				ProcessedCount: processedCount,
				TotalCount:     a.state.TotalCount,
				Progress:       a.state.Progress,
				Index:          index,
			},
		})

		a.updatesSinceFlush++
		rule := throttleRules[a.state.Pipeline]
		if a.updatesSinceFlush >= rule.count || time.Since(a.lastFlush) >= rule.window {
			a.persist()
			a.updatesSinceFlush = 0
			a.lastFlush = time.Now()
		}
	})
}

// Complete broadcasts a terminal job_complete, persists, and schedules
// cleanup + a delayed close (§4.7).
func (a *jobActor) Complete(summary CompletionSummary) {
	a.do(func() {
		a.state.Status = JobCompleted
		a.state.Result = &summary
		a.state.Progress = 1
		a.persist()

		a.broadcast(Message{
			Type: MsgJobComplete, JobID: a.id, Pipeline: a.state.Pipeline,
			Timestamp: nowISO(), Version: protocolVersion, Payload: summary,
		})

		a.scheduleCleanup()
		a.scheduleClose(CloseNormal, "")
	})
}

// SendError is Complete's symmetric error case (§4.7): status=failed,
// WebSocket closes 1011.
func (a *jobActor) SendError(payload ErrorPayload) {
	a.do(func() {
		a.state.Status = JobFailed
		a.state.Error = &payload
		a.persist()

		a.broadcast(Message{
			Type: MsgError, JobID: a.id, Pipeline: a.state.Pipeline,
			Timestamp: nowISO(), Version: protocolVersion, Payload: payload,
		})

		a.scheduleCleanup()
		a.scheduleClose(CloseInternalError, payload.Message)
	})
}

// CancelJob sets canceled=true; work polls this flag cooperatively and
// terminates at the next safe point (§4.7).
func (a *jobActor) CancelJob(reason string) {
	a.do(func() {
		a.state.Canceled = true
		a.state.Status = JobCanceled
		a.persist()
		if a.conn != nil {
			a.writeClose(a.conn, CloseCanceled, reason)
		}
	})
}

// Canceled reports whether cancellation has been requested, polled by the
// orchestrators before each row/image/provider fan-out.
func (a *jobActor) Canceled() bool {
	var c bool
	a.do(func() { c = a.state.Canceled })
	return c
}

func (a *jobActor) persist() {
	if a.persister == nil {
		return
	}
	if err := a.persister.PersistJob(context.Background(), a.state); err != nil {
		_logHandler.Warn("job state persist failed", "jobId", a.id, "err", err)
	}
}

func (a *jobActor) scheduleCleanup() {
	a.cleanupTimer = time.AfterFunc(jobCleanupDelay, func() {
		a.do(func() {
			if a.persister != nil {
				_ = a.persister.DeleteJob(context.Background(), a.id)
			}
			if a.onTerminalCleanup != nil {
				a.onTerminalCleanup(a.id)
			}
		})
	})
}

func (a *jobActor) scheduleClose(code CloseCode, reason string) {
	conn := a.conn
	if conn == nil {
		return
	}
	time.AfterFunc(time.Second, func() {
		a.do(func() { a.writeClose(conn, code, reason) })
	})
}

// broadcast sends to the currently attached connection, if any. Outbound
// size validation (§4.8): >1MB logs, >32MiB closes 1009 instead of sending.
func (a *jobActor) broadcast(m Message) {
	if a.conn == nil {
		return
	}
	a.sendRaw(a.conn, m)
}

func (a *jobActor) sendRaw(conn *websocket.Conn, m Message) {
	data, err := serializeMessage(m)
	if err != nil {
		_logHandler.Error("failed to serialize progress message", "jobId", a.id, "err", err)
		return
	}
	if len(data) > maxOutboundMessage {
		a.writeClose(conn, CloseMessageTooBig, "message exceeds 32MiB")
		return
	}
	if len(data) > warnOutboundMessage {
		_logHandler.Warn("large outbound progress message", "jobId", a.id, "bytes", len(data))
	}

	a.connMu.Lock()
	defer a.connMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	_ = conn.WriteMessage(websocket.TextMessage, data)
}

func (a *jobActor) writeClose(conn *websocket.Conn, code CloseCode, reason string) {
	a.connMu.Lock()
	defer a.connMu.Unlock()
	msg := websocket.FormatCloseMessage(int(code), reason)
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	_ = conn.WriteMessage(websocket.CloseMessage, msg)
	_ = conn.Close()
}

func nowISO() string {
	return time.Now().UTC().Format(time.RFC3339)
}

// JobManager creates and looks up job actors by jobId, and resolves upgrade
// requests into an attached WebSocket connection.
type JobManager struct {
	mu        sync.Mutex
	actors    map[string]*jobActor
	persister *Persister
	cache     *Cache
}

func NewJobManager(persister *Persister, cache *Cache) *JobManager {
	return &JobManager{actors: map[string]*jobActor{}, persister: persister, cache: cache}
}

// NewJob creates a new actor for a freshly minted jobId.
func (m *JobManager) NewJob(jobID string) (*jobActor, AuthToken) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a := newJobActor(jobID, m.persister, m.cache, m.remove)
	tok := newAuthToken()
	a.SetAuthToken(tok)
	m.actors[jobID] = a
	return a, tok
}

func (m *JobManager) Get(jobID string) (*jobActor, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.actors[jobID]
	return a, ok
}

func (m *JobManager) remove(jobID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.actors, jobID)
}

// Upgrade validates the token and jobId against the HTTP request, performs
// the WebSocket handshake synchronously (required while w/r are still live),
// then hands the resulting connection to the actor for ownership.
func (m *JobManager) Upgrade(w http.ResponseWriter, r *http.Request, jobID, token string) error {
	a, ok := m.Get(jobID)
	if !ok {
		http.Error(w, "job not found", http.StatusNotFound)
		return errNotFound
	}
	if !a.TokenValid(token, time.Now()) {
		http.Error(w, "invalid or expired token", http.StatusUnauthorized)
		return errUnauthorized
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	a.AttachConnection(r.Context(), conn)
	return nil
}
