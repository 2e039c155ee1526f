package connection

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rickgao/tripsync/internal/clock"
	"github.com/rickgao/tripsync/internal/metrics"
	"github.com/rickgao/tripsync/internal/version"
)

// Client represents a single WebSocket connection for one trip.
type Client interface {
	// Connect opens the socket. It returns nil if already connected and
	// joins the pending attempt if one is in flight. A failed Connect is
	// not retried.
	Connect(ctx context.Context) error

	// Disconnect closes the socket with a normal closure and cancels every
	// timer. Safe to call repeatedly.
	Disconnect()

	// Send writes a text frame. Returns false when not connected.
	Send(data []byte) bool

	// IsConnected returns current connection state.
	IsConnected() bool

	// Status returns the current lifecycle state.
	Status() Status

	// SetURL replaces the endpoint used by the next dial.
	SetURL(url string)

	// UpdateCallbacks merges the non-nil fields of cbs into the current set.
	UpdateCallbacks(cbs Callbacks)
}

// Dialer opens WebSocket connections. *websocket.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, urlStr string, requestHeader http.Header) (*websocket.Conn, *http.Response, error)
}

// ClientOption configures a Client.
type ClientOption func(*client)

// WithDialer replaces websocket.DefaultDialer.
func WithDialer(d Dialer) ClientOption {
	return func(c *client) { c.dialer = d }
}

// WithClock replaces the real clock for timers.
func WithClock(clk clock.Clock) ClientOption {
	return func(c *client) { c.clock = clk }
}

// WithMetrics records reconnect attempts under the given trip label.
func WithMetrics(m *metrics.Metrics, trip string) ClientOption {
	return func(c *client) {
		c.metrics = m
		c.trip = trip
	}
}

// attempt is one dial in flight. Connect callers wait on done.
type attempt struct {
	ctx       context.Context
	done      chan struct{}
	once      sync.Once
	err       error
	cancel    context.CancelFunc
	reconnect bool
}

func (a *attempt) finish(err error) {
	a.once.Do(func() {
		a.err = err
		close(a.done)
	})
}

// client implements the Client interface.
type client struct {
	cfg     ClientConfig
	logger  *slog.Logger
	dialer  Dialer
	clock   clock.Clock
	metrics *metrics.Metrics
	trip    string

	// Write serialization
	writeMu sync.Mutex

	// State
	mu          sync.Mutex
	url         string
	status      Status
	conn        *websocket.Conn
	gen         uint64 // Bumped whenever the current socket or attempt is abandoned
	attempts    int    // Consecutive failed reconnect cycles
	inflight    *attempt
	lastMessage time.Time
	cbs         Callbacks

	connectTimer   clock.Timer
	pingTimer      clock.Timer
	healthTimer    clock.Timer
	reconnectTimer clock.Timer
}

// NewClient creates a new WebSocket client.
func NewClient(cfg ClientConfig, logger *slog.Logger, cbs Callbacks, opts ...ClientOption) Client {
	if logger == nil {
		logger = slog.Default()
	}

	c := &client{
		cfg:    cfg,
		logger: logger,
		dialer: websocket.DefaultDialer,
		clock:  clock.Real(),
		url:    cfg.URL,
		status: StatusDisconnected,
		cbs:    cbs,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Connect establishes the WebSocket connection.
func (c *client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.status == StatusConnected {
		c.mu.Unlock()
		return nil
	}
	if a := c.inflight; a != nil {
		c.mu.Unlock()
		return wait(ctx, a)
	}

	c.attempts = 0
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	a, gen, url := c.beginLocked(false)
	notify := c.setStatusLocked(StatusConnecting)
	c.mu.Unlock()

	notify()
	go c.dial(gen, url, a)
	return wait(ctx, a)
}

func wait(ctx context.Context, a *attempt) error {
	select {
	case <-a.done:
		return a.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// beginLocked starts a new attempt and arms its timeout.
func (c *client) beginLocked(reconnect bool) (*attempt, uint64, string) {
	c.gen++
	gen := c.gen

	dialCtx, cancel := context.WithCancel(context.Background())
	a := &attempt{ctx: dialCtx, done: make(chan struct{}), cancel: cancel, reconnect: reconnect}
	c.inflight = a

	c.connectTimer = c.clock.AfterFunc(c.cfg.ConnectTimeout, func() {
		c.onConnectTimeout(gen, a)
	})
	return a, gen, c.url
}

func (c *client) dial(gen uint64, url string, a *attempt) {
	header := http.Header{}
	header.Set("User-Agent", version.UserAgent())

	conn, resp, err := c.dialer.DialContext(a.ctx, url, header)

	c.mu.Lock()
	if gen != c.gen {
		// Timed out or disconnected while dialing.
		c.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		return
	}
	if c.connectTimer != nil {
		c.connectTimer.Stop()
		c.connectTimer = nil
	}
	c.inflight = nil

	if err != nil {
		err = classifyDialError(resp, err)
		c.logger.Warn("dial failed", "error", err, "reconnect", a.reconnect)
		c.failAttemptLocked(a, err)
		return
	}

	c.conn = conn
	c.attempts = 0
	c.lastMessage = c.clock.Now()
	c.schedulePingLocked(gen)
	c.scheduleHealthLocked(gen)
	notify := c.setStatusLocked(StatusConnected)
	onOpen := c.cbs.OnOpen
	c.mu.Unlock()

	c.logger.Info("connected", "reconnect", a.reconnect)
	notify()
	if onOpen != nil {
		onOpen(a.reconnect)
	}
	a.finish(nil)
	a.cancel()

	go c.readLoop(gen, conn)
}

// failAttemptLocked settles a failed dial. Initial attempts report to the
// Connect caller only; reconnect attempts count as a failed cycle.
// Releases c.mu.
func (c *client) failAttemptLocked(a *attempt, err error) {
	a.cancel()

	var authErr *AuthError
	switch {
	case !a.reconnect:
		notify := c.setStatusLocked(StatusError)
		c.mu.Unlock()
		notify()
		a.finish(err)
	case errors.As(err, &authErr):
		notify := c.setStatusLocked(StatusError)
		onError := c.cbs.OnError
		c.mu.Unlock()
		a.finish(err)
		notify()
		if onError != nil {
			onError(err)
		}
	default:
		a.finish(err)
		c.scheduleReconnectLocked()
	}
}

func classifyDialError(resp *http.Response, err error) error {
	if resp == nil {
		return &TransportError{Err: err}
	}
	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return &AuthError{Code: resp.StatusCode, Reason: http.StatusText(resp.StatusCode)}
	}
	return &TransportError{StatusCode: resp.StatusCode, Err: err}
}

func (c *client) onConnectTimeout(gen uint64, a *attempt) {
	c.mu.Lock()
	if gen != c.gen || c.inflight != a {
		c.mu.Unlock()
		return
	}
	c.gen++
	c.inflight = nil
	c.connectTimer = nil
	c.logger.Warn("connect timed out", "timeout", c.cfg.ConnectTimeout)

	c.failAttemptLocked(a, ErrConnectTimeout)
}

// readLoop reads until the socket fails. Each frame refreshes the
// staleness clock.
func (c *client) readLoop(gen uint64, conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.handleClose(gen, err)
			return
		}

		c.mu.Lock()
		if gen != c.gen {
			c.mu.Unlock()
			return
		}
		c.lastMessage = c.clock.Now()
		onMessage := c.cbs.OnMessage
		c.mu.Unlock()

		if onMessage != nil {
			onMessage(data)
		}
	}
}

// handleClose reacts to a socket that closed or went stale.
func (c *client) handleClose(gen uint64, err error) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	c.gen++
	c.stopTimersLocked()
	conn := c.conn
	c.conn = nil
	if conn != nil {
		conn.Close()
	}

	code := closeCode(err)
	c.logger.Info("connection closed", "code", code, "error", err)

	var terminal error
	status := StatusError
	switch code {
	case CloseAuthFailed:
		terminal = &AuthError{Code: code, Reason: closeText(err)}
	case CloseDuplicateConnection:
		terminal = &ConflictError{PostConnect: true}
		status = StatusDuplicate
	}
	if terminal == nil {
		c.scheduleReconnectLocked()
		return
	}

	notify := c.setStatusLocked(status)
	onError := c.cbs.OnError
	c.mu.Unlock()

	notify()
	if onError != nil {
		onError(terminal)
	}
}

func closeCode(err error) int {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return websocket.CloseAbnormalClosure
}

func closeText(err error) string {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return ce.Text
	}
	return ""
}

// scheduleReconnectLocked arms the next reconnect or gives up once the
// attempt budget is spent. Releases c.mu.
func (c *client) scheduleReconnectLocked() {
	c.attempts++
	if c.attempts > c.cfg.MaxReconnectAttempts {
		c.logger.Error("reconnect attempts exhausted", "attempts", c.cfg.MaxReconnectAttempts)
		notify := c.setStatusLocked(StatusError)
		onError := c.cbs.OnError
		c.mu.Unlock()

		notify()
		if onError != nil {
			onError(ErrReconnectExhausted)
		}
		return
	}

	delay := ReconnectDelay(c.attempts, c.cfg.ReconnectBaseDelay, c.cfg.ReconnectMaxDelay)
	gen := c.gen
	n := c.attempts
	c.reconnectTimer = c.clock.AfterFunc(delay, func() { c.reconnect(gen) })
	notify := c.setStatusLocked(StatusDisconnected)
	c.mu.Unlock()

	c.logger.Info("reconnect scheduled", "attempt", n, "delay", delay)
	c.metrics.ReconnectAttempt(c.trip)
	notify()
}

func (c *client) reconnect(gen uint64) {
	c.mu.Lock()
	if gen != c.gen || c.inflight != nil {
		c.mu.Unlock()
		return
	}
	c.reconnectTimer = nil
	a, newGen, url := c.beginLocked(true)
	notify := c.setStatusLocked(StatusConnecting)
	c.mu.Unlock()

	notify()
	go c.dial(newGen, url, a)
}

// schedulePingLocked sends an application ping every PingInterval while
// gen is current.
func (c *client) schedulePingLocked(gen uint64) {
	c.pingTimer = c.clock.AfterFunc(c.cfg.PingInterval, func() {
		c.mu.Lock()
		if gen != c.gen {
			c.mu.Unlock()
			return
		}
		c.schedulePingLocked(gen)
		c.mu.Unlock()

		if !c.Send(pingFrame) {
			c.logger.Debug("ping failed")
		}
	})
}

// scheduleHealthLocked recycles the socket when nothing has arrived for
// StaleThreshold.
func (c *client) scheduleHealthLocked(gen uint64) {
	c.healthTimer = c.clock.AfterFunc(c.cfg.HealthCheckInterval, func() {
		c.mu.Lock()
		if gen != c.gen {
			c.mu.Unlock()
			return
		}
		silent := clock.Since(c.clock, c.lastMessage)
		if silent <= c.cfg.StaleThreshold {
			c.scheduleHealthLocked(gen)
			c.mu.Unlock()
			return
		}
		c.mu.Unlock()

		c.logger.Warn("connection stale", "silent", silent)
		c.handleClose(gen, ErrStaleConnection)
	})
}

func (c *client) stopTimersLocked() {
	for _, t := range []*clock.Timer{&c.connectTimer, &c.pingTimer, &c.healthTimer, &c.reconnectTimer} {
		if *t != nil {
			(*t).Stop()
			*t = nil
		}
	}
}

// Disconnect closes the connection.
func (c *client) Disconnect() {
	c.mu.Lock()
	c.gen++
	c.stopTimersLocked()
	c.attempts = 0

	a := c.inflight
	c.inflight = nil
	conn := c.conn
	c.conn = nil
	notify := c.setStatusLocked(StatusDisconnected)
	c.mu.Unlock()

	if a != nil {
		a.cancel()
		a.finish(ErrDisconnected)
	}
	if conn != nil {
		c.writeMu.Lock()
		conn.SetWriteDeadline(time.Now().Add(c.writeTimeout()))
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client disconnect"))
		c.writeMu.Unlock()
		conn.Close()
		c.logger.Info("disconnected")
	}
	notify()
}

// Send writes raw bytes to the connection.
func (c *client) Send(data []byte) bool {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return false
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	conn.SetWriteDeadline(time.Now().Add(c.writeTimeout()))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		c.logger.Debug("write failed", "error", err)
		return false
	}
	return true
}

func (c *client) writeTimeout() time.Duration {
	if c.cfg.WriteTimeout > 0 {
		return c.cfg.WriteTimeout
	}
	return 5 * time.Second
}

// IsConnected returns current connection state.
func (c *client) IsConnected() bool {
	return c.Status() == StatusConnected
}

// Status returns the current lifecycle state.
func (c *client) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

func (c *client) SetURL(url string) {
	c.mu.Lock()
	c.url = url
	c.mu.Unlock()
}

func (c *client) UpdateCallbacks(cbs Callbacks) {
	c.mu.Lock()
	c.cbs = c.cbs.merge(cbs)
	c.mu.Unlock()
}

// setStatusLocked records s and returns a func that reports the change
// once the caller has released c.mu.
func (c *client) setStatusLocked(s Status) func() {
	if c.status == s {
		return func() {}
	}
	c.status = s
	onStatus := c.cbs.OnStatus
	return func() {
		if onStatus != nil {
			onStatus(s)
		}
	}
}
