package relay

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/muurk/orvibo-relay/internal/catalog"
	"github.com/muurk/orvibo-relay/internal/devstate"
	"github.com/muurk/orvibo-relay/internal/logging"
	"github.com/muurk/orvibo-relay/internal/protocol"
	"github.com/muurk/orvibo-relay/internal/session"
	"go.uber.org/zap"
)

// Defaults applied to zero Options fields.
const (
	DefaultHeartbeatInterval    = 30 * time.Second
	DefaultRetryInterval        = 5 * time.Second
	DefaultMaxReconnectAttempts = 5
	DefaultHelloGrace           = 3 * time.Second
	DefaultConnectTimeout       = 10 * time.Second
	DefaultWriteTimeout         = 10 * time.Second
	DefaultSendRetryDelay       = 2 * time.Second
	DefaultHeartbeatRetryDelay  = time.Second
	DefaultDisconnectWait       = 2 * time.Second
	DefaultUpdateBuffer         = 64
)

// State is the connection lifecycle state.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateHandshakePending
	StateAuthenticated
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateHandshakePending:
		return "handshake_pending"
	case StateAuthenticated:
		return "authenticated"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Catalog resolves device identities for the client.
type Catalog interface {
	UIDByDeviceID(id string) string
	DeviceIDByUID(uid string) string
	NameByDeviceID(id string) string
	IsKnownDeviceID(id string) bool
}

// StatusUpdate is a push notification accepted from the relay.
type StatusUpdate struct {
	DeviceID string
	Raw      devstate.Raw
	Received time.Time
}

// Options configures a Client.
type Options struct {
	// Addr is the relay host:port. Ignored when Dial is set.
	Addr string
	// TLSConfig is the mutual-TLS client configuration (see NewTLSConfig).
	TLSConfig *tls.Config
	// Dial overrides the TLS dialer.
	Dial func(ctx context.Context) (net.Conn, error)

	Username    string
	PasswordMD5 string // hex MD5 digest of the account password
	FamilyID    string

	Catalog Catalog

	// OnSessionID is called once per hello response with the new session id.
	OnSessionID func(sessionID string)
	// OnConnectFailed is called when a background reconnect gave up.
	OnConnectFailed func(err error)

	HeartbeatInterval time.Duration
	// RetryInterval is the backoff unit between connect attempts. Zero
	// selects DefaultRetryInterval; a negative value retries without delay.
	RetryInterval        time.Duration
	MaxReconnectAttempts int
	HelloGrace           time.Duration
	ConnectTimeout       time.Duration
	WriteTimeout         time.Duration
	// ReadTimeout bounds the wait for the next packet. Defaults to three
	// heartbeat intervals.
	ReadTimeout         time.Duration
	SendRetryDelay      time.Duration
	HeartbeatRetryDelay time.Duration
	DisconnectWait      time.Duration
	UpdateBuffer        int
}

func (o *Options) applyDefaults() {
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = DefaultHeartbeatInterval
	}
	switch {
	case o.RetryInterval == 0:
		o.RetryInterval = DefaultRetryInterval
	case o.RetryInterval < 0:
		o.RetryInterval = 0
	}
	if o.MaxReconnectAttempts <= 0 {
		o.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	if o.HelloGrace <= 0 {
		o.HelloGrace = DefaultHelloGrace
	}
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = DefaultConnectTimeout
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = DefaultWriteTimeout
	}
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = 3 * o.HeartbeatInterval
	}
	if o.SendRetryDelay <= 0 {
		o.SendRetryDelay = DefaultSendRetryDelay
	}
	if o.HeartbeatRetryDelay <= 0 {
		o.HeartbeatRetryDelay = DefaultHeartbeatRetryDelay
	}
	if o.DisconnectWait <= 0 {
		o.DisconnectWait = DefaultDisconnectWait
	}
	if o.UpdateBuffer <= 0 {
		o.UpdateBuffer = DefaultUpdateBuffer
	}
	if o.Catalog == nil {
		o.Catalog = catalog.New(nil)
	}
}

// Client is a persistent session with the relay. It owns one socket at a
// time; every socket is a generation with its own context, write lock and
// goroutines, and a stale generation never acts on the client.
type Client struct {
	opts    Options
	store   *session.Store
	updates chan StatusUpdate

	closeCtx    context.Context
	closeCancel context.CancelFunc

	connectSem   chan struct{} // one slot; serializes ConnectAndLogin
	reconnecting atomic.Bool
	nextGen      atomic.Uint64
	lastActivity atomic.Int64

	bg    sync.WaitGroup // reconnect goroutines
	tasks sync.WaitGroup // listen and heartbeat goroutines of every generation

	mu         sync.Mutex
	state      State
	gen        *generation
	sessionID  string
	sessionKey []byte
	closed     bool
}

// generation is one socket and the goroutines serving it.
type generation struct {
	id     uint64
	conn   net.Conn
	ctx    context.Context
	cancel context.CancelCauseFunc

	writeMu sync.Mutex
	wg      sync.WaitGroup

	helloCh   chan struct{}
	helloOnce sync.Once
	loginCh   chan loginResult
}

type loginResult struct {
	ok     bool
	userID string
	msg    string
}

// fail cancels the generation, recording why.
func (g *generation) fail(err error) {
	g.cancel(err)
}

// stop cancels the generation, closes its socket and waits up to wait for
// its goroutines.
func (g *generation) stop(wait time.Duration) {
	g.cancel(errors.New("generation stopped"))
	_ = g.conn.Close()

	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(wait):
		logging.Warn("Timed out waiting for connection tasks to stop",
			zap.Uint64("generation", g.id),
			zap.Duration("wait", wait),
		)
	}
}

// NewClient creates a disconnected client.
func NewClient(opts Options) (*Client, error) {
	if opts.Dial == nil && opts.Addr == "" {
		return nil, fmt.Errorf("relay address is required")
	}
	if opts.Username == "" {
		return nil, fmt.Errorf("username is required")
	}
	opts.applyDefaults()

	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		opts:        opts,
		store:       session.NewStore(),
		updates:     make(chan StatusUpdate, opts.UpdateBuffer),
		connectSem:  make(chan struct{}, 1),
		closeCtx:    ctx,
		closeCancel: cancel,
	}, nil
}

// Updates returns accepted push notifications in arrival order. The channel
// is closed by Close.
func (c *Client) Updates() <-chan StatusUpdate {
	return c.updates
}

// Store returns the client's session key store.
func (c *Client) Store() *session.Store {
	return c.store
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SessionID returns the current session id, or "" before the hello response.
func (c *Client) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// LastActivity returns the time of the last packet sent or received.
func (c *Client) LastActivity() time.Time {
	ns := c.lastActivity.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

func (c *Client) touch() {
	c.lastActivity.Store(time.Now().UnixNano())
}

// ConnectAndLogin establishes an authenticated session. It returns
// immediately when already authenticated. Each attempt dials a fresh socket,
// performs hello then login, and starts the heartbeat; failed attempts are
// retried up to MaxReconnectAttempts times, sleeping attempt×RetryInterval
// in between. A caller that finds another connect in progress waits for it
// only as long as ctx allows.
func (c *Client) ConnectAndLogin(ctx context.Context) error {
	if c.State() == StateAuthenticated {
		return nil
	}

	select {
	case c.connectSem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	case <-c.closeCtx.Done():
		return ErrClosed
	}
	defer func() { <-c.connectSem }()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(c.closeCtx, cancel)
	defer stop()

	c.mu.Lock()
	closed, state := c.closed, c.state
	c.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if state == StateAuthenticated {
		return nil
	}

	var lastErr error
	for attempt := 1; attempt <= c.opts.MaxReconnectAttempts; attempt++ {
		err := c.attempt(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		c.Disconnect()

		if c.closeCtx.Err() != nil {
			return ErrClosed
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		logging.Warn("Relay connect attempt failed",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", c.opts.MaxReconnectAttempts),
			zap.Error(err),
		)

		if attempt < c.opts.MaxReconnectAttempts {
			if !sleepCtx(ctx, time.Duration(attempt)*c.opts.RetryInterval) {
				if c.closeCtx.Err() != nil {
					return ErrClosed
				}
				return ctx.Err()
			}
		}
	}

	return fmt.Errorf("%w after %d attempts: %w", ErrConnectExhausted, c.opts.MaxReconnectAttempts, lastErr)
}

// attempt runs one dial, hello and login sequence.
func (c *Client) attempt(ctx context.Context) error {
	c.Disconnect()
	c.setState(StateConnecting)

	addr := c.opts.Addr
	dialCtx, cancel := context.WithTimeout(ctx, c.opts.ConnectTimeout)
	conn, err := c.dial(dialCtx)
	cancel()
	if err != nil {
		return ClassifyConnectError("dial", addr, err)
	}
	logging.LogConnection(addr, "connected")

	genCtx, genCancel := context.WithCancelCause(c.closeCtx)
	gen := &generation{
		id:      c.nextGen.Add(1),
		conn:    conn,
		ctx:     genCtx,
		cancel:  genCancel,
		helloCh: make(chan struct{}),
		loginCh: make(chan loginResult, 1),
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		genCancel(ErrClosed)
		_ = conn.Close()
		return ErrClosed
	}
	c.gen = gen
	c.state = StateHandshakePending
	gen.wg.Add(1)
	c.tasks.Add(1)
	c.mu.Unlock()

	go c.listen(gen)

	if err := c.send(gen, protocol.CmdHello, protocol.BuildHello(), false); err != nil {
		return &Error{Kind: KindConnect, Op: "hello", Addr: addr, Err: err}
	}

	select {
	case <-gen.helloCh:
	case <-gen.ctx.Done():
		return &Error{Kind: KindConnect, Op: "hello", Addr: addr, Err: context.Cause(gen.ctx)}
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(c.opts.HelloGrace):
		return &Error{Kind: KindConnect, Subtype: ConnectNoSessionKey, Op: "hello", Addr: addr,
			Err: fmt.Errorf("no session key within %s", c.opts.HelloGrace)}
	}

	login := protocol.BuildLogin(c.opts.Username, c.opts.PasswordMD5, c.opts.FamilyID)
	if err := c.send(gen, protocol.CmdLogin, login, true); err != nil {
		return &Error{Kind: KindConnect, Op: "login", Addr: addr, Err: err}
	}

	select {
	case res := <-gen.loginCh:
		if !res.ok {
			return &Error{Kind: KindAuth, Op: "login", Addr: addr, Err: fmt.Errorf("relay rejected login: %s", res.msg)}
		}
		logging.Info("Relay login succeeded",
			zap.String("user_id", res.userID),
			zap.String("session_id", c.SessionID()),
		)
	case <-gen.ctx.Done():
		return &Error{Kind: KindConnect, Op: "login", Addr: addr, Err: context.Cause(gen.ctx)}
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(c.opts.HelloGrace):
		return &Error{Kind: KindConnect, Op: "login", Addr: addr, Err: fmt.Errorf("no login response within %s", c.opts.HelloGrace)}
	}

	c.mu.Lock()
	if gen.ctx.Err() != nil || c.gen != gen {
		c.mu.Unlock()
		return &Error{Kind: KindConnect, Op: "login", Addr: addr, Err: context.Cause(gen.ctx)}
	}
	c.state = StateAuthenticated
	gen.wg.Add(1)
	c.tasks.Add(1)
	c.mu.Unlock()

	go c.heartbeat(gen)
	return nil
}

func (c *Client) dial(ctx context.Context) (net.Conn, error) {
	if c.opts.Dial != nil {
		return c.opts.Dial(ctx)
	}
	d := &tls.Dialer{Config: c.opts.TLSConfig}
	return d.DialContext(ctx, "tcp", c.opts.Addr)
}

// Disconnect stops the current generation, waiting a bounded time for its
// goroutines, and clears the session. It is safe to call at any time.
func (c *Client) Disconnect() {
	c.mu.Lock()
	gen := c.gen
	c.gen = nil
	c.sessionID = ""
	c.sessionKey = nil
	c.state = StateDisconnected
	c.mu.Unlock()

	if gen == nil {
		return
	}
	gen.stop(c.opts.DisconnectWait)
	logging.LogConnection(c.opts.Addr, "disconnected", zap.Uint64("generation", gen.id))
}

// disconnectGen disconnects only if gen is still the current generation.
func (c *Client) disconnectGen(gen *generation) bool {
	c.mu.Lock()
	current := c.gen == gen
	c.mu.Unlock()
	if !current {
		return false
	}
	c.Disconnect()
	return true
}

// scheduleReconnect starts a background reconnect when an authenticated
// generation failed. Failures of stale or still-handshaking generations are
// handled by their owners.
func (c *Client) scheduleReconnect(gen *generation, cause error) {
	c.mu.Lock()
	if c.closed || c.gen != gen || c.state != StateAuthenticated {
		c.mu.Unlock()
		return
	}
	if !c.reconnecting.CompareAndSwap(false, true) {
		c.mu.Unlock()
		return
	}
	c.bg.Add(1)
	c.mu.Unlock()

	go c.reconnect(gen, cause)
}

func (c *Client) reconnect(gen *generation, cause error) {
	defer c.bg.Done()
	defer c.reconnecting.Store(false)

	logging.Warn("Relay connection lost, reconnecting",
		zap.Uint64("generation", gen.id),
		zap.Error(cause),
	)

	if !c.disconnectGen(gen) {
		return
	}

	if !sleepCtx(c.closeCtx, c.opts.RetryInterval) {
		return
	}

	if err := c.ConnectAndLogin(c.closeCtx); err != nil {
		if errors.Is(err, ErrClosed) || c.closeCtx.Err() != nil {
			return
		}
		logging.Error("Relay reconnect failed", zap.Error(err))
		if c.opts.OnConnectFailed != nil {
			c.opts.OnConnectFailed(err)
		}
	}
}

// Close disconnects permanently and closes the Updates channel.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.closeCancel()
	c.Disconnect()
	c.bg.Wait()
	c.Disconnect()
	c.tasks.Wait()
	close(c.updates)
	return nil
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// currentSession returns the generation, session id and key when gen is
// still current.
func (c *Client) currentSession(gen *generation) (string, []byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen || len(c.sessionKey) == 0 {
		return "", nil, false
	}
	return c.sessionID, c.sessionKey, true
}

// authenticated returns the current generation if the session is authenticated.
func (c *Client) authenticated() (*generation, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateAuthenticated || c.gen == nil {
		return nil, false
	}
	return c.gen, true
}

// send encodes payload and writes it on gen. withSession selects the
// session key; otherwise the default key is used. A failed write cancels the
// generation and schedules a reconnect.
func (c *Client) send(gen *generation, cmd int, payload any, withSession bool) error {
	var sessionID string
	var key []byte
	if withSession {
		var ok bool
		sessionID, key, ok = c.currentSession(gen)
		if !ok {
			return ErrNotConnected
		}
	}

	data, err := protocol.Encode(payload, sessionID, key)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", protocol.CommandName(cmd), err)
	}

	if gen.ctx.Err() != nil {
		return ErrNotConnected
	}

	gen.writeMu.Lock()
	_ = gen.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
	_, err = gen.conn.Write(data)
	gen.writeMu.Unlock()

	if err != nil {
		sendErr := &Error{Kind: KindSend, Op: "write " + protocol.CommandName(cmd), Err: err}
		gen.fail(sendErr)
		c.scheduleReconnect(gen, sendErr)
		return sendErr
	}

	c.touch()
	logging.LogPacket("send", cmd, sessionID, data)
	return nil
}

// sleepCtx sleeps for d and reports whether it completed before ctx ended.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
