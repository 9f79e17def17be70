// Package inksync owns the relay connection: the connect/reconnect state
// machine, message dispatch, and the snapshot request/response exchange that
// bootstraps late joiners. All state lives on the host event loop; blocking
// work (dialing, snapshot decodes) runs off-loop and posts continuations
// back, which must tolerate the overlay or connection having gone away in
// the meantime.
package inksync

import (
	"context"
	"log/slog"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/coder/websocket"
	"github.com/nrednav/cuid2"

	"github.com/inklay/inklay/lib/canvas"
	"github.com/inklay/inklay/lib/eventloop"
	"github.com/inklay/inklay/lib/geom"
	"github.com/inklay/inklay/lib/protocol"
)

const (
	defaultMaxReconnectAttempts = 5
	defaultReconnectDelay       = 2 * time.Second
	defaultResizeDebounce       = 250 * time.Millisecond
	writeTimeout                = 2 * time.Second
	outboundBuffer              = 64
)

// Options configures a Client. Zero values fall back to defaults.
type Options struct {
	// ClientID identifies this client instance in logs. Generated when empty.
	ClientID string
	// MaxReconnectAttempts bounds each reconnect cycle. The initial connect
	// gets one extra attempt before the first retry counts.
	MaxReconnectAttempts int
	// ReconnectDelay is the fixed delay between attempts.
	ReconnectDelay time.Duration
	// ResizeDebounce is the window in which resize bursts collapse into a
	// single browser-dimensions message.
	ResizeDebounce time.Duration
	// Dialer opens the transport. DefaultDialer when nil.
	Dialer Dialer
	Logger *slog.Logger
}

// Client synchronizes the overlay with peers through the relay. Not safe
// for concurrent use; public methods marked loop-side must run as tasks on
// the host event loop.
type Client struct {
	loop    *eventloop.Loop
	log     *slog.Logger
	overlay *canvas.Overlay
	opts    Options

	ctx    context.Context
	cancel context.CancelFunc

	state    ConnectionState
	attempts int
	addr     string

	conn    Conn
	out     chan []byte
	connGen int

	resizeTimer *time.Timer
	pendingDims *protocol.Dimensions

	closed bool

	onState    func(ConnectionState)
	onTerminal func()
}

// New creates a client bound to the given loop and overlay.
func New(loop *eventloop.Loop, overlay *canvas.Overlay, opts Options) *Client {
	if opts.ClientID == "" {
		opts.ClientID = cuid2.Generate()
	}
	if opts.MaxReconnectAttempts <= 0 {
		opts.MaxReconnectAttempts = defaultMaxReconnectAttempts
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = defaultReconnectDelay
	}
	if opts.ResizeDebounce <= 0 {
		opts.ResizeDebounce = defaultResizeDebounce
	}
	if opts.Dialer == nil {
		opts.Dialer = DefaultDialer
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		loop:    loop,
		log:     opts.Logger.With("client", opts.ClientID),
		overlay: overlay,
		opts:    opts,
		ctx:     ctx,
		cancel:  cancel,
		state:   StateDisconnected,
	}
}

// OnStateChange registers an observer invoked on the loop after every state
// transition.
func (c *Client) OnStateChange(fn func(ConnectionState)) { c.onState = fn }

// OnTerminal registers the hook invoked on the loop when the connection
// reaches a terminal condition (Failed, or a server-initiated close). The
// hook is expected to tear the session down.
func (c *Client) OnTerminal(fn func()) { c.onTerminal = fn }

// State returns the current connection state. Safe to call from any
// goroutine.
func (c *Client) State() ConnectionState {
	state := StateClosed
	c.loop.PostWait(func() { state = c.state })
	return state
}

// Connect starts the initial connection cycle. Loop-side.
func (c *Client) Connect(relayURL, room string) {
	if c.closed || c.state != StateDisconnected {
		return
	}
	addr, err := relayAddr(relayURL, room)
	if err != nil {
		c.log.Error("invalid relay url", "url", relayURL, "err", err)
		c.setState(StateFailed)
		c.terminal()
		return
	}
	c.addr = addr
	c.setState(StateConnecting)
	// The initial attempt plus MaxReconnectAttempts retries.
	go c.dialCycle(c.opts.MaxReconnectAttempts + 1)
}

// dialCycle runs off-loop: it dials with a fixed delay between attempts
// until one succeeds or the budget is exhausted.
func (c *Client) dialCycle(budget int) {
	err := retry.New(
		retry.Context(c.ctx),
		retry.Attempts(uint(budget)),
		retry.Delay(c.opts.ReconnectDelay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			c.loop.Post(func() { c.handleAttemptFailure(int(n), err) })
		}),
	).Do(func() error {
		conn, err := c.opts.Dialer(c.ctx, c.addr)
		if err != nil {
			return err
		}
		c.loop.Post(func() { c.handleOpen(conn) })
		return nil
	})
	if err != nil {
		c.loop.Post(func() { c.handleExhausted(err) })
	}
}

// handleAttemptFailure runs on the loop after each failed dial that still
// has retries left.
func (c *Client) handleAttemptFailure(n int, err error) {
	if c.closed || c.isTerminal() {
		return
	}
	c.attempts = n
	c.log.Warn("relay connect attempt failed", "attempt", n, "err", err)
	c.setState(StateReconnecting)
}

// handleExhausted runs on the loop when a dial cycle has used its whole
// budget without connecting.
func (c *Client) handleExhausted(err error) {
	if c.closed || c.isTerminal() {
		return
	}
	c.log.Error("relay connection failed permanently", "attempts", c.attempts+1, "err", err)
	c.setState(StateFailed)
	c.terminal()
}

// handleOpen runs on the loop once a dial succeeds.
func (c *Client) handleOpen(conn Conn) {
	if c.closed || c.isTerminal() {
		_ = conn.Close(websocket.StatusNormalClosure, "session ended")
		return
	}
	c.conn = conn
	c.connGen++
	c.attempts = 0
	c.setState(StateConnected)

	gen := c.connGen
	out := make(chan []byte, outboundBuffer)
	c.out = out
	go c.writePump(conn, out)
	go c.readPump(conn, gen)

	c.send(protocol.EventClientReady, nil)
	if v := c.overlay.Viewport(); v.Valid() {
		c.send(protocol.EventBrowserDimensions, protocol.Dimensions{Width: v.Width, Height: v.Height})
	}
}

func (c *Client) writePump(conn Conn, out <-chan []byte) {
	for data := range out {
		wctx, cancel := context.WithTimeout(c.ctx, writeTimeout)
		err := conn.Write(wctx, data)
		cancel()
		if err != nil {
			// The read pump surfaces the loss; just stop writing.
			return
		}
	}
}

func (c *Client) readPump(conn Conn, gen int) {
	for {
		data, err := conn.Read(c.ctx)
		if err != nil {
			c.loop.Post(func() { c.handleTransportLoss(gen, err) })
			return
		}
		c.loop.Post(func() { c.dispatch(gen, data) })
	}
}

// handleTransportLoss runs on the loop when the read pump dies. A clean
// server-initiated close ends the session; anything else starts a reconnect
// cycle.
func (c *Client) handleTransportLoss(gen int, err error) {
	if c.closed || gen != c.connGen || c.state != StateConnected {
		return
	}
	c.dropConn()
	if isServerClose(err) {
		c.log.Info("relay closed the connection", "err", err)
		c.terminal()
		return
	}
	c.log.Warn("relay connection lost, reconnecting", "err", err)
	c.setState(StateReconnecting)
	go c.dialCycle(c.opts.MaxReconnectAttempts)
}

// dispatch runs on the loop for every inbound message. Malformed payloads
// are logged and dropped; they are never fatal.
func (c *Client) dispatch(gen int, data []byte) {
	if c.closed || gen != c.connGen || !c.overlay.Created() {
		return
	}
	env, err := protocol.Decode(data)
	if err != nil {
		c.log.Warn("dropping relay message", "err", err)
		return
	}

	switch env.Event {
	case protocol.EventGetCanvasState:
		snap, err := c.overlay.Snapshot()
		if err != nil {
			c.log.Warn("snapshot capture failed", "err", err)
			return
		}
		c.send(protocol.EventCanvasState, protocol.CanvasState{Snapshot: snap})

	case protocol.EventCanvasStateFromServer:
		cs, err := env.CanvasState()
		if err != nil {
			c.log.Warn("dropping canvas state", "err", err)
			return
		}
		c.applySnapshotAsync(cs.Snapshot)

	case protocol.EventDrawLine:
		seg, err := env.DrawLine()
		if err != nil {
			c.log.Warn("dropping draw-line", "err", err)
			return
		}
		c.overlay.DrawRemote(*seg)

	case protocol.EventClear:
		c.overlay.Clear()

	default:
		// client-ready, browser-dimensions and canvas-state travel
		// client-to-relay only.
		c.log.Debug("ignoring unexpected relay message", "event", env.Event)
	}
}

// applySnapshotAsync decodes off the loop, then re-enters to apply. By the
// time the decode finishes the surface may be gone or cleared; the apply
// re-checks, and a clear that lands during the decode is overwritten only
// if the apply completes after it.
func (c *Client) applySnapshotAsync(snapshot string) {
	go func() {
		img, err := canvas.DecodeSnapshot(snapshot)
		c.loop.Post(func() {
			if c.closed || !c.overlay.Created() {
				return
			}
			if err != nil {
				c.log.Warn("dropping undecodable snapshot", "err", err)
				return
			}
			if err := c.overlay.ApplyImage(img); err != nil {
				c.log.Warn("snapshot apply failed", "err", err)
			}
		})
	}()
}

// SendSegment broadcasts one locally drawn segment. Loop-side; wired as the
// overlay's segment sink.
func (c *Client) SendSegment(seg protocol.DrawLine) {
	if c.state != StateConnected {
		return
	}
	c.send(protocol.EventDrawLine, seg)
}

// NotifyResize schedules a browser-dimensions message, collapsing bursts
// within the debounce window into one message carrying the final
// dimensions. Loop-side; wired as the overlay's resize sink.
func (c *Client) NotifyResize(v geom.Viewport) {
	if c.closed {
		return
	}
	c.pendingDims = &protocol.Dimensions{Width: v.Width, Height: v.Height}
	if c.resizeTimer != nil {
		c.resizeTimer.Stop()
	}
	c.resizeTimer = c.loop.AfterFunc(c.opts.ResizeDebounce, c.flushResize)
}

func (c *Client) flushResize() {
	if c.closed {
		return
	}
	c.resizeTimer = nil
	dims := c.pendingDims
	c.pendingDims = nil
	if dims != nil && c.state == StateConnected {
		c.send(protocol.EventBrowserDimensions, *dims)
	}
}

// send encodes and queues an outbound message. The queue never blocks the
// loop; when it is full the message is dropped and logged.
func (c *Client) send(event string, payload any) {
	if c.out == nil {
		return
	}
	data, err := protocol.Encode(event, payload)
	if err != nil {
		c.log.Error("encode outbound message", "event", event, "err", err)
		return
	}
	select {
	case c.out <- data:
	default:
		c.log.Warn("outbound queue full, dropping message", "event", event)
	}
}

// Close releases the transport and cancels any in-flight reconnect cycle.
// Loop-side; safe to call repeatedly. The state reaches Closed only here,
// after the socket handle is released.
func (c *Client) Close() {
	if c.closed {
		return
	}
	c.closed = true
	c.cancel()
	if c.resizeTimer != nil {
		c.resizeTimer.Stop()
		c.resizeTimer = nil
	}
	c.pendingDims = nil
	c.dropConn()
	c.setState(StateClosed)
}

// dropConn releases the current connection, if any, and invalidates
// outstanding pump callbacks.
func (c *Client) dropConn() {
	if c.conn != nil {
		_ = c.conn.Close(websocket.StatusNormalClosure, "teardown")
		c.conn = nil
	}
	if c.out != nil {
		close(c.out)
		c.out = nil
	}
	c.connGen++
}

func (c *Client) isTerminal() bool {
	return c.state == StateFailed || c.state == StateClosed
}

func (c *Client) setState(s ConnectionState) {
	if c.state == s {
		return
	}
	c.log.Debug("connection state", "from", c.state, "to", s)
	c.state = s
	if c.onState != nil {
		c.onState(s)
	}
}

// terminal hands control to the teardown hook. Without a hook the client
// cleans itself up so the socket is never left dangling.
func (c *Client) terminal() {
	if c.onTerminal != nil {
		c.onTerminal()
		return
	}
	c.Close()
}
