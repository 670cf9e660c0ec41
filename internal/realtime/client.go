package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/matheus3301/dmsync/internal/session"
	"github.com/matheus3301/dmsync/internal/status"
)

const (
	writeWait      = 10 * time.Second
	handshakeWait  = 10 * time.Second
	maxMessageSize = 1 << 20
)

// DefaultDelays is the reconnect schedule; the last delay repeats forever.
var DefaultDelays = []time.Duration{0, 2 * time.Second, 10 * time.Second, 30 * time.Second}

var errUnauthorized = errors.New("hub rejected credentials")

// Options configures the hub connection.
type Options struct {
	URL           string
	Token         string
	Delays        []time.Duration
	KeepAlive     time.Duration
	ServerTimeout time.Duration
	Dialer        *websocket.Dialer
}

// Client is the auto-reconnecting push channel for one user.
type Client struct {
	opts    Options
	machine *status.Machine
	guard   *session.Guard
	logger  *zap.Logger

	mu       sync.Mutex
	handlers []Handler
	started  bool
	cancel   context.CancelFunc
	done     chan struct{}
}

// New creates a client in the Disconnected state. guard may be nil.
func New(opts Options, machine *status.Machine, guard *session.Guard, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(opts.Delays) == 0 {
		opts.Delays = DefaultDelays
	}
	if opts.KeepAlive <= 0 {
		opts.KeepAlive = 15 * time.Second
	}
	if opts.ServerTimeout <= 0 {
		opts.ServerTimeout = 2 * opts.KeepAlive
	}
	if opts.Dialer == nil {
		opts.Dialer = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: handshakeWait,
		}
	}
	return &Client{
		opts:    opts,
		machine: machine,
		guard:   guard,
		logger:  logger,
	}
}

// AddHandler registers h for every event dispatched after the call.
func (c *Client) AddHandler(h Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers = append(c.handlers, h)
}

// State returns the channel's lifecycle state.
func (c *Client) State() status.State {
	return c.machine.Current()
}

// Subscribe opens the channel addressed to userID and keeps it open until
// Stop is called or the hub rejects the credentials.
func (c *Client) Subscribe(userID int64) error {
	if userID <= 0 {
		return fmt.Errorf("subscribe: invalid user id %d", userID)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return errors.New("subscribe: channel already started")
	}
	if c.machine.Current() == status.Closed {
		return errors.New("subscribe: channel closed")
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.started = true
	c.cancel = cancel
	c.done = make(chan struct{})
	go c.loop(ctx, userID)
	return nil
}

// Stop tears the channel down for good. It is safe to call more than once.
func (c *Client) Stop() {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
		return
	}
	c.transition(status.Closed)
}

func (c *Client) loop(ctx context.Context, userID int64) {
	rejected := c.run(ctx, userID)
	c.transition(status.Closed)
	close(c.done)
	if rejected && c.guard != nil {
		c.guard.Trip()
	}
}

// run reconnects until ctx ends. It reports whether the hub refused the session.
func (c *Client) run(ctx context.Context, userID int64) bool {
	attempt := 0
	for {
		if attempt > 0 {
			delay := c.opts.Delays[min(attempt-1, len(c.opts.Delays)-1)]
			if delay > 0 {
				c.logger.Info("reconnecting", zap.Int("attempt", attempt), zap.Duration("delay", delay))
			}
			select {
			case <-ctx.Done():
				return false
			case <-time.After(delay):
			}
		}
		if ctx.Err() != nil {
			return false
		}

		c.transition(status.Connecting)
		conn, pending, err := c.dial(ctx, userID)
		if err != nil {
			if errors.Is(err, errUnauthorized) {
				c.logger.Warn("hub rejected session", zap.Error(err))
				return true
			}
			if ctx.Err() != nil {
				return false
			}
			c.logger.Warn("hub connect failed", zap.Error(err))
			c.transition(status.Disconnected)
			attempt++
			continue
		}

		attempt = 1
		c.transition(status.Connected)
		c.logger.Info("hub connected")
		err = c.serve(ctx, conn, pending)
		if ctx.Err() != nil {
			return false
		}
		c.logger.Warn("hub connection dropped", zap.Error(err))
		c.transition(status.Disconnected)
	}
}

// dial connects and completes the handshake. Frames the hub sent along with
// the handshake reply are returned for dispatch.
func (c *Client) dial(ctx context.Context, userID int64) (*websocket.Conn, [][]byte, error) {
	u, err := url.Parse(c.opts.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("parse hub url: %w", err)
	}
	q := u.Query()
	q.Set("userId", strconv.FormatInt(userID, 10))
	u.RawQuery = q.Encode()

	header := http.Header{}
	if c.opts.Token != "" {
		header.Set("Authorization", "Bearer "+c.opts.Token)
	}

	conn, resp, err := c.opts.Dialer.DialContext(ctx, u.String(), header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, nil, fmt.Errorf("%w: %s", errUnauthorized, resp.Status)
		}
		return nil, nil, err
	}

	pending, err := handshake(conn)
	if err != nil {
		_ = conn.Close()
		return nil, nil, err
	}
	return conn, pending, nil
}

func handshake(conn *websocket.Conn) ([][]byte, error) {
	req, err := encodeFrame(handshakeRequest{Protocol: "json", Version: 1})
	if err != nil {
		return nil, err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, req); err != nil {
		return nil, fmt.Errorf("send handshake: %w", err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(handshakeWait))
	_, data, err := conn.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("read handshake: %w", err)
	}
	frames := splitFrames(data)
	if len(frames) == 0 {
		return nil, errors.New("empty handshake response")
	}
	var resp handshakeResponse
	if err := json.Unmarshal(frames[0], &resp); err != nil {
		return nil, fmt.Errorf("decode handshake: %w", err)
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("handshake refused: %s", resp.Error)
	}
	return frames[1:], nil
}

// serve dispatches pending, then reads frames until the connection fails or
// ctx ends. Pings are written from a separate goroutine; it is the only
// writer after the handshake.
func (c *Client) serve(ctx context.Context, conn *websocket.Conn, pending [][]byte) error {
	conn.SetReadLimit(maxMessageSize)

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(c.opts.KeepAlive)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ctx.Done():
				_ = conn.Close()
				return
			case <-ticker.C:
				_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteMessage(websocket.TextMessage, pingFrame); err != nil {
					c.logger.Warn("hub ping failed", zap.Error(err))
					_ = conn.Close()
					return
				}
			}
		}
	}()
	defer func() {
		close(stop)
		wg.Wait()
		_ = conn.Close()
	}()

	for _, raw := range pending {
		if err := c.handleFrame(raw); err != nil {
			return err
		}
	}
	for {
		_ = conn.SetReadDeadline(time.Now().Add(c.opts.ServerTimeout))
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		for _, raw := range splitFrames(data) {
			if err := c.handleFrame(raw); err != nil {
				return err
			}
		}
	}
}

// handleFrame dispatches one frame. Only a close frame ends the connection;
// malformed payloads are logged and skipped.
func (c *Client) handleFrame(raw []byte) error {
	f, err := decodeFrame(raw)
	if err != nil {
		c.logger.Warn("dropping hub frame", zap.Error(err))
		return nil
	}
	switch f.Type {
	case typeInvocation:
		evt, err := ParseInvocation(f.Target, f.Arguments)
		if err != nil {
			if errors.Is(err, ErrUnknownTarget) {
				c.logger.Debug("ignoring hub invocation", zap.String("target", f.Target))
			} else {
				c.logger.Warn("dropping invalid push event", zap.String("target", f.Target), zap.Error(err))
			}
			return nil
		}
		c.dispatch(evt)
	case typeClose:
		if f.Error != "" {
			return fmt.Errorf("hub closed connection: %s", f.Error)
		}
		return errors.New("hub closed connection")
	case typePing, typeCompletion:
	default:
		c.logger.Debug("ignoring hub frame", zap.Int("type", f.Type))
	}
	return nil
}

func (c *Client) dispatch(evt Event) {
	c.mu.Lock()
	handlers := c.handlers
	c.mu.Unlock()
	for _, h := range handlers {
		h(evt)
	}
}

func (c *Client) transition(to status.State) {
	from := c.machine.Current()
	if from == to {
		return
	}
	if err := c.machine.Transition(to); err != nil {
		c.logger.Debug("channel state unchanged", zap.Error(err))
		return
	}
	c.logger.Info("channel state", zap.String("from", string(from)), zap.String("to", string(to)))
}
