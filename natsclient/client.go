// Package natsclient provides a client for managing a single NATS connection.
package natsclient

import (
	"context"
	"crypto/tls"
	stderrors "errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/ldotlopez/vol2mqtt/errors"
)

// ConnectionStatus represents the state of the NATS connection
type ConnectionStatus int

// Possible connection statuses
const (
	StatusDisconnected ConnectionStatus = iota
	StatusConnecting
	StatusConnected
	StatusClosed
)

// String returns the string representation of ConnectionStatus
func (s ConnectionStatus) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Status holds runtime status information for the client
type Status struct {
	Status     ConnectionStatus
	URL        string
	OutMsgs    uint64
	OutBytes   uint64
	RTT        time.Duration
}

// Client manages one NATS connection
type Client struct {
	url    string
	status atomic.Value // stores ConnectionStatus
	logger Logger

	conn *nats.Conn
	subs []*nats.Subscription

	// Connection options
	pingInterval time.Duration
	timeout      time.Duration
	flushTimeout time.Duration
	drainTimeout time.Duration

	// Authentication - sensitive fields cleared on close
	username string
	password string
	token    string

	clientName string
	tlsConfig  *tls.Config

	// Callbacks
	onConnectionLost func(error)

	// Synchronization
	mu      sync.RWMutex
	closeMu sync.Mutex  // Ensures Close() is called only once
	closed  atomic.Bool // Track if client is closed
}

// NewClient creates a new NATS client with optional configuration
func NewClient(url string, opts ...ClientOption) (*Client, error) {
	c := &Client{
		url:          url,
		logger:       NewSlogLogger(nil),
		pingInterval: 30 * time.Second,
		timeout:      5 * time.Second,
		drainTimeout: 5 * time.Second,
	}

	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, errors.WrapInvalid(err, "Client", "NewClient", "apply option")
		}
	}

	c.status.Store(StatusDisconnected)
	c.logger.Debugf("Created NATS client for %s", url)

	return c, nil
}

// URL returns the NATS server URL
func (m *Client) URL() string {
	return m.url
}

// Status returns the current connection status
func (m *Client) Status() ConnectionStatus {
	val := m.status.Load()
	if val == nil {
		return StatusDisconnected
	}
	return val.(ConnectionStatus)
}

// IsHealthy reports whether the connection is up
func (m *Client) IsHealthy() bool {
	return m.Status() == StatusConnected
}

// GetConnection returns the current NATS connection
func (m *Client) GetConnection() *nats.Conn {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.conn
}

func (m *Client) setStatus(status ConnectionStatus) {
	m.status.Store(status)
}

// GetStatus returns a snapshot of the connection statistics
func (m *Client) GetStatus() *Status {
	s := &Status{Status: m.Status(), URL: m.url}

	conn := m.GetConnection()
	if conn == nil {
		return s
	}

	stats := conn.Stats()
	s.OutMsgs = stats.OutMsgs
	s.OutBytes = stats.OutBytes
	if rtt, err := conn.RTT(); err == nil {
		s.RTT = rtt
	}
	return s
}

func (m *Client) buildConnectionOptions() []nats.Option {
	opts := []nats.Option{
		nats.PingInterval(m.pingInterval),
		nats.Timeout(m.timeout),
		nats.DrainTimeout(m.drainTimeout),
		nats.DisconnectErrHandler(m.handleDisconnect),
		nats.ClosedHandler(m.handleClosed),
		nats.ErrorHandler(m.handleError),
		nats.NoReconnect(),
	}

	if m.username != "" && m.password != "" {
		opts = append(opts, nats.UserInfo(m.username, m.password))
	}
	if m.token != "" {
		opts = append(opts, nats.Token(m.token))
	}

	if m.clientName != "" {
		opts = append(opts, nats.Name(m.clientName))
	}
	if m.tlsConfig != nil {
		opts = append(opts, nats.Secure(m.tlsConfig))
	}

	return opts
}

// Connect establishes the connection. A broker that cannot be reached is a fatal
// error; there is no retry.
func (m *Client) Connect(ctx context.Context) error {
	if m.closed.Load() {
		return errors.WrapFatal(errors.ErrAlreadyStopped, "Client", "Connect", "check state")
	}

	m.setStatus(StatusConnecting)
	m.logger.Printf("Connecting to NATS at %s", m.url)

	opts := m.buildConnectionOptions()

	connectDone := make(chan error, 1)
	go func() {
		conn, err := nats.Connect(m.url, opts...)
		if err != nil {
			connectDone <- err
			return
		}

		// Connect may have been abandoned by the caller already
		if ctx.Err() != nil {
			conn.Close()
			connectDone <- ctx.Err()
			return
		}

		m.mu.Lock()
		m.conn = conn
		m.mu.Unlock()

		connectDone <- nil
	}()

	select {
	case err := <-connectDone:
		if err != nil {
			m.setStatus(StatusDisconnected)
			if stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
				return errors.WrapTransient(fmt.Errorf("%w: %v", errors.ErrConnectionTimeout, err),
					"Client", "Connect", "connection cancelled")
			}
			return errors.WrapFatal(fmt.Errorf("%w: %s: %v", errors.ErrNotConnected, m.url, err),
				"Client", "Connect", "establish connection")
		}
	case <-ctx.Done():
		m.setStatus(StatusDisconnected)
		return errors.WrapTransient(fmt.Errorf("%w: %v", errors.ErrConnectionTimeout, ctx.Err()),
			"Client", "Connect", "connection cancelled")
	}

	m.setStatus(StatusConnected)
	m.logger.Printf("Successfully connected to NATS at %s", m.url)

	return nil
}

// Close drains and closes the connection. Calling it more than once is a no-op.
func (m *Client) Close(ctx context.Context) error {
	m.closeMu.Lock()
	defer m.closeMu.Unlock()

	if m.closed.Load() {
		return nil
	}
	m.closed.Store(true)

	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error

	for _, sub := range m.subs {
		if err := sub.Unsubscribe(); err != nil && !stderrors.Is(err, nats.ErrConnectionClosed) {
			errs = append(errs, errors.Wrap(err, "Client", "Close", "unsubscribe"))
		}
	}
	m.subs = nil

	if m.conn != nil && !m.conn.IsClosed() {
		drainTimeout := m.drainTimeout
		if deadline, ok := ctx.Deadline(); ok {
			if remaining := time.Until(deadline); remaining > 0 && remaining < drainTimeout {
				drainTimeout = remaining
			}
		}

		drainDone := make(chan error, 1)
		conn := m.conn
		go func() {
			drainDone <- conn.Drain()
		}()

		select {
		case err := <-drainDone:
			if err != nil {
				errs = append(errs, errors.Wrap(err, "Client", "Close", "drain connection"))
			}
		case <-time.After(drainTimeout):
			errs = append(errs, errors.WrapTransient(
				fmt.Errorf("drain timeout after %v", drainTimeout), "Client", "Close", "drain timeout"))
			m.logger.Errorf("Drain timeout after %v, force closing", drainTimeout)
		case <-ctx.Done():
			errs = append(errs, errors.Wrap(ctx.Err(), "Client", "Close", "context cancelled during drain"))
		}

		conn.Close()
	}
	m.conn = nil

	m.username = ""
	m.password = ""
	m.token = ""

	m.setStatus(StatusClosed)

	return stderrors.Join(errs...)
}

// RTT returns the round-trip time to the server
func (m *Client) RTT() (time.Duration, error) {
	conn := m.GetConnection()
	if conn == nil {
		return 0, errors.ErrNotConnected
	}
	return conn.RTT()
}

// Subscribe registers handler for subject. Subscriptions are removed on Close.
func (m *Client) Subscribe(ctx context.Context, subject string, handler func(context.Context, []byte)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.conn == nil {
		return errors.ErrNotConnected
	}

	sub, err := m.conn.Subscribe(subject, func(msg *nats.Msg) {
		handler(ctx, msg.Data)
	})
	if err != nil {
		return errors.WrapTransient(err, "Client", "Subscribe", "subscribe")
	}
	m.subs = append(m.subs, sub)
	return nil
}

// Publish sends data on subject. With a flush timeout configured it also waits for
// the server to process the message, bounded by ctx.
func (m *Client) Publish(ctx context.Context, subject string, data []byte) error {
	m.mu.RLock()
	conn := m.conn
	m.mu.RUnlock()

	if conn == nil || !conn.IsConnected() {
		return errors.ErrNotConnected
	}

	if err := conn.Publish(subject, data); err != nil {
		return errors.WrapFatal(err, "Client", "Publish", "publish")
	}

	if m.flushTimeout <= 0 {
		return nil
	}

	flushCtx, cancel := context.WithTimeout(ctx, m.flushTimeout)
	defer cancel()
	if err := conn.FlushWithContext(flushCtx); err != nil {
		if stderrors.Is(err, context.DeadlineExceeded) || stderrors.Is(err, nats.ErrTimeout) {
			return errors.WrapFatal(fmt.Errorf("%w: %v", errors.ErrPublishTimeout, err), "Client", "Publish", "flush")
		}
		return errors.WrapFatal(err, "Client", "Publish", "flush")
	}
	return nil
}

func (m *Client) handleDisconnect(_ *nats.Conn, err error) {
	if m.closed.Load() {
		return
	}
	m.setStatus(StatusDisconnected)
	if err != nil {
		m.logger.Errorf("Disconnected from NATS: %v", err)
	}
}

func (m *Client) handleClosed(conn *nats.Conn) {
	if m.closed.Load() {
		return
	}
	m.setStatus(StatusDisconnected)

	err := conn.LastError()
	if err == nil {
		err = errors.ErrConnectionLost
	}
	m.logger.Errorf("NATS connection closed: %v", err)

	if m.onConnectionLost != nil {
		m.onConnectionLost(err)
	}
}

func (m *Client) handleError(_ *nats.Conn, _ *nats.Subscription, err error) {
	m.logger.Errorf("NATS error: %v", err)
}
