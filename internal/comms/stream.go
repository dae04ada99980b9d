package comms

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/loomworks/agentmesh/internal/a2a"
	amotel "github.com/loomworks/agentmesh/internal/adapter/otel"
)

// sessionBuffer is how many frames a session may lag before frames are
// dropped to protect the shared connection's read loop.
const sessionBuffer = 32

// wsConn is one WebSocket connection to an agent, shared by all streaming
// sessions targeting that agent. A single read loop demultiplexes inbound
// frames to sessions by request id.
type wsConn struct {
	agentID string
	ws      *websocket.Conn
	onClose func(*wsConn)

	writeMu sync.Mutex

	mu       sync.Mutex
	sessions map[string]chan a2a.Message
	closed   bool
	readErr  error
	lastUsed time.Time
	done     chan struct{}
}

func newWSConn(agentID string, ws *websocket.Conn, now time.Time, onClose func(*wsConn)) *wsConn {
	return &wsConn{
		agentID:  agentID,
		ws:       ws,
		onClose:  onClose,
		sessions: make(map[string]chan a2a.Message),
		lastUsed: now,
		done:     make(chan struct{}),
	}
}

func (c *wsConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *wsConn) touch(now time.Time) {
	c.mu.Lock()
	c.lastUsed = now
	c.mu.Unlock()
}

func (c *wsConn) idleSince() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastUsed
}

// register allocates a session slot for the given request id.
func (c *wsConn) register(requestID string) (chan a2a.Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, c.readErr
	}
	ch := make(chan a2a.Message, sessionBuffer)
	c.sessions[requestID] = ch
	return ch, nil
}

// unregister removes a session slot. The slot's channel is closed by the
// read loop on connection failure, never here, so a concurrent demux send
// cannot hit a closed channel.
func (c *wsConn) unregister(requestID string) {
	c.mu.Lock()
	delete(c.sessions, requestID)
	c.mu.Unlock()
}

// write sends one envelope, serializing concurrent writers.
func (c *wsConn) write(ctx context.Context, msg a2a.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.Write(ctx, websocket.MessageText, data)
}

// readLoop reads frames until the connection fails, routing each response to
// the session registered under its id. Frames for unknown ids and non-text
// frames are discarded.
func (c *wsConn) readLoop(log *slog.Logger, now func() time.Time) {
	for {
		typ, data, err := c.ws.Read(context.Background())
		if err != nil {
			c.fail(err)
			return
		}
		if typ != websocket.MessageText {
			continue
		}

		var msg a2a.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Warn("stream frame not valid json", "agent", c.agentID, "error", err)
			continue
		}
		id, ok := msg.StringID()
		if !ok {
			continue
		}

		c.mu.Lock()
		ch := c.sessions[id]
		c.lastUsed = now()
		c.mu.Unlock()
		if ch == nil {
			continue
		}

		select {
		case ch <- msg:
		default:
			log.Warn("stream session lagging, frame dropped", "agent", c.agentID, "request_id", id)
		}
	}
}

// fail records the terminal error, wakes every session, and removes the
// connection from the manager's table.
func (c *wsConn) fail(err error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.readErr = err
	for id, ch := range c.sessions {
		close(ch)
		delete(c.sessions, id)
	}
	close(c.done)
	c.mu.Unlock()

	if c.onClose != nil {
		c.onClose(c)
	}
}

func (c *wsConn) close() {
	_ = c.ws.Close(websocket.StatusNormalClosure, "")
}

// keepAlive pings the peer on the given interval until the connection closes.
func (c *wsConn) keepAlive(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), interval)
			err := c.ws.Ping(ctx)
			cancel()
			if err != nil {
				c.close()
				return
			}
		}
	}
}

// StreamSession is one streaming invocation multiplexed over a shared
// connection. Recv returns io.EOF when the stream ends.
type StreamSession struct {
	RequestID string

	conn *wsConn
	ch   <-chan a2a.Message

	closeOnce sync.Once
}

// Recv blocks for the next response frame addressed to this session. A frame
// with Partial set is intermediate; the first frame without it is final,
// though the session stays usable until Close. Recv returns io.EOF when the
// peer closes the connection.
func (s *StreamSession) Recv(ctx context.Context) (*a2a.Response, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case msg, ok := <-s.ch:
		if !ok {
			return nil, s.endError()
		}
		if msg.Error != nil {
			return nil, rpcError(msg.Error)
		}
		var resp a2a.Response
		if err := json.Unmarshal(msg.Result, &resp); err != nil {
			return nil, fmt.Errorf("decode result: %w", err)
		}
		return &resp, nil
	}
}

// endError maps the connection's terminal error: an orderly close is io.EOF,
// anything else surfaces as-is.
func (s *StreamSession) endError() error {
	s.conn.mu.Lock()
	err := s.conn.readErr
	s.conn.mu.Unlock()

	if err == nil || errors.Is(err, io.EOF) || websocket.CloseStatus(err) != -1 {
		return io.EOF
	}
	return err
}

// Close releases the session's slot on the shared connection. The connection
// itself stays open for other sessions.
func (s *StreamSession) Close() error {
	s.closeOnce.Do(func() {
		s.conn.unregister(s.RequestID)
	})
	return nil
}

// SendStreamingRequest opens a streaming session for one capability
// invocation, reusing the agent's existing WebSocket connection when one is
// open and dialing otherwise.
func (m *Manager) SendStreamingRequest(ctx context.Context, target a2a.AgentCard, invoke a2a.Request) (*StreamSession, error) {
	ctx, span := amotel.StartStreamSpan(ctx, target.ID, invoke.CapabilityID)
	defer span.End()

	invoke.Streaming = true

	conn, err := m.getOrDialConn(ctx, target)
	if err != nil {
		return nil, err
	}

	requestID := a2a.NewRequestID()
	envelope, err := a2a.NewRequest(requestID, a2a.MethodInvokeCapability, invoke)
	if err != nil {
		return nil, err
	}

	ch, err := conn.register(requestID)
	if err != nil && m.cfg.AutoReconnect {
		// the cached connection died under us: drop it and dial fresh
		m.removeConn(conn)
		if conn, err = m.getOrDialConn(ctx, target); err != nil {
			return nil, err
		}
		ch, err = conn.register(requestID)
	}
	if err != nil {
		return nil, err
	}

	if err := conn.write(ctx, envelope); err != nil {
		conn.unregister(requestID)
		conn.close()
		return nil, err
	}
	conn.touch(m.now())

	m.metrics.AddStreamSession(ctx)
	return &StreamSession{RequestID: requestID, conn: conn, ch: ch}, nil
}

// getOrDialConn returns the open connection for the target agent, dialing one
// when none exists. The dial happens outside the lock; when two callers race,
// the loser closes its own socket and adopts the winner's.
func (m *Manager) getOrDialConn(ctx context.Context, target a2a.AgentCard) (*wsConn, error) {
	m.mu.RLock()
	conn := m.conns[target.ID]
	m.mu.RUnlock()
	if conn != nil && !conn.isClosed() {
		conn.touch(m.now())
		return conn, nil
	}

	headers := http.Header{}
	if err := setAuthHeader(headers, target); err != nil {
		return nil, err
	}

	ws, _, err := websocket.Dial(ctx, joinURL(target.Connection.BaseURL, "v1/ws"), &websocket.DialOptions{
		HTTPClient: m.wsClient,
		HTTPHeader: headers,
	})
	if err != nil {
		return nil, fmt.Errorf("dial agent %s: %w", target.ID, err)
	}

	m.mu.Lock()
	if existing := m.conns[target.ID]; existing != nil && !existing.isClosed() {
		m.mu.Unlock()
		_ = ws.Close(websocket.StatusNormalClosure, "duplicate connection")
		return existing, nil
	}
	if len(m.conns) >= m.cfg.MaxConnections {
		m.mu.Unlock()
		_ = ws.Close(websocket.StatusNormalClosure, "connection limit")
		return nil, fmt.Errorf("%w: %d open", ErrTooManyConnections, m.cfg.MaxConnections)
	}
	conn = newWSConn(target.ID, ws, m.now(), m.removeConn)
	m.conns[target.ID] = conn
	m.mu.Unlock()

	go conn.readLoop(m.log, m.now)
	go conn.keepAlive(m.cfg.KeepAliveInterval)

	m.metrics.AddConn(ctx, 1)
	m.log.Debug("agent connection opened", "agent", target.ID)
	return conn, nil
}

// removeConn drops a connection from the table if it is still the one
// registered for its agent.
func (m *Manager) removeConn(c *wsConn) {
	m.mu.Lock()
	if m.conns[c.agentID] == c {
		delete(m.conns, c.agentID)
		m.mu.Unlock()
		m.metrics.AddConn(context.Background(), -1)
		return
	}
	m.mu.Unlock()
}

// CloseConnection closes the connection to one agent. Open sessions on it
// observe io.EOF.
func (m *Manager) CloseConnection(agentID string) {
	m.mu.RLock()
	conn := m.conns[agentID]
	m.mu.RUnlock()
	if conn != nil {
		conn.close()
	}
}

// CloseAll closes every open connection.
func (m *Manager) CloseAll() {
	m.mu.RLock()
	conns := make([]*wsConn, 0, len(m.conns))
	for _, c := range m.conns {
		conns = append(conns, c)
	}
	m.mu.RUnlock()

	for _, c := range conns {
		c.close()
	}
}

// CleanupConnections closes connections idle for at least twice the
// keep-alive interval.
func (m *Manager) CleanupConnections() {
	cutoff := m.now().Add(-2 * m.cfg.KeepAliveInterval)

	m.mu.RLock()
	var idle []*wsConn
	for _, c := range m.conns {
		if c.idleSince().Before(cutoff) {
			idle = append(idle, c)
		}
	}
	m.mu.RUnlock()

	for _, c := range idle {
		m.log.Debug("closing idle agent connection", "agent", c.agentID)
		c.close()
	}
}

// RunSweeper reaps idle connections on the given interval until ctx is
// cancelled. Meant to run in its own goroutine.
func (m *Manager) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.CleanupConnections()
		}
	}
}
