package channel

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

type SocketConfig struct {
	URL            string
	Shop           string
	Username       string
	Token          string
	ReconnectDelay time.Duration
	DialTimeout    time.Duration
	WriteTimeout   time.Duration
}

// Socket is the websocket driver. After Connect it keeps a read loop running
// and redials with a fixed delay whenever the connection drops, until Close.
type Socket struct {
	Registry

	cfg    SocketConfig
	dialer *websocket.Dialer

	writeMu   sync.Mutex
	connMu    sync.RWMutex
	conn      *websocket.Conn
	connected atomic.Bool

	closed    chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

func NewSocket(cfg SocketConfig) *Socket {
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 500 * time.Millisecond
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 20 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	return &Socket{
		cfg:    cfg,
		dialer: &websocket.Dialer{HandshakeTimeout: cfg.DialTimeout, Proxy: http.ProxyFromEnvironment},
		closed: make(chan struct{}),
	}
}

// Connect dials once and starts the background loop. A failed first dial is
// returned, and the loop keeps redialing so the terminal can start offline.
func (s *Socket) Connect(ctx context.Context) error {
	conn, err := s.dial(ctx)
	if err == nil && !s.attach(conn) {
		conn = nil
	}

	s.wg.Add(1)
	go s.run(conn)
	return err
}

func (s *Socket) dial(ctx context.Context) (*websocket.Conn, error) {
	u, err := url.Parse(s.cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid socket url: %w", err)
	}
	q := u.Query()
	if s.cfg.Shop != "" {
		q.Set("carrinho", s.cfg.Shop)
	}
	if s.cfg.Username != "" {
		q.Set("username", s.cfg.Username)
	}
	u.RawQuery = q.Encode()

	header := http.Header{}
	if s.cfg.Token != "" {
		header.Set("Authorization", "Bearer "+s.cfg.Token)
	}

	dialCtx, cancel := context.WithTimeout(ctx, s.cfg.DialTimeout)
	defer cancel()

	conn, _, err := s.dialer.DialContext(dialCtx, u.String(), header)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", u.Host, err)
	}
	return conn, nil
}

// attach makes conn the live connection. Once Close has started the
// connection is closed instead and attach reports false.
func (s *Socket) attach(conn *websocket.Conn) bool {
	s.connMu.Lock()
	select {
	case <-s.closed:
		s.connMu.Unlock()
		_ = conn.Close()
		return false
	default:
	}
	s.conn = conn
	s.connMu.Unlock()
	s.connected.Store(true)
	s.Dispatch(EventConnect, nil)
	return true
}

func (s *Socket) detach(conn *websocket.Conn) {
	s.connMu.Lock()
	if s.conn == conn {
		s.conn = nil
	}
	s.connMu.Unlock()
	_ = conn.Close()
	if s.connected.Swap(false) {
		s.Dispatch(EventDisconnect, nil)
	}
}

func (s *Socket) run(conn *websocket.Conn) {
	defer s.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-s.closed:
			cancel()
		case <-ctx.Done():
		}
	}()

	for {
		if conn != nil {
			s.readLoop(conn)
			s.detach(conn)
		}

		for {
			select {
			case <-s.closed:
				return
			case <-time.After(s.cfg.ReconnectDelay):
			}

			next, err := s.dial(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				log.Printf("channel: reconnect failed: %v", err)
				continue
			}
			if !s.attach(next) {
				return
			}
			conn = next
			break
		}
	}
}

func (s *Socket) readLoop(conn *websocket.Conn) {
	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-s.closed:
			default:
				log.Printf("channel: read failed: %v", err)
			}
			return
		}
		env, err := Decode(frame)
		if err != nil {
			log.Printf("channel: dropping frame: %v", err)
			continue
		}
		s.Dispatch(env.Event, env.Data)
	}
}

func (s *Socket) Emit(ctx context.Context, event string, payload any) error {
	s.connMu.RLock()
	conn := s.conn
	s.connMu.RUnlock()
	if conn == nil || !s.connected.Load() {
		return ErrNotConnected
	}

	frame, err := Encode(event, payload)
	if err != nil {
		return err
	}

	deadline := time.Now().Add(s.cfg.WriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = conn.SetWriteDeadline(deadline)
	if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		return fmt.Errorf("failed to emit %s: %w", event, err)
	}
	return nil
}

func (s *Socket) Connected() bool {
	return s.connected.Load()
}

// Close stops reconnecting and closes the live connection.
func (s *Socket) Close() error {
	s.closeOnce.Do(func() {
		close(s.closed)
		s.connMu.RLock()
		conn := s.conn
		s.connMu.RUnlock()
		if conn != nil {
			s.writeMu.Lock()
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			s.writeMu.Unlock()
			_ = conn.Close()
		}
	})
	s.wg.Wait()
	return nil
}
