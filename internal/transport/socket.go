// Package transport implements the framed duplex socket the duplex RPC
// layer is built on: a websocket connection where every application
// message is wrapped in a Frame and acknowledged by its peer before the
// sender's next write is considered delivered.
package transport

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/relaydash/hostsdk/internal/wire"
)

// ErrNotConnected is returned by Send/Ping once the socket has been
// closed.
var ErrNotConnected = fmt.Errorf("transport: not connected")

// ErrClosed is returned by in-flight Send/Ping calls when Close runs
// while they are still waiting for an ack.
var ErrClosed = fmt.Errorf("transport: socket closed")

// Options configures a Socket. Zero-value duration fields fall back to
// the defaults below.
type Options struct {
	// URL is the websocket endpoint, e.g. wss://host/websocket.
	URL string
	// Header carries connection-level auth, e.g. x-api-key,
	// x-instance-id.
	Header http.Header
	// ConnectTimeout bounds the wait for the dashboard's "authenticated"
	// sentinel after dial. Default 10s.
	ConnectTimeout time.Duration
	// SendTimeout bounds the wait for a message's ack. Default 10s.
	SendTimeout time.Duration
	// PingTimeout bounds the wait for a ping's ack. Default 5s.
	PingTimeout time.Duration
	// ProducerCount is the number of goroutines draining the outbound
	// queue. Default 1; the original Python SDK is single-producer, but
	// the queue-plus-pending-map design here is safe under more.
	ProducerCount int
	// OutQueueSize bounds the outbound buffered channel. Default 64.
	OutQueueSize int
	// Logger receives structured diagnostics. Defaults to slog.Default().
	Logger *slog.Logger

	// OnMessage is invoked, in its own goroutine, for every inbound
	// MESSAGE frame's data after the ACK has been queued and besides
	// the "authenticated" sentinel itself.
	OnMessage func(data string)
	// OnClose is invoked once when the socket's read loop exits, with
	// the error that caused it (nil on a clean Close).
	OnClose func(err error)
}

func (o *Options) setDefaults() {
	if o.ConnectTimeout == 0 {
		o.ConnectTimeout = 10 * time.Second
	}
	if o.SendTimeout == 0 {
		o.SendTimeout = 10 * time.Second
	}
	if o.PingTimeout == 0 {
		o.PingTimeout = 5 * time.Second
	}
	if o.ProducerCount <= 0 {
		o.ProducerCount = 1
	}
	if o.OutQueueSize <= 0 {
		o.OutQueueSize = 64
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

type outboundFrame struct {
	frame wire.Frame
}

// pendingAck tracks a MESSAGE frame awaiting its ACK.
type pendingAck struct {
	done chan error
}

// Socket is a single connected framed duplex socket. It is safe for
// concurrent Send/Ping/Close calls but is not reconnect-aware: a dropped
// connection surfaces via OnClose and the caller must Dial a replacement
// (see internal/rpc's Rebind and hostsdk's reconnect loop).
type Socket struct {
	opts Options
	conn *websocket.Conn

	out chan outboundFrame

	mu      sync.Mutex
	pending map[uuid.UUID]*pendingAck
	closed  bool

	authenticated chan struct{}
	authOnce      sync.Once

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	closeErr error
	closeSet sync.Once
}

// Dial opens the websocket connection and starts the socket's producer
// and consumer goroutines. It returns once the dashboard's
// "authenticated" sentinel has arrived or opts.ConnectTimeout elapses.
func Dial(ctx context.Context, opts Options) (*Socket, error) {
	opts.setDefaults()

	dialer := websocket.Dialer{
		HandshakeTimeout: opts.ConnectTimeout,
	}

	u, err := url.Parse(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("transport: parse url: %w", err)
	}

	conn, resp, err := dialer.DialContext(ctx, u.String(), opts.Header)
	if err != nil {
		return nil, fmt.Errorf("transport: dial: %w", err)
	}
	if resp != nil {
		resp.Body.Close()
	}

	sctx, cancel := context.WithCancel(context.Background())
	s := &Socket{
		opts:          opts,
		conn:          conn,
		out:           make(chan outboundFrame, opts.OutQueueSize),
		pending:       make(map[uuid.UUID]*pendingAck),
		authenticated: make(chan struct{}),
		ctx:           sctx,
		cancel:        cancel,
	}

	s.wg.Add(1)
	go s.consume()

	for i := 0; i < opts.ProducerCount; i++ {
		s.wg.Add(1)
		go s.produce()
	}

	connectCtx, connectCancel := context.WithTimeout(ctx, opts.ConnectTimeout)
	defer connectCancel()

	select {
	case <-s.authenticated:
		return s, nil
	case <-connectCtx.Done():
		s.Close()
		return nil, fmt.Errorf("transport: timed out waiting for authentication")
	case <-sctx.Done():
		return nil, fmt.Errorf("transport: %w", s.closeErr)
	}
}

func (s *Socket) produce() {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		case of := <-s.out:
			b, err := of.frame.Marshal()
			if err != nil {
				s.opts.Logger.Error("transport: marshal outbound frame", "error", err)
				continue
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, b); err != nil {
				s.opts.Logger.Debug("transport: write failed, closing", "error", err)
				s.shutdown(fmt.Errorf("write: %w", err))
				return
			}
		}
	}
}

func (s *Socket) consume() {
	defer s.wg.Done()
	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			s.shutdown(fmt.Errorf("read: %w", err))
			return
		}

		frame, err := wire.ParseFrame(raw)
		if err != nil {
			s.opts.Logger.Warn("transport: dropping unparsable frame", "error", err)
			continue
		}

		switch frame.Kind {
		case wire.FrameAck:
			s.completeAck(frame.ID, nil)
		case wire.FrameMessage:
			s.enqueueAck(frame.ID)
			if frame.Data == nil {
				continue
			}
			data := *frame.Data
			if data == wire.AuthenticatedSentinel {
				s.authOnce.Do(func() { close(s.authenticated) })
				continue
			}
			if s.opts.OnMessage != nil {
				go s.opts.OnMessage(data)
			}
		}
	}
}

func (s *Socket) enqueueAck(id uuid.UUID) {
	select {
	case s.out <- outboundFrame{frame: wire.NewAckFrame(id)}:
	case <-s.ctx.Done():
	}
}

func (s *Socket) completeAck(id uuid.UUID, err error) {
	s.mu.Lock()
	p, ok := s.pending[id]
	if ok {
		delete(s.pending, id)
	}
	s.mu.Unlock()
	if ok {
		p.done <- err
	}
}

// Send writes data as a new MESSAGE frame and waits for its ack, bounded
// by opts.SendTimeout (and by ctx, if it carries a deadline).
func (s *Socket) Send(ctx context.Context, data string) error {
	return s.sendAndAwait(ctx, data, s.opts.SendTimeout)
}

// Ping sends the ping sentinel and waits for its ack, bounded by
// opts.PingTimeout. Used by the liveness watchdog to detect a socket
// that is open but unresponsive.
func (s *Socket) Ping(ctx context.Context) error {
	return s.sendAndAwait(ctx, wire.PingSentinel, s.opts.PingTimeout)
}

func (s *Socket) sendAndAwait(ctx context.Context, data string, timeout time.Duration) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrNotConnected
	}
	frame := wire.NewMessageFrame(data)
	ack := &pendingAck{done: make(chan error, 1)}
	s.pending[frame.ID] = ack
	s.mu.Unlock()

	select {
	case s.out <- outboundFrame{frame: frame}:
	case <-s.ctx.Done():
		s.forgetPending(frame.ID)
		return ErrClosed
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	select {
	case err := <-ack.done:
		return err
	case <-timeoutCtx.Done():
		s.forgetPending(frame.ID)
		return fmt.Errorf("transport: timed out waiting for ack: %w", timeoutCtx.Err())
	case <-s.ctx.Done():
		return ErrClosed
	}
}

func (s *Socket) forgetPending(id uuid.UUID) {
	s.mu.Lock()
	delete(s.pending, id)
	s.mu.Unlock()
}

func (s *Socket) shutdown(err error) {
	s.closeSet.Do(func() {
		s.closeErr = err
		s.mu.Lock()
		s.closed = true
		pending := s.pending
		s.pending = make(map[uuid.UUID]*pendingAck)
		s.mu.Unlock()

		for _, p := range pending {
			p.done <- ErrClosed
		}

		s.cancel()
		s.conn.Close()

		if s.opts.OnClose != nil {
			s.opts.OnClose(err)
		}
	})
}

// Close shuts down the socket: it stops the producer/consumer
// goroutines, fails every pending Send/Ping with ErrClosed, and closes
// the underlying connection. Safe to call more than once.
func (s *Socket) Close() error {
	s.shutdown(nil)
	s.wg.Wait()
	return nil
}
