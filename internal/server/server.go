package server

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"keygate/internal/auth"
	"keygate/internal/constants"
	"keygate/internal/protocol"
	"keygate/internal/security"
	"keygate/internal/telemetry"
)

// Authenticator decides one frame. Satisfied by auth.Authenticator.
type Authenticator interface {
	Handle(ctx context.Context, addr string, frame []byte) auth.Decision
}

// Server accepts client connections over TCP (Serve) and WebSocket
// (HTTPHandler), admits them through the connection limiter and runs one
// session per connection until it goes idle, the peer leaves, or the
// server shuts down.
type Server struct {
	auth        Authenticator
	conns       *security.ConnectionLimiter
	metrics     *telemetry.Metrics
	log         zerolog.Logger
	idleTimeout time.Duration
	proxies     security.TrustedProxies
	upgrader    websocket.Upgrader

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	shutting  bool
	stopping  chan struct{}
	listeners map[net.Listener]struct{}
	sessions  map[string]*session
	wg        sync.WaitGroup
}

type Option func(*Server)

func WithIdleTimeout(d time.Duration) Option {
	return func(s *Server) { s.idleTimeout = d }
}

func WithMetrics(m *telemetry.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithTrustedProxies sets the peers whose forwarding headers are believed
// on the WebSocket endpoint.
func WithTrustedProxies(tp security.TrustedProxies) Option {
	return func(s *Server) { s.proxies = tp }
}

func New(authn Authenticator, conns *security.ConnectionLimiter, log zerolog.Logger, opts ...Option) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		auth:        authn,
		conns:       conns,
		log:         log.With().Str("component", "server").Logger(),
		idleTimeout: constants.SessionIdleTimeout,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  constants.MaxMessageSize,
			WriteBufferSize: constants.MaxMessageSize,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		ctx:       ctx,
		cancel:    cancel,
		stopping:  make(chan struct{}),
		listeners: make(map[net.Listener]struct{}),
		sessions:  make(map[string]*session),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type session struct {
	id    string
	addr  string
	conn  FrameConn
	lease *security.Lease
	log   zerolog.Logger
}

// Serve accepts connections on ln until Shutdown is called, then returns
// nil. Any other accept failure is retried with backoff.
func (s *Server) Serve(ln net.Listener) error {
	if !s.trackListener(ln) {
		ln.Close()
		return nil
	}
	defer s.untrackListener(ln)

	s.log.Info().Str("addr", ln.Addr().String()).Msg("listening for clients")

	retry := backoff.NewExponentialBackOff()
	retry.InitialInterval = 5 * time.Millisecond
	retry.MaxInterval = time.Second

	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.isShuttingDown() || errors.Is(err, net.ErrClosed) {
				return nil
			}
			wait := retry.NextBackOff()
			s.log.Error().Err(err).Dur("retry_in", wait).Msg("accept failed")
			select {
			case <-time.After(wait):
			case <-s.stopping:
				return nil
			}
			continue
		}
		retry.Reset()

		s.admit(newTCPConn(conn), security.AddrHost(conn.RemoteAddr()), true)
	}
}

// admit runs the admission check and either starts a session or answers
// maksbaglama and closes. With async the session runs on its own
// goroutine; otherwise admit blocks until the session ends.
func (s *Server) admit(conn FrameConn, addr string, async bool) {
	id := uuid.NewString()
	lease, err := s.conns.TryConnect(addr, id)
	if err != nil {
		s.reject(conn, addr, err)
		return
	}

	sess := &session{
		id:    id,
		addr:  addr,
		conn:  conn,
		lease: lease,
		log:   s.log.With().Str("session_id", id).Str("addr", addr).Logger(),
	}
	if !s.track(sess) {
		lease.Disconnect()
		conn.Close()
		return
	}

	s.metrics.Connection(telemetry.ConnAccepted)
	if async {
		go s.run(sess)
		return
	}
	s.run(sess)
}

func (s *Server) reject(conn FrameConn, addr string, err error) {
	result := telemetry.ConnRejectedAddress
	if errors.Is(err, security.ErrGlobalLimit) {
		result = telemetry.ConnRejectedGlobal
	}
	s.metrics.Connection(result)
	s.metrics.Frame(protocol.TokenAdmissionRejected)
	s.log.Warn().Err(err).Str("addr", addr).Msg("connection rejected")

	go func() {
		conn.WriteToken(protocol.TokenAdmissionRejected)
		conn.Close()
	}()
}

func (s *Server) run(sess *session) {
	defer s.wg.Done()
	defer s.untrack(sess)
	defer sess.lease.Disconnect()
	defer sess.conn.Close()

	s.metrics.SessionOpened()
	sess.log.Debug().Msg("session opened")

	reason, err := s.serveSession(sess)

	s.metrics.SessionClosed(reason)
	switch reason {
	case telemetry.CloseError:
		sess.log.Warn().Err(err).Str("reason", reason).Msg("session closed on socket error")
	default:
		sess.log.Debug().Str("reason", reason).Msg("session closed")
	}
}

func (s *Server) serveSession(sess *session) (string, error) {
	for {
		frame, err := sess.conn.ReadFrame(time.Now().Add(s.idleTimeout))
		if err != nil {
			return s.closeReason(err), err
		}

		d := s.auth.Handle(s.ctx, sess.addr, frame)
		s.metrics.Frame(d.Token)
		s.logDecision(sess, d)

		if err := sess.conn.WriteToken(d.Token); err != nil {
			return telemetry.CloseError, err
		}
	}
}

func (s *Server) closeReason(err error) string {
	var ne net.Error
	switch {
	case errors.Is(err, errInterrupted):
		return telemetry.CloseShutdown
	case errors.Is(err, io.EOF):
		return telemetry.ClosePeer
	case errors.Is(err, os.ErrDeadlineExceeded), errors.As(err, &ne) && ne.Timeout():
		return telemetry.CloseIdle
	default:
		return telemetry.CloseError
	}
}

func (s *Server) logDecision(sess *session, d auth.Decision) {
	if d.Granted() {
		sess.log.Info().
			Str("token", d.Token.String()).
			Str("key", d.Key).
			Bool("freekey", d.FreeKey).
			Msg("client authenticated")
		return
	}

	e := sess.log.Warn()
	if d.Token == protocol.TokenTooLarge || d.Token == protocol.TokenInvalidJSON {
		e = sess.log.Debug()
	}
	if d.Key != "" {
		e = e.Str("key", d.Key)
	}
	e.Err(d.Err).Str("token", d.Token.String()).Msg("frame rejected")
}

func (s *Server) track(sess *session) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shutting {
		return false
	}
	s.sessions[sess.id] = sess
	s.wg.Add(1)
	return true
}

func (s *Server) untrack(sess *session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sess.id)
}

func (s *Server) trackListener(ln net.Listener) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shutting {
		return false
	}
	s.listeners[ln] = struct{}{}
	return true
}

func (s *Server) untrackListener(ln net.Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.listeners, ln)
}

func (s *Server) isShuttingDown() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.shutting
}

// Sessions returns the number of live sessions.
func (s *Server) Sessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Shutdown stops accepting, interrupts idle reads and waits for sessions
// to finish the frame they are on. If ctx ends first every connection is
// closed outright and ctx's error is returned.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if !s.shutting {
		close(s.stopping)
	}
	s.shutting = true
	for ln := range s.listeners {
		ln.Close()
	}
	for _, sess := range s.sessions {
		sess.conn.Interrupt()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.cancel()
		return nil
	case <-ctx.Done():
		s.cancel()
		s.mu.Lock()
		for _, sess := range s.sessions {
			sess.conn.Close()
		}
		s.mu.Unlock()
		<-done
		return ctx.Err()
	}
}
