// Package server accepts RESP connections and serves them from a shared
// backend.
package server

import (
	"crypto/rand"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kirk91/stats"
	"github.com/oklog/ulid/v2"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"
	"k8s.io/klog"

	"github.com/kirk91/miniredis/backend"
	"github.com/kirk91/miniredis/resp"
)

type Config struct {
	Bind string
	// Decoder names the frame decoder, see resp.NewDecoder.
	Decoder string
	// ErrorReply answers malformed requests with an error before closing.
	ErrorReply bool
	// RateLimit caps commands per second per connection, 0 is unlimited.
	RateLimit   int
	ReadBuffer  int
	WriteBuffer int
}

type Server struct {
	mu       sync.Mutex
	cfg      *Config
	backend  *backend.Backend
	stats    *stats.Scope
	cmdStats map[string]*commandStats
	metrics  *metrics
	entropy  *ulid.MonotonicEntropy

	errorReply atomic.Bool

	ln       net.Listener
	sessions map[*session]struct{}

	wg       sync.WaitGroup
	quit     chan struct{}
	stopOnce sync.Once
}

// New creates a server on top of b. Metrics are registered with reg, a
// private registry is used when reg is nil.
func New(cfg *Config, b *backend.Backend, scope *stats.Scope, reg prometheus.Registerer) (*Server, error) {
	if _, err := resp.NewDecoder(cfg.Decoder); err != nil {
		return nil, err
	}
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	s := &Server{
		cfg:      cfg,
		backend:  b,
		stats:    scope,
		cmdStats: make(map[string]*commandStats),
		metrics:  newMetrics(reg, b),
		entropy:  ulid.Monotonic(rand.Reader, 0),
		sessions: make(map[*session]struct{}),
		quit:     make(chan struct{}),
	}
	s.errorReply.Store(cfg.ErrorReply)
	s.initCommandStats()
	return s, nil
}

// SetErrorReply switches error replies on malformed requests for new and
// running sessions.
func (s *Server) SetErrorReply(v bool) {
	s.errorReply.Store(v)
}

func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.cfg.Bind)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln until Stop is called, it takes ownership
// of ln.
func (s *Server) Serve(ln net.Listener) error {
	s.mu.Lock()
	select {
	case <-s.quit:
		s.mu.Unlock()
		ln.Close()
		return nil
	default:
	}
	s.ln = ln
	s.mu.Unlock()
	klog.Infof("serving on %s with %s decoder", ln.Addr(), s.decoderName())

	var tempDelay time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			if nerr, ok := err.(net.Error); ok && nerr.Temporary() {
				if tempDelay == 0 {
					tempDelay = 5 * time.Millisecond
				} else {
					tempDelay *= 2
				}
				if max := 1 * time.Second; tempDelay > max {
					tempDelay = max
				}
				klog.Warningf("accept failed: %v; retrying in %s", err, tempDelay)
				timer := time.NewTimer(tempDelay)
				select {
				case <-timer.C:
				case <-s.quit:
					timer.Stop()
					return nil
				}
				continue
			}

			select {
			case <-s.quit:
				return nil
			default:
			}
			return err
		}
		tempDelay = 0

		s.wg.Add(1)
		go func(conn net.Conn) {
			s.handleRawConn(conn)
			s.wg.Done()
		}(conn)
	}
}

// Addr returns the listening address, nil before Serve.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Stop closes the listener and every session, then waits for them to
// finish.
func (s *Server) Stop() error {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		close(s.quit)
		sessions := s.sessions
		s.sessions = nil
		ln := s.ln
		s.mu.Unlock()

		if ln != nil {
			ln.Close()
		}
		for sess := range sessions {
			sess.Close()
		}
		s.wg.Wait()
	})
	return nil
}

func (s *Server) decoderName() string {
	if s.cfg.Decoder == "" {
		return resp.DecoderDescent
	}
	return s.cfg.Decoder
}

func (s *Server) handleRawConn(conn net.Conn) {
	t := time.Now()
	id := s.newSessionID()
	laddr, raddr := conn.LocalAddr(), conn.RemoteAddr()
	klog.V(4).Infof("session %s: %s -> %s created", id, raddr, laddr)
	defer func() {
		klog.V(4).Infof("session %s: %s -> %s finished, duration: %s", id, laddr, raddr, time.Since(t))
	}()

	s.metrics.connsTotal.Inc()
	s.metrics.connsActive.Inc()
	defer s.metrics.connsActive.Dec()

	sess := s.newSession(id, conn)
	if !s.addSession(sess) {
		sess.shutdown()
		return
	}

	sess.Serve()
	s.removeSession(sess)
}

func (s *Server) newSession(id ulid.ULID, conn net.Conn) *session {
	// the name was checked by New
	dec, _ := resp.NewDecoder(s.cfg.Decoder)
	opts := sessionOptions{
		ReadBuffer:  s.cfg.ReadBuffer,
		WriteBuffer: s.cfg.WriteBuffer,
		ErrorReply:  s.errorReply.Load,
		OnFault: func(err error) {
			s.metrics.protocolErrors.WithLabelValues(faultKind(err)).Inc()
		},
	}
	if s.cfg.RateLimit > 0 {
		opts.Limiter = rate.NewLimiter(rate.Limit(s.cfg.RateLimit), s.cfg.RateLimit)
	}
	return newSession(id, conn, dec, s.handleRequest, opts)
}

func (s *Server) newSessionID() ulid.ULID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), s.entropy)
}

func (s *Server) addSession(sess *session) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	// server is quiting
	if s.sessions == nil {
		return false
	}
	s.sessions[sess] = struct{}{}
	return true
}

func (s *Server) removeSession(sess *session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sessions == nil {
		return
	}
	delete(s.sessions, sess)
}
