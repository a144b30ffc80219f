package server

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"sync"

	"github.com/oklog/ulid/v2"
	"golang.org/x/time/rate"
	"k8s.io/klog"

	"github.com/kirk91/miniredis/resp"
)

const (
	defaultReadBuffer  = 4096
	defaultWriteBuffer = 8192
)

// an error reply is a single line
var lineBreaks = strings.NewReplacer("\r", " ", "\n", " ")

type reqHandleFunc func(f resp.Frame) (resp.Frame, error)

type sessionOptions struct {
	ReadBuffer  int
	WriteBuffer int
	// Limiter throttles command execution, nil means unlimited.
	Limiter *rate.Limiter
	// ErrorReply reports whether a malformed request is answered with an
	// error reply before the connection is closed.
	ErrorReply func() bool
	// OnFault is called once with the error that ends the session early.
	OnFault func(err error)
}

type session struct {
	id   ulid.ULID
	conn net.Conn
	dec  resp.Decoder
	enc  *resp.Encoder
	buf  bytes.Buffer
	opts sessionOptions

	reqHandleFn reqHandleFunc
	replies     chan resp.Frame

	ctx      context.Context
	cancel   context.CancelFunc
	quitOnce sync.Once
	quit     chan struct{}
	done     chan struct{}
}

func newSession(id ulid.ULID, conn net.Conn, dec resp.Decoder, reqHandleFn reqHandleFunc, opts sessionOptions) *session {
	if opts.ReadBuffer <= 0 {
		opts.ReadBuffer = defaultReadBuffer
	}
	if opts.WriteBuffer <= 0 {
		opts.WriteBuffer = defaultWriteBuffer
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &session{
		id:          id,
		conn:        conn,
		dec:         dec,
		enc:         resp.NewEncoder(conn, opts.WriteBuffer),
		opts:        opts,
		reqHandleFn: reqHandleFn,
		replies:     make(chan resp.Frame, 32),
		ctx:         ctx,
		cancel:      cancel,
		quit:        make(chan struct{}),
		done:        make(chan struct{}),
	}
}

func (s *session) Serve() {
	writeDone := make(chan struct{})
	go func() {
		s.loopWrite()
		s.conn.Close()
		close(writeDone)
	}()

	if err := s.loopRead(); err != nil && !isClosed(err) {
		klog.Warningf("session %s loop read exit: %v", s.id, err)
	}
	// the read loop is the only sender, let the writer drain what is left
	close(s.replies)
	<-writeDone
	s.shutdown()
	close(s.done)
}

func isClosed(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, net.ErrClosed) || errors.Is(err, context.Canceled)
}

func (s *session) Close() {
	s.shutdown()
	<-s.done
}

func (s *session) shutdown() {
	s.quitOnce.Do(func() {
		close(s.quit)
		s.cancel()
	})
	s.conn.Close()
}

func (s *session) loopRead() error {
	for {
		f, err := s.dec.Decode(&s.buf)
		if errors.Is(err, resp.ErrNotComplete) {
			if err = s.fill(); err != nil {
				return err
			}
			continue
		}
		if err != nil {
			return s.fault(err)
		}

		if s.opts.Limiter != nil {
			if err := s.opts.Limiter.Wait(s.ctx); err != nil {
				return err
			}
		}

		reply, err := s.handleRequest(f)
		if err != nil {
			return s.fault(err)
		}
		if !s.send(reply) {
			return nil
		}
	}
}

// fill reads whatever the connection has into the unconsumed tail of buf.
func (s *session) fill() error {
	s.buf.Grow(s.opts.ReadBuffer)
	b := s.buf.AvailableBuffer()
	n, err := s.conn.Read(b[:cap(b)])
	s.buf.Write(b[:n])
	if n > 0 {
		return nil
	}
	return err
}

func (s *session) handleRequest(f resp.Frame) (resp.Frame, error) {
	if s.reqHandleFn == nil {
		return resp.NewError("ERR no registered handler for request"), nil
	}
	return s.reqHandleFn(f)
}

func (s *session) send(reply resp.Frame) bool {
	select {
	case s.replies <- reply:
		return true
	case <-s.quit:
		return false
	}
}

// fault reports err, which ends the session, and queues an error reply
// when configured to.
func (s *session) fault(err error) error {
	if s.opts.OnFault != nil {
		s.opts.OnFault(err)
	}
	if s.opts.ErrorReply != nil && s.opts.ErrorReply() {
		s.send(resp.NewError("ERR " + lineBreaks.Replace(err.Error())))
	}
	return err
}

func (s *session) loopWrite() {
	var (
		reply resp.Frame
		ok    bool
		err   error
	)
	for {
		select {
		case <-s.quit:
			return
		case reply, ok = <-s.replies:
			if !ok {
				return
			}
		}

		if err = s.enc.Encode(reply); err != nil {
			goto FAIL
		}

		// there are some pending replies, we could flush later to
		// reduce the amount of write syscalls.
		if len(s.replies) != 0 {
			continue
		}
		// flush the buffer data to the underlying connection.
		if err = s.enc.Flush(); err != nil {
			goto FAIL
		}
	}

FAIL:
	klog.Warningf("session %s loop write exit: %v", s.id, err)
	s.shutdown()
}
