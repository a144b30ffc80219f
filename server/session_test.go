package server

import (
	"bufio"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/kirk91/miniredis/backend"
	"github.com/kirk91/miniredis/command"
	"github.com/kirk91/miniredis/resp"
)

func executor(b *backend.Backend) reqHandleFunc {
	return func(f resp.Frame) (resp.Frame, error) {
		cmd, err := command.FromFrame(f)
		if err != nil {
			return nil, err
		}
		return cmd.Execute(b), nil
	}
}

func startSession(t *testing.T, conn net.Conn, fn reqHandleFunc, opts sessionOptions) (*session, chan struct{}) {
	t.Helper()
	dec, err := resp.NewDecoder(resp.DecoderDescent)
	require.NoError(t, err)
	s := newSession(ulid.Make(), conn, dec, fn, opts)
	done := make(chan struct{})
	go func() {
		s.Serve()
		close(done)
	}()
	return s, done
}

func waitDone(t *testing.T, done chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("session did not finish")
	}
}

func readN(t *testing.T, r io.Reader, n int) string {
	t.Helper()
	b := make([]byte, n)
	_, err := io.ReadFull(r, b)
	require.NoError(t, err)
	return string(b)
}

func TestSessionClose(t *testing.T) {
	conn, _ := net.Pipe()
	s, done := startSession(t, conn, nil, sessionOptions{})

	time.Sleep(time.Millisecond * 100)
	s.Close()
	waitDone(t, done)
}

func TestSessionReadError(t *testing.T) {
	cconn, sconn := net.Pipe()
	_, done := startSession(t, cconn, nil, sessionOptions{})

	time.AfterFunc(time.Millisecond*100, func() {
		sconn.Close()
	})
	waitDone(t, done)
}

func TestSessionWriteError(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()

	conn, err := net.Dial("tcp", l.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	sconn, err := l.Accept()
	require.NoError(t, err)
	defer sconn.Close()

	require.NoError(t, conn.(*net.TCPConn).CloseWrite())
	_, done := startSession(t, conn, executor(backend.New(backend.Options{})), sessionOptions{})

	// make a request whose reply can not be written
	_, err = sconn.Write(resp.Encode(resp.NewArray(
		resp.NewBulkString("get"),
		resp.NewBulkString("a"),
	)))
	require.NoError(t, err)
	waitDone(t, done)
}

func TestSessionServe(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	_, done := startSession(t, server, executor(backend.New(backend.Options{})), sessionOptions{ReadBuffer: 3})

	// a request split across many small writes and reads
	req := resp.Encode(resp.NewArray(resp.NewBulkString("echo"), resp.NewBulkString("hello")))
	go func() {
		for i := 0; i < len(req); i += 5 {
			end := i + 5
			if end > len(req) {
				end = len(req)
			}
			client.Write(req[i:end])
		}
	}()
	assert.Equal(t, "+hello\r\n", readN(t, client, len("+hello\r\n")))

	client.Close()
	waitDone(t, done)
}

func TestSessionPipelined(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	_, done := startSession(t, server, executor(backend.New(backend.Options{})), sessionOptions{})

	var reqs []byte
	reqs = append(reqs, resp.Encode(resp.NewArray(resp.NewBulkString("set"), resp.NewBulkString("k"), resp.NewBulkString("v")))...)
	reqs = append(reqs, resp.Encode(resp.NewArray(resp.NewBulkString("get"), resp.NewBulkString("k")))...)
	reqs = append(reqs, resp.Encode(resp.NewArray(resp.NewBulkString("get"), resp.NewBulkString("missing")))...)
	go client.Write(reqs)

	want := "+OK\r\n$1\r\nv\r\n_\r\n"
	assert.Equal(t, want, readN(t, client, len(want)))

	client.Close()
	waitDone(t, done)
}

func TestSessionMalformedCloses(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()

	var (
		mu     sync.Mutex
		faults []error
	)
	_, done := startSession(t, server, executor(backend.New(backend.Options{})), sessionOptions{
		OnFault: func(err error) {
			mu.Lock()
			faults = append(faults, err)
			mu.Unlock()
		},
	})

	go client.Write([]byte("!oops\r\n"))
	_, err := bufio.NewReader(client).ReadByte()
	assert.ErrorIs(t, err, io.EOF)
	waitDone(t, done)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, faults, 1)
	assert.ErrorIs(t, faults[0], resp.ErrInvalidFrameType)
}

func TestSessionErrorReply(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	_, done := startSession(t, server, executor(backend.New(backend.Options{})), sessionOptions{
		ErrorReply: func() bool { return true },
	})

	go client.Write(resp.Encode(resp.NewBulkString("get")))
	r := bufio.NewReader(client)
	line, err := r.ReadString('\n')
	require.NoError(t, err)
	assert.Regexp(t, `^-ERR invalid command: .*\r\n$`, line)

	_, err = r.ReadByte()
	assert.ErrorIs(t, err, io.EOF)
	waitDone(t, done)
}

func TestSessionRateLimit(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	_, done := startSession(t, server, executor(backend.New(backend.Options{})), sessionOptions{
		Limiter: rate.NewLimiter(rate.Limit(1000), 1),
	})

	var reqs []byte
	for i := 0; i < 10; i++ {
		reqs = append(reqs, resp.Encode(resp.NewArray(resp.NewBulkString("echo"), resp.NewBulkString("x")))...)
	}
	go client.Write(reqs)

	var want string
	for i := 0; i < 10; i++ {
		want += "+x\r\n"
	}
	assert.Equal(t, want, readN(t, client, len(want)))

	client.Close()
	waitDone(t, done)
}

func TestSessionCloseWhileRateLimited(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	s, done := startSession(t, server, executor(backend.New(backend.Options{})), sessionOptions{
		Limiter: rate.NewLimiter(rate.Every(time.Hour), 1),
	})

	var reqs []byte
	for i := 0; i < 2; i++ {
		reqs = append(reqs, resp.Encode(resp.NewArray(resp.NewBulkString("echo"), resp.NewBulkString("x")))...)
	}
	go client.Write(reqs)
	assert.Equal(t, "+x\r\n", readN(t, client, 4))

	// the second request waits for a token that never comes
	s.Close()
	waitDone(t, done)
}
