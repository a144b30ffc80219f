package server

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/kirk91/stats"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kirk91/miniredis/backend"
	"github.com/kirk91/miniredis/command"
	"github.com/kirk91/miniredis/resp"
)

func newTestServer(t *testing.T, cfg *Config) *Server {
	t.Helper()
	store := stats.NewStore(stats.NewStoreOption())
	srv, err := New(cfg, backend.New(backend.Options{Shards: 4}), store.CreateScope(""), prometheus.NewRegistry())
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go srv.Serve(ln)
	require.Eventually(t, func() bool { return srv.Addr() != nil }, time.Second, time.Millisecond)
	t.Cleanup(func() { srv.Stop() })
	return srv
}

type client struct {
	t    *testing.T
	conn net.Conn
	r    *bufio.Reader
	dec  resp.Decoder
	buf  bytes.Buffer
}

func dial(t *testing.T, srv *Server) *client {
	t.Helper()
	conn, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	dec, err := resp.NewDecoder(resp.DecoderCombinator)
	require.NoError(t, err)
	return &client{t: t, conn: conn, r: bufio.NewReader(conn), dec: dec}
}

func (c *client) do(args ...string) resp.Frame {
	c.t.Helper()
	req := make(resp.Array, len(args))
	for i, a := range args {
		req[i] = resp.NewBulkString(a)
	}
	_, err := c.conn.Write(resp.Encode(req))
	require.NoError(c.t, err)
	return c.read()
}

func (c *client) read() resp.Frame {
	c.t.Helper()
	require.NoError(c.t, c.conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		f, err := c.dec.Decode(&c.buf)
		if err == nil {
			return f
		}
		require.ErrorIs(c.t, err, resp.ErrNotComplete)
		b, err := c.r.ReadByte()
		require.NoError(c.t, err)
		c.buf.WriteByte(b)
	}
}

func (c *client) expectClosed() {
	c.t.Helper()
	require.NoError(c.t, c.conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, err := c.r.ReadByte()
	assert.ErrorIs(c.t, err, io.EOF)
}

func TestNewInvalidDecoder(t *testing.T) {
	_, err := New(&Config{Decoder: "yacc"}, backend.New(backend.Options{}), stats.NewStore(stats.NewStoreOption()).CreateScope(""), nil)
	assert.Error(t, err)
}

func TestServerCommands(t *testing.T) {
	for _, name := range resp.DecoderNames {
		t.Run(name, func(t *testing.T) {
			srv := newTestServer(t, &Config{Decoder: name})
			c := dial(t, srv)

			assert.Equal(t, resp.Null{}, c.do("get", "key"))
			assert.Equal(t, resp.SimpleString("OK"), c.do("set", "key", "value"))
			assert.Equal(t, resp.NewBulkString("value"), c.do("GET", "key"))

			assert.Equal(t, resp.SimpleString("OK"), c.do("hset", "h", "f", "v"))
			assert.Equal(t, resp.NewBulkString("v"), c.do("hget", "h", "f"))
			assert.Equal(t, resp.NewArray(resp.NewBulkString("f"), resp.NewBulkString("v")), c.do("hgetall", "h"))
			assert.Equal(t, resp.NewArray(), c.do("hgetall", "nohash"))
			assert.Equal(t,
				resp.NewArray(resp.NewBulkString("v"), resp.NewSimpleString("(nil)")),
				c.do("hmget", "h", "f", "missing"))

			assert.Equal(t, resp.SimpleString("hello"), c.do("echo", "hello"))
			assert.Equal(t, resp.SimpleString("OK"), c.do("ping"))
		})
	}
}

func TestServerSharedBackend(t *testing.T) {
	srv := newTestServer(t, &Config{})
	c1, c2 := dial(t, srv), dial(t, srv)

	assert.Equal(t, resp.SimpleString("OK"), c1.do("set", "shared", "1"))
	assert.Equal(t, resp.NewBulkString("1"), c2.do("get", "shared"))
}

func TestServerConcurrentClients(t *testing.T) {
	srv := newTestServer(t, &Config{})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		c := dial(t, srv)
		wg.Add(1)
		go func(i int, c *client) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				key := fmt.Sprintf("%d:%d", i, j)
				assert.Equal(t, resp.SimpleString("OK"), c.do("set", key, key))
				assert.Equal(t, resp.NewBulkString(key), c.do("get", key))
			}
		}(i, c)
	}
	wg.Wait()
	assert.Equal(t, 8*50, srv.backend.Len())
}

func TestServerMalformedCloses(t *testing.T) {
	srv := newTestServer(t, &Config{})
	c := dial(t, srv)

	_, err := c.conn.Write([]byte("*1\r\n!oops\r\n"))
	require.NoError(t, err)
	c.expectClosed()

	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(srv.metrics.protocolErrors.WithLabelValues("invalid_frame_type")) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestServerErrorReply(t *testing.T) {
	srv := newTestServer(t, &Config{})
	srv.SetErrorReply(true)
	c := dial(t, srv)

	_, err := c.conn.Write(resp.Encode(resp.NewArray(resp.NewBulkString("get"))))
	require.NoError(t, err)
	reply, ok := c.read().(resp.SimpleError)
	require.True(t, ok)
	assert.Contains(t, reply.Error(), command.ErrInvalidArgument.Error())
	c.expectClosed()
}

func TestServerStop(t *testing.T) {
	srv := newTestServer(t, &Config{})
	c := dial(t, srv)
	assert.Equal(t, resp.SimpleString("OK"), c.do("set", "k", "v"))
	assert.Equal(t, float64(1), testutil.ToFloat64(srv.metrics.connsActive))

	require.NoError(t, srv.Stop())
	c.expectClosed()
	assert.Equal(t, float64(0), testutil.ToFloat64(srv.metrics.connsActive))
	assert.Equal(t, float64(1), testutil.ToFloat64(srv.metrics.connsTotal))

	// stopping twice is fine
	assert.NoError(t, srv.Stop())
}

func TestServeAfterStop(t *testing.T) {
	srv, err := New(&Config{}, backend.New(backend.Options{}), stats.NewStore(stats.NewStoreOption()).CreateScope(""), nil)
	require.NoError(t, err)
	require.NoError(t, srv.Stop())

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	assert.NoError(t, srv.Serve(ln))

	_, err = net.Dial("tcp", ln.Addr().String())
	assert.Error(t, err)
}

func TestFaultKind(t *testing.T) {
	cases := map[string]struct {
		err  error
		want string
	}{
		"command":      {fmt.Errorf("%w: x", command.ErrInvalidCommand), "invalid_command"},
		"argument":     {fmt.Errorf("%w: %w", command.ErrInvalidArgument, resp.ErrInvalidUTF8), "invalid_argument"},
		"frame type":   {fmt.Errorf("%w: x", resp.ErrInvalidFrameType), "invalid_frame_type"},
		"frame length": {resp.ErrInvalidFrameLength, "invalid_frame_length"},
		"other":        {errors.New("boom"), "invalid_frame"},
	}
	for name, c := range cases {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, c.want, faultKind(c.err))
		})
	}
}

func TestBackendGauges(t *testing.T) {
	reg := prometheus.NewRegistry()
	b := backend.New(backend.Options{})
	newMetrics(reg, b)
	b.Set("a", resp.Integer(1))
	b.HSet("h", "f", resp.Integer(1))
	b.HSet("h2", "f", resp.Integer(1))

	n, err := testutil.GatherAndCount(reg, "miniredis_keys", "miniredis_hash_keys")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.NoError(t, testutil.GatherAndCompare(reg, bytes.NewBufferString(`
# HELP miniredis_hash_keys Number of hashes.
# TYPE miniredis_hash_keys gauge
miniredis_hash_keys 2
# HELP miniredis_keys Number of keys in the flat key space.
# TYPE miniredis_keys gauge
miniredis_keys 1
`), "miniredis_keys", "miniredis_hash_keys"))
}
