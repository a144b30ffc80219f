package resp

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFrameLength(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want int
		err  error
	}{
		{"empty", "", 0, ErrNotComplete},
		{"simple string", "+OK\r\n", 5, nil},
		{"simple string trailing frame", "+OK\r\n+PONG\r\n", 5, nil},
		{"simple string no crlf", "+OK", 0, ErrNotComplete},
		{"simple string half crlf", "+OK\r", 0, ErrNotComplete},
		{"bulk string", "$5\r\nhello\r\n", 11, nil},
		{"bulk string partial", "$5\r\nhel", 0, ErrNotComplete},
		{"bulk string header only", "$5\r\n", 0, ErrNotComplete},
		{"null bulk string", "$-1\r\n", 5, nil},
		{"negative bulk string", "$-2\r\n", 0, ErrInvalidFrameLength},
		{"too long bulk string", "$536870913\r\n", 0, ErrInvalidFrameLength},
		{"array", "*2\r\n:1\r\n:2\r\n", 12, nil},
		{"array partial", "*2\r\n:1\r\n", 0, ErrNotComplete},
		{"null array", "*-1\r\n", 5, nil},
		{"negative array", "*-2\r\n", 0, ErrInvalidFrameLength},
		{"too long array", "*1048577\r\n", 0, ErrInvalidFrameLength},
		{"nested array", "*1\r\n*1\r\n$1\r\na\r\n", 15, nil},
		{"set", "~1\r\n#t\r\n", 8, nil},
		{"null set", "~-1\r\n", 0, ErrInvalidFrameLength},
		{"map", "%2\r\n+a\r\n:1\r\n", 12, nil},
		{"odd map", "%3\r\n+a\r\n:1\r\n+b\r\n", 0, ErrInvalidFrameLength},
		{"unknown prefix", "!oops\r\n", 0, ErrInvalidFrameType},
		{"nested unknown prefix", "*1\r\n!oops\r\n", 0, ErrInvalidFrameType},
		{"bad length", "*x\r\n", 0, ErrInvalidInteger},
		{"integer line too long", ":" + strings.Repeat("1", maxLineLen+1), 0, ErrInvalidFrame},
		{"header line too long", "*" + strings.Repeat("1", maxLineLen+1) + "\r\n", 0, ErrInvalidFrame},
		{"long simple string", "+" + strings.Repeat("a", maxLineLen+1) + "\r\n", maxLineLen + 4, nil},
		{"long simple string partial", "+" + strings.Repeat("a", maxLineLen+1), 0, ErrNotComplete},
		{"deepest array", strings.Repeat("*1\r\n", maxNestingDepth) + ":1\r\n", 4*maxNestingDepth + 4, nil},
		{"too deep array", strings.Repeat("*1\r\n", maxNestingDepth+1) + ":1\r\n", 0, ErrInvalidFrameLength},
		{"too deep partial", strings.Repeat("~1\r\n", maxNestingDepth+1), 0, ErrInvalidFrameLength},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			n, err := FrameLength([]byte(c.in))
			if c.err != nil {
				assert.ErrorIs(t, err, c.err)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, c.want, n)
		})
	}
}

func TestFrameLengthDoesNotModify(t *testing.T) {
	b := []byte("*2\r\n$3\r\nget\r\n$1\r\na\r\n")
	orig := append([]byte{}, b...)
	n, err := FrameLength(b)
	assert.NoError(t, err)
	assert.Equal(t, len(b), n)
	assert.Equal(t, orig, b)
}

func TestBtoi64(t *testing.T) {
	cases := []struct {
		in   string
		want int64
		err  bool
	}{
		{"0", 0, false},
		{"123", 123, false},
		{"-1", -1, false},
		{"+7", 7, false},
		{"9223372036854775807", 9223372036854775807, false},
		{"-9223372036854775808", -9223372036854775808, false},
		{"", 0, true},
		{"-", 0, true},
		{"12a", 0, true},
		{"99999999999999999999", 0, true},
	}
	for _, c := range cases {
		n, err := btoi64([]byte(c.in))
		if c.err {
			assert.ErrorIs(t, err, ErrInvalidInteger, c.in)
			continue
		}
		assert.NoError(t, err, c.in)
		assert.Equal(t, c.want, n, c.in)
	}
}
