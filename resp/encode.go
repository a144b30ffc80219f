package resp

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"
)

const (
	CR byte = '\r'
	LF byte = '\n'
)

// CRLF is the delimiter in redis protocol.
var CRLF = []byte{CR, LF}

var errUnknownFrame = errors.New("unknown frame")

type frameWriter interface {
	io.Writer
	io.ByteWriter
	io.StringWriter
}

// Encoder writes frames to a buffered writer. The first write error is
// sticky: every later Encode or Flush returns it.
type Encoder struct {
	bw  *bufio.Writer
	err error
}

func NewEncoder(w io.Writer, bufSize int) *Encoder {
	return &Encoder{bw: bufio.NewWriterSize(w, bufSize)}
}

func (e *Encoder) Encode(f Frame) error {
	if e.err != nil {
		return e.err
	}
	err := encode(e.bw, f)
	if err != nil {
		e.err = err
	}
	return err
}

func (e *Encoder) Flush() error {
	if e.err != nil {
		return e.err
	}
	if err := e.bw.Flush(); err != nil {
		e.err = err
	}
	return e.err
}

// Buffered returns the number of bytes waiting for Flush.
func (e *Encoder) Buffered() int {
	return e.bw.Buffered()
}

// Encode returns the wire representation of f. It panics if f is or holds
// a nil frame.
func Encode(f Frame) []byte {
	var b bytes.Buffer
	if err := encode(&b, f); err != nil {
		panic(err)
	}
	return b.Bytes()
}

func encode(w frameWriter, f Frame) error {
	if f == nil {
		return errUnknownFrame
	}
	if err := w.WriteByte(byte(f.Type())); err != nil {
		return err
	}
	switch v := f.(type) {
	case SimpleString:
		return encodeText(w, string(v))
	case SimpleError:
		return encodeText(w, string(v))
	case Integer:
		return encodeInt(w, int64(v))
	case BulkString:
		return encodeBulkBytes(w, v)
	case NullBulkString:
		return encodeInt(w, -1)
	case Array:
		if v == nil {
			return encodeInt(w, -1)
		}
		return encodeFrames(w, v)
	case NullArray:
		return encodeInt(w, -1)
	case Null:
		return writeCRLF(w)
	case Boolean:
		if v {
			return encodeText(w, "t")
		}
		return encodeText(w, "f")
	case Double:
		return encodeText(w, formatDouble(float64(v)))
	case Map:
		return encodeMap(w, v)
	case Set:
		return encodeFrames(w, v)
	default:
		return errUnknownFrame
	}
}

const (
	minItoa = -128
	maxItoa = 32768
)

var (
	itoaOffset [maxItoa - minItoa + 1]uint32
	itoaBuffer string
)

func init() {
	// make iota buffer to speed up conversion
	var b bytes.Buffer
	for i := range itoaOffset {
		itoaOffset[i] = uint32(b.Len())
		b.WriteString(strconv.Itoa(i + minItoa))
	}
	itoaBuffer = b.String()
}

func itoa(i int64) string {
	if i >= minItoa && i <= maxItoa {
		beg := itoaOffset[i-minItoa]
		if i == maxItoa {
			return itoaBuffer[beg:]
		}
		end := itoaOffset[i-minItoa+1]
		return itoaBuffer[beg:end]
	}
	return strconv.FormatInt(i, 10)
}

func encodeInt(w frameWriter, i int64) error {
	return encodeText(w, itoa(i))
}

func encodeText(w frameWriter, s string) error {
	if _, err := w.WriteString(s); err != nil {
		return err
	}
	return writeCRLF(w)
}

func writeCRLF(w frameWriter) (err error) {
	_, err = w.Write(CRLF)
	return err
}

func encodeBulkBytes(w frameWriter, b []byte) error {
	if b == nil {
		return encodeInt(w, -1)
	}
	if err := encodeInt(w, int64(len(b))); err != nil {
		return err
	}
	if _, err := w.Write(b); err != nil {
		return err
	}
	return writeCRLF(w)
}

func encodeFrames(w frameWriter, frames []Frame) error {
	if err := encodeInt(w, int64(len(frames))); err != nil {
		return err
	}
	for _, f := range frames {
		if err := encode(w, f); err != nil {
			return err
		}
	}
	return nil
}

// encodeMap writes the number of frames (two per entry) as length. Keys are
// sorted so that a map has exactly one wire form.
func encodeMap(w frameWriter, m Map) error {
	if err := encodeInt(w, int64(2*len(m))); err != nil {
		return err
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := encode(w, SimpleString(k)); err != nil {
			return err
		}
		if err := encode(w, m[k]); err != nil {
			return err
		}
	}
	return nil
}

// formatDouble renders f with an explicit sign, in exponent form for
// magnitudes >= 1e8 or < 1e-8 and as a shortest fixed decimal otherwise.
func formatDouble(f float64) string {
	switch {
	case math.IsNaN(f):
		return "nan"
	case math.IsInf(f, 1):
		return "+inf"
	case math.IsInf(f, -1):
		return "-inf"
	}

	var s string
	if abs := math.Abs(f); abs >= 1e8 || abs < 1e-8 {
		// strconv yields "1.23456e+08", the wire wants "1.23456e8"
		s = strconv.FormatFloat(f, 'e', -1, 64)
		mant, exp, _ := strings.Cut(s, "e")
		n, _ := strconv.Atoi(exp)
		s = mant + "e" + strconv.Itoa(n)
	} else {
		s = strconv.FormatFloat(f, 'f', -1, 64)
	}
	if s[0] != '-' {
		s = "+" + s
	}
	return s
}
