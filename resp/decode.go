package resp

import (
	"bytes"
	"fmt"
	"strconv"
	"unicode/utf8"
)

// Decoder decodes one frame from the front of buf.
//
// When buf holds only part of a frame Decode returns ErrNotComplete and
// leaves buf untouched; the caller should append more bytes and retry. On
// success exactly the frame's bytes are consumed. Any other error is
// terminal for the stream.
type Decoder interface {
	Decode(buf *bytes.Buffer) (Frame, error)
}

// Decoder names accepted by NewDecoder.
const (
	DecoderDescent    = "descent"
	DecoderCombinator = "combinator"
)

// DecoderNames lists every decoder NewDecoder knows.
var DecoderNames = []string{DecoderDescent, DecoderCombinator}

// NewDecoder returns a fresh decoder of the named kind. Decoders are not
// safe for concurrent use; use one per stream.
func NewDecoder(name string) (Decoder, error) {
	switch name {
	case DecoderDescent, "":
		return newDescentDecoder(), nil
	case DecoderCombinator:
		return newCombinatorDecoder(), nil
	default:
		return nil, fmt.Errorf("unknown decoder %q", name)
	}
}

// The leaf conversions below are shared by both decoders. Each takes the
// payload between the prefix and the trailing CRLF.

func parseText(b []byte) (string, error) {
	if !utf8.Valid(b) {
		return "", fmt.Errorf("%w: %q", ErrInvalidUTF8, b)
	}
	return string(b), nil
}

func parseInteger(b []byte) (Integer, error) {
	n, err := btoi64(b)
	if err != nil {
		return 0, err
	}
	return Integer(n), nil
}

func parseDouble(b []byte) (Double, error) {
	f, err := strconv.ParseFloat(string(b), 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrInvalidDouble, err)
	}
	return Double(f), nil
}

func parseBoolean(b []byte) (Boolean, error) {
	if len(b) == 1 {
		switch b[0] {
		case 't':
			return true, nil
		case 'f':
			return false, nil
		}
	}
	return false, fmt.Errorf("%w: boolean %q", ErrInvalidFrame, b)
}

func parseNull(b []byte) (Null, error) {
	if len(b) != 0 {
		return Null{}, fmt.Errorf("%w: null with payload %q", ErrInvalidFrame, b)
	}
	return Null{}, nil
}

func badCRLFEnd() error {
	return fmt.Errorf("%w: %w", ErrInvalidFrame, ErrBadCRLFEnd)
}

func duplicateKey(key string) error {
	return fmt.Errorf("%w: duplicate map key %q", ErrInvalidFrame, key)
}
