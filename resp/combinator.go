package resp

import (
	"bytes"
	"fmt"
)

// combinatorDecoder slices exactly one probed frame off the buffer and
// parses that slice in a single pass built from small parser combinators.
// Incompleteness is settled by the probe, so the parsers treat a short
// input as malformed.
type combinatorDecoder struct{}

func newCombinatorDecoder() *combinatorDecoder {
	return &combinatorDecoder{}
}

func (combinatorDecoder) Decode(buf *bytes.Buffer) (Frame, error) {
	n, err := FrameLength(buf.Bytes())
	if err != nil {
		return nil, err
	}
	f, rest, err := frameParser(buf.Next(n))
	if err != nil {
		return nil, err
	}
	if len(rest) != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrInvalidFrame, len(rest))
	}
	return f, nil
}

// parser consumes a prefix of in and returns the value with the remaining
// input.
type parser[T any] func(in []byte) (T, []byte, error)

var errShortFrame = fmt.Errorf("%w: unexpected end of frame", ErrInvalidFrame)

func pure[T any](v T) parser[T] {
	return func(in []byte) (T, []byte, error) {
		return v, in, nil
	}
}

func fail[T any](err error) parser[T] {
	return func(in []byte) (T, []byte, error) {
		var zero T
		return zero, in, err
	}
}

// line takes everything up to the next CRLF and drops the CRLF.
func line() parser[[]byte] {
	return func(in []byte) ([]byte, []byte, error) {
		i := bytes.Index(in, CRLF)
		if i < 0 {
			return nil, in, errShortFrame
		}
		return in[:i], in[i+len(CRLF):], nil
	}
}

func take(n int) parser[[]byte] {
	return func(in []byte) ([]byte, []byte, error) {
		if len(in) < n {
			return nil, in, errShortFrame
		}
		return in[:n], in[n:], nil
	}
}

// terminated runs p and then requires CRLF.
func terminated[T any](p parser[T]) parser[T] {
	return func(in []byte) (T, []byte, error) {
		v, rest, err := p(in)
		if err != nil {
			return v, in, err
		}
		if !bytes.HasPrefix(rest, CRLF) {
			return v, in, badCRLFEnd()
		}
		return v, rest[len(CRLF):], nil
	}
}

func mapTo[T, U any](p parser[T], f func(T) (U, error)) parser[U] {
	return func(in []byte) (U, []byte, error) {
		var zero U
		v, rest, err := p(in)
		if err != nil {
			return zero, in, err
		}
		u, err := f(v)
		if err != nil {
			return zero, in, err
		}
		return u, rest, nil
	}
}

// bind feeds the result of p into next to pick the parser for the rest.
func bind[T, U any](p parser[T], next func(T) parser[U]) parser[U] {
	return func(in []byte) (U, []byte, error) {
		v, rest, err := p(in)
		if err != nil {
			var zero U
			return zero, in, err
		}
		return next(v)(rest)
	}
}

// preceded requires the prefix t before running p.
func preceded[T any](t Type, p parser[T]) parser[T] {
	return func(in []byte) (T, []byte, error) {
		if len(in) == 0 {
			var zero T
			return zero, in, errShortFrame
		}
		if Type(in[0]) != t {
			var zero T
			return zero, in, fmt.Errorf("%w: expect %s, got %q", ErrInvalidFrameType, t, in[0])
		}
		return p(in[1:])
	}
}

func count[T any](n int, p parser[T]) parser[[]T] {
	return func(in []byte) ([]T, []byte, error) {
		out := make([]T, 0, n)
		rest := in
		for i := 0; i < n; i++ {
			v, r, err := p(rest)
			if err != nil {
				return nil, in, err
			}
			out = append(out, v)
			rest = r
		}
		return out, rest, nil
	}
}

// dispatch picks a parser by the first byte; the chosen parser sees the
// input after that byte.
func dispatch(table map[Type]parser[Frame]) parser[Frame] {
	return func(in []byte) (Frame, []byte, error) {
		if len(in) == 0 {
			return nil, in, errShortFrame
		}
		p, ok := table[Type(in[0])]
		if !ok {
			return nil, in, fmt.Errorf("%w: unexpected prefix %q", ErrInvalidFrameType, in[0])
		}
		return p(in[1:])
	}
}

func asFrame[T Frame](p parser[T]) parser[Frame] {
	return mapTo(p, func(v T) (Frame, error) { return v, nil })
}

var frameParser parser[Frame]

func init() {
	// aggregates refer back to frameParser, so it is wired here
	frame := parser[Frame](func(in []byte) (Frame, []byte, error) { return frameParser(in) })

	text := mapTo(line(), parseText)
	length := mapTo(line(), btoi64)

	bulk := bind(length, func(n int64) parser[Frame] {
		if n == -1 {
			return pure[Frame](NullBulkString{})
		}
		if err := checkBulkLen(n); err != nil {
			return fail[Frame](err)
		}
		return mapTo(terminated(take(int(n))), func(b []byte) (Frame, error) {
			return BulkString(append([]byte{}, b...)), nil
		})
	})

	sequence := func(t Type) parser[Frame] {
		return bind(length, func(n int64) parser[Frame] {
			if n == -1 && t == TypeArray {
				return pure[Frame](NullArray{})
			}
			if err := checkAggregateLen(t, n); err != nil {
				return fail[Frame](err)
			}
			return mapTo(count(int(n), frame), func(fs []Frame) (Frame, error) {
				if t == TypeSet {
					return Set(fs), nil
				}
				return Array(fs), nil
			})
		})
	}

	type entry struct {
		key   string
		value Frame
	}
	pair := bind(preceded(TypeSimpleString, text), func(key string) parser[entry] {
		return mapTo(frame, func(v Frame) (entry, error) { return entry{key, v}, nil })
	})
	dict := bind(length, func(n int64) parser[Frame] {
		if err := checkAggregateLen(TypeMap, n); err != nil {
			return fail[Frame](err)
		}
		return mapTo(count(int(n/2), pair), func(es []entry) (Frame, error) {
			m := make(Map, len(es))
			for _, e := range es {
				if _, ok := m[e.key]; ok {
					return nil, duplicateKey(e.key)
				}
				m[e.key] = e.value
			}
			return m, nil
		})
	})

	frameParser = dispatch(map[Type]parser[Frame]{
		TypeSimpleString: mapTo(text, func(s string) (Frame, error) { return SimpleString(s), nil }),
		TypeSimpleError:  mapTo(text, func(s string) (Frame, error) { return SimpleError(s), nil }),
		TypeInteger:      asFrame(mapTo(line(), parseInteger)),
		TypeNull:         asFrame(mapTo(line(), parseNull)),
		TypeBoolean:      asFrame(mapTo(line(), parseBoolean)),
		TypeDouble:       asFrame(mapTo(line(), parseDouble)),
		TypeBulkString:   bulk,
		TypeArray:        sequence(TypeArray),
		TypeSet:          sequence(TypeSet),
		TypeMap:          dict,
	})
}
