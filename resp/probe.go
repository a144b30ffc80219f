package resp

import (
	"bytes"
	"fmt"
	"strconv"
)

const (
	maxArrayLen      = 1024 * 1024
	maxBulkStringLen = 1024 * 1024 * 512
	maxLineLen       = 64 * 1024
	maxNestingDepth  = 512
)

// FrameLength reports how many bytes the first frame in b occupies, without
// interpreting its content. It returns ErrNotComplete when b ends before the
// frame does. b is never modified.
func FrameLength(b []byte) (int, error) {
	return frameLength(b, 0)
}

func frameLength(b []byte, depth int) (int, error) {
	if len(b) == 0 {
		return 0, ErrNotComplete
	}
	switch t := Type(b[0]); t {
	case TypeSimpleString, TypeSimpleError:
		end := bytes.Index(b, CRLF)
		if end < 0 {
			return 0, ErrNotComplete
		}
		return end + len(CRLF), nil
	case TypeInteger, TypeNull, TypeBoolean, TypeDouble:
		end, err := lineEnd(b)
		if err != nil {
			return 0, err
		}
		return end + len(CRLF), nil
	case TypeBulkString:
		n, hdr, err := parseHeader(b)
		if err != nil {
			return 0, err
		}
		if n == -1 {
			return hdr, nil
		}
		if err := checkBulkLen(n); err != nil {
			return 0, err
		}
		total := hdr + int(n) + len(CRLF)
		if len(b) < total {
			return 0, ErrNotComplete
		}
		return total, nil
	case TypeArray, TypeSet, TypeMap:
		n, hdr, err := parseHeader(b)
		if err != nil {
			return 0, err
		}
		if n == -1 && t == TypeArray {
			return hdr, nil
		}
		if err := checkAggregateLen(t, n); err != nil {
			return 0, err
		}
		if depth >= maxNestingDepth {
			return 0, fmt.Errorf("%w: nested deeper than %d", ErrInvalidFrameLength, maxNestingDepth)
		}
		return nestedLength(b, hdr, int(n), depth+1)
	default:
		return 0, fmt.Errorf("%w: unexpected prefix %q", ErrInvalidFrameType, b[0])
	}
}

// nestedLength sums the lengths of n frames starting at b[off:].
func nestedLength(b []byte, off, n, depth int) (int, error) {
	for i := 0; i < n; i++ {
		l, err := frameLength(b[off:], depth)
		if err != nil {
			return 0, err
		}
		off += l
	}
	return off, nil
}

func checkBulkLen(n int64) error {
	switch {
	case n < 0:
		return fmt.Errorf("%w: bulk string len %d", ErrInvalidFrameLength, n)
	case n > maxBulkStringLen:
		return fmt.Errorf("%w: bulk string len %d, too long", ErrInvalidFrameLength, n)
	}
	return nil
}

// checkAggregateLen validates the element count of an array, set or map.
// A map counts frames, two per entry.
func checkAggregateLen(t Type, n int64) error {
	switch {
	case n < 0:
		return fmt.Errorf("%w: %s len %d", ErrInvalidFrameLength, t, n)
	case n > maxArrayLen:
		return fmt.Errorf("%w: %s len %d, too long", ErrInvalidFrameLength, t, n)
	case t == TypeMap && n%2 != 0:
		return fmt.Errorf("%w: map len %d is odd", ErrInvalidFrameLength, n)
	}
	return nil
}

// lineEnd returns the index of the first CRLF in a length header or scalar
// line. Such a line longer than maxLineLen is rejected instead of waited for.
// Simple string and error lines are not bounded.
func lineEnd(b []byte) (int, error) {
	end := bytes.Index(b, CRLF)
	switch {
	case end > maxLineLen, end < 0 && len(b) > maxLineLen:
		return 0, fmt.Errorf("%w: line too long", ErrInvalidFrame)
	case end < 0:
		return 0, ErrNotComplete
	}
	return end, nil
}

// parseHeader parses the decimal length following the prefix byte and
// returns it with the header size, CRLF included.
func parseHeader(b []byte) (n int64, hdr int, err error) {
	end, err := lineEnd(b)
	if err != nil {
		return 0, 0, err
	}
	n, err = btoi64(b[1:end])
	if err != nil {
		return 0, 0, err
	}
	return n, end + len(CRLF), nil
}

// btoi64 parse bytes to int64
func btoi64(b []byte) (int64, error) {
	if len(b) != 0 && len(b) < 10 {
		// better performace and zero alloc.
		var neg, i = false, 0
		switch b[0] {
		case '-':
			neg = true
			fallthrough
		case '+':
			i++
		}
		if len(b) != i {
			var n int64
			for ; i < len(b) && b[i] >= '0' && b[i] <= '9'; i++ {
				n = int64(b[i]-'0') + n*10
			}
			if len(b) == i {
				if neg {
					n = -n
				}
				return n, nil
			}
		}
	}
	n, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrInvalidInteger, err)
	}
	return n, nil
}
