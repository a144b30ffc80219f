package resp

import (
	"bytes"
	"fmt"
)

// descentDecoder is a hand-written recursive descent decoder working on the
// buffer's read cursor. Length-prefixed and aggregate frames probe their own
// total length before any byte is consumed.
type descentDecoder struct {
	alloc sliceAlloc
}

func newDescentDecoder() *descentDecoder {
	return &descentDecoder{}
}

func (d *descentDecoder) Decode(buf *bytes.Buffer) (Frame, error) {
	// a frame that is not complete must leave buf as it was
	if _, err := FrameLength(buf.Bytes()); err != nil {
		return nil, err
	}
	return d.decode(buf)
}

func (d *descentDecoder) decode(buf *bytes.Buffer) (Frame, error) {
	b := buf.Bytes()
	if len(b) == 0 {
		return nil, ErrNotComplete
	}
	switch t := Type(b[0]); t {
	case TypeSimpleString:
		s, err := d.decodeText(buf)
		if err != nil {
			return nil, err
		}
		return SimpleString(s), nil
	case TypeSimpleError:
		s, err := d.decodeText(buf)
		if err != nil {
			return nil, err
		}
		return SimpleError(s), nil
	case TypeInteger:
		return decodeLine(buf, parseInteger)
	case TypeNull:
		return decodeLine(buf, parseNull)
	case TypeBoolean:
		return decodeLine(buf, parseBoolean)
	case TypeDouble:
		return decodeLine(buf, parseDouble)
	case TypeBulkString:
		return d.decodeBulkString(buf)
	case TypeArray, TypeSet:
		return d.decodeSequence(buf, t)
	case TypeMap:
		return d.decodeMap(buf)
	default:
		return nil, fmt.Errorf("%w: unexpected prefix %q", ErrInvalidFrameType, b[0])
	}
}

// readLine consumes one probed line and returns the bytes between the
// prefix and the CRLF. The result is only valid until buf is modified again.
func readLine(buf *bytes.Buffer) ([]byte, error) {
	end := bytes.Index(buf.Bytes(), CRLF)
	if end < 0 {
		return nil, ErrNotComplete
	}
	line := buf.Next(end + len(CRLF))
	return line[1:end], nil
}

func decodeLine[T Frame](buf *bytes.Buffer, parse func([]byte) (T, error)) (Frame, error) {
	line, err := readLine(buf)
	if err != nil {
		return nil, err
	}
	v, err := parse(line)
	if err != nil {
		return nil, err
	}
	return v, nil
}

func (d *descentDecoder) decodeText(buf *bytes.Buffer) (string, error) {
	line, err := readLine(buf)
	if err != nil {
		return "", err
	}
	return parseText(line)
}

// consumeHeader probes the whole frame at the front of buf and then consumes
// only its length header.
func consumeHeader(buf *bytes.Buffer) (int64, error) {
	if _, err := FrameLength(buf.Bytes()); err != nil {
		return 0, err
	}
	n, hdr, err := parseHeader(buf.Bytes())
	if err != nil {
		return 0, err
	}
	buf.Next(hdr)
	return n, nil
}

func (d *descentDecoder) decodeBulkString(buf *bytes.Buffer) (Frame, error) {
	n, err := consumeHeader(buf)
	if err != nil {
		return nil, err
	}
	if n == -1 {
		return NullBulkString{}, nil
	}
	data := buf.Next(int(n) + len(CRLF))
	if data[n] != CR || data[n+1] != LF {
		return nil, badCRLFEnd()
	}
	b := d.alloc.Make(int(n))
	copy(b, data[:n])
	return BulkString(b), nil
}

func (d *descentDecoder) decodeSequence(buf *bytes.Buffer, t Type) (Frame, error) {
	n, err := consumeHeader(buf)
	if err != nil {
		return nil, err
	}
	if n == -1 && t == TypeArray {
		return NullArray{}, nil
	}
	frames := make([]Frame, n)
	for i := range frames {
		if frames[i], err = d.decode(buf); err != nil {
			return nil, err
		}
	}
	if t == TypeSet {
		return Set(frames), nil
	}
	return Array(frames), nil
}

func (d *descentDecoder) decodeMap(buf *bytes.Buffer) (Frame, error) {
	n, err := consumeHeader(buf)
	if err != nil {
		return nil, err
	}
	m := make(Map, n/2)
	for i := int64(0); i < n/2; i++ {
		b := buf.Bytes()
		if len(b) == 0 {
			return nil, ErrNotComplete
		}
		if Type(b[0]) != TypeSimpleString {
			return nil, fmt.Errorf("%w: map key must be a simple string, got %s", ErrInvalidFrameType, Type(b[0]))
		}
		key, err := d.decodeText(buf)
		if err != nil {
			return nil, err
		}
		if _, ok := m[key]; ok {
			return nil, duplicateKey(key)
		}
		if m[key], err = d.decode(buf); err != nil {
			return nil, err
		}
	}
	return m, nil
}
