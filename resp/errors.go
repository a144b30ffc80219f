package resp

import "errors"

var (
	// ErrNotComplete reports that the buffer holds only a prefix of a frame.
	// It is a retry signal, not a protocol fault.
	ErrNotComplete = errors.New("frame not complete")

	// ErrInvalidFrame for a frame whose content does not follow the grammar
	ErrInvalidFrame = errors.New("invalid frame")
	// ErrInvalidFrameType for an unknown or unexpected prefix
	ErrInvalidFrameType = errors.New("invalid frame type")
	// ErrInvalidFrameLength for a negative, odd or too large length field
	ErrInvalidFrameLength = errors.New("invalid frame length")

	// ErrBadCRLFEnd for invalid crlf
	ErrBadCRLFEnd = errors.New("bad CRLF end")

	ErrInvalidInteger = errors.New("invalid integer")
	ErrInvalidDouble  = errors.New("invalid double")
	ErrInvalidUTF8    = errors.New("invalid utf-8")
)
