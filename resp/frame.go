package resp

// Type is the one-byte wire prefix of a frame.
type Type byte

const (
	TypeSimpleString Type = '+'
	TypeSimpleError  Type = '-'
	TypeInteger      Type = ':'
	TypeBulkString   Type = '$'
	TypeArray        Type = '*'
	TypeNull         Type = '_'
	TypeBoolean      Type = '#'
	TypeDouble       Type = ','
	TypeMap          Type = '%'
	TypeSet          Type = '~'
)

func (t Type) String() string {
	switch t {
	case TypeSimpleString:
		return "simple string"
	case TypeSimpleError:
		return "simple error"
	case TypeInteger:
		return "integer"
	case TypeBulkString:
		return "bulk string"
	case TypeArray:
		return "array"
	case TypeNull:
		return "null"
	case TypeBoolean:
		return "boolean"
	case TypeDouble:
		return "double"
	case TypeMap:
		return "map"
	case TypeSet:
		return "set"
	default:
		return "unknown(" + string(rune(t)) + ")"
	}
}

// Frame is a single RESP value. The set of implementations is closed:
//
//   - SimpleString
//   - SimpleError
//   - Integer
//   - BulkString, NullBulkString
//   - Array, NullArray
//   - Null
//   - Boolean
//   - Double
//   - Map
//   - Set
type Frame interface {
	Type() Type
	respFrame()
}

// SimpleString is a single line string, it must not contain CR or LF.
type SimpleString string

// SimpleError is a single line error message.
type SimpleError string

// Integer is a signed 64-bit integer.
type Integer int64

// BulkString is a binary safe string. A nil BulkString is encoded as the
// null bulk string, the decoder always reports that case as NullBulkString.
type BulkString []byte

// NullBulkString is the "$-1" sentinel.
type NullBulkString struct{}

// Array is an ordered collection of frames. A nil Array is encoded as the
// null array, the decoder always reports that case as NullArray.
type Array []Frame

// NullArray is the "*-1" sentinel.
type NullArray struct{}

// Null is the RESP3 null.
type Null struct{}

// Boolean is the RESP3 "#t" or "#f".
type Boolean bool

// Double is a RESP3 floating point number, including inf and nan.
type Double float64

// Map maps simple string keys to frames.
type Map map[string]Frame

// Set keeps its elements in wire order.
type Set []Frame

func (SimpleString) Type() Type   { return TypeSimpleString }
func (SimpleError) Type() Type    { return TypeSimpleError }
func (Integer) Type() Type        { return TypeInteger }
func (BulkString) Type() Type     { return TypeBulkString }
func (NullBulkString) Type() Type { return TypeBulkString }
func (Array) Type() Type          { return TypeArray }
func (NullArray) Type() Type      { return TypeArray }
func (Null) Type() Type           { return TypeNull }
func (Boolean) Type() Type        { return TypeBoolean }
func (Double) Type() Type         { return TypeDouble }
func (Map) Type() Type            { return TypeMap }
func (Set) Type() Type            { return TypeSet }

func (SimpleString) respFrame()   {}
func (SimpleError) respFrame()    {}
func (Integer) respFrame()        {}
func (BulkString) respFrame()     {}
func (NullBulkString) respFrame() {}
func (Array) respFrame()          {}
func (NullArray) respFrame()      {}
func (Null) respFrame()           {}
func (Boolean) respFrame()        {}
func (Double) respFrame()         {}
func (Map) respFrame()            {}
func (Set) respFrame()            {}

// Error implements the error interface so a SimpleError can be returned
// as one.
func (e SimpleError) Error() string {
	return string(e)
}

func (bs BulkString) String() string {
	return string(bs)
}

func NewSimpleString(s string) SimpleString {
	return SimpleString(s)
}

func NewError(s string) SimpleError {
	return SimpleError(s)
}

// NewBulkString never returns the null bulk string, an empty s yields an
// empty but present value.
func NewBulkString(s string) BulkString {
	return BulkString(append([]byte{}, s...))
}

func NewInteger(i int64) Integer {
	return Integer(i)
}

// NewArray never returns the null array.
func NewArray(frames ...Frame) Array {
	if frames == nil {
		return Array{}
	}
	return Array(frames)
}

// Clone returns a deep copy of f, sharing no mutable memory with it.
func Clone(f Frame) Frame {
	switch v := f.(type) {
	case BulkString:
		if v == nil {
			return v
		}
		return BulkString(append([]byte{}, v...))
	case Array:
		if v == nil {
			return v
		}
		out := make(Array, len(v))
		for i, e := range v {
			out[i] = Clone(e)
		}
		return out
	case Set:
		if v == nil {
			return v
		}
		out := make(Set, len(v))
		for i, e := range v {
			out[i] = Clone(e)
		}
		return out
	case Map:
		if v == nil {
			return v
		}
		out := make(Map, len(v))
		for k, e := range v {
			out[k] = Clone(e)
		}
		return out
	default:
		// remaining variants are plain values
		return f
	}
}
