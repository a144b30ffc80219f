package command

import (
	"fmt"

	"github.com/kirk91/miniredis/backend"
	"github.com/kirk91/miniredis/resp"
)

// HGet reads one field of a hash.
type HGet struct {
	Key   string
	Field string
}

func parseHGet(arr resp.Array) (Command, error) {
	if err := validate(arr, []string{NameHGet}, 2); err != nil {
		return nil, err
	}
	args := extractArgs(arr, 1)
	key, err := text(args[0], "key")
	if err != nil {
		return nil, err
	}
	field, err := text(args[1], "field")
	if err != nil {
		return nil, err
	}
	return HGet{Key: key, Field: field}, nil
}

func (HGet) Name() string { return NameHGet }

func (c HGet) Execute(b *backend.Backend) resp.Frame {
	v, ok := b.HGet(c.Key, c.Field)
	if !ok {
		return resp.Null{}
	}
	return v
}

// HGetAll reads a whole hash as alternating field names and values.
type HGetAll struct {
	Key string
}

func parseHGetAll(arr resp.Array) (Command, error) {
	if err := validate(arr, []string{NameHGetAll}, 1); err != nil {
		return nil, err
	}
	key, err := text(extractArgs(arr, 1)[0], "key")
	if err != nil {
		return nil, err
	}
	return HGetAll{Key: key}, nil
}

func (HGetAll) Name() string { return NameHGetAll }

func (c HGetAll) Execute(b *backend.Backend) resp.Frame {
	fields, ok := b.HGetAll(c.Key)
	if !ok {
		return resp.NewArray()
	}
	out := make(resp.Array, 0, 2*len(fields))
	for _, f := range fields {
		out = append(out, resp.NewBulkString(f.Name), f.Value)
	}
	return out
}

// HSet stores any frame under a field of a hash.
type HSet struct {
	Key   string
	Field string
	Value resp.Frame
}

func parseHSet(arr resp.Array) (Command, error) {
	if err := validate(arr, []string{NameHSet}, 3); err != nil {
		return nil, err
	}
	args := extractArgs(arr, 1)
	key, err := text(args[0], "key")
	if err != nil {
		return nil, err
	}
	field, err := text(args[1], "field")
	if err != nil {
		return nil, err
	}
	return HSet{Key: key, Field: field, Value: args[2]}, nil
}

func (HSet) Name() string { return NameHSet }

func (c HSet) Execute(b *backend.Backend) resp.Frame {
	b.HSet(c.Key, c.Field, c.Value)
	return respOK
}

// HMGet reads several fields of a hash in request order. A missing field
// is reported as the simple string "(nil)", not as Null.
type HMGet struct {
	Key    string
	Fields []string
}

// parseHMGet takes fields for as long as the arguments are bulk strings.
func parseHMGet(arr resp.Array) (Command, error) {
	if len(arr) < 2 {
		return nil, fmt.Errorf("%w: %s command must have a key", ErrInvalidArgument, NameHMGet)
	}
	if err := validateNames(arr, []string{NameHMGet}); err != nil {
		return nil, err
	}
	args := extractArgs(arr, 1)
	key, err := text(args[0], "key")
	if err != nil {
		return nil, err
	}
	c := HMGet{Key: key}
	for _, arg := range args[1:] {
		if _, ok := arg.(resp.BulkString); !ok {
			break
		}
		field, err := text(arg, "field")
		if err != nil {
			return nil, err
		}
		c.Fields = append(c.Fields, field)
	}
	return c, nil
}

func (HMGet) Name() string { return NameHMGet }

func (c HMGet) Execute(b *backend.Backend) resp.Frame {
	out := make(resp.Array, 0, len(c.Fields))
	for _, field := range c.Fields {
		v, ok := b.HGet(c.Key, field)
		if !ok {
			v = respNil
		}
		out = append(out, v)
	}
	return out
}
