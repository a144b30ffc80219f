package command

import (
	"github.com/kirk91/miniredis/backend"
	"github.com/kirk91/miniredis/resp"
)

// Get reads a key of the flat key space.
type Get struct {
	Key string
}

func parseGet(arr resp.Array) (Command, error) {
	if err := validate(arr, []string{NameGet}, 1); err != nil {
		return nil, err
	}
	key, err := text(extractArgs(arr, 1)[0], "key")
	if err != nil {
		return nil, err
	}
	return Get{Key: key}, nil
}

func (Get) Name() string { return NameGet }

func (c Get) Execute(b *backend.Backend) resp.Frame {
	v, ok := b.Get(c.Key)
	if !ok {
		return resp.Null{}
	}
	return v
}

// Set stores any frame under a key of the flat key space.
type Set struct {
	Key   string
	Value resp.Frame
}

func parseSet(arr resp.Array) (Command, error) {
	if err := validate(arr, []string{NameSet}, 2); err != nil {
		return nil, err
	}
	args := extractArgs(arr, 1)
	key, err := text(args[0], "key")
	if err != nil {
		return nil, err
	}
	return Set{Key: key, Value: args[1]}, nil
}

func (Set) Name() string { return NameSet }

func (c Set) Execute(b *backend.Backend) resp.Frame {
	b.Set(c.Key, c.Value)
	return respOK
}
