// Package command turns decoded request frames into typed commands and
// executes them against a backend.
package command

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/kirk91/miniredis/backend"
	"github.com/kirk91/miniredis/resp"
)

var (
	// ErrInvalidCommand for a request that is not an array led by a bulk
	// string naming the command
	ErrInvalidCommand = errors.New("invalid command")
	// ErrInvalidArgument for a wrong argument count or argument type
	ErrInvalidArgument = errors.New("invalid argument")
)

// Command names known to FromFrame.
const (
	NameGet     = "get"
	NameSet     = "set"
	NameHGet    = "hget"
	NameHGetAll = "hgetall"
	NameHSet    = "hset"
	NameHMGet   = "hmget"
	NameEcho    = "echo"
)

// Names lists every command FromFrame recognizes.
var Names = []string{NameGet, NameSet, NameHGet, NameHGetAll, NameHSet, NameHMGet, NameEcho}

var (
	respOK  = resp.NewSimpleString("OK")
	respNil = resp.NewSimpleString("(nil)")
)

// Command is a validated request ready to run.
type Command interface {
	// Name is the lower-cased command name.
	Name() string
	// Execute applies the command and returns the reply. It never fails.
	Execute(b *backend.Backend) resp.Frame
}

type parseFunc func(args resp.Array) (Command, error)

var parsers = map[string]parseFunc{
	NameGet:     parseGet,
	NameSet:     parseSet,
	NameHGet:    parseHGet,
	NameHGetAll: parseHGetAll,
	NameHSet:    parseHSet,
	NameHMGet:   parseHMGet,
	NameEcho:    parseEcho,
}

// FromFrame builds the command carried by f. Names are matched case
// insensitively; a name outside Names yields Unrecognized.
func FromFrame(f resp.Frame) (Command, error) {
	arr, ok := f.(resp.Array)
	if !ok {
		return nil, fmt.Errorf("%w: command must be an array, got %s", ErrInvalidCommand, typeOf(f))
	}
	if len(arr) == 0 {
		return nil, fmt.Errorf("%w: empty command", ErrInvalidCommand)
	}
	name, ok := arr[0].(resp.BulkString)
	if !ok {
		return nil, fmt.Errorf("%w: command must have a bulk string as the first argument", ErrInvalidCommand)
	}
	lower := string(bytes.ToLower(name))
	parse, ok := parsers[lower]
	if !ok {
		return Unrecognized{Command: lower}, nil
	}
	return parse(arr)
}

// validate checks that arr holds exactly the name tokens names followed by
// nArgs arguments.
func validate(arr resp.Array, names []string, nArgs int) error {
	if len(arr) != len(names)+nArgs {
		return fmt.Errorf("%w: %s command must have exactly %d argument(s), got %d",
			ErrInvalidArgument, strings.Join(names, " "), nArgs, len(arr)-len(names))
	}
	return validateNames(arr, names)
}

func validateNames(arr resp.Array, names []string) error {
	for i, name := range names {
		token, ok := arr[i].(resp.BulkString)
		if !ok {
			return fmt.Errorf("%w: command must have a bulk string as the first argument", ErrInvalidCommand)
		}
		if string(bytes.ToLower(token)) != name {
			return fmt.Errorf("%w: expected %s, got %q", ErrInvalidCommand, name, token)
		}
	}
	return nil
}

// extractArgs returns the frames after the first start ones.
func extractArgs(arr resp.Array, start int) []resp.Frame {
	return arr[start:]
}

// text converts a bulk string argument to a UTF-8 string; what names the
// argument in the error.
func text(f resp.Frame, what string) (string, error) {
	bs, ok := f.(resp.BulkString)
	if !ok {
		return "", fmt.Errorf("%w: %s must be a bulk string, got %s", ErrInvalidArgument, what, typeOf(f))
	}
	if !utf8.Valid(bs) {
		return "", fmt.Errorf("%w: %s: %w", ErrInvalidArgument, what, resp.ErrInvalidUTF8)
	}
	return string(bs), nil
}

func typeOf(f resp.Frame) string {
	if f == nil {
		return "nil"
	}
	return f.Type().String()
}

// Unrecognized is any command outside Names. Its arguments are ignored.
type Unrecognized struct {
	Command string
}

func (u Unrecognized) Name() string { return u.Command }

func (Unrecognized) Execute(*backend.Backend) resp.Frame {
	return respOK
}

// Echo replies with its message.
type Echo struct {
	Message string
}

func parseEcho(arr resp.Array) (Command, error) {
	if err := validate(arr, []string{NameEcho}, 1); err != nil {
		return nil, err
	}
	msg, err := text(extractArgs(arr, 1)[0], "message")
	if err != nil {
		return nil, err
	}
	return Echo{Message: msg}, nil
}

func (Echo) Name() string { return NameEcho }

func (e Echo) Execute(*backend.Backend) resp.Frame {
	return resp.NewSimpleString(e.Message)
}
