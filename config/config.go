// Package config loads the server configuration.
//
// Sources are merged in this order, later ones win: built-in defaults, a
// YAML file, MINIREDIS_* environment variables, command line overrides.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/kirk91/miniredis/resp"
)

// DefaultEnvPrefix is the default environment variable prefix.
const DefaultEnvPrefix = "MINIREDIS_"

type Config struct {
	Server  ServerConfig  `koanf:"server"`
	Backend BackendConfig `koanf:"backend"`
	Metrics MetricsConfig `koanf:"metrics"`
	Log     LogConfig     `koanf:"log"`
}

type ServerConfig struct {
	Bind        string `koanf:"bind"`
	Decoder     string `koanf:"decoder"`
	ErrorReply  bool   `koanf:"error_reply"`
	RateLimit   int    `koanf:"rate_limit"`
	ReadBuffer  int    `koanf:"read_buffer"`
	WriteBuffer int    `koanf:"write_buffer"`
}

type BackendConfig struct {
	Shards int `koanf:"shards"`
}

type MetricsConfig struct {
	// Addr of the prometheus endpoint, empty disables it.
	Addr string `koanf:"addr"`
}

type LogConfig struct {
	Verbosity int `koanf:"verbosity"`
}

// Defaults returns the built-in configuration as nested koanf keys.
func Defaults() map[string]any {
	return map[string]any{
		"server": map[string]any{
			"bind":         ":6379",
			"decoder":      resp.DecoderDescent,
			"error_reply":  false,
			"rate_limit":   0,
			"read_buffer":  4096,
			"write_buffer": 8192,
		},
		"backend": map[string]any{
			"shards": 32,
		},
		"metrics": map[string]any{
			"addr": ":9121",
		},
		"log": map[string]any{
			"verbosity": 0,
		},
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch {
	case c.Server.Bind == "":
		return errors.New("server.bind is empty")
	case !validDecoder(c.Server.Decoder):
		return fmt.Errorf("server.decoder %q is not one of %s", c.Server.Decoder, strings.Join(resp.DecoderNames, ", "))
	case c.Server.RateLimit < 0:
		return fmt.Errorf("server.rate_limit %d is negative", c.Server.RateLimit)
	case c.Server.ReadBuffer < 0:
		return fmt.Errorf("server.read_buffer %d is negative", c.Server.ReadBuffer)
	case c.Server.WriteBuffer < 0:
		return fmt.Errorf("server.write_buffer %d is negative", c.Server.WriteBuffer)
	case c.Backend.Shards <= 0:
		return fmt.Errorf("backend.shards %d must be positive", c.Backend.Shards)
	case c.Log.Verbosity < 0:
		return fmt.Errorf("log.verbosity %d is negative", c.Log.Verbosity)
	}
	return nil
}

func validDecoder(name string) bool {
	for _, n := range resp.DecoderNames {
		if n == name {
			return true
		}
	}
	return false
}

// Loader loads a Config from every source. It can be reused to reload.
type Loader struct {
	envPrefix string
	filePath  string
	overrides map[string]any
}

type Option func(*Loader)

func WithEnvPrefix(prefix string) Option {
	return func(l *Loader) {
		l.envPrefix = prefix
	}
}

func WithConfigFile(path string) Option {
	return func(l *Loader) {
		l.filePath = path
	}
}

// WithOverride sets a dotted key, such as "server.bind", above every other
// source.
func WithOverride(key string, value any) Option {
	return func(l *Loader) {
		setNested(l.overrides, key, value)
	}
}

func NewLoader(opts ...Option) *Loader {
	l := &Loader{
		envPrefix: DefaultEnvPrefix,
		overrides: make(map[string]any),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// FilePath returns the configuration file, empty when there is none.
func (l *Loader) FilePath() string {
	return l.filePath
}

// Load reads every source into a fresh Config and validates it.
func (l *Loader) Load() (*Config, error) {
	k := koanf.New(".")
	if err := k.Load(mapProvider(Defaults()), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}
	if l.filePath != "" {
		if err := k.Load(file.Provider(l.filePath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load file %s: %w", l.filePath, err)
		}
	}
	if err := k.Load(env.Provider(l.envPrefix, ".", l.envKey), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}
	if err := k.Load(mapProvider(l.overrides), nil); err != nil {
		return nil, fmt.Errorf("load overrides: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// envKey maps MINIREDIS_SERVER_ERROR_REPLY to server.error_reply: the first
// underscore separates the section from the key.
func (l *Loader) envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, l.envPrefix))
	return strings.Replace(s, "_", ".", 1)
}

func setNested(m map[string]any, key string, value any) {
	section, rest, ok := strings.Cut(key, ".")
	if !ok {
		m[key] = value
		return
	}
	sub, ok := m[section].(map[string]any)
	if !ok {
		sub = make(map[string]any)
		m[section] = sub
	}
	setNested(sub, rest, value)
}

var errReadBytesNotSupported = errors.New("config: ReadBytes not supported by map provider")

// mapProvider is a koanf provider serving an already nested map.
type mapProvider map[string]any

func (m mapProvider) ReadBytes() ([]byte, error) {
	return nil, errReadBytesNotSupported
}

func (m mapProvider) Read() (map[string]any, error) {
	return m, nil
}
