// Package config loads sender settings from YAML. Command line flags are
// applied on top by the caller.
package config

import (
	"log/slog"
	"os"
	"time"

	"mesh-udp-sender/message"
	"mesh-udp-sender/readiness"
	"mesh-udp-sender/sender"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

const DefaultPath = "mesh-udp-sender.yaml"

const (
	StackHost = "host"
	StackSim  = "sim"
)

const (
	DefaultAddress = "fdde:ad00:beef::2"
	DefaultPort    = 1234
)

var ErrInvalid = errors.New("invalid configuration")

// FieldError matches both ErrInvalid and the cause with errors.Is.
type FieldError struct {
	Field string
	Err   error
}

func (e *FieldError) Error() string {
	return ErrInvalid.Error() + ": " + e.Field + ": " + e.Err.Error()
}

func (e *FieldError) Unwrap() []error { return []error{ErrInvalid, e.Err} }

type Config struct {
	Destination Destination   `yaml:"destination"`
	Interval    time.Duration `yaml:"interval"`
	Payload     string        `yaml:"payload"`
	Message     Message       `yaml:"message"`
	Readiness   Readiness     `yaml:"readiness"`
	Pool        Pool          `yaml:"pool"`
	Stack       string        `yaml:"stack"`
	LogLevel    string        `yaml:"log_level"`
}

type Destination struct {
	Address string `yaml:"address"`
	Port    uint16 `yaml:"port"`
}

type Message struct {
	LinkSecurity bool   `yaml:"link_security"`
	Priority     string `yaml:"priority"`
}

type Readiness struct {
	InstanceInterval time.Duration `yaml:"instance_interval"`
	AttachInterval   time.Duration `yaml:"attach_interval"`
}

type Pool struct {
	Size      uint `yaml:"size"`
	BufferCap uint `yaml:"buffer_cap"`
}

func Default() *Config {
	return &Config{
		Destination: Destination{Address: DefaultAddress, Port: DefaultPort},
		Interval:    sender.DefaultInterval,
		Payload:     sender.DefaultPayload,
		Message:     Message{LinkSecurity: true, Priority: message.PriorityNormal.String()},
		Readiness: Readiness{
			InstanceInterval: readiness.DefaultInstanceInterval,
			AttachInterval:   readiness.DefaultAttachInterval,
		},
		Pool:     Pool{Size: message.DefaultPoolSize, BufferCap: message.DefaultBufferCap},
		Stack:    StackHost,
		LogLevel: "info",
	}
}

// Load reads path over the defaults. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, errors.Wrapf(err, "reading %s", path)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrapf(err, "parsing %s", path)
	}

	return cfg, nil
}

// Validate checks everything that can be checked before the sender runs,
// including the destination address.
func (c *Config) Validate() error {
	if _, err := c.Dest(); err != nil {
		return err
	}
	if c.Interval <= 0 {
		return errors.Wrapf(ErrInvalid, "interval must be positive, got %s", c.Interval)
	}
	if c.Readiness.InstanceInterval < 0 || c.Readiness.AttachInterval < 0 {
		return errors.Wrap(ErrInvalid, "readiness intervals must not be negative")
	}
	if _, err := message.ParsePriority(c.Message.Priority); err != nil {
		return &FieldError{Field: "message.priority", Err: err}
	}
	if c.Pool.Size == 0 || c.Pool.BufferCap == 0 {
		return errors.Wrap(ErrInvalid, "pool size and buffer capacity must be positive")
	}
	if c.Stack != StackHost && c.Stack != StackSim {
		return errors.Wrapf(ErrInvalid, "unknown stack %q", c.Stack)
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	return nil
}

func (c *Config) Dest() (sender.StaticDestination, error) {
	return sender.ParseDestination(c.Destination.Address, c.Destination.Port)
}

func (c *Config) Level() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, &FieldError{Field: "log_level", Err: err}
	}
	return level, nil
}

func (c *Config) PoolOptions() message.PoolOptions {
	return message.PoolOptions{Size: c.Pool.Size, BufferCap: c.Pool.BufferCap}
}

func (c *Config) SenderOptions() (sender.Options, error) {
	priority, err := message.ParsePriority(c.Message.Priority)
	if err != nil {
		return sender.Options{}, &FieldError{Field: "message.priority", Err: err}
	}

	opts := sender.DefaultOptions()
	opts.Interval = c.Interval
	opts.Payload = sender.FixedPayload([]byte(c.Payload))
	opts.Settings = &message.Settings{LinkSecurity: c.Message.LinkSecurity, Priority: priority}
	opts.Readiness = readiness.Options{
		InstanceInterval: c.Readiness.InstanceInterval,
		AttachInterval:   c.Readiness.AttachInterval,
	}

	return opts, nil
}
