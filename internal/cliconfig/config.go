package cliconfig

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/bft-labs/channeld/internal/domain"
)

// EnvPrefix prefixes every environment variable read by channeld.
const EnvPrefix = "CHANNELD_"

// Config holds CLI configuration for channeld.
type Config struct {
	Channel string
	IPCHome string

	// Peers are remote daemons as host[:port].
	Peers []string
	// Command is the worker command line given as positional arguments.
	Command []string
	// Workers are worker command lines from the config file.
	Workers []string

	MultiLocal bool
	MultiRun   int
	Balance    bool

	Locator         string
	Service         string
	LocatorCacheTTL time.Duration

	MessageTimeout time.Duration
	MaxPeerWrites  int
	MaxQueueDepth  int
	Checksum       string
	Filter         string
	FilterLater    bool

	InitialDelay   time.Duration
	ReaderTimeout  time.Duration
	IdleWait       time.Duration
	DrainTimeout   time.Duration
	ConnectTimeout time.Duration
	DefaultPort    int

	Daemon      bool
	LogFile     string
	LogLevel    string
	PIDFile     string
	MetricsAddr string
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		MessageTimeout: 30 * time.Second,
		MaxPeerWrites:  1,
		ReaderTimeout:  2 * time.Second,
		IdleWait:       time.Second,
		DrainTimeout:   30 * time.Second,
		ConnectTimeout: 2 * time.Second,
		DefaultPort:    1984,
		LogLevel:       "info",
	}
}

// Validate checks the configuration for errors and sets derived defaults.
func (c *Config) Validate() error {
	if c.Channel == "" {
		return fmt.Errorf("channel is required: %w", domain.ErrInvalidConfig)
	}
	if _, err := domain.ParseChannel(c.Channel); err != nil {
		return err
	}
	if c.IPCHome == "" {
		return fmt.Errorf("ipc home is required (or XYMONHOME): %w", domain.ErrInvalidConfig)
	}

	if c.Locator != "" {
		if c.Service == "" {
			return fmt.Errorf("locator needs a service: %w", domain.ErrInvalidConfig)
		}
		if _, err := domain.ParseServiceType(c.Service); err != nil {
			return err
		}
	} else if len(c.Peers) == 0 && len(c.Command) == 0 && len(c.Workers) == 0 {
		return fmt.Errorf("no worker command or peer given: %w", domain.ErrInvalidConfig)
	}

	if c.MultiRun > 1 && c.MultiLocal {
		return fmt.Errorf("multirun=%d cannot be combined with multilocal: %w", c.MultiRun, domain.ErrInvalidConfig)
	}
	if c.MultiRun > 1 {
		c.Balance = true
	}

	if c.MaxPeerWrites <= 0 {
		c.MaxPeerWrites = 1
	}
	if c.MaxQueueDepth < 0 {
		return fmt.Errorf("max queue depth must not be negative: %w", domain.ErrInvalidConfig)
	}
	if c.MessageTimeout <= 0 {
		return fmt.Errorf("message timeout must be positive: %w", domain.ErrInvalidConfig)
	}
	if c.DefaultPort <= 0 || c.DefaultPort > 65535 {
		return fmt.Errorf("default port %d out of range: %w", c.DefaultPort, domain.ErrInvalidConfig)
	}

	switch c.Checksum {
	case "", "none", "md5", "blake3":
	default:
		return fmt.Errorf("unknown checksum %q: %w", c.Checksum, domain.ErrInvalidConfig)
	}

	c.LogLevel = strings.ToLower(c.LogLevel)
	switch c.LogLevel {
	case "":
		c.LogLevel = "info"
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level %q: %w", c.LogLevel, domain.ErrInvalidConfig)
	}

	return nil
}

// ChannelID returns the parsed channel. Call after Validate.
func (c *Config) ChannelID() domain.ChannelID {
	id, _ := domain.ParseChannel(c.Channel)
	return id
}

// ServiceType returns the parsed locator service. Call after Validate.
func (c *Config) ServiceType() domain.ServiceType {
	svc, _ := domain.ParseServiceType(c.Service)
	return svc
}

// Sharded reports whether peers are chosen by the locator.
func (c *Config) Sharded() bool { return c.Locator != "" }

// WorkerCommands returns the argv of every local worker, one entry per
// process to start. Positional arguments form one command, or one command
// per argument with MultiLocal; MultiRun repeats a single command.
func (c *Config) WorkerCommands() [][]string {
	var out [][]string
	switch {
	case len(c.Command) == 0:
	case c.MultiLocal:
		for _, cmd := range c.Command {
			out = append(out, []string{cmd})
		}
	default:
		n := c.MultiRun
		if n < 1 {
			n = 1
		}
		for i := 0; i < n; i++ {
			out = append(out, append([]string(nil), c.Command...))
		}
	}
	for _, line := range c.Workers {
		if argv := strings.Fields(line); len(argv) > 0 {
			out = append(out, argv)
		}
	}
	return out
}

// configSetter helps apply configuration values while respecting flag precedence.
// It only applies values if the corresponding flag hasn't been explicitly set.
type configSetter struct {
	changed map[string]bool
}

func newConfigSetter(changed map[string]bool) *configSetter {
	return &configSetter{changed: changed}
}

// setString sets a string value if not empty and flag not changed.
func (s *configSetter) setString(flag, value string, dst *string) {
	if value == "" || s.changed[flag] {
		return
	}
	*dst = value
}

// setList sets a list if not empty and flag not changed.
func (s *configSetter) setList(flag string, value []string, dst *[]string) {
	if len(value) == 0 || s.changed[flag] {
		return
	}
	*dst = append([]string(nil), value...)
}

// setInt sets an int value if positive and flag not changed.
func (s *configSetter) setInt(flag string, value int, dst *int) {
	if value <= 0 || s.changed[flag] {
		return
	}
	*dst = value
}

// setDuration parses and sets a duration from string if valid and flag not changed.
func (s *configSetter) setDuration(flag, value string, dst *time.Duration) error {
	if value == "" || s.changed[flag] {
		return nil
	}
	d, err := parseDuration(value)
	if err != nil {
		return fmt.Errorf("parse %s: %w", flag, err)
	}
	*dst = d
	return nil
}

// setBool sets a bool value from a pointer if not nil and flag not changed.
func (s *configSetter) setBool(flag string, value *bool, dst *bool) {
	if value == nil || s.changed[flag] {
		return
	}
	*dst = *value
}

// setIntFromString parses a string to int and sets the destination if valid.
// Used for environment variables that come as strings.
func (s *configSetter) setIntFromString(flag, value string, dst *int) error {
	if value == "" || s.changed[flag] {
		return nil
	}
	i, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("parse %s: %w", flag, err)
	}
	if i <= 0 {
		return nil
	}
	*dst = i
	return nil
}

// setBoolFromString parses a string to bool and sets the destination.
// Accepts "true", "1" as true, anything else as false.
func (s *configSetter) setBoolFromString(flag, value string, dst *bool) {
	if value == "" || s.changed[flag] {
		return
	}
	*dst = value == "true" || value == "1"
}

// parseDuration accepts Go durations and bare integers as seconds, which is
// how existing installations pass timeouts.
func parseDuration(v string) (time.Duration, error) {
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	return time.ParseDuration(v)
}
