package cliconfig

import (
	"fmt"
	"time"

	pflag "github.com/spf13/pflag"
)

// Load applies the config file at path, when it exists, and then the
// environment to cfg. Flags recorded in changed keep their values.
func Load(cfg *Config, path string, changed map[string]bool) error {
	if path != "" && FileExists(path) {
		fc, err := LoadFileConfig(path)
		if err != nil {
			return fmt.Errorf("load config %s: %w", path, err)
		}
		if err := ApplyFileConfig(cfg, fc, changed); err != nil {
			return err
		}
	}
	return ApplyEnvConfig(cfg, changed)
}

// Changed returns the names of the flags set on the command line.
func Changed(fs *pflag.FlagSet) map[string]bool {
	changed := map[string]bool{}
	fs.Visit(func(f *pflag.Flag) { changed[f.Name] = true })
	return changed
}

// DurationValue is a pflag.Value that accepts Go durations and bare
// integers as seconds.
type DurationValue struct{ d *time.Duration }

var _ pflag.Value = DurationValue{}

// NewDurationValue binds dst.
func NewDurationValue(dst *time.Duration) DurationValue { return DurationValue{d: dst} }

func (v DurationValue) String() string {
	if v.d == nil {
		return "0s"
	}
	return v.d.String()
}

func (v DurationValue) Set(s string) error {
	d, err := parseDuration(s)
	if err != nil {
		return err
	}
	*v.d = d
	return nil
}

func (v DurationValue) Type() string { return "duration" }
