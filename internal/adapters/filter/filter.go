// Package filter decides which channel messages the broker accepts.
package filter

import (
	"fmt"
	"time"

	"github.com/dlclark/regexp2"

	"github.com/bft-labs/channeld/internal/domain"
	"github.com/bft-labs/channeld/internal/ports"
)

// matchTimeout bounds a single match so a pathological pattern cannot stall
// the event loop.
const matchTimeout = 100 * time.Millisecond

var controlPattern = regexp2.MustCompile(`^@@(logrotate|shutdown|drophost|droptest|renamehost|renametest)`, regexp2.None)

// Regex accepts messages matching a Perl-compatible pattern. Control
// messages always pass.
type Regex struct {
	re     *regexp2.Regexp
	logger ports.Logger
}

// New compiles pattern. The pattern is matched against the whole message
// with multiline semantics, so ^ and $ anchor at line boundaries.
func New(pattern string, logger ports.Logger) (*Regex, error) {
	if pattern == "" {
		return nil, fmt.Errorf("empty filter: %w", domain.ErrInvalidConfig)
	}
	re, err := regexp2.Compile(pattern, regexp2.Multiline)
	if err != nil {
		return nil, fmt.Errorf("filter %q: %v: %w", pattern, err, domain.ErrInvalidConfig)
	}
	re.MatchTimeout = matchTimeout
	return &Regex{re: re, logger: logger}, nil
}

// Pattern returns the source pattern.
func (f *Regex) Pattern() string { return f.re.String() }

// Accept reports whether msg passes the filter. A match that times out
// rejects the message.
func (f *Regex) Accept(msg []byte) bool {
	if IsControl(msg) {
		return true
	}
	ok, err := f.re.MatchString(string(msg))
	if err != nil {
		if f.logger != nil {
			f.logger.Warn("filter match failed", ports.Err(err))
		}
		return false
	}
	return ok
}

// IsControl reports whether the first line of msg is a producer control
// message.
func IsControl(msg []byte) bool {
	ok, err := controlPattern.MatchString(string(domain.FirstLine(msg)))
	return err == nil && ok
}
