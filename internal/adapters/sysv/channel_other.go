//go:build !(linux && (amd64 || arm64))

package sysv

import (
	"time"

	"github.com/bft-labs/channeld/internal/domain"
	"github.com/bft-labs/channeld/internal/ports"
)

// Channel is unavailable on this platform.
type Channel struct{}

// Open always fails with domain.ErrUnsupported.
func Open(home string, id domain.ChannelID, logger ports.Logger) (*Channel, error) {
	return nil, domain.ErrUnsupported
}

func (c *Channel) Name() string                          { return "unsupported" }
func (c *Channel) Receive(time.Duration) ([]byte, error) { return nil, domain.ErrUnsupported }
func (c *Channel) Done(time.Duration) error              { return domain.ErrUnsupported }
func (c *Channel) Close() error                          { return nil }
