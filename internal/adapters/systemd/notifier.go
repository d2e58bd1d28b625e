// Package systemd reports broker state to systemd through sd_notify.
// Outside a systemd unit every call is a no-op.
package systemd

import (
	"github.com/coreos/go-systemd/v22/daemon"

	"github.com/bft-labs/channeld/internal/ports"
)

// Notifier implements ports.Notifier.
type Notifier struct {
	logger ports.Logger
	notify func(unsetEnv bool, state string) (bool, error)
}

var _ ports.Notifier = (*Notifier)(nil)

// NewNotifier creates a notifier.
func NewNotifier(logger ports.Logger) *Notifier {
	return &Notifier{logger: logger, notify: daemon.SdNotify}
}

func (n *Notifier) Ready() error { return n.send(daemon.SdNotifyReady) }

func (n *Notifier) Stopping() error { return n.send(daemon.SdNotifyStopping) }

func (n *Notifier) Status(status string) error { return n.send("STATUS=" + status) }

func (n *Notifier) send(state string) error {
	sent, err := n.notify(false, state)
	if err != nil {
		n.logger.Warn("sd_notify failed", ports.String("state", state), ports.Err(err))
		return err
	}
	if sent {
		n.logger.Debug("sd_notify", ports.String("state", state))
	}
	return nil
}
