package app

import (
	"errors"
	"time"

	"github.com/bft-labs/channeld/internal/domain"
	"github.com/bft-labs/channeld/internal/ports"
)

// DefaultReaderTimeout bounds how long Done may wait for other readers.
const DefaultReaderTimeout = 2 * time.Second

// Pickup is one message accepted from the channel.
type Pickup struct {
	Msg     []byte
	Control domain.ControlTag
}

// Handshake runs the per-message rendezvous with the producer: wait, copy,
// optionally filter and checksum, acknowledge.
type Handshake struct {
	channel       ports.Channel
	filter        ports.Filter
	digester      ports.Digester
	filterLater   bool
	readerTimeout time.Duration
	logger        ports.Logger
	emitter       ports.EventEmitter
}

// NewHandshake creates a handshake over channel. filter and digester may be
// nil.
func NewHandshake(channel ports.Channel, filter ports.Filter, digester ports.Digester, filterLater bool, readerTimeout time.Duration, logger ports.Logger, emitter ports.EventEmitter) *Handshake {
	if emitter == nil {
		emitter = nopEmitter{}
	}
	if readerTimeout <= 0 {
		readerTimeout = DefaultReaderTimeout
	}
	return &Handshake{
		channel:       channel,
		filter:        filter,
		digester:      digester,
		filterLater:   filterLater,
		readerTimeout: readerTimeout,
		logger:        logger,
		emitter:       emitter,
	}
}

// SetFilter replaces the filter and when it runs.
func (h *Handshake) SetFilter(f ports.Filter, later bool) {
	h.filter = f
	h.filterLater = later
}

// SetDigester replaces the checksum algorithm.
func (h *Handshake) SetDigester(d ports.Digester) {
	h.digester = d
}

// Pickup waits up to wait for a message. It returns domain.ErrNoMessage
// when nothing arrived and a nil Msg when the message was filtered out.
// Channel errors other than ErrNoMessage are returned unchanged.
func (h *Handshake) Pickup(wait time.Duration) (Pickup, error) {
	msg, err := h.channel.Receive(wait)
	if err != nil {
		return Pickup{}, err
	}
	h.emitter.OnReceived(len(msg))

	if !h.filterLater {
		msg = h.process(msg)
	}

	if err := h.channel.Done(h.readerTimeout); err != nil {
		if errors.Is(err, domain.ErrHandshakeTimeout) {
			h.logger.Warn("producer handshake did not complete", ports.Err(err))
		} else {
			return Pickup{}, err
		}
	}

	if h.filterLater {
		msg = h.process(msg)
	}
	if msg == nil {
		return Pickup{}, nil
	}
	return Pickup{Msg: msg, Control: domain.ParseControlTag(msg)}, nil
}

// process applies the filter and checksum. It returns nil for rejected
// messages. Control messages always pass the filter.
func (h *Handshake) process(msg []byte) []byte {
	if h.filter != nil && domain.ParseControlTag(msg) == domain.ControlNone && !h.filter.Accept(msg) {
		h.emitter.OnFiltered()
		return nil
	}
	if h.digester != nil {
		msg = domain.InsertDigest(msg, h.digester.HexDigest(msg))
	}
	return msg
}
