package domain

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// ChannelID selects one of the producer's message channels. The numeric
// value is also the project id used to derive the IPC key.
type ChannelID int

const (
	ChannelStatus ChannelID = iota + 1
	ChannelStachg
	ChannelPage
	ChannelData
	ChannelNotes
	ChannelEnadis
	ChannelClient
	ChannelClichg
	ChannelUser
)

var channelNames = map[ChannelID]string{
	ChannelStatus: "status",
	ChannelStachg: "stachg",
	ChannelPage:   "page",
	ChannelData:   "data",
	ChannelNotes:  "notes",
	ChannelEnadis: "enadis",
	ChannelClient: "client",
	ChannelClichg: "clichg",
	ChannelUser:   "user",
}

// Shared buffer sizes in KiB.
var channelBufferKB = map[ChannelID]int{
	ChannelStatus: 256,
	ChannelStachg: 256,
	ChannelPage:   256,
	ChannelData:   256,
	ChannelNotes:  256,
	ChannelEnadis: 32,
	ChannelClient: 512,
	ChannelClichg: 512,
	ChannelUser:   128,
}

// ParseChannel resolves a channel name.
func ParseChannel(name string) (ChannelID, error) {
	for id, n := range channelNames {
		if n == name {
			return id, nil
		}
	}
	return 0, fmt.Errorf("unknown channel %q: %w", name, ErrInvalidConfig)
}

// String returns the channel name.
func (c ChannelID) String() string {
	if n, ok := channelNames[c]; ok {
		return n
	}
	return "unknown"
}

// BufferSize returns the shared buffer size in bytes. MAXMSG_<NAME> in the
// environment overrides the default size in KiB.
func (c ChannelID) BufferSize() int {
	kb := channelBufferKB[c]
	if v := os.Getenv("MAXMSG_" + strings.ToUpper(c.String())); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			kb = n
		}
	}
	return 1024 * kb
}
