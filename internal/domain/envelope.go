package domain

import (
	"bytes"
	"fmt"
)

// BroadcastKey is the routing key that addresses every peer.
const BroadcastKey = "*"

// ParseRoutingKey returns the key between the first '/' and the following
// '|' on the first line of msg.
func ParseRoutingKey(msg []byte) (string, error) {
	i := bytes.IndexAny(msg, "/|\r\n")
	if i < 0 || msg[i] != '/' {
		return "", fmt.Errorf("no key field: %w", ErrMalformedEnvelope)
	}
	rest := msg[i+1:]
	j := bytes.IndexAny(rest, "|\r\n")
	if j < 0 || rest[j] != '|' {
		return "", fmt.Errorf("no delimiter after key: %w", ErrMalformedEnvelope)
	}
	return string(rest[:j]), nil
}

// IsBroadcast reports whether key addresses every peer.
func IsBroadcast(key string) bool {
	return len(key) > 0 && key[0] == '*'
}

// ControlTag identifies producer control messages.
type ControlTag int

const (
	ControlNone ControlTag = iota
	ControlLogRotate
	ControlShutdown
	ControlDropHost
	ControlDropTest
	ControlRenameHost
	ControlRenameTest
)

var controlPrefixes = []struct {
	prefix string
	tag    ControlTag
}{
	{"@@logrotate", ControlLogRotate},
	{"@@shutdown", ControlShutdown},
	{"@@drophost", ControlDropHost},
	{"@@droptest", ControlDropTest},
	{"@@renamehost", ControlRenameHost},
	{"@@renametest", ControlRenameTest},
}

// String returns the tag name as it appears on the wire.
func (t ControlTag) String() string {
	for _, c := range controlPrefixes {
		if c.tag == t {
			return c.prefix[2:]
		}
	}
	return "none"
}

// ParseControlTag returns the control tag msg starts with, if any.
func ParseControlTag(msg []byte) ControlTag {
	for _, c := range controlPrefixes {
		if bytes.HasPrefix(msg, []byte(c.prefix)) {
			return c.tag
		}
	}
	return ControlNone
}

// FirstLine returns msg up to, not including, the first newline.
func FirstLine(msg []byte) []byte {
	if i := bytes.IndexByte(msg, '\n'); i >= 0 {
		return msg[:i]
	}
	return msg
}

// InsertDigest rewrites the header "@@marker#seq/key|..." into
// "@@marker:digest#seq/key|...". Messages whose header has no sequence
// number (the first of '#', '|', '\n' is not '#') are returned unchanged.
func InsertDigest(msg []byte, digest string) []byte {
	i := bytes.IndexAny(msg, "#|\n")
	if i < 0 || msg[i] != '#' {
		return msg
	}
	out := make([]byte, 0, len(msg)+len(digest)+1)
	out = append(out, msg[:i]...)
	out = append(out, ':')
	out = append(out, digest...)
	out = append(out, msg[i:]...)
	return out
}
