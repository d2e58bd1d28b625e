package ports

// Digester computes the checksum inserted into forwarded message headers.
type Digester interface {
	// Name is the algorithm name, e.g. "md5".
	Name() string

	// HexDigest returns the lowercase hex digest of msg.
	HexDigest(msg []byte) string
}

// Filter decides which messages are accepted from the channel.
type Filter interface {
	// Accept reports whether msg should be queued.
	Accept(msg []byte) bool
}
