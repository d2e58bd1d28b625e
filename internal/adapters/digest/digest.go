// Package digest provides the checksums inserted into forwarded message
// headers.
package digest

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"

	"github.com/zeebo/blake3"

	"github.com/bft-labs/channeld/internal/domain"
	"github.com/bft-labs/channeld/internal/ports"
)

// Algorithm names accepted by New.
const (
	MD5    = "md5"
	BLAKE3 = "blake3"
)

// New returns the digester for name. An empty name returns nil, which
// disables checksums.
func New(name string) (ports.Digester, error) {
	switch name {
	case "", "none":
		return nil, nil
	case MD5:
		return MD5Digester{}, nil
	case BLAKE3:
		return BLAKE3Digester{}, nil
	default:
		return nil, fmt.Errorf("unknown checksum %q: %w", name, domain.ErrInvalidConfig)
	}
}

// MD5Digester produces the digest existing consumers expect.
type MD5Digester struct{}

func (MD5Digester) Name() string { return MD5 }

func (MD5Digester) HexDigest(msg []byte) string {
	sum := md5.Sum(msg)
	return hex.EncodeToString(sum[:])
}

// BLAKE3Digester produces a 256-bit BLAKE3 digest.
type BLAKE3Digester struct{}

func (BLAKE3Digester) Name() string { return BLAKE3 }

func (BLAKE3Digester) HexDigest(msg []byte) string {
	sum := blake3.Sum256(msg)
	return hex.EncodeToString(sum[:])
}
