package bundle

import (
	"encoding/hex"
	"io"
	"log/slog"

	"github.com/zeebo/blake3"
)

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

// Digest returns the hex BLAKE3-256 digest of b.
func Digest(b []byte) string {
	sum := blake3.Sum256(b)
	return hex.EncodeToString(sum[:])
}
