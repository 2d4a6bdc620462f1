// Package uploads stores validated user documents either in S3 or in a
// local directory. Object names are always generated; the client-supplied
// filename is kept only as metadata.
package uploads

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"io"
	"path"
	"time"

	"github.com/keithlinneman/tradedesk/internal/xerrors"
)

type Store interface {
	// Put stores size bytes from r and returns the generated key.
	Put(ctx context.Context, name, contentType string, r io.Reader, size int64) (key string, err error)
}

var extensions = map[string]string{
	"image/jpeg":      ".jpg",
	"image/png":       ".png",
	"image/gif":       ".gif",
	"application/pdf": ".pdf",
}

// objectKey returns "2006/01/02/<32 hex chars><ext>".
func objectKey(now time.Time, contentType string) (string, error) {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", xerrors.Wrap(err, "generate object name")
	}
	return path.Join(now.UTC().Format("2006/01/02"), hex.EncodeToString(b[:])+extensions[contentType]), nil
}
