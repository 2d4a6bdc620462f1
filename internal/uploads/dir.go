package uploads

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/keithlinneman/tradedesk/internal/log"
	"github.com/keithlinneman/tradedesk/internal/xerrors"
)

// DirStore writes documents under a local root directory. Files are written
// to a temp name and renamed into place so readers never see partial files.
type DirStore struct {
	root string
	now  func() time.Time
}

func NewDirStore(root string) (*DirStore, error) {
	if root == "" {
		return nil, xerrors.New("upload directory is required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, xerrors.Wrapf(err, "resolve upload dir %s", root)
	}
	if err := os.MkdirAll(abs, 0o750); err != nil {
		return nil, xerrors.Wrapf(err, "create upload dir %s", abs)
	}
	return &DirStore{root: abs, now: time.Now}, nil
}

func (d *DirStore) Put(ctx context.Context, name, contentType string, r io.Reader, size int64) (string, error) {
	key, err := objectKey(d.now(), contentType)
	if err != nil {
		return "", err
	}
	dst := filepath.Join(d.root, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(dst), 0o750); err != nil {
		return "", xerrors.Wrap(err, "create upload subdir")
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".upload-*")
	if err != nil {
		return "", xerrors.Wrap(err, "create temp file")
	}
	tmpPath := tmp.Name()
	written, err := io.Copy(tmp, io.LimitReader(r, size+1))
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err == nil && written != size {
		err = xerrors.Newf("document size mismatch: declared %d, read %d", size, written)
	}
	if err != nil {
		_ = os.Remove(tmpPath)
		return "", xerrors.Wrap(err, "write document")
	}
	if err := os.Rename(tmpPath, dst); err != nil {
		_ = os.Remove(tmpPath)
		return "", xerrors.Wrap(err, "move document into place")
	}

	log.FromContext(ctx).Info(ctx, "document stored",
		"dir", d.root,
		"key", key,
		"size", humanize.IBytes(uint64(size)),
	)
	return key, nil
}
