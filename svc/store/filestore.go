package store

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"

	"stashbin/pkg/domain"
)

const tmpPrefix = ".tmp-"

// FileStore keeps one file per paste under an upload directory, named by
// paste ID. Writes go through a temp file and rename so readers never see a
// partial blob; deletes are a single unlink.
type FileStore struct {
	dir string
}

func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		return nil, errors.New("upload dir is required")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, errors.Wrap(err, "create upload dir")
	}
	return &FileStore{dir: dir}, nil
}

func (f *FileStore) path(id string) (string, error) {
	// IDs are validated upstream, but a store must never be the component
	// that lets a crafted name escape its directory.
	if !domain.ValidID(id) {
		return "", domain.ErrInvalidID
	}
	return filepath.Join(f.dir, id), nil
}

func (f *FileStore) Put(ctx context.Context, id string, r io.Reader, n int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dst, err := f.path(id)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(f.dir, tmpPrefix+"*")
	if err != nil {
		return errors.Wrap(err, "create temp file")
	}
	defer os.Remove(tmp.Name())

	written, err := io.Copy(tmp, io.LimitReader(r, n+1))
	if err != nil {
		tmp.Close()
		return errors.Wrap(err, "stream content")
	}
	if written > n {
		tmp.Close()
		return domain.ErrPasteTooLarge
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return errors.Wrap(err, "sync content")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "close temp file")
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return errors.Wrap(err, "publish content")
	}
	return nil
}

func (f *FileStore) Get(ctx context.Context, id string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, err := f.path(id)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if os.IsNotExist(err) {
		return nil, domain.ErrPasteNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "read content")
	}
	return data, nil
}

func (f *FileStore) Delete(ctx context.Context, id string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	p, err := f.path(id)
	if err != nil {
		return false, err
	}
	err = os.Remove(p)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrap(err, "remove content")
	}
	return true, nil
}

func (f *FileStore) Exists(ctx context.Context, id string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	p, err := f.path(id)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(p)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrap(err, "stat content")
	}
	return true, nil
}

func (f *FileStore) List(ctx context.Context) ([]ContentInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return nil, errors.Wrap(err, "read upload dir")
	}
	infos := make([]ContentInfo, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), tmpPrefix) {
			continue
		}
		fi, err := e.Info()
		if err != nil {
			// Raced with a delete between ReadDir and Info.
			if os.IsNotExist(err) {
				continue
			}
			return nil, errors.Wrap(err, "stat upload entry")
		}
		infos = append(infos, ContentInfo{ID: e.Name(), ModTime: fi.ModTime()})
	}
	return infos, nil
}
