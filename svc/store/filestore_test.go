package store

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pkg/errors"

	"stashbin/pkg/domain"
)

const testID = "aB3dEfGh1jKlMnOpQrStUvWx"

func newTestFileStore(t *testing.T) *FileStore {
	t.Helper()
	fs, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	return fs
}

func TestFileStoreRoundTrip(t *testing.T) {
	fs := newTestFileStore(t)
	ctx := context.Background()
	content := []byte("hello world")

	if err := fs.Put(ctx, testID, bytes.NewReader(content), 1024); err != nil {
		t.Fatal(err)
	}
	got, err := fs.Get(ctx, testID)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, content) {
		t.Fatalf("Get = %q, want %q", got, content)
	}
	exists, err := fs.Exists(ctx, testID)
	if err != nil {
		t.Fatal(err)
	}
	if !exists {
		t.Fatal("Exists = false after Put")
	}
}

func TestFileStoreGetMissing(t *testing.T) {
	fs := newTestFileStore(t)
	_, err := fs.Get(context.Background(), testID)
	if !errors.Is(err, domain.ErrPasteNotFound) {
		t.Fatalf("err = %v, want ErrPasteNotFound", err)
	}
}

func TestFileStoreDeleteIdempotent(t *testing.T) {
	fs := newTestFileStore(t)
	ctx := context.Background()
	if err := fs.Put(ctx, testID, strings.NewReader("x"), 16); err != nil {
		t.Fatal(err)
	}
	removed, err := fs.Delete(ctx, testID)
	if err != nil {
		t.Fatal(err)
	}
	if !removed {
		t.Fatal("first Delete should report removal")
	}
	removed, err = fs.Delete(ctx, testID)
	if err != nil {
		t.Fatal("second Delete must not error:", err)
	}
	if removed {
		t.Fatal("second Delete should be a no-op")
	}
}

func TestFileStorePutTooLarge(t *testing.T) {
	fs := newTestFileStore(t)
	err := fs.Put(context.Background(), testID, strings.NewReader("0123456789"), 5)
	if !errors.Is(err, domain.ErrPasteTooLarge) {
		t.Fatalf("err = %v, want ErrPasteTooLarge", err)
	}
	exists, _ := fs.Exists(context.Background(), testID)
	if exists {
		t.Fatal("oversized Put must not leave a blob behind")
	}
}

func TestFileStoreRejectsInvalidID(t *testing.T) {
	fs := newTestFileStore(t)
	err := fs.Put(context.Background(), "../escape", strings.NewReader("x"), 16)
	if !errors.Is(err, domain.ErrInvalidID) {
		t.Fatalf("err = %v, want ErrInvalidID", err)
	}
}

func TestFileStoreList(t *testing.T) {
	fs := newTestFileStore(t)
	ctx := context.Background()
	other := "zz3dEfGh1jKlMnOpQrStUvWx"
	if err := fs.Put(ctx, testID, strings.NewReader("a"), 16); err != nil {
		t.Fatal(err)
	}
	if err := fs.Put(ctx, other, strings.NewReader("b"), 16); err != nil {
		t.Fatal(err)
	}
	// A stray temp file must never show up as content.
	if err := os.WriteFile(filepath.Join(fs.dir, tmpPrefix+"stray"), []byte("junk"), 0o600); err != nil {
		t.Fatal(err)
	}
	infos, err := fs.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(infos) != 2 {
		t.Fatalf("List returned %d entries, want 2", len(infos))
	}
	ids := map[string]bool{}
	for _, info := range infos {
		ids[info.ID] = true
		if info.ModTime.IsZero() {
			t.Errorf("entry %s has zero ModTime", info.ID)
		}
	}
	if !ids[testID] || !ids[other] {
		t.Fatalf("List = %v, want both ids", ids)
	}
}
