package packager

import (
	"fmt"
	"io"
	"io/fs"
	"path"
	"strings"
	"time"

	"github.com/klauspost/compress/zip"
)

// zipFS writes files into a zip archive as if it were a file system.
type zipFS struct {
	zw      *zip.Writer
	entries []string
}

func newZipFS(target io.Writer) *zipFS {
	return &zipFS{zw: zip.NewWriter(target)}
}

// WriteFile adds a Deflate-compressed entry. Names always use forward slashes.
func (zfs *zipFS) WriteFile(filename string, data []byte, perm fs.FileMode) error {
	name := path.Clean(strings.ReplaceAll(filename, "\\", "/"))
	hdr := &zip.FileHeader{
		Name:     name,
		Method:   zip.Deflate,
		Modified: time.Now(),
	}
	hdr.SetMode(perm &^ fs.ModeDir)

	w, err := zfs.zw.CreateHeader(hdr)
	if err != nil {
		return fmt.Errorf("zip: failed to write header for file %s: %w", name, err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("zip: failed to write contents for file %s: %w", name, err)
	}
	zfs.entries = append(zfs.entries, name)
	return nil
}

// Entries lists the names written so far, in order.
func (zfs *zipFS) Entries() []string {
	return zfs.entries
}

// Close writes the central directory. This must be called.
func (zfs *zipFS) Close() error {
	return zfs.zw.Close()
}
