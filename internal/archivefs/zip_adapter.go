package archivefs

import (
	"archive/zip"
	"fmt"
	"io"

	"github.com/CaoBiang/Manga-ULM/internal/apperr"
)

// zipAdapter backs ZIP/CBZ, following the central-directory-walk shape of
// backend/zip/zip.go's NewFs: open once, read the directory, close.
type zipAdapter struct{}

func (zipAdapter) list(path string) ([]Entry, error) {
	r, err := zip.OpenReader(path)
	if err != nil {
		return nil, apperr.Wrap(apperr.ArchiveCorrupt, fmt.Errorf("open zip %q: %w", path, err))
	}
	defer r.Close()

	entries := make([]Entry, 0, len(r.File))
	for _, f := range r.File {
		if f.FileInfo().IsDir() {
			continue
		}
		entries = append(entries, Entry{Name: f.Name, Size: int64(f.UncompressedSize64)})
	}
	return entries, nil
}

func (zipAdapter) open(path string, entryName string) (io.ReadCloser, error) {
	r, err := zip.OpenReader(path)
	if err != nil {
		return nil, apperr.Wrap(apperr.ArchiveCorrupt, fmt.Errorf("open zip %q: %w", path, err))
	}
	for _, f := range r.File {
		if f.Name != entryName {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			r.Close()
			return nil, apperr.Wrap(apperr.ReadFailed, fmt.Errorf("open entry %q: %w", entryName, err))
		}
		return &closeBoth{ReadCloser: rc, outer: r}, nil
	}
	r.Close()
	return nil, apperr.E(apperr.NotFound, "entry %q not found in %q", entryName, path)
}

// closeBoth closes the entry reader then the archive reader that produced
// it, since zip.ReadCloser.Close doesn't cascade to entries opened from it.
type closeBoth struct {
	io.ReadCloser
	outer io.Closer
}

func (c *closeBoth) Close() error {
	err1 := c.ReadCloser.Close()
	err2 := c.outer.Close()
	if err1 != nil {
		return err1
	}
	return err2
}
