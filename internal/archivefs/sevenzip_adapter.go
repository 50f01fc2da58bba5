package archivefs

import (
	"fmt"
	"io"

	"github.com/bodgit/sevenzip"

	"github.com/CaoBiang/Manga-ULM/internal/apperr"
)

// sevenZipAdapter backs 7z/CB7. sevenzip.OpenReader gives random access to
// folder contents via io.ReaderAt, the closest match to archive_reader.py's
// "decode once, keep bytes" 7z fallback (§4.1).
type sevenZipAdapter struct{}

func (sevenZipAdapter) list(path string) ([]Entry, error) {
	r, err := sevenzip.OpenReader(path)
	if err != nil {
		return nil, apperr.Wrap(apperr.ArchiveCorrupt, fmt.Errorf("open 7z %q: %w", path, err))
	}
	defer r.Close()

	entries := make([]Entry, 0, len(r.File))
	for _, f := range r.File {
		if f.FileInfo().IsDir() {
			continue
		}
		entries = append(entries, Entry{Name: f.Name, Size: int64(f.UncompressedSize)})
	}
	return entries, nil
}

func (sevenZipAdapter) open(path string, entryName string) (io.ReadCloser, error) {
	r, err := sevenzip.OpenReader(path)
	if err != nil {
		return nil, apperr.Wrap(apperr.ArchiveCorrupt, fmt.Errorf("open 7z %q: %w", path, err))
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
