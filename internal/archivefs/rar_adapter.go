package archivefs

import (
	"fmt"
	"io"
	"os"

	"github.com/nwaples/rardecode/v2"

	"github.com/CaoBiang/Manga-ULM/internal/apperr"
)

// rarAdapter backs RAR/CBR via a pure-Go, forward-only decoder: unlike zip
// and 7z it cannot seek within an entry's bytes (§4.1), so open() always
// replays the archive from the first header up to the requested entry.
type rarAdapter struct{}

func (rarAdapter) list(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, apperr.Wrap(apperr.ReadFailed, fmt.Errorf("open rar %q: %w", path, err))
	}
	defer f.Close()

	r, err := rardecode.NewReader(f)
	if err != nil {
		return nil, apperr.Wrap(apperr.ArchiveCorrupt, fmt.Errorf("read rar header %q: %w", path, err))
	}

	var entries []Entry
	for {
		hdr, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, apperr.Wrap(apperr.ArchiveCorrupt, fmt.Errorf("walk rar entries %q: %w", path, err))
		}
		if hdr.IsDir {
			continue
		}
		entries = append(entries, Entry{Name: hdr.Name, Size: hdr.UnPackedSize})
	}
	return entries, nil
}

func (rarAdapter) open(path string, entryName string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, apperr.Wrap(apperr.ReadFailed, fmt.Errorf("open rar %q: %w", path, err))
	}

	r, err := rardecode.NewReader(f)
	if err != nil {
		f.Close()
		return nil, apperr.Wrap(apperr.ArchiveCorrupt, fmt.Errorf("read rar header %q: %w", path, err))
	}

	for {
		hdr, err := r.Next()
		if err == io.EOF {
			f.Close()
			return nil, apperr.E(apperr.NotFound, "entry %q not found in %q", entryName, path)
		}
		if err != nil {
			f.Close()
			return nil, apperr.Wrap(apperr.ArchiveCorrupt, fmt.Errorf("walk rar entries %q: %w", path, err))
		}
		if hdr.Name != entryName {
			continue
		}
		return &rarEntryReader{r: r, file: f}, nil
	}
}

// rarEntryReader exposes the current entry's decoder window and closes the
// backing file handle once the caller is done with it.
type rarEntryReader struct {
	r    *rardecode.Reader
	file *os.File
}

func (e *rarEntryReader) Read(p []byte) (int, error) { return e.r.Read(p) }
func (e *rarEntryReader) Close() error                { return e.file.Close() }
