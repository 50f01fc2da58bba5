package archivefs

import (
	"fmt"
	"io"
	"os"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/CaoBiang/Manga-ULM/internal/apperr"
)

// signature keys the index cache on (path, mtime, size) so a changed file
// invalidates automatically, per archive_reader.py's _file_signature.
type signature struct {
	path  string
	mtime int64
	size  int64
}

type sizeKey struct {
	signature
	entry string
}

// Reader is C1's public entry point: a bounded-memory view over archives
// that caches directory listings and resolved entry sizes, the same role
// archive_reader.py's @lru_cache decorators fill.
type Reader struct {
	index *lru.Cache[signature, []Entry]
	sizes *lru.Cache[sizeKey, int64]
}

// NewReader builds a Reader with the given cache capacities (entries, not
// bytes — directory listings are small).
func NewReader(indexCacheSize, sizeCacheSize int) (*Reader, error) {
	if indexCacheSize <= 0 {
		indexCacheSize = 256
	}
	if sizeCacheSize <= 0 {
		sizeCacheSize = 1024
	}
	idx, err := lru.New[signature, []Entry](indexCacheSize)
	if err != nil {
		return nil, err
	}
	sz, err := lru.New[sizeKey, int64](sizeCacheSize)
	if err != nil {
		return nil, err
	}
	return &Reader{index: idx, sizes: sz}, nil
}

func fileSignature(path string) (signature, error) {
	st, err := os.Stat(path)
	if err != nil {
		return signature{}, apperr.Wrap(apperr.ReadFailed, fmt.Errorf("stat %q: %w", path, err))
	}
	return signature{path: path, mtime: st.ModTime().Unix(), size: st.Size()}, nil
}

// List returns the archive's image entries in natural order, using the
// cached index when the file's (mtime, size) signature hasn't changed.
func (r *Reader) List(path string) ([]Entry, error) {
	sig, err := fileSignature(path)
	if err != nil {
		return nil, err
	}
	if cached, ok := r.index.Get(sig); ok {
		return cached, nil
	}

	a, err := adapterFor(DetectFormat(path))
	if err != nil {
		return nil, err
	}
	all, err := a.list(path)
	if err != nil {
		return nil, err
	}
	entries := filterImageEntries(all)
	sortEntries(entries)

	r.index.Add(sig, entries)
	return entries, nil
}

// EntryAt returns the nth page (0-indexed), or ok=false if out of range —
// mirrors get_entry_by_index's "never raise, return None" contract.
func (r *Reader) EntryAt(path string, page int) (Entry, bool, error) {
	entries, err := r.List(path)
	if err != nil {
		return Entry{}, false, err
	}
	if page < 0 || page >= len(entries) {
		return Entry{}, false, nil
	}
	return entries[page], true, nil
}

// EntrySize resolves an entry's byte size, falling back to a one-time open
// when the format's directory index didn't carry it (e.g. some 7z folders).
func (r *Reader) EntrySize(path string, entry Entry) (int64, error) {
	if entry.Size >= 0 {
		return entry.Size, nil
	}
	sig, err := fileSignature(path)
	if err != nil {
		return 0, err
	}
	key := sizeKey{signature: sig, entry: entry.Name}
	if cached, ok := r.sizes.Get(key); ok {
		return cached, nil
	}

	rc, err := r.Open(path, entry)
	if err != nil {
		return 0, err
	}
	defer rc.Close()
	n, err := io.Copy(io.Discard, rc)
	if err != nil {
		return 0, apperr.Wrap(apperr.ReadFailed, fmt.Errorf("measure entry %q: %w", entry.Name, err))
	}
	r.sizes.Add(key, n)
	return n, nil
}

// Open streams one entry's bytes. Callers must Close the returned reader.
func (r *Reader) Open(path string, entry Entry) (io.ReadCloser, error) {
	a, err := adapterFor(DetectFormat(path))
	if err != nil {
		return nil, err
	}
	return a.open(path, entry.Name)
}

// StreamPage copies one page's bytes to w in chunkKB-sized pieces, the Go
// equivalent of iter_entry_chunks's generator-based streaming.
func (r *Reader) StreamPage(path string, entry Entry, w io.Writer, chunkKB int) error {
	if chunkKB <= 0 {
		chunkKB = 512
	}
	rc, err := r.Open(path, entry)
	if err != nil {
		return err
	}
	defer rc.Close()

	buf := make([]byte, chunkKB*1024)
	_, err = io.CopyBuffer(w, rc, buf)
	if err != nil {
		return apperr.Wrap(apperr.ReadFailed, fmt.Errorf("stream entry %q: %w", entry.Name, err))
	}
	return nil
}

// Validate re-lists the archive's directory and returns an error if the
// archive cannot be opened or its index cannot be read — the primitive the
// integrity-check task (see internal/maintenance) runs per file.
func (r *Reader) Validate(path string) error {
	sig, err := fileSignature(path)
	if err != nil {
		return err
	}
	r.index.Remove(sig)
	_, err = r.List(path)
	return err
}
