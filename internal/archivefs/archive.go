// Package archivefs implements C1, the archive reader: opening CBZ/ZIP,
// CBR/RAR and CB7/7z archives, listing their image entries in natural
// order, and streaming individual entries without materializing the whole
// archive in memory. Grounded on
// _examples/original_source/apps/api/app/infrastructure/archive_reader.py
// and, for the Go-native wrapper shape (Register-style format dispatch,
// fmt.Errorf("...: %w", err) wrapping), on
// _examples/rclone-rclone/backend/zip/zip.go.
package archivefs

import (
	"io"
	"path/filepath"
	"sort"
	"strings"

	"github.com/CaoBiang/Manga-ULM/internal/apperr"
)

// Format identifies which codec an archive's extension maps to.
type Format int

const (
	FormatUnknown Format = iota
	FormatZip
	FormatRar
	Format7z
)

var archiveExt = map[string]Format{
	".zip": FormatZip,
	".cbz": FormatZip,
	".rar": FormatRar,
	".cbr": FormatRar,
	".7z":  Format7z,
	".cb7": Format7z,
}

var imageExt = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true, ".webp": true,
}

// DetectFormat maps a file's extension to its archive Format, or
// FormatUnknown if it is not one of the six supported extensions (§3).
func DetectFormat(path string) Format {
	return archiveExt[strings.ToLower(filepath.Ext(path))]
}

// IsSupportedArchive reports whether path has one of the six extensions
// the scanner and page server recognize.
func IsSupportedArchive(path string) bool {
	return DetectFormat(path) != FormatUnknown
}

func isImageName(name string) bool {
	return imageExt[strings.ToLower(filepath.Ext(name))]
}

// GuessMIME infers an entry's content type from its extension, defaulting
// to image/jpeg the way archive_reader.py's guess_mimetype does.
func GuessMIME(entryName string) string {
	switch strings.ToLower(filepath.Ext(entryName)) {
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	default:
		return "image/jpeg"
	}
}

// Entry describes one page within an archive. Size is -1 when the
// underlying format cannot report it from the directory index alone.
type Entry struct {
	Name string
	Size int64
}

// adapter is implemented once per archive format. list and open are the
// only operations: everything else (sorting, caching, MIME) is format
// agnostic and lives in reader.go/naturalsort.go.
type adapter interface {
	list(path string) ([]Entry, error)
	open(path string, entryName string) (io.ReadCloser, error)
}

func adapterFor(format Format) (adapter, error) {
	switch format {
	case FormatZip:
		return zipAdapter{}, nil
	case FormatRar:
		return rarAdapter{}, nil
	case Format7z:
		return sevenZipAdapter{}, nil
	default:
		return nil, apperr.E(apperr.InvalidArgument, "unsupported archive format")
	}
}

func sortEntries(entries []Entry) {
	sort.Slice(entries, func(i, j int) bool {
		return NaturalLess(entries[i].Name, entries[j].Name)
	})
}

func filterImageEntries(all []Entry) []Entry {
	out := make([]Entry, 0, len(all))
	for _, e := range all {
		if !isImageName(e.Name) {
			continue
		}
		if strings.HasPrefix(e.Name, "__MACOSX") {
			continue
		}
		out = append(out, e)
	}
	return out
}
