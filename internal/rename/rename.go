package rename

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/CaoBiang/Manga-ULM/internal/apperr"
	"github.com/CaoBiang/Manga-ULM/internal/model"
)

// movePath renames oldPath to newPath, handling three cases rename.py's
// _rename_path does:
//  1. identical paths: no-op.
//  2. same path differing only by case on a case-insensitive filesystem:
//     rename through a same-directory temp name first, since os.Rename
//     treats the destination as already existing.
//  3. cross-volume rename failure: fall back to copy+delete.
func movePath(oldPath, newPath string) error {
	if oldPath == newPath {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(newPath), 0o755); err != nil {
		return apperr.Wrap(apperr.Internal, fmt.Errorf("create destination dir: %w", err))
	}

	sameIgnoringCase := lowerIfWindows(oldPath) == lowerIfWindows(newPath)
	if !sameIgnoringCase {
		if _, err := os.Stat(newPath); err == nil {
			return apperr.E(apperr.TargetExists, "destination already exists: %s", newPath)
		}
	}

	if sameIgnoringCase {
		if _, err := os.Stat(newPath); err == nil {
			tmp := buildSafeTempPath(oldPath)
			if err := os.Rename(oldPath, tmp); err != nil {
				return apperr.Wrap(apperr.Internal, fmt.Errorf("rename to temp %q: %w", tmp, err))
			}
			if err := os.Rename(tmp, newPath); err != nil {
				return apperr.Wrap(apperr.Internal, fmt.Errorf("rename temp to destination: %w", err))
			}
			return nil
		}
	}

	if err := os.Rename(oldPath, newPath); err != nil {
		if copyErr := copyThenDelete(oldPath, newPath); copyErr != nil {
			return apperr.Wrap(apperr.Internal, fmt.Errorf("rename %q to %q: %w", oldPath, newPath, err))
		}
	}
	return nil
}

func copyThenDelete(oldPath, newPath string) error {
	src, err := os.Open(oldPath)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.Create(newPath)
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		_ = os.Remove(newPath)
		return err
	}
	if err := dst.Close(); err != nil {
		return err
	}
	return os.Remove(oldPath)
}

var filenameTagPattern = regexp.MustCompile(`\[([^\]]+)\]`)

// ExtractFilenameTags returns every [tag] token in a filename.
func ExtractFilenameTags(filename string) []string {
	matches := filenameTagPattern.FindAllStringSubmatch(filename, -1)
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		out = append(out, m[1])
	}
	return out
}

var whitespaceRun = regexp.MustCompile(`\s+`)

// placeholderPattern matches any remaining {...} token after substitution.
var placeholderPattern = regexp.MustCompile(`\{[^{}]+\}`)

// GenerateNewPath renders template against a file's metadata and tags,
// returning an absolute path rooted under rootPath. Mirrors
// generate_new_path: placeholder substitution, stripping of unresolved
// placeholders, trimming of surrounding whitespace, and a root-containment
// check. An absolute template is rejected; a leading separator left behind by
// a placeholder that rendered empty is dropped.
func GenerateNewPath(template string, f *model.File, tags []model.Tag, rootPath string) (string, error) {
	if template == "" {
		return "", apperr.E(apperr.InvalidArgument, "template must not be empty")
	}
	if rootPath == "" {
		return "", apperr.E(apperr.InvalidArgument, "root_path must not be empty")
	}

	oldPath := f.Path
	ext := filepath.Ext(oldPath)
	title := strings.TrimSuffix(filepath.Base(oldPath), ext)

	data := map[string]string{
		"id":            strconv.FormatInt(f.ID, 10),
		"title":         title,
		"series":        "",
		"author":        "",
		"volume_number": "",
		"year":          "",
	}
	for _, tag := range tags {
		typeName := strings.ToLower(strings.TrimSpace(tag.Type.Name))
		if typeName == "" {
			continue
		}
		switch typeName {
		case "author", "series", "title", "volume_number", "year":
			data[typeName] = tag.Name
		default:
			data["custom_tag:"+typeName] = tag.Name
		}
	}

	sep := string(os.PathSeparator)
	if filepath.IsAbs(strings.ReplaceAll(strings.ReplaceAll(template, "/", sep), `\`, sep)) {
		return "", apperr.E(apperr.InvalidArgument, "template must not produce an absolute path")
	}

	result := template
	for key, value := range data {
		result = strings.ReplaceAll(result, "{"+key+"}", SanitizeFilename(value))
	}
	result = placeholderPattern.ReplaceAllString(result, "")

	result = strings.ReplaceAll(result, "/", sep)
	result = strings.ReplaceAll(result, `\`, sep)
	result = strings.TrimLeft(result, sep)
	result = strings.TrimSpace(filepath.Clean(result))

	if filepath.IsAbs(result) {
		return "", apperr.E(apperr.InvalidArgument, "template must not produce an absolute path")
	}
	if result == ".." || strings.HasPrefix(result, ".."+string(os.PathSeparator)) {
		return "", apperr.Wrap(apperr.PathEscape, fmt.Errorf("template escapes root_path"))
	}
	if result == "" || result == "." {
		result = SanitizeFilename(title)
		if result == "" {
			result = strconv.FormatInt(f.ID, 10)
		}
	}

	newPath := filepath.Join(rootPath, result+ext)
	if !isWithinDir(newPath, rootPath) {
		return "", apperr.Wrap(apperr.PathEscape, fmt.Errorf("generated path escapes root_path: %s", newPath))
	}
	return filepath.Clean(newPath), nil
}

// RenameSingleFileInPlace applies a new filename (not a full path) within
// the file's existing directory, moving the archive on disk. It does not
// persist the catalog row — callers do that, so they can also resync tag
// indexes in the same transaction.
func RenameSingleFileInPlace(f *model.File, newFilename string) (string, error) {
	requested := strings.TrimSpace(filepath.Base(newFilename))
	if requested == "" {
		return "", apperr.E(apperr.InvalidArgument, "new filename must not be empty")
	}

	oldPath := f.Path
	dir := filepath.Dir(oldPath)
	oldExt := filepath.Ext(oldPath)

	reqExt := filepath.Ext(requested)
	if reqExt == "." {
		return "", apperr.E(apperr.InvalidArgument, "invalid file extension")
	}
	reqRoot := strings.TrimSuffix(requested, reqExt)

	extToUse := reqExt
	baseToUse := reqRoot
	if reqExt == "" {
		extToUse = oldExt
		baseToUse = requested
	}

	sanitizedRoot := SanitizeFilename(baseToUse)
	sanitizedExt := SanitizeFilename(strings.TrimPrefix(extToUse, "."))
	if sanitizedExt != "" {
		extToUse = "." + sanitizedExt
	} else {
		extToUse = ""
	}

	newPath := filepath.Clean(filepath.Join(dir, sanitizedRoot+extToUse))
	if newPath == oldPath {
		return oldPath, nil
	}
	if err := movePath(oldPath, newPath); err != nil {
		return "", err
	}
	return newPath, nil
}

// NormalizeTagWhitespace collapses runs of whitespace and trims, the Go
// equivalent of rename.py's `re.sub(r'\s+', ' ', result).strip()` used
// after stripping/splicing bracketed tags into a basename.
func NormalizeTagWhitespace(s string) string {
	return strings.TrimSpace(whitespaceRun.ReplaceAllString(s, " "))
}
