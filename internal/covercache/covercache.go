// Package covercache implements C3: a sharded on-disk WebP cover cache,
// generated from one page of an archive and written atomically. Grounded
// on _examples/original_source/apps/api/app/services/cover_service.py for
// the algorithm and on
// _examples/rclone-rclone/backend/cache/handle.go for the
// shard-path-derivation / atomic-temp-then-rename discipline.
package covercache

import (
	"bytes"
	"fmt"
	"image"
	"image/gif"
	"image/jpeg"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chai2010/webp"
	"golang.org/x/image/draw"
	xwebp "golang.org/x/image/webp"
	"golang.org/x/sync/singleflight"

	"github.com/CaoBiang/Manga-ULM/internal/apperr"
	"github.com/CaoBiang/Manga-ULM/internal/archivefs"
)

// DefaultPreferredNames lists the entry basenames (without extension)
// preferred as cover candidates, checked case-insensitively (§4.3).
var DefaultPreferredNames = []string{"cover", "000", "0000", "封面"}

// Config pins the cache's directory layout.
type Config struct {
	BaseDir     string
	ShardCount  int
}

// Path computes file_id's cover path under a sharded directory, the same
// "shard = id mod shard_count, rendered as zero-padded hex" math as
// cover_service.py's get_cover_path.
func Path(cfg Config, fileID int64) string {
	shardCount := cfg.ShardCount
	if shardCount < 1 {
		shardCount = 1
	}
	shardIndex := fileID % int64(shardCount)
	if shardIndex < 0 {
		shardIndex += int64(shardCount)
	}
	shardWidth := len(fmt.Sprintf("%x", shardCount-1))
	if shardWidth < 2 {
		shardWidth = 2
	}
	shard := fmt.Sprintf("%0*x", shardWidth, shardIndex)
	return filepath.Join(cfg.BaseDir, shard, fmt.Sprintf("%d.webp", fileID))
}

// Cache generates and serves cover images, collapsing duplicate concurrent
// generation requests for the same file id via singleflight (the same
// dedup role other_examples' zip_cache.go applies to concurrent verifies).
type Cache struct {
	cfg     Config
	reader  *archivefs.Reader
	group   singleflight.Group
}

func New(cfg Config, reader *archivefs.Reader) *Cache {
	return &Cache{cfg: cfg, reader: reader}
}

// BaseDir returns the directory the cache was configured with, so callers
// (the scanner's unchanged-file cover check) can probe for existing covers
// with the same Config this cache publishes into.
func (c *Cache) BaseDir() string { return c.cfg.BaseDir }

// Params bundles the quality-lowering loop's knobs (§4.3 step 4).
type Params struct {
	MaxWidth     int
	TargetKB     int
	QualityStart int
	QualityMin   int
	QualityStep  int
	PreferredNames []string
	Force        bool
}

// Ensure generates fileID's cover if missing (or Force is set), returning
// the cache path. Safe for concurrent callers on the same fileID.
func (c *Cache) Ensure(fileID int64, archivePath string, params Params) (string, error) {
	coverPath := Path(c.cfg, fileID)
	if !params.Force {
		if _, err := os.Stat(coverPath); err == nil {
			return coverPath, nil
		}
	}

	key := fmt.Sprintf("%d", fileID)
	_, err, _ := c.group.Do(key, func() (interface{}, error) {
		return nil, c.generate(fileID, archivePath, params)
	})
	if err != nil {
		return "", err
	}
	return coverPath, nil
}

func (c *Cache) generate(fileID int64, archivePath string, params Params) error {
	coverPath := Path(c.cfg, fileID)
	coverDir := filepath.Dir(coverPath)
	if err := os.MkdirAll(coverDir, 0o755); err != nil {
		return apperr.Wrap(apperr.Internal, fmt.Errorf("create cover dir %q: %w", coverDir, err))
	}

	entries, err := c.reader.List(archivePath)
	if err != nil {
		return err
	}
	entry, ok := selectCoverEntry(entries, preferredNamesOrDefault(params.PreferredNames))
	if !ok {
		return apperr.E(apperr.NotFound, "no cover candidate entry in %q", archivePath)
	}

	rc, err := c.reader.Open(archivePath, entry)
	if err != nil {
		return err
	}
	defer rc.Close()

	raw, err := io.ReadAll(rc)
	if err != nil {
		return apperr.Wrap(apperr.ReadFailed, fmt.Errorf("read cover entry %q: %w", entry.Name, err))
	}

	img, err := decodeImage(raw, archivefs.GuessMIME(entry.Name))
	if err != nil {
		return apperr.Wrap(apperr.ReadFailed, fmt.Errorf("decode cover image %q: %w", entry.Name, err))
	}

	img = resizeToMaxWidth(img, params.MaxWidth)

	tmp, err := os.CreateTemp(coverDir, "cover_*.webp")
	if err != nil {
		return apperr.Wrap(apperr.Internal, fmt.Errorf("create temp cover file: %w", err))
	}
	tmpPath := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
	}()

	if err := encodeQualityLoop(tmp, img, params); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return apperr.Wrap(apperr.Internal, fmt.Errorf("flush temp cover file: %w", err))
	}
	if err := os.Rename(tmpPath, coverPath); err != nil {
		return apperr.Wrap(apperr.Internal, fmt.Errorf("publish cover %q: %w", coverPath, err))
	}
	return nil
}

func preferredNamesOrDefault(names []string) []string {
	if len(names) == 0 {
		return DefaultPreferredNames
	}
	return names
}

func selectCoverEntry(entries []archivefs.Entry, preferred []string) (archivefs.Entry, bool) {
	if len(entries) == 0 {
		return archivefs.Entry{}, false
	}
	want := make(map[string]bool, len(preferred))
	for _, n := range preferred {
		n = strings.ToLower(strings.TrimSpace(n))
		if n != "" {
			want[n] = true
		}
	}
	for _, e := range entries {
		base := strings.ToLower(strings.TrimSuffix(filepath.Base(e.Name), filepath.Ext(e.Name)))
		if want[base] {
			return e, true
		}
	}
	return entries[0], true
}

func decodeImage(raw []byte, mime string) (image.Image, error) {
	r := bytes.NewReader(raw)
	switch mime {
	case "image/png":
		return png.Decode(r)
	case "image/gif":
		return gif.Decode(r)
	case "image/webp":
		return xwebp.Decode(r)
	default:
		return jpeg.Decode(r)
	}
}

// resizeToMaxWidth downsamples img if wider than maxWidth, preserving
// aspect ratio. CatmullRom is the closest x/image/draw kernel to the
// Lanczos resample cover_service.py requests (x/image ships no literal
// Lanczos kernel).
func resizeToMaxWidth(img image.Image, maxWidth int) image.Image {
	if maxWidth < 64 {
		maxWidth = 64
	}
	b := img.Bounds()
	width := b.Dx()
	if width <= maxWidth {
		return img
	}
	ratio := float64(maxWidth) / float64(width)
	newHeight := int(float64(b.Dy()) * ratio)
	if newHeight < 1 {
		newHeight = 1
	}
	dst := image.NewRGBA(image.Rect(0, 0, maxWidth, newHeight))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Over, nil)
	return dst
}

// encodeQualityLoop writes img as WebP into w, lowering quality until the
// encoded size fits targetKB or quality bottoms out at qualityMin (§4.3
// step 4's iterative quality-lowering loop).
func encodeQualityLoop(w io.Writer, img image.Image, params Params) error {
	quality := params.QualityStart
	if quality <= 0 {
		quality = 80
	}
	qualityMin := params.QualityMin
	if qualityMin <= 0 {
		qualityMin = 10
	}
	step := params.QualityStep
	if step <= 0 {
		step = 10
	}
	targetBytes := int64(params.TargetKB) * 1024
	if targetBytes <= 0 {
		targetBytes = 300 * 1024
	}

	rgba := toRGBA(img)
	var buf bytes.Buffer
	for {
		buf.Reset()
		if err := webp.Encode(&buf, rgba, &webp.Options{Quality: float32(quality)}); err != nil {
			return apperr.Wrap(apperr.Internal, fmt.Errorf("encode webp: %w", err))
		}
		if int64(buf.Len()) <= targetBytes || quality <= qualityMin {
			break
		}
		quality -= step
		if quality < qualityMin {
			quality = qualityMin
		}
	}
	if _, err := w.Write(buf.Bytes()); err != nil {
		return apperr.Wrap(apperr.Internal, fmt.Errorf("write webp: %w", err))
	}
	return nil
}

func toRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok {
		return rgba
	}
	b := img.Bounds()
	dst := image.NewRGBA(b)
	draw.Draw(dst, b, img, b.Min, draw.Src)
	return dst
}
