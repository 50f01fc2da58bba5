// Package pageserver implements C9: streaming one archive page (or cover)
// over HTTP without materializing the whole archive in memory, and the
// server-side downscale path §4.9 requires when a page's larger side exceeds
// the ui.reader.image.max_side_px setting. Grounded on
// _examples/original_source/apps/api/app/api/v1/files.py's
// build_page_response for the streaming/ETag shape and on
// internal/covercache's decode/resize/encode idiom for the render path.
package pageserver

import (
	"bytes"
	"crypto/sha1"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"image"
	"image/gif"
	"image/jpeg"
	"image/png"
	"io"
	"net/http"
	"os"
	"strconv"

	"github.com/chai2010/webp"
	"golang.org/x/image/draw"
	xwebp "golang.org/x/image/webp"

	"github.com/CaoBiang/Manga-ULM/internal/apperr"
	"github.com/CaoBiang/Manga-ULM/internal/archivefs"
	"github.com/CaoBiang/Manga-ULM/internal/settings"
)

// Server streams individual archive pages, rendering them server-side
// when configured to.
type Server struct {
	Reader  *archivefs.Reader
	ChunkKB func() int
	// ImageSettings reads the current render/cache knobs (§4.4). May be
	// nil, in which case downscaling is off and responses are uncached.
	ImageSettings func() settings.ReaderImageSettings
}

func New(reader *archivefs.Reader, chunkKB func() int, imageSettings func() settings.ReaderImageSettings) *Server {
	return &Server{Reader: reader, ChunkKB: chunkKB, ImageSettings: imageSettings}
}

func (s *Server) imageSettings() settings.ReaderImageSettings {
	if s.ImageSettings != nil {
		return s.ImageSettings()
	}
	return settings.ReaderImageSettings{}
}

var renderableMIME = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/gif":  true,
	"image/webp": true,
}

// errNoRenderNeeded signals that the entry's larger side is already within
// max_side_px, so the caller should stream the original instead.
var errNoRenderNeeded = errors.New("page within max_side_px")

// ServePage writes page pageNum (0-indexed) of the archive at archivePath to
// w. When ui.reader.image.max_side_px is set and the page's larger side
// exceeds it, the page is decoded (respecting EXIF orientation), resized
// and re-encoded per the render settings; otherwise (and on any render
// failure) the entry is streamed unmodified in chunkKB-sized pieces,
// conditioned on a weak ETag derived from the entry's (archive path, name,
// size) — cheap to compute without reading the entry, and stable across
// requests as long as the archive on disk doesn't change. Returns an error
// matching apperr.NotFound (via errors.Is) if the page is out of range.
func (s *Server) ServePage(w http.ResponseWriter, r *http.Request, archivePath string, pageNum int) error {
	entry, ok, err := s.Reader.EntryAt(archivePath, pageNum)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.E(apperr.NotFound, "page %d not found in %q", pageNum, archivePath)
	}

	size, err := s.Reader.EntrySize(archivePath, entry)
	if err != nil {
		return err
	}

	cfg := s.imageSettings()
	etag := pageETag(archivePath, entry.Name, size)
	w.Header().Set("ETag", etag)
	w.Header().Set("Cache-Control", cacheControlHeader(cfg))

	if match := r.Header.Get("If-None-Match"); match != "" && match == etag {
		w.WriteHeader(http.StatusNotModified)
		return nil
	}

	mime := archivefs.GuessMIME(entry.Name)
	if cfg.MaxSidePx > 0 && renderableMIME[mime] {
		rendered, renderedMIME, err := s.renderPage(archivePath, entry, mime, cfg)
		if err == nil {
			w.Header().Set("Content-Type", renderedMIME)
			w.Header().Set("Content-Length", strconv.Itoa(len(rendered)))
			w.WriteHeader(http.StatusOK)
			_, err := w.Write(rendered)
			return err
		}
		// errNoRenderNeeded or a decode/encode failure both fall back to
		// streaming the original below.
	}

	w.Header().Set("Content-Type", mime)
	if size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
	}
	w.WriteHeader(http.StatusOK)
	return s.Reader.StreamPage(archivePath, entry, w, s.ChunkKB())
}

// renderPage decodes, resizes and re-encodes one entry per cfg's render
// settings, returning errNoRenderNeeded when the entry's larger side
// already fits within cfg.MaxSidePx.
func (s *Server) renderPage(archivePath string, entry archivefs.Entry, mime string, cfg settings.ReaderImageSettings) ([]byte, string, error) {
	rc, err := s.Reader.Open(archivePath, entry)
	if err != nil {
		return nil, "", err
	}
	raw, err := io.ReadAll(rc)
	rc.Close()
	if err != nil {
		return nil, "", apperr.Wrap(apperr.ReadFailed, fmt.Errorf("read page entry %q: %w", entry.Name, err))
	}

	dims, err := decodeConfigByMIME(bytes.NewReader(raw), mime)
	if err != nil {
		return nil, "", err
	}
	longest := dims.Width
	if dims.Height > longest {
		longest = dims.Height
	}
	if longest <= cfg.MaxSidePx {
		return nil, "", errNoRenderNeeded
	}

	img, err := decodePageImage(raw, mime)
	if err != nil {
		return nil, "", apperr.Wrap(apperr.ReadFailed, fmt.Errorf("decode page entry %q: %w", entry.Name, err))
	}
	if mime == "image/jpeg" {
		img = applyOrientation(img, jpegOrientation(raw))
	}
	img = resizeToMaxSide(img, cfg.MaxSidePx, resampleKernel(cfg.Resample))

	outFormat := cfg.Format
	if outFormat == "auto" {
		outFormat = formatFamily(mime)
	}

	var buf bytes.Buffer
	outMIME, err := encodeRendered(&buf, img, outFormat, cfg)
	if err != nil {
		return nil, "", err
	}
	return buf.Bytes(), outMIME, nil
}

func decodeConfigByMIME(r io.Reader, mime string) (image.Config, error) {
	switch mime {
	case "image/png":
		return png.DecodeConfig(r)
	case "image/gif":
		return gif.DecodeConfig(r)
	case "image/webp":
		return xwebp.DecodeConfig(r)
	default:
		return jpeg.DecodeConfig(r)
	}
}

func decodePageImage(raw []byte, mime string) (image.Image, error) {
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

func formatFamily(mime string) string {
	switch mime {
	case "image/png":
		return "png"
	case "image/webp":
		return "webp"
	default:
		return "jpeg"
	}
}

// resampleKernel maps a resample name to a draw.Interpolator. lanczos has
// no literal kernel in x/image/draw; CatmullRom is the closest available
// stand-in, the same substitution internal/covercache makes for covers.
func resampleKernel(name string) draw.Interpolator {
	switch name {
	case "nearest":
		return draw.NearestNeighbor
	case "bilinear":
		return draw.BiLinear
	case "bicubic":
		return draw.CatmullRom
	default:
		return draw.CatmullRom
	}
}

func resizeToMaxSide(img image.Image, maxSide int, kernel draw.Interpolator) image.Image {
	b := img.Bounds()
	width, height := b.Dx(), b.Dy()
	longest := width
	if height > longest {
		longest = height
	}
	if longest <= maxSide || maxSide < 1 {
		return img
	}
	ratio := float64(maxSide) / float64(longest)
	newWidth := int(float64(width) * ratio)
	newHeight := int(float64(height) * ratio)
	if newWidth < 1 {
		newWidth = 1
	}
	if newHeight < 1 {
		newHeight = 1
	}
	dst := image.NewRGBA(image.Rect(0, 0, newWidth, newHeight))
	kernel.Scale(dst, dst.Bounds(), img, b, draw.Over, nil)
	return dst
}

// encodeRendered writes img into w per format, returning the MIME type it
// wrote. webp_method is clamped by settings but chai2010/webp (the pack's
// only WebP encoder) exposes no method/effort knob, so only quality is
// exercised for that format.
func encodeRendered(w io.Writer, img image.Image, format string, cfg settings.ReaderImageSettings) (string, error) {
	switch format {
	case "png":
		enc := png.Encoder{CompressionLevel: png.DefaultCompression}
		if cfg.Optimize {
			enc.CompressionLevel = png.BestCompression
		}
		if err := enc.Encode(w, img); err != nil {
			return "", apperr.Wrap(apperr.Internal, fmt.Errorf("encode png page: %w", err))
		}
		return "image/png", nil
	case "webp":
		if err := webp.Encode(w, toRGBA(img), &webp.Options{Quality: float32(cfg.Quality)}); err != nil {
			return "", apperr.Wrap(apperr.Internal, fmt.Errorf("encode webp page: %w", err))
		}
		return "image/webp", nil
	default:
		if err := jpeg.Encode(w, img, &jpeg.Options{Quality: cfg.Quality}); err != nil {
			return "", apperr.Wrap(apperr.Internal, fmt.Errorf("encode jpeg page: %w", err))
		}
		return "image/jpeg", nil
	}
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

// jpegOrientation walks a JPEG's markers for an APP1 Exif segment and
// returns its Orientation tag (1-8), or 1 (no-op) if absent or
// unparseable. There is no EXIF library in the pack; the orientation tag
// is the only field needed here, so it is read directly off the TIFF
// header rather than pulling in a dedicated dependency for one field.
func jpegOrientation(raw []byte) int {
	if len(raw) < 4 || raw[0] != 0xFF || raw[1] != 0xD8 {
		return 1
	}
	pos := 2
	for pos+4 <= len(raw) {
		if raw[pos] != 0xFF {
			break
		}
		marker := raw[pos+1]
		if marker == 0x01 || (marker >= 0xD0 && marker <= 0xD9) {
			pos += 2
			continue
		}
		if marker == 0xDA {
			break
		}
		segLen := int(raw[pos+2])<<8 | int(raw[pos+3])
		if segLen < 2 || pos+2+segLen > len(raw) {
			break
		}
		if marker == 0xE1 {
			if o := parseExifOrientation(raw[pos+4 : pos+2+segLen]); o != 0 {
				return o
			}
		}
		pos += 2 + segLen
	}
	return 1
}

func parseExifOrientation(payload []byte) int {
	if len(payload) < 14 || string(payload[:4]) != "Exif" {
		return 0
	}
	tiff := payload[6:]

	var bo binary.ByteOrder
	switch string(tiff[:2]) {
	case "II":
		bo = binary.LittleEndian
	case "MM":
		bo = binary.BigEndian
	default:
		return 0
	}

	ifdOffset := bo.Uint32(tiff[4:8])
	if int(ifdOffset)+2 > len(tiff) {
		return 0
	}
	numEntries := int(bo.Uint16(tiff[ifdOffset : ifdOffset+2]))
	entriesStart := int(ifdOffset) + 2
	for i := 0; i < numEntries; i++ {
		off := entriesStart + i*12
		if off+12 > len(tiff) {
			break
		}
		tag := bo.Uint16(tiff[off : off+2])
		if tag != 0x0112 {
			continue
		}
		v := int(bo.Uint16(tiff[off+8 : off+10]))
		if v >= 1 && v <= 8 {
			return v
		}
		return 0
	}
	return 0
}

// applyOrientation rotates/flips img per an EXIF orientation value (1-8,
// 1 or anything else is a no-op).
func applyOrientation(img image.Image, o int) image.Image {
	if o <= 1 || o > 8 {
		return img
	}
	src := toRGBA(img)
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	ow, oh := w, h
	if o >= 5 {
		ow, oh = h, w
	}
	dst := image.NewRGBA(image.Rect(0, 0, ow, oh))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := src.RGBAAt(b.Min.X+x, b.Min.Y+y)
			var dx, dy int
			switch o {
			case 2:
				dx, dy = w-1-x, y
			case 3:
				dx, dy = w-1-x, h-1-y
			case 4:
				dx, dy = x, h-1-y
			case 5:
				dx, dy = y, x
			case 6:
				dx, dy = h-1-y, x
			case 7:
				dx, dy = h-1-y, w-1-x
			case 8:
				dx, dy = y, w-1-x
			default:
				dx, dy = x, y
			}
			dst.SetRGBA(dx, dy, c)
		}
	}
	return dst
}

// cacheControlHeader drives Cache-Control from ui.reader.image.cache.*
// instead of a fixed policy, since a client caching a downscaled render
// is safe in a way caching an in-place-edited archive's raw bytes is not
// guaranteed to be across a rescan.
func cacheControlHeader(cfg settings.ReaderImageSettings) string {
	if !cfg.CacheEnabled {
		return "no-store"
	}
	cc := fmt.Sprintf("public, max-age=%d", cfg.CacheMaxAgeS)
	if cfg.CacheImmutable {
		cc += ", immutable"
	}
	return cc
}

// ServeCover writes a pre-generated WebP cover file at coverPath to w,
// using its on-disk mtime as the ETag basis — covers are written atomically
// by internal/covercache, so mtime changes exactly when content does.
func (s *Server) ServeCover(w http.ResponseWriter, r *http.Request, coverPath string) error {
	f, err := os.Open(coverPath)
	if err != nil {
		if os.IsNotExist(err) {
			return apperr.E(apperr.NotFound, "no cover at %q", coverPath)
		}
		return apperr.Wrap(apperr.ReadFailed, err)
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return apperr.Wrap(apperr.ReadFailed, err)
	}

	etag := fmt.Sprintf(`W/"%x-%x"`, st.ModTime().UnixNano(), st.Size())
	w.Header().Set("ETag", etag)
	w.Header().Set("Cache-Control", cacheControlHeader(s.imageSettings()))
	w.Header().Set("Content-Type", "image/webp")
	w.Header().Set("Content-Length", strconv.FormatInt(st.Size(), 10))

	if match := r.Header.Get("If-None-Match"); match != "" && match == etag {
		w.WriteHeader(http.StatusNotModified)
		return nil
	}

	w.WriteHeader(http.StatusOK)
	_, err = io.Copy(w, f)
	return err
}

// pageETag derives a weak ETag from identifying fields cheap to obtain
// without reading the entry's bytes (archive_reader.py has no ETag concept
// of its own; this is the Go-native addition SPEC_FULL.md calls for).
func pageETag(archivePath, entryName string, size int64) string {
	h := sha1.New()
	fmt.Fprintf(h, "%s|%s|%d", archivePath, entryName, size)
	return `W/"` + hex.EncodeToString(h.Sum(nil)) + `"`
}
