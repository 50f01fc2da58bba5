// Package settings implements C4: typed, clamped accessors over a
// key/value store, seeded with defaults and cached briefly to avoid a
// catalog round-trip on every read. Grounded on
// _examples/original_source/apps/api/app/services/settings_service.py.
package settings

import (
	"strconv"
	"strings"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// Store is the persistence boundary settings reads through: the catalog's
// settings table (see internal/catalog).
type Store interface {
	GetSetting(key string) (value string, ok bool)
	SetSetting(key, value string) error
	DeleteSetting(key string) (existed bool, err error)
	AllSettingOverrides() (map[string]string, error)
}

// defaults mirrors DEFAULT_SETTINGS verbatim: every key the UI or scanner
// may read must have an entry here so a fresh instance works out of the box.
var defaults = map[string]string{
	"scan.max_workers":               "12",
	"scan.hash.mode":                 "full",
	"scan.cancel_check.interval_ms":  "200",
	"scan.cover.mode":                "scan",
	"scan.cover.regenerate_missing":  "1",
	"scan.cover.max_width":           "500",
	"scan.cover.target_kb":           "300",
	"scan.cover.quality_start":       "80",
	"scan.cover.quality_min":         "10",
	"scan.cover.quality_step":        "10",
	"cover.cache.shard_count":        "256",
	"reader.stream.chunk_kb":         "512",
	"ui.language":                    "zh",
	"ui.library.view_mode":           "grid",
	"ui.library.pagination.per_page": "50",
	"ui.reader.preload_ahead":        "2",
	"rename.filename_template":       "",

	"ui.reader.image.max_side_px":      "0",
	"ui.reader.image.render.format":    "auto",
	"ui.reader.image.render.quality":   "85",
	"ui.reader.image.render.resample":  "lanczos",
	"ui.reader.image.render.webp_method": "4",
	"ui.reader.image.render.optimize":  "1",
	"ui.reader.image.cache.enabled":    "1",
	"ui.reader.image.cache.max_age_s":  "86400",
	"ui.reader.image.cache.immutable":  "0",

	"ui.tasks.history.retention_days": "30",
}

const cacheTTL = 5 * time.Second

// Provider answers typed setting reads, shadowing defaults with store
// overrides and caching the merged value briefly (patrickmn/go-cache, the
// same TTL-map role rclone's VFS uses for directory metadata).
type Provider struct {
	store Store
	cache *gocache.Cache
	mu    sync.Mutex
}

func NewProvider(store Store) *Provider {
	return &Provider{
		store: store,
		cache: gocache.New(cacheTTL, 2*cacheTTL),
	}
}

func (p *Provider) raw(key string) string {
	if v, ok := p.cache.Get(key); ok {
		return v.(string)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if v, ok := p.cache.Get(key); ok {
		return v.(string)
	}

	value := defaults[key]
	if override, ok := p.store.GetSetting(key); ok {
		value = override
	}
	p.cache.SetDefault(key, value)
	return value
}

// Set writes an override to the store and invalidates the cached value.
func (p *Provider) Set(key, value string) error {
	if err := p.store.SetSetting(key, value); err != nil {
		return err
	}
	p.cache.Delete(key)
	return nil
}

// Delete removes an override, reverting the key to its default.
func (p *Provider) Delete(key string) (bool, error) {
	existed, err := p.store.DeleteSetting(key)
	if err != nil {
		return false, err
	}
	p.cache.Delete(key)
	return existed, nil
}

// AllWithDefaults returns every known setting, store overrides taking
// precedence over defaults (get_all_settings_with_defaults).
func (p *Provider) AllWithDefaults() (map[string]string, error) {
	overrides, err := p.store.AllSettingOverrides()
	if err != nil {
		return nil, err
	}
	merged := make(map[string]string, len(defaults)+len(overrides))
	for k, v := range defaults {
		merged[k] = v
	}
	for k, v := range overrides {
		merged[k] = v
	}
	return merged, nil
}

func clampInt(raw string, def, min, max int) int {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return def
	}
	n, err := strconv.Atoi(trimmed)
	if err != nil {
		return def
	}
	if n < min {
		return min
	}
	if n > max {
		return max
	}
	return n
}

func clampFloat(raw string, def, min, max float64) float64 {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return def
	}
	f, err := strconv.ParseFloat(trimmed, 64)
	if err != nil {
		return def
	}
	if f < min {
		return min
	}
	if f > max {
		return max
	}
	return f
}

func toBool(raw string, def bool) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

// Int reads a clamped integer setting.
func (p *Provider) Int(key string, def, min, max int) int {
	return clampInt(p.raw(key), def, min, max)
}

// Float reads a clamped float setting.
func (p *Provider) Float(key string, def, min, max float64) float64 {
	return clampFloat(p.raw(key), def, min, max)
}

// Bool reads a boolean setting.
func (p *Provider) Bool(key string, def bool) bool {
	return toBool(p.raw(key), def)
}

// String reads a raw string setting.
func (p *Provider) String(key, def string) string {
	v := p.raw(key)
	if v == "" {
		return def
	}
	return v
}

// CoverSettings groups the cover-generation knobs the scanner and cover
// cache read together (§4.3, §9).
type CoverSettings struct {
	MaxWidth     int
	TargetKB     int
	QualityStart int
	QualityMin   int
	QualityStep  int
}

// ScanSettings groups every knob the scanner reads once per run (§4.7).
type ScanSettings struct {
	MaxWorkers             int
	HashMode               string
	CoverMode              string
	CoverRegenerateMissing bool
	CancelCheckIntervalMS  int
	Cover                  CoverSettings
}

// ScanSettings reads and validates the scanner's settings bundle,
// replicating get_scan_settings's fallback when quality_min > quality_start.
func (p *Provider) ScanSettings() ScanSettings {
	hashMode := strings.ToLower(strings.TrimSpace(p.String("scan.hash.mode", "full")))
	if hashMode != "full" && hashMode != "off" {
		hashMode = "full"
	}
	coverMode := strings.ToLower(strings.TrimSpace(p.String("scan.cover.mode", "scan")))
	if coverMode != "scan" && coverMode != "off" {
		coverMode = "scan"
	}

	s := ScanSettings{
		MaxWorkers:             p.Int("scan.max_workers", 12, 1, 128),
		HashMode:               hashMode,
		CoverMode:              coverMode,
		CoverRegenerateMissing: p.Bool("scan.cover.regenerate_missing", true),
		CancelCheckIntervalMS:  p.Int("scan.cancel_check.interval_ms", 200, 50, 5000),
		Cover: CoverSettings{
			MaxWidth:     p.Int("scan.cover.max_width", 500, 64, 4000),
			TargetKB:     p.Int("scan.cover.target_kb", 300, 50, 5000),
			QualityStart: p.Int("scan.cover.quality_start", 80, 1, 100),
			QualityMin:   p.Int("scan.cover.quality_min", 10, 1, 100),
			QualityStep:  p.Int("scan.cover.quality_step", 10, 1, 50),
		},
	}
	if s.Cover.QualityMin > s.Cover.QualityStart {
		s.Cover.QualityMin = s.Cover.QualityStart
	}
	return s
}

// CoverCacheShardCount reads the shard-directory fan-out C3 uses.
func (p *Provider) CoverCacheShardCount() int {
	return p.Int("cover.cache.shard_count", 256, 1, 4096)
}

// ReaderStreamChunkKB reads the page-server streaming chunk size (§4.9).
func (p *Provider) ReaderStreamChunkKB() int {
	return p.Int("reader.stream.chunk_kb", 512, 16, 8192)
}

// ReaderImageSettings groups the page server's server-side downscale and
// response-caching knobs (§4.9, §4.4).
type ReaderImageSettings struct {
	// MaxSidePx is the larger-side threshold past which a page is
	// rendered server-side; 0 disables downscaling.
	MaxSidePx int
	// Format is one of {auto, jpeg, png, webp}; auto keeps the source's
	// own format family.
	Format string
	Quality    int
	// Resample is one of {nearest, bilinear, bicubic, lanczos}.
	Resample   string
	WebPMethod int
	Optimize   bool

	CacheEnabled   bool
	CacheMaxAgeS   int
	CacheImmutable bool
}

var readerImageFormats = map[string]bool{"auto": true, "jpeg": true, "png": true, "webp": true}
var readerImageResamples = map[string]bool{"nearest": true, "bilinear": true, "bicubic": true, "lanczos": true}

// ReaderImageSettings reads and validates the page server's rendering
// bundle, falling back to the default on an out-of-enum value the same
// way ScanSettings falls back on hash/cover mode.
func (p *Provider) ReaderImageSettings() ReaderImageSettings {
	format := strings.ToLower(strings.TrimSpace(p.String("ui.reader.image.render.format", "auto")))
	if !readerImageFormats[format] {
		format = "auto"
	}
	resample := strings.ToLower(strings.TrimSpace(p.String("ui.reader.image.render.resample", "lanczos")))
	if !readerImageResamples[resample] {
		resample = "lanczos"
	}
	return ReaderImageSettings{
		MaxSidePx:      p.Int("ui.reader.image.max_side_px", 0, 0, 20000),
		Format:         format,
		Quality:        p.Int("ui.reader.image.render.quality", 85, 1, 100),
		Resample:       resample,
		WebPMethod:     p.Int("ui.reader.image.render.webp_method", 4, 0, 6),
		Optimize:       p.Bool("ui.reader.image.render.optimize", true),
		CacheEnabled:   p.Bool("ui.reader.image.cache.enabled", true),
		CacheMaxAgeS:   p.Int("ui.reader.image.cache.max_age_s", 86400, 0, 31536000),
		CacheImmutable: p.Bool("ui.reader.image.cache.immutable", false),
	}
}

// TaskHistoryRetentionDays reads the default retention window the
// task-history trim endpoint falls back to when the request omits `days`
// (tasks.py's cleanup_completed_tasks).
func (p *Provider) TaskHistoryRetentionDays() int {
	return p.Int("ui.tasks.history.retention_days", 30, 0, 3650)
}
