// Package scanner implements C7: walking a library root, reconciling
// discovered archives against the catalog, analyzing new/changed files,
// and refreshing covers. Grounded on
// _examples/original_source/apps/api/app/tasks/scanner.py.
package scanner

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/CaoBiang/Manga-ULM/internal/archivefs"
	"github.com/CaoBiang/Manga-ULM/internal/catalog"
	"github.com/CaoBiang/Manga-ULM/internal/covercache"
	"github.com/CaoBiang/Manga-ULM/internal/model"
	"github.com/CaoBiang/Manga-ULM/internal/settings"
	"github.com/CaoBiang/Manga-ULM/internal/tasks"
)

// Scanner ties the archive reader, catalog and cover cache together to
// drive one scan run per library root.
type Scanner struct {
	Store    *catalog.Store
	Reader   *archivefs.Reader
	Covers   *covercache.Cache
	Settings *settings.Provider
	Engine   *tasks.Engine
}

// cancelChecker throttles is_cancelled polling to at most once per interval,
// the same role scanner.py's "only recheck every cancel_check.interval_ms"
// guard plays around its cooperative cancellation check.
type cancelChecker struct {
	engine   *tasks.Engine
	taskID   int64
	interval time.Duration
	mu       sync.Mutex
	last     time.Time
	cached   bool
}

func (c *cancelChecker) cancelled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if time.Since(c.last) < c.interval {
		return c.cached
	}
	c.cached = c.engine.IsCancelled(c.taskID)
	c.last = time.Now()
	return c.cached
}

type discovered struct {
	path  string
	size  int64
	mtime int64
}

// Run walks rootID's directory tree and reconciles it against the
// catalog, reporting progress through taskID.
func (s *Scanner) Run(ctx context.Context, rootID int64, taskID int64) error {
	root, err := s.Store.LibraryRoot(rootID)
	if err != nil {
		return s.Engine.Finish(taskID, tasks.StatusFailed, err.Error())
	}
	if root == nil {
		return s.Engine.Finish(taskID, tasks.StatusFailed, fmt.Sprintf("unknown library root %d", rootID))
	}
	if st, err := os.Stat(root.Path); err != nil || !st.IsDir() {
		return s.Engine.Finish(taskID, tasks.StatusFailed, fmt.Sprintf("library root is not accessible: %s", root.Path))
	}

	scanSettings := s.Settings.ScanSettings()
	coverEnabled := scanSettings.CoverMode == "scan"
	checker := &cancelChecker{
		engine:   s.Engine,
		taskID:   taskID,
		interval: time.Duration(scanSettings.CancelCheckIntervalMS) * time.Millisecond,
	}

	items, err := walkArchives(root.Path)
	if err != nil {
		return s.Engine.Finish(taskID, tasks.StatusFailed, err.Error())
	}
	totalFiles := len(items)

	discoveredPaths := make([]string, len(items))
	discoveredSet := make(map[string]bool, len(items))
	for i, it := range items {
		discoveredPaths[i] = it.path
		discoveredSet[it.path] = true
	}

	if err := s.reconcileMissingFlags(rootID, discoveredSet); err != nil {
		return s.Engine.Finish(taskID, tasks.StatusFailed, err.Error())
	}

	if totalFiles == 0 {
		_, _ = s.Engine.Update(taskID, func(r *tasks.Record) {
			r.TotalFiles = 0
			r.Progress = 100
		})
		return s.Engine.Finish(taskID, tasks.StatusCompleted, "")
	}

	existingByPath, err := s.Store.FilesByPaths(discoveredPaths)
	if err != nil {
		return s.Engine.Finish(taskID, tasks.StatusFailed, err.Error())
	}

	var toAnalyze []discovered
	var unchanged []*model.File
	for _, it := range items {
		existing := existingByPath[it.path]
		if existing != nil && existing.FileSize == it.size && existing.FileMtime == it.mtime {
			unchanged = append(unchanged, existing)
			continue
		}
		toAnalyze = append(toAnalyze, it)
	}
	unchangedCount := len(unchanged)

	var coverJobs []coverJob
	expectedCoverUnits := 0
	if coverEnabled && scanSettings.CoverRegenerateMissing {
		for _, rec := range unchanged {
			path := covercache.Path(covercache.Config{BaseDir: s.coverBaseDir(), ShardCount: s.Settings.CoverCacheShardCount()}, rec.ID)
			if _, err := os.Stat(path); err != nil {
				coverJobs = append(coverJobs, coverJob{fileID: rec.ID, path: rec.Path, force: true})
			}
		}
		expectedCoverUnits += len(coverJobs)
	}
	if coverEnabled {
		expectedCoverUnits += len(toAnalyze)
	}

	workTotalUnits := totalFiles + expectedCoverUnits
	progress := &progressTracker{engine: s.Engine, taskID: taskID, total: workTotalUnits}
	progress.add(unchangedCount, fmt.Sprintf("skipped %d unchanged files", unchangedCount))

	if checker.cancelled() {
		return s.Engine.Finish(taskID, tasks.StatusCancelled, "")
	}

	tagIndex, err := s.Store.LoadTagIndex()
	if err != nil {
		return s.Engine.Finish(taskID, tasks.StatusFailed, err.Error())
	}

	analysisErrors, newCoverJobs, err := s.analyzePhase(ctx, taskID, rootID, toAnalyze, existingByPath, tagIndex, scanSettings, coverEnabled, progress, checker)
	if err != nil {
		return err // already finished with a terminal status by analyzePhase
	}
	coverJobs = append(coverJobs, newCoverJobs...)

	coverErrors := 0
	if coverEnabled && len(coverJobs) > 0 {
		var err error
		coverErrors, err = s.coverPhase(taskID, coverJobs, scanSettings, progress, checker)
		if err != nil {
			return err
		}
	}

	summary := ""
	if failed := analysisErrors + coverErrors; failed > 0 {
		summary = fmt.Sprintf("completed with %d per-file failures", failed)
	}
	return s.Engine.Finish(taskID, tasks.StatusCompleted, summary)
}

func (s *Scanner) coverBaseDir() string {
	// The base dir is a deployment concern (instance directory), passed in
	// by the caller that constructs Covers; Path() only needs ShardCount
	// here since we're just checking existence against the same Config the
	// Covers cache itself was built with.
	return s.Covers.BaseDir()
}

func (s *Scanner) reconcileMissingFlags(rootID int64, discoveredSet map[string]bool) error {
	present, err := s.Store.PathsWithMissingFlag(rootID, false)
	if err != nil {
		return err
	}
	var newlyMissing []string
	for _, p := range present {
		if !discoveredSet[p] {
			newlyMissing = append(newlyMissing, p)
		}
	}

	missing, err := s.Store.PathsWithMissingFlag(rootID, true)
	if err != nil {
		return err
	}
	var newlyPresent []string
	for _, p := range missing {
		if discoveredSet[p] {
			newlyPresent = append(newlyPresent, p)
		}
	}

	if err := s.Store.BatchSetMissing(rootID, newlyMissing, true); err != nil {
		return err
	}
	return s.Store.BatchSetMissing(rootID, newlyPresent, false)
}

type analysisResult struct {
	item          discovered
	totalPages    int
	contentSHA256 string
	tagNames      []string
	err           error
}

type coverJob struct {
	fileID int64
	path   string
	force  bool
}

func (s *Scanner) analyzePhase(
	ctx context.Context,
	taskID int64,
	rootID int64,
	items []discovered,
	existingByPath map[string]*model.File,
	tagIndex *catalog.TagIndex,
	scanSettings settings.ScanSettings,
	coverEnabled bool,
	progress *progressTracker,
	checker *cancelChecker,
) (int, []coverJob, error) {
	if len(items) == 0 {
		return 0, nil, nil
	}

	results := make([]analysisResult, len(items))
	sem := semaphore.NewWeighted(int64(scanSettings.MaxWorkers))
	g, gctx := errgroup.WithContext(ctx)

	for i, item := range items {
		i, item := i, item
		g.Go(func() error {
			if err := sem.Acquire(gctx, 1); err != nil {
				results[i] = analysisResult{item: item, err: err}
				return nil
			}
			defer sem.Release(1)
			results[i] = s.analyzeOne(item, scanSettings)
			return nil
		})
	}
	_ = g.Wait() // analyzeOne never returns an error through g; per-item errors live in results

	var coverJobs []coverJob
	errors := 0
	for _, res := range results {
		if checker.cancelled() {
			return errors, coverJobs, s.Engine.Finish(taskID, tasks.StatusCancelled, "")
		}

		if res.err != nil {
			errors++
			progress.add(1, fmt.Sprintf("analysis failed: %s", filepath.Base(res.item.path)))
			if coverEnabled {
				progress.add(1, "")
			}
			continue
		}

		fileRecord, err := s.persistAnalysis(rootID, res, existingByPath, tagIndex)
		if err != nil {
			errors++
			progress.add(1, fmt.Sprintf("write failed: %s", filepath.Base(res.item.path)))
			if coverEnabled {
				progress.add(1, "")
			}
			continue
		}

		progress.add(1, fmt.Sprintf("processed: %s", filepath.Base(res.item.path)))
		if coverEnabled {
			coverJobs = append(coverJobs, coverJob{fileID: fileRecord.ID, path: fileRecord.Path, force: true})
		}
	}
	return errors, coverJobs, nil
}

func (s *Scanner) analyzeOne(item discovered, scanSettings settings.ScanSettings) analysisResult {
	entries, err := s.Reader.List(item.path)
	if err != nil {
		return analysisResult{item: item, err: err}
	}

	var sha string
	if scanSettings.HashMode == "full" {
		sum, err := sha256File(item.path)
		if err != nil {
			return analysisResult{item: item, err: err}
		}
		sha = sum
	}

	return analysisResult{
		item:          item,
		totalPages:    len(entries),
		contentSHA256: sha,
		tagNames:      extractFilenameTags(filepath.Base(item.path)),
	}
}

var bracketTagPattern = regexp.MustCompile(`\[(.*?)\]`)

func extractFilenameTags(name string) []string {
	matches := bracketTagPattern.FindAllStringSubmatch(name, -1)
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		out = append(out, m[1])
	}
	return out
}

func sha256File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func (s *Scanner) persistAnalysis(rootID int64, res analysisResult, existingByPath map[string]*model.File, tagIndex *catalog.TagIndex) (*model.File, error) {
	record := existingByPath[res.item.path]

	if record == nil && res.contentSHA256 != "" {
		candidates, err := s.Store.MissingCandidatesByHash(rootID, res.contentSHA256, 2)
		if err == nil && len(candidates) == 1 {
			c := candidates[0]
			record = &c
		}
	}

	if record != nil {
		record.LibraryRootID = rootID
		record.Path = res.item.path
		record.FileSize = res.item.size
		record.FileMtime = res.item.mtime
		record.TotalPages = res.totalPages
		record.ContentSHA256 = res.contentSHA256
		record.IsMissing = false
	} else {
		record = &model.File{
			LibraryRootID: rootID,
			Path:          res.item.path,
			FileSize:      res.item.size,
			FileMtime:     res.item.mtime,
			TotalPages:    res.totalPages,
			ContentSHA256: res.contentSHA256,
			IsMissing:     false,
			AddedAt:       time.Now(),
		}
	}

	if err := s.Store.SaveFile(record); err != nil {
		return nil, err
	}

	if len(res.tagNames) > 0 {
		_ = s.Store.AttachTagsByName(record.ID, tagIndex.Resolve, res.tagNames)
	}
	return record, nil
}

func (s *Scanner) coverPhase(taskID int64, jobs []coverJob, scanSettings settings.ScanSettings, progress *progressTracker, checker *cancelChecker) (int, error) {
	results := make([]bool, len(jobs))
	sem := semaphore.NewWeighted(int64(scanSettings.MaxWorkers))
	var wg sync.WaitGroup

	for i, job := range jobs {
		i, job := i, job
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = sem.Acquire(context.Background(), 1)
			defer sem.Release(1)
			_, err := s.Covers.Ensure(job.fileID, job.path, covercache.Params{
				MaxWidth:     scanSettings.Cover.MaxWidth,
				TargetKB:     scanSettings.Cover.TargetKB,
				QualityStart: scanSettings.Cover.QualityStart,
				QualityMin:   scanSettings.Cover.QualityMin,
				QualityStep:  scanSettings.Cover.QualityStep,
				Force:        job.force,
			})
			results[i] = err == nil
		}()
	}
	wg.Wait()

	errors := 0
	var successIDs []int64
	for i, job := range jobs {
		if checker.cancelled() {
			return errors, s.Engine.Finish(taskID, tasks.StatusCancelled, "")
		}
		if results[i] {
			successIDs = append(successIDs, job.fileID)
			progress.add(1, fmt.Sprintf("cover generated: %s", filepath.Base(job.path)))
		} else {
			errors++
			progress.add(1, fmt.Sprintf("cover failed: %s", filepath.Base(job.path)))
		}
		if len(successIDs) >= 50 || progress.done == progress.total {
			_ = s.Store.BatchTouchCoverUpdated(successIDs)
			successIDs = successIDs[:0]
		}
	}
	if len(successIDs) > 0 {
		_ = s.Store.BatchTouchCoverUpdated(successIDs)
	}
	return errors, nil
}

// progressTracker accumulates done_units/work_total_units and mirrors it
// into the task engine (scanner.py's update_progress closure).
type progressTracker struct {
	engine *tasks.Engine
	taskID int64
	total  int
	done   int
	mu     sync.Mutex
}

func (p *progressTracker) add(n int, currentFile string) {
	p.mu.Lock()
	p.done += n
	done, total := p.done, p.total
	p.mu.Unlock()

	pct := 100.0
	if total > 0 {
		pct = float64(done) / float64(total) * 100
	}
	_, _ = p.engine.Update(p.taskID, func(r *tasks.Record) {
		r.Progress = pct
		r.ProcessedFiles = done
		r.TotalFiles = total
		if currentFile != "" {
			r.CurrentFile = currentFile
		}
	})
}

func walkArchives(root string) ([]discovered, error) {
	var out []discovered
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil // skip unreadable entries, matching the source's "log and continue"
		}
		if d.IsDir() {
			return nil
		}
		if !archivefs.IsSupportedArchive(path) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		out = append(out, discovered{path: path, size: info.Size(), mtime: info.ModTime().Unix()})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk library root %q: %w", root, err)
	}
	return out, nil
}
