package rename

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/CaoBiang/Manga-ULM/internal/catalog"
	"github.com/CaoBiang/Manga-ULM/internal/model"
	"github.com/CaoBiang/Manga-ULM/internal/tasks"
)

// SyncFileTagIndexes reconciles each file's tag associations against the
// [tag] tokens in its current basename: tokens present but unlinked are
// added (via exact name or alias resolution), links whose tag name no
// longer appears in the basename are removed. Mirrors
// sync_file_tag_indexes_general.
func SyncFileTagIndexes(store *catalog.Store, idx *catalog.TagIndex, files []model.File) (int, error) {
	changed := 0
	for i := range files {
		f := &files[i]
		filenameTags := make(map[string]bool)
		for _, t := range ExtractFilenameTags(filepath.Base(f.Path)) {
			filenameTags[strings.TrimSpace(t)] = true
		}
		current := make(map[string]bool, len(f.Tags))
		for _, t := range f.Tags {
			current[t.Name] = true
		}

		var toAdd []int64
		for name := range filenameTags {
			if current[name] {
				continue
			}
			if tagID, ok := idx.Resolve(name); ok {
				toAdd = append(toAdd, tagID)
				changed++
			}
		}
		var toRemoveNames []string
		for name := range current {
			if !filenameTags[name] {
				toRemoveNames = append(toRemoveNames, name)
				changed++
			}
		}

		if len(toAdd) == 0 && len(toRemoveNames) == 0 {
			continue
		}
		keep := make([]int64, 0, len(f.Tags))
		removeSet := make(map[string]bool, len(toRemoveNames))
		for _, n := range toRemoveNames {
			removeSet[n] = true
		}
		for _, t := range f.Tags {
			if !removeSet[t.Name] {
				keep = append(keep, t.ID)
			}
		}
		keep = append(keep, toAdd...)
		if err := store.SetFilePathAndTags(f.ID, f.Path, keep); err != nil {
			return changed, err
		}
	}
	return changed, nil
}

// BatchRename drives batch_rename_task: for each file id, renders
// template/rootPath into a destination path, moves the archive, and
// resyncs its tag indexes. Reports progress through engine as it goes.
func BatchRename(ctx context.Context, engine *tasks.Engine, taskID int64, store *catalog.Store, fileIDs []int64, template, rootPath string) error {
	total := len(fileIDs)
	failed := 0

	for i, fileID := range fileIDs {
		if engine.IsCancelled(taskID) {
			return engine.Finish(taskID, tasks.StatusCancelled, "")
		}

		f, err := store.File(fileID)
		if err != nil || f == nil {
			reportProgress(engine, taskID, i+1, total, fmt.Sprintf("skipped missing file id %d", fileID))
			continue
		}

		fullFile, err := loadFileWithTags(store, fileID)
		if err != nil {
			failed++
			reportProgress(engine, taskID, i+1, total, fmt.Sprintf("failed: %s", filepath.Base(f.Path)))
			continue
		}

		newPath, err := GenerateNewPath(template, fullFile, fullFile.Tags, rootPath)
		if err != nil {
			failed++
			reportProgress(engine, taskID, i+1, total, fmt.Sprintf("failed: %s (%v)", filepath.Base(f.Path), err))
			continue
		}

		if err := movePath(f.Path, newPath); err != nil {
			failed++
			reportProgress(engine, taskID, i+1, total, fmt.Sprintf("failed: %s (%v)", filepath.Base(f.Path), err))
			continue
		}

		if err := store.SetFilePathAndTags(fileID, newPath, nil); err != nil {
			failed++
			reportProgress(engine, taskID, i+1, total, fmt.Sprintf("failed to persist: %s", filepath.Base(newPath)))
			continue
		}
		reportProgress(engine, taskID, i+1, total, fmt.Sprintf("renamed: %s", filepath.Base(newPath)))
	}

	if failed > 0 {
		return engine.Finish(taskID, tasks.StatusFailed, fmt.Sprintf("%d of %d renames failed", failed, total))
	}
	return engine.Finish(taskID, tasks.StatusCompleted, "")
}

func loadFileWithTags(store *catalog.Store, fileID int64) (*model.File, error) {
	db := store.DB()
	var f model.File
	if err := db.Preload("Tags").Preload("Tags.Type").First(&f, fileID).Error; err != nil {
		return nil, err
	}
	return &f, nil
}

func reportProgress(engine *tasks.Engine, taskID int64, processed, total int, currentFile string) {
	_, _ = engine.Update(taskID, func(r *tasks.Record) {
		r.ProcessedFiles = processed
		r.TotalFiles = total
		r.CurrentFile = currentFile
		if total > 0 {
			r.Progress = float64(processed) / float64(total) * 100
		} else {
			r.Progress = 100
		}
	})
}

// TagFileChangeAction selects tag_file_change_task's two modes.
type TagFileChangeAction string

const (
	TagActionDelete TagFileChangeAction = "delete"
	TagActionRename TagFileChangeAction = "rename"
)

// TagFileChange renames or deletes a tag across every matching filename
// and the catalog's tag graph, mirroring tag_file_change_task.
func TagFileChange(ctx context.Context, engine *tasks.Engine, taskID int64, store *catalog.Store, tagID int64, action TagFileChangeAction, newName string) error {
	tag, err := store.Tag(tagID)
	if err != nil {
		return err
	}
	if tag == nil {
		return engine.Finish(taskID, tasks.StatusFailed, "tag not found")
	}

	patterns := []string{tag.Name}
	for _, a := range tag.Aliases {
		patterns = append(patterns, a.Alias)
	}
	files, err := store.FilesWithAnyBracketedPattern(patterns)
	if err != nil {
		return err
	}
	total := len(files)

	failed := 0
	for i := range files {
		if engine.IsCancelled(taskID) {
			return engine.Finish(taskID, tasks.StatusCancelled, "")
		}
		f := &files[i]
		oldPath := f.Path
		dir := filepath.Dir(oldPath)
		oldBase := filepath.Base(oldPath)
		newBase := buildRetaggedBasename(oldBase, patterns, action, newName)
		newPath := filepath.Clean(filepath.Join(dir, newBase))

		reportProgress(engine, taskID, i+1, total, "processing: "+oldBase)
		if newPath == oldPath {
			continue
		}
		if err := movePath(oldPath, newPath); err != nil {
			failed++
			reportProgress(engine, taskID, i+1, total, "failed: "+oldBase)
			continue
		}
		if err := store.SetFilePathAndTags(f.ID, newPath, nil); err != nil {
			failed++
			continue
		}
		f.Path = newPath
	}

	switch action {
	case TagActionRename:
		newNameClean := strings.TrimSpace(newName)
		existing, err := store.TagByNameCaseInsensitive(newNameClean)
		if err != nil {
			failed++
		} else if existing != nil && existing.ID != tag.ID {
			if err := mergeTagAliases(store, tag, existing.ID); err != nil {
				failed++
			} else if err := store.MergeTagInto(tag.ID, existing.ID); err != nil {
				failed++
			}
		} else {
			oldName := tag.Name
			if err := store.RenameTag(tag.ID, newNameClean); err != nil {
				failed++
			} else if conflictFree(store, oldName) {
				_ = store.CreateTagAlias(tag.ID, oldName)
			}
		}
	case TagActionDelete:
		if failed == 0 {
			if err := store.DeleteTag(tag.ID); err != nil {
				failed++
			}
		}
	}

	idx, err := store.LoadTagIndex()
	if err == nil {
		_, _ = SyncFileTagIndexes(store, idx, files)
	}

	if failed > 0 {
		return engine.Finish(taskID, tasks.StatusFailed, fmt.Sprintf("%d operations failed", failed))
	}
	return engine.Finish(taskID, tasks.StatusCompleted, "")
}

func conflictFree(store *catalog.Store, name string) bool {
	if t, _ := store.TagByNameCaseInsensitive(name); t != nil {
		return false
	}
	if a, _ := store.AliasByNameCaseInsensitive(name); a != nil {
		return false
	}
	return true
}

func mergeTagAliases(store *catalog.Store, source *model.Tag, targetID int64) error {
	candidates := append([]string{source.Name}, aliasNames(source.Aliases)...)
	for _, alias := range candidates {
		if !conflictFree(store, alias) {
			continue
		}
		if err := store.CreateTagAlias(targetID, alias); err != nil {
			return err
		}
	}
	return nil
}

func aliasNames(aliases []model.TagAlias) []string {
	out := make([]string, len(aliases))
	for i, a := range aliases {
		out[i] = a.Alias
	}
	return out
}

func buildRetaggedBasename(oldBasename string, patterns []string, action TagFileChangeAction, newName string) string {
	result := oldBasename
	replacement := ""
	if action == TagActionRename {
		replacement = "[" + strings.TrimSpace(newName) + "]"
	}
	for _, p := range patterns {
		result = strings.ReplaceAll(result, "["+p+"]", replacement)
	}
	return NormalizeTagWhitespace(result)
}

// TagSplit splits tagID into the new tags named by newTagNames across
// every matching filename, mirrors tag_split_task.
func TagSplit(ctx context.Context, engine *tasks.Engine, taskID int64, store *catalog.Store, tagID int64, newTagNames []string) error {
	original, err := store.Tag(tagID)
	if err != nil {
		return err
	}
	if original == nil {
		return engine.Finish(taskID, tasks.StatusFailed, "source tag not found")
	}

	patterns := []string{original.Name}
	for _, a := range original.Aliases {
		patterns = append(patterns, a.Alias)
	}
	files, err := store.FilesWithAnyBracketedPattern(patterns)
	if err != nil {
		return err
	}
	total := len(files)

	var newTagIDs []int64
	var suffix strings.Builder
	for _, name := range newTagNames {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		existing, err := store.TagByNameCaseInsensitive(name)
		if err != nil {
			return engine.Finish(taskID, tasks.StatusFailed, err.Error())
		}
		if existing != nil {
			if existing.TypeID != original.TypeID {
				return engine.Finish(taskID, tasks.StatusFailed, fmt.Sprintf("tag %q already exists with a different type", name))
			}
			newTagIDs = append(newTagIDs, existing.ID)
			suffix.WriteString("[" + existing.Name + "]")
			continue
		}
		created, err := store.CreateTag(name, original.TypeID, "split from ["+original.Name+"]")
		if err != nil {
			return engine.Finish(taskID, tasks.StatusFailed, err.Error())
		}
		newTagIDs = append(newTagIDs, created.ID)
		suffix.WriteString("[" + created.Name + "]")
	}

	failed := 0
	for i := range files {
		if engine.IsCancelled(taskID) {
			return engine.Finish(taskID, tasks.StatusCancelled, "")
		}
		f := &files[i]
		oldPath := f.Path
		dir := filepath.Dir(oldPath)
		oldBase := filepath.Base(oldPath)
		ext := filepath.Ext(oldBase)
		stem := strings.TrimSuffix(oldBase, ext)
		for _, p := range patterns {
			stem = strings.ReplaceAll(stem, "["+p+"]", "")
		}
		stem = NormalizeTagWhitespace(stem)
		newBase := stem + suffix.String() + ext
		newPath := filepath.Clean(filepath.Join(dir, newBase))

		reportProgress(engine, taskID, i+1, total, "processing: "+oldBase)

		if newPath != oldPath {
			if err := movePath(oldPath, newPath); err != nil {
				failed++
				continue
			}
		}

		keep := make([]int64, 0, len(f.Tags)+len(newTagIDs))
		for _, t := range f.Tags {
			if t.ID != original.ID {
				keep = append(keep, t.ID)
			}
		}
		keep = append(keep, newTagIDs...)
		if err := store.SetFilePathAndTags(f.ID, newPath, keep); err != nil {
			failed++
		}
	}

	if failed == 0 {
		if err := store.DeleteTag(original.ID); err != nil {
			failed++
		}
	}

	if failed > 0 {
		return engine.Finish(taskID, tasks.StatusFailed, fmt.Sprintf("%d files failed", failed))
	}
	return engine.Finish(taskID, tasks.StatusCompleted, "")
}

// TagMerge folds sourceTagID into targetTagID: every filename carrying the
// source tag's bracketed token is rewritten to carry the target's instead,
// the catalog's file_tags/aliases are migrated, and the source tag is
// deleted. Shares its renaming shape with TagFileChange's rename branch,
// but the destination tag is given rather than created.
func TagMerge(ctx context.Context, engine *tasks.Engine, taskID int64, store *catalog.Store, sourceTagID, targetTagID int64) error {
	source, err := store.Tag(sourceTagID)
	if err != nil {
		return err
	}
	target, err := store.Tag(targetTagID)
	if err != nil {
		return err
	}
	if source == nil || target == nil {
		return engine.Finish(taskID, tasks.StatusFailed, "source or target tag not found")
	}
	if source.TypeID != target.TypeID {
		return engine.Finish(taskID, tasks.StatusFailed, "source and target tags must share a type")
	}

	patterns := []string{source.Name}
	for _, a := range source.Aliases {
		patterns = append(patterns, a.Alias)
	}
	files, err := store.FilesWithAnyBracketedPattern(patterns)
	if err != nil {
		return err
	}
	total := len(files)
	replacement := "[" + target.Name + "]"

	failed := 0
	for i := range files {
		if engine.IsCancelled(taskID) {
			return engine.Finish(taskID, tasks.StatusCancelled, "")
		}
		f := &files[i]
		oldPath := f.Path
		dir := filepath.Dir(oldPath)
		oldBase := filepath.Base(oldPath)
		newBase := oldBase
		for _, p := range patterns {
			newBase = strings.ReplaceAll(newBase, "["+p+"]", replacement)
		}
		newBase = NormalizeTagWhitespace(newBase)
		newPath := filepath.Clean(filepath.Join(dir, newBase))

		reportProgress(engine, taskID, i+1, total, "processing: "+oldBase)
		if newPath != oldPath {
			if err := movePath(oldPath, newPath); err != nil {
				failed++
				continue
			}
		}

		keep := make([]int64, 0, len(f.Tags)+1)
		hasTarget := false
		for _, t := range f.Tags {
			if t.ID == source.ID {
				continue
			}
			if t.ID == target.ID {
				hasTarget = true
			}
			keep = append(keep, t.ID)
		}
		if !hasTarget {
			keep = append(keep, target.ID)
		}
		if err := store.SetFilePathAndTags(f.ID, newPath, keep); err != nil {
			failed++
		}
	}

	if failed == 0 {
		if err := mergeTagAliases(store, source, target.ID); err != nil {
			failed++
		} else if err := store.MergeTagInto(source.ID, target.ID); err != nil {
			failed++
		}
	}

	if failed > 0 {
		return engine.Finish(taskID, tasks.StatusFailed, fmt.Sprintf("%d operations failed", failed))
	}
	return engine.Finish(taskID, tasks.StatusCompleted, "")
}
