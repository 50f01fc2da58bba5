package rename

import (
	"path/filepath"
	"testing"

	"github.com/CaoBiang/Manga-ULM/internal/model"
)

func TestSanitizeFilename_ReplacesIllegalChars(t *testing.T) {
	got := SanitizeFilename(`a/b\c:d*e?f"g<h>i|j`)
	want := "a_b_c_d_e_f_g_h_i_j"
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestExtractFilenameTags_FindsBracketedTokens(t *testing.T) {
	got := ExtractFilenameTags("Title [Author][Series] vol.1.cbz")
	want := []string{"Author", "Series"}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("got %v want %v", got, want)
	}
}

func TestGenerateNewPath_SubstitutesKnownPlaceholders(t *testing.T) {
	f := &model.File{ID: 7, Path: "/lib/old/Title.cbz"}
	tags := []model.Tag{
		{Name: "Alice", Type: model.TagType{Name: "author"}},
		{Name: "Saga", Type: model.TagType{Name: "series"}},
	}
	got, err := GenerateNewPath("{author}/{series}/{title}", f, tags, "/lib/root")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	want := filepath.Clean("/lib/root/Alice/Saga/Title.cbz")
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestGenerateNewPath_RejectsEscapingRoot(t *testing.T) {
	f := &model.File{ID: 1, Path: "/lib/old/Title.cbz"}
	_, err := GenerateNewPath("../../escape", f, nil, "/lib/root")
	if err == nil {
		t.Fatalf("expected error for path escaping root")
	}
}

func TestGenerateNewPath_StripsUnresolvedPlaceholders(t *testing.T) {
	f := &model.File{ID: 3, Path: "/lib/old/Title.cbz"}
	got, err := GenerateNewPath("{series}/{title}", f, nil, "/lib/root")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	want := filepath.Clean("/lib/root/Title.cbz")
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestBuildRetaggedBasename_DeleteRemovesTag(t *testing.T) {
	got := buildRetaggedBasename("Title [Old][Keep].cbz", []string{"Old"}, TagActionDelete, "")
	want := "Title [Keep].cbz"
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestBuildRetaggedBasename_RenameReplacesTag(t *testing.T) {
	got := buildRetaggedBasename("Title [Old].cbz", []string{"Old"}, TagActionRename, "New")
	want := "Title [New].cbz"
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}
