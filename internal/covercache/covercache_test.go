package covercache

import (
	"path/filepath"
	"testing"

	"github.com/CaoBiang/Manga-ULM/internal/archivefs"
)

func TestPath_DerivationDeterministic(t *testing.T) {
	cfg := Config{BaseDir: "/covers", ShardCount: 256}
	p1 := Path(cfg, 42)
	p2 := Path(cfg, 42)
	if p1 != p2 {
		t.Fatalf("expected deterministic path, got %q then %q", p1, p2)
	}
	if filepath.Base(p1) != "42.webp" {
		t.Fatalf("expected basename 42.webp, got %q", filepath.Base(p1))
	}
}

func TestPath_ShardsByModulus(t *testing.T) {
	cfg := Config{BaseDir: "/covers", ShardCount: 16}
	p := Path(cfg, 33) // 33 % 16 == 1
	want := filepath.Join("/covers", "01", "33.webp")
	if p != want {
		t.Fatalf("expected %q, got %q", want, p)
	}
}

func TestSelectCoverEntry_PrefersNamedCandidate(t *testing.T) {
	entries := []archivefs.Entry{
		{Name: "003.jpg", Size: 10},
		{Name: "cover.jpg", Size: 20},
		{Name: "001.jpg", Size: 30},
	}
	got, ok := selectCoverEntry(entries, DefaultPreferredNames)
	if !ok || got.Name != "cover.jpg" {
		t.Fatalf("expected cover.jpg, got %+v ok=%v", got, ok)
	}
}

func TestSelectCoverEntry_FallsBackToFirst(t *testing.T) {
	entries := []archivefs.Entry{{Name: "001.jpg", Size: 10}, {Name: "002.jpg", Size: 20}}
	got, ok := selectCoverEntry(entries, DefaultPreferredNames)
	if !ok || got.Name != "001.jpg" {
		t.Fatalf("expected fallback to first entry, got %+v ok=%v", got, ok)
	}
}
