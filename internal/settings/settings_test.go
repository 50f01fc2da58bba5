package settings

import "testing"

type fakeStore struct {
	overrides map[string]string
}

func newFakeStore() *fakeStore { return &fakeStore{overrides: map[string]string{}} }

func (f *fakeStore) GetSetting(key string) (string, bool) {
	v, ok := f.overrides[key]
	return v, ok
}

func (f *fakeStore) SetSetting(key, value string) error {
	f.overrides[key] = value
	return nil
}

func (f *fakeStore) DeleteSetting(key string) (bool, error) {
	_, existed := f.overrides[key]
	delete(f.overrides, key)
	return existed, nil
}

func (f *fakeStore) AllSettingOverrides() (map[string]string, error) {
	out := make(map[string]string, len(f.overrides))
	for k, v := range f.overrides {
		out[k] = v
	}
	return out, nil
}

func TestProvider_FallsBackToDefault(t *testing.T) {
	p := NewProvider(newFakeStore())
	if got := p.Int("scan.max_workers", 1, 1, 128); got != 12 {
		t.Fatalf("expected default 12, got %d", got)
	}
}

func TestProvider_OverrideShadowsDefault(t *testing.T) {
	store := newFakeStore()
	p := NewProvider(store)
	if err := p.Set("scan.max_workers", "4"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if got := p.Int("scan.max_workers", 1, 1, 128); got != 4 {
		t.Fatalf("expected override 4, got %d", got)
	}
}

func TestProvider_IntClampedToRange(t *testing.T) {
	store := newFakeStore()
	p := NewProvider(store)
	_ = p.Set("scan.max_workers", "9999")
	if got := p.Int("scan.max_workers", 1, 1, 128); got != 128 {
		t.Fatalf("expected clamp to 128, got %d", got)
	}
}

func TestProvider_ScanSettings_QualityMinClampedToStart(t *testing.T) {
	store := newFakeStore()
	p := NewProvider(store)
	_ = p.Set("scan.cover.quality_start", "20")
	_ = p.Set("scan.cover.quality_min", "50")

	s := p.ScanSettings()
	if s.Cover.QualityMin > s.Cover.QualityStart {
		t.Fatalf("expected quality_min <= quality_start, got min=%d start=%d", s.Cover.QualityMin, s.Cover.QualityStart)
	}
}

func TestProvider_DeleteRevertsToDefault(t *testing.T) {
	store := newFakeStore()
	p := NewProvider(store)
	_ = p.Set("ui.language", "en")
	existed, err := p.Delete("ui.language")
	if err != nil || !existed {
		t.Fatalf("expected delete to report existed, err=%v existed=%v", err, existed)
	}
	if got := p.String("ui.language", "zh"); got != "zh" {
		t.Fatalf("expected reverted default zh, got %q", got)
	}
}
