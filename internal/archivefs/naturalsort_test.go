package archivefs

import "testing"

func TestNaturalLess_DigitRunsOrderNumerically(t *testing.T) {
	if !NaturalLess("page2.jpg", "page10.jpg") {
		t.Fatalf("expected page2.jpg < page10.jpg")
	}
	if NaturalLess("page10.jpg", "page2.jpg") {
		t.Fatalf("expected page10.jpg not < page2.jpg")
	}
}

func TestNaturalLess_CaseInsensitive(t *testing.T) {
	if !NaturalLess("Cover.jpg", "page1.jpg") {
		t.Fatalf("expected Cover.jpg < page1.jpg by lowercase comparison")
	}
}

func TestNaturalLess_Equal(t *testing.T) {
	if NaturalLess("a.jpg", "a.jpg") {
		t.Fatalf("identical names must not be less than each other")
	}
}
