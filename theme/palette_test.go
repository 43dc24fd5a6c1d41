package theme

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestLoadGPL(t *testing.T) {
	gpl := `GIMP Palette
Name: test-ramp
Columns: 3
# comment line
  0   0   0 black
128  64  32 brown
255 255 255 white
`
	path := filepath.Join(t.TempDir(), "test.gpl")
	if err := os.WriteFile(path, []byte(gpl), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	p, err := LoadGPL(path)
	if err != nil {
		t.Fatalf("LoadGPL: %v", err)
	}
	if p.Name != "test-ramp" {
		t.Errorf("Name = %q, want test-ramp", p.Name)
	}
	want := []RGB{{0, 0, 0}, {128, 64, 32}, {255, 255, 255}}
	if !reflect.DeepEqual(p.Colors, want) {
		t.Errorf("Colors = %v, want %v", p.Colors, want)
	}
}

func TestLoadGPLRejectsEmptyPalette(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.gpl")
	if err := os.WriteFile(path, []byte("GIMP Palette\nName: empty\n"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := LoadGPL(path); err == nil {
		t.Fatal("expected error for palette without colors")
	}
}

func TestLookupInterpolates(t *testing.T) {
	p := &Palette{Colors: []RGB{{0, 0, 0}, {255, 255, 255}}}
	if got := p.Lookup(0); got != (RGB{0, 0, 0}) {
		t.Errorf("Lookup(0) = %v", got)
	}
	if got := p.Lookup(1); got != (RGB{255, 255, 255}) {
		t.Errorf("Lookup(1) = %v", got)
	}
	if got := p.Lookup(0.5); got != (RGB{127, 127, 127}) {
		t.Errorf("Lookup(0.5) = %v", got)
	}
}

func TestDefaultPaletteUsable(t *testing.T) {
	p := Default()
	if len(p.Colors) < 2 {
		t.Fatalf("default palette too small: %d colors", len(p.Colors))
	}
	th := New(p)
	if th.Accent() == th.Muted() {
		t.Error("accent and muted roles collapsed to one color")
	}
}
