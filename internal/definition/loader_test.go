package definition

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/marketbytes-devops/kwa-console/model"
)

func TestLoader_LoadFile(t *testing.T) {
	l := NewLoader()
	def, err := l.LoadFile("testdata/valid/valves.yaml")
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}

	if def.Domain != "valves" {
		t.Errorf("Domain = %q, want valves", def.Domain)
	}
	if def.Navigation.Label != "Valves" {
		t.Errorf("Navigation.Label = %q, want Valves", def.Navigation.Label)
	}
	if len(def.Pages) != 1 {
		t.Fatalf("Pages = %d, want 1", len(def.Pages))
	}
	p := def.Pages[0]
	if p.Endpoint != "/valve/valves/" {
		t.Errorf("Endpoint = %q", p.Endpoint)
	}
	if !p.ShowAddItems {
		t.Error("ShowAddItems should be true")
	}
	fields := p.AllFields()
	if len(fields) != 3 {
		t.Fatalf("fields = %d, want 3", len(fields))
	}
	if fields[0].Type != model.FieldText || !fields[0].ShowWarning {
		t.Errorf("name field = %+v", fields[0])
	}
	if fields[2].Type != model.FieldImage {
		t.Errorf("image field type = %q", fields[2].Type)
	}
	if def.Checksum == "" {
		t.Error("Checksum should not be empty")
	}
	if def.SourceFile != "testdata/valid/valves.yaml" {
		t.Errorf("SourceFile = %q", def.SourceFile)
	}
}

func TestLoader_LoadFile_options_source(t *testing.T) {
	def, err := NewLoader().LoadFile("testdata/valid/complaints.yaml")
	if err != nil {
		t.Fatal(err)
	}
	area, ok := model.FindField(def.Pages[0].AllFields(), "area")
	if !ok {
		t.Fatal("area field missing")
	}
	if area.OptionsSource == nil || area.OptionsSource.LabelField != "area_name" {
		t.Errorf("OptionsSource = %+v", area.OptionsSource)
	}
}

func TestLoader_LoadFile_not_found(t *testing.T) {
	if _, err := NewLoader().LoadFile("testdata/nonexistent.yaml"); err == nil {
		t.Fatal("LoadFile() with missing file should return error")
	}
}

func TestLoader_LoadFile_invalid_yaml(t *testing.T) {
	if _, err := NewLoader().LoadFile("testdata/invalid/bad.yaml"); err == nil {
		t.Fatal("LoadFile() with invalid YAML should return error")
	}
}

func TestLoader_LoadFile_unknown_key(t *testing.T) {
	if _, err := NewLoader().LoadFile("testdata/unknown_key/typo.yaml"); err == nil {
		t.Fatal("LoadFile() should reject unknown keys")
	}
}

func TestLoader_LoadFile_unknown_field_type(t *testing.T) {
	if _, err := NewLoader().LoadFile("testdata/bad_type/type.yaml"); err == nil {
		t.Fatal("LoadFile() should reject unknown field types")
	}
}

func TestLoader_LoadAll_orders_by_navigation(t *testing.T) {
	defs, err := NewLoader().LoadAll([]string{"testdata/valid"})
	if err != nil {
		t.Fatalf("LoadAll() error = %v", err)
	}
	if len(defs) != 2 {
		t.Fatalf("LoadAll() returned %d definitions, want 2", len(defs))
	}
	if defs[0].Domain != "complaints" || defs[1].Domain != "valves" {
		t.Errorf("order = %s, %s; want complaints, valves", defs[0].Domain, defs[1].Domain)
	}
}

func TestLoader_LoadAll_invalid_dir(t *testing.T) {
	if _, err := NewLoader().LoadAll([]string{"testdata/nonexistent"}); err == nil {
		t.Fatal("LoadAll() with missing directory should return error")
	}
}

func TestLoader_LoadAll_invalid_yaml(t *testing.T) {
	if _, err := NewLoader().LoadAll([]string{"testdata/invalid"}); err == nil {
		t.Fatal("LoadAll() with invalid YAML should return error")
	}
}

func TestLoader_Checksum_deterministic(t *testing.T) {
	l := NewLoader()
	def1, _ := l.LoadFile("testdata/valid/valves.yaml")
	def2, _ := l.LoadFile("testdata/valid/valves.yaml")
	if def1.Checksum != def2.Checksum {
		t.Error("Checksum should be deterministic")
	}
}

func TestLoader_LoadAll_skips_dot_files(t *testing.T) {
	dir := t.TempDir()
	valid, err := os.ReadFile("testdata/valid/valves.yaml")
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "valves.yaml"), valid, 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, ".#valves.yaml"), []byte("{{ not yaml"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "README.md"), []byte("# notes"), 0o600); err != nil {
		t.Fatal(err)
	}

	defs, err := NewLoader().LoadAll([]string{dir})
	if err != nil {
		t.Fatalf("LoadAll() error = %v", err)
	}
	if len(defs) != 1 || defs[0].Domain != "valves" {
		t.Errorf("defs = %+v, want only valves", defs)
	}
	if len(defs[0].Checksum) != 64 {
		t.Errorf("checksum = %q, want hex sha256", defs[0].Checksum)
	}
}
