package whispermodel

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultCatalog(t *testing.T) {
	catalog := DefaultCatalog()
	for _, name := range []string{"tiny", "base", "small", "medium", "large-v3"} {
		v, ok := catalog.Lookup(name)
		if !ok {
			t.Fatalf("expected variant %q in default catalog", name)
		}
		if v.Filename == "" || v.URL == "" || v.SizeBytes <= 0 {
			t.Fatalf("incomplete default variant: %+v", v)
		}
	}
	if _, ok := catalog.Lookup("nonsense"); ok {
		t.Fatal("unexpected variant lookup hit")
	}
}

func TestLoadCatalogFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "models.yaml")
	body := []byte(`
models:
  - name: tiny
    filename: ggml-tiny.bin
    url: https://example.com/ggml-tiny.bin
    size_bytes: 100
    sha256: aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa
`)
	if err := os.WriteFile(path, body, 0o644); err != nil {
		t.Fatalf("write catalog: %v", err)
	}

	catalog, err := LoadCatalog(path)
	if err != nil {
		t.Fatalf("load catalog: %v", err)
	}
	v, ok := catalog.Lookup("tiny")
	if !ok {
		t.Fatal("expected tiny variant")
	}
	if v.SHA256 == "" || v.SizeBytes != 100 {
		t.Fatalf("unexpected variant: %+v", v)
	}
}

func TestLoadCatalogRejectsBadEntries(t *testing.T) {
	cases := map[string]string{
		"missing name": `
models:
  - filename: ggml-tiny.bin
    url: https://example.com/ggml-tiny.bin
`,
		"path in filename": `
models:
  - name: tiny
    filename: ../escape.bin
    url: https://example.com/x.bin
`,
		"bad url": `
models:
  - name: tiny
    filename: ggml-tiny.bin
    url: ftp://example.com/x.bin
`,
		"bad sha256": `
models:
  - name: tiny
    filename: ggml-tiny.bin
    url: https://example.com/x.bin
    sha256: nothex
`,
		"duplicate variant": `
models:
  - name: tiny
    filename: ggml-tiny.bin
    url: https://example.com/x.bin
  - name: tiny
    filename: ggml-tiny2.bin
    url: https://example.com/y.bin
`,
		"empty catalog": `
models: []
`,
	}

	for label, body := range cases {
		path := filepath.Join(t.TempDir(), "models.yaml")
		if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
			t.Fatalf("%s: write catalog: %v", label, err)
		}
		if _, err := LoadCatalog(path); err == nil {
			t.Fatalf("%s: expected validation error", label)
		}
	}
}
