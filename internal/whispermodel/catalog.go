package whispermodel

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Variant describes one downloadable GGML whisper model.
type Variant struct {
	Name      string `yaml:"name" json:"name"`
	Filename  string `yaml:"filename" json:"filename"`
	URL       string `yaml:"url" json:"url"`
	SizeBytes int64  `yaml:"size_bytes" json:"size_bytes"`
	// SHA256 is optional; when empty, downloads are not checksum-verified.
	SHA256 string `yaml:"sha256" json:"sha256,omitempty"`
}

// Catalog is the set of known model variants.
type Catalog struct {
	variants []Variant
	byName   map[string]Variant
}

const defaultBaseURL = "https://huggingface.co/ggerganov/whisper.cpp/resolve/main/"

// DefaultCatalog lists the standard whisper.cpp GGML variants. Sizes are
// approximate; checksums come from a catalog file when verification is
// wanted.
func DefaultCatalog() Catalog {
	variants := []Variant{
		{Name: "tiny", Filename: "ggml-tiny.bin", URL: defaultBaseURL + "ggml-tiny.bin", SizeBytes: 77_691_713},
		{Name: "base", Filename: "ggml-base.bin", URL: defaultBaseURL + "ggml-base.bin", SizeBytes: 147_951_465},
		{Name: "small", Filename: "ggml-small.bin", URL: defaultBaseURL + "ggml-small.bin", SizeBytes: 487_601_967},
		{Name: "medium", Filename: "ggml-medium.bin", URL: defaultBaseURL + "ggml-medium.bin", SizeBytes: 1_533_763_059},
		{Name: "large-v3", Filename: "ggml-large-v3.bin", URL: defaultBaseURL + "ggml-large-v3.bin", SizeBytes: 3_095_033_483},
	}
	catalog, err := newCatalog(variants)
	if err != nil {
		panic(err) // built-in entries are validated by tests
	}
	return catalog
}

type catalogFile struct {
	Models []Variant `yaml:"models"`
}

// LoadCatalog reads a YAML catalog from disk and validates every entry.
func LoadCatalog(path string) (Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Catalog{}, fmt.Errorf("read model catalog: %w", err)
	}
	var parsed catalogFile
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return Catalog{}, fmt.Errorf("parse model catalog: %w", err)
	}
	if len(parsed.Models) == 0 {
		return Catalog{}, fmt.Errorf("model catalog %s lists no models", path)
	}
	return newCatalog(parsed.Models)
}

var sha256Pattern = regexp.MustCompile(`^[0-9a-fA-F]{64}$`)

func newCatalog(variants []Variant) (Catalog, error) {
	byName := make(map[string]Variant, len(variants))
	for _, v := range variants {
		if err := validateVariant(v); err != nil {
			return Catalog{}, err
		}
		if _, exists := byName[v.Name]; exists {
			return Catalog{}, fmt.Errorf("duplicate model variant %q", v.Name)
		}
		byName[v.Name] = v
	}
	return Catalog{variants: variants, byName: byName}, nil
}

func validateVariant(v Variant) error {
	if v.Name == "" {
		return fmt.Errorf("model variant name is required")
	}
	if v.Filename == "" || strings.ContainsAny(v.Filename, "/\\") {
		return fmt.Errorf("model variant %q needs a bare filename", v.Name)
	}
	if !strings.HasPrefix(v.URL, "http://") && !strings.HasPrefix(v.URL, "https://") {
		return fmt.Errorf("model variant %q needs an http(s) url", v.Name)
	}
	if v.SizeBytes < 0 {
		return fmt.Errorf("model variant %q has negative size", v.Name)
	}
	if v.SHA256 != "" && !sha256Pattern.MatchString(v.SHA256) {
		return fmt.Errorf("model variant %q has a malformed sha256", v.Name)
	}
	return nil
}

// Lookup returns the variant with the given name.
func (c Catalog) Lookup(name string) (Variant, bool) {
	v, ok := c.byName[name]
	return v, ok
}

// Variants returns the catalog entries in declaration order.
func (c Catalog) Variants() []Variant {
	return append([]Variant(nil), c.variants...)
}
