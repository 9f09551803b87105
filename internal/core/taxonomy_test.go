package core

import (
	"os"
	"path/filepath"
	"testing"
)

func TestTaxonomy_Classify(t *testing.T) {
	tax := DefaultTaxonomy()
	tests := []struct {
		status string
		want   StatusClass
	}{
		{"Present", StatusPresent},
		{"  p ", StatusPresent},
		{"WFH", StatusPresent},
		{"absent", StatusAbsent},
		{"Sick Leave", StatusAbsent},
		{"holiday", StatusOther},
		{"", StatusOther},
	}
	for _, tt := range tests {
		if got := tax.Classify(tt.status); got != tt.want {
			t.Errorf("Classify(%q) = %s, want %s", tt.status, got, tt.want)
		}
	}
}

func TestTaxonomy_SiteCategoryFor(t *testing.T) {
	tax := DefaultTaxonomy()
	tests := []struct {
		site string
		want string
	}{
		{"Head Office Mumbai", "office"},
		{"North Depot", "warehouse"},
		{"Project Alpha", "site"},
		{"Somewhere", DefaultSiteCategory},
		{"", DefaultSiteCategory},
	}
	for _, tt := range tests {
		if got := tax.SiteCategoryFor(tt.site); got != tt.want {
			t.Errorf("SiteCategoryFor(%q) = %q, want %q", tt.site, got, tt.want)
		}
	}
}

func TestLoadTaxonomy(t *testing.T) {
	dir := t.TempDir()

	t.Run("empty path uses default", func(t *testing.T) {
		tax, err := LoadTaxonomy("")
		if err != nil {
			t.Fatalf("LoadTaxonomy() error = %v", err)
		}
		if len(tax.Present) == 0 {
			t.Error("default taxonomy has no present statuses")
		}
	})

	t.Run("yaml file", func(t *testing.T) {
		path := filepath.Join(dir, "taxonomy.yaml")
		body := "present: [here]\nabsent: [gone]\nsiteCategories:\n  - name: yard\n    contains: [yard]\n"
		if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
			t.Fatal(err)
		}
		tax, err := LoadTaxonomy(path)
		if err != nil {
			t.Fatalf("LoadTaxonomy() error = %v", err)
		}
		if tax.Classify("HERE") != StatusPresent || tax.Classify("present") != StatusOther {
			t.Errorf("custom taxonomy not applied: %+v", tax)
		}
		if got := tax.SiteCategoryFor("Back Yard"); got != "yard" {
			t.Errorf("SiteCategoryFor = %q, want yard", got)
		}
	})

	t.Run("no statuses", func(t *testing.T) {
		path := filepath.Join(dir, "empty.yaml")
		if err := os.WriteFile(path, []byte("siteCategories: []\n"), 0o600); err != nil {
			t.Fatal(err)
		}
		if _, err := LoadTaxonomy(path); err == nil {
			t.Error("LoadTaxonomy() accepted a taxonomy without statuses")
		}
	})

	t.Run("missing file", func(t *testing.T) {
		if _, err := LoadTaxonomy(filepath.Join(dir, "nope.yaml")); err == nil {
			t.Error("LoadTaxonomy() accepted a missing file")
		}
	})
}
