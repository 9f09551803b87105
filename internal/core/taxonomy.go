package core

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultSiteCategory is assigned when no site category matches.
const DefaultSiteCategory = "general"

// BlankStatus is the otherValues key for rows without a status.
const BlankStatus = "(blank)"

// SiteCategory classifies free-text site names by substring.
type SiteCategory struct {
	Name     string   `yaml:"name" json:"name"`
	Contains []string `yaml:"contains" json:"contains"`
}

// Taxonomy is the administrator-configurable classification used by merge
// statistics and ingestion.
type Taxonomy struct {
	Present        []string       `yaml:"present" json:"present"`
	Absent         []string       `yaml:"absent" json:"absent"`
	SiteCategories []SiteCategory `yaml:"siteCategories" json:"siteCategories"`
}

// DefaultTaxonomy returns the built-in classification.
func DefaultTaxonomy() Taxonomy {
	return Taxonomy{
		Present: []string{"present", "p", "on duty", "wfh", "work from home", "half day"},
		Absent:  []string{"absent", "a", "leave", "sick leave", "sick", "off"},
		SiteCategories: []SiteCategory{
			{Name: "office", Contains: []string{"office", "hq", "head office"}},
			{Name: "warehouse", Contains: []string{"warehouse", "depot", "store"}},
			{Name: "site", Contains: []string{"site", "project", "camp"}},
		},
	}
}

// LoadTaxonomy reads a YAML taxonomy file. An empty path returns the default.
func LoadTaxonomy(path string) (Taxonomy, error) {
	if path == "" {
		return DefaultTaxonomy(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Taxonomy{}, fmt.Errorf("read taxonomy: %w", err)
	}
	var t Taxonomy
	if err := yaml.Unmarshal(data, &t); err != nil {
		return Taxonomy{}, fmt.Errorf("parse taxonomy %s: %w", path, err)
	}
	if len(t.Present) == 0 && len(t.Absent) == 0 {
		return Taxonomy{}, fmt.Errorf("taxonomy %s defines no present or absent statuses", path)
	}
	return t, nil
}

// StatusClass is the attendance bucket a status falls into.
type StatusClass string

const (
	StatusPresent StatusClass = "present"
	StatusAbsent  StatusClass = "absent"
	StatusOther   StatusClass = "other"
)

// Classify buckets a status value, ignoring case and surrounding space.
func (t Taxonomy) Classify(status string) StatusClass {
	s := strings.TrimSpace(status)
	for _, p := range t.Present {
		if strings.EqualFold(p, s) {
			return StatusPresent
		}
	}
	for _, a := range t.Absent {
		if strings.EqualFold(a, s) {
			return StatusAbsent
		}
	}
	return StatusOther
}

// SiteCategoryFor returns the first category whose substring occurs in site.
func (t Taxonomy) SiteCategoryFor(site string) string {
	s := strings.ToLower(strings.TrimSpace(site))
	if s == "" {
		return DefaultSiteCategory
	}
	for _, c := range t.SiteCategories {
		for _, sub := range c.Contains {
			if sub != "" && strings.Contains(s, strings.ToLower(sub)) {
				return c.Name
			}
		}
	}
	return DefaultSiteCategory
}
