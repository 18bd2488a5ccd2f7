package sections

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultFallbackOrder is the order of titles absent from the table.
const DefaultFallbackOrder = 999

// DefaultIcon is used for titles without a table entry.
const DefaultIcon = "file-text"

// Entry maps a lowercase section title to its display order and icon.
type Entry struct {
	Key   string `yaml:"key" json:"key"`
	Order int    `yaml:"order" json:"order"`
	Icon  string `yaml:"icon,omitempty" json:"icon,omitempty"`
}

// Taxonomy is the data-driven ordering table used by Parse.
type Taxonomy struct {
	Entries      []Entry `yaml:"entries" json:"entries"`
	Fallback     int     `yaml:"fallback,omitempty" json:"fallback,omitempty"`
	FallbackIcon string  `yaml:"fallback_icon,omitempty" json:"fallbackIcon,omitempty"`
	// MatchContains matches an entry when its key occurs anywhere in the title
	// (first entry wins) instead of requiring the whole title to equal the key.
	MatchContains bool `yaml:"match_contains,omitempty" json:"matchContains,omitempty"`

	index map[string]Entry
}

// DefaultTaxonomy returns the company-profile ordering table.
func DefaultTaxonomy() *Taxonomy {
	t := &Taxonomy{
		Entries: []Entry{
			{Key: "executive summary", Order: 1, Icon: "file-text"},
			{Key: "company overview", Order: 2, Icon: "building-2"},
			{Key: "leadership", Order: 3, Icon: "users"},
			{Key: "financial", Order: 4, Icon: "dollar-sign"},
			{Key: "projects", Order: 5, Icon: "map-pin"},
			{Key: "safety", Order: 6, Icon: "shield"},
			{Key: "union", Order: 7, Icon: "target"},
			{Key: "strategic", Order: 8, Icon: "bar-chart-3"},
			{Key: "swot", Order: 9, Icon: "alert-triangle"},
			{Key: "recommendations", Order: 10, Icon: "trending-up"},
		},
		Fallback:     DefaultFallbackOrder,
		FallbackIcon: DefaultIcon,
	}
	return t.buildIndex()
}

// ParseTaxonomy decodes a YAML taxonomy. Keys are normalized to lowercase.
func ParseTaxonomy(data []byte) (*Taxonomy, error) {
	var t Taxonomy
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("failed to parse taxonomy: %w", err)
	}
	seen := make(map[string]bool, len(t.Entries))
	for i := range t.Entries {
		key := normalize(t.Entries[i].Key)
		if key == "" {
			return nil, fmt.Errorf("taxonomy entry %d has an empty key", i)
		}
		if seen[key] {
			return nil, fmt.Errorf("taxonomy key %q listed twice", key)
		}
		seen[key] = true
		t.Entries[i].Key = key
	}
	return t.buildIndex(), nil
}

// LoadTaxonomy reads a YAML taxonomy file.
func LoadTaxonomy(path string) (*Taxonomy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read taxonomy: %w", err)
	}
	return ParseTaxonomy(data)
}

// Lookup returns the order and icon for a section title.
func (t *Taxonomy) Lookup(title string) (int, string) {
	key := normalize(title)
	if t.MatchContains {
		for _, e := range t.Entries {
			if strings.Contains(key, e.Key) {
				return e.Order, t.iconOf(e)
			}
		}
	} else if e, ok := t.exact(key); ok {
		return e.Order, t.iconOf(e)
	}

	fallback := t.Fallback
	if fallback == 0 {
		fallback = DefaultFallbackOrder
	}
	return fallback, t.fallbackIcon()
}

// exact finds the entry whose key equals key. Tables built with DefaultTaxonomy or
// ParseTaxonomy carry a prebuilt index; hand-built ones fall back to a scan.
func (t *Taxonomy) exact(key string) (Entry, bool) {
	if t.index != nil {
		e, ok := t.index[key]
		return e, ok
	}
	for _, e := range t.Entries {
		if normalize(e.Key) == key {
			return e, true
		}
	}
	return Entry{}, false
}

func (t *Taxonomy) buildIndex() *Taxonomy {
	t.index = make(map[string]Entry, len(t.Entries))
	for _, e := range t.Entries {
		k := normalize(e.Key)
		if _, dup := t.index[k]; !dup {
			t.index[k] = e
		}
	}
	return t
}

func (t *Taxonomy) iconOf(e Entry) string {
	if e.Icon != "" {
		return e.Icon
	}
	return t.fallbackIcon()
}

func (t *Taxonomy) fallbackIcon() string {
	if t.FallbackIcon != "" {
		return t.FallbackIcon
	}
	return DefaultIcon
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
