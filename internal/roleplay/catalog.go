package roleplay

import (
	_ "embed"
	"fmt"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var defaultCatalogYAML []byte

// Industry is a selectable sales vertical and the buyer situation the
// prospect plays in it.
type Industry struct {
	Key       string `yaml:"key" json:"key"`
	Name      string `yaml:"name" json:"name"`
	Situation string `yaml:"situation" json:"situation"`
}

// Difficulty is a behavioural descriptor for the prospect.
type Difficulty struct {
	Label       string `yaml:"label" json:"label"`
	Description string `yaml:"description" json:"description"`
}

// Catalog holds the fixed prompt catalogs.
type Catalog struct {
	Industries   []Industry   `yaml:"industries" json:"industries"`
	Personas     []string     `yaml:"personas" json:"personas"`
	Difficulties []Difficulty `yaml:"difficulties" json:"difficulties"`
}

// ParseCatalog decodes a YAML catalog and checks that every list is
// populated and industry keys are unique.
func ParseCatalog(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("decoding catalog: %w", err)
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	for i := range c.Industries {
		c.Industries[i].Situation = strings.TrimSpace(c.Industries[i].Situation)
	}
	return &c, nil
}

func (c *Catalog) validate() error {
	if len(c.Industries) == 0 {
		return fmt.Errorf("catalog has no industries")
	}
	if len(c.Personas) == 0 {
		return fmt.Errorf("catalog has no personas")
	}
	if len(c.Difficulties) == 0 {
		return fmt.Errorf("catalog has no difficulty descriptors")
	}
	seen := make(map[string]bool, len(c.Industries))
	for _, ind := range c.Industries {
		if ind.Key == "" {
			return fmt.Errorf("catalog industry %q has no key", ind.Name)
		}
		if seen[ind.Key] {
			return fmt.Errorf("duplicate industry key %q", ind.Key)
		}
		seen[ind.Key] = true
	}
	return nil
}

var loadDefault = sync.OnceValues(func() (*Catalog, error) {
	return ParseCatalog(defaultCatalogYAML)
})

// DefaultCatalog returns the catalog compiled into the binary.
func DefaultCatalog() *Catalog {
	c, err := loadDefault()
	if err != nil {
		panic(fmt.Sprintf("embedded catalog: %v", err))
	}
	return c
}

// Industry looks up an industry by key.
func (c *Catalog) Industry(key string) (Industry, bool) {
	for _, ind := range c.Industries {
		if ind.Key == key {
			return ind, true
		}
	}
	return Industry{}, false
}

// IndustryKeys returns the sorted industry keys.
func (c *Catalog) IndustryKeys() []string {
	keys := make([]string, len(c.Industries))
	for i, ind := range c.Industries {
		keys[i] = ind.Key
	}
	sort.Strings(keys)
	return keys
}

// DifficultyDescription returns the description for label, or "" when the
// label is not in the catalog (caller-supplied labels are used verbatim).
func (c *Catalog) DifficultyDescription(label string) string {
	for _, d := range c.Difficulties {
		if strings.EqualFold(d.Label, label) {
			return d.Description
		}
	}
	return ""
}

// PickPersona chooses a persona with sel.
func (c *Catalog) PickPersona(sel Selector) string {
	return c.Personas[pick(sel, len(c.Personas))]
}

// PickDifficulty chooses a difficulty label with sel.
func (c *Catalog) PickDifficulty(sel Selector) string {
	return c.Difficulties[pick(sel, len(c.Difficulties))].Label
}

func pick(sel Selector, n int) int {
	if sel == nil {
		sel = RandomSelector
	}
	i := sel(n)
	if i < 0 || i >= n {
		return 0
	}
	return i
}
