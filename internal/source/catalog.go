package source

import (
	_ "embed"
	"os"
	"sort"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/esglend/verify-cli/internal/model"
)

//go:embed catalog.yaml
var defaultCatalogYAML []byte

// CatalogEntry describes one provider in the catalogue: its reliability score
// (0-100, used to weight readings) and the KPI categories it can verify.
type CatalogEntry struct {
	Reliability float64  `yaml:"reliability"`
	Categories  []string `yaml:"categories"`
}

// Catalog is the provider catalogue. Category routing and reliability weights
// both come from here, so swapping the file re-routes verification without a
// code change.
type Catalog struct {
	Providers map[string]CatalogEntry `yaml:"providers"`
}

// LoadCatalog reads the catalogue from path, or the embedded default when
// path is empty.
func LoadCatalog(path string) (*Catalog, error) {
	raw := defaultCatalogYAML
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, eris.Wrapf(err, "source: read catalog %s", path)
		}
		raw = b
	}

	var c Catalog
	if err := yaml.Unmarshal(raw, &c); err != nil {
		return nil, eris.Wrap(err, "source: parse catalog")
	}
	if len(c.Providers) == 0 {
		return nil, eris.New("source: catalog lists no providers")
	}
	for name, entry := range c.Providers {
		if entry.Reliability <= 0 || entry.Reliability > 100 {
			return nil, eris.Errorf("source: catalog provider %s reliability %.1f out of (0, 100]", name, entry.Reliability)
		}
		if len(entry.Categories) == 0 {
			return nil, eris.Errorf("source: catalog provider %s has no categories", name)
		}
	}
	return &c, nil
}

// ProvidersFor returns the provider names registered for a KPI category,
// sorted for deterministic fan-out order.
func (c *Catalog) ProvidersFor(cat model.KPICategory) []string {
	var names []string
	for name, entry := range c.Providers {
		for _, pc := range entry.Categories {
			if pc == string(cat) {
				names = append(names, name)
				break
			}
		}
	}
	sort.Strings(names)
	return names
}

// Reliability returns the catalogue reliability score for a provider, or 0
// when the provider is unknown.
func (c *Catalog) Reliability(name string) float64 {
	return c.Providers[name].Reliability
}
