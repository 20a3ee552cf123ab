package discovery

import (
	"bytes"
	"errors"
	"io"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/outreach-cli/internal/model"
)

// Queries expands params into the platform x keyword x location product,
// skipping blanks and repeats. MaxQueries caps the result when positive.
func Queries(p model.DiscoverParams) []Query {
	locations := p.Locations
	if len(locations) == 0 {
		locations = []string{""}
	}

	seen := make(map[Query]bool)
	var out []Query
	for _, platform := range p.Platforms {
		for _, kw := range p.Keywords {
			kw = strings.TrimSpace(kw)
			if kw == "" {
				continue
			}
			for _, loc := range locations {
				q := Query{Platform: platform, Keyword: kw, Location: strings.TrimSpace(loc)}
				if seen[q] {
					continue
				}
				seen[q] = true
				out = append(out, q)
				if p.MaxQueries > 0 && len(out) == p.MaxQueries {
					return out
				}
			}
		}
	}
	return out
}

// planFile is the YAML layout of a discovery campaign.
type planFile struct {
	Platforms  []string `yaml:"platforms"`
	Keywords   []string `yaml:"keywords"`
	Locations  []string `yaml:"locations"`
	MaxQueries int      `yaml:"max_queries"`
}

// LoadPlan reads a campaign file.
func LoadPlan(path string) (model.DiscoverParams, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return model.DiscoverParams{}, eris.Wrapf(err, "discovery: read plan %s", path)
	}
	return ParsePlan(data)
}

// ParsePlan decodes a campaign document. Unknown keys are rejected.
func ParsePlan(data []byte) (model.DiscoverParams, error) {
	var pf planFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&pf); err != nil && !errors.Is(err, io.EOF) {
		return model.DiscoverParams{}, eris.Wrap(err, "discovery: parse plan")
	}
	return model.DiscoverParams{
		Platforms:  pf.Platforms,
		Keywords:   pf.Keywords,
		Locations:  pf.Locations,
		MaxQueries: pf.MaxQueries,
	}, nil
}

// Merge fills empty fields of p from defaults.
func Merge(p, defaults model.DiscoverParams) model.DiscoverParams {
	if len(p.Platforms) == 0 {
		p.Platforms = defaults.Platforms
	}
	if len(p.Keywords) == 0 {
		p.Keywords = defaults.Keywords
	}
	if len(p.Locations) == 0 {
		p.Locations = defaults.Locations
	}
	if p.MaxQueries == 0 {
		p.MaxQueries = defaults.MaxQueries
	}
	return p
}
