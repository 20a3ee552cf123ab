// Package scoring ranks prospects by a weighted sum of sub-scores.
package scoring

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/outreach-cli/internal/config"
)

const weightEpsilon = 1e-9

// Weights are the component weights. They must be non-negative and sum to 1.
type Weights struct {
	Authority    float64
	HasEmail     float64
	Confidence   float64
	Relevance    float64
	Completeness float64
	Recency      float64
}

// DefaultWeights returns the standard ranking weights.
func DefaultWeights() Weights {
	return Weights{
		Authority:    0.30,
		HasEmail:     0.25,
		Confidence:   0.15,
		Relevance:    0.15,
		Completeness: 0.10,
		Recency:      0.05,
	}
}

// WeightsFromConfig maps the scoring config section onto Weights.
func WeightsFromConfig(c config.ScoringConfig) Weights {
	return Weights{
		Authority:    c.AuthorityWeight,
		HasEmail:     c.HasEmailWeight,
		Confidence:   c.ConfidenceWeight,
		Relevance:    c.RelevanceWeight,
		Completeness: c.CompletenessWeight,
		Recency:      c.RecencyWeight,
	}
}

// Sum returns the total of all weights.
func (w Weights) Sum() float64 {
	return w.Authority + w.HasEmail + w.Confidence + w.Relevance + w.Completeness + w.Recency
}

// Validate checks that every weight is non-negative and that they sum to 1.
func (w Weights) Validate() error {
	named := map[string]float64{
		"authority":    w.Authority,
		"has_email":    w.HasEmail,
		"confidence":   w.Confidence,
		"relevance":    w.Relevance,
		"completeness": w.Completeness,
		"recency":      w.Recency,
	}
	var errs []string
	for name, v := range named {
		if v < 0 || math.IsNaN(v) {
			errs = append(errs, fmt.Sprintf("%s weight must be >= 0", name))
		}
	}
	sort.Strings(errs)
	if sum := w.Sum(); math.Abs(sum-1) > weightEpsilon {
		errs = append(errs, fmt.Sprintf("weights must sum to 1, got %.6f", sum))
	}
	if len(errs) > 0 {
		return eris.Errorf("scoring: invalid weights: %s", strings.Join(errs, "; "))
	}
	return nil
}
