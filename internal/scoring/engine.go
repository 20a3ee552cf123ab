package scoring

import (
	"math"
	"strings"
	"time"

	"golang.org/x/text/cases"

	"github.com/sells-group/outreach-cli/internal/model"
)

// Neutral is the sub-score used when a signal is unknown.
const Neutral = 50.0

// Options tunes the non-weight inputs of the engine.
type Options struct {
	// TargetKeywords drive the relevance sub-score. Empty means neutral.
	TargetKeywords []string
	// RecencyHalfLife is the age at which the recency sub-score halves.
	RecencyHalfLife time.Duration
}

// Breakdown holds every sub-score and the weighted total.
type Breakdown struct {
	Authority    float64 `json:"authority"`
	HasEmail     float64 `json:"has_email"`
	Confidence   float64 `json:"confidence"`
	Relevance    float64 `json:"relevance"`
	Completeness float64 `json:"completeness"`
	Recency      float64 `json:"recency"`
	Total        float64 `json:"total"`
}

// Engine computes deterministic prospect scores.
type Engine struct {
	weights  Weights
	keywords []string
	halfLife time.Duration
}

// NewEngine validates the weights and returns an engine. Invalid weights
// are a configuration error.
func NewEngine(w Weights, opts Options) (*Engine, error) {
	if err := w.Validate(); err != nil {
		return nil, err
	}
	e := &Engine{
		weights:  w,
		halfLife: opts.RecencyHalfLife,
	}
	if e.halfLife <= 0 {
		e.halfLife = 30 * 24 * time.Hour
	}
	for _, k := range opts.TargetKeywords {
		k = strings.TrimSpace(fold(k))
		if k != "" {
			e.keywords = append(e.keywords, k)
		}
	}
	return e, nil
}

// Score computes the breakdown for p as of asOf. The same inputs always
// produce the same output.
func (e *Engine) Score(p model.Prospect, asOf time.Time) Breakdown {
	b := Breakdown{
		Authority:    e.authority(p),
		HasEmail:     e.hasEmail(p),
		Confidence:   e.confidence(p),
		Relevance:    e.relevance(p),
		Completeness: e.completeness(p),
		Recency:      e.recency(p, asOf),
	}
	total := b.Authority*e.weights.Authority +
		b.HasEmail*e.weights.HasEmail +
		b.Confidence*e.weights.Confidence +
		b.Relevance*e.weights.Relevance +
		b.Completeness*e.weights.Completeness +
		b.Recency*e.weights.Recency
	b.Total = clamp(round2(total))
	return b
}

// Total returns only the weighted score.
func (e *Engine) Total(p model.Prospect, asOf time.Time) float64 {
	return e.Score(p, asOf).Total
}

func (e *Engine) authority(p model.Prospect) float64 {
	if p.Authority == nil {
		return Neutral
	}
	return clamp(*p.Authority)
}

func (e *Engine) hasEmail(p model.Prospect) float64 {
	if p.HasEmail() {
		return 100
	}
	return 0
}

func (e *Engine) confidence(p model.Prospect) float64 {
	if !p.HasEmail() {
		return 0
	}
	if p.EmailConfidence == nil {
		return Neutral
	}
	return clamp(*p.EmailConfidence)
}

func (e *Engine) relevance(p model.Prospect) float64 {
	if len(e.keywords) == 0 {
		return Neutral
	}
	text := fold(strings.Join(append([]string{p.Name, p.Category, p.Description}, p.Keywords...), " "))
	hits := 0
	for _, k := range e.keywords {
		if strings.Contains(text, k) {
			hits++
		}
	}
	return clamp(100 * float64(hits) / float64(len(e.keywords)))
}

func (e *Engine) completeness(p model.Prospect) float64 {
	fields := []bool{
		p.Name != "",
		p.Category != "",
		p.Location != "",
		p.Description != "",
		p.Website != "" || p.Username != "",
		len(p.Keywords) > 0,
		p.HasEmail(),
	}
	filled := 0
	for _, f := range fields {
		if f {
			filled++
		}
	}
	return clamp(100 * float64(filled) / float64(len(fields)))
}

// recency decays from 100 with the configured half-life since discovery.
func (e *Engine) recency(p model.Prospect, asOf time.Time) float64 {
	if p.CreatedAt.IsZero() || asOf.IsZero() {
		return Neutral
	}
	age := asOf.Sub(p.CreatedAt)
	if age <= 0 {
		return 100
	}
	return clamp(100 * math.Pow(2, -age.Hours()/e.halfLife.Hours()))
}

// fold applies Unicode case folding. Casers carry state, so each call gets
// its own.
func fold(s string) string {
	return cases.Fold().String(s)
}

func clamp(v float64) float64 {
	switch {
	case math.IsNaN(v) || v < 0:
		return 0
	case v > 100:
		return 100
	default:
		return v
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
