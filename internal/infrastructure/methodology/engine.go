package methodology

import (
	"fmt"
	"sync"

	"ogcr-registry/internal/domain"

	"github.com/shopspring/decimal"
)

// Engine is the pluggable, methodology-specific logic.
type Engine interface {
	// Validate checks an MRV against the methodology's rules.
	Validate(doc *domain.MRVDocument, rules Rules) []domain.FieldError
	// Calculate returns the net removal estimate in tCO2e.
	Calculate(doc *domain.MRVDocument) (decimal.Decimal, error)
}

// Engines maps methodology id + canonical version to an Engine. Lookups fall back
// to the id-only entry and then to the rule-driven default.
type Engines struct {
	mu       sync.RWMutex
	engines  map[string]Engine
	fallback Engine
}

func NewEngines() *Engines {
	return &Engines{engines: map[string]Engine{}, fallback: RuleEngine{}}
}

// Register binds an engine. An empty version binds every version of the id.
func (e *Engines) Register(id, version string, eng Engine) {
	key := id
	if version != "" {
		key = id + "@" + CanonicalVersion(version)
	}
	e.mu.Lock()
	e.engines[key] = eng
	e.mu.Unlock()
}

func (e *Engines) For(id, version string) Engine {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if eng, ok := e.engines[id+"@"+CanonicalVersion(version)]; ok {
		return eng
	}
	if eng, ok := e.engines[id]; ok {
		return eng
	}
	return e.fallback
}

// RuleEngine applies the declarative Rules stored with the methodology.
type RuleEngine struct{}

func (RuleEngine) Validate(doc *domain.MRVDocument, rules Rules) []domain.FieldError {
	var out []domain.FieldError
	params := doc.Properties.MethodologyData.Parameters
	for _, p := range rules.RequiredParameters {
		if _, ok := params[p]; !ok {
			out = append(out, domain.FieldError{
				Field:   "properties.methodology_data.parameters." + p,
				Message: "is required by the methodology",
			})
		}
	}
	if len(rules.AllowedUnits) > 0 {
		unit := doc.Properties.NetRemovalEstimate.Unit
		allowed := false
		for _, u := range rules.AllowedUnits {
			if u == unit {
				allowed = true
				break
			}
		}
		if !allowed {
			out = append(out, domain.FieldError{
				Field:   "properties.net_removal_estimate.unit",
				Message: fmt.Sprintf("unit %q is not allowed by the methodology", unit),
			})
		}
	}
	if u := doc.Properties.TotalUncertainty; u != nil && rules.MaxUncertaintyRatio > 0 && u.Max > 0 {
		if ratio := (u.Max - u.Min) / u.Max; ratio > rules.MaxUncertaintyRatio {
			out = append(out, domain.FieldError{
				Field:   "properties.total_uncertainty",
				Message: fmt.Sprintf("uncertainty ratio %.3f exceeds %.3f", ratio, rules.MaxUncertaintyRatio),
			})
		}
	}
	return out
}

func (RuleEngine) Calculate(doc *domain.MRVDocument) (decimal.Decimal, error) {
	est := doc.Properties.NetRemovalEstimate
	return ToTonnes(decimal.NewFromFloat(est.Value), est.Unit)
}

var thousand = decimal.NewFromInt(1000)

// ToTonnes normalises a removal amount to tonnes.
func ToTonnes(v decimal.Decimal, unit string) (decimal.Decimal, error) {
	switch unit {
	case "tCO2e", "tCO2":
		return v, nil
	case "kgCO2e", "kgCO2":
		return v.Div(thousand), nil
	}
	return decimal.Zero, fmt.Errorf("unknown removal unit %q", unit)
}
