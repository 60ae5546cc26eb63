// Package optimize searches strategy-parameter space with Monte Carlo
// sampling and a genetic algorithm, sharing one fitness function.
package optimize

import (
	"fmt"
	"math/rand"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/sawpanic/alphaguard/internal/backtest"
)

// Range is a numeric search interval, inclusive on both ends.
type Range struct {
	Min float64 `yaml:"min" json:"min"`
	Max float64 `yaml:"max" json:"max"`
}

// Spec is the search space: each entry is either a constant scalar
// (number, bool, string) or a Range to sample.
type Spec map[string]interface{}

// ParseSpec builds a Spec from YAML. Two-element numeric sequences become
// ranges; everything else passes through as a constant.
//
//	fast_period: [5, 30]
//	slow_period: [20, 80]
//	use_trailing: true
func ParseSpec(data []byte) (Spec, error) {
	raw := map[string]interface{}{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse parameter spec: %w", err)
	}
	spec := make(Spec, len(raw))
	for key, val := range raw {
		if seq, ok := val.([]interface{}); ok {
			if len(seq) != 2 {
				return nil, fmt.Errorf("parameter %q: range needs exactly [min, max], got %d values", key, len(seq))
			}
			min, okMin := toFloat(seq[0])
			max, okMax := toFloat(seq[1])
			if !okMin || !okMax {
				return nil, fmt.Errorf("parameter %q: range bounds must be numeric", key)
			}
			spec[key] = Range{Min: min, Max: max}
			continue
		}
		spec[key] = val
	}
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	return spec, nil
}

// Validate checks range ordering.
func (s Spec) Validate() error {
	if len(s) == 0 {
		return fmt.Errorf("parameter spec is empty")
	}
	for key, val := range s {
		if r, ok := val.(Range); ok && r.Min > r.Max {
			return fmt.Errorf("parameter %q: min %.6g exceeds max %.6g", key, r.Min, r.Max)
		}
	}
	return nil
}

// Ranges returns the ranged parameter names in deterministic order.
func (s Spec) Ranges() []string {
	var keys []string
	for key, val := range s {
		if _, ok := val.(Range); ok {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys
}

// Keys returns every parameter name in deterministic order.
func (s Spec) Keys() []string {
	keys := make([]string, 0, len(s))
	for key := range s {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Materialize samples every ranged parameter uniformly in [min,max] and
// passes constants through unchanged.
func (s Spec) Materialize(rng *rand.Rand) backtest.Params {
	params := make(backtest.Params, len(s))
	for _, key := range s.Keys() {
		switch v := s[key].(type) {
		case Range:
			params[key] = v.Min + rng.Float64()*(v.Max-v.Min)
		default:
			params[key] = v
		}
	}
	return params
}

func toFloat(v interface{}) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	}
	return 0, false
}
