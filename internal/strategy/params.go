package strategy

import (
	"fmt"
	"math"
	"sort"

	"cryptobot/internal/domain"
)

// Params are the numeric settings of a strategy, keyed by kebab-case name.
type Params map[string]float64

// Check rejects keys not listed in allowed and non-finite values.
func (p Params) Check(allowed ...string) error {
	ok := make(map[string]bool, len(allowed))
	for _, k := range allowed {
		ok[k] = true
	}
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if !ok[k] {
			return fmt.Errorf("%w: unknown parameter %q", domain.ErrInvalidConfiguration, k)
		}
		if v := p[k]; math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: parameter %q is not finite", domain.ErrInvalidConfiguration, k)
		}
	}
	return nil
}

// Float returns p[key], or def when the key is absent.
func (p Params) Float(key string, def float64) float64 {
	if v, ok := p[key]; ok {
		return v
	}
	return def
}

// Positive returns p[key] (or def) and fails unless it is > 0.
func (p Params) Positive(key string, def float64) (float64, error) {
	v := p.Float(key, def)
	if v <= 0 {
		return 0, fmt.Errorf("%w: %s must be positive, got %v", domain.ErrInvalidConfiguration, key, v)
	}
	return v, nil
}

// Period returns p[key] (or def) as a whole number >= 1.
func (p Params) Period(key string, def int) (int, error) {
	v := p.Float(key, float64(def))
	if v < 1 || v != math.Trunc(v) {
		return 0, fmt.Errorf("%w: %s must be a positive integer, got %v", domain.ErrInvalidConfiguration, key, v)
	}
	return int(v), nil
}
