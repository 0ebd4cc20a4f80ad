// Package strategy defines the Strategy interface, the closed set of
// strategy kinds and the parameter handling shared by the built-in
// implementations.
package strategy

import (
	"fmt"
	"sort"
	"strings"

	"cryptobot/internal/domain"
)

// Strategy turns a window of past candles plus the current candle into a
// trading signal. Implementations may carry state across calls, so a fresh
// instance must be built for every run.
type Strategy interface {
	// Name returns the strategy kind with its key parameters, e.g.
	// "grid(0.01)".
	Name() string

	// MinHistory is the number of history candles the strategy needs before
	// it can emit anything other than hold.
	MinHistory() int

	// GenerateSignal is called once per candle. history holds the previous
	// candles, oldest first, and never includes current.
	GenerateSignal(history []domain.Candle, current domain.Candle) domain.Signal
}

// PositionAware is implemented by strategies that track the simulated
// position. OnOpen is called after a buy is filled and OnClose after any
// exit, including stop losses and the close at the end of the data.
type PositionAware interface {
	OnOpen(entryPrice float64)
	OnClose()
}

// Kind identifies a strategy variant.
type Kind string

const (
	KindDCA         Kind = "dca"
	KindGrid        Kind = "grid"
	KindTechnical   Kind = "technical"
	KindMomentum    Kind = "momentum"
	KindCandlestick Kind = "candlestick"
)

// ParseKind validates s as a known strategy kind.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	switch k {
	case KindDCA, KindGrid, KindTechnical, KindMomentum, KindCandlestick:
		return k, nil
	}
	return "", fmt.Errorf("%w: unknown strategy %q", domain.ErrInvalidConfiguration, s)
}

// Descriptor documents a strategy kind and its default parameters.
type Descriptor struct {
	Kind        Kind               `json:"kind"`
	Description string             `json:"description"`
	Defaults    map[string]float64 `json:"defaults"`
}

// Registry holds the descriptors of the available strategy kinds.
type Registry struct {
	descriptors map[Kind]Descriptor
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		descriptors: make(map[Kind]Descriptor),
	}
}

// Register adds or replaces the descriptor for d.Kind.
func (r *Registry) Register(d Descriptor) {
	r.descriptors[d.Kind] = d
}

// Get retrieves the descriptor of kind k.
func (r *Registry) Get(k Kind) (Descriptor, bool) {
	d, ok := r.descriptors[k]
	return d, ok
}

// List returns all descriptors sorted by kind.
func (r *Registry) List() []Descriptor {
	out := make([]Descriptor, 0, len(r.descriptors))
	for _, d := range r.descriptors {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Kind < out[j].Kind })
	return out
}
