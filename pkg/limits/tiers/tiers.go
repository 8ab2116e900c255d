package tiers

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// Tier is a customer subscription tier.
type Tier string

const (
	Free       Tier = "free"
	Basic      Tier = "basic"
	Premium    Tier = "premium"
	Enterprise Tier = "enterprise"
	Unlimited  Tier = "unlimited"
)

// UnknownTierError is returned for tier names the registry does not hold.
type UnknownTierError struct {
	Name string
}

func (e *UnknownTierError) Error() string {
	return fmt.Sprintf("unknown tier %q", e.Name)
}

// Config is the per-tier scaling and quota configuration.
type Config struct {
	// Multiplier scales every operation limit for callers on this tier.
	Multiplier float64 `yaml:"multiplier" json:"multiplier"`

	RequestsPerMinute int64 `yaml:"requests_per_minute" json:"requests_per_minute"`
	RequestsPerHour   int64 `yaml:"requests_per_hour" json:"requests_per_hour"`
	RequestsPerDay    int64 `yaml:"requests_per_day" json:"requests_per_day"`
	RequestsPerMonth  int64 `yaml:"requests_per_month" json:"requests_per_month"`
}

// Defaults returns the built-in tier table.
func Defaults() map[Tier]Config {
	return map[Tier]Config{
		Free:       {Multiplier: 0.5, RequestsPerMinute: 10, RequestsPerHour: 100, RequestsPerDay: 1000, RequestsPerMonth: 10000},
		Basic:      {Multiplier: 1.0, RequestsPerMinute: 60, RequestsPerHour: 1000, RequestsPerDay: 10000, RequestsPerMonth: 100000},
		Premium:    {Multiplier: 2.0, RequestsPerMinute: 300, RequestsPerHour: 5000, RequestsPerDay: 50000, RequestsPerMonth: 500000},
		Enterprise: {Multiplier: 5.0, RequestsPerMinute: 1000, RequestsPerHour: 20000, RequestsPerDay: 200000, RequestsPerMonth: 2000000},
		Unlimited: {
			Multiplier:        100.0,
			RequestsPerMinute: math.MaxInt64,
			RequestsPerHour:   math.MaxInt64,
			RequestsPerDay:    math.MaxInt64,
			RequestsPerMonth:  math.MaxInt64,
		},
	}
}

// Registry is a read-only tier table built once at startup.
type Registry struct {
	tiers map[Tier]Config
}

// NewRegistry builds a Registry from the defaults with overrides applied.
// Overrides may redefine built-in tiers or add new ones.
func NewRegistry(overrides map[string]Config) (*Registry, error) {
	table := Defaults()
	for name, cfg := range overrides {
		if cfg.Multiplier <= 0 {
			return nil, fmt.Errorf("tier %q: multiplier must be positive, got %v", name, cfg.Multiplier)
		}
		table[Tier(strings.ToLower(name))] = cfg
	}
	return &Registry{tiers: table}, nil
}

// Parse resolves a tier name. The empty string resolves to Basic.
func (r *Registry) Parse(name string) (Tier, error) {
	if name == "" {
		return Basic, nil
	}
	t := Tier(strings.ToLower(strings.TrimSpace(name)))
	if _, ok := r.tiers[t]; !ok {
		return "", &UnknownTierError{Name: name}
	}
	return t, nil
}

// Get returns the configuration for t.
func (r *Registry) Get(t Tier) (Config, error) {
	cfg, ok := r.tiers[t]
	if !ok {
		return Config{}, &UnknownTierError{Name: string(t)}
	}
	return cfg, nil
}

// Names returns the known tier names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.tiers))
	for t := range r.tiers {
		names = append(names, string(t))
	}
	sort.Strings(names)
	return names
}
