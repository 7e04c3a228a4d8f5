// Package mapping resolves source-specific column names to canonical field
// names through named profiles with an explicit fallback chain.
//
// A profile maps, per data type ("holdings", "transactions", ...), source
// field names to canonical ones. Resolution never fails: a requested profile
// that lacks the data type falls through to the default profile, then the
// built-in minimal mapping, then an empty mapping, logging at each step.
// An empty mapping degrades to raw field passthrough downstream.
//
// Profiles are loaded once and cached process-wide. Invalidation is
// explicit and single-writer: the embedding application must serialize
// Invalidate against in-flight Resolve calls.
package mapping

import (
	"sync"

	"portfolio-consolidation-service/pkg/errors"
	"portfolio-consolidation-service/pkg/logger"

	"github.com/spf13/viper"
)

// DefaultProfileName is the profile consulted when a requested profile
// lacks a data type.
const DefaultProfileName = "default"

// Profile is a named source-field to canonical-field table per data type.
type Profile struct {
	Name     string                       `json:"name" mapstructure:"name"`
	Mappings map[string]map[string]string `json:"mappings" mapstructure:"mappings"`
}

// ForDataType returns the field table for a data type, or nil.
func (p *Profile) ForDataType(dataType string) map[string]string {
	if p == nil {
		return nil
	}
	return p.Mappings[dataType]
}

// builtinFallback is the minimal mapping applied when no configured profile
// covers a data type. It covers the identifying key, quantity/value and
// date fields every source contract guarantees.
var builtinFallback = map[string]map[string]string{
	"holdings": {
		"name":       "asset_name",
		"asset":      "asset_name",
		"code":       "asset_id",
		"ticker":     "asset_id",
		"symbol":     "asset_id",
		"qty":        "quantity",
		"shares":     "quantity",
		"units":      "quantity",
		"value":      "market_value_raw",
		"amount":     "market_value_raw",
		"price":      "market_price_unit",
		"cost":       "cost_price_unit",
		"ccy":        "currency",
		"date":       "snapshot_date",
		"as_of_date": "snapshot_date",
	},
	"transactions": {
		"name":   "asset_name",
		"asset":  "asset_name",
		"code":   "asset_id",
		"ticker": "asset_id",
		"symbol": "asset_id",
		"qty":    "quantity",
		"shares": "quantity",
		"units":  "quantity",
		"amount": "amount_gross",
		"value":  "amount_gross",
		"price":  "price_unit",
		"fee":    "commission_fee",
		"type":   "raw_type",
		"action": "raw_type",
		"ccy":    "currency",
		"date":   "transaction_date",
		"memo":   "memo",
		"note":   "memo",
	},
}

// Loader produces the full profile set. The default loader reads from a
// viper configuration; tests substitute their own.
type Loader func() (map[string]*Profile, error)

// Resolver resolves the active column mapping for a data type. It caches
// loaded profiles process-wide until Invalidate is called.
type Resolver struct {
	mu       sync.RWMutex
	loader   Loader
	profiles map[string]*Profile
	loaded   bool
	logger   logger.Logger
}

// NewResolver creates a resolver backed by the given loader.
func NewResolver(loader Loader) *Resolver {
	return &Resolver{
		loader: loader,
		logger: logger.GetGlobalLogger().WithComponent("mapping_resolver"),
	}
}

// NewViperResolver creates a resolver that loads profiles from the
// "column_profiles" section of a viper configuration.
func NewViperResolver(v *viper.Viper) *Resolver {
	return NewResolver(func() (map[string]*Profile, error) {
		var raw map[string]*Profile
		if err := v.UnmarshalKey("column_profiles", &raw); err != nil {
			return nil, err
		}
		profiles := make(map[string]*Profile, len(raw))
		for name, p := range raw {
			if p == nil {
				continue
			}
			p.Name = name
			profiles[name] = p
		}
		return profiles, nil
	})
}

// Resolve returns the column mapping for the data type, following the
// fallback chain requested profile -> default profile -> built-in fallback
// -> empty mapping. It never returns an error; absence of a mapping
// degrades to raw field passthrough.
func (r *Resolver) Resolve(dataType, profileName string) map[string]string {
	profiles := r.get()

	if profileName != "" {
		if m := profiles[profileName].ForDataType(dataType); len(m) > 0 {
			return m
		}
		log := r.logger.WithFields(logger.Fields{
			"profile":   profileName,
			"data_type": dataType,
		})
		if _, known := profiles[profileName]; !known {
			log = log.WithError(errors.New(errors.CategoryMapping, errors.CodeProfileUnknown,
				"no column mapping profile named "+profileName))
		}
		log.Warn("Requested profile has no mapping for data type, falling back to default")
	}

	if m := profiles[DefaultProfileName].ForDataType(dataType); len(m) > 0 {
		return m
	}
	if profileName != "" || len(profiles) > 0 {
		r.logger.WithField("data_type", dataType).
			Warn("Default profile has no mapping for data type, falling back to built-in mapping")
	}

	if m := builtinFallback[dataType]; len(m) > 0 {
		return m
	}
	r.logger.WithError(errors.MappingMiss(dataType, profileName)).
		Warn("No built-in mapping for data type, fields pass through under raw names")
	return map[string]string{}
}

// get returns the cached profile set, loading it on first use.
func (r *Resolver) get() map[string]*Profile {
	r.mu.RLock()
	if r.loaded {
		defer r.mu.RUnlock()
		return r.profiles
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.loaded {
		return r.profiles
	}

	profiles, err := r.loader()
	if err != nil {
		r.logger.WithError(err).Warn("Failed to load column mapping profiles, using built-in fallback only")
		profiles = map[string]*Profile{}
	}
	r.profiles = profiles
	r.loaded = true
	r.logger.WithField("profile_count", len(profiles)).Debug("Loaded column mapping profiles")
	return r.profiles
}

// Invalidate drops the cached profiles; the next Resolve reloads them.
// Single-writer: callers must not invalidate concurrently with resolves
// they care about.
func (r *Resolver) Invalidate() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.loaded = false
	r.profiles = nil
	r.logger.Debug("Column mapping profile cache invalidated")
}
