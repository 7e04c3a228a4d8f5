package mapping

import (
	"errors"
	"testing"
)

func staticLoader(profiles map[string]*Profile) Loader {
	return func() (map[string]*Profile, error) {
		return profiles, nil
	}
}

func TestResolver_RequestedProfile(t *testing.T) {
	r := NewResolver(staticLoader(map[string]*Profile{
		"broker_a": {
			Name: "broker_a",
			Mappings: map[string]map[string]string{
				"holdings": {"sec_name": "asset_name", "mv": "market_value_raw"},
			},
		},
	}))

	m := r.Resolve("holdings", "broker_a")
	if m["sec_name"] != "asset_name" || m["mv"] != "market_value_raw" {
		t.Errorf("Resolve returned %v, want broker_a mapping", m)
	}
}

func TestResolver_FallsBackToDefaultProfile(t *testing.T) {
	r := NewResolver(staticLoader(map[string]*Profile{
		"default": {
			Name: "default",
			Mappings: map[string]map[string]string{
				"transactions": {"trade_date": "transaction_date"},
			},
		},
		"broker_a": {
			Name:     "broker_a",
			Mappings: map[string]map[string]string{"holdings": {"mv": "market_value_raw"}},
		},
	}))

	// broker_a has no transactions mapping, so the default profile applies.
	m := r.Resolve("transactions", "broker_a")
	if m["trade_date"] != "transaction_date" {
		t.Errorf("Resolve returned %v, want default profile mapping", m)
	}
}

func TestResolver_FallsBackToBuiltin(t *testing.T) {
	r := NewResolver(staticLoader(map[string]*Profile{}))

	m := r.Resolve("holdings", "missing_profile")
	if m["qty"] != "quantity" {
		t.Errorf(`builtin holdings mapping lost "qty": %v`, m)
	}
	if m["value"] != "market_value_raw" {
		t.Errorf(`builtin holdings mapping lost "value": %v`, m)
	}

	m = r.Resolve("transactions", "")
	if m["type"] != "raw_type" || m["amount"] != "amount_gross" {
		t.Errorf("builtin transactions mapping incomplete: %v", m)
	}
}

func TestResolver_UnknownDataTypeYieldsEmptyMapping(t *testing.T) {
	r := NewResolver(staticLoader(nil))

	m := r.Resolve("dividend_schedule", "")
	if m == nil {
		t.Fatal("Resolve returned nil, want an empty mapping")
	}
	if len(m) != 0 {
		t.Errorf("Resolve returned %v, want empty mapping for unknown data type", m)
	}
}

func TestResolver_LoaderErrorDegradesToBuiltin(t *testing.T) {
	r := NewResolver(func() (map[string]*Profile, error) {
		return nil, errors.New("config unreadable")
	})

	m := r.Resolve("holdings", "broker_a")
	if m["code"] != "asset_id" {
		t.Errorf("loader failure should fall back to builtin mapping, got %v", m)
	}
}

func TestResolver_CachesAndInvalidates(t *testing.T) {
	loads := 0
	profiles := map[string]*Profile{
		"default": {
			Name:     "default",
			Mappings: map[string]map[string]string{"holdings": {"a": "asset_id"}},
		},
	}
	r := NewResolver(func() (map[string]*Profile, error) {
		loads++
		return profiles, nil
	})

	r.Resolve("holdings", "")
	r.Resolve("holdings", "")
	if loads != 1 {
		t.Errorf("loader ran %d times, want 1 (cached)", loads)
	}

	profiles = map[string]*Profile{
		"default": {
			Name:     "default",
			Mappings: map[string]map[string]string{"holdings": {"b": "asset_id"}},
		},
	}
	r.Invalidate()

	m := r.Resolve("holdings", "")
	if loads != 2 {
		t.Errorf("loader ran %d times after Invalidate, want 2", loads)
	}
	if m["b"] != "asset_id" {
		t.Errorf("Resolve returned stale mapping after Invalidate: %v", m)
	}
}
