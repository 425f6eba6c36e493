// Package brand holds the per-tenant configuration: the allow-list of brand
// keys, each brand's persona and office details, its declared tool set, and
// the handoff fields it requires beyond the global minimum.
//
// Brands are operator-provisioned through the BRANDS_JSON environment
// variable; an unknown or missing key is rejected at the HTTP edge with 403.
package brand

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Config is one brand's configuration as declared in BRANDS_JSON.
type Config struct {
	Label         string   `json:"label,omitempty"`
	BrandName     string   `json:"brandName,omitempty"`
	SubjectPrefix string   `json:"subject_prefix,omitempty"`
	AssistantID   string   `json:"assistant_id,omitempty"`
	Office        Office   `json:"office,omitempty"`
	PracticeAreas []string `json:"practiceAreas,omitempty"`
	HandoffTo     []string `json:"handoff_to,omitempty"`
	// PropertyFields declares that the brand's handoff schema carries the
	// property section (transaction type, property type, location, budget).
	// Payloads for other brands have that section stripped on sanitize.
	PropertyFields bool `json:"property_fields,omitempty"`
	// RequiredFields raises the handoff completeness bar beyond the global
	// minimum (contact name, phone, summary). Recognized values:
	// "transaction_type", "property_type", "location", "budget".
	RequiredFields []string `json:"required_fields,omitempty"`
}

// Office locates the brand's physical office.
type Office struct {
	City string `json:"city,omitempty"`
}

// DisplayName resolves the human-readable brand label, falling back through
// the same chain the notification subject lines use.
func (c Config) DisplayName(key string) string {
	if c.Label != "" {
		return c.Label
	}
	if c.BrandName != "" {
		return c.BrandName
	}
	if c.SubjectPrefix != "" {
		return strings.Trim(c.SubjectPrefix, "[]")
	}
	return key
}

// HasPropertySchema reports whether the brand's handoff schema includes the
// property section, either declared explicitly or implied by requiring one
// of its fields.
func (c Config) HasPropertySchema() bool {
	if c.PropertyFields {
		return true
	}
	for _, f := range c.RequiredFields {
		switch f {
		case "transaction_type", "property_type", "location", "budget":
			return true
		}
	}
	return false
}

// Requires reports whether the brand demands the named handoff field.
func (c Config) Requires(field string) bool {
	for _, f := range c.RequiredFields {
		if f == field {
			return true
		}
	}
	return false
}

// Registry is the brand allow-list. Lookup of an unknown key returns nil,
// which callers must treat as a 403.
type Registry struct {
	brands map[string]Config
}

// NewRegistry parses the BRANDS_JSON object. An empty or missing value yields
// an empty registry (every brand key rejected), not an error.
func NewRegistry(brandsJSON string) (*Registry, error) {
	brands := map[string]Config{}
	if strings.TrimSpace(brandsJSON) != "" {
		if err := json.Unmarshal([]byte(brandsJSON), &brands); err != nil {
			return nil, fmt.Errorf("brand: parse BRANDS_JSON: %w", err)
		}
	}
	return &Registry{brands: brands}, nil
}

// Get returns the brand config for key, or nil when the key is absent from
// the allow-list.
func (r *Registry) Get(key string) *Config {
	if key == "" {
		return nil
	}
	cfg, ok := r.brands[key]
	if !ok {
		return nil
	}
	return &cfg
}

// Keys returns the allow-listed brand keys, for startup logging.
func (r *Registry) Keys() []string {
	keys := make([]string, 0, len(r.brands))
	for k := range r.brands {
		keys = append(keys, k)
	}
	return keys
}
