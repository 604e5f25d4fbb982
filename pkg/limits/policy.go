package limits

import (
	"fmt"
	"sync/atomic"
	"time"
)

// Category classifies a request for throttling purposes.
type Category string

const (
	// CategoryAIMedical covers AI-assisted medical analysis endpoints.
	CategoryAIMedical Category = "aiMedical"

	// CategoryConsultations covers consultation scheduling and records.
	CategoryConsultations Category = "consultations"

	// CategoryPatients covers patient record access.
	CategoryPatients Category = "patients"

	// CategoryDashboard covers dashboard and overview reads.
	CategoryDashboard Category = "dashboard"

	// CategoryDefault applies to everything else.
	CategoryDefault Category = "default"
)

// Categories returns every known category in a stable order.
func Categories() []Category {
	return []Category{
		CategoryAIMedical,
		CategoryConsultations,
		CategoryPatients,
		CategoryDashboard,
		CategoryDefault,
	}
}

// ParseCategory converts a configured name to a Category.
func ParseCategory(name string) (Category, error) {
	for _, c := range Categories() {
		if string(c) == name {
			return c, nil
		}
	}
	return "", fmt.Errorf("unknown rate limit category %q", name)
}

// DefaultPolicies returns the built-in policy table.
func DefaultPolicies() map[Category]Policy {
	return map[Category]Policy{
		CategoryAIMedical: {
			Category:      CategoryAIMedical,
			Limit:         30,
			Window:        time.Minute,
			BlockDuration: 5 * time.Minute,
		},
		CategoryConsultations: {
			Category:      CategoryConsultations,
			Limit:         100,
			Window:        time.Minute,
			BlockDuration: 2 * time.Minute,
		},
		CategoryPatients: {
			Category:      CategoryPatients,
			Limit:         200,
			Window:        time.Minute,
			BlockDuration: time.Minute,
		},
		CategoryDashboard: {
			Category:      CategoryDashboard,
			Limit:         500,
			Window:        time.Minute,
			BlockDuration: 30 * time.Second,
		},
		CategoryDefault: {
			Category:      CategoryDefault,
			Limit:         100,
			Window:        time.Minute,
			BlockDuration: time.Minute,
		},
	}
}

// ValidatePolicies checks that table has a usable policy for every category.
func ValidatePolicies(table map[Category]Policy) error {
	for _, c := range Categories() {
		p, ok := table[c]
		if !ok {
			return fmt.Errorf("missing policy for category %q", c)
		}
		if p.Limit <= 0 {
			return fmt.Errorf("category %q: limit must be positive", c)
		}
		if p.Window <= 0 {
			return fmt.Errorf("category %q: window must be positive", c)
		}
		if p.BlockDuration < 0 {
			return fmt.Errorf("category %q: block duration cannot be negative", c)
		}
	}
	return nil
}

// PolicyTable holds the active policy set. Readers always see a complete
// table; Replace swaps it atomically so a config reload never exposes a
// partially updated set.
type PolicyTable struct {
	current atomic.Pointer[map[Category]Policy]
}

// NewPolicyTable creates a table from policies, which must cover every
// category.
func NewPolicyTable(policies map[Category]Policy) (*PolicyTable, error) {
	t := &PolicyTable{}
	if err := t.Replace(policies); err != nil {
		return nil, err
	}
	return t, nil
}

// Replace validates policies and installs them.
func (t *PolicyTable) Replace(policies map[Category]Policy) error {
	if err := ValidatePolicies(policies); err != nil {
		return err
	}
	cp := make(map[Category]Policy, len(policies))
	for c, p := range policies {
		p.Category = c
		cp[c] = p
	}
	t.current.Store(&cp)
	return nil
}

// Get returns the policy for c, falling back to the default category for
// unknown values.
func (t *PolicyTable) Get(c Category) Policy {
	table := *t.current.Load()
	if p, ok := table[c]; ok {
		return p
	}
	return table[CategoryDefault]
}

// All returns a copy of the active table.
func (t *PolicyTable) All() map[Category]Policy {
	table := *t.current.Load()
	cp := make(map[Category]Policy, len(table))
	for c, p := range table {
		cp[c] = p
	}
	return cp
}
