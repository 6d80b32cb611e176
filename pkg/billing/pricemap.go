package billing

import "strings"

// PriceRoleMap holds the static price→role and plan→price lookups.
// It is built once at startup and only read afterwards.
type PriceRoleMap struct {
	roles       map[string]int
	plans       map[string]string
	defaultRole int
}

// NewPriceRoleMap copies the given mappings. Price ids are matched
// case-insensitively and surrounding whitespace is ignored.
func NewPriceRoleMap(priceRoles map[string]int, planPrices map[string]string, defaultRole int) *PriceRoleMap {
	m := &PriceRoleMap{
		roles:       make(map[string]int, len(priceRoles)),
		plans:       make(map[string]string, len(planPrices)),
		defaultRole: defaultRole,
	}
	for price, role := range priceRoles {
		if k := normalizeKey(price); k != "" {
			m.roles[k] = role
		}
	}
	for plan, price := range planPrices {
		if k := normalizeKey(plan); k != "" {
			m.plans[k] = strings.TrimSpace(price)
		}
	}
	return m
}

func normalizeKey(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// RoleForPrice returns the role mapped to priceID.
func (m *PriceRoleMap) RoleForPrice(priceID string) (int, bool) {
	role, ok := m.roles[normalizeKey(priceID)]
	return role, ok
}

// PriceForPlan returns the price id configured for a plan name.
func (m *PriceRoleMap) PriceForPlan(plan string) (string, bool) {
	price, ok := m.plans[normalizeKey(plan)]
	return price, ok && price != ""
}

// DefaultRole is granted when a subscription ends.
func (m *PriceRoleMap) DefaultRole() int {
	return m.defaultRole
}

// Len returns the number of mapped prices.
func (m *PriceRoleMap) Len() int {
	return len(m.roles)
}
