// Package entitlements defines the Circular plan, role and capability contracts.
//
// Everything in this package is pure: capability checks never perform I/O, never
// return errors and are safe for unlimited concurrent use. Presentation code and
// the billing webhook share these types so that both sides agree on what a plan
// tier means.
package entitlements

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// PlanTier is a subscription level. The set is closed.
type PlanTier string

const (
	PlanFree       PlanTier = "free"
	PlanPro        PlanTier = "pro"
	PlanEnterprise PlanTier = "enterprise"
)

// LowestPlan is applied when a subscription ends.
const LowestPlan = PlanFree

// TopPlan unlocks tier-gated capabilities.
const TopPlan = PlanEnterprise

// AllPlanTiers lists every plan tier from lowest to highest.
var AllPlanTiers = []PlanTier{PlanFree, PlanPro, PlanEnterprise}

// Valid reports whether p belongs to the closed plan enumeration.
func (p PlanTier) Valid() bool {
	switch p {
	case PlanFree, PlanPro, PlanEnterprise:
		return true
	default:
		return false
	}
}

// DisplayName returns the customer-facing plan name.
func (p PlanTier) DisplayName() string {
	switch p {
	case PlanFree:
		return "Free"
	case PlanPro:
		return "Pro"
	case PlanEnterprise:
		return "Enterprise"
	default:
		return string(p)
	}
}

// ParsePlanTier resolves a plan name as found in checkout metadata or
// organization metadata. Matching is case-insensitive.
func ParsePlanTier(raw string) (PlanTier, bool) {
	p := PlanTier(strings.ToLower(strings.TrimSpace(raw)))
	if !p.Valid() {
		return "", false
	}
	return p, true
}

// MemberCeiling is the maximum number of members an organization may have.
// A value of 0 means unlimited, which is also how the identity provider
// encodes an uncapped organization.
type MemberCeiling int

// UnlimitedMembers is the sentinel for an uncapped organization.
const UnlimitedMembers MemberCeiling = 0

// Unlimited reports whether the ceiling is uncapped.
func (c MemberCeiling) Unlimited() bool {
	return c <= 0
}

func (c MemberCeiling) String() string {
	if c.Unlimited() {
		return "unlimited"
	}
	return strconv.Itoa(int(c))
}

// MarshalJSON encodes an unlimited ceiling as null.
func (c MemberCeiling) MarshalJSON() ([]byte, error) {
	if c.Unlimited() {
		return []byte("null"), nil
	}
	return []byte(strconv.Itoa(int(c))), nil
}

// PlanTerms is the catalog entry for one plan tier.
type PlanTerms struct {
	Plan          PlanTier      `json:"plan"`
	MonthlyPrice  int64         `json:"monthly_price"`
	MemberCeiling MemberCeiling `json:"member_ceiling"`
}

// Catalog maps every plan tier to its price and member ceiling, and maps
// payment-provider price identifiers to plan tiers. A Catalog is immutable
// once built.
type Catalog struct {
	terms    map[PlanTier]PlanTerms
	priceIDs map[string]PlanTier
}

var defaultTerms = []PlanTerms{
	{Plan: PlanFree, MonthlyPrice: 0, MemberCeiling: 1},
	{Plan: PlanPro, MonthlyPrice: 10, MemberCeiling: 10},
	{Plan: PlanEnterprise, MonthlyPrice: 200, MemberCeiling: UnlimitedMembers},
}

// DefaultCatalog returns the current Circular price list with no price ids.
// Price ids are deployment configuration and are attached with WithPriceIDs.
func DefaultCatalog() *Catalog {
	c, err := NewCatalog(defaultTerms, nil)
	if err != nil {
		panic(fmt.Sprintf("entitlements: default catalog invalid: %v", err))
	}
	return c
}

// NewCatalog validates that terms cover every plan tier exactly once and that
// every price id resolves to a known tier.
func NewCatalog(terms []PlanTerms, priceIDs map[string]PlanTier) (*Catalog, error) {
	c := &Catalog{
		terms:    make(map[PlanTier]PlanTerms, len(AllPlanTiers)),
		priceIDs: make(map[string]PlanTier, len(priceIDs)),
	}
	for _, t := range terms {
		if !t.Plan.Valid() {
			return nil, fmt.Errorf("unknown plan tier %q", t.Plan)
		}
		if _, dup := c.terms[t.Plan]; dup {
			return nil, fmt.Errorf("plan tier %q listed twice", t.Plan)
		}
		if t.MonthlyPrice < 0 {
			return nil, fmt.Errorf("plan tier %q has negative price %d", t.Plan, t.MonthlyPrice)
		}
		if t.MemberCeiling < 0 {
			return nil, fmt.Errorf("plan tier %q has negative member ceiling %d", t.Plan, t.MemberCeiling)
		}
		c.terms[t.Plan] = t
	}
	var missing []string
	for _, p := range AllPlanTiers {
		if _, ok := c.terms[p]; !ok {
			missing = append(missing, string(p))
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("catalog missing plan tiers: %s", strings.Join(missing, ", "))
	}
	for id, p := range priceIDs {
		id = strings.TrimSpace(id)
		if id == "" {
			return nil, fmt.Errorf("empty price id for plan tier %q", p)
		}
		if !p.Valid() {
			return nil, fmt.Errorf("price id %q maps to unknown plan tier %q", id, p)
		}
		c.priceIDs[id] = p
	}
	return c, nil
}

// WithPriceIDs returns a copy of c whose price lookup table is priceIDs.
func (c *Catalog) WithPriceIDs(priceIDs map[string]PlanTier) (*Catalog, error) {
	terms := make([]PlanTerms, 0, len(c.terms))
	for _, p := range AllPlanTiers {
		terms = append(terms, c.terms[p])
	}
	return NewCatalog(terms, priceIDs)
}

// Terms returns the catalog entry for p. Passing a tier outside the closed
// enumeration is a programming error and panics.
func (c *Catalog) Terms(p PlanTier) PlanTerms {
	t, ok := c.terms[p]
	if !ok {
		panic(fmt.Sprintf("entitlements: plan tier %q is not in the catalog", p))
	}
	return t
}

// PlanForPrice resolves a payment-provider price id.
func (c *Catalog) PlanForPrice(priceID string) (PlanTier, bool) {
	p, ok := c.priceIDs[strings.TrimSpace(priceID)]
	return p, ok
}

// PriceIDs returns the configured price ids in sorted order.
func (c *Catalog) PriceIDs() []string {
	ids := make([]string, 0, len(c.priceIDs))
	for id := range c.priceIDs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// SeatsRemaining returns how many more members p allows given the current
// member count. The second result is true when the ceiling is unlimited.
func (c *Catalog) SeatsRemaining(p PlanTier, currentMembers int) (int, bool) {
	ceiling := c.Terms(p).MemberCeiling
	if ceiling.Unlimited() {
		return 0, true
	}
	remaining := int(ceiling) - currentMembers
	if remaining < 0 {
		remaining = 0
	}
	return remaining, false
}

// CanInvite reports whether another member may join an organization on p.
func (c *Catalog) CanInvite(p PlanTier, currentMembers int) bool {
	remaining, unlimited := c.SeatsRemaining(p, currentMembers)
	return unlimited || remaining > 0
}
