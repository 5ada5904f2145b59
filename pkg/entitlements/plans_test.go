package entitlements

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultCatalog_Terms(t *testing.T) {
	c := DefaultCatalog()
	tests := []struct {
		plan      PlanTier
		price     int64
		ceiling   MemberCeiling
		unlimited bool
	}{
		{PlanFree, 0, 1, false},
		{PlanPro, 10, 10, false},
		{PlanEnterprise, 200, UnlimitedMembers, true},
	}
	for _, tt := range tests {
		t.Run(string(tt.plan), func(t *testing.T) {
			terms := c.Terms(tt.plan)
			assert.Equal(t, tt.plan, terms.Plan)
			assert.Equal(t, tt.price, terms.MonthlyPrice)
			assert.Equal(t, tt.ceiling, terms.MemberCeiling)
			assert.Equal(t, tt.unlimited, terms.MemberCeiling.Unlimited())
		})
	}
}

func TestCatalog_TermsPanicsOutsideEnumeration(t *testing.T) {
	assert.Panics(t, func() { DefaultCatalog().Terms(PlanTier("gold")) })
}

func TestNewCatalog_RejectsPartialMapping(t *testing.T) {
	_, err := NewCatalog([]PlanTerms{{Plan: PlanFree, MemberCeiling: 1}}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pro")
	assert.Contains(t, err.Error(), "enterprise")

	_, err = NewCatalog(append(defaultTerms, PlanTerms{Plan: PlanPro}), nil)
	assert.Error(t, err)

	_, err = NewCatalog(defaultTerms, map[string]PlanTier{"price_1": "gold"})
	assert.Error(t, err)
}

func TestCatalog_WithPriceIDs(t *testing.T) {
	base := DefaultCatalog()
	c, err := base.WithPriceIDs(map[string]PlanTier{"price_pro": PlanPro, "price_ent": PlanEnterprise})
	require.NoError(t, err)

	p, ok := c.PlanForPrice("price_pro")
	assert.True(t, ok)
	assert.Equal(t, PlanPro, p)
	_, ok = c.PlanForPrice("price_unknown")
	assert.False(t, ok)
	assert.Equal(t, []string{"price_ent", "price_pro"}, c.PriceIDs())

	// The original catalog stays untouched.
	_, ok = base.PlanForPrice("price_pro")
	assert.False(t, ok)
}

func TestCatalog_SeatHeadroom(t *testing.T) {
	c := DefaultCatalog()

	remaining, unlimited := c.SeatsRemaining(PlanPro, 3)
	assert.Equal(t, 7, remaining)
	assert.False(t, unlimited)
	assert.True(t, c.CanInvite(PlanPro, 9))
	assert.False(t, c.CanInvite(PlanPro, 10))

	remaining, _ = c.SeatsRemaining(PlanFree, 4)
	assert.Zero(t, remaining, "over-ceiling organizations never report negative seats")
	assert.False(t, c.CanInvite(PlanFree, 1))

	_, unlimited = c.SeatsRemaining(PlanEnterprise, 5000)
	assert.True(t, unlimited)
	assert.True(t, c.CanInvite(PlanEnterprise, 5000))
}

func TestMemberCeiling_JSON(t *testing.T) {
	data, err := json.Marshal(DefaultCatalog().Terms(PlanEnterprise))
	require.NoError(t, err)
	assert.JSONEq(t, `{"plan":"enterprise","monthly_price":200,"member_ceiling":null}`, string(data))

	data, err = json.Marshal(DefaultCatalog().Terms(PlanPro))
	require.NoError(t, err)
	assert.JSONEq(t, `{"plan":"pro","monthly_price":10,"member_ceiling":10}`, string(data))
}

func TestParsePlanTier(t *testing.T) {
	p, ok := ParsePlanTier(" Pro ")
	assert.True(t, ok)
	assert.Equal(t, PlanPro, p)
	assert.Equal(t, "Pro", p.DisplayName())

	_, ok = ParsePlanTier("")
	assert.False(t, ok)
}

func TestLoadCatalogFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	doc := strings.Join([]string{
		"plans:",
		"  - plan: free",
		"    monthly_price: 0",
		"    member_ceiling: 2",
		"  - plan: pro",
		"    monthly_price: 12",
		"    member_ceiling: 25",
		"  - plan: enterprise",
		"    monthly_price: 250",
		"    member_ceiling: unlimited",
		"price_ids:",
		"  price_live_pro: pro",
		"  price_live_ent: Enterprise",
		"",
	}, "\n")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	c, err := LoadCatalogFile(path)
	require.NoError(t, err)
	assert.Equal(t, MemberCeiling(2), c.Terms(PlanFree).MemberCeiling)
	assert.Equal(t, int64(12), c.Terms(PlanPro).MonthlyPrice)
	assert.True(t, c.Terms(PlanEnterprise).MemberCeiling.Unlimited())

	p, ok := c.PlanForPrice("price_live_ent")
	assert.True(t, ok)
	assert.Equal(t, PlanEnterprise, p)
}

func TestParseCatalog_Errors(t *testing.T) {
	tests := map[string]string{
		"empty":            "",
		"unknown key":      "plans: []\ncurrency: usd\n",
		"bad ceiling":      "plans:\n  - plan: free\n    member_ceiling: lots\n",
		"unknown tier":     "plans:\n  - plan: gold\n",
		"missing tiers":    "plans:\n  - plan: free\n    member_ceiling: 1\n",
		"bad price target": "plans:\n  - plan: free\n  - plan: pro\n  - plan: enterprise\nprice_ids:\n  price_x: gold\n",
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseCatalog([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestParsePricePlans(t *testing.T) {
	m, err := ParsePricePlans("price_a=pro, price_b = enterprise,,")
	require.NoError(t, err)
	assert.Equal(t, map[string]PlanTier{"price_a": PlanPro, "price_b": PlanEnterprise}, m)

	_, err = ParsePricePlans("price_a")
	assert.Error(t, err)
	_, err = ParsePricePlans("price_a=gold")
	assert.Error(t, err)

	m, err = ParsePricePlans("")
	require.NoError(t, err)
	assert.Empty(t, m)
}
